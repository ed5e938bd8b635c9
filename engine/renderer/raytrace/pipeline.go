package raytrace

import (
	"fmt"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
	"github.com/spaghettifunk/lumen/engine/renderer/sbt"
)

// Shaders holds the SPIR-V code of the three ray tracing stages.
type Shaders struct {
	Raygen     []byte
	ClosestHit []byte
	Miss       []byte
}

// missConstants is pushed to the miss shader.
type missConstants struct {
	ClearColor [4]float32
}

// Stage indices; groups are created raygen, hit, miss to match the table.
const (
	raygenStage uint32 = iota
	closestHitStage
	missStage
)

var shaderCounts = sbt.Counts{Hit: 1, Miss: 1}

type pipeline struct {
	layout   gpu.PipelineLayoutID
	pipeline gpu.PipelineID
	table    *sbt.Table
}

func newPipeline(dev gpu.Device, setLayout gpu.DescriptorSetLayoutID, shaders Shaders) (*pipeline, error) {
	p := &pipeline{}
	var err error
	p.layout, err = dev.CreatePipelineLayout([]gpu.DescriptorSetLayoutID{setLayout}, []gpu.PushConstantRange{
		{Stages: gpu.ShaderStageMiss, Offset: 0, Size: uint32(gpu.SizeOf[missConstants]())},
	})
	if err != nil {
		core.LogError("failed to create ray tracing pipeline layout: %v", err)
		return nil, err
	}

	code := [][]byte{shaders.Raygen, shaders.ClosestHit, shaders.Miss}
	kinds := []gpu.ShaderStage{gpu.ShaderStageRaygen, gpu.ShaderStageClosestHit, gpu.ShaderStageMiss}
	stages := make([]gpu.ShaderStageDesc, 0, len(code))
	defer func() {
		for _, s := range stages {
			dev.DestroyShaderModule(s.Module)
		}
	}()
	for i, c := range code {
		module, err := dev.CreateShaderModule(c)
		if err != nil {
			p.destroy(dev)
			return nil, fmt.Errorf("%w: %s shader module: %w", core.ErrInitialization, kinds[i], err)
		}
		stages = append(stages, gpu.ShaderStageDesc{Stage: kinds[i], Module: module, Entry: "main"})
	}

	p.pipeline, err = dev.CreateRayTracingPipeline(&gpu.RayTracingPipelineDesc{
		Layout: p.layout,
		Stages: stages,
		Groups: []gpu.ShaderGroup{
			{Type: gpu.ShaderGroupGeneral, General: raygenStage, ClosestHit: gpu.ShaderUnused, AnyHit: gpu.ShaderUnused, Intersection: gpu.ShaderUnused},
			{Type: gpu.ShaderGroupTrianglesHit, General: gpu.ShaderUnused, ClosestHit: closestHitStage, AnyHit: gpu.ShaderUnused, Intersection: gpu.ShaderUnused},
			{Type: gpu.ShaderGroupGeneral, General: missStage, ClosestHit: gpu.ShaderUnused, AnyHit: gpu.ShaderUnused, Intersection: gpu.ShaderUnused},
		},
		MaxRecursionDepth: 1,
	})
	if err != nil {
		p.destroy(dev)
		return nil, fmt.Errorf("%w: ray tracing pipeline: %w", core.ErrBuild, err)
	}

	if p.table, err = sbt.Build(dev, p.pipeline, shaderCounts); err != nil {
		p.destroy(dev)
		return nil, fmt.Errorf("%w: shader binding table: %w", core.ErrBuild, err)
	}
	return p, nil
}

func (p *pipeline) destroy(dev gpu.Device) {
	if p.table != nil {
		p.table.Destroy(dev)
		p.table = nil
	}
	if p.pipeline != gpu.InvalidID {
		dev.DestroyPipeline(p.pipeline)
		p.pipeline = gpu.InvalidID
	}
	if p.layout != gpu.InvalidID {
		dev.DestroyPipelineLayout(p.layout)
		p.layout = gpu.InvalidID
	}
}
