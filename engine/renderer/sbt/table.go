package sbt

import (
	"fmt"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

// Device is the part of the GPU a table is built on.
type Device interface {
	gpu.BufferAllocator
	RayTracingProperties() gpu.RayTracingProperties
	ShaderGroupHandles(pipeline gpu.PipelineID, firstGroup, groupCount uint32, dataSize int) ([]byte, error)
}

// Table is a filled shader binding table in host visible memory.
type Table struct {
	Layout  Layout
	Buffer  gpu.BufferID
	Regions gpu.ShaderBindingRegions
}

// Build fetches the group handles of pipeline, packs them and uploads the
// result. The pipeline groups must have been created raygen first, then the
// hit groups, then the miss groups, then the callables.
func Build(dev Device, pipeline gpu.PipelineID, counts Counts) (*Table, error) {
	layout, err := ComputeLayout(dev.RayTracingProperties(), counts)
	if err != nil {
		return nil, err
	}
	n := layout.GroupCount()
	handles, err := dev.ShaderGroupHandles(pipeline, 0, n, int(layout.HandleSize)*int(n))
	if err != nil {
		core.LogError("failed to get ray tracing shader group handles: %v", err)
		return nil, err
	}
	data, err := layout.Pack(handles)
	if err != nil {
		return nil, err
	}

	buf, err := dev.CreateBuffer(&gpu.BufferDesc{
		Label:  "shader-binding-table",
		Size:   layout.Size,
		Usage:  gpu.BufferUsageShaderBindingTable | gpu.BufferUsageShaderDeviceAddress | gpu.BufferUsageTransferSrc,
		Memory: gpu.MemoryHostVisibleCoherent,
	})
	if err != nil {
		return nil, err
	}
	if err := dev.WriteBuffer(buf, 0, data); err != nil {
		dev.DestroyBuffer(buf)
		return nil, fmt.Errorf("fill shader binding table: %w", err)
	}
	base, err := dev.BufferDeviceAddress(buf)
	if err != nil {
		dev.DestroyBuffer(buf)
		return nil, err
	}

	core.Logger().Debug("shader binding table built",
		"groups", n, "size", layout.Size, "handle_stride", layout.HandleStride)

	return &Table{Layout: layout, Buffer: buf, Regions: layout.Regions(base)}, nil
}

// Destroy frees the table buffer.
func (t *Table) Destroy(dev gpu.BufferAllocator) {
	if t.Buffer == gpu.InvalidID {
		return
	}
	dev.DestroyBuffer(t.Buffer)
	t.Buffer = gpu.InvalidID
	t.Regions = gpu.ShaderBindingRegions{}
}
