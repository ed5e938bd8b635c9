// Package raytrace is the hardware ray tracing front end. Every frame the
// raygen shader writes into a per-slot canvas image which is then blitted
// onto the acquired swapchain image.
package raytrace

import (
	"fmt"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/accel"
	"github.com/spaghettifunk/lumen/engine/renderer/descriptors"
	"github.com/spaghettifunk/lumen/engine/renderer/frame"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
	"github.com/spaghettifunk/lumen/engine/renderer/uniform"
)

// SwapchainUsage is the usage the swapchain images need for the canvas blit.
const SwapchainUsage = gpu.ImageUsageTransferDst | gpu.ImageUsageColorAttachment

// DefaultClearColor is the colour of rays that hit nothing.
var DefaultClearColor = [4]float32{0.7, 0.7, 0.7, 0.7}

type Options struct {
	FramesInFlight int
	Shaders        Shaders
	ClearColor     [4]float32
	// Scene defaults to DefaultScene.
	Scene  *Scene
	Camera *Camera
}

// canvas is the storage image one frame slot traces into.
type canvas struct {
	image gpu.ImageID
	view  gpu.ImageViewID
}

// Renderer records ray traced frames. It implements frame.Recorder and frame.Targets.
type Renderer struct {
	dev     gpu.Device
	frames  int
	scene   *Scene
	camera  Camera
	clear   missConstants
	builder *accel.Builder
	blas    []*accel.BLAS
	// One TLAS per frame slot so a slot never reads a structure another slot rebuilds.
	tlas     []*accel.TLAS
	uniforms *uniform.Buffer[CameraUniform]
	sets     *descriptors.Manager
	pipe     *pipeline

	canvases []canvas
	extent   gpu.Extent2D
	format   gpu.Format
}

// New builds the scene, the pipeline, its shader binding table and the
// per-frame descriptor sets. Swapchain dependent state is created by CreateTargets.
func New(dev gpu.Device, opts Options) (*Renderer, error) {
	if !dev.Capabilities().RayTracing {
		return nil, fmt.Errorf("%w: device has no ray tracing support: %w", core.ErrInitialization, gpu.ErrNotSupported)
	}
	if opts.FramesInFlight <= 0 {
		return nil, fmt.Errorf("%w: %d frames in flight", core.ErrInitialization, opts.FramesInFlight)
	}
	r := &Renderer{
		dev:     dev,
		frames:  opts.FramesInFlight,
		scene:   opts.Scene,
		camera:  DefaultCamera(),
		clear:   missConstants{ClearColor: opts.ClearColor},
		builder: accel.NewBuilder(dev),
	}
	if r.scene == nil {
		r.scene = DefaultScene()
	}
	if opts.Camera != nil {
		r.camera = *opts.Camera
	}

	if err := r.buildScene(); err != nil {
		r.Destroy()
		return nil, err
	}

	var err error
	r.uniforms, err = uniform.New[CameraUniform](dev, "camera", r.frames, dev.Capabilities().MinUniformOffset)
	if err != nil {
		r.Destroy()
		return nil, err
	}
	if r.sets, err = descriptors.NewManager(dev, descriptors.RayTracingBindings(), r.frames); err != nil {
		r.Destroy()
		return nil, err
	}
	if r.pipe, err = newPipeline(dev, r.sets.Layout(), opts.Shaders); err != nil {
		r.Destroy()
		return nil, err
	}
	core.LogInfo("ray tracing front end ready: %d meshes, %d instances, %d frames in flight",
		len(r.blas), len(r.scene.Placements), r.frames)
	return r, nil
}

// buildScene builds every BLAS, then one TLAS per frame slot over them.
func (r *Renderer) buildScene() error {
	for _, m := range r.scene.Meshes {
		b, err := buildMesh(r.builder, m)
		if err != nil {
			return err
		}
		r.blas = append(r.blas, b)
	}
	instances, err := r.scene.instances(r.blas)
	if err != nil {
		return fmt.Errorf("%w: %w", core.ErrBuild, err)
	}
	for i := 0; i < r.frames; i++ {
		t, err := r.builder.NewTLAS(instances)
		if err != nil {
			return err
		}
		r.tlas = append(r.tlas, t)
	}
	return nil
}

// BuildGeneration returns the number of acceleration structure builds completed.
func (r *Renderer) BuildGeneration() uint64 {
	return r.builder.Generation()
}

// SetCamera replaces the camera used from the next recorded frame on.
func (r *Renderer) SetCamera(c Camera) {
	r.camera = c
}

// CreateTargets allocates one canvas per frame slot at the swapchain extent
// and points every descriptor set at its slot's canvas, TLAS and uniform slice.
func (r *Renderer) CreateTargets(sc *frame.SwapchainState) error {
	for i := 0; i < r.frames; i++ {
		img, err := r.dev.CreateImage(&gpu.ImageDesc{
			Label:     fmt.Sprintf("canvas-%d", i),
			Extent:    sc.Extent,
			Format:    sc.Format,
			Usage:     gpu.ImageUsageStorage | gpu.ImageUsageTransferSrc,
			MipLevels: 1,
			Memory:    gpu.MemoryDeviceLocal,
		})
		if err != nil {
			r.DestroyTargets()
			return err
		}
		view, err := r.dev.CreateImageView(img, &gpu.ImageViewDesc{Format: sc.Format, Aspect: gpu.ImageAspectColor, MipLevels: 1})
		if err != nil {
			r.dev.DestroyImage(img)
			r.DestroyTargets()
			return err
		}
		r.canvases = append(r.canvases, canvas{image: img, view: view})
	}
	r.extent = sc.Extent
	r.format = sc.Format

	if err := r.sets.Write(r.resolve); err != nil {
		r.DestroyTargets()
		return err
	}
	return nil
}

func (r *Renderer) resolve(slot int, b gpu.DescriptorBinding) descriptors.Resource {
	switch b.Type {
	case gpu.DescriptorTypeStorageImage:
		return descriptors.Resource{ImageView: r.canvases[slot].view, ImageLayout: gpu.ImageLayoutGeneral}
	case gpu.DescriptorTypeAccelerationStructure:
		return descriptors.Resource{AccelerationStructure: r.tlas[slot].Handle}
	case gpu.DescriptorTypeUniformBuffer:
		return r.uniforms.Resource(slot)
	}
	return descriptors.Resource{}
}

// DestroyTargets frees the canvases.
func (r *Renderer) DestroyTargets() {
	for _, c := range r.canvases {
		r.dev.DestroyImageView(c.view)
		r.dev.DestroyImage(c.image)
	}
	r.canvases = nil
}

// RecordFrame updates the slot's camera and records the trace and the blit
// of the canvas onto the swapchain image.
func (r *Renderer) RecordFrame(enc gpu.CommandEncoder, f frame.Frame) error {
	if f.Slot >= len(r.canvases) {
		return fmt.Errorf("no canvas for frame slot %d", f.Slot)
	}
	cam := r.camera.Uniform(f.Extent)
	if err := r.uniforms.Update(f.Slot, &cam); err != nil {
		return err
	}
	c := r.canvases[f.Slot]
	layout := r.pipe.layout

	enc.BindPipeline(gpu.BindPointRayTracing, r.pipe.pipeline)
	enc.BindDescriptorSets(gpu.BindPointRayTracing, layout, 0, r.sets.Set(f.Slot))
	enc.PushConstants(layout, gpu.ShaderStageMiss, 0, gpu.ValueBytes(&r.clear))
	enc.PipelineBarrier(gpu.ImageBarrier{
		Image:     c.image,
		Aspect:    gpu.ImageAspectColor,
		OldLayout: gpu.ImageLayoutUndefined,
		NewLayout: gpu.ImageLayoutGeneral,
		SrcAccess: gpu.AccessNone,
		DstAccess: gpu.AccessShaderWrite,
		SrcStage:  gpu.PipelineStageAllCommands,
		DstStage:  gpu.PipelineStageAllCommands,
	})
	enc.TraceRays(&r.pipe.table.Regions, f.Extent.Width, f.Extent.Height, 1)
	enc.PipelineBarrier(
		gpu.ImageBarrier{
			Image:     c.image,
			Aspect:    gpu.ImageAspectColor,
			OldLayout: gpu.ImageLayoutGeneral,
			NewLayout: gpu.ImageLayoutTransferSrc,
			SrcAccess: gpu.AccessShaderWrite,
			DstAccess: gpu.AccessTransferRead,
			SrcStage:  gpu.PipelineStageAllCommands,
			DstStage:  gpu.PipelineStageAllCommands,
		},
		gpu.ImageBarrier{
			Image:     f.Image,
			Aspect:    gpu.ImageAspectColor,
			OldLayout: gpu.ImageLayoutUndefined,
			NewLayout: gpu.ImageLayoutTransferDst,
			SrcAccess: gpu.AccessNone,
			DstAccess: gpu.AccessTransferWrite,
			SrcStage:  gpu.PipelineStageAllCommands,
			DstStage:  gpu.PipelineStageAllCommands,
		},
	)
	enc.BlitImage(c.image, gpu.ImageLayoutTransferSrc, f.Image, gpu.ImageLayoutTransferDst, gpu.ImageBlit{
		SrcExtent: f.Extent,
		DstExtent: f.Extent,
	})
	enc.PipelineBarrier(gpu.ImageBarrier{
		Image:     f.Image,
		Aspect:    gpu.ImageAspectColor,
		OldLayout: gpu.ImageLayoutTransferDst,
		NewLayout: gpu.ImageLayoutPresentSrc,
		SrcAccess: gpu.AccessTransferWrite,
		DstAccess: gpu.AccessNone,
		SrcStage:  gpu.PipelineStageAllCommands,
		DstStage:  gpu.PipelineStageAllCommands,
	})
	return nil
}

// Destroy frees everything but the swapchain targets, which the frame
// scheduler releases through DestroyTargets.
func (r *Renderer) Destroy() {
	if r.pipe != nil {
		r.pipe.destroy(r.dev)
		r.pipe = nil
	}
	if r.sets != nil {
		r.sets.Destroy()
		r.sets = nil
	}
	if r.uniforms != nil {
		r.uniforms.Destroy()
		r.uniforms = nil
	}
	for _, t := range r.tlas {
		t.Destroy()
		t.ReleaseInputs()
	}
	r.tlas = nil
	for _, b := range r.blas {
		b.Destroy()
		b.ReleaseInputs()
	}
	r.blas = nil
}

var (
	_ frame.Recorder = (*Renderer)(nil)
	_ frame.Targets  = (*Renderer)(nil)
)
