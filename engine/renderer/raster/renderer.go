// Package raster is the rasterization front end: one textured, depth tested
// mesh drawn through a single render pass.
package raster

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/descriptors"
	"github.com/spaghettifunk/lumen/engine/renderer/frame"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
	"github.com/spaghettifunk/lumen/engine/renderer/transfer"
	"github.com/spaghettifunk/lumen/engine/renderer/uniform"
)

// SwapchainUsage is the usage the swapchain images need to be render targets.
const SwapchainUsage = gpu.ImageUsageColorAttachment

// MVP is the vertex shader uniform.
type MVP struct {
	Model mgl32.Mat4
	View  mgl32.Mat4
	Proj  mgl32.Mat4
}

// Shaders holds the SPIR-V code of the two raster stages.
type Shaders struct {
	Vertex   []byte
	Fragment []byte
}

type Options struct {
	FramesInFlight int
	Shaders        Shaders
	ClearColor     [4]float32
	// Mesh defaults to DefaultMesh and Texture to a checkerboard.
	Mesh    *Mesh
	Texture *Texture
}

// Renderer records raster frames. It implements frame.Recorder and frame.Targets.
type Renderer struct {
	dev    gpu.Device
	stager *transfer.Stager
	frames int
	clear  [4]float32

	vertices *transfer.Buffer
	indices  *transfer.Buffer
	texture  *transfer.Image
	sampler  gpu.SamplerID
	uniforms *uniform.Buffer[MVP]
	sets     *descriptors.Manager
	shaders  Shaders

	layout   gpu.PipelineLayoutID
	pass     gpu.RenderPassID
	pipeline gpu.PipelineID
	// passFormat is the color format pass and pipeline were built for.
	passFormat gpu.Format

	depth        *depthTarget
	framebuffers []gpu.FramebufferID

	// elapsed seconds drive the model rotation.
	elapsed float64
}

type depthTarget struct {
	image gpu.ImageID
	view  gpu.ImageViewID
}

// New uploads the mesh and texture and writes the per-frame descriptor sets.
// The render pass, pipeline, depth buffer and framebuffers depend on the
// swapchain and are created by CreateTargets.
func New(dev gpu.Device, opts Options) (*Renderer, error) {
	if opts.FramesInFlight <= 0 {
		return nil, fmt.Errorf("%w: %d frames in flight", core.ErrInitialization, opts.FramesInFlight)
	}
	mesh := opts.Mesh
	if mesh == nil {
		m := DefaultMesh()
		mesh = &m
	}
	tex := opts.Texture
	if tex == nil {
		t := CheckerTexture(64)
		tex = &t
	}
	r := &Renderer{
		dev:     dev,
		stager:  transfer.NewStager(dev),
		frames:  opts.FramesInFlight,
		clear:   opts.ClearColor,
		shaders: opts.Shaders,
	}

	var err error
	if r.vertices, err = transfer.Upload(r.stager, "vertices", gpu.BufferUsageVertex, mesh.Vertices); err != nil {
		r.Destroy()
		return nil, fmt.Errorf("%w: vertex buffer: %w", core.ErrInitialization, err)
	}
	if r.indices, err = transfer.Upload(r.stager, "indices", gpu.BufferUsageIndex, mesh.Indices); err != nil {
		r.Destroy()
		return nil, fmt.Errorf("%w: index buffer: %w", core.ErrInitialization, err)
	}
	if r.texture, err = r.stager.UploadImage("texture", tex.Pixels, tex.Width, tex.Height, gpu.FormatR8G8B8A8Srgb); err != nil {
		r.Destroy()
		return nil, fmt.Errorf("%w: texture: %w", core.ErrInitialization, err)
	}
	caps := dev.Capabilities()
	if r.sampler, err = dev.CreateSampler(&gpu.SamplerDesc{
		Linear:        true,
		Repeat:        true,
		MaxAnisotropy: caps.MaxAnisotropy,
		MipLevels:     r.texture.MipLevels,
	}); err != nil {
		r.Destroy()
		return nil, err
	}
	if r.uniforms, err = uniform.New[MVP](dev, "mvp", r.frames, caps.MinUniformOffset); err != nil {
		r.Destroy()
		return nil, err
	}
	if r.sets, err = descriptors.NewManager(dev, descriptors.RasterBindings(), r.frames); err != nil {
		r.Destroy()
		return nil, err
	}
	if err := r.sets.Write(r.resolve); err != nil {
		r.Destroy()
		return nil, err
	}
	if r.layout, err = dev.CreatePipelineLayout([]gpu.DescriptorSetLayoutID{r.sets.Layout()}, nil); err != nil {
		r.Destroy()
		return nil, err
	}
	core.LogInfo("raster front end ready: %d vertices, %d indices, texture %dx%d with %d mips",
		len(mesh.Vertices), len(mesh.Indices), tex.Width, tex.Height, r.texture.MipLevels)
	return r, nil
}

func (r *Renderer) resolve(slot int, b gpu.DescriptorBinding) descriptors.Resource {
	switch b.Type {
	case gpu.DescriptorTypeUniformBuffer:
		return r.uniforms.Resource(slot)
	case gpu.DescriptorTypeCombinedImageSampler:
		return descriptors.Resource{ImageView: r.texture.View, Sampler: r.sampler}
	}
	return descriptors.Resource{}
}

// Advance moves the model rotation forward by dt seconds.
func (r *Renderer) Advance(dt float64) {
	r.elapsed += dt
}

// Transforms returns the uniform for a target of the given extent at the
// current time: a rotation around Z seen from (2,2,2) with Y flipped for Vulkan.
func (r *Renderer) Transforms(extent gpu.Extent2D) MVP {
	aspect := float32(1)
	if extent.Height != 0 {
		aspect = float32(extent.Width) / float32(extent.Height)
	}
	proj := mgl32.Perspective(mgl32.DegToRad(45), aspect, 0.1, 10)
	proj[5] *= -1
	return MVP{
		Model: mgl32.HomogRotate3DZ(mgl32.DegToRad(float32(90 * r.elapsed))),
		View:  mgl32.LookAtV(mgl32.Vec3{2, 2, 2}, mgl32.Vec3{0, 0, 0}, mgl32.Vec3{0, 0, 1}),
		Proj:  proj,
	}
}

func (r *Renderer) buildPipeline(format gpu.Format) error {
	r.destroyPipeline()
	var err error
	r.pass, err = r.dev.CreateRenderPass(&gpu.RenderPassDesc{
		ColorFormat: format,
		DepthFormat: r.dev.DepthFormat(),
		FinalLayout: gpu.ImageLayoutPresentSrc,
	})
	if err != nil {
		core.LogError("failed to create render pass: %v", err)
		return err
	}

	vert, err := r.dev.CreateShaderModule(r.shaders.Vertex)
	if err != nil {
		return fmt.Errorf("%w: vertex shader module: %w", core.ErrInitialization, err)
	}
	defer r.dev.DestroyShaderModule(vert)
	frag, err := r.dev.CreateShaderModule(r.shaders.Fragment)
	if err != nil {
		return fmt.Errorf("%w: fragment shader module: %w", core.ErrInitialization, err)
	}
	defer r.dev.DestroyShaderModule(frag)

	r.pipeline, err = r.dev.CreateGraphicsPipeline(&gpu.GraphicsPipelineDesc{
		Layout:     r.layout,
		RenderPass: r.pass,
		Stages: []gpu.ShaderStageDesc{
			{Stage: gpu.ShaderStageVertex, Module: vert, Entry: "main"},
			{Stage: gpu.ShaderStageFragment, Module: frag, Entry: "main"},
		},
		VertexStride: uint32(gpu.SizeOf[Vertex]()),
		Attributes:   vertexAttributes(),
		CullBack:     true,
		DepthTest:    true,
	})
	if err != nil {
		return fmt.Errorf("%w: graphics pipeline: %w", core.ErrBuild, err)
	}
	r.passFormat = format
	return nil
}

func (r *Renderer) destroyPipeline() {
	if r.pipeline != gpu.InvalidID {
		r.dev.DestroyPipeline(r.pipeline)
		r.pipeline = gpu.InvalidID
	}
	if r.pass != gpu.InvalidID {
		r.dev.DestroyRenderPass(r.pass)
		r.pass = gpu.InvalidID
	}
	r.passFormat = gpu.FormatUndefined
}

// CreateTargets creates the depth buffer and one framebuffer per swapchain
// image. Render pass and pipeline are rebuilt only when the surface format changes.
func (r *Renderer) CreateTargets(sc *frame.SwapchainState) error {
	if r.pass == gpu.InvalidID || r.passFormat != sc.Format {
		if err := r.buildPipeline(sc.Format); err != nil {
			return err
		}
	}

	depthFormat := r.dev.DepthFormat()
	img, err := r.dev.CreateImage(&gpu.ImageDesc{
		Label:     "depth",
		Extent:    sc.Extent,
		Format:    depthFormat,
		Usage:     gpu.ImageUsageDepthStencilAttachment,
		MipLevels: 1,
		Memory:    gpu.MemoryDeviceLocal,
	})
	if err != nil {
		core.LogError("failed to create depth image: %v", err)
		return err
	}
	view, err := r.dev.CreateImageView(img, &gpu.ImageViewDesc{Format: depthFormat, Aspect: gpu.ImageAspectDepth, MipLevels: 1})
	if err != nil {
		r.dev.DestroyImage(img)
		return err
	}
	r.depth = &depthTarget{image: img, view: view}

	for i, color := range sc.Views {
		fb, err := r.dev.CreateFramebuffer(r.pass, []gpu.ImageViewID{color, view}, sc.Extent)
		if err != nil {
			r.DestroyTargets()
			return fmt.Errorf("framebuffer %d: %w", i, err)
		}
		r.framebuffers = append(r.framebuffers, fb)
	}
	return nil
}

// DestroyTargets frees the framebuffers and the depth buffer.
func (r *Renderer) DestroyTargets() {
	for _, fb := range r.framebuffers {
		r.dev.DestroyFramebuffer(fb)
	}
	r.framebuffers = nil
	if r.depth != nil {
		r.dev.DestroyImageView(r.depth.view)
		r.dev.DestroyImage(r.depth.image)
		r.depth = nil
	}
}

// RecordFrame updates the slot's MVP and records the draw.
func (r *Renderer) RecordFrame(enc gpu.CommandEncoder, f frame.Frame) error {
	if int(f.ImageIndex) >= len(r.framebuffers) {
		return fmt.Errorf("no framebuffer for swapchain image %d", f.ImageIndex)
	}
	mvp := r.Transforms(f.Extent)
	if err := r.uniforms.Update(f.Slot, &mvp); err != nil {
		return err
	}

	enc.BeginRenderPass(r.pass, r.framebuffers[f.ImageIndex], f.Extent,
		gpu.ClearValue{Color: r.clear},
		gpu.ClearValue{Depth: 1, IsDepth: true},
	)
	enc.BindPipeline(gpu.BindPointGraphics, r.pipeline)
	enc.SetViewport(f.Extent)
	enc.BindVertexBuffer(0, r.vertices.ID, 0)
	enc.BindIndexBuffer(r.indices.ID, 0, gpu.IndexTypeUint32)
	enc.BindDescriptorSets(gpu.BindPointGraphics, r.layout, 0, r.sets.Set(f.Slot))
	enc.DrawIndexed(uint32(r.indices.Count), 1)
	enc.EndRenderPass()
	return nil
}

// Destroy frees everything but the swapchain targets, which the frame
// scheduler releases through DestroyTargets.
func (r *Renderer) Destroy() {
	r.destroyPipeline()
	if r.layout != gpu.InvalidID {
		r.dev.DestroyPipelineLayout(r.layout)
		r.layout = gpu.InvalidID
	}
	if r.sets != nil {
		r.sets.Destroy()
		r.sets = nil
	}
	if r.uniforms != nil {
		r.uniforms.Destroy()
		r.uniforms = nil
	}
	if r.sampler != gpu.InvalidID {
		r.dev.DestroySampler(r.sampler)
		r.sampler = gpu.InvalidID
	}
	r.stager.DestroyImage(r.texture)
	r.stager.Destroy(r.indices)
	r.stager.Destroy(r.vertices)
}

var (
	_ frame.Recorder = (*Renderer)(nil)
	_ frame.Targets  = (*Renderer)(nil)
)
