package gputest

import (
	"fmt"
	"time"

	"github.com/spaghettifunk/lumen/engine/containers"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

// Acceleration structures

func buildSizes(typ gpu.AccelerationStructureType, primitiveCount uint32) gpu.BuildSizes {
	per := uint64(64)
	if typ == gpu.AccelerationStructureTopLevel {
		per = 128
	}
	return gpu.BuildSizes{
		AccelerationStructureSize: 256 + per*uint64(primitiveCount),
		BuildScratchSize:          128 + 2*per*uint64(primitiveCount),
	}
}

func (d *Device) AccelerationStructureBuildSizes(info *gpu.BuildGeometryInfo, primitiveCount uint32) (gpu.BuildSizes, error) {
	if !d.caps.RayTracing {
		return gpu.BuildSizes{}, gpu.ErrNotSupported
	}
	if (info.Geometry.Triangles == nil) == (info.Geometry.Instances == nil) {
		return gpu.BuildSizes{}, fmt.Errorf("geometry must hold exactly one of triangles or instances")
	}
	sizes := buildSizes(info.Type, primitiveCount)
	sizes.ScratchAlignment = d.scratchAlign
	return sizes, nil
}

func (d *Device) CreateAccelerationStructure(typ gpu.AccelerationStructureType, id gpu.BufferID, size uint64) (gpu.AccelerationStructureID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, err := lookup(d.buffers, uint64(id), "buffer")
	if err != nil {
		return gpu.InvalidID, err
	}
	if !b.desc.Usage.Has(gpu.BufferUsageAccelerationStructureStorage) {
		return gpu.InvalidID, fmt.Errorf("buffer %q lacks acceleration structure storage usage", b.desc.Label)
	}
	if size > b.desc.Size {
		return gpu.InvalidID, fmt.Errorf("%s of %d bytes does not fit buffer %q", typ, size, b.desc.Label)
	}
	a := &accelStruct{typ: typ, buffer: id, size: size, address: d.allocAddress(size)}
	return gpu.AccelerationStructureID(d.accels.Insert(a)), nil
}

func (d *Device) AccelerationStructureDeviceAddress(id gpu.AccelerationStructureID) (gpu.DeviceAddress, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	a, err := lookup(d.accels, uint64(id), "acceleration structure")
	if err != nil {
		return 0, err
	}
	return a.address, nil
}

func (d *Device) DestroyAccelerationStructure(id gpu.AccelerationStructureID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.accels.Remove(containers.Handle(id)); err != nil {
		d.invalid("destroy acceleration structure: %v", err)
	}
}

// Descriptors

func (d *Device) CreateDescriptorSetLayout(bindings []gpu.DescriptorBinding) (gpu.DescriptorSetLayoutID, error) {
	seen := map[uint32]bool{}
	for _, b := range bindings {
		if seen[b.Binding] {
			return gpu.InvalidID, fmt.Errorf("binding %d declared twice", b.Binding)
		}
		seen[b.Binding] = true
		if b.Type == gpu.DescriptorTypeAccelerationStructure && !d.caps.RayTracing {
			return gpu.InvalidID, gpu.ErrNotSupported
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return gpu.DescriptorSetLayoutID(d.setLayouts.Insert(append([]gpu.DescriptorBinding(nil), bindings...))), nil
}

func (d *Device) DestroyDescriptorSetLayout(id gpu.DescriptorSetLayoutID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.setLayouts.Remove(containers.Handle(id)); err != nil {
		d.invalid("destroy descriptor set layout: %v", err)
	}
}

func (d *Device) CreateDescriptorPool(sizes []gpu.DescriptorPoolSize, maxSets uint32) (gpu.DescriptorPoolID, error) {
	if maxSets == 0 {
		return gpu.InvalidID, fmt.Errorf("descriptor pool with zero sets")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return gpu.DescriptorPoolID(d.pools.Insert(&descriptorPool{maxSets: maxSets})), nil
}

// DestroyDescriptorPool frees every set allocated from the pool.
func (d *Device) DestroyDescriptorPool(id gpu.DescriptorPoolID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, err := d.pools.Remove(containers.Handle(id))
	if err != nil {
		d.invalid("destroy descriptor pool: %v", err)
		return
	}
	for _, s := range p.sets {
		d.sets.Remove(containers.Handle(s))
	}
}

func (d *Device) AllocateDescriptorSets(id gpu.DescriptorPoolID, layouts []gpu.DescriptorSetLayoutID) ([]gpu.DescriptorSetID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, err := lookup(d.pools, uint64(id), "descriptor pool")
	if err != nil {
		return nil, err
	}
	if uint32(len(p.sets)+len(layouts)) > p.maxSets {
		return nil, fmt.Errorf("descriptor pool exhausted: %d of %d sets in use", len(p.sets), p.maxSets)
	}
	out := make([]gpu.DescriptorSetID, 0, len(layouts))
	for _, l := range layouts {
		if _, err := lookup(d.setLayouts, uint64(l), "descriptor set layout"); err != nil {
			return nil, err
		}
		s := gpu.DescriptorSetID(d.sets.Insert(&descriptorSet{layout: l, writes: map[uint32]gpu.DescriptorWrite{}}))
		p.sets = append(p.sets, s)
		out = append(out, s)
	}
	return out, nil
}

func (d *Device) UpdateDescriptorSets(writes []gpu.DescriptorWrite) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, w := range writes {
		s, err := lookup(d.sets, uint64(w.Set), "descriptor set")
		if err != nil {
			return err
		}
		bindings, err := lookup(d.setLayouts, uint64(s.layout), "descriptor set layout")
		if err != nil {
			return err
		}
		declared := false
		for _, b := range bindings {
			if b.Binding == w.Binding {
				if b.Type != w.Type {
					return fmt.Errorf("binding %d is %s, written as %s", w.Binding, b.Type, w.Type)
				}
				declared = true
			}
		}
		if !declared {
			return fmt.Errorf("binding %d is not declared in the layout", w.Binding)
		}
		if err := d.checkWriteResource(w); err != nil {
			return err
		}
		s.writes[w.Binding] = w
	}
	return nil
}

func (d *Device) checkWriteResource(w gpu.DescriptorWrite) error {
	var err error
	switch w.Type {
	case gpu.DescriptorTypeUniformBuffer, gpu.DescriptorTypeStorageBuffer:
		var b *buffer
		if b, err = lookup(d.buffers, uint64(w.Buffer), "buffer"); err == nil && w.Offset+w.Range > b.desc.Size {
			err = fmt.Errorf("descriptor range %d+%d exceeds buffer %q", w.Offset, w.Range, b.desc.Label)
		}
	case gpu.DescriptorTypeCombinedImageSampler:
		if _, err = lookup(d.views, uint64(w.ImageView), "image view"); err == nil {
			_, err = lookup(d.samplers, uint64(w.Sampler), "sampler")
		}
	case gpu.DescriptorTypeStorageImage:
		_, err = lookup(d.views, uint64(w.ImageView), "image view")
	case gpu.DescriptorTypeAccelerationStructure:
		_, err = lookup(d.accels, uint64(w.AccelerationStructure), "acceleration structure")
	}
	return err
}

// Pipelines

func (d *Device) CreateShaderModule(code []byte) (gpu.ShaderModuleID, error) {
	if len(code) == 0 || len(code)%4 != 0 {
		return gpu.InvalidID, fmt.Errorf("shader code of %d bytes is not a SPIR-V word stream", len(code))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return gpu.ShaderModuleID(d.modules.Insert(len(code))), nil
}

func (d *Device) DestroyShaderModule(id gpu.ShaderModuleID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.modules.Remove(containers.Handle(id)); err != nil {
		d.invalid("destroy shader module: %v", err)
	}
}

func (d *Device) CreatePipelineLayout(setLayouts []gpu.DescriptorSetLayoutID, pushConstants []gpu.PushConstantRange) (gpu.PipelineLayoutID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, l := range setLayouts {
		if _, err := lookup(d.setLayouts, uint64(l), "descriptor set layout"); err != nil {
			return gpu.InvalidID, err
		}
	}
	return gpu.PipelineLayoutID(d.pipelineLayouts.Insert(append([]gpu.PushConstantRange(nil), pushConstants...))), nil
}

func (d *Device) DestroyPipelineLayout(id gpu.PipelineLayoutID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.pipelineLayouts.Remove(containers.Handle(id)); err != nil {
		d.invalid("destroy pipeline layout: %v", err)
	}
}

func (d *Device) checkStages(stages []gpu.ShaderStageDesc) error {
	for _, s := range stages {
		if _, err := lookup(d.modules, uint64(s.Module), "shader module"); err != nil {
			return err
		}
	}
	return nil
}

func (d *Device) CreateRayTracingPipeline(desc *gpu.RayTracingPipelineDesc) (gpu.PipelineID, error) {
	if !d.caps.RayTracing {
		return gpu.InvalidID, gpu.ErrNotSupported
	}
	if desc.MaxRecursionDepth > d.props.MaxRayRecursionDepth {
		return gpu.InvalidID, fmt.Errorf("recursion depth %d exceeds %d", desc.MaxRecursionDepth, d.props.MaxRayRecursionDepth)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := lookup(d.pipelineLayouts, uint64(desc.Layout), "pipeline layout"); err != nil {
		return gpu.InvalidID, err
	}
	if err := d.checkStages(desc.Stages); err != nil {
		return gpu.InvalidID, err
	}
	n := uint32(len(desc.Stages))
	for i, g := range desc.Groups {
		for _, idx := range []uint32{g.General, g.ClosestHit, g.AnyHit, g.Intersection} {
			if idx != gpu.ShaderUnused && idx >= n {
				return gpu.InvalidID, fmt.Errorf("group %d references stage %d of %d", i, idx, n)
			}
		}
	}
	p := &pipeline{point: gpu.BindPointRayTracing, groups: uint32(len(desc.Groups))}
	return gpu.PipelineID(d.pipelines.Insert(p)), nil
}

func (d *Device) CreateGraphicsPipeline(desc *gpu.GraphicsPipelineDesc) (gpu.PipelineID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := lookup(d.pipelineLayouts, uint64(desc.Layout), "pipeline layout"); err != nil {
		return gpu.InvalidID, err
	}
	if _, err := lookup(d.renderPasses, uint64(desc.RenderPass), "render pass"); err != nil {
		return gpu.InvalidID, err
	}
	if err := d.checkStages(desc.Stages); err != nil {
		return gpu.InvalidID, err
	}
	return gpu.PipelineID(d.pipelines.Insert(&pipeline{point: gpu.BindPointGraphics})), nil
}

func (d *Device) DestroyPipeline(id gpu.PipelineID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.pipelines.Remove(containers.Handle(id)); err != nil {
		d.invalid("destroy pipeline: %v", err)
	}
}

func (d *Device) ShaderGroupHandles(id gpu.PipelineID, firstGroup, groupCount uint32, dataSize int) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, err := lookup(d.pipelines, uint64(id), "pipeline")
	if err != nil {
		return nil, err
	}
	if p.point != gpu.BindPointRayTracing {
		return nil, fmt.Errorf("pipeline %d is not a ray tracing pipeline", id)
	}
	if firstGroup+groupCount > p.groups {
		return nil, fmt.Errorf("groups %d+%d exceed the %d groups of the pipeline", firstGroup, groupCount, p.groups)
	}
	h := d.props.ShaderGroupHandleSize
	if dataSize != int(groupCount*h) {
		return nil, fmt.Errorf("handle data of %d bytes for %d groups of %d", dataSize, groupCount, h)
	}
	out := make([]byte, 0, dataSize)
	for g := firstGroup; g < firstGroup+groupCount; g++ {
		out = append(out, HandleFor(g, h)...)
	}
	return out, nil
}

func (d *Device) CreateRenderPass(desc *gpu.RenderPassDesc) (gpu.RenderPassID, error) {
	if desc.ColorFormat == gpu.FormatUndefined {
		return gpu.InvalidID, fmt.Errorf("render pass without a color format")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return gpu.RenderPassID(d.renderPasses.Insert(*desc)), nil
}

func (d *Device) DestroyRenderPass(id gpu.RenderPassID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.renderPasses.Remove(containers.Handle(id)); err != nil {
		d.invalid("destroy render pass: %v", err)
	}
}

func (d *Device) CreateFramebuffer(pass gpu.RenderPassID, attachments []gpu.ImageViewID, extent gpu.Extent2D) (gpu.FramebufferID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := lookup(d.renderPasses, uint64(pass), "render pass"); err != nil {
		return gpu.InvalidID, err
	}
	for _, v := range attachments {
		if _, err := lookup(d.views, uint64(v), "image view"); err != nil {
			return gpu.InvalidID, err
		}
	}
	return gpu.FramebufferID(d.framebuffers.Insert(extent)), nil
}

func (d *Device) DestroyFramebuffer(id gpu.FramebufferID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.framebuffers.Remove(containers.Handle(id)); err != nil {
		d.invalid("destroy framebuffer: %v", err)
	}
}

// Presentation

// SetSurfaceExtent changes the window size the presenter reports. An empty
// extent models a minimized window.
func (d *Device) SetSurfaceExtent(width, height uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.extent = gpu.Extent2D{Width: width, Height: height}
}

func (d *Device) SurfaceExtent() gpu.Extent2D {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.extent
}

// FailNextAcquire makes the next AcquireNextImage return err.
func (d *Device) FailNextAcquire(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.acquireFaults = append(d.acquireFaults, err)
}

// FailNextPresent makes the next Present return err.
func (d *Device) FailNextPresent(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.presentFaults = append(d.presentFaults, err)
}

// SwapchainBuilds returns how many swapchains were created.
func (d *Device) SwapchainBuilds() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.swapchainBuilds
}

func (d *Device) CreateSwapchain(desc *gpu.SwapchainDesc) (*gpu.SwapchainImages, error) {
	if desc.Extent.Empty() {
		return nil, fmt.Errorf("swapchain with empty extent %v", desc.Extent)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.swapchain != nil {
		return nil, fmt.Errorf("swapchain already exists")
	}
	format := desc.PreferredFormat
	if format == gpu.FormatUndefined {
		format = gpu.FormatB8G8R8A8Unorm
	}
	sc := &swapchain{desc: *desc}
	out := &gpu.SwapchainImages{Format: format, Extent: desc.Extent}
	for i := 0; i < swapchainImages; i++ {
		img := newImage(&gpu.ImageDesc{
			Label:     fmt.Sprintf("swapchain-%d", i),
			Extent:    desc.Extent,
			Format:    format,
			Usage:     desc.Usage,
			MipLevels: 1,
		})
		img.swapchain = true
		id := gpu.ImageID(d.images.Insert(img))
		view := gpu.ImageViewID(d.views.Insert(id))
		sc.images = append(sc.images, id)
		sc.views = append(sc.views, view)
	}
	out.Images = append(out.Images, sc.images...)
	out.Views = append(out.Views, sc.views...)
	d.swapchain = sc
	d.swapchainBuilds++
	d.event("create-swapchain %dx%d", desc.Extent.Width, desc.Extent.Height)
	return out, nil
}

func (d *Device) DestroySwapchain() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.swapchain == nil {
		return
	}
	for i := range d.swapchain.images {
		d.views.Remove(containers.Handle(d.swapchain.views[i]))
		d.images.Remove(containers.Handle(d.swapchain.images[i]))
	}
	d.swapchain = nil
	d.event("destroy-swapchain")
}

func (d *Device) AcquireNextImage(signal gpu.SemaphoreID, timeout time.Duration) (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.swapchain == nil {
		return 0, fmt.Errorf("acquire without a swapchain")
	}
	s, err := lookup(d.semaphores, uint64(signal), "semaphore")
	if err != nil {
		return 0, err
	}
	if s.signaled {
		return 0, fmt.Errorf("acquire signals semaphore %d that is already signaled", signal)
	}
	var fault error
	if len(d.acquireFaults) > 0 {
		fault = d.acquireFaults[0]
		d.acquireFaults = d.acquireFaults[1:]
		// A suboptimal acquire still hands out an image.
		if fault != gpu.ErrSuboptimal {
			d.event("acquire-failed")
			return 0, fault
		}
	}
	idx := d.swapchain.next
	d.swapchain.next = (idx + 1) % uint32(len(d.swapchain.images))
	s.signaled = true
	d.event("acquire:%d", idx)
	return idx, fault
}

func (d *Device) Present(imageIndex uint32, wait gpu.SemaphoreID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.swapchain == nil || int(imageIndex) >= len(d.swapchain.images) {
		return fmt.Errorf("present of image %d without a matching swapchain", imageIndex)
	}
	s, err := lookup(d.semaphores, uint64(wait), "semaphore")
	if err != nil {
		return err
	}
	if !s.signaled {
		return fmt.Errorf("present waits on semaphore %d that nothing signals", wait)
	}
	s.signaled = false
	var fault error
	if len(d.presentFaults) > 0 {
		fault = d.presentFaults[0]
		d.presentFaults = d.presentFaults[1:]
	}
	if fault != gpu.ErrOutOfDate {
		d.event("present:%d", imageIndex)
	}
	return fault
}
