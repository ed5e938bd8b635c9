package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

// commandEncoder records into one command buffer. Handle lookups that fail
// skip the command and keep the first error for EndCommandBuffer.
type commandEncoder struct {
	backend *VulkanBackend
	cb      *VulkanCommandBuffer
	err     error
	ended   bool
	pass    *VulkanRenderpass
}

func (e *commandEncoder) fail(err error) bool {
	if err == nil {
		return false
	}
	if e.err == nil {
		e.err = err
	}
	return true
}

func (e *commandEncoder) usable() bool {
	if e.ended {
		e.fail(fmt.Errorf("recording after EndCommandBuffer"))
		return false
	}
	return e.err == nil
}

func (e *commandEncoder) buffer(id gpu.BufferID) (vk.Buffer, bool) {
	b, err := e.backend.buffers.get(uint64(id))
	if e.fail(err) {
		return vk.NullBuffer, false
	}
	return b.Handle, true
}

func (e *commandEncoder) image(id gpu.ImageID) (vk.Image, bool) {
	img, err := e.backend.images.get(uint64(id))
	if e.fail(err) {
		return vk.NullImage, false
	}
	return img.Handle, true
}

func colorLayers(mip uint32) vk.ImageSubresourceLayers {
	return vk.ImageSubresourceLayers{
		AspectMask:     vk.ImageAspectFlags(vk.ImageAspectColorBit),
		MipLevel:       mip,
		BaseArrayLayer: 0,
		LayerCount:     1,
	}
}

func (e *commandEncoder) CopyBuffer(src, dst gpu.BufferID, regions ...gpu.BufferCopy) {
	if !e.usable() || len(regions) == 0 {
		return
	}
	s, ok := e.buffer(src)
	if !ok {
		return
	}
	d, ok := e.buffer(dst)
	if !ok {
		return
	}
	copies := make([]vk.BufferCopy, len(regions))
	for i, r := range regions {
		copies[i] = vk.BufferCopy{
			SrcOffset: vk.DeviceSize(r.SrcOffset),
			DstOffset: vk.DeviceSize(r.DstOffset),
			Size:      vk.DeviceSize(r.Size),
		}
	}
	vk.CmdCopyBuffer(e.cb.Handle, s, d, uint32(len(copies)), copies)
}

// CopyBufferToImage expects dst in the transfer destination layout.
func (e *commandEncoder) CopyBufferToImage(src gpu.BufferID, dst gpu.ImageID, extent gpu.Extent2D) {
	if !e.usable() {
		return
	}
	s, ok := e.buffer(src)
	if !ok {
		return
	}
	d, ok := e.image(dst)
	if !ok {
		return
	}
	region := vk.BufferImageCopy{
		BufferOffset:      0,
		BufferRowLength:   0,
		BufferImageHeight: 0,
		ImageSubresource:  colorLayers(0),
		ImageExtent: vk.Extent3D{
			Width:  extent.Width,
			Height: extent.Height,
			Depth:  1,
		},
	}
	vk.CmdCopyBufferToImage(e.cb.Handle, s, d, vk.ImageLayoutTransferDstOptimal, 1, []vk.BufferImageCopy{region})
}

func (e *commandEncoder) BlitImage(src gpu.ImageID, srcLayout gpu.ImageLayout, dst gpu.ImageID, dstLayout gpu.ImageLayout, blit gpu.ImageBlit) {
	if !e.usable() {
		return
	}
	s, ok := e.image(src)
	if !ok {
		return
	}
	d, ok := e.image(dst)
	if !ok {
		return
	}
	region := vk.ImageBlit{
		SrcSubresource: colorLayers(blit.SrcMip),
		SrcOffsets: [2]vk.Offset3D{
			{X: 0, Y: 0, Z: 0},
			{X: int32(blit.SrcExtent.Width), Y: int32(blit.SrcExtent.Height), Z: 1},
		},
		DstSubresource: colorLayers(blit.DstMip),
		DstOffsets: [2]vk.Offset3D{
			{X: 0, Y: 0, Z: 0},
			{X: int32(blit.DstExtent.Width), Y: int32(blit.DstExtent.Height), Z: 1},
		},
	}
	vk.CmdBlitImage(e.cb.Handle, s, toLayout(srcLayout), d, toLayout(dstLayout), 1, []vk.ImageBlit{region}, toFilter(blit.Linear))
}

func (e *commandEncoder) PipelineBarrier(barriers ...gpu.ImageBarrier) {
	if !e.usable() {
		return
	}
	for _, b := range barriers {
		img, ok := e.image(b.Image)
		if !ok {
			return
		}
		barrier := vk.ImageMemoryBarrier{
			SType:               vk.StructureTypeImageMemoryBarrier,
			OldLayout:           toLayout(b.OldLayout),
			NewLayout:           toLayout(b.NewLayout),
			SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
			DstQueueFamilyIndex: vk.QueueFamilyIgnored,
			Image:               img,
			SrcAccessMask:       toAccess(b.SrcAccess),
			DstAccessMask:       toAccess(b.DstAccess),
			SubresourceRange: vk.ImageSubresourceRange{
				AspectMask:     toAspect(b.Aspect),
				BaseMipLevel:   b.BaseMipLevel,
				LevelCount:     max(b.LevelCount, 1),
				BaseArrayLayer: 0,
				LayerCount:     1,
			},
		}
		vk.CmdPipelineBarrier(e.cb.Handle, toStage(b.SrcStage), toStage(b.DstStage), 0,
			0, nil,
			0, nil,
			1, []vk.ImageMemoryBarrier{barrier})
	}
}

func (e *commandEncoder) MemoryBarrier(srcStage, dstStage gpu.PipelineStage, srcAccess, dstAccess gpu.Access) {
	if !e.usable() {
		return
	}
	barrier := vk.MemoryBarrier{
		SType:         vk.StructureTypeMemoryBarrier,
		SrcAccessMask: toAccess(srcAccess),
		DstAccessMask: toAccess(dstAccess),
	}
	vk.CmdPipelineBarrier(e.cb.Handle, toStage(srcStage), toStage(dstStage), 0,
		1, []vk.MemoryBarrier{barrier},
		0, nil,
		0, nil)
}

func (e *commandEncoder) BuildAccelerationStructure(info *gpu.BuildGeometryInfo, primitiveCount uint32) {
	if !e.usable() {
		return
	}
	khr := e.backend.context.khr
	if khr == nil {
		e.fail(fmt.Errorf("build %s: %w", info.Type, gpu.ErrNotSupported))
		return
	}
	dst, err := e.backend.accels.get(uint64(info.Dst))
	if e.fail(err) {
		return
	}
	khr.cmdBuild(e.cb.Handle, info, dst.Handle, primitiveCount)
}

func (e *commandEncoder) BindPipeline(point gpu.BindPoint, id gpu.PipelineID) {
	if !e.usable() {
		return
	}
	pipeline, err := e.backend.pipelines.get(uint64(id))
	if e.fail(err) {
		return
	}
	if pipeline.BindPoint != point {
		e.fail(fmt.Errorf("pipeline %d bound at the wrong bind point", id))
		return
	}
	vk.CmdBindPipeline(e.cb.Handle, toBindPoint(point), pipeline.Handle)
}

func (e *commandEncoder) BindDescriptorSets(point gpu.BindPoint, layoutID gpu.PipelineLayoutID, firstSet uint32, sets ...gpu.DescriptorSetID) {
	if !e.usable() || len(sets) == 0 {
		return
	}
	layout, err := e.backend.pipelineLayouts.get(uint64(layoutID))
	if e.fail(err) {
		return
	}
	vkSets := make([]vk.DescriptorSet, len(sets))
	for i, id := range sets {
		if vkSets[i], err = e.backend.descriptorSets.get(uint64(id)); e.fail(err) {
			return
		}
	}
	vk.CmdBindDescriptorSets(e.cb.Handle, toBindPoint(point), layout, firstSet, uint32(len(vkSets)), vkSets, 0, nil)
}

func (e *commandEncoder) PushConstants(layoutID gpu.PipelineLayoutID, stages gpu.ShaderStage, offset uint32, data []byte) {
	if !e.usable() || len(data) == 0 {
		return
	}
	layout, err := e.backend.pipelineLayouts.get(uint64(layoutID))
	if e.fail(err) {
		return
	}
	vk.CmdPushConstants(e.cb.Handle, layout, toShaderStages(stages), offset, uint32(len(data)), unsafe.Pointer(&data[0]))
}

func (e *commandEncoder) TraceRays(regions *gpu.ShaderBindingRegions, width, height, depth uint32) {
	if !e.usable() {
		return
	}
	khr := e.backend.context.khr
	if khr == nil {
		e.fail(fmt.Errorf("trace rays: %w", gpu.ErrNotSupported))
		return
	}
	khr.cmdTraceRays(e.cb.Handle, regions, width, height, max(depth, 1))
}

func (e *commandEncoder) BeginRenderPass(passID gpu.RenderPassID, framebufferID gpu.FramebufferID, extent gpu.Extent2D, clears ...gpu.ClearValue) {
	if !e.usable() {
		return
	}
	if e.pass != nil {
		e.fail(fmt.Errorf("render pass %d begun inside another render pass", passID))
		return
	}
	pass, err := e.backend.renderPasses.get(uint64(passID))
	if e.fail(err) {
		return
	}
	fb, err := e.backend.framebuffers.get(uint64(framebufferID))
	if e.fail(err) {
		return
	}
	pass.RenderpassBegin(e.cb, fb.Handle, extent, clears)
	e.pass = pass
}

func (e *commandEncoder) EndRenderPass() {
	if e.pass == nil {
		return
	}
	e.pass.RenderpassEnd(e.cb)
	e.pass = nil
}

func (e *commandEncoder) SetViewport(extent gpu.Extent2D) {
	if !e.usable() {
		return
	}
	viewport := vk.Viewport{
		X:        0,
		Y:        0,
		Width:    float32(extent.Width),
		Height:   float32(extent.Height),
		MinDepth: 0,
		MaxDepth: 1,
	}
	scissor := vk.Rect2D{
		Offset: vk.Offset2D{X: 0, Y: 0},
		Extent: vk.Extent2D{Width: extent.Width, Height: extent.Height},
	}
	vk.CmdSetViewport(e.cb.Handle, 0, 1, []vk.Viewport{viewport})
	vk.CmdSetScissor(e.cb.Handle, 0, 1, []vk.Rect2D{scissor})
}

func (e *commandEncoder) BindVertexBuffer(binding uint32, id gpu.BufferID, offset uint64) {
	if !e.usable() {
		return
	}
	b, ok := e.buffer(id)
	if !ok {
		return
	}
	vk.CmdBindVertexBuffers(e.cb.Handle, binding, 1, []vk.Buffer{b}, []vk.DeviceSize{vk.DeviceSize(offset)})
}

func (e *commandEncoder) BindIndexBuffer(id gpu.BufferID, offset uint64, indexType gpu.IndexType) {
	if !e.usable() {
		return
	}
	b, ok := e.buffer(id)
	if !ok {
		return
	}
	vk.CmdBindIndexBuffer(e.cb.Handle, b, vk.DeviceSize(offset), toIndexType(indexType))
}

func (e *commandEncoder) DrawIndexed(indexCount, instanceCount uint32) {
	if !e.usable() || indexCount == 0 {
		return
	}
	vk.CmdDrawIndexed(e.cb.Handle, indexCount, max(instanceCount, 1), 0, 0, 0)
}
