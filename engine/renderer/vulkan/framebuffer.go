package vulkan

import (
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

type VulkanFramebuffer struct {
	Handle      vk.Framebuffer
	Attachments []vk.ImageView
	Renderpass  *VulkanRenderpass
}

func FramebufferCreate(context *VulkanContext, renderpass *VulkanRenderpass, width uint32, height uint32, attachments []vk.ImageView) (*VulkanFramebuffer, error) {
	outFramebuffer := &VulkanFramebuffer{
		Attachments: append([]vk.ImageView(nil), attachments...),
		Renderpass:  renderpass,
	}

	createInfo := vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      renderpass.Handle,
		AttachmentCount: uint32(len(outFramebuffer.Attachments)),
		PAttachments:    outFramebuffer.Attachments,
		Width:           width,
		Height:          height,
		Layers:          1,
	}

	if err := resultError(vk.CreateFramebuffer(context.Device.LogicalDevice, &createInfo, context.Allocator, &outFramebuffer.Handle), "vkCreateFramebuffer"); err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	return outFramebuffer, nil
}

func (vfb *VulkanFramebuffer) Destroy(context *VulkanContext) {
	if vfb.Handle != vk.NullFramebuffer {
		vk.DestroyFramebuffer(context.Device.LogicalDevice, vfb.Handle, context.Allocator)
	}
	vfb.Attachments = nil
	vfb.Handle = vk.NullFramebuffer
	vfb.Renderpass = nil
}

func (vb *VulkanBackend) CreateFramebuffer(pass gpu.RenderPassID, attachments []gpu.ImageViewID, extent gpu.Extent2D) (gpu.FramebufferID, error) {
	rp, err := vb.renderPasses.get(uint64(pass))
	if err != nil {
		return gpu.InvalidID, err
	}
	views := make([]vk.ImageView, len(attachments))
	for i, a := range attachments {
		if views[i], err = vb.views.get(uint64(a)); err != nil {
			return gpu.InvalidID, err
		}
	}
	fb, err := FramebufferCreate(vb.context, rp, extent.Width, extent.Height, views)
	if err != nil {
		return gpu.InvalidID, err
	}
	return gpu.FramebufferID(vb.framebuffers.add(fb)), nil
}

func (vb *VulkanBackend) DestroyFramebuffer(id gpu.FramebufferID) {
	if fb, ok := vb.framebuffers.remove(uint64(id)); ok {
		fb.Destroy(vb.context)
	}
}
