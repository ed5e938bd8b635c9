package vulkan

import (
	"fmt"
	"math"
	"time"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

type VulkanSwapchain struct {
	ImageFormat vk.SurfaceFormat
	Handle      vk.Swapchain
	Extent      vk.Extent2D
	Images      []gpu.ImageID
	Views       []gpu.ImageViewID
}

type VulkanSwapchainSupportInfo struct {
	Capabilities vk.SurfaceCapabilities
	Formats      []vk.SurfaceFormat
	PresentModes []vk.PresentMode
}

func chooseSurfaceFormat(formats []vk.SurfaceFormat, preferred vk.Format) vk.SurfaceFormat {
	candidates := []vk.Format{preferred, vk.FormatB8g8r8a8Unorm}
	for _, want := range candidates {
		for _, format := range formats {
			if format.Format == want && format.ColorSpace == vk.ColorSpaceSrgbNonlinear {
				return format
			}
		}
	}
	return formats[0]
}

// choosePresentMode uses FIFO under vsync, otherwise mailbox when available.
func choosePresentMode(modes []vk.PresentMode, vsync bool) vk.PresentMode {
	if vsync {
		return vk.PresentModeFifo
	}
	for _, mode := range modes {
		if mode == vk.PresentModeMailbox {
			return mode
		}
	}
	return vk.PresentModeFifo
}

func chooseExtent(caps *vk.SurfaceCapabilities, requested gpu.Extent2D) vk.Extent2D {
	extent := vk.Extent2D{Width: requested.Width, Height: requested.Height}
	if caps.CurrentExtent.Width != math.MaxUint32 {
		extent = caps.CurrentExtent
	}
	// Clamp to the value allowed by the GPU.
	extent.Width = MathClamp(extent.Width, caps.MinImageExtent.Width, caps.MaxImageExtent.Width)
	extent.Height = MathClamp(extent.Height, caps.MinImageExtent.Height, caps.MaxImageExtent.Height)
	return extent
}

func chooseImageCount(caps *vk.SurfaceCapabilities) uint32 {
	imageCount := caps.MinImageCount + 1
	if caps.MaxImageCount > 0 && imageCount > caps.MaxImageCount {
		imageCount = caps.MaxImageCount
	}
	return imageCount
}

// swapchainSharing shares images concurrently between two distinct graphics
// and present families.
func swapchainSharing(families queueFamilies) (vk.SharingMode, []uint32) {
	if families.shared() {
		return vk.SharingModeExclusive, nil
	}
	return vk.SharingModeConcurrent, families.unique()
}

func (vb *VulkanBackend) SurfaceExtent() gpu.Extent2D {
	w, h := vb.window.GetFramebufferSize()
	return gpu.Extent2D{Width: uint32(max(w, 0)), Height: uint32(max(h, 0))}
}

// CreateSwapchain replaces any existing swapchain.
func (vb *VulkanBackend) CreateSwapchain(desc *gpu.SwapchainDesc) (*gpu.SwapchainImages, error) {
	if desc.Extent.Empty() {
		return nil, fmt.Errorf("swapchain extent %dx%d is empty", desc.Extent.Width, desc.Extent.Height)
	}
	vb.DestroySwapchain()

	var out *gpu.SwapchainImages
	err := vb.context.locks.SafeCall(SwapchainManagement, func() error {
		var err error
		out, err = vb.createSwapchain(desc)
		return err
	})
	return out, err
}

func (vb *VulkanBackend) createSwapchain(desc *gpu.SwapchainDesc) (*gpu.SwapchainImages, error) {
	ctx := vb.context
	support := &ctx.Device.SwapchainSupport
	if err := DeviceQuerySwapchainSupport(ctx.Device.PhysicalDevice, ctx.Surface, support); err != nil {
		return nil, err
	}
	if len(support.Formats) == 0 {
		return nil, fmt.Errorf("surface reports no formats: %w", gpu.ErrNotSupported)
	}
	caps := &support.Capabilities

	swapchain := &VulkanSwapchain{
		ImageFormat: chooseSurfaceFormat(support.Formats, toFormat(desc.PreferredFormat)),
		Extent:      chooseExtent(caps, desc.Extent),
	}
	usage := toImageUsage(desc.Usage) | vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit)
	sharing, familyIndices := swapchainSharing(ctx.Device.QueueFamilies)

	swapchainCreateInfo := vk.SwapchainCreateInfo{
		SType:                 vk.StructureTypeSwapchainCreateInfo,
		Surface:               ctx.Surface,
		MinImageCount:         chooseImageCount(caps),
		ImageFormat:           swapchain.ImageFormat.Format,
		ImageColorSpace:       swapchain.ImageFormat.ColorSpace,
		ImageExtent:           swapchain.Extent,
		ImageArrayLayers:      1,
		ImageUsage:            usage,
		ImageSharingMode:      sharing,
		QueueFamilyIndexCount: uint32(len(familyIndices)),
		PQueueFamilyIndices:   familyIndices,
		PreTransform:          caps.CurrentTransform,
		CompositeAlpha:        vk.CompositeAlphaOpaqueBit,
		PresentMode:           choosePresentMode(support.PresentModes, desc.VSync),
		Clipped:               vk.True,
		OldSwapchain:          vk.NullSwapchain,
	}

	if err := resultError(vk.CreateSwapchain(ctx.Device.LogicalDevice, &swapchainCreateInfo, ctx.Allocator, &swapchain.Handle), "vkCreateSwapchainKHR"); err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	ctx.Swapchain = swapchain

	var imageCount uint32
	if err := resultError(vk.GetSwapchainImages(ctx.Device.LogicalDevice, swapchain.Handle, &imageCount, nil), "vkGetSwapchainImagesKHR"); err != nil {
		vb.destroySwapchain()
		return nil, err
	}
	handles := make([]vk.Image, imageCount)
	if err := resultError(vk.GetSwapchainImages(ctx.Device.LogicalDevice, swapchain.Handle, &imageCount, handles), "vkGetSwapchainImagesKHR"); err != nil {
		vb.destroySwapchain()
		return nil, err
	}

	for _, handle := range handles {
		image := &VulkanImage{
			Handle:    handle,
			Width:     swapchain.Extent.Width,
			Height:    swapchain.Extent.Height,
			Format:    swapchain.ImageFormat.Format,
			MipLevels: 1,
			swapchain: true,
		}
		swapchain.Images = append(swapchain.Images, gpu.ImageID(vb.images.add(image)))

		view, err := imageViewCreate(ctx, handle, swapchain.ImageFormat.Format, vk.ImageAspectFlags(vk.ImageAspectColorBit), 1)
		if err != nil {
			core.LogError(err.Error())
			vb.destroySwapchain()
			return nil, err
		}
		swapchain.Views = append(swapchain.Views, gpu.ImageViewID(vb.views.add(view)))
	}

	core.Logger().Info("swapchain created",
		"images", imageCount,
		"width", swapchain.Extent.Width,
		"height", swapchain.Extent.Height,
		"mode", swapchainCreateInfo.PresentMode)

	return &gpu.SwapchainImages{
		Format: fromFormat(swapchain.ImageFormat.Format),
		Extent: gpu.Extent2D{Width: swapchain.Extent.Width, Height: swapchain.Extent.Height},
		Images: append([]gpu.ImageID(nil), swapchain.Images...),
		Views:  append([]gpu.ImageViewID(nil), swapchain.Views...),
	}, nil
}

func (vb *VulkanBackend) DestroySwapchain() {
	_ = vb.context.locks.SafeCall(SwapchainManagement, func() error {
		vb.destroySwapchain()
		return nil
	})
}

func (vb *VulkanBackend) destroySwapchain() {
	ctx := vb.context
	swapchain := ctx.Swapchain
	if swapchain == nil {
		return
	}
	vk.DeviceWaitIdle(ctx.Device.LogicalDevice)

	// Only destroy the views, not the images, since those are owned by the
	// swapchain and are thus destroyed when it is.
	for _, id := range swapchain.Views {
		if view, ok := vb.views.remove(uint64(id)); ok {
			vk.DestroyImageView(ctx.Device.LogicalDevice, view, ctx.Allocator)
		}
	}
	for _, id := range swapchain.Images {
		vb.images.remove(uint64(id))
	}
	if swapchain.Handle != vk.NullSwapchain {
		vk.DestroySwapchain(ctx.Device.LogicalDevice, swapchain.Handle, ctx.Allocator)
	}
	ctx.Swapchain = nil
}

func (vb *VulkanBackend) AcquireNextImage(signal gpu.SemaphoreID, timeout time.Duration) (uint32, error) {
	swapchain := vb.context.Swapchain
	if swapchain == nil {
		return 0, fmt.Errorf("acquire without a swapchain: %w", gpu.ErrOutOfDate)
	}
	semaphore, err := vb.semaphores.get(uint64(signal))
	if err != nil {
		return 0, err
	}
	var index uint32
	result := vk.AcquireNextImage(vb.device(), swapchain.Handle, uint64(max(timeout, 0)), semaphore, vk.NullFence, &index)
	switch result {
	case vk.Success:
		return index, nil
	case vk.Suboptimal:
		// The semaphore is signaled and the image can be rendered to.
		return index, resultError(result, "vkAcquireNextImageKHR")
	}
	return 0, resultError(result, "vkAcquireNextImageKHR")
}

func (vb *VulkanBackend) Present(imageIndex uint32, wait gpu.SemaphoreID) error {
	swapchain := vb.context.Swapchain
	if swapchain == nil {
		return fmt.Errorf("present without a swapchain: %w", gpu.ErrOutOfDate)
	}
	semaphore, err := vb.semaphores.get(uint64(wait))
	if err != nil {
		return err
	}
	presentInfo := vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    []vk.Semaphore{semaphore},
		SwapchainCount:     1,
		PSwapchains:        []vk.Swapchain{swapchain.Handle},
		PImageIndices:      []uint32{imageIndex},
	}
	return resultError(vk.QueuePresent(vb.context.Device.PresentQueue, &presentInfo), "vkQueuePresentKHR")
}
