package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

type VulkanImage struct {
	Handle    vk.Image
	Memory    vk.DeviceMemory
	Width     uint32
	Height    uint32
	Format    vk.Format
	MipLevels uint32
	// swapchain images are owned by the swapchain and never destroyed here.
	swapchain bool
}

// ImageCreate creates a 2D optimal tiling image and binds memory to it.
func ImageCreate(context *VulkanContext, desc *gpu.ImageDesc) (*VulkanImage, error) {
	mips := max(desc.MipLevels, 1)
	image := &VulkanImage{
		Width:     desc.Extent.Width,
		Height:    desc.Extent.Height,
		Format:    toFormat(desc.Format),
		MipLevels: mips,
	}
	info := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Extent: vk.Extent3D{
			Width:  desc.Extent.Width,
			Height: desc.Extent.Height,
			Depth:  1,
		},
		MipLevels:     mips,
		ArrayLayers:   1,
		Format:        image.Format,
		Tiling:        vk.ImageTilingOptimal,
		InitialLayout: vk.ImageLayoutUndefined,
		Usage:         toImageUsage(desc.Usage),
		Samples:       vk.SampleCount1Bit,
		SharingMode:   vk.SharingModeExclusive,
	}
	if err := resultError(vk.CreateImage(context.Device.LogicalDevice, &info, context.Allocator, &image.Handle), "vkCreateImage"); err != nil {
		core.LogError("image %q: %s", desc.Label, err)
		return nil, err
	}

	var reqs vk.MemoryRequirements
	vk.GetImageMemoryRequirements(context.Device.LogicalDevice, image.Handle, &reqs)
	reqs.Deref()

	properties := desc.Memory
	if properties == 0 {
		properties = gpu.MemoryDeviceLocal
	}
	memory, err := context.allocate(reqs, toMemoryProperty(properties), false)
	if err != nil {
		image.ImageDestroy(context)
		return nil, fmt.Errorf("image %q: %w", desc.Label, err)
	}
	image.Memory = memory
	if err := resultError(vk.BindImageMemory(context.Device.LogicalDevice, image.Handle, image.Memory, 0), "vkBindImageMemory"); err != nil {
		image.ImageDestroy(context)
		return nil, err
	}
	return image, nil
}

func (vi *VulkanImage) ImageDestroy(context *VulkanContext) {
	if vi.swapchain {
		return
	}
	if vi.Memory != vk.NullDeviceMemory {
		vk.FreeMemory(context.Device.LogicalDevice, vi.Memory, context.Allocator)
		vi.Memory = vk.NullDeviceMemory
	}
	if vi.Handle != vk.NullImage {
		vk.DestroyImage(context.Device.LogicalDevice, vi.Handle, context.Allocator)
		vi.Handle = vk.NullImage
	}
}

func imageViewCreate(context *VulkanContext, image vk.Image, format vk.Format, aspect vk.ImageAspectFlags, mips uint32) (vk.ImageView, error) {
	viewInfo := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    image,
		ViewType: vk.ImageViewType2d,
		Format:   format,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:     aspect,
			BaseMipLevel:   0,
			LevelCount:     max(mips, 1),
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
	}
	var view vk.ImageView
	if err := resultError(vk.CreateImageView(context.Device.LogicalDevice, &viewInfo, context.Allocator, &view), "vkCreateImageView"); err != nil {
		return vk.NullImageView, err
	}
	return view, nil
}

func (vb *VulkanBackend) CreateImage(desc *gpu.ImageDesc) (gpu.ImageID, error) {
	if desc.Extent.Empty() {
		return gpu.InvalidID, fmt.Errorf("image %q: extent %dx%d is empty", desc.Label, desc.Extent.Width, desc.Extent.Height)
	}
	image, err := ImageCreate(vb.context, desc)
	if err != nil {
		return gpu.InvalidID, err
	}
	return gpu.ImageID(vb.images.add(image)), nil
}

func (vb *VulkanBackend) DestroyImage(id gpu.ImageID) {
	if image, ok := vb.images.remove(uint64(id)); ok {
		image.ImageDestroy(vb.context)
	}
}

func (vb *VulkanBackend) CreateImageView(id gpu.ImageID, desc *gpu.ImageViewDesc) (gpu.ImageViewID, error) {
	image, err := vb.images.get(uint64(id))
	if err != nil {
		return gpu.InvalidID, err
	}
	format := image.Format
	if desc.Format != gpu.FormatUndefined {
		format = toFormat(desc.Format)
	}
	mips := desc.MipLevels
	if mips == 0 {
		mips = image.MipLevels
	}
	view, err := imageViewCreate(vb.context, image.Handle, format, toAspect(desc.Aspect), mips)
	if err != nil {
		return gpu.InvalidID, err
	}
	return gpu.ImageViewID(vb.views.add(view)), nil
}

func (vb *VulkanBackend) DestroyImageView(id gpu.ImageViewID) {
	if view, ok := vb.views.remove(uint64(id)); ok {
		vk.DestroyImageView(vb.device(), view, vb.context.Allocator)
	}
}

func (vb *VulkanBackend) CreateSampler(desc *gpu.SamplerDesc) (gpu.SamplerID, error) {
	address := vk.SamplerAddressModeClampToEdge
	if desc.Repeat {
		address = vk.SamplerAddressModeRepeat
	}
	filter := toFilter(desc.Linear)
	mipmap := vk.SamplerMipmapModeNearest
	if desc.Linear {
		mipmap = vk.SamplerMipmapModeLinear
	}
	info := vk.SamplerCreateInfo{
		SType:                   vk.StructureTypeSamplerCreateInfo,
		MagFilter:               filter,
		MinFilter:               filter,
		AddressModeU:            address,
		AddressModeV:            address,
		AddressModeW:            address,
		BorderColor:             vk.BorderColorIntOpaqueBlack,
		UnnormalizedCoordinates: vk.False,
		CompareEnable:           vk.False,
		CompareOp:               vk.CompareOpAlways,
		MipmapMode:              mipmap,
		MinLod:                  0,
		MaxLod:                  float32(max(desc.MipLevels, 1)),
	}
	if desc.MaxAnisotropy > 1 {
		info.AnisotropyEnable = vk.True
		info.MaxAnisotropy = min(desc.MaxAnisotropy, vb.context.Device.Properties.Limits.MaxSamplerAnisotropy)
	}
	var sampler vk.Sampler
	if err := resultError(vk.CreateSampler(vb.device(), &info, vb.context.Allocator, &sampler), "vkCreateSampler"); err != nil {
		return gpu.InvalidID, err
	}
	return gpu.SamplerID(vb.samplers.add(sampler)), nil
}

func (vb *VulkanBackend) DestroySampler(id gpu.SamplerID) {
	if sampler, ok := vb.samplers.remove(uint64(id)); ok {
		vk.DestroySampler(vb.device(), sampler, vb.context.Allocator)
	}
}

func (vb *VulkanBackend) DepthFormat() gpu.Format {
	return fromFormat(vb.context.Device.DepthFormat)
}
