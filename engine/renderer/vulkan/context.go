package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

// VulkanContext is the state every backend component works against: the
// instance, the surface, the selected device with its queue and command pool,
// and the optional ray tracing entry points.
type VulkanContext struct {
	Instance  vk.Instance
	Allocator *vk.AllocationCallbacks
	Surface   vk.Surface

	debugMessenger vk.DebugReportCallback
	// getInstanceProcAddr comes from the window system and seeds the KHR loader.
	getInstanceProcAddr unsafe.Pointer

	Device    *VulkanDevice
	Swapchain *VulkanSwapchain

	khr   *khrTable
	locks *VulkanLockPool
}

// FindMemoryIndex returns the first memory type allowed by typeFilter that has
// every bit of propertyFlags.
func (vc *VulkanContext) FindMemoryIndex(typeFilter, propertyFlags uint32) (uint32, error) {
	memoryProperties := vc.Device.Memory
	for i := uint32(0); i < memoryProperties.MemoryTypeCount; i++ {
		memoryProperties.MemoryTypes[i].Deref()
		if (typeFilter&(1<<i)) != 0 && (uint32(memoryProperties.MemoryTypes[i].PropertyFlags)&propertyFlags) == propertyFlags {
			return i, nil
		}
	}
	return 0, fmt.Errorf("memory type filter %#x with properties %#x: %w", typeFilter, propertyFlags, gpu.ErrNoMemoryType)
}

// allocate binds fresh memory matching reqs and properties. addressable memory
// carries the device address allocation flag.
func (vc *VulkanContext) allocate(reqs vk.MemoryRequirements, properties uint32, addressable bool) (vk.DeviceMemory, error) {
	index, err := vc.FindMemoryIndex(reqs.MemoryTypeBits, properties)
	if err != nil {
		return vk.NullDeviceMemory, err
	}
	info := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  reqs.Size,
		MemoryTypeIndex: index,
	}
	if addressable {
		if vc.khr == nil {
			return vk.NullDeviceMemory, fmt.Errorf("device address memory: %w", gpu.ErrNotSupported)
		}
		info.PNext = vc.khr.addressableAllocation()
	}
	var memory vk.DeviceMemory
	err = vc.locks.SafeCall(ResourceManagement, func() error {
		return resultError(vk.AllocateMemory(vc.Device.LogicalDevice, &info, vc.Allocator, &memory), "vkAllocateMemory")
	})
	if err != nil {
		return vk.NullDeviceMemory, err
	}
	return memory, nil
}
