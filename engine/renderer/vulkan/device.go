package vulkan

import (
	"fmt"
	"runtime"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/core"
)

type VulkanDevice struct {
	PhysicalDevice   vk.PhysicalDevice
	LogicalDevice    vk.Device
	SwapchainSupport VulkanSwapchainSupportInfo
	QueueFamilies queueFamilies
	// Queue takes graphics, compute and transfer work.
	Queue        vk.Queue
	PresentQueue vk.Queue

	GraphicsCommandPool vk.CommandPool

	Properties vk.PhysicalDeviceProperties
	Features   vk.PhysicalDeviceFeatures
	Memory     vk.PhysicalDeviceMemoryProperties

	DepthFormat vk.Format
	// RayTracing is set when the ray tracing extensions and features were enabled.
	RayTracing bool
}

type VulkanPhysicalDeviceRequirements struct {
	Graphics             bool
	Present              bool
	DeviceExtensionNames []string
	SamplerAnisotropy    bool
	DiscreteGPU          bool
}

func deviceRequirements(rayTracing bool) *VulkanPhysicalDeviceRequirements {
	req := &VulkanPhysicalDeviceRequirements{
		Graphics:             true,
		Present:              true,
		SamplerAnisotropy:    true,
		DeviceExtensionNames: []string{vk.KhrSwapchainExtensionName},
	}
	if rayTracing {
		req.DeviceExtensionNames = append(req.DeviceExtensionNames, rayTracingExtensions...)
	}
	return req
}

// DeviceCreate selects a physical device and creates the logical device, its
// queue and the graphics command pool.
func DeviceCreate(context *VulkanContext, rayTracing bool) error {
	requirements := deviceRequirements(rayTracing)
	if err := SelectPhysicalDevice(context, requirements); err != nil {
		return err
	}

	core.LogInfo("Creating logical device...")

	families := context.Device.QueueFamilies
	var queueCreateInfos []vk.DeviceQueueCreateInfo
	for _, index := range families.unique() {
		queueCreateInfos = append(queueCreateInfos, vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: index,
			QueueCount:       1,
			PQueuePriorities: []float32{1.0},
		})
	}

	deviceFeatures := vk.PhysicalDeviceFeatures{
		SamplerAnisotropy: vk.True,
	}

	extensionNames := append([]string(nil), requirements.DeviceExtensionNames...)
	available, err := deviceExtensions(context.Device.PhysicalDevice)
	if err != nil {
		return err
	}
	if available["VK_KHR_portability_subset"] {
		core.LogInfo("Adding required extension 'VK_KHR_portability_subset'.")
		extensionNames = append(extensionNames, "VK_KHR_portability_subset")
	}

	deviceCreateInfo := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueCreateInfos)),
		PQueueCreateInfos:       queueCreateInfos,
		PEnabledFeatures:        []vk.PhysicalDeviceFeatures{deviceFeatures},
		EnabledExtensionCount:   uint32(len(extensionNames)),
		PpEnabledExtensionNames: VulkanSafeStrings(extensionNames),
	}
	if rayTracing {
		chain := newFeatureChain()
		defer freeFeatureChain(chain)
		deviceCreateInfo.PNext = chain
	}

	if err := resultError(vk.CreateDevice(
		context.Device.PhysicalDevice,
		&deviceCreateInfo,
		context.Allocator,
		&context.Device.LogicalDevice), "vkCreateDevice"); err != nil {
		core.LogError(err.Error())
		return err
	}
	context.Device.RayTracing = rayTracing
	core.LogInfo("Logical device created.")

	vk.GetDeviceQueue(context.Device.LogicalDevice, families.Graphics, 0, &context.Device.Queue)
	vk.GetDeviceQueue(context.Device.LogicalDevice, families.Present, 0, &context.Device.PresentQueue)
	core.LogInfo("Queues obtained.")

	poolCreateInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: families.Graphics,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}
	if err := resultError(vk.CreateCommandPool(
		context.Device.LogicalDevice,
		&poolCreateInfo,
		context.Allocator,
		&context.Device.GraphicsCommandPool), "vkCreateCommandPool"); err != nil {
		core.LogError(err.Error())
		return err
	}
	core.LogInfo("Graphics command pool created.")

	if !DeviceDetectDepthFormat(context.Device) {
		core.LogWarn("No depth format supports depth attachments.")
	}
	return nil
}

func DeviceDestroy(context *VulkanContext) {
	context.Device.Queue = nil
	context.Device.PresentQueue = nil

	core.LogInfo("Destroying command pools...")
	if context.Device.GraphicsCommandPool != vk.NullCommandPool {
		vk.DestroyCommandPool(context.Device.LogicalDevice, context.Device.GraphicsCommandPool, context.Allocator)
		context.Device.GraphicsCommandPool = vk.NullCommandPool
	}

	core.LogInfo("Destroying logical device...")
	if context.Device.LogicalDevice != nil {
		vk.DestroyDevice(context.Device.LogicalDevice, context.Allocator)
		context.Device.LogicalDevice = nil
	}

	// Physical devices are not destroyed.
	context.Device.PhysicalDevice = nil
	context.Device.SwapchainSupport = VulkanSwapchainSupportInfo{}
}

func deviceExtensions(device vk.PhysicalDevice) (map[string]bool, error) {
	var count uint32
	if err := resultError(vk.EnumerateDeviceExtensionProperties(device, "", &count, nil), "vkEnumerateDeviceExtensionProperties"); err != nil {
		return nil, err
	}
	props := make([]vk.ExtensionProperties, count)
	if count > 0 {
		if err := resultError(vk.EnumerateDeviceExtensionProperties(device, "", &count, props), "vkEnumerateDeviceExtensionProperties"); err != nil {
			return nil, err
		}
	}
	out := make(map[string]bool, count)
	for i := range props {
		props[i].Deref()
		out[vk.ToString(props[i].ExtensionName[:])] = true
	}
	return out, nil
}

// DeviceQuerySwapchainSupport fills supportInfo with the surface capabilities,
// formats and present modes of physicalDevice.
func DeviceQuerySwapchainSupport(physicalDevice vk.PhysicalDevice, surface vk.Surface, supportInfo *VulkanSwapchainSupportInfo) error {
	if err := resultError(vk.GetPhysicalDeviceSurfaceCapabilities(physicalDevice, surface, &supportInfo.Capabilities), "vkGetPhysicalDeviceSurfaceCapabilitiesKHR"); err != nil {
		return err
	}
	supportInfo.Capabilities.Deref()
	supportInfo.Capabilities.CurrentExtent.Deref()
	supportInfo.Capabilities.MinImageExtent.Deref()
	supportInfo.Capabilities.MaxImageExtent.Deref()

	var formatCount uint32
	if err := resultError(vk.GetPhysicalDeviceSurfaceFormats(physicalDevice, surface, &formatCount, nil), "vkGetPhysicalDeviceSurfaceFormatsKHR"); err != nil {
		return err
	}
	supportInfo.Formats = make([]vk.SurfaceFormat, formatCount)
	if formatCount != 0 {
		if err := resultError(vk.GetPhysicalDeviceSurfaceFormats(physicalDevice, surface, &formatCount, supportInfo.Formats), "vkGetPhysicalDeviceSurfaceFormatsKHR"); err != nil {
			return err
		}
		for i := range supportInfo.Formats {
			supportInfo.Formats[i].Deref()
		}
	}

	var modeCount uint32
	if err := resultError(vk.GetPhysicalDeviceSurfacePresentModes(physicalDevice, surface, &modeCount, nil), "vkGetPhysicalDeviceSurfacePresentModesKHR"); err != nil {
		return err
	}
	supportInfo.PresentModes = make([]vk.PresentMode, modeCount)
	if modeCount != 0 {
		if err := resultError(vk.GetPhysicalDeviceSurfacePresentModes(physicalDevice, surface, &modeCount, supportInfo.PresentModes), "vkGetPhysicalDeviceSurfacePresentModesKHR"); err != nil {
			return err
		}
	}
	return nil
}

func DeviceDetectDepthFormat(device *VulkanDevice) bool {
	candidates := []vk.Format{
		vk.FormatD32Sfloat,
		vk.FormatD32SfloatS8Uint,
		vk.FormatD24UnormS8Uint,
	}
	flags := vk.FormatFeatureFlags(vk.FormatFeatureDepthStencilAttachmentBit)
	for _, candidate := range candidates {
		var properties vk.FormatProperties
		vk.GetPhysicalDeviceFormatProperties(device.PhysicalDevice, candidate, &properties)
		properties.Deref()
		if properties.LinearTilingFeatures&flags == flags || properties.OptimalTilingFeatures&flags == flags {
			device.DepthFormat = candidate
			return true
		}
	}
	device.DepthFormat = vk.FormatUndefined
	return false
}

func SelectPhysicalDevice(context *VulkanContext, requirements *VulkanPhysicalDeviceRequirements) error {
	var physicalDeviceCount uint32
	if err := resultError(vk.EnumeratePhysicalDevices(context.Instance, &physicalDeviceCount, nil), "vkEnumeratePhysicalDevices"); err != nil {
		return err
	}
	if physicalDeviceCount == 0 {
		err := fmt.Errorf("no devices which support Vulkan were found: %w", core.ErrInitialization)
		core.LogError(err.Error())
		return err
	}
	physicalDevices := make([]vk.PhysicalDevice, physicalDeviceCount)
	if err := resultError(vk.EnumeratePhysicalDevices(context.Instance, &physicalDeviceCount, physicalDevices), "vkEnumeratePhysicalDevices"); err != nil {
		return err
	}

	// Discrete GPUs are preferred, any other type is accepted as a fallback.
	for _, discrete := range []bool{runtime.GOOS != "darwin", false} {
		requirements.DiscreteGPU = discrete
		for _, pd := range physicalDevices {
			var properties vk.PhysicalDeviceProperties
			vk.GetPhysicalDeviceProperties(pd, &properties)
			properties.Deref()
			properties.Limits.Deref()

			var features vk.PhysicalDeviceFeatures
			vk.GetPhysicalDeviceFeatures(pd, &features)
			features.Deref()

			var memory vk.PhysicalDeviceMemoryProperties
			vk.GetPhysicalDeviceMemoryProperties(pd, &memory)
			memory.Deref()

			families, ok := PhysicalDeviceMeetsRequirements(pd, context.Surface, &properties, &features, requirements, &context.Device.SwapchainSupport)
			if !ok {
				continue
			}
			logDevice(&properties, &memory)
			context.Device.PhysicalDevice = pd
			context.Device.QueueFamilies = families
			context.Device.Properties = properties
			context.Device.Features = features
			context.Device.Memory = memory
			core.LogInfo("Physical device selected.")
			return nil
		}
	}

	err := fmt.Errorf("no physical devices were found which meet the requirements: %w", core.ErrInitialization)
	core.LogError(err.Error())
	return err
}

func logDevice(properties *vk.PhysicalDeviceProperties, memory *vk.PhysicalDeviceMemoryProperties) {
	name := vk.ToString(properties.DeviceName[:])
	kind := "Unknown"
	switch properties.DeviceType {
	case vk.PhysicalDeviceTypeIntegratedGpu:
		kind = "Integrated"
	case vk.PhysicalDeviceTypeDiscreteGpu:
		kind = "Discrete"
	case vk.PhysicalDeviceTypeVirtualGpu:
		kind = "Virtual"
	case vk.PhysicalDeviceTypeCpu:
		kind = "CPU"
	}
	core.Logger().Info("selected device",
		"name", name,
		"type", kind,
		"driver", versionString(properties.DriverVersion),
		"api", versionString(properties.ApiVersion))

	for j := uint32(0); j < memory.MemoryHeapCount; j++ {
		memory.MemoryHeaps[j].Deref()
		gib := float64(memory.MemoryHeaps[j].Size) / 1024.0 / 1024.0 / 1024.0
		if vk.MemoryHeapFlagBits(memory.MemoryHeaps[j].Flags)&vk.MemoryHeapDeviceLocalBit != 0 {
			core.LogInfo("Local GPU memory: %.2f GiB", gib)
		} else {
			core.LogInfo("Shared System memory: %.2f GiB", gib)
		}
	}
}

func versionString(v uint32) string {
	return fmt.Sprintf("%d.%d.%d", v>>22, (v>>12)&0x3ff, v&0xfff)
}

// queueFamilies holds the families of the graphics and present queues.
type queueFamilies struct {
	Graphics uint32
	Present  uint32
}

func (q queueFamilies) shared() bool {
	return q.Graphics == q.Present
}

// unique lists each family once.
func (q queueFamilies) unique() []uint32 {
	if q.shared() {
		return []uint32{q.Graphics}
	}
	return []uint32{q.Graphics, q.Present}
}

// pickQueueFamilies prefers one family that supports both graphics and
// present, and falls back to the first family of each kind.
func pickQueueFamilies(graphics, present []bool) (queueFamilies, bool) {
	g, p := -1, -1
	for i := range graphics {
		if graphics[i] && present[i] {
			return queueFamilies{Graphics: uint32(i), Present: uint32(i)}, true
		}
		if graphics[i] && g < 0 {
			g = i
		}
		if present[i] && p < 0 {
			p = i
		}
	}
	if g < 0 || p < 0 {
		return queueFamilies{}, false
	}
	return queueFamilies{Graphics: uint32(g), Present: uint32(p)}, true
}

// PhysicalDeviceMeetsRequirements returns the graphics and present queue
// families, if the device meets every requirement.
func PhysicalDeviceMeetsRequirements(device vk.PhysicalDevice, surface vk.Surface, properties *vk.PhysicalDeviceProperties, features *vk.PhysicalDeviceFeatures, requirements *VulkanPhysicalDeviceRequirements, outSwapchainSupport *VulkanSwapchainSupportInfo) (queueFamilies, bool) {
	name := vk.ToString(properties.DeviceName[:])
	if requirements.DiscreteGPU && properties.DeviceType != vk.PhysicalDeviceTypeDiscreteGpu {
		core.LogDebug("Device %s is not a discrete GPU, and one is required. Skipping.", name)
		return queueFamilies{}, false
	}

	var queueFamilyCount uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &queueFamilyCount, nil)
	familyProps := make([]vk.QueueFamilyProperties, queueFamilyCount)
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &queueFamilyCount, familyProps)

	core.LogDebug("Graphics | Present | Family | Name")
	graphics := make([]bool, len(familyProps))
	present := make([]bool, len(familyProps))
	for i := range familyProps {
		familyProps[i].Deref()
		graphics[i] = vk.QueueFlagBits(familyProps[i].QueueFlags)&vk.QueueGraphicsBit != 0

		var supportsPresent vk.Bool32
		if res := vk.GetPhysicalDeviceSurfaceSupport(device, uint32(i), surface, &supportsPresent); res != vk.Success {
			return queueFamilies{}, false
		}
		present[i] = supportsPresent == vk.True
		core.LogDebug("   %5t |   %5t | %6d | %s", graphics[i], present[i], i, name)

		graphics[i] = graphics[i] || !requirements.Graphics
		present[i] = present[i] || !requirements.Present
	}
	families, found := pickQueueFamilies(graphics, present)
	if !found {
		core.LogDebug("Device %s has no graphics and present queues, skipping.", name)
		return queueFamilies{}, false
	}

	if err := DeviceQuerySwapchainSupport(device, surface, outSwapchainSupport); err != nil {
		core.LogDebug("Swapchain support query failed for %s: %s", name, err)
		return queueFamilies{}, false
	}
	if len(outSwapchainSupport.Formats) < 1 || len(outSwapchainSupport.PresentModes) < 1 {
		core.LogDebug("Required swapchain support not present, skipping device.")
		return queueFamilies{}, false
	}

	available, err := deviceExtensions(device)
	if err != nil {
		return queueFamilies{}, false
	}
	for _, ext := range requirements.DeviceExtensionNames {
		if !available[ext] {
			core.LogInfo("Required extension not found: '%s', skipping device.", ext)
			return queueFamilies{}, false
		}
	}

	if requirements.SamplerAnisotropy && features.SamplerAnisotropy == vk.False {
		core.LogInfo("Device does not support samplerAnisotropy, skipping.")
		return queueFamilies{}, false
	}
	return families, true
}
