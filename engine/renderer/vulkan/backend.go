package vulkan

import (
	"fmt"
	"runtime"
	"unsafe"

	"github.com/go-gl/glfw/v3.3/glfw"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

// Window is the part of the platform window the backend needs. *glfw.Window
// satisfies it.
type Window interface {
	CreateWindowSurface(instance interface{}, allocCallbacks unsafe.Pointer) (uintptr, error)
	GetRequiredInstanceExtensions() []string
	GetFramebufferSize() (int, int)
}

type Config struct {
	ApplicationName string
	// Validation enables the Khronos validation layer and the debug report callback.
	Validation bool
	// RayTracing requires the ray tracing pipeline and acceleration structure
	// extensions on the selected device.
	RayTracing bool
}

// VulkanBackend implements gpu.Device on top of a Vulkan instance, surface
// and logical device.
type VulkanBackend struct {
	window  Window
	config  Config
	context *VulkanContext

	buffers         *registry[*VulkanBuffer]
	images          *registry[*VulkanImage]
	views           *registry[vk.ImageView]
	samplers        *registry[vk.Sampler]
	fences          *registry[*VulkanFence]
	semaphores      *registry[vk.Semaphore]
	commandBuffers  *registry[*VulkanCommandBuffer]
	accels          *registry[*VulkanAccelerationStructure]
	setLayouts      *registry[vk.DescriptorSetLayout]
	descriptorPools *registry[*VulkanDescriptorPool]
	descriptorSets  *registry[vk.DescriptorSet]
	pipelineLayouts *registry[vk.PipelineLayout]
	pipelines       *registry[*VulkanPipeline]
	modules         *registry[vk.ShaderModule]
	renderPasses    *registry[*VulkanRenderpass]
	framebuffers    *registry[*VulkanFramebuffer]
}

var _ gpu.Device = (*VulkanBackend)(nil)

// New creates the instance, surface and device. The window system must be
// initialized already.
func New(window Window, cfg Config) (*VulkanBackend, error) {
	vb := &VulkanBackend{
		window: window,
		config: cfg,
		context: &VulkanContext{
			Device: &VulkanDevice{},
			locks:  NewVulkanLockPool(),
		},
		buffers:         newRegistry[*VulkanBuffer]("buffer"),
		images:          newRegistry[*VulkanImage]("image"),
		views:           newRegistry[vk.ImageView]("image view"),
		samplers:        newRegistry[vk.Sampler]("sampler"),
		fences:          newRegistry[*VulkanFence]("fence"),
		semaphores:      newRegistry[vk.Semaphore]("semaphore"),
		commandBuffers:  newRegistry[*VulkanCommandBuffer]("command buffer"),
		accels:          newRegistry[*VulkanAccelerationStructure]("acceleration structure"),
		setLayouts:      newRegistry[vk.DescriptorSetLayout]("descriptor set layout"),
		descriptorPools: newRegistry[*VulkanDescriptorPool]("descriptor pool"),
		descriptorSets:  newRegistry[vk.DescriptorSet]("descriptor set"),
		pipelineLayouts: newRegistry[vk.PipelineLayout]("pipeline layout"),
		pipelines:       newRegistry[*VulkanPipeline]("pipeline"),
		modules:         newRegistry[vk.ShaderModule]("shader module"),
		renderPasses:    newRegistry[*VulkanRenderpass]("render pass"),
		framebuffers:    newRegistry[*VulkanFramebuffer]("framebuffer"),
	}
	if err := vb.initialize(); err != nil {
		vb.Destroy()
		return nil, err
	}
	return vb, nil
}

func (vb *VulkanBackend) initialize() error {
	procAddr := glfw.GetVulkanGetInstanceProcAddress()
	if procAddr == nil {
		return fmt.Errorf("GetInstanceProcAddress is nil: %w", core.ErrInitialization)
	}
	vk.SetGetInstanceProcAddr(procAddr)
	vb.context.getInstanceProcAddr = procAddr

	if err := vk.Init(); err != nil {
		core.LogError("failed to initialize vk: %s", err)
		return err
	}

	if err := vb.createInstance(); err != nil {
		return err
	}

	if vb.config.Validation {
		core.LogDebug("Creating Vulkan debugger...")
		debugCreateInfo := vk.DebugReportCallbackCreateInfo{
			SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
			Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit | vk.DebugReportPerformanceWarningBit),
			PfnCallback: dbgCallbackFunc,
		}
		var dbg vk.DebugReportCallback
		if err := vk.Error(vk.CreateDebugReportCallback(vb.context.Instance, &debugCreateInfo, nil, &dbg)); err != nil {
			core.LogError("vk.CreateDebugReportCallback failed with %s", err)
			return err
		}
		vb.context.debugMessenger = dbg
		core.LogDebug("Vulkan debugger created.")
	}

	core.LogDebug("Creating Vulkan surface...")
	surface, err := vb.window.CreateWindowSurface(vb.context.Instance, nil)
	if err != nil {
		return fmt.Errorf("vulkan surface creation failed: %w", err)
	}
	vb.context.Surface = vk.SurfaceFromPointer(surface)
	core.LogDebug("Vulkan surface created.")

	if err := DeviceCreate(vb.context, vb.config.RayTracing); err != nil {
		return err
	}

	if vb.config.RayTracing {
		khr, err := loadKHR(vb.context.getInstanceProcAddr, vb.context.Instance, vb.context.Device.LogicalDevice)
		if err != nil {
			return err
		}
		vb.context.khr = khr
	}

	core.LogInfo("Vulkan renderer initialized successfully.")
	return nil
}

func (vb *VulkanBackend) createInstance() error {
	apiVersion := vk.MakeVersion(1, 0, 0)
	if vb.config.RayTracing {
		apiVersion = vk.MakeVersion(1, 2, 0)
	}
	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(apiVersion),
		ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
		PApplicationName:   VulkanSafeString(vb.config.ApplicationName),
		PEngineName:        VulkanSafeString("Lumen Engine"),
	}
	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: appInfo,
	}

	requiredExtensions := []string{"VK_KHR_surface"}
	requiredExtensions = append(requiredExtensions, vb.window.GetRequiredInstanceExtensions()...)
	if runtime.GOOS == "darwin" {
		requiredExtensions = append(requiredExtensions,
			"VK_KHR_portability_enumeration",
			"VK_KHR_get_physical_device_properties2",
		)
		// VK_INSTANCE_CREATE_ENUMERATE_PORTABILITY_BIT_KHR
		createInfo.Flags |= 1
	}

	var layers []string
	if vb.config.Validation {
		requiredExtensions = append(requiredExtensions, vk.ExtDebugReportExtensionName)
		layers = []string{"VK_LAYER_KHRONOS_validation"}
		if err := checkValidationLayers(layers); err != nil {
			return err
		}
	}
	core.Logger().Debug("instance extensions", "names", requiredExtensions)

	createInfo.EnabledExtensionCount = uint32(len(requiredExtensions))
	createInfo.PpEnabledExtensionNames = VulkanSafeStrings(requiredExtensions)
	createInfo.EnabledLayerCount = uint32(len(layers))
	createInfo.PpEnabledLayerNames = VulkanSafeStrings(layers)

	if err := resultError(vk.CreateInstance(&createInfo, vb.context.Allocator, &vb.context.Instance), "vkCreateInstance"); err != nil {
		core.LogError(err.Error())
		return err
	}
	if err := vk.InitInstance(vb.context.Instance); err != nil {
		core.LogError(err.Error())
		return err
	}
	core.LogInfo("Vulkan Instance created.")
	return nil
}

func checkValidationLayers(required []string) error {
	core.LogInfo("Validation layers enabled. Enumerating...")
	var count uint32
	if err := resultError(vk.EnumerateInstanceLayerProperties(&count, nil), "vkEnumerateInstanceLayerProperties"); err != nil {
		return err
	}
	available := make([]vk.LayerProperties, count)
	if err := resultError(vk.EnumerateInstanceLayerProperties(&count, available), "vkEnumerateInstanceLayerProperties"); err != nil {
		return err
	}
	names := make(map[string]bool, count)
	for i := range available {
		available[i].Deref()
		names[vk.ToString(available[i].LayerName[:])] = true
	}
	for _, layer := range required {
		if !names[layer] {
			return fmt.Errorf("required validation layer %s is missing: %w", layer, gpu.ErrNotSupported)
		}
	}
	core.LogInfo("All required validation layers are present.")
	return nil
}

// Destroy waits for the device and releases every object still registered,
// children before parents.
func (vb *VulkanBackend) Destroy() {
	ctx := vb.context
	if ctx.Device != nil && ctx.Device.LogicalDevice != nil {
		vk.DeviceWaitIdle(ctx.Device.LogicalDevice)

		vb.DestroySwapchain()
		dev := ctx.Device.LogicalDevice
		vb.framebuffers.drain(func(f *VulkanFramebuffer) { f.Destroy(ctx) })
		vb.renderPasses.drain(func(r *VulkanRenderpass) { r.Destroy(ctx) })
		vb.pipelines.drain(func(p *VulkanPipeline) { p.Destroy(ctx) })
		vb.pipelineLayouts.drain(func(l vk.PipelineLayout) { vk.DestroyPipelineLayout(dev, l, ctx.Allocator) })
		vb.modules.drain(func(m vk.ShaderModule) { vk.DestroyShaderModule(dev, m, ctx.Allocator) })
		vb.descriptorSets.drain(func(vk.DescriptorSet) {})
		vb.descriptorPools.drain(func(p *VulkanDescriptorPool) { p.Destroy(ctx) })
		vb.setLayouts.drain(func(l vk.DescriptorSetLayout) { vk.DestroyDescriptorSetLayout(dev, l, ctx.Allocator) })
		vb.accels.drain(func(a *VulkanAccelerationStructure) { a.Destroy(ctx) })
		vb.commandBuffers.drain(func(cb *VulkanCommandBuffer) { cb.Free(ctx, ctx.Device.GraphicsCommandPool) })
		vb.semaphores.drain(func(s vk.Semaphore) { vk.DestroySemaphore(dev, s, ctx.Allocator) })
		vb.fences.drain(func(f *VulkanFence) { f.FenceDestroy(ctx) })
		vb.samplers.drain(func(s vk.Sampler) { vk.DestroySampler(dev, s, ctx.Allocator) })
		vb.views.drain(func(v vk.ImageView) { vk.DestroyImageView(dev, v, ctx.Allocator) })
		vb.images.drain(func(img *VulkanImage) { img.ImageDestroy(ctx) })
		vb.buffers.drain(func(b *VulkanBuffer) { b.Destroy(ctx) })

		ctx.khr.release()
		ctx.khr = nil
		DeviceDestroy(ctx)
	}

	if ctx.Surface != vk.NullSurface {
		core.LogDebug("Destroying Vulkan surface...")
		vk.DestroySurface(ctx.Instance, ctx.Surface, ctx.Allocator)
		ctx.Surface = vk.NullSurface
	}
	if ctx.debugMessenger != vk.NullDebugReportCallback {
		core.LogDebug("Destroying Vulkan debugger...")
		vk.DestroyDebugReportCallback(ctx.Instance, ctx.debugMessenger, ctx.Allocator)
		ctx.debugMessenger = vk.NullDebugReportCallback
	}
	if ctx.Instance != nil {
		core.LogDebug("Destroying Vulkan instance...")
		vk.DestroyInstance(ctx.Instance, ctx.Allocator)
		ctx.Instance = nil
	}
}

func (vb *VulkanBackend) Capabilities() gpu.Capabilities {
	limits := vb.context.Device.Properties.Limits
	return gpu.Capabilities{
		RayTracing:       vb.context.khr != nil,
		MaxAnisotropy:    limits.MaxSamplerAnisotropy,
		MinUniformOffset: uint64(limits.MinUniformBufferOffsetAlignment),
	}
}

// RayTracingProperties is zero when ray tracing was not enabled.
func (vb *VulkanBackend) RayTracingProperties() gpu.RayTracingProperties {
	if vb.context.khr == nil {
		return gpu.RayTracingProperties{}
	}
	return vb.context.khr.rayTracingProperties(vb.context.Device.PhysicalDevice)
}

func (vb *VulkanBackend) device() vk.Device {
	return vb.context.Device.LogicalDevice
}

func dbgCallbackFunc(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType, object uint64, location uint64, messageCode int32, pLayerPrefix string, pMessage string, pUserData unsafe.Pointer) vk.Bool32 {
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		core.LogError("ERROR: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit) != 0:
		core.LogWarn("WARNING: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportPerformanceWarningBit) != 0:
		core.LogWarn("PERFORMANCE WARNING: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportDebugBit) != 0:
		core.LogDebug("DEBUG: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	default:
		core.LogInfo("INFORMATION: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	}
	return vk.Bool32(vk.False)
}
