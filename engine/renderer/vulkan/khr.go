package vulkan

/*
#cgo CFLAGS: -DVK_NO_PROTOTYPES
#cgo darwin CFLAGS: -I/usr/local/include

#include <stdlib.h>
#include <string.h>
#include <vulkan/vulkan.h>

// lumenKHR holds the extension entry points the bindings do not expose.
typedef struct lumenKHR {
	PFN_vkGetPhysicalDeviceProperties2 getProperties2;
	PFN_vkGetBufferDeviceAddressKHR getBufferDeviceAddress;
	PFN_vkGetAccelerationStructureBuildSizesKHR getBuildSizes;
	PFN_vkCreateAccelerationStructureKHR createAccelerationStructure;
	PFN_vkDestroyAccelerationStructureKHR destroyAccelerationStructure;
	PFN_vkGetAccelerationStructureDeviceAddressKHR getAccelerationStructureAddress;
	PFN_vkCmdBuildAccelerationStructuresKHR cmdBuildAccelerationStructures;
	PFN_vkCreateRayTracingPipelinesKHR createRayTracingPipelines;
	PFN_vkGetRayTracingShaderGroupHandlesKHR getShaderGroupHandles;
	PFN_vkCmdTraceRaysKHR cmdTraceRays;
	PFN_vkUpdateDescriptorSets updateDescriptorSets;
	VkMemoryAllocateFlagsInfo addressableMemory;
} lumenKHR;

// lumenFeatures is the feature chain requested at device creation.
typedef struct lumenFeatures {
	VkPhysicalDeviceBufferDeviceAddressFeatures address;
	VkPhysicalDeviceAccelerationStructureFeaturesKHR accel;
	VkPhysicalDeviceRayTracingPipelineFeaturesKHR pipeline;
} lumenFeatures;

static lumenFeatures* lumenNewFeatures(void) {
	lumenFeatures* f = calloc(1, sizeof(lumenFeatures));
	f->address.sType = VK_STRUCTURE_TYPE_PHYSICAL_DEVICE_BUFFER_DEVICE_ADDRESS_FEATURES;
	f->address.bufferDeviceAddress = VK_TRUE;
	f->address.pNext = &f->accel;
	f->accel.sType = VK_STRUCTURE_TYPE_PHYSICAL_DEVICE_ACCELERATION_STRUCTURE_FEATURES_KHR;
	f->accel.accelerationStructure = VK_TRUE;
	f->accel.pNext = &f->pipeline;
	f->pipeline.sType = VK_STRUCTURE_TYPE_PHYSICAL_DEVICE_RAY_TRACING_PIPELINE_FEATURES_KHR;
	f->pipeline.rayTracingPipeline = VK_TRUE;
	return f;
}

static lumenKHR* lumenLoad(PFN_vkGetInstanceProcAddr gipa, VkInstance instance, VkDevice device) {
	PFN_vkGetDeviceProcAddr gdpa = (PFN_vkGetDeviceProcAddr)gipa(instance, "vkGetDeviceProcAddr");
	if (gdpa == NULL) {
		return NULL;
	}
	lumenKHR* k = calloc(1, sizeof(lumenKHR));
	k->getProperties2 = (PFN_vkGetPhysicalDeviceProperties2)gipa(instance, "vkGetPhysicalDeviceProperties2");
	k->getBufferDeviceAddress = (PFN_vkGetBufferDeviceAddressKHR)gdpa(device, "vkGetBufferDeviceAddressKHR");
	k->getBuildSizes = (PFN_vkGetAccelerationStructureBuildSizesKHR)gdpa(device, "vkGetAccelerationStructureBuildSizesKHR");
	k->createAccelerationStructure = (PFN_vkCreateAccelerationStructureKHR)gdpa(device, "vkCreateAccelerationStructureKHR");
	k->destroyAccelerationStructure = (PFN_vkDestroyAccelerationStructureKHR)gdpa(device, "vkDestroyAccelerationStructureKHR");
	k->getAccelerationStructureAddress = (PFN_vkGetAccelerationStructureDeviceAddressKHR)gdpa(device, "vkGetAccelerationStructureDeviceAddressKHR");
	k->cmdBuildAccelerationStructures = (PFN_vkCmdBuildAccelerationStructuresKHR)gdpa(device, "vkCmdBuildAccelerationStructuresKHR");
	k->createRayTracingPipelines = (PFN_vkCreateRayTracingPipelinesKHR)gdpa(device, "vkCreateRayTracingPipelinesKHR");
	k->getShaderGroupHandles = (PFN_vkGetRayTracingShaderGroupHandlesKHR)gdpa(device, "vkGetRayTracingShaderGroupHandlesKHR");
	k->cmdTraceRays = (PFN_vkCmdTraceRaysKHR)gdpa(device, "vkCmdTraceRaysKHR");
	k->updateDescriptorSets = (PFN_vkUpdateDescriptorSets)gdpa(device, "vkUpdateDescriptorSets");
	k->addressableMemory.sType = VK_STRUCTURE_TYPE_MEMORY_ALLOCATE_FLAGS_INFO;
	k->addressableMemory.flags = VK_MEMORY_ALLOCATE_DEVICE_ADDRESS_BIT;
	if (!k->getProperties2 || !k->getBufferDeviceAddress || !k->getBuildSizes ||
		!k->createAccelerationStructure || !k->destroyAccelerationStructure ||
		!k->getAccelerationStructureAddress || !k->cmdBuildAccelerationStructures ||
		!k->createRayTracingPipelines || !k->getShaderGroupHandles || !k->cmdTraceRays ||
		!k->updateDescriptorSets) {
		free(k);
		return NULL;
	}
	return k;
}

static void lumenRayTracingProperties(lumenKHR* k, VkPhysicalDevice pd, uint32_t out[4]) {
	VkPhysicalDeviceRayTracingPipelinePropertiesKHR rt;
	memset(&rt, 0, sizeof(rt));
	rt.sType = VK_STRUCTURE_TYPE_PHYSICAL_DEVICE_RAY_TRACING_PIPELINE_PROPERTIES_KHR;
	VkPhysicalDeviceProperties2 props;
	memset(&props, 0, sizeof(props));
	props.sType = VK_STRUCTURE_TYPE_PHYSICAL_DEVICE_PROPERTIES_2;
	props.pNext = &rt;
	k->getProperties2(pd, &props);
	out[0] = rt.shaderGroupHandleSize;
	out[1] = rt.shaderGroupHandleAlignment;
	out[2] = rt.shaderGroupBaseAlignment;
	out[3] = rt.maxRayRecursionDepth;
}

static uint32_t lumenScratchAlignment(lumenKHR* k, VkPhysicalDevice pd) {
	VkPhysicalDeviceAccelerationStructurePropertiesKHR as;
	memset(&as, 0, sizeof(as));
	as.sType = VK_STRUCTURE_TYPE_PHYSICAL_DEVICE_ACCELERATION_STRUCTURE_PROPERTIES_KHR;
	VkPhysicalDeviceProperties2 props;
	memset(&props, 0, sizeof(props));
	props.sType = VK_STRUCTURE_TYPE_PHYSICAL_DEVICE_PROPERTIES_2;
	props.pNext = &as;
	k->getProperties2(pd, &props);
	return as.minAccelerationStructureScratchOffsetAlignment;
}

static VkDeviceAddress lumenBufferAddress(lumenKHR* k, VkDevice device, VkBuffer buffer) {
	VkBufferDeviceAddressInfo info;
	memset(&info, 0, sizeof(info));
	info.sType = VK_STRUCTURE_TYPE_BUFFER_DEVICE_ADDRESS_INFO;
	info.buffer = buffer;
	return k->getBufferDeviceAddress(device, &info);
}

typedef struct lumenBuild {
	uint32_t top;
	VkBuildAccelerationStructureFlagsKHR flags;
	VkGeometryFlagsKHR geometryFlags;
	VkDeviceAddress vertexData;
	VkFormat vertexFormat;
	VkDeviceSize vertexStride;
	uint32_t maxVertex;
	VkDeviceAddress indexData;
	VkIndexType indexType;
	VkDeviceAddress instanceData;
	VkAccelerationStructureKHR dst;
	VkDeviceAddress scratch;
} lumenBuild;

static void lumenFillBuild(const lumenBuild* b, VkAccelerationStructureGeometryKHR* g, VkAccelerationStructureBuildGeometryInfoKHR* info) {
	memset(g, 0, sizeof(*g));
	g->sType = VK_STRUCTURE_TYPE_ACCELERATION_STRUCTURE_GEOMETRY_KHR;
	g->flags = b->geometryFlags;
	if (b->top) {
		g->geometryType = VK_GEOMETRY_TYPE_INSTANCES_KHR;
		g->geometry.instances.sType = VK_STRUCTURE_TYPE_ACCELERATION_STRUCTURE_GEOMETRY_INSTANCES_DATA_KHR;
		g->geometry.instances.arrayOfPointers = VK_FALSE;
		g->geometry.instances.data.deviceAddress = b->instanceData;
	} else {
		g->geometryType = VK_GEOMETRY_TYPE_TRIANGLES_KHR;
		g->geometry.triangles.sType = VK_STRUCTURE_TYPE_ACCELERATION_STRUCTURE_GEOMETRY_TRIANGLES_DATA_KHR;
		g->geometry.triangles.vertexFormat = b->vertexFormat;
		g->geometry.triangles.vertexData.deviceAddress = b->vertexData;
		g->geometry.triangles.vertexStride = b->vertexStride;
		g->geometry.triangles.maxVertex = b->maxVertex;
		g->geometry.triangles.indexType = b->indexType;
		g->geometry.triangles.indexData.deviceAddress = b->indexData;
	}
	memset(info, 0, sizeof(*info));
	info->sType = VK_STRUCTURE_TYPE_ACCELERATION_STRUCTURE_BUILD_GEOMETRY_INFO_KHR;
	info->type = b->top ? VK_ACCELERATION_STRUCTURE_TYPE_TOP_LEVEL_KHR : VK_ACCELERATION_STRUCTURE_TYPE_BOTTOM_LEVEL_KHR;
	info->flags = b->flags;
	info->mode = VK_BUILD_ACCELERATION_STRUCTURE_MODE_BUILD_KHR;
	info->dstAccelerationStructure = b->dst;
	info->geometryCount = 1;
	info->pGeometries = g;
	info->scratchData.deviceAddress = b->scratch;
}

static void lumenBuildSizes(lumenKHR* k, VkDevice device, const lumenBuild* b, uint32_t primitives, VkDeviceSize out[2]) {
	VkAccelerationStructureGeometryKHR g;
	VkAccelerationStructureBuildGeometryInfoKHR info;
	lumenFillBuild(b, &g, &info);
	VkAccelerationStructureBuildSizesInfoKHR sizes;
	memset(&sizes, 0, sizeof(sizes));
	sizes.sType = VK_STRUCTURE_TYPE_ACCELERATION_STRUCTURE_BUILD_SIZES_INFO_KHR;
	k->getBuildSizes(device, VK_ACCELERATION_STRUCTURE_BUILD_TYPE_DEVICE_KHR, &info, &primitives, &sizes);
	out[0] = sizes.accelerationStructureSize;
	out[1] = sizes.buildScratchSize;
}

static void lumenCmdBuild(lumenKHR* k, VkCommandBuffer cb, const lumenBuild* b, uint32_t primitives) {
	VkAccelerationStructureGeometryKHR g;
	VkAccelerationStructureBuildGeometryInfoKHR info;
	lumenFillBuild(b, &g, &info);
	VkAccelerationStructureBuildRangeInfoKHR range;
	memset(&range, 0, sizeof(range));
	range.primitiveCount = primitives;
	const VkAccelerationStructureBuildRangeInfoKHR* ranges = &range;
	k->cmdBuildAccelerationStructures(cb, 1, &info, &ranges);
}

static VkResult lumenCreateAccelerationStructure(lumenKHR* k, VkDevice device, uint32_t top, VkBuffer buffer, VkDeviceSize size, VkAccelerationStructureKHR* out) {
	VkAccelerationStructureCreateInfoKHR info;
	memset(&info, 0, sizeof(info));
	info.sType = VK_STRUCTURE_TYPE_ACCELERATION_STRUCTURE_CREATE_INFO_KHR;
	info.buffer = buffer;
	info.size = size;
	info.type = top ? VK_ACCELERATION_STRUCTURE_TYPE_TOP_LEVEL_KHR : VK_ACCELERATION_STRUCTURE_TYPE_BOTTOM_LEVEL_KHR;
	return k->createAccelerationStructure(device, &info, NULL, out);
}

static void lumenDestroyAccelerationStructure(lumenKHR* k, VkDevice device, VkAccelerationStructureKHR as) {
	k->destroyAccelerationStructure(device, as, NULL);
}

static VkDeviceAddress lumenAccelerationStructureAddress(lumenKHR* k, VkDevice device, VkAccelerationStructureKHR as) {
	VkAccelerationStructureDeviceAddressInfoKHR info;
	memset(&info, 0, sizeof(info));
	info.sType = VK_STRUCTURE_TYPE_ACCELERATION_STRUCTURE_DEVICE_ADDRESS_INFO_KHR;
	info.accelerationStructure = as;
	return k->getAccelerationStructureAddress(device, &info);
}

typedef struct lumenGroup {
	uint32_t triangles;
	uint32_t general;
	uint32_t closestHit;
	uint32_t anyHit;
	uint32_t intersection;
} lumenGroup;

static VkResult lumenCreateRayTracingPipeline(lumenKHR* k, VkDevice device, VkPipelineLayout layout,
	uint32_t stageCount, const VkShaderStageFlags* stages, const VkShaderModule* modules, char** entries,
	uint32_t groupCount, const lumenGroup* groups, uint32_t depth, VkPipeline* out) {
	VkPipelineShaderStageCreateInfo* st = calloc(stageCount, sizeof(VkPipelineShaderStageCreateInfo));
	VkRayTracingShaderGroupCreateInfoKHR* gr = calloc(groupCount, sizeof(VkRayTracingShaderGroupCreateInfoKHR));
	for (uint32_t i = 0; i < stageCount; i++) {
		st[i].sType = VK_STRUCTURE_TYPE_PIPELINE_SHADER_STAGE_CREATE_INFO;
		st[i].stage = (VkShaderStageFlagBits)stages[i];
		st[i].module = modules[i];
		st[i].pName = entries[i];
	}
	for (uint32_t i = 0; i < groupCount; i++) {
		gr[i].sType = VK_STRUCTURE_TYPE_RAY_TRACING_SHADER_GROUP_CREATE_INFO_KHR;
		gr[i].type = groups[i].triangles ? VK_RAY_TRACING_SHADER_GROUP_TYPE_TRIANGLES_HIT_GROUP_KHR : VK_RAY_TRACING_SHADER_GROUP_TYPE_GENERAL_KHR;
		gr[i].generalShader = groups[i].general;
		gr[i].closestHitShader = groups[i].closestHit;
		gr[i].anyHitShader = groups[i].anyHit;
		gr[i].intersectionShader = groups[i].intersection;
	}
	VkRayTracingPipelineCreateInfoKHR info;
	memset(&info, 0, sizeof(info));
	info.sType = VK_STRUCTURE_TYPE_RAY_TRACING_PIPELINE_CREATE_INFO_KHR;
	info.stageCount = stageCount;
	info.pStages = st;
	info.groupCount = groupCount;
	info.pGroups = gr;
	info.maxPipelineRayRecursionDepth = depth;
	info.layout = layout;
	VkResult res = k->createRayTracingPipelines(device, VK_NULL_HANDLE, VK_NULL_HANDLE, 1, &info, NULL, out);
	free(st);
	free(gr);
	return res;
}

static VkResult lumenShaderGroupHandles(lumenKHR* k, VkDevice device, VkPipeline pipeline, uint32_t first, uint32_t count, size_t size, void* data) {
	return k->getShaderGroupHandles(device, pipeline, first, count, size, data);
}

static void lumenCmdTraceRays(lumenKHR* k, VkCommandBuffer cb, const VkStridedDeviceAddressRegionKHR* regions, uint32_t w, uint32_t h, uint32_t d) {
	k->cmdTraceRays(cb, &regions[0], &regions[1], &regions[2], &regions[3], w, h, d);
}

static void lumenWriteAccelerationStructure(lumenKHR* k, VkDevice device, VkDescriptorSet set, uint32_t binding, VkAccelerationStructureKHR as) {
	VkWriteDescriptorSetAccelerationStructureKHR asInfo;
	memset(&asInfo, 0, sizeof(asInfo));
	asInfo.sType = VK_STRUCTURE_TYPE_WRITE_DESCRIPTOR_SET_ACCELERATION_STRUCTURE_KHR;
	asInfo.accelerationStructureCount = 1;
	asInfo.pAccelerationStructures = &as;
	VkWriteDescriptorSet write;
	memset(&write, 0, sizeof(write));
	write.sType = VK_STRUCTURE_TYPE_WRITE_DESCRIPTOR_SET;
	write.pNext = &asInfo;
	write.dstSet = set;
	write.dstBinding = binding;
	write.descriptorCount = 1;
	write.descriptorType = VK_DESCRIPTOR_TYPE_ACCELERATION_STRUCTURE_KHR;
	k->updateDescriptorSets(device, 1, &write, 0, NULL);
}
*/
import "C"

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

// rayTracingExtensions are required on top of the swapchain when ray tracing
// is requested.
var rayTracingExtensions = []string{
	"VK_KHR_ray_tracing_pipeline",
	"VK_KHR_acceleration_structure",
	"VK_KHR_deferred_host_operations",
	"VK_KHR_buffer_device_address",
}

// accelHandle is the driver handle of an acceleration structure.
type accelHandle = C.VkAccelerationStructureKHR

// khrTable is the loaded set of ray tracing, acceleration structure and
// buffer device address entry points. Its memory is owned by C.
type khrTable struct {
	fns    *C.lumenKHR
	device C.VkDevice
}

// newFeatureChain returns the pNext chain that enables buffer device
// addresses, acceleration structures and ray tracing pipelines. The caller
// frees it with freeFeatureChain once the device exists.
func newFeatureChain() unsafe.Pointer {
	return unsafe.Pointer(C.lumenNewFeatures())
}

func freeFeatureChain(p unsafe.Pointer) {
	C.free(p)
}

func loadKHR(getInstanceProcAddr unsafe.Pointer, instance vk.Instance, device vk.Device) (*khrTable, error) {
	if getInstanceProcAddr == nil {
		return nil, fmt.Errorf("load ray tracing entry points: %w: no vkGetInstanceProcAddr", gpu.ErrNotSupported)
	}
	fns := C.lumenLoad(
		C.PFN_vkGetInstanceProcAddr(getInstanceProcAddr),
		C.VkInstance(unsafe.Pointer(instance)),
		C.VkDevice(unsafe.Pointer(device)))
	if fns == nil {
		return nil, fmt.Errorf("load ray tracing entry points: %w", gpu.ErrNotSupported)
	}
	return &khrTable{fns: fns, device: C.VkDevice(unsafe.Pointer(device))}, nil
}

func (k *khrTable) release() {
	if k != nil && k.fns != nil {
		C.free(unsafe.Pointer(k.fns))
		k.fns = nil
	}
}

// addressableAllocation is the pNext of a memory allocation backing buffers
// whose device address is queried.
func (k *khrTable) addressableAllocation() unsafe.Pointer {
	return unsafe.Pointer(&k.fns.addressableMemory)
}

func (k *khrTable) rayTracingProperties(pd vk.PhysicalDevice) gpu.RayTracingProperties {
	var out [4]C.uint32_t
	C.lumenRayTracingProperties(k.fns, C.VkPhysicalDevice(unsafe.Pointer(pd)), &out[0])
	return gpu.RayTracingProperties{
		ShaderGroupHandleSize:      uint32(out[0]),
		ShaderGroupHandleAlignment: uint32(out[1]),
		ShaderGroupBaseAlignment:   uint32(out[2]),
		MaxRayRecursionDepth:       uint32(out[3]),
	}
}

func (k *khrTable) bufferAddress(buffer vk.Buffer) gpu.DeviceAddress {
	return gpu.DeviceAddress(C.lumenBufferAddress(k.fns, k.device, C.VkBuffer(unsafe.Pointer(buffer))))
}

func (k *khrTable) buildInfo(info *gpu.BuildGeometryInfo, dst C.VkAccelerationStructureKHR) C.lumenBuild {
	var flags C.VkBuildAccelerationStructureFlagsKHR
	if info.Flags&gpu.BuildPreferFastTrace != 0 {
		flags |= C.VK_BUILD_ACCELERATION_STRUCTURE_PREFER_FAST_TRACE_BIT_KHR
	}
	if info.Flags&gpu.BuildPreferFastBuild != 0 {
		flags |= C.VK_BUILD_ACCELERATION_STRUCTURE_PREFER_FAST_BUILD_BIT_KHR
	}
	if info.Flags&gpu.BuildAllowUpdate != 0 {
		flags |= C.VK_BUILD_ACCELERATION_STRUCTURE_ALLOW_UPDATE_BIT_KHR
	}
	var geometryFlags C.VkGeometryFlagsKHR
	if info.Geometry.Flags&gpu.GeometryOpaque != 0 {
		geometryFlags |= C.VK_GEOMETRY_OPAQUE_BIT_KHR
	}
	if info.Geometry.Flags&gpu.GeometryNoDuplicateAnyHit != 0 {
		geometryFlags |= C.VK_GEOMETRY_NO_DUPLICATE_ANY_HIT_INVOCATION_BIT_KHR
	}
	b := C.lumenBuild{
		flags:         flags,
		geometryFlags: geometryFlags,
		dst:           dst,
		scratch:       C.VkDeviceAddress(info.ScratchData),
	}
	if info.Type == gpu.AccelerationStructureTopLevel {
		b.top = 1
		if info.Geometry.Instances != nil {
			b.instanceData = C.VkDeviceAddress(info.Geometry.Instances.Data)
		}
		return b
	}
	if t := info.Geometry.Triangles; t != nil {
		b.vertexData = C.VkDeviceAddress(t.VertexData)
		b.vertexFormat = C.VkFormat(toFormat(t.VertexFormat))
		b.vertexStride = C.VkDeviceSize(t.VertexStride)
		b.maxVertex = C.uint32_t(t.MaxVertex)
		b.indexData = C.VkDeviceAddress(t.IndexData)
		b.indexType = C.VkIndexType(toIndexType(t.IndexType))
	}
	return b
}

func (k *khrTable) scratchAlignment(pd vk.PhysicalDevice) uint64 {
	return uint64(C.lumenScratchAlignment(k.fns, C.VkPhysicalDevice(unsafe.Pointer(pd))))
}

func (k *khrTable) buildSizes(info *gpu.BuildGeometryInfo, primitives uint32) gpu.BuildSizes {
	b := k.buildInfo(info, nil)
	var out [2]C.VkDeviceSize
	C.lumenBuildSizes(k.fns, k.device, &b, C.uint32_t(primitives), &out[0])
	return gpu.BuildSizes{
		AccelerationStructureSize: uint64(out[0]),
		BuildScratchSize:          uint64(out[1]),
	}
}

func (k *khrTable) cmdBuild(cb vk.CommandBuffer, info *gpu.BuildGeometryInfo, dst C.VkAccelerationStructureKHR, primitives uint32) {
	b := k.buildInfo(info, dst)
	C.lumenCmdBuild(k.fns, C.VkCommandBuffer(unsafe.Pointer(cb)), &b, C.uint32_t(primitives))
}

func (k *khrTable) createAccelerationStructure(typ gpu.AccelerationStructureType, buffer vk.Buffer, size uint64) (C.VkAccelerationStructureKHR, error) {
	var top C.uint32_t
	if typ == gpu.AccelerationStructureTopLevel {
		top = 1
	}
	var out C.VkAccelerationStructureKHR
	res := C.lumenCreateAccelerationStructure(k.fns, k.device, top, C.VkBuffer(unsafe.Pointer(buffer)), C.VkDeviceSize(size), &out)
	if err := resultError(vk.Result(res), "vkCreateAccelerationStructureKHR"); err != nil {
		return nil, err
	}
	return out, nil
}

func (k *khrTable) destroyAccelerationStructure(as C.VkAccelerationStructureKHR) {
	C.lumenDestroyAccelerationStructure(k.fns, k.device, as)
}

func (k *khrTable) accelerationStructureAddress(as C.VkAccelerationStructureKHR) gpu.DeviceAddress {
	return gpu.DeviceAddress(C.lumenAccelerationStructureAddress(k.fns, k.device, as))
}

func (k *khrTable) createRayTracingPipeline(layout vk.PipelineLayout, stages []gpu.ShaderStageDesc, modules []vk.ShaderModule, groups []gpu.ShaderGroup, depth uint32) (vk.Pipeline, error) {
	flags := make([]C.VkShaderStageFlags, len(stages))
	mods := make([]C.VkShaderModule, len(stages))
	entries := make([]*C.char, len(stages))
	for i, s := range stages {
		flags[i] = C.VkShaderStageFlags(toShaderStages(s.Stage))
		mods[i] = C.VkShaderModule(unsafe.Pointer(modules[i]))
		entry := s.Entry
		if entry == "" {
			entry = "main"
		}
		entries[i] = C.CString(entry)
	}
	defer func() {
		for _, e := range entries {
			C.free(unsafe.Pointer(e))
		}
	}()
	gr := make([]C.lumenGroup, len(groups))
	for i, g := range groups {
		gr[i] = C.lumenGroup{
			general:      C.uint32_t(g.General),
			closestHit:   C.uint32_t(g.ClosestHit),
			anyHit:       C.uint32_t(g.AnyHit),
			intersection: C.uint32_t(g.Intersection),
		}
		if g.Type == gpu.ShaderGroupTrianglesHit {
			gr[i].triangles = 1
		}
	}
	// entries lives in Go memory but only holds C pointers.
	var out C.VkPipeline
	res := C.lumenCreateRayTracingPipeline(k.fns, k.device, C.VkPipelineLayout(unsafe.Pointer(layout)),
		C.uint32_t(len(stages)), &flags[0], &mods[0], &entries[0],
		C.uint32_t(len(groups)), &gr[0], C.uint32_t(depth), &out)
	if err := resultError(vk.Result(res), "vkCreateRayTracingPipelinesKHR"); err != nil {
		return nil, err
	}
	return vk.Pipeline(unsafe.Pointer(out)), nil
}

func (k *khrTable) shaderGroupHandles(pipeline vk.Pipeline, first, count uint32, data []byte) error {
	res := C.lumenShaderGroupHandles(k.fns, k.device, C.VkPipeline(unsafe.Pointer(pipeline)),
		C.uint32_t(first), C.uint32_t(count), C.size_t(len(data)), unsafe.Pointer(&data[0]))
	return resultError(vk.Result(res), "vkGetRayTracingShaderGroupHandlesKHR")
}

func (k *khrTable) cmdTraceRays(cb vk.CommandBuffer, regions *gpu.ShaderBindingRegions, width, height, depth uint32) {
	region := func(r gpu.StridedRegion) C.VkStridedDeviceAddressRegionKHR {
		return C.VkStridedDeviceAddressRegionKHR{
			deviceAddress: C.VkDeviceAddress(r.DeviceAddress),
			stride:        C.VkDeviceSize(r.Stride),
			size:          C.VkDeviceSize(r.Size),
		}
	}
	// raygen, miss, hit, callable is the order vkCmdTraceRaysKHR takes.
	rs := [4]C.VkStridedDeviceAddressRegionKHR{
		region(regions.Raygen),
		region(regions.Miss),
		region(regions.Hit),
		region(regions.Callable),
	}
	C.lumenCmdTraceRays(k.fns, C.VkCommandBuffer(unsafe.Pointer(cb)), &rs[0], C.uint32_t(width), C.uint32_t(height), C.uint32_t(depth))
}

func (k *khrTable) writeAccelerationStructure(set vk.DescriptorSet, binding uint32, as C.VkAccelerationStructureKHR) {
	C.lumenWriteAccelerationStructure(k.fns, k.device, C.VkDescriptorSet(unsafe.Pointer(set)), C.uint32_t(binding), as)
}
