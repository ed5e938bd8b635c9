package vulkan

import (
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

// Extension enums that the bindings predate. Values are from vulkan_core.h.
const (
	bufferUsageShaderBindingTable       = 0x00000400
	bufferUsageShaderDeviceAddress      = 0x00020000
	bufferUsageAccelerationBuildInput   = 0x00080000
	bufferUsageAccelerationStorage      = 0x00100000
	accessAccelerationStructureRead     = 0x00200000
	accessAccelerationStructureWrite    = 0x00400000
	stageRayTracingShader               = 0x00200000
	stageAccelerationStructureBuild     = 0x02000000
	shaderStageRaygen                   = 0x00000100
	shaderStageAnyHit                   = 0x00000200
	shaderStageClosestHit               = 0x00000400
	shaderStageMiss                     = 0x00000800
	shaderStageIntersection             = 0x00001000
	shaderStageCallable                 = 0x00002000
	descriptorTypeAccelerationStructure = 1000150000
	pipelineBindPointRayTracing         = 1000165000
	indexTypeUint8                      = 1000265000
)

// wholeSize is VK_WHOLE_SIZE.
const wholeSize = vk.DeviceSize(^uint64(0))

var formats = map[gpu.Format]vk.Format{
	gpu.FormatUndefined:       vk.FormatUndefined,
	gpu.FormatB8G8R8A8Unorm:   vk.FormatB8g8r8a8Unorm,
	gpu.FormatB8G8R8A8Srgb:    vk.FormatB8g8r8a8Srgb,
	gpu.FormatR8G8B8A8Unorm:   vk.FormatR8g8b8a8Unorm,
	gpu.FormatR8G8B8A8Srgb:    vk.FormatR8g8b8a8Srgb,
	gpu.FormatR32G32Sfloat:    vk.FormatR32g32Sfloat,
	gpu.FormatR32G32B32Sfloat: vk.FormatR32g32b32Sfloat,
	gpu.FormatD32Sfloat:       vk.FormatD32Sfloat,
	gpu.FormatD32SfloatS8Uint: vk.FormatD32SfloatS8Uint,
	gpu.FormatD24UnormS8Uint:  vk.FormatD24UnormS8Uint,
}

func toFormat(f gpu.Format) vk.Format {
	return formats[f]
}

// fromFormat returns FormatUndefined for formats the engine does not name.
func fromFormat(f vk.Format) gpu.Format {
	for k, v := range formats {
		if v == f {
			return k
		}
	}
	return gpu.FormatUndefined
}

type flagPair struct {
	from uint32
	to   uint32
}

func mapFlags(v uint32, table []flagPair) uint32 {
	var out uint32
	for _, p := range table {
		if v&p.from != 0 {
			out |= p.to
		}
	}
	return out
}

var bufferUsages = []flagPair{
	{uint32(gpu.BufferUsageTransferSrc), uint32(vk.BufferUsageTransferSrcBit)},
	{uint32(gpu.BufferUsageTransferDst), uint32(vk.BufferUsageTransferDstBit)},
	{uint32(gpu.BufferUsageUniform), uint32(vk.BufferUsageUniformBufferBit)},
	{uint32(gpu.BufferUsageStorage), uint32(vk.BufferUsageStorageBufferBit)},
	{uint32(gpu.BufferUsageIndex), uint32(vk.BufferUsageIndexBufferBit)},
	{uint32(gpu.BufferUsageVertex), uint32(vk.BufferUsageVertexBufferBit)},
	{uint32(gpu.BufferUsageShaderDeviceAddress), bufferUsageShaderDeviceAddress},
	{uint32(gpu.BufferUsageAccelerationStructureBuildInput), bufferUsageAccelerationBuildInput},
	{uint32(gpu.BufferUsageAccelerationStructureStorage), bufferUsageAccelerationStorage},
	{uint32(gpu.BufferUsageShaderBindingTable), bufferUsageShaderBindingTable},
}

func toBufferUsage(u gpu.BufferUsage) vk.BufferUsageFlags {
	return vk.BufferUsageFlags(mapFlags(uint32(u), bufferUsages))
}

var imageUsages = []flagPair{
	{uint32(gpu.ImageUsageTransferSrc), uint32(vk.ImageUsageTransferSrcBit)},
	{uint32(gpu.ImageUsageTransferDst), uint32(vk.ImageUsageTransferDstBit)},
	{uint32(gpu.ImageUsageSampled), uint32(vk.ImageUsageSampledBit)},
	{uint32(gpu.ImageUsageStorage), uint32(vk.ImageUsageStorageBit)},
	{uint32(gpu.ImageUsageColorAttachment), uint32(vk.ImageUsageColorAttachmentBit)},
	{uint32(gpu.ImageUsageDepthStencilAttachment), uint32(vk.ImageUsageDepthStencilAttachmentBit)},
}

func toImageUsage(u gpu.ImageUsage) vk.ImageUsageFlags {
	return vk.ImageUsageFlags(mapFlags(uint32(u), imageUsages))
}

var memoryProperties = []flagPair{
	{uint32(gpu.MemoryDeviceLocal), uint32(vk.MemoryPropertyDeviceLocalBit)},
	{uint32(gpu.MemoryHostVisible), uint32(vk.MemoryPropertyHostVisibleBit)},
	{uint32(gpu.MemoryHostCoherent), uint32(vk.MemoryPropertyHostCoherentBit)},
}

func toMemoryProperty(m gpu.MemoryProperty) uint32 {
	return mapFlags(uint32(m), memoryProperties)
}

var accesses = []flagPair{
	{uint32(gpu.AccessShaderRead), uint32(vk.AccessShaderReadBit)},
	{uint32(gpu.AccessShaderWrite), uint32(vk.AccessShaderWriteBit)},
	{uint32(gpu.AccessTransferRead), uint32(vk.AccessTransferReadBit)},
	{uint32(gpu.AccessTransferWrite), uint32(vk.AccessTransferWriteBit)},
	{uint32(gpu.AccessColorAttachmentWrite), uint32(vk.AccessColorAttachmentWriteBit)},
	{uint32(gpu.AccessDepthStencilAttachmentWrite), uint32(vk.AccessDepthStencilAttachmentWriteBit)},
	{uint32(gpu.AccessAccelerationStructureRead), accessAccelerationStructureRead},
	{uint32(gpu.AccessAccelerationStructureWrite), accessAccelerationStructureWrite},
}

func toAccess(a gpu.Access) vk.AccessFlags {
	return vk.AccessFlags(mapFlags(uint32(a), accesses))
}

var stages = []flagPair{
	{uint32(gpu.PipelineStageTopOfPipe), uint32(vk.PipelineStageTopOfPipeBit)},
	{uint32(gpu.PipelineStageTransfer), uint32(vk.PipelineStageTransferBit)},
	{uint32(gpu.PipelineStageFragmentShader), uint32(vk.PipelineStageFragmentShaderBit)},
	{uint32(gpu.PipelineStageEarlyFragmentTests), uint32(vk.PipelineStageEarlyFragmentTestsBit)},
	{uint32(gpu.PipelineStageColorAttachmentOutput), uint32(vk.PipelineStageColorAttachmentOutputBit)},
	{uint32(gpu.PipelineStageRayTracingShader), stageRayTracingShader},
	{uint32(gpu.PipelineStageAccelerationStructureBuild), stageAccelerationStructureBuild},
	{uint32(gpu.PipelineStageBottomOfPipe), uint32(vk.PipelineStageBottomOfPipeBit)},
	{uint32(gpu.PipelineStageAllCommands), uint32(vk.PipelineStageAllCommandsBit)},
}

// toStage never returns an empty mask; an unset stage means top of pipe.
func toStage(s gpu.PipelineStage) vk.PipelineStageFlags {
	out := mapFlags(uint32(s), stages)
	if out == 0 {
		out = uint32(vk.PipelineStageTopOfPipeBit)
	}
	return vk.PipelineStageFlags(out)
}

var shaderStages = []flagPair{
	{uint32(gpu.ShaderStageVertex), uint32(vk.ShaderStageVertexBit)},
	{uint32(gpu.ShaderStageFragment), uint32(vk.ShaderStageFragmentBit)},
	{uint32(gpu.ShaderStageRaygen), shaderStageRaygen},
	{uint32(gpu.ShaderStageAnyHit), shaderStageAnyHit},
	{uint32(gpu.ShaderStageClosestHit), shaderStageClosestHit},
	{uint32(gpu.ShaderStageMiss), shaderStageMiss},
	{uint32(gpu.ShaderStageIntersection), shaderStageIntersection},
	{uint32(gpu.ShaderStageCallable), shaderStageCallable},
}

func toShaderStages(s gpu.ShaderStage) vk.ShaderStageFlags {
	return vk.ShaderStageFlags(mapFlags(uint32(s), shaderStages))
}

func toLayout(l gpu.ImageLayout) vk.ImageLayout {
	switch l {
	case gpu.ImageLayoutGeneral:
		return vk.ImageLayoutGeneral
	case gpu.ImageLayoutColorAttachment:
		return vk.ImageLayoutColorAttachmentOptimal
	case gpu.ImageLayoutDepthStencilAttachment:
		return vk.ImageLayoutDepthStencilAttachmentOptimal
	case gpu.ImageLayoutShaderReadOnly:
		return vk.ImageLayoutShaderReadOnlyOptimal
	case gpu.ImageLayoutTransferSrc:
		return vk.ImageLayoutTransferSrcOptimal
	case gpu.ImageLayoutTransferDst:
		return vk.ImageLayoutTransferDstOptimal
	case gpu.ImageLayoutPresentSrc:
		return vk.ImageLayoutPresentSrc
	}
	return vk.ImageLayoutUndefined
}

func toAspect(a gpu.ImageAspect) vk.ImageAspectFlags {
	var out vk.ImageAspectFlags
	if a&gpu.ImageAspectColor != 0 {
		out |= vk.ImageAspectFlags(vk.ImageAspectColorBit)
	}
	if a&gpu.ImageAspectDepth != 0 {
		out |= vk.ImageAspectFlags(vk.ImageAspectDepthBit)
	}
	if out == 0 {
		out = vk.ImageAspectFlags(vk.ImageAspectColorBit)
	}
	return out
}

func toDescriptorType(t gpu.DescriptorType) vk.DescriptorType {
	switch t {
	case gpu.DescriptorTypeStorageBuffer:
		return vk.DescriptorTypeStorageBuffer
	case gpu.DescriptorTypeCombinedImageSampler:
		return vk.DescriptorTypeCombinedImageSampler
	case gpu.DescriptorTypeStorageImage:
		return vk.DescriptorTypeStorageImage
	case gpu.DescriptorTypeAccelerationStructure:
		return vk.DescriptorType(descriptorTypeAccelerationStructure)
	}
	return vk.DescriptorTypeUniformBuffer
}

func toIndexType(t gpu.IndexType) vk.IndexType {
	switch t {
	case gpu.IndexTypeUint16:
		return vk.IndexTypeUint16
	case gpu.IndexTypeUint8:
		return vk.IndexType(indexTypeUint8)
	}
	return vk.IndexTypeUint32
}

func toBindPoint(p gpu.BindPoint) vk.PipelineBindPoint {
	if p == gpu.BindPointRayTracing {
		return vk.PipelineBindPoint(pipelineBindPointRayTracing)
	}
	return vk.PipelineBindPointGraphics
}

func toFilter(linear bool) vk.Filter {
	if linear {
		return vk.FilterLinear
	}
	return vk.FilterNearest
}
