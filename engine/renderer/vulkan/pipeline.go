package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

// VulkanPipeline holds a graphics or ray tracing pipeline. The layout is
// owned by the caller and registered separately.
type VulkanPipeline struct {
	Handle     vk.Pipeline
	BindPoint  gpu.BindPoint
	GroupCount uint32
}

func (pipeline *VulkanPipeline) Destroy(context *VulkanContext) {
	if pipeline.Handle == vk.NullPipeline {
		return
	}
	_ = context.locks.SafeCall(PipelineManagement, func() error {
		vk.DestroyPipeline(context.Device.LogicalDevice, pipeline.Handle, context.Allocator)
		pipeline.Handle = vk.NullPipeline
		return nil
	})
}

func (vb *VulkanBackend) CreateShaderModule(code []byte) (gpu.ShaderModuleID, error) {
	words, err := spirvWords(code)
	if err != nil {
		return gpu.InvalidID, err
	}
	createInfo := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint64(len(code)),
		PCode:    words,
	}
	var module vk.ShaderModule
	if err := resultError(vk.CreateShaderModule(vb.device(), &createInfo, vb.context.Allocator, &module), "vkCreateShaderModule"); err != nil {
		core.LogError(err.Error())
		return gpu.InvalidID, err
	}
	return gpu.ShaderModuleID(vb.modules.add(module)), nil
}

func (vb *VulkanBackend) DestroyShaderModule(id gpu.ShaderModuleID) {
	if module, ok := vb.modules.remove(uint64(id)); ok {
		vk.DestroyShaderModule(vb.device(), module, vb.context.Allocator)
	}
}

// maxPushConstantRanges bounds the ranges of one layout; only 128 bytes with
// 4-byte alignment are guaranteed.
const maxPushConstantRanges = 32

func (vb *VulkanBackend) CreatePipelineLayout(setLayouts []gpu.DescriptorSetLayoutID, pushConstants []gpu.PushConstantRange) (gpu.PipelineLayoutID, error) {
	if len(pushConstants) > maxPushConstantRanges {
		return gpu.InvalidID, fmt.Errorf("cannot have more than %d push constant ranges, got %d", maxPushConstantRanges, len(pushConstants))
	}
	layouts := make([]vk.DescriptorSetLayout, len(setLayouts))
	for i, id := range setLayouts {
		l, err := vb.setLayouts.get(uint64(id))
		if err != nil {
			return gpu.InvalidID, err
		}
		layouts[i] = l
	}
	ranges := make([]vk.PushConstantRange, len(pushConstants))
	for i, r := range pushConstants {
		ranges[i] = vk.PushConstantRange{
			StageFlags: toShaderStages(r.Stages),
			Offset:     r.Offset,
			Size:       r.Size,
		}
	}
	createInfo := vk.PipelineLayoutCreateInfo{
		SType:                  vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount:         uint32(len(layouts)),
		PSetLayouts:            layouts,
		PushConstantRangeCount: uint32(len(ranges)),
		PPushConstantRanges:    ranges,
	}
	var layout vk.PipelineLayout
	err := vb.context.locks.SafeCall(PipelineManagement, func() error {
		return resultError(vk.CreatePipelineLayout(vb.device(), &createInfo, vb.context.Allocator, &layout), "vkCreatePipelineLayout")
	})
	if err != nil {
		core.LogError(err.Error())
		return gpu.InvalidID, err
	}
	return gpu.PipelineLayoutID(vb.pipelineLayouts.add(layout)), nil
}

func (vb *VulkanBackend) DestroyPipelineLayout(id gpu.PipelineLayoutID) {
	if layout, ok := vb.pipelineLayouts.remove(uint64(id)); ok {
		_ = vb.context.locks.SafeCall(PipelineManagement, func() error {
			vk.DestroyPipelineLayout(vb.device(), layout, vb.context.Allocator)
			return nil
		})
	}
}

func (vb *VulkanBackend) shaderModules(stages []gpu.ShaderStageDesc) ([]vk.ShaderModule, error) {
	modules := make([]vk.ShaderModule, len(stages))
	for i, s := range stages {
		m, err := vb.modules.get(uint64(s.Module))
		if err != nil {
			return nil, fmt.Errorf("%s stage: %w", s.Stage, err)
		}
		modules[i] = m
	}
	return modules, nil
}

func (vb *VulkanBackend) CreateGraphicsPipeline(desc *gpu.GraphicsPipelineDesc) (gpu.PipelineID, error) {
	layout, err := vb.pipelineLayouts.get(uint64(desc.Layout))
	if err != nil {
		return gpu.InvalidID, err
	}
	rp, err := vb.renderPasses.get(uint64(desc.RenderPass))
	if err != nil {
		return gpu.InvalidID, err
	}
	modules, err := vb.shaderModules(desc.Stages)
	if err != nil {
		return gpu.InvalidID, err
	}
	stages := make([]vk.PipelineShaderStageCreateInfo, len(desc.Stages))
	for i, s := range desc.Stages {
		entry := s.Entry
		if entry == "" {
			entry = "main"
		}
		stages[i] = vk.PipelineShaderStageCreateInfo{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vk.ShaderStageFlagBits(toShaderStages(s.Stage)),
			Module: modules[i],
			PName:  VulkanSafeString(entry),
		}
	}

	// Viewport and scissor are dynamic; the counts still have to be set.
	viewportState := vk.PipelineViewportStateCreateInfo{
		SType:         vk.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		ScissorCount:  1,
	}

	rasterizerCreateInfo := vk.PipelineRasterizationStateCreateInfo{
		SType:                   vk.StructureTypePipelineRasterizationStateCreateInfo,
		DepthClampEnable:        vk.False,
		RasterizerDiscardEnable: vk.False,
		PolygonMode:             vk.PolygonModeFill,
		LineWidth:               1.0,
		CullMode:                vk.CullModeFlags(vk.CullModeNone),
		FrontFace:               vk.FrontFaceCounterClockwise,
		DepthBiasEnable:         vk.False,
	}
	if desc.CullBack {
		rasterizerCreateInfo.CullMode = vk.CullModeFlags(vk.CullModeBackBit)
	}

	multisamplingCreateInfo := vk.PipelineMultisampleStateCreateInfo{
		SType:                 vk.StructureTypePipelineMultisampleStateCreateInfo,
		SampleShadingEnable:   vk.False,
		RasterizationSamples:  vk.SampleCount1Bit,
		MinSampleShading:      1.0,
		AlphaToCoverageEnable: vk.False,
		AlphaToOneEnable:      vk.False,
	}

	depthStencil := vk.PipelineDepthStencilStateCreateInfo{
		SType:             vk.StructureTypePipelineDepthStencilStateCreateInfo,
		DepthTestEnable:   vk.False,
		DepthWriteEnable:  vk.False,
		StencilTestEnable: vk.False,
	}
	if desc.DepthTest {
		depthStencil.DepthTestEnable = vk.True
		depthStencil.DepthWriteEnable = vk.True
		depthStencil.DepthCompareOp = vk.CompareOpLess
		depthStencil.DepthBoundsTestEnable = vk.False
	}

	colorBlendAttachmentState := vk.PipelineColorBlendAttachmentState{
		BlendEnable:         vk.True,
		SrcColorBlendFactor: vk.BlendFactorSrcAlpha,
		DstColorBlendFactor: vk.BlendFactorOneMinusSrcAlpha,
		ColorBlendOp:        vk.BlendOpAdd,
		SrcAlphaBlendFactor: vk.BlendFactorSrcAlpha,
		DstAlphaBlendFactor: vk.BlendFactorOneMinusSrcAlpha,
		AlphaBlendOp:        vk.BlendOpAdd,
		ColorWriteMask: vk.ColorComponentFlags(vk.ColorComponentRBit) | vk.ColorComponentFlags(vk.ColorComponentGBit) |
			vk.ColorComponentFlags(vk.ColorComponentBBit) | vk.ColorComponentFlags(vk.ColorComponentABit),
	}

	colorBlendStateCreateInfo := vk.PipelineColorBlendStateCreateInfo{
		SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
		LogicOpEnable:   vk.False,
		LogicOp:         vk.LogicOpCopy,
		AttachmentCount: 1,
		PAttachments:    []vk.PipelineColorBlendAttachmentState{colorBlendAttachmentState},
	}

	dynamicStates := []vk.DynamicState{
		vk.DynamicStateViewport,
		vk.DynamicStateScissor,
	}
	dynamicStateCreateInfo := vk.PipelineDynamicStateCreateInfo{
		SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
		DynamicStateCount: uint32(len(dynamicStates)),
		PDynamicStates:    dynamicStates,
	}

	attributes := make([]vk.VertexInputAttributeDescription, len(desc.Attributes))
	for i, a := range desc.Attributes {
		attributes[i] = vk.VertexInputAttributeDescription{
			Location: a.Location,
			Binding:  0,
			Format:   toFormat(a.Format),
			Offset:   a.Offset,
		}
	}
	vertexInputInfo := vk.PipelineVertexInputStateCreateInfo{
		SType:                         vk.StructureTypePipelineVertexInputStateCreateInfo,
		VertexBindingDescriptionCount: 1,
		PVertexBindingDescriptions: []vk.VertexInputBindingDescription{{
			Binding:   0,
			Stride:    desc.VertexStride,
			InputRate: vk.VertexInputRateVertex, // Move to next data entry for each vertex.
		}},
		VertexAttributeDescriptionCount: uint32(len(attributes)),
		PVertexAttributeDescriptions:    attributes,
	}

	inputAssembly := vk.PipelineInputAssemblyStateCreateInfo{
		SType:                  vk.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology:               vk.PrimitiveTopologyTriangleList,
		PrimitiveRestartEnable: vk.False,
	}

	pipelineCreateInfo := vk.GraphicsPipelineCreateInfo{
		SType:               vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:          uint32(len(stages)),
		PStages:             stages,
		PVertexInputState:   &vertexInputInfo,
		PInputAssemblyState: &inputAssembly,
		PViewportState:      &viewportState,
		PRasterizationState: &rasterizerCreateInfo,
		PMultisampleState:   &multisamplingCreateInfo,
		PDepthStencilState:  &depthStencil,
		PColorBlendState:    &colorBlendStateCreateInfo,
		PDynamicState:       &dynamicStateCreateInfo,
		Layout:              layout,
		RenderPass:          rp.Handle,
		Subpass:             0,
		BasePipelineHandle:  vk.NullPipeline,
		BasePipelineIndex:   -1,
	}

	pipelines := make([]vk.Pipeline, 1)
	err = vb.context.locks.SafeCall(PipelineManagement, func() error {
		return resultError(vk.CreateGraphicsPipelines(vb.device(), vk.NullPipelineCache, 1,
			[]vk.GraphicsPipelineCreateInfo{pipelineCreateInfo}, vb.context.Allocator, pipelines), "vkCreateGraphicsPipelines")
	})
	if err != nil {
		core.LogError(err.Error())
		return gpu.InvalidID, err
	}

	core.LogDebug("Graphics pipeline created!")
	return gpu.PipelineID(vb.pipelines.add(&VulkanPipeline{
		Handle:    pipelines[0],
		BindPoint: gpu.BindPointGraphics,
	})), nil
}

func (vb *VulkanBackend) CreateRayTracingPipeline(desc *gpu.RayTracingPipelineDesc) (gpu.PipelineID, error) {
	if vb.context.khr == nil {
		return gpu.InvalidID, fmt.Errorf("ray tracing pipeline: %w", gpu.ErrNotSupported)
	}
	if len(desc.Stages) == 0 || len(desc.Groups) == 0 {
		return gpu.InvalidID, fmt.Errorf("ray tracing pipeline needs stages and groups, got %d and %d", len(desc.Stages), len(desc.Groups))
	}
	layout, err := vb.pipelineLayouts.get(uint64(desc.Layout))
	if err != nil {
		return gpu.InvalidID, err
	}
	modules, err := vb.shaderModules(desc.Stages)
	if err != nil {
		return gpu.InvalidID, err
	}
	depth := min(max(desc.MaxRecursionDepth, 1), vb.RayTracingProperties().MaxRayRecursionDepth)

	var handle vk.Pipeline
	err = vb.context.locks.SafeCall(PipelineManagement, func() error {
		var err error
		handle, err = vb.context.khr.createRayTracingPipeline(layout, desc.Stages, modules, desc.Groups, depth)
		return err
	})
	if err != nil {
		core.LogError(err.Error())
		return gpu.InvalidID, err
	}
	core.LogDebug("Ray tracing pipeline created with %d groups", len(desc.Groups))
	return gpu.PipelineID(vb.pipelines.add(&VulkanPipeline{
		Handle:     handle,
		BindPoint:  gpu.BindPointRayTracing,
		GroupCount: uint32(len(desc.Groups)),
	})), nil
}

func (vb *VulkanBackend) DestroyPipeline(id gpu.PipelineID) {
	if pipeline, ok := vb.pipelines.remove(uint64(id)); ok {
		pipeline.Destroy(vb.context)
	}
}

func (vb *VulkanBackend) ShaderGroupHandles(id gpu.PipelineID, firstGroup, groupCount uint32, dataSize int) ([]byte, error) {
	pipeline, err := vb.pipelines.get(uint64(id))
	if err != nil {
		return nil, err
	}
	if pipeline.BindPoint != gpu.BindPointRayTracing || vb.context.khr == nil {
		return nil, fmt.Errorf("shader group handles of a graphics pipeline: %w", gpu.ErrNotSupported)
	}
	if groupCount == 0 || firstGroup+groupCount > pipeline.GroupCount {
		return nil, fmt.Errorf("groups [%d, %d) out of range of %d", firstGroup, firstGroup+groupCount, pipeline.GroupCount)
	}
	if want := int(groupCount * vb.RayTracingProperties().ShaderGroupHandleSize); dataSize < want {
		return nil, fmt.Errorf("handle data size %d is smaller than %d", dataSize, want)
	}
	data := make([]byte, dataSize)
	if err := vb.context.khr.shaderGroupHandles(pipeline.Handle, firstGroup, groupCount, data); err != nil {
		return nil, err
	}
	return data, nil
}
