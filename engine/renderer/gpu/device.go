package gpu

import "time"

// BufferAllocator creates buffers with bound memory and moves bytes through
// host visible ones.
type BufferAllocator interface {
	CreateBuffer(desc *BufferDesc) (BufferID, error)
	DestroyBuffer(id BufferID)
	// WriteBuffer maps a host visible buffer and copies data at offset.
	WriteBuffer(id BufferID, offset uint64, data []byte) error
	// ReadBuffer maps a host visible buffer and fills data from offset.
	ReadBuffer(id BufferID, offset uint64, data []byte) error
	// BufferDeviceAddress requires BufferUsageShaderDeviceAddress.
	BufferDeviceAddress(id BufferID) (DeviceAddress, error)
}

// ImageAllocator creates images, views and samplers.
type ImageAllocator interface {
	CreateImage(desc *ImageDesc) (ImageID, error)
	DestroyImage(id ImageID)
	CreateImageView(image ImageID, desc *ImageViewDesc) (ImageViewID, error)
	DestroyImageView(id ImageViewID)
	CreateSampler(desc *SamplerDesc) (SamplerID, error)
	DestroySampler(id SamplerID)
	// DepthFormat returns the first depth format the device can attach.
	DepthFormat() Format
}

// CommandSubmitter records and submits command buffers on the single
// graphics+present queue.
type CommandSubmitter interface {
	AllocateCommandBuffer() (CommandBufferID, error)
	FreeCommandBuffer(id CommandBufferID)
	BeginCommandBuffer(id CommandBufferID, oneTimeSubmit bool) (CommandEncoder, error)
	EndCommandBuffer(id CommandBufferID) error
	ResetCommandBuffer(id CommandBufferID) error
	Submit(info *SubmitInfo) error
	QueueWaitIdle() error
	DeviceWaitIdle() error
}

// Synchronizer creates fences and semaphores.
type Synchronizer interface {
	CreateFence(signaled bool) (FenceID, error)
	DestroyFence(id FenceID)
	// WaitFence returns ErrTimeout if the fence did not signal within timeout.
	WaitFence(id FenceID, timeout time.Duration) error
	ResetFence(id FenceID) error
	CreateSemaphore() (SemaphoreID, error)
	DestroySemaphore(id SemaphoreID)
}

// AccelerationStructures creates and queries BLAS/TLAS objects.
type AccelerationStructures interface {
	AccelerationStructureBuildSizes(info *BuildGeometryInfo, primitiveCount uint32) (BuildSizes, error)
	CreateAccelerationStructure(typ AccelerationStructureType, buffer BufferID, size uint64) (AccelerationStructureID, error)
	AccelerationStructureDeviceAddress(id AccelerationStructureID) (DeviceAddress, error)
	DestroyAccelerationStructure(id AccelerationStructureID)
}

// Descriptors manages layouts, pools and sets.
type Descriptors interface {
	CreateDescriptorSetLayout(bindings []DescriptorBinding) (DescriptorSetLayoutID, error)
	DestroyDescriptorSetLayout(id DescriptorSetLayoutID)
	CreateDescriptorPool(sizes []DescriptorPoolSize, maxSets uint32) (DescriptorPoolID, error)
	DestroyDescriptorPool(id DescriptorPoolID)
	AllocateDescriptorSets(pool DescriptorPoolID, layouts []DescriptorSetLayoutID) ([]DescriptorSetID, error)
	UpdateDescriptorSets(writes []DescriptorWrite) error
}

// Pipelines creates shader modules, layouts, pipelines and render targets.
type Pipelines interface {
	CreateShaderModule(code []byte) (ShaderModuleID, error)
	DestroyShaderModule(id ShaderModuleID)
	CreatePipelineLayout(setLayouts []DescriptorSetLayoutID, pushConstants []PushConstantRange) (PipelineLayoutID, error)
	DestroyPipelineLayout(id PipelineLayoutID)
	CreateRayTracingPipeline(desc *RayTracingPipelineDesc) (PipelineID, error)
	CreateGraphicsPipeline(desc *GraphicsPipelineDesc) (PipelineID, error)
	DestroyPipeline(id PipelineID)
	// ShaderGroupHandles returns the opaque handles of groupCount groups
	// starting at firstGroup; dataSize is the expected byte length.
	ShaderGroupHandles(pipeline PipelineID, firstGroup, groupCount uint32, dataSize int) ([]byte, error)
	CreateRenderPass(desc *RenderPassDesc) (RenderPassID, error)
	DestroyRenderPass(id RenderPassID)
	CreateFramebuffer(pass RenderPassID, attachments []ImageViewID, extent Extent2D) (FramebufferID, error)
	DestroyFramebuffer(id FramebufferID)
}

// Presenter owns the surface and its swapchain.
type Presenter interface {
	// SurfaceExtent is the current drawable size of the window; it is empty
	// while the window is minimized.
	SurfaceExtent() Extent2D
	CreateSwapchain(desc *SwapchainDesc) (*SwapchainImages, error)
	DestroySwapchain()
	// AcquireNextImage returns ErrOutOfDate when the swapchain must be recreated
	// before anything can be rendered.
	AcquireNextImage(signal SemaphoreID, timeout time.Duration) (uint32, error)
	// Present returns ErrOutOfDate or ErrSuboptimal when the swapchain should
	// be recreated. The image is queued in the suboptimal case.
	Present(imageIndex uint32, wait SemaphoreID) error
}

// Device is the full surface the renderer needs from a GPU backend.
type Device interface {
	BufferAllocator
	ImageAllocator
	CommandSubmitter
	Synchronizer
	AccelerationStructures
	Descriptors
	Pipelines
	Presenter

	Capabilities() Capabilities
	RayTracingProperties() RayTracingProperties
	Destroy()
}

// CommandEncoder records commands into a command buffer between Begin and End.
// Recording never fails eagerly; the first error is reported by EndCommandBuffer.
type CommandEncoder interface {
	CopyBuffer(src, dst BufferID, regions ...BufferCopy)
	CopyBufferToImage(src BufferID, dst ImageID, extent Extent2D)
	BlitImage(src ImageID, srcLayout ImageLayout, dst ImageID, dstLayout ImageLayout, blit ImageBlit)
	PipelineBarrier(barriers ...ImageBarrier)
	// MemoryBarrier orders buffer and acceleration structure accesses.
	MemoryBarrier(srcStage, dstStage PipelineStage, srcAccess, dstAccess Access)
	BuildAccelerationStructure(info *BuildGeometryInfo, primitiveCount uint32)

	BindPipeline(point BindPoint, pipeline PipelineID)
	BindDescriptorSets(point BindPoint, layout PipelineLayoutID, firstSet uint32, sets ...DescriptorSetID)
	PushConstants(layout PipelineLayoutID, stages ShaderStage, offset uint32, data []byte)
	TraceRays(regions *ShaderBindingRegions, width, height, depth uint32)

	BeginRenderPass(pass RenderPassID, framebuffer FramebufferID, extent Extent2D, clears ...ClearValue)
	EndRenderPass()
	// SetViewport sets both the viewport and the scissor to extent.
	SetViewport(extent Extent2D)
	BindVertexBuffer(binding uint32, buffer BufferID, offset uint64)
	BindIndexBuffer(buffer BufferID, offset uint64, indexType IndexType)
	DrawIndexed(indexCount, instanceCount uint32)
}
