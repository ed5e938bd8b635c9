package gpu

import "strings"

// Resource IDs
//
// These opaque IDs represent GPU objects. Each Device implementation keeps a
// mapping between IDs and the backend objects; IDs are generation checked, so
// an ID that outlived its object is rejected instead of aliasing a new one.

// BufferID is an opaque handle to a buffer and its backing memory.
type BufferID uint64

// ImageID is an opaque handle to an image and its backing memory.
type ImageID uint64

// ImageViewID is an opaque handle to an image view.
type ImageViewID uint64

// SamplerID is an opaque handle to a sampler.
type SamplerID uint64

// SemaphoreID is an opaque handle to a binary semaphore.
type SemaphoreID uint64

// FenceID is an opaque handle to a fence.
type FenceID uint64

// CommandBufferID is an opaque handle to a primary command buffer.
type CommandBufferID uint64

// AccelerationStructureID is an opaque handle to a BLAS or TLAS object.
type AccelerationStructureID uint64

// DescriptorSetLayoutID is an opaque handle to a descriptor set layout.
type DescriptorSetLayoutID uint64

// DescriptorPoolID is an opaque handle to a descriptor pool.
type DescriptorPoolID uint64

// DescriptorSetID is an opaque handle to a descriptor set.
type DescriptorSetID uint64

// PipelineLayoutID is an opaque handle to a pipeline layout.
type PipelineLayoutID uint64

// PipelineID is an opaque handle to a graphics or ray tracing pipeline.
type PipelineID uint64

// ShaderModuleID is an opaque handle to a shader module.
type ShaderModuleID uint64

// RenderPassID is an opaque handle to a render pass.
type RenderPassID uint64

// FramebufferID is an opaque handle to a framebuffer.
type FramebufferID uint64

// DeviceAddress is a GPU virtual address of a buffer or acceleration structure.
type DeviceAddress uint64

// InvalidID is the zero value, representing an invalid/null resource.
const InvalidID = 0

// BufferUsage is a bitmask specifying how a buffer will be used.
type BufferUsage uint32

const (
	BufferUsageTransferSrc BufferUsage = 1 << iota
	BufferUsageTransferDst
	BufferUsageUniform
	BufferUsageStorage
	BufferUsageIndex
	BufferUsageVertex
	BufferUsageShaderDeviceAddress
	BufferUsageAccelerationStructureBuildInput
	BufferUsageAccelerationStructureStorage
	BufferUsageShaderBindingTable
)

// Has reports whether every bit of f is set.
func (u BufferUsage) Has(f BufferUsage) bool {
	return u&f == f
}

// MemoryProperty selects the memory type a resource is bound to.
type MemoryProperty uint32

const (
	MemoryDeviceLocal MemoryProperty = 1 << iota
	MemoryHostVisible
	MemoryHostCoherent

	// MemoryHostVisibleCoherent is mappable memory that needs no explicit flushes.
	MemoryHostVisibleCoherent = MemoryHostVisible | MemoryHostCoherent
)

func (m MemoryProperty) Has(f MemoryProperty) bool {
	return m&f == f
}

// ImageUsage is a bitmask specifying how an image will be used.
type ImageUsage uint32

const (
	ImageUsageTransferSrc ImageUsage = 1 << iota
	ImageUsageTransferDst
	ImageUsageSampled
	ImageUsageStorage
	ImageUsageColorAttachment
	ImageUsageDepthStencilAttachment
)

func (u ImageUsage) Has(f ImageUsage) bool {
	return u&f == f
}

// Format is a texel or vertex attribute format.
type Format uint32

const (
	FormatUndefined Format = iota
	FormatB8G8R8A8Unorm
	FormatB8G8R8A8Srgb
	FormatR8G8B8A8Unorm
	FormatR8G8B8A8Srgb
	FormatR32G32Sfloat
	FormatR32G32B32Sfloat
	FormatD32Sfloat
	FormatD32SfloatS8Uint
	FormatD24UnormS8Uint
)

// ImageAspect selects the color or depth part of an image.
type ImageAspect uint32

const (
	ImageAspectColor ImageAspect = 1 << iota
	ImageAspectDepth
)

// ImageLayout is the memory layout an image is in when a command accesses it.
type ImageLayout uint32

const (
	ImageLayoutUndefined ImageLayout = iota
	ImageLayoutGeneral
	ImageLayoutColorAttachment
	ImageLayoutDepthStencilAttachment
	ImageLayoutShaderReadOnly
	ImageLayoutTransferSrc
	ImageLayoutTransferDst
	ImageLayoutPresentSrc
)

// Access is a bitmask of memory access types used in barriers.
type Access uint32

const (
	AccessNone Access = 0
)

const (
	AccessShaderRead Access = 1 << iota
	AccessShaderWrite
	AccessTransferRead
	AccessTransferWrite
	AccessColorAttachmentWrite
	AccessDepthStencilAttachmentWrite
	AccessAccelerationStructureRead
	AccessAccelerationStructureWrite
)

// PipelineStage is a bitmask of pipeline stages used in barriers and submits.
type PipelineStage uint32

const (
	PipelineStageTopOfPipe PipelineStage = 1 << iota
	PipelineStageTransfer
	PipelineStageFragmentShader
	PipelineStageEarlyFragmentTests
	PipelineStageColorAttachmentOutput
	PipelineStageRayTracingShader
	PipelineStageAccelerationStructureBuild
	PipelineStageBottomOfPipe
	PipelineStageAllCommands
)

// IndexType is the integer width of an index buffer element.
type IndexType uint32

const (
	IndexTypeUint16 IndexType = iota
	IndexTypeUint32
	IndexTypeUint8
)

// Size returns the element size in bytes.
func (t IndexType) Size() int {
	switch t {
	case IndexTypeUint8:
		return 1
	case IndexTypeUint16:
		return 2
	}
	return 4
}

// ShaderStage is a bitmask of shader stages.
type ShaderStage uint32

const (
	ShaderStageVertex ShaderStage = 1 << iota
	ShaderStageFragment
	ShaderStageRaygen
	ShaderStageAnyHit
	ShaderStageClosestHit
	ShaderStageMiss
	ShaderStageIntersection
	ShaderStageCallable
)

var shaderStageNames = []string{"vertex", "fragment", "raygen", "anyhit", "closesthit", "miss", "intersection", "callable"}

func (s ShaderStage) String() string {
	var names []string
	for i, n := range shaderStageNames {
		if s&(1<<i) != 0 {
			names = append(names, n)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}

// DescriptorType is the kind of resource a descriptor binding references.
type DescriptorType uint32

const (
	DescriptorTypeUniformBuffer DescriptorType = iota
	DescriptorTypeStorageBuffer
	DescriptorTypeCombinedImageSampler
	DescriptorTypeStorageImage
	DescriptorTypeAccelerationStructure
)

func (t DescriptorType) String() string {
	switch t {
	case DescriptorTypeUniformBuffer:
		return "uniform-buffer"
	case DescriptorTypeStorageBuffer:
		return "storage-buffer"
	case DescriptorTypeCombinedImageSampler:
		return "combined-image-sampler"
	case DescriptorTypeStorageImage:
		return "storage-image"
	case DescriptorTypeAccelerationStructure:
		return "acceleration-structure"
	}
	return "unknown"
}

// BindPoint selects the pipeline type commands bind to.
type BindPoint uint32

const (
	BindPointGraphics BindPoint = iota
	BindPointRayTracing
)

// AccelerationStructureType distinguishes geometry (bottom) from instance (top) structures.
type AccelerationStructureType uint32

const (
	AccelerationStructureBottomLevel AccelerationStructureType = iota
	AccelerationStructureTopLevel
)

func (t AccelerationStructureType) String() string {
	if t == AccelerationStructureTopLevel {
		return "TLAS"
	}
	return "BLAS"
}

// BuildFlags tune an acceleration structure build.
type BuildFlags uint32

const (
	BuildPreferFastTrace BuildFlags = 1 << iota
	BuildPreferFastBuild
	BuildAllowUpdate
)

// GeometryFlags describe a geometry inside a build.
type GeometryFlags uint32

const (
	GeometryOpaque GeometryFlags = 1 << iota
	GeometryNoDuplicateAnyHit
)

// GeometryInstanceFlags is the 8-bit flag field of a TLAS instance record.
// The values match the device encoding and are written to the record verbatim.
type GeometryInstanceFlags uint8

const (
	InstanceTriangleFacingCullDisable GeometryInstanceFlags = 0x1
	InstanceTriangleFlipFacing        GeometryInstanceFlags = 0x2
	InstanceForceOpaque               GeometryInstanceFlags = 0x4
	InstanceForceNoOpaque             GeometryInstanceFlags = 0x8
)

// Extent2D is a width and height in pixels.
type Extent2D struct {
	Width  uint32
	Height uint32
}

// Empty reports whether either dimension is zero, e.g. for a minimized window.
func (e Extent2D) Empty() bool {
	return e.Width == 0 || e.Height == 0
}

// Capabilities describes what the device was created with.
type Capabilities struct {
	RayTracing       bool
	MaxAnisotropy    float32
	MinUniformOffset uint64
}

// RayTracingProperties are the shader group handle limits reported by the device.
type RayTracingProperties struct {
	ShaderGroupHandleSize      uint32
	ShaderGroupHandleAlignment uint32
	ShaderGroupBaseAlignment   uint32
	MaxRayRecursionDepth       uint32
}

// BufferDesc describes a buffer to create.
type BufferDesc struct {
	Label  string
	Size   uint64
	Usage  BufferUsage
	Memory MemoryProperty
}

// BufferCopy is one region of a buffer to buffer copy.
type BufferCopy struct {
	SrcOffset uint64
	DstOffset uint64
	Size      uint64
}

// ImageDesc describes a 2D image to create together with its memory.
type ImageDesc struct {
	Label     string
	Extent    Extent2D
	Format    Format
	Usage     ImageUsage
	MipLevels uint32
	Memory    MemoryProperty
}

// ImageViewDesc describes a 2D view over an image.
type ImageViewDesc struct {
	Format    Format
	Aspect    ImageAspect
	MipLevels uint32
}

// SamplerDesc describes a sampler.
type SamplerDesc struct {
	Linear        bool
	Repeat        bool
	MaxAnisotropy float32
	MipLevels     uint32
}

// ImageBarrier is a layout transition with its access and stage scopes.
type ImageBarrier struct {
	Image        ImageID
	Aspect       ImageAspect
	OldLayout    ImageLayout
	NewLayout    ImageLayout
	SrcAccess    Access
	DstAccess    Access
	SrcStage     PipelineStage
	DstStage     PipelineStage
	BaseMipLevel uint32
	LevelCount   uint32
}

// ImageBlit copies a region between images, scaling if the extents differ.
type ImageBlit struct {
	SrcExtent Extent2D
	DstExtent Extent2D
	SrcMip    uint32
	DstMip    uint32
	Linear    bool
}

// Triangles is the geometry input of a bottom level build.
type Triangles struct {
	VertexData   DeviceAddress
	VertexFormat Format
	VertexStride uint64
	MaxVertex    uint32
	IndexData    DeviceAddress
	IndexType    IndexType
}

// Instances is the geometry input of a top level build. Data points at an
// array of 64-byte instance records.
type Instances struct {
	Data DeviceAddress
}

// Geometry holds exactly one of Triangles or Instances.
type Geometry struct {
	Triangles *Triangles
	Instances *Instances
	Flags     GeometryFlags
}

// BuildGeometryInfo describes one acceleration structure build.
type BuildGeometryInfo struct {
	Type        AccelerationStructureType
	Flags       BuildFlags
	Geometry    Geometry
	Dst         AccelerationStructureID
	ScratchData DeviceAddress
}

// BuildSizes is the memory a build needs, as reported by the device.
type BuildSizes struct {
	AccelerationStructureSize uint64
	BuildScratchSize          uint64
	// ScratchAlignment is the alignment the scratch address must have.
	ScratchAlignment uint64
}

// StridedRegion is one shader binding table region.
type StridedRegion struct {
	DeviceAddress DeviceAddress
	Stride        uint64
	Size          uint64
}

// ShaderBindingRegions are the four regions consumed by a ray dispatch.
type ShaderBindingRegions struct {
	Raygen   StridedRegion
	Miss     StridedRegion
	Hit      StridedRegion
	Callable StridedRegion
}

// SubmitInfo is a single command buffer submission with at most one wait and
// one signal semaphore.
type SubmitInfo struct {
	CommandBuffer CommandBufferID
	Wait          SemaphoreID
	WaitStage     PipelineStage
	Signal        SemaphoreID
	Fence         FenceID
}

// DescriptorBinding is one binding of a descriptor set layout.
type DescriptorBinding struct {
	Binding uint32
	Type    DescriptorType
	Count   uint32
	Stages  ShaderStage
}

// DescriptorPoolSize is the number of descriptors of one type a pool can hand out.
type DescriptorPoolSize struct {
	Type  DescriptorType
	Count uint32
}

// DescriptorWrite updates one binding of one set. Which resource fields are
// read depends on Type.
type DescriptorWrite struct {
	Set     DescriptorSetID
	Binding uint32
	Type    DescriptorType

	Buffer BufferID
	Offset uint64
	Range  uint64

	ImageView   ImageViewID
	Sampler     SamplerID
	ImageLayout ImageLayout

	AccelerationStructure AccelerationStructureID
}

// PushConstantRange is a push constant block visible to Stages.
type PushConstantRange struct {
	Stages ShaderStage
	Offset uint32
	Size   uint32
}

// ShaderUnused marks an unused shader index in a shader group.
const ShaderUnused = ^uint32(0)

// ShaderGroupType is the kind of a ray tracing shader group.
type ShaderGroupType uint32

const (
	ShaderGroupGeneral ShaderGroupType = iota
	ShaderGroupTrianglesHit
)

// ShaderGroup references pipeline stages by index.
type ShaderGroup struct {
	Type         ShaderGroupType
	General      uint32
	ClosestHit   uint32
	AnyHit       uint32
	Intersection uint32
}

// ShaderStageDesc is one stage of a pipeline.
type ShaderStageDesc struct {
	Stage  ShaderStage
	Module ShaderModuleID
	Entry  string
}

// RayTracingPipelineDesc describes a ray tracing pipeline. Groups are created
// in order and their handles are fetched in the same order.
type RayTracingPipelineDesc struct {
	Layout            PipelineLayoutID
	Stages            []ShaderStageDesc
	Groups            []ShaderGroup
	MaxRecursionDepth uint32
}

// VertexAttribute is one attribute of the single interleaved vertex binding.
type VertexAttribute struct {
	Location uint32
	Format   Format
	Offset   uint32
}

// GraphicsPipelineDesc describes a graphics pipeline with dynamic viewport and scissor.
type GraphicsPipelineDesc struct {
	Layout       PipelineLayoutID
	RenderPass   RenderPassID
	Stages       []ShaderStageDesc
	VertexStride uint32
	Attributes   []VertexAttribute
	CullBack     bool
	DepthTest    bool
}

// RenderPassDesc describes a single subpass render pass with one color
// attachment and an optional depth attachment.
type RenderPassDesc struct {
	ColorFormat Format
	DepthFormat Format
	FinalLayout ImageLayout
}

// ClearValue clears a color or a depth attachment.
type ClearValue struct {
	Color   [4]float32
	Depth   float32
	Stencil uint32
	IsDepth bool
}

// SwapchainDesc describes the presentable images to create.
type SwapchainDesc struct {
	Extent          Extent2D
	Usage           ImageUsage
	PreferredFormat Format
	VSync           bool
}

// SwapchainImages are the images of a swapchain. The images are owned by the
// swapchain; the views are created with it and destroyed with it.
type SwapchainImages struct {
	Format Format
	Extent Extent2D
	Images []ImageID
	Views  []ImageViewID
}
