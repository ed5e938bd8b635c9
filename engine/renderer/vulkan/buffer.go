package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

type VulkanBuffer struct {
	Handle vk.Buffer
	Memory vk.DeviceMemory
	Size   uint64
	Usage  gpu.BufferUsage
	// coherent memory needs no flush after writes or invalidate before reads.
	coherent bool
	label    string
}

func (b *VulkanBuffer) Destroy(context *VulkanContext) {
	if b.Handle != vk.NullBuffer {
		vk.DestroyBuffer(context.Device.LogicalDevice, b.Handle, context.Allocator)
		b.Handle = vk.NullBuffer
	}
	if b.Memory != vk.NullDeviceMemory {
		vk.FreeMemory(context.Device.LogicalDevice, b.Memory, context.Allocator)
		b.Memory = vk.NullDeviceMemory
	}
}

func (vb *VulkanBackend) CreateBuffer(desc *gpu.BufferDesc) (gpu.BufferID, error) {
	if desc.Size == 0 {
		return gpu.InvalidID, fmt.Errorf("buffer %q: size must be positive", desc.Label)
	}
	addressable := desc.Usage.Has(gpu.BufferUsageShaderDeviceAddress)
	if addressable && vb.context.khr == nil {
		return gpu.InvalidID, fmt.Errorf("buffer %q with device address: %w", desc.Label, gpu.ErrNotSupported)
	}

	buffer := &VulkanBuffer{
		Size:     desc.Size,
		Usage:    desc.Usage,
		coherent: desc.Memory.Has(gpu.MemoryHostCoherent),
		label:    desc.Label,
	}
	info := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(desc.Size),
		Usage:       toBufferUsage(desc.Usage),
		SharingMode: vk.SharingModeExclusive,
	}
	if err := resultError(vk.CreateBuffer(vb.device(), &info, vb.context.Allocator, &buffer.Handle), "vkCreateBuffer"); err != nil {
		core.LogError("buffer %q: %s", desc.Label, err)
		return gpu.InvalidID, err
	}

	var reqs vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(vb.device(), buffer.Handle, &reqs)
	reqs.Deref()

	memory, err := vb.context.allocate(reqs, toMemoryProperty(desc.Memory), addressable)
	if err != nil {
		buffer.Destroy(vb.context)
		return gpu.InvalidID, fmt.Errorf("buffer %q: %w", desc.Label, err)
	}
	buffer.Memory = memory
	if err := resultError(vk.BindBufferMemory(vb.device(), buffer.Handle, buffer.Memory, 0), "vkBindBufferMemory"); err != nil {
		buffer.Destroy(vb.context)
		return gpu.InvalidID, err
	}

	return gpu.BufferID(vb.buffers.add(buffer)), nil
}

func (vb *VulkanBackend) DestroyBuffer(id gpu.BufferID) {
	if buffer, ok := vb.buffers.remove(uint64(id)); ok {
		buffer.Destroy(vb.context)
	}
}

// mapped maps a host visible buffer for the duration of fn and hands it the
// [offset, offset+size) window. The whole allocation is mapped so flushes can
// cover it without atom alignment.
func (vb *VulkanBackend) mapped(id gpu.BufferID, offset uint64, size int, fn func(buffer *VulkanBuffer, mem []byte)) error {
	buffer, err := vb.buffers.get(uint64(id))
	if err != nil {
		return err
	}
	if offset+uint64(size) > buffer.Size {
		return fmt.Errorf("buffer %q: range [%d, %d) exceeds size %d", buffer.label, offset, offset+uint64(size), buffer.Size)
	}
	if size == 0 {
		return nil
	}
	var data unsafe.Pointer
	if err := resultError(vk.MapMemory(vb.device(), buffer.Memory, 0, wholeSize, 0, &data), "vkMapMemory"); err != nil {
		return err
	}
	defer vk.UnmapMemory(vb.device(), buffer.Memory)
	fn(buffer, unsafe.Slice((*byte)(unsafe.Add(data, offset)), size))
	return nil
}

func (vb *VulkanBackend) WriteBuffer(id gpu.BufferID, offset uint64, data []byte) error {
	var flushErr error
	err := vb.mapped(id, offset, len(data), func(buffer *VulkanBuffer, mem []byte) {
		copy(mem, data)
		if !buffer.coherent {
			flushErr = resultError(vk.FlushMappedMemoryRanges(vb.device(), 1, []vk.MappedMemoryRange{{
				SType:  vk.StructureTypeMappedMemoryRange,
				Memory: buffer.Memory,
				Offset: 0,
				Size:   wholeSize,
			}}), "vkFlushMappedMemoryRanges")
		}
	})
	if err != nil {
		return err
	}
	return flushErr
}

func (vb *VulkanBackend) ReadBuffer(id gpu.BufferID, offset uint64, data []byte) error {
	var invalidateErr error
	err := vb.mapped(id, offset, len(data), func(buffer *VulkanBuffer, mem []byte) {
		if !buffer.coherent {
			invalidateErr = resultError(vk.InvalidateMappedMemoryRanges(vb.device(), 1, []vk.MappedMemoryRange{{
				SType:  vk.StructureTypeMappedMemoryRange,
				Memory: buffer.Memory,
				Offset: 0,
				Size:   wholeSize,
			}}), "vkInvalidateMappedMemoryRanges")
		}
		copy(data, mem)
	})
	if err != nil {
		return err
	}
	return invalidateErr
}

func (vb *VulkanBackend) BufferDeviceAddress(id gpu.BufferID) (gpu.DeviceAddress, error) {
	buffer, err := vb.buffers.get(uint64(id))
	if err != nil {
		return 0, err
	}
	if !buffer.Usage.Has(gpu.BufferUsageShaderDeviceAddress) || vb.context.khr == nil {
		return 0, fmt.Errorf("buffer %q has no device address: %w", buffer.label, gpu.ErrNotSupported)
	}
	return vb.context.khr.bufferAddress(buffer.Handle), nil
}
