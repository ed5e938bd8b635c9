package vulkan

import (
	"fmt"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

// VulkanAccelerationStructure is a BLAS or TLAS placed in a caller owned
// storage buffer.
type VulkanAccelerationStructure struct {
	Handle  accelHandle
	Type    gpu.AccelerationStructureType
	Buffer  gpu.BufferID
	Size    uint64
	Address gpu.DeviceAddress
}

func (a *VulkanAccelerationStructure) Destroy(context *VulkanContext) {
	if a.Handle == nil || context.khr == nil {
		return
	}
	context.khr.destroyAccelerationStructure(a.Handle)
	a.Handle = nil
}

func (vb *VulkanBackend) AccelerationStructureBuildSizes(info *gpu.BuildGeometryInfo, primitiveCount uint32) (gpu.BuildSizes, error) {
	if vb.context.khr == nil {
		return gpu.BuildSizes{}, fmt.Errorf("acceleration structure build sizes: %w", gpu.ErrNotSupported)
	}
	sizes := vb.context.khr.buildSizes(info, primitiveCount)
	sizes.ScratchAlignment = vb.context.khr.scratchAlignment(vb.context.Device.PhysicalDevice)
	return sizes, nil
}

func (vb *VulkanBackend) CreateAccelerationStructure(typ gpu.AccelerationStructureType, bufferID gpu.BufferID, size uint64) (gpu.AccelerationStructureID, error) {
	if vb.context.khr == nil {
		return gpu.InvalidID, fmt.Errorf("create %s: %w", typ, gpu.ErrNotSupported)
	}
	buffer, err := vb.buffers.get(uint64(bufferID))
	if err != nil {
		return gpu.InvalidID, err
	}
	if !buffer.Usage.Has(gpu.BufferUsageAccelerationStructureStorage) {
		return gpu.InvalidID, fmt.Errorf("create %s: buffer %q lacks acceleration structure storage usage", typ, buffer.label)
	}
	if size > buffer.Size {
		return gpu.InvalidID, fmt.Errorf("create %s: size %d exceeds buffer size %d", typ, size, buffer.Size)
	}
	handle, err := vb.context.khr.createAccelerationStructure(typ, buffer.Handle, size)
	if err != nil {
		core.LogError(err.Error())
		return gpu.InvalidID, err
	}
	accel := &VulkanAccelerationStructure{
		Handle: handle,
		Type:   typ,
		Buffer: bufferID,
		Size:   size,
	}
	accel.Address = vb.context.khr.accelerationStructureAddress(handle)
	return gpu.AccelerationStructureID(vb.accels.add(accel)), nil
}

func (vb *VulkanBackend) AccelerationStructureDeviceAddress(id gpu.AccelerationStructureID) (gpu.DeviceAddress, error) {
	accel, err := vb.accels.get(uint64(id))
	if err != nil {
		return 0, err
	}
	return accel.Address, nil
}

func (vb *VulkanBackend) DestroyAccelerationStructure(id gpu.AccelerationStructureID) {
	if accel, ok := vb.accels.remove(uint64(id)); ok {
		accel.Destroy(vb.context)
	}
}
