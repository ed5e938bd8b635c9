package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

type VulkanCommandBufferState int

const (
	COMMAND_BUFFER_STATE_READY VulkanCommandBufferState = iota
	COMMAND_BUFFER_STATE_RECORDING
	COMMAND_BUFFER_STATE_IN_RENDER_PASS
	COMMAND_BUFFER_STATE_RECORDING_ENDED
	COMMAND_BUFFER_STATE_SUBMITTED
	COMMAND_BUFFER_STATE_NOT_ALLOCATED
)

type VulkanCommandBuffer struct {
	Handle vk.CommandBuffer
	// Command buffer state.
	State VulkanCommandBufferState

	encoder *commandEncoder
}

// NewVulkanCommandBuffer allocates a primary command buffer from pool.
func NewVulkanCommandBuffer(context *VulkanContext, pool vk.CommandPool) (*VulkanCommandBuffer, error) {
	allocateInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        pool,
		CommandBufferCount: 1,
		Level:              vk.CommandBufferLevelPrimary,
	}
	handles := make([]vk.CommandBuffer, 1)
	err := context.locks.SafeCall(CommandBufferManagement, func() error {
		return resultError(vk.AllocateCommandBuffers(context.Device.LogicalDevice, &allocateInfo, handles), "vkAllocateCommandBuffers")
	})
	if err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	return &VulkanCommandBuffer{
		Handle: handles[0],
		State:  COMMAND_BUFFER_STATE_READY,
	}, nil
}

func (v *VulkanCommandBuffer) Free(context *VulkanContext, pool vk.CommandPool) {
	if v.Handle == nil {
		return
	}
	_ = context.locks.SafeCall(CommandBufferManagement, func() error {
		vk.FreeCommandBuffers(context.Device.LogicalDevice, pool, 1, []vk.CommandBuffer{v.Handle})
		return nil
	})
	v.Handle = nil
	v.State = COMMAND_BUFFER_STATE_NOT_ALLOCATED
}

func (v *VulkanCommandBuffer) Begin(isSingleUse, isRenderpassContinue, isSimultaneousUse bool) error {
	beginInfo := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
	}
	if isSingleUse {
		beginInfo.Flags |= vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit)
	}
	if isRenderpassContinue {
		beginInfo.Flags |= vk.CommandBufferUsageFlags(vk.CommandBufferUsageRenderPassContinueBit)
	}
	if isSimultaneousUse {
		beginInfo.Flags |= vk.CommandBufferUsageFlags(vk.CommandBufferUsageSimultaneousUseBit)
	}
	if err := resultError(vk.BeginCommandBuffer(v.Handle, &beginInfo), "vkBeginCommandBuffer"); err != nil {
		core.LogError(err.Error())
		return err
	}
	v.State = COMMAND_BUFFER_STATE_RECORDING
	return nil
}

func (v *VulkanCommandBuffer) End() error {
	if err := resultError(vk.EndCommandBuffer(v.Handle), "vkEndCommandBuffer"); err != nil {
		core.LogError(err.Error())
		return err
	}
	v.State = COMMAND_BUFFER_STATE_RECORDING_ENDED
	return nil
}

func (v *VulkanCommandBuffer) UpdateSubmitted() {
	v.State = COMMAND_BUFFER_STATE_SUBMITTED
}

func (v *VulkanCommandBuffer) Reset() {
	v.State = COMMAND_BUFFER_STATE_READY
}

func (vb *VulkanBackend) AllocateCommandBuffer() (gpu.CommandBufferID, error) {
	cb, err := NewVulkanCommandBuffer(vb.context, vb.context.Device.GraphicsCommandPool)
	if err != nil {
		return gpu.InvalidID, err
	}
	return gpu.CommandBufferID(vb.commandBuffers.add(cb)), nil
}

func (vb *VulkanBackend) FreeCommandBuffer(id gpu.CommandBufferID) {
	if cb, ok := vb.commandBuffers.remove(uint64(id)); ok {
		cb.Free(vb.context, vb.context.Device.GraphicsCommandPool)
	}
}

func (vb *VulkanBackend) BeginCommandBuffer(id gpu.CommandBufferID, oneTimeSubmit bool) (gpu.CommandEncoder, error) {
	cb, err := vb.commandBuffers.get(uint64(id))
	if err != nil {
		return nil, err
	}
	if cb.State == COMMAND_BUFFER_STATE_RECORDING || cb.State == COMMAND_BUFFER_STATE_IN_RENDER_PASS {
		return nil, fmt.Errorf("command buffer %d is already recording", id)
	}
	if err := cb.Begin(oneTimeSubmit, false, false); err != nil {
		return nil, err
	}
	cb.encoder = &commandEncoder{backend: vb, cb: cb}
	return cb.encoder, nil
}

// EndCommandBuffer reports the first recording error before ending.
func (vb *VulkanBackend) EndCommandBuffer(id gpu.CommandBufferID) error {
	cb, err := vb.commandBuffers.get(uint64(id))
	if err != nil {
		return err
	}
	var recordErr error
	if cb.encoder != nil {
		recordErr = cb.encoder.err
		cb.encoder.ended = true
		cb.encoder = nil
	}
	if err := cb.End(); err != nil {
		return err
	}
	if recordErr != nil {
		return fmt.Errorf("recording command buffer %d: %w", id, recordErr)
	}
	return nil
}

func (vb *VulkanBackend) ResetCommandBuffer(id gpu.CommandBufferID) error {
	cb, err := vb.commandBuffers.get(uint64(id))
	if err != nil {
		return err
	}
	if err := resultError(vk.ResetCommandBuffer(cb.Handle, 0), "vkResetCommandBuffer"); err != nil {
		return err
	}
	cb.encoder = nil
	cb.Reset()
	return nil
}

func (vb *VulkanBackend) Submit(info *gpu.SubmitInfo) error {
	cb, err := vb.commandBuffers.get(uint64(info.CommandBuffer))
	if err != nil {
		return err
	}
	submit := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{cb.Handle},
	}
	if info.Wait != gpu.InvalidID {
		wait, err := vb.semaphores.get(uint64(info.Wait))
		if err != nil {
			return err
		}
		submit.WaitSemaphoreCount = 1
		submit.PWaitSemaphores = []vk.Semaphore{wait}
		submit.PWaitDstStageMask = []vk.PipelineStageFlags{toStage(info.WaitStage)}
	}
	if info.Signal != gpu.InvalidID {
		signal, err := vb.semaphores.get(uint64(info.Signal))
		if err != nil {
			return err
		}
		submit.SignalSemaphoreCount = 1
		submit.PSignalSemaphores = []vk.Semaphore{signal}
	}
	fenceHandle := vk.NullFence
	var fence *VulkanFence
	if info.Fence != gpu.InvalidID {
		if fence, err = vb.fences.get(uint64(info.Fence)); err != nil {
			return err
		}
		fenceHandle = fence.Handle
	}

	if err := resultError(vk.QueueSubmit(vb.context.Device.Queue, 1, []vk.SubmitInfo{submit}, fenceHandle), "vkQueueSubmit"); err != nil {
		core.LogError(err.Error())
		return err
	}
	if fence != nil {
		fence.markSubmitted()
	}
	cb.UpdateSubmitted()
	return nil
}

func (vb *VulkanBackend) QueueWaitIdle() error {
	return resultError(vk.QueueWaitIdle(vb.context.Device.Queue), "vkQueueWaitIdle")
}

func (vb *VulkanBackend) DeviceWaitIdle() error {
	return resultError(vk.DeviceWaitIdle(vb.device()), "vkDeviceWaitIdle")
}
