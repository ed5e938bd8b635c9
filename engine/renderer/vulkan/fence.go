package vulkan

import (
	"time"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

type VulkanFence struct {
	Handle     vk.Fence
	IsSignaled bool
}

func NewFence(context *VulkanContext, createSignaled bool) (*VulkanFence, error) {
	fence := &VulkanFence{
		// Make sure to signal the fence if required.
		IsSignaled: createSignaled,
	}

	fenceCreateInfo := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}
	if fence.IsSignaled {
		fenceCreateInfo.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}

	if err := resultError(vk.CreateFence(context.Device.LogicalDevice, &fenceCreateInfo, context.Allocator, &fence.Handle), "vkCreateFence"); err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	return fence, nil
}

func (vf *VulkanFence) FenceDestroy(context *VulkanContext) {
	if vf.Handle != vk.NullFence {
		vk.DestroyFence(context.Device.LogicalDevice, vf.Handle, context.Allocator)
		vf.Handle = vk.NullFence
	}
	vf.IsSignaled = false
}

// FenceWait returns immediately for a fence already known to be signaled.
func (vf *VulkanFence) FenceWait(context *VulkanContext, timeoutNs uint64) error {
	if vf.IsSignaled {
		return nil
	}
	result := vk.WaitForFences(context.Device.LogicalDevice, 1, []vk.Fence{vf.Handle}, vk.True, timeoutNs)
	switch result {
	case vk.Success:
		vf.IsSignaled = true
		return nil
	case vk.Timeout:
		core.LogWarn("vk_fence_wait - Timed out")
	default:
		core.LogError("vk_fence_wait - %s", VulkanResultString(result, false))
	}
	return resultError(result, "vkWaitForFences")
}

func (vf *VulkanFence) FenceReset(context *VulkanContext) error {
	if err := resultError(vk.ResetFences(context.Device.LogicalDevice, 1, []vk.Fence{vf.Handle}), "vkResetFences"); err != nil {
		core.LogError(err.Error())
		return err
	}
	vf.IsSignaled = false
	return nil
}

// markSubmitted clears the signaled cache once the fence is handed to a submit.
func (vf *VulkanFence) markSubmitted() {
	vf.IsSignaled = false
}

func (vb *VulkanBackend) CreateFence(signaled bool) (gpu.FenceID, error) {
	fence, err := NewFence(vb.context, signaled)
	if err != nil {
		return gpu.InvalidID, err
	}
	return gpu.FenceID(vb.fences.add(fence)), nil
}

func (vb *VulkanBackend) DestroyFence(id gpu.FenceID) {
	if fence, ok := vb.fences.remove(uint64(id)); ok {
		fence.FenceDestroy(vb.context)
	}
}

func (vb *VulkanBackend) WaitFence(id gpu.FenceID, timeout time.Duration) error {
	fence, err := vb.fences.get(uint64(id))
	if err != nil {
		return err
	}
	return fence.FenceWait(vb.context, uint64(max(timeout, 0)))
}

func (vb *VulkanBackend) ResetFence(id gpu.FenceID) error {
	fence, err := vb.fences.get(uint64(id))
	if err != nil {
		return err
	}
	return fence.FenceReset(vb.context)
}

func (vb *VulkanBackend) CreateSemaphore() (gpu.SemaphoreID, error) {
	info := vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}
	var semaphore vk.Semaphore
	if err := resultError(vk.CreateSemaphore(vb.device(), &info, vb.context.Allocator, &semaphore), "vkCreateSemaphore"); err != nil {
		core.LogError(err.Error())
		return gpu.InvalidID, err
	}
	return gpu.SemaphoreID(vb.semaphores.add(semaphore)), nil
}

func (vb *VulkanBackend) DestroySemaphore(id gpu.SemaphoreID) {
	if semaphore, ok := vb.semaphores.remove(uint64(id)); ok {
		vk.DestroySemaphore(vb.device(), semaphore, vb.context.Allocator)
	}
}
