package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

// VulkanDescriptorPool remembers the sets it handed out; they are released
// with the pool.
type VulkanDescriptorPool struct {
	Handle vk.DescriptorPool
	sets   []uint64
}

func (p *VulkanDescriptorPool) Destroy(context *VulkanContext) {
	if p.Handle == vk.NullDescriptorPool {
		return
	}
	_ = context.locks.SafeCall(DescriptorManagement, func() error {
		vk.DestroyDescriptorPool(context.Device.LogicalDevice, p.Handle, context.Allocator)
		return nil
	})
	p.Handle = vk.NullDescriptorPool
	p.sets = nil
}

func (vb *VulkanBackend) CreateDescriptorSetLayout(bindings []gpu.DescriptorBinding) (gpu.DescriptorSetLayoutID, error) {
	vkBindings := make([]vk.DescriptorSetLayoutBinding, len(bindings))
	for i, b := range bindings {
		vkBindings[i] = vk.DescriptorSetLayoutBinding{
			Binding:         b.Binding,
			DescriptorType:  toDescriptorType(b.Type),
			DescriptorCount: max(b.Count, 1),
			StageFlags:      toShaderStages(b.Stages),
		}
	}
	createInfo := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(vkBindings)),
		PBindings:    vkBindings,
	}
	var layout vk.DescriptorSetLayout
	if err := resultError(vk.CreateDescriptorSetLayout(vb.device(), &createInfo, vb.context.Allocator, &layout), "vkCreateDescriptorSetLayout"); err != nil {
		core.LogError(err.Error())
		return gpu.InvalidID, err
	}
	return gpu.DescriptorSetLayoutID(vb.setLayouts.add(layout)), nil
}

func (vb *VulkanBackend) DestroyDescriptorSetLayout(id gpu.DescriptorSetLayoutID) {
	if layout, ok := vb.setLayouts.remove(uint64(id)); ok {
		vk.DestroyDescriptorSetLayout(vb.device(), layout, vb.context.Allocator)
	}
}

func (vb *VulkanBackend) CreateDescriptorPool(sizes []gpu.DescriptorPoolSize, maxSets uint32) (gpu.DescriptorPoolID, error) {
	poolSizes := make([]vk.DescriptorPoolSize, len(sizes))
	for i, s := range sizes {
		poolSizes[i] = vk.DescriptorPoolSize{
			Type:            toDescriptorType(s.Type),
			DescriptorCount: s.Count,
		}
	}
	createInfo := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       maxSets,
		PoolSizeCount: uint32(len(poolSizes)),
		PPoolSizes:    poolSizes,
	}
	pool := &VulkanDescriptorPool{}
	if err := resultError(vk.CreateDescriptorPool(vb.device(), &createInfo, vb.context.Allocator, &pool.Handle), "vkCreateDescriptorPool"); err != nil {
		core.LogError(err.Error())
		return gpu.InvalidID, err
	}
	return gpu.DescriptorPoolID(vb.descriptorPools.add(pool)), nil
}

func (vb *VulkanBackend) DestroyDescriptorPool(id gpu.DescriptorPoolID) {
	pool, ok := vb.descriptorPools.remove(uint64(id))
	if !ok {
		return
	}
	for _, set := range pool.sets {
		vb.descriptorSets.remove(set)
	}
	pool.Destroy(vb.context)
}

func (vb *VulkanBackend) AllocateDescriptorSets(poolID gpu.DescriptorPoolID, layouts []gpu.DescriptorSetLayoutID) ([]gpu.DescriptorSetID, error) {
	pool, err := vb.descriptorPools.get(uint64(poolID))
	if err != nil {
		return nil, err
	}
	vkLayouts := make([]vk.DescriptorSetLayout, len(layouts))
	for i, id := range layouts {
		if vkLayouts[i], err = vb.setLayouts.get(uint64(id)); err != nil {
			return nil, err
		}
	}
	allocateInfo := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     pool.Handle,
		DescriptorSetCount: uint32(len(vkLayouts)),
		PSetLayouts:        vkLayouts,
	}
	sets := make([]vk.DescriptorSet, len(vkLayouts))
	err = vb.context.locks.SafeCall(DescriptorManagement, func() error {
		return resultError(vk.AllocateDescriptorSets(vb.device(), &allocateInfo, unsafe.SliceData(sets)), "vkAllocateDescriptorSets")
	})
	if err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	out := make([]gpu.DescriptorSetID, len(sets))
	for i, s := range sets {
		id := vb.descriptorSets.add(s)
		pool.sets = append(pool.sets, id)
		out[i] = gpu.DescriptorSetID(id)
	}
	return out, nil
}

// UpdateDescriptorSets validates every write before any is applied.
func (vb *VulkanBackend) UpdateDescriptorSets(writes []gpu.DescriptorWrite) error {
	type accelWrite struct {
		set     vk.DescriptorSet
		binding uint32
		accel   *VulkanAccelerationStructure
	}
	var (
		vkWrites []vk.WriteDescriptorSet
		accels   []accelWrite
	)
	for i := range writes {
		w := &writes[i]
		set, err := vb.descriptorSets.get(uint64(w.Set))
		if err != nil {
			return err
		}
		write := vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          set,
			DstBinding:      w.Binding,
			DstArrayElement: 0,
			DescriptorCount: 1,
			DescriptorType:  toDescriptorType(w.Type),
		}
		switch w.Type {
		case gpu.DescriptorTypeUniformBuffer, gpu.DescriptorTypeStorageBuffer:
			buffer, err := vb.buffers.get(uint64(w.Buffer))
			if err != nil {
				return err
			}
			rng := vk.DeviceSize(w.Range)
			if w.Range == 0 {
				rng = wholeSize
			}
			write.PBufferInfo = []vk.DescriptorBufferInfo{{
				Buffer: buffer.Handle,
				Offset: vk.DeviceSize(w.Offset),
				Range:  rng,
			}}
		case gpu.DescriptorTypeCombinedImageSampler, gpu.DescriptorTypeStorageImage:
			view, err := vb.views.get(uint64(w.ImageView))
			if err != nil {
				return err
			}
			info := vk.DescriptorImageInfo{
				ImageView:   view,
				ImageLayout: toLayout(w.ImageLayout),
			}
			if w.Type == gpu.DescriptorTypeCombinedImageSampler {
				if info.Sampler, err = vb.samplers.get(uint64(w.Sampler)); err != nil {
					return err
				}
			}
			write.PImageInfo = []vk.DescriptorImageInfo{info}
		case gpu.DescriptorTypeAccelerationStructure:
			if vb.context.khr == nil {
				return fmt.Errorf("acceleration structure descriptor: %w", gpu.ErrNotSupported)
			}
			accel, err := vb.accels.get(uint64(w.AccelerationStructure))
			if err != nil {
				return err
			}
			accels = append(accels, accelWrite{set: set, binding: w.Binding, accel: accel})
			continue
		default:
			return fmt.Errorf("descriptor write of type %s is not supported", w.Type)
		}
		vkWrites = append(vkWrites, write)
	}

	return vb.context.locks.SafeCall(DescriptorManagement, func() error {
		if len(vkWrites) > 0 {
			vk.UpdateDescriptorSets(vb.device(), uint32(len(vkWrites)), vkWrites, 0, nil)
		}
		for _, a := range accels {
			vb.context.khr.writeAccelerationStructure(a.set, a.binding, a.accel.Handle)
		}
		return nil
	})
}
