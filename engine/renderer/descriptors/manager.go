// Package descriptors owns the per-frame descriptor sets of a front end.
package descriptors

import (
	"errors"
	"fmt"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

// ErrMissingResource is returned when a write would bind an invalid handle.
var ErrMissingResource = errors.New("descriptor write references a missing resource")

// Resource is what one binding of one frame points at. Which fields are read
// depends on the binding type.
type Resource struct {
	Buffer gpu.BufferID
	Offset uint64
	Range  uint64

	ImageView   gpu.ImageViewID
	Sampler     gpu.SamplerID
	ImageLayout gpu.ImageLayout

	AccelerationStructure gpu.AccelerationStructureID
}

// Resolver returns the resource a binding of a frame must reference.
type Resolver func(frame int, binding gpu.DescriptorBinding) Resource

// Manager holds one layout, one pool sized for exactly frames sets and one set per frame.
type Manager struct {
	dev      gpu.Descriptors
	bindings []gpu.DescriptorBinding
	layout   gpu.DescriptorSetLayoutID
	pool     gpu.DescriptorPoolID
	sets     []gpu.DescriptorSetID
	// generations counts full rewrites per frame.
	generations []uint32
}

// RayTracingBindings is the set layout of the ray tracing front end: the
// canvas storage image, the TLAS and the camera uniform.
func RayTracingBindings() []gpu.DescriptorBinding {
	return []gpu.DescriptorBinding{
		{Binding: 0, Type: gpu.DescriptorTypeStorageImage, Count: 1, Stages: gpu.ShaderStageRaygen},
		{Binding: 1, Type: gpu.DescriptorTypeAccelerationStructure, Count: 1, Stages: gpu.ShaderStageRaygen | gpu.ShaderStageClosestHit},
		{Binding: 2, Type: gpu.DescriptorTypeUniformBuffer, Count: 1, Stages: gpu.ShaderStageRaygen},
	}
}

// RasterBindings is the set layout of the raster front end: the MVP uniform
// and the texture sampler.
func RasterBindings() []gpu.DescriptorBinding {
	return []gpu.DescriptorBinding{
		{Binding: 0, Type: gpu.DescriptorTypeUniformBuffer, Count: 1, Stages: gpu.ShaderStageVertex},
		{Binding: 1, Type: gpu.DescriptorTypeCombinedImageSampler, Count: 1, Stages: gpu.ShaderStageFragment},
	}
}

// PoolSizes returns the descriptor counts per type for frames sets of bindings.
func PoolSizes(bindings []gpu.DescriptorBinding, frames int) []gpu.DescriptorPoolSize {
	var sizes []gpu.DescriptorPoolSize
	index := map[gpu.DescriptorType]int{}
	for _, b := range bindings {
		count := b.Count
		if count == 0 {
			count = 1
		}
		i, ok := index[b.Type]
		if !ok {
			i = len(sizes)
			index[b.Type] = i
			sizes = append(sizes, gpu.DescriptorPoolSize{Type: b.Type})
		}
		sizes[i].Count += count * uint32(frames)
	}
	return sizes
}

func NewManager(dev gpu.Descriptors, bindings []gpu.DescriptorBinding, frames int) (*Manager, error) {
	if frames <= 0 {
		return nil, fmt.Errorf("descriptor manager for %d frames", frames)
	}
	m := &Manager{
		dev:         dev,
		bindings:    append([]gpu.DescriptorBinding(nil), bindings...),
		generations: make([]uint32, frames),
	}

	var err error
	if m.layout, err = dev.CreateDescriptorSetLayout(m.bindings); err != nil {
		core.LogError("failed to create descriptor set layout: %v", err)
		return nil, err
	}
	if m.pool, err = dev.CreateDescriptorPool(PoolSizes(m.bindings, frames), uint32(frames)); err != nil {
		dev.DestroyDescriptorSetLayout(m.layout)
		core.LogError("failed to create descriptor pool: %v", err)
		return nil, err
	}
	layouts := make([]gpu.DescriptorSetLayoutID, frames)
	for i := range layouts {
		layouts[i] = m.layout
	}
	if m.sets, err = dev.AllocateDescriptorSets(m.pool, layouts); err != nil {
		m.Destroy()
		core.LogError("failed to allocate descriptor sets: %v", err)
		return nil, err
	}
	return m, nil
}

// Layout returns the set layout shared by every frame.
func (m *Manager) Layout() gpu.DescriptorSetLayoutID {
	return m.layout
}

// Set returns the descriptor set of a frame slot.
func (m *Manager) Set(frame int) gpu.DescriptorSetID {
	return m.sets[frame]
}

func (m *Manager) Frames() int {
	return len(m.sets)
}

// Generation returns how many times the set of frame has been fully written.
func (m *Manager) Generation(frame int) uint32 {
	return m.generations[frame]
}

func missing(b gpu.DescriptorBinding, r Resource) bool {
	switch b.Type {
	case gpu.DescriptorTypeUniformBuffer, gpu.DescriptorTypeStorageBuffer:
		return r.Buffer == gpu.InvalidID || r.Range == 0
	case gpu.DescriptorTypeCombinedImageSampler:
		return r.ImageView == gpu.InvalidID || r.Sampler == gpu.InvalidID
	case gpu.DescriptorTypeStorageImage:
		return r.ImageView == gpu.InvalidID
	case gpu.DescriptorTypeAccelerationStructure:
		return r.AccelerationStructure == gpu.InvalidID
	}
	return true
}

// Write rewrites every binding of every frame in one update. Nothing is
// written if any binding of any frame would reference a missing resource.
func (m *Manager) Write(resolve Resolver) error {
	writes := make([]gpu.DescriptorWrite, 0, len(m.sets)*len(m.bindings))
	for frame, set := range m.sets {
		for _, b := range m.bindings {
			r := resolve(frame, b)
			if missing(b, r) {
				return fmt.Errorf("%w: frame %d binding %d (%s)", ErrMissingResource, frame, b.Binding, b.Type)
			}
			layout := r.ImageLayout
			if layout == gpu.ImageLayoutUndefined {
				switch b.Type {
				case gpu.DescriptorTypeStorageImage:
					layout = gpu.ImageLayoutGeneral
				case gpu.DescriptorTypeCombinedImageSampler:
					layout = gpu.ImageLayoutShaderReadOnly
				}
			}
			writes = append(writes, gpu.DescriptorWrite{
				Set:                   set,
				Binding:               b.Binding,
				Type:                  b.Type,
				Buffer:                r.Buffer,
				Offset:                r.Offset,
				Range:                 r.Range,
				ImageView:             r.ImageView,
				Sampler:               r.Sampler,
				ImageLayout:           layout,
				AccelerationStructure: r.AccelerationStructure,
			})
		}
	}
	if err := m.dev.UpdateDescriptorSets(writes); err != nil {
		return fmt.Errorf("update descriptor sets: %w", err)
	}
	for i := range m.generations {
		m.generations[i]++
	}
	return nil
}

// Destroy frees the pool, which frees the sets, and the layout.
func (m *Manager) Destroy() {
	if m.pool != gpu.InvalidID {
		m.dev.DestroyDescriptorPool(m.pool)
		m.pool = gpu.InvalidID
	}
	if m.layout != gpu.InvalidID {
		m.dev.DestroyDescriptorSetLayout(m.layout)
		m.layout = gpu.InvalidID
	}
	m.sets = nil
}
