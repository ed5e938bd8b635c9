// Package uniform provides a per-frame uniform buffer for any plain value type.
package uniform

import (
	"fmt"

	"github.com/spaghettifunk/lumen/engine/renderer/descriptors"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

// Buffer holds one T per frame slot in a single host visible buffer. Each
// slot starts at a multiple of the device's minimum uniform offset alignment,
// so a slot can be bound on its own. T must not contain pointers.
type Buffer[T any] struct {
	dev    gpu.BufferAllocator
	id     gpu.BufferID
	size   uint64
	stride uint64
	frames int
}

// New allocates frames slots of T. alignment is the minimum uniform offset
// alignment of the device; zero means tightly packed.
func New[T any](dev gpu.BufferAllocator, label string, frames int, alignment uint64) (*Buffer[T], error) {
	if frames <= 0 {
		return nil, fmt.Errorf("uniform buffer %s for %d frames", label, frames)
	}
	size := gpu.SizeOf[T]()
	if size == 0 {
		return nil, fmt.Errorf("uniform buffer %s of a zero sized type", label)
	}
	stride := gpu.AlignUp(size, alignment)
	id, err := dev.CreateBuffer(&gpu.BufferDesc{
		Label:  label,
		Size:   stride * uint64(frames),
		Usage:  gpu.BufferUsageUniform,
		Memory: gpu.MemoryHostVisibleCoherent,
	})
	if err != nil {
		return nil, err
	}
	return &Buffer[T]{dev: dev, id: id, size: size, stride: stride, frames: frames}, nil
}

// Update writes v into the slot of frame.
func (b *Buffer[T]) Update(frame int, v *T) error {
	if frame < 0 || frame >= b.frames {
		return fmt.Errorf("uniform frame %d out of range [0,%d)", frame, b.frames)
	}
	return b.dev.WriteBuffer(b.id, uint64(frame)*b.stride, gpu.ValueBytes(v))
}

// Resource returns the descriptor resource for the slot of frame.
func (b *Buffer[T]) Resource(frame int) descriptors.Resource {
	return descriptors.Resource{Buffer: b.id, Offset: uint64(frame) * b.stride, Range: b.size}
}

// Stride is the distance in bytes between two frame slots.
func (b *Buffer[T]) Stride() uint64 {
	return b.stride
}

func (b *Buffer[T]) ID() gpu.BufferID {
	return b.id
}

func (b *Buffer[T]) Destroy() {
	if b.id == gpu.InvalidID {
		return
	}
	b.dev.DestroyBuffer(b.id)
	b.id = gpu.InvalidID
}
