package transfer

import (
	"errors"
	"fmt"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

// ErrEmptyUpload is returned when an upload has no items.
var ErrEmptyUpload = errors.New("upload of zero items")

// Device is the part of the GPU the stager needs.
type Device interface {
	gpu.BufferAllocator
	gpu.ImageAllocator
	gpu.CommandSubmitter
}

// Buffer is a GPU buffer with the item layout it was filled with.
// It has exactly one owner, which destroys it through Stager.Destroy.
type Buffer struct {
	ID     gpu.BufferID
	Label  string
	Size   uint64
	Count  int
	Stride uint64
	Usage  gpu.BufferUsage
}

// Stager moves data between host memory and device local buffers. Every
// operation is synchronous: it submits a one-shot command buffer and waits for
// the queue to go idle before returning.
type Stager struct {
	dev Device
}

func NewStager(dev Device) *Stager {
	return &Stager{dev: dev}
}

// Device returns the device the stager records on.
func (s *Stager) Device() Device {
	return s.dev
}

// Upload copies items into a new device local buffer with usage|TransferDst.
func Upload[T any](s *Stager, label string, usage gpu.BufferUsage, items []T) (*Buffer, error) {
	return s.UploadBytes(label, usage, gpu.AsBytes(items), len(items), gpu.SizeOf[T]())
}

// UploadBytes is the untyped form of Upload; data holds count items of stride bytes.
func (s *Stager) UploadBytes(label string, usage gpu.BufferUsage, data []byte, count int, stride uint64) (*Buffer, error) {
	if count == 0 || len(data) == 0 {
		return nil, fmt.Errorf("%s: %w", label, ErrEmptyUpload)
	}
	if uint64(len(data)) != uint64(count)*stride {
		return nil, fmt.Errorf("%s: %d bytes do not hold %d items of %d bytes", label, len(data), count, stride)
	}
	size := uint64(len(data))

	staging, err := s.dev.CreateBuffer(&gpu.BufferDesc{
		Label:  label + "-staging",
		Size:   size,
		Usage:  gpu.BufferUsageTransferSrc,
		Memory: gpu.MemoryHostVisibleCoherent,
	})
	if err != nil {
		core.LogError("failed to create staging buffer for %s: %v", label, err)
		return nil, err
	}
	defer s.dev.DestroyBuffer(staging)

	if err := s.dev.WriteBuffer(staging, 0, data); err != nil {
		return nil, fmt.Errorf("%s: fill staging buffer: %w", label, err)
	}

	dst, err := s.NewBuffer(label, size, usage|gpu.BufferUsageTransferDst, gpu.MemoryDeviceLocal)
	if err != nil {
		return nil, err
	}
	dst.Count = count
	dst.Stride = stride

	if err := s.OneShot(func(enc gpu.CommandEncoder) {
		enc.CopyBuffer(staging, dst.ID, gpu.BufferCopy{Size: size})
	}); err != nil {
		s.Destroy(dst)
		return nil, fmt.Errorf("%s: copy to device: %w", label, err)
	}
	return dst, nil
}

// NewBuffer creates a buffer without initializing it, e.g. for scratch memory.
func (s *Stager) NewBuffer(label string, size uint64, usage gpu.BufferUsage, memory gpu.MemoryProperty) (*Buffer, error) {
	id, err := s.dev.CreateBuffer(&gpu.BufferDesc{Label: label, Size: size, Usage: usage, Memory: memory})
	if err != nil {
		core.LogError("failed to create buffer %s: %v", label, err)
		return nil, err
	}
	return &Buffer{ID: id, Label: label, Size: size, Count: 1, Stride: size, Usage: usage}, nil
}

// Address returns the device address of a buffer created with ShaderDeviceAddress usage.
func (s *Stager) Address(b *Buffer) (gpu.DeviceAddress, error) {
	if b == nil || b.ID == gpu.InvalidID {
		return 0, gpu.ErrInvalidHandle
	}
	return s.dev.BufferDeviceAddress(b.ID)
}

// Destroy frees the buffer. Destroying an already destroyed Buffer is a no-op.
func (s *Stager) Destroy(b *Buffer) {
	if b == nil || b.ID == gpu.InvalidID {
		return
	}
	s.dev.DestroyBuffer(b.ID)
	b.ID = gpu.InvalidID
}

// Readback copies a buffer created with TransferSrc usage back to host memory
// through a second staging buffer.
func (s *Stager) Readback(b *Buffer) ([]byte, error) {
	if b == nil || b.ID == gpu.InvalidID {
		return nil, gpu.ErrInvalidHandle
	}
	if !b.Usage.Has(gpu.BufferUsageTransferSrc) {
		return nil, fmt.Errorf("%s: readback needs transfer source usage", b.Label)
	}
	staging, err := s.dev.CreateBuffer(&gpu.BufferDesc{
		Label:  b.Label + "-readback",
		Size:   b.Size,
		Usage:  gpu.BufferUsageTransferDst,
		Memory: gpu.MemoryHostVisibleCoherent,
	})
	if err != nil {
		return nil, err
	}
	defer s.dev.DestroyBuffer(staging)

	if err := s.OneShot(func(enc gpu.CommandEncoder) {
		enc.CopyBuffer(b.ID, staging, gpu.BufferCopy{Size: b.Size})
	}); err != nil {
		return nil, fmt.Errorf("%s: copy to host: %w", b.Label, err)
	}
	out := make([]byte, b.Size)
	if err := s.dev.ReadBuffer(staging, 0, out); err != nil {
		return nil, err
	}
	return out, nil
}

// ReadbackItems reads a buffer back as the item type it was uploaded with.
func ReadbackItems[T any](s *Stager, b *Buffer) ([]T, error) {
	if stride := gpu.SizeOf[T](); b != nil && stride != b.Stride {
		return nil, fmt.Errorf("%s: item size %d does not match stride %d", b.Label, stride, b.Stride)
	}
	data, err := s.Readback(b)
	if err != nil {
		return nil, err
	}
	out := make([]T, b.Count)
	copy(gpu.AsBytes(out), data)
	return out, nil
}

// OneShot records a command buffer with record, submits it and waits for the
// queue to drain. The command buffer is freed on every path.
func (s *Stager) OneShot(record func(enc gpu.CommandEncoder)) error {
	cb, err := s.dev.AllocateCommandBuffer()
	if err != nil {
		return err
	}
	defer s.dev.FreeCommandBuffer(cb)

	enc, err := s.dev.BeginCommandBuffer(cb, true)
	if err != nil {
		return err
	}
	record(enc)
	if err := s.dev.EndCommandBuffer(cb); err != nil {
		core.LogError("failed to record one-shot command buffer: %v", err)
		return err
	}
	if err := s.dev.Submit(&gpu.SubmitInfo{CommandBuffer: cb}); err != nil {
		return err
	}
	if err := s.dev.QueueWaitIdle(); err != nil {
		core.LogError("queue failed to wait in idle mode: %v", err)
		return err
	}
	return nil
}
