// Package sbt lays out and fills shader binding tables.
//
// A table holds four regions in this order: raygen, hit, miss, callable. Each
// group handle occupies one stride inside its region; the stride is the handle
// size rounded up to the handle alignment and every region size is rounded up
// to the base alignment, so regions start on base aligned offsets.
package sbt

import (
	"errors"
	"fmt"

	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

var (
	// ErrHandleMismatch is returned when the fetched handle data does not
	// hold exactly one handle per group.
	ErrHandleMismatch = errors.New("shader group handle data does not match the group count")
	// ErrBadAlignment is returned for alignments that are not powers of two.
	ErrBadAlignment = errors.New("alignment is not a power of two")
)

// Counts is the number of groups per region. There is always exactly one
// raygen group.
type Counts struct {
	Hit      uint32
	Miss     uint32
	Callable uint32
}

// Total returns the number of groups including the raygen group.
func (c Counts) Total() uint32 {
	return 1 + c.Hit + c.Miss + c.Callable
}

// Region is one region of the table relative to the start of the buffer.
type Region struct {
	Offset uint64
	Stride uint64
	Size   uint64
	Groups uint32
}

// Layout is the byte layout of a table.
type Layout struct {
	HandleSize   uint64
	HandleStride uint64
	Raygen       Region
	Hit          Region
	Miss         Region
	Callable     Region
	Size         uint64
}

// ComputeLayout derives the region layout from the device limits.
func ComputeLayout(props gpu.RayTracingProperties, counts Counts) (Layout, error) {
	h := uint64(props.ShaderGroupHandleSize)
	ha := uint64(props.ShaderGroupHandleAlignment)
	ba := uint64(props.ShaderGroupBaseAlignment)
	if h == 0 {
		return Layout{}, fmt.Errorf("zero shader group handle size")
	}
	if !gpu.IsPowerOfTwo(ha) || !gpu.IsPowerOfTwo(ba) {
		return Layout{}, fmt.Errorf("%w: handle %d, base %d", ErrBadAlignment, ha, ba)
	}

	stride := gpu.AlignUp(h, ha)
	l := Layout{HandleSize: h, HandleStride: stride}

	// The raygen region holds one record and its stride must equal its size.
	raygenSize := gpu.AlignUp(stride, ba)
	l.Raygen = Region{Stride: raygenSize, Size: raygenSize, Groups: 1}

	offset := raygenSize
	for _, r := range []struct {
		dst *Region
		n   uint32
	}{
		{&l.Hit, counts.Hit},
		{&l.Miss, counts.Miss},
		{&l.Callable, counts.Callable},
	} {
		if r.n == 0 {
			continue
		}
		size := gpu.AlignUp(stride*uint64(r.n), ba)
		*r.dst = Region{Offset: offset, Stride: stride, Size: size, Groups: r.n}
		offset += size
	}
	l.Size = offset
	return l, nil
}

// GroupCount returns the number of handles the layout holds.
func (l Layout) GroupCount() uint32 {
	return l.Raygen.Groups + l.Hit.Groups + l.Miss.Groups + l.Callable.Groups
}

// Pack copies handles, given in group creation order (raygen, hit, miss,
// callable), into a buffer image of l.Size bytes. Each handle is written at
// the current offset of its region, which then advances by the handle stride.
func (l Layout) Pack(handles []byte) ([]byte, error) {
	want := l.HandleSize * uint64(l.GroupCount())
	if uint64(len(handles)) != want {
		return nil, fmt.Errorf("%w: %d bytes for %d groups of %d", ErrHandleMismatch, len(handles), l.GroupCount(), l.HandleSize)
	}
	out := make([]byte, l.Size)
	src := uint64(0)
	for _, r := range []Region{l.Raygen, l.Hit, l.Miss, l.Callable} {
		dst := r.Offset
		for g := uint32(0); g < r.Groups; g++ {
			copy(out[dst:dst+l.HandleSize], handles[src:src+l.HandleSize])
			src += l.HandleSize
			dst += l.HandleStride
		}
	}
	return out, nil
}

// Regions resolves the layout against the buffer's device address. Regions
// without groups stay zero.
func (l Layout) Regions(base gpu.DeviceAddress) gpu.ShaderBindingRegions {
	resolve := func(r Region) gpu.StridedRegion {
		if r.Groups == 0 {
			return gpu.StridedRegion{}
		}
		return gpu.StridedRegion{DeviceAddress: base + gpu.DeviceAddress(r.Offset), Stride: r.Stride, Size: r.Size}
	}
	return gpu.ShaderBindingRegions{
		Raygen:   resolve(l.Raygen),
		Hit:      resolve(l.Hit),
		Miss:     resolve(l.Miss),
		Callable: resolve(l.Callable),
	}
}
