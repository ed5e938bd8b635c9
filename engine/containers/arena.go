package containers

import (
	"errors"
	"fmt"
)

// ErrStaleHandle is returned when a handle refers to a slot that was released
// or reused since the handle was issued.
var ErrStaleHandle = errors.New("stale or invalid handle")

// Handle packs a slot index (low 32 bits) and the slot generation (high 32 bits).
// The zero Handle is never issued.
type Handle uint64

func makeHandle(index, generation uint32) Handle {
	return Handle(uint64(generation)<<32 | uint64(index))
}

func (h Handle) Index() uint32 {
	return uint32(h)
}

func (h Handle) Generation() uint32 {
	return uint32(h >> 32)
}

func (h Handle) String() string {
	return fmt.Sprintf("%d@%d", h.Index(), h.Generation())
}

type arenaSlot[T any] struct {
	value      T
	generation uint32
	live       bool
}

// Arena stores values behind generation-checked handles. Releasing a handle
// bumps the slot generation so every copy of the old handle becomes stale:
// a second release or a lookup through it fails instead of touching the
// value that reuses the slot.
type Arena[T any] struct {
	slots []arenaSlot[T]
	free  []uint32
	live  int
}

func NewArena[T any]() *Arena[T] {
	return &Arena[T]{}
}

// Insert stores v and returns its handle.
func (a *Arena[T]) Insert(v T) Handle {
	var index uint32
	if n := len(a.free); n > 0 {
		index = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		// Generation starts at 1 so that no handle is ever zero.
		a.slots = append(a.slots, arenaSlot[T]{generation: 1})
		index = uint32(len(a.slots) - 1)
	}
	s := &a.slots[index]
	s.value = v
	s.live = true
	a.live++
	return makeHandle(index, s.generation)
}

func (a *Arena[T]) slot(h Handle) (*arenaSlot[T], error) {
	i := h.Index()
	if h == 0 || int(i) >= len(a.slots) {
		return nil, fmt.Errorf("%w: %s", ErrStaleHandle, h)
	}
	s := &a.slots[i]
	if !s.live || s.generation != h.Generation() {
		return nil, fmt.Errorf("%w: %s", ErrStaleHandle, h)
	}
	return s, nil
}

// Get returns the value stored behind h.
func (a *Arena[T]) Get(h Handle) (T, error) {
	s, err := a.slot(h)
	if err != nil {
		var zero T
		return zero, err
	}
	return s.value, nil
}

// Set replaces the value stored behind a live handle.
func (a *Arena[T]) Set(h Handle, v T) error {
	s, err := a.slot(h)
	if err != nil {
		return err
	}
	s.value = v
	return nil
}

// Remove releases h and returns the value it held.
func (a *Arena[T]) Remove(h Handle) (T, error) {
	s, err := a.slot(h)
	if err != nil {
		var zero T
		return zero, err
	}
	v := s.value
	var zero T
	s.value = zero
	s.live = false
	s.generation++
	if s.generation == 0 {
		s.generation = 1
	}
	a.free = append(a.free, h.Index())
	a.live--
	return v, nil
}

// Contains reports whether h is live.
func (a *Arena[T]) Contains(h Handle) bool {
	_, err := a.slot(h)
	return err == nil
}

// Len returns the number of live values.
func (a *Arena[T]) Len() int {
	return a.live
}

// Each calls fn for every live value. fn must not insert or remove.
func (a *Arena[T]) Each(fn func(h Handle, v T)) {
	for i := range a.slots {
		s := &a.slots[i]
		if s.live {
			fn(makeHandle(uint32(i), s.generation), s.value)
		}
	}
}
