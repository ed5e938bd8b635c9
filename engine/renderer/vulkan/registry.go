package vulkan

import (
	"fmt"
	"sync"

	"github.com/spaghettifunk/lumen/engine/containers"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

// registry maps the opaque gpu IDs of one object kind onto backend objects.
// Asset uploads create objects off the render thread, so access is locked.
type registry[T any] struct {
	kind  string
	mu    sync.RWMutex
	arena *containers.Arena[T]
}

func newRegistry[T any](kind string) *registry[T] {
	return &registry[T]{kind: kind, arena: containers.NewArena[T]()}
}

func (r *registry[T]) add(v T) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return uint64(r.arena.Insert(v))
}

func (r *registry[T]) get(id uint64) (T, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, err := r.arena.Get(containers.Handle(id))
	if err != nil {
		var zero T
		return zero, fmt.Errorf("%s %d: %w", r.kind, id, gpu.ErrInvalidHandle)
	}
	return v, nil
}

// remove reports false for IDs that are not live, so double destroys are no-ops.
func (r *registry[T]) remove(id uint64) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, err := r.arena.Remove(containers.Handle(id))
	return v, err == nil
}

func (r *registry[T]) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.arena.Len()
}

// drain removes every live object and hands it to fn outside the lock.
func (r *registry[T]) drain(fn func(v T)) {
	r.mu.Lock()
	var values []T
	var ids []containers.Handle
	r.arena.Each(func(h containers.Handle, _ T) { ids = append(ids, h) })
	for _, h := range ids {
		if v, err := r.arena.Remove(h); err == nil {
			values = append(values, v)
		}
	}
	r.mu.Unlock()
	for _, v := range values {
		fn(v)
	}
}
