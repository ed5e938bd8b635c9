package vulkan

import (
	"errors"
	"sync"
	"testing"

	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

func TestRegistryRejectsStaleIDs(t *testing.T) {
	r := newRegistry[string]("sampler")
	id := r.add("linear")
	if id == gpu.InvalidID {
		t.Fatal("registry issued the invalid id")
	}
	if v, err := r.get(id); err != nil || v != "linear" {
		t.Fatalf("get = %q, %v", v, err)
	}
	if _, ok := r.remove(id); !ok {
		t.Fatal("remove of a live id failed")
	}
	if _, ok := r.remove(id); ok {
		t.Fatal("double remove succeeded")
	}
	next := r.add("nearest")
	if _, err := r.get(id); !errors.Is(err, gpu.ErrInvalidHandle) {
		t.Fatalf("stale id err = %v", err)
	}
	if v, _ := r.get(next); v != "nearest" {
		t.Fatalf("new id = %q", v)
	}
	if _, err := r.get(gpu.InvalidID); !errors.Is(err, gpu.ErrInvalidHandle) {
		t.Fatalf("invalid id err = %v", err)
	}
}

func TestRegistryDrain(t *testing.T) {
	r := newRegistry[int]("fence")
	for i := 0; i < 5; i++ {
		r.add(i)
	}
	sum := 0
	r.drain(func(v int) { sum += v })
	if sum != 10 || r.len() != 0 {
		t.Fatalf("sum = %d, len = %d", sum, r.len())
	}
}

func TestLockPoolSerializesGroups(t *testing.T) {
	pool := NewVulkanLockPool()

	var (
		wg      sync.WaitGroup
		counter int
	)
	for i := 0; i < 32; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = pool.SafeCall(ResourceManagement, func() error {
				counter++
				return nil
			})
		}()
		go func() {
			defer wg.Done()
			_ = pool.SafeCall(ResourceManagement, func() error {
				counter--
				return nil
			})
		}()
	}
	wg.Wait()
	if counter != 0 {
		t.Fatalf("counter = %d", counter)
	}

	want := errors.New("boom")
	if err := pool.SafeCall(PipelineManagement, func() error { return want }); !errors.Is(err, want) {
		t.Fatalf("safe call err = %v", err)
	}
}

func TestQueueFamilySelection(t *testing.T) {
	tests := []struct {
		name              string
		graphics, present []bool
		want              queueFamilies
		ok                bool
	}{
		{"shared family wins", []bool{true, true, false}, []bool{false, true, true}, queueFamilies{Graphics: 1, Present: 1}, true},
		{"split families", []bool{true, false}, []bool{false, true}, queueFamilies{Graphics: 0, Present: 1}, true},
		{"no present", []bool{true, true}, []bool{false, false}, queueFamilies{}, false},
		{"no graphics", []bool{false}, []bool{true}, queueFamilies{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := pickQueueFamilies(tt.graphics, tt.present)
			if ok != tt.ok || got != tt.want {
				t.Fatalf("got %+v %t, want %+v %t", got, ok, tt.want, tt.ok)
			}
		})
	}
}
