package containers_test

import (
	"errors"
	"testing"

	"github.com/spaghettifunk/lumen/engine/containers"
)

func TestRingQueueFIFO(t *testing.T) {
	q := containers.NewRingQueue[int](2)
	if err := q.Enqueue(1); err != nil {
		t.Fatal(err)
	}
	if err := q.Enqueue(2); err != nil {
		t.Fatal(err)
	}
	if err := q.Enqueue(3); !errors.Is(err, containers.ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	if v, _ := q.Peek(); v != 1 {
		t.Fatalf("peek = %d, want 1", v)
	}
	for _, want := range []int{1, 2} {
		got, err := q.Dequeue()
		if err != nil || got != want {
			t.Fatalf("dequeue = %d, %v; want %d", got, err, want)
		}
	}
	if _, err := q.Dequeue(); !errors.Is(err, containers.ErrQueueEmpty) {
		t.Fatalf("expected ErrQueueEmpty, got %v", err)
	}
	// wrap around
	q.Enqueue(4)
	q.Enqueue(5)
	if got, _ := q.Dequeue(); got != 4 {
		t.Fatalf("dequeue after wrap = %d, want 4", got)
	}
	if q.Len() != 1 || q.Cap() != 2 {
		t.Fatalf("len/cap = %d/%d", q.Len(), q.Cap())
	}
}

func TestArenaGenerations(t *testing.T) {
	a := containers.NewArena[string]()
	h1 := a.Insert("first")
	if h1 == 0 {
		t.Fatal("handles must never be zero")
	}
	v, err := a.Get(h1)
	if err != nil || v != "first" {
		t.Fatalf("get = %q, %v", v, err)
	}

	if _, err := a.Remove(h1); err != nil {
		t.Fatal(err)
	}
	if _, err := a.Remove(h1); !errors.Is(err, containers.ErrStaleHandle) {
		t.Fatalf("double remove must fail with ErrStaleHandle, got %v", err)
	}

	h2 := a.Insert("second")
	if h2.Index() != h1.Index() {
		t.Fatalf("expected slot reuse, got index %d and %d", h1.Index(), h2.Index())
	}
	if h2 == h1 {
		t.Fatal("reused slot must carry a new generation")
	}
	if _, err := a.Get(h1); !errors.Is(err, containers.ErrStaleHandle) {
		t.Fatalf("old handle must be stale, got %v", err)
	}
	if a.Len() != 1 {
		t.Fatalf("live = %d, want 1", a.Len())
	}
	if err := a.Set(h2, "updated"); err != nil {
		t.Fatal(err)
	}

	seen := 0
	a.Each(func(h containers.Handle, v string) {
		seen++
		if h != h2 || v != "updated" {
			t.Errorf("unexpected entry %s=%q", h, v)
		}
	})
	if seen != 1 {
		t.Fatalf("each visited %d entries", seen)
	}
	if a.Contains(0) {
		t.Fatal("zero handle must not be contained")
	}
}
