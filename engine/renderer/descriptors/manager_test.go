package descriptors_test

import (
	"errors"
	"testing"

	"github.com/spaghettifunk/lumen/engine/renderer/descriptors"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu/gputest"
)

type frameResources struct {
	views []gpu.ImageViewID
	tlas  []gpu.AccelerationStructureID
	ubo   gpu.BufferID
}

func newResources(t *testing.T, dev *gputest.Device, frames int) *frameResources {
	t.Helper()
	r := &frameResources{}
	ubo, err := dev.CreateBuffer(&gpu.BufferDesc{Label: "ubo", Size: 512, Usage: gpu.BufferUsageUniform, Memory: gpu.MemoryHostVisibleCoherent})
	if err != nil {
		t.Fatal(err)
	}
	r.ubo = ubo
	storage, err := dev.CreateBuffer(&gpu.BufferDesc{Label: "as", Size: 4096, Usage: gpu.BufferUsageAccelerationStructureStorage, Memory: gpu.MemoryDeviceLocal})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < frames; i++ {
		r.views = append(r.views, newView(t, dev))
		as, err := dev.CreateAccelerationStructure(gpu.AccelerationStructureTopLevel, storage, 256)
		if err != nil {
			t.Fatal(err)
		}
		r.tlas = append(r.tlas, as)
	}
	return r
}

func newView(t *testing.T, dev *gputest.Device) gpu.ImageViewID {
	t.Helper()
	img, err := dev.CreateImage(&gpu.ImageDesc{Label: "canvas", Extent: gpu.Extent2D{Width: 4, Height: 4}, Format: gpu.FormatB8G8R8A8Unorm, Usage: gpu.ImageUsageStorage, MipLevels: 1})
	if err != nil {
		t.Fatal(err)
	}
	view, err := dev.CreateImageView(img, &gpu.ImageViewDesc{Format: gpu.FormatB8G8R8A8Unorm, Aspect: gpu.ImageAspectColor, MipLevels: 1})
	if err != nil {
		t.Fatal(err)
	}
	return view
}

func (r *frameResources) resolve(frame int, b gpu.DescriptorBinding) descriptors.Resource {
	switch b.Type {
	case gpu.DescriptorTypeStorageImage:
		return descriptors.Resource{ImageView: r.views[frame]}
	case gpu.DescriptorTypeAccelerationStructure:
		return descriptors.Resource{AccelerationStructure: r.tlas[frame]}
	case gpu.DescriptorTypeUniformBuffer:
		return descriptors.Resource{Buffer: r.ubo, Offset: uint64(frame) * 256, Range: 256}
	}
	return descriptors.Resource{}
}

func TestPoolSizes(t *testing.T) {
	sizes := descriptors.PoolSizes(descriptors.RayTracingBindings(), 2)
	if len(sizes) != 3 {
		t.Fatalf("got %d pool sizes, want one per type", len(sizes))
	}
	for _, s := range sizes {
		if s.Count != 2 {
			t.Errorf("%s: count %d, want 2", s.Type, s.Count)
		}
	}
}

func TestWriteEveryFrame(t *testing.T) {
	const frames = 2
	dev := gputest.NewDevice()
	m, err := descriptors.NewManager(dev, descriptors.RayTracingBindings(), frames)
	if err != nil {
		t.Fatal(err)
	}
	res := newResources(t, dev, frames)
	if err := m.Write(res.resolve); err != nil {
		t.Fatal(err)
	}
	for f := 0; f < frames; f++ {
		writes, err := dev.DescriptorWrites(m.Set(f))
		if err != nil {
			t.Fatal(err)
		}
		if len(writes) != 3 {
			t.Fatalf("frame %d: %d bindings written, want 3", f, len(writes))
		}
		if writes[0].ImageView != res.views[f] || writes[0].ImageLayout != gpu.ImageLayoutGeneral {
			t.Errorf("frame %d: canvas binding %+v", f, writes[0])
		}
		if writes[1].AccelerationStructure != res.tlas[f] {
			t.Errorf("frame %d: TLAS binding %+v", f, writes[1])
		}
		if writes[2].Offset != uint64(f)*256 {
			t.Errorf("frame %d: uniform offset %d", f, writes[2].Offset)
		}
		if m.Generation(f) != 1 {
			t.Errorf("frame %d: generation %d", f, m.Generation(f))
		}
	}

	// recreation: new canvas views replace every frame's binding
	res.views = []gpu.ImageViewID{newView(t, dev), newView(t, dev)}
	if err := m.Write(res.resolve); err != nil {
		t.Fatal(err)
	}
	for f := 0; f < frames; f++ {
		writes, _ := dev.DescriptorWrites(m.Set(f))
		if writes[0].ImageView != res.views[f] {
			t.Errorf("frame %d still bound to the old canvas", f)
		}
	}
}

func TestWriteRefusesMissingResource(t *testing.T) {
	dev := gputest.NewDevice()
	m, err := descriptors.NewManager(dev, descriptors.RayTracingBindings(), 2)
	if err != nil {
		t.Fatal(err)
	}
	res := newResources(t, dev, 2)
	if err := m.Write(res.resolve); err != nil {
		t.Fatal(err)
	}
	old, _ := dev.DescriptorWrites(m.Set(0))

	res.views = []gpu.ImageViewID{newView(t, dev), gpu.InvalidID}
	if err := m.Write(res.resolve); !errors.Is(err, descriptors.ErrMissingResource) {
		t.Fatalf("expected ErrMissingResource, got %v", err)
	}
	now, _ := dev.DescriptorWrites(m.Set(0))
	if now[0].ImageView != old[0].ImageView {
		t.Fatal("a refused write must not update any frame")
	}
	if m.Generation(0) != 1 {
		t.Fatalf("generation advanced on a refused write")
	}
}

func TestManagerDestroy(t *testing.T) {
	dev := gputest.NewDevice()
	before := dev.LiveObjects()
	m, err := descriptors.NewManager(dev, descriptors.RasterBindings(), 3)
	if err != nil {
		t.Fatal(err)
	}
	if m.Frames() != 3 {
		t.Fatalf("frames = %d", m.Frames())
	}
	m.Destroy()
	m.Destroy()
	if dev.LiveObjects() != before {
		t.Fatal("descriptor objects leaked")
	}
	if _, err := descriptors.NewManager(dev, descriptors.RasterBindings(), 0); err == nil {
		t.Fatal("zero frames must be rejected")
	}
}
