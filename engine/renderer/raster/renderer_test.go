package raster_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/frame"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu/gputest"
	"github.com/spaghettifunk/lumen/engine/renderer/raster"
)

func testShaders() raster.Shaders {
	return raster.Shaders{Vertex: make([]byte, 64), Fragment: make([]byte, 64)}
}

func newRenderer(t *testing.T, dev *gputest.Device) (*raster.Renderer, *frame.Scheduler) {
	t.Helper()
	r, err := raster.New(dev, raster.Options{FramesInFlight: 2, Shaders: testShaders()})
	if err != nil {
		t.Fatal(err)
	}
	s, err := frame.NewScheduler(dev, r, r, frame.Options{
		FramesInFlight: 2,
		FenceTimeout:   time.Second,
		SwapchainUsage: raster.SwapchainUsage,
	})
	if err != nil {
		t.Fatal(err)
	}
	return r, s
}

func TestRasterFrames(t *testing.T) {
	dev := gputest.NewDevice()
	r, s := newRenderer(t, dev)

	for i := 0; i < 4; i++ {
		r.Advance(0.25)
		if res, err := s.Tick(); err != nil || res != frame.TickPresented {
			t.Fatalf("tick %d: %v %v", i, res, err)
		}
	}
	if err := dev.QueueWaitIdle(); err != nil {
		t.Fatal(err)
	}
	draws := 0
	for _, e := range dev.Events() {
		if e == "draw-indexed 12" {
			draws++
		}
	}
	if draws != 4 {
		t.Fatalf("%d draws of the default mesh, want 4", draws)
	}
	if errs := dev.ValidationErrors(); len(errs) != 0 {
		t.Fatalf("validation errors: %v", errs)
	}

	s.Destroy()
	r.Destroy()
	if dev.LiveObjects() != 0 {
		t.Fatalf("%d objects leaked", dev.LiveObjects())
	}
}

func TestFramebuffersFollowRecreation(t *testing.T) {
	dev := gputest.NewDevice()
	r, s := newRenderer(t, dev)
	defer r.Destroy()
	defer s.Destroy()

	live := dev.LiveObjects()
	dev.SetSurfaceExtent(1024, 768)
	if _, err := s.Recreate(); err != nil {
		t.Fatal(err)
	}
	if dev.LiveObjects() != live {
		t.Fatalf("live objects %d -> %d across recreation", live, dev.LiveObjects())
	}
	dev.ResetEvents()
	if _, err := s.Tick(); err != nil {
		t.Fatal(err)
	}
	if err := dev.QueueWaitIdle(); err != nil {
		t.Fatal(err)
	}
	found := false
	for _, e := range dev.Events() {
		if strings.HasPrefix(e, "viewport 1024x768") {
			found = true
		}
	}
	if !found {
		t.Fatalf("viewport was not resized: %v", dev.Events())
	}
}

func TestTextureIsMipmapped(t *testing.T) {
	dev := gputest.NewDevice()
	tex := raster.CheckerTexture(32)
	r, err := raster.New(dev, raster.Options{FramesInFlight: 1, Shaders: testShaders(), Texture: &tex})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Destroy()
	blits := 0
	for _, e := range dev.Events() {
		if e == "blit" {
			blits++
		}
	}
	// 32x32 has 6 levels, so 5 blits
	if blits != 5 {
		t.Fatalf("%d mip blits, want 5", blits)
	}
}

func TestBadVertexShader(t *testing.T) {
	dev := gputest.NewDevice()
	r, err := raster.New(dev, raster.Options{FramesInFlight: 2, Shaders: raster.Shaders{Vertex: []byte{1}, Fragment: make([]byte, 4)}})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Destroy()
	_, err = frame.NewScheduler(dev, r, r, frame.Options{FramesInFlight: 2, FenceTimeout: time.Second})
	if !errors.Is(err, core.ErrInitialization) {
		t.Fatalf("expected an initialization error, got %v", err)
	}
}

func TestTransformsRotate(t *testing.T) {
	dev := gputest.NewDevice()
	r, err := raster.New(dev, raster.Options{FramesInFlight: 1, Shaders: testShaders()})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Destroy()

	extent := gpu.Extent2D{Width: 800, Height: 600}
	if m := r.Transforms(extent).Model; !m.ApproxEqual(mgl32.Ident4()) {
		t.Fatalf("model at t=0 = %v", m)
	}
	r.Advance(1)
	m := r.Transforms(extent).Model
	x := m.Mul4x1(mgl32.Vec4{1, 0, 0, 1})
	if !x.ApproxEqualThreshold(mgl32.Vec4{0, 1, 0, 1}, 1e-5) {
		t.Fatalf("90 degrees around Z maps X to %v", x)
	}
	if p := r.Transforms(extent).Proj; p[5] >= 0 {
		t.Fatalf("projection Y is not flipped: %v", p[5])
	}
}
