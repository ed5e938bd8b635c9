package raytrace_test

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/accel"
	"github.com/spaghettifunk/lumen/engine/renderer/frame"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu/gputest"
	"github.com/spaghettifunk/lumen/engine/renderer/raytrace"
)

func testShaders() raytrace.Shaders {
	return raytrace.Shaders{
		Raygen:     make([]byte, 64),
		ClosestHit: make([]byte, 32),
		Miss:       make([]byte, 16),
	}
}

func newRenderer(t *testing.T, dev *gputest.Device, frames int) (*raytrace.Renderer, *frame.Scheduler) {
	t.Helper()
	r, err := raytrace.New(dev, raytrace.Options{
		FramesInFlight: frames,
		Shaders:        testShaders(),
		ClearColor:     raytrace.DefaultClearColor,
	})
	if err != nil {
		t.Fatal(err)
	}
	s, err := frame.NewScheduler(dev, r, r, frame.Options{
		FramesInFlight: frames,
		FenceTimeout:   time.Second,
		SwapchainUsage: raytrace.SwapchainUsage,
	})
	if err != nil {
		t.Fatal(err)
	}
	return r, s
}

func TestRayTracedFrames(t *testing.T) {
	dev := gputest.NewDevice(gputest.WithExtent(320, 200))
	r, s := newRenderer(t, dev, 2)

	// one BLAS, one TLAS per frame slot
	if r.BuildGeneration() != 3 {
		t.Fatalf("build generation = %d, want 3", r.BuildGeneration())
	}
	for i := 0; i < 3; i++ {
		if res, err := s.Tick(); err != nil || res != frame.TickPresented {
			t.Fatalf("tick %d: %v %v", i, res, err)
		}
	}
	if err := dev.QueueWaitIdle(); err != nil {
		t.Fatal(err)
	}

	traces := dev.Traces()
	if len(traces) != 3 {
		t.Fatalf("%d traces, want 3", len(traces))
	}
	tr := traces[0]
	if tr.Width != 320 || tr.Height != 200 {
		t.Fatalf("traced %dx%d", tr.Width, tr.Height)
	}
	if tr.Regions.Raygen.Stride != tr.Regions.Raygen.Size || tr.Regions.Raygen.Size != 64 {
		t.Fatalf("raygen region %+v", tr.Regions.Raygen)
	}
	if tr.Regions.Hit.DeviceAddress != tr.Regions.Raygen.DeviceAddress+64 {
		t.Fatalf("hit region does not follow raygen: %+v", tr.Regions)
	}
	if tr.Regions.Callable != (gpu.StridedRegion{}) {
		t.Fatalf("callable region must be empty: %+v", tr.Regions.Callable)
	}

	want := raytrace.DefaultClearColor
	for _, pc := range dev.PushConstants() {
		if !bytes.Equal(pc, gpu.AsBytes(want[:])) {
			t.Fatalf("miss push constant = %v", pc)
		}
	}

	sc := s.Swapchain()
	for _, img := range sc.Images {
		l, err := dev.ImageLayout(img, 0)
		if err != nil {
			t.Fatal(err)
		}
		if l != gpu.ImageLayoutPresentSrc {
			t.Fatalf("swapchain image left in layout %d", l)
		}
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

func TestCanvasFollowsResize(t *testing.T) {
	dev := gputest.NewDevice()
	r, s := newRenderer(t, dev, 2)
	defer r.Destroy()
	defer s.Destroy()

	if _, err := s.Tick(); err != nil {
		t.Fatal(err)
	}
	dev.SetSurfaceExtent(1280, 720)
	s.NotifyResized()
	if res, err := s.Tick(); err != nil || res != frame.TickRecreated {
		t.Fatalf("resize tick: %v %v", res, err)
	}
	if _, err := s.Tick(); err != nil {
		t.Fatal(err)
	}
	if err := dev.QueueWaitIdle(); err != nil {
		t.Fatal(err)
	}
	traces := dev.Traces()
	last := traces[len(traces)-1]
	if last.Width != 1280 || last.Height != 720 {
		t.Fatalf("traced %dx%d after resize", last.Width, last.Height)
	}
	if errs := dev.ValidationErrors(); len(errs) != 0 {
		t.Fatalf("validation errors: %v", errs)
	}
}

func TestRequiresRayTracing(t *testing.T) {
	dev := gputest.NewDevice(gputest.WithoutRayTracing())
	_, err := raytrace.New(dev, raytrace.Options{FramesInFlight: 2, Shaders: testShaders()})
	if !errors.Is(err, core.ErrInitialization) || !errors.Is(err, gpu.ErrNotSupported) {
		t.Fatalf("expected an initialization error, got %v", err)
	}
}

func TestBadShaderIsFatal(t *testing.T) {
	dev := gputest.NewDevice()
	shaders := testShaders()
	shaders.Miss = []byte{1, 2, 3}
	_, err := raytrace.New(dev, raytrace.Options{FramesInFlight: 2, Shaders: shaders})
	if !errors.Is(err, core.ErrInitialization) {
		t.Fatalf("expected an initialization error, got %v", err)
	}
	if dev.LiveObjects() != 0 {
		t.Fatalf("%d objects leaked by a failed setup", dev.LiveObjects())
	}
}

func TestSceneIndexOverflow(t *testing.T) {
	dev := gputest.NewDevice()
	mesh := raytrace.CubeMesh()
	mesh.Indices[0] = 300
	scene := &raytrace.Scene{
		Meshes:     []raytrace.Mesh{mesh},
		Placements: []raytrace.Placement{{Transform: mgl32.Ident4()}},
	}
	_, err := raytrace.New(dev, raytrace.Options{FramesInFlight: 1, Shaders: testShaders(), Scene: scene})
	if !errors.Is(err, accel.ErrBadGeometry) {
		t.Fatalf("expected ErrBadGeometry, got %v", err)
	}
}

func TestCameraUniform(t *testing.T) {
	cam := raytrace.DefaultCamera()
	u := cam.Uniform(gpu.Extent2D{Width: 800, Height: 600})

	eye := u.ViewInverse.Mul4x1(mgl32.Vec4{0, 0, 0, 1}).Vec3()
	if !eye.ApproxEqualThreshold(cam.Eye, 1e-3) {
		t.Fatalf("inverse view maps the origin to %v, want %v", eye, cam.Eye)
	}
	proj := mgl32.Perspective(mgl32.DegToRad(45), 800.0/600.0, 0.1, 10).Inv()
	if u.ProjInverse[5] != -proj[5] {
		t.Fatalf("inverse projection Y = %v, want %v", u.ProjInverse[5], -proj[5])
	}
}
