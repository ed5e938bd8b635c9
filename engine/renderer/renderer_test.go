package renderer_test

import (
	"errors"
	"testing"
	"time"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer"
	"github.com/spaghettifunk/lumen/engine/renderer/frame"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu/gputest"
	"github.com/spaghettifunk/lumen/engine/renderer/raster"
	"github.com/spaghettifunk/lumen/engine/renderer/raytrace"
)

func options(mode renderer.Mode) renderer.Options {
	return renderer.Options{
		Mode:           mode,
		FramesInFlight: 2,
		FenceTimeout:   time.Second,
		ClearColor:     raytrace.DefaultClearColor,
		Raster: renderer.RasterOptions{
			Shaders: raster.Shaders{Vertex: make([]byte, 64), Fragment: make([]byte, 64)},
		},
		RayTrace: renderer.RayTraceOptions{
			Shaders: raytrace.Shaders{Raygen: make([]byte, 64), ClosestHit: make([]byte, 32), Miss: make([]byte, 16)},
		},
	}
}

func TestModes(t *testing.T) {
	tests := []struct {
		mode  renderer.Mode
		event string
	}{
		{renderer.ModeRaster, "draw-indexed 12"},
		{renderer.ModeRayTrace, "trace-rays"},
	}
	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			dev := gputest.NewDevice()
			before := dev.LiveObjects()

			r, err := renderer.New(dev, options(tt.mode))
			if err != nil {
				t.Fatal(err)
			}
			if r.Mode() != tt.mode {
				t.Fatalf("mode = %s", r.Mode())
			}
			for i := 0; i < 3; i++ {
				res, err := r.DrawFrame(1.0 / 60)
				if err != nil || res != frame.TickPresented {
					t.Fatalf("frame %d: %s %v", i, res, err)
				}
			}
			if got := r.Stats().Presented; got != 3 {
				t.Fatalf("presented %d frames", got)
			}
			if err := dev.QueueWaitIdle(); err != nil {
				t.Fatal(err)
			}
			found := false
			for _, e := range dev.Events() {
				if len(e) >= len(tt.event) && e[:len(tt.event)] == tt.event {
					found = true
					break
				}
			}
			if !found {
				t.Fatalf("no %q event recorded", tt.event)
			}

			r.Shutdown()
			if n := dev.LiveObjects(); n != before {
				t.Fatalf("live objects %d after shutdown, want %d", n, before)
			}
		})
	}
}

func TestResizeRecreatesOnNextFrame(t *testing.T) {
	dev := gputest.NewDevice()
	r, err := renderer.New(dev, options(renderer.ModeRaster))
	if err != nil {
		t.Fatal(err)
	}
	defer r.Shutdown()

	before := r.Stats().Recreations
	r.OnResize()
	if _, err := r.DrawFrame(0); err != nil {
		t.Fatal(err)
	}
	if r.Stats().Recreations != before+1 {
		t.Fatalf("recreations %d -> %d", before, r.Stats().Recreations)
	}
}

func TestUnknownMode(t *testing.T) {
	_, err := renderer.New(gputest.NewDevice(), options("hybrid"))
	if !errors.Is(err, core.ErrInitialization) {
		t.Fatalf("err = %v", err)
	}
}

func TestRayTraceNeedsDeviceSupport(t *testing.T) {
	dev := gputest.NewDevice(gputest.WithoutRayTracing())
	_, err := renderer.New(dev, options(renderer.ModeRayTrace))
	if !errors.Is(err, gpu.ErrNotSupported) {
		t.Fatalf("err = %v", err)
	}
}

func TestDeviceLossIsReturned(t *testing.T) {
	dev := gputest.NewDevice()
	opts := options(renderer.ModeRaster)
	opts.FenceTimeout = 10 * time.Millisecond
	r, err := renderer.New(dev, opts)
	if err != nil {
		t.Fatal(err)
	}
	dev.Hang(true)
	var lost error
	for i := 0; i < 4 && lost == nil; i++ {
		_, lost = r.DrawFrame(0)
	}
	if !errors.Is(lost, core.ErrDeviceLost) {
		t.Fatalf("err = %v", lost)
	}
	dev.Hang(false)
	r.Shutdown()
}
