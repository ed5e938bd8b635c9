package frame_test

import (
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/frame"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu/gputest"
)

// recorder marks every frame with a draw of its frame number so the fake
// device logs when the frame's work actually executes.
type recorder struct {
	slots       []int
	generations []uint64
	fail        error
}

func (r *recorder) RecordFrame(enc gpu.CommandEncoder, f frame.Frame) error {
	if r.fail != nil {
		return r.fail
	}
	r.slots = append(r.slots, f.Slot)
	r.generations = append(r.generations, f.Generation)
	enc.DrawIndexed(uint32(f.Number), 1)
	return nil
}

// targets allocates one canvas per swapchain image.
type targets struct {
	dev      *gputest.Device
	canvases []gpu.ImageID
	created  int
	last     *frame.SwapchainState
}

func (t *targets) CreateTargets(sc *frame.SwapchainState) error {
	for range sc.Images {
		img, err := t.dev.CreateImage(&gpu.ImageDesc{
			Label:     "canvas",
			Extent:    sc.Extent,
			Format:    sc.Format,
			Usage:     gpu.ImageUsageStorage | gpu.ImageUsageTransferSrc,
			MipLevels: 1,
		})
		if err != nil {
			return err
		}
		t.canvases = append(t.canvases, img)
	}
	t.created++
	t.last = sc
	return nil
}

func (t *targets) DestroyTargets() {
	for _, img := range t.canvases {
		t.dev.DestroyImage(img)
	}
	t.canvases = nil
}

func newScheduler(t *testing.T, dev *gputest.Device, frames int) (*frame.Scheduler, *recorder, *targets) {
	t.Helper()
	rec := &recorder{}
	tg := &targets{dev: dev}
	s, err := frame.NewScheduler(dev, rec, tg, frame.Options{
		FramesInFlight: frames,
		FenceTimeout:   time.Second,
		SwapchainUsage: gpu.ImageUsageColorAttachment | gpu.ImageUsageTransferDst,
	})
	if err != nil {
		t.Fatal(err)
	}
	return s, rec, tg
}

func tick(t *testing.T, s *frame.Scheduler, want frame.TickResult) {
	t.Helper()
	got, err := s.Tick()
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Fatalf("tick = %s, want %s", got, want)
	}
}

func checkValid(t *testing.T, dev *gputest.Device) {
	t.Helper()
	if errs := dev.ValidationErrors(); len(errs) != 0 {
		t.Fatalf("validation errors: %v", errs)
	}
}

func TestBoundedFramesInFlight(t *testing.T) {
	for _, n := range []int{1, 2, 3} {
		t.Run(fmt.Sprintf("frames=%d", n), func(t *testing.T) {
			dev := gputest.NewDevice()
			s, _, _ := newScheduler(t, dev, n)
			for i := 0; i < 10; i++ {
				tick(t, s, frame.TickPresented)
				if s.Stats().InFlight > n {
					t.Fatalf("%d frames in flight, limit %d", s.Stats().InFlight, n)
				}
			}
			if dev.MaxInFlight() > n {
				t.Fatalf("device saw %d submissions in flight, limit %d", dev.MaxInFlight(), n)
			}
			s.Destroy()
			checkValid(t, dev)
		})
	}
}

func TestSlotRotationWaitsOnOldestFence(t *testing.T) {
	dev := gputest.NewDevice()
	s, rec, _ := newScheduler(t, dev, 2)
	defer s.Destroy()

	tick(t, s, frame.TickPresented)
	tick(t, s, frame.TickPresented)
	if dev.InFlight() != 2 {
		t.Fatalf("in flight = %d, want 2", dev.InFlight())
	}

	// The third tick reuses slot 0 and must first see frame 1 complete.
	dev.ResetEvents()
	tick(t, s, frame.TickPresented)
	want := []string{"wait-fence", "draw-indexed 1", "acquire:2", "submit", "present:2"}
	if got := dev.Events(); !reflect.DeepEqual(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}

	tick(t, s, frame.TickPresented)
	tick(t, s, frame.TickPresented)
	if want := []int{0, 1, 0, 1, 0}; !reflect.DeepEqual(rec.slots, want) {
		t.Fatalf("slots = %v, want %v", rec.slots, want)
	}
	if st := s.Stats(); st.Presented != 5 || st.Ticks != 5 {
		t.Fatalf("stats = %+v", st)
	}
	checkValid(t, dev)
}

func TestOutOfDateAcquireRecreates(t *testing.T) {
	dev := gputest.NewDevice()
	s, rec, tg := newScheduler(t, dev, 2)
	defer s.Destroy()

	tick(t, s, frame.TickPresented)
	dev.SetSurfaceExtent(1024, 768)
	dev.FailNextAcquire(gpu.ErrOutOfDate)
	tick(t, s, frame.TickRecreated)

	if dev.SwapchainBuilds() != 2 || tg.created != 2 {
		t.Fatalf("builds = %d, targets = %d", dev.SwapchainBuilds(), tg.created)
	}
	sc := s.Swapchain()
	if sc.Generation != 2 || sc.Extent != (gpu.Extent2D{Width: 1024, Height: 768}) {
		t.Fatalf("swapchain = %+v", sc)
	}
	// The recreating tick still advances the slot.
	if s.Current() != 0 {
		t.Fatalf("current slot = %d, want 0", s.Current())
	}
	tick(t, s, frame.TickPresented)
	if got := rec.generations[len(rec.generations)-1]; got != 2 {
		t.Fatalf("recorded against generation %d", got)
	}
	checkValid(t, dev)
}

func TestPresentStalenessRecreatesAfterPresent(t *testing.T) {
	for _, fault := range []error{gpu.ErrOutOfDate, gpu.ErrSuboptimal} {
		t.Run(fault.Error(), func(t *testing.T) {
			dev := gputest.NewDevice()
			s, _, _ := newScheduler(t, dev, 2)
			defer s.Destroy()

			dev.FailNextPresent(fault)
			tick(t, s, frame.TickRecreated)
			if dev.SwapchainBuilds() != 2 {
				t.Fatalf("swapchain builds = %d, want 2", dev.SwapchainBuilds())
			}
			tick(t, s, frame.TickPresented)
			checkValid(t, dev)
		})
	}
}

func TestSuboptimalAcquireStillPresents(t *testing.T) {
	dev := gputest.NewDevice()
	s, rec, _ := newScheduler(t, dev, 2)
	defer s.Destroy()

	dev.FailNextAcquire(gpu.ErrSuboptimal)
	tick(t, s, frame.TickRecreated)
	if len(rec.slots) != 1 || s.Stats().Presented != 1 {
		t.Fatalf("the suboptimal image was not presented: %+v", s.Stats())
	}
	checkValid(t, dev)
}

func TestResizeNotification(t *testing.T) {
	dev := gputest.NewDevice()
	s, _, _ := newScheduler(t, dev, 2)
	defer s.Destroy()

	tick(t, s, frame.TickPresented)
	dev.SetSurfaceExtent(640, 480)
	s.NotifyResized()
	tick(t, s, frame.TickRecreated)
	tick(t, s, frame.TickPresented)
	if s.Swapchain().Extent.Width != 640 {
		t.Fatalf("extent = %v", s.Swapchain().Extent)
	}
}

func TestMinimizedWindowSkips(t *testing.T) {
	dev := gputest.NewDevice()
	s, rec, _ := newScheduler(t, dev, 2)
	defer s.Destroy()

	tick(t, s, frame.TickPresented)
	dev.SetSurfaceExtent(0, 0)
	dev.FailNextAcquire(gpu.ErrOutOfDate)
	tick(t, s, frame.TickSkipped)
	submits := dev.Submits()
	tick(t, s, frame.TickSkipped)
	tick(t, s, frame.TickSkipped)
	if dev.Submits() != submits {
		t.Fatal("nothing may be submitted while minimized")
	}

	dev.SetSurfaceExtent(800, 600)
	tick(t, s, frame.TickRecreated)
	tick(t, s, frame.TickPresented)
	if len(rec.slots) != 2 {
		t.Fatalf("recorded %d frames, want 2", len(rec.slots))
	}
	checkValid(t, dev)
}

func TestRecreateIsIdempotent(t *testing.T) {
	dev := gputest.NewDevice()
	s, _, tg := newScheduler(t, dev, 2)
	defer s.Destroy()
	tick(t, s, frame.TickPresented)

	live := dev.LiveObjects()
	if _, err := s.Recreate(); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Recreate(); err != nil {
		t.Fatal(err)
	}
	if dev.LiveObjects() != live {
		t.Fatalf("live objects %d -> %d", live, dev.LiveObjects())
	}
	if len(tg.canvases) != len(s.Swapchain().Images) {
		t.Fatalf("%d canvases for %d images", len(tg.canvases), len(s.Swapchain().Images))
	}
	if s.Swapchain().Generation != 3 || tg.last != s.Swapchain() {
		t.Fatalf("generation = %d", s.Swapchain().Generation)
	}
	tick(t, s, frame.TickPresented)
	checkValid(t, dev)
}

func TestHungDeviceIsLost(t *testing.T) {
	dev := gputest.NewDevice()
	s, _, _ := newScheduler(t, dev, 2)

	tick(t, s, frame.TickPresented)
	tick(t, s, frame.TickPresented)
	dev.Hang(true)
	_, err := s.Tick()
	if !errors.Is(err, core.ErrDeviceLost) || !errors.Is(err, gpu.ErrTimeout) {
		t.Fatalf("expected a device loss caused by a timeout, got %v", err)
	}
	if !core.IsFatal(err) {
		t.Fatal("device loss must be fatal")
	}
	dev.Hang(false)
	s.Destroy()
}

func TestRecordFailureIsReported(t *testing.T) {
	dev := gputest.NewDevice()
	s, rec, _ := newScheduler(t, dev, 2)
	defer s.Destroy()

	boom := errors.New("boom")
	rec.fail = boom
	if _, err := s.Tick(); !errors.Is(err, boom) {
		t.Fatalf("expected the recorder error, got %v", err)
	}
}

func TestDestroyReleasesEverything(t *testing.T) {
	dev := gputest.NewDevice()
	s, _, _ := newScheduler(t, dev, 3)
	for i := 0; i < 4; i++ {
		tick(t, s, frame.TickPresented)
	}
	s.Destroy()
	if dev.LiveObjects() != 0 {
		t.Fatalf("%d objects leaked", dev.LiveObjects())
	}
	checkValid(t, dev)
}

func TestSchedulerOptions(t *testing.T) {
	dev := gputest.NewDevice()
	if _, err := frame.NewScheduler(dev, &recorder{}, &targets{dev: dev}, frame.Options{FenceTimeout: time.Second}); !errors.Is(err, core.ErrInitialization) {
		t.Fatalf("zero frames: %v", err)
	}
	if _, err := frame.NewScheduler(dev, &recorder{}, &targets{dev: dev}, frame.Options{FramesInFlight: 2}); !errors.Is(err, core.ErrInitialization) {
		t.Fatalf("zero timeout: %v", err)
	}
}
