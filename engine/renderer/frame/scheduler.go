// Package frame drives the acquire, record, submit and present cycle over a
// fixed number of frame slots and rebuilds the swapchain when it goes stale.
package frame

import (
	"errors"
	"fmt"
	"time"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

// Device is the part of the GPU the scheduler drives.
type Device interface {
	gpu.CommandSubmitter
	gpu.Synchronizer
	gpu.Presenter
}

// Frame is what a recorder needs to know about the frame being recorded.
type Frame struct {
	// Slot is the frame slot in [0, N).
	Slot       int
	ImageIndex uint32
	Image      gpu.ImageID
	View       gpu.ImageViewID
	Extent     gpu.Extent2D
	// Generation is the swapchain generation the image belongs to.
	Generation uint64
	// Number counts recorded frames since start.
	Number uint64
}

// Recorder records the commands of one frame. The slot's previous work has
// completed when RecordFrame is called, so per-slot resources may be updated.
type Recorder interface {
	RecordFrame(enc gpu.CommandEncoder, f Frame) error
}

// Targets owns everything that depends on the swapchain images: canvases,
// framebuffers, depth buffers and the descriptor writes that reference them.
type Targets interface {
	CreateTargets(sc *SwapchainState) error
	DestroyTargets()
}

// SwapchainState is one generation of presentable images.
type SwapchainState struct {
	Generation uint64
	Format     gpu.Format
	Extent     gpu.Extent2D
	Images     []gpu.ImageID
	Views      []gpu.ImageViewID
}

// Slot is the per frame-in-flight state. Its command buffer is only
// re-recorded after InFlight has been observed signaled.
type Slot struct {
	Index          int
	ImageAvailable gpu.SemaphoreID
	RenderFinished gpu.SemaphoreID
	InFlight       gpu.FenceID
	CommandBuffer  gpu.CommandBufferID
}

// Options configure a Scheduler.
type Options struct {
	FramesInFlight int
	// FenceTimeout bounds every fence and acquire wait; expiry is a device loss.
	FenceTimeout    time.Duration
	VSync           bool
	SwapchainUsage  gpu.ImageUsage
	PreferredFormat gpu.Format
	// WaitStage is the stage that waits for the acquired image.
	WaitStage gpu.PipelineStage
}

// TickResult tells what a tick did.
type TickResult int

const (
	// TickPresented means a frame was submitted and presented.
	TickPresented TickResult = iota
	// TickRecreated means the swapchain was rebuilt during the tick.
	TickRecreated
	// TickSkipped means nothing could be drawn, e.g. while minimized.
	TickSkipped
)

func (r TickResult) String() string {
	switch r {
	case TickPresented:
		return "presented"
	case TickRecreated:
		return "recreated"
	}
	return "skipped"
}

// Stats are counters over the scheduler's lifetime.
type Stats struct {
	Ticks       uint64
	Presented   uint64
	Recreations uint64
	InFlight    int
}

// Scheduler is the frame loop state machine. It is not safe for concurrent use.
type Scheduler struct {
	dev      Device
	recorder Recorder
	targets  Targets
	opts     Options

	slots     []Slot
	submitted []bool
	current   int
	swapchain *SwapchainState

	// Resize notifications bump sizeGeneration; recreation catches up.
	sizeGeneration     uint64
	sizeLastGeneration uint64
	recreating         bool
	stale              bool

	frameNumber uint64
	stats       Stats
}

// NewScheduler creates the frame slots, the first swapchain and its targets.
// Fences are created signaled so the first wait on every slot returns at once.
func NewScheduler(dev Device, recorder Recorder, targets Targets, opts Options) (*Scheduler, error) {
	if opts.FramesInFlight <= 0 {
		return nil, fmt.Errorf("%w: %d frames in flight", core.ErrInitialization, opts.FramesInFlight)
	}
	if opts.FenceTimeout <= 0 {
		return nil, fmt.Errorf("%w: fence timeout must be positive", core.ErrInitialization)
	}
	if opts.WaitStage == 0 {
		opts.WaitStage = gpu.PipelineStageColorAttachmentOutput
	}
	s := &Scheduler{
		dev:       dev,
		recorder:  recorder,
		targets:   targets,
		opts:      opts,
		slots:     make([]Slot, opts.FramesInFlight),
		submitted: make([]bool, opts.FramesInFlight),
	}
	for i := range s.slots {
		if err := s.createSlot(i); err != nil {
			s.Destroy()
			return nil, err
		}
	}
	if _, err := s.recreate(); err != nil {
		s.Destroy()
		return nil, err
	}
	core.LogInfo("frame scheduler ready with %d frames in flight", opts.FramesInFlight)
	return s, nil
}

func (s *Scheduler) createSlot(i int) error {
	slot := Slot{Index: i}
	var err error
	if slot.ImageAvailable, err = s.dev.CreateSemaphore(); err != nil {
		return err
	}
	s.slots[i] = slot
	if slot.RenderFinished, err = s.dev.CreateSemaphore(); err != nil {
		return err
	}
	s.slots[i] = slot
	if slot.InFlight, err = s.dev.CreateFence(true); err != nil {
		return err
	}
	s.slots[i] = slot
	if slot.CommandBuffer, err = s.dev.AllocateCommandBuffer(); err != nil {
		return err
	}
	s.slots[i] = slot
	return nil
}

// Current returns the slot index the next tick uses.
func (s *Scheduler) Current() int {
	return s.current
}

// Slot returns the state of frame slot i.
func (s *Scheduler) Slot(i int) Slot {
	return s.slots[i]
}

// Swapchain returns the current generation, or nil while none exists.
func (s *Scheduler) Swapchain() *SwapchainState {
	return s.swapchain
}

func (s *Scheduler) Stats() Stats {
	st := s.stats
	for _, b := range s.submitted {
		if b {
			st.InFlight++
		}
	}
	return st
}

// NotifyResized records that the surface size changed; the swapchain is
// rebuilt after the next present.
func (s *Scheduler) NotifyResized() {
	s.sizeGeneration++
}

func deviceLost(what string, slot int, err error) error {
	return fmt.Errorf("%w: %s for frame %d: %w", core.ErrDeviceLost, what, slot, err)
}

// Tick runs one frame. Staleness of the swapchain is handled here and never
// returned; any returned error is fatal.
func (s *Scheduler) Tick() (TickResult, error) {
	s.stats.Ticks++
	slot := &s.slots[s.current]
	defer func() {
		s.current = (s.current + 1) % len(s.slots)
	}()

	if s.stale || s.swapchain == nil {
		return s.recreate()
	}

	// Acquiring
	if err := s.dev.WaitFence(slot.InFlight, s.opts.FenceTimeout); err != nil {
		return TickSkipped, deviceLost("in-flight fence wait", slot.Index, err)
	}
	s.submitted[slot.Index] = false

	recreateAfterPresent := false
	imageIndex, err := s.dev.AcquireNextImage(slot.ImageAvailable, s.opts.FenceTimeout)
	switch {
	case err == nil:
	case errors.Is(err, gpu.ErrOutOfDate):
		core.LogDebug("swapchain out of date on acquire, recreating")
		return s.recreate()
	case errors.Is(err, gpu.ErrSuboptimal):
		recreateAfterPresent = true
	case errors.Is(err, gpu.ErrTimeout):
		return TickSkipped, deviceLost("acquire", slot.Index, err)
	default:
		return TickSkipped, fmt.Errorf("acquire next image: %w", err)
	}

	// Recording
	if err := s.dev.ResetCommandBuffer(slot.CommandBuffer); err != nil {
		return TickSkipped, err
	}
	enc, err := s.dev.BeginCommandBuffer(slot.CommandBuffer, false)
	if err != nil {
		return TickSkipped, err
	}
	s.frameNumber++
	f := Frame{
		Slot:       slot.Index,
		ImageIndex: imageIndex,
		Image:      s.swapchain.Images[imageIndex],
		View:       s.swapchain.Views[imageIndex],
		Extent:     s.swapchain.Extent,
		Generation: s.swapchain.Generation,
		Number:     s.frameNumber,
	}
	if err := s.recorder.RecordFrame(enc, f); err != nil {
		return TickSkipped, fmt.Errorf("record frame %d: %w", f.Number, err)
	}
	if err := s.dev.EndCommandBuffer(slot.CommandBuffer); err != nil {
		return TickSkipped, err
	}
	// The fence is only reset once work that signals it is about to be submitted.
	if err := s.dev.ResetFence(slot.InFlight); err != nil {
		return TickSkipped, err
	}

	// Submitted
	if err := s.dev.Submit(&gpu.SubmitInfo{
		CommandBuffer: slot.CommandBuffer,
		Wait:          slot.ImageAvailable,
		WaitStage:     s.opts.WaitStage,
		Signal:        slot.RenderFinished,
		Fence:         slot.InFlight,
	}); err != nil {
		return TickSkipped, fmt.Errorf("submit frame %d: %w", f.Number, err)
	}
	s.submitted[slot.Index] = true

	// Presenting
	err = s.dev.Present(imageIndex, slot.RenderFinished)
	switch {
	case err == nil:
		s.stats.Presented++
	case errors.Is(err, gpu.ErrSuboptimal):
		s.stats.Presented++
		recreateAfterPresent = true
	case errors.Is(err, gpu.ErrOutOfDate):
		recreateAfterPresent = true
	default:
		return TickSkipped, fmt.Errorf("present frame %d: %w", f.Number, err)
	}

	if recreateAfterPresent || s.sizeGeneration != s.sizeLastGeneration {
		return s.recreate()
	}
	return TickPresented, nil
}

// Recreate rebuilds the swapchain and its targets. Calling it repeatedly
// leaves exactly one generation alive.
func (s *Scheduler) Recreate() (TickResult, error) {
	return s.recreate()
}

func (s *Scheduler) recreate() (TickResult, error) {
	if s.recreating {
		core.LogDebug("recreate called when already recreating. Booting.")
		return TickSkipped, nil
	}
	extent := s.dev.SurfaceExtent()
	if extent.Empty() {
		// Minimized: keep the old generation and retry on the next tick.
		s.stale = true
		core.LogDebug("surface is %dx%d, deferring swapchain recreation", extent.Width, extent.Height)
		return TickSkipped, nil
	}
	s.recreating = true
	defer func() { s.recreating = false }()

	if err := s.dev.DeviceWaitIdle(); err != nil {
		return TickSkipped, fmt.Errorf("%w: wait idle before recreation: %w", core.ErrDeviceLost, err)
	}
	for i := range s.submitted {
		s.submitted[i] = false
	}

	var generation uint64
	if s.swapchain != nil {
		generation = s.swapchain.Generation
		s.targets.DestroyTargets()
		s.dev.DestroySwapchain()
		s.swapchain = nil
	}

	images, err := s.dev.CreateSwapchain(&gpu.SwapchainDesc{
		Extent:          extent,
		Usage:           s.opts.SwapchainUsage,
		PreferredFormat: s.opts.PreferredFormat,
		VSync:           s.opts.VSync,
	})
	if err != nil {
		return TickSkipped, fmt.Errorf("%w: create swapchain: %w", core.ErrInitialization, err)
	}
	sc := &SwapchainState{
		Generation: generation + 1,
		Format:     images.Format,
		Extent:     images.Extent,
		Images:     images.Images,
		Views:      images.Views,
	}
	if err := s.targets.CreateTargets(sc); err != nil {
		s.dev.DestroySwapchain()
		return TickSkipped, fmt.Errorf("create swapchain targets: %w", err)
	}
	s.swapchain = sc
	s.sizeLastGeneration = s.sizeGeneration
	s.stale = false
	s.stats.Recreations++

	core.Logger().Info("swapchain ready",
		"generation", sc.Generation, "width", sc.Extent.Width, "height", sc.Extent.Height, "images", len(sc.Images))
	return TickRecreated, nil
}

// Destroy waits for the device and frees the slots, the swapchain and its targets.
func (s *Scheduler) Destroy() {
	if err := s.dev.DeviceWaitIdle(); err != nil {
		core.LogWarn("device wait idle on shutdown: %v", err)
	}
	if s.swapchain != nil {
		s.targets.DestroyTargets()
		s.dev.DestroySwapchain()
		s.swapchain = nil
	}
	for i, slot := range s.slots {
		if slot.CommandBuffer != gpu.InvalidID {
			s.dev.FreeCommandBuffer(slot.CommandBuffer)
		}
		if slot.InFlight != gpu.InvalidID {
			s.dev.DestroyFence(slot.InFlight)
		}
		if slot.RenderFinished != gpu.InvalidID {
			s.dev.DestroySemaphore(slot.RenderFinished)
		}
		if slot.ImageAvailable != gpu.InvalidID {
			s.dev.DestroySemaphore(slot.ImageAvailable)
		}
		s.slots[i] = Slot{Index: i}
	}
}
