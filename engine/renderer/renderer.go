// Package renderer selects the front end, raster or ray traced, and drives
// it with the frame scheduler.
package renderer

import (
	"errors"
	"fmt"
	"time"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/frame"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
	"github.com/spaghettifunk/lumen/engine/renderer/raster"
	"github.com/spaghettifunk/lumen/engine/renderer/raytrace"
	"github.com/spaghettifunk/lumen/engine/renderer/vulkan"
)

type Mode string

const (
	ModeRaster   Mode = "raster"
	ModeRayTrace Mode = "raytrace"
)

type Options struct {
	Mode           Mode
	FramesInFlight int
	FenceTimeout   time.Duration
	VSync          bool
	ClearColor     [4]float32

	Raster   RasterOptions
	RayTrace RayTraceOptions
}

type RasterOptions struct {
	Shaders raster.Shaders
	// Mesh and Texture fall back to the built-in quad and checkerboard.
	Mesh    *raster.Mesh
	Texture *raster.Texture
}

type RayTraceOptions struct {
	Shaders raytrace.Shaders
	// Scene falls back to the built-in cube grid.
	Scene  *raytrace.Scene
	Camera *raytrace.Camera
}

type Renderer struct {
	dev       gpu.Device
	mode      Mode
	frontEnd  FrontEnd
	scheduler *frame.Scheduler
	// ownsDevice is set when the renderer created the device.
	ownsDevice bool
}

// NewVulkan creates the Vulkan device for window, with the ray tracing
// extensions required in ModeRayTrace, and a renderer on top of it.
func NewVulkan(window vulkan.Window, appName string, validation bool, opts Options) (*Renderer, error) {
	dev, err := vulkan.New(window, vulkan.Config{
		ApplicationName: appName,
		Validation:      validation,
		RayTracing:      opts.Mode == ModeRayTrace,
	})
	if err != nil {
		return nil, err
	}
	r, err := New(dev, opts)
	if err != nil {
		dev.Destroy()
		return nil, err
	}
	r.ownsDevice = true
	return r, nil
}

// New builds the front end named by opts.Mode and the scheduler driving it.
// The mode is fixed for the lifetime of the renderer.
func New(dev gpu.Device, opts Options) (*Renderer, error) {
	r := &Renderer{dev: dev, mode: opts.Mode}

	sched := frame.Options{
		FramesInFlight: opts.FramesInFlight,
		FenceTimeout:   opts.FenceTimeout,
		VSync:          opts.VSync,
	}
	var err error
	switch opts.Mode {
	case ModeRaster:
		r.frontEnd, err = raster.New(dev, raster.Options{
			FramesInFlight: opts.FramesInFlight,
			Shaders:        opts.Raster.Shaders,
			ClearColor:     opts.ClearColor,
			Mesh:           opts.Raster.Mesh,
			Texture:        opts.Raster.Texture,
		})
		sched.SwapchainUsage = raster.SwapchainUsage
		sched.WaitStage = gpu.PipelineStageColorAttachmentOutput
	case ModeRayTrace:
		r.frontEnd, err = raytrace.New(dev, raytrace.Options{
			FramesInFlight: opts.FramesInFlight,
			Shaders:        opts.RayTrace.Shaders,
			ClearColor:     opts.ClearColor,
			Scene:          opts.RayTrace.Scene,
			Camera:         opts.RayTrace.Camera,
		})
		sched.SwapchainUsage = raytrace.SwapchainUsage
		sched.WaitStage = gpu.PipelineStageAllCommands
	default:
		return nil, fmt.Errorf("%w: unknown render mode %q", core.ErrInitialization, opts.Mode)
	}
	if err != nil {
		return nil, err
	}

	if r.scheduler, err = frame.NewScheduler(dev, r.frontEnd, r.frontEnd, sched); err != nil {
		r.frontEnd.Destroy()
		return nil, err
	}
	core.Logger().Info("renderer ready", "mode", opts.Mode, "frames", opts.FramesInFlight)
	return r, nil
}

func (r *Renderer) Mode() Mode {
	return r.mode
}

func (r *Renderer) Stats() frame.Stats {
	return r.scheduler.Stats()
}

// OnResize marks the swapchain stale; it is rebuilt on a later frame.
func (r *Renderer) OnResize() {
	r.scheduler.NotifyResized()
}

// DrawFrame advances the front end by dt seconds and runs one frame. A frame
// skipped for recreation or minimization is not an error.
func (r *Renderer) DrawFrame(dt float64) (frame.TickResult, error) {
	if a, ok := r.frontEnd.(animator); ok {
		a.Advance(dt)
	}
	res, err := r.scheduler.Tick()
	if err != nil {
		if errors.Is(err, core.ErrDeviceLost) {
			core.LogError("frame %d: %s", r.scheduler.Stats().Ticks, err)
		}
		return res, err
	}
	return res, nil
}

// Shutdown releases everything in reverse creation order once the device is
// idle.
func (r *Renderer) Shutdown() {
	r.scheduler.Destroy()
	r.frontEnd.Destroy()
	if r.ownsDevice {
		r.dev.Destroy()
	}
}
