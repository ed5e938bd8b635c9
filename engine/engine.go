package engine

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/spaghettifunk/lumen/engine/assets"
	"github.com/spaghettifunk/lumen/engine/config"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/platform"
	"github.com/spaghettifunk/lumen/engine/renderer"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine completed boot process and is ready to be initialized
	EngineStageBootComplete
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
)

type Engine struct {
	currentStage Stage
	gameInstance *Game
	config       *config.Config
	runID        uuid.UUID

	isRunning   atomic.Bool
	isSuspended bool

	platform     *platform.Platform
	assetManager *assets.AssetManager
	renderer     *renderer.Renderer

	width    uint32
	height   uint32
	clock    *core.Clock
	metrics  *core.Metrics
	lastTime float64
}

// New loads the configuration, boots the game and indexes the assets. No
// window or device exists yet.
func New(g *Game) (*Engine, error) {
	appConfig := g.ApplicationConfig
	if appConfig == nil {
		appConfig = &ApplicationConfig{}
		g.ApplicationConfig = appConfig
	}
	cfg, err := config.Load(appConfig.ConfigPath, appConfig.EnvPath)
	if err != nil {
		return nil, err
	}
	appConfig.Config = cfg
	core.SetLogLevel(cfg.LogLevel())

	e := &Engine{
		currentStage: EngineStageUninitialized,
		gameInstance: g,
		config:       cfg,
		runID:        uuid.New(),
		platform:     platform.New(),
		clock:        core.NewClock(),
		metrics:      core.NewMetrics(),
		width:        cfg.Application.Width,
		height:       cfg.Application.Height,
	}

	if g.FnBoot != nil {
		if err := g.FnBoot(); err != nil {
			return nil, fmt.Errorf("game boot: %w", err)
		}
		// The game may have changed the configuration.
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		core.SetLogLevel(cfg.LogLevel())
	}

	if e.assetManager, err = assets.NewAssetManager(cfg.Assets.Root); err != nil {
		return nil, fmt.Errorf("%w: assets: %w", core.ErrInitialization, err)
	}
	e.currentStage = EngineStageBootComplete
	core.Logger().Info("engine booted", "run", e.runID, "mode", cfg.Renderer.Mode)
	return e, nil
}

func (e *Engine) Initialize() error {
	if e.currentStage != EngineStageBootComplete {
		return fmt.Errorf("initialize called in stage %d", e.currentStage)
	}
	cfg := e.config

	if err := core.InputInitialize(); err != nil {
		return err
	}
	if !core.EventInitialize() {
		return fmt.Errorf("failed to initialize the event system")
	}
	core.EventRegister(core.EVENT_CODE_APPLICATION_QUIT, e, e.onEvent)
	core.EventRegister(core.EVENT_CODE_KEY_PRESSED, e, e.onKey)
	core.EventRegister(core.EVENT_CODE_KEY_RELEASED, e, e.onKey)
	core.EventRegister(core.EVENT_CODE_RESIZED, e, e.onResized)
	core.EventRegister(core.EVENT_CODE_ASSET_CHANGED, e, e.onAssetChanged)

	if err := e.platform.Startup(cfg.Application.Name,
		cfg.Application.PosX,
		cfg.Application.PosY,
		cfg.Application.Width,
		cfg.Application.Height); err != nil {
		return err
	}
	e.width, e.height = e.platform.DrawableSize()

	if cfg.Assets.Watch {
		if err := e.assetManager.Watch(); err != nil {
			core.LogWarn("asset watcher disabled: %s", err)
		}
	}

	opts, err := e.rendererOptions()
	if err != nil {
		return err
	}
	if e.renderer, err = renderer.NewVulkan(e.platform.Window, cfg.Application.Name, cfg.Renderer.Validation, opts); err != nil {
		return err
	}

	if e.gameInstance.FnInitialize != nil {
		if err := e.gameInstance.FnInitialize(); err != nil {
			return err
		}
	}
	if e.gameInstance.FnOnResize != nil {
		if err := e.gameInstance.FnOnResize(e.width, e.height); err != nil {
			return err
		}
	}
	e.currentStage = EngineStageInitialized
	return nil
}

// rendererOptions loads the shaders and the optional model and texture the
// configured mode needs.
func (e *Engine) rendererOptions() (renderer.Options, error) {
	cfg := e.config
	opts := renderer.Options{
		Mode:           renderer.Mode(cfg.Renderer.Mode),
		FramesInFlight: cfg.Renderer.FramesInFlight,
		FenceTimeout:   cfg.FenceTimeout(),
		VSync:          cfg.Renderer.VSync,
		ClearColor:     cfg.Renderer.ClearColor,
	}
	shaders := cfg.Assets.Shaders
	load := func(dst *[]byte, path string) error {
		code, err := e.assetManager.LoadShader(path)
		if err != nil {
			return fmt.Errorf("%w: shader %s: %w", core.ErrInitialization, path, err)
		}
		*dst = code
		return nil
	}

	switch cfg.Renderer.Mode {
	case config.ModeRaster:
		s := &opts.Raster.Shaders
		if err := errors.Join(load(&s.Vertex, shaders.Vertex), load(&s.Fragment, shaders.Fragment)); err != nil {
			return opts, err
		}
		if cfg.Assets.Model != "" {
			m, err := e.assetManager.LoadModel(cfg.Assets.Model)
			if err != nil {
				return opts, fmt.Errorf("%w: %w", core.ErrInitialization, err)
			}
			opts.Raster.Mesh = rasterMesh(m)
		}
		if cfg.Assets.Texture != "" {
			img, err := e.assetManager.LoadImage(cfg.Assets.Texture)
			if err != nil {
				return opts, fmt.Errorf("%w: %w", core.ErrInitialization, err)
			}
			opts.Raster.Texture = rasterTexture(img)
		}
	case config.ModeRayTrace:
		s := &opts.RayTrace.Shaders
		if err := errors.Join(
			load(&s.Raygen, shaders.Raygen),
			load(&s.Miss, shaders.Miss),
			load(&s.ClosestHit, shaders.ClosestHit),
		); err != nil {
			return opts, err
		}
		if cfg.Assets.Model != "" {
			m, err := e.assetManager.LoadModel(cfg.Assets.Model)
			if err != nil {
				return opts, fmt.Errorf("%w: %w", core.ErrInitialization, err)
			}
			name := filepath.Base(cfg.Assets.Model)
			opts.RayTrace.Scene = rayTraceScene(name, m)
		}
	}
	return opts, nil
}

func (e *Engine) Run() error {
	if e.currentStage != EngineStageInitialized {
		return fmt.Errorf("run called in stage %d", e.currentStage)
	}
	e.currentStage = EngineStageRunning
	e.isRunning.Store(true)

	e.clock.Start()
	e.clock.Update()
	e.lastTime = e.clock.Elapsed()
	lastReport := e.lastTime

	for e.isRunning.Load() {
		if !e.platform.PumpMessages() {
			e.isRunning.Store(false)
			break
		}
		if e.isSuspended {
			e.platform.WaitMessages()
			continue
		}

		// Update clock and get delta time.
		e.clock.Update()
		currentTime := e.clock.Elapsed()
		delta := currentTime - e.lastTime
		frameStart := time.Now()

		if e.gameInstance.FnUpdate != nil {
			if err := e.gameInstance.FnUpdate(delta); err != nil {
				return fmt.Errorf("game update: %w", err)
			}
		}
		if e.gameInstance.FnRender != nil {
			if err := e.gameInstance.FnRender(delta); err != nil {
				return fmt.Errorf("game render: %w", err)
			}
		}

		if _, err := e.renderer.DrawFrame(delta); err != nil {
			return err
		}

		e.metrics.Update(time.Since(frameStart).Seconds())
		if currentTime-lastReport >= 5 {
			stats := e.renderer.Stats()
			core.Logger().Debug("frame stats",
				"fps", e.metrics.FPS(),
				"frame_ms", e.metrics.FrameTime(),
				"presented", stats.Presented,
				"recreations", stats.Recreations)
			lastReport = currentTime
		}

		// NOTE: Input update/state copying should always be handled
		// after any input should be recorded; I.E. before this line.
		core.InputUpdate()
		e.lastTime = currentTime
	}
	return nil
}

// Stop ends the frame loop after the current frame. It is safe to call from
// any goroutine.
func (e *Engine) Stop() {
	e.isRunning.Store(false)
}

func (e *Engine) Shutdown() error {
	e.currentStage = EngineStageShuttingDown
	var errs []error
	if e.gameInstance.FnShutdown != nil {
		errs = append(errs, e.gameInstance.FnShutdown())
	}
	if e.renderer != nil {
		e.renderer.Shutdown()
		e.renderer = nil
	}
	errs = append(errs,
		e.assetManager.Close(),
		e.platform.Shutdown(),
		core.EventShutdown(),
		core.InputShutdown(),
	)
	core.Logger().Info("engine stopped", "run", e.runID)
	return errors.Join(errs...)
}

// GetFramebufferSize returns the width and height (in this order)
// of the application Framebuffer
func (e *Engine) GetFramebufferSize() (uint32, uint32) {
	return e.width, e.height
}

func (e *Engine) onEvent(code core.SystemEventCode, sender, listener interface{}, data core.EventContext) bool {
	if code == core.EVENT_CODE_APPLICATION_QUIT {
		core.LogInfo("EVENT_CODE_APPLICATION_QUIT received, shutting down.")
		e.Stop()
		return true
	}
	return false
}

func (e *Engine) onKey(code core.SystemEventCode, sender, listener interface{}, data core.EventContext) bool {
	key := core.KeyCode(data.Data.U16[0])
	if code == core.EVENT_CODE_KEY_PRESSED && key == core.KEY_ESCAPE {
		// NOTE: Technically firing an event to itself, but there may be other listeners.
		core.EventFire(core.EVENT_CODE_APPLICATION_QUIT, e, core.EventContext{})
		// Block anything else from processing this.
		return true
	}
	return false
}

func (e *Engine) onResized(code core.SystemEventCode, sender, listener interface{}, data core.EventContext) bool {
	width, height := data.Data.U32[0], data.Data.U32[1]
	if width == e.width && height == e.height {
		return false
	}
	e.width, e.height = width, height
	core.LogDebug("Window resize: %d, %d", width, height)

	// Handle minimization
	if width == 0 || height == 0 {
		core.LogInfo("Window minimized, suspending application.")
		e.isSuspended = true
		return true
	}
	if e.isSuspended {
		core.LogInfo("Window restored, resuming application.")
		e.isSuspended = false
	}
	if e.renderer != nil {
		e.renderer.OnResize()
	}
	if e.gameInstance.FnOnResize != nil {
		if err := e.gameInstance.FnOnResize(width, height); err != nil {
			core.LogError(err.Error())
		}
	}
	return false
}

// onAssetChanged runs on the watcher goroutine. Loaded GPU resources are
// not replaced; the new contents are used on the next start.
func (e *Engine) onAssetChanged(code core.SystemEventCode, sender, listener interface{}, data core.EventContext) bool {
	core.LogInfo("%s asset changed on disk; restart to apply", assets.Type(data.Data.U8[0]))
	return false
}
