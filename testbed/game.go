package testbed

import (
	"github.com/spaghettifunk/lumen/engine"
	"github.com/spaghettifunk/lumen/engine/core"
)

type TestGame struct {
	*engine.Game
}

type gameState struct {
	elapsed float64
	frames  uint64
	width   uint32
	height  uint32
}

func NewTestGame(configPath, envPath string) *TestGame {
	tg := &TestGame{
		Game: &engine.Game{
			ApplicationConfig: &engine.ApplicationConfig{
				ConfigPath: configPath,
				EnvPath:    envPath,
			},
			State: &gameState{},
		},
	}

	tg.FnBoot = tg.Boot
	tg.FnInitialize = tg.Initialize
	tg.FnUpdate = tg.Update
	tg.FnRender = tg.Render
	tg.FnOnResize = tg.OnResize
	tg.FnShutdown = tg.Shutdown

	return tg
}

func (g *TestGame) state() *gameState {
	return g.State.(*gameState)
}

func (g *TestGame) Boot() error {
	cfg := g.ApplicationConfig.Config
	core.LogInfo("booting testbed in %s mode...", cfg.Renderer.Mode)
	if cfg.Application.Name == "" {
		cfg.Application.Name = "Lumen Testbed"
	}
	return nil
}

func (g *TestGame) Initialize() error {
	core.LogInfo("testbed initialized; press ESC to quit")
	return nil
}

func (g *TestGame) Update(deltaTime float64) error {
	s := g.state()
	s.elapsed += deltaTime
	if core.InputIsKeyDown(core.KEY_SPACE) && !core.InputWasKeyDown(core.KEY_SPACE) {
		core.LogInfo("%.1fs elapsed, %d frames", s.elapsed, s.frames)
	}
	return nil
}

func (g *TestGame) Render(deltaTime float64) error {
	g.state().frames++
	return nil
}

func (g *TestGame) OnResize(width, height uint32) error {
	s := g.state()
	s.width, s.height = width, height
	return nil
}

func (g *TestGame) Shutdown() error {
	s := g.state()
	core.LogInfo("testbed ran %d frames in %.1fs", s.frames, s.elapsed)
	return nil
}
