package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spaghettifunk/lumen/engine/config"
	"github.com/spaghettifunk/lumen/engine/core"
)

// clearEnv hides any LUMEN_* variables of the calling shell.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{config.EnvRenderMode, config.EnvLogLevel, config.EnvFramesInFlight, config.EnvValidation} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func write(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestDefaultIsValid(t *testing.T) {
	if err := config.Default().Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestLoadMissingFilesUsesDefaults(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	cfg, err := config.Load(filepath.Join(dir, "none.toml"), filepath.Join(dir, ".env"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Renderer.Mode != config.ModeRaster || cfg.Renderer.FramesInFlight != 2 {
		t.Fatalf("cfg = %+v", cfg.Renderer)
	}
	if cfg.FenceTimeout() != time.Second {
		t.Fatalf("timeout = %s", cfg.FenceTimeout())
	}
}

func TestLoadFileOverDefaults(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := write(t, dir, "lumen.toml", `
[application]
name = "cube"
width = 800

[renderer]
mode = "raytrace"
frames_in_flight = 3
clear_color = [0.1, 0.2, 0.3, 1.0]

[assets.shaders]
raygen = "rt/a.rgen.spv"
`)
	cfg, err := config.Load(path, "")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Application.Name != "cube" || cfg.Application.Width != 800 || cfg.Application.Height != 720 {
		t.Errorf("application = %+v", cfg.Application)
	}
	if cfg.Renderer.Mode != config.ModeRayTrace || cfg.Renderer.FramesInFlight != 3 {
		t.Errorf("renderer = %+v", cfg.Renderer)
	}
	if cfg.Renderer.ClearColor != [4]float32{0.1, 0.2, 0.3, 1.0} {
		t.Errorf("clear color = %v", cfg.Renderer.ClearColor)
	}
	if cfg.Assets.Shaders.Raygen != "rt/a.rgen.spv" || cfg.Assets.Shaders.Miss == "" {
		t.Errorf("shaders = %+v", cfg.Assets.Shaders)
	}
}

func TestUnknownKeysAreRejected(t *testing.T) {
	clearEnv(t)
	path := write(t, t.TempDir(), "lumen.toml", "[renderer]\nmsaa = 4\n")
	if _, err := config.Load(path, ""); err == nil {
		t.Fatal("unknown key accepted")
	}
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	env := write(t, dir, ".env", "LUMEN_RENDER_MODE=RayTrace\nLUMEN_FRAMES_IN_FLIGHT=1\nLUMEN_LOG_LEVEL=debug\n")

	cfg, err := config.Load(filepath.Join(dir, "none.toml"), env)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Renderer.Mode != config.ModeRayTrace || cfg.Renderer.FramesInFlight != 1 {
		t.Fatalf("renderer = %+v", cfg.Renderer)
	}
	if cfg.LogLevel() != core.DebugLevel {
		t.Fatalf("log level = %s", cfg.LogLevel())
	}

	// The process environment wins over the file.
	t.Setenv(config.EnvFramesInFlight, "4")
	t.Setenv(config.EnvValidation, "true")
	cfg, err = config.Load(filepath.Join(dir, "none.toml"), env)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Renderer.FramesInFlight != 4 || !cfg.Renderer.Validation {
		t.Fatalf("renderer = %+v", cfg.Renderer)
	}
}

func TestApplyEnvRejectsGarbage(t *testing.T) {
	cfg := config.Default()
	if err := cfg.ApplyEnv(map[string]string{config.EnvFramesInFlight: "two"}); err == nil {
		t.Error("non numeric frame count accepted")
	}
	if err := cfg.ApplyEnv(map[string]string{config.EnvValidation: "maybe"}); err == nil {
		t.Error("non boolean validation accepted")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *config.Config)
		want   string
	}{
		{"mode", func(c *config.Config) { c.Renderer.Mode = "hybrid" }, "renderer.mode"},
		{"no frames", func(c *config.Config) { c.Renderer.FramesInFlight = 0 }, "frames_in_flight"},
		{"too many frames", func(c *config.Config) { c.Renderer.FramesInFlight = 5 }, "frames_in_flight"},
		{"timeout", func(c *config.Config) { c.Renderer.FenceTimeoutMS = 0 }, "fence_timeout_ms"},
		{"log level", func(c *config.Config) { c.Application.LogLevel = "loud" }, "log_level"},
		{"size", func(c *config.Config) { c.Application.Height = 0 }, "is empty"},
		{"raster shader", func(c *config.Config) { c.Assets.Shaders.Fragment = "" }, "assets.shaders.fragment"},
		{"rt shader", func(c *config.Config) {
			c.Renderer.Mode = config.ModeRayTrace
			c.Assets.Shaders.Miss = ""
		}, "assets.shaders.miss"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if !errors.Is(err, core.ErrInitialization) {
				t.Fatalf("err = %v", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err %q does not mention %q", err, tt.want)
			}
		})
	}

	// Shaders of the other mode are not required.
	cfg := config.Default()
	cfg.Assets.Shaders.Raygen = ""
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
}
