// Package config loads the engine configuration from a TOML file and applies
// overrides from a .env file and the process environment.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"

	"github.com/spaghettifunk/lumen/engine/core"
)

// Mode selects the front end. It is fixed for the lifetime of the process.
type Mode string

const (
	ModeRaster   Mode = "raster"
	ModeRayTrace Mode = "raytrace"
)

// Environment variables that override the file.
const (
	EnvRenderMode     = "LUMEN_RENDER_MODE"
	EnvLogLevel       = "LUMEN_LOG_LEVEL"
	EnvFramesInFlight = "LUMEN_FRAMES_IN_FLIGHT"
	EnvValidation     = "LUMEN_VALIDATION"
)

const MaxFramesInFlight = 4

type Config struct {
	Application Application `toml:"application"`
	Renderer    Renderer    `toml:"renderer"`
	Assets      Assets      `toml:"assets"`
}

type Application struct {
	Name     string `toml:"name"`
	PosX     uint32 `toml:"pos_x"`
	PosY     uint32 `toml:"pos_y"`
	Width    uint32 `toml:"width"`
	Height   uint32 `toml:"height"`
	LogLevel string `toml:"log_level"`
}

type Renderer struct {
	Mode           Mode       `toml:"mode"`
	FramesInFlight int        `toml:"frames_in_flight"`
	FenceTimeoutMS int        `toml:"fence_timeout_ms"`
	Validation     bool       `toml:"validation"`
	VSync          bool       `toml:"vsync"`
	ClearColor     [4]float32 `toml:"clear_color"`
}

type Assets struct {
	// Root is the directory every other asset path is relative to.
	Root    string  `toml:"root"`
	Watch   bool    `toml:"watch"`
	Model   string  `toml:"model"`
	Texture string  `toml:"texture"`
	Shaders Shaders `toml:"shaders"`
}

// Shaders are paths to compiled SPIR-V binaries.
type Shaders struct {
	Vertex     string `toml:"vertex"`
	Fragment   string `toml:"fragment"`
	Raygen     string `toml:"raygen"`
	Miss       string `toml:"miss"`
	ClosestHit string `toml:"closest_hit"`
}

func Default() *Config {
	return &Config{
		Application: Application{
			Name:     "Lumen",
			PosX:     100,
			PosY:     100,
			Width:    1280,
			Height:   720,
			LogLevel: string(core.InfoLevel),
		},
		Renderer: Renderer{
			Mode:           ModeRaster,
			FramesInFlight: 2,
			FenceTimeoutMS: 1000,
			VSync:          true,
			ClearColor:     [4]float32{0.7, 0.7, 0.7, 0.7},
		},
		Assets: Assets{
			Root:  "assets",
			Watch: false,
			Shaders: Shaders{
				Vertex:     "shaders/raster.vert.spv",
				Fragment:   "shaders/raster.frag.spv",
				Raygen:     "shaders/raytrace.rgen.spv",
				Miss:       "shaders/raytrace.rmiss.spv",
				ClosestHit: "shaders/raytrace.rchit.spv",
			},
		},
	}
}

// Load reads the TOML file at path over the defaults, then applies the
// overrides found in envFile and in the process environment, in that order.
// Missing files are not an error.
func Load(path, envFile string) (*Config, error) {
	cfg := Default()

	f, err := os.Open(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		core.LogWarn("configuration file %q not found, using defaults", path)
	case err != nil:
		return nil, err
	default:
		defer f.Close()
		if err := cfg.Decode(f); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}

	env := map[string]string{}
	if envFile != "" {
		fileEnv, err := godotenv.Read(envFile)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", envFile, err)
		}
		for k, v := range fileEnv {
			env[k] = v
		}
	}
	for _, k := range []string{EnvRenderMode, EnvLogLevel, EnvFramesInFlight, EnvValidation} {
		if v, ok := os.LookupEnv(k); ok {
			env[k] = v
		}
	}
	if err := cfg.ApplyEnv(env); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Decode reads TOML from r over the current values. Unknown keys are rejected.
func (c *Config) Decode(r io.Reader) error {
	return toml.NewDecoder(r).DisallowUnknownFields().Decode(c)
}

// ApplyEnv applies the LUMEN_* overrides in env.
func (c *Config) ApplyEnv(env map[string]string) error {
	if v, ok := env[EnvRenderMode]; ok {
		c.Renderer.Mode = Mode(strings.ToLower(strings.TrimSpace(v)))
	}
	if v, ok := env[EnvLogLevel]; ok {
		c.Application.LogLevel = v
	}
	if v, ok := env[EnvFramesInFlight]; ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", EnvFramesInFlight, err)
		}
		c.Renderer.FramesInFlight = n
	}
	if v, ok := env[EnvValidation]; ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", EnvValidation, err)
		}
		c.Renderer.Validation = b
	}
	return nil
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Renderer.Mode {
	case ModeRaster, ModeRayTrace:
	default:
		errs = append(errs, fmt.Errorf("renderer.mode %q must be %q or %q", c.Renderer.Mode, ModeRaster, ModeRayTrace))
	}
	if c.Renderer.FramesInFlight < 1 || c.Renderer.FramesInFlight > MaxFramesInFlight {
		errs = append(errs, fmt.Errorf("renderer.frames_in_flight %d is outside 1..%d", c.Renderer.FramesInFlight, MaxFramesInFlight))
	}
	if c.Renderer.FenceTimeoutMS <= 0 {
		errs = append(errs, fmt.Errorf("renderer.fence_timeout_ms must be positive"))
	}
	if _, err := core.ParseLogLevel(c.Application.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("application.log_level: %w", err))
	}
	if c.Application.Width == 0 || c.Application.Height == 0 {
		errs = append(errs, fmt.Errorf("application size %dx%d is empty", c.Application.Width, c.Application.Height))
	}
	for name, path := range c.shaderPaths() {
		if path == "" {
			errs = append(errs, fmt.Errorf("assets.shaders.%s is empty", name))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", core.ErrInitialization, errors.Join(errs...))
	}
	return nil
}

// shaderPaths returns the shaders the selected mode needs.
func (c *Config) shaderPaths() map[string]string {
	s := c.Assets.Shaders
	if c.Renderer.Mode == ModeRayTrace {
		return map[string]string{"raygen": s.Raygen, "miss": s.Miss, "closest_hit": s.ClosestHit}
	}
	return map[string]string{"vertex": s.Vertex, "fragment": s.Fragment}
}

func (c *Config) FenceTimeout() time.Duration {
	return time.Duration(c.Renderer.FenceTimeoutMS) * time.Millisecond
}

func (c *Config) LogLevel() core.LogLevel {
	l, err := core.ParseLogLevel(c.Application.LogLevel)
	if err != nil {
		return core.InfoLevel
	}
	return l
}
