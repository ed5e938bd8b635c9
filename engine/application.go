package engine

import (
	"github.com/spaghettifunk/lumen/engine/config"
)

type ApplicationConfig struct {
	// ConfigPath is the TOML configuration file; a missing file means defaults.
	ConfigPath string
	// EnvPath is an optional .env file with LUMEN_* overrides.
	EnvPath string
	// Config is loaded from ConfigPath by New. The game may change it in
	// its boot routine, before anything is created from it.
	Config *config.Config
}
