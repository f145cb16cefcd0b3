// Package config provides configuration management for the sphbox CLI.
//
// Configuration is layered: built-in defaults, then sphbox.yaml, then
// SPHBOX_* environment variables, then command-line flags.
package config

import (
	"time"

	"github.com/landslide-lab/sphbox/internal/params"
	"github.com/landslide-lab/sphbox/internal/publish"
	"github.com/landslide-lab/sphbox/internal/server"
	"github.com/landslide-lab/sphbox/pkg/core"
)

// Config holds all CLI configuration options.
type Config struct {
	Solver       SolverConfig           `koanf:"solver"`
	WorkRoot     string                 `koanf:"work_root"`
	KeepWorkdir  bool                   `koanf:"keep_workdir"`
	StatePath    string                 `koanf:"state_path"`
	Workers      int                    `koanf:"workers"`
	Presets      map[string]core.Params `koanf:"presets"`
	Publish      publish.Config         `koanf:"publish"`
	Server       ServerConfig           `koanf:"server"`
	Verbose      bool                   `koanf:"verbose"`
	OutputFormat string                 `koanf:"output"`
	LogLevel     string                 `koanf:"log_level"`
	LogFormat    string                 `koanf:"log_format"`

	// ProjectRoot is the directory relative paths are resolved against.
	ProjectRoot string `koanf:"-"`
}

// SolverConfig describes how the SPH solver is launched.
type SolverConfig struct {
	Executable string        `koanf:"executable"`
	Launcher   []string      `koanf:"launcher"`
	Args       []string      `koanf:"args"`
	Env        []string      `koanf:"env"`
	Timeout    time.Duration `koanf:"timeout"`
}

// ServerConfig holds configuration for the HTTP API.
type ServerConfig struct {
	Addr string `koanf:"addr"`
}

// PresetSet returns the configured presets as a params.Presets.
func (c *Config) PresetSet() params.Presets {
	out := make(params.Presets, len(c.Presets))
	for name, p := range c.Presets {
		out[name] = p.Clone()
	}
	return out
}

// Default configuration values.
const (
	DefaultStateFile = ".sphbox/state.db"
	DefaultOutput    = "auto" // Auto-detect: TTY=text, non-TTY=markdown
	DefaultLogLevel  = "warn"
	DefaultLogFormat = "text"
	DefaultAddr      = server.DefaultAddr
)
