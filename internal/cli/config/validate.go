package config

import (
	"log/slog"
	"strings"

	"github.com/landslide-lab/sphbox/internal/cli/output"
	"github.com/landslide-lab/sphbox/internal/params"
	"github.com/landslide-lab/sphbox/pkg/core"
)

// Validate checks the configuration without touching the filesystem.
// The solver executable is checked when a command first needs it, so
// commands like params and init work without one.
func (c *Config) Validate() error {
	if _, err := output.ParseMode(c.OutputFormat); err != nil {
		return core.ConfigErrorf("output", "%v", err)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json":
	default:
		return core.ConfigErrorf("log_format", "want text or json, got %q", c.LogFormat)
	}
	if c.Workers < 0 {
		return core.ConfigErrorf("workers", "must not be negative, got %d", c.Workers)
	}
	if c.Solver.Timeout < 0 {
		return core.ConfigErrorf("solver.timeout", "must not be negative")
	}

	presets := params.BuiltinPresets().Merge(c.PresetSet())
	for _, name := range presets.Names() {
		if _, err := presets.Resolve(name); err != nil {
			return err
		}
	}

	if c.Publish.Enabled() {
		if err := c.Publish.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ParseLogLevel parses debug, info, warn or error.
func ParseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelWarn, nil
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, core.ConfigErrorf("log_level", "want debug, info, warn or error, got %q", s)
	}
	return level, nil
}
