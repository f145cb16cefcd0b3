package commands

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/landslide-lab/sphbox/internal/cli/config"
	"github.com/landslide-lab/sphbox/internal/cli/output"
	"github.com/landslide-lab/sphbox/internal/engine"
	"github.com/landslide-lab/sphbox/internal/publish"
	"github.com/landslide-lab/sphbox/internal/solver"
	"github.com/landslide-lab/sphbox/internal/state"
)

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg      *config.Config
	Logger   *slog.Logger
	Engine   *engine.Engine
	Renderer *output.Renderer
	View     *runView
}

// NewCommandContext creates a CommandContext with engine and renderer.
// Returns the context and a cleanup function that must be called (typically via defer).
func NewCommandContext(cmd *cobra.Command) (*CommandContext, func(), error) {
	cctx := NewCommandContextWithoutEngine(cmd)
	cctx.View = newRunView(cctx.Renderer, cctx.Cfg.Verbose)

	eng, err := createEngine(cmd.Context(), cctx.Cfg, cctx.Logger, cctx.View.observe)
	if err != nil {
		return nil, nil, err
	}
	cctx.Engine = eng

	cleanup := func() {
		cctx.View.finish()
		_ = eng.Close()
	}
	return cctx, cleanup, nil
}

// NewCommandContextWithoutEngine creates a CommandContext without an engine.
// Useful for commands that don't need the run ledger.
func NewCommandContextWithoutEngine(cmd *cobra.Command) *CommandContext {
	cfg := getConfig()
	logger := config.GetLogger(cmd.Context())
	r := output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), output.Mode(cfg.OutputFormat))

	return &CommandContext{
		Cfg:      cfg,
		Logger:   logger,
		Renderer: r,
	}
}

// getConfig returns the current configuration, or the defaults when none
// was loaded.
func getConfig() *config.Config {
	if cfg := config.GetCurrentConfig(); cfg != nil {
		return cfg
	}
	return &config.Config{
		StatePath:    config.DefaultStateFile,
		OutputFormat: config.DefaultOutput,
		LogLevel:     config.DefaultLogLevel,
		LogFormat:    config.DefaultLogFormat,
		Server:       config.ServerConfig{Addr: config.DefaultAddr},
	}
}

func createEngine(ctx context.Context, cfg *config.Config, logger *slog.Logger, observer engine.Observer) (*engine.Engine, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	// Ensure state directory exists
	if cfg.StatePath != state.MemoryPath {
		stateDir := filepath.Dir(cfg.StatePath)
		if stateDir != "." && stateDir != "" {
			if err := os.MkdirAll(stateDir, 0o750); err != nil {
				return nil, err
			}
		}
	}
	if cfg.WorkRoot != "" {
		if err := os.MkdirAll(cfg.WorkRoot, 0o750); err != nil {
			return nil, err
		}
	}

	engineCfg := engine.Config{
		StatePath: cfg.StatePath,
		Runner: &solver.Runner{
			Launcher: cfg.Solver.Launcher,
			Args:     cfg.Solver.Args,
			Env:      cfg.Solver.Env,
			Logger:   logger,
		},
		Executable:  cfg.Solver.Executable,
		Timeout:     cfg.Solver.Timeout,
		WorkRoot:    cfg.WorkRoot,
		KeepWorkdir: cfg.KeepWorkdir,
		Presets:     cfg.PresetSet(),
		Observer:    observer,
		Logger:      logger,
	}

	if cfg.Publish.Enabled() {
		pub, err := publish.New(cfg.Publish, logger)
		if err != nil {
			return nil, err
		}
		engineCfg.Publisher = pub
	}

	return engine.New(ctx, engineCfg)
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}
