// Package engine runs the sphbox pipelines.
// Each run moves through the ledger's state machine, converting inputs,
// invoking the solver where needed and converting its outputs.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/landslide-lab/sphbox/internal/params"
	"github.com/landslide-lab/sphbox/internal/solver"
	"github.com/landslide-lab/sphbox/internal/state"
	"github.com/landslide-lab/sphbox/pkg/core"
)

// DefaultCacheSize is the number of raster headers kept in memory.
const DefaultCacheSize = 256

// Publisher uploads the artifacts of a finished run and returns their
// remote locations.
type Publisher interface {
	Publish(ctx context.Context, runID string, paths []string) ([]string, error)
}

// Engine runs pipelines against a run ledger.
type Engine struct {
	logger    *slog.Logger
	store     state.Store
	ownStore  bool
	runner    *solver.Runner
	presets   params.Presets
	cache     *metaCache
	observer  Observer
	publisher Publisher

	executable  string
	timeout     time.Duration
	workRoot    string
	keepWorkdir bool
}

// Config holds engine configuration.
type Config struct {
	// StatePath is the SQLite run ledger. Ignored when Store is set.
	StatePath string
	// Store overrides the ledger opened from StatePath.
	Store state.Store
	// Runner launches the solver. Defaults to a zero Runner.
	Runner *solver.Runner
	// Executable is the solver binary used by sph_model.
	Executable string
	// Timeout bounds each solver invocation. Zero means no limit.
	Timeout time.Duration
	// WorkRoot holds the temporary working directories. Defaults to os.TempDir().
	WorkRoot string
	// KeepWorkdir leaves working directories in place after a run.
	KeepWorkdir bool
	// Presets are merged over the built-in presets.
	Presets params.Presets
	// CacheSize bounds the raster header cache.
	CacheSize int
	// Observer receives state transitions and solver output (optional).
	Observer Observer
	// Publisher uploads run outputs (optional).
	Publisher Publisher
	// Logger is the structured logger (optional, uses discard if nil)
	Logger *slog.Logger
}

// New creates an engine. The ledger at cfg.StatePath is opened and migrated
// unless cfg.Store is given.
func New(ctx context.Context, cfg Config) (*Engine, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	presets := params.BuiltinPresets().Merge(cfg.Presets)
	for _, name := range presets.Names() {
		if _, err := presets.Resolve(name); err != nil {
			return nil, err
		}
	}

	if cfg.Timeout < 0 {
		return nil, core.ConfigErrorf("solver.timeout", "must not be negative")
	}

	size := cfg.CacheSize
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := newMetaCache(size)
	if err != nil {
		return nil, err
	}

	runner := cfg.Runner
	if runner == nil {
		runner = &solver.Runner{}
	}
	if runner.Logger == nil {
		runner.Logger = logger
	}

	workRoot := cfg.WorkRoot
	if workRoot == "" {
		workRoot = os.TempDir()
	}

	e := &Engine{
		logger:      logger,
		store:       cfg.Store,
		runner:      runner,
		presets:     presets,
		cache:       cache,
		observer:    cfg.Observer,
		publisher:   cfg.Publisher,
		executable:  cfg.Executable,
		timeout:     cfg.Timeout,
		workRoot:    workRoot,
		keepWorkdir: cfg.KeepWorkdir,
	}

	if e.store == nil {
		path := cfg.StatePath
		if path == "" {
			path = state.MemoryPath
		}
		logger.Debug("opening run ledger", slog.String("path", path))
		store, err := state.Open(ctx, path, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open state store: %w", err)
		}
		e.store = store
		e.ownStore = true
	}
	return e, nil
}

// Close releases the ledger if the engine opened it.
func (e *Engine) Close() error {
	e.logger.Debug("closing engine")
	if e.ownStore && e.store != nil {
		return e.store.Close()
	}
	return nil
}

// Store returns the run ledger.
func (e *Engine) Store() state.Store {
	return e.store
}

// Presets returns the effective parameter presets.
func (e *Engine) Presets() params.Presets {
	return e.presets
}

// Runner returns the solver runner.
func (e *Engine) Runner() *solver.Runner {
	return e.runner
}

// Executable returns the configured solver binary.
func (e *Engine) Executable() string {
	return e.executable
}
