// Package watch triggers conversions when input files appear or change.
package watch

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long a file must stay quiet before it is handled.
const DefaultDebounce = 500 * time.Millisecond

// Handler processes one settled file.
type Handler func(ctx context.Context, path string)

// Rule routes files to a handler by extension.
type Rule struct {
	// Exts are matched case-insensitively, with the leading dot.
	Exts    []string
	Handler Handler
}

func (r Rule) matches(path string) bool {
	ext := filepath.Ext(path)
	for _, e := range r.Exts {
		if strings.EqualFold(ext, e) {
			return true
		}
	}
	return false
}

// Config configures a Watcher.
type Config struct {
	Dirs      []string
	Recursive bool
	Debounce  time.Duration
	Rules     []Rule
	Logger    *slog.Logger
}

// Watcher runs handlers for files written under a set of directories.
// Bursts of events for the same file are coalesced into one call.
type Watcher struct {
	dirs      []string
	recursive bool
	debounce  time.Duration
	rules     []Rule
	logger    *slog.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer
	wg      sync.WaitGroup
}

// New creates a watcher.
func New(cfg Config) *Watcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		dirs:      cfg.Dirs,
		recursive: cfg.Recursive,
		debounce:  debounce,
		rules:     cfg.Rules,
		logger:    logger,
		pending:   make(map[string]*time.Timer),
	}
}

// Run watches until ctx is done, then waits for running handlers.
// ready, if not nil, is closed once every directory is being watched.
func (w *Watcher) Run(ctx context.Context, ready chan<- struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	for _, dir := range w.dirs {
		if err := w.add(watcher, dir); err != nil {
			return err
		}
		w.logger.Info("watching", slog.String("dir", dir), slog.Bool("recursive", w.recursive))
	}
	if ready != nil {
		close(ready)
	}

	defer w.wg.Wait()
	defer w.stopPending()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op.Has(fsnotify.Create) && w.recursive {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.add(watcher, event.Name); err != nil {
						w.logger.Warn("failed to watch new directory", "dir", event.Name, "error", err)
					}
					continue
				}
			}
			if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
				continue
			}
			w.schedule(ctx, event.Name)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher error", "error", err)
		}
	}
}

func (w *Watcher) add(watcher *fsnotify.Watcher, dir string) error {
	if !w.recursive {
		return watcher.Add(dir)
	}
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
}

func (w *Watcher) rule(path string) (Rule, bool) {
	for _, r := range w.rules {
		if r.matches(path) {
			return r, true
		}
	}
	return Rule{}, false
}

// schedule (re)starts the debounce timer for path.
func (w *Watcher) schedule(ctx context.Context, path string) {
	rule, ok := w.rule(path)
	if !ok {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok && t.Stop() {
		w.wg.Done()
	}
	w.wg.Add(1)
	var t *time.Timer
	t = time.AfterFunc(w.debounce, func() {
		defer w.wg.Done()
		w.mu.Lock()
		if w.pending[path] == t {
			delete(w.pending, path)
		}
		w.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		w.logger.Debug("file settled", "file", path)
		rule.Handler(ctx, path)
	})
	w.pending[path] = t
}

func (w *Watcher) stopPending() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.pending {
		if t.Stop() {
			w.wg.Done()
		}
		delete(w.pending, path)
	}
}
