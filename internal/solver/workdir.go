package solver

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/landslide-lab/sphbox/pkg/core"
)

// snapshot records the top-level entries of dir with their modification
// times.
func snapshot(dir string) (map[string]time.Time, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &core.IOError{Op: "readdir", Path: dir, Err: err}
	}
	names := make(map[string]time.Time, len(entries))
	for _, e := range entries {
		var mtime time.Time
		if info, err := e.Info(); err == nil {
			mtime = info.ModTime()
		}
		names[e.Name()] = mtime
	}
	return names, nil
}

// produced reports whether path is a regular file that was created or
// rewritten since before was taken.
func produced(path string, before map[string]time.Time) bool {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	prior, existed := before[filepath.Base(path)]
	return !existed || !info.ModTime().Equal(prior)
}

// removeCreated deletes every top-level entry of dir that is not in before,
// leaving the lock file to its owner. It returns the removed paths.
func removeCreated(dir string, before map[string]time.Time) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &core.IOError{Op: "readdir", Path: dir, Err: err}
	}
	var (
		removed []string
		errs    []error
	)
	for _, e := range entries {
		name := e.Name()
		if _, ok := before[name]; ok || name == LockFileName {
			continue
		}
		path := filepath.Join(dir, name)
		if err := os.RemoveAll(path); err != nil {
			errs = append(errs, &core.IOError{Op: "remove", Path: path, Err: err})
			continue
		}
		removed = append(removed, path)
	}
	return removed, errors.Join(errs...)
}
