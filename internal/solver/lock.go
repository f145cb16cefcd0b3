package solver

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"

	"github.com/landslide-lab/sphbox/pkg/core"
)

// LockFileName is created in a working directory while a solver runs in it.
const LockFileName = ".sphbox.lock"

var (
	activeMu   sync.Mutex
	activeDirs = map[string]bool{}
)

// dirLock guards one working directory against concurrent invocations,
// both within this process and across processes. The cross-process half is
// an OS advisory lock, so it dies with the process that held it.
type dirLock struct {
	dir  string
	path string
	fl   *flock.Flock
}

func errBusy(dir string) error {
	return core.ConfigErrorf("work_dir", "working directory busy: %s", dir)
}

// acquireDirLock takes the lock for dir or fails with a ConfigError.
func acquireDirLock(dir string) (*dirLock, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, &core.IOError{Op: "abs", Path: dir, Err: err}
	}

	activeMu.Lock()
	if activeDirs[abs] {
		activeMu.Unlock()
		return nil, errBusy(abs)
	}
	activeDirs[abs] = true
	activeMu.Unlock()

	l := &dirLock{dir: abs, path: filepath.Join(abs, LockFileName)}
	if err := l.lock(); err != nil {
		activeMu.Lock()
		delete(activeDirs, abs)
		activeMu.Unlock()
		return nil, err
	}
	return l, nil
}

func (l *dirLock) lock() error {
	for attempt := 0; attempt < 2; attempt++ {
		fl := flock.New(l.path, flock.SetPermissions(0o644))
		ok, err := fl.TryLock()
		if err != nil {
			return &core.IOError{Op: "lock", Path: l.path, Err: err}
		}
		if !ok {
			return errBusy(l.dir)
		}
		// The previous holder removes the file before unlocking; a lock won
		// on that unlinked file guards nothing, so take a fresh one.
		if l.current(fl) {
			l.fl = fl
			return nil
		}
		_ = fl.Unlock()
	}
	return errBusy(l.dir)
}

// current reports whether fl still holds the file found at l.path.
func (l *dirLock) current(fl *flock.Flock) bool {
	held, err := fl.Stat()
	if err != nil {
		return false
	}
	onDisk, err := os.Stat(l.path)
	if err != nil {
		return false
	}
	return os.SameFile(held, onDisk)
}

func (l *dirLock) release() error {
	rmErr := os.Remove(l.path)
	unlockErr := l.fl.Unlock()
	if rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
		// Windows refuses to remove a file that is still open.
		rmErr = os.Remove(l.path)
	}
	activeMu.Lock()
	delete(activeDirs, l.dir)
	activeMu.Unlock()

	if rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
		return &core.IOError{Op: "remove", Path: l.path, Err: rmErr}
	}
	if unlockErr != nil {
		return &core.IOError{Op: "unlock", Path: l.path, Err: unlockErr}
	}
	return nil
}
