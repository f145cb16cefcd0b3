package codec

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/landslide-lab/sphbox/pkg/core"
)

// WriteAtomic creates path by running fn against a temp file in the same
// directory and renaming it into place. On any error the temp file is
// removed and path is left untouched. Errors from fn are returned as is;
// filesystem failures are wrapped in *core.IOError.
func WriteAtomic(path string, fn func(f *os.File) error) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return &core.IOError{Op: "create", Path: path, Err: err}
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if err = fn(tmp); err != nil {
		return classify(path, err)
	}
	if err = tmp.Sync(); err != nil {
		return &core.IOError{Op: "sync", Path: path, Err: err}
	}
	if err = tmp.Close(); err != nil {
		return &core.IOError{Op: "close", Path: path, Err: err}
	}
	if err = os.Chmod(tmp.Name(), 0o644); err != nil {
		return &core.IOError{Op: "chmod", Path: path, Err: err}
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return &core.IOError{Op: "rename", Path: path, Err: err}
	}
	return nil
}

// classify leaves typed errors alone and treats anything else as a write failure.
func classify(path string, err error) error {
	var (
		formatErr *core.FormatError
		ioErr     *core.IOError
	)
	if errors.As(err, &formatErr) || errors.As(err, &ioErr) {
		return err
	}
	return &core.IOError{Op: "write", Path: path, Err: err}
}

// CopyFile copies src to dst atomically.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return &core.IOError{Op: "open", Path: src, Err: err}
	}
	defer in.Close()

	return WriteAtomic(dst, func(f *os.File) error {
		if _, err := f.ReadFrom(in); err != nil {
			return fmt.Errorf("copy from %s: %w", src, err)
		}
		return nil
	})
}
