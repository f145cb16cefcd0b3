package engine

import (
	"fmt"
	"os"
	"path/filepath"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/landslide-lab/sphbox/internal/raster"
	"github.com/landslide-lab/sphbox/pkg/core"
)

// metaCache holds raster metadata keyed by path, size and modification
// time, so a rewritten raster is read again.
type metaCache struct {
	c *lru.Cache[string, core.GridMeta]
}

func newMetaCache(size int) (*metaCache, error) {
	c, err := lru.New[string, core.GridMeta](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create raster cache: %w", err)
	}
	return &metaCache{c: c}, nil
}

func cacheKey(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", &core.IOError{Op: "abs", Path: path, Err: err}
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", &core.IOError{Op: "stat", Path: path, Err: err}
	}
	return fmt.Sprintf("%s|%d|%d", abs, info.Size(), info.ModTime().UnixNano()), nil
}

// get returns the metadata of the raster at path, reading its header on a miss.
func (m *metaCache) get(path string) (core.GridMeta, error) {
	key, err := cacheKey(path)
	if err != nil {
		return core.GridMeta{}, err
	}
	if meta, ok := m.c.Get(key); ok {
		return meta, nil
	}
	meta, err := raster.ReadMeta(path)
	if err != nil {
		return core.GridMeta{}, err
	}
	m.c.Add(key, meta)
	return meta, nil
}

// remember stores metadata already read from path.
func (m *metaCache) remember(path string, meta core.GridMeta) {
	if key, err := cacheKey(path); err == nil {
		m.c.Add(key, meta)
	}
}

func (m *metaCache) len() int {
	return m.c.Len()
}
