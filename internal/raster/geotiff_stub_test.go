//go:build !gdal

package raster

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/landslide-lab/sphbox/pkg/core"
)

func TestGeoTIFF_NotCompiledIn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dem.tif")

	_, err := Read(path)
	var fe *core.FormatError
	assert.ErrorAs(t, err, &fe)
	assert.Contains(t, err.Error(), "-tags gdal")

	_, err = ReadMeta(path)
	assert.Equal(t, core.KindFormat, core.KindOf(err))
	assert.Equal(t, core.KindFormat, core.KindOf(Write(sampleGrid(), path)))
	assert.NotContains(t, Extensions(), ".tif")
}
