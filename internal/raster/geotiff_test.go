//go:build gdal

package raster

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/airbusgeo/godal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/landslide-lab/sphbox/pkg/core"
)

func TestGeoTIFF_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dem.tif")
	want := sampleGrid()
	require.NoError(t, Write(want, path))

	got, err := Read(path)
	require.NoError(t, err)
	assert.True(t, want.Equal(got), "got %+v", got)

	meta, err := ReadMeta(path)
	require.NoError(t, err)
	assert.Equal(t, want.Meta(), meta)
}

// createTIFF writes a single-band float32 GeoTIFF with the given transform.
func createTIFF(t *testing.T, path string, gt [6]float64, values []float32, w, h int) {
	t.Helper()
	registerDrivers.Do(godal.RegisterAll)
	ds, err := godal.Create(godal.GTiff, path, 1, godal.Float32, w, h)
	require.NoError(t, err)
	require.NoError(t, ds.SetGeoTransform(gt))
	require.NoError(t, ds.Bands()[0].Write(0, 0, values, w, h))
	require.NoError(t, ds.Close())
}

func TestGeoTIFF_Float32Source(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dem.tiff")
	createTIFF(t, path, [6]float64{500, 10, 0, 1020, 0, -10}, []float32{1, 2, 3, 4.5, 5, 6}, 3, 2)

	g, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, 3, g.Width)
	assert.Equal(t, 2, g.Height)
	assert.Equal(t, 10.0, g.CellSize)
	assert.Equal(t, 500.0, g.OriginX)
	assert.Equal(t, 1000.0, g.OriginY)
	assert.Equal(t, core.DefaultNoData, g.NoData)
	assert.Equal(t, []float64{1, 2, 3, 4.5, 5, 6}, g.Values)
}

func TestGeoTIFF_Rejects(t *testing.T) {
	tests := []struct {
		name string
		gt   [6]float64
	}{
		{name: "south-up", gt: [6]float64{0, 10, 0, 0, 0, 10}},
		{name: "rotated", gt: [6]float64{0, 10, 1, 20, 0, -10}},
		{name: "non-square cells", gt: [6]float64{0, 10, 0, 20, 0, -5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "dem.tif")
			createTIFF(t, path, tt.gt, []float32{1, 2, 3, 4}, 2, 2)

			_, err := Read(path)
			assert.Equal(t, core.KindFormat, core.KindOf(err), "err = %v", err)
		})
	}

	t.Run("not a tiff", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "dem.tif")
		require.NoError(t, os.WriteFile(path, []byte("not a raster"), 0o644))
		_, err := Read(path)
		assert.Equal(t, core.KindFormat, core.KindOf(err))
	})

	t.Run("missing", func(t *testing.T) {
		_, err := Read(filepath.Join(t.TempDir(), "missing.tif"))
		assert.Equal(t, core.KindIO, core.KindOf(err))
	})
}
