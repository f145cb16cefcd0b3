package raster

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/landslide-lab/sphbox/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleGrid() *core.Grid {
	g := core.NewGrid(3, 2, 5)
	g.OriginX, g.OriginY = 1000, 2000
	for i := range g.Values {
		g.Values[i] = float64(i) * 1.5
	}
	g.Values[4] = core.DefaultNoData
	return g
}

func TestRoundTrip(t *testing.T) {
	for _, ext := range []string{".asc", ".flt"} {
		t.Run(ext, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "dem"+ext)
			want := sampleGrid()
			require.NoError(t, Write(want, path))

			got, err := Read(path)
			require.NoError(t, err)
			assert.True(t, want.Equal(got), "got %+v", got)

			meta, err := ReadMeta(path)
			require.NoError(t, err)
			assert.Equal(t, want.Meta(), meta)
		})
	}
}

func TestReadASC_Variants(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr bool
		check   func(t *testing.T, g *core.Grid)
	}{
		{
			name:    "center registration",
			content: "ncols 2\nnrows 1\nxllcenter 5\nyllcenter 5\ncellsize 10\n1 2\n",
			check: func(t *testing.T, g *core.Grid) {
				assert.Equal(t, 0.0, g.OriginX)
				assert.Equal(t, 0.0, g.OriginY)
				assert.Equal(t, core.DefaultNoData, g.NoData)
			},
		},
		{
			name:    "values across lines",
			content: "ncols 2\nnrows 2\nxllcorner 0\nyllcorner 0\ncellsize 1\nNODATA_value -1\n1\n2 3\n4\n",
			check: func(t *testing.T, g *core.Grid) {
				assert.Equal(t, []float64{1, 2, 3, 4}, g.Values)
				assert.Equal(t, -1.0, g.NoData)
			},
		},
		{name: "non-uniform cells", content: "ncols 1\nnrows 1\nxllcorner 0\nyllcorner 0\ndx 1\ndy 2\n1\n", wantErr: true},
		{name: "truncated", content: "ncols 2\nnrows 2\nxllcorner 0\nyllcorner 0\ncellsize 1\n1 2 3\n", wantErr: true},
		{name: "too many values", content: "ncols 1\nnrows 1\nxllcorner 0\nyllcorner 0\ncellsize 1\n1 2\n", wantErr: true},
		{name: "bad number", content: "ncols 1\nnrows 1\nxllcorner 0\nyllcorner 0\ncellsize 1\nabc\n", wantErr: true},
		{name: "zero cellsize", content: "ncols 1\nnrows 1\nxllcorner 0\nyllcorner 0\ncellsize 0\n1\n", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "in.asc")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))

			g, err := Read(path)
			if tt.wantErr {
				var fe *core.FormatError
				require.ErrorAs(t, err, &fe)
				assert.Nil(t, g)
				return
			}
			require.NoError(t, err)
			tt.check(t, g)
		})
	}
}

func TestReadFLT_Truncated(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dem.flt")
	require.NoError(t, Write(sampleGrid(), path))
	require.NoError(t, os.Truncate(path, 8))

	_, err := Read(path)
	assert.Equal(t, core.KindFormat, core.KindOf(err))
}

func TestUnsupportedExtension(t *testing.T) {
	_, err := Read("dem.png")
	assert.Equal(t, core.KindFormat, core.KindOf(err))
	assert.False(t, Supported("dem.png"))
	assert.True(t, Supported("DEM.ASC"))

	format, err := FormatFor("dem.TIFF")
	require.NoError(t, err)
	assert.Equal(t, FormatGeoTIFF, format)
	assert.Equal(t, GeoTIFFEnabled, Supported("dem.tif"))
}

func TestReadASC_OversizedHeader(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{name: "huge grid", header: "ncols 100000000\nnrows 100000000\n"},
		{name: "overflowing grid", header: "ncols 4611686018427387905\nnrows 4\n"},
		{name: "overflowing product", header: "ncols 9223372036854775807\nnrows 2\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, "big.asc")
			content := tt.header + "xllcorner 0\nyllcorner 0\ncellsize 1\n1 2 3 4\n"
			require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

			var g *core.Grid
			var err error
			require.NotPanics(t, func() { g, err = Read(path) })
			assert.Nil(t, g)
			assert.Equal(t, core.KindFormat, core.KindOf(err), "err = %v", err)
		})
	}
}

func TestReadFLT_OversizedHeader(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dem.flt")
	require.NoError(t, Write(sampleGrid(), path))
	hdr := "ncols 100000000\nnrows 100000000\nxllcorner 0\nyllcorner 0\ncellsize 1\nbyteorder LSBFIRST\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "dem.hdr"), []byte(hdr), 0o644))

	var err error
	require.NotPanics(t, func() { _, err = Read(path) })
	var fe *core.FormatError
	require.ErrorAs(t, err, &fe)
	assert.Contains(t, fe.Reason, "truncated")
}

func TestWriteFLT_RejectsInexactValues(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		nodata float64
	}{
		{name: "extra precision", values: []float64{812.123456789, 1}, nodata: core.DefaultNoData},
		{name: "overflow", values: []float64{812.5, 1e300}, nodata: core.DefaultNoData},
		{name: "nodata precision", values: []float64{1, 2}, nodata: -9999.1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			g := core.NewGrid(2, 1, 1)
			copy(g.Values, tt.values)
			g.NoData = tt.nodata

			err := Write(g, filepath.Join(dir, "dem.flt"))
			assert.Equal(t, core.KindFormat, core.KindOf(err), "err = %v", err)

			entries, err := os.ReadDir(dir)
			require.NoError(t, err)
			assert.Empty(t, entries, "nothing may be written")
		})
	}

	// Values exactly representable in float32 still round-trip.
	path := filepath.Join(t.TempDir(), "ok.flt")
	g := core.NewGrid(2, 1, 1)
	g.Values = []float64{812.125, math.Inf(1)}
	require.NoError(t, Write(g, path))
	got, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, g.Values, got.Values)
}

func TestReadMissingFile(t *testing.T) {
	_, err := Read(filepath.Join(t.TempDir(), "missing.asc"))
	assert.Equal(t, core.KindIO, core.KindOf(err))
}
