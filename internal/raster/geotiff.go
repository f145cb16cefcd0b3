//go:build gdal

package raster

import (
	"fmt"
	"os"
	"sync"

	"github.com/airbusgeo/godal"

	"github.com/landslide-lab/sphbox/internal/codec"
	"github.com/landslide-lab/sphbox/pkg/core"
)

// GeoTIFFEnabled reports whether this build reads and writes GeoTIFF.
const GeoTIFFEnabled = true

// maxGeoTIFFCells bounds the buffer allocated from a GeoTIFF's declared size.
const maxGeoTIFFCells = 1 << 28

var registerDrivers sync.Once

func openGeoTIFF(path string) (*godal.Dataset, error) {
	registerDrivers.Do(godal.RegisterAll)
	if _, err := os.Stat(path); err != nil {
		return nil, ioErr("open", path, err)
	}
	ds, err := godal.Open(path, godal.RasterOnly())
	if err != nil {
		return nil, &core.FormatError{Path: path, Reason: err.Error()}
	}
	return ds, nil
}

// geoTIFFMeta maps the dataset's affine transform onto a GridMeta. Only
// north-up rasters with square cells fit the grid model.
func geoTIFFMeta(ds *godal.Dataset, path string) (core.GridMeta, error) {
	fail := func(format string, args ...any) error {
		return &core.FormatError{Path: path, Reason: fmt.Sprintf(format, args...)}
	}
	st := ds.Structure()
	if st.NBands < 1 {
		return core.GridMeta{}, fail("raster has no bands")
	}
	if _, ok := codec.CellCount(st.SizeX, st.SizeY); !ok {
		return core.GridMeta{}, fail("bad raster size %dx%d", st.SizeX, st.SizeY)
	}
	gt, err := ds.GeoTransform()
	if err != nil {
		return core.GridMeta{}, fail("no geotransform: %v", err)
	}
	switch {
	case gt[2] != 0 || gt[4] != 0:
		return core.GridMeta{}, fail("rotated rasters are not supported")
	case !(gt[1] > 0) || !(gt[5] < 0):
		return core.GridMeta{}, fail("raster must be north-up, got pixel size %vx%v", gt[1], gt[5])
	case gt[1] != -gt[5]:
		return core.GridMeta{}, fail("non-uniform cells (dx=%v, dy=%v) are not supported", gt[1], -gt[5])
	}
	nodata, ok := ds.Bands()[0].NoData()
	if !ok {
		nodata = core.DefaultNoData
	}
	return core.GridMeta{
		Width:    st.SizeX,
		Height:   st.SizeY,
		CellSize: gt[1],
		OriginX:  gt[0],
		OriginY:  gt[3] + gt[5]*float64(st.SizeY),
		NoData:   nodata,
	}, nil
}

func readGeoTIFFMeta(path string) (core.GridMeta, error) {
	ds, err := openGeoTIFF(path)
	if err != nil {
		return core.GridMeta{}, err
	}
	defer ds.Close()
	return geoTIFFMeta(ds, path)
}

func readGeoTIFF(path string) (*core.Grid, error) {
	ds, err := openGeoTIFF(path)
	if err != nil {
		return nil, err
	}
	defer ds.Close()

	m, err := geoTIFFMeta(ds, path)
	if err != nil {
		return nil, err
	}
	n := m.Width * m.Height
	if n > maxGeoTIFFCells {
		return nil, &core.FormatError{Path: path, Reason: fmt.Sprintf("raster %dx%d is too large", m.Width, m.Height)}
	}
	g := &core.Grid{
		Width:    m.Width,
		Height:   m.Height,
		CellSize: m.CellSize,
		OriginX:  m.OriginX,
		OriginY:  m.OriginY,
		NoData:   m.NoData,
		Values:   make([]float64, n),
	}
	// Band 1 is the elevation; GDAL converts any sample type to float64.
	if err := ds.Bands()[0].Read(0, 0, g.Values, g.Width, g.Height); err != nil {
		return nil, &core.FormatError{Path: path, Reason: fmt.Sprintf("read band 1: %v", err)}
	}
	return g, nil
}

func writeGeoTIFF(g *core.Grid, path string) error {
	registerDrivers.Do(godal.RegisterAll)
	return codec.WriteAtomic(path, func(f *os.File) error {
		ds, err := godal.Create(godal.GTiff, f.Name(), 1, godal.Float64, g.Width, g.Height)
		if err != nil {
			return &core.IOError{Op: "create", Path: path, Err: err}
		}
		gt := [6]float64{g.OriginX, g.CellSize, 0, g.OriginY + g.CellSize*float64(g.Height), 0, -g.CellSize}
		band := ds.Bands()[0]
		for _, step := range []func() error{
			func() error { return ds.SetGeoTransform(gt) },
			func() error { return band.SetNoData(g.NoData) },
			func() error { return band.Write(0, 0, g.Values, g.Width, g.Height) },
		} {
			if err := step(); err != nil {
				_ = ds.Close()
				return err
			}
		}
		return ds.Close()
	})
}
