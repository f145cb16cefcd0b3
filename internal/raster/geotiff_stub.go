//go:build !gdal

package raster

import "github.com/landslide-lab/sphbox/pkg/core"

// GeoTIFFEnabled reports whether this build reads and writes GeoTIFF.
const GeoTIFFEnabled = false

func errNoGeoTIFF(path string) error {
	return &core.FormatError{Path: path, Reason: "GeoTIFF support is not compiled in (rebuild with -tags gdal)"}
}

func readGeoTIFF(path string) (*core.Grid, error) {
	return nil, errNoGeoTIFF(path)
}

func readGeoTIFFMeta(path string) (core.GridMeta, error) {
	return core.GridMeta{}, errNoGeoTIFF(path)
}

func writeGeoTIFF(_ *core.Grid, path string) error {
	return errNoGeoTIFF(path)
}
