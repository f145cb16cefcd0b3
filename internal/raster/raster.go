// Package raster reads and writes the common GIS grid formats accepted as
// DEM input: Esri ASCII grids (.asc), ESRI GridFloat (.flt with a .hdr
// sidecar) and GeoTIFF (.tif, through GDAL in builds tagged gdal). Formats
// are selected by file extension.
package raster

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/landslide-lab/sphbox/internal/codec"
	"github.com/landslide-lab/sphbox/pkg/core"
)

// Format identifies a supported raster encoding.
type Format string

// Supported formats.
const (
	FormatASCII     Format = "asc"
	FormatGridFloat Format = "flt"
	FormatGeoTIFF   Format = "tif"
)

// FormatFor returns the format implied by path's extension.
func FormatFor(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".asc", ".txt":
		return FormatASCII, nil
	case ".flt", ".hdr":
		return FormatGridFloat, nil
	case ".tif", ".tiff":
		return FormatGeoTIFF, nil
	}
	return "", &core.FormatError{Path: path, Reason: fmt.Sprintf("unsupported raster extension %q (want .asc, .flt or .tif)", filepath.Ext(path))}
}

// Supported reports whether path has a raster extension this build reads.
func Supported(path string) bool {
	format, err := FormatFor(path)
	return err == nil && (format != FormatGeoTIFF || GeoTIFFEnabled)
}

// Extensions lists the DEM extensions this build reads, for directory
// watchers.
func Extensions() []string {
	exts := []string{".asc", ".flt"}
	if GeoTIFFEnabled {
		exts = append(exts, ".tif", ".tiff")
	}
	return exts
}

// Read decodes the raster at path.
func Read(path string) (*core.Grid, error) {
	format, err := FormatFor(path)
	if err != nil {
		return nil, err
	}
	switch format {
	case FormatGridFloat:
		return readFLT(path)
	case FormatGeoTIFF:
		return readGeoTIFF(path)
	default:
		return readASC(path)
	}
}

// ReadMeta decodes only the spatial header of the raster at path.
func ReadMeta(path string) (core.GridMeta, error) {
	format, err := FormatFor(path)
	if err != nil {
		return core.GridMeta{}, err
	}
	if format == FormatGeoTIFF {
		return readGeoTIFFMeta(path)
	}
	headerPath := path
	if format == FormatGridFloat {
		headerPath = sidecar(path, ".hdr")
	}
	f, err := os.Open(headerPath)
	if err != nil {
		return core.GridMeta{}, ioErr("open", headerPath, err)
	}
	defer f.Close()

	h, _, err := readHeader(bufio.NewReader(f), headerPath, format == FormatASCII)
	if err != nil {
		return core.GridMeta{}, err
	}
	return h.meta(), nil
}

// Write encodes g to path in the format implied by its extension.
func Write(g *core.Grid, path string) error {
	if err := g.Validate(); err != nil {
		return &core.FormatError{Path: path, Reason: err.Error()}
	}
	format, err := FormatFor(path)
	if err != nil {
		return err
	}
	switch format {
	case FormatGridFloat:
		return writeFLT(g, path)
	case FormatGeoTIFF:
		return writeGeoTIFF(g, path)
	default:
		return writeASC(g, path)
	}
}

// header holds the keyword block shared by .asc files and .hdr sidecars.
type header struct {
	ncols, nrows int
	xll, yll     float64
	center       bool
	cellSize     float64
	noData       float64
	hasNoData    bool
	msbFirst     bool
}

func (h header) meta() core.GridMeta {
	x, y := h.xll, h.yll
	if h.center {
		x -= h.cellSize / 2
		y -= h.cellSize / 2
	}
	nodata := core.DefaultNoData
	if h.hasNoData {
		nodata = h.noData
	}
	return core.GridMeta{
		Width:    h.ncols,
		Height:   h.nrows,
		CellSize: h.cellSize,
		OriginX:  x,
		OriginY:  y,
		NoData:   nodata,
	}
}

// readHeader consumes keyword lines. When stopAtData is set it stops at the
// first line that starts with a number and returns it as pending data.
func readHeader(r *bufio.Reader, path string, stopAtData bool) (header, []string, error) {
	var (
		h        header
		dx, dy   float64
		seen     = map[string]bool{}
		lineNo   int
		leftover []string
	)
	for {
		line, err := r.ReadString('\n')
		if line == "" && err != nil {
			break
		}
		lineNo++
		fields := strings.Fields(line)
		if len(fields) == 0 {
			if err != nil {
				break
			}
			continue
		}
		key := strings.ToLower(fields[0])
		if stopAtData && isNumeric(key) {
			leftover = fields
			break
		}
		if len(fields) < 2 {
			return h, nil, &core.FormatError{Path: path, Line: lineNo, Reason: fmt.Sprintf("header keyword %q has no value", fields[0])}
		}
		val := fields[1]
		seen[key] = true
		var perr error
		switch key {
		case "ncols":
			h.ncols, perr = strconv.Atoi(val)
		case "nrows":
			h.nrows, perr = strconv.Atoi(val)
		case "xllcorner":
			h.xll, perr = strconv.ParseFloat(val, 64)
		case "yllcorner":
			h.yll, perr = strconv.ParseFloat(val, 64)
		case "xllcenter":
			h.xll, perr = strconv.ParseFloat(val, 64)
			h.center = true
		case "yllcenter":
			h.yll, perr = strconv.ParseFloat(val, 64)
			h.center = true
		case "cellsize":
			h.cellSize, perr = strconv.ParseFloat(val, 64)
		case "dx":
			dx, perr = strconv.ParseFloat(val, 64)
		case "dy":
			dy, perr = strconv.ParseFloat(val, 64)
		case "nodata_value", "nodata":
			h.noData, perr = strconv.ParseFloat(val, 64)
			h.hasNoData = true
		case "byteorder":
			h.msbFirst = strings.EqualFold(val, "msbfirst") || strings.EqualFold(val, "m")
		}
		if perr != nil {
			return h, nil, &core.FormatError{Path: path, Line: lineNo, Reason: fmt.Sprintf("bad value %q for %s", val, key)}
		}
		if err != nil {
			break
		}
	}

	if seen["dx"] || seen["dy"] {
		if dx != dy {
			return h, nil, &core.FormatError{Path: path, Reason: fmt.Sprintf("non-uniform cells (dx=%v, dy=%v) are not supported", dx, dy)}
		}
		if !seen["cellsize"] {
			h.cellSize = dx
		}
	}
	switch {
	case h.ncols <= 0 || h.nrows <= 0:
		return h, nil, &core.FormatError{Path: path, Reason: fmt.Sprintf("header must declare positive ncols and nrows, got %dx%d", h.ncols, h.nrows)}
	case h.ncols > math.MaxInt/h.nrows:
		return h, nil, &core.FormatError{Path: path, Reason: fmt.Sprintf("grid %dx%d overflows the cell count", h.ncols, h.nrows)}
	case !(h.cellSize > 0) || math.IsInf(h.cellSize, 0):
		return h, nil, &core.FormatError{Path: path, Reason: fmt.Sprintf("cell size must be positive, got %v", h.cellSize)}
	}
	return h, leftover, nil
}

func isNumeric(s string) bool {
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}

func sidecar(path, ext string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ext
}

func ioErr(op, path string, err error) error {
	return &core.IOError{Op: op, Path: path, Err: err}
}

// writeAtomic writes path through a buffered temp file in the same directory.
func writeAtomic(path string, fn func(w *bufio.Writer) error) error {
	return codec.WriteAtomic(path, func(f *os.File) error {
		w := bufio.NewWriter(f)
		if err := fn(w); err != nil {
			return err
		}
		return w.Flush()
	})
}
