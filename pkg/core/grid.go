package core

import (
	"fmt"
	"math"
)

// DefaultNoData is the nodata marker used when a format does not carry one.
const DefaultNoData = -9999.0

// Grid is a regular raster of cell values.
//
// Values are row-major with the top (northernmost) row first. OriginX and
// OriginY locate the lower-left corner of the lower-left cell.
type Grid struct {
	Width    int
	Height   int
	CellSize float64
	OriginX  float64
	OriginY  float64
	NoData   float64
	Values   []float64
}

// GridMeta is the spatial description of a Grid without its cell values.
type GridMeta struct {
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	CellSize float64 `json:"cell_size"`
	OriginX  float64 `json:"origin_x"`
	OriginY  float64 `json:"origin_y"`
	NoData   float64 `json:"nodata"`
}

// NewGrid allocates a width x height grid with every cell set to nodata.
func NewGrid(width, height int, cellSize float64) *Grid {
	g := &Grid{
		Width:    width,
		Height:   height,
		CellSize: cellSize,
		NoData:   DefaultNoData,
	}
	if width > 0 && height > 0 {
		g.Values = make([]float64, width*height)
		for i := range g.Values {
			g.Values[i] = DefaultNoData
		}
	}
	return g
}

// Len returns the number of cells.
func (g *Grid) Len() int {
	return g.Width * g.Height
}

// Index returns the offset of (col, row) in Values. Row 0 is the top row.
func (g *Grid) Index(col, row int) int {
	return row*g.Width + col
}

// At returns the value at (col, row).
func (g *Grid) At(col, row int) float64 {
	return g.Values[g.Index(col, row)]
}

// Set stores v at (col, row).
func (g *Grid) Set(col, row int, v float64) {
	g.Values[g.Index(col, row)] = v
}

// IsNoData reports whether v is the grid's nodata marker.
func (g *Grid) IsNoData(v float64) bool {
	if math.IsNaN(g.NoData) {
		return math.IsNaN(v)
	}
	return v == g.NoData
}

// XCenter returns the x coordinate of the centre of column col.
func (g *Grid) XCenter(col int) float64 {
	return g.OriginX + (float64(col)+0.5)*g.CellSize
}

// YCenter returns the y coordinate of the centre of row row (row 0 is the top).
func (g *Grid) YCenter(row int) float64 {
	return g.OriginY + (float64(g.Height-row)-0.5)*g.CellSize
}

// Meta returns the grid's spatial description.
func (g *Grid) Meta() GridMeta {
	return GridMeta{
		Width:    g.Width,
		Height:   g.Height,
		CellSize: g.CellSize,
		OriginX:  g.OriginX,
		OriginY:  g.OriginY,
		NoData:   g.NoData,
	}
}

// Validate checks the structural invariants of the grid.
func (g *Grid) Validate() error {
	if g.Width <= 0 || g.Height <= 0 {
		return fmt.Errorf("grid dimensions must be positive, got %dx%d", g.Width, g.Height)
	}
	if g.Width > math.MaxInt/g.Height {
		return fmt.Errorf("grid dimensions %dx%d overflow the cell count", g.Width, g.Height)
	}
	if !(g.CellSize > 0) || math.IsInf(g.CellSize, 0) {
		return fmt.Errorf("cell size must be a positive finite number, got %v", g.CellSize)
	}
	if len(g.Values) != g.Width*g.Height {
		return fmt.Errorf("grid has %d values, want %d (%dx%d)", len(g.Values), g.Width*g.Height, g.Width, g.Height)
	}
	return nil
}

// Equal reports whether two grids have the same shape, georeference and
// cell values. NaN cells compare equal to NaN cells.
func (g *Grid) Equal(o *Grid) bool {
	if g == nil || o == nil {
		return g == o
	}
	if g.Width != o.Width || g.Height != o.Height || g.CellSize != o.CellSize ||
		g.OriginX != o.OriginX || g.OriginY != o.OriginY {
		return false
	}
	if g.NoData != o.NoData && !(math.IsNaN(g.NoData) && math.IsNaN(o.NoData)) {
		return false
	}
	if len(g.Values) != len(o.Values) {
		return false
	}
	for i, v := range g.Values {
		w := o.Values[i]
		if v != w && !(math.IsNaN(v) && math.IsNaN(w)) {
			return false
		}
	}
	return true
}
