package codec

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/landslide-lab/sphbox/pkg/core"
)

const (
	topMagic   = "ictop"
	topVersion = "11"
	topTrailer = "terrain"

	// latticeTolerance bounds how far a .TOP coordinate may sit from a
	// multiple of the cell size, in cells.
	latticeTolerance = 1e-6
)

// EncodeTop writes g to dest in the solver's .TOP grid format.
func EncodeTop(g *core.Grid, dest string) error {
	if err := checkTopGrid(g, dest); err != nil {
		return err
	}
	return WriteAtomic(dest, func(f *os.File) error {
		return WriteTop(f, g)
	})
}

// WriteTop streams g in .TOP format. Rows are written bottom first and
// coordinates are offsets from the lower-left cell; georeferencing is not
// part of the format.
func WriteTop(w io.Writer, g *core.Grid) error {
	if err := checkTopGrid(g, ""); err != nil {
		return err
	}
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "%s\n%s\nnp\tdeltx\n", topMagic, topVersion)
	fmt.Fprintf(bw, "%d\t%s\n", g.Len(), formatFloat(g.CellSize))
	bw.WriteString("X Y Z\n")
	for i := 0; i < g.Height; i++ {
		row := g.Height - 1 - i
		y := formatFloat(float64(i) * g.CellSize)
		for col := 0; col < g.Width; col++ {
			bw.WriteString(formatFloat(float64(col) * g.CellSize))
			bw.WriteByte('\t')
			bw.WriteString(y)
			bw.WriteByte('\t')
			bw.WriteString(formatFloat(g.At(col, row)))
			bw.WriteByte('\n')
		}
	}
	fmt.Fprintf(bw, "%s\n0\n", topTrailer)
	return bw.Flush()
}

func checkTopGrid(g *core.Grid, path string) error {
	if g == nil {
		return &core.FormatError{Path: path, Reason: "grid is nil"}
	}
	if err := g.Validate(); err != nil {
		return &core.FormatError{Path: path, Reason: err.Error()}
	}
	if math.IsNaN(g.NoData) || math.IsInf(g.NoData, 0) {
		return &core.FormatError{Path: path, Reason: fmt.Sprintf("nodata value %v cannot be represented in .TOP", g.NoData)}
	}
	for i, v := range g.Values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return &core.FormatError{Path: path, Reason: fmt.Sprintf("cell (%d,%d) holds non-finite value %v", i%g.Width, i/g.Width, v)}
		}
	}
	return nil
}

// DecodeTop reads a .TOP file. The returned grid has origin (0,0) and
// core.DefaultNoData since the format does not carry either.
func DecodeTop(src string) (*core.Grid, error) {
	f, err := os.Open(src)
	if err != nil {
		return nil, &core.IOError{Op: "open", Path: src, Err: err}
	}
	defer f.Close()
	return ReadTop(f, src)
}

type topCell struct {
	col, row int
	z        float64
	line     int
}

// ReadTop parses .TOP content from r. path is only used in errors.
func ReadTop(r io.Reader, path string) (*core.Grid, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNo := 0

	next := func() ([]string, bool) {
		for sc.Scan() {
			lineNo++
			if fields := strings.Fields(sc.Text()); len(fields) > 0 {
				return fields, true
			}
		}
		return nil, false
	}
	fail := func(format string, args ...any) error {
		return &core.FormatError{Path: path, Line: lineNo, Reason: fmt.Sprintf(format, args...)}
	}
	expect := func(want ...string) error {
		fields, ok := next()
		if !ok {
			return fail("unexpected end of header, want %q", strings.Join(want, " "))
		}
		if len(fields) != len(want) {
			return fail("header line %q, want %q", strings.Join(fields, " "), strings.Join(want, " "))
		}
		for i := range want {
			if !strings.EqualFold(fields[i], want[i]) {
				return fail("header line %q, want %q", strings.Join(fields, " "), strings.Join(want, " "))
			}
		}
		return nil
	}

	if err := expect(topMagic); err != nil {
		return nil, err
	}
	if err := expect(topVersion); err != nil {
		return nil, err
	}
	if err := expect("np", "deltx"); err != nil {
		return nil, err
	}
	fields, ok := next()
	if !ok || len(fields) != 2 {
		return nil, fail("want point count and cell size")
	}
	np, err := strconv.Atoi(fields[0])
	if err != nil || np <= 0 {
		return nil, fail("bad point count %q", fields[0])
	}
	cellSize, err := strconv.ParseFloat(fields[1], 64)
	if err != nil || !(cellSize > 0) || math.IsInf(cellSize, 0) {
		return nil, fail("bad cell size %q", fields[1])
	}
	if err := expect("X", "Y", "Z"); err != nil {
		return nil, err
	}

	cells := make([]topCell, 0, min(np, MaxPrealloc))
	width, height := 0, 0
	for len(cells) < np {
		fields, ok := next()
		if !ok {
			if err := sc.Err(); err != nil {
				return nil, &core.IOError{Op: "read", Path: path, Err: err}
			}
			return nil, fail("truncated cell data: got %d of %d points", len(cells), np)
		}
		if len(fields) != 3 {
			return nil, fail("want x y z, got %d fields", len(fields))
		}
		var xyz [3]float64
		for i, s := range fields {
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fail("bad number %q", s)
			}
			xyz[i] = v
		}
		col, okX := latticeIndex(xyz[0], cellSize)
		row, okY := latticeIndex(xyz[1], cellSize)
		if !okX || !okY {
			return nil, fail("point (%v, %v) is not on the %v lattice", xyz[0], xyz[1], cellSize)
		}
		width = max(width, col+1)
		height = max(height, row+1)
		cells = append(cells, topCell{col: col, row: row, z: xyz[2], line: lineNo})
	}

	if fields, ok := next(); ok && !strings.EqualFold(fields[0], topTrailer) {
		return nil, fail("unexpected content after %d points: %q", np, strings.Join(fields, " "))
	}
	if err := sc.Err(); err != nil {
		return nil, &core.IOError{Op: "read", Path: path, Err: err}
	}

	if n, ok := CellCount(width, height); !ok || n != np {
		return nil, &core.FormatError{Path: path, Reason: fmt.Sprintf("%d points do not fill a %dx%d lattice", np, width, height)}
	}
	g := core.NewGrid(width, height, cellSize)
	filled := make([]bool, g.Len())
	for _, c := range cells {
		// .TOP rows count up from the bottom; grid rows count down from the top.
		idx := g.Index(c.col, height-1-c.row)
		if filled[idx] {
			return nil, &core.FormatError{Path: path, Line: c.line, Reason: fmt.Sprintf("duplicate point at column %d row %d", c.col, c.row)}
		}
		filled[idx] = true
		g.Values[idx] = c.z
	}
	return g, nil
}

func latticeIndex(v, cellSize float64) (int, bool) {
	f := v / cellSize
	n := math.Round(f)
	if n < 0 || n > math.MaxInt32 || math.Abs(f-n) > latticeTolerance*math.Max(1, n) {
		return 0, false
	}
	return int(n), true
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
