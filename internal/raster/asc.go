package raster

import (
	"bufio"
	"fmt"
	"os"
	"strconv"

	"github.com/landslide-lab/sphbox/internal/codec"
	"github.com/landslide-lab/sphbox/pkg/core"
)

func readASC(path string) (*core.Grid, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, ioErr("open", path, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	h, pending, err := readHeader(r, path, true)
	if err != nil {
		return nil, err
	}
	m := h.meta()
	want := m.Width * m.Height
	g := &core.Grid{
		Width:    m.Width,
		Height:   m.Height,
		CellSize: m.CellSize,
		OriginX:  m.OriginX,
		OriginY:  m.OriginY,
		NoData:   m.NoData,
		Values:   make([]float64, 0, min(want, codec.MaxPrealloc)),
	}

	push := func(tok string) error {
		if len(g.Values) == want {
			return &core.FormatError{Path: path, Reason: fmt.Sprintf("more than %d cell values", want)}
		}
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return &core.FormatError{Path: path, Reason: fmt.Sprintf("cell %d: bad number %q", len(g.Values), tok)}
		}
		g.Values = append(g.Values, v)
		return nil
	}

	for _, tok := range pending {
		if err := push(tok); err != nil {
			return nil, err
		}
	}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	sc.Split(bufio.ScanWords)
	for sc.Scan() {
		if err := push(sc.Text()); err != nil {
			return nil, err
		}
	}
	if err := sc.Err(); err != nil {
		return nil, ioErr("read", path, err)
	}
	if len(g.Values) != want {
		return nil, &core.FormatError{Path: path, Reason: fmt.Sprintf("truncated cell data: got %d values, want %d", len(g.Values), want)}
	}
	return g, nil
}

func writeASC(g *core.Grid, path string) error {
	return writeAtomic(path, func(w *bufio.Writer) error {
		fmt.Fprintf(w, "ncols %d\n", g.Width)
		fmt.Fprintf(w, "nrows %d\n", g.Height)
		fmt.Fprintf(w, "xllcorner %s\n", formatFloat(g.OriginX))
		fmt.Fprintf(w, "yllcorner %s\n", formatFloat(g.OriginY))
		fmt.Fprintf(w, "cellsize %s\n", formatFloat(g.CellSize))
		fmt.Fprintf(w, "NODATA_value %s\n", formatFloat(g.NoData))
		for row := 0; row < g.Height; row++ {
			for col := 0; col < g.Width; col++ {
				if col > 0 {
					w.WriteByte(' ')
				}
				w.WriteString(formatFloat(g.At(col, row)))
			}
			if _, err := w.WriteString("\n"); err != nil {
				return err
			}
		}
		return nil
	})
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
