package raster

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/landslide-lab/sphbox/internal/codec"
	"github.com/landslide-lab/sphbox/pkg/core"
)

func readFLT(path string) (*core.Grid, error) {
	hdrPath := sidecar(path, ".hdr")
	hf, err := os.Open(hdrPath)
	if err != nil {
		return nil, ioErr("open", hdrPath, err)
	}
	h, _, err := readHeader(bufio.NewReader(hf), hdrPath, false)
	hf.Close()
	if err != nil {
		return nil, err
	}

	dataPath := sidecar(path, ".flt")
	df, err := os.Open(dataPath)
	if err != nil {
		return nil, ioErr("open", dataPath, err)
	}
	defer df.Close()

	var order binary.ByteOrder = binary.LittleEndian
	if h.msbFirst {
		order = binary.BigEndian
	}
	m := h.meta()
	want := m.Width * m.Height
	raw, err := codec.ReadFloat32s(bufio.NewReader(df), order, want)
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, &core.FormatError{Path: dataPath, Reason: fmt.Sprintf("truncated cell data: got %d of %d float32 values", len(raw), want)}
		}
		return nil, ioErr("read", dataPath, err)
	}

	g := &core.Grid{
		Width:    m.Width,
		Height:   m.Height,
		CellSize: m.CellSize,
		OriginX:  m.OriginX,
		OriginY:  m.OriginY,
		NoData:   m.NoData,
		Values:   make([]float64, len(raw)),
	}
	for i, v := range raw {
		g.Values[i] = float64(v)
	}
	return g, nil
}

func writeFLT(g *core.Grid, path string) error {
	dataPath := sidecar(path, ".flt")
	hdrPath := sidecar(path, ".hdr")

	if !exactFloat32(g.NoData) {
		return &core.FormatError{Path: dataPath, Reason: fmt.Sprintf("nodata value %v is not representable as float32", g.NoData)}
	}
	raw := make([]float32, len(g.Values))
	for i, v := range g.Values {
		if !exactFloat32(v) {
			return &core.FormatError{Path: dataPath, Reason: fmt.Sprintf("cell %d: value %v is not representable as float32", i, v)}
		}
		raw[i] = float32(v)
	}
	if err := writeAtomic(dataPath, func(w *bufio.Writer) error {
		return binary.Write(w, binary.LittleEndian, raw)
	}); err != nil {
		return err
	}

	err := writeAtomic(hdrPath, func(w *bufio.Writer) error {
		fmt.Fprintf(w, "ncols %d\n", g.Width)
		fmt.Fprintf(w, "nrows %d\n", g.Height)
		fmt.Fprintf(w, "xllcorner %s\n", formatFloat(g.OriginX))
		fmt.Fprintf(w, "yllcorner %s\n", formatFloat(g.OriginY))
		fmt.Fprintf(w, "cellsize %s\n", formatFloat(g.CellSize))
		fmt.Fprintf(w, "NODATA_value %s\n", formatFloat(g.NoData))
		_, err := fmt.Fprintf(w, "byteorder LSBFIRST\n")
		return err
	})
	if err != nil {
		_ = os.Remove(dataPath)
		return err
	}
	return nil
}

// exactFloat32 reports whether v survives a float32 round trip unchanged.
// Values that overflow to infinity fail.
func exactFloat32(v float64) bool {
	return math.IsNaN(v) || float64(float32(v)) == v
}
