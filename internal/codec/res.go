package codec

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/landslide-lab/sphbox/pkg/core"
)

// ResVersion is the only .QGIS_res layout version this package understands.
const ResVersion = 1

const (
	resMagic     = "QGISRES\x00"
	resNameBytes = 16
	// maxResCells guards allocations driven by a corrupt header.
	maxResCells = 1 << 28
	// maxResFields bounds the field-name table.
	maxResFields = 1 << 10
)

// ResFile is a decoded .QGIS_res result: a sequence of time steps, each
// holding one float32 grid per result field.
type ResFile struct {
	Meta   core.GridMeta
	Fields []string
	Steps  []ResStep
}

// ResStep is one output time of the solver. Values is indexed by field and
// then by cell, row-major with the top row first.
type ResStep struct {
	Time   float64
	Values [][]float32
}

// FieldIndex returns the position of name in Fields.
func (r *ResFile) FieldIndex(name string) (int, bool) {
	for i, f := range r.Fields {
		if f == name {
			return i, true
		}
	}
	return -1, false
}

// Times returns the time of every step.
func (r *ResFile) Times() []float64 {
	out := make([]float64, len(r.Steps))
	for i, s := range r.Steps {
		out[i] = s.Time
	}
	return out
}

// Validate checks that every step carries one full grid per field.
func (r *ResFile) Validate() error {
	if r.Meta.Width <= 0 || r.Meta.Height <= 0 {
		return fmt.Errorf("grid dimensions must be positive, got %dx%d", r.Meta.Width, r.Meta.Height)
	}
	if !(r.Meta.CellSize > 0) {
		return fmt.Errorf("cell size must be positive, got %v", r.Meta.CellSize)
	}
	if len(r.Fields) == 0 {
		return errors.New("result has no fields")
	}
	seen := make(map[string]bool, len(r.Fields))
	for _, name := range r.Fields {
		if name == "" || len(name) > resNameBytes-1 {
			return fmt.Errorf("field name %q must be 1-%d bytes", name, resNameBytes-1)
		}
		if seen[name] {
			return fmt.Errorf("duplicate field %q", name)
		}
		seen[name] = true
	}
	n := r.Meta.Width * r.Meta.Height
	for i, s := range r.Steps {
		if len(s.Values) != len(r.Fields) {
			return fmt.Errorf("step %d has %d fields, want %d", i, len(s.Values), len(r.Fields))
		}
		for j, v := range s.Values {
			if len(v) != n {
				return fmt.Errorf("step %d field %s has %d cells, want %d", i, r.Fields[j], len(v), n)
			}
		}
	}
	return nil
}

type resHeader struct {
	Magic    [8]byte
	Version  uint32
	NX, NY   uint32
	CellSize float64
	X0, Y0   float64
	Fields   uint32
	Steps    uint32
}

// DecodeRes reads a .QGIS_res file.
func DecodeRes(src string) (*ResFile, error) {
	f, err := os.Open(src)
	if err != nil {
		return nil, &core.IOError{Op: "open", Path: src, Err: err}
	}
	defer f.Close()
	return ReadRes(bufio.NewReader(f), src)
}

// countingReader tracks the byte offset for error reporting.
type countingReader struct {
	r   io.Reader
	off int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.off += int64(n)
	return n, err
}

// ReadRes parses .QGIS_res content from r. path is only used in errors.
func ReadRes(r io.Reader, path string) (*ResFile, error) {
	cr := &countingReader{r: r}
	fail := func(format string, args ...any) error {
		return &core.FormatError{Path: path, Offset: cr.off, Reason: fmt.Sprintf(format, args...)}
	}
	read := func(what string, v any) error {
		if err := binary.Read(cr, binary.LittleEndian, v); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return fail("truncated %s", what)
			}
			return &core.IOError{Op: "read", Path: path, Err: err}
		}
		return nil
	}

	var h resHeader
	if err := read("header", &h); err != nil {
		return nil, err
	}
	if string(h.Magic[:]) != resMagic {
		return nil, &core.FormatError{Path: path, Reason: fmt.Sprintf("unknown magic %q", strings.TrimRight(string(h.Magic[:]), "\x00"))}
	}
	if h.Version != ResVersion {
		return nil, &core.FormatError{Path: path, Offset: 8, Reason: fmt.Sprintf("unsupported version %d", h.Version)}
	}
	cells := uint64(h.NX) * uint64(h.NY)
	switch {
	case cells == 0:
		return nil, fail("empty grid %dx%d", h.NX, h.NY)
	case cells*uint64(max(h.Fields, 1)) > maxResCells:
		return nil, fail("grid %dx%d with %d fields is too large", h.NX, h.NY, h.Fields)
	case h.Fields == 0:
		return nil, fail("no result fields")
	case h.Fields > maxResFields:
		return nil, fail("%d result fields exceeds the limit of %d", h.Fields, maxResFields)
	case !(h.CellSize > 0) || math.IsInf(h.CellSize, 0):
		return nil, fail("bad cell size %v", h.CellSize)
	}

	res := &ResFile{
		Meta: core.GridMeta{
			Width:    int(h.NX),
			Height:   int(h.NY),
			CellSize: h.CellSize,
			OriginX:  h.X0,
			OriginY:  h.Y0,
			NoData:   core.DefaultNoData,
		},
		Fields: make([]string, h.Fields),
	}
	for i := range res.Fields {
		var name [resNameBytes]byte
		if err := read("field names", &name); err != nil {
			return nil, err
		}
		res.Fields[i] = strings.TrimRight(string(name[:]), "\x00")
		if res.Fields[i] == "" {
			return nil, fail("field %d has an empty name", i)
		}
	}

	for t := uint32(0); t < h.Steps; t++ {
		step := ResStep{Values: make([][]float32, h.Fields)}
		if err := read(fmt.Sprintf("step %d time", t), &step.Time); err != nil {
			return nil, err
		}
		for i := range step.Values {
			v, err := ReadFloat32s(cr, binary.LittleEndian, int(cells))
			if err != nil {
				if errors.Is(err, io.ErrUnexpectedEOF) {
					return nil, fail("truncated step %d field %s: got %d of %d cells", t, res.Fields[i], len(v), cells)
				}
				return nil, &core.IOError{Op: "read", Path: path, Err: err}
			}
			step.Values[i] = v
		}
		res.Steps = append(res.Steps, step)
	}

	var extra [1]byte
	if n, _ := io.ReadFull(cr, extra[:]); n > 0 {
		return nil, fail("trailing data after %d steps", h.Steps)
	}
	return res, nil
}

// EncodeRes writes res to dest in .QGIS_res layout.
func EncodeRes(res *ResFile, dest string) error {
	if err := res.Validate(); err != nil {
		return &core.FormatError{Path: dest, Reason: err.Error()}
	}
	return WriteAtomic(dest, func(f *os.File) error {
		return WriteRes(f, res)
	})
}

// WriteRes streams res in .QGIS_res layout.
func WriteRes(w io.Writer, res *ResFile) error {
	if err := res.Validate(); err != nil {
		return &core.FormatError{Reason: err.Error()}
	}
	bw := bufio.NewWriter(w)
	h := resHeader{
		Version:  ResVersion,
		NX:       uint32(res.Meta.Width),
		NY:       uint32(res.Meta.Height),
		CellSize: res.Meta.CellSize,
		X0:       res.Meta.OriginX,
		Y0:       res.Meta.OriginY,
		Fields:   uint32(len(res.Fields)),
		Steps:    uint32(len(res.Steps)),
	}
	copy(h.Magic[:], resMagic)
	if err := binary.Write(bw, binary.LittleEndian, h); err != nil {
		return err
	}
	for _, name := range res.Fields {
		var b [resNameBytes]byte
		copy(b[:], name)
		if _, err := bw.Write(b[:]); err != nil {
			return err
		}
	}
	for _, s := range res.Steps {
		if err := binary.Write(bw, binary.LittleEndian, s.Time); err != nil {
			return err
		}
		for _, v := range s.Values {
			if err := binary.Write(bw, binary.LittleEndian, v); err != nil {
				return err
			}
		}
	}
	return bw.Flush()
}
