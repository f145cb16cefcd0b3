package codec

import (
	"encoding/binary"
	"errors"
	"io"
	"math"
)

// MaxPrealloc caps how many elements a reader reserves up front from a count
// found in a file header. Buffers grow past it only as data actually arrives.
const MaxPrealloc = 1 << 16

// ReadFloat32s reads n float32 values in the given byte order. The result
// grows in MaxPrealloc chunks, so a corrupt count fails with
// io.ErrUnexpectedEOF once the input runs out instead of reserving memory
// for data that is not there.
func ReadFloat32s(r io.Reader, order binary.ByteOrder, n int) ([]float32, error) {
	out := make([]float32, 0, min(n, MaxPrealloc))
	buf := make([]byte, 4*min(n, MaxPrealloc))
	for len(out) < n {
		k := min(n-len(out), MaxPrealloc)
		b := buf[:4*k]
		if _, err := io.ReadFull(r, b); err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return out, err
		}
		for i := range k {
			out = append(out, math.Float32frombits(order.Uint32(b[4*i:])))
		}
	}
	return out, nil
}

// CellCount returns width*height, or false when either side is not
// positive or the product overflows int.
func CellCount(width, height int) (int, bool) {
	if width <= 0 || height <= 0 || width > math.MaxInt/height {
		return 0, false
	}
	return width * height, true
}
