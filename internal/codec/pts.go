package codec

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/landslide-lab/sphbox/pkg/core"
)

// Point is a release point of the landslide mass with its initial height.
type Point struct {
	X, Y, H float64
}

// WritePoints writes points to path in .PTS format.
func WritePoints(path string, points []Point) error {
	if len(points) == 0 {
		return &core.FormatError{Path: path, Reason: "no points"}
	}
	for i, p := range points {
		for _, v := range []float64{p.X, p.Y, p.H} {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return &core.FormatError{Path: path, Reason: fmt.Sprintf("point %d has a non-finite coordinate", i)}
			}
		}
	}
	return WriteAtomic(path, func(f *os.File) error {
		w := bufio.NewWriter(f)
		fmt.Fprintf(w, "np\n%d\n", len(points))
		for _, p := range points {
			fmt.Fprintf(w, "%s\t%s\t%s\n", formatFloat(p.X), formatFloat(p.Y), formatFloat(p.H))
		}
		return w.Flush()
	})
}

// ReadPoints parses a .PTS file.
func ReadPoints(path string) ([]Point, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &core.IOError{Op: "open", Path: path, Err: err}
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	line := 0
	next := func() ([]string, bool) {
		for sc.Scan() {
			line++
			if fields := strings.Fields(sc.Text()); len(fields) > 0 {
				return fields, true
			}
		}
		return nil, false
	}
	fail := func(format string, args ...any) error {
		return &core.FormatError{Path: path, Line: line, Reason: fmt.Sprintf(format, args...)}
	}

	if fields, ok := next(); !ok || !strings.EqualFold(fields[0], "np") {
		return nil, fail("want np header")
	}
	fields, ok := next()
	if !ok {
		return nil, fail("missing point count")
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil || n <= 0 {
		return nil, fail("bad point count %q", fields[0])
	}
	points := make([]Point, 0, min(n, MaxPrealloc))
	for len(points) < n {
		fields, ok := next()
		if !ok {
			return nil, fail("truncated: got %d of %d points", len(points), n)
		}
		p, err := parsePoint(fields)
		if err != nil {
			return nil, fail("%v", err)
		}
		points = append(points, p)
	}
	if err := sc.Err(); err != nil {
		return nil, &core.IOError{Op: "read", Path: path, Err: err}
	}
	return points, nil
}

func parsePoint(fields []string) (Point, error) {
	if len(fields) != 3 {
		return Point{}, fmt.Errorf("want x y h, got %d fields", len(fields))
	}
	var v [3]float64
	for i, s := range fields {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return Point{}, fmt.Errorf("bad number %q", s)
		}
		v[i] = f
	}
	return Point{X: v[0], Y: v[1], H: v[2]}, nil
}

// ReadPointsCSV reads x, y and height columns from a CSV file. When the
// first row is a header, columns are located by name: x, y and heightCol
// (default "h", also accepting "z" and "height"). Without a header the first
// three columns are used.
func ReadPointsCSV(path, heightCol string) ([]Point, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &core.IOError{Op: "open", Path: path, Err: err}
	}
	defer f.Close()

	r := csv.NewReader(bufio.NewReader(f))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	cols := [3]int{0, 1, 2}
	var points []Point
	for row := 1; ; row++ {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &core.FormatError{Path: path, Line: row, Reason: err.Error()}
		}
		if row == 1 && !isNumberish(rec[0]) {
			cols, err = headerColumns(rec, heightCol)
			if err != nil {
				return nil, &core.FormatError{Path: path, Line: row, Reason: err.Error()}
			}
			continue
		}
		fields := make([]string, 3)
		for i, c := range cols {
			if c >= len(rec) {
				return nil, &core.FormatError{Path: path, Line: row, Reason: fmt.Sprintf("row has %d columns", len(rec))}
			}
			fields[i] = rec[c]
		}
		p, err := parsePoint(fields)
		if err != nil {
			return nil, &core.FormatError{Path: path, Line: row, Reason: err.Error()}
		}
		points = append(points, p)
	}
	if len(points) == 0 {
		return nil, &core.FormatError{Path: path, Reason: "no points"}
	}
	return points, nil
}

func headerColumns(header []string, heightCol string) ([3]int, error) {
	want := [3][]string{{"x"}, {"y"}, {"h", "z", "height"}}
	if heightCol != "" {
		want[2] = []string{strings.ToLower(heightCol)}
	}
	var cols [3]int
	for i, names := range want {
		cols[i] = -1
		for j, h := range header {
			for _, n := range names {
				if strings.EqualFold(strings.TrimSpace(h), n) {
					cols[i] = j
				}
			}
		}
		if cols[i] < 0 {
			return cols, fmt.Errorf("missing column %s", names[0])
		}
	}
	return cols, nil
}

func isNumberish(s string) bool {
	_, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return err == nil
}
