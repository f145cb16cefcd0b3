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

// Param is one ordered entry of a solver DAT file.
type Param struct {
	Name    string
	Value   float64
	Integer bool
}

func (p Param) formatValue() string {
	if p.Integer {
		return strconv.FormatInt(int64(math.Round(p.Value)), 10)
	}
	return strconv.FormatFloat(p.Value, 'f', -1, 64)
}

// WriteMasterFile writes <problem>.MASTER.DAT: the problem name followed by
// the run control entries.
func WriteMasterFile(path, problem string, params []Param) error {
	return writeDAT(path, "master", problem, params)
}

// WriteDataFile writes <problem>.DAT: the problem name followed by the
// material and friction entries.
func WriteDataFile(path, problem string, params []Param) error {
	return writeDAT(path, "data", problem, params)
}

func writeDAT(path, kind, problem string, params []Param) error {
	if problem == "" {
		return &core.FormatError{Path: path, Reason: "problem name is empty"}
	}
	for _, p := range params {
		if p.Name == "" || strings.ContainsAny(p.Name, " =\t\n") {
			return &core.FormatError{Path: path, Reason: fmt.Sprintf("bad parameter name %q", p.Name)}
		}
		if math.IsNaN(p.Value) || math.IsInf(p.Value, 0) {
			return &core.FormatError{Path: path, Reason: fmt.Sprintf("parameter %s is not finite", p.Name)}
		}
	}
	return WriteAtomic(path, func(f *os.File) error {
		w := bufio.NewWriter(f)
		fmt.Fprintf(w, "# sphbox %s file\n", kind)
		fmt.Fprintf(w, "problem = %s\n", problem)
		for _, p := range params {
			fmt.Fprintf(w, "%s = %s\n", p.Name, p.formatValue())
		}
		return w.Flush()
	})
}

// DatFile is a parsed DAT file.
type DatFile struct {
	Problem string
	Entries map[string]float64
	Order   []string
}

// ReadDAT parses a key = value DAT file. Blank lines and # comments are skipped.
func ReadDAT(path string) (*DatFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &core.IOError{Op: "open", Path: path, Err: err}
	}
	defer f.Close()
	return parseDAT(f, path)
}

func parseDAT(r io.Reader, path string) (*DatFile, error) {
	d := &DatFile{Entries: map[string]float64{}}
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		key, val, ok := strings.Cut(text, "=")
		if !ok {
			return nil, &core.FormatError{Path: path, Line: line, Reason: fmt.Sprintf("want key = value, got %q", text)}
		}
		key, val = strings.TrimSpace(key), strings.TrimSpace(val)
		if key == "problem" {
			d.Problem = val
			continue
		}
		v, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return nil, &core.FormatError{Path: path, Line: line, Reason: fmt.Sprintf("bad number %q for %s", val, key)}
		}
		if _, dup := d.Entries[key]; dup {
			return nil, &core.FormatError{Path: path, Line: line, Reason: fmt.Sprintf("duplicate key %s", key)}
		}
		d.Entries[key] = v
		d.Order = append(d.Order, key)
	}
	if err := sc.Err(); err != nil {
		return nil, &core.IOError{Op: "read", Path: path, Err: err}
	}
	return d, nil
}
