package params

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/landslide-lab/sphbox/internal/codec"
	"github.com/landslide-lab/sphbox/pkg/core"
)

// DefaultPreset is the preset used by simple mode when none is named.
const DefaultPreset = "default"

// Presets maps preset names to partial parameter sets. Missing keys take
// their allow-list default.
type Presets map[string]core.Params

// BuiltinPresets returns the presets available without configuration.
func BuiltinPresets() Presets {
	return Presets{
		DefaultPreset: Defaults(),
		"debris_flow": {
			"nfrict": 1,
			"tauy0":  10,
			"visco":  5,
			"dens":   1800,
		},
		"rock_avalanche": {
			"dens":   2600,
			"tanfi8": 0.6,
		},
	}
}

// Merge returns p with other's presets added, other winning on conflicts.
// Keys within a preset are merged, not replaced.
func (p Presets) Merge(other Presets) Presets {
	out := make(Presets, len(p)+len(other))
	for name, ps := range p {
		out[name] = ps.Clone()
	}
	for name, ps := range other {
		dst, ok := out[name]
		if !ok {
			dst = core.Params{}
		}
		for k, v := range ps {
			dst[k] = v
		}
		out[name] = dst
	}
	return out
}

// Resolve returns the full parameter set of the named preset.
func (p Presets) Resolve(name string) (core.Params, error) {
	if name == "" {
		name = DefaultPreset
	}
	ps, ok := p[name]
	if !ok {
		return nil, core.ConfigErrorf("preset", "unknown preset %q (available: %v)", name, p.Names())
	}
	out, err := Resolve(ps)
	if err != nil {
		var cfgErr *core.ConfigError
		if errors.As(err, &cfgErr) {
			cfgErr.Field = "presets." + name + "." + cfgErr.Field
		}
		return nil, err
	}
	return out, nil
}

// Names returns the preset names in sorted order.
func (p Presets) Names() []string {
	names := make([]string, 0, len(p))
	for n := range p {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// LoadFile reads a YAML mapping of parameter names to numbers. A .DAT
// file written by an earlier run is read as its key = value entries.
func LoadFile(path string) (core.Params, error) {
	if strings.EqualFold(filepath.Ext(path), ".dat") {
		dat, err := codec.ReadDAT(path)
		if err != nil {
			return nil, err
		}
		return core.Params(dat.Entries), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &core.IOError{Op: "read", Path: path, Err: err}
	}
	return Decode(bytes.NewReader(data), path)
}

// Decode parses a YAML parameter mapping from r. path is only used in errors.
func Decode(r io.Reader, path string) (core.Params, error) {
	var raw map[string]any
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return core.Params{}, nil
		}
		return nil, &core.FormatError{Path: path, Reason: fmt.Sprintf("invalid YAML: %v", err)}
	}
	p := make(core.Params, len(raw))
	for k, v := range raw {
		switch n := v.(type) {
		case int:
			p[k] = float64(n)
		case float64:
			p[k] = n
		default:
			return nil, core.ConfigErrorf(k, "want a number, got %v (%T)", v, v)
		}
	}
	return p, nil
}
