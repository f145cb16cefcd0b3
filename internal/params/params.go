// Package params holds the solver parameter allow-list and validates
// caller-supplied parameter sets against it.
package params

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/landslide-lab/sphbox/internal/codec"
	"github.com/landslide-lab/sphbox/pkg/core"
)

// Kind is the numeric type of a parameter.
type Kind string

// Parameter kinds.
const (
	Float Kind = "float"
	Int   Kind = "int"
)

// Target names the DAT file a parameter is written to.
type Target string

// DAT file targets.
const (
	Master Target = "master"
	Data   Target = "data"
)

// Spec describes one allowed solver parameter.
type Spec struct {
	Key     string
	Kind    Kind
	Default float64
	Min     float64
	Max     float64
	Target  Target
	Help    string
}

// AllowList is every parameter the solver accepts, in DAT file order.
var AllowList = []Spec{
	{Key: "dt", Kind: Float, Default: 0.1, Min: 0.001, Max: 1, Target: Master, Help: "time step (s)"},
	{Key: "time_end", Kind: Int, Default: 1000, Min: 1, Max: 10000, Target: Master, Help: "simulated duration (s)"},
	{Key: "print_step", Kind: Int, Default: 5, Min: 1, Max: 100, Target: Master, Help: "output interval in steps"},
	{Key: "cgra", Kind: Float, Default: 9.81, Min: 0.001, Max: 10, Target: Data, Help: "gravity acceleration (m/s2)"},
	{Key: "dens", Kind: Int, Default: 2000, Min: 1000, Max: 3000, Target: Data, Help: "material density (kg/m3)"},
	{Key: "cmanning", Kind: Int, Default: 0, Min: 0, Max: 100, Target: Data, Help: "Manning coefficient"},
	{Key: "eros_coef", Kind: Int, Default: 0, Min: 0, Max: 100, Target: Data, Help: "erosion coefficient"},
	{Key: "nfrict", Kind: Int, Default: 7, Min: 0, Max: 100, Target: Data, Help: "rheological law selector"},
	{Key: "tauy0", Kind: Float, Default: 0, Min: 0, Max: 100, Target: Data, Help: "yield stress (Pa)"},
	{Key: "visco", Kind: Float, Default: 0, Min: 0, Max: 100, Target: Data, Help: "viscosity (Pa s)"},
	{Key: "tanfi8", Kind: Float, Default: 0.218, Min: 0.001, Max: 3.1415926, Target: Data, Help: "tangent of the basal friction angle"},
}

var byKey = func() map[string]Spec {
	m := make(map[string]Spec, len(AllowList))
	for _, s := range AllowList {
		m[s.Key] = s
	}
	return m
}()

// Lookup returns the spec for key.
func Lookup(key string) (Spec, bool) {
	s, ok := byKey[key]
	return s, ok
}

// Defaults returns a parameter set holding every default value.
func Defaults() core.Params {
	p := make(core.Params, len(AllowList))
	for _, s := range AllowList {
		p[s.Key] = s.Default
	}
	return p
}

// Check validates one value against its spec.
func (s Spec) Check(v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return core.ConfigErrorf(s.Key, "value must be finite")
	}
	if s.Kind == Int && v != math.Trunc(v) {
		return core.ConfigErrorf(s.Key, "must be an integer, got %v", v)
	}
	if v < s.Min || v > s.Max {
		return core.ConfigErrorf(s.Key, "%v is outside [%v, %v]", v, s.Min, s.Max)
	}
	return nil
}

// Validate checks every key in p. Keys are checked in sorted order so the
// reported error is deterministic.
func Validate(p core.Params) error {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		s, ok := byKey[k]
		if !ok {
			return core.ConfigErrorf(k, "unknown parameter (allowed: %s)", strings.Join(Keys(), ", "))
		}
		if err := s.Check(p[k]); err != nil {
			return err
		}
	}
	return nil
}

// Resolve validates overrides and fills every missing key with its default.
func Resolve(overrides core.Params) (core.Params, error) {
	if err := Validate(overrides); err != nil {
		return nil, err
	}
	p := Defaults()
	for k, v := range overrides {
		p[k] = v
	}
	return p, nil
}

// Keys returns the allowed keys in DAT file order.
func Keys() []string {
	out := make([]string, len(AllowList))
	for i, s := range AllowList {
		out[i] = s.Key
	}
	return out
}

// ForTarget returns the entries of p written to target, in allow-list order.
// Keys missing from p are skipped.
func ForTarget(p core.Params, target Target) []codec.Param {
	var out []codec.Param
	for _, s := range AllowList {
		if s.Target != target {
			continue
		}
		v, ok := p[s.Key]
		if !ok {
			continue
		}
		out = append(out, codec.Param{Name: s.Key, Value: v, Integer: s.Kind == Int})
	}
	return out
}

// ParseAssignments parses key=value pairs such as those given on the
// command line. Values are not range checked.
func ParseAssignments(pairs []string) (core.Params, error) {
	p := make(core.Params, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, core.ConfigErrorf("params", "want key=value, got %q", pair)
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, core.ConfigErrorf(k, "not a number: %q", v)
		}
		p[k] = f
	}
	return p, nil
}

// Describe renders a one-line summary of s for help output.
func (s Spec) Describe() string {
	return fmt.Sprintf("%s (%s, default %v, range %v..%v): %s", s.Key, s.Kind, s.Default, s.Min, s.Max, s.Help)
}
