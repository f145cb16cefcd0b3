// Package jobfile loads batch job files written in HCL.
//
// A job file holds one run block per pipeline run:
//
//	workers = 4
//
//	run "north_slope" {
//	  pipeline   = "sph_model"
//	  problem    = "north"
//	  mode       = "advanced"
//	  dem        = "${workdir}/dems/north.asc"
//	  output_dir = "${env.RESULTS}/north"
//	  params     = { dt = 0.05, time_end = 200 }
//	  timeout    = "30m"
//	}
//
// Expressions may reference env (the process environment) and workdir (the
// directory holding the job file). Relative paths are resolved against
// workdir.
package jobfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"

	"github.com/landslide-lab/sphbox/internal/engine"
	"github.com/landslide-lab/sphbox/pkg/core"
)

// File is a decoded job file.
type File struct {
	Path    string
	Workers int
	Runs    []engine.Request
}

// fileRoot is the top-level structure of a job file.
type fileRoot struct {
	Workers *int        `hcl:"workers,optional"`
	Runs    []*runBlock `hcl:"run,block"`
}

type runBlock struct {
	Name     string `hcl:"name,label"`
	Pipeline string `hcl:"pipeline"`

	Input  string `hcl:"input,optional"`
	Output string `hcl:"output,optional"`
	DEM    string `hcl:"dem,optional"`

	Problem   string             `hcl:"problem,optional"`
	Mode      string             `hcl:"mode,optional"`
	Top       string             `hcl:"top,optional"`
	Points    string             `hcl:"points,optional"`
	Preset    string             `hcl:"preset,optional"`
	MasterDAT string             `hcl:"master_dat,optional"`
	DataDAT   string             `hcl:"data_dat,optional"`
	Params    map[string]float64 `hcl:"params,optional"`
	OutputDir string             `hcl:"output_dir,optional"`
	NetCDF    string             `hcl:"netcdf,optional"`
	Timeout   string             `hcl:"timeout,optional"`
}

// Load parses and validates the job file at path.
func Load(path string) (*File, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, &core.IOError{Op: "read", Path: path, Err: err}
	}
	return Parse(src, path, os.Environ())
}

// Parse decodes src as a job file located at path. environ supplies the
// env variable in KEY=VALUE form.
func Parse(src []byte, path string, environ []string) (*File, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, &core.IOError{Op: "abs", Path: path, Err: err}
	}
	dir := filepath.Dir(abs)

	parser := hclparse.NewParser()
	hclFile, diags := parser.ParseHCL(src, path)
	if diags.HasErrors() {
		return nil, diagError(path, diags)
	}

	var root fileRoot
	diags = gohcl.DecodeBody(hclFile.Body, evalContext(dir, environ), &root)
	if diags.HasErrors() {
		return nil, diagError(path, diags)
	}

	f := &File{Path: abs}
	if root.Workers != nil {
		if *root.Workers < 1 {
			return nil, core.ConfigErrorf("workers", "must be at least 1, got %d", *root.Workers)
		}
		f.Workers = *root.Workers
	}

	seen := make(map[string]bool, len(root.Runs))
	for _, rb := range root.Runs {
		if seen[rb.Name] {
			return nil, core.ConfigErrorf("run."+rb.Name, "duplicate run name")
		}
		seen[rb.Name] = true

		req, err := rb.request(dir)
		if err != nil {
			var cfgErr *core.ConfigError
			if errors.As(err, &cfgErr) {
				cfgErr.Field = "run." + rb.Name + "." + cfgErr.Field
			}
			return nil, err
		}
		f.Runs = append(f.Runs, req)
	}
	if len(f.Runs) == 0 {
		return nil, core.ConfigErrorf("run", "%s defines no run blocks", path)
	}
	return f, nil
}

func (rb *runBlock) request(dir string) (engine.Request, error) {
	pipeline, err := core.ParsePipeline(rb.Pipeline)
	if err != nil {
		return engine.Request{}, err
	}
	req := engine.Request{
		Pipeline:  pipeline,
		Label:     rb.Name,
		Input:     resolve(dir, rb.Input),
		Output:    resolve(dir, rb.Output),
		DEM:       resolve(dir, rb.DEM),
		Problem:   rb.Problem,
		Mode:      core.Mode(rb.Mode),
		Top:       resolve(dir, rb.Top),
		Points:    resolve(dir, rb.Points),
		Preset:    rb.Preset,
		MasterDAT: resolve(dir, rb.MasterDAT),
		DataDAT:   resolve(dir, rb.DataDAT),
		OutputDir: resolve(dir, rb.OutputDir),
		NetCDF:    resolve(dir, rb.NetCDF),
	}
	if len(rb.Params) > 0 {
		req.Params = core.Params(rb.Params)
	}
	if rb.Timeout != "" {
		d, err := time.ParseDuration(rb.Timeout)
		if err != nil {
			return engine.Request{}, core.ConfigErrorf("timeout", "%v", err)
		}
		req.Timeout = d
	}
	if err := req.Validate(); err != nil {
		return engine.Request{}, err
	}
	return req, nil
}

func resolve(dir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

func evalContext(dir string, environ []string) *hcl.EvalContext {
	env := make(map[string]cty.Value, len(environ))
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		env[k] = cty.StringVal(v)
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"env":     cty.ObjectVal(env),
			"workdir": cty.StringVal(dir),
		},
		Functions: map[string]function.Function{
			"format": stdlib.FormatFunc,
			"join":   stdlib.JoinFunc,
			"lower":  stdlib.LowerFunc,
			"upper":  stdlib.UpperFunc,
		},
	}
}

// diagError converts HCL diagnostics into a FormatError pointing at the
// first error.
func diagError(path string, diags hcl.Diagnostics) error {
	for _, d := range diags {
		if d.Severity != hcl.DiagError {
			continue
		}
		fe := &core.FormatError{Path: path, Reason: d.Summary}
		if d.Detail != "" {
			fe.Reason += ": " + d.Detail
		}
		if d.Subject != nil {
			fe.Line = d.Subject.Start.Line
		}
		return fe
	}
	return &core.FormatError{Path: path, Reason: fmt.Sprint(diags)}
}
