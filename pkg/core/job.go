package core

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Pipeline names a processing pipeline.
type Pipeline string

// Pipelines the engine knows how to run.
const (
	PipelineDemToTop    Pipeline = "dem_to_top"
	PipelineResToNetCDF Pipeline = "res_to_netcdf"
	PipelineSPHModel    Pipeline = "sph_model"
)

// ParsePipeline accepts the canonical name or its dashed form.
func ParsePipeline(s string) (Pipeline, error) {
	p := Pipeline(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	switch p {
	case PipelineDemToTop, PipelineResToNetCDF, PipelineSPHModel:
		return p, nil
	}
	return "", ConfigErrorf("pipeline", "unknown pipeline %q", s)
}

// Mode selects how sph_model obtains its solver parameters.
type Mode string

// Modes of the sph_model pipeline.
const (
	ModeSimple   Mode = "simple"
	ModeAdvanced Mode = "advanced"
)

// ParseMode parses a mode name. The empty string means simple.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeSimple:
		return ModeSimple, nil
	case ModeAdvanced:
		return ModeAdvanced, nil
	}
	return "", ConfigErrorf("mode", "unknown mode %q (want simple or advanced)", s)
}

// Params maps solver parameter names to values.
type Params map[string]float64

// Clone returns a copy of p.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Job describes one solver invocation.
type Job struct {
	WorkDir    string
	Problem    string
	Inputs     []string
	Mode       Mode
	Params     Params
	Executable string
}

// TopInput returns the first .TOP input, or "" if there is none.
func (j *Job) TopInput() string {
	for _, in := range j.Inputs {
		if strings.EqualFold(filepath.Ext(in), ".top") {
			return in
		}
	}
	return ""
}

// ResFile returns the primary result path the solver is expected to write.
func (j *Job) ResFile() string {
	return filepath.Join(j.WorkDir, j.Problem+".QGIS_res")
}

// AuxiliaryFiles returns the optional result files the solver may write.
func (j *Job) AuxiliaryFiles() []string {
	return []string{
		filepath.Join(j.WorkDir, j.Problem+".post.msh"),
		filepath.Join(j.WorkDir, j.Problem+".post.res"),
	}
}

// Validate checks the fields that do not require filesystem access.
func (j *Job) Validate() error {
	if j.WorkDir == "" {
		return ConfigErrorf("work_dir", "working directory is required")
	}
	if j.Problem == "" {
		return ConfigErrorf("problem", "problem name is required")
	}
	if strings.ContainsAny(j.Problem, `/\`) || strings.TrimSpace(j.Problem) != j.Problem {
		return ConfigErrorf("problem", "problem name %q must be a bare file stem", j.Problem)
	}
	if j.Executable == "" {
		return ConfigErrorf("solver.executable", "solver executable is not configured")
	}
	if j.TopInput() == "" {
		return ConfigErrorf("inputs", "a .TOP input is required")
	}
	return nil
}

// Result describes a successful solver invocation.
type Result struct {
	WorkDir   string
	ResFile   string
	Auxiliary []string
	ExitCode  int
	Duration  time.Duration
}

// Stream identifies which solver stream a line came from.
type Stream string

// Solver output streams.
const (
	Stdout Stream = "stdout"
	Stderr Stream = "stderr"
)

// OutputLine is one line of solver output. Progress is -1 unless the line
// carried a percentage.
type OutputLine struct {
	Stream   Stream
	Text     string
	Progress int
}

func (l OutputLine) String() string {
	if l.Progress >= 0 {
		return fmt.Sprintf("[%s %d%%] %s", l.Stream, l.Progress, l.Text)
	}
	return fmt.Sprintf("[%s] %s", l.Stream, l.Text)
}
