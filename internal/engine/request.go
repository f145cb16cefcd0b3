package engine

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/landslide-lab/sphbox/pkg/core"
)

// Request describes one pipeline run. Which fields apply depends on the
// pipeline:
//
//	dem_to_top     Input (raster), Output (.TOP)
//	res_to_netcdf  Input (.QGIS_res), Output (.nc), DEM (optional georeference)
//	sph_model      Problem, Mode, DEM or Top, Points, OutputDir, NetCDF and
//	               either Preset / MasterDAT+DataDAT (simple) or Params (advanced)
type Request struct {
	Pipeline core.Pipeline `json:"pipeline"`
	Label    string        `json:"label,omitempty"`

	Input  string `json:"input,omitempty"`
	Output string `json:"output,omitempty"`
	DEM    string `json:"dem,omitempty"`

	Problem   string        `json:"problem,omitempty"`
	Mode      core.Mode     `json:"mode,omitempty"`
	Top       string        `json:"top,omitempty"`
	Points    string        `json:"points,omitempty"`
	Preset    string        `json:"preset,omitempty"`
	MasterDAT string        `json:"master_dat,omitempty"`
	DataDAT   string        `json:"data_dat,omitempty"`
	Params    core.Params   `json:"params,omitempty"`
	OutputDir string        `json:"output_dir,omitempty"`
	NetCDF    string        `json:"netcdf,omitempty"`
	Timeout   time.Duration `json:"-"`
}

// Validate checks the request without touching the filesystem.
func (r *Request) Validate() error {
	switch r.Pipeline {
	case core.PipelineDemToTop:
		if r.Input == "" {
			return core.ConfigErrorf("input", "a DEM raster is required")
		}
		if r.Output == "" {
			return core.ConfigErrorf("output", "a .TOP destination is required")
		}
	case core.PipelineResToNetCDF:
		if r.Input == "" {
			return core.ConfigErrorf("input", "a .QGIS_res file is required")
		}
		if r.Output == "" {
			return core.ConfigErrorf("output", "a netCDF destination is required")
		}
	case core.PipelineSPHModel:
		return r.validateModel()
	default:
		return core.ConfigErrorf("pipeline", "unknown pipeline %q", r.Pipeline)
	}
	return nil
}

func (r *Request) validateModel() error {
	if r.Problem == "" {
		return core.ConfigErrorf("problem", "problem name is required")
	}
	if strings.ContainsAny(r.Problem, `/\`) {
		return core.ConfigErrorf("problem", "problem name %q must be a bare file stem", r.Problem)
	}
	mode, err := core.ParseMode(string(r.Mode))
	if err != nil {
		return err
	}
	if (r.DEM == "") == (r.Top == "") {
		return core.ConfigErrorf("top", "exactly one of dem or top is required")
	}
	if r.Top != "" && !strings.EqualFold(filepath.Ext(r.Top), ".top") {
		return core.ConfigErrorf("top", "%s is not a .TOP file", r.Top)
	}
	if r.OutputDir == "" {
		return core.ConfigErrorf("output_dir", "an output directory is required")
	}
	if r.Timeout < 0 {
		return core.ConfigErrorf("timeout", "must not be negative")
	}
	switch mode {
	case core.ModeSimple:
		if len(r.Params) > 0 {
			return core.ConfigErrorf("params", "parameters are only accepted in advanced mode")
		}
		if (r.MasterDAT == "") != (r.DataDAT == "") {
			return core.ConfigErrorf("master_dat", "master and data .DAT files must be given together")
		}
		if r.MasterDAT != "" && r.Preset != "" {
			return core.ConfigErrorf("preset", "a preset cannot be combined with supplied .DAT files")
		}
	case core.ModeAdvanced:
		if r.Preset != "" || r.MasterDAT != "" || r.DataDAT != "" {
			return core.ConfigErrorf("mode", "advanced mode takes parameters, not presets or .DAT files")
		}
	}
	return nil
}

// mode returns the parsed mode for sph_model requests and "" otherwise.
func (r *Request) mode() core.Mode {
	if r.Pipeline != core.PipelineSPHModel {
		return ""
	}
	m, _ := core.ParseMode(string(r.Mode))
	return m
}
