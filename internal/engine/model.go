package engine

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/landslide-lab/sphbox/internal/codec"
	"github.com/landslide-lab/sphbox/internal/params"
	"github.com/landslide-lab/sphbox/internal/raster"
	"github.com/landslide-lab/sphbox/pkg/core"
)

// SPHModel runs the solver on req, which must name the sph_model pipeline
// or leave it empty.
func (e *Engine) SPHModel(ctx context.Context, req Request) (*core.Run, error) {
	if req.Pipeline == "" {
		req.Pipeline = core.PipelineSPHModel
	}
	if req.Pipeline != core.PipelineSPHModel {
		return nil, core.ConfigErrorf("pipeline", "SPHModel cannot run pipeline %q", req.Pipeline)
	}
	return e.Run(ctx, req)
}

// Solver input file names within the working directory.
func topName(problem string) string    { return problem + ".TOP" }
func ptsName(problem string) string    { return problem + ".PTS" }
func masterName(problem string) string { return problem + ".MASTER.DAT" }
func dataName(problem string) string   { return problem + ".DAT" }

func (rc *runCtx) sphModel(ctx context.Context) error {
	req := rc.req
	mode := req.mode()

	if err := rc.advance(ctx, core.StateConvertingInputs); err != nil {
		return err
	}

	// Parameters and the executable are checked before anything is written.
	p, err := rc.modelParams(mode)
	if err != nil {
		return err
	}
	if _, err := rc.e.runner.Command(rc.e.executable); err != nil {
		return err
	}

	workDir, err := os.MkdirTemp(rc.e.workRoot, "sphbox-"+req.Problem+"-")
	if err != nil {
		return &core.IOError{Op: "mkdir", Path: rc.e.workRoot, Err: err}
	}
	log := rc.log.With(slog.String("work_dir", workDir))
	defer func() {
		if rc.e.keepWorkdir {
			log.Info("keeping working directory")
			return
		}
		if err := os.RemoveAll(workDir); err != nil {
			log.Warn("failed to remove working directory", slog.String("error", err.Error()))
		}
	}()

	inputs, err := rc.stageInputs(workDir, p)
	if err != nil {
		return err
	}

	if err := rc.advance(ctx, core.StateInvokingSolver); err != nil {
		return err
	}
	job := &core.Job{
		WorkDir:    workDir,
		Problem:    req.Problem,
		Inputs:     inputs,
		Mode:       mode,
		Params:     p,
		Executable: rc.e.executable,
	}
	timeout := req.Timeout
	if timeout == 0 {
		timeout = rc.e.timeout
	}
	res, err := rc.e.runner.Run(ctx, job, rc.onOutput, timeout)
	if err != nil {
		return err
	}
	log.Info("solver finished", slog.Duration("duration", res.Duration))

	if err := rc.advance(ctx, core.StateConvertingOutputs); err != nil {
		return err
	}
	return rc.collectOutputs(res)
}

// modelParams returns the solver parameters, or nil when the caller
// supplied DAT files.
func (rc *runCtx) modelParams(mode core.Mode) (core.Params, error) {
	req := rc.req
	switch {
	case mode == core.ModeAdvanced:
		return params.Resolve(req.Params)
	case req.MasterDAT != "":
		return nil, nil
	default:
		return rc.e.presets.Resolve(req.Preset)
	}
}

// stageInputs writes the solver inputs into workDir and returns their names.
func (rc *runCtx) stageInputs(workDir string, p core.Params) ([]string, error) {
	req := rc.req
	top := topName(req.Problem)
	if req.DEM != "" {
		grid, err := raster.Read(req.DEM)
		if err != nil {
			return nil, err
		}
		rc.e.cache.remember(req.DEM, grid.Meta())
		if err := codec.EncodeTop(grid, filepath.Join(workDir, top)); err != nil {
			return nil, err
		}
	} else {
		// Decoding rejects a malformed terrain before the solver sees it.
		if _, err := codec.DecodeTop(req.Top); err != nil {
			return nil, err
		}
		if err := codec.CopyFile(req.Top, filepath.Join(workDir, top)); err != nil {
			return nil, err
		}
	}
	inputs := []string{top}

	if req.Points != "" {
		if err := stagePoints(req.Points, filepath.Join(workDir, ptsName(req.Problem))); err != nil {
			return nil, err
		}
		inputs = append(inputs, ptsName(req.Problem))
	}

	master := filepath.Join(workDir, masterName(req.Problem))
	data := filepath.Join(workDir, dataName(req.Problem))
	if p == nil {
		if err := codec.CopyFile(req.MasterDAT, master); err != nil {
			return nil, err
		}
		if err := codec.CopyFile(req.DataDAT, data); err != nil {
			return nil, err
		}
	} else {
		if err := codec.WriteMasterFile(master, req.Problem, params.ForTarget(p, params.Master)); err != nil {
			return nil, err
		}
		if err := codec.WriteDataFile(data, req.Problem, params.ForTarget(p, params.Data)); err != nil {
			return nil, err
		}
	}
	return append(inputs, masterName(req.Problem), dataName(req.Problem)), nil
}

// stagePoints copies a .PTS file or converts a CSV point list into one.
func stagePoints(src, dst string) error {
	if !strings.EqualFold(filepath.Ext(src), ".csv") {
		if _, err := codec.ReadPoints(src); err != nil {
			return err
		}
		return codec.CopyFile(src, dst)
	}
	points, err := codec.ReadPointsCSV(src, "")
	if err != nil {
		return err
	}
	return codec.WritePoints(dst, points)
}

// collectOutputs copies the solver results into the output directory and
// converts them to netCDF when asked.
func (rc *runCtx) collectOutputs(res *core.Result) error {
	req := rc.req
	if err := rc.mkdirAll(req.OutputDir); err != nil {
		return err
	}
	for _, src := range append([]string{res.ResFile}, res.Auxiliary...) {
		dst := filepath.Join(req.OutputDir, filepath.Base(src))
		if err := rc.writeOutput(dst, func() error { return codec.CopyFile(src, dst) }); err != nil {
			return err
		}
	}
	if req.NetCDF == "" {
		return nil
	}

	decoded, err := codec.DecodeRes(res.ResFile)
	if err != nil {
		return err
	}
	var meta core.GridMeta
	if req.DEM != "" {
		if meta, err = rc.e.cache.get(req.DEM); err != nil {
			return err
		}
	}
	if err := rc.mkdirAll(filepath.Dir(req.NetCDF)); err != nil {
		return err
	}
	return rc.writeOutput(req.NetCDF, func() error {
		return codec.EncodeNetCDF(decoded, meta, req.NetCDF)
	})
}

func (rc *runCtx) onOutput(line core.OutputLine) {
	rc.log.Debug("solver output", slog.String("stream", string(line.Stream)), slog.String("text", line.Text))
	rc.e.notify(Event{
		Kind:     EventOutput,
		RunID:    rc.run.ID,
		Pipeline: rc.req.Pipeline,
		Label:    rc.req.Label,
		State:    rc.state,
		Line:     line,
	})
}
