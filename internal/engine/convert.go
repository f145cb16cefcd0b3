package engine

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/landslide-lab/sphbox/internal/codec"
	"github.com/landslide-lab/sphbox/internal/raster"
	"github.com/landslide-lab/sphbox/pkg/core"
)

// DemToTop converts a DEM raster into the solver's .TOP format.
func (e *Engine) DemToTop(ctx context.Context, input, output string) (*core.Run, error) {
	return e.Run(ctx, Request{Pipeline: core.PipelineDemToTop, Input: input, Output: output})
}

// ResToNetCDF converts a .QGIS_res result into netCDF. dem, when set,
// supplies the georeference of the originating grid.
func (e *Engine) ResToNetCDF(ctx context.Context, input, dem, output string) (*core.Run, error) {
	return e.Run(ctx, Request{Pipeline: core.PipelineResToNetCDF, Input: input, DEM: dem, Output: output})
}

func (rc *runCtx) demToTop(ctx context.Context) error {
	if err := rc.advance(ctx, core.StateConvertingInputs); err != nil {
		return err
	}
	grid, err := raster.Read(rc.req.Input)
	if err != nil {
		return err
	}
	rc.e.cache.remember(rc.req.Input, grid.Meta())
	rc.log.Debug("read raster",
		slog.Int("width", grid.Width),
		slog.Int("height", grid.Height),
		slog.Float64("cell_size", grid.CellSize))

	if err := rc.advance(ctx, core.StateConvertingOutputs); err != nil {
		return err
	}
	if err := rc.mkdirAll(filepath.Dir(rc.req.Output)); err != nil {
		return err
	}
	return rc.writeOutput(rc.req.Output, func() error {
		return codec.EncodeTop(grid, rc.req.Output)
	})
}

func (rc *runCtx) resToNetCDF(ctx context.Context) error {
	if err := rc.advance(ctx, core.StateConvertingInputs); err != nil {
		return err
	}
	res, err := codec.DecodeRes(rc.req.Input)
	if err != nil {
		return err
	}
	var meta core.GridMeta
	if rc.req.DEM != "" {
		if meta, err = rc.e.cache.get(rc.req.DEM); err != nil {
			return err
		}
	}
	rc.log.Debug("read result",
		slog.Int("fields", len(res.Fields)),
		slog.Int("steps", len(res.Steps)))

	if err := rc.advance(ctx, core.StateConvertingOutputs); err != nil {
		return err
	}
	if err := rc.mkdirAll(filepath.Dir(rc.req.Output)); err != nil {
		return err
	}
	return rc.writeOutput(rc.req.Output, func() error {
		return codec.EncodeNetCDF(res, meta, rc.req.Output)
	})
}
