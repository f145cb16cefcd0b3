package codec

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/batchatco/go-native-netcdf/netcdf/api"
	"github.com/batchatco/go-native-netcdf/netcdf/cdf"
	"github.com/batchatco/go-native-netcdf/netcdf/util"

	"github.com/landslide-lab/sphbox/pkg/core"
)

// NetCDF dimension names.
const (
	DimTime = "time"
	DimY    = "y"
	DimX    = "x"
)

// EncodeNetCDF writes res to dest as a classic netCDF file with one
// (time, y, x) variable per result field plus time/y/x coordinate variables.
//
// meta supplies the georeference of the originating DEM. A zero meta keeps
// the georeference stored in res; otherwise its shape must match res.
func EncodeNetCDF(res *ResFile, meta core.GridMeta, dest string) error {
	if err := res.Validate(); err != nil {
		return &core.FormatError{Path: dest, Reason: err.Error()}
	}
	if len(res.Steps) == 0 {
		return &core.FormatError{Path: dest, Reason: "result has no time steps"}
	}
	for _, name := range res.Fields {
		if name == DimTime || name == DimX || name == DimY {
			return &core.FormatError{Path: dest, Reason: fmt.Sprintf("field %q collides with a coordinate variable", name)}
		}
	}
	grid, err := exportMeta(res.Meta, meta)
	if err != nil {
		return &core.FormatError{Path: dest, Reason: err.Error()}
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".*.tmp")
	if err != nil {
		return &core.IOError{Op: "create", Path: dest, Err: err}
	}
	tmpName := tmp.Name()
	_ = tmp.Close()

	if err := writeNetCDF(tmpName, res, grid); err != nil {
		_ = os.Remove(tmpName)
		return &core.IOError{Op: "write", Path: dest, Err: err}
	}
	if err := os.Rename(tmpName, dest); err != nil {
		_ = os.Remove(tmpName)
		return &core.IOError{Op: "rename", Path: dest, Err: err}
	}
	return nil
}

func exportMeta(stored, supplied core.GridMeta) (core.GridMeta, error) {
	if supplied == (core.GridMeta{}) {
		return stored, nil
	}
	if supplied.Width != stored.Width || supplied.Height != stored.Height {
		return core.GridMeta{}, fmt.Errorf("grid metadata is %dx%d but result is %dx%d",
			supplied.Width, supplied.Height, stored.Width, stored.Height)
	}
	if !(supplied.CellSize > 0) {
		supplied.CellSize = stored.CellSize
	}
	return supplied, nil
}

func writeNetCDF(path string, res *ResFile, meta core.GridMeta) (err error) {
	cw, err := cdf.OpenWriter(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := cw.Close(); err == nil {
			err = cerr
		}
	}()

	global, err := util.NewOrderedMap(
		[]string{"Conventions", "title", "cell_size", "nodata"},
		map[string]any{
			"Conventions": "CF-1.6",
			"title":       "SPH landslide simulation result",
			"cell_size":   meta.CellSize,
			"nodata":      meta.NoData,
		})
	if err != nil {
		return err
	}
	if err := cw.AddGlobalAttrs(global); err != nil {
		return err
	}

	xs := make([]float64, meta.Width)
	for col := range xs {
		xs[col] = meta.OriginX + (float64(col)+0.5)*meta.CellSize
	}
	ys := make([]float64, meta.Height)
	for row := range ys {
		ys[row] = meta.OriginY + (float64(meta.Height-row)-0.5)*meta.CellSize
	}

	coords := []struct {
		name   string
		values []float64
		long   string
		units  string
	}{
		{DimTime, res.Times(), "simulation time", "s"},
		{DimY, ys, "y coordinate of cell centre", "m"},
		{DimX, xs, "x coordinate of cell centre", "m"},
	}
	for _, c := range coords {
		attrs, err := util.NewOrderedMap(
			[]string{"long_name", "units"},
			map[string]any{"long_name": c.long, "units": c.units})
		if err != nil {
			return err
		}
		if err := cw.AddVar(c.name, api.Variable{
			Values:     c.values,
			Dimensions: []string{c.name},
			Attributes: attrs,
		}); err != nil {
			return fmt.Errorf("add %s: %w", c.name, err)
		}
	}

	for fi, name := range res.Fields {
		data := make([][][]float32, len(res.Steps))
		for t, step := range res.Steps {
			data[t] = make([][]float32, meta.Height)
			for row := 0; row < meta.Height; row++ {
				data[t][row] = step.Values[fi][row*meta.Width : (row+1)*meta.Width]
			}
		}
		attrs, err := util.NewOrderedMap(
			[]string{"long_name", "missing_value"},
			map[string]any{"long_name": name, "missing_value": float32(meta.NoData)})
		if err != nil {
			return err
		}
		if err := cw.AddVar(name, api.Variable{
			Values:     data,
			Dimensions: []string{DimTime, DimY, DimX},
			Attributes: attrs,
		}); err != nil {
			return fmt.Errorf("add %s: %w", name, err)
		}
	}
	return nil
}
