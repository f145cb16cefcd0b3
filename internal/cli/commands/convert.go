package commands

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/landslide-lab/sphbox/internal/cli/output"
	"github.com/landslide-lab/sphbox/internal/codec"
	"github.com/landslide-lab/sphbox/internal/raster"
)

// replaceExt swaps the extension of path for ext.
func replaceExt(path, ext string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ext
}

// NewDemToTopCommand creates the dem2top command.
func NewDemToTopCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "dem2top <dem> [top]",
		Short: "Convert a DEM raster to a solver .TOP file",
		Long: `Convert an ESRI ASCII (.asc), binary float (.flt/.hdr) or GeoTIFF (.tif)
DEM into the solver's .TOP format. Nodata cells are omitted. GeoTIFF needs a
build with -tags gdal.

The run is recorded in the ledger as a dem_to_top pipeline.`,
		Example: `  # Writes slope.TOP next to the DEM
  sphbox dem2top slope.asc

  # Explicit destination
  sphbox dem2top dems/slope.flt inputs/slope.TOP`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dest := replaceExt(args[0], ".TOP")
			if len(args) > 1 {
				dest = args[1]
			}

			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, stop := signalContext(cmd)
			defer stop()

			run, runErr := cmdCtx.Engine.DemToTop(ctx, args[0], dest)
			return reportRun(cmdCtx.Renderer, run, runErr)
		},
	}
}

// NewResToNetCDFCommand creates the res2netcdf command.
func NewResToNetCDFCommand() *cobra.Command {
	var dem string

	cmd := &cobra.Command{
		Use:   "res2netcdf <result> [netcdf]",
		Short: "Convert a .QGIS_res solver result to netCDF",
		Long: `Convert a .QGIS_res result into a CF-style netCDF file with x, y and time
dimensions and one variable per result field.

With --dem the grid is georeferenced from the DEM the model was built on;
its dimensions must match the result.`,
		Example: `  sphbox res2netcdf results/slope.QGIS_res
  sphbox res2netcdf results/slope.QGIS_res out/slope.nc --dem slope.asc`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dest := replaceExt(args[0], ".nc")
			if len(args) > 1 {
				dest = args[1]
			}

			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, stop := signalContext(cmd)
			defer stop()

			run, runErr := cmdCtx.Engine.ResToNetCDF(ctx, args[0], dem, dest)
			return reportRun(cmdCtx.Renderer, run, runErr)
		},
	}

	cmd.Flags().StringVar(&dem, "dem", "", "DEM the result was computed on, for georeferencing")
	return cmd
}

// NewTopToDemCommand creates the top2dem command.
func NewTopToDemCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "top2dem <top> <dem>",
		Short: "Rebuild a DEM raster from a .TOP file",
		Long: `Rebuild a raster from a .TOP file. The output format follows the
destination extension (.asc, .flt or .tif). Cells missing from the .TOP file
become nodata.`,
		Example: `  sphbox top2dem slope.TOP slope.asc`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx := NewCommandContextWithoutEngine(cmd)

			g, err := codec.DecodeTop(args[0])
			if err != nil {
				return err
			}
			if err := raster.Write(g, args[1]); err != nil {
				return err
			}
			cmdCtx.Logger.Info("rebuilt DEM", "top", args[0], "dem", args[1])

			return renderConversion(cmdCtx.Renderer, args[1], map[string]any{
				"source": args[0],
				"output": args[1],
				"width":  g.Width,
				"height": g.Height,
			}, fmt.Sprintf("%dx%d cells", g.Width, g.Height))
		},
	}
}

// NewPointsToPtsCommand creates the points2pts command.
func NewPointsToPtsCommand() *cobra.Command {
	var heightCol string

	cmd := &cobra.Command{
		Use:   "points2pts <points> <pts>",
		Short: "Convert release points to a solver .PTS file",
		Long: `Convert release points to the solver's .PTS format.

CSV input needs a header with x and y columns; the height column is chosen
with --height-col. Any other input is read as whitespace-separated
"x y h" lines.`,
		Example: `  sphbox points2pts release.csv slope.PTS --height-col depth`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx := NewCommandContextWithoutEngine(cmd)

			var (
				points []codec.Point
				err    error
			)
			if strings.EqualFold(filepath.Ext(args[0]), ".csv") {
				points, err = codec.ReadPointsCSV(args[0], heightCol)
			} else {
				points, err = codec.ReadPoints(args[0])
			}
			if err != nil {
				return err
			}
			if err := codec.WritePoints(args[1], points); err != nil {
				return err
			}

			return renderConversion(cmdCtx.Renderer, args[1], map[string]any{
				"source": args[0],
				"output": args[1],
				"points": len(points),
			}, fmt.Sprintf("%d points", len(points)))
		},
	}

	cmd.Flags().StringVar(&heightCol, "height-col", "h", "CSV column holding the release height")
	return cmd
}

func renderConversion(r *output.Renderer, dest string, fields map[string]any, detail string) error {
	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(fields)
	}
	r.StatusLine(dest, "success", detail)
	return nil
}
