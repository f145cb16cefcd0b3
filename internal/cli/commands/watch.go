package commands

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/landslide-lab/sphbox/internal/raster"
	"github.com/landslide-lab/sphbox/internal/watch"
	"github.com/landslide-lab/sphbox/pkg/core"
)

// NewWatchCommand creates the watch command.
func NewWatchCommand() *cobra.Command {
	var (
		outDir    string
		dem       string
		recursive bool
		debounce  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch [dir...]",
		Short: "Convert DEMs and solver results as they appear",
		Long: `Watch directories and convert files as they are written:

  .asc, .flt    converted to .TOP (dem_to_top); .tif too in gdal builds
  .QGIS_res     converted to netCDF (res_to_netcdf)

Outputs are written next to the source unless --out-dir is given. Each
conversion is recorded in the ledger. Failures are reported and watching
continues. Stop with Ctrl+C.`,
		Example: `  sphbox watch dems results
  sphbox watch . --recursive --out-dir converted --dem dems/north.asc`,
		RunE: func(cmd *cobra.Command, args []string) error {
			dirs := args
			if len(dirs) == 0 {
				dirs = []string{"."}
			}
			if outDir != "" {
				if err := os.MkdirAll(outDir, 0o750); err != nil {
					return err
				}
			}

			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, stop := signalContext(cmd)
			defer stop()

			eng := cmdCtx.Engine
			r := cmdCtx.Renderer
			dest := func(src, ext string) string {
				out := replaceExt(src, ext)
				if outDir != "" {
					out = filepath.Join(outDir, filepath.Base(out))
				}
				return out
			}

			w := watch.New(watch.Config{
				Dirs:      dirs,
				Recursive: recursive,
				Debounce:  debounce,
				Logger:    cmdCtx.Logger,
				Rules: []watch.Rule{
					{
						Exts: raster.Extensions(),
						Handler: func(ctx context.Context, path string) {
							run, err := eng.DemToTop(ctx, path, dest(path, ".TOP"))
							reportWatched(cmdCtx, run, err)
						},
					},
					{
						Exts: []string{".QGIS_res"},
						Handler: func(ctx context.Context, path string) {
							run, err := eng.ResToNetCDF(ctx, path, dem, dest(path, ".nc"))
							reportWatched(cmdCtx, run, err)
						},
					},
				},
			})

			r.Muted("Watching " + strings.Join(dirs, ", ") + " (Ctrl+C to stop)")
			return w.Run(ctx, nil)
		},
	}

	cmd.Flags().StringVar(&outDir, "out-dir", "", "directory for converted files (default: next to the source)")
	cmd.Flags().StringVar(&dem, "dem", "", "DEM used to georeference converted results")
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "also watch subdirectories")
	cmd.Flags().DurationVar(&debounce, "debounce", watch.DefaultDebounce, "quiet period before a changed file is converted")
	return cmd
}

// reportWatched prints a conversion outcome without stopping the watch.
func reportWatched(cmdCtx *CommandContext, run *core.Run, err error) {
	cmdCtx.View.mu.Lock()
	defer cmdCtx.View.mu.Unlock()
	if err := reportRun(cmdCtx.Renderer, run, err); err != nil {
		cmdCtx.Renderer.Error(err.Error())
	}
}
