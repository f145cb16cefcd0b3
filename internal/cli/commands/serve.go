package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/landslide-lab/sphbox/internal/raster"
	"github.com/landslide-lab/sphbox/internal/server"
	"github.com/landslide-lab/sphbox/internal/watch"
)

// ServeOptions holds options for the serve command.
type ServeOptions struct {
	Watch []string
}

// NewServeCommand creates the serve command.
func NewServeCommand() *cobra.Command {
	opts := &ServeOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the pipeline API over HTTP",
		Long: `Start an HTTP server exposing the pipelines and the run ledger:

  GET  /healthz
  POST /v1/pipelines/{dem_to_top|res_to_netcdf|sph_model}
  GET  /v1/runs?pipeline=&state=&limit=
  GET  /v1/runs/{id}

Pipeline requests block until the run finishes and return the ledger
record. Paths in requests are resolved on the server.`,
		Example: `  # Serve on the configured address (default 127.0.0.1:8420)
  sphbox serve

  # Listen on every interface and convert files dropped into incoming/
  sphbox serve --addr 0.0.0.0:8420 --watch incoming`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, opts)
		},
	}

	cmd.Flags().String("addr", "", "listen address (default: server.addr)")
	cmd.Flags().StringArrayVar(&opts.Watch, "watch", nil, "also convert files written to this directory (repeatable)")

	return cmd
}

func runServe(cmd *cobra.Command, opts *ServeOptions) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	srv, err := server.New(server.Config{
		Engine: cmdCtx.Engine,
		Addr:   cmdCtx.Cfg.Server.Addr,
		Logger: cmdCtx.Logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	eg, egctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return srv.Serve(egctx)
	})

	if len(opts.Watch) > 0 {
		eng := cmdCtx.Engine
		w := watch.New(watch.Config{
			Dirs:   opts.Watch,
			Logger: cmdCtx.Logger,
			Rules: []watch.Rule{
				{
					Exts: raster.Extensions(),
					Handler: func(ctx context.Context, path string) {
						run, err := eng.DemToTop(ctx, path, replaceExt(path, ".TOP"))
						reportWatched(cmdCtx, run, err)
					},
				},
				{
					Exts: []string{".QGIS_res"},
					Handler: func(ctx context.Context, path string) {
						run, err := eng.ResToNetCDF(ctx, path, "", replaceExt(path, ".nc"))
						reportWatched(cmdCtx, run, err)
					},
				},
			},
		})
		eg.Go(func() error {
			return w.Run(egctx, nil)
		})
	}

	cmdCtx.Renderer.Success(fmt.Sprintf("Serving on http://%s", srv.Addr()))
	return eg.Wait()
}
