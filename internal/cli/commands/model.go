package commands

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/landslide-lab/sphbox/internal/engine"
	"github.com/landslide-lab/sphbox/internal/params"
	"github.com/landslide-lab/sphbox/pkg/core"
)

// modelFlags are shared by both model subcommands.
type modelFlags struct {
	dem       string
	top       string
	points    string
	outputDir string
	netcdf    string
	label     string
	timeout   time.Duration
}

func (f *modelFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVar(&f.dem, "dem", "", "DEM raster to convert to the problem's .TOP file")
	flags.StringVar(&f.top, "top", "", "existing .TOP file (instead of --dem)")
	flags.StringVar(&f.points, "points", "", "release points (.PTS, or whitespace x y h)")
	flags.StringVarP(&f.outputDir, "output-dir", "d", "", "directory for the solver results (required)")
	flags.StringVar(&f.netcdf, "netcdf", "", "also convert the result to this netCDF file")
	flags.StringVar(&f.label, "label", "", "label recorded with the run")
	flags.DurationVar(&f.timeout, "run-timeout", 0, "kill the solver after this long (default: solver.timeout)")
	cmd.MarkFlagsMutuallyExclusive("dem", "top")
	_ = cmd.MarkFlagRequired("output-dir")
}

func (f *modelFlags) request(problem string, mode core.Mode) engine.Request {
	return engine.Request{
		Pipeline:  core.PipelineSPHModel,
		Label:     f.label,
		Problem:   problem,
		Mode:      mode,
		DEM:       f.dem,
		Top:       f.top,
		Points:    f.points,
		OutputDir: f.outputDir,
		NetCDF:    f.netcdf,
		Timeout:   f.timeout,
	}
}

// NewModelCommand creates the model command.
func NewModelCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "model",
		Short: "Run the SPH solver on a problem",
		Long: `Stage a problem's inputs, run the SPH solver and collect its results.

Simple mode takes a named parameter preset or a ready-made pair of .DAT
files. Advanced mode takes individual parameters, each checked against the
allow-list shown by 'sphbox params'.`,
	}

	cmd.AddCommand(newModelSimpleCommand())
	cmd.AddCommand(newModelAdvancedCommand())
	return cmd
}

func newModelSimpleCommand() *cobra.Command {
	var (
		f         modelFlags
		preset    string
		masterDAT string
		dataDAT   string
	)

	cmd := &cobra.Command{
		Use:   "simple <problem>",
		Short: "Run the solver with a preset or supplied .DAT files",
		Example: `  # Default preset
  sphbox model simple north --dem north.asc --points release.pts -d results/north

  # Named preset, also writing netCDF
  sphbox model simple north --top north.TOP --preset debris_flow -d results/north --netcdf north.nc

  # Hand-written parameter files
  sphbox model simple north --top north.TOP --master-dat north.MASTER.DAT --data-dat north.DAT -d out`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := f.request(args[0], core.ModeSimple)
			req.Preset = preset
			req.MasterDAT = masterDAT
			req.DataDAT = dataDAT
			return runModel(cmd, req)
		},
	}

	f.register(cmd)
	cmd.Flags().StringVar(&preset, "preset", "", "parameter preset (default: default)")
	cmd.Flags().StringVar(&masterDAT, "master-dat", "", "master .DAT file to use as-is")
	cmd.Flags().StringVar(&dataDAT, "data-dat", "", "data .DAT file to use as-is")
	cmd.MarkFlagsRequiredTogether("master-dat", "data-dat")
	cmd.MarkFlagsMutuallyExclusive("preset", "master-dat")
	return cmd
}

func newModelAdvancedCommand() *cobra.Command {
	var (
		f          modelFlags
		assigns     []string
		paramsFiles []string
	)

	cmd := &cobra.Command{
		Use:   "advanced <problem>",
		Short: "Run the solver with individual parameters",
		Long: `Run the solver with individual parameters. Parameters not given take
their allow-list default. --params-file takes a YAML mapping or a .DAT
file such as those sphbox writes, and may be repeated. --param values
override those read from files.`,
		Example: `  sphbox model advanced north --dem north.asc -d results/north \
    --param dt=0.05 --param time_end=200

  # Reuse the parameters of existing DAT files
  sphbox model advanced north --top north.TOP -d out2 \
    --params-file north.MASTER.DAT --params-file north.DAT

  sphbox model advanced north --top north.TOP -d out --params-file mud.yaml --param dens=1900`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := core.Params{}
			for _, path := range paramsFiles {
				fromFile, err := params.LoadFile(path)
				if err != nil {
					return err
				}
				for k, v := range fromFile {
					p[k] = v
				}
			}
			overrides, err := params.ParseAssignments(assigns)
			if err != nil {
				return err
			}
			for k, v := range overrides {
				p[k] = v
			}

			req := f.request(args[0], core.ModeAdvanced)
			req.Params = p
			return runModel(cmd, req)
		},
	}

	f.register(cmd)
	cmd.Flags().StringArrayVarP(&assigns, "param", "p", nil, "parameter as key=value (repeatable)")
	cmd.Flags().StringArrayVar(&paramsFiles, "params-file", nil, "YAML or .DAT file of parameters (repeatable)")
	return cmd
}

func runModel(cmd *cobra.Command, req engine.Request) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signalContext(cmd)
	defer stop()

	run, runErr := cmdCtx.Engine.SPHModel(ctx, req)
	return reportRun(cmdCtx.Renderer, run, runErr)
}
