package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/landslide-lab/sphbox/internal/cli/output"
	"github.com/landslide-lab/sphbox/internal/engine"
	"github.com/landslide-lab/sphbox/internal/jobfile"
	"github.com/landslide-lab/sphbox/pkg/core"
)

// BatchOutput is the JSON form of a batch.
type BatchOutput struct {
	File    string          `json:"file"`
	Workers int             `json:"workers"`
	Runs    []BatchRunEntry `json:"runs"`
	Failed  int             `json:"failed"`
}

// BatchRunEntry is one request of a batch in JSON output.
type BatchRunEntry struct {
	Label    string         `json:"label"`
	Pipeline core.Pipeline  `json:"pipeline"`
	Run      *RunOutput     `json:"run,omitempty"`
	Error    string         `json:"error,omitempty"`
	Kind     core.ErrorKind `json:"error_kind,omitempty"`
}

// NewBatchCommand creates the batch command.
func NewBatchCommand() *cobra.Command {
	var (
		workers int
		dryRun  bool
	)

	cmd := &cobra.Command{
		Use:   "batch <jobs.hcl>",
		Short: "Run every job in an HCL job file",
		Long: `Run every run block of a job file concurrently. Each run is recorded in
the ledger independently; one failing run does not stop the others.

Concurrency comes from --workers, then the file's workers attribute, then
the workers setting in sphbox.yaml.`,
		Example: `  sphbox batch jobs.hcl
  sphbox batch jobs.hcl --workers 2
  sphbox batch jobs.hcl --dry-run`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := jobfile.Load(args[0])
			if err != nil {
				return err
			}

			if dryRun {
				r := NewCommandContextWithoutEngine(cmd).Renderer
				return renderPlan(r, file)
			}

			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			n := workers
			if n <= 0 {
				n = file.Workers
			}
			if n <= 0 {
				n = cmdCtx.Cfg.Workers
			}

			ctx, stop := signalContext(cmd)
			defer stop()

			results := cmdCtx.Engine.Batch(ctx, file.Runs, n)
			cmdCtx.View.finish()

			if err := renderBatch(cmdCtx.Renderer, file, n, results); err != nil {
				return err
			}
			return batchError(results)
		},
	}

	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "concurrent runs (default: job file, then config)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "parse and validate the job file without running it")
	return cmd
}

func renderPlan(r *output.Renderer, file *jobfile.File) error {
	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(file)
	}

	r.Header(1, fmt.Sprintf("Plan: %s", file.Path))
	rows := make([][]string, 0, len(file.Runs))
	for _, req := range file.Runs {
		target := req.Output
		if req.Pipeline == core.PipelineSPHModel {
			target = req.OutputDir
		}
		rows = append(rows, []string{req.Label, string(req.Pipeline), string(req.Mode), target})
	}
	r.Table([]string{"Run", "Pipeline", "Mode", "Output"}, rows)
	return nil
}

func renderBatch(r *output.Renderer, file *jobfile.File, workers int, results []engine.BatchResult) error {
	failed := engine.Failed(results)

	if r.EffectiveMode() == output.ModeJSON {
		out := BatchOutput{File: file.Path, Workers: workers, Failed: len(failed)}
		for _, res := range results {
			entry := BatchRunEntry{Label: res.Request.Label, Pipeline: res.Request.Pipeline}
			if res.Run != nil {
				ro := toRunOutput(res.Run)
				entry.Run = &ro
			}
			if res.Err != nil {
				entry.Error = res.Err.Error()
				entry.Kind = core.KindOf(res.Err)
			}
			out.Runs = append(out.Runs, entry)
		}
		return r.JSON(out)
	}

	rows := make([][]string, 0, len(results))
	for _, res := range results {
		id, state, took := "-", "not started", "-"
		if res.Run != nil {
			id = res.Run.ID
			state = string(res.Run.State)
			took = res.Run.Duration().Round(time.Millisecond).String()
		}
		errText := ""
		if res.Err != nil {
			errText = string(core.KindOf(res.Err))
		}
		rows = append(rows, []string{res.Request.Label, string(res.Request.Pipeline), id, state, took, errText})
	}
	r.Table([]string{"Run", "Pipeline", "ID", "State", "Duration", "Error"}, rows)
	r.Println("")

	for _, res := range failed {
		r.StatusLine(res.Request.Label, "failed", res.Err.Error())
	}
	if len(failed) == 0 {
		r.Success(fmt.Sprintf("%d runs completed", len(results)))
	} else {
		r.Warning(fmt.Sprintf("%d of %d runs failed", len(failed), len(results)))
	}
	return nil
}

// batchError returns the first failure so the exit code reflects its kind.
func batchError(results []engine.BatchResult) error {
	failed := engine.Failed(results)
	if len(failed) == 0 {
		return nil
	}
	first := failed[0]
	if len(failed) == 1 {
		return fmt.Errorf("run %s: %w", first.Request.Label, first.Err)
	}
	return fmt.Errorf("%d runs failed, first %s: %w", len(failed), first.Request.Label, first.Err)
}
