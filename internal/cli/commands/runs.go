package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/landslide-lab/sphbox/internal/cli/output"
	"github.com/landslide-lab/sphbox/pkg/core"
)

// TransitionOutput is the JSON form of a ledger transition.
type TransitionOutput struct {
	From core.RunState `json:"from"`
	To   core.RunState `json:"to"`
	At   time.Time     `json:"at"`
}

// NewRunsCommand creates the runs command.
func NewRunsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect the run ledger",
		Long: `Inspect the run ledger. Every pipeline run is recorded with its state
transitions, its outcome and the files it produced.`,
	}

	cmd.AddCommand(newRunsListCommand())
	cmd.AddCommand(newRunsShowCommand())
	return cmd
}

func newRunsListCommand() *cobra.Command {
	var (
		pipeline string
		stateArg string
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded runs, newest first",
		Example: `  sphbox runs list
  sphbox runs list --pipeline sph_model --status failed
  sphbox runs list -o json --limit 5`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := core.RunFilter{Limit: limit, State: core.RunState(stateArg)}
			if pipeline != "" {
				p, err := core.ParsePipeline(pipeline)
				if err != nil {
					return err
				}
				filter.Pipeline = p
			}
			if limit < 0 {
				return core.ConfigErrorf("limit", "must not be negative")
			}

			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			runs, err := cmdCtx.Engine.Store().ListRuns(cmd.Context(), filter)
			if err != nil {
				return err
			}

			r := cmdCtx.Renderer
			if r.EffectiveMode() == output.ModeJSON {
				out := make([]RunOutput, 0, len(runs))
				for _, run := range runs {
					out = append(out, toRunOutput(run))
				}
				return r.JSON(out)
			}

			if len(runs) == 0 {
				r.Muted("No runs recorded.")
				return nil
			}
			rows := make([][]string, 0, len(runs))
			for _, run := range runs {
				rows = append(rows, []string{
					run.ID,
					string(run.Pipeline),
					run.Label,
					string(run.State),
					run.StartedAt.Local().Format(time.DateTime),
					run.Duration().Round(time.Millisecond).String(),
				})
			}
			r.Table([]string{"ID", "Pipeline", "Label", "State", "Started", "Duration"}, rows)
			return nil
		},
	}

	cmd.Flags().StringVar(&pipeline, "pipeline", "", "only runs of this pipeline")
	cmd.Flags().StringVar(&stateArg, "status", "", "only runs in this state")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum runs to show (0 for all)")
	return cmd
}

func newRunsShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one run and its state transitions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			store := cmdCtx.Engine.Store()
			run, err := store.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			transitions, err := store.GetTransitions(cmd.Context(), run.ID)
			if err != nil {
				return err
			}

			r := cmdCtx.Renderer
			if r.EffectiveMode() == output.ModeJSON {
				out := struct {
					RunOutput
					Transitions []TransitionOutput `json:"transitions"`
				}{RunOutput: toRunOutput(run)}
				for _, t := range transitions {
					out.Transitions = append(out.Transitions, TransitionOutput{From: t.From, To: t.To, At: t.At})
				}
				return r.JSON(out)
			}

			r.Header(1, fmt.Sprintf("Run %s", run.ID))
			r.Println(formatField(r.EffectiveMode(), "Pipeline", string(run.Pipeline)))
			if run.Mode != "" {
				r.Println(formatField(r.EffectiveMode(), "Mode", string(run.Mode)))
			}
			if run.Label != "" {
				r.Println(formatField(r.EffectiveMode(), "Label", run.Label))
			}
			r.Println(formatField(r.EffectiveMode(), "State", string(run.State)))
			r.Println(formatField(r.EffectiveMode(), "Duration", run.Duration().Round(time.Millisecond).String()))
			if run.Error != "" {
				r.Println(formatField(r.EffectiveMode(), "Error", fmt.Sprintf("[%s] %s", run.ErrorKind, run.Error)))
			}
			r.Println("")

			if len(run.Outputs) > 0 {
				r.Header(2, "Outputs")
				for _, o := range run.Outputs {
					r.Println("  " + o)
				}
				r.Println("")
			}

			r.Header(2, "Transitions")
			rows := make([][]string, 0, len(transitions))
			for _, t := range transitions {
				rows = append(rows, []string{t.At.Local().Format(time.DateTime), string(t.From), string(t.To)})
			}
			r.Table([]string{"At", "From", "To"}, rows)
			return nil
		},
	}
}

func formatField(mode output.Mode, key, value string) string {
	if mode == output.ModeMarkdown {
		return output.FormatKeyValue(key, value)
	}
	return fmt.Sprintf("  %-9s %s", key+":", value)
}
