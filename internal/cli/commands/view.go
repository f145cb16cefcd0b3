package commands

import (
	"fmt"
	"sync"
	"time"

	"github.com/landslide-lab/sphbox/internal/cli/output"
	"github.com/landslide-lab/sphbox/internal/engine"
	"github.com/landslide-lab/sphbox/pkg/core"
)

// runView turns engine events into terminal output: a progress bar per
// solver run and, when verbose, every state change and solver line.
type runView struct {
	r       *output.Renderer
	verbose bool

	mu   sync.Mutex
	bars map[string]*output.Progress
}

func newRunView(r *output.Renderer, verbose bool) *runView {
	return &runView{r: r, verbose: verbose, bars: make(map[string]*output.Progress)}
}

func (v *runView) observe(ev engine.Event) {
	v.mu.Lock()
	defer v.mu.Unlock()

	switch ev.Kind {
	case engine.EventOutput:
		if ev.Line.Progress >= 0 {
			v.bar(ev).Update(ev.Line.Progress)
		}
		if v.verbose {
			_, _ = fmt.Fprintln(v.r.ErrWriter(), ev.Line.String())
		}
	case engine.EventState:
		if ev.State.Terminal() {
			if bar, ok := v.bars[ev.RunID]; ok {
				bar.Done()
				delete(v.bars, ev.RunID)
			}
		}
		if v.verbose {
			line := fmt.Sprintf("%s %s", runName(ev.RunID, ev.Label, ev.Pipeline), ev.State)
			if ev.Err != nil {
				line += ": " + ev.Err.Error()
			}
			_, _ = fmt.Fprintln(v.r.ErrWriter(), line)
		}
	}
}

func (v *runView) bar(ev engine.Event) *output.Progress {
	bar, ok := v.bars[ev.RunID]
	if !ok {
		bar = v.r.NewProgress(runName(ev.RunID, ev.Label, ev.Pipeline))
		v.bars[ev.RunID] = bar
	}
	return bar
}

// finish closes any bar left open.
func (v *runView) finish() {
	v.mu.Lock()
	defer v.mu.Unlock()
	for id, bar := range v.bars {
		bar.Done()
		delete(v.bars, id)
	}
}

func runName(id, label string, pipeline core.Pipeline) string {
	if label != "" {
		return label
	}
	if len(id) > 8 {
		id = id[:8]
	}
	return string(pipeline) + " " + id
}

// RunOutput is the JSON form of a run.
type RunOutput struct {
	ID          string         `json:"id"`
	Pipeline    core.Pipeline  `json:"pipeline"`
	Mode        core.Mode      `json:"mode,omitempty"`
	Label       string         `json:"label,omitempty"`
	State       core.RunState  `json:"state"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	DurationMS  int64          `json:"duration_ms"`
	Error       string         `json:"error,omitempty"`
	ErrorKind   core.ErrorKind `json:"error_kind,omitempty"`
	Outputs     []string       `json:"outputs,omitempty"`
}

func toRunOutput(run *core.Run) RunOutput {
	return RunOutput{
		ID:          run.ID,
		Pipeline:    run.Pipeline,
		Mode:        run.Mode,
		Label:       run.Label,
		State:       run.State,
		StartedAt:   run.StartedAt,
		CompletedAt: run.CompletedAt,
		DurationMS:  run.Duration().Milliseconds(),
		Error:       run.Error,
		ErrorKind:   run.ErrorKind,
		Outputs:     run.Outputs,
	}
}

// reportRun renders the outcome of a single run and passes runErr through.
func reportRun(r *output.Renderer, run *core.Run, runErr error) error {
	if run == nil {
		return runErr
	}

	if r.EffectiveMode() == output.ModeJSON {
		if err := r.JSON(toRunOutput(run)); err != nil {
			return err
		}
		return runErr
	}

	status := "success"
	if run.State == core.StateFailed {
		status = "failed"
	}
	detail := fmt.Sprintf("run %s, %s", run.ID, run.Duration().Round(time.Millisecond))
	r.StatusLine(runName(run.ID, run.Label, run.Pipeline), status, detail)
	for _, out := range run.Outputs {
		r.Println("  " + out)
	}
	return runErr
}
