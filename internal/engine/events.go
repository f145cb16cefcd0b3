package engine

import "github.com/landslide-lab/sphbox/pkg/core"

// EventKind distinguishes observer events.
type EventKind string

// Event kinds.
const (
	EventState  EventKind = "state"
	EventOutput EventKind = "output"
)

// Event is delivered to an Observer. State events carry the new state and,
// for failed, the error. Output events carry one solver line.
type Event struct {
	Kind     EventKind
	RunID    string
	Pipeline core.Pipeline
	Label    string
	State    core.RunState
	Err      error
	Line     core.OutputLine
}

// Observer receives run events. It is called synchronously from the
// goroutine executing the run, or from the solver's output streams, so it
// must not block and must be safe for concurrent use when runs are batched.
type Observer func(Event)

func (e *Engine) notify(ev Event) {
	if e.observer != nil {
		e.observer(ev)
	}
}
