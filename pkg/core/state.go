package core

import (
	"context"
	"time"
)

// Store defines the run ledger operations.
type Store interface {
	Close() error

	// Run operations
	CreateRun(ctx context.Context, run *Run) (*Run, error)
	TransitionRun(ctx context.Context, id string, to RunState) error
	CompleteRun(ctx context.Context, id string, state RunState, runErr error, outputs []string) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error)

	// Transition history
	GetTransitions(ctx context.Context, runID string) ([]*Transition, error)
}

// RunState is a node of the pipeline state machine.
type RunState string

// Run state constants.
const (
	StatePending           RunState = "pending"
	StateConvertingInputs  RunState = "converting_inputs"
	StateInvokingSolver    RunState = "invoking_solver"
	StateConvertingOutputs RunState = "converting_outputs"
	StateDone              RunState = "done"
	StateFailed            RunState = "failed"
)

// Terminal reports whether no further transitions are allowed from s.
func (s RunState) Terminal() bool {
	return s == StateDone || s == StateFailed
}

var allowedTransitions = map[RunState][]RunState{
	StatePending:           {StateConvertingInputs},
	StateConvertingInputs:  {StateInvokingSolver, StateConvertingOutputs},
	StateInvokingSolver:    {StateConvertingOutputs},
	StateConvertingOutputs: {StateDone},
}

// CanTransition reports whether the state machine allows from -> to.
// failed is reachable from every non-terminal state.
func CanTransition(from, to RunState) bool {
	if from.Terminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Run is one pipeline execution recorded in the ledger.
type Run struct {
	ID          string
	Pipeline    Pipeline
	Mode        Mode
	Label       string
	State       RunState
	StartedAt   time.Time
	CompletedAt *time.Time
	Error       string
	ErrorKind   ErrorKind
	Outputs     []string
}

// Duration returns how long the run took, or how long it has been running.
func (r *Run) Duration() time.Duration {
	if r.CompletedAt != nil {
		return r.CompletedAt.Sub(r.StartedAt)
	}
	return time.Since(r.StartedAt)
}

// Transition records one state change of a run.
type Transition struct {
	RunID string
	From  RunState
	To    RunState
	At    time.Time
}

// RunFilter narrows ListRuns. Zero values match everything.
type RunFilter struct {
	Pipeline Pipeline
	State    RunState
	Limit    int
}
