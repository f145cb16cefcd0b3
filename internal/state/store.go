// Package state persists the run ledger in SQLite.
// It records every pipeline run and each state transition it went through.
//
// Ledger types are defined in pkg/core. This package aliases the ones its
// callers need so they do not have to import both.
package state

import (
	"errors"

	"github.com/landslide-lab/sphbox/pkg/core"
)

type (
	// Store is an alias for core.Store.
	Store = core.Store

	// Run is an alias for core.Run.
	Run = core.Run

	// Transition is an alias for core.Transition.
	Transition = core.Transition

	// RunFilter is an alias for core.RunFilter.
	RunFilter = core.RunFilter
)

// ErrRunNotFound is returned when a run id is not in the ledger.
var ErrRunNotFound = errors.New("run not found")

// ErrIllegalTransition is returned when a state change is not allowed by
// the pipeline state machine.
var ErrIllegalTransition = errors.New("illegal state transition")

// Compile-time check.
var _ Store = (*SQLiteStore)(nil)
