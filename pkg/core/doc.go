// Package core defines the shared language of the sphbox system.
//
// This package contains:
//   - Domain entities (Grid, Job, Result, Run)
//   - The error taxonomy shared by codecs, the solver wrapper and the engine
//   - Service interfaces (Store)
//
// The Golden Rule: pkg/core imports ONLY stdlib.
// All other packages depend on core, not the reverse.
package core
