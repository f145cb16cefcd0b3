package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorKind classifies a pipeline failure.
type ErrorKind string

// Error kinds recorded in the run ledger.
const (
	KindNone      ErrorKind = ""
	KindFormat    ErrorKind = "format"
	KindIO        ErrorKind = "io"
	KindExecution ErrorKind = "solver_execution"
	KindTimeout   ErrorKind = "timeout"
	KindIntegrity ErrorKind = "integrity"
	KindConfig    ErrorKind = "config"
	KindCancelled ErrorKind = "cancelled"
	KindInternal  ErrorKind = "internal"
)

// FormatError reports malformed or unsupported file content.
// Line is 1-based for text formats, Offset is a byte offset for binary ones.
type FormatError struct {
	Path   string
	Line   int
	Offset int64
	Reason string
}

func (e *FormatError) Error() string {
	var b strings.Builder
	b.WriteString("format error")
	if e.Path != "" {
		b.WriteString(": ")
		b.WriteString(e.Path)
	}
	switch {
	case e.Line > 0:
		fmt.Fprintf(&b, ":%d", e.Line)
	case e.Offset > 0:
		fmt.Fprintf(&b, "@%d", e.Offset)
	}
	b.WriteString(": ")
	b.WriteString(e.Reason)
	return b.String()
}

// IOError reports a filesystem failure. Callers may retry.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// ExecutionError reports a solver that exited with a nonzero code.
type ExecutionError struct {
	ExitCode int
	Tail     []string
}

func (e *ExecutionError) Error() string {
	msg := fmt.Sprintf("solver exited with code %d", e.ExitCode)
	if len(e.Tail) > 0 {
		msg += ":\n" + strings.Join(e.Tail, "\n")
	}
	return msg
}

// TimeoutError reports a solver that was killed after exceeding its time limit.
type TimeoutError struct {
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("solver timed out after %s and was terminated", e.After)
}

// IntegrityError reports a solver that exited 0 without producing its declared outputs.
type IntegrityError struct {
	Missing []string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("solver reported success but did not produce: %s", strings.Join(e.Missing, ", "))
}

// ConfigError reports a missing or invalid setting or parameter.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "invalid configuration: " + e.Reason
	}
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// ConfigErrorf builds a ConfigError for field.
func ConfigErrorf(field, format string, args ...any) *ConfigError {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// KindOf classifies err. Wrapped errors are unwrapped.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	var (
		formatErr    *FormatError
		ioErr        *IOError
		execErr      *ExecutionError
		timeoutErr   *TimeoutError
		integrityErr *IntegrityError
		configErr    *ConfigError
	)
	switch {
	case errors.As(err, &timeoutErr):
		return KindTimeout
	case errors.As(err, &execErr):
		return KindExecution
	case errors.As(err, &integrityErr):
		return KindIntegrity
	case errors.As(err, &configErr):
		return KindConfig
	case errors.As(err, &formatErr):
		return KindFormat
	case errors.As(err, &ioErr):
		return KindIO
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCancelled
	default:
		return KindInternal
	}
}

// ExitCode maps an error kind to a process exit status.
func (k ErrorKind) ExitCode() int {
	switch k {
	case KindNone:
		return 0
	case KindConfig:
		return 2
	case KindFormat:
		return 3
	case KindIO:
		return 4
	case KindExecution:
		return 5
	case KindTimeout:
		return 6
	case KindIntegrity:
		return 7
	case KindCancelled:
		return 130
	default:
		return 1
	}
}
