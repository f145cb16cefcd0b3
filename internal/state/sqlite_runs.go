package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/landslide-lab/sphbox/pkg/core"
)

const runColumns = `id, pipeline, mode, label, state, started_at, completed_at, error, error_kind, outputs`

// CreateRun records a new run in the pending state. ID and StartedAt are
// assigned when empty.
func (s *SQLiteStore) CreateRun(ctx context.Context, run *core.Run) (*core.Run, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	out := *run
	if out.ID == "" {
		out.ID = generateID()
	}
	if out.StartedAt.IsZero() {
		out.StartedAt = time.Now().UTC()
	}
	out.State = core.StatePending
	out.CompletedAt = nil

	s.logger.Debug("creating run",
		slog.String("id", out.ID),
		slog.String("pipeline", string(out.Pipeline)))

	outputs, err := encodeOutputs(out.Outputs)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, pipeline, mode, label, state, started_at, outputs) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		out.ID, string(out.Pipeline), string(out.Mode), out.Label, string(out.State), out.StartedAt, outputs,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	return &out, nil
}

// TransitionRun moves a run to a non-terminal state.
func (s *SQLiteStore) TransitionRun(ctx context.Context, id string, to core.RunState) error {
	if to.Terminal() {
		return fmt.Errorf("%w: use CompleteRun to enter %s", ErrIllegalTransition, to)
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		from, err := currentState(ctx, tx, id)
		if err != nil {
			return err
		}
		if !core.CanTransition(from, to) {
			return fmt.Errorf("%w: run %s %s -> %s", ErrIllegalTransition, id, from, to)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE runs SET state = ? WHERE id = ?`, string(to), id); err != nil {
			return fmt.Errorf("failed to update run state: %w", err)
		}
		return recordTransition(ctx, tx, id, from, to)
	})
}

// CompleteRun moves a run to done or failed and records its outcome.
func (s *SQLiteStore) CompleteRun(ctx context.Context, id string, state core.RunState, runErr error, outputs []string) error {
	if !state.Terminal() {
		return fmt.Errorf("%w: %s is not a terminal state", ErrIllegalTransition, state)
	}
	encoded, err := encodeOutputs(outputs)
	if err != nil {
		return err
	}
	var errMsg *string
	kind := core.KindOf(runErr)
	if runErr != nil {
		msg := runErr.Error()
		errMsg = &msg
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		from, err := currentState(ctx, tx, id)
		if err != nil {
			return err
		}
		if !core.CanTransition(from, state) {
			return fmt.Errorf("%w: run %s %s -> %s", ErrIllegalTransition, id, from, state)
		}
		now := time.Now().UTC()
		_, err = tx.ExecContext(ctx,
			`UPDATE runs SET state = ?, completed_at = ?, error = ?, error_kind = ?, outputs = ? WHERE id = ?`,
			string(state), now, errMsg, string(kind), encoded, id,
		)
		if err != nil {
			return fmt.Errorf("failed to complete run: %w", err)
		}
		return recordTransition(ctx, tx, id, from, state)
	})
}

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*core.Run, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns returns runs newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, filter core.RunFilter) ([]*core.Run, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	var (
		where []string
		args  []any
	)
	if filter.Pipeline != "" {
		where = append(where, "pipeline = ?")
		args = append(args, string(filter.Pipeline))
	}
	if filter.State != "" {
		where = append(where, "state = ?")
		args = append(args, string(filter.State))
	}
	query := `SELECT ` + runColumns + ` FROM runs`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY started_at DESC, rowid DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*core.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetTransitions returns the state history of a run in order.
func (s *SQLiteStore) GetTransitions(ctx context.Context, runID string) ([]*core.Transition, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, from_state, to_state, at FROM run_transitions WHERE run_id = ? ORDER BY id`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get transitions: %w", err)
	}
	defer rows.Close()

	var out []*core.Transition
	for rows.Next() {
		var (
			tr       core.Transition
			from, to string
		)
		if err := rows.Scan(&tr.RunID, &from, &to, &tr.At); err != nil {
			return nil, fmt.Errorf("failed to scan transition: %w", err)
		}
		tr.From, tr.To = core.RunState(from), core.RunState(to)
		out = append(out, &tr)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if err := s.ready(); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func currentState(ctx context.Context, tx *sql.Tx, id string) (core.RunState, error) {
	var state string
	err := tx.QueryRowContext(ctx, `SELECT state FROM runs WHERE id = ?`, id).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read run state: %w", err)
	}
	return core.RunState(state), nil
}

func recordTransition(ctx context.Context, tx *sql.Tx, id string, from, to core.RunState) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO run_transitions (run_id, from_state, to_state, at) VALUES (?, ?, ?, ?)`,
		id, string(from), string(to), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record transition: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*core.Run, error) {
	var (
		run                      core.Run
		pipeline, mode, st, kind string
		completedAt              sql.NullTime
		errMsg                   sql.NullString
		outputs                  string
	)
	if err := row.Scan(&run.ID, &pipeline, &mode, &run.Label, &st, &run.StartedAt,
		&completedAt, &errMsg, &kind, &outputs); err != nil {
		return nil, err
	}
	run.Pipeline = core.Pipeline(pipeline)
	run.Mode = core.Mode(mode)
	run.State = core.RunState(st)
	run.ErrorKind = core.ErrorKind(kind)
	if completedAt.Valid {
		t := completedAt.Time
		run.CompletedAt = &t
	}
	if errMsg.Valid {
		run.Error = errMsg.String
	}
	if err := json.Unmarshal([]byte(outputs), &run.Outputs); err != nil {
		return nil, fmt.Errorf("decode outputs: %w", err)
	}
	return &run, nil
}

func encodeOutputs(outputs []string) (string, error) {
	if outputs == nil {
		outputs = []string{}
	}
	b, err := json.Marshal(outputs)
	if err != nil {
		return "", fmt.Errorf("encode outputs: %w", err)
	}
	return string(b), nil
}
