package state

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/landslide-lab/sphbox/pkg/core"
)

func newMockStore(t *testing.T) (*SQLiteStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	s := NewSQLiteStore(nil)
	s.db = db
	return s, mock
}

func expectState(mock sqlmock.Sqlmock, id string, state core.RunState) {
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT state FROM runs WHERE id = ?`)).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"state"}).AddRow(string(state)))
}

func TestSQLiteStore_TransitionRollsBack(t *testing.T) {
	diskErr := errors.New("disk I/O error")

	tests := []struct {
		name    string
		from    core.RunState
		setup   func(mock sqlmock.Sqlmock)
		wantErr error
	}{
		{
			name: "update fails",
			from: core.StatePending,
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(regexp.QuoteMeta(`UPDATE runs SET state = ? WHERE id = ?`)).
					WithArgs(string(core.StateConvertingInputs), "r1").
					WillReturnError(diskErr)
				mock.ExpectRollback()
			},
			wantErr: diskErr,
		},
		{
			name: "transition record fails",
			from: core.StatePending,
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(regexp.QuoteMeta(`UPDATE runs SET state = ? WHERE id = ?`)).
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO run_transitions`)).
					WithArgs("r1", string(core.StatePending), string(core.StateConvertingInputs), sqlmock.AnyArg()).
					WillReturnError(diskErr)
				mock.ExpectRollback()
			},
			wantErr: diskErr,
		},
		{
			name: "illegal transition writes nothing",
			from: core.StateDone,
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectRollback()
			},
			wantErr: ErrIllegalTransition,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockStore(t)
			mock.ExpectBegin()
			expectState(mock, "r1", tt.from)
			tt.setup(mock)

			err := s.TransitionRun(context.Background(), "r1", core.StateConvertingInputs)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestSQLiteStore_CompleteRunCommitFailure(t *testing.T) {
	s, mock := newMockStore(t)
	commitErr := errors.New("database is locked")

	mock.ExpectBegin()
	expectState(mock, "r1", core.StateInvokingSolver)
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE runs SET state = ?, completed_at = ?`)).
		WithArgs(string(core.StateFailed), sqlmock.AnyArg(), "solver exited", sqlmock.AnyArg(), "[]", "r1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO run_transitions`)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit().WillReturnError(commitErr)

	err := s.CompleteRun(context.Background(), "r1", core.StateFailed, errors.New("solver exited"), nil)
	assert.ErrorIs(t, err, commitErr)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStore_QueryErrorsAreWrapped(t *testing.T) {
	s, mock := newMockStore(t)
	queryErr := errors.New("no such table: runs")

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT ` + runColumns + ` FROM runs WHERE pipeline = ?`)).
		WithArgs(string(core.PipelineDemToTop), 5).
		WillReturnError(queryErr)
	_, err := s.ListRuns(context.Background(), core.RunFilter{Pipeline: core.PipelineDemToTop, Limit: 5})
	require.Error(t, err)
	assert.ErrorIs(t, err, queryErr)
	assert.Contains(t, err.Error(), "failed to list runs")

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO runs`)).WillReturnError(queryErr)
	_, err = s.CreateRun(context.Background(), &core.Run{Pipeline: core.PipelineDemToTop})
	require.Error(t, err)
	assert.ErrorIs(t, err, queryErr)
	assert.Contains(t, err.Error(), "failed to create run")

	assert.NoError(t, mock.ExpectationsWereMet())
}
