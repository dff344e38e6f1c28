package engine

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockRunLog(t *testing.T) (*RunLog, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewRunLog(mock), mock
}

func TestRunLog_Start(t *testing.T) {
	l, mock := newMockRunLog(t)

	mock.ExpectExec("INSERT INTO analytics.run_log").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	id, err := l.Start(context.Background(), "amounts", 3)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunLog_Complete(t *testing.T) {
	l, mock := newMockRunLog(t)

	mock.ExpectExec("UPDATE analytics.run_log").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := l.Complete(context.Background(), "run-1", 100, 98, 2,
		map[string]any{"candidates": 42})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunLog_Fail(t *testing.T) {
	l, mock := newMockRunLog(t)

	mock.ExpectExec("UPDATE analytics.run_log").
		WithArgs("store connection lost", "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := l.Fail(context.Background(), "run-1", "store connection lost")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunLog_Recent(t *testing.T) {
	l, mock := newMockRunLog(t)

	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	completed := started.Add(5 * time.Minute)

	mock.ExpectQuery("SELECT id, stage, status").
		WithArgs(10).
		WillReturnRows(pgxmock.NewRows(
			[]string{"id", "stage", "status", "started_at", "completed_at", "processed", "written", "failed", "data_version", "error"}).
			AddRow("run-2", "patterns", "complete", started, &completed, int64(100), int64(100), int64(0), 3, "").
			AddRow("run-1", "amounts", "failed", started, &completed, int64(50), int64(40), int64(10), 3, "boom"))

	entries, err := l.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "patterns", entries[0].Stage)
	assert.Equal(t, "complete", entries[0].Status)
	assert.Equal(t, int64(100), entries[0].Processed)
	assert.Equal(t, "boom", entries[1].Error)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunLog_RecentDefaultLimit(t *testing.T) {
	l, mock := newMockRunLog(t)

	mock.ExpectQuery("SELECT id, stage, status").
		WithArgs(20).
		WillReturnRows(pgxmock.NewRows(
			[]string{"id", "stage", "status", "started_at", "completed_at", "processed", "written", "failed", "data_version", "error"}))

	entries, err := l.Recent(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.NoError(t, mock.ExpectationsWereMet())
}
