package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	// Replace global logger with a no-op to avoid nil pointer panics in tests.
	zap.ReplaceGlobals(zap.NewNop())
}

func TestBulkUpsert_EmptyRows(t *testing.T) {
	n, err := BulkUpsert(nil, nil, UpsertConfig{
		Table:        "analytics.test",
		Columns:      []string{"id", "name"},
		ConflictKeys: []string{"id"},
	}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestBulkUpsert_NoColumns(t *testing.T) {
	_, err := BulkUpsert(nil, nil, UpsertConfig{
		Table:        "analytics.test",
		ConflictKeys: []string{"id"},
	}, [][]any{{1, "a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns specified")
}

func TestBulkUpsert_NoConflictKeys(t *testing.T) {
	_, err := BulkUpsert(nil, nil, UpsertConfig{
		Table:   "analytics.test",
		Columns: []string{"id", "name"},
	}, [][]any{{1, "a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no conflict keys specified")
}

func TestSanitizeTable(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"simple", `"simple"`},
		{"analytics.amount_summaries", `"analytics"."amount_summaries"`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := sanitizeTable(tt.input)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestQuoteAndJoin(t *testing.T) {
	result := quoteAndJoin([]string{"id", "name", "value"})
	assert.Equal(t, `"id", "name", "value"`, result)
}

func TestUpsertSQL(t *testing.T) {
	cfg := UpsertConfig{
		Table:        "analytics.anomalies",
		Columns:      []string{"record_id", "award_id", "type", "severity"},
		ConflictKeys: []string{"record_id", "award_id", "type"},
	}

	sql := upsertSQL(cfg, "_tmp_upsert_analytics_anomalies")
	assert.Contains(t, sql, `INSERT INTO "analytics"."anomalies"`)
	assert.Contains(t, sql, `ON CONFLICT ("record_id", "award_id", "type")`)
	assert.Contains(t, sql, `"severity" = EXCLUDED."severity"`)
	assert.NotContains(t, sql, `"record_id" = EXCLUDED`)
}

func TestRowUpsertSQL(t *testing.T) {
	cfg := UpsertConfig{
		Table:        "analytics.amount_summaries",
		Columns:      []string{"record_id", "doc", "computed_at"},
		ConflictKeys: []string{"record_id"},
	}

	sql := rowUpsertSQL(cfg)
	assert.Contains(t, sql, `VALUES ($1, $2, $3)`)
	assert.Contains(t, sql, `ON CONFLICT ("record_id")`)
	assert.Contains(t, sql, `"doc" = EXCLUDED."doc"`)
}

func TestSetClauses_ExplicitUpdateCols(t *testing.T) {
	cfg := UpsertConfig{
		Columns:      []string{"id", "a", "b"},
		ConflictKeys: []string{"id"},
		UpdateCols:   []string{"a"},
	}
	assert.Equal(t, `"a" = EXCLUDED."a"`, setClauses(cfg))
}

func TestUpsertRows_BulkPath(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cfg := UpsertConfig{
		Table:        "analytics.amount_summaries",
		Columns:      []string{"record_id", "doc"},
		ConflictKeys: []string{"record_id"},
	}
	rows := [][]any{{"rec-1", "{}"}, {"rec-2", "{}"}}

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_analytics_amount_summaries"}, cfg.Columns).WillReturnResult(2)
	mock.ExpectExec("INSERT INTO \"analytics\".\"amount_summaries\"").
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()
	mock.ExpectRollback()

	written, failed, err := UpsertRows(context.Background(), mock, cfg, rows, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), written)
	assert.Equal(t, int64(0), failed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertRows_FallsBackRowByRow(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cfg := UpsertConfig{
		Table:        "analytics.amount_summaries",
		Columns:      []string{"record_id", "doc"},
		ConflictKeys: []string{"record_id"},
	}
	rows := [][]any{{"rec-1", "{}"}, {"rec-bad", "{}"}, {"rec-3", "{}"}}

	// Bulk path dies at COPY; every row is then replayed individually and
	// only the bad one is dropped.
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_analytics_amount_summaries"}, cfg.Columns).
		WillReturnError(errors.New("malformed row"))
	mock.ExpectRollback()

	mock.ExpectExec("INSERT INTO \"analytics\".\"amount_summaries\"").
		WithArgs("rec-1", "{}").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO \"analytics\".\"amount_summaries\"").
		WithArgs("rec-bad", "{}").
		WillReturnError(errors.New("value too long"))
	mock.ExpectExec("INSERT INTO \"analytics\".\"amount_summaries\"").
		WithArgs("rec-3", "{}").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	var failedRows [][]any
	written, failed, err := UpsertRows(context.Background(), mock, cfg, rows,
		func(row []any, err error) {
			failedRows = append(failedRows, row)
		})
	require.NoError(t, err)
	assert.Equal(t, int64(2), written)
	assert.Equal(t, int64(1), failed)
	require.Len(t, failedRows, 1)
	assert.Equal(t, "rec-bad", failedRows[0][0])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertRows_EmptyBatch(t *testing.T) {
	written, failed, err := UpsertRows(context.Background(), nil, UpsertConfig{}, nil, nil)
	assert.NoError(t, err)
	assert.Zero(t, written)
	assert.Zero(t, failed)
}
