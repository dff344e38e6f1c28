package engine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/opengov-uy/compras-analytics/internal/db"
)

// RunEntry represents a row in analytics.run_log.
type RunEntry struct {
	ID          string         `json:"id"`
	Stage       string         `json:"stage"`
	Status      string         `json:"status"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Processed   int64          `json:"processed"`
	Written     int64          `json:"written"`
	Failed      int64          `json:"failed"`
	DataVersion int            `json:"data_version"`
	Error       string         `json:"error,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// RunLog provides read/write access to the analytics.run_log table.
type RunLog struct {
	pool db.Pool
}

// NewRunLog creates a RunLog backed by the given connection pool.
func NewRunLog(pool db.Pool) *RunLog {
	return &RunLog{pool: pool}
}

// Start records the beginning of a stage run and returns its id.
func (l *RunLog) Start(ctx context.Context, stage string, dataVersion int) (string, error) {
	id := uuid.NewString()
	_, err := l.pool.Exec(ctx,
		`INSERT INTO analytics.run_log (id, stage, status, started_at, data_version)
		 VALUES ($1, $2, 'running', now(), $3)`,
		id, stage, dataVersion,
	)
	if err != nil {
		return "", eris.Wrapf(err, "runlog: start %s", stage)
	}
	return id, nil
}

// Complete marks a stage run as successfully completed.
func (l *RunLog) Complete(ctx context.Context, id string, processed, written, failed int64, metadata map[string]any) error {
	var metaJSON []byte
	if metadata != nil {
		var err error
		metaJSON, err = json.Marshal(metadata)
		if err != nil {
			return eris.Wrap(err, "runlog: marshal metadata")
		}
	}

	_, err := l.pool.Exec(ctx,
		`UPDATE analytics.run_log
		 SET status = 'complete', completed_at = now(), processed = $1, written = $2, failed = $3, metadata = $4
		 WHERE id = $5`,
		processed, written, failed, metaJSON, id,
	)
	if err != nil {
		return eris.Wrapf(err, "runlog: complete %s", id)
	}
	return nil
}

// Fail marks a stage run as failed with its cause.
func (l *RunLog) Fail(ctx context.Context, id string, cause string) error {
	_, err := l.pool.Exec(ctx,
		`UPDATE analytics.run_log
		 SET status = 'failed', completed_at = now(), error = $1
		 WHERE id = $2`,
		cause, id,
	)
	if err != nil {
		return eris.Wrapf(err, "runlog: fail %s", id)
	}
	return nil
}

// Recent returns the most recent run-log entries, newest first.
func (l *RunLog) Recent(ctx context.Context, limit int) ([]RunEntry, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := l.pool.Query(ctx,
		`SELECT id, stage, status, started_at, completed_at, processed, written, failed, data_version, COALESCE(error, '')
		 FROM analytics.run_log ORDER BY started_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "runlog: recent")
	}
	defer rows.Close()

	var entries []RunEntry
	for rows.Next() {
		var e RunEntry
		if err := rows.Scan(&e.ID, &e.Stage, &e.Status, &e.StartedAt, &e.CompletedAt,
			&e.Processed, &e.Written, &e.Failed, &e.DataVersion, &e.Error); err != nil {
			return nil, eris.Wrap(err, "runlog: scan entry")
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
