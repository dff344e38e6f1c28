// Package store provides read access to the procurement record ledger and
// idempotent persistence for the derived analytics documents. The pipeline
// reads the ledger but does not own it; every write is a blind upsert on a
// natural key so reruns converge instead of duplicating.
package store

import (
	"context"

	"github.com/opengov-uy/compras-analytics/internal/model"
)

// StreamOptions controls batched record iteration.
type StreamOptions struct {
	// BatchSize bounds how many records are held in memory per batch.
	BatchSize int

	// Projection optionally restricts which top-level document fields are
	// fetched (e.g. only "awards" for the aggregation stage). Empty means
	// the full document.
	Projection []string
}

// RecordSource streams procurement records from the ledger.
type RecordSource interface {
	// CountRecords returns the total number of ledger records.
	CountRecords(ctx context.Context) (int64, error)

	// StreamRecords iterates the ledger in batches of opts.BatchSize,
	// invoking fn once per batch. Returning an error from fn aborts the
	// stream.
	StreamRecords(ctx context.Context, opts StreamOptions, fn func(batch []model.ProcurementRecord) error) error
}

// UpsertResult reports the outcome of one bulk upsert with per-document
// failure isolation.
type UpsertResult struct {
	Written int64
	Failed  int64
}

// DerivedWriter persists the derived analytics documents.
type DerivedWriter interface {
	// GetSummaries fetches previously stored amount summaries by record id,
	// for version-update audit fields.
	GetSummaries(ctx context.Context, recordIDs []string) (map[string]model.AmountSummary, error)

	// UpsertSummaries writes amount summaries keyed by record id.
	UpsertSummaries(ctx context.Context, summaries []model.AmountSummary) (UpsertResult, error)

	// UpsertPatterns writes entity patterns keyed by (entity id, role).
	UpsertPatterns(ctx context.Context, patterns []model.EntityPattern) (UpsertResult, error)

	// UpsertAnomalies writes anomalies keyed by (record id, award id, type).
	UpsertAnomalies(ctx context.Context, anomalies []model.Anomaly) (UpsertResult, error)
}

// Store is the full persistence surface the orchestrator drives.
type Store interface {
	RecordSource
	DerivedWriter

	// LatestDataVersion returns the highest data version stamped on any
	// derived document, so a new run can stamp the next epoch.
	LatestDataVersion(ctx context.Context) (int, error)

	// SetRunContext tags subsequent dead-letter rows with the active run
	// and stage.
	SetRunContext(runID, stage string)

	Close()
}
