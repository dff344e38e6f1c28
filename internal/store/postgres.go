package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/opengov-uy/compras-analytics/internal/db"
	"github.com/opengov-uy/compras-analytics/internal/model"
	"github.com/opengov-uy/compras-analytics/internal/resilience"
)

// classifyDeadLetter tags a dead-letter row as transient or permanent so
// triage can tell retryable failures from data defects.
func classifyDeadLetter(err error) string {
	return resilience.ClassifyError(err)
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// Postgres implements Store over a pgx connection pool.
type Postgres struct {
	pool    db.Pool
	closeFn func()

	// runID and stage tag dead-letter rows with the run that produced them.
	runID string
	stage string
}

// NewPostgres creates a Postgres store with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*Postgres, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &Postgres{pool: pool, closeFn: pool.Close}, nil
}

// NewWithPool wraps an existing pool. Used by tests with pgxmock.
func NewWithPool(pool db.Pool) *Postgres {
	return &Postgres{pool: pool, closeFn: func() {}}
}

// Pool exposes the underlying pool for migrations and the run log.
func (s *Postgres) Pool() db.Pool {
	return s.pool
}

// Close releases the connection pool.
func (s *Postgres) Close() {
	s.closeFn()
}

// SetRunContext tags subsequent dead-letter rows with the active run and stage.
func (s *Postgres) SetRunContext(runID, stage string) {
	s.runID = runID
	s.stage = stage
}

// CountRecords returns the total number of ledger records.
func (s *Postgres) CountRecords(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM procurement.records`).Scan(&n)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: count records")
	}
	return n, nil
}

// StreamRecords iterates the ledger in keyset-paginated batches ordered by
// record id, so a fixed batch size bounds memory regardless of ledger size.
func (s *Postgres) StreamRecords(ctx context.Context, opts StreamOptions, fn func(batch []model.ProcurementRecord) error) error {
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = 500
	}

	docExpr := "doc"
	args := func(lastID string) []any { return []any{lastID, batchSize} }
	if len(opts.Projection) > 0 {
		docExpr = `(SELECT jsonb_object_agg(key, doc->key) FROM unnest($3::text[]) AS key WHERE doc ? key)`
		args = func(lastID string) []any { return []any{lastID, batchSize, opts.Projection} }
	}

	query := `SELECT id, ` + docExpr + ` FROM procurement.records WHERE id > $1 ORDER BY id LIMIT $2`

	lastID := ""
	for {
		if ctx.Err() != nil {
			return eris.Wrap(ctx.Err(), "postgres: stream cancelled")
		}

		batch, err := s.fetchBatch(ctx, query, args(lastID))
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}

		lastID = batch[len(batch)-1].ID
		if err := fn(batch); err != nil {
			return err
		}

		if len(batch) < batchSize {
			return nil
		}
	}
}

func (s *Postgres) fetchBatch(ctx context.Context, query string, args []any) ([]model.ProcurementRecord, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query record batch")
	}
	defer rows.Close()

	var batch []model.ProcurementRecord
	for rows.Next() {
		var id string
		var doc []byte
		if err := rows.Scan(&id, &doc); err != nil {
			return nil, eris.Wrap(err, "postgres: scan record")
		}

		var rec model.ProcurementRecord
		if len(doc) > 0 {
			if err := json.Unmarshal(doc, &rec); err != nil {
				// Malformed documents are an input defect: skip, don't abort.
				zap.L().Warn("postgres: skipping malformed record document",
					zap.String("record_id", id),
					zap.Error(err),
				)
				continue
			}
		}
		rec.ID = id
		batch = append(batch, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate record batch")
	}
	return batch, nil
}

// GetSummaries fetches previously stored amount summaries by record id.
func (s *Postgres) GetSummaries(ctx context.Context, recordIDs []string) (map[string]model.AmountSummary, error) {
	if len(recordIDs) == 0 {
		return map[string]model.AmountSummary{}, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT record_id, totals, primary_amount, item_count, skipped_items, version
		 FROM analytics.amount_summaries WHERE record_id = ANY($1)`,
		recordIDs,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get summaries")
	}
	defer rows.Close()

	out := make(map[string]model.AmountSummary)
	for rows.Next() {
		var sum model.AmountSummary
		var totals []byte
		if err := rows.Scan(&sum.RecordID, &totals, &sum.PrimaryAmount, &sum.ItemCount, &sum.SkippedItems, &sum.Version); err != nil {
			return nil, eris.Wrap(err, "postgres: scan summary")
		}
		if len(totals) > 0 {
			if err := json.Unmarshal(totals, &sum.TotalsByCurrency); err != nil {
				return nil, eris.Wrapf(err, "postgres: decode totals for %s", sum.RecordID)
			}
		}
		out[sum.RecordID] = sum
	}
	return out, rows.Err()
}

// UpsertSummaries writes amount summaries keyed by record id.
func (s *Postgres) UpsertSummaries(ctx context.Context, summaries []model.AmountSummary) (UpsertResult, error) {
	cfg := db.UpsertConfig{
		Table: "analytics.amount_summaries",
		Columns: []string{
			"record_id", "totals", "primary_amount", "item_count", "skipped_items",
			"currencies", "has_amounts", "has_converted", "rate_date", "version",
			"was_update", "previous_amount", "computed_at",
		},
		ConflictKeys: []string{"record_id"},
	}

	// The computation stage is pure; the write stamps ComputedAt so the
	// stored document and the in-memory one agree.
	now := time.Now().UTC()
	rows := make([][]any, 0, len(summaries))
	for i := range summaries {
		sum := &summaries[i]
		sum.ComputedAt = now
		totals, err := json.Marshal(sum.TotalsByCurrency)
		if err != nil {
			return UpsertResult{}, eris.Wrapf(err, "postgres: encode totals for %s", sum.RecordID)
		}
		currencies, err := json.Marshal(sum.Currencies)
		if err != nil {
			return UpsertResult{}, eris.Wrapf(err, "postgres: encode currencies for %s", sum.RecordID)
		}
		rows = append(rows, []any{
			sum.RecordID, totals, sum.PrimaryAmount, sum.ItemCount, sum.SkippedItems,
			currencies, sum.HasAmounts, sum.HasConvertedAmounts, sum.RateDate, sum.Version,
			sum.WasVersionUpdate, sum.PreviousAmount, sum.ComputedAt,
		})
	}

	return s.upsert(ctx, cfg, rows)
}

// UpsertPatterns writes entity patterns keyed by (entity id, role).
func (s *Postgres) UpsertPatterns(ctx context.Context, patterns []model.EntityPattern) (UpsertResult, error) {
	cfg := db.UpsertConfig{
		Table: "analytics.entity_patterns",
		Columns: []string{
			"entity_id", "role", "name", "contract_count", "total_amount",
			"years_active", "counterpart_ids", "top_items", "data_version", "updated_at",
		},
		ConflictKeys: []string{"entity_id", "role"},
	}

	now := time.Now().UTC()
	rows := make([][]any, 0, len(patterns))
	for _, p := range patterns {
		years, err := json.Marshal(p.YearsActive)
		if err != nil {
			return UpsertResult{}, eris.Wrapf(err, "postgres: encode years for %s", p.EntityID)
		}
		counterparts, err := json.Marshal(p.CounterpartIDs)
		if err != nil {
			return UpsertResult{}, eris.Wrapf(err, "postgres: encode counterparts for %s", p.EntityID)
		}
		topItems, err := json.Marshal(p.TopItems)
		if err != nil {
			return UpsertResult{}, eris.Wrapf(err, "postgres: encode top items for %s", p.EntityID)
		}
		rows = append(rows, []any{
			p.EntityID, string(p.Role), p.Name, p.ContractCount, p.TotalAmount,
			years, counterparts, topItems, p.DataVersion, now,
		})
	}

	return s.upsert(ctx, cfg, rows)
}

// UpsertAnomalies writes anomalies keyed by (record id, award id, type).
func (s *Postgres) UpsertAnomalies(ctx context.Context, anomalies []model.Anomaly) (UpsertResult, error) {
	cfg := db.UpsertConfig{
		Table: "analytics.anomalies",
		Columns: []string{
			"record_id", "award_id", "type", "severity", "detected_value",
			"expected_min", "expected_max", "confidence", "meta", "data_version", "detected_at",
		},
		ConflictKeys: []string{"record_id", "award_id", "type"},
	}

	now := time.Now().UTC()
	rows := make([][]any, 0, len(anomalies))
	for _, a := range anomalies {
		meta, err := json.Marshal(a.Meta)
		if err != nil {
			return UpsertResult{}, eris.Wrapf(err, "postgres: encode anomaly meta for %s", a.RecordID)
		}
		rows = append(rows, []any{
			a.RecordID, a.AwardID, string(a.Type), string(a.Severity), a.DetectedValue,
			a.ExpectedMin, a.ExpectedMax, a.Confidence, meta, a.DataVersion, now,
		})
	}

	return s.upsert(ctx, cfg, rows)
}

// upsert runs the shared bulk-with-fallback path, dead-lettering failed rows.
func (s *Postgres) upsert(ctx context.Context, cfg db.UpsertConfig, rows [][]any) (UpsertResult, error) {
	written, failed, err := db.UpsertRows(ctx, s.pool, cfg, rows, func(row []any, rowErr error) {
		s.deadLetter(ctx, cfg.Table, row, rowErr)
	})
	if err != nil {
		return UpsertResult{}, err
	}
	return UpsertResult{Written: written, Failed: failed}, nil
}

// deadLetter records a document that failed store-side validation so the run
// report can account for it and operators can triage later. Failures here are
// logged only; dead-lettering must never fail a batch.
func (s *Postgres) deadLetter(ctx context.Context, table string, row []any, cause error) {
	key := ""
	if len(row) > 0 {
		if k, ok := row[0].(string); ok {
			key = k
		}
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO analytics.dead_letter (run_id, stage, table_name, natural_key, error, error_class)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		s.runID, s.stage, table, key, cause.Error(), classifyDeadLetter(cause),
	)
	if err != nil {
		zap.L().Warn("postgres: failed to record dead letter",
			zap.String("table", table),
			zap.String("natural_key", key),
			zap.Error(err),
		)
	}
}

// CountStaleAnomalies returns the number of findings stamped with a data
// version older than v. Stale findings are never deleted; they mark detections
// that no longer reproduce against the current ledger.
func (s *Postgres) CountStaleAnomalies(ctx context.Context, v int) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM analytics.anomalies WHERE data_version < $1`, v,
	).Scan(&n)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: count stale anomalies")
	}
	return n, nil
}

// LatestDataVersion returns the highest data version stamped by a completed
// run, or 0 when no run has completed yet.
func (s *Postgres) LatestDataVersion(ctx context.Context) (int, error) {
	var v int
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(data_version), 0) FROM analytics.run_log WHERE status = 'complete'`,
	).Scan(&v)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: latest data version")
	}
	return v, nil
}
