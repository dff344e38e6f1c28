package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// UpsertConfig defines the parameters for a bulk upsert operation.
type UpsertConfig struct {
	Table        string   // target table (e.g., "analytics.amount_summaries")
	Columns      []string // all columns being inserted
	ConflictKeys []string // columns forming the natural key
	UpdateCols   []string // columns to update on conflict; nil = all non-conflict columns
}

// BulkUpsert performs a bulk upsert via a temp table and INSERT ... ON CONFLICT.
// 1. Creates a temp table with the same columns
// 2. COPY rows into the temp table
// 3. INSERT INTO target SELECT ... FROM temp ON CONFLICT (keys) DO UPDATE SET ...
// 4. Drops the temp table
//
// The whole batch commits or fails as one transaction; UpsertRows layers
// per-row failure isolation on top.
func BulkUpsert(ctx context.Context, pool Pool, cfg UpsertConfig, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	if len(cfg.Columns) == 0 {
		return 0, eris.New("db: upsert: no columns specified")
	}
	if len(cfg.ConflictKeys) == 0 {
		return 0, eris.New("db: upsert: no conflict keys specified")
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "db: upsert: begin tx")
	}
	defer tx.Rollback(ctx)

	tempTable := fmt.Sprintf("_tmp_upsert_%s", strings.ReplaceAll(cfg.Table, ".", "_"))

	// Create temp table with same structure as target
	createSQL := fmt.Sprintf(
		"CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
		pgx.Identifier{tempTable}.Sanitize(),
		sanitizeTable(cfg.Table),
	)
	if _, err := tx.Exec(ctx, createSQL); err != nil {
		return 0, eris.Wrapf(err, "db: upsert: create temp table for %s", cfg.Table)
	}

	// COPY rows into temp table
	copySource := pgx.CopyFromRows(rows)
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{tempTable}, cfg.Columns, copySource); err != nil {
		return 0, eris.Wrapf(err, "db: upsert: COPY into temp table for %s", cfg.Table)
	}

	tag, err := tx.Exec(ctx, upsertSQL(cfg, tempTable))
	if err != nil {
		return 0, eris.Wrapf(err, "db: upsert: INSERT ON CONFLICT for %s", cfg.Table)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "db: upsert: commit tx")
	}

	return tag.RowsAffected(), nil
}

// UpsertRows upserts a batch with unordered, per-row failure isolation: the
// fast bulk path is tried first, and if it fails the batch is replayed row by
// row so one bad document cannot sink its batch. Failed rows are logged,
// handed to onFailure when set, and counted. Row order carries no meaning;
// every row is a blind upsert on its natural key.
func UpsertRows(ctx context.Context, pool Pool, cfg UpsertConfig, rows [][]any, onFailure func(row []any, err error)) (written, failed int64, err error) {
	if len(rows) == 0 {
		return 0, 0, nil
	}

	n, bulkErr := BulkUpsert(ctx, pool, cfg, rows)
	if bulkErr == nil {
		return n, 0, nil
	}
	if ctx.Err() != nil {
		return 0, 0, bulkErr
	}

	zap.L().Warn("db: bulk upsert failed, replaying batch row by row",
		zap.String("table", cfg.Table),
		zap.Int("rows", len(rows)),
		zap.Error(bulkErr),
	)

	rowSQL := rowUpsertSQL(cfg)
	for _, row := range rows {
		if ctx.Err() != nil {
			return written, failed, eris.Wrap(ctx.Err(), "db: upsert: cancelled mid-replay")
		}
		if _, rowErr := pool.Exec(ctx, rowSQL, row...); rowErr != nil {
			failed++
			zap.L().Warn("db: row upsert failed, skipping",
				zap.String("table", cfg.Table),
				zap.Error(rowErr),
			)
			if onFailure != nil {
				onFailure(row, rowErr)
			}
			continue
		}
		written++
	}

	return written, failed, nil
}

// upsertSQL builds the INSERT ... SELECT ... ON CONFLICT statement moving rows
// from the temp table into the target.
func upsertSQL(cfg UpsertConfig, tempTable string) string {
	colList := quoteAndJoin(cfg.Columns)
	return fmt.Sprintf(
		"INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (%s) DO UPDATE SET %s",
		sanitizeTable(cfg.Table),
		colList,
		colList,
		pgx.Identifier{tempTable}.Sanitize(),
		quoteAndJoin(cfg.ConflictKeys),
		setClauses(cfg),
	)
}

// rowUpsertSQL builds a single-row INSERT ... ON CONFLICT statement with
// positional placeholders.
func rowUpsertSQL(cfg UpsertConfig) string {
	placeholders := make([]string, len(cfg.Columns))
	for i := range cfg.Columns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
		sanitizeTable(cfg.Table),
		quoteAndJoin(cfg.Columns),
		strings.Join(placeholders, ", "),
		quoteAndJoin(cfg.ConflictKeys),
		setClauses(cfg),
	)
}

func setClauses(cfg UpsertConfig) string {
	updateCols := cfg.UpdateCols
	if updateCols == nil {
		conflictSet := make(map[string]bool, len(cfg.ConflictKeys))
		for _, k := range cfg.ConflictKeys {
			conflictSet[k] = true
		}
		for _, c := range cfg.Columns {
			if !conflictSet[c] {
				updateCols = append(updateCols, c)
			}
		}
	}

	clauses := make([]string, len(updateCols))
	for i, col := range updateCols {
		clauses[i] = fmt.Sprintf("%s = EXCLUDED.%s", pgx.Identifier{col}.Sanitize(), pgx.Identifier{col}.Sanitize())
	}
	return strings.Join(clauses, ", ")
}

// sanitizeTable handles schema-qualified table names like "analytics.anomalies".
func sanitizeTable(table string) string {
	parts := strings.SplitN(table, ".", 2)
	if len(parts) == 2 {
		return pgx.Identifier{parts[0], parts[1]}.Sanitize()
	}
	return pgx.Identifier{table}.Sanitize()
}

// quoteAndJoin quotes each column name and joins with commas.
func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
