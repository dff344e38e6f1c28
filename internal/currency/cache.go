package currency

import (
	"context"
	"database/sql"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	_ "modernc.org/sqlite"
)

const cacheSchema = `
CREATE TABLE IF NOT EXISTS rate_cache (
	code       TEXT PRIMARY KEY,
	rate       REAL NOT NULL,
	fetched_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS ui_cache (
	id         INTEGER PRIMARY KEY CHECK (id = 1),
	rate       REAL NOT NULL,
	fetched_at TIMESTAMP NOT NULL
);
`

// CachedSource wraps a RateSource with a local sqlite cache of the last good
// fetch. Scheduled runs keep working through rate-service outages by falling
// back to the cached table.
type CachedSource struct {
	inner RateSource
	db    *sql.DB
}

// NewCachedSource opens (or creates) the cache database at path and wraps src.
func NewCachedSource(src RateSource, path string) (*CachedSource, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrapf(err, "currency: open rate cache %s", path)
	}
	if _, err := db.Exec(cacheSchema); err != nil {
		_ = db.Close()
		return nil, eris.Wrap(err, "currency: init rate cache schema")
	}
	return &CachedSource{inner: src, db: db}, nil
}

// Close releases the cache database.
func (c *CachedSource) Close() error {
	return c.db.Close()
}

// FetchCurrencyRates fetches from the wrapped source, persisting the result.
// On failure it serves the last cached table instead.
func (c *CachedSource) FetchCurrencyRates(ctx context.Context) (map[string]float64, error) {
	rates, err := c.inner.FetchCurrencyRates(ctx)
	if err == nil {
		if storeErr := c.storeRates(ctx, rates); storeErr != nil {
			zap.L().Warn("currency: failed to cache rates", zap.Error(storeErr))
		}
		return rates, nil
	}

	cached, cacheErr := c.loadRates(ctx)
	if cacheErr != nil || len(cached) == 0 {
		return nil, eris.Wrap(err, "currency: source failed and cache empty")
	}

	zap.L().Warn("currency: rate source unavailable, using cached table",
		zap.Int("currencies", len(cached)),
		zap.Error(err),
	)
	return cached, nil
}

// FetchIndexedUnitRate fetches the UI rate, falling back to cache on failure.
func (c *CachedSource) FetchIndexedUnitRate(ctx context.Context) (float64, error) {
	rate, err := c.inner.FetchIndexedUnitRate(ctx)
	if err == nil {
		if _, storeErr := c.db.ExecContext(ctx,
			`INSERT INTO ui_cache (id, rate, fetched_at) VALUES (1, ?, ?)
			 ON CONFLICT (id) DO UPDATE SET rate = excluded.rate, fetched_at = excluded.fetched_at`,
			rate, time.Now().UTC(),
		); storeErr != nil {
			zap.L().Warn("currency: failed to cache UI rate", zap.Error(storeErr))
		}
		return rate, nil
	}

	var cached float64
	row := c.db.QueryRowContext(ctx, `SELECT rate FROM ui_cache WHERE id = 1`)
	if scanErr := row.Scan(&cached); scanErr != nil {
		return 0, eris.Wrap(err, "currency: UI source failed and cache empty")
	}

	zap.L().Warn("currency: UI rate source unavailable, using cached rate", zap.Error(err))
	return cached, nil
}

func (c *CachedSource) storeRates(ctx context.Context, rates map[string]float64) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "currency: begin cache tx")
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for code, rate := range rates {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO rate_cache (code, rate, fetched_at) VALUES (?, ?, ?)
			 ON CONFLICT (code) DO UPDATE SET rate = excluded.rate, fetched_at = excluded.fetched_at`,
			code, rate, now,
		); err != nil {
			return eris.Wrapf(err, "currency: cache rate %s", code)
		}
	}

	if err := tx.Commit(); err != nil {
		return eris.Wrap(err, "currency: commit cache tx")
	}
	return nil
}

func (c *CachedSource) loadRates(ctx context.Context) (map[string]float64, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT code, rate FROM rate_cache`)
	if err != nil {
		return nil, eris.Wrap(err, "currency: read rate cache")
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var code string
		var rate float64
		if err := rows.Scan(&code, &rate); err != nil {
			return nil, eris.Wrap(err, "currency: scan cached rate")
		}
		out[code] = rate
	}
	return out, rows.Err()
}
