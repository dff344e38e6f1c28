package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/opengov-uy/compras-analytics/internal/currency"
	"github.com/opengov-uy/compras-analytics/internal/fetcher"
	"github.com/opengov-uy/compras-analytics/internal/resilience"
	"github.com/opengov-uy/compras-analytics/internal/store"
)

// openStore connects to the record store configured in cfg.
func openStore(ctx context.Context) (*store.Postgres, error) {
	if cfg.Store.DatabaseURL == "" {
		return nil, eris.New("store.database_url is not configured (set COMPRAS_STORE_DATABASE_URL)")
	}
	return store.NewPostgres(ctx, cfg.Store.DatabaseURL, cfg.Store.Pool)
}

// buildRateSource assembles the configured rate source chain: a static YAML
// table when configured, otherwise the HTTP source wrapped in the sqlite
// cache when a cache path is set.
func buildRateSource() (currency.RateSource, func(), error) {
	cleanup := func() {}

	if cfg.Rates.StaticPath != "" {
		src, err := currency.LoadStatic(cfg.Rates.StaticPath)
		if err != nil {
			return nil, nil, err
		}
		return src, cleanup, nil
	}

	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		Timeout:    time.Duration(cfg.Rates.TimeoutSecs) * time.Second,
		MaxRetries: cfg.Rates.MaxRetries,
	})
	var src currency.RateSource = currency.NewHTTPSource(cfg.Rates.BaseURL, f)

	if cfg.Rates.CachePath != "" {
		cached, err := currency.NewCachedSource(src, cfg.Rates.CachePath)
		if err != nil {
			return nil, nil, err
		}
		src = cached
		cleanup = func() {
			if err := cached.Close(); err != nil {
				zap.L().Warn("failed to close rate cache", zap.Error(err))
			}
		}
	}

	return src, cleanup, nil
}

// fetchRates retrieves the run's rate table with retry on transient failures.
func fetchRates(ctx context.Context, src currency.RateSource) (currency.RateTable, error) {
	retryCfg := resilience.FromRetryConfig(cfg.Rates.MaxRetries, 0, 0, 0, 0)
	retryCfg.OnRetry = resilience.RetryLogger("rates", "fetch_table")
	return resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (currency.RateTable, error) {
		return currency.FetchTable(ctx, src)
	})
}
