package currency

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opengov-uy/compras-analytics/internal/fetcher"
)

type stubSource struct {
	rates    map[string]float64
	ratesErr error
	ui       float64
	uiErr    error
}

func (s *stubSource) FetchCurrencyRates(ctx context.Context) (map[string]float64, error) {
	return s.rates, s.ratesErr
}

func (s *stubSource) FetchIndexedUnitRate(ctx context.Context) (float64, error) {
	return s.ui, s.uiErr
}

func TestFetchTable(t *testing.T) {
	src := &stubSource{rates: map[string]float64{"USD": 40}, ui: 6.07}

	tbl, err := FetchTable(context.Background(), src)
	require.NoError(t, err)
	assert.InDelta(t, 40, tbl.Rates["USD"], 0.001)
	assert.InDelta(t, 6.07, tbl.IndexedUnitRate, 0.001)
	assert.False(t, tbl.Date.IsZero())
}

func TestFetchTable_UIFailureDowngraded(t *testing.T) {
	src := &stubSource{
		rates: map[string]float64{"USD": 40},
		uiErr: assert.AnError,
	}

	tbl, err := FetchTable(context.Background(), src)
	require.NoError(t, err)
	assert.Zero(t, tbl.IndexedUnitRate)
	assert.InDelta(t, 40, tbl.Rates["USD"], 0.001)
}

func TestFetchTable_RatesFailureFatal(t *testing.T) {
	src := &stubSource{ratesErr: assert.AnError}

	_, err := FetchTable(context.Background(), src)
	assert.Error(t, err)
}

func newTestHTTPSource(t *testing.T, handler http.Handler) *HTTPSource {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		Timeout:    5 * time.Second,
		MaxRetries: 1,
	})
	return NewHTTPSource(srv.URL, f)
}

func TestHTTPSource_FetchCurrencyRates(t *testing.T) {
	src := newTestHTTPSource(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rates/latest", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"date":"2026-03-01","rates":{"USD":40.25,"EUR":43.8}}`))
	}))

	rates, err := src.FetchCurrencyRates(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 40.25, rates["USD"], 0.001)
	assert.InDelta(t, 43.8, rates["EUR"], 0.001)
}

func TestHTTPSource_EmptyRatesRejected(t *testing.T) {
	src := newTestHTTPSource(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"date":"2026-03-01","rates":{}}`))
	}))

	_, err := src.FetchCurrencyRates(context.Background())
	assert.Error(t, err)
}

func TestHTTPSource_FetchIndexedUnitRate(t *testing.T) {
	src := newTestHTTPSource(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ui/latest", r.URL.Path)
		_, _ = w.Write([]byte(`{"date":"2026-03-01","rate":6.07}`))
	}))

	rate, err := src.FetchIndexedUnitRate(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 6.07, rate, 0.001)
}

func TestHTTPSource_NonPositiveUIRejected(t *testing.T) {
	src := newTestHTTPSource(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"date":"2026-03-01","rate":0}`))
	}))

	_, err := src.FetchIndexedUnitRate(context.Background())
	assert.Error(t, err)
}
