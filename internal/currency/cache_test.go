package currency

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, inner RateSource) *CachedSource {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rates-cache.db")
	c, err := NewCachedSource(inner, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCachedSource_PassThrough(t *testing.T) {
	inner := &stubSource{rates: map[string]float64{"USD": 40}, ui: 6.07}
	c := newTestCache(t, inner)

	rates, err := c.FetchCurrencyRates(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 40, rates["USD"], 0.001)

	ui, err := c.FetchIndexedUnitRate(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 6.07, ui, 0.001)
}

func TestCachedSource_FallsBackOnSourceFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rates-cache.db")

	good := &stubSource{rates: map[string]float64{"USD": 40, "EUR": 44}, ui: 6.07}
	c, err := NewCachedSource(good, path)
	require.NoError(t, err)

	_, err = c.FetchCurrencyRates(context.Background())
	require.NoError(t, err)
	_, err = c.FetchIndexedUnitRate(context.Background())
	require.NoError(t, err)
	require.NoError(t, c.Close())

	// Reopen over the same file with a failing source; the cached table
	// keeps the run alive.
	bad := &stubSource{ratesErr: assert.AnError, uiErr: assert.AnError}
	c, err = NewCachedSource(bad, path)
	require.NoError(t, err)
	defer c.Close()

	rates, err := c.FetchCurrencyRates(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 40, rates["USD"], 0.001)
	assert.InDelta(t, 44, rates["EUR"], 0.001)

	ui, err := c.FetchIndexedUnitRate(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 6.07, ui, 0.001)
}

func TestCachedSource_EmptyCacheSurfacesSourceError(t *testing.T) {
	bad := &stubSource{ratesErr: assert.AnError, uiErr: assert.AnError}
	c := newTestCache(t, bad)

	_, err := c.FetchCurrencyRates(context.Background())
	assert.Error(t, err)

	_, err = c.FetchIndexedUnitRate(context.Background())
	assert.Error(t, err)
}

func TestCachedSource_RefreshOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rates-cache.db")

	first := &stubSource{rates: map[string]float64{"USD": 40}, ui: 6.0}
	c, err := NewCachedSource(first, path)
	require.NoError(t, err)
	_, err = c.FetchCurrencyRates(context.Background())
	require.NoError(t, err)
	require.NoError(t, c.Close())

	second := &stubSource{rates: map[string]float64{"USD": 41}, ui: 6.1}
	c, err = NewCachedSource(second, path)
	require.NoError(t, err)
	_, err = c.FetchCurrencyRates(context.Background())
	require.NoError(t, err)
	require.NoError(t, c.Close())

	bad := &stubSource{ratesErr: assert.AnError}
	c, err = NewCachedSource(bad, path)
	require.NoError(t, err)
	defer c.Close()

	rates, err := c.FetchCurrencyRates(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 41, rates["USD"], 0.001)
}
