package currency

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/opengov-uy/compras-analytics/internal/fetcher"
)

// RateSource provides the latest available exchange rates as of run time.
// The design supports per-date lookup through RateTable.Date, but the
// simplified sources return a single latest table.
type RateSource interface {
	// FetchCurrencyRates returns the UYU rate for each known currency code.
	FetchCurrencyRates(ctx context.Context) (map[string]float64, error)

	// FetchIndexedUnitRate returns the UYU value of one UI.
	FetchIndexedUnitRate(ctx context.Context) (float64, error)
}

// FetchTable assembles a full RateTable from a source. The indexed-unit rate
// is fetched separately; its failure is downgraded to a warning because UI
// amounts can still be reported in the per-currency breakdown without it.
func FetchTable(ctx context.Context, src RateSource) (RateTable, error) {
	rates, err := src.FetchCurrencyRates(ctx)
	if err != nil {
		return RateTable{}, eris.Wrap(err, "currency: fetch rates")
	}

	table := RateTable{
		Date:  time.Now().UTC().Truncate(24 * time.Hour),
		Rates: rates,
	}

	ui, err := src.FetchIndexedUnitRate(ctx)
	if err != nil {
		zap.L().Warn("currency: indexed unit rate unavailable", zap.Error(err))
	} else {
		table.IndexedUnitRate = ui
	}

	return table, nil
}

// HTTPSource fetches rates from the cotizaciones JSON API.
type HTTPSource struct {
	baseURL string
	fetch   fetcher.Fetcher
}

// NewHTTPSource creates an HTTPSource rooted at baseURL.
func NewHTTPSource(baseURL string, f fetcher.Fetcher) *HTTPSource {
	return &HTTPSource{baseURL: baseURL, fetch: f}
}

type ratesResponse struct {
	Date  string             `json:"date"`
	Rates map[string]float64 `json:"rates"`
}

type uiResponse struct {
	Date string  `json:"date"`
	Rate float64 `json:"rate"`
}

// FetchCurrencyRates returns the latest published currency table.
func (s *HTTPSource) FetchCurrencyRates(ctx context.Context) (map[string]float64, error) {
	var resp ratesResponse
	if err := s.fetch.GetJSON(ctx, s.baseURL+"/rates/latest", &resp); err != nil {
		return nil, eris.Wrap(err, "currency: get latest rates")
	}
	if len(resp.Rates) == 0 {
		return nil, eris.New("currency: empty rate table from source")
	}
	return resp.Rates, nil
}

// FetchIndexedUnitRate returns the latest published UI rate.
func (s *HTTPSource) FetchIndexedUnitRate(ctx context.Context) (float64, error) {
	var resp uiResponse
	if err := s.fetch.GetJSON(ctx, s.baseURL+"/ui/latest", &resp); err != nil {
		return 0, eris.Wrap(err, "currency: get UI rate")
	}
	if resp.Rate <= 0 {
		return 0, eris.Errorf("currency: non-positive UI rate %v from source", resp.Rate)
	}
	return resp.Rate, nil
}
