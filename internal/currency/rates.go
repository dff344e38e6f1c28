// Package currency provides the exchange-rate table and the conversion of
// multi-currency amounts into the canonical currency (UYU).
package currency

import (
	"math"
	"sort"
	"time"

	"github.com/opengov-uy/compras-analytics/internal/model"
)

// RateTable maps currency codes to their UYU exchange rate as of Date.
// The indexed unit (UI) carries its own day-specific rate. Tables are fetched
// once per run and passed explicitly into every computation so runs stay
// reproducible.
type RateTable struct {
	Date time.Time `json:"date"`

	// Rates maps a currency code to the UYU value of one unit.
	Rates map[string]float64 `json:"rates"`

	// IndexedUnitRate is the UYU value of one UI on Date.
	IndexedUnitRate float64 `json:"indexedUnitRate"`
}

// Codes returns the currency codes with a usable rate, sorted.
func (t RateTable) Codes() []string {
	codes := make([]string, 0, len(t.Rates))
	for c, r := range t.Rates {
		if r > 0 {
			codes = append(codes, c)
		}
	}
	sort.Strings(codes)
	return codes
}

// Convert expresses amount (in currency code) in the canonical currency.
// It returns ok=false when no usable rate exists for the code; callers must
// then exclude the amount from canonical totals while keeping it in the
// per-currency breakdown. Amounts that are not finite or negative are
// rejected.
func Convert(amount float64, code string, table RateTable) (float64, bool) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount < 0 {
		return 0, false
	}

	switch code {
	case "", model.CanonicalCurrency:
		return amount, true
	case model.IndexedUnit:
		if table.IndexedUnitRate <= 0 {
			return 0, false
		}
		return amount * table.IndexedUnitRate, true
	}

	rate, found := table.Rates[code]
	if !found || rate <= 0 {
		return 0, false
	}
	return amount * rate, true
}
