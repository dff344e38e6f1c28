package model

import "time"

// CalcVersion is the current amount-calculation version. Bump it whenever the
// summary arithmetic changes so that stale summaries are recomputed on the
// next run.
const CalcVersion = 3

// AmountSummary is the derived monetary rollup attached 1:1 to a
// ProcurementRecord. It is recomputed in place, never duplicated.
type AmountSummary struct {
	RecordID string `json:"recordId"`

	// TotalsByCurrency holds the raw per-currency totals, including
	// currencies that could not be converted to the canonical currency.
	TotalsByCurrency map[string]float64 `json:"totalsByCurrency"`

	// PrimaryAmount is the canonical-currency (UYU) total across all
	// convertible currencies.
	PrimaryAmount float64 `json:"primaryAmount"`

	ItemCount    int      `json:"itemCount"`
	SkippedItems int      `json:"skippedItems"`
	Currencies   []string `json:"currencies"`

	// HasAmounts is false when the record carried no priced items or
	// award values at all.
	HasAmounts bool `json:"hasAmounts"`

	// HasConvertedAmounts is true when at least one non-canonical currency
	// was successfully converted into PrimaryAmount.
	HasConvertedAmounts bool `json:"hasConvertedAmounts"`

	// RateDate is the effective date of the exchange-rate table used.
	RateDate time.Time `json:"rateDate"`

	Version int `json:"version"`

	// WasVersionUpdate marks a recomputation that superseded a previously
	// stored summary. PreviousAmount keeps the superseded primary total
	// for audit.
	WasVersionUpdate bool     `json:"wasVersionUpdate"`
	PreviousAmount   *float64 `json:"previousAmount,omitempty"`

	// ComputedAt is stamped by the store at write time; the computation
	// itself is pure so reruns over identical input stay byte-identical.
	ComputedAt time.Time `json:"computedAt"`
}
