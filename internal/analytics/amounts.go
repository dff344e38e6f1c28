// Package analytics implements the pure computation stages of the pipeline:
// amount summaries, entity patterns, and price-spike detection. Every
// function here is deterministic given its inputs; rate tables are passed in
// explicitly so there is no hidden state between runs.
package analytics

import (
	"math"
	"sort"

	"github.com/opengov-uy/compras-analytics/internal/currency"
	"github.com/opengov-uy/compras-analytics/internal/model"
)

// ComputeAmountSummary sums every item's amount × quantity grouped by
// currency, plus any award-level direct value, across all awards on a record.
// Identical awards and an identical rate table produce identical numeric
// output regardless of call site; only the WasVersionUpdate/PreviousAmount
// audit fields depend on prev.
//
// Items with a negative or non-finite amount are skipped and counted in
// SkippedItems. A missing quantity defaults to 1. Amounts in a currency with
// no usable rate stay in TotalsByCurrency but are excluded from
// PrimaryAmount.
func ComputeAmountSummary(recordID string, awards []model.Award, rates currency.RateTable, prev *model.AmountSummary) model.AmountSummary {
	totals := make(map[string]float64)
	var primary float64
	var itemCount, skipped int
	hasConverted := false

	accumulate := func(amount float64, code string) {
		totals[code] += amount
		if converted, ok := currency.Convert(amount, code, rates); ok {
			primary += converted
			if code != model.CanonicalCurrency {
				hasConverted = true
			}
		}
	}

	for _, award := range awards {
		for _, item := range award.Items {
			if item.UnitValue == nil {
				continue
			}
			amount := item.UnitValue.Amount
			if math.IsNaN(amount) || math.IsInf(amount, 0) || amount < 0 {
				skipped++
				continue
			}
			qty := item.QuantityOrDefault()
			accumulate(amount*qty, item.UnitValue.CurrencyOrDefault())
			itemCount++
		}

		if award.Value != nil {
			amount := award.Value.Amount
			if math.IsNaN(amount) || math.IsInf(amount, 0) || amount < 0 {
				skipped++
				continue
			}
			accumulate(amount, award.Value.CurrencyOrDefault())
		}
	}

	currencies := make([]string, 0, len(totals))
	for code := range totals {
		currencies = append(currencies, code)
	}
	sort.Strings(currencies)

	summary := model.AmountSummary{
		RecordID:            recordID,
		TotalsByCurrency:    totals,
		PrimaryAmount:       primary,
		ItemCount:           itemCount,
		SkippedItems:        skipped,
		Currencies:          currencies,
		HasAmounts:          len(totals) > 0,
		HasConvertedAmounts: hasConverted,
		RateDate:            rates.Date,
		Version:             model.CalcVersion,
	}

	if prev != nil {
		summary.WasVersionUpdate = true
		prevAmount := prev.PrimaryAmount
		summary.PreviousAmount = &prevAmount
	}

	return summary
}
