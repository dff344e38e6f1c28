package analytics

import (
	"sort"
	"time"

	"github.com/montanaflynn/stats"

	"github.com/opengov-uy/compras-analytics/internal/model"
)

// PricedItem is one high-value comparison candidate: an award item with its
// amount already expressed in the canonical currency.
type PricedItem struct {
	RecordID    string
	AwardID     string
	Description string
	Scheme      string

	// Amount is the canonical-currency item amount.
	Amount float64

	SupplierName string
	BuyerName    string
	Year         int
	Currency     string
}

// SpikeOptions tunes price-spike detection.
type SpikeOptions struct {
	// HighValueThreshold is the fixed cutoff bounding the comparison set;
	// items at or below it never enter spike analysis.
	HighValueThreshold float64

	// MinGroupSize is the minimum number of comparable items a
	// (description, scheme) group needs before statistics are meaningful.
	MinGroupSize int

	// SpikeMultiplier is the intra-group ratio a group's max must exceed,
	// relative to its mean, for the group to be retained. Outlier instances
	// within a retained group are items above mean × SpikeMultiplier/2.
	SpikeMultiplier float64
}

// DefaultSpikeOptions returns the production detection thresholds.
func DefaultSpikeOptions() SpikeOptions {
	return SpikeOptions{
		HighValueThreshold: 100_000,
		MinGroupSize:       5,
		SpikeMultiplier:    10,
	}
}

// spikeConfidence is a static heuristic, not a learned score.
const spikeConfidence = 0.8

type spikeGroup struct {
	items []PricedItem
}

// DetectPriceSpikes flags items priced far above their classification peers.
// Statistics are computed once per group from the full filtered population,
// so a rerun over unchanged data reproduces identical severity assignments.
// Findings are keyed by (record id, award id, type); when several items in
// one award qualify, the largest detected value wins the key.
func DetectPriceSpikes(items []PricedItem, opts SpikeOptions, dataVersion int) []model.Anomaly {
	if opts.HighValueThreshold <= 0 || opts.MinGroupSize <= 0 || opts.SpikeMultiplier <= 0 {
		def := DefaultSpikeOptions()
		if opts.HighValueThreshold <= 0 {
			opts.HighValueThreshold = def.HighValueThreshold
		}
		if opts.MinGroupSize <= 0 {
			opts.MinGroupSize = def.MinGroupSize
		}
		if opts.SpikeMultiplier <= 0 {
			opts.SpikeMultiplier = def.SpikeMultiplier
		}
	}

	groups := make(map[[2]string]*spikeGroup)
	for _, item := range items {
		if item.Amount <= opts.HighValueThreshold {
			continue
		}
		key := [2]string{item.Description, item.Scheme}
		g, ok := groups[key]
		if !ok {
			g = &spikeGroup{}
			groups[key] = g
		}
		g.items = append(g.items, item)
	}

	now := time.Now().UTC()
	byKey := make(map[[3]string]model.Anomaly)

	for _, g := range groups {
		if len(g.items) < opts.MinGroupSize {
			continue
		}

		amounts := make([]float64, len(g.items))
		for i, item := range g.items {
			amounts[i] = item.Amount
		}

		mean, err := stats.Mean(amounts)
		if err != nil || mean <= 0 {
			continue
		}
		max, err := stats.Max(amounts)
		if err != nil {
			continue
		}

		// Intra-group ratio test: an outlier is meaningful only relative
		// to peers making the same kind of purchase.
		if max <= mean*opts.SpikeMultiplier {
			continue
		}

		outlierCutoff := mean * opts.SpikeMultiplier / 2

		for _, item := range g.items {
			if item.Amount <= outlierCutoff {
				continue
			}

			anomaly := model.Anomaly{
				RecordID:      item.RecordID,
				AwardID:       item.AwardID,
				Type:          model.AnomalyPriceSpike,
				Severity:      classifySeverity(item.Amount, mean),
				DetectedValue: item.Amount,
				ExpectedMin:   mean * 0.5,
				ExpectedMax:   mean * 2,
				Confidence:    spikeConfidence,
				Meta: model.AnomalyMeta{
					ItemDescription: item.Description,
					Scheme:          item.Scheme,
					SupplierName:    item.SupplierName,
					BuyerName:       item.BuyerName,
					Year:            item.Year,
					Currency:        item.Currency,
				},
				DataVersion: dataVersion,
				DetectedAt:  now,
			}

			key := [3]string{item.RecordID, item.AwardID, string(model.AnomalyPriceSpike)}
			if existing, ok := byKey[key]; !ok || anomaly.DetectedValue > existing.DetectedValue {
				byKey[key] = anomaly
			}
		}
	}

	out := make([]model.Anomaly, 0, len(byKey))
	for _, a := range byKey {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RecordID != out[j].RecordID {
			return out[i].RecordID < out[j].RecordID
		}
		return out[i].AwardID < out[j].AwardID
	})
	return out
}

// classifySeverity tiers an outlier by how far it sits above the group mean.
// Evaluated high to low; first match wins.
func classifySeverity(amount, mean float64) model.Severity {
	switch {
	case amount > mean*20:
		return model.SeverityCritical
	case amount > mean*15:
		return model.SeverityHigh
	case amount > mean*10:
		return model.SeverityMedium
	default:
		return model.SeverityLow
	}
}
