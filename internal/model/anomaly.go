package model

import "time"

// AnomalyType identifies the detection that produced an anomaly.
type AnomalyType string

// AnomalyPriceSpike flags an item priced far above its classification peers.
const AnomalyPriceSpike AnomalyType = "price_spike"

// Severity tiers a detected anomaly for triage.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// AnomalyMeta carries human-review context for a finding.
type AnomalyMeta struct {
	ItemDescription string `json:"itemDescription"`
	Scheme          string `json:"scheme,omitempty"`
	SupplierName    string `json:"supplierName,omitempty"`
	BuyerName       string `json:"buyerName,omitempty"`
	Year            int    `json:"year,omitempty"`
	Currency        string `json:"currency,omitempty"`
}

// Anomaly is an event-like finding keyed by (record id, award id, type).
// Reruns upsert in place; findings are never auto-deleted. Stale findings are
// recognizable by a DataVersion older than the latest run's.
type Anomaly struct {
	RecordID string      `json:"recordId"`
	AwardID  string      `json:"awardId"`
	Type     AnomalyType `json:"type"`
	Severity Severity    `json:"severity"`

	DetectedValue float64 `json:"detectedValue"`
	ExpectedMin   float64 `json:"expectedMin"`
	ExpectedMax   float64 `json:"expectedMax"`

	// Confidence is a static heuristic, not a learned score.
	Confidence float64 `json:"confidence"`

	Meta AnomalyMeta `json:"meta"`

	DataVersion int       `json:"dataVersion"`
	DetectedAt  time.Time `json:"detectedAt"`
}
