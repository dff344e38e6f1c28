// Package model defines the procurement ledger entities and the derived
// analytics documents computed from them.
package model

import (
	"strings"
	"time"
)

// CanonicalCurrency is the reference currency all multi-currency totals are
// expressed in.
const CanonicalCurrency = "UYU"

// IndexedUnit is the secondary canonical monetary unit (Unidad Indexada) with
// its own day-specific conversion rate.
const IndexedUnit = "UI"

// UnknownDescription is the sentinel used when an item carries no
// classification. Malformed items keep contributing to totals under it.
const UnknownDescription = "Unknown"

// Identity is a supplier or buyer identity as published in the ledger.
type Identity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Money is a monetary value in a specific currency.
type Money struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency,omitempty"`
}

// CurrencyOrDefault returns the currency code, defaulting to the canonical
// currency when absent.
func (m Money) CurrencyOrDefault() string {
	c := strings.TrimSpace(m.Currency)
	if c == "" {
		return CanonicalCurrency
	}
	return c
}

// Classification categorizes a purchased item.
type Classification struct {
	Scheme      string `json:"scheme,omitempty"`
	ID          string `json:"id,omitempty"`
	Description string `json:"description,omitempty"`
}

// DescriptionOrUnknown returns the classification description, or the
// "Unknown" sentinel when the classification is missing or empty.
func (c Classification) DescriptionOrUnknown() string {
	d := strings.TrimSpace(c.Description)
	if d == "" {
		return UnknownDescription
	}
	return d
}

// Item is a single purchased line on an award. Quantity and UnitValue are
// optional in the source documents; defaults are applied at the boundary
// (quantity 1, currency UYU).
type Item struct {
	ID             string         `json:"id,omitempty"`
	Classification Classification `json:"classification"`
	Quantity       *float64       `json:"quantity,omitempty"`
	UnitValue      *Money         `json:"unitValue,omitempty"`
}

// QuantityOrDefault returns the item quantity, defaulting to 1 when absent.
func (it Item) QuantityOrDefault() float64 {
	if it.Quantity == nil {
		return 1
	}
	return *it.Quantity
}

// Award groups the items granted to one or more suppliers on a record.
type Award struct {
	ID        string     `json:"id"`
	Suppliers []Identity `json:"suppliers,omitempty"`
	Items     []Item     `json:"items,omitempty"`
	Value     *Money     `json:"value,omitempty"`
}

// ProcurementRecord is the immutable source-of-truth ledger entry. SourceYear
// is derived from PublishedAt and never contradicts it.
type ProcurementRecord struct {
	ID          string    `json:"id"`
	PublishedAt time.Time `json:"publishedAt"`
	SourceYear  int       `json:"sourceYear"`
	Buyer       Identity  `json:"buyer"`
	Awards      []Award   `json:"awards,omitempty"`
}

// Year returns the record's source year, falling back to the publication
// date when the stored year is zero.
func (r ProcurementRecord) Year() int {
	if r.SourceYear != 0 {
		return r.SourceYear
	}
	if !r.PublishedAt.IsZero() {
		return r.PublishedAt.Year()
	}
	return 0
}
