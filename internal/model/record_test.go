package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMoney_CurrencyOrDefault(t *testing.T) {
	assert.Equal(t, "USD", Money{Amount: 1, Currency: "USD"}.CurrencyOrDefault())
	assert.Equal(t, CanonicalCurrency, Money{Amount: 1}.CurrencyOrDefault())
	assert.Equal(t, CanonicalCurrency, Money{Amount: 1, Currency: "  "}.CurrencyOrDefault())
}

func TestClassification_DescriptionOrUnknown(t *testing.T) {
	assert.Equal(t, "Guantes", Classification{Description: "Guantes"}.DescriptionOrUnknown())
	assert.Equal(t, UnknownDescription, Classification{}.DescriptionOrUnknown())
	assert.Equal(t, UnknownDescription, Classification{Description: " "}.DescriptionOrUnknown())
}

func TestItem_QuantityOrDefault(t *testing.T) {
	assert.InDelta(t, 1, Item{}.QuantityOrDefault(), 0.001)

	q := 3.5
	assert.InDelta(t, 3.5, Item{Quantity: &q}.QuantityOrDefault(), 0.001)

	zero := 0.0
	assert.Zero(t, Item{Quantity: &zero}.QuantityOrDefault())
}

func TestProcurementRecord_Year(t *testing.T) {
	assert.Equal(t, 2023, ProcurementRecord{SourceYear: 2023}.Year())

	published := ProcurementRecord{PublishedAt: time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)}
	assert.Equal(t, 2024, published.Year())

	assert.Zero(t, ProcurementRecord{}.Year())
}

func TestEntityRole_Valid(t *testing.T) {
	assert.True(t, RoleSupplier.Valid())
	assert.True(t, RoleBuyer.Valid())
	assert.False(t, EntityRole("auditor").Valid())
}
