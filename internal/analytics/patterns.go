package analytics

import (
	"sort"
	"time"

	"github.com/opengov-uy/compras-analytics/internal/currency"
	"github.com/opengov-uy/compras-analytics/internal/model"
)

// entityAccum collects one entity's rollup state while records stream in.
type entityAccum struct {
	name         string
	records      map[string]struct{}
	total        float64
	years        map[int]struct{}
	counterparts map[string]struct{}

	// items is keyed by description so merging a line is O(1) instead of a
	// linear scan over a growing breakdown list.
	items map[string]*model.ItemAggregate
}

// Accumulator folds procurement records into per-entity rollups for one role.
// It is built once per run with that run's rate table and data version, fed
// batches via Add, and materialized once at the end via Patterns. Patterns
// are fully recomputed per run, never incrementally patched across runs.
type Accumulator struct {
	role     model.EntityRole
	rates    currency.RateTable
	version  int
	entities map[string]*entityAccum
}

// NewAccumulator creates an Accumulator for the given role.
func NewAccumulator(role model.EntityRole, rates currency.RateTable, dataVersion int) *Accumulator {
	return &Accumulator{
		role:     role,
		rates:    rates,
		version:  dataVersion,
		entities: make(map[string]*entityAccum),
	}
}

// Add folds records into the rollups. Only (record, award, item) triples with
// the relevant identity and a positive, convertible item amount contribute.
// An item counts once toward its buyer and once toward each supplier on the
// award. Items without a classification are kept under the "Unknown"
// description so totals stay accurate even when categorical detail is
// incomplete.
func (a *Accumulator) Add(records ...model.ProcurementRecord) {
	for _, rec := range records {
		for _, award := range rec.Awards {
			for _, item := range award.Items {
				if item.UnitValue == nil {
					continue
				}
				qty := item.QuantityOrDefault()
				line, ok := currency.Convert(item.UnitValue.Amount*qty, item.UnitValue.CurrencyOrDefault(), a.rates)
				if !ok || line <= 0 {
					continue
				}

				desc := item.Classification.DescriptionOrUnknown()

				switch a.role {
				case model.RoleSupplier:
					for _, supplier := range award.Suppliers {
						if supplier.ID == "" {
							continue
						}
						a.fold(supplier, rec, desc, line, qty, rec.Buyer.ID)
					}
				case model.RoleBuyer:
					// The line amount counts once for the buyer no matter
					// how many suppliers share the award; the suppliers only
					// widen the counterpart set.
					if rec.Buyer.ID == "" {
						continue
					}
					a.fold(rec.Buyer, rec, desc, line, qty, supplierIDs(award.Suppliers)...)
				}
			}
		}
	}
}

// supplierIDs returns the non-empty supplier ids on an award.
func supplierIDs(suppliers []model.Identity) []string {
	ids := make([]string, 0, len(suppliers))
	for _, s := range suppliers {
		if s.ID != "" {
			ids = append(ids, s.ID)
		}
	}
	return ids
}

func (a *Accumulator) fold(entity model.Identity, rec model.ProcurementRecord, desc string, amount, qty float64, counterparts ...string) {
	acc, ok := a.entities[entity.ID]
	if !ok {
		acc = &entityAccum{
			name:         entity.Name,
			records:      make(map[string]struct{}),
			years:        make(map[int]struct{}),
			counterparts: make(map[string]struct{}),
			items:        make(map[string]*model.ItemAggregate),
		}
		a.entities[entity.ID] = acc
	}

	acc.records[rec.ID] = struct{}{}
	acc.total += amount
	if year := rec.Year(); year != 0 {
		acc.years[year] = struct{}{}
	}
	for _, c := range counterparts {
		if c != "" {
			acc.counterparts[c] = struct{}{}
		}
	}

	agg, ok := acc.items[desc]
	if !ok {
		agg = &model.ItemAggregate{Description: desc}
		acc.items[desc] = agg
	}
	agg.TotalAmount += amount
	agg.TotalQuantity += qty
	agg.ContractCount++
}

// Patterns materializes one EntityPattern per accumulated entity, sorted
// descending by total amount. Item breakdowns are capped at the top
// TopItemLimit entries by total amount, with each entry's weighted average
// unit price recomputed as total amount over total quantity (0 when the
// quantity sums to 0).
func (a *Accumulator) Patterns() []model.EntityPattern {
	now := time.Now().UTC()
	out := make([]model.EntityPattern, 0, len(a.entities))

	for id, acc := range a.entities {
		years := make([]int, 0, len(acc.years))
		for y := range acc.years {
			years = append(years, y)
		}
		sort.Ints(years)

		counterparts := make([]string, 0, len(acc.counterparts))
		for c := range acc.counterparts {
			counterparts = append(counterparts, c)
		}
		sort.Strings(counterparts)

		items := make([]model.ItemAggregate, 0, len(acc.items))
		for _, agg := range acc.items {
			entry := *agg
			if entry.TotalQuantity > 0 {
				entry.AvgUnitPrice = entry.TotalAmount / entry.TotalQuantity
			}
			items = append(items, entry)
		}
		sort.Slice(items, func(i, j int) bool {
			return items[i].TotalAmount > items[j].TotalAmount
		})
		if len(items) > model.TopItemLimit {
			items = items[:model.TopItemLimit]
		}

		out = append(out, model.EntityPattern{
			EntityID:       id,
			Name:           acc.name,
			Role:           a.role,
			ContractCount:  len(acc.records),
			TotalAmount:    acc.total,
			YearsActive:    years,
			CounterpartIDs: counterparts,
			TopItems:       items,
			DataVersion:    a.version,
			UpdatedAt:      now,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].TotalAmount > out[j].TotalAmount
	})
	return out
}

// AggregateEntities rolls up a full record set in one call. The streaming
// Accumulator is preferred for large runs; this keeps the one-shot contract
// for callers that already hold the records in memory.
func AggregateEntities(records []model.ProcurementRecord, role model.EntityRole, rates currency.RateTable, dataVersion int) []model.EntityPattern {
	acc := NewAccumulator(role, rates, dataVersion)
	acc.Add(records...)
	return acc.Patterns()
}
