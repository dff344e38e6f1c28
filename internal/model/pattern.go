package model

import "time"

// EntityRole distinguishes supplier profiles from buyer profiles.
type EntityRole string

const (
	RoleSupplier EntityRole = "supplier"
	RoleBuyer    EntityRole = "buyer"
)

// Valid reports whether the role is one of the two known roles.
func (r EntityRole) Valid() bool {
	return r == RoleSupplier || r == RoleBuyer
}

// ItemAggregate is one entry of an entity's purchased-item breakdown.
type ItemAggregate struct {
	Description   string  `json:"description"`
	TotalAmount   float64 `json:"totalAmount"`
	TotalQuantity float64 `json:"totalQuantity"`
	ContractCount int     `json:"contractCount"`

	// AvgUnitPrice is TotalAmount / TotalQuantity, or 0 when the summed
	// quantity is 0.
	AvgUnitPrice float64 `json:"avgUnitPrice"`
}

// EntityPattern is the behavioral rollup for one supplier or buyer identity.
// Patterns are fully recomputed each aggregation run and upserted by
// (entity id, role).
type EntityPattern struct {
	EntityID string     `json:"entityId"`
	Name     string     `json:"name"`
	Role     EntityRole `json:"role"`

	ContractCount int     `json:"contractCount"`
	TotalAmount   float64 `json:"totalAmount"`

	// YearsActive are the distinct source years the entity appears in,
	// ascending.
	YearsActive []int `json:"yearsActive"`

	// CounterpartIDs are distinct buyer ids for a supplier profile, and
	// distinct supplier ids for a buyer profile, sorted.
	CounterpartIDs []string `json:"counterpartIds"`

	// TopItems is the descending-by-amount item breakdown, capped at
	// TopItemLimit entries.
	TopItems []ItemAggregate `json:"topItems"`

	DataVersion int       `json:"dataVersion"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// TopItemLimit bounds the per-entity item breakdown.
const TopItemLimit = 15
