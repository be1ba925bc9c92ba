// Package billing holds plan entitlement logic: the static plan catalog, the
// AI-eligibility calculator, effective-plan resolution, usage reporting, and
// reconciliation of subscription lifecycle events from the payments provider.
package billing

import "expenseterminal/internal/types"

// freeCSVAICap is the number of uploaded rows a free account may have
// AI-categorized.
const freeCSVAICap = 250

// PlanDefinition describes one subscription tier.
type PlanDefinition struct {
	ID                 types.PlanID `json:"id"`
	Name               string       `json:"name"`
	MonthlyPriceCents  int64        `json:"monthly_price_cents"`
	MaxCSVAIEligible   types.Cap    `json:"max_csv_ai_eligible"`
	AIEnabled          bool         `json:"ai_enabled"`
	BankSyncIncluded   bool         `json:"bank_sync_included"`
	BankSyncComingSoon bool         `json:"bank_sync_coming_soon"`
}

// Catalog is the read-only registry of plan definitions. It is built once at
// startup and shared by every component that needs plan limits.
type Catalog struct {
	plans map[types.PlanID]PlanDefinition
	order []types.PlanID
}

// NewCatalog returns the catalog of free, starter and plus plans.
func NewCatalog() *Catalog {
	defs := []PlanDefinition{
		{
			ID:                types.PlanFree,
			Name:              "Free",
			MonthlyPriceCents: 0,
			MaxCSVAIEligible:  types.Finite(freeCSVAICap),
			AIEnabled:         true,
		},
		{
			ID:                 types.PlanStarter,
			Name:               "Starter",
			MonthlyPriceCents:  900,
			MaxCSVAIEligible:   types.Unlimited(),
			AIEnabled:          true,
			BankSyncComingSoon: true,
		},
		{
			ID:                types.PlanPlus,
			Name:              "Plus",
			MonthlyPriceCents: 1900,
			MaxCSVAIEligible:  types.Unlimited(),
			AIEnabled:         true,
			BankSyncIncluded:  true,
		},
	}

	c := &Catalog{
		plans: make(map[types.PlanID]PlanDefinition, len(defs)),
		order: make([]types.PlanID, 0, len(defs)),
	}
	for _, d := range defs {
		c.plans[d.ID] = d
		c.order = append(c.order, d.ID)
	}
	return c
}

// Definition returns the definition for id. Ids outside the catalog get the
// free definition so a corrupt stored value can never grant more than free.
func (c *Catalog) Definition(id types.PlanID) PlanDefinition {
	if d, ok := c.plans[id]; ok {
		return d
	}
	return c.plans[types.PlanFree]
}

// CapFor returns the AI-eligibility cap for id.
func (c *Catalog) CapFor(id types.PlanID) types.Cap {
	return c.Definition(id).MaxCSVAIEligible
}

// IngestCapFor returns the cap applied when rows are imported. A plan with
// AI disabled admits no eligible rows regardless of its nominal cap.
func (c *Catalog) IngestCapFor(id types.PlanID) types.Cap {
	d := c.Definition(id)
	if !d.AIEnabled {
		return types.Finite(0)
	}
	return d.MaxCSVAIEligible
}

// All returns every definition in display order.
func (c *Catalog) All() []PlanDefinition {
	out := make([]PlanDefinition, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.plans[id])
	}
	return out
}
