package billing

import (
	"context"

	"expenseterminal/internal/types"
)

// SubscriptionReader loads the subscription row that currently governs a
// user's plan. Implementations return (nil, nil) when the user has no row.
type SubscriptionReader interface {
	GetLatestByUser(ctx context.Context, userID string) (*types.SubscriptionRecord, error)
}

// PlanResolver derives a user's effective plan from stored subscription
// state.
type PlanResolver struct {
	subs SubscriptionReader
}

// NewPlanResolver creates a resolver backed by subs.
func NewPlanResolver(subs SubscriptionReader) *PlanResolver {
	return &PlanResolver{subs: subs}
}

// ResolveEffectivePlan returns the plan the user is entitled to right now.
// A missing row is not an error; it resolves to free. Store failures are
// returned so callers never silently downgrade a paying user.
func (r *PlanResolver) ResolveEffectivePlan(ctx context.Context, userID string) (types.PlanID, error) {
	rec, err := r.subs.GetLatestByUser(ctx, userID)
	if err != nil {
		return types.PlanFree, err
	}
	return EffectivePlan(rec), nil
}

// EffectivePlan applies the entitlement decision table to a stored record.
// past_due keeps its paid plan while the provider retries the charge.
func EffectivePlan(rec *types.SubscriptionRecord) types.PlanID {
	if rec == nil || rec.PlanID == nil || rec.Status == nil {
		return types.PlanFree
	}
	if *rec.Status == types.SubStatusCanceled {
		return types.PlanFree
	}
	if rec.Status.IsEntitled() && rec.PlanID.IsPaid() {
		return *rec.PlanID
	}
	return types.PlanFree
}
