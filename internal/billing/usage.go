package billing

import (
	"context"

	"golang.org/x/sync/errgroup"

	"expenseterminal/internal/types"
)

// TransactionCounter provides the two live counts the usage report needs.
// Both are scoped to rows that arrived through batch upload.
type TransactionCounter interface {
	CountUploaded(ctx context.Context, userID string) (int, error)
	CountUploadedEligible(ctx context.Context, userID string) (int, error)
}

// UsageAggregator builds the usage report shown on the billing page.
type UsageAggregator struct {
	catalog  *Catalog
	subs     SubscriptionReader
	txns     TransactionCounter
	resolver *PlanResolver
}

// NewUsageAggregator creates an aggregator. The same SubscriptionReader
// feeds both plan resolution and the display fields.
func NewUsageAggregator(catalog *Catalog, subs SubscriptionReader, txns TransactionCounter) *UsageAggregator {
	return &UsageAggregator{
		catalog:  catalog,
		subs:     subs,
		txns:     txns,
		resolver: NewPlanResolver(subs),
	}
}

// GetUsageSnapshot computes the current usage report for userID. Nothing is
// cached; every call reads the store.
//
// The over-limit check here is retrospective over stored totals. Ingestion
// applies ComputeEligibility prospectively, so concurrent imports may push the
// total past the cap and this report is where that shows up.
func (a *UsageAggregator) GetUsageSnapshot(ctx context.Context, userID string) (*types.UsageSnapshot, error) {
	plan, err := a.resolver.ResolveEffectivePlan(ctx, userID)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to resolve plan", err)
	}

	var total, eligible int
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := a.txns.CountUploaded(gctx, userID)
		total = n
		return err
	})
	g.Go(func() error {
		n, err := a.txns.CountUploadedEligible(gctx, userID)
		eligible = n
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to count transactions", err)
	}

	rec, err := a.subs.GetLatestByUser(ctx, userID)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load subscription", err)
	}

	limit := a.catalog.CapFor(plan)
	snap := &types.UsageSnapshot{
		Plan:          plan,
		Cap:           limit,
		TotalUploaded: total,
		EligibleForAI: eligible,
	}
	if n, finite := limit.Limit(); finite {
		snap.OverLimitCount = max(0, total-n)
		snap.OverLimit = total > n
	}
	if rec != nil {
		snap.SubscriptionStatus = rec.Status
		snap.CurrentPeriodEnd = rec.CurrentPeriodEnd
		snap.CancelAtPeriodEnd = rec.CancelAtPeriodEnd
	}

	return snap, nil
}
