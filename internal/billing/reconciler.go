package billing

import (
	"context"
	"log/slog"
	"time"

	"expenseterminal/internal/types"
)

// SubscriptionWriter updates a stored subscription addressed by the payments
// provider's subscription id. matched is false when no row carries that id.
type SubscriptionWriter interface {
	UpdateByExternalID(ctx context.Context, externalID string, upd types.SubscriptionUpdate) (matched bool, err error)
}

// Reconciler applies subscription lifecycle events from the payments
// provider to stored subscription rows.
//
// Events are applied last-write-wins. Redelivery of the same event produces
// the same row state apart from updated_at.
type Reconciler struct {
	subs   SubscriptionWriter
	logger *slog.Logger
	now    func() time.Time
}

// NewReconciler creates a Reconciler.
func NewReconciler(subs SubscriptionWriter, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		subs:   subs,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// ApplyLifecycleEvent writes the event's status, period end and cancellation
// flag to the matching row. An event for an unknown subscription is a no-op.
// A store failure is returned as an internal error so the webhook boundary
// can ask the provider to redeliver; no retry happens here.
func (r *Reconciler) ApplyLifecycleEvent(ctx context.Context, ev types.LifecycleEvent) error {
	if ev.ExternalSubscriptionID == "" {
		return types.NewAppError(types.ErrCodeValidationInvalidEvent, "lifecycle event has no subscription id", nil)
	}

	upd := types.SubscriptionUpdate{
		Status:            types.NormalizeSubscriptionStatus(ev.Status),
		CancelAtPeriodEnd: ev.CancelAtPeriodEnd,
		UpdatedAt:         r.now(),
	}
	if ev.CurrentPeriodEndEpochSeconds != nil {
		t := time.Unix(*ev.CurrentPeriodEndEpochSeconds, 0).UTC()
		upd.CurrentPeriodEnd = &t
	}

	matched, err := r.subs.UpdateByExternalID(ctx, ev.ExternalSubscriptionID, upd)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update subscription", err)
	}
	if !matched {
		r.logger.InfoContext(ctx, "lifecycle event for unknown subscription ignored",
			"stripe_subscription_id", ev.ExternalSubscriptionID,
			"status", ev.Status,
		)
		return nil
	}

	r.logger.InfoContext(ctx, "subscription reconciled",
		"stripe_subscription_id", ev.ExternalSubscriptionID,
		"status", upd.Status,
		"cancel_at_period_end", upd.CancelAtPeriodEnd,
	)
	return nil
}
