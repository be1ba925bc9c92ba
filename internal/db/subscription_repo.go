package db

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"expenseterminal/internal/types"
)

const subscriptionColumns = `id, user_id, plan_id, status, current_period_end, cancel_at_period_end,
	COALESCE(stripe_customer_id, ''), COALESCE(stripe_subscription_id, ''), created_at, updated_at`

// SubscriptionRepo stores each user's billing relationship with Stripe.
//
// Rows are never deleted. A user who resubscribes gets a new row and the most
// recently updated row is the one that counts.
type SubscriptionRepo struct {
	db     DBTX
	logger *slog.Logger
}

// NewSubscriptionRepo creates a SubscriptionRepo.
func NewSubscriptionRepo(db DBTX, logger *slog.Logger) *SubscriptionRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &SubscriptionRepo{db: db, logger: logger}
}

// GetLatestByUser returns the most recently updated subscription row for
// userID, or (nil, nil) if the user has never had one.
func (r *SubscriptionRepo) GetLatestByUser(ctx context.Context, userID string) (*types.SubscriptionRecord, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+subscriptionColumns+`
		 FROM subscriptions
		 WHERE user_id = $1
		 ORDER BY updated_at DESC
		 LIMIT 1`,
		userID,
	)

	var (
		rec    types.SubscriptionRecord
		plan   *string
		status *string
	)
	err := row.Scan(
		&rec.ID,
		&rec.UserID,
		&plan,
		&status,
		&rec.CurrentPeriodEnd,
		&rec.CancelAtPeriodEnd,
		&rec.StripeCustomerID,
		&rec.StripeSubscriptionID,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load subscription", err)
	}

	if plan != nil {
		p := types.PlanID(*plan)
		rec.PlanID = &p
	}
	if status != nil {
		s := types.SubscriptionStatus(*status)
		rec.Status = &s
	}
	return &rec, nil
}

// UpdateByExternalID applies a lifecycle update to the row carrying the
// given Stripe subscription id. matched is false when no such row exists.
// The write is a single-row UPDATE so the three fields change together.
func (r *SubscriptionRepo) UpdateByExternalID(ctx context.Context, externalID string, upd types.SubscriptionUpdate) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE subscriptions
		 SET status = $1,
		     current_period_end = $2,
		     cancel_at_period_end = $3,
		     updated_at = $4
		 WHERE stripe_subscription_id = $5`,
		string(upd.Status),
		upd.CurrentPeriodEnd,
		upd.CancelAtPeriodEnd,
		upd.UpdatedAt,
		externalID,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to update subscription", err)
	}
	return tag.RowsAffected() > 0, nil
}

// RecordCheckout creates the subscription row for a completed checkout.
// created_at carries the provider event time; updated_at is the write time,
// matching lifecycle updates, so GetLatestByUser orders by when rows changed.
// Replayed webhooks hit the unique stripe_subscription_id and only refresh
// the customer and plan.
func (r *SubscriptionRepo) RecordCheckout(ctx context.Context, rec types.CheckoutRecord) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO subscriptions
		   (user_id, plan_id, status, stripe_customer_id, stripe_subscription_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NOW())
		 ON CONFLICT (stripe_subscription_id) DO UPDATE
		 SET plan_id = EXCLUDED.plan_id,
		     stripe_customer_id = EXCLUDED.stripe_customer_id`,
		rec.UserID,
		string(rec.PlanID),
		string(rec.Status),
		rec.StripeCustomerID,
		rec.StripeSubscriptionID,
		rec.CreatedAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to record checkout", err)
	}

	r.logger.InfoContext(ctx, "checkout recorded",
		"user_id", rec.UserID,
		"plan", rec.PlanID,
		"stripe_subscription_id", rec.StripeSubscriptionID,
	)
	return nil
}
