package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// PlanID identifies a subscription tier.
type PlanID string

const (
	PlanFree    PlanID = "free"
	PlanStarter PlanID = "starter"
	PlanPlus    PlanID = "plus"
)

// IsPaid reports whether the plan is one of the purchasable tiers.
func (p PlanID) IsPaid() bool {
	return p == PlanStarter || p == PlanPlus
}

// SubscriptionStatus is the normalized lifecycle state of a paid subscription.
// Any provider status outside this set is stored as SubStatusCanceled.
type SubscriptionStatus string

const (
	SubStatusActive   SubscriptionStatus = "active"
	SubStatusTrialing SubscriptionStatus = "trialing"
	SubStatusPastDue  SubscriptionStatus = "past_due"
	SubStatusCanceled SubscriptionStatus = "canceled"
)

// IsEntitled reports whether a subscription in this status keeps access to its
// paid plan. past_due stays entitled while the provider retries the payment.
func (s SubscriptionStatus) IsEntitled() bool {
	switch s {
	case SubStatusActive, SubStatusTrialing, SubStatusPastDue:
		return true
	default:
		return false
	}
}

// NormalizeSubscriptionStatus maps a raw provider status onto the stored set.
// Unknown, future, or empty statuses become canceled.
func NormalizeSubscriptionStatus(raw string) SubscriptionStatus {
	s := SubscriptionStatus(raw)
	if s.IsEntitled() {
		return s
	}
	return SubStatusCanceled
}

// Cap is an AI-eligibility limit: either a finite count or Unlimited.
// The zero value is a finite cap of zero.
type Cap struct {
	limit     int
	unlimited bool
}

// Finite returns a cap of n rows. A negative n is the legacy encoding of
// "no cap" and yields Unlimited.
func Finite(n int) Cap {
	if n < 0 {
		return Unlimited()
	}
	return Cap{limit: n}
}

// Unlimited returns a cap that admits every row.
func Unlimited() Cap {
	return Cap{unlimited: true}
}

// CapFromInt converts an integer from storage or configuration into a Cap.
// Negative values mean unlimited.
func CapFromInt(n int) Cap {
	return Finite(n)
}

// IsUnlimited reports whether the cap admits every row.
func (c Cap) IsUnlimited() bool {
	return c.unlimited
}

// Limit returns the finite limit. ok is false for Unlimited.
func (c Cap) Limit() (n int, ok bool) {
	if c.unlimited {
		return 0, false
	}
	return c.limit, true
}

func (c Cap) String() string {
	if c.unlimited {
		return "unlimited"
	}
	return strconv.Itoa(c.limit)
}

// MarshalJSON encodes Unlimited as null and a finite cap as a number.
func (c Cap) MarshalJSON() ([]byte, error) {
	if c.unlimited {
		return []byte("null"), nil
	}
	return []byte(strconv.Itoa(c.limit)), nil
}

// UnmarshalJSON accepts null (unlimited) or an integer. Negative integers are
// read as unlimited.
func (c *Cap) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*c = Unlimited()
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("cap must be an integer or null: %w", err)
	}
	*c = CapFromInt(n)
	return nil
}

// SubscriptionRecord is one stored billing relationship between a user and
// the payments provider. A user may accumulate several rows across
// resubscriptions; the most recently updated one is authoritative.
type SubscriptionRecord struct {
	ID                   string
	UserID               string
	PlanID               *PlanID
	Status               *SubscriptionStatus
	CurrentPeriodEnd     *time.Time
	CancelAtPeriodEnd    bool
	StripeCustomerID     string
	StripeSubscriptionID string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// SubscriptionUpdate carries the fields a lifecycle event may change.
type SubscriptionUpdate struct {
	Status            SubscriptionStatus
	CurrentPeriodEnd  *time.Time
	CancelAtPeriodEnd bool
	UpdatedAt         time.Time
}

// CheckoutRecord is written when a checkout session completes and a paid
// subscription row is first created.
type CheckoutRecord struct {
	UserID               string
	PlanID               PlanID
	Status               SubscriptionStatus
	StripeCustomerID     string
	StripeSubscriptionID string
	CreatedAt            time.Time
}

// LifecycleEvent is the provider-neutral shape of a subscription change
// reported by the payments provider.
type LifecycleEvent struct {
	ExternalSubscriptionID       string `json:"external_subscription_id"`
	Status                       string `json:"status"`
	CurrentPeriodEndEpochSeconds *int64 `json:"current_period_end_epoch_seconds"`
	CancelAtPeriodEnd            bool   `json:"cancel_at_period_end"`
}

// UsageSnapshot reports a user's AI-eligibility usage against their plan cap.
// It is computed on every request and never persisted.
type UsageSnapshot struct {
	Plan               PlanID              `json:"plan"`
	Cap                Cap                 `json:"cap"`
	TotalUploaded      int                 `json:"total_uploaded"`
	EligibleForAI      int                 `json:"eligible_for_ai"`
	OverLimitCount     int                 `json:"over_limit_count"`
	OverLimit          bool                `json:"over_limit"`
	SubscriptionStatus *SubscriptionStatus `json:"subscription_status"`
	CurrentPeriodEnd   *time.Time          `json:"current_period_end"`
	CancelAtPeriodEnd  bool                `json:"cancel_at_period_end"`
}

// RedirectURLs holds the server-built return targets for hosted checkout.
type RedirectURLs struct {
	Success string
	Cancel  string
}

// Invoice is a billing document fetched from the payments provider.
type Invoice struct {
	ID          string     `json:"id"`
	AmountCents int64      `json:"amount_cents"`
	Currency    string     `json:"currency"`
	Status      string     `json:"status"`
	PeriodStart time.Time  `json:"period_start"`
	PeriodEnd   time.Time  `json:"period_end"`
	PaidAt      *time.Time `json:"paid_at,omitempty"`
	PDFURL      string     `json:"pdf_url,omitempty"`
}

// ListInvoicesParams maps onto the provider's cursor pagination.
type ListInvoicesParams struct {
	Limit  int
	Cursor string
}

// CheckoutParams describes a hosted checkout session to open with the
// payments provider.
type CheckoutParams struct {
	UserID     string
	Email      string
	CustomerID string
	PriceID    string
	Plan       PlanID
	Redirect   RedirectURLs
}
