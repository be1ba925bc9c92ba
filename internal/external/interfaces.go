package external

import (
	"context"

	"expenseterminal/internal/types"
)

// BillingService abstracts the payments provider (Stripe). Customer ids come
// from stored subscription rows; the provider client keeps no state of its
// own.
type BillingService interface {
	// CreateCheckoutSession opens a hosted checkout for one price. The user
	// id is sent as client_reference_id for webhook correlation.
	CreateCheckoutSession(ctx context.Context, p types.CheckoutParams) (checkoutURL string, sessionID string, err error)

	// CreatePortalSession opens the self-serve billing portal.
	CreatePortalSession(ctx context.Context, customerID string, returnURL string) (portalURL string, err error)

	// GetInvoices lists invoices newest first. The cursor maps to Stripe's
	// starting_after parameter.
	GetInvoices(ctx context.Context, customerID string, params types.ListInvoicesParams) ([]*types.Invoice, types.PageInfo, error)
}

// WebhookVerifier abstracts Stripe webhook signature checking.
type WebhookVerifier interface {
	// Verify validates a payload against the Stripe-Signature header and the
	// endpoint's signing secret. Returns nil on success.
	Verify(payload []byte, header string, secret string) error
}

// Categorizer assigns an expense category to transactions.
type Categorizer interface {
	// Categorize returns one assignment per transaction it could classify.
	// Transactions the model skipped are simply absent from the result.
	Categorize(ctx context.Context, txns []*types.Transaction) ([]types.CategoryAssignment, error)
}

// Stripe event types the webhook handler acts on.
const (
	EventStripeCheckoutCompleted = "checkout.session.completed"
	EventStripeSubUpdated        = "customer.subscription.updated"
	EventStripeSubDeleted        = "customer.subscription.deleted"
)

var (
	_ BillingService  = (*StripeClient)(nil)
	_ WebhookVerifier = (*StripeVerifier)(nil)
	_ Categorizer     = (*OpenAICategorizer)(nil)
)
