package billing

import (
	"context"
	"fmt"

	"expenseterminal/internal/types"
)

// SessionProvider opens hosted payment pages with the payments provider.
type SessionProvider interface {
	CreateCheckoutSession(ctx context.Context, p types.CheckoutParams) (url string, sessionID string, err error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (url string, err error)
}

// CheckoutMode tells the client which hosted page it is being sent to.
type CheckoutMode string

const (
	ModeCheckout CheckoutMode = "checkout"
	ModePortal   CheckoutMode = "portal"
)

// CheckoutOutcome is the result of starting an upgrade.
type CheckoutOutcome struct {
	Mode      CheckoutMode `json:"mode"`
	URL       string       `json:"url"`
	SessionID string       `json:"session_id,omitempty"`
}

// Checkout decides between a new checkout session and the billing portal
// when a user asks to move to a paid plan.
type Checkout struct {
	sessions SessionProvider
	subs     SubscriptionReader
	prices   map[types.PlanID]string
}

// NewCheckout creates a Checkout. prices maps each paid plan to the
// provider's price id; a missing or empty entry means the plan cannot be sold.
func NewCheckout(sessions SessionProvider, subs SubscriptionReader, prices map[types.PlanID]string) *Checkout {
	return &Checkout{sessions: sessions, subs: subs, prices: prices}
}

// PriceFor returns the configured price id for plan or a
// config_plan_not_configured error.
func (c *Checkout) PriceFor(plan types.PlanID) (string, error) {
	price := c.prices[plan]
	if price == "" {
		return "", types.NewAppErrorWithDetails(
			types.ErrCodeConfigPlanNotConfigured,
			fmt.Sprintf("plan %s is not available for purchase", plan),
			nil,
			map[string]any{"plan": plan},
		)
	}
	return price, nil
}

// Start opens the page the user should visit to buy plan. A user who
// whose latest subscription resolves to a paid plan and has a provider
// customer is sent to the portal so they change plans there instead of
// paying twice.
func (c *Checkout) Start(ctx context.Context, userID, email string, plan types.PlanID, urls types.RedirectURLs, portalReturnURL string) (*CheckoutOutcome, error) {
	if !plan.IsPaid() {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidPlan, "plan must be starter or plus", nil)
	}

	price, err := c.PriceFor(plan)
	if err != nil {
		return nil, err
	}

	rec, err := c.subs.GetLatestByUser(ctx, userID)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load subscription", err)
	}

	if rec != nil && rec.StripeCustomerID != "" && EffectivePlan(rec).IsPaid() {
		url, err := c.sessions.CreatePortalSession(ctx, rec.StripeCustomerID, portalReturnURL)
		if err != nil {
			return nil, err
		}
		return &CheckoutOutcome{Mode: ModePortal, URL: url}, nil
	}

	params := types.CheckoutParams{
		UserID:   userID,
		Email:    email,
		PriceID:  price,
		Plan:     plan,
		Redirect: urls,
	}
	if rec != nil {
		params.CustomerID = rec.StripeCustomerID
	}

	url, sessionID, err := c.sessions.CreateCheckoutSession(ctx, params)
	if err != nil {
		return nil, err
	}
	return &CheckoutOutcome{Mode: ModeCheckout, URL: url, SessionID: sessionID}, nil
}

// Portal opens the billing portal for a user with a stored provider customer.
func (c *Checkout) Portal(ctx context.Context, userID, returnURL string) (string, error) {
	customerID, err := c.CustomerID(ctx, userID)
	if err != nil {
		return "", err
	}
	return c.sessions.CreatePortalSession(ctx, customerID, returnURL)
}

// CustomerID returns the stored provider customer for userID.
func (c *Checkout) CustomerID(ctx context.Context, userID string) (string, error) {
	rec, err := c.subs.GetLatestByUser(ctx, userID)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalDB, "failed to load subscription", err)
	}
	if rec == nil || rec.StripeCustomerID == "" {
		return "", types.NewAppError(types.ErrCodeNotFoundCustomer, "no billing account exists for this user", nil)
	}
	return rec.StripeCustomerID, nil
}
