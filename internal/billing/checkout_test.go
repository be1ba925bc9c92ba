package billing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"expenseterminal/internal/types"
)

var testURLs = types.RedirectURLs{
	Success: "https://app.example.com/billing?success=true",
	Cancel:  "https://app.example.com/billing?canceled=true",
}

const testReturnURL = "https://app.example.com/billing"

func newTestCheckout() (*Checkout, *mockSessions, *mockSubs) {
	sessions := new(mockSessions)
	subs := new(mockSubs)
	c := NewCheckout(sessions, subs, map[types.PlanID]string{
		types.PlanStarter: "price_starter",
		types.PlanPlus:    "",
	})
	return c, sessions, subs
}

func TestCheckoutStart_NewCustomer(t *testing.T) {
	c, sessions, subs := newTestCheckout()

	subs.On("GetLatestByUser", mock.Anything, "user_1").Return(nil, nil)
	sessions.On("CreateCheckoutSession", mock.Anything, types.CheckoutParams{
		UserID:   "user_1",
		Email:    "a@example.com",
		PriceID:  "price_starter",
		Plan:     types.PlanStarter,
		Redirect: testURLs,
	}).Return("https://checkout.stripe.com/c/cs_1", "cs_1", nil)

	out, err := c.Start(context.Background(), "user_1", "a@example.com", types.PlanStarter, testURLs, testReturnURL)
	require.NoError(t, err)
	assert.Equal(t, ModeCheckout, out.Mode)
	assert.Equal(t, "cs_1", out.SessionID)
	sessions.AssertExpectations(t)
}

func TestCheckoutStart_EntitledGoesToPortal(t *testing.T) {
	c, sessions, subs := newTestCheckout()

	rec := record(types.PlanStarter, types.SubStatusActive)
	rec.StripeCustomerID = "cus_1"
	subs.On("GetLatestByUser", mock.Anything, "user_1").Return(rec, nil)
	sessions.On("CreatePortalSession", mock.Anything, "cus_1", testReturnURL).Return("https://billing.stripe.com/p/1", nil)

	out, err := c.Start(context.Background(), "user_1", "a@example.com", types.PlanStarter, testURLs, testReturnURL)
	require.NoError(t, err)
	assert.Equal(t, ModePortal, out.Mode)
	assert.Empty(t, out.SessionID)
	sessions.AssertNotCalled(t, "CreateCheckoutSession", mock.Anything, mock.Anything)
}

func TestCheckoutStart_CanceledReusesCustomer(t *testing.T) {
	c, sessions, subs := newTestCheckout()

	rec := record(types.PlanStarter, types.SubStatusCanceled)
	rec.StripeCustomerID = "cus_1"
	subs.On("GetLatestByUser", mock.Anything, "user_1").Return(rec, nil)
	sessions.On("CreateCheckoutSession", mock.Anything, mock.MatchedBy(func(p types.CheckoutParams) bool {
		return p.CustomerID == "cus_1" && p.PriceID == "price_starter"
	})).Return("https://checkout.stripe.com/c/cs_2", "cs_2", nil)

	out, err := c.Start(context.Background(), "user_1", "", types.PlanStarter, testURLs, testReturnURL)
	require.NoError(t, err)
	assert.Equal(t, ModeCheckout, out.Mode)
}

func TestCheckoutStart_EntitledWithoutPaidPlanGoesToCheckout(t *testing.T) {
	for _, plan := range []*types.PlanID{nil, ptrPlan(types.PlanFree)} {
		c, sessions, subs := newTestCheckout()

		status := types.SubStatusActive
		rec := &types.SubscriptionRecord{UserID: "user_1", PlanID: plan, Status: &status, StripeCustomerID: "cus_1"}
		subs.On("GetLatestByUser", mock.Anything, "user_1").Return(rec, nil)
		sessions.On("CreateCheckoutSession", mock.Anything, mock.MatchedBy(func(p types.CheckoutParams) bool {
			return p.CustomerID == "cus_1" && p.Plan == types.PlanStarter
		})).Return("https://checkout.stripe.com/c/cs_3", "cs_3", nil)

		out, err := c.Start(context.Background(), "user_1", "", types.PlanStarter, testURLs, testReturnURL)
		require.NoError(t, err)
		assert.Equal(t, ModeCheckout, out.Mode)
		sessions.AssertNotCalled(t, "CreatePortalSession", mock.Anything, mock.Anything, mock.Anything)
	}
}

func ptrPlan(p types.PlanID) *types.PlanID { return &p }

func TestCheckoutStart_PlanNotConfigured(t *testing.T) {
	c, _, subs := newTestCheckout()

	_, err := c.Start(context.Background(), "user_1", "", types.PlanPlus, testURLs, testReturnURL)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrCodeConfigPlanNotConfigured))
	subs.AssertNotCalled(t, "GetLatestByUser", mock.Anything, mock.Anything)
}

func TestCheckoutStart_FreeRejected(t *testing.T) {
	c, _, _ := newTestCheckout()

	_, err := c.Start(context.Background(), "user_1", "", types.PlanFree, testURLs, testReturnURL)
	assert.True(t, types.IsCode(err, types.ErrCodeValidationInvalidPlan))
}

func TestPortal_NoCustomer(t *testing.T) {
	c, _, subs := newTestCheckout()
	subs.On("GetLatestByUser", mock.Anything, "user_1").Return(nil, nil)

	_, err := c.Portal(context.Background(), "user_1", testReturnURL)
	assert.True(t, types.IsCode(err, types.ErrCodeNotFoundCustomer))
}
