package billing

import (
	"context"

	"github.com/stretchr/testify/mock"

	"expenseterminal/internal/types"
)

type mockSubs struct {
	mock.Mock
}

func (m *mockSubs) GetLatestByUser(ctx context.Context, userID string) (*types.SubscriptionRecord, error) {
	args := m.Called(ctx, userID)
	if r := args.Get(0); r != nil {
		return r.(*types.SubscriptionRecord), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockSubs) UpdateByExternalID(ctx context.Context, externalID string, upd types.SubscriptionUpdate) (bool, error) {
	args := m.Called(ctx, externalID, upd)
	return args.Bool(0), args.Error(1)
}

type mockCounter struct {
	mock.Mock
}

func (m *mockCounter) CountUploaded(ctx context.Context, userID string) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}

func (m *mockCounter) CountUploadedEligible(ctx context.Context, userID string) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}

type mockSessions struct {
	mock.Mock
}

func (m *mockSessions) CreateCheckoutSession(ctx context.Context, p types.CheckoutParams) (string, string, error) {
	args := m.Called(ctx, p)
	return args.String(0), args.String(1), args.Error(2)
}

func (m *mockSessions) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	args := m.Called(ctx, customerID, returnURL)
	return args.String(0), args.Error(1)
}

func record(plan types.PlanID, status types.SubscriptionStatus) *types.SubscriptionRecord {
	return &types.SubscriptionRecord{
		UserID: "user_1",
		PlanID: &plan,
		Status: &status,
	}
}
