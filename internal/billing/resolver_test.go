package billing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"expenseterminal/internal/types"
)

func TestEffectivePlan_DecisionTable(t *testing.T) {
	starter := types.PlanStarter
	active := types.SubStatusActive

	tests := []struct {
		name string
		rec  *types.SubscriptionRecord
		want types.PlanID
	}{
		{"no record", nil, types.PlanFree},
		{"plan absent", &types.SubscriptionRecord{Status: &active}, types.PlanFree},
		{"status absent", &types.SubscriptionRecord{PlanID: &starter}, types.PlanFree},
		{"starter canceled", record(types.PlanStarter, types.SubStatusCanceled), types.PlanFree},
		{"starter active", record(types.PlanStarter, types.SubStatusActive), types.PlanStarter},
		{"plus trialing", record(types.PlanPlus, types.SubStatusTrialing), types.PlanPlus},
		{"starter past_due keeps access", record(types.PlanStarter, types.SubStatusPastDue), types.PlanStarter},
		{"free active", record(types.PlanFree, types.SubStatusActive), types.PlanFree},
		{"unknown plan active", record(types.PlanID("gold"), types.SubStatusActive), types.PlanFree},
		{"plus with unnormalized status", record(types.PlanPlus, types.SubscriptionStatus("unpaid")), types.PlanFree},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EffectivePlan(tt.rec))
		})
	}
}

func TestResolveEffectivePlan(t *testing.T) {
	subs := new(mockSubs)
	subs.On("GetLatestByUser", mock.Anything, "user_1").Return(record(types.PlanPlus, types.SubStatusActive), nil)
	subs.On("GetLatestByUser", mock.Anything, "user_2").Return(nil, nil)

	r := NewPlanResolver(subs)

	plan, err := r.ResolveEffectivePlan(context.Background(), "user_1")
	require.NoError(t, err)
	assert.Equal(t, types.PlanPlus, plan)

	plan, err = r.ResolveEffectivePlan(context.Background(), "user_2")
	require.NoError(t, err)
	assert.Equal(t, types.PlanFree, plan)

	subs.AssertExpectations(t)
}

func TestResolveEffectivePlan_StoreError(t *testing.T) {
	subs := new(mockSubs)
	dbErr := errors.New("connection refused")
	subs.On("GetLatestByUser", mock.Anything, "user_1").Return(nil, dbErr)

	_, err := NewPlanResolver(subs).ResolveEffectivePlan(context.Background(), "user_1")
	assert.ErrorIs(t, err, dbErr)
}
