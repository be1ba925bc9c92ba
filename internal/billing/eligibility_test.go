package billing

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"expenseterminal/internal/types"
)

func TestComputeEligibility_Table(t *testing.T) {
	tests := []struct {
		name    string
		current int
		newRows int
		cap     types.Cap
		want    Eligibility
	}{
		{"partial fill at cap edge", 240, 20, types.Finite(250), Eligibility{Eligible: 10, Ineligible: 10, OverLimit: true}},
		{"already at cap", 250, 20, types.Finite(250), Eligibility{Eligible: 0, Ineligible: 20, OverLimit: true}},
		{"well under cap", 100, 100, types.Finite(250), Eligibility{Eligible: 100, Ineligible: 0, OverLimit: false}},
		{"exactly fills cap", 200, 50, types.Finite(250), Eligibility{Eligible: 50}},
		{"already past cap", 300, 5, types.Finite(250), Eligibility{Eligible: 0, Ineligible: 5, OverLimit: true}},
		{"zero cap", 0, 3, types.Finite(0), Eligibility{Ineligible: 3, OverLimit: true}},
		{"empty batch", 250, 0, types.Finite(250), Eligibility{}},
		{"unlimited", 1_000_000, 500, types.Unlimited(), Eligibility{Eligible: 500}},
		{"negative legacy cap", 10, 7, types.CapFromInt(-1), Eligibility{Eligible: 7}},
		{"negative counts clamp", -5, -2, types.Finite(250), Eligibility{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ComputeEligibility(tt.current, tt.newRows, tt.cap))
		})
	}
}

func TestComputeEligibility_PartitionsBatch(t *testing.T) {
	caps := []types.Cap{types.Finite(0), types.Finite(1), types.Finite(250), types.Unlimited()}
	for _, c := range caps {
		for current := 0; current <= 300; current += 17 {
			for n := 0; n <= 60; n += 7 {
				got := ComputeEligibility(current, n, c)
				assert.Equal(t, n, got.Eligible+got.Ineligible, "cap=%s current=%d n=%d", c, current, n)
				assert.GreaterOrEqual(t, got.Eligible, 0)
				assert.Equal(t, got.Ineligible > 0, got.OverLimit)
			}
		}
	}
}

func TestComputeEligibility_NegativeCapMatchesUnlimited(t *testing.T) {
	for _, raw := range []int{-1, -250, -99999} {
		for _, in := range [][2]int{{0, 0}, {240, 20}, {5000, 1}} {
			assert.Equal(t,
				ComputeEligibility(in[0], in[1], types.Unlimited()),
				ComputeEligibility(in[0], in[1], types.CapFromInt(raw)),
			)
		}
	}
}
