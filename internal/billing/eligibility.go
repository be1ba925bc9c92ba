package billing

import "expenseterminal/internal/types"

// Eligibility splits an incoming batch into rows that may be AI-categorized
// and rows that exceed the cap.
type Eligibility struct {
	Eligible   int
	Ineligible int
	OverLimit  bool
}

// ComputeEligibility decides how many of newRows may be flagged AI-eligible
// given currentEligible rows already flagged and the plan cap.
//
// Eligible+Ineligible always equals newRows. Negative counts are treated as
// zero.
func ComputeEligibility(currentEligible, newRows int, limit types.Cap) Eligibility {
	if newRows < 0 {
		newRows = 0
	}
	if currentEligible < 0 {
		currentEligible = 0
	}

	capN, finite := limit.Limit()
	if !finite {
		return Eligibility{Eligible: newRows}
	}

	slotsLeft := max(0, capN-currentEligible)
	eligible := min(newRows, slotsLeft)
	ineligible := newRows - eligible

	return Eligibility{
		Eligible:   eligible,
		Ineligible: ineligible,
		OverLimit:  ineligible > 0,
	}
}
