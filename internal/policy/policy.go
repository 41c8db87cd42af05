// Package policy maps trust actions to point deltas and scores to tiers.
// Every function here is pure and total.
package policy

import "github.com/danielpatrickdp/roomtrust/internal/trust"

// #region base-points
var basePoints = map[trust.ActionType]int{
	trust.ActionChoreCompleted:       2,
	trust.ActionChoreConfirmed:       1,
	trust.ActionChoreDisputedValid:   -5,
	trust.ActionChoreDisputedInvalid: -1,
	trust.ActionFalseCompletion:      -10,
	trust.ActionBillPaidOnTime:       3,
	trust.ActionBillPaidLate:         -2,
	trust.ActionHelpful:              5,
}

const (
	recurringBonus  = 1
	streakThreshold = 5
	maxStreakBonus  = 3
)

// BasePoints returns the fixed table value for a, and false for actions
// without one (manual_adjustment and unknown values).
func BasePoints(a trust.ActionType) (int, bool) {
	p, ok := basePoints[a]
	return p, ok
}

// #endregion base-points

// #region delta
// Delta computes the point change for an action. Unknown actions yield 0.
func Delta(action trust.ActionType, ctx Context) int {
	switch action {
	case trust.ActionChoreCompleted:
		return choreCompletedDelta(ctx)
	case trust.ActionBillPaidOnTime:
		wasOnTime := ctx.WasOnTime == nil || *ctx.WasOnTime
		return billPaymentDelta(wasOnTime)
	case trust.ActionManualAdjustment:
		return ctx.Points
	}
	return basePoints[action]
}

func choreCompletedDelta(ctx Context) int {
	d := basePoints[trust.ActionChoreCompleted]
	if ctx.Recurring {
		d += recurringBonus
	}
	return d + StreakBonus(ctx.ConsecutiveCount)
}

// StreakBonus is the capped bonus for count completions in the trailing window.
func StreakBonus(count int) int {
	if count < streakThreshold {
		return 0
	}
	return min(count-(streakThreshold-1), maxStreakBonus)
}

// billPaymentDelta scores a bill payment reported under bill_paid_on_time.
// A payment the caller marks as late scores the late penalty even though the
// action name says otherwise; callers that know the payment was late should
// prefer bill_paid_late.
func billPaymentDelta(wasOnTime bool) int {
	if !wasOnTime {
		return basePoints[trust.ActionBillPaidLate]
	}
	return basePoints[trust.ActionBillPaidOnTime]
}

// #endregion delta

// #region tiers
// TierFor maps a score to its tier. Thresholds are checked low to high.
func TierFor(score int) Tier {
	switch {
	case score < 30:
		return TierCritical
	case score < 70:
		return TierLow
	case score < 100:
		return TierMedium
	default:
		return TierHigh
	}
}

// Allowed reports whether a user at score may use capability c.
// Unknown capabilities are denied.
func Allowed(score int, c Capability) bool {
	switch c {
	case CapCreateChore:
		return TierFor(score) != TierCritical
	case CapDisputeChore:
		return score >= 30
	case CapManageBills, CapDeleteItems:
		return score >= 70
	case CapInviteMembers:
		return score >= 100
	}
	return false
}

// #endregion tiers
