package policy

import (
	"testing"

	"github.com/danielpatrickdp/roomtrust/internal/trust"
)

func boolPtr(b bool) *bool { return &b }

func TestDeltaBaseTable(t *testing.T) {
	cases := map[trust.ActionType]int{
		trust.ActionChoreCompleted:       2,
		trust.ActionChoreConfirmed:       1,
		trust.ActionChoreDisputedValid:   -5,
		trust.ActionChoreDisputedInvalid: -1,
		trust.ActionFalseCompletion:      -10,
		trust.ActionBillPaidOnTime:       3,
		trust.ActionBillPaidLate:         -2,
		trust.ActionHelpful:              5,
	}
	for action, want := range cases {
		if got := Delta(action, Context{}); got != want {
			t.Errorf("%s: expected %d, got %d", action, want, got)
		}
	}
}

func TestDeltaUnknownActionIsZero(t *testing.T) {
	if got := Delta(trust.ActionType("rent_forgiven"), Context{Points: 40}); got != 0 {
		t.Fatalf("expected 0 for unknown action, got %d", got)
	}
}

func TestDeltaManualAdjustmentUsesCallerPoints(t *testing.T) {
	for _, p := range []int{-400, -3, 0, 7, 900} {
		if got := Delta(trust.ActionManualAdjustment, Context{Points: p}); got != p {
			t.Errorf("expected %d, got %d", p, got)
		}
	}
}

func TestStreakBonusCap(t *testing.T) {
	cases := []struct {
		count, want int
	}{
		{0, 0},
		{4, 0},
		{5, 1},
		{6, 2},
		{7, 3},
		{8, 3},
		{20, 3},
	}
	for _, c := range cases {
		if got := StreakBonus(c.count); got != c.want {
			t.Errorf("StreakBonus(%d): expected %d, got %d", c.count, c.want, got)
		}
	}
}

func TestDeltaChoreCompletedModifiers(t *testing.T) {
	cases := []struct {
		name string
		ctx  Context
		want int
	}{
		{"plain", Context{}, 2},
		{"recurring", Context{Recurring: true}, 3},
		{"streak of five", Context{ConsecutiveCount: 5}, 3},
		{"recurring max streak", Context{Recurring: true, ConsecutiveCount: 20}, 6},
	}
	for _, c := range cases {
		if got := Delta(trust.ActionChoreCompleted, c.ctx); got != c.want {
			t.Errorf("%s: expected %d, got %d", c.name, c.want, got)
		}
	}
}

func TestDeltaBillPaidOnTimeLateOverride(t *testing.T) {
	if got := Delta(trust.ActionBillPaidOnTime, Context{WasOnTime: boolPtr(true)}); got != 3 {
		t.Fatalf("expected 3 when on time, got %d", got)
	}
	if got := Delta(trust.ActionBillPaidOnTime, Context{}); got != 3 {
		t.Fatalf("expected 3 when unspecified, got %d", got)
	}
	if got := Delta(trust.ActionBillPaidOnTime, Context{WasOnTime: boolPtr(false)}); got != -2 {
		t.Fatalf("expected late penalty -2, got %d", got)
	}
}

func TestTierBoundaries(t *testing.T) {
	cases := []struct {
		score int
		want  Tier
	}{
		{-10, TierCritical},
		{0, TierCritical},
		{29, TierCritical},
		{30, TierLow},
		{69, TierLow},
		{70, TierMedium},
		{99, TierMedium},
		{100, TierHigh},
		{150, TierHigh},
	}
	for _, c := range cases {
		if got := TierFor(c.score); got != c.want {
			t.Errorf("TierFor(%d): expected %s, got %s", c.score, c.want, got)
		}
	}
}

func TestTierMonotonic(t *testing.T) {
	rank := map[Tier]int{TierCritical: 0, TierLow: 1, TierMedium: 2, TierHigh: 3}
	prev := rank[TierFor(trust.MinScore)]
	for s := trust.MinScore + 1; s <= trust.MaxScore; s++ {
		cur := rank[TierFor(s)]
		if cur < prev {
			t.Fatalf("tier decreased at score %d", s)
		}
		prev = cur
	}
}

func TestAllowed(t *testing.T) {
	cases := []struct {
		score int
		cap   Capability
		want  bool
	}{
		{29, CapCreateChore, false},
		{30, CapCreateChore, true},
		{29, CapDisputeChore, false},
		{30, CapDisputeChore, true},
		{69, CapManageBills, false},
		{70, CapManageBills, true},
		{69, CapDeleteItems, false},
		{70, CapDeleteItems, true},
		{99, CapInviteMembers, false},
		{100, CapInviteMembers, true},
		{150, Capability("launch_rockets"), false},
	}
	for _, c := range cases {
		if got := Allowed(c.score, c.cap); got != c.want {
			t.Errorf("Allowed(%d, %s): expected %v, got %v", c.score, c.cap, c.want, got)
		}
	}
}

func TestDeltaDeterministic(t *testing.T) {
	ctx := Context{Recurring: true, ConsecutiveCount: 6}
	first := Delta(trust.ActionChoreCompleted, ctx)
	for i := 0; i < 10; i++ {
		if got := Delta(trust.ActionChoreCompleted, ctx); got != first {
			t.Fatalf("non-deterministic delta on call %d: %d != %d", i, got, first)
		}
	}
}
