package gate

import (
	"testing"

	"github.com/danielpatrickdp/roomtrust/internal/policy"
	"github.com/google/go-cmp/cmp"
)

func TestGateHighTierUnlocksEverything(t *testing.T) {
	g := NewGate(DefaultGateConfig())

	got := g.Evaluate(120)

	want := Restrictions{
		Score: 120,
		Tier:  policy.TierHigh,
		Capabilities: map[policy.Capability]bool{
			policy.CapCreateChore:   true,
			policy.CapDisputeChore:  true,
			policy.CapManageBills:   true,
			policy.CapInviteMembers: true,
			policy.CapDeleteItems:   true,
		},
		RequiresConfirmation: false,
		MaxChoresPerWeek:     nil,
		Message:              tierMessages[policy.TierHigh],
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("restrictions mismatch (-want +got):\n%s", diff)
	}
}

func TestGateCriticalTier(t *testing.T) {
	g := NewGate(DefaultGateConfig())

	r := g.Evaluate(10)

	if r.Tier != policy.TierCritical {
		t.Fatalf("expected critical, got %s", r.Tier)
	}
	if !r.RequiresConfirmation {
		t.Fatal("critical tier should require confirmation")
	}
	if r.MaxChoresPerWeek == nil || *r.MaxChoresPerWeek != 2 {
		t.Fatalf("expected chore cap 2, got %v", r.MaxChoresPerWeek)
	}
	for c, allowed := range r.Capabilities {
		if allowed {
			t.Errorf("expected %s denied at score 10", c)
		}
	}
}

func TestGateLowTier(t *testing.T) {
	g := NewGate(DefaultGateConfig())

	r := g.Evaluate(45)

	if r.Tier != policy.TierLow {
		t.Fatalf("expected low, got %s", r.Tier)
	}
	if !r.RequiresConfirmation {
		t.Fatal("low tier should require confirmation")
	}
	if r.MaxChoresPerWeek == nil || *r.MaxChoresPerWeek != 5 {
		t.Fatalf("expected chore cap 5, got %v", r.MaxChoresPerWeek)
	}
	if !r.Capabilities[policy.CapCreateChore] || !r.Capabilities[policy.CapDisputeChore] {
		t.Fatal("low tier should create and dispute chores")
	}
	if r.Capabilities[policy.CapManageBills] {
		t.Fatal("low tier should not manage bills")
	}
}

func TestGateMediumTier(t *testing.T) {
	g := NewGate(DefaultGateConfig())

	r := g.Evaluate(85)

	if r.RequiresConfirmation {
		t.Fatal("medium tier should not require confirmation")
	}
	if r.MaxChoresPerWeek != nil {
		t.Fatalf("expected no chore cap, got %d", *r.MaxChoresPerWeek)
	}
	if r.Capabilities[policy.CapInviteMembers] {
		t.Fatal("medium tier should not invite members")
	}
	if !r.Capabilities[policy.CapDeleteItems] {
		t.Fatal("medium tier should delete items")
	}
}

func TestGateCustomCaps(t *testing.T) {
	g := NewGate(GateConfig{CriticalChoreCap: 1, LowChoreCap: 3})

	if got := *g.Evaluate(0).MaxChoresPerWeek; got != 1 {
		t.Fatalf("expected 1, got %d", got)
	}
	if got := *g.Evaluate(69).MaxChoresPerWeek; got != 3 {
		t.Fatalf("expected 3, got %d", got)
	}
}

func TestGateCanMatchesEvaluate(t *testing.T) {
	g := NewGate(DefaultGateConfig())
	for score := 0; score <= 150; score += 5 {
		r := g.Evaluate(score)
		for _, c := range policy.Capabilities {
			if g.Can(score, c) != r.Capabilities[c] {
				t.Fatalf("score %d capability %s: Can and Evaluate disagree", score, c)
			}
		}
	}
}

func TestGateIdempotent(t *testing.T) {
	g := NewGate(DefaultGateConfig())
	first := g.Evaluate(64)
	for i := 0; i < 5; i++ {
		if diff := cmp.Diff(first, g.Evaluate(64)); diff != "" {
			t.Fatalf("evaluation changed on call %d:\n%s", i, diff)
		}
	}
}
