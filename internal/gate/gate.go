package gate

import "github.com/danielpatrickdp/roomtrust/internal/policy"

var tierMessages = map[policy.Tier]string{
	policy.TierCritical: "Your trust score is critical. Most actions are locked and everything you do needs confirmation from a roommate.",
	policy.TierLow:      "Your trust score is low. Some actions need confirmation from a roommate until you rebuild trust.",
	policy.TierMedium:   "Your trust score is good. Keep completing chores and paying bills on time to unlock everything.",
	policy.TierHigh:     "Your trust score is excellent. All features are unlocked.",
}

// #region gate
// Gate answers permission questions from a score. It holds no state beyond
// its configuration and performs no I/O.
type Gate struct {
	config GateConfig
}

// NewGate creates a gate with the given configuration.
func NewGate(config GateConfig) *Gate {
	return &Gate{config: config}
}

// Can reports whether a user at score may use capability c.
func (g *Gate) Can(score int, c policy.Capability) bool {
	return policy.Allowed(score, c)
}

// Evaluate builds the full restriction set for score.
func (g *Gate) Evaluate(score int) Restrictions {
	tier := policy.TierFor(score)

	caps := make(map[policy.Capability]bool, len(policy.Capabilities))
	for _, c := range policy.Capabilities {
		caps[c] = policy.Allowed(score, c)
	}

	r := Restrictions{
		Score:                score,
		Tier:                 tier,
		Capabilities:         caps,
		RequiresConfirmation: tier == policy.TierCritical || tier == policy.TierLow,
		Message:              tierMessages[tier],
	}

	switch tier {
	case policy.TierCritical:
		r.MaxChoresPerWeek = intPtr(g.config.CriticalChoreCap)
	case policy.TierLow:
		r.MaxChoresPerWeek = intPtr(g.config.LowChoreCap)
	}

	return r
}

// #endregion gate

func intPtr(v int) *int { return &v }
