package gate

import "github.com/danielpatrickdp/roomtrust/internal/policy"

// #region gate-config
// GateConfig holds the per-tier chore caps.
type GateConfig struct {
	CriticalChoreCap int `mapstructure:"critical_chore_cap"` // max chores per week at critical tier
	LowChoreCap      int `mapstructure:"low_chore_cap"`      // max chores per week at low tier
}

// DefaultGateConfig returns the standard caps.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		CriticalChoreCap: 2,
		LowChoreCap:      5,
	}
}

// #endregion gate-config

// #region restrictions
// Restrictions is the structured permission view for one score.
type Restrictions struct {
	Score                int                        `json:"score"`
	Tier                 policy.Tier                `json:"tier"`
	Capabilities         map[policy.Capability]bool `json:"capabilities"`
	RequiresConfirmation bool                       `json:"requiresConfirmation"`
	MaxChoresPerWeek     *int                       `json:"maxChoresPerWeek,omitempty"`
	Message              string                     `json:"message"`
}

// #endregion restrictions
