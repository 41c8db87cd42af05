package policy

// #region context
// Context carries caller-computed modifiers into the pure delta function.
type Context struct {
	Recurring        bool  `json:"isRecurring"`
	ConsecutiveCount int   `json:"consecutiveCount"` // completed chores in the trailing 30 days
	WasOnTime        *bool `json:"wasOnTime,omitempty"`
	Points           int   `json:"points,omitempty"` // manual_adjustment only
}

// #endregion context

// #region tier
// Tier is a discrete trust band derived from a score.
type Tier string

const (
	TierCritical Tier = "critical"
	TierLow      Tier = "low"
	TierMedium   Tier = "medium"
	TierHigh     Tier = "high"
)

// #endregion tier

// #region capability
// Capability names a permission gated on trust.
type Capability string

const (
	CapCreateChore   Capability = "create_chore"
	CapDisputeChore  Capability = "dispute_chore"
	CapManageBills   Capability = "manage_bills"
	CapInviteMembers Capability = "invite_members"
	CapDeleteItems   Capability = "delete_items"
)

// Capabilities lists every gated capability in display order.
var Capabilities = []Capability{
	CapCreateChore,
	CapDisputeChore,
	CapManageBills,
	CapInviteMembers,
	CapDeleteItems,
}

// #endregion capability
