package trust

import "time"

// #region bounds
const (
	MinScore     = 0
	MaxScore     = 150
	InitialScore = 100

	// SystemActor is the CreatedBy value for automated changes.
	SystemActor = "system"
)

// Clamp saturates v into [MinScore, MaxScore].
func Clamp(v int) int {
	if v < MinScore {
		return MinScore
	}
	if v > MaxScore {
		return MaxScore
	}
	return v
}

// #endregion bounds

// #region action-type
// ActionType identifies why a score changed.
type ActionType string

const (
	ActionChoreCompleted       ActionType = "chore_completed"
	ActionChoreConfirmed       ActionType = "chore_confirmed"
	ActionChoreDisputedValid   ActionType = "chore_disputed_valid"
	ActionChoreDisputedInvalid ActionType = "chore_disputed_invalid"
	ActionFalseCompletion      ActionType = "false_completion"
	ActionBillPaidOnTime       ActionType = "bill_paid_on_time"
	ActionBillPaidLate         ActionType = "bill_paid_late"
	ActionHelpful              ActionType = "helpful_action"
	ActionManualAdjustment     ActionType = "manual_adjustment"
)

var actionTypes = []ActionType{
	ActionChoreCompleted,
	ActionChoreConfirmed,
	ActionChoreDisputedValid,
	ActionChoreDisputedInvalid,
	ActionFalseCompletion,
	ActionBillPaidOnTime,
	ActionBillPaidLate,
	ActionHelpful,
	ActionManualAdjustment,
}

// ActionTypes returns every known action type.
func ActionTypes() []ActionType {
	out := make([]ActionType, len(actionTypes))
	copy(out, actionTypes)
	return out
}

// Valid reports whether a is one of the known action types.
func (a ActionType) Valid() bool {
	for _, known := range actionTypes {
		if a == known {
			return true
		}
	}
	return false
}

// ParseActionType converts s to an ActionType.
func ParseActionType(s string) (ActionType, bool) {
	a := ActionType(s)
	return a, a.Valid()
}

// #endregion action-type

// #region user-record
// UserRecord is the trust-relevant subset of a user document.
// TrustScore is nil when the stored document has no score field.
type UserRecord struct {
	UserID     string
	TrustScore *int
	Version    int64
	UpdatedAt  time.Time
}

// Score returns the stored score, or InitialScore when none is recorded.
func (u UserRecord) Score() int {
	if u.TrustScore == nil {
		return InitialScore
	}
	return *u.TrustScore
}

// WithScore returns a copy of u carrying score.
func (u UserRecord) WithScore(score int, at time.Time) UserRecord {
	s := score
	u.TrustScore = &s
	u.UpdatedAt = at
	return u
}

// #endregion user-record

// #region action-record
// ActionRecord is one immutable audit entry.
// Points holds the policy delta before clamping.
type ActionRecord struct {
	ID        string     `json:"id"`
	UserID    string     `json:"userId"`
	RoomID    string     `json:"roomId"`
	Action    ActionType `json:"action"`
	Points    int        `json:"points"`
	Reason    string     `json:"reason"`
	RelatedID string     `json:"relatedId,omitempty"`
	CreatedBy string     `json:"createdBy,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

// #endregion action-record

// #region chore
// ChoreStatus is the lifecycle state of a chore.
type ChoreStatus string

const (
	ChorePending   ChoreStatus = "pending"
	ChoreCompleted ChoreStatus = "completed"
	ChoreConfirmed ChoreStatus = "confirmed"
	ChoreDisputed  ChoreStatus = "disputed"
)

// Chore is the subset of a chore document the handlers read and write.
type Chore struct {
	ID          string      `json:"id"`
	RoomID      string      `json:"roomId"`
	Title       string      `json:"title"`
	AssigneeID  string      `json:"assigneeId"`
	CompletedBy string      `json:"completedBy,omitempty"`
	Status      ChoreStatus `json:"status"`
	Recurring   bool        `json:"recurring"`
	DueAt       time.Time   `json:"dueAt"`
	CompletedAt *time.Time  `json:"completedAt,omitempty"`
}

// Done reports whether the chore counts as finished.
func (c Chore) Done() bool {
	return c.Status == ChoreCompleted || c.Status == ChoreConfirmed
}

// #endregion chore
