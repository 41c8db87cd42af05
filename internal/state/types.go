package state

import (
	"context"
	"time"

	"github.com/danielpatrickdp/roomtrust/internal/trust"
)

// #region tx
// Tx is the view of the store inside one read-modify-write attempt.
// Writes become visible only when the surrounding Update commits.
type Tx interface {
	// GetUser returns *trust.NotFoundError when the user does not exist.
	GetUser(ctx context.Context, userID string) (trust.UserRecord, error)
	// PutUser writes u if the stored version still equals u.Version,
	// otherwise the commit fails with trust.ErrConflict.
	PutUser(ctx context.Context, u trust.UserRecord) error
	AppendAction(ctx context.Context, rec trust.ActionRecord) error
}

// #endregion tx

// #region store
// Store is the document-store collaborator used by the trust engine.
type Store interface {
	// Update runs fn in a single transaction attempt. It returns
	// trust.ErrConflict (wrapped) when a concurrent writer won; retrying is
	// the caller's decision. Update callbacks must only use tx.
	Update(ctx context.Context, fn func(tx Tx) error) error

	// CreateUser inserts u together with its first audit record.
	// It reports false, and writes nothing, when the user already exists.
	CreateUser(ctx context.Context, u trust.UserRecord, first trust.ActionRecord) (bool, error)
	GetUser(ctx context.Context, userID string) (trust.UserRecord, error)

	AppendAction(ctx context.Context, rec trust.ActionRecord) error
	QueryActions(ctx context.Context, q ActionQuery) ([]trust.ActionRecord, error)

	GetChore(ctx context.Context, choreID string) (trust.Chore, error)
	PutChore(ctx context.Context, c trust.Chore) error
	QueryChores(ctx context.Context, q ChoreQuery) ([]trust.Chore, error)

	// ClaimSweep takes the sweep for m.RoomID and m.WeekStart. It returns
	// the stored marker and whether the caller now holds it. A running claim
	// created before staleBefore is taken over; a done marker never is.
	ClaimSweep(ctx context.Context, m SweepMarker, staleBefore time.Time) (SweepMarker, bool, error)
	// FinishSweep turns a running claim into a done marker.
	FinishSweep(ctx context.Context, m SweepMarker) error
	// ReleaseSweep drops a running claim so the week can be swept again.
	ReleaseSweep(ctx context.Context, roomID string, weekStart time.Time) error

	Close() error
}

// #endregion store

// #region queries
// ActionQuery filters audit records. Zero-valued fields do not filter.
type ActionQuery struct {
	UserID     string
	RoomID     string
	Action     trust.ActionType
	Since      time.Time // inclusive
	Until      time.Time // exclusive
	Descending bool
	Limit      int
}

// ChoreQuery filters chores within a room. Zero-valued fields do not filter.
type ChoreQuery struct {
	RoomID         string
	AssigneeID     string
	CompletedBy    string
	Statuses       []trust.ChoreStatus
	DueFrom        time.Time // inclusive
	DueBefore      time.Time // exclusive
	CompletedSince time.Time // inclusive
	Limit          int
}

// #endregion queries

// #region sweep-marker
// SweepState is the lifecycle of a sweep marker.
type SweepState string

const (
	SweepRunning SweepState = "running"
	SweepDone    SweepState = "done"
)

// SweepMarker records that the weekly sweep is running, or ran, for a room
// and week. CreatedAt is the claim time while running and the finish time
// once done.
type SweepMarker struct {
	RoomID    string
	WeekStart time.Time
	State     SweepState
	Applied   int
	CreatedAt time.Time
}

// #endregion sweep-marker
