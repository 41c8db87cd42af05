package actions

import (
	"context"
	"time"

	"github.com/danielpatrickdp/roomtrust/internal/ledger"
	"github.com/danielpatrickdp/roomtrust/internal/metrics"
	"github.com/danielpatrickdp/roomtrust/internal/state"
	"github.com/danielpatrickdp/roomtrust/internal/trust"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// #region constants
const (
	streakWindow   = 30 * 24 * time.Hour
	sweepMinChores = 3
	// sweepClaimTTL is how long a running sweep holds its week before another
	// run may take it over.
	sweepClaimTTL = 10 * time.Minute
)

var sweepThreshold = decimal.RequireFromString("0.9")

// #endregion constants

// #region collaborators
// Ledger is the subset of *ledger.Ledger the handlers need.
type Ledger interface {
	Apply(ctx context.Context, c ledger.Change) (int, error)
	Reset(ctx context.Context, r ledger.Reset) error
}

// Store is the document-store subset the handlers read and write.
type Store interface {
	GetChore(ctx context.Context, choreID string) (trust.Chore, error)
	PutChore(ctx context.Context, c trust.Chore) error
	QueryChores(ctx context.Context, q state.ChoreQuery) ([]trust.Chore, error)
	QueryActions(ctx context.Context, q state.ActionQuery) ([]trust.ActionRecord, error)
	ClaimSweep(ctx context.Context, m state.SweepMarker, staleBefore time.Time) (state.SweepMarker, bool, error)
	FinishSweep(ctx context.Context, m state.SweepMarker) error
	ReleaseSweep(ctx context.Context, roomID string, weekStart time.Time) error
}

// #endregion collaborators

// #region config
// Config holds handler settings.
type Config struct {
	// Location defines calendar weeks for the sweep. Nil means time.Local.
	Location *time.Location
}

// Option configures optional collaborators.
type Option func(*Handlers)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(h *Handlers) { h.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handlers) { h.metrics = m }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(h *Handlers) { h.now = now }
}

// #endregion config

// #region requests
// CompleteChore marks a chore done by UserID.
type CompleteChore struct {
	ChoreID string `json:"choreId"`
	UserID  string `json:"userId"`
}

// CompletionResult is the outcome of a chore completion.
type CompletionResult struct {
	ChoreID          string `json:"choreId"`
	Score            int    `json:"score"`
	ConsecutiveCount int    `json:"consecutiveCount"`
}

// Dispute is an adjudicated dispute over a chore completion. Valid means the
// completer did not actually do the chore.
type Dispute struct {
	ChoreID     string `json:"choreId"`
	RoomID      string `json:"roomId"`
	CompleterID string `json:"completerId"`
	DisputerID  string `json:"disputerId"`
	Valid       bool   `json:"isValidDispute"`
	ResolvedBy  string `json:"resolvedBy"`
}

// StepResult is one ledger call made by a multi-step handler.
type StepResult struct {
	Step   string           `json:"step"`
	UserID string           `json:"userId"`
	Action trust.ActionType `json:"action"`
	Score  int              `json:"score,omitempty"`
	Err    error            `json:"-"`
	Error  string           `json:"error,omitempty"`
}

// OK reports whether the step committed.
func (s StepResult) OK() bool { return s.Err == nil }

// DisputeResult lists the steps of a dispute resolution in execution order.
type DisputeResult struct {
	Steps []StepResult `json:"steps"`
}

// SweepResult is the outcome of one weekly sweep.
type SweepResult struct {
	RoomID     string              `json:"roomId"`
	Week       time.Time           `json:"week"`
	AlreadyRun bool                `json:"alreadyRun"`
	Applied    int                 `json:"applied"`
	Bonused    []string            `json:"bonused"`
	Skipped    []string            `json:"skipped,omitempty"`
	Failed     []trust.StepFailure `json:"-"`
}

// #endregion requests
