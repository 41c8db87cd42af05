package ledger

import (
	"time"

	"github.com/danielpatrickdp/roomtrust/internal/events"
	"github.com/danielpatrickdp/roomtrust/internal/gate"
	"github.com/danielpatrickdp/roomtrust/internal/metrics"
	"github.com/danielpatrickdp/roomtrust/internal/policy"
	"github.com/danielpatrickdp/roomtrust/internal/trust"
	"go.uber.org/zap"
)

// #region constants
const (
	defaultMaxRetries   = 3 // 4 attempts in total
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 500
	accountCreated      = "Account created"
)

// #endregion constants

// #region config
// Config holds the ledger's transaction budget.
type Config struct {
	MaxRetries int `mapstructure:"max_retries"` // retries after the first attempt on conflict
}

// DefaultConfig returns the standard retry budget.
func DefaultConfig() Config {
	return Config{MaxRetries: defaultMaxRetries}
}

// #endregion config

// #region inputs
// Change is one request to move a user's score through the policy.
type Change struct {
	UserID    string
	RoomID    string
	Action    trust.ActionType
	Reason    string
	RelatedID string
	CreatedBy string
	Context   policy.Context
}

// Reset sets a user's score directly, bypassing the policy.
type Reset struct {
	UserID   string
	RoomID   string
	NewScore int
	Reason   string
	ResetBy  string
}

// #endregion inputs

// #region options
// Option configures optional collaborators.
type Option func(*Ledger)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(lg *Ledger) { lg.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(lg *Ledger) { lg.metrics = m }
}

// WithPublisher sets the publisher notified after each commit.
func WithPublisher(p events.Publisher) Option {
	return func(lg *Ledger) { lg.publisher = p }
}

// WithGate sets the gate used by Restrictions.
func WithGate(g *gate.Gate) Option {
	return func(lg *Ledger) { lg.gate = g }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(lg *Ledger) { lg.now = now }
}

// WithIDs overrides audit record ID generation.
func WithIDs(next func() string) Option {
	return func(lg *Ledger) { lg.newID = next }
}

// #endregion options
