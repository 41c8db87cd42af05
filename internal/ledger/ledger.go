// Package ledger is the single writer of trust scores. Every change reads the
// current score, clamps the result, writes it back and appends its audit
// record inside one store transaction.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/danielpatrickdp/roomtrust/internal/events"
	"github.com/danielpatrickdp/roomtrust/internal/gate"
	"github.com/danielpatrickdp/roomtrust/internal/logging"
	"github.com/danielpatrickdp/roomtrust/internal/metrics"
	"github.com/danielpatrickdp/roomtrust/internal/policy"
	"github.com/danielpatrickdp/roomtrust/internal/state"
	"github.com/danielpatrickdp/roomtrust/internal/trust"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// #region ledger
// Ledger applies trust changes against a Store.
type Ledger struct {
	store     state.Store
	config    Config
	gate      *gate.Gate
	logger    *zap.Logger
	metrics   *metrics.Metrics
	publisher events.Publisher
	now       func() time.Time
	newID     func() string
}

// New creates a ledger. A negative MaxRetries is treated as zero.
func New(store state.Store, cfg Config, opts ...Option) *Ledger {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	l := &Ledger{
		store:  store,
		config: cfg,
		gate:   gate.NewGate(gate.DefaultGateConfig()),
		now:    time.Now,
		newID:  func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = logging.OrNop(l.logger)
	return l
}

// #endregion ledger

// #region apply
// Apply runs c through the score policy and commits the clamped result
// together with its audit record. It returns the new score.
func (l *Ledger) Apply(ctx context.Context, c Change) (int, error) {
	if err := validateChange(c); err != nil {
		return 0, err
	}
	delta := policy.Delta(c.Action, c.Context)

	var prev, next int
	var rec trust.ActionRecord
	err := l.transact(ctx, "apply", c.UserID, func(tx state.Tx) error {
		u, err := tx.GetUser(ctx, c.UserID)
		if err != nil {
			return err
		}
		at := l.stamp(u)
		prev = u.Score()
		next = trust.Clamp(prev + delta)
		if err := tx.PutUser(ctx, u.WithScore(next, at)); err != nil {
			return err
		}
		rec = trust.ActionRecord{
			ID:        l.newID(),
			UserID:    c.UserID,
			RoomID:    c.RoomID,
			Action:    c.Action,
			Points:    delta,
			Reason:    c.Reason,
			RelatedID: c.RelatedID,
			CreatedBy: c.CreatedBy,
			CreatedAt: at,
		}
		return tx.AppendAction(ctx, rec)
	})
	if err != nil {
		return 0, err
	}

	l.committed(ctx, rec, prev, next)
	return next, nil
}

func validateChange(c Change) error {
	if err := trust.Required("userId", c.UserID); err != nil {
		return err
	}
	if err := trust.Required("roomId", c.RoomID); err != nil {
		return err
	}
	if err := trust.Required("action", string(c.Action)); err != nil {
		return err
	}
	return trust.Required("reason", c.Reason)
}

// #endregion apply

// #region reset
// Reset writes r.NewScore (clamped) directly. The audit record's points are
// measured from InitialScore, not from the score being replaced.
func (l *Ledger) Reset(ctx context.Context, r Reset) error {
	for _, f := range []struct{ name, value string }{
		{"userId", r.UserID},
		{"roomId", r.RoomID},
		{"reason", r.Reason},
		{"resetBy", r.ResetBy},
	} {
		if err := trust.Required(f.name, f.value); err != nil {
			return err
		}
	}
	target := trust.Clamp(r.NewScore)

	var prev int
	var rec trust.ActionRecord
	err := l.transact(ctx, "reset", r.UserID, func(tx state.Tx) error {
		u, err := tx.GetUser(ctx, r.UserID)
		if err != nil {
			return err
		}
		at := l.stamp(u)
		prev = u.Score()
		if err := tx.PutUser(ctx, u.WithScore(target, at)); err != nil {
			return err
		}
		rec = trust.ActionRecord{
			ID:        l.newID(),
			UserID:    r.UserID,
			RoomID:    r.RoomID,
			Action:    trust.ActionManualAdjustment,
			Points:    target - trust.InitialScore,
			Reason:    r.Reason,
			CreatedBy: r.ResetBy,
			CreatedAt: at,
		}
		return tx.AppendAction(ctx, rec)
	})
	if err != nil {
		return err
	}

	l.committed(ctx, rec, prev, target)
	return nil
}

// #endregion reset

// #region create-user
// CreateUser initializes a user at InitialScore with an "Account created"
// history entry. Creating an existing user returns its current record.
func (l *Ledger) CreateUser(ctx context.Context, userID, roomID string) (trust.UserRecord, error) {
	if err := trust.Required("userId", userID); err != nil {
		return trust.UserRecord{}, err
	}
	at := l.now().UTC()
	u := trust.UserRecord{UserID: userID}.WithScore(trust.InitialScore, at)
	first := trust.ActionRecord{
		ID:        l.newID(),
		UserID:    userID,
		RoomID:    roomID,
		Action:    trust.ActionManualAdjustment,
		Points:    0,
		Reason:    accountCreated,
		CreatedBy: trust.SystemActor,
		CreatedAt: at,
	}

	created, err := l.store.CreateUser(ctx, u, first)
	if err != nil {
		return trust.UserRecord{}, &trust.PersistenceError{Op: "create_user", Attempts: 1, Err: err}
	}
	if created {
		l.logger.Info("user created", zap.String("user_id", userID), zap.Int("score", trust.InitialScore))
		return u, nil
	}
	return l.store.GetUser(ctx, userID)
}

// #endregion create-user

// #region reads
// History returns up to limit audit records for userID, most recent first.
// A non-positive limit means DefaultHistoryLimit.
func (l *Ledger) History(ctx context.Context, userID string, limit int) ([]trust.ActionRecord, error) {
	if err := trust.Required("userId", userID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	recs, err := l.store.QueryActions(ctx, state.ActionQuery{
		UserID:     userID,
		Descending: true,
		Limit:      limit,
	})
	if err != nil {
		return nil, err
	}
	if recs == nil {
		recs = []trust.ActionRecord{}
	}
	return recs, nil
}

// Score returns the user's current score.
func (l *Ledger) Score(ctx context.Context, userID string) (int, error) {
	if err := trust.Required("userId", userID); err != nil {
		return 0, err
	}
	u, err := l.store.GetUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	return u.Score(), nil
}

// Restrictions evaluates the permission gate at the user's current score.
func (l *Ledger) Restrictions(ctx context.Context, userID string) (gate.Restrictions, error) {
	score, err := l.Score(ctx, userID)
	if err != nil {
		return gate.Restrictions{}, err
	}
	return l.gate.Evaluate(score), nil
}

// Gate returns the gate used by Restrictions.
func (l *Ledger) Gate() *gate.Gate {
	return l.gate
}

// #endregion reads

// #region transact
// transact runs fn in a store transaction, retrying optimistic conflicts up
// to the configured budget. Missing users and validation failures are
// returned as-is; anything else becomes a PersistenceError.
func (l *Ledger) transact(ctx context.Context, op, userID string, fn func(tx state.Tx) error) error {
	var lastErr error
	attempts := 0
	for attempts <= l.config.MaxRetries {
		attempts++
		err := l.store.Update(ctx, fn)
		if err == nil {
			return nil
		}

		var nf *trust.NotFoundError
		var ve *trust.ValidationError
		if errors.As(err, &nf) || errors.As(err, &ve) {
			return err
		}
		if !errors.Is(err, trust.ErrConflict) || ctx.Err() != nil {
			l.metrics.IncFailure()
			l.logger.Error("trust transaction failed",
				zap.String("op", op), zap.String("user_id", userID),
				zap.Int("attempts", attempts), zap.Error(err))
			return &trust.PersistenceError{Op: op, Attempts: attempts, Err: err}
		}

		l.metrics.IncConflict()
		l.logger.Debug("trust transaction conflict, retrying",
			zap.String("op", op), zap.String("user_id", userID), zap.Int("attempt", attempts))
		lastErr = err
	}

	l.metrics.IncFailure()
	l.logger.Error("trust transaction retries exhausted",
		zap.String("op", op), zap.String("user_id", userID),
		zap.Int("attempts", attempts), zap.Error(lastErr))
	return &trust.PersistenceError{Op: op, Attempts: attempts, Err: lastErr}
}

// stamp returns the commit timestamp for a write to u. It never precedes
// u's last update, so one user's audit records sort in commit order.
func (l *Ledger) stamp(u trust.UserRecord) time.Time {
	at := l.now().UTC()
	if at.Before(u.UpdatedAt) {
		return u.UpdatedAt.UTC()
	}
	return at
}

func (l *Ledger) committed(ctx context.Context, rec trust.ActionRecord, prev, next int) {
	l.metrics.ObserveChange(rec.Action, next)
	l.logger.Info("trust score changed",
		zap.String("user_id", rec.UserID),
		zap.String("room_id", rec.RoomID),
		zap.String("action", string(rec.Action)),
		zap.Int("points", rec.Points),
		zap.Int("previous", prev),
		zap.Int("score", next),
		zap.String("action_id", rec.ID))

	if l.publisher == nil {
		return
	}
	ev := events.ScoreChanged{
		ActionID: rec.ID,
		UserID:   rec.UserID,
		RoomID:   rec.RoomID,
		Action:   rec.Action,
		Points:   rec.Points,
		Previous: prev,
		Score:    next,
		At:       rec.CreatedAt,
	}
	if err := l.publisher.Publish(ctx, ev); err != nil {
		l.logger.Warn("score change not published",
			zap.String("user_id", rec.UserID), zap.String("action_id", rec.ID), zap.Error(err))
	}
}

// #endregion transact
