// Package actions holds the use-case handlers that gather context from the
// document store and route every score change through the ledger.
package actions

import (
	"context"
	"errors"
	"time"

	"github.com/danielpatrickdp/roomtrust/internal/ledger"
	"github.com/danielpatrickdp/roomtrust/internal/logging"
	"github.com/danielpatrickdp/roomtrust/internal/metrics"
	"github.com/danielpatrickdp/roomtrust/internal/policy"
	"github.com/danielpatrickdp/roomtrust/internal/state"
	"github.com/danielpatrickdp/roomtrust/internal/trust"
	"go.uber.org/zap"
)

// #region handlers
// Handlers orchestrates chore completion, dispute resolution, the weekly
// sweep and manual resets.
type Handlers struct {
	ledger  Ledger
	store   Store
	loc     *time.Location
	now     func() time.Time
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// New creates handlers over a ledger and store.
func New(l Ledger, s Store, cfg Config, opts ...Option) *Handlers {
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	h := &Handlers{ledger: l, store: s, loc: loc, now: time.Now}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = logging.OrNop(h.logger)
	return h
}

// #endregion handlers

// #region complete-chore
// CompleteChore marks the chore completed by req.UserID and credits the user.
// The streak count covers the user's done chores in the room over the
// trailing 30 days, including this one. The chore write and the ledger call
// are separate commits; when the ledger call fails the chore is restored to
// its prior state so the completion can be retried.
func (h *Handlers) CompleteChore(ctx context.Context, req CompleteChore) (CompletionResult, error) {
	if err := trust.Required("choreId", req.ChoreID); err != nil {
		return CompletionResult{}, err
	}
	if err := trust.Required("userId", req.UserID); err != nil {
		return CompletionResult{}, err
	}

	chore, err := h.store.GetChore(ctx, req.ChoreID)
	if err != nil {
		return CompletionResult{}, storeErr("load_chore", err)
	}
	if chore.Done() {
		return CompletionResult{}, &trust.ValidationError{Field: "choreId", Reason: "already " + string(chore.Status)}
	}

	prior := chore
	now := h.now()
	chore.Status = trust.ChoreCompleted
	chore.CompletedBy = req.UserID
	chore.CompletedAt = &now
	if err := h.store.PutChore(ctx, chore); err != nil {
		return CompletionResult{}, storeErr("mark_chore_completed", err)
	}

	recent, err := h.store.QueryChores(ctx, state.ChoreQuery{
		RoomID:         chore.RoomID,
		CompletedBy:    req.UserID,
		Statuses:       []trust.ChoreStatus{trust.ChoreCompleted, trust.ChoreConfirmed},
		CompletedSince: now.Add(-streakWindow),
	})
	if err != nil {
		h.restoreChore(ctx, prior)
		return CompletionResult{}, storeErr("count_recent_completions", err)
	}

	score, err := h.ledger.Apply(ctx, ledger.Change{
		UserID:    req.UserID,
		RoomID:    chore.RoomID,
		Action:    trust.ActionChoreCompleted,
		Reason:    "Completed chore: " + chore.Title,
		RelatedID: chore.ID,
		CreatedBy: req.UserID,
		Context: policy.Context{
			Recurring:        chore.Recurring,
			ConsecutiveCount: len(recent),
		},
	})
	if err != nil {
		h.restoreChore(ctx, prior)
		return CompletionResult{}, err
	}
	return CompletionResult{ChoreID: chore.ID, Score: score, ConsecutiveCount: len(recent)}, nil
}

// restoreChore puts back the chore as it was before a failed completion.
func (h *Handlers) restoreChore(ctx context.Context, prior trust.Chore) {
	if err := h.store.PutChore(context.WithoutCancel(ctx), prior); err != nil {
		h.logger.Error("chore left completed after failed credit",
			zap.String("chore_id", prior.ID), zap.Error(err))
	}
}

// #endregion complete-chore

// #region dispute
// ResolveDispute applies the verdict on a disputed completion. A valid
// dispute penalizes the completer. An invalid one penalizes the disputer and
// then confirms the completer, as two independent ledger calls; when only
// one of them commits the result is returned with a *trust.PartialFailureError.
func (h *Handlers) ResolveDispute(ctx context.Context, d Dispute) (DisputeResult, error) {
	for _, f := range []struct{ name, value string }{
		{"choreId", d.ChoreID},
		{"roomId", d.RoomID},
		{"completerId", d.CompleterID},
		{"resolvedBy", d.ResolvedBy},
	} {
		if err := trust.Required(f.name, f.value); err != nil {
			return DisputeResult{}, err
		}
	}

	if d.Valid {
		step := h.step(ctx, "penalize_completer", ledger.Change{
			UserID:    d.CompleterID,
			RoomID:    d.RoomID,
			Action:    trust.ActionFalseCompletion,
			Reason:    "Dispute upheld: chore was not completed",
			RelatedID: d.ChoreID,
			CreatedBy: d.ResolvedBy,
		})
		return DisputeResult{Steps: []StepResult{step}}, step.Err
	}

	if err := trust.Required("disputerId", d.DisputerID); err != nil {
		return DisputeResult{}, err
	}
	res := DisputeResult{Steps: []StepResult{
		h.step(ctx, "penalize_disputer", ledger.Change{
			UserID:    d.DisputerID,
			RoomID:    d.RoomID,
			Action:    trust.ActionChoreDisputedInvalid,
			Reason:    "Dispute rejected",
			RelatedID: d.ChoreID,
			CreatedBy: d.ResolvedBy,
		}),
		h.step(ctx, "confirm_completer", ledger.Change{
			UserID:    d.CompleterID,
			RoomID:    d.RoomID,
			Action:    trust.ActionChoreConfirmed,
			Reason:    "Completion confirmed after dispute",
			RelatedID: d.ChoreID,
			CreatedBy: d.ResolvedBy,
		}),
	}}
	return res, h.combine("resolve_dispute", res.Steps)
}

func (h *Handlers) step(ctx context.Context, name string, c ledger.Change) StepResult {
	r := StepResult{Step: name, UserID: c.UserID, Action: c.Action}
	r.Score, r.Err = h.ledger.Apply(ctx, c)
	if r.Err != nil {
		r.Error = r.Err.Error()
	}
	return r
}

// combine returns nil when every step committed, the first error when none
// did, and a PartialFailureError otherwise.
func (h *Handlers) combine(op string, steps []StepResult) error {
	pf := &trust.PartialFailureError{Op: op}
	for _, s := range steps {
		if s.OK() {
			pf.Succeeded = append(pf.Succeeded, s.UserID)
			continue
		}
		pf.Failed = append(pf.Failed, trust.StepFailure{Step: s.Step, UserID: s.UserID, Err: s.Err})
	}
	switch {
	case len(pf.Failed) == 0:
		return nil
	case len(pf.Succeeded) == 0:
		return pf.Failed[0].Err
	}
	h.logger.Warn("orchestration partially failed", zap.String("op", op), zap.Error(pf))
	return pf
}

// #endregion dispute

// #region reset
// ManualReset forwards an admin reset to the ledger.
func (h *Handlers) ManualReset(ctx context.Context, r ledger.Reset) error {
	if err := trust.Required("resetBy", r.ResetBy); err != nil {
		return err
	}
	if err := h.ledger.Reset(ctx, r); err != nil {
		return err
	}
	h.logger.Info("trust score reset",
		zap.String("user_id", r.UserID), zap.Int("score", trust.Clamp(r.NewScore)), zap.String("reset_by", r.ResetBy))
	return nil
}

// #endregion reset

// storeErr passes typed errors through and wraps raw store failures.
func storeErr(op string, err error) error {
	var nf *trust.NotFoundError
	var ve *trust.ValidationError
	if errors.As(err, &nf) || errors.As(err, &ve) {
		return err
	}
	return &trust.PersistenceError{Op: op, Attempts: 1, Err: err}
}
