package actions

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/danielpatrickdp/roomtrust/internal/ledger"
	"github.com/danielpatrickdp/roomtrust/internal/state"
	"github.com/danielpatrickdp/roomtrust/internal/trust"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// #region week
// WeekStart returns Sunday 00:00 of the week containing t, in loc.
func WeekStart(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	return midnight.AddDate(0, 0, -int(t.Weekday()))
}

// sweepRef tags bonus records so a rerun after a partial failure can skip
// users that were already paid for the week.
func sweepRef(roomID string, week time.Time) string {
	return fmt.Sprintf("sweep:%s:%s", roomID, week.Format("2006-01-02"))
}

// #endregion week

// #region tally
type tally struct {
	done, total int64
}

// rate is done/total as an exact decimal.
func (t tally) rate() decimal.Decimal {
	if t.total == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(t.done).Div(decimal.NewFromInt(t.total))
}

func (t tally) earnsBonus() bool {
	return t.total >= sweepMinChores && t.rate().GreaterThanOrEqual(sweepThreshold)
}

// #endregion tally

// #region sweep
// WeeklySweep awards helpful_action to every assignee in roomID who finished
// at least 90% of three or more chores due in the calendar week containing
// now. Each bonus is its own ledger transaction. A failed chore fetch aborts
// the sweep before any bonus; failed bonuses are reported in the result and
// as a *trust.PartialFailureError. The week is claimed before any bonus is
// paid, so a concurrent run for the same room and week fails with
// trust.ErrConflict. A week that completed without failures stays marked and
// later runs return AlreadyRun; any failure releases the claim.
func (h *Handlers) WeeklySweep(ctx context.Context, roomID string, now time.Time) (SweepResult, error) {
	if err := trust.Required("roomId", roomID); err != nil {
		return SweepResult{}, err
	}
	start := WeekStart(now, h.loc)
	end := start.AddDate(0, 0, 7)
	res := SweepResult{RoomID: roomID, Week: start, Bonused: []string{}}

	claimedAt := h.now()
	marker, claimed, err := h.store.ClaimSweep(ctx,
		state.SweepMarker{RoomID: roomID, WeekStart: start, CreatedAt: claimedAt},
		claimedAt.Add(-sweepClaimTTL))
	if err != nil {
		return res, storeErr("claim_sweep", err)
	}
	if !claimed {
		if marker.State == state.SweepDone {
			res.AlreadyRun = true
			h.logger.Info("weekly sweep already ran", zap.String("room_id", roomID), zap.Time("week", start))
			return res, nil
		}
		return res, fmt.Errorf("weekly sweep for %s week %s already running since %s: %w",
			roomID, start.Format(time.DateOnly), marker.CreatedAt.Format(time.RFC3339), trust.ErrConflict)
	}

	res, err = h.sweep(ctx, res, roomID, start, end)
	if err != nil {
		if relErr := h.store.ReleaseSweep(context.WithoutCancel(ctx), roomID, start); relErr != nil {
			h.logger.Error("weekly sweep claim not released",
				zap.String("room_id", roomID), zap.Time("week", start), zap.Error(relErr))
		}
		return res, err
	}

	err = h.store.FinishSweep(ctx, state.SweepMarker{
		RoomID:    roomID,
		WeekStart: start,
		Applied:   res.Applied + len(res.Skipped),
		CreatedAt: h.now(),
	})
	if err != nil {
		return res, fmt.Errorf("mark weekly sweep: %w", storeErr("weekly_sweep", err))
	}
	h.logger.Info("weekly sweep finished",
		zap.String("room_id", roomID), zap.Time("week", start), zap.Int("applied", res.Applied))
	return res, nil
}

// sweep pays the week's bonuses under a held claim.
func (h *Handlers) sweep(ctx context.Context, res SweepResult, roomID string, start, end time.Time) (SweepResult, error) {
	chores, err := h.store.QueryChores(ctx, state.ChoreQuery{RoomID: roomID, DueFrom: start, DueBefore: end})
	if err != nil {
		return res, fmt.Errorf("fetch week chores: %w", storeErr("weekly_sweep", err))
	}
	paid, err := h.alreadyBonused(ctx, roomID, start)
	if err != nil {
		return res, fmt.Errorf("fetch week bonuses: %w", storeErr("weekly_sweep", err))
	}

	tallies := make(map[string]*tally)
	for _, c := range chores {
		if c.AssigneeID == "" {
			continue
		}
		t, ok := tallies[c.AssigneeID]
		if !ok {
			t = &tally{}
			tallies[c.AssigneeID] = t
		}
		t.total++
		if c.Done() {
			t.done++
		}
	}
	assignees := make([]string, 0, len(tallies))
	for id := range tallies {
		assignees = append(assignees, id)
	}
	sort.Strings(assignees)

	ref := sweepRef(roomID, start)
	for _, userID := range assignees {
		t := tallies[userID]
		if !t.earnsBonus() {
			continue
		}
		if paid[userID] {
			res.Skipped = append(res.Skipped, userID)
			continue
		}
		_, err := h.ledger.Apply(ctx, ledger.Change{
			UserID:    userID,
			RoomID:    roomID,
			Action:    trust.ActionHelpful,
			Reason:    fmt.Sprintf("Weekly consistency bonus: %d/%d chores (%s%%)", t.done, t.total, t.rate().Shift(2).Round(0)),
			RelatedID: ref,
			CreatedBy: trust.SystemActor,
		})
		if err != nil {
			res.Failed = append(res.Failed, trust.StepFailure{Step: "sweep_bonus", UserID: userID, Err: err})
			continue
		}
		res.Bonused = append(res.Bonused, userID)
		res.Applied++
	}
	h.metrics.AddSweepBonuses(res.Applied)

	if len(res.Failed) > 0 {
		pf := &trust.PartialFailureError{Op: "weekly_sweep", Succeeded: res.Bonused, Failed: res.Failed}
		h.logger.Warn("weekly sweep partially failed",
			zap.String("room_id", roomID), zap.Int("applied", res.Applied), zap.Error(pf))
		return res, pf
	}
	h.logger.Debug("weekly sweep tallied",
		zap.String("room_id", roomID), zap.Int("chores", len(chores)), zap.Int("assignees", len(assignees)))
	return res, nil
}

// alreadyBonused returns the users that hold a bonus for this room and week.
func (h *Handlers) alreadyBonused(ctx context.Context, roomID string, week time.Time) (map[string]bool, error) {
	recs, err := h.store.QueryActions(ctx, state.ActionQuery{
		RoomID: roomID,
		Action: trust.ActionHelpful,
		Since:  week,
	})
	if err != nil {
		return nil, err
	}
	ref := sweepRef(roomID, week)
	paid := make(map[string]bool)
	for _, r := range recs {
		if r.RelatedID == ref {
			paid[r.UserID] = true
		}
	}
	return paid, nil
}

// #endregion sweep
