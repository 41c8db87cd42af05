package actions

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/danielpatrickdp/roomtrust/internal/ledger"
	"github.com/danielpatrickdp/roomtrust/internal/state"
	"github.com/danielpatrickdp/roomtrust/internal/trust"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const room = "room-1"

var (
	sunday    = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	wednesday = sunday.AddDate(0, 0, 3).Add(18 * time.Hour)
)

// #region helpers
type tickClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *tickClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type fixture struct {
	store    *state.MemStore
	ledger   *ledger.Ledger
	handlers *Handlers
}

func newFixture(t *testing.T, users ...string) *fixture {
	t.Helper()
	store := state.NewMemStore()
	clock := &tickClock{now: wednesday}
	l := ledger.New(store, ledger.DefaultConfig(), ledger.WithClock(clock.Now))
	for _, u := range users {
		_, err := l.CreateUser(context.Background(), u, room)
		require.NoError(t, err)
	}
	h := New(l, store, Config{Location: time.UTC}, WithClock(clock.Now))
	return &fixture{store: store, ledger: l, handlers: h}
}

func (f *fixture) withLedger(l Ledger) *Handlers {
	return New(l, f.store, Config{Location: time.UTC}, WithClock(f.handlers.now))
}

func (f *fixture) score(t *testing.T, userID string) int {
	t.Helper()
	s, err := f.ledger.Score(context.Background(), userID)
	require.NoError(t, err)
	return s
}

func (f *fixture) putChore(t *testing.T, c trust.Chore) {
	t.Helper()
	if c.RoomID == "" {
		c.RoomID = room
	}
	if c.Status == "" {
		c.Status = trust.ChorePending
	}
	require.NoError(t, f.store.PutChore(context.Background(), c))
}

// flakyLedger fails Apply for selected users.
type flakyLedger struct {
	*ledger.Ledger
	fail map[string]error
}

func (f *flakyLedger) Apply(ctx context.Context, c ledger.Change) (int, error) {
	if err := f.fail[c.UserID]; err != nil {
		return 0, err
	}
	return f.Ledger.Apply(ctx, c)
}

type brokenChoreStore struct {
	*state.MemStore
}

func (brokenChoreStore) QueryChores(context.Context, state.ChoreQuery) ([]trust.Chore, error) {
	return nil, errors.New("chore index unavailable")
}

// #endregion helpers

// #region complete-chore
func TestCompleteChoreHappyPath(t *testing.T) {
	f := newFixture(t, "alice")
	f.putChore(t, trust.Chore{ID: "dishes", Title: "Dishes", AssigneeID: "alice", DueAt: wednesday})

	res, err := f.handlers.CompleteChore(context.Background(), CompleteChore{ChoreID: "dishes", UserID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, 102, res.Score)
	assert.Equal(t, 1, res.ConsecutiveCount)

	c, err := f.store.GetChore(context.Background(), "dishes")
	require.NoError(t, err)
	assert.Equal(t, trust.ChoreCompleted, c.Status)
	assert.Equal(t, "alice", c.CompletedBy)
	require.NotNil(t, c.CompletedAt)

	recs, _ := f.store.QueryActions(context.Background(), state.ActionQuery{UserID: "alice", Action: trust.ActionChoreCompleted})
	require.Len(t, recs, 1)
	assert.Equal(t, 2, recs[0].Points)
	assert.Equal(t, "dishes", recs[0].RelatedID)
	assert.Equal(t, "Completed chore: Dishes", recs[0].Reason)
}

func TestCompleteChoreStreakAndRecurring(t *testing.T) {
	f := newFixture(t, "alice")
	for i := 0; i < 4; i++ {
		done := wednesday.AddDate(0, 0, -(i*5 + 1))
		f.putChore(t, trust.Chore{
			ID: fmt.Sprintf("old-%d", i), AssigneeID: "alice", CompletedBy: "alice",
			Status: trust.ChoreConfirmed, DueAt: done, CompletedAt: &done,
		})
	}
	stale := wednesday.AddDate(0, 0, -31)
	f.putChore(t, trust.Chore{ID: "stale", CompletedBy: "alice", Status: trust.ChoreCompleted, DueAt: stale, CompletedAt: &stale})
	other := wednesday.AddDate(0, 0, -2)
	f.putChore(t, trust.Chore{ID: "elsewhere", RoomID: "room-2", CompletedBy: "alice", Status: trust.ChoreCompleted, DueAt: other, CompletedAt: &other})
	f.putChore(t, trust.Chore{ID: "trash", Title: "Trash", AssigneeID: "alice", Recurring: true, DueAt: wednesday})

	res, err := f.handlers.CompleteChore(context.Background(), CompleteChore{ChoreID: "trash", UserID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, 5, res.ConsecutiveCount)
	assert.Equal(t, 104, res.Score, "base 2 + recurring 1 + streak 1")
}

func TestCompleteChoreRejectsDoneAndMissing(t *testing.T) {
	f := newFixture(t, "alice")
	at := wednesday
	f.putChore(t, trust.Chore{ID: "done", CompletedBy: "alice", Status: trust.ChoreConfirmed, DueAt: at, CompletedAt: &at})

	_, err := f.handlers.CompleteChore(context.Background(), CompleteChore{ChoreID: "done", UserID: "alice"})
	var ve *trust.ValidationError
	require.ErrorAs(t, err, &ve)

	_, err = f.handlers.CompleteChore(context.Background(), CompleteChore{ChoreID: "nope", UserID: "alice"})
	var nf *trust.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "chore", nf.Kind)

	assert.Equal(t, 100, f.score(t, "alice"))
}

func TestCompleteChoreFailedCreditRestoresChore(t *testing.T) {
	f := newFixture(t, "ana")
	f.putChore(t, trust.Chore{ID: "floors", Title: "Floors", AssigneeID: "ana", DueAt: wednesday})

	flaky := f.withLedger(&flakyLedger{Ledger: f.ledger, fail: map[string]error{
		"ana": &trust.PersistenceError{Op: "apply", Attempts: 4, Err: trust.ErrConflict},
	}})
	_, err := flaky.CompleteChore(context.Background(), CompleteChore{ChoreID: "floors", UserID: "ana"})
	var pe *trust.PersistenceError
	require.ErrorAs(t, err, &pe)

	c, err := f.store.GetChore(context.Background(), "floors")
	require.NoError(t, err)
	assert.Equal(t, trust.ChorePending, c.Status)
	assert.Empty(t, c.CompletedBy)
	assert.Nil(t, c.CompletedAt)

	res, err := f.handlers.CompleteChore(context.Background(), CompleteChore{ChoreID: "floors", UserID: "ana"})
	require.NoError(t, err)
	assert.Equal(t, 102, res.Score)
	assert.Equal(t, 1, res.ConsecutiveCount)
}

func TestCompleteChoreUnknownUserLeavesChorePending(t *testing.T) {
	f := newFixture(t)
	f.putChore(t, trust.Chore{ID: "floors", Title: "Floors", DueAt: wednesday})

	_, err := f.handlers.CompleteChore(context.Background(), CompleteChore{ChoreID: "floors", UserID: "ghost"})
	var nf *trust.NotFoundError
	require.ErrorAs(t, err, &nf)

	c, err := f.store.GetChore(context.Background(), "floors")
	require.NoError(t, err)
	assert.Equal(t, trust.ChorePending, c.Status)
	assert.Empty(t, c.CompletedBy)
}

// #endregion complete-chore

// #region dispute
func TestResolveDisputeValid(t *testing.T) {
	f := newFixture(t, "cara", "dev")

	res, err := f.handlers.ResolveDispute(context.Background(), Dispute{
		ChoreID: "c1", RoomID: room, CompleterID: "cara", DisputerID: "dev", Valid: true, ResolvedBy: "admin",
	})
	require.NoError(t, err)
	require.Len(t, res.Steps, 1)
	assert.Equal(t, trust.ActionFalseCompletion, res.Steps[0].Action)
	assert.Equal(t, 90, f.score(t, "cara"))
	assert.Equal(t, 100, f.score(t, "dev"))
}

func TestResolveDisputeInvalidDualEffect(t *testing.T) {
	f := newFixture(t, "cara", "dev")

	res, err := f.handlers.ResolveDispute(context.Background(), Dispute{
		ChoreID: "c1", RoomID: room, CompleterID: "cara", DisputerID: "dev", Valid: false, ResolvedBy: "admin",
	})
	require.NoError(t, err)
	require.Len(t, res.Steps, 2)
	assert.Equal(t, 99, f.score(t, "dev"))
	assert.Equal(t, 101, f.score(t, "cara"))

	devRecs, _ := f.store.QueryActions(context.Background(), state.ActionQuery{UserID: "dev", Action: trust.ActionChoreDisputedInvalid})
	caraRecs, _ := f.store.QueryActions(context.Background(), state.ActionQuery{UserID: "cara", Action: trust.ActionChoreConfirmed})
	require.Len(t, devRecs, 1)
	require.Len(t, caraRecs, 1)
	assert.Equal(t, -1, devRecs[0].Points)
	assert.Equal(t, 1, caraRecs[0].Points)
	assert.Equal(t, "c1", caraRecs[0].RelatedID)
	assert.Equal(t, "admin", caraRecs[0].CreatedBy)
}

func TestResolveDisputePartialFailure(t *testing.T) {
	f := newFixture(t, "cara", "dev")
	boom := errors.New("store offline")
	h := f.withLedger(&flakyLedger{Ledger: f.ledger, fail: map[string]error{"dev": boom}})

	res, err := h.ResolveDispute(context.Background(), Dispute{
		ChoreID: "c1", RoomID: room, CompleterID: "cara", DisputerID: "dev", ResolvedBy: "admin",
	})
	var pf *trust.PartialFailureError
	require.ErrorAs(t, err, &pf)
	assert.Equal(t, []string{"cara"}, pf.Succeeded)
	require.Len(t, pf.Failed, 1)
	assert.Equal(t, "dev", pf.Failed[0].UserID)
	assert.ErrorIs(t, err, boom)

	require.Len(t, res.Steps, 2)
	assert.False(t, res.Steps[0].OK())
	assert.True(t, res.Steps[1].OK())
	assert.Equal(t, 101, f.score(t, "cara"))
	assert.Equal(t, 100, f.score(t, "dev"))
}

func TestResolveDisputeAllStepsFailed(t *testing.T) {
	f := newFixture(t)

	_, err := f.handlers.ResolveDispute(context.Background(), Dispute{
		ChoreID: "c1", RoomID: room, CompleterID: "ghost-c", DisputerID: "ghost-d", ResolvedBy: "admin",
	})
	var nf *trust.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "ghost-d", nf.ID)
	var pf *trust.PartialFailureError
	assert.False(t, errors.As(err, &pf))
}

func TestResolveDisputeValidation(t *testing.T) {
	f := newFixture(t, "cara")
	_, err := f.handlers.ResolveDispute(context.Background(), Dispute{
		ChoreID: "c1", RoomID: room, CompleterID: "cara", ResolvedBy: "admin",
	})
	var ve *trust.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "disputerId", ve.Field)
	assert.Equal(t, 100, f.score(t, "cara"))
}

// #endregion dispute

// #region reset
func TestManualReset(t *testing.T) {
	f := newFixture(t, "erin")

	err := f.handlers.ManualReset(context.Background(), ledger.Reset{UserID: "erin", RoomID: room, NewScore: 120, Reason: "promotion"})
	var ve *trust.ValidationError
	require.ErrorAs(t, err, &ve)

	require.NoError(t, f.handlers.ManualReset(context.Background(), ledger.Reset{
		UserID: "erin", RoomID: room, NewScore: 120, Reason: "promotion", ResetBy: "admin",
	}))
	assert.Equal(t, 120, f.score(t, "erin"))
}

// #endregion reset
