package actions

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/danielpatrickdp/roomtrust/internal/ledger"
	"github.com/danielpatrickdp/roomtrust/internal/metrics"
	"github.com/danielpatrickdp/roomtrust/internal/state"
	"github.com/danielpatrickdp/roomtrust/internal/trust"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestWeekStart(t *testing.T) {
	cases := []struct {
		name string
		in   time.Time
		want time.Time
	}{
		{"sunday midnight", sunday, sunday},
		{"sunday evening", sunday.Add(23 * time.Hour), sunday},
		{"wednesday", wednesday, sunday},
		{"saturday last second", sunday.AddDate(0, 0, 7).Add(-time.Second), sunday},
		{"next sunday", sunday.AddDate(0, 0, 7), sunday.AddDate(0, 0, 7)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := WeekStart(tc.in, time.UTC)
			if !got.Equal(tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestWeekStartUsesLocation(t *testing.T) {
	east := time.FixedZone("UTC+3", 3*3600)
	// Saturday 22:00 UTC is already Sunday 01:00 at UTC+3.
	in := time.Date(2026, 3, 7, 22, 0, 0, 0, time.UTC)
	got := WeekStart(in, east)
	want := time.Date(2026, 3, 8, 0, 0, 0, 0, east)
	if !got.Equal(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if WeekStart(in, time.UTC).Equal(want) {
		t.Fatalf("expected UTC week to differ from UTC+3 week")
	}
}

// seedWeek gives each assignee done/total chores due during the week.
func seedWeek(t *testing.T, f *fixture, plan map[string][2]int) {
	t.Helper()
	for user, p := range plan {
		done, total := p[0], p[1]
		for i := 0; i < total; i++ {
			c := trust.Chore{
				ID:         fmt.Sprintf("%s-%d", user, i),
				AssigneeID: user,
				DueAt:      sunday.Add(time.Duration(i+1) * 12 * time.Hour),
			}
			if i < done {
				at := c.DueAt
				c.Status = trust.ChoreCompleted
				c.CompletedBy = user
				c.CompletedAt = &at
			}
			f.putChore(t, c)
		}
	}
}

func TestWeeklySweepThreshold(t *testing.T) {
	f := newFixture(t, "alice", "bob", "carol", "dave")
	seedWeek(t, f, map[string][2]int{
		"alice": {3, 3},
		"bob":   {2, 2},
		"carol": {9, 10},
		"dave":  {8, 10},
	})
	f.putChore(t, trust.Chore{ID: "last-week", AssigneeID: "dave", DueAt: sunday.Add(-time.Hour)})
	f.putChore(t, trust.Chore{ID: "next-week", AssigneeID: "dave", DueAt: sunday.AddDate(0, 0, 7)})

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	h := New(f.ledger, f.store, Config{Location: time.UTC}, WithClock(f.handlers.now), WithMetrics(m))

	res, err := h.WeeklySweep(context.Background(), room, wednesday)
	require.NoError(t, err)
	assert.Equal(t, sunday, res.Week)
	assert.Equal(t, 2, res.Applied)
	assert.Equal(t, []string{"alice", "carol"}, res.Bonused)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SweepBonuses))

	assert.Equal(t, 105, f.score(t, "alice"))
	assert.Equal(t, 100, f.score(t, "bob"), "two chores is below the floor")
	assert.Equal(t, 105, f.score(t, "carol"))
	assert.Equal(t, 100, f.score(t, "dave"))

	recs, _ := f.store.QueryActions(context.Background(), state.ActionQuery{UserID: "alice", Action: trust.ActionHelpful})
	require.Len(t, recs, 1)
	assert.Equal(t, trust.SystemActor, recs[0].CreatedBy)
	assert.Equal(t, 5, recs[0].Points)
	assert.Equal(t, "sweep:room-1:2026-03-01", recs[0].RelatedID)
}

func TestWeeklySweepIsIdempotent(t *testing.T) {
	f := newFixture(t, "alice")
	seedWeek(t, f, map[string][2]int{"alice": {3, 3}})

	first, err := f.handlers.WeeklySweep(context.Background(), room, wednesday)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Applied)

	again, err := f.handlers.WeeklySweep(context.Background(), room, wednesday.Add(24*time.Hour))
	require.NoError(t, err)
	assert.True(t, again.AlreadyRun)
	assert.Equal(t, 0, again.Applied)
	assert.Equal(t, 105, f.score(t, "alice"))

	marker, claimed, err := f.store.ClaimSweep(context.Background(),
		state.SweepMarker{RoomID: room, WeekStart: sunday, CreatedAt: wednesday.AddDate(0, 0, 1)}, wednesday.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Equal(t, state.SweepDone, marker.State)
	assert.Equal(t, 1, marker.Applied)
}

func TestWeeklySweepRejectsConcurrentRun(t *testing.T) {
	f := newFixture(t, "alice")
	seedWeek(t, f, map[string][2]int{"alice": {3, 3}})

	_, claimed, err := f.store.ClaimSweep(context.Background(),
		state.SweepMarker{RoomID: room, WeekStart: sunday, CreatedAt: wednesday}, wednesday.Add(-sweepClaimTTL))
	require.NoError(t, err)
	require.True(t, claimed)

	res, err := f.handlers.WeeklySweep(context.Background(), room, wednesday)
	require.ErrorIs(t, err, trust.ErrConflict)
	assert.False(t, res.AlreadyRun)
	assert.Equal(t, 0, res.Applied)
	assert.Equal(t, 100, f.score(t, "alice"))
}

func TestWeeklySweepTakesOverStaleClaim(t *testing.T) {
	f := newFixture(t, "alice")
	seedWeek(t, f, map[string][2]int{"alice": {3, 3}})

	stale := wednesday.Add(-sweepClaimTTL - time.Minute)
	_, claimed, err := f.store.ClaimSweep(context.Background(),
		state.SweepMarker{RoomID: room, WeekStart: sunday, CreatedAt: stale}, stale)
	require.NoError(t, err)
	require.True(t, claimed)

	res, err := f.handlers.WeeklySweep(context.Background(), room, wednesday)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, res.Bonused)
	assert.Equal(t, 105, f.score(t, "alice"))
}

func TestWeeklySweepConcurrentCallsPayOnce(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	seedWeek(t, f, map[string][2]int{"alice": {3, 3}, "bob": {4, 4}})

	var g errgroup.Group
	results := make([]SweepResult, 8)
	errs := make([]error, 8)
	for i := range results {
		i := i
		g.Go(func() error {
			results[i], errs[i] = f.handlers.WeeklySweep(context.Background(), room, wednesday)
			return nil
		})
	}
	require.NoError(t, g.Wait())

	applied := 0
	for i, err := range errs {
		if err != nil {
			require.ErrorIs(t, err, trust.ErrConflict)
			continue
		}
		applied += results[i].Applied
	}
	assert.Equal(t, 2, applied)
	assert.Equal(t, 105, f.score(t, "alice"))
	assert.Equal(t, 105, f.score(t, "bob"))
}

func TestWeeklySweepPartialFailureThenRerun(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	seedWeek(t, f, map[string][2]int{"alice": {3, 3}, "bob": {4, 4}})
	boom := errors.New("commit failed")
	flaky := f.withLedger(&flakyLedger{Ledger: f.ledger, fail: map[string]error{"alice": boom}})

	res, err := flaky.WeeklySweep(context.Background(), room, wednesday)
	var pf *trust.PartialFailureError
	require.ErrorAs(t, err, &pf)
	assert.Equal(t, "weekly_sweep", pf.Op)
	assert.Equal(t, 1, res.Applied)
	assert.Equal(t, []string{"bob"}, res.Bonused)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, "alice", res.Failed[0].UserID)

	res, err = f.handlers.WeeklySweep(context.Background(), room, wednesday)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, res.Bonused)
	assert.Equal(t, []string{"bob"}, res.Skipped)
	assert.Equal(t, 105, f.score(t, "alice"))
	assert.Equal(t, 105, f.score(t, "bob"), "bob is paid once")
}

func TestWeeklySweepFetchFailureAborts(t *testing.T) {
	f := newFixture(t, "alice")
	seedWeek(t, f, map[string][2]int{"alice": {3, 3}})
	h := New(f.ledger, brokenChoreStore{f.store}, Config{Location: time.UTC})

	res, err := h.WeeklySweep(context.Background(), room, wednesday)
	require.Error(t, err)
	var pe *trust.PersistenceError
	assert.ErrorAs(t, err, &pe)
	var pf *trust.PartialFailureError
	assert.False(t, errors.As(err, &pf))
	assert.Equal(t, 0, res.Applied)
	assert.Equal(t, 100, f.score(t, "alice"))
}

func TestWeeklySweepEmptyWeek(t *testing.T) {
	f := newFixture(t)
	res, err := f.handlers.WeeklySweep(context.Background(), room, wednesday)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Applied)
	assert.NotNil(t, res.Bonused)
}

func TestSweepRate(t *testing.T) {
	cases := []struct {
		done, total int64
		want        bool
	}{
		{3, 3, true},
		{2, 2, false},
		{9, 10, true},
		{8, 10, false},
		{0, 0, false},
		{27, 30, true},
		{26, 30, false},
	}
	for _, tc := range cases {
		got := tally{done: tc.done, total: tc.total}.earnsBonus()
		if got != tc.want {
			t.Fatalf("%d/%d: expected %v, got %v", tc.done, tc.total, tc.want, got)
		}
	}
}

var _ Ledger = (*ledger.Ledger)(nil)
