package state

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/danielpatrickdp/roomtrust/internal/trust"
)

// MemStore is an in-process Store with the same optimistic semantics as
// SQLiteStore: writes are buffered per attempt and version-checked at commit.
type MemStore struct {
	mu      sync.RWMutex
	users   map[string]trust.UserRecord
	actions []trust.ActionRecord // commit order
	chores  map[string]trust.Chore
	markers map[string]SweepMarker
}

// NewMemStore returns an empty store.
func NewMemStore() *MemStore {
	return &MemStore{
		users:   make(map[string]trust.UserRecord),
		chores:  make(map[string]trust.Chore),
		markers: make(map[string]SweepMarker),
	}
}

// Close is a no-op.
func (m *MemStore) Close() error { return nil }

// --- Transactions ---

type memTx struct {
	store   *MemStore
	puts    []trust.UserRecord
	actions []trust.ActionRecord
}

func (t *memTx) GetUser(ctx context.Context, userID string) (trust.UserRecord, error) {
	return t.store.GetUser(ctx, userID)
}

func (t *memTx) PutUser(_ context.Context, u trust.UserRecord) error {
	t.puts = append(t.puts, copyUser(u))
	return nil
}

func (t *memTx) AppendAction(_ context.Context, rec trust.ActionRecord) error {
	t.actions = append(t.actions, rec)
	return nil
}

// Update runs fn against a buffered transaction and commits it if every
// written user is still at the version that was read.
func (m *MemStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	tx := &memTx{store: m}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range tx.puts {
		cur, ok := m.users[u.UserID]
		if !ok {
			return &trust.NotFoundError{Kind: "user", ID: u.UserID}
		}
		if cur.Version != u.Version {
			return fmt.Errorf("update user %s at version %d: %w", u.UserID, u.Version, trust.ErrConflict)
		}
	}
	for _, rec := range tx.actions {
		if _, ok := m.users[rec.UserID]; !ok {
			return &trust.NotFoundError{Kind: "user", ID: rec.UserID}
		}
	}

	for _, u := range tx.puts {
		u.Version++
		m.users[u.UserID] = u
	}
	m.actions = append(m.actions, tx.actions...)
	return nil
}

// --- Users ---

// CreateUser inserts u and its first audit record atomically.
func (m *MemStore) CreateUser(_ context.Context, u trust.UserRecord, first trust.ActionRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[u.UserID]; ok {
		return false, nil
	}
	u = copyUser(u)
	u.Version = 0
	m.users[u.UserID] = u
	m.actions = append(m.actions, first)
	return true, nil
}

// GetUser returns a copy of the stored user.
func (m *MemStore) GetUser(_ context.Context, userID string) (trust.UserRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[userID]
	if !ok {
		return trust.UserRecord{}, &trust.NotFoundError{Kind: "user", ID: userID}
	}
	return copyUser(u), nil
}

// --- Audit ---

// AppendAction writes a standalone audit record.
func (m *MemStore) AppendAction(_ context.Context, rec trust.ActionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[rec.UserID]; !ok {
		return &trust.NotFoundError{Kind: "user", ID: rec.UserID}
	}
	m.actions = append(m.actions, rec)
	return nil
}

// QueryActions returns audit records matching q, ordered by commit time.
func (m *MemStore) QueryActions(_ context.Context, q ActionQuery) ([]trust.ActionRecord, error) {
	m.mu.RLock()
	type indexed struct {
		seq int
		rec trust.ActionRecord
	}
	var matched []indexed
	for i, rec := range m.actions {
		if q.UserID != "" && rec.UserID != q.UserID {
			continue
		}
		if q.RoomID != "" && rec.RoomID != q.RoomID {
			continue
		}
		if q.Action != "" && rec.Action != q.Action {
			continue
		}
		if !q.Since.IsZero() && rec.CreatedAt.Before(q.Since) {
			continue
		}
		if !q.Until.IsZero() && !rec.CreatedAt.Before(q.Until) {
			continue
		}
		matched = append(matched, indexed{seq: i, rec: rec})
	}
	m.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.rec.CreatedAt.Equal(b.rec.CreatedAt) {
			if q.Descending {
				return a.rec.CreatedAt.After(b.rec.CreatedAt)
			}
			return a.rec.CreatedAt.Before(b.rec.CreatedAt)
		}
		if q.Descending {
			return a.seq > b.seq
		}
		return a.seq < b.seq
	})

	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	out := make([]trust.ActionRecord, len(matched))
	for i, ix := range matched {
		out[i] = ix.rec
	}
	return out, nil
}

// --- Chores ---

// GetChore loads a chore by ID.
func (m *MemStore) GetChore(_ context.Context, choreID string) (trust.Chore, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.chores[choreID]
	if !ok {
		return trust.Chore{}, &trust.NotFoundError{Kind: "chore", ID: choreID}
	}
	return c, nil
}

// PutChore inserts or replaces a chore.
func (m *MemStore) PutChore(_ context.Context, c trust.Chore) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chores[c.ID] = c
	return nil
}

// QueryChores returns chores matching q ordered by due date.
func (m *MemStore) QueryChores(_ context.Context, q ChoreQuery) ([]trust.Chore, error) {
	m.mu.RLock()
	var out []trust.Chore
	for _, c := range m.chores {
		if q.RoomID != "" && c.RoomID != q.RoomID {
			continue
		}
		if q.AssigneeID != "" && c.AssigneeID != q.AssigneeID {
			continue
		}
		if q.CompletedBy != "" && c.CompletedBy != q.CompletedBy {
			continue
		}
		if len(q.Statuses) > 0 && !slices.Contains(q.Statuses, c.Status) {
			continue
		}
		if !q.DueFrom.IsZero() && c.DueAt.Before(q.DueFrom) {
			continue
		}
		if !q.DueBefore.IsZero() && !c.DueAt.Before(q.DueBefore) {
			continue
		}
		if !q.CompletedSince.IsZero() && (c.CompletedAt == nil || c.CompletedAt.Before(q.CompletedSince)) {
			continue
		}
		out = append(out, c)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].DueAt.Equal(out[j].DueAt) {
			return out[i].DueAt.Before(out[j].DueAt)
		}
		return out[i].ID < out[j].ID
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// --- Sweep markers ---

// ClaimSweep inserts a running marker, or takes over a stale running one.
func (m *MemStore) ClaimSweep(_ context.Context, sm SweepMarker, staleBefore time.Time) (SweepMarker, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := markerKey(sm.RoomID, sm.WeekStart)
	if cur, ok := m.markers[key]; ok {
		if cur.State != SweepRunning || !cur.CreatedAt.Before(staleBefore) {
			return cur, false, nil
		}
	}
	sm.State = SweepRunning
	sm.Applied = 0
	m.markers[key] = sm
	return sm, true, nil
}

// FinishSweep marks a running sweep done.
func (m *MemStore) FinishSweep(_ context.Context, sm SweepMarker) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := markerKey(sm.RoomID, sm.WeekStart)
	if cur, ok := m.markers[key]; !ok || cur.State != SweepRunning {
		return fmt.Errorf("finish sweep %s: %w", sm.RoomID, trust.ErrConflict)
	}
	sm.State = SweepDone
	m.markers[key] = sm
	return nil
}

// ReleaseSweep deletes a running marker.
func (m *MemStore) ReleaseSweep(_ context.Context, roomID string, weekStart time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := markerKey(roomID, weekStart)
	if cur, ok := m.markers[key]; ok && cur.State == SweepRunning {
		delete(m.markers, key)
	}
	return nil
}

func markerKey(roomID string, weekStart time.Time) string {
	return roomID + "|" + weekStart.UTC().Format(time.RFC3339)
}

func copyUser(u trust.UserRecord) trust.UserRecord {
	if u.TrustScore != nil {
		s := *u.TrustScore
		u.TrustScore = &s
	}
	return u
}
