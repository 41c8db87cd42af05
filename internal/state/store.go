package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danielpatrickdp/roomtrust/internal/logging"
	"github.com/danielpatrickdp/roomtrust/internal/trust"
	"modernc.org/sqlite"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS users (
	user_id      TEXT PRIMARY KEY,
	trust_score  INTEGER,
	version      INTEGER NOT NULL DEFAULT 0,
	updated_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS trust_actions (
	seq          INTEGER PRIMARY KEY AUTOINCREMENT,
	id           TEXT NOT NULL UNIQUE,
	user_id      TEXT NOT NULL,
	room_id      TEXT NOT NULL,
	action       TEXT NOT NULL,
	points       INTEGER NOT NULL,
	reason       TEXT NOT NULL,
	related_id   TEXT,
	created_by   TEXT,
	created_at   TEXT NOT NULL,
	FOREIGN KEY (user_id) REFERENCES users(user_id)
);

CREATE INDEX IF NOT EXISTS idx_trust_actions_user_created
	ON trust_actions (user_id, created_at);

CREATE TABLE IF NOT EXISTS chores (
	chore_id     TEXT PRIMARY KEY,
	room_id      TEXT NOT NULL,
	title        TEXT NOT NULL,
	assignee_id  TEXT NOT NULL,
	completed_by TEXT,
	status       TEXT NOT NULL,
	recurring    INTEGER NOT NULL DEFAULT 0,
	due_at       TEXT NOT NULL,
	completed_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_chores_room_due ON chores (room_id, due_at);

CREATE TABLE IF NOT EXISTS sweep_markers (
	room_id      TEXT NOT NULL,
	week_start   TEXT NOT NULL,
	state        TEXT NOT NULL DEFAULT 'done',
	applied      INTEGER NOT NULL,
	created_at   TEXT NOT NULL,
	PRIMARY KEY (room_id, week_start)
);
`

// #endregion schema

const (
	sqliteBusy   = 5
	sqliteLocked = 6
)

// #region store-struct
// SQLiteStore implements Store on SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// #endregion store-struct

// #region constructor
// NewSQLiteStore opens a SQLite database and runs migrations.
// The pool is limited to one connection so transactions from this process
// serialize; cross-process writers are caught by the version check.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma busy: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// #endregion constructor

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// #region update
// Update runs fn inside one SQLite transaction.
func (s *SQLiteStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", classify(err))
	}
	defer tx.Rollback()

	if err := fn(&sqliteTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", classify(err))
	}
	return nil
}

type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) GetUser(ctx context.Context, userID string) (trust.UserRecord, error) {
	return scanUser(t.tx.QueryRowContext(ctx,
		`SELECT user_id, trust_score, version, updated_at FROM users WHERE user_id = ?`, userID,
	), userID)
}

func (t *sqliteTx) PutUser(ctx context.Context, u trust.UserRecord) error {
	var score interface{}
	if u.TrustScore != nil {
		score = *u.TrustScore
	}
	res, err := t.tx.ExecContext(ctx,
		`UPDATE users SET trust_score = ?, version = version + 1, updated_at = ?
		 WHERE user_id = ? AND version = ?`,
		score, logging.FormatTime(u.UpdatedAt), u.UserID, u.Version,
	)
	if err != nil {
		return fmt.Errorf("update user: %w", classify(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update user rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("update user %s at version %d: %w", u.UserID, u.Version, trust.ErrConflict)
	}
	return nil
}

func (t *sqliteTx) AppendAction(ctx context.Context, rec trust.ActionRecord) error {
	return logging.LogAction(ctx, t.tx, rec)
}

// #endregion update

// #region users
// CreateUser inserts u and its first audit record atomically.
func (s *SQLiteStore) CreateUser(ctx context.Context, u trust.UserRecord, first trust.ActionRecord) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", classify(err))
	}
	defer tx.Rollback()

	var score interface{}
	if u.TrustScore != nil {
		score = *u.TrustScore
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO users (user_id, trust_score, version, updated_at) VALUES (?, ?, 0, ?)
		 ON CONFLICT(user_id) DO NOTHING`,
		u.UserID, score, logging.FormatTime(u.UpdatedAt),
	)
	if err != nil {
		return false, fmt.Errorf("insert user: %w", classify(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert user rows: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	if err := logging.LogAction(ctx, tx, first); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", classify(err))
	}
	return true, nil
}

// GetUser reads a user outside any transaction.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (trust.UserRecord, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`SELECT user_id, trust_score, version, updated_at FROM users WHERE user_id = ?`, userID,
	), userID)
}

func scanUser(row *sql.Row, userID string) (trust.UserRecord, error) {
	var u trust.UserRecord
	var score sql.NullInt64
	var updatedStr string
	err := row.Scan(&u.UserID, &score, &u.Version, &updatedStr)
	if errors.Is(err, sql.ErrNoRows) {
		return trust.UserRecord{}, &trust.NotFoundError{Kind: "user", ID: userID}
	}
	if err != nil {
		return trust.UserRecord{}, fmt.Errorf("get user %s: %w", userID, classify(err))
	}
	if score.Valid {
		v := int(score.Int64)
		u.TrustScore = &v
	}
	u.UpdatedAt, _ = logging.ParseTime(updatedStr)
	return u, nil
}

// #endregion users

// #region actions
// AppendAction writes a standalone audit record.
func (s *SQLiteStore) AppendAction(ctx context.Context, rec trust.ActionRecord) error {
	return logging.LogAction(ctx, s.db, rec)
}

// QueryActions returns audit records matching q, ordered by commit time.
func (s *SQLiteStore) QueryActions(ctx context.Context, q ActionQuery) ([]trust.ActionRecord, error) {
	var where []string
	var args []any
	if q.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, q.UserID)
	}
	if q.RoomID != "" {
		where = append(where, "room_id = ?")
		args = append(args, q.RoomID)
	}
	if q.Action != "" {
		where = append(where, "action = ?")
		args = append(args, string(q.Action))
	}
	if !q.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, logging.FormatTime(q.Since))
	}
	if !q.Until.IsZero() {
		where = append(where, "created_at < ?")
		args = append(args, logging.FormatTime(q.Until))
	}

	query := `SELECT id, user_id, room_id, action, points, reason, related_id, created_by, created_at
		FROM trust_actions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	if q.Descending {
		query += " ORDER BY created_at DESC, seq DESC"
	} else {
		query += " ORDER BY created_at ASC, seq ASC"
	}
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query actions: %w", classify(err))
	}
	defer rows.Close()

	var records []trust.ActionRecord
	for rows.Next() {
		var rec trust.ActionRecord
		var action, createdStr string
		var relatedID, createdBy sql.NullString
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.RoomID, &action, &rec.Points, &rec.Reason,
			&relatedID, &createdBy, &createdStr); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		rec.Action = trust.ActionType(action)
		rec.RelatedID = relatedID.String
		rec.CreatedBy = createdBy.String
		rec.CreatedAt, _ = logging.ParseTime(createdStr)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// #endregion actions

// #region chores
// GetChore loads a chore by ID.
func (s *SQLiteStore) GetChore(ctx context.Context, choreID string) (trust.Chore, error) {
	rows, err := s.db.QueryContext(ctx, choreSelect+` WHERE chore_id = ?`, choreID)
	if err != nil {
		return trust.Chore{}, fmt.Errorf("get chore %s: %w", choreID, classify(err))
	}
	defer rows.Close()

	chores, err := scanChores(rows)
	if err != nil {
		return trust.Chore{}, err
	}
	if len(chores) == 0 {
		return trust.Chore{}, &trust.NotFoundError{Kind: "chore", ID: choreID}
	}
	return chores[0], nil
}

// PutChore inserts or replaces a chore document.
func (s *SQLiteStore) PutChore(ctx context.Context, c trust.Chore) error {
	var completedAt interface{}
	if c.CompletedAt != nil {
		completedAt = logging.FormatTime(*c.CompletedAt)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chores (chore_id, room_id, title, assignee_id, completed_by, status, recurring, due_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(chore_id) DO UPDATE SET
			room_id = excluded.room_id,
			title = excluded.title,
			assignee_id = excluded.assignee_id,
			completed_by = excluded.completed_by,
			status = excluded.status,
			recurring = excluded.recurring,
			due_at = excluded.due_at,
			completed_at = excluded.completed_at`,
		c.ID, c.RoomID, c.Title, c.AssigneeID, nullIfEmpty(c.CompletedBy), string(c.Status),
		c.Recurring, logging.FormatTime(c.DueAt), completedAt,
	)
	if err != nil {
		return fmt.Errorf("put chore %s: %w", c.ID, classify(err))
	}
	return nil
}

// QueryChores returns chores matching q ordered by due date.
func (s *SQLiteStore) QueryChores(ctx context.Context, q ChoreQuery) ([]trust.Chore, error) {
	var where []string
	var args []any
	if q.RoomID != "" {
		where = append(where, "room_id = ?")
		args = append(args, q.RoomID)
	}
	if q.AssigneeID != "" {
		where = append(where, "assignee_id = ?")
		args = append(args, q.AssigneeID)
	}
	if q.CompletedBy != "" {
		where = append(where, "completed_by = ?")
		args = append(args, q.CompletedBy)
	}
	if len(q.Statuses) > 0 {
		marks := make([]string, len(q.Statuses))
		for i, st := range q.Statuses {
			marks[i] = "?"
			args = append(args, string(st))
		}
		where = append(where, "status IN ("+strings.Join(marks, ", ")+")")
	}
	if !q.DueFrom.IsZero() {
		where = append(where, "due_at >= ?")
		args = append(args, logging.FormatTime(q.DueFrom))
	}
	if !q.DueBefore.IsZero() {
		where = append(where, "due_at < ?")
		args = append(args, logging.FormatTime(q.DueBefore))
	}
	if !q.CompletedSince.IsZero() {
		where = append(where, "completed_at >= ?")
		args = append(args, logging.FormatTime(q.CompletedSince))
	}

	query := choreSelect
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY due_at ASC, chore_id ASC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query chores: %w", classify(err))
	}
	defer rows.Close()
	return scanChores(rows)
}

const choreSelect = `SELECT chore_id, room_id, title, assignee_id, completed_by, status, recurring, due_at, completed_at FROM chores`

func scanChores(rows *sql.Rows) ([]trust.Chore, error) {
	var chores []trust.Chore
	for rows.Next() {
		var c trust.Chore
		var completedBy, completedAt sql.NullString
		var status, dueStr string
		if err := rows.Scan(&c.ID, &c.RoomID, &c.Title, &c.AssigneeID, &completedBy, &status,
			&c.Recurring, &dueStr, &completedAt); err != nil {
			return nil, fmt.Errorf("scan chore: %w", err)
		}
		c.CompletedBy = completedBy.String
		c.Status = trust.ChoreStatus(status)
		c.DueAt, _ = logging.ParseTime(dueStr)
		if completedAt.Valid {
			at, _ := logging.ParseTime(completedAt.String)
			c.CompletedAt = &at
		}
		chores = append(chores, c)
	}
	return chores, rows.Err()
}

// #endregion chores

// #region sweep-markers
// ClaimSweep inserts a running marker, or takes over a running one that went
// stale. Either way one statement decides the claim.
func (s *SQLiteStore) ClaimSweep(ctx context.Context, m SweepMarker, staleBefore time.Time) (SweepMarker, bool, error) {
	week := logging.FormatTime(m.WeekStart)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sweep_markers (room_id, week_start, state, applied, created_at) VALUES (?, ?, ?, 0, ?)
		 ON CONFLICT(room_id, week_start) DO UPDATE SET created_at = excluded.created_at
		 WHERE sweep_markers.state = ? AND sweep_markers.created_at < ?`,
		m.RoomID, week, string(SweepRunning), logging.FormatTime(m.CreatedAt),
		string(SweepRunning), logging.FormatTime(staleBefore),
	)
	if err != nil {
		return SweepMarker{}, false, fmt.Errorf("claim sweep: %w", classify(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return SweepMarker{}, false, fmt.Errorf("claim sweep rows: %w", err)
	}

	var state, createdAt string
	stored := SweepMarker{RoomID: m.RoomID, WeekStart: m.WeekStart}
	err = s.db.QueryRowContext(ctx,
		`SELECT state, applied, created_at FROM sweep_markers WHERE room_id = ? AND week_start = ?`,
		m.RoomID, week,
	).Scan(&state, &stored.Applied, &createdAt)
	if err != nil {
		return SweepMarker{}, false, fmt.Errorf("read sweep marker: %w", classify(err))
	}
	stored.State = SweepState(state)
	if stored.CreatedAt, err = logging.ParseTime(createdAt); err != nil {
		return SweepMarker{}, false, fmt.Errorf("parse sweep marker time: %w", err)
	}
	return stored, n == 1, nil
}

// FinishSweep marks a running sweep done with its final count.
func (s *SQLiteStore) FinishSweep(ctx context.Context, m SweepMarker) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sweep_markers SET state = ?, applied = ?, created_at = ?
		 WHERE room_id = ? AND week_start = ? AND state = ?`,
		string(SweepDone), m.Applied, logging.FormatTime(m.CreatedAt),
		m.RoomID, logging.FormatTime(m.WeekStart), string(SweepRunning),
	)
	if err != nil {
		return fmt.Errorf("finish sweep: %w", classify(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish sweep rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("finish sweep %s: %w", m.RoomID, trust.ErrConflict)
	}
	return nil
}

// ReleaseSweep deletes a running marker. Done markers are kept.
func (s *SQLiteStore) ReleaseSweep(ctx context.Context, roomID string, weekStart time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM sweep_markers WHERE room_id = ? AND week_start = ? AND state = ?`,
		roomID, logging.FormatTime(weekStart), string(SweepRunning),
	)
	if err != nil {
		return fmt.Errorf("release sweep: %w", classify(err))
	}
	return nil
}

// #endregion sweep-markers

// #region helpers
// classify maps SQLite busy/locked errors to trust.ErrConflict so the
// ledger retries them like any other optimistic collision.
func classify(err error) error {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqliteBusy, sqliteLocked:
			return fmt.Errorf("%v: %w", err, trust.ErrConflict)
		}
	}
	return err
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// #endregion helpers
