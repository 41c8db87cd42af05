package logging

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/danielpatrickdp/roomtrust/internal/trust"
)

// Execer is satisfied by both *sql.DB and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// #region log-action
// LogAction writes one audit row to the trust_actions table.
func LogAction(ctx context.Context, db Execer, rec trust.ActionRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	_, err := db.ExecContext(ctx,
		`INSERT INTO trust_actions (id, user_id, room_id, action, points, reason, related_id, created_by, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.UserID,
		rec.RoomID,
		string(rec.Action),
		rec.Points,
		rec.Reason,
		nullIfEmpty(rec.RelatedID),
		nullIfEmpty(rec.CreatedBy),
		FormatTime(rec.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("log action: %w", err)
	}
	return nil
}

// #endregion log-action

// #region helpers
// FormatTime renders t in the fixed-width UTC layout stored in text columns,
// so lexical order matches chronological order.
func FormatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z")
}

// ParseTime reverses FormatTime.
func ParseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// #endregion helpers
