package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/pvnzki/eventbn-seatlock/internal/model"
)

// lockEventsDDL creates the audit table written by the lock event consumer.
// Lock tokens are never stored.
const lockEventsDDL = `CREATE TABLE IF NOT EXISTS seat_lock_events (
    id          BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
    kind        VARCHAR(32)  NOT NULL,
    event_id    VARCHAR(128) NOT NULL,
    seat_id     VARCHAR(128) NOT NULL,
    holder_id   VARCHAR(128) NOT NULL,
    request_id  VARCHAR(64)  NULL,
    path        VARCHAR(16)  NOT NULL,
    reason      VARCHAR(255) NULL,
    expires_at  DATETIME(3)  NULL,
    occurred_at DATETIME(3)  NOT NULL,
    KEY idx_seat_lock_events_event (event_id, occurred_at)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`

// LockEventRepo persists seat lock lifecycle events to MySQL.  It backs the
// audit history endpoint; the lock table itself never lives in MySQL.
type LockEventRepo struct {
	db *sql.DB
}

// NewLockEventRepo returns a new LockEventRepo bound to the provided database.
func NewLockEventRepo(db *sql.DB) *LockEventRepo { return &LockEventRepo{db: db} }

// EnsureSchema creates the seat_lock_events table when it does not exist.
func (r *LockEventRepo) EnsureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, lockEventsDDL)
	return backendErr(err, "create seat_lock_events")
}

// Insert appends one event.  Timestamps are stored in UTC.
func (r *LockEventRepo) Insert(ctx context.Context, ev model.LockEvent) error {
	const q = `INSERT INTO seat_lock_events
               (kind, event_id, seat_id, holder_id, request_id, path, reason, expires_at, occurred_at)
               VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	var expires sql.NullTime
	if ev.ExpiresAt != nil {
		expires = sql.NullTime{Time: ev.ExpiresAt.UTC(), Valid: true}
	}
	_, err := r.db.ExecContext(ctx, q,
		string(ev.Kind), ev.EventID, ev.SeatID, ev.HolderID,
		nullString(ev.RequestID), ev.Path, nullString(ev.Reason),
		expires, ev.OccurredAt.UTC(),
	)
	return backendErr(err, "insert seat_lock_event")
}

// ListByEvent returns the most recent events of an event, newest first.
// A non-positive limit defaults to 100.
func (r *LockEventRepo) ListByEvent(ctx context.Context, eventID string, limit int) ([]model.LockEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `SELECT kind, event_id, seat_id, holder_id, request_id, path, reason, expires_at, occurred_at
               FROM seat_lock_events
               WHERE event_id = ?
               ORDER BY occurred_at DESC, id DESC
               LIMIT ?`
	rows, err := r.db.QueryContext(ctx, q, eventID, limit)
	if err != nil {
		return nil, backendErr(err, "query seat_lock_events")
	}
	defer rows.Close()
	out := make([]model.LockEvent, 0)
	for rows.Next() {
		var (
			ev        model.LockEvent
			kind      string
			requestID sql.NullString
			reason    sql.NullString
			expires   sql.NullTime
			occurred  time.Time
		)
		if err := rows.Scan(&kind, &ev.EventID, &ev.SeatID, &ev.HolderID, &requestID, &ev.Path, &reason, &expires, &occurred); err != nil {
			return nil, backendErr(err, "scan seat_lock_event")
		}
		ev.Kind = model.LockEventKind(kind)
		ev.RequestID = requestID.String
		ev.Reason = reason.String
		if expires.Valid {
			t := expires.Time.UTC()
			ev.ExpiresAt = &t
		}
		ev.OccurredAt = occurred.UTC()
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, backendErr(err, "iterate seat_lock_events")
	}
	return out, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
