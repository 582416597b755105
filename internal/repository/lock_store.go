package repository

import (
	"context"
	"time"

	"github.com/pvnzki/eventbn-seatlock/internal/model"
)

// LockStore is the TTL-aware table of seat locks keyed by (event, seat).
// Every mutating method must execute as one atomic test-and-set step scoped
// to a single key: two concurrent Acquire calls for a free seat must never
// both succeed.  Expired locks are treated as absent by every method.
type LockStore interface {
	// Acquire stores lock iff the seat has no live lock.  When the live lock
	// already belongs to lock.HolderID it is returned unchanged; when it
	// belongs to someone else ErrConflict is returned together with the
	// current lock, so callers can learn when the seat frees up.
	Acquire(ctx context.Context, lock model.SeatLock) (model.SeatLock, error)

	// Extend moves the expiry of the live lock to now+ttl.  It fails with
	// ErrNotFound when no live lock exists and ErrForbidden on a holder or
	// token mismatch.
	Extend(ctx context.Context, eventID, seatID, holderID, token string, ttl time.Duration) (model.SeatLock, error)

	// Release deletes the live lock iff holder and token match.  It reports
	// whether a lock was removed; an absent or expired lock is not an error.
	Release(ctx context.Context, eventID, seatID, holderID, token string) (bool, error)

	Get(ctx context.Context, eventID, seatID string) (model.SeatLock, bool, error)
	ListByEvent(ctx context.Context, eventID string) ([]model.SeatLock, error)
	CountByEvent(ctx context.Context, eventID string) (int, error)

	// SweepExpired removes lapsed locks and returns them so callers can
	// publish expiry and wake waiting queue workers.
	SweepExpired(ctx context.Context) ([]model.SeatLock, error)
}
