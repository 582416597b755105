package model

import "time"

// SeatLock represents a temporary exclusive hold on a seat.  At most one
// non-expired SeatLock exists for a given (EventID, SeatID) pair.  The
// token is generated at grant time and stays the same across extends, so
// the holder can keep the seat through a multi-step checkout.
//
// Fields:
//  EventID    – event the seat belongs to.
//  SeatID     – seat being held.
//  HolderID   – identity (user or session) that owns the hold.
//  Token      – opaque lock token returned to the holder.
//  AcquiredAt – when the hold was granted.
//  ExpiresAt  – when the hold lapses unless extended.
type SeatLock struct {
	EventID    string    `json:"eventId"`
	SeatID     string    `json:"seat"`
	HolderID   string    `json:"holder"`
	Token      string    `json:"token,omitempty"`
	AcquiredAt time.Time `json:"acquiredAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// Expired reports whether the hold has lapsed at the given instant.  A lock
// whose expiry equals now is treated as expired.
func (l SeatLock) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

// TTLRemaining returns the time left on the hold, never negative.
func (l SeatLock) TTLRemaining(now time.Time) time.Duration {
	if l.Expired(now) {
		return 0
	}
	return l.ExpiresAt.Sub(now)
}

// LockStatus is the side-effect free view of a seat used by polling UIs.
type LockStatus struct {
	EventID      string        `json:"eventId"`
	SeatID       string        `json:"seat"`
	Held         bool          `json:"held"`
	HolderID     string        `json:"holder,omitempty"`
	ExpiresAt    *time.Time    `json:"expiresAt,omitempty"`
	TTLRemaining time.Duration `json:"-"`
}
