package model

import "time"

// LockEventKind names a transition in a seat lock's lifecycle.
type LockEventKind string

const (
	EventGranted        LockEventKind = "granted"
	EventExtended       LockEventKind = "extended"
	EventReleased       LockEventKind = "released"
	EventExpired        LockEventKind = "expired"
	EventQueued         LockEventKind = "queued"
	EventDenied         LockEventKind = "denied"
	EventRequestExpired LockEventKind = "request_expired"
)

// Acquisition paths recorded on events and metrics.
const (
	PathDirect = "direct"
	PathQueued = "queued"
	PathSweep  = "sweep"
)

// LockEvent is published to the message broker whenever a lock or a queued
// request changes state.  Downstream consumers persist it for auditing; the
// lock token itself is never part of the payload.
type LockEvent struct {
	Kind       LockEventKind `json:"kind"`
	EventID    string        `json:"event_id"`
	SeatID     string        `json:"seat_id"`
	HolderID   string        `json:"holder_id"`
	RequestID  string        `json:"request_id,omitempty"`
	Path       string        `json:"path"`
	Reason     string        `json:"reason,omitempty"`
	ExpiresAt  *time.Time    `json:"expires_at,omitempty"`
	OccurredAt time.Time     `json:"occurred_at"`
}
