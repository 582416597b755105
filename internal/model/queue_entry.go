package model

import "time"

// RequestStatus is the lifecycle state of a queued lock request.
type RequestStatus string

const (
	StatusPending RequestStatus = "pending"
	StatusGranted RequestStatus = "granted"
	StatusDenied  RequestStatus = "denied"
	StatusExpired RequestStatus = "expired"
)

// Terminal reports whether the status can no longer change.
func (s RequestStatus) Terminal() bool {
	return s == StatusGranted || s == StatusDenied || s == StatusExpired
}

// QueueEntry is a pending lock request waiting in a seat's FIFO.
type QueueEntry struct {
	RequestID   string
	EventID     string
	SeatID      string
	RequesterID string
	TTL         time.Duration
	EnqueuedAt  time.Time
	Status      RequestStatus
}

// RequestResult is the outcome record kept in the result store for a
// queued request.  Token and ExpiresAt are only set once the request is
// granted; Reason carries the failure cause for denied requests.
type RequestResult struct {
	RequestID   string        `json:"requestId"`
	EventID     string        `json:"eventId"`
	SeatID      string        `json:"seat"`
	RequesterID string        `json:"holder"`
	Status      RequestStatus `json:"status"`
	Token       string        `json:"token,omitempty"`
	ExpiresAt   *time.Time    `json:"expiresAt,omitempty"`
	Reason      string        `json:"reason,omitempty"`
	EnqueuedAt  time.Time     `json:"enqueuedAt"`
	ResolvedAt  *time.Time    `json:"resolvedAt,omitempty"`
}
