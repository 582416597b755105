// Package repository defines the error taxonomy shared by the lock stores,
// the lock engine and the HTTP handlers, together with the storage
// backends themselves.  Handlers translate the sentinel values below into
// HTTP statuses and machine-readable reason codes.
package repository

import "github.com/cockroachdb/errors"

var (
	// ErrConflict is returned when a seat is already validly held by a
	// different holder.  Clients should retry with backoff or queue.
	ErrConflict = errors.New("conflict")

	// ErrNotFound is returned when a lock or request does not exist.
	ErrNotFound = errors.New("not found")

	// ErrForbidden is returned when the holder or token does not match the
	// current lease owner.  It never silently succeeds.
	ErrForbidden = errors.New("forbidden")

	// ErrExpired is returned when a queued request aged out before it was
	// granted, or a lease lapsed before the intended operation.
	ErrExpired = errors.New("expired")

	// ErrOverloaded is returned when the queue ceiling refuses even to
	// enqueue a request.
	ErrOverloaded = errors.New("overloaded")

	// ErrInvalidArgument marks caller input that failed validation.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrBackend marks failures of the underlying store (Redis, MySQL).
	// They are surfaced as generic server errors.
	ErrBackend = errors.New("backend failure")
)

// Reason returns the machine-readable code for err.  Unknown errors map to
// "internal_error".
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrOverloaded):
		return "overloaded"
	case errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	default:
		return "internal_error"
	}
}

// Retryable reports whether the client should retry with backoff.
func Retryable(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrOverloaded) || errors.Is(err, ErrExpired)
}

// backendErr tags a low-level store error so callers can tell it apart from
// domain errors while keeping the original message.
func backendErr(err error, op string) error {
	if err == nil {
		return nil
	}
	return errors.Mark(errors.Wrap(err, op), ErrBackend)
}
