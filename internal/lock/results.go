package lock

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/pvnzki/eventbn-seatlock/internal/model"
	"github.com/pvnzki/eventbn-seatlock/internal/repository"
)

type resultRecord struct {
	res  model.RequestResult
	done chan struct{}
}

// ResultStore keeps the outcome of every queued request so that clients
// can fetch or wait for it.  Waiters block on a per-request channel that is
// closed exactly once, when the request reaches a terminal status.
type ResultStore struct {
	mu      sync.Mutex
	records map[string]*resultRecord
	now     func() time.Time
}

func NewResultStore(now func() time.Time) *ResultStore {
	if now == nil {
		now = time.Now
	}
	return &ResultStore{records: make(map[string]*resultRecord), now: now}
}

// Register records a pending request.  Registering an id twice is a no-op.
func (s *ResultStore) Register(e model.QueueEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[e.RequestID]; ok {
		return
	}
	s.records[e.RequestID] = &resultRecord{
		res: model.RequestResult{
			RequestID:   e.RequestID,
			EventID:     e.EventID,
			SeatID:      e.SeatID,
			RequesterID: e.RequesterID,
			Status:      model.StatusPending,
			EnqueuedAt:  e.EnqueuedAt,
		},
		done: make(chan struct{}),
	}
}

// remove drops a record that never made it into the queue.
func (s *ResultStore) remove(requestID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, requestID)
}

// grant, deny and expire move a pending request to its terminal status.
// The first terminal transition wins; later ones are ignored.
func (s *ResultStore) grant(requestID string, lock model.SeatLock) bool {
	exp := lock.ExpiresAt
	return s.resolve(requestID, func(r *model.RequestResult) {
		r.Status = model.StatusGranted
		r.Token = lock.Token
		r.ExpiresAt = &exp
	})
}

func (s *ResultStore) deny(requestID, reason string) bool {
	return s.resolve(requestID, func(r *model.RequestResult) {
		r.Status = model.StatusDenied
		r.Reason = reason
	})
}

func (s *ResultStore) expire(requestID string) bool {
	return s.resolve(requestID, func(r *model.RequestResult) {
		r.Status = model.StatusExpired
		r.Reason = "expired"
	})
}

func (s *ResultStore) resolve(requestID string, apply func(*model.RequestResult)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[requestID]
	if !ok || rec.res.Status.Terminal() {
		return false
	}
	apply(&rec.res)
	at := s.now()
	rec.res.ResolvedAt = &at
	close(rec.done)
	return true
}

// Get returns the current result of a request.
func (s *ResultStore) Get(requestID string) (model.RequestResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[requestID]
	if !ok {
		return model.RequestResult{}, errors.Wrapf(repository.ErrNotFound, "request %s", requestID)
	}
	return rec.res, nil
}

// Await blocks until the request is terminal, the timeout elapses or ctx is
// done, then returns the latest known result.  A timeout is not an error:
// the caller gets the pending record back.
func (s *ResultStore) Await(ctx context.Context, requestID string, timeout time.Duration) (model.RequestResult, error) {
	s.mu.Lock()
	rec, ok := s.records[requestID]
	s.mu.Unlock()
	if !ok {
		return model.RequestResult{}, errors.Wrapf(repository.ErrNotFound, "request %s", requestID)
	}

	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-rec.done:
		case <-timer.C:
		case <-ctx.Done():
		}
	}
	return s.Get(requestID)
}

// Evict drops terminal records resolved more than retention ago and
// returns how many were removed.
func (s *ResultStore) Evict(retention time.Duration) int {
	cutoff := s.now().Add(-retention)
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, rec := range s.records {
		if rec.res.ResolvedAt != nil && rec.res.ResolvedAt.Before(cutoff) {
			delete(s.records, id)
			n++
		}
	}
	return n
}
