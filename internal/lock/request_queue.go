package lock

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/pvnzki/eventbn-seatlock/internal/config"
	"github.com/pvnzki/eventbn-seatlock/internal/model"
	"github.com/pvnzki/eventbn-seatlock/internal/repository"
)

type seatKey struct {
	eventID string
	seatID  string
}

// RequestQueue holds pending lock requests in per-seat FIFO order.
// Enqueue never blocks on lock state; only the seat worker removes
// entries, which is what keeps the order stable.
type RequestQueue struct {
	cfg config.QueueConfig

	mu         sync.Mutex
	seats      map[seatKey][]*model.QueueEntry
	eventDepth map[string]int
}

func NewRequestQueue(cfg config.QueueConfig) *RequestQueue {
	return &RequestQueue{
		cfg:        cfg,
		seats:      make(map[seatKey][]*model.QueueEntry),
		eventDepth: make(map[string]int),
	}
}

// Enqueue appends e to its seat queue.  If the requester already has a
// pending entry for the seat that entry is returned with existing=true and
// nothing is appended.
func (q *RequestQueue) Enqueue(e model.QueueEntry) (entry model.QueueEntry, existing bool, err error) {
	k := seatKey{e.EventID, e.SeatID}

	q.mu.Lock()
	defer q.mu.Unlock()

	for _, cur := range q.seats[k] {
		if cur.RequesterID == e.RequesterID {
			return *cur, true, nil
		}
	}
	if q.cfg.MaxPerSeat > 0 && len(q.seats[k]) >= q.cfg.MaxPerSeat {
		return model.QueueEntry{}, false, errors.Wrapf(repository.ErrOverloaded, "seat %s/%s queue is full", e.EventID, e.SeatID)
	}
	if q.cfg.MaxPerEvent > 0 && q.eventDepth[e.EventID] >= q.cfg.MaxPerEvent {
		return model.QueueEntry{}, false, errors.Wrapf(repository.ErrOverloaded, "event %s queue is full", e.EventID)
	}
	e.Status = model.StatusPending
	cp := e
	q.seats[k] = append(q.seats[k], &cp)
	q.eventDepth[e.EventID]++
	return e, false, nil
}

// head returns the oldest pending entry of a seat.
func (q *RequestQueue) head(k seatKey) (model.QueueEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.seats[k]
	if len(s) == 0 {
		return model.QueueEntry{}, false
	}
	return *s[0], true
}

// popHead removes the head if it is still requestID.
func (q *RequestQueue) popHead(k seatKey, requestID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.seats[k]
	if len(s) == 0 || s[0].RequestID != requestID {
		return false
	}
	s[0] = nil
	q.setLocked(k, s[1:])
	return true
}

// removeExpired drops every entry enqueued at or before cutoff and returns
// them in queue order.
func (q *RequestQueue) removeExpired(k seatKey, cutoff time.Time) []model.QueueEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.seats[k]
	if len(s) == 0 {
		return nil
	}
	var expired []model.QueueEntry
	kept := s[:0]
	for _, e := range s {
		if !e.EnqueuedAt.After(cutoff) {
			expired = append(expired, *e)
			continue
		}
		kept = append(kept, e)
	}
	for i := len(kept); i < len(s); i++ {
		s[i] = nil
	}
	q.setLocked(k, kept)
	return expired
}

// setLocked stores the new seat slice and keeps the event depth in step.
func (q *RequestQueue) setLocked(k seatKey, s []*model.QueueEntry) {
	removed := len(q.seats[k]) - len(s)
	if len(s) == 0 {
		delete(q.seats, k)
	} else {
		q.seats[k] = s
	}
	if removed == 0 {
		return
	}
	q.eventDepth[k.eventID] -= removed
	if q.eventDepth[k.eventID] <= 0 {
		delete(q.eventDepth, k.eventID)
	}
}

func (q *RequestQueue) SeatDepth(eventID, seatID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.seats[seatKey{eventID, seatID}])
}

func (q *RequestQueue) EventDepth(eventID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.eventDepth[eventID]
}

// SeatDepths returns the non-empty seat queues of an event.
func (q *RequestQueue) SeatDepths(eventID string) map[string]int {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[string]int)
	for k, s := range q.seats {
		if k.eventID == eventID && len(s) > 0 {
			out[k.seatID] = len(s)
		}
	}
	return out
}

// Pending lists the request ids waiting on a seat, oldest first.
func (q *RequestQueue) Pending(eventID, seatID string) []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.seats[seatKey{eventID, seatID}]
	ids := make([]string, len(s))
	for i, e := range s {
		ids[i] = e.RequestID
	}
	return ids
}

// Len is the total number of pending entries.
func (q *RequestQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, d := range q.eventDepth {
		n += d
	}
	return n
}
