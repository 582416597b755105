package lock

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/pvnzki/eventbn-seatlock/internal/model"
	"github.com/pvnzki/eventbn-seatlock/internal/repository"
)

// StatsAggregator derives per-event figures from the store, the queue and
// the load monitor.  It never mutates any of them.
type StatsAggregator struct {
	store      repository.LockStore
	queue      *RequestQueue
	monitor    *LoadMonitor
	dispatcher *Dispatcher
}

func NewStatsAggregator(store repository.LockStore, q *RequestQueue, mon *LoadMonitor, d *Dispatcher) *StatsAggregator {
	return &StatsAggregator{store: store, queue: q, monitor: mon, dispatcher: d}
}

func (s *StatsAggregator) ForEvent(ctx context.Context, eventID string) (model.EventStats, error) {
	if err := validateID("event id", eventID); err != nil {
		return model.EventStats{}, err
	}
	active, err := s.store.CountByEvent(ctx, eventID)
	if err != nil {
		return model.EventStats{}, errors.Wrapf(err, "count locks for %s", eventID)
	}
	depth := s.queue.EventDepth(eventID)
	sample := s.monitor.Sample(eventID, depth)
	return model.EventStats{
		EventID:        eventID,
		ActiveLocks:    active,
		QueueDepth:     depth,
		SeatQueueDepth: s.queue.SeatDepths(eventID),
		Load:           sample.Class,
		RatePerSecond:  sample.RatePerSecond,
		SeatWorkers:    s.dispatcher.WorkerCount(eventID),
	}, nil
}
