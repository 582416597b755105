// Package lock implements the seat lock engine: the direct lock manager,
// the load monitor, the per-seat request queue with its workers, the
// result store and the background sweeper.
package lock

import (
	"context"
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/pvnzki/eventbn-seatlock/internal/config"
	"github.com/pvnzki/eventbn-seatlock/internal/metrics"
	"github.com/pvnzki/eventbn-seatlock/internal/model"
	"github.com/pvnzki/eventbn-seatlock/internal/repository"
)

// HybridOutcome is the answer to a load-adaptive lock request: either the
// lock was granted on the spot or the request was queued under RequestID.
type HybridOutcome struct {
	Granted   bool
	Lock      model.SeatLock
	Queued    bool
	RequestID string
}

type engineOptions struct {
	now func() time.Time
}

type Option func(*engineOptions)

// WithClock overrides time.Now for every component of the engine.
func WithClock(now func() time.Time) Option {
	return func(o *engineOptions) { o.now = now }
}

// Engine ties the lock components together.  The direct routes use the
// Manager as is; the hybrid and queue routes go through HybridLock.
type Engine struct {
	cfg config.Config
	log *slog.Logger
	now func() time.Time

	manager    *Manager
	queue      *RequestQueue
	results    *ResultStore
	monitor    *LoadMonitor
	dispatcher *Dispatcher
	stats      *StatsAggregator
	sweeper    *Sweeper
}

func NewEngine(cfg config.Config, store repository.LockStore, pub Publisher, m *metrics.Metrics, log *slog.Logger, opts ...Option) *Engine {
	o := engineOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if m == nil {
		m = metrics.NewNop()
	}
	if log == nil {
		log = slog.Default()
	}

	mgr := NewManager(store, cfg.Lock, pub, m, log, o.now)
	q := NewRequestQueue(cfg.Queue)
	results := NewResultStore(o.now)
	mon := NewLoadMonitor(cfg.Load, o.now)
	d := NewDispatcher(cfg.Queue, q, results, mgr, m, log, o.now)
	mgr.OnFree(d.Wake)

	return &Engine{
		cfg:        cfg,
		log:        log,
		now:        o.now,
		manager:    mgr,
		queue:      q,
		results:    results,
		monitor:    mon,
		dispatcher: d,
		stats:      NewStatsAggregator(store, q, mon, d),
		sweeper:    NewSweeper(cfg, store, mgr, results, mon, log),
	}
}

// Manager exposes the direct lock path.
func (e *Engine) Manager() *Manager { return e.manager }

// Queue exposes the request queue for read-only inspection.
func (e *Engine) Queue() *RequestQueue { return e.queue }

// Start launches the background sweeper.  Seat workers are started on
// demand.
func (e *Engine) Start() {
	e.sweeper.Start()
	e.log.Info("lock engine started", "queue_workers", e.cfg.Queue.Workers, "sweep_interval", e.cfg.Sweep.Interval)
}

// Stop halts the sweeper and every seat worker.
func (e *Engine) Stop() {
	e.sweeper.Stop()
	e.dispatcher.Stop()
	e.log.Info("lock engine stopped", "pending_requests", e.queue.Len())
}

// HybridLock tries the direct path when the event is calm and the seat has
// no waiters; otherwise, or when the direct attempt conflicts, the request
// joins the seat's queue.
func (e *Engine) HybridLock(ctx context.Context, eventID, seatID, holderID string, ttl time.Duration) (HybridOutcome, error) {
	if err := validateSeat(eventID, seatID, holderID); err != nil {
		return HybridOutcome{}, err
	}
	if _, err := resolveTTL(e.cfg.Lock, ttl); err != nil {
		return HybridOutcome{}, err
	}

	e.monitor.Record(eventID)
	route, class := e.monitor.Classify(eventID, e.queue.SeatDepth(eventID, seatID), e.queue.EventDepth(eventID))
	if route == RouteDirect {
		lock, err := e.manager.acquire(ctx, eventID, seatID, holderID, ttl, model.PathDirect, "")
		if err == nil {
			return HybridOutcome{Granted: true, Lock: lock}, nil
		}
		if !errors.Is(err, repository.ErrConflict) {
			return HybridOutcome{}, err
		}
	}
	e.log.Debug("lock request queued", "event", eventID, "seat", seatID, "holder", holderID, "route", route, "load", class)
	return e.enqueue(ctx, eventID, seatID, holderID, ttl)
}

func (e *Engine) enqueue(ctx context.Context, eventID, seatID, holderID string, ttl time.Duration) (HybridOutcome, error) {
	entry := model.QueueEntry{
		RequestID:   uuid.NewString(),
		EventID:     eventID,
		SeatID:      seatID,
		RequesterID: holderID,
		TTL:         ttl,
		EnqueuedAt:  e.now(),
	}
	// The result must exist before a worker can see the entry.
	e.results.Register(entry)
	got, existing, err := e.queue.Enqueue(entry)
	if err != nil || existing {
		e.results.remove(entry.RequestID)
	}
	if err != nil {
		return HybridOutcome{}, err
	}
	if !existing {
		e.manager.publish(ctx, model.LockEvent{
			Kind:      model.EventQueued,
			EventID:   eventID,
			SeatID:    seatID,
			HolderID:  holderID,
			RequestID: got.RequestID,
			Path:      model.PathQueued,
		})
	}
	e.dispatcher.Notify(eventID, seatID)
	return HybridOutcome{Queued: true, RequestID: got.RequestID}, nil
}

// HybridExtend and HybridRelease share the direct path: a lock granted
// through the queue is an ordinary lock.
func (e *Engine) HybridExtend(ctx context.Context, eventID, seatID, holderID, token string, ttl time.Duration) (model.SeatLock, error) {
	return e.manager.Extend(ctx, eventID, seatID, holderID, token, ttl)
}

func (e *Engine) HybridRelease(ctx context.Context, eventID, seatID, holderID, token string) (bool, error) {
	return e.manager.Release(ctx, eventID, seatID, holderID, token)
}

// Result returns the current outcome of a queued request.
func (e *Engine) Result(requestID string) (model.RequestResult, error) {
	return e.results.Get(requestID)
}

// Await waits up to timeout for a queued request to settle.
func (e *Engine) Await(ctx context.Context, requestID string, timeout time.Duration) (model.RequestResult, error) {
	return e.results.Await(ctx, requestID, timeout)
}

func (e *Engine) Stats(ctx context.Context, eventID string) (model.EventStats, error) {
	return e.stats.ForEvent(ctx, eventID)
}

// Sweep runs one sweeper pass synchronously.
func (e *Engine) Sweep(ctx context.Context) {
	e.sweeper.Sweep(ctx)
}
