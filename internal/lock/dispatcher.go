package lock

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/pvnzki/eventbn-seatlock/internal/config"
	"github.com/pvnzki/eventbn-seatlock/internal/metrics"
	"github.com/pvnzki/eventbn-seatlock/internal/model"
	"github.com/pvnzki/eventbn-seatlock/internal/repository"
)

const minWorkerWait = time.Millisecond

type seatWorker struct {
	wake chan struct{}
}

// Dispatcher runs one worker goroutine per seat that has pending requests.
// Workers start on the first enqueue for a seat and exit once its queue is
// empty.  A shared slot semaphore bounds how many seats run an acquisition
// pass at the same time.
type Dispatcher struct {
	cfg     config.QueueConfig
	queue   *RequestQueue
	results *ResultStore
	manager *Manager
	metrics *metrics.Metrics
	log     *slog.Logger
	now     func() time.Time

	slots  chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	workers map[seatKey]*seatWorker
	stopped bool
}

func NewDispatcher(cfg config.QueueConfig, q *RequestQueue, results *ResultStore, mgr *Manager, m *metrics.Metrics, log *slog.Logger, now func() time.Time) *Dispatcher {
	if now == nil {
		now = time.Now
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		cfg:     cfg,
		queue:   q,
		results: results,
		manager: mgr,
		metrics: m,
		log:     log,
		now:     now,
		slots:   make(chan struct{}, workers),
		ctx:     ctx,
		cancel:  cancel,
		workers: make(map[seatKey]*seatWorker),
	}
}

// Notify makes sure a worker is running for the seat and wakes it.
func (d *Dispatcher) Notify(eventID, seatID string) {
	k := seatKey{eventID, seatID}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	w, ok := d.workers[k]
	if !ok {
		w = &seatWorker{wake: make(chan struct{}, 1)}
		d.workers[k] = w
		d.metrics.SeatWorkers.Inc()
		d.wg.Add(1)
		go d.run(k, w)
	}
	signal(w.wake)
}

// Wake nudges the seat's worker, if any, after the seat became free.
func (d *Dispatcher) Wake(eventID, seatID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if w, ok := d.workers[seatKey{eventID, seatID}]; ok {
		signal(w.wake)
	}
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// WorkerCount returns the number of live seat workers for an event.
func (d *Dispatcher) WorkerCount(eventID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for k := range d.workers {
		if k.eventID == eventID {
			n++
		}
	}
	return n
}

// Stop cancels every worker and waits for them to exit.  Pending entries
// stay in the queue with status pending.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()
	d.cancel()
	d.wg.Wait()
}

func (d *Dispatcher) run(k seatKey, w *seatWorker) {
	defer d.wg.Done()
	defer d.metrics.SeatWorkers.Dec()

	for {
		wait, more := d.pass(k)
		if d.ctx.Err() != nil {
			d.forget(k, w)
			return
		}
		if !more {
			if d.retire(k, w) {
				return
			}
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-d.ctx.Done():
			timer.Stop()
			d.forget(k, w)
			return
		case <-w.wake:
		case <-timer.C:
		}
		timer.Stop()
	}
}

// retire removes the worker if its seat queue is still empty.  Notify
// holds d.mu when it looks a worker up, so an enqueue racing with retire
// either sees this worker alive or starts a new one.
func (d *Dispatcher) retire(k seatKey, w *seatWorker) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.queue.SeatDepth(k.eventID, k.seatID) > 0 {
		return false
	}
	if d.workers[k] == w {
		delete(d.workers, k)
	}
	return true
}

func (d *Dispatcher) forget(k seatKey, w *seatWorker) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.workers[k] == w {
		delete(d.workers, k)
	}
}

// pass drains the seat queue as far as it can.  It returns how long to
// wait before the next attempt and whether entries remain.
func (d *Dispatcher) pass(k seatKey) (time.Duration, bool) {
	select {
	case d.slots <- struct{}{}:
	case <-d.ctx.Done():
		return 0, true
	}
	defer func() { <-d.slots }()

	for _, e := range d.queue.removeExpired(k, d.now().Add(-d.cfg.MaxAge)) {
		d.finishExpired(e)
	}

	for {
		if d.ctx.Err() != nil {
			return 0, true
		}
		head, ok := d.queue.head(k)
		if !ok {
			return 0, false
		}
		if d.now().Sub(head.EnqueuedAt) >= d.cfg.MaxAge {
			if d.queue.popHead(k, head.RequestID) {
				d.finishExpired(head)
			}
			continue
		}

		lock, err := d.manager.acquire(d.ctx, head.EventID, head.SeatID, head.RequesterID, head.TTL, model.PathQueued, head.RequestID)
		switch {
		case err == nil:
			if d.queue.popHead(k, head.RequestID) && d.results.grant(head.RequestID, lock) {
				d.observe(head, model.StatusGranted)
			}
		case errors.Is(err, repository.ErrConflict):
			return d.backoff(head, lock), true
		case d.ctx.Err() != nil:
			return 0, true
		default:
			d.log.Warn("queued lock request denied", "request_id", head.RequestID, "event", head.EventID, "seat", head.SeatID, "error", err)
			reason := repository.Reason(err)
			if d.queue.popHead(k, head.RequestID) && d.results.deny(head.RequestID, reason) {
				d.observe(head, model.StatusDenied)
				d.manager.publish(d.ctx, model.LockEvent{
					Kind:      model.EventDenied,
					EventID:   head.EventID,
					SeatID:    head.SeatID,
					HolderID:  head.RequesterID,
					RequestID: head.RequestID,
					Path:      model.PathQueued,
					Reason:    reason,
				})
			}
		}
	}
}

// backoff is the shortest of the poll interval, the time until the
// current lock lapses and the time until the head ages out.
func (d *Dispatcher) backoff(head model.QueueEntry, held model.SeatLock) time.Duration {
	now := d.now()
	wait := d.cfg.PollInterval
	if wait <= 0 {
		wait = time.Second
	}
	if !held.ExpiresAt.IsZero() {
		if until := held.ExpiresAt.Sub(now); until < wait {
			wait = until
		}
	}
	if until := head.EnqueuedAt.Add(d.cfg.MaxAge).Sub(now); until < wait {
		wait = until
	}
	if wait < minWorkerWait {
		wait = minWorkerWait
	}
	return wait
}

func (d *Dispatcher) finishExpired(e model.QueueEntry) {
	if !d.results.expire(e.RequestID) {
		return
	}
	d.observe(e, model.StatusExpired)
	d.manager.publish(d.ctx, model.LockEvent{
		Kind:      model.EventRequestExpired,
		EventID:   e.EventID,
		SeatID:    e.SeatID,
		HolderID:  e.RequesterID,
		RequestID: e.RequestID,
		Path:      model.PathQueued,
		Reason:    "max queue age exceeded",
	})
}

func (d *Dispatcher) observe(e model.QueueEntry, status model.RequestStatus) {
	d.metrics.QueueOutcomes.WithLabelValues(string(status)).Inc()
	d.metrics.QueueWait.Observe(d.now().Sub(e.EnqueuedAt).Seconds())
}
