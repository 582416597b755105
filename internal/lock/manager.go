package lock

import (
	"context"
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/pvnzki/eventbn-seatlock/internal/config"
	"github.com/pvnzki/eventbn-seatlock/internal/metrics"
	"github.com/pvnzki/eventbn-seatlock/internal/model"
	"github.com/pvnzki/eventbn-seatlock/internal/repository"
	"github.com/pvnzki/eventbn-seatlock/internal/utils"
)

// Manager is the direct lock path.  Every mutation goes through exactly one
// atomic LockStore call; the manager only validates input, generates
// tokens and reports what happened.
type Manager struct {
	store   repository.LockStore
	cfg     config.LockConfig
	pub     Publisher
	metrics *metrics.Metrics
	log     *slog.Logger
	now     func() time.Time
	onFree  func(eventID, seatID string)
}

// NewManager wires a Manager.  A nil publisher discards events.
func NewManager(store repository.LockStore, cfg config.LockConfig, pub Publisher, m *metrics.Metrics, log *slog.Logger, now func() time.Time) *Manager {
	if pub == nil {
		pub = NopPublisher{}
	}
	if now == nil {
		now = time.Now
	}
	return &Manager{
		store:   store,
		cfg:     cfg,
		pub:     pub,
		metrics: m,
		log:     log,
		now:     now,
		onFree:  func(string, string) {},
	}
}

// OnFree registers the callback run after a seat becomes free through
// release or expiry.  The queue dispatcher uses it to wake seat workers.
func (m *Manager) OnFree(fn func(eventID, seatID string)) {
	if fn != nil {
		m.onFree = fn
	}
}

// Acquire creates a lock for holder if the seat is free.  It is idempotent
// for the current holder, who gets the existing token back.
func (m *Manager) Acquire(ctx context.Context, eventID, seatID, holderID string, ttl time.Duration) (model.SeatLock, error) {
	lock, err := m.acquire(ctx, eventID, seatID, holderID, ttl, model.PathDirect, "")
	if err != nil {
		return model.SeatLock{}, err
	}
	return lock, nil
}

// acquire is shared by the direct path and the queue worker.  On conflict
// the current lock is returned without its token so the worker can tell
// when the seat frees up.
func (m *Manager) acquire(ctx context.Context, eventID, seatID, holderID string, ttl time.Duration, path, requestID string) (model.SeatLock, error) {
	if err := validateSeat(eventID, seatID, holderID); err != nil {
		return model.SeatLock{}, err
	}
	ttl, err := resolveTTL(m.cfg, ttl)
	if err != nil {
		return model.SeatLock{}, err
	}
	now := m.now()
	want := model.SeatLock{
		EventID:    eventID,
		SeatID:     seatID,
		HolderID:   holderID,
		Token:      utils.NewLockToken(),
		AcquiredAt: now,
		ExpiresAt:  now.Add(ttl),
	}
	got, err := m.store.Acquire(ctx, want)
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			m.metrics.Acquisitions.WithLabelValues(path, "conflict").Inc()
			got.Token = ""
			return got, errors.Wrapf(err, "seat %s/%s is held", eventID, seatID)
		}
		m.metrics.Acquisitions.WithLabelValues(path, "error").Inc()
		return model.SeatLock{}, errors.Wrapf(err, "acquire %s/%s", eventID, seatID)
	}
	if got.Token != want.Token {
		m.metrics.Acquisitions.WithLabelValues(path, "reentrant").Inc()
		return got, nil
	}
	m.metrics.Acquisitions.WithLabelValues(path, "granted").Inc()
	m.log.Debug("seat lock granted", "event", eventID, "seat", seatID, "holder", holderID, "path", path)
	exp := got.ExpiresAt
	m.publish(ctx, model.LockEvent{
		Kind:      model.EventGranted,
		EventID:   eventID,
		SeatID:    seatID,
		HolderID:  holderID,
		RequestID: requestID,
		Path:      path,
		ExpiresAt: &exp,
	})
	return got, nil
}

// Extend pushes the expiry of the caller's lock to now+ttl, keeping the
// token and holder unchanged.
func (m *Manager) Extend(ctx context.Context, eventID, seatID, holderID, token string, ttl time.Duration) (model.SeatLock, error) {
	if err := validateSeat(eventID, seatID, holderID); err != nil {
		return model.SeatLock{}, err
	}
	ttl, err := resolveTTL(m.cfg, ttl)
	if err != nil {
		return model.SeatLock{}, err
	}
	lock, err := m.store.Extend(ctx, eventID, seatID, holderID, token, ttl)
	if err != nil {
		return model.SeatLock{}, errors.Wrapf(err, "extend %s/%s", eventID, seatID)
	}
	exp := lock.ExpiresAt
	m.publish(ctx, model.LockEvent{
		Kind:      model.EventExtended,
		EventID:   eventID,
		SeatID:    seatID,
		HolderID:  holderID,
		Path:      model.PathDirect,
		ExpiresAt: &exp,
	})
	return lock, nil
}

// Release deletes the caller's lock.  Releasing an absent or lapsed lock
// succeeds and reports false.
func (m *Manager) Release(ctx context.Context, eventID, seatID, holderID, token string) (bool, error) {
	if err := validateSeat(eventID, seatID, holderID); err != nil {
		return false, err
	}
	removed, err := m.store.Release(ctx, eventID, seatID, holderID, token)
	if err != nil {
		outcome := "error"
		if errors.Is(err, repository.ErrForbidden) {
			outcome = "forbidden"
		}
		m.metrics.Releases.WithLabelValues(outcome).Inc()
		return false, errors.Wrapf(err, "release %s/%s", eventID, seatID)
	}
	if !removed {
		m.metrics.Releases.WithLabelValues("noop").Inc()
		return false, nil
	}
	m.metrics.Releases.WithLabelValues("released").Inc()
	m.publish(ctx, model.LockEvent{
		Kind:     model.EventReleased,
		EventID:  eventID,
		SeatID:   seatID,
		HolderID: holderID,
		Path:     model.PathDirect,
	})
	m.onFree(eventID, seatID)
	return true, nil
}

// Status reports whether the seat is held and by whom, without side effects.
func (m *Manager) Status(ctx context.Context, eventID, seatID string) (model.LockStatus, error) {
	if err := validateID("event id", eventID); err != nil {
		return model.LockStatus{}, err
	}
	if err := validateID("seat id", seatID); err != nil {
		return model.LockStatus{}, err
	}
	lock, ok, err := m.store.Get(ctx, eventID, seatID)
	if err != nil {
		return model.LockStatus{}, errors.Wrapf(err, "status %s/%s", eventID, seatID)
	}
	st := model.LockStatus{EventID: eventID, SeatID: seatID}
	if !ok {
		return st, nil
	}
	exp := lock.ExpiresAt
	st.Held = true
	st.HolderID = lock.HolderID
	st.ExpiresAt = &exp
	st.TTLRemaining = lock.TTLRemaining(m.now())
	return st, nil
}

// ListForEvent returns every live lock of an event with tokens stripped.
func (m *Manager) ListForEvent(ctx context.Context, eventID string) ([]model.SeatLock, error) {
	if err := validateID("event id", eventID); err != nil {
		return nil, err
	}
	locks, err := m.store.ListByEvent(ctx, eventID)
	if err != nil {
		return nil, errors.Wrapf(err, "list locks for %s", eventID)
	}
	for i := range locks {
		locks[i].Token = ""
	}
	return locks, nil
}

// expired reports locks removed by the sweep and frees their seats.
func (m *Manager) expired(ctx context.Context, locks []model.SeatLock) {
	for _, l := range locks {
		m.metrics.ExpiredLocks.Inc()
		exp := l.ExpiresAt
		m.publish(ctx, model.LockEvent{
			Kind:      model.EventExpired,
			EventID:   l.EventID,
			SeatID:    l.SeatID,
			HolderID:  l.HolderID,
			Path:      model.PathSweep,
			ExpiresAt: &exp,
		})
		m.onFree(l.EventID, l.SeatID)
	}
}

func (m *Manager) publish(ctx context.Context, ev model.LockEvent) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = m.now().UTC()
	}
	if err := m.pub.Publish(ctx, ev); err != nil {
		m.log.Warn("lock event publish failed", "kind", ev.Kind, "event", ev.EventID, "seat", ev.SeatID, "error", err)
	}
}
