package repository

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/pvnzki/eventbn-seatlock/internal/model"
)

const memoryShards = 32

type seatKey struct {
	eventID string
	seatID  string
}

type lockShard struct {
	mu    sync.Mutex
	locks map[seatKey]model.SeatLock
}

// MemoryLockStore is an in-process LockStore.  Keys are spread over a fixed
// set of shards so that contention on one seat does not serialize the
// whole table; each shard mutex makes the check and the write one step.
type MemoryLockStore struct {
	shards [memoryShards]*lockShard
	now    func() time.Time
}

// NewMemoryLockStore returns an empty store.  A nil clock uses time.Now.
func NewMemoryLockStore(now func() time.Time) *MemoryLockStore {
	if now == nil {
		now = time.Now
	}
	s := &MemoryLockStore{now: now}
	for i := range s.shards {
		s.shards[i] = &lockShard{locks: make(map[seatKey]model.SeatLock)}
	}
	return s
}

func (s *MemoryLockStore) shardFor(k seatKey) *lockShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(k.eventID))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(k.seatID))
	return s.shards[h.Sum32()%memoryShards]
}

// liveLocked returns the unexpired lock for k, dropping a lapsed one.
// Must be called with sh.mu held.
func (sh *lockShard) liveLocked(k seatKey, now time.Time) (model.SeatLock, bool) {
	l, ok := sh.locks[k]
	if !ok {
		return model.SeatLock{}, false
	}
	if l.Expired(now) {
		delete(sh.locks, k)
		return model.SeatLock{}, false
	}
	return l, true
}

func (s *MemoryLockStore) Acquire(_ context.Context, lock model.SeatLock) (model.SeatLock, error) {
	k := seatKey{lock.EventID, lock.SeatID}
	sh := s.shardFor(k)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if cur, ok := sh.liveLocked(k, s.now()); ok {
		if cur.HolderID == lock.HolderID {
			return cur, nil
		}
		return cur, ErrConflict
	}
	sh.locks[k] = lock
	return lock, nil
}

func (s *MemoryLockStore) Extend(_ context.Context, eventID, seatID, holderID, token string, ttl time.Duration) (model.SeatLock, error) {
	k := seatKey{eventID, seatID}
	sh := s.shardFor(k)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	now := s.now()
	cur, ok := sh.liveLocked(k, now)
	if !ok {
		return model.SeatLock{}, ErrNotFound
	}
	if cur.HolderID != holderID || cur.Token != token {
		return model.SeatLock{}, ErrForbidden
	}
	cur.ExpiresAt = now.Add(ttl)
	sh.locks[k] = cur
	return cur, nil
}

func (s *MemoryLockStore) Release(_ context.Context, eventID, seatID, holderID, token string) (bool, error) {
	k := seatKey{eventID, seatID}
	sh := s.shardFor(k)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	cur, ok := sh.liveLocked(k, s.now())
	if !ok {
		return false, nil
	}
	if cur.HolderID != holderID || cur.Token != token {
		return false, ErrForbidden
	}
	delete(sh.locks, k)
	return true, nil
}

func (s *MemoryLockStore) Get(_ context.Context, eventID, seatID string) (model.SeatLock, bool, error) {
	k := seatKey{eventID, seatID}
	sh := s.shardFor(k)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	l, ok := sh.liveLocked(k, s.now())
	return l, ok, nil
}

// ListByEvent returns the live locks of an event ordered by seat id.
func (s *MemoryLockStore) ListByEvent(_ context.Context, eventID string) ([]model.SeatLock, error) {
	now := s.now()
	out := make([]model.SeatLock, 0)
	for _, sh := range s.shards {
		sh.mu.Lock()
		for k, l := range sh.locks {
			if k.eventID == eventID && !l.Expired(now) {
				out = append(out, l)
			}
		}
		sh.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SeatID < out[j].SeatID })
	return out, nil
}

func (s *MemoryLockStore) CountByEvent(ctx context.Context, eventID string) (int, error) {
	locks, err := s.ListByEvent(ctx, eventID)
	return len(locks), err
}

func (s *MemoryLockStore) SweepExpired(_ context.Context) ([]model.SeatLock, error) {
	now := s.now()
	var expired []model.SeatLock
	for _, sh := range s.shards {
		sh.mu.Lock()
		for k, l := range sh.locks {
			if l.Expired(now) {
				expired = append(expired, l)
				delete(sh.locks, k)
			}
		}
		sh.mu.Unlock()
	}
	return expired, nil
}
