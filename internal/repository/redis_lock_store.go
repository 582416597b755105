package repository

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"

	"github.com/pvnzki/eventbn-seatlock/internal/model"
)

// expiryGrace keeps a lapsed lock hash around a little longer than its TTL
// so the sweeper can still report who held it.  Liveness is always decided
// by the expires_ms field, never by the key's presence.
const expiryGrace = time.Minute

// acquireScript stores a new lock iff the seat has no live lock.
// Returns {status, holder, token, acquired_ms, expires_ms} where status is
// 2 (created), 1 (already held by the same holder) or 0 (conflict).
var acquireScript = redis.NewScript(`
	local cur = redis.call('HMGET', KEYS[1], 'holder', 'token', 'acquired_ms', 'expires_ms')
	local now_ms = tonumber(ARGV[8])
	if cur[1] and tonumber(cur[4]) > now_ms then
		if cur[1] == ARGV[1] then
			return {1, cur[1], cur[2], cur[3], cur[4]}
		end
		return {0, cur[1], cur[2], cur[3], cur[4]}
	end
	redis.call('DEL', KEYS[1])
	redis.call('HSET', KEYS[1],
		'event', ARGV[7], 'seat', ARGV[6],
		'holder', ARGV[1], 'token', ARGV[2],
		'acquired_ms', ARGV[3], 'expires_ms', ARGV[4])
	redis.call('PEXPIRE', KEYS[1], ARGV[5])
	redis.call('SADD', KEYS[2], ARGV[6])
	return {2, ARGV[1], ARGV[2], ARGV[3], ARGV[4]}
`)

// extendScript moves expires_ms forward iff holder and token match the live
// lock.  Returns {-1} when absent, {-2} on mismatch, otherwise the lock.
var extendScript = redis.NewScript(`
	local cur = redis.call('HMGET', KEYS[1], 'holder', 'token', 'acquired_ms', 'expires_ms')
	if not cur[1] or tonumber(cur[4]) <= tonumber(ARGV[3]) then
		return {-1}
	end
	if cur[1] ~= ARGV[1] or cur[2] ~= ARGV[2] then
		return {-2}
	end
	redis.call('HSET', KEYS[1], 'expires_ms', ARGV[4])
	redis.call('PEXPIRE', KEYS[1], ARGV[5])
	return {1, cur[1], cur[2], cur[3], ARGV[4]}
`)

// releaseScript deletes the live lock iff holder and token match.
// Returns 1 (deleted), 0 (absent or lapsed) or -1 (mismatch).
var releaseScript = redis.NewScript(`
	local cur = redis.call('HMGET', KEYS[1], 'holder', 'token', 'expires_ms')
	if not cur[1] then
		redis.call('SREM', KEYS[2], ARGV[4])
		return 0
	end
	if tonumber(cur[3]) <= tonumber(ARGV[3]) then
		return 0
	end
	if cur[1] ~= ARGV[1] or cur[2] ~= ARGV[2] then
		return -1
	end
	redis.call('DEL', KEYS[1])
	redis.call('SREM', KEYS[2], ARGV[4])
	return 1
`)

// reapScript removes a lock hash iff it is still lapsed, so a sweep never
// deletes a lock that was re-acquired between the read and the delete.
var reapScript = redis.NewScript(`
	local exp = redis.call('HGET', KEYS[1], 'expires_ms')
	if not exp then
		redis.call('SREM', KEYS[2], ARGV[2])
		return 0
	end
	if tonumber(exp) > tonumber(ARGV[1]) then
		return 0
	end
	redis.call('DEL', KEYS[1])
	redis.call('SREM', KEYS[2], ARGV[2])
	return 1
`)

// RedisLockStore keeps seat locks in Redis so several service instances can
// share one lock table.  Each seat is a hash at {prefix}:lock:{event}:{seat}
// and every event has a set of seat ids at {prefix}:locks:{event}.  All
// mutations run as Lua scripts, which Redis executes atomically.
type RedisLockStore struct {
	rdb    redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedisLockStore binds a store to the client.  An empty prefix defaults
// to "seatlock"; a nil clock uses time.Now.
func NewRedisLockStore(rdb redis.UniversalClient, prefix string, now func() time.Time) *RedisLockStore {
	if prefix == "" {
		prefix = "seatlock"
	}
	if now == nil {
		now = time.Now
	}
	return &RedisLockStore{rdb: rdb, prefix: prefix, now: now}
}

// Ids are query-escaped inside keys so a ':' in an id can never make two
// different (event, seat) pairs share a key, and glob characters never
// reach the SCAN pattern.
func (s *RedisLockStore) lockKey(eventID, seatID string) string {
	return fmt.Sprintf("%s:lock:%s:%s", s.prefix, url.QueryEscape(eventID), url.QueryEscape(seatID))
}

func (s *RedisLockStore) indexKey(eventID string) string {
	return fmt.Sprintf("%s:locks:%s", s.prefix, url.QueryEscape(eventID))
}

func (s *RedisLockStore) Acquire(ctx context.Context, lock model.SeatLock) (model.SeatLock, error) {
	now := s.now()
	ttl := lock.ExpiresAt.Sub(now)
	if ttl <= 0 {
		return model.SeatLock{}, errors.Wrap(ErrInvalidArgument, "lock already expired")
	}
	keys := []string{s.lockKey(lock.EventID, lock.SeatID), s.indexKey(lock.EventID)}
	args := []interface{}{
		lock.HolderID,
		lock.Token,
		lock.AcquiredAt.UnixMilli(),
		lock.ExpiresAt.UnixMilli(),
		(ttl + expiryGrace).Milliseconds(),
		lock.SeatID,
		lock.EventID,
		now.UnixMilli(),
	}
	vals, err := acquireScript.Run(ctx, s.rdb, keys, args...).Slice()
	if err != nil {
		return model.SeatLock{}, backendErr(err, "redis acquire")
	}
	status, cur, err := parseScriptLock(vals, lock.EventID, lock.SeatID)
	if err != nil {
		return model.SeatLock{}, err
	}
	if status == 0 {
		return cur, ErrConflict
	}
	return cur, nil
}

func (s *RedisLockStore) Extend(ctx context.Context, eventID, seatID, holderID, token string, ttl time.Duration) (model.SeatLock, error) {
	now := s.now()
	expires := now.Add(ttl)
	keys := []string{s.lockKey(eventID, seatID)}
	args := []interface{}{
		holderID,
		token,
		now.UnixMilli(),
		expires.UnixMilli(),
		(ttl + expiryGrace).Milliseconds(),
	}
	vals, err := extendScript.Run(ctx, s.rdb, keys, args...).Slice()
	if err != nil {
		return model.SeatLock{}, backendErr(err, "redis extend")
	}
	status, cur, err := parseScriptLock(vals, eventID, seatID)
	if err != nil {
		return model.SeatLock{}, err
	}
	switch status {
	case -1:
		return model.SeatLock{}, ErrNotFound
	case -2:
		return model.SeatLock{}, ErrForbidden
	}
	return cur, nil
}

func (s *RedisLockStore) Release(ctx context.Context, eventID, seatID, holderID, token string) (bool, error) {
	keys := []string{s.lockKey(eventID, seatID), s.indexKey(eventID)}
	args := []interface{}{holderID, token, s.now().UnixMilli(), seatID}
	n, err := releaseScript.Run(ctx, s.rdb, keys, args...).Int64()
	if err != nil {
		return false, backendErr(err, "redis release")
	}
	switch n {
	case -1:
		return false, ErrForbidden
	case 1:
		return true, nil
	}
	return false, nil
}

func (s *RedisLockStore) Get(ctx context.Context, eventID, seatID string) (model.SeatLock, bool, error) {
	fields, err := s.rdb.HGetAll(ctx, s.lockKey(eventID, seatID)).Result()
	if err != nil {
		return model.SeatLock{}, false, backendErr(err, "redis get")
	}
	l, ok := lockFromHash(fields, eventID, seatID)
	if !ok || l.Expired(s.now()) {
		return model.SeatLock{}, false, nil
	}
	return l, true, nil
}

func (s *RedisLockStore) ListByEvent(ctx context.Context, eventID string) ([]model.SeatLock, error) {
	seats, err := s.rdb.SMembers(ctx, s.indexKey(eventID)).Result()
	if err != nil {
		return nil, backendErr(err, "redis list seats")
	}
	out := make([]model.SeatLock, 0, len(seats))
	if len(seats) == 0 {
		return out, nil
	}
	pipe := s.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(seats))
	for i, seat := range seats {
		cmds[i] = pipe.HGetAll(ctx, s.lockKey(eventID, seat))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, backendErr(err, "redis list locks")
	}
	now := s.now()
	for i, cmd := range cmds {
		l, ok := lockFromHash(cmd.Val(), eventID, seats[i])
		if ok && !l.Expired(now) {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SeatID < out[j].SeatID })
	return out, nil
}

func (s *RedisLockStore) CountByEvent(ctx context.Context, eventID string) (int, error) {
	locks, err := s.ListByEvent(ctx, eventID)
	return len(locks), err
}

// SweepExpired walks every event index and reaps lapsed locks.
func (s *RedisLockStore) SweepExpired(ctx context.Context) ([]model.SeatLock, error) {
	var expired []model.SeatLock
	match := s.prefix + ":locks:*"
	iter := s.rdb.Scan(ctx, 0, match, 100).Iterator()
	for iter.Next(ctx) {
		idx := iter.Val()
		eventID, err := url.QueryUnescape(strings.TrimPrefix(idx, s.prefix+":locks:"))
		if err != nil {
			continue
		}
		seats, err := s.rdb.SMembers(ctx, idx).Result()
		if err != nil {
			return expired, backendErr(err, "redis sweep members")
		}
		for _, seat := range seats {
			key := s.lockKey(eventID, seat)
			fields, err := s.rdb.HGetAll(ctx, key).Result()
			if err != nil {
				return expired, backendErr(err, "redis sweep get")
			}
			l, ok := lockFromHash(fields, eventID, seat)
			now := s.now()
			if ok && !l.Expired(now) {
				continue
			}
			n, err := reapScript.Run(ctx, s.rdb, []string{key, idx}, now.UnixMilli(), seat).Int64()
			if err != nil {
				return expired, backendErr(err, "redis sweep reap")
			}
			if n == 1 && ok {
				expired = append(expired, l)
			}
		}
	}
	if err := iter.Err(); err != nil {
		return expired, backendErr(err, "redis sweep scan")
	}
	return expired, nil
}

// parseScriptLock decodes the {status, holder, token, acquired_ms,
// expires_ms} reply shared by the acquire and extend scripts.
func parseScriptLock(vals []interface{}, eventID, seatID string) (int64, model.SeatLock, error) {
	if len(vals) == 0 {
		return 0, model.SeatLock{}, errors.Mark(errors.New("empty script reply"), ErrBackend)
	}
	status := asInt64(vals[0])
	if len(vals) < 5 {
		return status, model.SeatLock{}, nil
	}
	l := model.SeatLock{
		EventID:    eventID,
		SeatID:     seatID,
		HolderID:   fmt.Sprint(vals[1]),
		Token:      fmt.Sprint(vals[2]),
		AcquiredAt: time.UnixMilli(asInt64(vals[3])).UTC(),
		ExpiresAt:  time.UnixMilli(asInt64(vals[4])).UTC(),
	}
	return status, l, nil
}

func lockFromHash(fields map[string]string, eventID, seatID string) (model.SeatLock, bool) {
	holder, ok := fields["holder"]
	if !ok || holder == "" {
		return model.SeatLock{}, false
	}
	return model.SeatLock{
		EventID:    eventID,
		SeatID:     seatID,
		HolderID:   holder,
		Token:      fields["token"],
		AcquiredAt: time.UnixMilli(asInt64(fields["acquired_ms"])).UTC(),
		ExpiresAt:  time.UnixMilli(asInt64(fields["expires_ms"])).UTC(),
	}, true
}

func asInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case string:
		if n, err := strconv.ParseInt(t, 10, 64); err == nil {
			return n
		}
	}
	return 0
}
