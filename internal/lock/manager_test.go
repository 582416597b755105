package lock

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/pvnzki/eventbn-seatlock/internal/config"
	"github.com/pvnzki/eventbn-seatlock/internal/lock/mocks"
	"github.com/pvnzki/eventbn-seatlock/internal/metrics"
	"github.com/pvnzki/eventbn-seatlock/internal/model"
	"github.com/pvnzki/eventbn-seatlock/internal/repository"
	"github.com/pvnzki/eventbn-seatlock/internal/utils"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func bg() context.Context { return context.Background() }

func testManager(t *testing.T) (*Manager, *utils.ManualClock) {
	t.Helper()
	clock := utils.NewManualClock(epoch)
	store := repository.NewMemoryLockStore(clock.Now)
	return NewManager(store, config.NewTestConfig().Lock, nil, metrics.NewNop(), testLogger(), clock.Now), clock
}

func TestManager_ScenarioA(t *testing.T) {
	m, _ := testManager(t)

	l1, err := m.Acquire(bg(), "e1", "A1", "u1", 0)
	require.NoError(t, err)
	require.Len(t, l1.Token, 32)

	held, err := m.Acquire(bg(), "e1", "A1", "u2", 0)
	require.ErrorIs(t, err, repository.ErrConflict)
	assert.Empty(t, held.Token, "conflict must not leak the holder's token")
	assert.Equal(t, "u1", held.HolderID)

	released, err := m.Release(bg(), "e1", "A1", "u1", l1.Token)
	require.NoError(t, err)
	require.True(t, released)

	l2, err := m.Acquire(bg(), "e1", "A1", "u2", 0)
	require.NoError(t, err)
	assert.NotEqual(t, l1.Token, l2.Token)
	assert.Equal(t, "u2", l2.HolderID)
}

func TestManager_AcquireIsIdempotentForHolder(t *testing.T) {
	m, clock := testManager(t)

	first, err := m.Acquire(bg(), "e1", "A1", "u1", 0)
	require.NoError(t, err)
	clock.Add(100 * time.Millisecond)
	again, err := m.Acquire(bg(), "e1", "A1", "u1", 0)
	require.NoError(t, err)
	if diff := cmp.Diff(first, again); diff != "" {
		t.Fatalf("re-acquire changed the lock (-first +again):\n%s", diff)
	}
}

func TestManager_DefaultTTLAndBounds(t *testing.T) {
	m, _ := testManager(t)
	cfg := config.NewTestConfig().Lock

	l, err := m.Acquire(bg(), "e1", "A1", "u1", 0)
	require.NoError(t, err)
	assert.Equal(t, epoch.Add(cfg.DefaultTTL), l.ExpiresAt)

	_, err = m.Acquire(bg(), "e1", "A2", "u1", time.Millisecond)
	require.ErrorIs(t, err, repository.ErrInvalidArgument)
	_, err = m.Acquire(bg(), "e1", "A2", "u1", time.Hour)
	require.ErrorIs(t, err, repository.ErrInvalidArgument)
}

func TestManager_Validation(t *testing.T) {
	m, _ := testManager(t)
	cases := []struct {
		name                string
		event, seat, holder string
	}{
		{"empty event", "", "A1", "u1"},
		{"empty seat", "e1", "", "u1"},
		{"empty holder", "e1", "A1", ""},
		{"padded seat", "e1", " A1", "u1"},
		{"control chars", "e1", "A\x001", "u1"},
		{"too long", "e1", string(make([]byte, maxIDLen+1)), "u1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := m.Acquire(bg(), tc.event, tc.seat, tc.holder, 0)
			require.ErrorIs(t, err, repository.ErrInvalidArgument)
			assert.Equal(t, "invalid_argument", repository.Reason(err))
		})
	}
}

func TestManager_TTLExpiry(t *testing.T) {
	m, clock := testManager(t)

	_, err := m.Acquire(bg(), "e1", "A1", "u1", time.Second)
	require.NoError(t, err)

	st, err := m.Status(bg(), "e1", "A1")
	require.NoError(t, err)
	require.True(t, st.Held)
	assert.Equal(t, time.Second, st.TTLRemaining)

	clock.Add(time.Second)
	st, err = m.Status(bg(), "e1", "A1")
	require.NoError(t, err)
	assert.False(t, st.Held)
	assert.Empty(t, st.HolderID)

	_, err = m.Acquire(bg(), "e1", "A1", "u2", 0)
	require.NoError(t, err)
}

func TestManager_ExtendRefreshesNeverTransfers(t *testing.T) {
	m, clock := testManager(t)

	l, err := m.Acquire(bg(), "e1", "A1", "u1", time.Second)
	require.NoError(t, err)
	clock.Add(800 * time.Millisecond)

	ext, err := m.Extend(bg(), "e1", "A1", "u1", l.Token, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, clock.Now().Add(5*time.Second), ext.ExpiresAt)
	assert.Equal(t, l.Token, ext.Token)
	assert.Equal(t, "u1", ext.HolderID)

	_, err = m.Extend(bg(), "e1", "A1", "u2", l.Token, 5*time.Second)
	require.ErrorIs(t, err, repository.ErrForbidden)
	_, err = m.Extend(bg(), "e1", "A1", "u1", "bogus", 5*time.Second)
	require.ErrorIs(t, err, repository.ErrForbidden)

	st, err := m.Status(bg(), "e1", "A1")
	require.NoError(t, err)
	assert.Equal(t, "u1", st.HolderID)
	assert.Equal(t, ext.ExpiresAt, *st.ExpiresAt)

	_, err = m.Extend(bg(), "e1", "B9", "u1", l.Token, 0)
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestManager_IdempotentRelease(t *testing.T) {
	m, clock := testManager(t)

	l, err := m.Acquire(bg(), "e1", "A1", "u1", time.Second)
	require.NoError(t, err)

	_, err = m.Release(bg(), "e1", "A1", "u2", l.Token)
	require.ErrorIs(t, err, repository.ErrForbidden)

	released, err := m.Release(bg(), "e1", "A1", "u1", l.Token)
	require.NoError(t, err)
	assert.True(t, released)

	released, err = m.Release(bg(), "e1", "A1", "u1", l.Token)
	require.NoError(t, err)
	assert.False(t, released)

	l, err = m.Acquire(bg(), "e1", "A2", "u1", time.Second)
	require.NoError(t, err)
	clock.Add(2 * time.Second)
	released, err = m.Release(bg(), "e1", "A2", "u1", l.Token)
	require.NoError(t, err)
	assert.False(t, released)
}

func TestManager_MutualExclusion(t *testing.T) {
	m, _ := testManager(t)

	const n = 64
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
	)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		holder := "u" + string(rune('A'+i%26)) + string(rune('a'+i/26))
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := m.Acquire(bg(), "e1", "A1", holder, 0)
			if err == nil {
				mu.Lock()
				winners = append(winners, holder)
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, repository.ErrConflict)
		}()
	}
	close(start)
	wg.Wait()
	require.Len(t, winners, 1)
}

func TestManager_ListForEventStripsTokens(t *testing.T) {
	m, _ := testManager(t)
	for _, seat := range []string{"B2", "A1", "C3"} {
		_, err := m.Acquire(bg(), "e1", seat, "u-"+seat, 0)
		require.NoError(t, err)
	}
	_, err := m.Acquire(bg(), "e2", "A1", "other", 0)
	require.NoError(t, err)

	locks, err := m.ListForEvent(bg(), "e1")
	require.NoError(t, err)
	require.Len(t, locks, 3)
	seats := make([]string, 0, len(locks))
	for _, l := range locks {
		assert.Empty(t, l.Token)
		seats = append(seats, l.SeatID)
	}
	assert.Equal(t, []string{"A1", "B2", "C3"}, seats)
}

func TestManager_PublishesLifecycle(t *testing.T) {
	ctrl := gomock.NewController(t)
	pub := mocks.NewMockPublisher(ctrl)
	clock := utils.NewManualClock(epoch)
	m := NewManager(repository.NewMemoryLockStore(clock.Now), config.NewTestConfig().Lock, pub, metrics.NewNop(), testLogger(), clock.Now)

	var kinds []model.LockEventKind
	pub.EXPECT().Publish(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, ev model.LockEvent) error {
		assert.Equal(t, "e1", ev.EventID)
		assert.Equal(t, "A1", ev.SeatID)
		assert.Equal(t, epoch, ev.OccurredAt)
		kinds = append(kinds, ev.Kind)
		return nil
	}).Times(3)

	l, err := m.Acquire(bg(), "e1", "A1", "u1", 0)
	require.NoError(t, err)
	_, err = m.Acquire(bg(), "e1", "A1", "u1", 0)
	require.NoError(t, err)
	_, err = m.Acquire(bg(), "e1", "A1", "u2", 0)
	require.ErrorIs(t, err, repository.ErrConflict)
	_, err = m.Extend(bg(), "e1", "A1", "u1", l.Token, 0)
	require.NoError(t, err)
	_, err = m.Release(bg(), "e1", "A1", "u1", l.Token)
	require.NoError(t, err)

	assert.Equal(t, []model.LockEventKind{model.EventGranted, model.EventExtended, model.EventReleased}, kinds)
}

func TestManager_ReleaseWakesSeat(t *testing.T) {
	m, _ := testManager(t)
	var freed []string
	m.OnFree(func(eventID, seatID string) { freed = append(freed, eventID+"/"+seatID) })

	l, err := m.Acquire(bg(), "e1", "A1", "u1", 0)
	require.NoError(t, err)
	_, err = m.Release(bg(), "e1", "A1", "u1", l.Token)
	require.NoError(t, err)
	_, err = m.Release(bg(), "e1", "A1", "u1", l.Token)
	require.NoError(t, err)

	assert.Equal(t, []string{"e1/A1"}, freed)
}
