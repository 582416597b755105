package lock

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/pvnzki/eventbn-seatlock/internal/config"
	"github.com/pvnzki/eventbn-seatlock/internal/metrics"
	"github.com/pvnzki/eventbn-seatlock/internal/model"
	"github.com/pvnzki/eventbn-seatlock/internal/repository"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []model.LockEvent
}

func (p *recordingPublisher) Publish(_ context.Context, ev model.LockEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) kinds(requestID string) []model.LockEventKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []model.LockEventKind
	for _, ev := range p.events {
		if requestID == "" || ev.RequestID == requestID {
			out = append(out, ev.Kind)
		}
	}
	return out
}

// failingStore refuses to lock for one holder with a backend error.
type failingStore struct {
	repository.LockStore
	holder string
}

func (s failingStore) Acquire(ctx context.Context, l model.SeatLock) (model.SeatLock, error) {
	if l.HolderID == s.holder {
		return model.SeatLock{}, errors.Mark(errors.New("redis: connection refused"), repository.ErrBackend)
	}
	return s.LockStore.Acquire(ctx, l)
}

func startEngine(t *testing.T, cfg config.Config, store repository.LockStore) (*Engine, *recordingPublisher) {
	t.Helper()
	if store == nil {
		store = repository.NewMemoryLockStore(nil)
	}
	pub := &recordingPublisher{}
	e := NewEngine(cfg, store, pub, metrics.NewNop(), testLogger())
	e.Start()
	t.Cleanup(e.Stop)
	return e, pub
}

func longQueueConfig() config.Config {
	cfg := config.NewTestConfig()
	cfg.Queue.MaxAge = 10 * time.Second
	cfg.Lock.DefaultTTL = 10 * time.Second
	return cfg
}

func mustQueue(t *testing.T, e *Engine, seat, holder string) string {
	t.Helper()
	out, err := e.HybridLock(bg(), "e1", seat, holder, 0)
	require.NoError(t, err)
	require.True(t, out.Queued, "expected %s to be queued", holder)
	require.NotEmpty(t, out.RequestID)
	return out.RequestID
}

func TestEngine_HybridGrantsDirectlyWhenCalm(t *testing.T) {
	e, pub := startEngine(t, config.NewTestConfig(), nil)

	out, err := e.HybridLock(bg(), "e1", "A1", "u1", 0)
	require.NoError(t, err)
	require.True(t, out.Granted)
	assert.False(t, out.Queued)
	assert.Len(t, out.Lock.Token, 32)
	assert.Equal(t, []model.LockEventKind{model.EventGranted}, pub.kinds(""))
}

func TestEngine_FIFOFairness(t *testing.T) {
	e, _ := startEngine(t, longQueueConfig(), nil)

	held, err := e.Manager().Acquire(bg(), "e1", "A1", "u0", 0)
	require.NoError(t, err)

	r1 := mustQueue(t, e, "A1", "u1")
	r2 := mustQueue(t, e, "A1", "u2")
	r3 := mustQueue(t, e, "A1", "u3")
	assert.Equal(t, []string{r1, r2, r3}, e.Queue().Pending("e1", "A1"))

	_, err = e.HybridRelease(bg(), "e1", "A1", "u0", held.Token)
	require.NoError(t, err)

	res1, err := e.Await(bg(), r1, 3*time.Second)
	require.NoError(t, err)
	require.Equal(t, model.StatusGranted, res1.Status)
	require.NotEmpty(t, res1.Token)

	for _, id := range []string{r2, r3} {
		res, err := e.Result(id)
		require.NoError(t, err)
		assert.Equal(t, model.StatusPending, res.Status)
	}

	st, err := e.Manager().Status(bg(), "e1", "A1")
	require.NoError(t, err)
	assert.Equal(t, "u1", st.HolderID)

	_, err = e.HybridRelease(bg(), "e1", "A1", "u1", res1.Token)
	require.NoError(t, err)
	res2, err := e.Await(bg(), r2, 3*time.Second)
	require.NoError(t, err)
	require.Equal(t, model.StatusGranted, res2.Status)

	res3, err := e.Result(r3)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, res3.Status)
}

func TestEngine_ScenarioB(t *testing.T) {
	cfg := config.NewTestConfig()
	cfg.Queue.MaxAge = 300 * time.Millisecond
	cfg.Lock.DefaultTTL = 5 * time.Second
	e, _ := startEngine(t, cfg, nil)

	type outcome struct {
		holder string
		out    HybridOutcome
		err    error
	}
	results := make(chan outcome, 5)
	start := make(chan struct{})
	for i := 1; i <= 5; i++ {
		holder := fmt.Sprintf("u%d", i)
		go func() {
			<-start
			out, err := e.HybridLock(bg(), "e1", "A1", holder, 0)
			results <- outcome{holder, out, err}
		}()
	}
	close(start)

	granted := 0
	var queued []string
	for i := 0; i < 5; i++ {
		o := <-results
		require.NoError(t, o.err)
		if o.out.Granted {
			granted++
			continue
		}
		require.True(t, o.out.Queued)
		queued = append(queued, o.out.RequestID)
	}
	require.Equal(t, 1, granted)
	require.Len(t, queued, 4)

	for _, id := range queued {
		res, err := e.Await(bg(), id, 3*time.Second)
		require.NoError(t, err)
		assert.True(t, res.Status.Terminal(), "request %s still %s", id, res.Status)
		assert.NotEqual(t, model.StatusGranted, res.Status)
	}
}

func TestEngine_ScenarioC(t *testing.T) {
	e, _ := startEngine(t, longQueueConfig(), nil)

	held, err := e.Manager().Acquire(bg(), "e1", "A1", "u0", 0)
	require.NoError(t, err)
	r1 := mustQueue(t, e, "A1", "u1")
	mustQueue(t, e, "A1", "u2")
	mustQueue(t, e, "A1", "u3")

	_, err = e.HybridRelease(bg(), "e1", "A1", "u0", held.Token)
	require.NoError(t, err)
	res, err := e.Await(bg(), r1, 3*time.Second)
	require.NoError(t, err)
	require.Equal(t, model.StatusGranted, res.Status)

	st, err := e.Stats(bg(), "e1")
	require.NoError(t, err)
	assert.Equal(t, 1, st.ActiveLocks)
	assert.Equal(t, 2, st.QueueDepth)
	assert.Equal(t, map[string]int{"A1": 2}, st.SeatQueueDepth)
	assert.Equal(t, model.LoadNormal, st.Load)
	assert.Equal(t, 1, st.SeatWorkers)
}

func TestEngine_DuplicateEnqueueReturnsSameRequest(t *testing.T) {
	e, pub := startEngine(t, longQueueConfig(), nil)

	_, err := e.Manager().Acquire(bg(), "e1", "A1", "u0", 0)
	require.NoError(t, err)
	first := mustQueue(t, e, "A1", "u1")
	second := mustQueue(t, e, "A1", "u1")
	assert.Equal(t, first, second)
	assert.Equal(t, 1, e.Queue().SeatDepth("e1", "A1"))
	assert.Equal(t, []model.LockEventKind{model.EventQueued}, pub.kinds(first))
}

func TestEngine_QueueCeiling(t *testing.T) {
	cfg := longQueueConfig()
	cfg.Queue.MaxPerSeat = 2
	e, _ := startEngine(t, cfg, nil)

	_, err := e.Manager().Acquire(bg(), "e1", "A1", "u0", 0)
	require.NoError(t, err)
	mustQueue(t, e, "A1", "u1")
	mustQueue(t, e, "A1", "u2")

	_, err = e.HybridLock(bg(), "e1", "A1", "u3", 0)
	require.ErrorIs(t, err, repository.ErrOverloaded)
	assert.Equal(t, "overloaded", repository.Reason(err))
}

func TestEngine_FailedEntryDoesNotStallSeat(t *testing.T) {
	e, pub := startEngine(t, longQueueConfig(), failingStore{LockStore: repository.NewMemoryLockStore(nil), holder: "bad"})

	held, err := e.Manager().Acquire(bg(), "e1", "A1", "u0", 0)
	require.NoError(t, err)
	bad := mustQueue(t, e, "A1", "bad")
	good := mustQueue(t, e, "A1", "u2")

	_, err = e.HybridRelease(bg(), "e1", "A1", "u0", held.Token)
	require.NoError(t, err)

	res, err := e.Await(bg(), bad, 3*time.Second)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDenied, res.Status)
	assert.Equal(t, "internal_error", res.Reason)
	assert.Contains(t, pub.kinds(bad), model.EventDenied)

	res, err = e.Await(bg(), good, 3*time.Second)
	require.NoError(t, err)
	assert.Equal(t, model.StatusGranted, res.Status)
}

func TestEngine_QueuedGrantAfterLockExpires(t *testing.T) {
	e, _ := startEngine(t, longQueueConfig(), nil)

	_, err := e.Manager().Acquire(bg(), "e1", "A1", "u0", 100*time.Millisecond)
	require.NoError(t, err)
	r1 := mustQueue(t, e, "A1", "u1")

	res, err := e.Await(bg(), r1, 3*time.Second)
	require.NoError(t, err)
	assert.Equal(t, model.StatusGranted, res.Status)
}

func TestEngine_SweeperPublishesExpiry(t *testing.T) {
	e, pub := startEngine(t, config.NewTestConfig(), nil)

	_, err := e.Manager().Acquire(bg(), "e1", "A1", "u1", 60*time.Millisecond)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		for _, k := range pub.kinds("") {
			if k == model.EventExpired {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	st, err := e.Manager().Status(bg(), "e1", "A1")
	require.NoError(t, err)
	assert.False(t, st.Held)
}

func TestEngine_StopLeavesNoGoroutines(t *testing.T) {
	ignore := goleak.IgnoreCurrent()

	e := NewEngine(longQueueConfig(), repository.NewMemoryLockStore(nil), nil, metrics.NewNop(), testLogger())
	e.Start()
	_, err := e.Manager().Acquire(bg(), "e1", "A1", "u0", 0)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := e.HybridLock(bg(), "e1", fmt.Sprintf("S%d", i), "u0", 0)
		require.NoError(t, err)
		_, err = e.HybridLock(bg(), "e1", fmt.Sprintf("S%d", i), "u1", 0)
		require.NoError(t, err)
	}
	id := mustQueue(t, e, "A1", "u1")
	assert.Equal(t, 4, e.dispatcher.WorkerCount("e1"))

	e.Stop()

	res, err := e.Result(id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, res.Status)
	goleak.VerifyNone(t, ignore)
}
