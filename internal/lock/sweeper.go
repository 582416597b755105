package lock

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pvnzki/eventbn-seatlock/internal/config"
	"github.com/pvnzki/eventbn-seatlock/internal/repository"
)

// Sweeper periodically removes lapsed locks, evicts old request results
// and forgets idle load windows.
type Sweeper struct {
	store   repository.LockStore
	manager *Manager
	results *ResultStore
	monitor *LoadMonitor
	cfg     config.Config
	log     *slog.Logger

	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

func NewSweeper(cfg config.Config, store repository.LockStore, mgr *Manager, results *ResultStore, mon *LoadMonitor, log *slog.Logger) *Sweeper {
	return &Sweeper{
		store:   store,
		manager: mgr,
		results: results,
		monitor: mon,
		cfg:     cfg,
		log:     log,
		stop:    make(chan struct{}),
	}
}

// Start launches the sweep loop.
func (s *Sweeper) Start() {
	interval := s.cfg.Sweep.Interval
	if interval <= 0 {
		interval = time.Second
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				s.Sweep(context.Background())
			}
		}
	}()
}

// Stop ends the loop and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	s.once.Do(func() { close(s.stop) })
	s.wg.Wait()
}

// Sweep runs one pass.  Store failures are logged and retried on the next
// tick.
func (s *Sweeper) Sweep(ctx context.Context) {
	expired, err := s.store.SweepExpired(ctx)
	if err != nil {
		s.log.Error("sweep expired locks", "error", err)
	} else if len(expired) > 0 {
		s.log.Debug("swept expired locks", "count", len(expired))
		s.manager.expired(ctx, expired)
	}
	if n := s.results.Evict(s.cfg.Result.Retention); n > 0 {
		s.log.Debug("evicted request results", "count", n)
	}
	s.monitor.Prune(s.cfg.Load.IdleAfter)
}
