package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/pvnzki/eventbn-seatlock/internal/config"
	"github.com/pvnzki/eventbn-seatlock/internal/database"
	"github.com/pvnzki/eventbn-seatlock/internal/handler"
	"github.com/pvnzki/eventbn-seatlock/internal/lock"
	"github.com/pvnzki/eventbn-seatlock/internal/metrics"
	"github.com/pvnzki/eventbn-seatlock/internal/middleware"
	"github.com/pvnzki/eventbn-seatlock/internal/queue"
	"github.com/pvnzki/eventbn-seatlock/internal/repository"
	"github.com/pvnzki/eventbn-seatlock/internal/router"
)

func appOptions() fx.Option {
	return fx.Options(
		fx.Provide(config.Load),
		infraModule,
		lockModule,
		httpModule,
		fx.WithLogger(func(log *slog.Logger) fxevent.Logger {
			l := &fxevent.SlogLogger{Logger: log}
			l.UseLogLevel(slog.LevelDebug)
			return l
		}),
	)
}

var infraModule = fx.Module("infra",
	fx.Provide(
		newLogger,
		newRedis,
		newDB,
		newMetrics,
		newLockEventRepo,
	),
	fx.Invoke(startConsumer),
)

var lockModule = fx.Module("lock",
	fx.Provide(
		newLockStore,
		newPublisher,
		newEngine,
	),
)

var httpModule = fx.Module("http",
	fx.Provide(newEcho),
	fx.Invoke(startServer),
)

func newLogger(cfg config.Config) *slog.Logger {
	log := middleware.NewLogger(cfg.Log)
	slog.SetDefault(log)
	return log
}

// newRedis returns nil when Redis is not needed or not reachable; every
// consumer treats a nil client as "Redis disabled".
func newRedis(lc fx.Lifecycle, cfg config.Config, log *slog.Logger) redis.UniversalClient {
	if !cfg.WantsRedis() {
		return nil
	}
	client, err := config.NewRedisClient(cfg.Redis)
	if err != nil {
		log.Warn("redis unavailable, continuing without it", "addr", cfg.Redis.Address(), "error", err)
		return nil
	}
	lc.Append(fx.StopHook(client.Close))
	return client
}

// newDB opens the audit database.  The service runs without it.
func newDB(lc fx.Lifecycle, cfg config.Config, log *slog.Logger) *sql.DB {
	if !cfg.MySQL.Enabled() {
		return nil
	}
	db, err := database.Open(context.Background(), cfg.MySQL)
	if err != nil {
		log.Warn("audit database unavailable, lock history disabled", "error", err)
		return nil
	}
	lc.Append(fx.StopHook(db.Close))
	return db
}

func newLockEventRepo(lc fx.Lifecycle, db *sql.DB) *repository.LockEventRepo {
	if db == nil {
		return nil
	}
	repo := repository.NewLockEventRepo(db)
	lc.Append(fx.StartHook(repo.EnsureSchema))
	return repo
}

func newMetrics() (*prometheus.Registry, *metrics.Metrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, metrics.New(reg)
}

func newLockStore(cfg config.Config, rdb redis.UniversalClient, log *slog.Logger) repository.LockStore {
	if cfg.Lock.Store == "redis" {
		if rdb != nil {
			log.Info("using redis lock store", "prefix", cfg.Redis.KeyPrefix)
			return repository.NewRedisLockStore(rdb, cfg.Redis.KeyPrefix, nil)
		}
		log.Warn("LOCK_STORE=redis but redis is unavailable, falling back to memory")
	}
	return repository.NewMemoryLockStore(nil)
}

func newPublisher(lc fx.Lifecycle, cfg config.Config, m *metrics.Metrics, log *slog.Logger) lock.Publisher {
	if !cfg.RabbitMQ.Enabled() {
		return lock.NopPublisher{}
	}
	p := queue.NewPublisher(cfg.RabbitMQ, nil, m, log)
	lc.Append(fx.StartStopHook(p.Start, p.Stop))
	return p
}

func startConsumer(lc fx.Lifecycle, cfg config.Config, repo *repository.LockEventRepo, log *slog.Logger) {
	if !cfg.RabbitMQ.Enabled() || !cfg.RabbitMQ.Consume || repo == nil {
		return
	}
	c := queue.NewConsumer(cfg.RabbitMQ, nil, repo, log)
	lc.Append(fx.StartStopHook(c.Start, c.Stop))
}

func newEngine(lc fx.Lifecycle, cfg config.Config, store repository.LockStore, pub lock.Publisher, m *metrics.Metrics, log *slog.Logger) *lock.Engine {
	e := lock.NewEngine(cfg, store, pub, m, log)
	lc.Append(fx.StartStopHook(e.Start, e.Stop))
	return e
}

func newEcho(cfg config.Config, engine *lock.Engine, rdb redis.UniversalClient, repo *repository.LockEventRepo, db *sql.DB, reg *prometheus.Registry, log *slog.Logger) *echo.Echo {
	checks := map[string]handler.HealthCheck{}
	if rdb != nil {
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}
	if db != nil {
		checks["mysql"] = db.PingContext
	}

	h := router.Handlers{
		Lock:   handler.NewLockHandler(engine, log),
		Hybrid: handler.NewHybridHandler(engine, cfg.HTTP.AwaitMaxTimeout, log),
		Health: handler.NewHealthHandler(checks),
	}
	if repo != nil {
		h.History = handler.NewHistoryHandler(repo, log)
	}

	e := router.New(log)
	router.Register(e, h, router.Options{
		JWTSecret: cfg.JWT.Secret,
		RateLimit: middleware.RateLimit(cfg.RateLimit, rdb, log),
		Cache:     middleware.ResponseCache(cfg.Cache, rdb),
		Metrics:   promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})
	return e
}

func startServer(lc fx.Lifecycle, e *echo.Echo, cfg config.Config, log *slog.Logger) {
	addr := ":" + cfg.HTTP.Port
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			log.Info("listening", "addr", addr, "env", cfg.App.Env, "lock_store", cfg.Lock.Store)
			go func() {
				if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("http server failed", "error", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, cfg.HTTP.ShutdownTimeout)
			defer cancel()
			log.Info("shutting down http server")
			return e.Shutdown(ctx)
		},
	})
}
