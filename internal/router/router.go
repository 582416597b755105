// Package router registers the HTTP routes on an Echo instance.
package router

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/pvnzki/eventbn-seatlock/internal/handler"
	"github.com/pvnzki/eventbn-seatlock/internal/middleware"
)

// Handlers are the route targets.  History is nil when no audit database
// is configured.
type Handlers struct {
	Lock    *handler.LockHandler
	Hybrid  *handler.HybridHandler
	History *handler.HistoryHandler
	Health  *handler.HealthHandler
}

// Options carries the optional middleware.  Nil entries are skipped.
type Options struct {
	JWTSecret string
	RateLimit echo.MiddlewareFunc
	Cache     echo.MiddlewareFunc
	Metrics   http.Handler
}

// New returns an Echo instance with recovery and request logging.
func New(log *slog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())
	e.Use(middleware.RequestLogger(log))
	return e
}

// Register mounts every route.  The /hybrid and /queue prefixes are two
// names for the same engine.
func Register(e *echo.Echo, h Handlers, o Options) {
	e.GET("/healthz", h.Health.Health)
	if o.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(o.Metrics))
	}

	identity := middleware.TrustedHeader()
	if o.JWTSecret != "" {
		identity = middleware.JWTAuth(o.JWTSecret)
	}
	var limit []echo.MiddlewareFunc
	if o.RateLimit != nil {
		limit = append(limit, o.RateLimit)
	}

	events := e.Group("/events", identity)
	seat := events.Group("/:event/seats/:seat")

	seat.POST("/lock", h.Lock.Acquire, limit...)
	seat.GET("/lock", h.Lock.Status)
	seat.PUT("/lock/extend", h.Lock.Extend, limit...)
	seat.DELETE("/lock", h.Lock.Release, limit...)

	for _, prefix := range []string{"/hybrid", "/queue"} {
		seat.POST(prefix+"/lock", h.Hybrid.Lock, limit...)
		seat.PUT(prefix+"/extend", h.Lock.Extend, limit...)
		seat.DELETE(prefix+"/release", h.Lock.Release, limit...)
		events.GET("/:event"+prefix+"/stats", h.Hybrid.Stats)
	}

	events.GET("/:event/locks", h.Lock.List)
	if h.History != nil {
		var cache []echo.MiddlewareFunc
		if o.Cache != nil {
			cache = append(cache, o.Cache)
		}
		events.GET("/:event/lock-events", h.History.List, cache...)
	}

	e.GET("/requests/:requestId/result", h.Hybrid.Result, identity)
}
