package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/pvnzki/eventbn-seatlock/internal/lock"
	"github.com/pvnzki/eventbn-seatlock/internal/middleware"
)

// HybridHandler serves the load-adaptive lock route, queued request
// results and per-event stats.  The /hybrid and /queue prefixes share it.
type HybridHandler struct {
	engine     *lock.Engine
	maxTimeout time.Duration
	log        *slog.Logger
}

func NewHybridHandler(engine *lock.Engine, maxTimeout time.Duration, log *slog.Logger) *HybridHandler {
	return &HybridHandler{engine: engine, maxTimeout: maxTimeout, log: log}
}

// Lock handles POST .../hybrid/lock.  A granted lock answers 200; a queued
// request answers 202 with the id to poll.
func (h *HybridHandler) Lock(c echo.Context) error {
	holder, _, ttl, err := bindLock(c)
	if err != nil {
		return badRequest(c, "invalid request body")
	}
	out, err := h.engine.HybridLock(c.Request().Context(), c.Param("event"), c.Param("seat"), holder, ttl)
	if err != nil {
		return writeError(c, h.log, err)
	}
	if out.Queued {
		return c.JSON(http.StatusAccepted, echo.Map{"queued": true, "requestId": out.RequestID})
	}
	l := out.Lock
	return c.JSON(http.StatusOK, lockResponse{
		Granted:   true,
		EventID:   l.EventID,
		SeatID:    l.SeatID,
		HolderID:  l.HolderID,
		Token:     l.Token,
		ExpiresAt: l.ExpiresAt,
	})
}

// Result handles GET /requests/:requestId/result?timeout=ms.  Without a
// timeout it answers immediately; otherwise it waits for a terminal status
// up to the timeout, capped by the configured maximum.
func (h *HybridHandler) Result(c echo.Context) error {
	var timeout time.Duration
	if raw := c.QueryParam("timeout"); raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || ms < 0 {
			return badRequest(c, "timeout must be a non-negative number of milliseconds")
		}
		timeout = time.Duration(ms) * time.Millisecond
		if h.maxTimeout > 0 && timeout > h.maxTimeout {
			timeout = h.maxTimeout
		}
	}

	id := c.Param("requestId")
	res, err := h.engine.Result(id)
	if err != nil {
		return writeError(c, h.log, err)
	}
	holder := middleware.HolderID(c)
	if holder != "" && holder != res.RequesterID {
		return c.JSON(http.StatusForbidden, echo.Map{
			"error":     "forbidden",
			"message":   "request belongs to another holder",
			"retryable": false,
		})
	}
	res, err = h.engine.Await(c.Request().Context(), id, timeout)
	if err != nil {
		return writeError(c, h.log, err)
	}
	// Anonymous callers see the outcome but never the lock token.
	if holder == "" {
		res.Token = ""
	}
	return c.JSON(http.StatusOK, res)
}

// Stats handles GET /events/:event/hybrid/stats.
func (h *HybridHandler) Stats(c echo.Context) error {
	st, err := h.engine.Stats(c.Request().Context(), c.Param("event"))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, st)
}
