package handler

import (
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/pvnzki/eventbn-seatlock/internal/lock"
	"github.com/pvnzki/eventbn-seatlock/internal/middleware"
	"github.com/pvnzki/eventbn-seatlock/internal/model"
)

// TokenHeader may carry the lock token on extend and release.
const TokenHeader = "X-Lock-Token"

// lockRequest is the optional JSON body of the lock routes.  Every field
// has another source: the holder comes from the identity middleware and
// the token from the X-Lock-Token header or ?token=.
type lockRequest struct {
	HolderID   string  `json:"holderId"`
	Token      string  `json:"token"`
	TTLSeconds float64 `json:"ttlSeconds"`
}

type lockResponse struct {
	Granted   bool      `json:"granted"`
	EventID   string    `json:"eventId"`
	SeatID    string    `json:"seat"`
	HolderID  string    `json:"holder"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type statusResponse struct {
	EventID      string     `json:"eventId"`
	SeatID       string     `json:"seat"`
	Held         bool       `json:"held"`
	HolderID     string     `json:"holder,omitempty"`
	TTLRemaining *int64     `json:"ttlRemaining,omitempty"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
}

// LockHandler serves the direct lock routes and the lock listing.
type LockHandler struct {
	engine *lock.Engine
	log    *slog.Logger
}

func NewLockHandler(engine *lock.Engine, log *slog.Logger) *LockHandler {
	return &LockHandler{engine: engine, log: log}
}

// bindLock reads the optional body and resolves holder, token and ttl.
func bindLock(c echo.Context) (holder, token string, ttl time.Duration, err error) {
	var req lockRequest
	if err := (&echo.DefaultBinder{}).BindBody(c, &req); err != nil {
		return "", "", 0, err
	}
	holder = middleware.HolderID(c)
	if holder == "" {
		holder = req.HolderID
	}
	token = req.Token
	if token == "" {
		token = c.Request().Header.Get(TokenHeader)
	}
	if token == "" {
		token = c.QueryParam("token")
	}
	if req.TTLSeconds != 0 {
		ttl = time.Duration(math.Round(req.TTLSeconds * float64(time.Second)))
		if ttl == 0 {
			ttl = -1
		}
	}
	return strings.TrimSpace(holder), token, ttl, nil
}

// Acquire handles POST /events/:event/seats/:seat/lock.
func (h *LockHandler) Acquire(c echo.Context) error {
	holder, _, ttl, err := bindLock(c)
	if err != nil {
		return badRequest(c, "invalid request body")
	}
	l, err := h.engine.Manager().Acquire(c.Request().Context(), c.Param("event"), c.Param("seat"), holder, ttl)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, lockResponse{
		Granted:   true,
		EventID:   l.EventID,
		SeatID:    l.SeatID,
		HolderID:  l.HolderID,
		Token:     l.Token,
		ExpiresAt: l.ExpiresAt,
	})
}

// Status handles GET /events/:event/seats/:seat/lock.  ttlRemaining is in
// milliseconds.
func (h *LockHandler) Status(c echo.Context) error {
	st, err := h.engine.Manager().Status(c.Request().Context(), c.Param("event"), c.Param("seat"))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, newStatusResponse(st))
}

// newStatusResponse always carries ttlRemaining for a held seat, even
// when less than a millisecond is left.
func newStatusResponse(st model.LockStatus) statusResponse {
	resp := statusResponse{
		EventID:   st.EventID,
		SeatID:    st.SeatID,
		Held:      st.Held,
		HolderID:  st.HolderID,
		ExpiresAt: st.ExpiresAt,
	}
	if st.Held {
		ms := st.TTLRemaining.Milliseconds()
		resp.TTLRemaining = &ms
	}
	return resp
}

// Extend handles PUT .../lock/extend and .../hybrid/extend.
func (h *LockHandler) Extend(c echo.Context) error {
	holder, token, ttl, err := bindLock(c)
	if err != nil {
		return badRequest(c, "invalid request body")
	}
	if token == "" {
		return badRequest(c, "token is required")
	}
	l, err := h.engine.HybridExtend(c.Request().Context(), c.Param("event"), c.Param("seat"), holder, token, ttl)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"extended": true, "expiresAt": l.ExpiresAt})
}

// Release handles DELETE .../lock and .../hybrid/release.  Releasing a
// lock that is already gone succeeds with wasHeld=false.
func (h *LockHandler) Release(c echo.Context) error {
	holder, token, _, err := bindLock(c)
	if err != nil {
		return badRequest(c, "invalid request body")
	}
	if token == "" {
		return badRequest(c, "token is required")
	}
	removed, err := h.engine.HybridRelease(c.Request().Context(), c.Param("event"), c.Param("seat"), holder, token)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"released": true, "wasHeld": removed})
}

// List handles GET /events/:event/locks.
func (h *LockHandler) List(c echo.Context) error {
	locks, err := h.engine.Manager().ListForEvent(c.Request().Context(), c.Param("event"))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, locks)
}
