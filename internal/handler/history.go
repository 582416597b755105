package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/pvnzki/eventbn-seatlock/internal/model"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 1000
)

// EventHistory reads persisted lock events.
type EventHistory interface {
	ListByEvent(ctx context.Context, eventID string, limit int) ([]model.LockEvent, error)
}

// HistoryHandler serves the lock event audit trail.
type HistoryHandler struct {
	repo EventHistory
	log  *slog.Logger
}

func NewHistoryHandler(repo EventHistory, log *slog.Logger) *HistoryHandler {
	return &HistoryHandler{repo: repo, log: log}
}

// List handles GET /events/:event/lock-events?limit=n, newest first.
func (h *HistoryHandler) List(c echo.Context) error {
	limit := defaultHistoryLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return badRequest(c, "limit must be a positive integer")
		}
		limit = min(n, maxHistoryLimit)
	}
	event := c.Param("event")
	if event == "" {
		return badRequest(c, "event id is required")
	}
	events, err := h.repo.ListByEvent(c.Request().Context(), event, limit)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"eventId": event, "items": events})
}
