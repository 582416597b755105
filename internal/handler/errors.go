package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/labstack/echo/v4"

	"github.com/pvnzki/eventbn-seatlock/internal/middleware"
	"github.com/pvnzki/eventbn-seatlock/internal/repository"
)

// retryAfterSeconds is sent with 429 responses from the queue ceiling.
const retryAfterSeconds = 1

func statusFor(err error) int {
	switch {
	case errors.Is(err, repository.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, repository.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, repository.ErrExpired):
		return http.StatusGone
	case errors.Is(err, repository.ErrOverloaded):
		return http.StatusTooManyRequests
	case errors.Is(err, repository.ErrInvalidArgument):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as {"error", "message", "retryable"}.  Internal
// failures are logged with the request id and their message is hidden.
func writeError(c echo.Context, log *slog.Logger, err error) error {
	status := statusFor(err)
	body := echo.Map{
		"error":     repository.Reason(err),
		"message":   err.Error(),
		"retryable": repository.Retryable(err),
	}
	if status == http.StatusInternalServerError {
		log.Error("request failed", "request_id", middleware.RequestID(c), "path", c.Request().URL.Path, "error", err)
		body["message"] = "internal server error"
	}
	if status == http.StatusTooManyRequests {
		c.Response().Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
		body["retry_after"] = retryAfterSeconds
	}
	return c.JSON(status, body)
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{
		"error":     "invalid_argument",
		"message":   msg,
		"retryable": false,
	})
}
