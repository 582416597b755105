package middleware

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/pvnzki/eventbn-seatlock/internal/config"
)

// RequestIDKey is the context key holding the request id.
const RequestIDKey = "request_id"

// NewLogger builds the process logger: JSON for LOG_FORMAT=json, text
// otherwise.
func NewLogger(cfg config.LogConfig) *slog.Logger {
	return newLogger(cfg, os.Stdout)
}

func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h)
}

// RequestLogger assigns every request an id, echoing a caller-supplied
// X-Request-ID when present, and logs the completed request at a level
// derived from the status code.
func RequestLogger(log *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()

			id := req.Header.Get(echo.HeaderXRequestID)
			if id == "" {
				id = uuid.NewString()
			}
			c.Set(RequestIDKey, id)
			c.Response().Header().Set(echo.HeaderXRequestID, id)

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			status := c.Response().Status
			attrs := []slog.Attr{
				slog.String("request_id", id),
				slog.String("method", req.Method),
				slog.String("path", req.URL.Path),
				slog.String("client_ip", c.RealIP()),
				slog.Int("status_code", status),
				slog.Duration("duration", time.Since(start)),
			}
			if holder := HolderID(c); holder != "" {
				attrs = append(attrs, slog.String("holder", holder))
			}
			if err != nil {
				attrs = append(attrs, slog.String("error", err.Error()))
			}

			level := slog.LevelInfo
			switch {
			case status >= 500:
				level = slog.LevelError
			case status >= 400:
				level = slog.LevelWarn
			}
			log.LogAttrs(context.Background(), level, "request completed", attrs...)
			return nil
		}
	}
}

// RequestID returns the id assigned by RequestLogger.
func RequestID(c echo.Context) string {
	if s, ok := c.Get(RequestIDKey).(string); ok {
		return s
	}
	return ""
}
