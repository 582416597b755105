package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pvnzki/eventbn-seatlock/internal/config"
	"github.com/pvnzki/eventbn-seatlock/internal/utils"
)

const testSecret = "test-secret"

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

// echoHolder replies with whatever holder id the identity middleware set.
func echoHolder(c echo.Context) error {
	return c.String(http.StatusOK, HolderID(c))
}

func serve(e *echo.Echo, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestJWTAuth(t *testing.T) {
	e := echo.New()
	e.GET("/me", echoHolder, JWTAuth(testSecret))

	good, err := utils.NewAccessToken(testSecret, "alice", time.Minute)
	require.NoError(t, err)
	stale, err := utils.NewAccessToken(testSecret, "alice", -time.Minute)
	require.NoError(t, err)
	forged, err := utils.NewAccessToken("other-secret", "mallory", time.Minute)
	require.NoError(t, err)

	cases := []struct {
		name   string
		header string
		status int
		body   string
	}{
		{"valid", "Bearer " + good.Token, http.StatusOK, "alice"},
		{"missing", "", http.StatusUnauthorized, ""},
		{"not bearer", "Basic abc", http.StatusUnauthorized, ""},
		{"expired", "Bearer " + stale.Token, http.StatusUnauthorized, ""},
		{"wrong secret", "Bearer " + forged.Token, http.StatusUnauthorized, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tc.header != "" {
				req.Header.Set(echo.HeaderAuthorization, tc.header)
			}
			rec := serve(e, req)
			assert.Equal(t, tc.status, rec.Code)
			if tc.status == http.StatusOK {
				assert.Equal(t, tc.body, rec.Body.String())
				return
			}
			var body map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, "unauthorized", body["error"])
			assert.Equal(t, false, body["retryable"])
		})
	}
}

func TestTrustedHeader(t *testing.T) {
	e := echo.New()
	e.GET("/me", echoHolder, TrustedHeader())

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set(UserHeader, "  bob ")
	rec := serve(e, req)
	assert.Equal(t, "bob", rec.Body.String())

	rec = serve(e, httptest.NewRequest(http.MethodGet, "/me", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestRequestLoggerAssignsID(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(config.LogConfig{Level: "debug", Format: "json"}, &buf)

	e := echo.New()
	e.Use(RequestLogger(log))
	e.GET("/ping", func(c echo.Context) error {
		return c.String(http.StatusOK, RequestID(c))
	})
	e.GET("/boom", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusInternalServerError, "boom")
	})

	rec := serve(e, httptest.NewRequest(http.MethodGet, "/ping", nil))
	id := rec.Header().Get(echo.HeaderXRequestID)
	require.NotEmpty(t, id)
	assert.Equal(t, id, rec.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(echo.HeaderXRequestID, "req-42")
	rec = serve(e, req)
	assert.Equal(t, "req-42", rec.Header().Get(echo.HeaderXRequestID))

	buf.Reset()
	rec = serve(e, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "ERROR", entry["level"])
	assert.Equal(t, float64(http.StatusInternalServerError), entry["status_code"])
	assert.Equal(t, "/boom", entry["path"])
}

func TestNewLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(config.LogConfig{Level: "warn"}, &buf)
	log.Info("hidden")
	log.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestRateLimit(t *testing.T) {
	_, rdb := newRedis(t)
	cfg := config.RateLimitConfig{
		Enabled:        true,
		Capacity:       2,
		RefillTokens:   1,
		RefillInterval: time.Hour,
		TTL:            time.Hour,
		KeyStrategy:    "user_route",
		Prefix:         "rl-test",
	}
	e := echo.New()
	e.POST("/lock", echoHolder, TrustedHeader(), RateLimit(cfg, rdb, quietLogger()))

	call := func(user string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/lock", nil)
		req.Header.Set(UserHeader, user)
		return serve(e, req)
	}

	assert.Equal(t, http.StatusOK, call("alice").Code)
	rec := call("alice")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	rec = call("alice")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "overloaded", body["error"])
	assert.Equal(t, true, body["retryable"])

	assert.Equal(t, http.StatusOK, call("bob").Code, "buckets are per holder")
}

func TestRateLimitFailsOpen(t *testing.T) {
	mr, rdb := newRedis(t)
	mr.Close()
	cfg := config.RateLimitConfig{Enabled: true, Capacity: 1, RefillTokens: 1, RefillInterval: time.Second, TTL: time.Minute}

	e := echo.New()
	e.GET("/x", echoHolder, RateLimit(cfg, rdb, quietLogger()))
	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, serve(e, httptest.NewRequest(http.MethodGet, "/x", nil)).Code)
	}
}

func TestRateLimitDisabled(t *testing.T) {
	e := echo.New()
	e.GET("/x", echoHolder, RateLimit(config.RateLimitConfig{Enabled: true}, nil, quietLogger()))
	assert.Equal(t, http.StatusOK, serve(e, httptest.NewRequest(http.MethodGet, "/x", nil)).Code)
}

func TestRateKeyStrategies(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/events/e1/locks", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetPath("/events/:event/locks")
	c.Set(HolderKey, "alice")

	cases := map[string]string{
		"ip":         "rl:ip:10.0.0.1",
		"user":       "rl:user:alice",
		"user_route": "rl:user:alice:route:POST /events/:event/locks",
		"":           "rl:ip:10.0.0.1:user:alice:route:POST /events/:event/locks",
	}
	for strategy, want := range cases {
		got := rateKey(config.RateLimitConfig{Prefix: "rl", KeyStrategy: strategy}, c)
		assert.Equal(t, want, got, strategy)
	}
}

func TestResponseCache(t *testing.T) {
	_, rdb := newRedis(t)
	cfg := config.CacheConfig{Enabled: true, TTL: time.Minute, Prefix: "cache-test", MaxBodyBytes: 1 << 16}

	var hits atomic.Int32
	e := echo.New()
	e.GET("/events/:event/lock-events", func(c echo.Context) error {
		n := hits.Add(1)
		return c.JSON(http.StatusOK, map[string]any{"event": c.Param("event"), "n": n})
	}, ResponseCache(cfg, rdb))

	first := serve(e, httptest.NewRequest(http.MethodGet, "/events/e1/lock-events", nil))
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "MISS", first.Header().Get("X-Cache"))

	second := serve(e, httptest.NewRequest(http.MethodGet, "/events/e1/lock-events", nil))
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "HIT", second.Header().Get("X-Cache"))
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.True(t, strings.HasPrefix(second.Header().Get(echo.HeaderContentType), echo.MIMEApplicationJSON))

	other := serve(e, httptest.NewRequest(http.MethodGet, "/events/e2/lock-events", nil))
	assert.Equal(t, "MISS", other.Header().Get("X-Cache"), "different events never share an entry")
	assert.Equal(t, int32(2), hits.Load())
}

func TestResponseCacheSkipsErrors(t *testing.T) {
	_, rdb := newRedis(t)
	cfg := config.CacheConfig{Enabled: true, TTL: time.Minute, Prefix: "cache-test"}

	var hits atomic.Int32
	e := echo.New()
	e.GET("/h", func(c echo.Context) error {
		hits.Add(1)
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "down"})
	}, ResponseCache(cfg, rdb))

	serve(e, httptest.NewRequest(http.MethodGet, "/h", nil))
	rec := serve(e, httptest.NewRequest(http.MethodGet, "/h", nil))
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))
	assert.Equal(t, int32(2), hits.Load())
}

func TestPayloadRoundTrip(t *testing.T) {
	hdr := http.Header{"Content-Type": {"application/json"}}
	bs, err := encodePayload(http.StatusOK, hdr, []byte(`{"ok":true}`))
	require.NoError(t, err)

	status, gotHdr, body, ok := decodePayload(bs)
	require.True(t, ok)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, hdr, gotHdr)
	assert.Equal(t, `{"ok":true}`, string(body))

	_, _, _, ok = decodePayload([]byte{0, 1})
	assert.False(t, ok)
}
