package middleware

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// HolderKey is the context key under which the caller's lock holder id is
// stored by the identity middlewares.
const HolderKey = "holder_id"

// UserHeader carries the holder id when an upstream gateway has already
// authenticated the caller.
const UserHeader = "X-User-ID"

// JWTAuth validates a Bearer access token and stores its subject as the
// holder id.  The secret must match the one used by cmd/devtoken.
func JWTAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get(echo.HeaderAuthorization)
			if !strings.HasPrefix(auth, "Bearer ") {
				return unauthorized(c, "missing bearer token")
			}
			raw := strings.TrimPrefix(auth, "Bearer ")

			// Only HMAC tokens are accepted.
			tok, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, echo.ErrUnauthorized
				}
				return []byte(secret), nil
			})
			if err != nil || !tok.Valid {
				return unauthorized(c, "invalid token")
			}
			sub, err := tok.Claims.GetSubject()
			if err != nil || sub == "" {
				return unauthorized(c, "token has no subject")
			}

			c.Set("user", tok)
			c.Set(HolderKey, sub)
			return next(c)
		}
	}
}

// TrustedHeader copies the X-User-ID header into the holder id.  Requests
// without it fall through; handlers may then take the holder from the body.
func TrustedHeader() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if id := strings.TrimSpace(c.Request().Header.Get(UserHeader)); id != "" {
				c.Set(HolderKey, id)
			}
			return next(c)
		}
	}
}

// HolderID returns the authenticated holder id or "" when none was set.
func HolderID(c echo.Context) string {
	if s, ok := c.Get(HolderKey).(string); ok {
		return s
	}
	return ""
}

func unauthorized(c echo.Context, msg string) error {
	return c.JSON(http.StatusUnauthorized, map[string]any{
		"error":     "unauthorized",
		"message":   msg,
		"retryable": false,
	})
}
