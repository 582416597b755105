package utils // package utils provides helper functions for token creation

import (
	"crypto/rand"  // secure random number generation
	"encoding/hex" // hex encoding of random bytes
	"time"         // time utilities for generating expirations

	"github.com/golang-jwt/jwt/v5" // JWT library for creating signed tokens
)

// AccessToken represents a signed JWT access token along with its expiry.
// The service never issues these in production (identity is validated
// upstream); they are minted by cmd/devtoken and by tests so that driver
// scripts can exercise the JWT identity middleware.
type AccessToken struct {
	Token string    // the serialized JWT string
	Exp   time.Time // the UTC expiration time
}

// NewAccessToken builds and signs an HS256 JWT whose subject is the holder
// identity.  The JWT includes sub, exp and iat claims.
func NewAccessToken(secret, subject string, ttl time.Duration) (AccessToken, error) {
	now := time.Now().UTC()
	exp := now.Add(ttl)
	claims := jwt.MapClaims{
		"sub": subject,
		"exp": exp.Unix(),
		"iat": now.Unix(),
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := t.SignedString([]byte(secret))
	if err != nil {
		return AccessToken{}, err
	}
	return AccessToken{Token: signed, Exp: exp}, nil
}

// NewLockToken returns an opaque 32 character lock token.  crypto/rand
// never fails on supported platforms; a failure means the CSPRNG is broken
// and the process cannot safely hand out tokens, so it panics.
func NewLockToken() string {
	tok, err := randomHex(16)
	if err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return tok
}

// randomHex returns a hex-encoded string generated from n bytes of
// cryptographically secure random data.
func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
