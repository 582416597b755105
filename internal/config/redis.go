package config

// This file defines the Redis client constructor.  Redis backs the shared
// lock store (LOCK_STORE=redis), distributed rate limiting and the history
// response cache.  If the connection fails during startup the constructor
// returns an error and callers degrade gracefully: the lock store falls
// back to memory and the middlewares become pass-through.

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

// Address resolves the server address.  REDIS_HOST and REDIS_PORT take
// precedence over REDIS_ADDR; the default is localhost:6379.
func (c RedisConfig) Address() string {
	if c.Host != "" && c.Port != "" {
		return c.Host + ":" + c.Port
	}
	if c.Addr != "" {
		return c.Addr
	}
	return "localhost:6379"
}

// NewRedisClient instantiates a Redis client and pings it with a short
// timeout.  On failure the client is closed and an error is returned.
func NewRedisClient(c RedisConfig) (*redis.Client, error) {
	var tlsConf *tls.Config
	if c.TLS {
		tlsConf = &tls.Config{InsecureSkipVerify: true}
	}
	client := redis.NewClient(&redis.Options{
		Addr:      c.Address(),
		Password:  c.Password,
		DB:        c.DB,
		TLSConfig: tlsConf,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "redis ping %s", c.Address())
	}
	return client, nil
}
