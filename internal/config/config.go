// Package config loads application configuration from environment variables.
// A .env file in the working directory is read first when present; real
// environment variables always win over it.
package config

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all runtime configuration values.  Values that differ
// between environments are required; everything else has a default.
type Config struct {
	App       AppConfig
	HTTP      HTTPConfig
	Lock      LockConfig
	Queue     QueueConfig
	Load      LoadConfig
	Result    ResultConfig
	Sweep     SweepConfig
	Redis     RedisConfig
	MySQL     MySQLConfig
	RabbitMQ  RabbitMQConfig
	JWT       JWTConfig
	RateLimit RateLimitConfig
	Cache     CacheConfig
	Log       LogConfig
}

type AppConfig struct {
	Env string `envconfig:"APP_ENV" default:"dev"`
}

type HTTPConfig struct {
	Port            string        `envconfig:"APP_PORT" default:"8080"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
	AwaitMaxTimeout time.Duration `envconfig:"AWAIT_MAX_TIMEOUT" default:"30s"`
}

// LockConfig bounds lease lifetimes.  A zero TTL in a request means
// DefaultTTL; anything outside [MinTTL, MaxTTL] is rejected.
type LockConfig struct {
	Store      string        `envconfig:"LOCK_STORE" default:"memory"` // memory | redis
	DefaultTTL time.Duration `envconfig:"LOCK_DEFAULT_TTL" default:"2m"`
	MinTTL     time.Duration `envconfig:"LOCK_MIN_TTL" default:"1s"`
	MaxTTL     time.Duration `envconfig:"LOCK_MAX_TTL" default:"15m"`
}

type QueueConfig struct {
	Workers      int           `envconfig:"QUEUE_WORKERS" default:"16"`
	MaxAge       time.Duration `envconfig:"QUEUE_MAX_AGE" default:"90s"`
	MaxPerSeat   int           `envconfig:"QUEUE_MAX_PER_SEAT" default:"500"`
	MaxPerEvent  int           `envconfig:"QUEUE_MAX_PER_EVENT" default:"20000"`
	PollInterval time.Duration `envconfig:"QUEUE_POLL_INTERVAL" default:"1s"`
}

type LoadConfig struct {
	Window         time.Duration `envconfig:"LOAD_WINDOW" default:"10s"`
	RateThreshold  float64       `envconfig:"LOAD_RATE_THRESHOLD" default:"50"`
	DepthThreshold int           `envconfig:"LOAD_DEPTH_THRESHOLD" default:"100"`
	IdleAfter      time.Duration `envconfig:"LOAD_IDLE_AFTER" default:"5m"`
}

type ResultConfig struct {
	Retention time.Duration `envconfig:"RESULT_RETENTION" default:"10m"`
}

type SweepConfig struct {
	Interval time.Duration `envconfig:"SWEEP_INTERVAL" default:"1s"`
}

type RedisConfig struct {
	Addr      string `envconfig:"REDIS_ADDR"`
	Host      string `envconfig:"REDIS_HOST"`
	Port      string `envconfig:"REDIS_PORT"`
	Password  string `envconfig:"REDIS_PASSWORD"`
	DB        int    `envconfig:"REDIS_DB" default:"0"`
	TLS       bool   `envconfig:"REDIS_TLS" default:"false"`
	KeyPrefix string `envconfig:"REDIS_KEY_PREFIX" default:"seatlock"`
}

// MySQLConfig configures the optional lock event audit store.  When Host is
// empty the audit consumer and history endpoint are disabled.
type MySQLConfig struct {
	User string `envconfig:"DB_USER"`
	Pass string `envconfig:"DB_PASS"`
	Host string `envconfig:"DB_HOST"`
	Port string `envconfig:"DB_PORT" default:"3306"`
	Name string `envconfig:"DB_NAME" default:"seatlock"`
}

func (c MySQLConfig) Enabled() bool { return c.Host != "" && c.User != "" }

type RabbitMQConfig struct {
	URL      string `envconfig:"RABBITMQ_URL"`
	Queue    string `envconfig:"RABBITMQ_LOCK_EVENTS_QUEUE" default:"seat.lock.events"`
	Buffer   int    `envconfig:"RABBITMQ_PUBLISH_BUFFER" default:"1024"`
	Consume  bool   `envconfig:"RABBITMQ_CONSUME" default:"true"`
	Prefetch int    `envconfig:"RABBITMQ_PREFETCH" default:"50"`
}

func (c RabbitMQConfig) Enabled() bool { return c.URL != "" }

// WantsRedis reports whether any component would use Redis.
func (c Config) WantsRedis() bool {
	return c.Lock.Store == "redis" || c.RateLimit.Enabled || c.Cache.Enabled
}

// JWTConfig enables bearer-token identity when Secret is set.  Without it
// the holder is taken from the trusted X-User-ID header.
type JWTConfig struct {
	Secret string `envconfig:"JWT_SECRET"`
}

type LogConfig struct {
	Level  string `envconfig:"LOG_LEVEL" default:"info"`
	Format string `envconfig:"LOG_FORMAT" default:"text"` // text | json
}

// Load reads the optional .env file and then processes the environment.
func Load() (Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return Config{}, errors.Wrap(err, "failed to load .env")
		}
	}
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, errors.Wrap(err, "failed to process env config")
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Lock.Store {
	case "memory", "redis":
	default:
		return errors.Newf("invalid LOCK_STORE %q: want memory or redis", c.Lock.Store)
	}
	if c.Lock.MinTTL <= 0 || c.Lock.MaxTTL < c.Lock.MinTTL {
		return errors.Newf("invalid lock ttl bounds: min=%s max=%s", c.Lock.MinTTL, c.Lock.MaxTTL)
	}
	if c.Lock.DefaultTTL < c.Lock.MinTTL || c.Lock.DefaultTTL > c.Lock.MaxTTL {
		return errors.Newf("LOCK_DEFAULT_TTL %s outside [%s, %s]", c.Lock.DefaultTTL, c.Lock.MinTTL, c.Lock.MaxTTL)
	}
	if c.Queue.Workers < 1 {
		return errors.New("QUEUE_WORKERS must be positive")
	}
	if c.Queue.MaxAge <= 0 || c.Sweep.Interval <= 0 || c.Load.Window < time.Second {
		return errors.New("queue max age and sweep interval must be positive, load window at least 1s")
	}
	return nil
}

// NewTestConfig returns a configuration tuned for fast tests: short TTLs,
// short queue ages and quick sweeps, everything in memory.
func NewTestConfig() Config {
	return Config{
		App:  AppConfig{Env: "test"},
		HTTP: HTTPConfig{Port: "0", ShutdownTimeout: time.Second, AwaitMaxTimeout: 5 * time.Second},
		Lock: LockConfig{
			Store:      "memory",
			DefaultTTL: 2 * time.Second,
			MinTTL:     50 * time.Millisecond,
			MaxTTL:     time.Minute,
		},
		Queue: QueueConfig{
			Workers:      4,
			MaxAge:       time.Second,
			MaxPerSeat:   50,
			MaxPerEvent:  500,
			PollInterval: 50 * time.Millisecond,
		},
		Load:      LoadConfig{Window: 10 * time.Second, RateThreshold: 1000, DepthThreshold: 1000, IdleAfter: time.Minute},
		Result:    ResultConfig{Retention: time.Minute},
		Sweep:     SweepConfig{Interval: 20 * time.Millisecond},
		Redis:     RedisConfig{KeyPrefix: "seatlock-test"},
		RabbitMQ:  RabbitMQConfig{Queue: "seat.lock.events", Buffer: 16},
		RateLimit: RateLimitConfig{Enabled: false, Capacity: 60, RefillTokens: 1, RefillInterval: time.Second, TTL: 10 * time.Minute, KeyStrategy: "user_route", Prefix: "rl"},
		Cache:     CacheConfig{Enabled: false, TTL: 5 * time.Second, KeyStrategy: "route_query", Prefix: "cache", MaxBodyBytes: 1 << 20},
		Log:       LogConfig{Level: "error", Format: "text"},
	}
}
