// Package settings holds the slot-service runtime configuration.
package settings

import (
	"fmt"
	"strconv"
	"time"
	_ "time/tzdata"

	"github.com/md-rashed-zaman/slotkeeper/libs/config"
	"github.com/md-rashed-zaman/slotkeeper/libs/httpx"
)

const (
	LockAuto     = "auto"
	LockMemory   = "memory"
	LockRedis    = "redis"
	LockPostgres = "postgres"
)

type Settings struct {
	Port     string `envconfig:"PORT" default:"8080"`
	GRPCPort string `envconfig:"GRPC_PORT" default:"9090"`

	DatabaseURL string `envconfig:"DATABASE_URL"`
	DBMaxConns  int32  `envconfig:"DB_MAX_CONNS" default:"10"`

	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	KafkaBrokers string `envconfig:"KAFKA_BROKERS"`
	LockBackend  string `envconfig:"LOCK_BACKEND" default:"auto"`

	VenueTimezone string        `envconfig:"VENUE_TIMEZONE" default:"Asia/Kolkata"`
	SweepInterval time.Duration `envconfig:"SWEEP_INTERVAL" default:"10m"`
	PendingGrace  time.Duration `envconfig:"PENDING_GRACE" default:"15m"`

	JWTSecret string `envconfig:"JWT_SECRET"`
	JWKSURL   string `envconfig:"JWKS_URL"`

	StripeWebhookSecret    string        `envconfig:"STRIPE_WEBHOOK_SECRET"`
	StripeWebhookTolerance time.Duration `envconfig:"STRIPE_WEBHOOK_TOLERANCE" default:"5m"`

	RateLimitPerMinute int    `envconfig:"RATE_LIMIT_PER_MINUTE" default:"120"`
	RateLimitFailOpen  bool   `envconfig:"RATE_LIMIT_FAIL_OPEN" default:"true"`
	CORSAllowedOrigins string `envconfig:"CORS_ALLOWED_ORIGINS"`

	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"10s"`
	MaxBodyBytes   int64         `envconfig:"MAX_BODY_BYTES" default:"1048576"`
}

// Load reads the environment, after any .env files that exist.
func Load(dotenvFiles ...string) (Settings, error) {
	var s Settings
	if err := config.Load("", &s, dotenvFiles...); err != nil {
		return Settings{}, err
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func (s Settings) Validate() error {
	for key, v := range map[string]string{"PORT": s.Port, "GRPC_PORT": s.GRPCPort} {
		p, err := strconv.Atoi(v)
		if err != nil || p < 1 || p > 65535 {
			return fmt.Errorf("%s must be a valid TCP port (got %q)", key, v)
		}
	}
	switch s.LockBackend {
	case LockAuto, LockMemory:
	case LockRedis:
		if s.RedisAddr == "" {
			return fmt.Errorf("LOCK_BACKEND=redis requires REDIS_ADDR")
		}
	case LockPostgres:
		if s.DatabaseURL == "" {
			return fmt.Errorf("LOCK_BACKEND=postgres requires DATABASE_URL")
		}
	default:
		return fmt.Errorf("LOCK_BACKEND must be one of auto, memory, redis, postgres (got %q)", s.LockBackend)
	}
	if _, err := time.LoadLocation(s.VenueTimezone); err != nil {
		return fmt.Errorf("VENUE_TIMEZONE: %w", err)
	}
	if s.PendingGrace <= 0 || s.SweepInterval <= 0 {
		return fmt.Errorf("PENDING_GRACE and SWEEP_INTERVAL must be positive")
	}
	return nil
}

// Lock resolves LOCK_BACKEND=auto to the strongest backend configured.
func (s Settings) Lock() string {
	if s.LockBackend != LockAuto {
		return s.LockBackend
	}
	switch {
	case s.RedisAddr != "":
		return LockRedis
	case s.DatabaseURL != "":
		return LockPostgres
	default:
		return LockMemory
	}
}

func (s Settings) Venue() *time.Location {
	loc, err := time.LoadLocation(s.VenueTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (s Settings) CORSOrigins() []string {
	return httpx.SplitList(s.CORSAllowedOrigins)
}
