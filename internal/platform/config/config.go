// Package config assembles service configuration from the environment. main
// stays lean; feature packages receive only their own section.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the root configuration. Optional backends (postgres, redis,
// kafka) fall back to in-memory or disabled modes when their URLs are empty.
type Config struct {
	Addr        string `env:"CHRONOSEAL_ADDR" envDefault:":8080"`
	DatabaseURL string `env:"DATABASE_URL"`
	RedisURL    string `env:"REDIS_URL"`

	Auth        Auth        `envPrefix:"AUTH_"`
	Chain       Chain       `envPrefix:"CHAIN_"`
	QTSP        QTSP        `envPrefix:"QTSP_"`
	Notary      Notary      `envPrefix:"NOTARY_"`
	Idempotency Idempotency `envPrefix:"IDEMPOTENCY_"`
	Audit       Audit       `envPrefix:"AUDIT_"`
	Jobs        Jobs        `envPrefix:"JOBS_"`
}

// Auth configures the operator JWT gate.
type Auth struct {
	// JWTSigningKey verifies operator tokens. The default exists for local
	// development only.
	JWTSigningKey string `env:"JWT_SIGNING_KEY" envDefault:"dev-secret-key-change-in-production"`
}

// Chain configures the hash chain recorder.
type Chain struct {
	// MaxClockSkew is how far in the future an event timestamp may sit
	// relative to the server clock before the append is rejected.
	MaxClockSkew time.Duration `env:"MAX_CLOCK_SKEW" envDefault:"2m"`
	// LeaseTTL bounds the per-subject append lease when redis is configured.
	LeaseTTL time.Duration `env:"LEASE_TTL" envDefault:"5s"`
}

// QTSP configures the external trust service client.
type QTSP struct {
	BaseURL        string        `env:"BASE_URL"`
	LoginURL       string        `env:"LOGIN_URL"`
	ClientID       string        `env:"CLIENT_ID"`
	ClientSecret   string        `env:"CLIENT_SECRET"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s"`
}

// Notary configures the sealing state machine and retry sweep.
type Notary struct {
	MaxRetries     int           `env:"MAX_RETRIES" envDefault:"10"`
	BaseBackoff    time.Duration `env:"BASE_BACKOFF" envDefault:"1m"`
	MaxBackoff     time.Duration `env:"MAX_BACKOFF" envDefault:"1h"`
	SweepInterval  time.Duration `env:"SWEEP_INTERVAL" envDefault:"5m"`
	SweepBatchSize int           `env:"SWEEP_BATCH_SIZE" envDefault:"50"`
	SweepParallel  int           `env:"SWEEP_PARALLEL" envDefault:"4"`
}

// Idempotency configures the mutating-request guard.
type Idempotency struct {
	TTL time.Duration `env:"TTL" envDefault:"24h"`
}

// Audit configures the outbox relay.
type Audit struct {
	KafkaBrokers []string      `env:"KAFKA_BROKERS" envSeparator:","`
	Topic        string        `env:"KAFKA_TOPIC" envDefault:"chronoseal.audit"`
	PollInterval time.Duration `env:"POLL_INTERVAL" envDefault:"5s"`
	BatchSize    int           `env:"BATCH_SIZE" envDefault:"100"`
}

// Jobs configures periodic background work.
type Jobs struct {
	RootBuildInterval time.Duration `env:"ROOT_BUILD_INTERVAL" envDefault:"1h"`
}

// FromEnv parses the configuration from environment variables.
func FromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
