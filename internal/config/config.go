// Package config centralises configuration parsing for the tracker binaries.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

const (
	EnvLocal = "local"
	EnvDev   = "dev"
	EnvProd  = "prod"
)

// Config captures runtime configuration values.
type Config struct {
	Env            string `env:"ENV" env-default:"local"`
	HTTPAddress    string `env:"HTTP_ADDRESS" env-default:"127.0.0.1:5000"`
	MetricsAddress string `env:"METRICS_ADDRESS" env-default:"127.0.0.1:9102"`
	CORSOrigin     string `env:"CORS_ORIGIN"`
	// PostgresURL selects the Postgres store. Empty runs against the in-memory store.
	PostgresURL   string `env:"POSTGRES_URL"`
	RunMigrations bool   `env:"RUN_MIGRATIONS" env-default:"true"`

	Analytics AnalyticsConfig
	Outbox    OutboxConfig
	DLQ       DLQConfig
}

// AnalyticsConfig tunes the aggregator and its cache.
type AnalyticsConfig struct {
	CacheTTL             time.Duration `env:"ANALYTICS_CACHE_TTL" env-default:"5m"`
	StaleAfterDays       int           `env:"ANALYTICS_STALE_AFTER_DAYS" env-default:"14"`
	LongRunningAfterDays int           `env:"ANALYTICS_LONG_RUNNING_AFTER_DAYS" env-default:"45"`
	VelocityBuckets      int           `env:"ANALYTICS_VELOCITY_BUCKETS" env-default:"12"`
	VelocityBucketDays   int           `env:"ANALYTICS_VELOCITY_BUCKET_DAYS" env-default:"7"`
}

// OutboxConfig controls the Kafka relay. No brokers means events stay in the outbox table.
type OutboxConfig struct {
	KafkaBrokers []string      `env:"KAFKA_BROKERS" env-separator:","`
	PollInterval time.Duration `env:"OUTBOX_POLL_INTERVAL" env-default:"2s"`
	BatchSize    int           `env:"OUTBOX_BATCH_SIZE" env-default:"25"`
}

// DLQConfig controls dead-letter replay.
type DLQConfig struct {
	PollInterval time.Duration `env:"DLQ_POLL_INTERVAL" env-default:"30s"` // Interval between DLQ polling iterations.
	MaxRetries   int           `env:"DLQ_MAX_RETRIES" env-default:"5"`     // Maximum number of DLQ retry attempts before quarantine.
	BaseDelay    time.Duration `env:"DLQ_BASE_DELAY" env-default:"1m"`     // Base delay used for exponential backoff.
	BatchSize    int           `env:"DLQ_BATCH_SIZE" env-default:"50"`
}

// Load reads an optional .env file and then the process environment into Config.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("read env: %w", err)
	}
	cfg.Outbox.KafkaBrokers = splitAndTrim(cfg.Outbox.KafkaBrokers)

	switch cfg.Env {
	case EnvLocal, EnvDev, EnvProd:
	default:
		return Config{}, fmt.Errorf("unknown env %q", cfg.Env)
	}
	return cfg, nil
}

// MustLoad is Load for entrypoints.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Usage describes every supported variable.
func Usage() string {
	var cfg Config
	desc, err := cleanenv.GetDescription(&cfg, nil)
	if err != nil {
		return err.Error()
	}
	return desc
}

func splitAndTrim(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
