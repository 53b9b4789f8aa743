package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("ENV", EnvDev)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, EnvDev, cfg.Env)
	require.Equal(t, "127.0.0.1:5000", cfg.HTTPAddress)
	require.True(t, cfg.RunMigrations)
	require.Equal(t, 5*time.Minute, cfg.Analytics.CacheTTL)
	require.Equal(t, 14, cfg.Analytics.StaleAfterDays)
	require.Equal(t, 45, cfg.Analytics.LongRunningAfterDays)
	require.Equal(t, 12, cfg.Analytics.VelocityBuckets)
	require.Equal(t, 7, cfg.Analytics.VelocityBucketDays)
	require.Equal(t, 2*time.Second, cfg.Outbox.PollInterval)
	require.Equal(t, 5, cfg.DLQ.MaxRetries)
	require.Equal(t, time.Minute, cfg.DLQ.BaseDelay)
}

func TestLoadReadsOverrides(t *testing.T) {
	t.Setenv("ENV", EnvProd)
	t.Setenv("POSTGRES_URL", "postgres://tracker:tracker@db:5432/tracker")
	t.Setenv("ANALYTICS_CACHE_TTL", "90s")
	t.Setenv("ANALYTICS_VELOCITY_BUCKETS", "4")
	t.Setenv("KAFKA_BROKERS", " kafka-1:9092, ,kafka-2:9092 ")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "postgres://tracker:tracker@db:5432/tracker", cfg.PostgresURL)
	require.Equal(t, 90*time.Second, cfg.Analytics.CacheTTL)
	require.Equal(t, 4, cfg.Analytics.VelocityBuckets)
	require.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Outbox.KafkaBrokers)
}

func TestLoadRejectsUnknownEnv(t *testing.T) {
	t.Setenv("ENV", "staging")

	_, err := Load()
	require.ErrorContains(t, err, `unknown env "staging"`)
}

func TestLoadRejectsMalformedDuration(t *testing.T) {
	t.Setenv("ENV", EnvLocal)
	t.Setenv("ANALYTICS_CACHE_TTL", "five minutes")

	_, err := Load()
	require.Error(t, err)
}

func TestUsageListsVariables(t *testing.T) {
	usage := Usage()
	require.Contains(t, usage, "POSTGRES_URL")
	require.Contains(t, usage, "ANALYTICS_CACHE_TTL")
}
