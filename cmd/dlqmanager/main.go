package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/tracker/internal/config"
	"example.com/tracker/internal/logging"
	"example.com/tracker/internal/outbox"
	httptransport "example.com/tracker/internal/transport/http"
)

func main() {
	cfg := config.MustLoad()
	logger := logging.New(cfg.Env, "tracker-dlqmanager")

	if cfg.PostgresURL == "" {
		logger.Fatal().Msg("POSTGRES_URL is required: the dead-letter table lives in postgres")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer pool.Close()

	manager := outbox.NewDLQManager(pool, logger, cfg.DLQ.MaxRetries, cfg.DLQ.BaseDelay)

	metrics := httptransport.NewServer(httptransport.DefaultServerConfig(cfg.MetricsAddress), promhttp.Handler())
	go func() {
		logger.Info().Str("address", cfg.MetricsAddress).Msg("dlq manager metrics listening")
		if err := metrics.ListenAndServe(ctx); err != nil {
			logger.Error().Err(err).Msg("metrics server error")
		}
	}()

	ticker := time.NewTicker(cfg.DLQ.PollInterval)
	defer ticker.Stop()

	logger.Info().
		Dur("interval", cfg.DLQ.PollInterval).
		Int("max_retries", cfg.DLQ.MaxRetries).
		Msg("dlq manager started")

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("dlq manager stopped")
			return
		case <-ticker.C:
			processed, err := manager.RunOnce(ctx, cfg.DLQ.BatchSize)
			switch {
			case err != nil && !errors.Is(err, context.Canceled):
				logger.Error().Err(err).Int("processed", processed).Msg("dlq replay failed")
			case processed > 0:
				logger.Info().Int("processed", processed).Msg("dlq entries handled")
			}
		}
	}
}
