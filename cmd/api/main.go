package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/tracker/internal/analytics"
	"example.com/tracker/internal/api"
	"example.com/tracker/internal/config"
	"example.com/tracker/internal/domain"
	"example.com/tracker/internal/logging"
	"example.com/tracker/internal/outbox"
	"example.com/tracker/internal/persistence/memory"
	"example.com/tracker/internal/persistence/postgres"
	httptransport "example.com/tracker/internal/transport/http"
)

// store is what both record store implementations provide.
type store interface {
	domain.Repository
	analytics.Store
}

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage of %s:\n\nEnvironment:\n%s\n", os.Args[0], config.Usage())
	}
	flag.Parse()

	cfg := config.MustLoad()
	logger := logging.New(cfg.Env, "tracker-api")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		repo       store
		pinger     api.Pinger
		dispatcher *outbox.Dispatcher
	)

	if cfg.PostgresURL == "" {
		logger.Warn().Msg("POSTGRES_URL not set, using in-memory store")
		repo = memory.NewRepository()
	} else {
		if cfg.RunMigrations {
			if err := postgres.Migrate(cfg.PostgresURL, logger); err != nil {
				logger.Fatal().Err(err).Msg("failed to apply migrations")
			}
		}

		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to postgres")
		}
		defer pool.Close()

		pgRepo := postgres.NewRepository(pool)
		repo, pinger = pgRepo, pgRepo

		if len(cfg.Outbox.KafkaBrokers) > 0 {
			producer := outbox.NewKafkaProducer(cfg.Outbox.KafkaBrokers, logger)
			defer producer.Close()

			dispatcher = outbox.NewDispatcher(pool, producer, logger, cfg.Outbox.PollInterval, cfg.Outbox.BatchSize)
			go dispatcher.Start(ctx)
		} else {
			logger.Info().Msg("KAFKA_BROKERS not set, outbox events stay in postgres")
		}
	}

	service := domain.NewService(repo, domain.WithLogger(logger))
	aggregator := analytics.NewAggregator(repo, analytics.Options{
		StaleAfterDays:       cfg.Analytics.StaleAfterDays,
		LongRunningAfterDays: cfg.Analytics.LongRunningAfterDays,
		VelocityBuckets:      cfg.Analytics.VelocityBuckets,
		VelocityBucketDays:   cfg.Analytics.VelocityBucketDays,
	})
	cache := analytics.NewCache(aggregator, cfg.Analytics.CacheTTL)

	opts := []api.Option{}
	if pinger != nil {
		opts = append(opts, api.WithPinger(pinger))
	}
	handler := api.NewHandler(service, cache, opts...)

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	server := httptransport.NewServer(httptransport.DefaultServerConfig(cfg.HTTPAddress),
		httptransport.Chain(mux,
			httptransport.Recover(logger),
			httptransport.RequestLogger(logger),
			httptransport.CORS(cfg.CORSOrigin),
		))

	logger.Info().Str("address", cfg.HTTPAddress).Msg("tracker api listening")
	if err := server.ListenAndServe(ctx); err != nil {
		logger.Error().Err(err).Msg("server error")
	}
	stop()

	if dispatcher != nil {
		dispatcher.Wait()
	}
	logger.Info().Msg("tracker api stopped")
}
