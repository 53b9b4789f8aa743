package outbox

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tracker"

var (
	deliveredCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "outbox",
		Name:      "events_delivered_total",
		Help:      "Outbox events published to Kafka.",
	})

	failedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "outbox",
		Name:      "events_failed_total",
		Help:      "Outbox events that failed to publish.",
	})

	batchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "outbox",
		Name:      "batch_duration_seconds",
		Help:      "Time spent claiming, delivering and marking one outbox batch.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
	})

	dlqCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "outbox",
		Name:      "events_dlq_total",
		Help:      "Outbox events routed to the dead-letter table.",
	}, []string{"topic"})

	// Replay outcomes, labeled by topic and event type.
	dlqOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "dlq",
		Name:      "entries_total",
		Help:      "Dead-letter entries handled by the replay loop, by outcome.",
	}, []string{"outcome", "topic", "event_type"})

	dlqBacklog = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "dlq",
		Name:      "entries",
		Help:      "Dead-letter entries currently stored, by state.",
	}, []string{"state"})
)

func init() {
	prometheus.MustRegister(deliveredCounter, failedCounter, batchDuration, dlqCounter, dlqOutcomes, dlqBacklog)
}

func recordDLQProcessed(entry dlqEntry)   { recordOutcome("processed", entry) }
func recordDLQRequeued(entry dlqEntry)    { recordOutcome("requeued", entry) }
func recordDLQQuarantined(entry dlqEntry) { recordOutcome("quarantined", entry) }
func recordDLQRetry(entry dlqEntry)       { recordOutcome("retry_scheduled", entry) }

func recordOutcome(outcome string, entry dlqEntry) {
	dlqOutcomes.WithLabelValues(outcome, entry.Topic, entry.EventType).Inc()
}

func updateBacklogGauge(ctx context.Context, pool *pgxpool.Pool) {
	const query = `SELECT
            COUNT(*) FILTER (WHERE quarantined_at IS NULL),
            COUNT(*) FILTER (WHERE quarantined_at IS NOT NULL)
        FROM outbox_dlq`

	var queued, quarantined int
	if err := pool.QueryRow(ctx, query).Scan(&queued, &quarantined); err != nil {
		return
	}
	dlqBacklog.WithLabelValues("queued").Set(float64(queued))
	dlqBacklog.WithLabelValues("quarantined").Set(float64(quarantined))
}
