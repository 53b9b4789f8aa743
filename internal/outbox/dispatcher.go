// Package outbox relays change events recorded by the Postgres store to Kafka.
package outbox

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"example.com/tracker/internal/observability"
)

// claimTimeout is how long a claimed but unpublished event waits before another
// relay may pick it up again.
const claimTimeout = 5 * time.Minute

type messageWriter interface {
	WriteMessages(context.Context, string, ...kafka.Message) error
}

// Message is one outbox row in delivery order.
type Message struct {
	EventID       int64
	AggregateType string
	AggregateID   string
	EventType     string
	Topic         string
	PartitionKey  string
	Payload       json.RawMessage
}

// Dispatcher polls the outbox and hands claimed events to Kafka. A batch that
// cannot be delivered is parked in outbox_dlq so the table keeps draining.
type Dispatcher struct {
	pool         *pgxpool.Pool
	producer     messageWriter
	dlq          *DLQWriter
	logger       zerolog.Logger
	pollInterval time.Duration
	batchSize    int
	done         chan struct{}
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(pool *pgxpool.Pool, producer messageWriter, logger zerolog.Logger, pollInterval time.Duration, batchSize int) *Dispatcher {
	if batchSize <= 0 {
		batchSize = 25
	}
	return &Dispatcher{
		pool:         pool,
		producer:     producer,
		dlq:          NewDLQWriter(pool),
		logger:       logger.With().Str("component", "outbox_dispatcher").Logger(),
		pollInterval: pollInterval,
		batchSize:    batchSize,
		done:         make(chan struct{}),
	}
}

// Start polls until ctx is cancelled. Run it in its own goroutine and use Wait
// to block until the last batch has finished.
func (d *Dispatcher) Start(ctx context.Context) {
	defer close(d.done)

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		err := d.processBatch(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Error().Err(err).Msg("outbox batch failed")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Wait blocks until Start has returned.
func (d *Dispatcher) Wait() {
	<-d.done
}

func (d *Dispatcher) processBatch(ctx context.Context) error {
	started := time.Now()

	batch, err := d.claim(ctx)
	if err != nil {
		return fmt.Errorf("claim outbox batch: %w", err)
	}
	if len(batch) == 0 {
		return nil
	}
	defer func() { batchDuration.Observe(time.Since(started).Seconds()) }()

	if deliverErr := d.deliver(ctx, batch); deliverErr != nil {
		failedCounter.Add(float64(len(batch)))
		d.logger.Warn().Err(deliverErr).Int("count", len(batch)).Msg("kafka delivery failed, parking batch in dlq")
		if err := d.moveToDLQ(ctx, batch, deliverErr.Error()); err != nil {
			return fmt.Errorf("park outbox batch: %w", err)
		}
		return d.markPublished(ctx, batch)
	}

	if err := d.markPublished(ctx, batch); err != nil {
		return err
	}
	deliveredCounter.Add(float64(len(batch)))
	observability.RecordEventPublished(time.Now())
	return nil
}

// claim marks up to batchSize unpublished events as taken and returns them
// ordered by event id. Rows locked by a concurrent relay are skipped.
func (d *Dispatcher) claim(ctx context.Context) ([]Message, error) {
	const query = `WITH due AS (
            SELECT event_id FROM outbox
            WHERE published_at IS NULL
              AND (claimed_at IS NULL OR claimed_at < NOW() - $2::interval)
            ORDER BY event_id
            LIMIT $1
            FOR UPDATE SKIP LOCKED
        )
        UPDATE outbox o SET claimed_at = NOW()
        FROM due
        WHERE o.event_id = due.event_id
        RETURNING o.event_id, o.aggregate_type, o.aggregate_id, o.event_type, o.topic, o.partition_key, o.payload`

	rows, err := d.pool.Query(ctx, query, d.batchSize, claimTimeout)
	if err != nil {
		return nil, err
	}
	batch, err := pgx.CollectRows(rows, pgx.RowToStructByPos[Message])
	if err != nil {
		return nil, err
	}
	slices.SortFunc(batch, func(a, b Message) int { return cmp.Compare(a.EventID, b.EventID) })
	return batch, nil
}

// deliver writes one Kafka batch per topic, topics in the order they first
// appear. It stops at the first failing topic.
func (d *Dispatcher) deliver(ctx context.Context, batch []Message) error {
	var topics []string
	byTopic := make(map[string][]kafka.Message)
	now := time.Now().UTC()

	for _, msg := range batch {
		if _, ok := byTopic[msg.Topic]; !ok {
			topics = append(topics, msg.Topic)
		}
		byTopic[msg.Topic] = append(byTopic[msg.Topic], toKafkaMessage(msg, now))
	}

	for _, topic := range topics {
		if err := d.producer.WriteMessages(ctx, topic, byTopic[topic]...); err != nil {
			return err
		}
	}
	return nil
}

func toKafkaMessage(msg Message, at time.Time) kafka.Message {
	return kafka.Message{
		Key:   []byte(msg.PartitionKey),
		Value: msg.Payload,
		Time:  at,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(msg.EventType)},
			{Key: "event_id", Value: []byte(strconv.FormatInt(msg.EventID, 10))},
			{Key: "aggregate_type", Value: []byte(msg.AggregateType)},
		},
	}
}

func (d *Dispatcher) markPublished(ctx context.Context, batch []Message) error {
	ids := make([]int64, len(batch))
	for i, msg := range batch {
		ids[i] = msg.EventID
	}
	if _, err := d.pool.Exec(ctx, `UPDATE outbox SET published_at = NOW() WHERE event_id = ANY($1)`, ids); err != nil {
		return fmt.Errorf("mark outbox published: %w", err)
	}
	return nil
}

func (d *Dispatcher) moveToDLQ(ctx context.Context, batch []Message, reason string) error {
	for _, msg := range batch {
		if err := d.dlq.Write(ctx, msg, fmt.Sprintf("%s (topic=%s)", reason, msg.Topic)); err != nil {
			return err
		}
		dlqCounter.WithLabelValues(msg.Topic).Inc()
	}
	return nil
}
