package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const (
	defaultMaxRetries = 5
	defaultBaseDelay  = time.Minute
	maxBackoff        = time.Hour
	quarantineReason  = "retry limit reached"
)

// dlqEntry is an outbox_dlq row due for replay. Field order matches dueEntriesQuery.
type dlqEntry struct {
	ID            int64
	EventID       int64
	AggregateType string
	AggregateID   string
	EventType     string
	Topic         string
	PartitionKey  string
	Payload       []byte
	Reason        string
	RetryCount    int
}

const dueEntriesQuery = `SELECT dlq_id, event_id, aggregate_type, aggregate_id, event_type, topic, partition_key, payload, reason, retry_count
        FROM outbox_dlq
        WHERE quarantined_at IS NULL AND (next_retry_at IS NULL OR next_retry_at <= NOW())
        ORDER BY created_at, dlq_id
        LIMIT $1`

// DLQManager puts dead-lettered events back into the outbox so the dispatcher
// retries them. Entries that have been retried maxRetries times are quarantined
// and left for an operator.
type DLQManager struct {
	pool       *pgxpool.Pool
	logger     zerolog.Logger
	maxRetries int
	baseDelay  time.Duration
}

// NewDLQManager constructs a DLQManager. Non-positive settings fall back to
// five retries and a one minute base delay.
func NewDLQManager(pool *pgxpool.Pool, logger zerolog.Logger, maxRetries int, baseDelay time.Duration) *DLQManager {
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	if baseDelay <= 0 {
		baseDelay = defaultBaseDelay
	}
	return &DLQManager{
		pool:       pool,
		logger:     logger.With().Str("component", "dlq_manager").Logger(),
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
	}
}

// RunOnce handles up to batchSize due entries and reports how many were
// settled. Per-entry failures are joined into the returned error.
func (m *DLQManager) RunOnce(ctx context.Context, batchSize int) (int, error) {
	defer updateBacklogGauge(ctx, m.pool)

	rows, err := m.pool.Query(ctx, dueEntriesQuery, batchSize)
	if err != nil {
		return 0, fmt.Errorf("select due dlq entries: %w", err)
	}
	entries, err := pgx.CollectRows(rows, pgx.RowToStructByPos[dlqEntry])
	if err != nil {
		return 0, fmt.Errorf("scan dlq entries: %w", err)
	}

	var (
		settled int
		errs    []error
	)
	for _, entry := range entries {
		if err := pgx.BeginFunc(ctx, m.pool, func(tx pgx.Tx) error {
			return m.settle(ctx, tx, entry)
		}); err != nil {
			errs = append(errs, fmt.Errorf("dlq entry %d: %w", entry.ID, err))
			continue
		}
		settled++
		recordDLQProcessed(entry)
	}
	return settled, errors.Join(errs...)
}

// settle moves one entry forward: quarantine once retries are exhausted,
// otherwise requeue it, pushing next_retry_at out when the requeue itself fails.
func (m *DLQManager) settle(ctx context.Context, tx pgx.Tx, entry dlqEntry) error {
	if entry.RetryCount >= m.maxRetries {
		_, err := tx.Exec(ctx,
			`UPDATE outbox_dlq SET quarantined_at = NOW(), quarantine_reason = $2 WHERE dlq_id = $1`,
			entry.ID, quarantineReason)
		if err != nil {
			return err
		}
		recordDLQQuarantined(entry)
		m.logger.Warn().
			Int64("dlq_id", entry.ID).
			Int64("event_id", entry.EventID).
			Str("event_type", entry.EventType).
			Int("retries", entry.RetryCount).
			Msg("dlq entry quarantined")
		return nil
	}

	// The requeue runs under a savepoint so a failed INSERT leaves tx usable
	// for recording the retry.
	requeueErr := pgx.BeginFunc(ctx, tx, func(sp pgx.Tx) error {
		return requeue(ctx, sp, entry)
	})
	if requeueErr == nil {
		if _, err := tx.Exec(ctx, `DELETE FROM outbox_dlq WHERE dlq_id = $1`, entry.ID); err != nil {
			return err
		}
		recordDLQRequeued(entry)
		return nil
	}

	_, err := tx.Exec(ctx,
		`UPDATE outbox_dlq
            SET retry_count = retry_count + 1,
                last_attempt_at = NOW(),
                next_retry_at = NOW() + $2::interval,
                reason = $3
          WHERE dlq_id = $1`,
		entry.ID, m.backoffDelay(entry.RetryCount+1), requeueErr.Error())
	if err != nil {
		return err
	}
	recordDLQRetry(entry)
	m.logger.Info().Err(requeueErr).Int64("dlq_id", entry.ID).Msg("dlq requeue failed, retry scheduled")
	return nil
}

// backoffDelay is baseDelay doubled per attempt, capped at an hour.
func (m *DLQManager) backoffDelay(attempt int) time.Duration {
	delay := m.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxBackoff {
			return maxBackoff
		}
	}
	return delay
}

// requeue inserts the event into the outbox again. A fresh dedupe key keeps
// the unique constraint from rejecting the replay.
func requeue(ctx context.Context, tx pgx.Tx, entry dlqEntry) error {
	if entry.PartitionKey == "" {
		return fmt.Errorf("missing partition_key for dlq entry %d", entry.ID)
	}
	_, err := tx.Exec(ctx,
		`INSERT INTO outbox (aggregate_type, aggregate_id, event_type, topic, partition_key, payload, dedupe_key)
         VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		entry.AggregateType, entry.AggregateID, entry.EventType, entry.Topic, entry.PartitionKey, entry.Payload, uuid.NewString())
	return err
}
