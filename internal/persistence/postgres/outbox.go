package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"example.com/tracker/internal/events"
)

// EventMetadata describes how to route an outbox event.
type EventMetadata struct {
	AggregateType string
	Topic         string
}

const (
	activityTopic = "tracker.activity_events"
	goalTopic     = "tracker.goal_events"
)

var eventCatalog = map[string]EventMetadata{
	events.TypeActivityCreated:       {AggregateType: "activity", Topic: activityTopic},
	events.TypeActivityUpdated:       {AggregateType: "activity", Topic: activityTopic},
	events.TypeActivityStatusChanged: {AggregateType: "activity", Topic: activityTopic},
	events.TypeActivityDeleted:       {AggregateType: "activity", Topic: activityTopic},
	events.TypeUpdateAppended:        {AggregateType: "activity", Topic: activityTopic},
	events.TypeGoalCreated:           {AggregateType: "goal", Topic: goalTopic},
	events.TypeGoalToggled:           {AggregateType: "goal", Topic: goalTopic},
}

// insertOutbox records an event in the same transaction as the write it describes.
// Events of one aggregate share a partition key so consumers see them in order.
func insertOutbox(ctx context.Context, tx pgx.Tx, aggregateID int64, eventType string, payload any) error {
	meta, ok := eventCatalog[eventType]
	if !ok {
		return fmt.Errorf("unknown event type: %s", eventType)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", eventType, err)
	}

	id := strconv.FormatInt(aggregateID, 10)
	const stmt = `INSERT INTO outbox (aggregate_type, aggregate_id, event_type, topic, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7)`

	_, err = tx.Exec(ctx, stmt,
		meta.AggregateType,
		id,
		eventType,
		meta.Topic,
		meta.AggregateType+":"+id,
		body,
		uuid.NewString(),
	)
	return mapError(err)
}
