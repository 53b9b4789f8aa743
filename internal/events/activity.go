// Package events defines the change-event payloads recorded in the outbox.
package events

import "time"

// Version is stamped on every payload so consumers can detect schema changes.
const Version = "v1"

const (
	TypeActivityCreated       = "activity.created"
	TypeActivityUpdated       = "activity.updated"
	TypeActivityStatusChanged = "activity.status_changed"
	TypeActivityDeleted       = "activity.deleted"
	TypeUpdateAppended        = "update.appended"
	TypeGoalCreated           = "goal.created"
	TypeGoalToggled           = "goal.toggled"
)

// ActivityCreated is emitted when a new activity is stored.
type ActivityCreated struct {
	ActivityID  int64     `json:"activity_id"`
	Description string    `json:"description"`
	Priority    string    `json:"priority"`
	Status      string    `json:"status"`
	StartDate   time.Time `json:"start_date"`
	Tags        string    `json:"tags,omitempty"`
	Version     string    `json:"version"`
}

// ActivityUpdated is emitted for every edit of an existing activity.
type ActivityUpdated struct {
	ActivityID int64      `json:"activity_id"`
	Priority   string     `json:"priority"`
	Status     string     `json:"status"`
	EndDate    *time.Time `json:"end_date,omitempty"`
	OccurredAt time.Time  `json:"occurred_at"`
	Version    string     `json:"version"`
}

// ActivityStatusChanged tracks lifecycle transitions (Ongoing, Closed, NA).
type ActivityStatusChanged struct {
	ActivityID int64     `json:"activity_id"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	OccurredAt time.Time `json:"occurred_at"`
	Version    string    `json:"version"`
}

// ActivityDeleted is emitted once an activity and its updates are removed.
type ActivityDeleted struct {
	ActivityID int64     `json:"activity_id"`
	OccurredAt time.Time `json:"occurred_at"`
	Version    string    `json:"version"`
}

// UpdateAppended carries a new progress note.
type UpdateAppended struct {
	UpdateID   int64     `json:"update_id"`
	ActivityID int64     `json:"activity_id"`
	Text       string    `json:"text"`
	BPSnapshot string    `json:"bp_snapshot,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	Version    string    `json:"version"`
}

// GoalChanged is emitted when a goal is created or toggled.
type GoalChanged struct {
	GoalID     int64     `json:"goal_id"`
	Text       string    `json:"text"`
	WeekOf     time.Time `json:"week_of"`
	Completed  bool      `json:"completed"`
	OccurredAt time.Time `json:"occurred_at"`
	Version    string    `json:"version"`
}
