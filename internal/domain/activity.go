package domain

import (
	"strings"
	"time"
)

// Status is the lifecycle state of an activity.
type Status string

const (
	StatusOngoing Status = "Ongoing"
	StatusClosed  Status = "Closed"
	StatusNA      Status = "NA"
)

// Statuses lists every status in display order.
var Statuses = []Status{StatusOngoing, StatusClosed, StatusNA}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusOngoing, StatusClosed, StatusNA:
		return true
	}
	return false
}

// Priority ranks activities. High sorts before Medium before Low.
type Priority string

const (
	PriorityHigh   Priority = "High"
	PriorityMedium Priority = "Medium"
	PriorityLow    Priority = "Low"
)

// Priorities lists every priority from most to least urgent.
var Priorities = []Priority{PriorityHigh, PriorityMedium, PriorityLow}

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	return p.Rank() > 0
}

// Rank returns 1 for High, 2 for Medium, 3 for Low and 0 for unknown values.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	}
	return 0
}

// Activity is a tracked unit of work.
type Activity struct {
	ID             int64
	Description    string
	Priority       Priority
	Status         Status
	Source         string
	StartDate      time.Time
	EndDate        *time.Time
	BlockingPoints string
	Observations   string
	Tags           string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// HasBlockers reports whether the activity carries non-blank blocking points.
func (a Activity) HasBlockers() bool {
	return strings.TrimSpace(a.BlockingPoints) != ""
}

// TagList returns the activity's tags tokenized with SplitTags.
func (a Activity) TagList() []string {
	return SplitTags(a.Tags)
}

// Update is an immutable progress note attached to an activity.
type Update struct {
	ID         int64
	ActivityID int64
	Text       string
	BPSnapshot string
	CreatedAt  time.Time
}

// Goal is a weekly objective.
type Goal struct {
	ID        int64
	Text      string
	WeekOf    time.Time
	Completed bool
	CreatedAt time.Time
}

// SplitTags splits a comma-delimited tag field, trimming whitespace around each
// token and dropping empty ones. Case is preserved and duplicates are kept.
func SplitTags(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if tag := strings.TrimSpace(part); tag != "" {
			out = append(out, tag)
		}
	}
	return out
}

// DateOf truncates t to its calendar date at UTC midnight.
func DateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// WeekOf returns the Monday of the week containing t.
func WeekOf(t time.Time) time.Time {
	day := DateOf(t)
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}

// DaysBetween returns the number of whole calendar days from start to end.
func DaysBetween(start, end time.Time) int {
	return int(DateOf(end).Sub(DateOf(start)).Hours() / 24)
}
