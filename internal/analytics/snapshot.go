// Package analytics computes dashboard statistics over the record store and
// caches the most recent result.
package analytics

import (
	"sort"
	"time"

	"example.com/tracker/internal/domain"
)

// Snapshot is one complete, internally consistent analytics result.
// Callers must treat it as read-only; cached snapshots are shared.
type Snapshot struct {
	GeneratedAt           time.Time
	Summary               Summary
	StatusDistribution    map[domain.Status]int
	PriorityDistribution  map[domain.Priority]int
	CompletionVelocity    []VelocityBucket
	AvgDurationByPriority map[domain.Priority]AverageDuration
	StaleActivities       []StaleActivity
	LongRunningActivities []LongRunningActivity
	TagFrequency          map[string]int
}

// Summary holds headline counts.
type Summary struct {
	Total              int
	Ongoing            int
	CompletedThisMonth int
	CompletedLastMonth int
	WithBlockers       int
	BlockerPercentage  float64
	// AvgDaysToComplete is nil when no closed activity has an end date.
	AvgDaysToComplete *float64
}

// VelocityBucket counts activities closed with end_date in [Start, End).
type VelocityBucket struct {
	Start time.Time
	End   time.Time
	Count int
}

// AverageDuration is the mean completion time of a priority. Days is nil when
// there are no samples, which is distinct from a zero-day mean.
type AverageDuration struct {
	Days    *float64
	Samples int
}

// StaleActivity is an ongoing activity nobody has touched for a while.
type StaleActivity struct {
	ID              int64
	Description     string
	Priority        domain.Priority
	LastTouchedAt   time.Time
	DaysSinceUpdate int
	// NeverUpdated is set when LastTouchedAt falls back to the start date.
	NeverUpdated bool
}

// LongRunningActivity is an ongoing activity that started long ago.
type LongRunningActivity struct {
	ID          int64
	Description string
	Priority    domain.Priority
	StartDate   time.Time
	DaysRunning int
}

// TagCount pairs a tag with its frequency.
type TagCount struct {
	Tag   string
	Count int
}

// TopTags returns the n most frequent tags, ties ordered alphabetically.
// n <= 0 returns every tag.
func (s *Snapshot) TopTags(n int) []TagCount {
	out := make([]TagCount, 0, len(s.TagFrequency))
	for tag, count := range s.TagFrequency {
		out = append(out, TagCount{Tag: tag, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Tag < out[j].Tag
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
