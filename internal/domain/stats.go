package domain

import (
	"context"
	"fmt"
	"time"
)

// OngoingCounts counts Ongoing activities overall, at High priority and with blocking points.
type OngoingCounts struct {
	Active       int
	HighPriority int
	WithBlockers int
}

// DashboardStats are the headline figures of the landing view. StreakDays is the
// number of consecutive days, ending today, with at least one update.
// UpdatesThisWeek counts updates created during the last seven days, today included.
type DashboardStats struct {
	OngoingCounts
	StreakDays      int
	UpdatesThisWeek int
}

// StreakDays counts consecutive days ending at today present in days. days must
// be distinct dates sorted newest first; dates after today are ignored.
func StreakDays(days []time.Time, today time.Time) int {
	want := DateOf(today)
	streak := 0
	for _, day := range days {
		day = DateOf(day)
		if day.After(want) {
			continue
		}
		if !day.Equal(want) {
			break
		}
		streak++
		want = want.AddDate(0, 0, -1)
	}
	return streak
}

// DashboardStats computes the headline figures as of the service clock.
func (s *Service) DashboardStats(ctx context.Context) (DashboardStats, error) {
	today := DateOf(s.now())

	counts, err := s.repo.CountOngoing(ctx)
	if err != nil {
		return DashboardStats{}, fmt.Errorf("count ongoing: %w", err)
	}
	days, err := s.repo.UpdateDays(ctx, today)
	if err != nil {
		return DashboardStats{}, fmt.Errorf("update days: %w", err)
	}
	week, err := s.repo.CountUpdatesSince(ctx, today.AddDate(0, 0, -6))
	if err != nil {
		return DashboardStats{}, fmt.Errorf("count updates: %w", err)
	}

	return DashboardStats{
		OngoingCounts:   counts,
		StreakDays:      StreakDays(days, today),
		UpdatesThisWeek: week,
	}, nil
}

// DefaultTimelineRangeDays is the look-back window used when a timeline query sets none.
const DefaultTimelineRangeDays = 90

// TimelineQuery selects activities for the timeline view. Empty status or
// priority do not filter; RangeDays <= 0 means no lower bound on start_date.
type TimelineQuery struct {
	Status    Status
	Priority  Priority
	RangeDays int
}

// TimelineEntry places one activity on the timeline. Open activities end today.
type TimelineEntry struct {
	Activity     Activity
	End          time.Time
	Open         bool
	DurationDays int
}

// Timeline is the ordered set of entries and the span they cover.
type Timeline struct {
	Entries []TimelineEntry
	From    time.Time
	To      time.Time
}

// Timeline lists activities started within the range, oldest start first.
func (s *Service) Timeline(ctx context.Context, query TimelineQuery) (*Timeline, error) {
	today := DateOf(s.now())
	list := ActivityQuery{
		Filter: ActivityFilter{Status: query.Status, Priority: query.Priority},
		Sort:   ActivitySort{Field: SortByStartDate, Direction: SortAsc},
	}
	if query.RangeDays > 0 {
		from := today.AddDate(0, 0, -query.RangeDays)
		list.Filter.StartedFrom = &from
	}

	activities, err := s.ListActivities(ctx, list)
	if err != nil {
		return nil, err
	}

	timeline := &Timeline{Entries: make([]TimelineEntry, 0, len(activities))}
	for i, a := range activities {
		entry := TimelineEntry{Activity: a, End: today, Open: a.EndDate == nil}
		if a.EndDate != nil {
			entry.End = *a.EndDate
		}
		entry.DurationDays = DaysBetween(a.StartDate, entry.End)
		timeline.Entries = append(timeline.Entries, entry)

		if i == 0 {
			timeline.From = a.StartDate
		}
		if entry.End.After(timeline.To) {
			timeline.To = entry.End
		}
	}
	return timeline, nil
}
