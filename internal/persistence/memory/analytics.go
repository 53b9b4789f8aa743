package memory

import (
	"context"
	"time"

	"example.com/tracker/internal/analytics"
	"example.com/tracker/internal/domain"
)

// view answers analytics queries over a frozen copy of the repository.
type view struct {
	activities []domain.Activity
	updates    map[int64]domain.Update
}

func (v *view) CountByStatus(ctx context.Context) (map[domain.Status]int, error) {
	out := make(map[domain.Status]int)
	for _, a := range v.activities {
		out[a.Status]++
	}
	return out, nil
}

func (v *view) CountByPriority(ctx context.Context) (map[domain.Priority]int, error) {
	out := make(map[domain.Priority]int)
	for _, a := range v.activities {
		out[a.Priority]++
	}
	return out, nil
}

func (v *view) CountClosedBetween(ctx context.Context, start, end time.Time) (int, error) {
	count := 0
	for _, a := range v.activities {
		if a.Status != domain.StatusClosed || a.EndDate == nil {
			continue
		}
		if !a.EndDate.Before(start) && a.EndDate.Before(end) {
			count++
		}
	}
	return count, nil
}

func (v *view) ClosedCountsByBucket(ctx context.Context, origin time.Time, widthDays, buckets int) ([]int, error) {
	counts := make([]int, buckets)
	for _, a := range v.activities {
		if a.Status != domain.StatusClosed || a.EndDate == nil || a.EndDate.Before(origin) {
			continue
		}
		idx := domain.DaysBetween(origin, *a.EndDate) / widthDays
		if idx < buckets {
			counts[idx]++
		}
	}
	return counts, nil
}

func (v *view) DurationByPriority(ctx context.Context) (map[domain.Priority]analytics.DurationAggregate, error) {
	out := make(map[domain.Priority]analytics.DurationAggregate)
	for _, a := range v.activities {
		if a.Status != domain.StatusClosed || a.EndDate == nil {
			continue
		}
		agg := out[a.Priority]
		agg.Count++
		agg.TotalDays += domain.DaysBetween(a.StartDate, *a.EndDate)
		out[a.Priority] = agg
	}
	return out, nil
}

func (v *view) CountOngoingWithBlockers(ctx context.Context) (int, error) {
	count := 0
	for _, a := range v.activities {
		if a.Status == domain.StatusOngoing && a.HasBlockers() {
			count++
		}
	}
	return count, nil
}

func (v *view) StaleCandidates(ctx context.Context, cutoff time.Time) ([]analytics.ActivityTouch, error) {
	latest := latestByActivity(v.updates, nil)
	out := make([]analytics.ActivityTouch, 0)
	for _, a := range v.activities {
		if a.Status != domain.StatusOngoing {
			continue
		}
		touch := touchOf(a, latest)
		lastTouched := a.StartDate
		if touch.LastUpdateAt != nil {
			lastTouched = *touch.LastUpdateAt
		}
		if !lastTouched.After(cutoff) {
			out = append(out, touch)
		}
	}
	return out, nil
}

func (v *view) LongRunningCandidates(ctx context.Context, startedBefore time.Time) ([]analytics.ActivityTouch, error) {
	latest := latestByActivity(v.updates, nil)
	out := make([]analytics.ActivityTouch, 0)
	for _, a := range v.activities {
		if a.Status == domain.StatusOngoing && a.StartDate.Before(startedBefore) {
			out = append(out, touchOf(a, latest))
		}
	}
	return out, nil
}

func (v *view) TagCounts(ctx context.Context) (map[string]int, error) {
	out := make(map[string]int)
	for _, a := range v.activities {
		for _, tag := range a.TagList() {
			out[tag]++
		}
	}
	return out, nil
}

func touchOf(a domain.Activity, latest map[int64]domain.Update) analytics.ActivityTouch {
	touch := analytics.ActivityTouch{
		ID:          a.ID,
		Description: a.Description,
		Priority:    a.Priority,
		StartDate:   a.StartDate,
	}
	if update, ok := latest[a.ID]; ok {
		at := update.CreatedAt
		touch.LastUpdateAt = &at
	}
	return touch
}
