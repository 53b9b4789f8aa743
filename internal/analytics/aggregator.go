package analytics

import (
	"context"
	"fmt"
	"sort"
	"time"

	"example.com/tracker/internal/domain"
)

// Source exposes the set-oriented queries the aggregator is built from. Every
// method must be answered by the store without loading whole tables.
type Source interface {
	CountByStatus(ctx context.Context) (map[domain.Status]int, error)
	CountByPriority(ctx context.Context) (map[domain.Priority]int, error)
	// CountClosedBetween counts Closed activities with end_date in [start, end).
	CountClosedBetween(ctx context.Context, start, end time.Time) (int, error)
	// ClosedCountsByBucket counts Closed activities per bucket of widthDays days
	// starting at origin. The result always has len == buckets.
	ClosedCountsByBucket(ctx context.Context, origin time.Time, widthDays, buckets int) ([]int, error)
	DurationByPriority(ctx context.Context) (map[domain.Priority]DurationAggregate, error)
	CountOngoingWithBlockers(ctx context.Context) (int, error)
	// StaleCandidates lists Ongoing activities last touched at or before cutoff.
	StaleCandidates(ctx context.Context, cutoff time.Time) ([]ActivityTouch, error)
	// LongRunningCandidates lists Ongoing activities that started before startedBefore.
	LongRunningCandidates(ctx context.Context, startedBefore time.Time) ([]ActivityTouch, error)
	TagCounts(ctx context.Context) (map[string]int, error)
}

// Store hands out a Source bound to one consistent read of the record store.
type Store interface {
	ReadSnapshot(ctx context.Context, fn func(Source) error) error
}

// DurationAggregate is the sum of end_date - start_date in days over Count activities.
type DurationAggregate struct {
	Count     int
	TotalDays int
}

// ActivityTouch is the row shape behind stale and long-running detection.
type ActivityTouch struct {
	ID           int64
	Description  string
	Priority     domain.Priority
	StartDate    time.Time
	LastUpdateAt *time.Time
}

// Options are the aggregator thresholds.
type Options struct {
	StaleAfterDays       int
	LongRunningAfterDays int
	VelocityBuckets      int
	VelocityBucketDays   int
}

// DefaultOptions mirrors the thresholds the dashboard has always used.
func DefaultOptions() Options {
	return Options{
		StaleAfterDays:       14,
		LongRunningAfterDays: 45,
		VelocityBuckets:      12,
		VelocityBucketDays:   7,
	}
}

// Aggregator derives a Snapshot from a Store.
type Aggregator struct {
	store Store
	opts  Options
}

// NewAggregator constructs an Aggregator. Non-positive options fall back to defaults.
func NewAggregator(store Store, opts Options) *Aggregator {
	def := DefaultOptions()
	if opts.StaleAfterDays <= 0 {
		opts.StaleAfterDays = def.StaleAfterDays
	}
	if opts.LongRunningAfterDays <= 0 {
		opts.LongRunningAfterDays = def.LongRunningAfterDays
	}
	if opts.VelocityBuckets <= 0 {
		opts.VelocityBuckets = def.VelocityBuckets
	}
	if opts.VelocityBucketDays <= 0 {
		opts.VelocityBucketDays = def.VelocityBucketDays
	}
	return &Aggregator{store: store, opts: opts}
}

// Compute builds a fresh snapshot as of now.
func (a *Aggregator) Compute(ctx context.Context, now time.Time) (*Snapshot, error) {
	start := time.Now()
	defer func() { computeDuration.Observe(time.Since(start).Seconds()) }()

	now = now.UTC()
	snapshot := &Snapshot{GeneratedAt: now}
	err := a.store.ReadSnapshot(ctx, func(src Source) error {
		return a.fill(ctx, src, now, snapshot)
	})
	if err != nil {
		computeErrors.Inc()
		return nil, fmt.Errorf("compute analytics: %w", err)
	}
	return snapshot, nil
}

func (a *Aggregator) fill(ctx context.Context, src Source, now time.Time, out *Snapshot) error {
	byStatus, err := src.CountByStatus(ctx)
	if err != nil {
		return fmt.Errorf("status distribution: %w", err)
	}
	out.StatusDistribution = make(map[domain.Status]int, len(domain.Statuses))
	for _, status := range domain.Statuses {
		out.StatusDistribution[status] = byStatus[status]
		out.Summary.Total += byStatus[status]
	}
	out.Summary.Ongoing = byStatus[domain.StatusOngoing]

	byPriority, err := src.CountByPriority(ctx)
	if err != nil {
		return fmt.Errorf("priority distribution: %w", err)
	}
	out.PriorityDistribution = make(map[domain.Priority]int, len(domain.Priorities))
	for _, priority := range domain.Priorities {
		out.PriorityDistribution[priority] = byPriority[priority]
	}

	if out.CompletionVelocity, err = a.velocity(ctx, src, now); err != nil {
		return err
	}

	durations, err := src.DurationByPriority(ctx)
	if err != nil {
		return fmt.Errorf("duration by priority: %w", err)
	}
	out.AvgDurationByPriority = make(map[domain.Priority]AverageDuration, len(domain.Priorities))
	var totalDays, totalCount int
	for _, priority := range domain.Priorities {
		agg := durations[priority]
		out.AvgDurationByPriority[priority] = averageOf(agg)
		totalDays += agg.TotalDays
		totalCount += agg.Count
	}
	out.Summary.AvgDaysToComplete = averageOf(DurationAggregate{Count: totalCount, TotalDays: totalDays}).Days

	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	if out.Summary.CompletedThisMonth, err = src.CountClosedBetween(ctx, monthStart, monthStart.AddDate(0, 1, 0)); err != nil {
		return fmt.Errorf("completed this month: %w", err)
	}
	if out.Summary.CompletedLastMonth, err = src.CountClosedBetween(ctx, monthStart.AddDate(0, -1, 0), monthStart); err != nil {
		return fmt.Errorf("completed last month: %w", err)
	}

	if out.Summary.WithBlockers, err = src.CountOngoingWithBlockers(ctx); err != nil {
		return fmt.Errorf("blockers: %w", err)
	}
	if out.Summary.Ongoing > 0 {
		out.Summary.BlockerPercentage = float64(out.Summary.WithBlockers) / float64(out.Summary.Ongoing) * 100
	}

	if out.StaleActivities, err = a.stale(ctx, src, now); err != nil {
		return err
	}
	if out.LongRunningActivities, err = a.longRunning(ctx, src, now); err != nil {
		return err
	}

	tags, err := src.TagCounts(ctx)
	if err != nil {
		return fmt.Errorf("tag frequency: %w", err)
	}
	if tags == nil {
		tags = map[string]int{}
	}
	out.TagFrequency = tags
	return nil
}

// VelocityBuckets returns k half-open buckets of widthDays days, the last one
// ending at the start of the day after now.
func VelocityBuckets(now time.Time, k, widthDays int) []VelocityBucket {
	end := domain.DateOf(now).AddDate(0, 0, 1)
	origin := end.AddDate(0, 0, -k*widthDays)
	buckets := make([]VelocityBucket, k)
	for i := range buckets {
		buckets[i] = VelocityBucket{
			Start: origin.AddDate(0, 0, i*widthDays),
			End:   origin.AddDate(0, 0, (i+1)*widthDays),
		}
	}
	return buckets
}

func (a *Aggregator) velocity(ctx context.Context, src Source, now time.Time) ([]VelocityBucket, error) {
	buckets := VelocityBuckets(now, a.opts.VelocityBuckets, a.opts.VelocityBucketDays)
	counts, err := src.ClosedCountsByBucket(ctx, buckets[0].Start, a.opts.VelocityBucketDays, len(buckets))
	if err != nil {
		return nil, fmt.Errorf("completion velocity: %w", err)
	}
	if len(counts) != len(buckets) {
		return nil, fmt.Errorf("completion velocity: got %d counts for %d buckets", len(counts), len(buckets))
	}
	for i := range buckets {
		buckets[i].Count = counts[i]
	}
	return buckets, nil
}

func (a *Aggregator) stale(ctx context.Context, src Source, now time.Time) ([]StaleActivity, error) {
	cutoff := now.Add(-time.Duration(a.opts.StaleAfterDays) * 24 * time.Hour)
	rows, err := src.StaleCandidates(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("stale activities: %w", err)
	}

	out := make([]StaleActivity, 0, len(rows))
	for _, row := range rows {
		item := StaleActivity{
			ID:          row.ID,
			Description: row.Description,
			Priority:    row.Priority,
		}
		if row.LastUpdateAt != nil {
			item.LastTouchedAt = row.LastUpdateAt.UTC()
		} else {
			item.LastTouchedAt = row.StartDate
			item.NeverUpdated = true
		}
		item.DaysSinceUpdate = int(now.Sub(item.LastTouchedAt).Hours() / 24)
		out = append(out, item)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].LastTouchedAt.Equal(out[j].LastTouchedAt) {
			return out[i].LastTouchedAt.Before(out[j].LastTouchedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (a *Aggregator) longRunning(ctx context.Context, src Source, now time.Time) ([]LongRunningActivity, error) {
	today := domain.DateOf(now)
	rows, err := src.LongRunningCandidates(ctx, today.AddDate(0, 0, -a.opts.LongRunningAfterDays))
	if err != nil {
		return nil, fmt.Errorf("long running activities: %w", err)
	}

	out := make([]LongRunningActivity, 0, len(rows))
	for _, row := range rows {
		out = append(out, LongRunningActivity{
			ID:          row.ID,
			Description: row.Description,
			Priority:    row.Priority,
			StartDate:   row.StartDate,
			DaysRunning: domain.DaysBetween(row.StartDate, today),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].DaysRunning != out[j].DaysRunning {
			return out[i].DaysRunning > out[j].DaysRunning
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func averageOf(agg DurationAggregate) AverageDuration {
	if agg.Count == 0 {
		return AverageDuration{}
	}
	mean := float64(agg.TotalDays) / float64(agg.Count)
	return AverageDuration{Days: &mean, Samples: agg.Count}
}
