//go:build integration

package postgres_test

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"example.com/tracker/internal/analytics"
	"example.com/tracker/internal/domain"
	"example.com/tracker/internal/persistence/postgres"
	"example.com/tracker/internal/testsupport"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func ptr[T any](v T) *T { return &v }

func setup(t *testing.T) (context.Context, *pgxpool.Pool, *postgres.Repository) {
	t.Helper()
	ctx := context.Background()
	pool, _ := testsupport.StartPostgres(ctx, t)
	return ctx, pool, postgres.NewRepository(pool)
}

func create(t *testing.T, ctx context.Context, repo *postgres.Repository, a domain.Activity, updates ...domain.Update) domain.Activity {
	t.Helper()
	if a.Priority == "" {
		a.Priority = domain.PriorityMedium
	}
	if a.Status == "" {
		a.Status = domain.StatusOngoing
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
		a.UpdatedAt = a.CreatedAt
	}
	created, err := repo.CreateActivity(ctx, domain.ActivityChange{Activity: a, Updates: updates})
	require.NoError(t, err)
	return created
}

func TestRepositoryRoundTripAndOutbox(t *testing.T) {
	ctx, pool, repo := setup(t)

	updates := []domain.Update{{Text: "kickoff", BPSnapshot: "budget", CreatedAt: time.Now().UTC()}}
	created := create(t, ctx, repo, domain.Activity{
		Description:    "Plan offsite",
		Priority:       domain.PriorityHigh,
		StartDate:      date(2025, 3, 1),
		BlockingPoints: "budget",
		Tags:           "ops,team",
	}, updates...)
	require.NotZero(t, created.ID)
	require.NotZero(t, updates[0].ID)
	require.Equal(t, created.ID, updates[0].ActivityID)

	stored, err := repo.GetActivity(ctx, created.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.Equal(t, "Plan offsite", stored.Description)
	require.Equal(t, domain.PriorityHigh, stored.Priority)
	require.True(t, stored.StartDate.Equal(date(2025, 3, 1)))
	require.Nil(t, stored.EndDate)

	missing, err := repo.GetActivity(ctx, created.ID+1000)
	require.NoError(t, err)
	require.Nil(t, missing)

	var events []string
	rows, err := pool.Query(ctx, `SELECT event_type FROM outbox WHERE partition_key = $1 ORDER BY event_id`, "activity:"+strconv.FormatInt(created.ID, 10))
	require.NoError(t, err)
	for rows.Next() {
		var eventType string
		require.NoError(t, rows.Scan(&eventType))
		events = append(events, eventType)
	}
	require.NoError(t, rows.Err())
	require.Equal(t, []string{"activity.created", "update.appended"}, events)
}

func TestSaveActivitiesRollsBackOnMissingActivity(t *testing.T) {
	ctx, _, repo := setup(t)
	a := create(t, ctx, repo, domain.Activity{Description: "a", StartDate: date(2025, 1, 1)})

	renamed := a
	renamed.Description = "renamed"
	err := repo.SaveActivities(ctx, []domain.ActivityChange{
		{Activity: renamed, Previous: a.Status, Updates: []domain.Update{{Text: "note", CreatedAt: time.Now().UTC()}}},
		{Activity: domain.Activity{ID: a.ID + 999, Description: "ghost", Priority: domain.PriorityLow, Status: domain.StatusOngoing, StartDate: date(2025, 1, 1)}},
	})
	require.ErrorIs(t, err, domain.ErrNotFound)

	stored, err := repo.GetActivity(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, "a", stored.Description)
	updates, err := repo.ListUpdates(ctx, a.ID)
	require.NoError(t, err)
	require.Empty(t, updates)
}

func TestCheckConstraintRejectsEndBeforeStart(t *testing.T) {
	ctx, _, repo := setup(t)
	now := time.Now().UTC()
	_, err := repo.CreateActivity(ctx, domain.ActivityChange{Activity: domain.Activity{
		Description: "bad dates",
		Priority:    domain.PriorityLow,
		Status:      domain.StatusClosed,
		StartDate:   date(2025, 2, 1),
		EndDate:     ptr(date(2025, 1, 1)),
		CreatedAt:   now,
		UpdatedAt:   now,
	}})
	var validation *domain.ValidationError
	require.ErrorAs(t, err, &validation)
}

func TestLatestUpdatePerActivity(t *testing.T) {
	ctx, _, repo := setup(t)
	t1 := time.Date(2025, 1, 2, 8, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)

	quiet := create(t, ctx, repo, domain.Activity{Description: "quiet", StartDate: date(2025, 1, 1)})
	busy := create(t, ctx, repo, domain.Activity{Description: "busy", StartDate: date(2025, 1, 1)},
		domain.Update{Text: "later", CreatedAt: t2},
		domain.Update{Text: "earlier", CreatedAt: t1},
	)
	tied := []domain.Update{{Text: "first", CreatedAt: t1}, {Text: "second", CreatedAt: t1}}
	tie := create(t, ctx, repo, domain.Activity{Description: "tie", StartDate: date(2025, 1, 1)}, tied...)

	latest, err := repo.LatestUpdatePerActivity(ctx, []int64{quiet.ID, busy.ID, tie.ID, 424242})
	require.NoError(t, err)
	require.Len(t, latest, 2)

	_, ok := latest[quiet.ID]
	require.False(t, ok)
	require.Equal(t, "later", latest[busy.ID].Text)
	require.True(t, latest[busy.ID].CreatedAt.Equal(t2))
	require.Equal(t, tied[1].ID, latest[tie.ID].ID)

	empty, err := repo.LatestUpdatePerActivity(ctx, nil)
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestListActivitiesFilterSortAndSearch(t *testing.T) {
	ctx, _, repo := setup(t)
	jan := create(t, ctx, repo, domain.Activity{Description: "January close", Status: domain.StatusClosed, StartDate: date(2025, 1, 1), EndDate: ptr(date(2025, 1, 5))})
	feb := create(t, ctx, repo, domain.Activity{Description: "February close", Status: domain.StatusClosed, StartDate: date(2025, 2, 1), EndDate: ptr(date(2025, 2, 5))})
	open := create(t, ctx, repo, domain.Activity{Description: "100% coverage", Priority: domain.PriorityHigh, StartDate: date(2025, 2, 1), BlockingPoints: "\t"})
	blocked := create(t, ctx, repo, domain.Activity{Description: "alpha", Priority: domain.PriorityLow, StartDate: date(2025, 2, 1), BlockingPoints: "vendor", Tags: "Infra"})

	list := func(q domain.ActivityQuery) []int64 {
		t.Helper()
		normalized, err := q.Normalize()
		require.NoError(t, err)
		got, err := repo.ListActivities(ctx, normalized)
		require.NoError(t, err)
		ids := make([]int64, 0, len(got))
		for _, a := range got {
			ids = append(ids, a.ID)
		}
		return ids
	}

	require.Equal(t, []int64{feb.ID, jan.ID}, list(domain.ActivityQuery{
		Filter: domain.ActivityFilter{Status: domain.StatusClosed},
		Sort:   domain.ActivitySort{Field: domain.SortByStartDate, Direction: domain.SortDesc},
	}))
	require.Equal(t, []int64{feb.ID, open.ID, blocked.ID, jan.ID}, list(domain.ActivityQuery{}))
	require.Equal(t, []int64{open.ID, jan.ID, feb.ID, blocked.ID}, list(domain.ActivityQuery{
		Sort: domain.ActivitySort{Field: domain.SortByPriority, Direction: domain.SortAsc},
	}))
	require.Equal(t, []int64{open.ID, blocked.ID, feb.ID, jan.ID}, list(domain.ActivityQuery{
		Sort: domain.ActivitySort{Field: domain.SortByDescription, Direction: domain.SortAsc},
	}))
	require.Equal(t, []int64{blocked.ID}, list(domain.ActivityQuery{Filter: domain.ActivityFilter{HasBlockers: true}}))
	require.Equal(t, []int64{open.ID, blocked.ID}, list(domain.ActivityQuery{Filter: domain.ActivityFilter{ExcludeClosed: true}}))
	require.Equal(t, []int64{jan.ID}, list(domain.ActivityQuery{Filter: domain.ActivityFilter{StartedTo: ptr(date(2025, 1, 31))}}))
	require.Equal(t, []int64{blocked.ID}, list(domain.ActivityQuery{Search: "infra"}))
	require.Equal(t, []int64{open.ID}, list(domain.ActivityQuery{Search: "0%"}))
	require.Len(t, list(domain.ActivityQuery{Search: "a"}), 4)
}

func TestDeleteCascadesToUpdates(t *testing.T) {
	ctx, pool, repo := setup(t)
	a := create(t, ctx, repo, domain.Activity{Description: "gone", StartDate: date(2025, 1, 1)},
		domain.Update{Text: "note", CreatedAt: time.Now().UTC()})

	deleted, err := repo.DeleteActivity(ctx, a.ID, time.Now().UTC())
	require.NoError(t, err)
	require.True(t, deleted)

	var remaining int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM updates WHERE activity_id = $1`, a.ID).Scan(&remaining))
	require.Zero(t, remaining)

	deleted, err = repo.DeleteActivity(ctx, a.ID, time.Now().UTC())
	require.NoError(t, err)
	require.False(t, deleted)
}

func TestGoals(t *testing.T) {
	ctx, _, repo := setup(t)
	week := date(2025, 3, 10)

	g1, err := repo.CreateGoal(ctx, domain.Goal{Text: "one", WeekOf: week, CreatedAt: time.Now().UTC()})
	require.NoError(t, err)
	g2, err := repo.CreateGoal(ctx, domain.Goal{Text: "two", WeekOf: week, CreatedAt: time.Now().UTC()})
	require.NoError(t, err)

	toggled, err := repo.ToggleGoal(ctx, g1.ID, time.Now().UTC())
	require.NoError(t, err)
	require.True(t, toggled.Completed)

	none, err := repo.ToggleGoal(ctx, g2.ID+100, time.Now().UTC())
	require.NoError(t, err)
	require.Nil(t, none)

	goals, err := repo.ListGoals(ctx, week)
	require.NoError(t, err)
	require.Len(t, goals, 2)
	require.Equal(t, g2.ID, goals[0].ID)
	require.Equal(t, g1.ID, goals[1].ID)
}

func TestAnalyticsMatchesScenarios(t *testing.T) {
	ctx, _, repo := setup(t)
	now := time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)

	create(t, ctx, repo, domain.Activity{Description: "a", Priority: domain.PriorityHigh, StartDate: date(2025, 1, 20), Tags: "work, urgent,work", BlockingPoints: "legal"})
	create(t, ctx, repo, domain.Activity{Description: "b", Priority: domain.PriorityHigh, StartDate: date(2025, 3, 10)},
		domain.Update{Text: "recent", CreatedAt: now.Add(-24 * time.Hour)})
	create(t, ctx, repo, domain.Activity{Description: "c", Priority: domain.PriorityLow, Status: domain.StatusClosed, StartDate: date(2025, 1, 1), EndDate: ptr(date(2025, 1, 11))})
	create(t, ctx, repo, domain.Activity{Description: "d", Priority: domain.PriorityMedium, Status: domain.StatusClosed, StartDate: date(2025, 3, 1), EndDate: ptr(date(2025, 3, 4)), Tags: " Work ,,"})

	snap, err := analytics.NewAggregator(repo, analytics.Options{VelocityBuckets: 2, VelocityBucketDays: 7}).Compute(ctx, now)
	require.NoError(t, err)

	require.Equal(t, map[domain.Priority]int{domain.PriorityHigh: 2, domain.PriorityMedium: 1, domain.PriorityLow: 1}, snap.PriorityDistribution)
	require.Equal(t, map[domain.Status]int{domain.StatusOngoing: 2, domain.StatusClosed: 2, domain.StatusNA: 0}, snap.StatusDistribution)

	require.Nil(t, snap.AvgDurationByPriority[domain.PriorityHigh].Days)
	require.InDelta(t, 10.0, *snap.AvgDurationByPriority[domain.PriorityLow].Days, 1e-9)
	require.InDelta(t, 3.0, *snap.AvgDurationByPriority[domain.PriorityMedium].Days, 1e-9)
	require.InDelta(t, 6.5, *snap.Summary.AvgDaysToComplete, 1e-9)

	require.Equal(t, 1, snap.Summary.CompletedThisMonth)
	require.Zero(t, snap.Summary.CompletedLastMonth)
	require.Equal(t, 1, snap.Summary.WithBlockers)
	require.InDelta(t, 50.0, snap.Summary.BlockerPercentage, 1e-9)

	// Buckets are [03-02, 03-09) and [03-09, 03-16).
	require.Equal(t, 1, snap.CompletionVelocity[0].Count)
	require.Zero(t, snap.CompletionVelocity[1].Count)

	require.Len(t, snap.StaleActivities, 1)
	require.Equal(t, "a", snap.StaleActivities[0].Description)
	require.True(t, snap.StaleActivities[0].NeverUpdated)
	require.Len(t, snap.LongRunningActivities, 1)
	require.Equal(t, 54, snap.LongRunningActivities[0].DaysRunning)

	require.Equal(t, map[string]int{"work": 2, "urgent": 1, "Work": 1}, snap.TagFrequency)
}

func TestAnalyticsOnEmptyDatabase(t *testing.T) {
	ctx, _, repo := setup(t)

	snap, err := analytics.NewAggregator(repo, analytics.DefaultOptions()).Compute(ctx, time.Now())
	require.NoError(t, err)
	require.Zero(t, snap.Summary.Total)
	require.Nil(t, snap.Summary.AvgDaysToComplete)
	require.Len(t, snap.CompletionVelocity, 12)
	require.Empty(t, snap.TagFrequency)
	require.Empty(t, snap.StaleActivities)
}

func TestDashboardStatsQueries(t *testing.T) {
	ctx, _, repo := setup(t)
	today := time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC)
	at := func(daysAgo, hour int) time.Time { return today.AddDate(0, 0, -daysAgo).Add(time.Duration(hour) * time.Hour) }

	create(t, ctx, repo, domain.Activity{Description: "steady", StartDate: date(2025, 3, 1)},
		domain.Update{Text: "a", CreatedAt: at(0, 9)},
		domain.Update{Text: "b", CreatedAt: at(0, 17)},
		domain.Update{Text: "c", CreatedAt: at(1, 23)},
		domain.Update{Text: "d", CreatedAt: at(3, 8)},
		domain.Update{Text: "e", CreatedAt: at(9, 8)},
	)
	create(t, ctx, repo, domain.Activity{Description: "urgent", Priority: domain.PriorityHigh, StartDate: date(2025, 3, 1), BlockingPoints: " \n"},
		domain.Update{Text: "tomorrow", CreatedAt: at(-1, 8)},
	)
	create(t, ctx, repo, domain.Activity{Description: "blocked", Priority: domain.PriorityHigh, StartDate: date(2025, 3, 1), BlockingPoints: "vendor"})
	create(t, ctx, repo, domain.Activity{Description: "parked", Status: domain.StatusNA, Priority: domain.PriorityHigh, StartDate: date(2025, 3, 1), BlockingPoints: "vendor"})

	counts, err := repo.CountOngoing(ctx)
	require.NoError(t, err)
	require.Equal(t, domain.OngoingCounts{Active: 3, HighPriority: 2, WithBlockers: 1}, counts)

	days, err := repo.UpdateDays(ctx, today.Add(15*time.Hour))
	require.NoError(t, err)
	require.Len(t, days, 4)
	require.True(t, days[0].Equal(today))
	require.True(t, days[1].Equal(today.AddDate(0, 0, -1)))
	require.Equal(t, 2, domain.StreakDays(days, today))

	week, err := repo.CountUpdatesSince(ctx, today.AddDate(0, 0, -6))
	require.NoError(t, err)
	require.Equal(t, 5, week)
}

func TestTimelineListing(t *testing.T) {
	ctx, _, repo := setup(t)
	late := create(t, ctx, repo, domain.Activity{Description: "late", StartDate: date(2025, 3, 1)})
	early := create(t, ctx, repo, domain.Activity{Description: "early", StartDate: date(2025, 1, 1)})
	create(t, ctx, repo, domain.Activity{Description: "ancient", StartDate: date(2024, 1, 1)})

	svc := domain.NewService(repo, domain.WithClock(func() time.Time { return time.Date(2025, 3, 12, 9, 0, 0, 0, time.UTC) }))
	timeline, err := svc.Timeline(ctx, domain.TimelineQuery{RangeDays: domain.DefaultTimelineRangeDays})
	require.NoError(t, err)
	require.Len(t, timeline.Entries, 2)
	require.Equal(t, early.ID, timeline.Entries[0].Activity.ID)
	require.Equal(t, late.ID, timeline.Entries[1].Activity.ID)
}
