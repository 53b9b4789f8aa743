package domain_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/tracker/internal/domain"
	"example.com/tracker/internal/persistence/memory"
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func (c *clock) advance(d time.Duration) { c.now = c.now.Add(d) }

func newService(t *testing.T) (*domain.Service, *memory.Repository, *clock) {
	t.Helper()
	repo := memory.NewRepository()
	clk := &clock{now: time.Date(2025, 3, 12, 9, 30, 0, 0, time.UTC)}
	return domain.NewService(repo, domain.WithClock(clk.Now)), repo, clk
}

func createOngoing(t *testing.T, svc *domain.Service, input domain.CreateActivityInput) *domain.Activity {
	t.Helper()
	if input.Description == "" {
		input.Description = "Write quarterly report"
	}
	if input.StartDate.IsZero() {
		input.StartDate = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	}
	activity, err := svc.CreateActivity(context.Background(), input)
	require.NoError(t, err)
	return activity
}

func TestCreateActivityDefaultsAndFirstUpdate(t *testing.T) {
	svc, repo, _ := newService(t)
	ctx := context.Background()

	activity := createOngoing(t, svc, domain.CreateActivityInput{
		Description:    "  Ship release  ",
		StartDate:      time.Date(2025, 3, 1, 15, 0, 0, 0, time.UTC),
		BlockingPoints: "QA sign-off",
		Observations:   "kickoff done",
	})
	require.Equal(t, "Ship release", activity.Description)
	require.Equal(t, domain.PriorityMedium, activity.Priority)
	require.Equal(t, domain.StatusOngoing, activity.Status)
	require.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), activity.StartDate)

	updates, err := repo.ListUpdates(ctx, activity.ID)
	require.NoError(t, err)
	require.Len(t, updates, 1)
	require.Equal(t, "kickoff done", updates[0].Text)
	require.Equal(t, "QA sign-off", updates[0].BPSnapshot)
}

func TestCreateActivityValidation(t *testing.T) {
	svc, _, _ := newService(t)
	start := time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC)
	before := start.AddDate(0, 0, -1)

	tests := []struct {
		name  string
		input domain.CreateActivityInput
		field string
	}{
		{name: "blank description", input: domain.CreateActivityInput{Description: "   ", StartDate: start}, field: "description"},
		{name: "missing start", input: domain.CreateActivityInput{Description: "x"}, field: "start_date"},
		{name: "end before start", input: domain.CreateActivityInput{Description: "x", StartDate: start, EndDate: &before}, field: "end_date"},
		{name: "unknown priority", input: domain.CreateActivityInput{Description: "x", StartDate: start, Priority: "Urgent"}, field: "priority"},
		{name: "closed without note", input: domain.CreateActivityInput{Description: "x", StartDate: start, Status: domain.StatusClosed}, field: "closing_note"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateActivity(context.Background(), tt.input)
			var validation *domain.ValidationError
			require.True(t, errors.As(err, &validation), "got %v", err)
			require.Equal(t, tt.field, validation.Field)
		})
	}
}

func TestChangeStatusClosingRequiresNote(t *testing.T) {
	svc, _, _ := newService(t)
	activity := createOngoing(t, svc, domain.CreateActivityInput{})

	_, err := svc.ChangeStatus(context.Background(), activity.ID, domain.StatusClosed, "  ")
	require.ErrorIs(t, err, domain.ErrClosingNoteRequired)

	stored, err := svc.GetActivity(context.Background(), activity.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusOngoing, stored.Status)
}

func TestChangeStatusClosingStampsEndDateAndUpdate(t *testing.T) {
	svc, repo, clk := newService(t)
	ctx := context.Background()
	activity := createOngoing(t, svc, domain.CreateActivityInput{BlockingPoints: "legal review"})

	clk.advance(2 * time.Hour)
	closed, err := svc.ChangeStatus(ctx, activity.ID, domain.StatusClosed, "delivered")
	require.NoError(t, err)
	require.Equal(t, domain.StatusClosed, closed.Status)
	require.NotNil(t, closed.EndDate)
	require.Equal(t, domain.DateOf(clk.now), *closed.EndDate)
	require.Equal(t, domain.ClosedUpdatePrefix+"delivered", closed.Observations)

	stored, err := svc.GetActivity(ctx, activity.ID)
	require.NoError(t, err)
	require.Equal(t, closed.Observations, stored.Observations)

	latest, err := repo.LatestUpdatePerActivity(ctx, []int64{activity.ID})
	require.NoError(t, err)
	require.Equal(t, domain.ClosedUpdatePrefix+"delivered", latest[activity.ID].Text)
	require.Equal(t, "legal review", latest[activity.ID].BPSnapshot)
	require.Equal(t, clk.now, latest[activity.ID].CreatedAt)

	// Closing an already closed activity needs no note and writes no update.
	_, err = svc.ChangeStatus(ctx, activity.ID, domain.StatusClosed, "")
	require.NoError(t, err)
	updates, err := repo.ListUpdates(ctx, activity.ID)
	require.NoError(t, err)
	require.Len(t, updates, 1)
}

func TestEditActivityKeepsExplicitEndDate(t *testing.T) {
	svc, _, _ := newService(t)
	activity := createOngoing(t, svc, domain.CreateActivityInput{})
	end := time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)

	edited, err := svc.EditActivity(context.Background(), activity.ID, domain.EditActivityInput{
		Description: activity.Description,
		Status:      domain.StatusClosed,
		StartDate:   activity.StartDate,
		EndDate:     &end,
		ClosingNote: "wrapped up early",
	})
	require.NoError(t, err)
	require.Equal(t, end, *edited.EndDate)
	require.Equal(t, activity.Priority, edited.Priority)
}

func TestAppendUpdateSnapshotsBlockingPoints(t *testing.T) {
	svc, _, clk := newService(t)
	ctx := context.Background()
	activity := createOngoing(t, svc, domain.CreateActivityInput{BlockingPoints: "old blocker"})

	clk.advance(time.Hour)
	cleared := ""
	update, err := svc.AppendUpdate(ctx, activity.ID, "unblocked", &cleared)
	require.NoError(t, err)
	require.Equal(t, "", update.BPSnapshot)
	require.Equal(t, activity.ID, update.ActivityID)
	require.NotZero(t, update.ID)

	clk.advance(time.Hour)
	update, err = svc.AppendUpdate(ctx, activity.ID, "still fine", nil)
	require.NoError(t, err)
	require.Equal(t, "", update.BPSnapshot)

	detail, err := svc.GetActivityDetail(ctx, activity.ID)
	require.NoError(t, err)
	require.Equal(t, "still fine", detail.Activity.Observations)
	require.Len(t, detail.Updates, 2)
	require.Equal(t, "still fine", detail.Updates[0].Text)
	require.NotNil(t, detail.DaysSinceUpdate)
	require.Zero(t, *detail.DaysSinceUpdate)
	require.Equal(t, 11, detail.DaysActive)

	_, err = svc.AppendUpdate(ctx, activity.ID, " ", nil)
	var validation *domain.ValidationError
	require.True(t, errors.As(err, &validation))
}

func TestDeleteActivityCascadesToUpdates(t *testing.T) {
	svc, repo, _ := newService(t)
	ctx := context.Background()
	activity := createOngoing(t, svc, domain.CreateActivityInput{Observations: "first"})

	require.NoError(t, svc.DeleteActivity(ctx, activity.ID))

	_, err := svc.GetActivity(ctx, activity.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)
	latest, err := repo.LatestUpdatePerActivity(ctx, []int64{activity.ID})
	require.NoError(t, err)
	require.Empty(t, latest)

	err = svc.DeleteActivity(ctx, activity.ID)
	var notFound *domain.NotFoundError
	require.True(t, errors.As(err, &notFound))
	require.Equal(t, activity.ID, notFound.ID)
}

func TestBulkChangeStatus(t *testing.T) {
	svc, repo, _ := newService(t)
	ctx := context.Background()
	a := createOngoing(t, svc, domain.CreateActivityInput{})
	b := createOngoing(t, svc, domain.CreateActivityInput{})

	_, err := svc.BulkChangeStatus(ctx, []int64{a.ID, b.ID}, domain.StatusClosed, "")
	require.ErrorIs(t, err, domain.ErrClosingNoteRequired)

	n, err := svc.BulkChangeStatus(ctx, []int64{a.ID, b.ID, b.ID, 999}, domain.StatusClosed, "sprint done")
	require.NoError(t, err)
	require.Equal(t, 2, n)

	latest, err := repo.LatestUpdatePerActivity(ctx, []int64{a.ID, b.ID})
	require.NoError(t, err)
	require.Len(t, latest, 2)
	for _, id := range []int64{a.ID, b.ID} {
		require.Equal(t, domain.ClosedUpdatePrefix+"sprint done", latest[id].Text)
	}
}

func TestBulkUpdatePriority(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	a := createOngoing(t, svc, domain.CreateActivityInput{})

	n, err := svc.BulkUpdatePriority(ctx, []int64{a.ID, 42}, domain.PriorityHigh)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	stored, err := svc.GetActivity(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, domain.PriorityHigh, stored.Priority)

	_, err = svc.BulkUpdatePriority(ctx, []int64{a.ID}, "Critical")
	var validation *domain.ValidationError
	require.True(t, errors.As(err, &validation))
}

func TestListActivitiesRejectsUnknownSort(t *testing.T) {
	svc, _, _ := newService(t)
	_, err := svc.ListActivities(context.Background(), domain.ActivityQuery{Sort: domain.ActivitySort{Field: "updated_at"}})
	var invalidQuery *domain.InvalidQueryError
	require.True(t, errors.As(err, &invalidQuery))
}

func TestListActivitiesUnknownFilterValuesMatchNothing(t *testing.T) {
	svc, _, _ := newService(t)
	createOngoing(t, svc, domain.CreateActivityInput{})

	for _, filter := range []domain.ActivityFilter{{Status: "Archived"}, {Priority: "Urgent"}} {
		found, err := svc.ListActivities(context.Background(), domain.ActivityQuery{Filter: filter})
		require.NoError(t, err)
		require.Empty(t, found)
	}
}

func TestSearchOrdersOngoingAndUrgentFirst(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	closed := createOngoing(t, svc, domain.CreateActivityInput{Description: "report archive", Priority: domain.PriorityHigh, Status: domain.StatusClosed, ClosingNote: "filed"})
	low := createOngoing(t, svc, domain.CreateActivityInput{Description: "report typos", Priority: domain.PriorityLow, StartDate: time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)})
	high := createOngoing(t, svc, domain.CreateActivityInput{Description: "report draft", Priority: domain.PriorityHigh})

	found, err := svc.Search(ctx, "report", 20)
	require.NoError(t, err)
	require.Len(t, found, 3)
	require.Equal(t, []int64{high.ID, low.ID, closed.ID}, []int64{found[0].ID, found[1].ID, found[2].ID})

	capped, err := svc.Search(ctx, "report", 1)
	require.NoError(t, err)
	require.Len(t, capped, 1)
	require.Equal(t, high.ID, capped[0].ID)
}

func TestSearchIgnoresShortTerms(t *testing.T) {
	svc, _, _ := newService(t)
	createOngoing(t, svc, domain.CreateActivityInput{Description: "a report"})

	found, err := svc.Search(context.Background(), "a", 20)
	require.NoError(t, err)
	require.Empty(t, found)

	found, err = svc.Search(context.Background(), "REP", 20)
	require.NoError(t, err)
	require.Len(t, found, 1)
}

func TestDashboardHidesClosedAndAttachesLatestUpdates(t *testing.T) {
	svc, _, clk := newService(t)
	ctx := context.Background()
	open := createOngoing(t, svc, domain.CreateActivityInput{Observations: "started"})
	quiet := createOngoing(t, svc, domain.CreateActivityInput{})
	done := createOngoing(t, svc, domain.CreateActivityInput{})
	_, err := svc.ChangeStatus(ctx, done.ID, domain.StatusClosed, "done")
	require.NoError(t, err)

	goal, err := svc.CreateGoal(ctx, "Close two activities")
	require.NoError(t, err)
	clk.advance(7 * 24 * time.Hour)
	_, err = svc.CreateGoal(ctx, "Next week")
	require.NoError(t, err)
	clk.advance(-7 * 24 * time.Hour)

	dash, err := svc.Dashboard(ctx, domain.ActivityQuery{})
	require.NoError(t, err)

	ids := make([]int64, 0, len(dash.Activities))
	for _, a := range dash.Activities {
		ids = append(ids, a.ID)
	}
	require.ElementsMatch(t, []int64{open.ID, quiet.ID}, ids)
	require.Contains(t, dash.LatestUpdates, open.ID)
	require.NotContains(t, dash.LatestUpdates, quiet.ID)
	require.Equal(t, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), dash.WeekOf)
	require.Len(t, dash.Goals, 1)
	require.Equal(t, goal.ID, dash.Goals[0].ID)
	require.Len(t, dash.RecentUpdates, 1)

	closedOnly, err := svc.Dashboard(ctx, domain.ActivityQuery{Filter: domain.ActivityFilter{Status: domain.StatusClosed}})
	require.NoError(t, err)
	require.Len(t, closedOnly.Activities, 1)
}

func TestDashboardStats(t *testing.T) {
	svc, _, clk := newService(t)
	ctx := context.Background()

	// Updates on three consecutive days ending today, plus one eight days back.
	clk.advance(-8 * 24 * time.Hour)
	old := createOngoing(t, svc, domain.CreateActivityInput{Observations: "kickoff"})
	clk.advance(6 * 24 * time.Hour)
	blocked := createOngoing(t, svc, domain.CreateActivityInput{Priority: domain.PriorityHigh, BlockingPoints: "legal", Observations: "drafted"})
	clk.advance(24 * time.Hour)
	_, err := svc.AppendUpdate(ctx, blocked.ID, "sent for review", nil)
	require.NoError(t, err)
	clk.advance(24 * time.Hour)
	_, err = svc.AppendUpdate(ctx, old.ID, "still going", nil)
	require.NoError(t, err)
	na := createOngoing(t, svc, domain.CreateActivityInput{Priority: domain.PriorityHigh, Status: domain.StatusNA, BlockingPoints: "n/a"})
	require.NotZero(t, na.ID)

	stats, err := svc.DashboardStats(ctx)
	require.NoError(t, err)
	require.Equal(t, domain.DashboardStats{
		OngoingCounts:   domain.OngoingCounts{Active: 2, HighPriority: 1, WithBlockers: 1},
		StreakDays:      3,
		UpdatesThisWeek: 3,
	}, stats)

	clk.advance(24 * time.Hour)
	stats, err = svc.DashboardStats(ctx)
	require.NoError(t, err)
	require.Zero(t, stats.StreakDays)

	dash, err := svc.Dashboard(ctx, domain.ActivityQuery{})
	require.NoError(t, err)
	require.Equal(t, stats, dash.Stats)
}

func TestTimeline(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	ancient := createOngoing(t, svc, domain.CreateActivityInput{StartDate: time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)})
	closed := createOngoing(t, svc, domain.CreateActivityInput{
		Priority:    domain.PriorityLow,
		StartDate:   time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
		EndDate:     ptr(time.Date(2025, 2, 4, 0, 0, 0, 0, time.UTC)),
		Status:      domain.StatusClosed,
		ClosingNote: "done",
	})
	recent := createOngoing(t, svc, domain.CreateActivityInput{StartDate: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)})

	timeline, err := svc.Timeline(ctx, domain.TimelineQuery{RangeDays: domain.DefaultTimelineRangeDays})
	require.NoError(t, err)
	require.Len(t, timeline.Entries, 2)
	require.Equal(t, closed.ID, timeline.Entries[0].Activity.ID)
	require.Equal(t, 3, timeline.Entries[0].DurationDays)
	require.False(t, timeline.Entries[0].Open)
	require.Equal(t, recent.ID, timeline.Entries[1].Activity.ID)
	require.True(t, timeline.Entries[1].Open)
	require.Equal(t, time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC), timeline.Entries[1].End)
	require.Equal(t, 11, timeline.Entries[1].DurationDays)
	require.Equal(t, closed.StartDate, timeline.From)
	require.Equal(t, time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC), timeline.To)

	all, err := svc.Timeline(ctx, domain.TimelineQuery{})
	require.NoError(t, err)
	require.Len(t, all.Entries, 3)
	require.Equal(t, ancient.ID, all.Entries[0].Activity.ID)

	low, err := svc.Timeline(ctx, domain.TimelineQuery{Priority: domain.PriorityLow, Status: domain.StatusClosed})
	require.NoError(t, err)
	require.Len(t, low.Entries, 1)

	none, err := svc.Timeline(ctx, domain.TimelineQuery{Status: "Archived"})
	require.NoError(t, err)
	require.Empty(t, none.Entries)
	require.True(t, none.From.IsZero())
}

func TestToggleGoal(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	goal, err := svc.CreateGoal(ctx, "Read a paper")
	require.NoError(t, err)

	toggled, err := svc.ToggleGoal(ctx, goal.ID)
	require.NoError(t, err)
	require.True(t, toggled.Completed)

	_, err = svc.ToggleGoal(ctx, 9999)
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = svc.CreateGoal(ctx, "")
	var validation *domain.ValidationError
	require.True(t, errors.As(err, &validation))
}

func ptr[T any](v T) *T { return &v }
