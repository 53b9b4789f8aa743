package api

import (
	"time"

	"example.com/tracker/internal/analytics"
	"example.com/tracker/internal/domain"
)

// ActivityView exposes full details about an activity.
type ActivityView struct {
	ID             int64     `json:"id"`
	Description    string    `json:"description"`
	Priority       string    `json:"priority"`
	Status         string    `json:"status"`
	Source         string    `json:"source"`
	StartDate      string    `json:"start_date"`
	EndDate        *string   `json:"end_date"`
	BlockingPoints string    `json:"blocking_points"`
	Observations   string    `json:"observations"`
	Tags           []string  `json:"tags"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// UpdateView is one progress note.
type UpdateView struct {
	ID         int64     `json:"id"`
	ActivityID int64     `json:"activity_id"`
	Text       string    `json:"text"`
	BPSnapshot string    `json:"bp_snapshot"`
	CreatedAt  time.Time `json:"created_at"`
}

// GoalView is one weekly goal.
type GoalView struct {
	ID        int64     `json:"id"`
	Text      string    `json:"text"`
	WeekOf    string    `json:"week_of"`
	Completed bool      `json:"completed"`
	CreatedAt time.Time `json:"created_at"`
}

// ActivityDetailView is the response of GET /v1/activities/{id}.
type ActivityDetailView struct {
	Activity        ActivityView `json:"activity"`
	Updates         []UpdateView `json:"updates"`
	DaysActive      int          `json:"days_active"`
	DaysSinceUpdate *int         `json:"days_since_update"`
}

// ListActivitiesResponse packages list results.
type ListActivitiesResponse struct {
	Items []ActivityView `json:"items"`
}

// ListGoalsResponse packages goal results.
type ListGoalsResponse struct {
	Items []GoalView `json:"items"`
}

// BulkResponse reports how many activities a bulk write touched.
type BulkResponse struct {
	Updated int `json:"updated"`
}

// DashboardItem is an activity row with its most recent update, if any.
type DashboardItem struct {
	ActivityView
	LatestUpdate *UpdateView `json:"latest_update"`
}

// DashboardView is the response of GET /v1/dashboard.
type DashboardView struct {
	Activities    []DashboardItem `json:"activities"`
	Goals         []GoalView      `json:"goals"`
	RecentUpdates []UpdateView    `json:"recent_updates"`
	Stats         DashboardStats  `json:"stats"`
	WeekOf        string          `json:"week_of"`
}

// DashboardStats holds the dashboard's headline figures.
type DashboardStats struct {
	ActiveCount       int `json:"active_count"`
	HighPriorityCount int `json:"high_priority_count"`
	BlockerCount      int `json:"blocker_count"`
	StreakDays        int `json:"streak_days"`
	UpdatesThisWeek   int `json:"updates_this_week"`
}

// TimelineEntryView is one bar of GET /v1/timeline.
type TimelineEntryView struct {
	ActivityView
	End          string `json:"end"`
	Open         bool   `json:"open"`
	DurationDays int    `json:"duration_days"`
}

// TimelineView is the response of GET /v1/timeline. From and To are empty when
// no activity matched.
type TimelineView struct {
	From    string              `json:"from,omitempty"`
	To      string              `json:"to,omitempty"`
	Entries []TimelineEntryView `json:"entries"`
}

// AnalyticsView is the response of GET /v1/analytics.
type AnalyticsView struct {
	GeneratedAt           time.Time                  `json:"generated_at"`
	Summary               SummaryView                `json:"summary"`
	StatusDistribution    map[string]int             `json:"status_distribution"`
	PriorityDistribution  map[string]int             `json:"priority_distribution"`
	CompletionVelocity    []VelocityView             `json:"completion_velocity"`
	AvgDurationByPriority map[string]AvgDurationView `json:"avg_duration_by_priority"`
	StaleActivities       []StaleView                `json:"stale_activities"`
	LongRunningActivities []LongRunningView          `json:"long_running_activities"`
	TagFrequency          map[string]int             `json:"tag_frequency"`
	TopTags               []TagView                  `json:"top_tags"`
}

// SummaryView holds headline counts.
type SummaryView struct {
	Total              int      `json:"total"`
	Ongoing            int      `json:"ongoing"`
	CompletedThisMonth int      `json:"completed_this_month"`
	CompletedLastMonth int      `json:"completed_last_month"`
	WithBlockers       int      `json:"with_blockers"`
	BlockerPercentage  float64  `json:"blocker_percentage"`
	AvgDaysToComplete  *float64 `json:"avg_days_to_complete"`
}

type VelocityView struct {
	Start string `json:"start"`
	End   string `json:"end"`
	Count int    `json:"count"`
}

type AvgDurationView struct {
	Days    *float64 `json:"days"`
	Samples int      `json:"samples"`
}

type StaleView struct {
	ID              int64     `json:"id"`
	Description     string    `json:"description"`
	Priority        string    `json:"priority"`
	LastTouchedAt   time.Time `json:"last_touched_at"`
	DaysSinceUpdate int       `json:"days_since_update"`
	NeverUpdated    bool      `json:"never_updated"`
}

type LongRunningView struct {
	ID          int64  `json:"id"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
	StartDate   string `json:"start_date"`
	DaysRunning int    `json:"days_running"`
}

type TagView struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}

// topTagsInView bounds the ranked tag list; tag_frequency still carries every tag.
const topTagsInView = 10

func formatDate(t time.Time) string {
	return t.Format(time.DateOnly)
}

func toActivityView(a domain.Activity) ActivityView {
	view := ActivityView{
		ID:             a.ID,
		Description:    a.Description,
		Priority:       string(a.Priority),
		Status:         string(a.Status),
		Source:         a.Source,
		StartDate:      formatDate(a.StartDate),
		BlockingPoints: a.BlockingPoints,
		Observations:   a.Observations,
		Tags:           a.TagList(),
		CreatedAt:      a.CreatedAt,
		UpdatedAt:      a.UpdatedAt,
	}
	if view.Tags == nil {
		view.Tags = []string{}
	}
	if a.EndDate != nil {
		end := formatDate(*a.EndDate)
		view.EndDate = &end
	}
	return view
}

func toActivityViews(activities []domain.Activity) []ActivityView {
	out := make([]ActivityView, 0, len(activities))
	for _, a := range activities {
		out = append(out, toActivityView(a))
	}
	return out
}

func toUpdateView(u domain.Update) UpdateView {
	return UpdateView{
		ID:         u.ID,
		ActivityID: u.ActivityID,
		Text:       u.Text,
		BPSnapshot: u.BPSnapshot,
		CreatedAt:  u.CreatedAt,
	}
}

func toUpdateViews(updates []domain.Update) []UpdateView {
	out := make([]UpdateView, 0, len(updates))
	for _, u := range updates {
		out = append(out, toUpdateView(u))
	}
	return out
}

func toGoalView(g domain.Goal) GoalView {
	return GoalView{
		ID:        g.ID,
		Text:      g.Text,
		WeekOf:    formatDate(g.WeekOf),
		Completed: g.Completed,
		CreatedAt: g.CreatedAt,
	}
}

func toGoalViews(goals []domain.Goal) []GoalView {
	out := make([]GoalView, 0, len(goals))
	for _, g := range goals {
		out = append(out, toGoalView(g))
	}
	return out
}

func toDashboardView(d *domain.Dashboard) DashboardView {
	items := make([]DashboardItem, 0, len(d.Activities))
	for _, a := range d.Activities {
		item := DashboardItem{ActivityView: toActivityView(a)}
		if u, ok := d.LatestUpdates[a.ID]; ok {
			view := toUpdateView(u)
			item.LatestUpdate = &view
		}
		items = append(items, item)
	}
	return DashboardView{
		Activities:    items,
		Goals:         toGoalViews(d.Goals),
		RecentUpdates: toUpdateViews(d.RecentUpdates),
		Stats: DashboardStats{
			ActiveCount:       d.Stats.Active,
			HighPriorityCount: d.Stats.HighPriority,
			BlockerCount:      d.Stats.WithBlockers,
			StreakDays:        d.Stats.StreakDays,
			UpdatesThisWeek:   d.Stats.UpdatesThisWeek,
		},
		WeekOf: formatDate(d.WeekOf),
	}
}

func toTimelineView(t *domain.Timeline) TimelineView {
	view := TimelineView{Entries: make([]TimelineEntryView, 0, len(t.Entries))}
	for _, e := range t.Entries {
		view.Entries = append(view.Entries, TimelineEntryView{
			ActivityView: toActivityView(e.Activity),
			End:          formatDate(e.End),
			Open:         e.Open,
			DurationDays: e.DurationDays,
		})
	}
	if len(t.Entries) > 0 {
		view.From = formatDate(t.From)
		view.To = formatDate(t.To)
	}
	return view
}

func toAnalyticsView(s *analytics.Snapshot) AnalyticsView {
	view := AnalyticsView{
		GeneratedAt: s.GeneratedAt,
		Summary: SummaryView{
			Total:              s.Summary.Total,
			Ongoing:            s.Summary.Ongoing,
			CompletedThisMonth: s.Summary.CompletedThisMonth,
			CompletedLastMonth: s.Summary.CompletedLastMonth,
			WithBlockers:       s.Summary.WithBlockers,
			BlockerPercentage:  s.Summary.BlockerPercentage,
			AvgDaysToComplete:  s.Summary.AvgDaysToComplete,
		},
		StatusDistribution:    make(map[string]int, len(s.StatusDistribution)),
		PriorityDistribution:  make(map[string]int, len(s.PriorityDistribution)),
		CompletionVelocity:    make([]VelocityView, 0, len(s.CompletionVelocity)),
		AvgDurationByPriority: make(map[string]AvgDurationView, len(s.AvgDurationByPriority)),
		StaleActivities:       make([]StaleView, 0, len(s.StaleActivities)),
		LongRunningActivities: make([]LongRunningView, 0, len(s.LongRunningActivities)),
		TagFrequency:          make(map[string]int, len(s.TagFrequency)),
		TopTags:               make([]TagView, 0, topTagsInView),
	}

	for status, n := range s.StatusDistribution {
		view.StatusDistribution[string(status)] = n
	}
	for priority, n := range s.PriorityDistribution {
		view.PriorityDistribution[string(priority)] = n
	}
	for _, b := range s.CompletionVelocity {
		view.CompletionVelocity = append(view.CompletionVelocity, VelocityView{
			Start: formatDate(b.Start),
			End:   formatDate(b.End),
			Count: b.Count,
		})
	}
	for priority, avg := range s.AvgDurationByPriority {
		view.AvgDurationByPriority[string(priority)] = AvgDurationView{Days: avg.Days, Samples: avg.Samples}
	}
	for _, a := range s.StaleActivities {
		view.StaleActivities = append(view.StaleActivities, StaleView{
			ID:              a.ID,
			Description:     a.Description,
			Priority:        string(a.Priority),
			LastTouchedAt:   a.LastTouchedAt,
			DaysSinceUpdate: a.DaysSinceUpdate,
			NeverUpdated:    a.NeverUpdated,
		})
	}
	for _, a := range s.LongRunningActivities {
		view.LongRunningActivities = append(view.LongRunningActivities, LongRunningView{
			ID:          a.ID,
			Description: a.Description,
			Priority:    string(a.Priority),
			StartDate:   formatDate(a.StartDate),
			DaysRunning: a.DaysRunning,
		})
	}
	for tag, n := range s.TagFrequency {
		view.TagFrequency[tag] = n
	}
	for _, tc := range s.TopTags(topTagsInView) {
		view.TopTags = append(view.TopTags, TagView{Tag: tc.Tag, Count: tc.Count})
	}
	return view
}
