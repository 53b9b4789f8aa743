// Package domain defines the business logic for the activity tracker.
package domain

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ClosedUpdatePrefix marks the update written when an activity is closed.
const ClosedUpdatePrefix = "[CLOSED] "

// ActivityChange is an activity row together with the updates written in the same transaction.
type ActivityChange struct {
	Activity Activity
	// Previous is the status before the write; empty for new activities.
	Previous Status
	Updates  []Update
}

// ActivityRepository captures persistence operations on activities and their updates.
// CreateActivity and SaveActivities write the assigned ids back into change.Updates.
type ActivityRepository interface {
	CreateActivity(ctx context.Context, change ActivityChange) (Activity, error)
	GetActivity(ctx context.Context, id int64) (*Activity, error)
	SaveActivities(ctx context.Context, changes []ActivityChange) error
	DeleteActivity(ctx context.Context, id int64, at time.Time) (bool, error)
	UpdatePriority(ctx context.Context, ids []int64, priority Priority, at time.Time) (int, error)
	ListActivities(ctx context.Context, query ActivityQuery) ([]Activity, error)
	ListUpdates(ctx context.Context, activityID int64) ([]Update, error)
	LatestUpdatePerActivity(ctx context.Context, ids []int64) (map[int64]Update, error)
	RecentUpdates(ctx context.Context, limit int) ([]Update, error)
	CountOngoing(ctx context.Context) (OngoingCounts, error)
	// UpdateDays returns the distinct UTC dates on or before until that carry an
	// update, newest first.
	UpdateDays(ctx context.Context, until time.Time) ([]time.Time, error)
	CountUpdatesSince(ctx context.Context, since time.Time) (int, error)
}

// GoalRepository captures persistence operations on weekly goals.
type GoalRepository interface {
	CreateGoal(ctx context.Context, goal Goal) (Goal, error)
	ToggleGoal(ctx context.Context, id int64, at time.Time) (*Goal, error)
	ListGoals(ctx context.Context, weekOf time.Time) ([]Goal, error)
}

// Repository is the full record store.
type Repository interface {
	ActivityRepository
	GoalRepository
}

// Service orchestrates activity workflows.
type Service struct {
	repo   Repository
	logger zerolog.Logger
	now    func() time.Time
}

// Option customises a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithClock overrides the wall-clock source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService constructs a Service.
func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{repo: repo, logger: zerolog.Nop(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateActivityInput captures the payload from the API layer.
type CreateActivityInput struct {
	Description    string
	Priority       Priority
	Status         Status
	Source         string
	StartDate      time.Time
	EndDate        *time.Time
	BlockingPoints string
	Observations   string
	Tags           string
	ClosingNote    string
}

// EditActivityInput replaces every editable field of an activity.
type EditActivityInput struct {
	Description    string
	Priority       Priority
	Status         Status
	Source         string
	StartDate      time.Time
	EndDate        *time.Time
	BlockingPoints string
	Observations   string
	Tags           string
	NewUpdate      string
	ClosingNote    string
}

// CreateActivity stores a new activity. Non-empty observations become its first update.
func (s *Service) CreateActivity(ctx context.Context, input CreateActivityInput) (*Activity, error) {
	now := s.now().UTC()
	activity := Activity{
		Description:    strings.TrimSpace(input.Description),
		Priority:       input.Priority,
		Status:         input.Status,
		Source:         strings.TrimSpace(input.Source),
		StartDate:      input.StartDate,
		EndDate:        input.EndDate,
		BlockingPoints: strings.TrimSpace(input.BlockingPoints),
		Observations:   strings.TrimSpace(input.Observations),
		Tags:           strings.TrimSpace(input.Tags),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if activity.Priority == "" {
		activity.Priority = PriorityMedium
	}
	if activity.Status == "" {
		activity.Status = StatusOngoing
	}
	if err := validateActivity(&activity); err != nil {
		return nil, err
	}

	change := ActivityChange{Activity: activity}
	if activity.Observations != "" {
		change.Updates = append(change.Updates, s.newUpdate(activity, activity.Observations, now))
	}
	if err := s.applyTransition(&change, "", input.ClosingNote, now); err != nil {
		return nil, err
	}

	created, err := s.repo.CreateActivity(ctx, change)
	if err != nil {
		return nil, fmt.Errorf("create activity: %w", err)
	}

	s.logger.Info().
		Int64("activity_id", created.ID).
		Str("status", string(created.Status)).
		Msg("activity created")
	return &created, nil
}

// GetActivity returns a single activity or a *NotFoundError.
func (s *Service) GetActivity(ctx context.Context, id int64) (*Activity, error) {
	activity, err := s.repo.GetActivity(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get activity: %w", err)
	}
	if activity == nil {
		return nil, &NotFoundError{Entity: "activity", ID: id}
	}
	return activity, nil
}

// ActivityDetail is an activity with its update history and derived stats.
type ActivityDetail struct {
	Activity        Activity
	Updates         []Update
	DaysActive      int
	DaysSinceUpdate *int
}

// GetActivityDetail returns the activity with its updates newest first.
func (s *Service) GetActivityDetail(ctx context.Context, id int64) (*ActivityDetail, error) {
	activity, err := s.GetActivity(ctx, id)
	if err != nil {
		return nil, err
	}
	updates, err := s.repo.ListUpdates(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list updates: %w", err)
	}

	now := s.now().UTC()
	until := now
	if activity.EndDate != nil {
		until = *activity.EndDate
	}
	detail := &ActivityDetail{
		Activity:   *activity,
		Updates:    updates,
		DaysActive: DaysBetween(activity.StartDate, until),
	}
	if len(updates) > 0 {
		days := DaysBetween(updates[0].CreatedAt, now)
		detail.DaysSinceUpdate = &days
	}
	return detail, nil
}

// EditActivity replaces an activity's fields and optionally appends an update.
func (s *Service) EditActivity(ctx context.Context, id int64, input EditActivityInput) (*Activity, error) {
	current, err := s.GetActivity(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	activity := *current
	activity.Description = strings.TrimSpace(input.Description)
	activity.Priority = input.Priority
	activity.Status = input.Status
	activity.Source = strings.TrimSpace(input.Source)
	activity.StartDate = input.StartDate
	activity.EndDate = input.EndDate
	activity.BlockingPoints = strings.TrimSpace(input.BlockingPoints)
	activity.Observations = strings.TrimSpace(input.Observations)
	activity.Tags = strings.TrimSpace(input.Tags)
	activity.UpdatedAt = now
	if activity.Priority == "" {
		activity.Priority = current.Priority
	}
	if activity.Status == "" {
		activity.Status = current.Status
	}
	if err := validateActivity(&activity); err != nil {
		return nil, err
	}

	change := ActivityChange{Activity: activity, Previous: current.Status}
	if text := strings.TrimSpace(input.NewUpdate); text != "" {
		change.Updates = append(change.Updates, s.newUpdate(activity, text, now))
	}
	if err := s.applyTransition(&change, current.Status, input.ClosingNote, now); err != nil {
		return nil, err
	}

	if err := s.repo.SaveActivities(ctx, []ActivityChange{change}); err != nil {
		return nil, fmt.Errorf("save activity: %w", err)
	}
	s.logger.Info().Int64("activity_id", id).Msg("activity edited")
	return &change.Activity, nil
}

// ChangeStatus moves an activity to status. Closing requires a note.
func (s *Service) ChangeStatus(ctx context.Context, id int64, status Status, closingNote string) (*Activity, error) {
	if !status.Valid() {
		return nil, invalid("status", fmt.Sprintf("unknown status %q", status))
	}
	current, err := s.GetActivity(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	change := ActivityChange{Activity: *current, Previous: current.Status}
	change.Activity.Status = status
	change.Activity.UpdatedAt = now
	if err := s.applyTransition(&change, current.Status, closingNote, now); err != nil {
		return nil, err
	}

	if err := s.repo.SaveActivities(ctx, []ActivityChange{change}); err != nil {
		return nil, fmt.Errorf("change status: %w", err)
	}
	s.logger.Info().
		Int64("activity_id", id).
		Str("from", string(current.Status)).
		Str("to", string(status)).
		Msg("activity status changed")
	return &change.Activity, nil
}

// AppendUpdate records a progress note. A non-nil blockingPoints replaces the
// activity's blocking points before they are snapshotted onto the update.
func (s *Service) AppendUpdate(ctx context.Context, id int64, text string, blockingPoints *string) (*Update, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, invalid("text", "update text is required")
	}
	current, err := s.GetActivity(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	activity := *current
	if blockingPoints != nil {
		activity.BlockingPoints = strings.TrimSpace(*blockingPoints)
	}
	activity.Observations = text
	activity.UpdatedAt = now

	update := s.newUpdate(activity, text, now)
	change := ActivityChange{Activity: activity, Previous: current.Status, Updates: []Update{update}}
	if err := s.repo.SaveActivities(ctx, []ActivityChange{change}); err != nil {
		return nil, fmt.Errorf("append update: %w", err)
	}
	s.logger.Info().Int64("activity_id", id).Msg("update appended")
	return &change.Updates[0], nil
}

// DeleteActivity removes an activity and, by cascade, its updates.
func (s *Service) DeleteActivity(ctx context.Context, id int64) error {
	deleted, err := s.repo.DeleteActivity(ctx, id, s.now().UTC())
	if err != nil {
		return fmt.Errorf("delete activity: %w", err)
	}
	if !deleted {
		return &NotFoundError{Entity: "activity", ID: id}
	}
	s.logger.Info().Int64("activity_id", id).Msg("activity deleted")
	return nil
}

// BulkUpdatePriority sets priority on every listed activity and returns how many changed.
func (s *Service) BulkUpdatePriority(ctx context.Context, ids []int64, priority Priority) (int, error) {
	if !priority.Valid() {
		return 0, invalid("priority", fmt.Sprintf("unknown priority %q", priority))
	}
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return 0, nil
	}
	updated, err := s.repo.UpdatePriority(ctx, ids, priority, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("bulk update priority: %w", err)
	}
	s.logger.Info().Int("count", updated).Str("priority", string(priority)).Msg("bulk priority update")
	return updated, nil
}

// BulkChangeStatus applies ChangeStatus semantics to every listed activity in one
// transaction. Unknown ids are skipped. Returns how many activities were written.
func (s *Service) BulkChangeStatus(ctx context.Context, ids []int64, status Status, closingNote string) (int, error) {
	if !status.Valid() {
		return 0, invalid("status", fmt.Sprintf("unknown status %q", status))
	}
	now := s.now().UTC()
	changes := make([]ActivityChange, 0, len(ids))
	for _, id := range uniqueIDs(ids) {
		current, err := s.repo.GetActivity(ctx, id)
		if err != nil {
			return 0, fmt.Errorf("bulk change status: %w", err)
		}
		if current == nil {
			continue
		}
		change := ActivityChange{Activity: *current, Previous: current.Status}
		change.Activity.Status = status
		change.Activity.UpdatedAt = now
		if err := s.applyTransition(&change, current.Status, closingNote, now); err != nil {
			return 0, err
		}
		changes = append(changes, change)
	}
	if len(changes) == 0 {
		return 0, nil
	}
	if err := s.repo.SaveActivities(ctx, changes); err != nil {
		return 0, fmt.Errorf("bulk change status: %w", err)
	}
	s.logger.Info().Int("count", len(changes)).Str("status", string(status)).Msg("bulk status change")
	return len(changes), nil
}

// ListActivities returns activities matching query. Unknown sort fields or
// directions yield *InvalidQueryError.
func (s *Service) ListActivities(ctx context.Context, query ActivityQuery) ([]Activity, error) {
	normalized, err := query.Normalize()
	if err != nil {
		return nil, err
	}
	activities, err := s.repo.ListActivities(ctx, normalized)
	if err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}
	return activities, nil
}

// LatestUpdatePerActivity returns the most recent update for each id that has one.
func (s *Service) LatestUpdatePerActivity(ctx context.Context, ids []int64) (map[int64]Update, error) {
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return map[int64]Update{}, nil
	}
	latest, err := s.repo.LatestUpdatePerActivity(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("latest updates: %w", err)
	}
	return latest, nil
}

// Search runs a quick free-text lookup capped at limit rows, ordered by SearchLess.
func (s *Service) Search(ctx context.Context, term string, limit int) ([]Activity, error) {
	term = NormalizeSearch(term)
	if term == "" {
		return []Activity{}, nil
	}
	activities, err := s.ListActivities(ctx, ActivityQuery{Search: term})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(activities, func(i, j int) bool { return SearchLess(activities[i], activities[j]) })
	if limit > 0 && len(activities) > limit {
		activities = activities[:limit]
	}
	return activities, nil
}

// Dashboard is the read model behind the landing view.
type Dashboard struct {
	Activities    []Activity
	LatestUpdates map[int64]Update
	Goals         []Goal
	RecentUpdates []Update
	Stats         DashboardStats
	WeekOf        time.Time
}

// RecentUpdatesLimit bounds the dashboard's recent update feed.
const RecentUpdatesLimit = 10

// Dashboard lists open activities with their latest updates, this week's goals
// and the headline stats.
// Closed activities are hidden unless the query filters on a status explicitly.
func (s *Service) Dashboard(ctx context.Context, query ActivityQuery) (*Dashboard, error) {
	if query.Filter.Status == "" {
		query.Filter.ExcludeClosed = true
	}
	activities, err := s.ListActivities(ctx, query)
	if err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(activities))
	for _, a := range activities {
		ids = append(ids, a.ID)
	}
	latest, err := s.LatestUpdatePerActivity(ctx, ids)
	if err != nil {
		return nil, err
	}

	weekOf := WeekOf(s.now())
	goals, err := s.repo.ListGoals(ctx, weekOf)
	if err != nil {
		return nil, fmt.Errorf("list goals: %w", err)
	}
	recent, err := s.repo.RecentUpdates(ctx, RecentUpdatesLimit)
	if err != nil {
		return nil, fmt.Errorf("recent updates: %w", err)
	}
	stats, err := s.DashboardStats(ctx)
	if err != nil {
		return nil, err
	}

	return &Dashboard{
		Activities:    activities,
		LatestUpdates: latest,
		Goals:         goals,
		RecentUpdates: recent,
		Stats:         stats,
		WeekOf:        weekOf,
	}, nil
}

// CreateGoal adds a goal to the current week.
func (s *Service) CreateGoal(ctx context.Context, text string) (*Goal, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, invalid("text", "goal text is required")
	}
	now := s.now().UTC()
	goal, err := s.repo.CreateGoal(ctx, Goal{Text: text, WeekOf: WeekOf(now), CreatedAt: now})
	if err != nil {
		return nil, fmt.Errorf("create goal: %w", err)
	}
	return &goal, nil
}

// ToggleGoal flips a goal's completed flag.
func (s *Service) ToggleGoal(ctx context.Context, id int64) (*Goal, error) {
	goal, err := s.repo.ToggleGoal(ctx, id, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("toggle goal: %w", err)
	}
	if goal == nil {
		return nil, &NotFoundError{Entity: "goal", ID: id}
	}
	return goal, nil
}

// ListGoals returns the goals of the week containing weekOf; zero means the current week.
func (s *Service) ListGoals(ctx context.Context, weekOf time.Time) ([]Goal, error) {
	if weekOf.IsZero() {
		weekOf = s.now()
	}
	goals, err := s.repo.ListGoals(ctx, WeekOf(weekOf))
	if err != nil {
		return nil, fmt.Errorf("list goals: %w", err)
	}
	return goals, nil
}

// applyTransition enforces the closing rule for every write path. Entering Closed
// needs a note, stamps end_date with today when unset and records the note as
// both the closing update and the activity's observations.
func (s *Service) applyTransition(change *ActivityChange, previous Status, closingNote string, now time.Time) error {
	if change.Activity.Status != StatusClosed || previous == StatusClosed {
		return nil
	}
	note := strings.TrimSpace(closingNote)
	if note == "" {
		return &ValidationError{Field: "closing_note", Reason: ErrClosingNoteRequired.Error(), Err: ErrClosingNoteRequired}
	}
	if change.Activity.EndDate == nil {
		today := DateOf(now)
		if today.Before(change.Activity.StartDate) {
			today = change.Activity.StartDate
		}
		change.Activity.EndDate = &today
	}
	text := ClosedUpdatePrefix + note
	change.Activity.Observations = text
	change.Updates = append(change.Updates, s.newUpdate(change.Activity, text, now))
	return nil
}

func (s *Service) newUpdate(activity Activity, text string, now time.Time) Update {
	return Update{
		ActivityID: activity.ID,
		Text:       text,
		BPSnapshot: activity.BlockingPoints,
		CreatedAt:  now,
	}
}

func validateActivity(a *Activity) error {
	if a.Description == "" {
		return invalid("description", "description is required")
	}
	if !a.Priority.Valid() {
		return invalid("priority", fmt.Sprintf("unknown priority %q", a.Priority))
	}
	if !a.Status.Valid() {
		return invalid("status", fmt.Sprintf("unknown status %q", a.Status))
	}
	if a.StartDate.IsZero() {
		return invalid("start_date", "start date is required")
	}
	a.StartDate = DateOf(a.StartDate)
	if a.EndDate != nil {
		end := DateOf(*a.EndDate)
		if end.Before(a.StartDate) {
			return invalid("end_date", "end date must not precede start date")
		}
		a.EndDate = &end
	}
	return nil
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
