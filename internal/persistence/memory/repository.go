// Package memory is an in-process record store used by tests and by local runs
// without a Postgres URL.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"example.com/tracker/internal/analytics"
	"example.com/tracker/internal/domain"
)

// Repository stores activities, updates and goals in maps guarded by one lock.
type Repository struct {
	mu         sync.RWMutex
	activities map[int64]domain.Activity
	updates    map[int64]domain.Update
	goals      map[int64]domain.Goal
	nextID     int64
}

// NewRepository constructs an empty Repository.
func NewRepository() *Repository {
	return &Repository{
		activities: make(map[int64]domain.Activity),
		updates:    make(map[int64]domain.Update),
		goals:      make(map[int64]domain.Goal),
	}
}

func (r *Repository) allocID() int64 {
	r.nextID++
	return r.nextID
}

// CreateActivity implements domain.ActivityRepository.
func (r *Repository) CreateActivity(ctx context.Context, change domain.ActivityChange) (domain.Activity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	activity := change.Activity
	activity.ID = r.allocID()
	r.activities[activity.ID] = activity
	r.appendUpdates(activity.ID, change.Updates)
	return activity, nil
}

// GetActivity implements domain.ActivityRepository. Absent ids return nil, nil.
func (r *Repository) GetActivity(ctx context.Context, id int64) (*domain.Activity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	activity, ok := r.activities[id]
	if !ok {
		return nil, nil
	}
	return &activity, nil
}

// SaveActivities implements domain.ActivityRepository. Nothing is written when any
// activity is missing.
func (r *Repository) SaveActivities(ctx context.Context, changes []domain.ActivityChange) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, change := range changes {
		if _, ok := r.activities[change.Activity.ID]; !ok {
			return &domain.NotFoundError{Entity: "activity", ID: change.Activity.ID}
		}
	}
	for _, change := range changes {
		r.activities[change.Activity.ID] = change.Activity
		r.appendUpdates(change.Activity.ID, change.Updates)
	}
	return nil
}

func (r *Repository) appendUpdates(activityID int64, updates []domain.Update) {
	for i := range updates {
		updates[i].ID = r.allocID()
		updates[i].ActivityID = activityID
		r.updates[updates[i].ID] = updates[i]
	}
}

// DeleteActivity implements domain.ActivityRepository, cascading to updates.
func (r *Repository) DeleteActivity(ctx context.Context, id int64, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.activities[id]; !ok {
		return false, nil
	}
	delete(r.activities, id)
	for updateID, update := range r.updates {
		if update.ActivityID == id {
			delete(r.updates, updateID)
		}
	}
	return true, nil
}

// UpdatePriority implements domain.ActivityRepository.
func (r *Repository) UpdatePriority(ctx context.Context, ids []int64, priority domain.Priority, at time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	updated := 0
	for _, id := range ids {
		activity, ok := r.activities[id]
		if !ok {
			continue
		}
		activity.Priority = priority
		activity.UpdatedAt = at
		r.activities[id] = activity
		updated++
	}
	return updated, nil
}

// ListActivities implements domain.ActivityRepository. query must be normalized.
func (r *Repository) ListActivities(ctx context.Context, query domain.ActivityQuery) ([]domain.Activity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Activity, 0, len(r.activities))
	for _, activity := range r.activities {
		if query.Matches(activity) {
			out = append(out, activity)
		}
	}
	sort.Slice(out, func(i, j int) bool { return query.Less(out[i], out[j]) })
	return out, nil
}

// ListUpdates implements domain.ActivityRepository, newest first.
func (r *Repository) ListUpdates(ctx context.Context, activityID int64) ([]domain.Update, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Update, 0)
	for _, update := range r.updates {
		if update.ActivityID == activityID {
			out = append(out, update)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

// LatestUpdatePerActivity implements domain.ActivityRepository.
func (r *Repository) LatestUpdatePerActivity(ctx context.Context, ids []int64) (map[int64]domain.Update, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	wanted := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}
	latest := latestByActivity(r.updates, wanted)
	return latest, nil
}

// RecentUpdates implements domain.ActivityRepository. Updates of closed activities are skipped.
func (r *Repository) RecentUpdates(ctx context.Context, limit int) ([]domain.Update, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Update, 0)
	for _, update := range r.updates {
		if activity, ok := r.activities[update.ActivityID]; ok && activity.Status != domain.StatusClosed {
			out = append(out, update)
		}
	}
	sortNewestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CountOngoing implements domain.ActivityRepository.
func (r *Repository) CountOngoing(ctx context.Context) (domain.OngoingCounts, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var counts domain.OngoingCounts
	for _, activity := range r.activities {
		if activity.Status != domain.StatusOngoing {
			continue
		}
		counts.Active++
		if activity.Priority == domain.PriorityHigh {
			counts.HighPriority++
		}
		if activity.HasBlockers() {
			counts.WithBlockers++
		}
	}
	return counts, nil
}

// UpdateDays implements domain.ActivityRepository.
func (r *Repository) UpdateDays(ctx context.Context, until time.Time) ([]time.Time, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	until = domain.DateOf(until)
	seen := make(map[time.Time]struct{})
	out := make([]time.Time, 0)
	for _, update := range r.updates {
		day := domain.DateOf(update.CreatedAt)
		if day.After(until) {
			continue
		}
		if _, ok := seen[day]; ok {
			continue
		}
		seen[day] = struct{}{}
		out = append(out, day)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].After(out[j]) })
	return out, nil
}

// CountUpdatesSince implements domain.ActivityRepository. since is a UTC date.
func (r *Repository) CountUpdatesSince(ctx context.Context, since time.Time) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, update := range r.updates {
		if !update.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

// CreateGoal implements domain.GoalRepository.
func (r *Repository) CreateGoal(ctx context.Context, goal domain.Goal) (domain.Goal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	goal.ID = r.allocID()
	r.goals[goal.ID] = goal
	return goal, nil
}

// ToggleGoal implements domain.GoalRepository.
func (r *Repository) ToggleGoal(ctx context.Context, id int64, at time.Time) (*domain.Goal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	goal, ok := r.goals[id]
	if !ok {
		return nil, nil
	}
	goal.Completed = !goal.Completed
	r.goals[id] = goal
	return &goal, nil
}

// ListGoals implements domain.GoalRepository.
func (r *Repository) ListGoals(ctx context.Context, weekOf time.Time) ([]domain.Goal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Goal, 0)
	for _, goal := range r.goals {
		if goal.WeekOf.Equal(weekOf) {
			out = append(out, goal)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Completed != out[j].Completed {
			return !out[i].Completed
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// ReadSnapshot implements analytics.Store. fn sees a frozen copy of the data, so
// concurrent writes cannot tear a computation.
func (r *Repository) ReadSnapshot(ctx context.Context, fn func(analytics.Source) error) error {
	r.mu.RLock()
	v := &view{
		activities: make([]domain.Activity, 0, len(r.activities)),
		updates:    make(map[int64]domain.Update, len(r.updates)),
	}
	for _, activity := range r.activities {
		v.activities = append(v.activities, activity)
	}
	for id, update := range r.updates {
		v.updates[id] = update
	}
	r.mu.RUnlock()

	sort.Slice(v.activities, func(i, j int) bool { return v.activities[i].ID < v.activities[j].ID })
	return fn(v)
}

func latestByActivity(updates map[int64]domain.Update, wanted map[int64]struct{}) map[int64]domain.Update {
	latest := make(map[int64]domain.Update)
	for _, update := range updates {
		if wanted != nil {
			if _, ok := wanted[update.ActivityID]; !ok {
				continue
			}
		}
		current, ok := latest[update.ActivityID]
		if !ok || newer(update, current) {
			latest[update.ActivityID] = update
		}
	}
	return latest
}

// newer orders by created_at, then by id for identical timestamps.
func newer(a, b domain.Update) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

func sortNewestFirst(updates []domain.Update) {
	sort.Slice(updates, func(i, j int) bool { return newer(updates[i], updates[j]) })
}
