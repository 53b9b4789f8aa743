package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/huandu/go-sqlbuilder"
	"github.com/jackc/pgx/v5"

	"example.com/tracker/internal/domain"
	"example.com/tracker/internal/events"
)

// CreateGoal inserts a goal and records a goal.created event.
func (r *Repository) CreateGoal(ctx context.Context, goal domain.Goal) (created domain.Goal, err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Goal{}, mapError(err)
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto("goals")
	ib.Cols("text", "week_of", "completed", "created_at")
	ib.Values(goal.Text, goal.WeekOf, goal.Completed, goal.CreatedAt)
	ib.SQL("RETURNING id")

	query, args := ib.Build()
	if err = tx.QueryRow(ctx, query, args...).Scan(&goal.ID); err != nil {
		return domain.Goal{}, mapError(err)
	}

	if err = insertOutbox(ctx, tx, goal.ID, events.TypeGoalCreated, goalEvent(goal, goal.CreatedAt)); err != nil {
		return domain.Goal{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return domain.Goal{}, mapError(err)
	}
	return goal, nil
}

// ToggleGoal flips the completed flag. Absent ids return nil, nil.
func (r *Repository) ToggleGoal(ctx context.Context, id int64, at time.Time) (toggled *domain.Goal, err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, mapError(err)
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	var goal domain.Goal
	err = tx.QueryRow(ctx,
		`UPDATE goals SET completed = NOT completed WHERE id = $1
         RETURNING id, text, week_of, completed, created_at`, id,
	).Scan(&goal.ID, &goal.Text, &goal.WeekOf, &goal.Completed, &goal.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = tx.Rollback(ctx)
			return nil, mapError(err)
		}
		return nil, mapError(err)
	}

	if err = insertOutbox(ctx, tx, goal.ID, events.TypeGoalToggled, goalEvent(goal, at)); err != nil {
		return nil, err
	}
	if err = tx.Commit(ctx); err != nil {
		return nil, mapError(err)
	}
	return &goal, nil
}

// ListGoals returns the goals of one week, open goals first.
func (r *Repository) ListGoals(ctx context.Context, weekOf time.Time) ([]domain.Goal, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "text", "week_of", "completed", "created_at")
	sb.From("goals")
	sb.Where(sb.Equal("week_of", domain.DateOf(weekOf)))
	sb.OrderBy("completed ASC", "id ASC")

	query, args := sb.Build()
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	out := make([]domain.Goal, 0)
	for rows.Next() {
		var g domain.Goal
		if err := rows.Scan(&g.ID, &g.Text, &g.WeekOf, &g.Completed, &g.CreatedAt); err != nil {
			return nil, mapError(err)
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return out, nil
}

func goalEvent(goal domain.Goal, at time.Time) events.GoalChanged {
	return events.GoalChanged{
		GoalID:     goal.ID,
		Text:       goal.Text,
		WeekOf:     goal.WeekOf,
		Completed:  goal.Completed,
		OccurredAt: at,
		Version:    events.Version,
	}
}
