package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/huandu/go-sqlbuilder"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/tracker/internal/domain"
	"example.com/tracker/internal/events"
	"example.com/tracker/internal/observability"
)

// Repository provides Postgres-backed persistence for activities, updates, goals and outbox events.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var activityColumns = []string{
	"id", "description", "priority", "status", "source", "start_date", "end_date",
	"blocking_points", "observations", "tags", "created_at", "updated_at",
}

const selectActivity = `SELECT id, description, priority, status, source, start_date, end_date,
        blocking_points, observations, tags, created_at, updated_at
        FROM activities`

func scanActivity(row pgx.Row) (domain.Activity, error) {
	var a domain.Activity
	err := row.Scan(&a.ID, &a.Description, &a.Priority, &a.Status, &a.Source, &a.StartDate, &a.EndDate,
		&a.BlockingPoints, &a.Observations, &a.Tags, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

func scanUpdate(row pgx.Row) (domain.Update, error) {
	var u domain.Update
	err := row.Scan(&u.ID, &u.ActivityID, &u.Text, &u.BPSnapshot, &u.CreatedAt)
	return u, err
}

// CreateActivity persists the activity with its initial updates and outbox events inside a single transaction.
func (r *Repository) CreateActivity(ctx context.Context, change domain.ActivityChange) (created domain.Activity, err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Activity{}, mapError(err)
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	a := change.Activity
	const insertActivity = `INSERT INTO activities (description, priority, status, source, start_date, end_date,
        blocking_points, observations, tags, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
        RETURNING id`

	err = tx.QueryRow(ctx, insertActivity,
		a.Description, a.Priority, a.Status, a.Source, a.StartDate, a.EndDate,
		a.BlockingPoints, a.Observations, a.Tags, a.CreatedAt, a.UpdatedAt,
	).Scan(&a.ID)
	if err != nil {
		return domain.Activity{}, mapError(err)
	}

	if err = insertOutbox(ctx, tx, a.ID, events.TypeActivityCreated, events.ActivityCreated{
		ActivityID:  a.ID,
		Description: a.Description,
		Priority:    string(a.Priority),
		Status:      string(a.Status),
		StartDate:   a.StartDate,
		Tags:        a.Tags,
		Version:     events.Version,
	}); err != nil {
		return domain.Activity{}, err
	}

	if err = insertUpdates(ctx, tx, a.ID, change.Updates); err != nil {
		return domain.Activity{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return domain.Activity{}, mapError(err)
	}
	observability.RecordActivityPersisted(a.UpdatedAt)
	return a, nil
}

// GetActivity retrieves an activity by id. Absent ids return nil, nil.
func (r *Repository) GetActivity(ctx context.Context, id int64) (*domain.Activity, error) {
	a, err := scanActivity(r.pool.QueryRow(ctx, selectActivity+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, mapError(err)
	}
	return &a, nil
}

// SaveActivities rewrites each activity row and appends its updates in one
// transaction. A missing activity rolls everything back with *domain.NotFoundError.
func (r *Repository) SaveActivities(ctx context.Context, changes []domain.ActivityChange) (err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return mapError(err)
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	var latest time.Time
	for i := range changes {
		if err = saveActivity(ctx, tx, &changes[i]); err != nil {
			return err
		}
		if changes[i].Activity.UpdatedAt.After(latest) {
			latest = changes[i].Activity.UpdatedAt
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return mapError(err)
	}
	observability.RecordActivityPersisted(latest)
	return nil
}

func saveActivity(ctx context.Context, tx pgx.Tx, change *domain.ActivityChange) error {
	a := change.Activity

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update("activities")
	ub.Set(
		ub.Assign("description", a.Description),
		ub.Assign("priority", string(a.Priority)),
		ub.Assign("status", string(a.Status)),
		ub.Assign("source", a.Source),
		ub.Assign("start_date", a.StartDate),
		ub.Assign("end_date", a.EndDate),
		ub.Assign("blocking_points", a.BlockingPoints),
		ub.Assign("observations", a.Observations),
		ub.Assign("tags", a.Tags),
		ub.Assign("updated_at", a.UpdatedAt),
	)
	ub.Where(ub.Equal("id", a.ID))

	query, args := ub.Build()
	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return &domain.NotFoundError{Entity: "activity", ID: a.ID}
	}

	if err := insertOutbox(ctx, tx, a.ID, events.TypeActivityUpdated, events.ActivityUpdated{
		ActivityID: a.ID,
		Priority:   string(a.Priority),
		Status:     string(a.Status),
		EndDate:    a.EndDate,
		OccurredAt: a.UpdatedAt,
		Version:    events.Version,
	}); err != nil {
		return err
	}
	if change.Previous != "" && change.Previous != a.Status {
		if err := insertOutbox(ctx, tx, a.ID, events.TypeActivityStatusChanged, events.ActivityStatusChanged{
			ActivityID: a.ID,
			From:       string(change.Previous),
			To:         string(a.Status),
			OccurredAt: a.UpdatedAt,
			Version:    events.Version,
		}); err != nil {
			return err
		}
	}
	return insertUpdates(ctx, tx, a.ID, change.Updates)
}

func insertUpdates(ctx context.Context, tx pgx.Tx, activityID int64, updates []domain.Update) error {
	const stmt = `INSERT INTO updates (activity_id, text, bp_snapshot, created_at)
        VALUES ($1,$2,$3,$4)
        RETURNING id`

	for i := range updates {
		u := &updates[i]
		u.ActivityID = activityID
		if err := tx.QueryRow(ctx, stmt, activityID, u.Text, u.BPSnapshot, u.CreatedAt).Scan(&u.ID); err != nil {
			return mapError(err)
		}
		if err := insertOutbox(ctx, tx, activityID, events.TypeUpdateAppended, events.UpdateAppended{
			UpdateID:   u.ID,
			ActivityID: activityID,
			Text:       u.Text,
			BPSnapshot: u.BPSnapshot,
			CreatedAt:  u.CreatedAt,
			Version:    events.Version,
		}); err != nil {
			return err
		}
	}
	return nil
}

// DeleteActivity removes an activity; its updates go with it through ON DELETE CASCADE.
func (r *Repository) DeleteActivity(ctx context.Context, id int64, at time.Time) (deleted bool, err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, mapError(err)
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	tag, err := tx.Exec(ctx, `DELETE FROM activities WHERE id = $1`, id)
	if err != nil {
		return false, mapError(err)
	}
	if tag.RowsAffected() == 0 {
		err = tx.Rollback(ctx)
		return false, mapError(err)
	}

	if err = insertOutbox(ctx, tx, id, events.TypeActivityDeleted, events.ActivityDeleted{
		ActivityID: id,
		OccurredAt: at,
		Version:    events.Version,
	}); err != nil {
		return false, err
	}

	if err = tx.Commit(ctx); err != nil {
		return false, mapError(err)
	}
	return true, nil
}

// UpdatePriority sets priority on every existing activity in ids and returns how many rows changed.
func (r *Repository) UpdatePriority(ctx context.Context, ids []int64, priority domain.Priority, at time.Time) (updated int, err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, mapError(err)
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	rows, err := tx.Query(ctx,
		`UPDATE activities SET priority = $1, updated_at = $2 WHERE id = ANY($3)
         RETURNING id, status, end_date`,
		priority, at, ids,
	)
	if err != nil {
		return 0, mapError(err)
	}

	changed := make([]events.ActivityUpdated, 0, len(ids))
	for rows.Next() {
		evt := events.ActivityUpdated{Priority: string(priority), OccurredAt: at, Version: events.Version}
		if err = rows.Scan(&evt.ActivityID, &evt.Status, &evt.EndDate); err != nil {
			rows.Close()
			return 0, mapError(err)
		}
		changed = append(changed, evt)
	}
	rows.Close()
	if err = rows.Err(); err != nil {
		return 0, mapError(err)
	}

	for _, evt := range changed {
		if err = insertOutbox(ctx, tx, evt.ActivityID, events.TypeActivityUpdated, evt); err != nil {
			return 0, err
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return 0, mapError(err)
	}
	if len(changed) > 0 {
		observability.RecordActivityPersisted(at)
	}
	return len(changed), nil
}

// ListUpdates returns an activity's updates newest first.
func (r *Repository) ListUpdates(ctx context.Context, activityID int64) ([]domain.Update, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, activity_id, text, bp_snapshot, created_at
         FROM updates WHERE activity_id = $1
         ORDER BY created_at DESC, id DESC`, activityID)
	if err != nil {
		return nil, mapError(err)
	}
	return collectUpdates(rows)
}

// RecentUpdates returns the newest updates across activities that are not Closed.
func (r *Repository) RecentUpdates(ctx context.Context, limit int) ([]domain.Update, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT u.id, u.activity_id, u.text, u.bp_snapshot, u.created_at
         FROM updates u
         JOIN activities a ON a.id = u.activity_id
         WHERE a.status <> 'Closed'
         ORDER BY u.created_at DESC, u.id DESC
         LIMIT $1`, limit)
	if err != nil {
		return nil, mapError(err)
	}
	return collectUpdates(rows)
}

func collectUpdates(rows pgx.Rows) ([]domain.Update, error) {
	defer rows.Close()

	out := make([]domain.Update, 0)
	for rows.Next() {
		u, err := scanUpdate(rows)
		if err != nil {
			return nil, mapError(err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return out, nil
}

func collectActivities(rows pgx.Rows) ([]domain.Activity, error) {
	defer rows.Close()

	out := make([]domain.Activity, 0)
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, mapError(err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return out, nil
}

// Ping reports whether the pool can reach Postgres.
func (r *Repository) Ping(ctx context.Context) error {
	if err := r.pool.Ping(ctx); err != nil {
		return mapError(fmt.Errorf("ping: %w", err))
	}
	return nil
}
