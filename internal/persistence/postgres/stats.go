package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"example.com/tracker/internal/domain"
)

// CountOngoing counts Ongoing activities with the High and blocked subsets in one pass.
func (r *Repository) CountOngoing(ctx context.Context) (domain.OngoingCounts, error) {
	var counts domain.OngoingCounts
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*),
                COUNT(*) FILTER (WHERE priority = 'High'),
                COUNT(*) FILTER (WHERE btrim(blocking_points, E' \t\r\n') <> '')
         FROM activities
         WHERE status = 'Ongoing'`,
	).Scan(&counts.Active, &counts.HighPriority, &counts.WithBlockers)
	if err != nil {
		return domain.OngoingCounts{}, mapError(err)
	}
	return counts, nil
}

// UpdateDays returns the UTC dates on or before until that have an update, newest first.
func (r *Repository) UpdateDays(ctx context.Context, until time.Time) ([]time.Time, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT DISTINCT (created_at AT TIME ZONE 'UTC')::date AS day
         FROM updates
         WHERE (created_at AT TIME ZONE 'UTC')::date <= $1::date
         ORDER BY day DESC`, domain.DateOf(until))
	if err != nil {
		return nil, mapError(err)
	}
	days, err := pgx.CollectRows(rows, pgx.RowTo[time.Time])
	if err != nil {
		return nil, mapError(err)
	}
	return days, nil
}

// CountUpdatesSince counts updates created at or after since.
func (r *Repository) CountUpdatesSince(ctx context.Context, since time.Time) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM updates WHERE created_at >= $1`, since).Scan(&count); err != nil {
		return 0, mapError(err)
	}
	return count, nil
}
