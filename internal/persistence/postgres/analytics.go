package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"example.com/tracker/internal/analytics"
	"example.com/tracker/internal/domain"
)

// ReadSnapshot runs fn against a REPEATABLE READ, READ ONLY transaction so every
// analytics query sees the same committed state.
func (r *Repository) ReadSnapshot(ctx context.Context, fn func(analytics.Source) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return mapError(err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&snapshotSource{tx: tx}); err != nil {
		return mapError(err)
	}
	return mapError(tx.Commit(ctx))
}

type snapshotSource struct {
	tx pgx.Tx
}

func (s *snapshotSource) CountByStatus(ctx context.Context) (map[domain.Status]int, error) {
	out := make(map[domain.Status]int)
	return out, s.groupCounts(ctx, `SELECT status, COUNT(*) FROM activities GROUP BY status`, func(key string, n int) {
		out[domain.Status(key)] = n
	})
}

func (s *snapshotSource) CountByPriority(ctx context.Context) (map[domain.Priority]int, error) {
	out := make(map[domain.Priority]int)
	return out, s.groupCounts(ctx, `SELECT priority, COUNT(*) FROM activities GROUP BY priority`, func(key string, n int) {
		out[domain.Priority(key)] = n
	})
}

func (s *snapshotSource) groupCounts(ctx context.Context, query string, set func(string, int), args ...any) error {
	rows, err := s.tx.Query(ctx, query, args...)
	if err != nil {
		return err
	}
	var (
		key   string
		count int
	)
	_, err = pgx.ForEachRow(rows, []any{&key, &count}, func() error {
		set(key, count)
		return nil
	})
	return err
}

func (s *snapshotSource) CountClosedBetween(ctx context.Context, start, end time.Time) (int, error) {
	var count int
	err := s.tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM activities
         WHERE status = 'Closed' AND end_date >= $1::date AND end_date < $2::date`,
		start, end,
	).Scan(&count)
	return count, err
}

func (s *snapshotSource) ClosedCountsByBucket(ctx context.Context, origin time.Time, widthDays, buckets int) ([]int, error) {
	rows, err := s.tx.Query(ctx,
		`SELECT (end_date - $1::date) / $2::int AS bucket, COUNT(*)
         FROM activities
         WHERE status = 'Closed'
           AND end_date >= $1::date
           AND end_date < $1::date + $3::int
         GROUP BY bucket`,
		origin, widthDays, widthDays*buckets,
	)
	if err != nil {
		return nil, err
	}

	counts := make([]int, buckets)
	var bucket, count int
	_, err = pgx.ForEachRow(rows, []any{&bucket, &count}, func() error {
		if bucket < 0 || bucket >= buckets {
			return fmt.Errorf("bucket %d out of range", bucket)
		}
		counts[bucket] = count
		return nil
	})
	return counts, err
}

func (s *snapshotSource) DurationByPriority(ctx context.Context) (map[domain.Priority]analytics.DurationAggregate, error) {
	rows, err := s.tx.Query(ctx,
		`SELECT priority, COUNT(*), COALESCE(SUM(end_date - start_date), 0)::bigint
         FROM activities
         WHERE status = 'Closed' AND end_date IS NOT NULL
         GROUP BY priority`)
	if err != nil {
		return nil, err
	}

	out := make(map[domain.Priority]analytics.DurationAggregate)
	var (
		priority string
		agg      analytics.DurationAggregate
	)
	_, err = pgx.ForEachRow(rows, []any{&priority, &agg.Count, &agg.TotalDays}, func() error {
		out[domain.Priority(priority)] = agg
		return nil
	})
	return out, err
}

func (s *snapshotSource) CountOngoingWithBlockers(ctx context.Context) (int, error) {
	var count int
	err := s.tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM activities WHERE status = 'Ongoing' AND btrim(blocking_points, E' \t\r\n') <> ''`,
	).Scan(&count)
	return count, err
}

const touchQuery = `SELECT a.id, a.description, a.priority, a.start_date, newest.latest_at
        FROM activities a
        LEFT JOIN (
            SELECT activity_id, MAX(created_at) AS latest_at
            FROM updates
            GROUP BY activity_id
        ) newest ON newest.activity_id = a.id
        WHERE a.status = 'Ongoing'`

func (s *snapshotSource) StaleCandidates(ctx context.Context, cutoff time.Time) ([]analytics.ActivityTouch, error) {
	return s.touches(ctx,
		touchQuery+` AND COALESCE(newest.latest_at, a.start_date::timestamp AT TIME ZONE 'UTC') <= $1`,
		cutoff)
}

func (s *snapshotSource) LongRunningCandidates(ctx context.Context, startedBefore time.Time) ([]analytics.ActivityTouch, error) {
	return s.touches(ctx, touchQuery+` AND a.start_date < $1::date`, startedBefore)
}

func (s *snapshotSource) touches(ctx context.Context, query string, arg any) ([]analytics.ActivityTouch, error) {
	rows, err := s.tx.Query(ctx, query, arg)
	if err != nil {
		return nil, err
	}

	out := make([]analytics.ActivityTouch, 0)
	var t analytics.ActivityTouch
	_, err = pgx.ForEachRow(rows, []any{&t.ID, &t.Description, &t.Priority, &t.StartDate, &t.LastUpdateAt}, func() error {
		out = append(out, t)
		t.LastUpdateAt = nil
		return nil
	})
	return out, err
}

// TagCounts tokenizes the comma-delimited tags column in SQL.
func (s *snapshotSource) TagCounts(ctx context.Context) (map[string]int, error) {
	out := make(map[string]int)
	return out, s.groupCounts(ctx,
		`SELECT tag, COUNT(*)
         FROM (
             SELECT btrim(token, E' \t\r\n') AS tag
             FROM activities, unnest(string_to_array(tags, ',')) AS token
         ) tokens
         WHERE tag <> ''
         GROUP BY tag`,
		func(key string, n int) { out[key] = n })
}
