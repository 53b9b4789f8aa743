package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/huandu/go-sqlbuilder"

	"example.com/tracker/internal/domain"
)

// searchColumns are matched case-insensitively by free-text search.
var searchColumns = []string{"description", "tags", "blocking_points", "observations", "source"}

const priorityRankExpr = `CASE priority WHEN 'High' THEN 1 WHEN 'Medium' THEN 2 WHEN 'Low' THEN 3 ELSE 4 END`

// ListActivities builds the filter, search and sort of a normalized query into one SELECT.
func (r *Repository) ListActivities(ctx context.Context, query domain.ActivityQuery) ([]domain.Activity, error) {
	sql, args, err := buildListQuery(query)
	if err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapError(err)
	}
	return collectActivities(rows)
}

func buildListQuery(query domain.ActivityQuery) (string, []interface{}, error) {
	order, err := orderExpr(query.Sort)
	if err != nil {
		return "", nil, err
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(activityColumns...)
	sb.From("activities")

	f := query.Filter
	where := make([]string, 0, 6)
	if f.Status != "" {
		where = append(where, sb.Equal("status", string(f.Status)))
	}
	if f.Priority != "" {
		where = append(where, sb.Equal("priority", string(f.Priority)))
	}
	if f.HasBlockers {
		where = append(where, `btrim(blocking_points, E' \t\r\n') <> ''`)
	}
	if f.ExcludeClosed {
		where = append(where, sb.NotEqual("status", string(domain.StatusClosed)))
	}
	if f.StartedFrom != nil {
		where = append(where, sb.GreaterEqualThan("start_date", domain.DateOf(*f.StartedFrom)))
	}
	if f.StartedTo != nil {
		where = append(where, sb.LessEqualThan("start_date", domain.DateOf(*f.StartedTo)))
	}
	if query.Search != "" {
		pattern := "%" + escapeLike(query.Search) + "%"
		matches := make([]string, 0, len(searchColumns))
		for _, column := range searchColumns {
			matches = append(matches, fmt.Sprintf("%s ILIKE %s", column, sb.Var(pattern)))
		}
		where = append(where, sb.Or(matches...))
	}
	if len(where) > 0 {
		sb.Where(where...)
	}
	sb.OrderBy(order, "id ASC")

	sql, args := sb.Build()
	return sql, args, nil
}

// orderExpr maps a sort onto SQL. Text columns compare bytewise so the order
// does not depend on the database collation.
func orderExpr(sort domain.ActivitySort) (string, error) {
	var column string
	switch sort.Field {
	case domain.SortByStartDate, "":
		column = "start_date"
	case domain.SortByPriority:
		column = priorityRankExpr
	case domain.SortByStatus:
		column = `status COLLATE "C"`
	case domain.SortByDescription:
		column = `lower(description) COLLATE "C"`
	default:
		return "", &domain.InvalidQueryError{Field: "sort field", Value: string(sort.Field)}
	}

	switch sort.Direction {
	case domain.SortAsc:
		return column + " ASC", nil
	case domain.SortDesc, "":
		return column + " DESC", nil
	}
	return "", &domain.InvalidQueryError{Field: "sort direction", Value: string(sort.Direction)}
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike neutralises LIKE metacharacters using Postgres' default backslash escape.
func escapeLike(term string) string {
	return likeEscaper.Replace(term)
}

// LatestUpdatePerActivity finds each activity's newest update with a single
// grouped query joined back to updates. Equal timestamps resolve to the higher id.
func (r *Repository) LatestUpdatePerActivity(ctx context.Context, ids []int64) (map[int64]domain.Update, error) {
	latest := make(map[int64]domain.Update, len(ids))
	if len(ids) == 0 {
		return latest, nil
	}

	const query = `SELECT u.id, u.activity_id, u.text, u.bp_snapshot, u.created_at
        FROM updates u
        JOIN (
            SELECT activity_id, MAX(created_at) AS latest_at
            FROM updates
            WHERE activity_id = ANY($1)
            GROUP BY activity_id
        ) newest ON newest.activity_id = u.activity_id AND newest.latest_at = u.created_at
        ORDER BY u.activity_id, u.id DESC`

	rows, err := r.pool.Query(ctx, query, ids)
	if err != nil {
		return nil, mapError(err)
	}
	updates, err := collectUpdates(rows)
	if err != nil {
		return nil, err
	}
	for _, u := range updates {
		if _, seen := latest[u.ActivityID]; !seen {
			latest[u.ActivityID] = u
		}
	}
	return latest, nil
}
