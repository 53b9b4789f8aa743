package domain

import (
	"strings"
	"time"
	"unicode/utf8"
)

// MinSearchLength is the shortest trimmed search term that filters results.
const MinSearchLength = 2

// SortField names a column activities can be ordered by.
type SortField string

const (
	SortByStartDate   SortField = "start_date"
	SortByPriority    SortField = "priority"
	SortByStatus      SortField = "status"
	SortByDescription SortField = "description"
)

// SortDirection is asc or desc.
type SortDirection string

const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

// ActivityFilter narrows a listing. Zero values do not filter.
type ActivityFilter struct {
	Status        Status
	Priority      Priority
	HasBlockers   bool
	ExcludeClosed bool
	StartedFrom   *time.Time
	StartedTo     *time.Time
}

// ActivitySort orders a listing. Ties always break by id ascending.
type ActivitySort struct {
	Field     SortField
	Direction SortDirection
}

// ActivityQuery is the full input of a listing.
type ActivityQuery struct {
	Filter ActivityFilter
	Sort   ActivitySort
	Search string
}

// Normalize validates the sort, applies the start_date desc default and
// clears search terms too short to filter on.
func (q ActivityQuery) Normalize() (ActivityQuery, error) {
	switch q.Sort.Field {
	case "":
		q.Sort.Field = SortByStartDate
	case SortByStartDate, SortByPriority, SortByStatus, SortByDescription:
	default:
		return q, &InvalidQueryError{Field: "sort field", Value: string(q.Sort.Field)}
	}

	switch q.Sort.Direction {
	case "":
		q.Sort.Direction = SortDesc
	case SortAsc, SortDesc:
	default:
		return q, &InvalidQueryError{Field: "sort direction", Value: string(q.Sort.Direction)}
	}

	q.Search = NormalizeSearch(q.Search)
	return q, nil
}

// NormalizeSearch trims term and returns "" when it is shorter than MinSearchLength.
func NormalizeSearch(term string) string {
	term = strings.TrimSpace(term)
	if utf8.RuneCountInString(term) < MinSearchLength {
		return ""
	}
	return term
}

// Matches reports whether a satisfies the filter and search of a normalized query.
// Stores that cannot push predicates down use it to evaluate listings in memory.
func (q ActivityQuery) Matches(a Activity) bool {
	f := q.Filter
	if f.Status != "" && a.Status != f.Status {
		return false
	}
	if f.Priority != "" && a.Priority != f.Priority {
		return false
	}
	if f.HasBlockers && !a.HasBlockers() {
		return false
	}
	if f.ExcludeClosed && a.Status == StatusClosed {
		return false
	}
	if f.StartedFrom != nil && a.StartDate.Before(DateOf(*f.StartedFrom)) {
		return false
	}
	if f.StartedTo != nil && a.StartDate.After(DateOf(*f.StartedTo)) {
		return false
	}
	if q.Search == "" {
		return true
	}

	needle := strings.ToLower(q.Search)
	for _, field := range []string{a.Description, a.Tags, a.BlockingPoints, a.Observations, a.Source} {
		if strings.Contains(strings.ToLower(field), needle) {
			return true
		}
	}
	return false
}

// Less orders a before b under the query's sort, breaking ties by id ascending.
func (q ActivityQuery) Less(a, b Activity) bool {
	cmp := 0
	switch q.Sort.Field {
	case SortByPriority:
		cmp = compareInt(priorityRank(a.Priority), priorityRank(b.Priority))
	case SortByStatus:
		cmp = strings.Compare(string(a.Status), string(b.Status))
	case SortByDescription:
		cmp = strings.Compare(strings.ToLower(a.Description), strings.ToLower(b.Description))
	default:
		cmp = a.StartDate.Compare(b.StartDate)
	}
	if q.Sort.Direction == SortDesc {
		cmp = -cmp
	}
	if cmp != 0 {
		return cmp < 0
	}
	return a.ID < b.ID
}

// SearchLess orders quick-search hits: status descending (Ongoing, NA, Closed),
// then High before Medium before Low, then newest start, then id ascending.
func SearchLess(a, b Activity) bool {
	if cmp := strings.Compare(string(a.Status), string(b.Status)); cmp != 0 {
		return cmp > 0
	}
	if cmp := compareInt(priorityRank(a.Priority), priorityRank(b.Priority)); cmp != 0 {
		return cmp < 0
	}
	if cmp := a.StartDate.Compare(b.StartDate); cmp != 0 {
		return cmp > 0
	}
	return a.ID < b.ID
}

// priorityRank places unknown priorities after Low.
func priorityRank(p Priority) int {
	if r := p.Rank(); r > 0 {
		return r
	}
	return 4
}

func compareInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
