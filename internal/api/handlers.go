// Package api exposes HTTP handlers for the activity tracker.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"example.com/tracker/internal/analytics"
	"example.com/tracker/internal/domain"
)

// SearchLimit caps quick search results.
const SearchLimit = 20

const maxBodyBytes = 1 << 20

// SnapshotProvider serves analytics snapshots. *analytics.Cache implements it.
type SnapshotProvider interface {
	GetOrCompute(ctx context.Context, now time.Time) (*analytics.Snapshot, error)
}

// Pinger reports whether the record store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler coordinates HTTP requests with the domain service.
type Handler struct {
	service   *domain.Service
	analytics SnapshotProvider
	pinger    Pinger
	now       func() time.Time
}

// Option customises a Handler.
type Option func(*Handler)

// WithPinger makes /healthz check the store.
func WithPinger(p Pinger) Option {
	return func(h *Handler) { h.pinger = p }
}

// WithClock overrides the clock used for analytics requests.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

// NewHandler builds a Handler.
func NewHandler(service *domain.Service, snapshots SnapshotProvider, opts ...Option) *Handler {
	h := &Handler{service: service, analytics: snapshots, now: time.Now}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.healthz)

	mux.HandleFunc("GET /v1/activities", h.listActivities)
	mux.HandleFunc("POST /v1/activities", h.createActivity)
	mux.HandleFunc("GET /v1/activities/{id}", h.getActivity)
	mux.HandleFunc("PUT /v1/activities/{id}", h.editActivity)
	mux.HandleFunc("DELETE /v1/activities/{id}", h.deleteActivity)
	mux.HandleFunc("POST /v1/activities/{id}/status", h.changeStatus)
	mux.HandleFunc("POST /v1/activities/{id}/updates", h.appendUpdate)
	mux.HandleFunc("POST /v1/activities/bulk/priority", h.bulkPriority)
	mux.HandleFunc("POST /v1/activities/bulk/status", h.bulkStatus)

	mux.HandleFunc("GET /v1/updates/latest", h.latestUpdates)
	mux.HandleFunc("GET /v1/search", h.search)
	mux.HandleFunc("GET /v1/dashboard", h.dashboard)
	mux.HandleFunc("GET /v1/timeline", h.timeline)
	mux.HandleFunc("GET /v1/analytics", h.snapshot)

	mux.HandleFunc("GET /v1/goals", h.listGoals)
	mux.HandleFunc("POST /v1/goals", h.createGoal)
	mux.HandleFunc("POST /v1/goals/{id}/toggle", h.toggleGoal)
}

// healthz reports OK, or 503 when a configured store does not answer.
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	if h.pinger != nil {
		if err := h.pinger.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "store_unavailable", err.Error())
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) listActivities(w http.ResponseWriter, r *http.Request) {
	query, err := parseActivityQuery(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	activities, err := h.service.ListActivities(r.Context(), query)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ListActivitiesResponse{Items: toActivityViews(activities)})
}

func (h *Handler) createActivity(w http.ResponseWriter, r *http.Request) {
	var req ActivityRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	input, err := req.createInput()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	activity, err := h.service.CreateActivity(r.Context(), input)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toActivityView(*activity))
}

func (h *Handler) getActivity(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	detail, err := h.service.GetActivityDetail(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ActivityDetailView{
		Activity:        toActivityView(detail.Activity),
		Updates:         toUpdateViews(detail.Updates),
		DaysActive:      detail.DaysActive,
		DaysSinceUpdate: detail.DaysSinceUpdate,
	})
}

func (h *Handler) editActivity(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req ActivityRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	input, err := req.editInput()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	activity, err := h.service.EditActivity(r.Context(), id, input)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toActivityView(*activity))
}

func (h *Handler) deleteActivity(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteActivity(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) changeStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req StatusRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	activity, err := h.service.ChangeStatus(r.Context(), id, domain.Status(req.Status), req.ClosingNote)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toActivityView(*activity))
}

func (h *Handler) appendUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req UpdateRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	update, err := h.service.AppendUpdate(r.Context(), id, req.Text, req.BlockingPoints)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUpdateView(*update))
}

func (h *Handler) bulkPriority(w http.ResponseWriter, r *http.Request) {
	var req BulkPriorityRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	updated, err := h.service.BulkUpdatePriority(r.Context(), req.IDs, domain.Priority(req.Priority))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, BulkResponse{Updated: updated})
}

func (h *Handler) bulkStatus(w http.ResponseWriter, r *http.Request) {
	var req BulkStatusRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	updated, err := h.service.BulkChangeStatus(r.Context(), req.IDs, domain.Status(req.Status), req.ClosingNote)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, BulkResponse{Updated: updated})
}

// latestUpdates answers with one entry per requested id; ids without updates map to null.
func (h *Handler) latestUpdates(w http.ResponseWriter, r *http.Request) {
	ids, err := parseIDList(r.URL.Query().Get("activity_ids"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	latest, err := h.service.LatestUpdatePerActivity(r.Context(), ids)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	resp := make(map[int64]*UpdateView, len(ids))
	for _, id := range ids {
		resp[id] = nil
		if u, ok := latest[id]; ok {
			view := toUpdateView(u)
			resp[id] = &view
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) search(w http.ResponseWriter, r *http.Request) {
	activities, err := h.service.Search(r.Context(), r.URL.Query().Get("q"), SearchLimit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ListActivitiesResponse{Items: toActivityViews(activities)})
}

func (h *Handler) dashboard(w http.ResponseWriter, r *http.Request) {
	query, err := parseActivityQuery(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dash, err := h.service.Dashboard(r.Context(), query)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDashboardView(dash))
}

func (h *Handler) timeline(w http.ResponseWriter, r *http.Request) {
	query, err := parseTimelineQuery(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	timeline, err := h.service.Timeline(r.Context(), query)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTimelineView(timeline))
}

func (h *Handler) snapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.analytics.GetOrCompute(r.Context(), h.now())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAnalyticsView(snap))
}

func (h *Handler) listGoals(w http.ResponseWriter, r *http.Request) {
	var weekOf time.Time
	if raw := r.URL.Query().Get("week_of"); raw != "" {
		parsed, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			h.fail(w, r, &domain.InvalidQueryError{Field: "week_of", Value: raw})
			return
		}
		weekOf = parsed
	}
	goals, err := h.service.ListGoals(r.Context(), weekOf)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ListGoalsResponse{Items: toGoalViews(goals)})
}

func (h *Handler) createGoal(w http.ResponseWriter, r *http.Request) {
	var req GoalRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	goal, err := h.service.CreateGoal(r.Context(), req.Text)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toGoalView(*goal))
}

func (h *Handler) toggleGoal(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	goal, err := h.service.ToggleGoal(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toGoalView(*goal))
}

// fail maps domain errors onto HTTP statuses.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var (
		invalidQuery *domain.InvalidQueryError
		validation   *domain.ValidationError
	)
	switch {
	case errors.As(err, &invalidQuery):
		writeError(w, http.StatusBadRequest, "invalid_query", invalidQuery.Error())
	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, "validation_failed", validation.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrStoreUnavailable):
		zerolog.Ctx(r.Context()).Warn().Err(err).Msg("store unavailable")
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "record store unavailable")
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}

func parseActivityQuery(r *http.Request) (domain.ActivityQuery, error) {
	params := r.URL.Query()
	query := domain.ActivityQuery{
		Sort: domain.ActivitySort{
			Field:     domain.SortField(params.Get("sort")),
			Direction: domain.SortDirection(strings.ToLower(params.Get("dir"))),
		},
		Search: params.Get("search"),
	}

	// Unknown status or priority values are kept as-is and match nothing.
	query.Filter.Status = domain.Status(params.Get("status"))
	query.Filter.Priority = domain.Priority(params.Get("priority"))

	var err error
	if query.Filter.HasBlockers, err = parseBool(params.Get("has_blockers"), "has_blockers"); err != nil {
		return query, err
	}
	if query.Filter.ExcludeClosed, err = parseBool(params.Get("exclude_closed"), "exclude_closed"); err != nil {
		return query, err
	}
	if query.Filter.StartedFrom, err = parseDateParam(params.Get("from"), "from"); err != nil {
		return query, err
	}
	if query.Filter.StartedTo, err = parseDateParam(params.Get("to"), "to"); err != nil {
		return query, err
	}
	return query, nil
}

// parseTimelineQuery reads status (all or empty for every status), priority and
// range (days back from today, or all).
func parseTimelineQuery(r *http.Request) (domain.TimelineQuery, error) {
	params := r.URL.Query()
	query := domain.TimelineQuery{
		Priority:  domain.Priority(params.Get("priority")),
		RangeDays: domain.DefaultTimelineRangeDays,
	}
	if status := params.Get("status"); status != "all" {
		query.Status = domain.Status(status)
	}

	switch raw := params.Get("range"); raw {
	case "":
	case "all":
		query.RangeDays = 0
	default:
		days, err := strconv.Atoi(raw)
		if err != nil || days <= 0 {
			return query, &domain.InvalidQueryError{Field: "range", Value: raw}
		}
		query.RangeDays = days
	}
	return query, nil
}

func parseBool(raw, field string) (bool, error) {
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, &domain.InvalidQueryError{Field: field, Value: raw}
	}
	return v, nil
}

func parseDateParam(raw, field string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return nil, &domain.InvalidQueryError{Field: field, Value: raw}
	}
	return &t, nil
}

func parseIDList(raw string) ([]int64, error) {
	ids := make([]int64, 0)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, &domain.InvalidQueryError{Field: "activity_ids", Value: part}
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid id")
		return 0, false
	}
	return id, true
}

func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", describeValidation(err))
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
