package api

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"example.com/tracker/internal/domain"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// describeValidation flattens validator errors into one readable line using JSON field names.
func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		parts = append(parts, fmt.Sprintf("%s failed rule %q", fe.Field(), rule))
	}
	return strings.Join(parts, "; ")
}

// ActivityRequest is the payload for POST /v1/activities and PUT /v1/activities/{id}.
// Dates are calendar dates in YYYY-MM-DD form.
type ActivityRequest struct {
	Description    string `json:"description" validate:"required,max=500"`
	Priority       string `json:"priority" validate:"omitempty,oneof=High Medium Low"`
	Status         string `json:"status" validate:"omitempty,oneof=Ongoing Closed NA"`
	Source         string `json:"source" validate:"max=200"`
	StartDate      string `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate        string `json:"end_date" validate:"omitempty,datetime=2006-01-02"`
	BlockingPoints string `json:"blocking_points"`
	Observations   string `json:"observations"`
	Tags           string `json:"tags"`
	// NewUpdate is only read on edit.
	NewUpdate   string `json:"new_update"`
	ClosingNote string `json:"closing_note"`
}

func (r ActivityRequest) dates() (time.Time, *time.Time, error) {
	start, err := time.Parse(time.DateOnly, r.StartDate)
	if err != nil {
		return time.Time{}, nil, &domain.ValidationError{Field: "start_date", Reason: "expected YYYY-MM-DD", Err: err}
	}
	if r.EndDate == "" {
		return start, nil, nil
	}
	end, err := time.Parse(time.DateOnly, r.EndDate)
	if err != nil {
		return time.Time{}, nil, &domain.ValidationError{Field: "end_date", Reason: "expected YYYY-MM-DD", Err: err}
	}
	return start, &end, nil
}

func (r ActivityRequest) createInput() (domain.CreateActivityInput, error) {
	start, end, err := r.dates()
	if err != nil {
		return domain.CreateActivityInput{}, err
	}
	return domain.CreateActivityInput{
		Description:    r.Description,
		Priority:       domain.Priority(r.Priority),
		Status:         domain.Status(r.Status),
		Source:         r.Source,
		StartDate:      start,
		EndDate:        end,
		BlockingPoints: r.BlockingPoints,
		Observations:   r.Observations,
		Tags:           r.Tags,
		ClosingNote:    r.ClosingNote,
	}, nil
}

func (r ActivityRequest) editInput() (domain.EditActivityInput, error) {
	start, end, err := r.dates()
	if err != nil {
		return domain.EditActivityInput{}, err
	}
	return domain.EditActivityInput{
		Description:    r.Description,
		Priority:       domain.Priority(r.Priority),
		Status:         domain.Status(r.Status),
		Source:         r.Source,
		StartDate:      start,
		EndDate:        end,
		BlockingPoints: r.BlockingPoints,
		Observations:   r.Observations,
		Tags:           r.Tags,
		NewUpdate:      r.NewUpdate,
		ClosingNote:    r.ClosingNote,
	}, nil
}

// StatusRequest is the payload for POST /v1/activities/{id}/status.
type StatusRequest struct {
	Status      string `json:"status" validate:"required,oneof=Ongoing Closed NA"`
	ClosingNote string `json:"closing_note"`
}

// UpdateRequest is the payload for POST /v1/activities/{id}/updates. A present
// blocking_points replaces the activity's current value, including with "".
type UpdateRequest struct {
	Text           string  `json:"text" validate:"required"`
	BlockingPoints *string `json:"blocking_points"`
}

// BulkPriorityRequest is the payload for POST /v1/activities/bulk/priority.
type BulkPriorityRequest struct {
	IDs      []int64 `json:"ids" validate:"required,min=1,dive,gt=0"`
	Priority string  `json:"priority" validate:"required,oneof=High Medium Low"`
}

// BulkStatusRequest is the payload for POST /v1/activities/bulk/status.
type BulkStatusRequest struct {
	IDs         []int64 `json:"ids" validate:"required,min=1,dive,gt=0"`
	Status      string  `json:"status" validate:"required,oneof=Ongoing Closed NA"`
	ClosingNote string  `json:"closing_note"`
}

// GoalRequest is the payload for POST /v1/goals.
type GoalRequest struct {
	Text string `json:"text" validate:"required,max=500"`
}
