package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound matches every *NotFoundError.
	ErrNotFound = errors.New("not found")
	// ErrClosingNoteRequired is returned when an activity transitions to Closed without a note.
	ErrClosingNoteRequired = errors.New("closing note is required when closing an activity")
	// ErrStoreUnavailable matches every *StoreUnavailableError.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// InvalidQueryError reports a sort or filter argument the query layer refuses to guess about.
type InvalidQueryError struct {
	Field string
	Value string
}

func (e *InvalidQueryError) Error() string {
	return fmt.Sprintf("invalid query: unsupported %s %q", e.Field, e.Value)
}

// NotFoundError reports a missing record on a direct lookup or write.
type NotFoundError struct {
	Entity string
	ID     int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

// Is lets errors.Is(err, ErrNotFound) match.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// StoreUnavailableError wraps a failure to reach the record store.
type StoreUnavailableError struct {
	Err error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("store unavailable: %v", e.Err)
}

func (e *StoreUnavailableError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrStoreUnavailable) match.
func (e *StoreUnavailableError) Is(target error) bool {
	return target == ErrStoreUnavailable
}

// ValidationError reports input rejected at the write boundary.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
