package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound signals a missing dataset, tile, source asset, or an
	// out-of-range bounding box.
	ErrNotFound = errors.New("not found")
	// ErrNotReady signals that a dataset's index is still building or was
	// never built.
	ErrNotReady = errors.New("index not ready")
	// ErrInvalidInput signals a malformed request value.
	ErrInvalidInput = errors.New("invalid input")
	// ErrEncoderUnavailable signals that the embedding provider cannot be
	// reached or refused the request.
	ErrEncoderUnavailable = errors.New("encoder unavailable")
	// ErrBudgetExceeded signals an exhausted daily encode budget.
	ErrBudgetExceeded = errors.New("encode budget exceeded")
	// ErrAlreadyIndexing signals a duplicate build request for a dataset.
	ErrAlreadyIndexing = errors.New("index build already in progress")
	// ErrInternal signals an unexpected failure.
	ErrInternal = errors.New("internal error")
)

// ValidationError wraps ErrInvalidInput with the offending field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrInvalidInput.Error(), e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

// NewValidation creates a field validation error.
func NewValidation(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// NotReadyError wraps ErrNotReady with the dataset's current index state.
type NotReadyError struct {
	State string
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("%s: state is %s", ErrNotReady.Error(), e.State)
}

func (e *NotReadyError) Unwrap() error { return ErrNotReady }

// NewNotReady creates a not-ready error carrying the index state.
func NewNotReady(state string) error {
	return &NotReadyError{State: state}
}
