package zoomdex

import (
	"errors"
	"fmt"

	"github.com/deepfield-io/zoomdex/internal/domain"
)

// Sentinel errors matching the server's error taxonomy.
// Use errors.Is() to check.
var (
	ErrNotFound           = domain.ErrNotFound
	ErrInvalidInput       = domain.ErrInvalidInput
	ErrNotReady           = domain.ErrNotReady
	ErrAlreadyIndexing    = domain.ErrAlreadyIndexing
	ErrBudgetExceeded     = domain.ErrBudgetExceeded
	ErrEncoderUnavailable = domain.ErrEncoderUnavailable

	// ErrUnauthorized is returned when the server rejects the API key.
	ErrUnauthorized = errors.New("unauthorized")
)

// Error kinds of the wire protocol.
const (
	kindInvalidInput       = "invalid_input"
	kindUnauthorized       = "unauthorized"
	kindNotFound           = "not_found"
	kindNotReady           = "not_ready"
	kindAlreadyIndexing    = "already_indexing"
	kindBudgetExceeded     = "budget_exceeded"
	kindEncoderUnavailable = "encoder_unavailable"
	kindInternal           = "internal"
)

// APIError is the decoded error envelope of a failed request.
type APIError struct {
	Status  int    // HTTP status code
	Kind    string // machine-readable error kind
	Message string
	State   string // index state, set on not_ready errors
}

func (e *APIError) Error() string {
	return fmt.Sprintf("zoomdex: %s (http %d): %s", e.Kind, e.Status, e.Message)
}

// Unwrap maps the error kind back to its sentinel so callers can use
// errors.Is without inspecting kinds themselves.
func (e *APIError) Unwrap() error {
	switch e.Kind {
	case kindNotFound:
		return ErrNotFound
	case kindInvalidInput:
		return ErrInvalidInput
	case kindNotReady:
		return ErrNotReady
	case kindAlreadyIndexing:
		return ErrAlreadyIndexing
	case kindBudgetExceeded:
		return ErrBudgetExceeded
	case kindEncoderUnavailable:
		return ErrEncoderUnavailable
	case kindUnauthorized:
		return ErrUnauthorized
	default:
		return nil
	}
}
