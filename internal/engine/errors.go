package engine

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caseloop/caseloop/internal/actions"
)

var (
	// ErrActionNotFound is returned for unknown action ids
	ErrActionNotFound = errors.New("action not found")

	// ErrRecordNotFound is returned for unknown or foreign action records
	ErrRecordNotFound = errors.New("action record not found")

	// ErrForbidden is returned for permission, entity-type and business-rule failures
	ErrForbidden = errors.New("forbidden")

	// ErrValidation is returned when input fails the action's schema
	ErrValidation = errors.New("input validation failed")

	// ErrPreviewRequired is returned when a preview-gated action is executed directly
	ErrPreviewRequired = errors.New("preview required before execution")

	// ErrUndoWindowExpired is returned when undo is attempted after the window
	ErrUndoWindowExpired = errors.New("undo window expired")

	// ErrNotUndoable is returned when the action has no undo behavior or window
	ErrNotUndoable = errors.New("action is not undoable")

	// ErrAlreadyUndone is returned on a second undo of the same record
	ErrAlreadyUndone = errors.New("action already undone")

	// ErrRateLimited is returned when the caller's token budget is exhausted
	ErrRateLimited = errors.New("rate limited")
)

// ForbiddenError carries why a call was rejected before execution
type ForbiddenError struct {
	Reason             string
	MissingPermissions []string
}

func (e *ForbiddenError) Error() string {
	if len(e.MissingPermissions) > 0 {
		return fmt.Sprintf("forbidden: missing permissions: %s", strings.Join(e.MissingPermissions, ", "))
	}
	return fmt.Sprintf("forbidden: %s", e.Reason)
}

func (e *ForbiddenError) Is(target error) bool {
	return target == ErrForbidden
}

// ValidationError carries field-level schema failures
type ValidationError struct {
	Fields []actions.FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, fe := range e.Fields {
		parts = append(parts, fe.String())
	}
	return fmt.Sprintf("input validation failed: %s", strings.Join(parts, "; "))
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// RateLimitError carries a backoff hint for the caller
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}
