package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Setup and lifecycle errors.
var (
	// ErrNoTargetDocument indicates that the target directory holds no
	// plain-text document.
	ErrNoTargetDocument = errors.New("no target document found")

	// ErrNoSourceDocuments indicates that the source directory holds no
	// plain-text documents.
	ErrNoSourceDocuments = errors.New("no source documents found")

	// ErrInvalidPhaseTransition indicates an attempt to move a run backward
	// or out of a terminal phase.
	ErrInvalidPhaseTransition = errors.New("invalid phase transition")

	// ErrInvalidConfiguration indicates that configuration is invalid or incomplete.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrBudgetExceeded indicates that a run exhausted its token or call budget.
	ErrBudgetExceeded = errors.New("budget exceeded")
)

// PhaseError reports a rejected phase transition.
type PhaseError struct {
	From Phase
	To   Phase
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("cannot move run from %s to %s", e.From, e.To)
}

// Unwrap returns ErrInvalidPhaseTransition.
func (e *PhaseError) Unwrap() error { return ErrInvalidPhaseTransition }

// StageError is the tagged failure payload returned by a stage invoker.
// Its JSON form is {"error": "<message>"}.
type StageError struct {
	Stage   Stage
	Message string
}

// NewStageError formats a StageError for stage.
func NewStageError(stage Stage, format string, args ...any) *StageError {
	return &StageError{Stage: stage, Message: fmt.Sprintf(format, args...)}
}

// Error implements the error interface.
func (e *StageError) Error() string { return e.Message }

// MarshalJSON renders the tagged payload.
func (e *StageError) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{"error": e.Message})
}

// StageResult is the outcome of one stage invocation: either a value or a
// StageError, never both.
type StageResult[T any] struct {
	Value T
	Err   *StageError
}

// Succeeded wraps a successful value.
func Succeeded[T any](v T) StageResult[T] { return StageResult[T]{Value: v} }

// Failed wraps a stage failure.
func Failed[T any](err *StageError) StageResult[T] { return StageResult[T]{Err: err} }

// OK reports whether the invocation produced a value.
func (r StageResult[T]) OK() bool { return r.Err == nil }

// ValidationError represents an error that occurred during validation.
// It can contain multiple validation failures.
type ValidationError struct {
	// Entity is the name of the entity that failed validation.
	Entity string

	// Errors contains the list of validation error messages.
	Errors []string
}

// Error implements the error interface for ValidationError.
func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("validation error for %s: %s", e.Entity, e.Errors[0])
	}
	return fmt.Sprintf("validation errors for %s: %v", e.Entity, e.Errors)
}

// AddError adds a new error message to the validation error.
func (e *ValidationError) AddError(msg string) { e.Errors = append(e.Errors, msg) }

// HasErrors returns true if there are any validation errors.
func (e *ValidationError) HasErrors() bool { return len(e.Errors) > 0 }

// NewValidationError creates a new ValidationError for the given entity.
func NewValidationError(entity string) *ValidationError {
	return &ValidationError{
		Entity: entity,
		Errors: make([]string, 0),
	}
}

// BudgetExceededError reports which run budget limit was crossed.
type BudgetExceededError struct {
	// LimitType is "tokens" or "calls".
	LimitType string
	Limit     int64
	Used      int64
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("budget exceeded: %s used %d of %d", e.LimitType, e.Used, e.Limit)
}

// Unwrap returns ErrBudgetExceeded.
func (e *BudgetExceededError) Unwrap() error { return ErrBudgetExceeded }

// NewBudgetExceededError creates a BudgetExceededError.
func NewBudgetExceededError(limitType string, limit, used int64) *BudgetExceededError {
	return &BudgetExceededError{LimitType: limitType, Limit: limit, Used: used}
}
