package ports

import (
	"errors"
	"fmt"
)

// ErrReportNotFound indicates that no report is stored under a key.
var ErrReportNotFound = errors.New("report not found")

// StoreError represents a failed report store operation.
type StoreError struct {
	// Backend names the store implementation: "file", "badger" or "gcs".
	Backend string

	// Key is the report key involved in the operation. Empty for List.
	Key string

	Operation string
	Err       error
}

func (e *StoreError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s store: %s: %v", e.Backend, e.Operation, e.Err)
	}
	return fmt.Sprintf("%s store: %s %s: %v", e.Backend, e.Operation, e.Key, e.Err)
}

// Unwrap returns the underlying error.
func (e *StoreError) Unwrap() error { return e.Err }

// NewStoreError creates a StoreError.
func NewStoreError(backend, key, operation string, err error) *StoreError {
	return &StoreError{
		Backend:   backend,
		Key:       key,
		Operation: operation,
		Err:       err,
	}
}
