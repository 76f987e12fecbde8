package application

import (
	"errors"
	"fmt"

	"github.com/ahrav/go-verifier/internal/domain"
)

// ErrInvalidPipeline indicates that a Pipeline was built with missing
// collaborators.
var ErrInvalidPipeline = errors.New("invalid pipeline")

// RunError is returned by Verify when a run fails after it started. The
// error report has been written to Location unless writing it failed too,
// in which case Err joins both failures.
type RunError struct {
	SessionID string

	// Phase is the phase the run was in when it failed.
	Phase domain.Phase

	// Location is where the error report was written, or empty.
	Location string

	Err error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("verification %s failed during %s: %v", e.SessionID, e.Phase, e.Err)
}

// Unwrap returns the cause of the failure.
func (e *RunError) Unwrap() error { return e.Err }
