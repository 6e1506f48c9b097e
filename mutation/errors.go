package mutation

import (
	"github.com/cockroachdb/errors"
)

var (
	ErrCapacityExceeded = errors.New("mutation buffer capacity exceeded")
	ErrColumnNotFound   = errors.New("column not found")
	ErrTableNotFound    = errors.New("table not found")
	// ErrResourceRelease marks failures to close a write handle or release
	// a metadata cache reference.
	ErrResourceRelease = errors.New("resource release failed")
)

// CommitError is returned when a batch could not be sent. Tables already
// sent are gone from State; the failed table and the ones after it are
// still buffered.
type CommitError struct {
	Cause error
	State *MutationState
}

func (e *CommitError) Error() string {
	return "commit failed: " + e.Cause.Error()
}

func (e *CommitError) Unwrap() error {
	return e.Cause
}

func commitError(err error, s *MutationState) error {
	return &CommitError{Cause: errors.WithStack(err), State: s}
}
