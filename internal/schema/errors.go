package schema

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across packages. Callers map these onto their
// transport's error shape (404/400/500 equivalents for an HTTP layer,
// exit codes for the CLI).
var (
	// ErrNotFound means the referenced task does not exist, or an update
	// targeted an already soft-deleted task.
	ErrNotFound = errors.New("task not found")

	// ErrSyncInProgress means a reconciliation pass already holds the
	// exclusivity lease; the trigger was rejected, not queued.
	ErrSyncInProgress = errors.New("sync pass already in progress")
)

// ValidationError reports bad user input. It is the caller's fault and is
// never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
