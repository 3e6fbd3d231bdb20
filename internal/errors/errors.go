// Package errors defines the typed error taxonomy shared by the session core.
// Every failure surfaced by the registry, validator, persistence pipeline, or
// rate limiter maps onto exactly one of these classes so callers can route on
// errors.Is/errors.As instead of string matching.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// Re-export the stdlib helpers so callers only import this package.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Sentinel errors. Typed wrappers below carry context; these carry identity.
var (
	// Capacity
	ErrLimitReached  = errors.New("session limit reached")
	ErrDuplicatePath = errors.New("project path already in use by an active session")

	// Security
	ErrOutsideBoundary   = errors.New("path outside project boundary")
	ErrSymlinkEscape     = errors.New("symlink escapes project boundary")
	ErrOwnershipMismatch = errors.New("file ownership mismatch")

	// Integrity
	ErrSignatureInvalid = errors.New("signature invalid")
	ErrFileTooLarge     = errors.New("persisted file exceeds size cap")
	ErrCorrupt          = errors.New("persisted file corrupt")

	// Availability
	ErrNotFound      = errors.New("not found")
	ErrRateLimited   = errors.New("rate limited")
	ErrAlreadyActive = errors.New("session already active")
)

// ValidationError reports bad input: malformed ids, missing directories,
// out-of-range options.
type ValidationError struct {
	Field string
	Value string
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("validation failed for %s=%q: %v", e.Field, e.Value, e.Err)
	}
	return fmt.Sprintf("validation failed for %s=%q", e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// NewValidationError wraps a field/value pair in a ValidationError.
func NewValidationError(field, value string, err error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Err: err}
}

// CapacityError reports registry cap or uniqueness violations.
type CapacityError struct {
	SessionID   string
	ProjectPath string
	Err         error // ErrLimitReached or ErrDuplicatePath
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("cannot register session %s (%s): %v", e.SessionID, e.ProjectPath, e.Err)
}

func (e *CapacityError) Unwrap() error { return e.Err }

// SecurityError reports a rejected filesystem access.
type SecurityError struct {
	Path string
	Root string
	Err  error // ErrOutsideBoundary, ErrSymlinkEscape, ErrOwnershipMismatch
}

func (e *SecurityError) Error() string {
	return fmt.Sprintf("access to %q denied (root %q): %v", e.Path, e.Root, e.Err)
}

func (e *SecurityError) Unwrap() error { return e.Err }

// IntegrityError reports a persisted file that cannot be trusted.
// Resume never deletes a file on an IntegrityError, so retry stays possible.
type IntegrityError struct {
	Path string
	Err  error // ErrSignatureInvalid, ErrFileTooLarge, ErrCorrupt
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity check failed for %s: %v", e.Path, e.Err)
}

func (e *IntegrityError) Unwrap() error { return e.Err }

// AvailabilityError reports a missing resource or a throttled operation.
type AvailabilityError struct {
	Resource   string
	RetryAfter time.Duration // non-zero only for ErrRateLimited
	Err        error
}

func (e *AvailabilityError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: %v (retry after %s)", e.Resource, e.Err, e.RetryAfter)
	}
	return fmt.Sprintf("%s: %v", e.Resource, e.Err)
}

func (e *AvailabilityError) Unwrap() error { return e.Err }

// InternalError reports I/O or process-start failures that are not the
// caller's fault.
type InternalError struct {
	Op  string
	Err error
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("internal error during %s: %v", e.Op, e.Err)
}

func (e *InternalError) Unwrap() error { return e.Err }

// Internal wraps err as an InternalError for operation op.
// A nil err yields nil.
func Internal(op string, err error) error {
	if err == nil {
		return nil
	}
	return &InternalError{Op: op, Err: err}
}

// IsRetryable reports whether the operation may succeed if repeated.
// Rate limiting and internal I/O failures are transient; capacity, security,
// and integrity failures are not.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var internal *InternalError
	return errors.As(err, &internal)
}

// RetryAfter extracts the retry hint from a rate-limit error, zero otherwise.
func RetryAfter(err error) time.Duration {
	var avail *AvailabilityError
	if errors.As(err, &avail) {
		return avail.RetryAfter
	}
	return 0
}
