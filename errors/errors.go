// Package errors provides error handling for warden.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - Hints carrying the operator-facing reason for a failure
//   - Marked sentinel kinds so errors.Is works across wrapping
//
// Usage:
//
//	// Wrap with context
//	if err := doSomething(); err != nil {
//	    return errors.Wrap(err, "failed to do something")
//	}
//
//	// Classify as a taxonomy kind while keeping the message
//	return errors.Mark(errors.Newf("function %s is disabled", id), errors.ErrFunctionUnavailable)
//
//	// Check errors
//	if errors.Is(err, errors.ErrNotFound) {
//	    // handle not found
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
	Mark         = crdb.Mark
)

// User-facing messages and details
var (
	WithHint           = crdb.WithHint
	WithHintf          = crdb.WithHintf
	WithDetail         = crdb.WithDetail
	WithDetailf        = crdb.WithDetailf
	WithSecondaryError = crdb.WithSecondaryError
)

// Error inspection
var (
	Is             = crdb.Is
	IsAny          = crdb.IsAny
	As             = crdb.As
	Unwrap         = crdb.Unwrap
	UnwrapAll      = crdb.UnwrapAll
	GetAllHints    = crdb.GetAllHints
	GetAllDetails  = crdb.GetAllDetails
	FlattenHints   = crdb.FlattenHints
	FlattenDetails = crdb.FlattenDetails
)

// Assertions
var (
	AssertionFailedf = crdb.AssertionFailedf
)

// Error taxonomy for the function lifecycle manager.
// Use these with errors.Is() for type-safe error checking.
// Mark or wrap these to add context while preserving the kind.
var (
	// ErrDuplicateID indicates registration of a function_id that already exists
	ErrDuplicateID = New("duplicate function id")

	// ErrNotFound indicates the referenced function_id does not exist
	ErrNotFound = New("not found")

	// ErrFunctionUnavailable indicates an execution against a function that cannot run
	ErrFunctionUnavailable = New("function unavailable")

	// ErrCapacityExceeded indicates the global concurrency ceiling was reached
	ErrCapacityExceeded = New("capacity exceeded")

	// ErrExecutionTimeout indicates a handler call exceeded its deadline
	ErrExecutionTimeout = New("execution timed out")

	// ErrHandlerFailure indicates the handler returned an error or panicked
	ErrHandlerFailure = New("handler failure")

	// ErrHandlerResolution indicates no handler could be resolved for a function
	ErrHandlerResolution = New("handler resolution failed")

	// ErrPersistence indicates the registry file could not be written or read
	ErrPersistence = New("persistence failure")

	// ErrCorruptRegistry indicates the registry file exists but cannot be decoded
	ErrCorruptRegistry = New("corrupt registry")

	// ErrInvalidTransition indicates a lifecycle command that would corrupt state
	ErrInvalidTransition = New("invalid transition")

	// ErrCriticalFunction indicates an operation refused because the function is critical
	ErrCriticalFunction = New("critical function")

	// ErrInvalidRequest indicates the request was malformed or invalid
	ErrInvalidRequest = New("invalid request")
)

// kinds is ordered most specific first so Kind reports the narrowest match.
var kinds = []struct {
	err  error
	name string
}{
	{ErrDuplicateID, "duplicate_id"},
	{ErrNotFound, "not_found"},
	{ErrCapacityExceeded, "capacity_exceeded"},
	{ErrExecutionTimeout, "execution_timeout"},
	{ErrHandlerResolution, "handler_resolution"},
	{ErrHandlerFailure, "handler_failure"},
	{ErrCorruptRegistry, "corrupt_registry"},
	{ErrPersistence, "persistence_failure"},
	{ErrCriticalFunction, "critical_function"},
	{ErrInvalidTransition, "invalid_transition"},
	{ErrFunctionUnavailable, "function_unavailable"},
	{ErrInvalidRequest, "invalid_request"},
}

// Kind returns a short stable name for the taxonomy kind of err.
// Returns "" for nil and "internal" for errors outside the taxonomy.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if Is(err, k.err) {
			return k.name
		}
	}
	return "internal"
}

// Reason returns the human-readable reason for err: its message followed by any hints.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if hints := FlattenHints(err); hints != "" {
		msg += " (" + hints + ")"
	}
	return msg
}

// NewNotFoundError creates a not-found error with a formatted message
func NewNotFoundError(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrNotFound)
}

// NewInvalidRequestError creates an invalid-request error with a formatted message
func NewInvalidRequestError(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrInvalidRequest)
}

// NewUnavailableError creates a function-unavailable error with a formatted message
func NewUnavailableError(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrFunctionUnavailable)
}

// NewTransitionError creates an invalid-transition error with a formatted message
func NewTransitionError(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrInvalidTransition)
}

// IsNotFoundError checks if an error is or wraps ErrNotFound.
func IsNotFoundError(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsInvalidRequestError checks if an error is or wraps ErrInvalidRequest
func IsInvalidRequestError(err error) bool {
	return err != nil && Is(err, ErrInvalidRequest)
}
