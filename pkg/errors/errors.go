// Package errors defines the typed error taxonomy surfaced by the caching
// subsystem. Callers classify failures with [IsType] (or errors.As) rather
// than by matching message text, and the boundary layer maps
// ErrNoCredential / ErrReauthenticationRequired to an explicit
// "must re-authenticate" signal.
//
// Error messages never contain token values; only metadata such as the
// provider and subject may appear.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Error types
const (
	// ErrConfigLoad is returned when the injected config loader fails.
	// The previous cache state is left untouched and the next call retries.
	ErrConfigLoad = "config_load"

	// ErrNoCredential is returned when no token record exists for the
	// requested key. The caller must trigger a fresh login.
	ErrNoCredential = "no_credential"

	// ErrRefreshFailed is returned when the refresh grant is rejected by the
	// token endpoint. The record is invalidated and the caller must
	// re-authenticate.
	ErrRefreshFailed = "refresh_failed"

	// ErrReauthenticationRequired is returned when no usable access, refresh
	// or exchange path remains for a stored record.
	ErrReauthenticationRequired = "reauthentication_required"

	// ErrStoreUnavailable is returned when the durable token store is
	// unreachable.
	ErrStoreUnavailable = "store_unavailable"

	// ErrLockTimeout is returned when a single-flight waiter gives up on a
	// stuck loader instead of waiting forever.
	ErrLockTimeout = "lock_timeout"
)

// Error represents a typed error in the caching subsystem.
type Error struct {
	// Type is the error type
	Type string

	// Message is the error message
	Message string

	// Cause is the underlying error
	Cause error
}

// Error returns the error message
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new error
func NewError(errorType, message string, cause error) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
		Cause:   cause,
	}
}

// NewConfigLoadError creates a new config load error
func NewConfigLoadError(message string, cause error) *Error {
	return NewError(ErrConfigLoad, message, cause)
}

// NewNoCredentialError creates a new no-credential error
func NewNoCredentialError(message string) *Error {
	return NewError(ErrNoCredential, message, nil)
}

// NewRefreshFailedError creates a new refresh-failed error
func NewRefreshFailedError(message string, cause error) *Error {
	return NewError(ErrRefreshFailed, message, cause)
}

// NewReauthenticationRequiredError creates a new reauthentication-required error
func NewReauthenticationRequiredError(message string) *Error {
	return NewError(ErrReauthenticationRequired, message, nil)
}

// NewStoreUnavailableError creates a new store-unavailable error
func NewStoreUnavailableError(message string, cause error) *Error {
	return NewError(ErrStoreUnavailable, message, cause)
}

// NewLockTimeoutError creates a new lock-timeout error
func NewLockTimeoutError(message string) *Error {
	return NewError(ErrLockTimeout, message, nil)
}

// IsType reports whether err (or any error it wraps) is an *Error of the
// given type.
func IsType(err error, errorType string) bool {
	var typed *Error
	if stderrors.As(err, &typed) {
		return typed.Type == errorType
	}
	return false
}

// MustReauthenticate reports whether err signals that the caller has to run
// a fresh login before retrying.
func MustReauthenticate(err error) bool {
	return IsType(err, ErrNoCredential) ||
		IsType(err, ErrRefreshFailed) ||
		IsType(err, ErrReauthenticationRequired)
}
