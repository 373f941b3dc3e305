// Package errors provides sentinel errors and custom error types for distsync.
// Use errors.Is() and errors.As() to check for specific error types.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common conditions
var (
	// ErrConfiguration marks errors caused by configuration or programming
	// mistakes. Retrying will not help.
	ErrConfiguration = errors.New("configuration error")

	// ErrUnknownStatus indicates a CI status value with no mapping
	ErrUnknownStatus = errors.New("unknown status")

	// ErrNotFound indicates that a forge resource does not exist
	ErrNotFound = errors.New("not found")

	// ErrForbidden indicates that the forge refused the operation for our account
	ErrForbidden = errors.New("forbidden")

	// ErrNoChanges indicates that a sync had nothing to push and no pull request exists
	ErrNoChanges = errors.New("no changes to sync")
)

// UnknownStatusError represents a CI status string that has no commit-state mapping
type UnknownStatusError struct {
	Origin string
	Status string
}

func (e *UnknownStatusError) Error() string {
	return fmt.Sprintf("unmapped %s status %q", e.Origin, e.Status)
}

// Is returns true for ErrUnknownStatus and ErrConfiguration
func (e *UnknownStatusError) Is(target error) bool {
	return target == ErrUnknownStatus || target == ErrConfiguration
}

// NewUnknownStatusError creates a new UnknownStatusError
func NewUnknownStatusError(origin, status string) *UnknownStatusError {
	return &UnknownStatusError{Origin: origin, Status: status}
}

// ForgeError represents a failed forge API call
type ForgeError struct {
	Op         string
	URL        string
	StatusCode int
	Err        error
}

func (e *ForgeError) Error() string {
	msg := fmt.Sprintf("forge %s failed for %s", e.Op, e.URL)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

func (e *ForgeError) Unwrap() error {
	return e.Err
}

// Is maps HTTP status codes onto the NotFound and Forbidden sentinels
func (e *ForgeError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == 404
	case ErrForbidden:
		return e.StatusCode == 401 || e.StatusCode == 403
	}
	return false
}

// NewForgeError creates a new ForgeError
func NewForgeError(op, url string, statusCode int, err error) *ForgeError {
	return &ForgeError{
		Op:         op,
		URL:        url,
		StatusCode: statusCode,
		Err:        err,
	}
}

// Configurationf formats an error that wraps ErrConfiguration
func Configurationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}
