// Package shared contains common domain types, errors, events, and the event
// bus contracts used across all domain packages. This package has zero
// external dependencies beyond uuid.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")
	ErrInvalidEntity = errors.New("invalid entity")

	// Validation errors
	ErrValidation   = errors.New("validation error")
	ErrInvalidID    = errors.New("invalid ID")
	ErrInvalidInput = errors.New("invalid input")
	ErrEmptyValue   = errors.New("value cannot be empty")

	// State errors
	ErrInvalidState     = errors.New("invalid state")
	ErrStateTransition  = errors.New("invalid state transition")
	ErrAlreadyProcessed = errors.New("already processed")

	// External service errors
	ErrExternalService    = errors.New("external service error")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
	ErrRateLimited        = errors.New("rate limited")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "session", "story", "options"
	Op      string // Operation that failed, e.g., "Bootstrap", "WriteBack"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Session domain errors
var (
	ErrSessionNotReady       = NewDomainError("session", "Check", ErrInvalidState, "session is not bootstrapped")
	ErrSessionAlreadyStarted = NewDomainError("session", "Bootstrap", ErrAlreadyProcessed, "session already bootstrapped")
	ErrNoUsername            = NewDomainError("session", "Bootstrap", ErrEmptyValue, "no username supplied and no fallback configured")
	ErrBootstrapFailed       = NewDomainError("session", "Bootstrap", ErrExternalService, "session failed to load")
)

// Story domain errors
var (
	ErrStoryNotRegistered = NewDomainError("story", "Setup", ErrNotFound, "story is not registered")
	ErrStoryNameEmpty     = NewDomainError("story", "Setup", ErrEmptyValue, "story name cannot be empty")
	ErrSnapshotInvalid    = NewDomainError("story", "ApplySnapshot", ErrInvalidInput, "snapshot payload is not applicable")
)

// Options domain errors
var (
	ErrUnknownOption = NewDomainError("options", "Write", ErrInvalidInput, "unknown option name")
)
