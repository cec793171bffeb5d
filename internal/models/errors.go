package models

import (
	"errors"
	"fmt"
)

// Application-wide standard errors
var (
	// Common Resource/DB Errors
	ErrNotFound = errors.New("resource not found")

	// Error taxonomy used across the continuity engine
	ErrValidation          = errors.New("validation error")
	ErrConsistencyConflict = errors.New("consistency conflict")
	ErrTransientIO         = errors.New("transient io error")
	ErrProvider            = errors.New("generation provider error")

	// Pacing
	ErrPacingDisabled = errors.New("pacing is disabled for this story")
	ErrUnknownStage   = errors.New("unknown pacing stage")

	// Foreshadowing
	ErrAlreadyResolved = fmt.Errorf("%w: foreshadowing item already resolved", ErrConsistencyConflict)
)

// ProviderErrorKind classifies what went wrong at the provider boundary.
type ProviderErrorKind string

const (
	ProviderErrorStatus    ProviderErrorKind = "status"    // non-2xx or API error
	ProviderErrorEmpty     ProviderErrorKind = "empty"     // no content returned
	ProviderErrorMalformed ProviderErrorKind = "malformed" // payload could not be decoded
	ProviderErrorTransport ProviderErrorKind = "transport" // network/timeout
)

// ProviderError is returned by every provider adapter. errors.Is(err, ErrProvider) holds for it.
type ProviderError struct {
	Provider   string
	Kind       ProviderErrorKind
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s provider error (%s, status %d): %v", e.Provider, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s provider error (%s): %v", e.Provider, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

func (e *ProviderError) Is(target error) bool { return target == ErrProvider }

// NewProviderError wraps err as a ProviderError of the given kind.
func NewProviderError(provider string, kind ProviderErrorKind, status int, err error) *ProviderError {
	if err == nil {
		err = errors.New(string(kind))
	}
	return &ProviderError{Provider: provider, Kind: kind, StatusCode: status, Err: err}
}

// Validationf builds an error matching ErrValidation.
func Validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Conflictf builds an error matching ErrConsistencyConflict.
func Conflictf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConsistencyConflict, fmt.Sprintf(format, args...))
}
