package entity

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingCredentials is returned when no usable credential exists for an instance
	ErrMissingCredentials = errors.New("missing credentials")

	// ErrMalformedNotification is returned when a notification cannot be normalized
	ErrMalformedNotification = errors.New("malformed notification")

	// ErrIncompleteDescriptor is returned when an attachment lacks required fields
	ErrIncompleteDescriptor = errors.New("incomplete attachment descriptor")

	// ErrTransientNetwork marks retryable upstream failures
	ErrTransientNetwork = errors.New("transient network error")

	// ErrAuthorization is returned for rejected or mismatched credentials
	ErrAuthorization = errors.New("authorization error")

	// ErrPermanentAPI is returned for upstream failures that must not be retried
	ErrPermanentAPI = errors.New("permanent upstream API error")

	// ErrFileIntegrity is returned when fetched bytes do not match the declared hash
	ErrFileIntegrity = errors.New("file integrity error")

	// ErrStorage is returned when a file cannot be written to the storage layout
	ErrStorage = errors.New("storage error")

	// ErrLinkExpired is returned when a fetch link expired before the bytes were read
	ErrLinkExpired = errors.New("fetch link expired")

	// ErrNotFound is returned by repositories when a row does not exist
	ErrNotFound = errors.New("not found")
)

// StageError records which pipeline stage failed
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
