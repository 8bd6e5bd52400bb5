// Package errors provides the error types shared by the upload pipeline.
package errors

import (
	"errors"
	"fmt"
)

// Error represents a failed upload operation with the session context it ran against.
type Error struct {
	// Op is the operation that failed (e.g., "init", "complete", "abort")
	Op string

	// SessionID is the upload session identifier (if applicable)
	SessionID string

	// Key is the object key the session writes to (if applicable)
	Key string

	// Err is the underlying error
	Err error
}

// Error implements the error interface by providing a formatted error message.
func (e *Error) Error() string {
	if e.SessionID != "" && e.Key != "" {
		return fmt.Sprintf("upload.%s session %s (%s): %v", e.Op, e.SessionID, e.Key, e.Err)
	}
	if e.SessionID != "" {
		return fmt.Sprintf("upload.%s session %s: %v", e.Op, e.SessionID, e.Err)
	}
	if e.Key != "" {
		return fmt.Sprintf("upload.%s object %s: %v", e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("upload.%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error chaining support.
func (e *Error) Unwrap() error {
	return e.Err
}

// WithSession adds session context to an existing error.
func (e *Error) WithSession(sessionID string) *Error {
	e.SessionID = sessionID
	return e
}

// WithKey adds object key context to an existing error.
func (e *Error) WithKey(key string) *Error {
	e.Key = key
	return e
}

// WithMessage wraps the underlying error with a custom message.
func (e *Error) WithMessage(message string) *Error {
	e.Err = fmt.Errorf("%s: %w", message, e.Err)
	return e
}

// NewError creates a new Error with the given operation and underlying error.
func NewError(op string, err error) *Error {
	return &Error{
		Op:  op,
		Err: err,
	}
}

// NewSessionError creates a new Error with session and key context.
func NewSessionError(op, sessionID, key string, err error) *Error {
	return &Error{
		Op:        op,
		SessionID: sessionID,
		Key:       key,
		Err:       err,
	}
}

// maxBodyLen bounds the store response body kept on a StoreError.
const maxBodyLen = 4 << 10

// StoreError is returned when the object store answers with a non-success status.
// It matches ErrStoreRequestFailed through errors.Is.
type StoreError struct {
	// Op is the store operation (e.g., "CreateMultipartUpload")
	Op string

	// StatusCode is the HTTP status returned by the store
	StatusCode int

	// Code is the store's error code from the XML error body, if any
	Code string

	// Message is the store's error message from the XML error body, if any
	Message string

	// Body is the raw response body, truncated
	Body string
}

// NewStoreError builds a StoreError, truncating the body for diagnostics.
func NewStoreError(op string, status int, code, message string, body []byte) *StoreError {
	if len(body) > maxBodyLen {
		body = body[:maxBodyLen]
	}
	return &StoreError{
		Op:         op,
		StatusCode: status,
		Code:       code,
		Message:    message,
		Body:       string(body),
	}
}

func (e *StoreError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("store %s: status %d: %s: %s", e.Op, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("store %s: status %d", e.Op, e.StatusCode)
}

// Is reports whether target is ErrStoreRequestFailed.
func (e *StoreError) Is(target error) bool {
	return target == ErrStoreRequestFailed
}

// Retryable reports whether the status indicates a transient store condition.
func (e *StoreError) Retryable() bool {
	switch {
	case e.StatusCode == 408, e.StatusCode == 429:
		return true
	case e.StatusCode >= 500:
		return true
	}
	return false
}

// PartError is returned when a single part exhausted its attempt budget.
// It matches ErrPartUploadFailed through errors.Is.
type PartError struct {
	// PartNumber is the 1-based part that failed
	PartNumber int

	// Attempts is how many attempts were made
	Attempts int

	// Err is the last attempt's error
	Err error
}

func (e *PartError) Error() string {
	return fmt.Sprintf("part %d failed after %d attempts: %v", e.PartNumber, e.Attempts, e.Err)
}

// Unwrap returns the last attempt's error.
func (e *PartError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrPartUploadFailed.
func (e *PartError) Is(target error) bool {
	return target == ErrPartUploadFailed
}

// Sentinel errors for the upload pipeline.
// These can be used with errors.Is() for error checking.
var (
	// ErrConfiguration indicates missing or incomplete configuration such as store credentials
	ErrConfiguration = errors.New("upload: configuration error")

	// ErrFileTooLarge indicates the declared file size exceeds the configured ceiling
	ErrFileTooLarge = errors.New("upload: file too large")

	// ErrInvalidPartRange indicates a part count or part list that cannot be accepted
	ErrInvalidPartRange = errors.New("upload: invalid part range")

	// ErrSessionNotActive indicates the session is not in the state the operation requires
	ErrSessionNotActive = errors.New("upload: session not active")

	// ErrSessionNotFound indicates the session does not exist or is not visible to the caller
	ErrSessionNotFound = errors.New("upload: session not found")

	// ErrStoreRequestFailed indicates the object store returned a non-success status
	ErrStoreRequestFailed = errors.New("upload: store request failed")

	// ErrPartUploadFailed indicates a part exhausted its retry budget
	ErrPartUploadFailed = errors.New("upload: part upload failed")

	// ErrOrphanDetected classifies storage state the reclaimer found without a live session
	ErrOrphanDetected = errors.New("upload: orphan detected")

	// ErrInvalidInput indicates that the provided input is invalid
	ErrInvalidInput = errors.New("upload: invalid input")

	// ErrInvalidExpiry indicates a presign expiry outside the allowed window
	ErrInvalidExpiry = errors.New("upload: invalid expiry")

	// ErrUnauthorized indicates the caller could not be authenticated
	ErrUnauthorized = errors.New("upload: unauthorized")

	// ErrAlreadyExists indicates a session with the same id already exists
	ErrAlreadyExists = errors.New("upload: already exists")
)

// IsConfiguration checks if an error indicates a configuration problem.
func IsConfiguration(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

// IsFileTooLarge checks if an error indicates the file exceeded the size ceiling.
func IsFileTooLarge(err error) bool {
	return errors.Is(err, ErrFileTooLarge)
}

// IsInvalidPartRange checks if an error indicates a rejected part count or list.
func IsInvalidPartRange(err error) bool {
	return errors.Is(err, ErrInvalidPartRange)
}

// IsSessionNotActive checks if an error indicates a session in the wrong state.
func IsSessionNotActive(err error) bool {
	return errors.Is(err, ErrSessionNotActive)
}

// IsSessionNotFound checks if an error indicates a missing session.
func IsSessionNotFound(err error) bool {
	return errors.Is(err, ErrSessionNotFound)
}

// IsUnauthorized checks if an error indicates a rejected caller.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// IsStoreRequestFailed checks if an error came from a non-success store response.
func IsStoreRequestFailed(err error) bool {
	return errors.Is(err, ErrStoreRequestFailed)
}

// IsPartUploadFailed checks if an error indicates a part exhausted its retries.
func IsPartUploadFailed(err error) bool {
	return errors.Is(err, ErrPartUploadFailed)
}

// AsStoreError extracts the StoreError from an error chain.
func AsStoreError(err error) (*StoreError, bool) {
	var se *StoreError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
