package errors

import (
	"context"
	"errors"
	"net/http"
)

// ErrorCode represents an error condition exposed to API callers.
// Error codes are string-based for debuggability and natural JSON serialization.
type ErrorCode string

const (
	// Input errors.

	// CodeInvalidInput indicates the provided input is invalid or malformed.
	CodeInvalidInput ErrorCode = "INVALID_INPUT"

	// CodeFileTooLarge indicates the declared file size exceeds the ceiling.
	CodeFileTooLarge ErrorCode = "FILE_TOO_LARGE"

	// CodeInvalidPartRange indicates a rejected part count or part list.
	CodeInvalidPartRange ErrorCode = "INVALID_PART_RANGE"

	// Session errors.

	// CodeSessionNotFound indicates the session does not exist.
	CodeSessionNotFound ErrorCode = "SESSION_NOT_FOUND"

	// CodeSessionNotActive indicates the session is in the wrong state.
	CodeSessionNotActive ErrorCode = "SESSION_NOT_ACTIVE"

	// CodeAlreadyExists indicates a resource already exists and cannot be created again.
	CodeAlreadyExists ErrorCode = "ALREADY_EXISTS"

	// Permission errors.

	// CodeUnauthorized indicates the request lacks valid authentication credentials.
	CodeUnauthorized ErrorCode = "UNAUTHORIZED"

	// Infrastructure errors.

	// CodeConfiguration indicates a configuration error prevents the operation.
	CodeConfiguration ErrorCode = "CONFIGURATION"

	// CodeStoreRequestFailed indicates the object store rejected a request.
	CodeStoreRequestFailed ErrorCode = "STORE_REQUEST_FAILED"

	// CodePartUploadFailed indicates a part exhausted its retry budget.
	CodePartUploadFailed ErrorCode = "PART_UPLOAD_FAILED"

	// CodeTimeout indicates an operation exceeded its time limit.
	CodeTimeout ErrorCode = "TIMEOUT"

	// CodeCancelled indicates the caller cancelled the operation.
	CodeCancelled ErrorCode = "CANCELLED"

	// System errors.

	// CodeInternal indicates an internal system error occurred.
	CodeInternal ErrorCode = "INTERNAL_ERROR"
)

var codeBySentinel = []struct {
	err  error
	code ErrorCode
}{
	{ErrInvalidInput, CodeInvalidInput},
	{ErrInvalidExpiry, CodeInvalidInput},
	{ErrFileTooLarge, CodeFileTooLarge},
	{ErrInvalidPartRange, CodeInvalidPartRange},
	{ErrSessionNotFound, CodeSessionNotFound},
	{ErrSessionNotActive, CodeSessionNotActive},
	{ErrAlreadyExists, CodeAlreadyExists},
	{ErrUnauthorized, CodeUnauthorized},
	{ErrConfiguration, CodeConfiguration},
	{ErrPartUploadFailed, CodePartUploadFailed},
	{ErrStoreRequestFailed, CodeStoreRequestFailed},
	{context.DeadlineExceeded, CodeTimeout},
	{context.Canceled, CodeCancelled},
}

// CodeOf classifies err into an ErrorCode. Unclassified errors map to CodeInternal.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	for _, c := range codeBySentinel {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}

// HTTPStatus returns the HTTP status an API surface should answer with for code.
func HTTPStatus(code ErrorCode) int {
	switch code {
	case CodeInvalidInput, CodeInvalidPartRange:
		return http.StatusBadRequest
	case CodeFileTooLarge:
		return http.StatusRequestEntityTooLarge
	case CodeSessionNotFound:
		return http.StatusNotFound
	case CodeSessionNotActive, CodeAlreadyExists:
		return http.StatusConflict
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeStoreRequestFailed, CodePartUploadFailed:
		return http.StatusBadGateway
	case CodeTimeout:
		return http.StatusGatewayTimeout
	case CodeCancelled:
		return 499
	default:
		return http.StatusInternalServerError
	}
}

// SentinelOf returns the sentinel error a code was derived from, so clients
// decoding an API error can still use errors.Is. Unknown codes return nil.
func SentinelOf(code ErrorCode) error {
	for _, c := range codeBySentinel {
		if c.code == code {
			return c.err
		}
	}
	return nil
}
