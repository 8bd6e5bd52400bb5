package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Format(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{"op only", NewError("init", ErrFileTooLarge), "upload.init: upload: file too large"},
		{"session", NewError("status", ErrSessionNotFound).WithSession("s1"), "upload.status session s1: upload: session not found"},
		{"key", NewError("openFile", ErrInvalidInput).WithKey("a.mp4"), "upload.openFile object a.mp4: upload: invalid input"},
		{
			"session and key with message",
			NewSessionError("complete", "s1", "videos/a.mp4", ErrInvalidPartRange).WithMessage("part 2 missing"),
			"upload.complete session s1 (videos/a.mp4): part 2 missing: upload: invalid part range",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestWithMessage_KeepsSentinel(t *testing.T) {
	err := NewError("init", ErrFileTooLarge).WithMessage("21474836481 > 21474836480")
	assert.True(t, IsFileTooLarge(err))
	assert.False(t, IsConfiguration(err))
}

func TestStoreError(t *testing.T) {
	body := []byte(strings.Repeat("x", maxBodyLen+100))
	err := NewStoreError("CompleteMultipartUpload", 503, "SlowDown", "reduce your request rate", body)

	assert.Len(t, err.Body, maxBodyLen)
	assert.True(t, IsStoreRequestFailed(err))
	assert.True(t, err.Retryable())
	assert.Equal(t, "store CompleteMultipartUpload: status 503: SlowDown: reduce your request rate", err.Error())

	wrapped := fmt.Errorf("complete: %w", err)
	se, ok := AsStoreError(wrapped)
	assert.True(t, ok)
	assert.Equal(t, 503, se.StatusCode)

	_, ok = AsStoreError(ErrInvalidInput)
	assert.False(t, ok)
}

func TestStoreError_Retryable(t *testing.T) {
	for status, want := range map[int]bool{400: false, 403: false, 404: false, 408: true, 429: true, 500: true, 502: true} {
		assert.Equal(t, want, NewStoreError("op", status, "", "", nil).Retryable(), "status %d", status)
	}
}

func TestPartError(t *testing.T) {
	last := NewStoreError("UploadPart", 500, "", "", nil)
	err := &PartError{PartNumber: 4, Attempts: 3, Err: last}

	assert.True(t, IsPartUploadFailed(err))
	assert.True(t, IsStoreRequestFailed(err))
	assert.Equal(t, CodePartUploadFailed, CodeOf(err))
	assert.Contains(t, err.Error(), "part 4 failed after 3 attempts")
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		err    error
		code   ErrorCode
		status int
	}{
		{NewError("init", ErrInvalidInput), CodeInvalidInput, http.StatusBadRequest},
		{ErrInvalidExpiry, CodeInvalidInput, http.StatusBadRequest},
		{ErrFileTooLarge, CodeFileTooLarge, http.StatusRequestEntityTooLarge},
		{ErrInvalidPartRange, CodeInvalidPartRange, http.StatusBadRequest},
		{ErrSessionNotFound, CodeSessionNotFound, http.StatusNotFound},
		{ErrSessionNotActive, CodeSessionNotActive, http.StatusConflict},
		{ErrAlreadyExists, CodeAlreadyExists, http.StatusConflict},
		{ErrUnauthorized, CodeUnauthorized, http.StatusUnauthorized},
		{ErrConfiguration, CodeConfiguration, http.StatusInternalServerError},
		{NewStoreError("op", 500, "", "", nil), CodeStoreRequestFailed, http.StatusBadGateway},
		{context.DeadlineExceeded, CodeTimeout, http.StatusGatewayTimeout},
		{context.Canceled, CodeCancelled, 499},
		{errors.New("boom"), CodeInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.code, CodeOf(tt.err))
			assert.Equal(t, tt.status, HTTPStatus(tt.code))
		})
	}
	assert.Equal(t, ErrorCode(""), CodeOf(nil))
}

func TestSentinelOf(t *testing.T) {
	assert.Equal(t, ErrSessionNotActive, SentinelOf(CodeSessionNotActive))
	assert.Equal(t, ErrInvalidInput, SentinelOf(CodeInvalidInput))
	assert.Nil(t, SentinelOf(CodeInternal))
	assert.Nil(t, SentinelOf("NOPE"))
}
