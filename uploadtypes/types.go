// Package uploadtypes provides shared type definitions for the upload pipeline.
package uploadtypes

import (
	"fmt"
	"time"
)

// Store limits for S3-compatible multipart uploads.
const (
	// MinPartSize is the smallest size allowed for every part but the last.
	MinPartSize int64 = 5 << 20

	// MaxPartSize is the largest single part the store accepts.
	MaxPartSize int64 = 5 << 30

	// MaxParts is the largest part number the store accepts.
	MaxParts = 10000

	// DefaultPartSize is the part size clients use unless configured otherwise.
	DefaultPartSize int64 = 8 << 20
)

// Status is the lifecycle state of an upload session.
type Status string

// Session statuses.
const (
	// StatusUploading means parts are being transferred
	StatusUploading Status = "uploading"

	// StatusAssembling means the store is assembling the parts
	StatusAssembling Status = "assembling"

	// StatusCompleted means the object exists and the public URL is recorded
	StatusCompleted Status = "completed"

	// StatusFailed means completion failed or the reclaimer retired the session
	StatusFailed Status = "failed"

	// StatusCancelled means the session was explicitly aborted
	StatusCancelled Status = "cancelled"
)

// transitions lists every legal move. Terminal statuses have no entry.
var transitions = map[Status][]Status{
	StatusUploading:  {StatusAssembling, StatusFailed, StatusCancelled},
	StatusAssembling: {StatusCompleted, StatusFailed, StatusCancelled},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusUploading, StatusAssembling, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no transition may leave s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Active reports whether the session still holds a storage-side upload.
func (s Status) Active() bool {
	return s == StatusUploading || s == StatusAssembling
}

// CanTransition reports whether from may move to to.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ParseStatus converts a stored string into a Status.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown session status %q", s)
	}
	return st, nil
}

// Session is the persisted record of one multipart upload.
type Session struct {
	// ID is the opaque session identifier shared with the client
	ID string `json:"id"`

	// UploadID is the storage-side multipart upload id
	UploadID string `json:"-"`

	// Key is the object key, generated server-side and immutable
	Key string `json:"key"`

	// OwnerID identifies the caller that created the session
	OwnerID string `json:"-"`

	// FileName is the client's original file name
	FileName string `json:"fileName"`

	// FileSize is the declared size in bytes
	FileSize int64 `json:"fileSize"`

	// ContentType is the declared media type
	ContentType string `json:"contentType"`

	// PartCount is the highest part count issued URLs for, zero until requested
	PartCount int `json:"partCount"`

	// Status is the lifecycle state
	Status Status `json:"status"`

	// PublicURL is the final object URL, empty until completed
	PublicURL string `json:"publicUrl,omitempty"`

	// CreatedAt is when the session was initialized
	CreatedAt time.Time `json:"createdAt"`

	// UpdatedAt is when the session last changed
	UpdatedAt time.Time `json:"updatedAt"`
}

// Clone returns a copy safe to hand to another goroutine.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// Part is one uploaded part as reported back for completion.
type Part struct {
	// PartNumber is the 1-based part position
	PartNumber int `json:"partNumber"`

	// ETag is the entity tag the store returned for the part
	ETag string `json:"etag"`

	// Size is the part's content length, informational
	Size int64 `json:"size,omitempty"`
}

// PartURL is a presigned URL authorizing a single part upload.
type PartURL struct {
	// PartNumber is the 1-based part position
	PartNumber int `json:"partNumber"`

	// URL is the presigned PUT URL
	URL string `json:"url"`

	// ExpiresAt is when the store stops accepting the URL
	ExpiresAt time.Time `json:"expiresAt"`
}

// InitResult is returned when a session is created.
type InitResult struct {
	// SessionID identifies the new session
	SessionID string `json:"sessionId"`

	// Key is the object key the upload will produce
	Key string `json:"key"`

	// MaxParts is the largest part count the session accepts
	MaxParts int `json:"maxParts"`
}

// CompleteResult is returned when a session completes.
type CompleteResult struct {
	// SessionID identifies the completed session
	SessionID string `json:"sessionId"`

	// PublicURL is the final object URL
	PublicURL string `json:"publicUrl"`

	// ETag is the assembled object's entity tag
	ETag string `json:"etag,omitempty"`
}

// MaxPartsFor returns how many parts a file of size bytes may be split into
// while keeping every non-final part at or above MinPartSize.
func MaxPartsFor(size int64) int {
	if size <= MinPartSize {
		return 1
	}
	n := (size + MinPartSize - 1) / MinPartSize
	if n > MaxParts {
		return MaxParts
	}
	return int(n)
}
