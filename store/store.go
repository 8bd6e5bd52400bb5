// Package store persists upload sessions.
//
// The SessionStore is the single source of truth for session status. Every
// status change goes through Transition, a check-and-set that only succeeds
// when the current status is one of the expected origins. That check is the
// serialization point between racing complete and abort calls.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/input-output-hk/catalyst-forge-libs/upload/errors"
	"github.com/input-output-hk/catalyst-forge-libs/upload/uploadtypes"
)

// SessionStore is the repository of upload sessions.
type SessionStore interface {
	// Create persists a new session. It fails with ErrAlreadyExists on a duplicate id.
	Create(ctx context.Context, s *uploadtypes.Session) error

	// Get returns the session or ErrSessionNotFound.
	Get(ctx context.Context, id string) (*uploadtypes.Session, error)

	// GetByUploadID finds a session by its storage-side upload id.
	GetByUploadID(ctx context.Context, uploadID string) (*uploadtypes.Session, error)

	// GetByKey finds a session by its object key.
	GetByKey(ctx context.Context, key string) (*uploadtypes.Session, error)

	// RecordPartCount raises the session's part count to partCount while the
	// session is uploading. Lower counts leave it unchanged.
	RecordPartCount(ctx context.Context, id string, partCount int, at time.Time) (*uploadtypes.Session, error)

	// Transition moves the session to t.To if its current status is in t.From.
	// It fails with ErrSessionNotActive otherwise.
	Transition(ctx context.Context, id string, t Transition) (*uploadtypes.Session, error)

	// List returns sessions matching the filter, oldest update first.
	List(ctx context.Context, f Filter) ([]*uploadtypes.Session, error)

	// Delete removes a session. Deleting a missing session is not an error.
	Delete(ctx context.Context, id string) error
}

// Transition describes a check-and-set status change.
type Transition struct {
	// From lists the statuses the session may currently be in
	From []uploadtypes.Status

	// To is the new status
	To uploadtypes.Status

	// PublicURL is recorded when non-empty
	PublicURL string

	// At is the update timestamp
	At time.Time
}

// Validate rejects transitions the state machine does not allow, so no store
// implementation can move a session out of a terminal status.
func (t Transition) Validate() error {
	if len(t.From) == 0 {
		return errors.NewError("transition", errors.ErrInvalidInput).
			WithMessage("no origin status")
	}
	for _, from := range t.From {
		if !uploadtypes.CanTransition(from, t.To) {
			return errors.NewError("transition", errors.ErrInvalidInput).
				WithMessage(fmt.Sprintf("%s -> %s is not allowed", from, t.To))
		}
	}
	return nil
}

func (t Transition) allows(s uploadtypes.Status) bool {
	for _, from := range t.From {
		if from == s {
			return true
		}
	}
	return false
}

// Filter selects sessions for listing.
type Filter struct {
	// Statuses restricts results to these statuses when non-empty
	Statuses []uploadtypes.Status

	// UpdatedBefore restricts results to sessions last updated before it when non-zero
	UpdatedBefore time.Time

	// Limit caps the number of results when positive
	Limit int
}

func (f Filter) matches(s *uploadtypes.Session) bool {
	if len(f.Statuses) > 0 {
		found := false
		for _, st := range f.Statuses {
			if s.Status == st {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !f.UpdatedBefore.IsZero() && !s.UpdatedAt.Before(f.UpdatedBefore) {
		return false
	}
	return true
}

func notActive(op string, s *uploadtypes.Session) error {
	return errors.NewSessionError(op, s.ID, s.Key, errors.ErrSessionNotActive).
		WithMessage("session is " + string(s.Status))
}

func notFound(op, id string) error {
	return errors.NewError(op, errors.ErrSessionNotFound).WithSession(id)
}
