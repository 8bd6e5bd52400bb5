// Package coordinator is the server-side authority for upload sessions.
//
// A Coordinator creates sessions, issues presigned part URLs, and completes
// or aborts the storage-side multipart upload. Every status change goes through
// the session store's check-and-set, so a complete racing an abort ends in
// exactly one terminal status.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/input-output-hk/catalyst-forge-libs/upload/errors"
	"github.com/input-output-hk/catalyst-forge-libs/upload/internal/cache"
	"github.com/input-output-hk/catalyst-forge-libs/upload/internal/objectkey"
	"github.com/input-output-hk/catalyst-forge-libs/upload/internal/objectstore"
	"github.com/input-output-hk/catalyst-forge-libs/upload/internal/validation"
	"github.com/input-output-hk/catalyst-forge-libs/upload/store"
	"github.com/input-output-hk/catalyst-forge-libs/upload/uploadtypes"
)

// ObjectStore is the multipart control plane of the object store.
type ObjectStore interface {
	CreateMultipartUpload(ctx context.Context, key, contentType string) (string, error)
	CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []uploadtypes.Part) (string, error)
	AbortMultipartUpload(ctx context.Context, key, uploadID string) error
	PresignUploadPart(key, uploadID string, partNumber int, at time.Time, expires time.Duration) (string, error)
	PublicURL(key string) string
}

var _ ObjectStore = (*objectstore.Client)(nil)

// Coordinator runs the upload session lifecycle. It is safe for concurrent use.
type Coordinator struct {
	sessions store.SessionStore
	objects  ObjectStore

	maxFileSize   int64
	partURLExpiry time.Duration
	keys          *objectkey.Generator
	allowedTypes  []string
	cache         cache.SessionCache
	cacheTTL      time.Duration
	observer      Observer
	logger        *slog.Logger
	now           func() time.Time
	newID         func() string
}

// New returns a Coordinator backed by sessions and objects.
func New(sessions store.SessionStore, objects ObjectStore, opts ...Option) (*Coordinator, error) {
	if sessions == nil || objects == nil {
		return nil, errors.NewError("newCoordinator", errors.ErrConfiguration).
			WithMessage("session store and object store are required")
	}

	c := &Coordinator{sessions: sessions, objects: objects}
	defaults(c)
	for _, opt := range opts {
		opt(c)
	}

	if c.maxFileSize <= 0 {
		return nil, errors.NewError("newCoordinator", errors.ErrConfiguration).
			WithMessage("max file size must be positive")
	}
	if c.partURLExpiry <= 0 {
		return nil, errors.NewError("newCoordinator", errors.ErrConfiguration).
			WithMessage("part url expiry must be positive")
	}
	return c, nil
}

// Init validates the request, initiates a multipart upload at the store and
// persists an uploading session. Nothing is persisted if the store call fails,
// and the storage-side upload is aborted if persisting fails.
func (c *Coordinator) Init(ctx context.Context, cmd InitCommand) (*uploadtypes.InitResult, error) {
	name := validation.SanitizeFileName(cmd.FileName)
	if err := validation.ValidateFileName(name); err != nil {
		return nil, err
	}
	if cmd.FileSize <= 0 {
		return nil, errors.NewError("init", errors.ErrInvalidInput).
			WithMessage("file size must be positive")
	}
	if cmd.FileSize > c.maxFileSize {
		return nil, errors.NewError("init", errors.ErrFileTooLarge).
			WithMessage(fmt.Sprintf("%d bytes exceeds the %d byte limit", cmd.FileSize, c.maxFileSize))
	}
	contentType, err := validation.ValidateContentType(cmd.ContentType, c.allowedTypes)
	if err != nil {
		return nil, err
	}

	now := c.now().UTC()
	key := c.keys.Key(name, contentType, now)
	if err := validation.ValidateObjectKey(key); err != nil {
		return nil, err
	}

	start := time.Now()
	uploadID, err := c.objects.CreateMultipartUpload(ctx, key, contentType)
	c.observer.RecordStoreRequest("initiate", time.Since(start), err)
	if err != nil {
		c.logStoreFailure("initiate", "", key, err)
		return nil, errors.NewError("init", err).WithKey(key)
	}

	s := &uploadtypes.Session{
		ID:          c.newID(),
		UploadID:    uploadID,
		Key:         key,
		OwnerID:     cmd.OwnerID,
		FileName:    name,
		FileSize:    cmd.FileSize,
		ContentType: contentType,
		Status:      uploadtypes.StatusUploading,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := c.sessions.Create(ctx, s); err != nil {
		if abortErr := c.objects.AbortMultipartUpload(context.WithoutCancel(ctx), key, uploadID); abortErr != nil {
			c.logger.Error("failed to abort upload after session persist failure",
				"key", key, "error", abortErr)
		}
		return nil, errors.NewSessionError("init", s.ID, key, err)
	}

	c.logger.Info("session created",
		"session", s.ID,
		"key", key,
		"size", s.FileSize,
		"content_type", contentType,
	)

	return &uploadtypes.InitResult{
		SessionID: s.ID,
		Key:       key,
		MaxParts:  uploadtypes.MaxPartsFor(s.FileSize),
	}, nil
}

// GetPartURLs presigns one URL per part number in 1..PartCount. It has no
// store-side effect and may be repeated; it records the highest part count
// requested so Complete can check the part list against it.
func (c *Coordinator) GetPartURLs(ctx context.Context, cmd GetPartURLsCommand) ([]uploadtypes.PartURL, error) {
	s, err := c.load(ctx, "getPartUrls", cmd.OwnerID, cmd.SessionID)
	if err != nil {
		return nil, err
	}
	if s.Status != uploadtypes.StatusUploading {
		return nil, errors.NewSessionError("getPartUrls", s.ID, s.Key, errors.ErrSessionNotActive).
			WithMessage("session is " + string(s.Status))
	}
	if err := validation.ValidatePartCount(cmd.PartCount, s.FileSize); err != nil {
		return nil, err
	}

	now := c.now().UTC()
	if _, err := c.sessions.RecordPartCount(ctx, s.ID, cmd.PartCount, now); err != nil {
		return nil, err
	}

	expiresAt := now.Add(c.partURLExpiry)
	urls := make([]uploadtypes.PartURL, 0, cmd.PartCount)
	for n := 1; n <= cmd.PartCount; n++ {
		u, err := c.objects.PresignUploadPart(s.Key, s.UploadID, n, now, c.partURLExpiry)
		if err != nil {
			return nil, errors.NewSessionError("getPartUrls", s.ID, s.Key, err)
		}
		urls = append(urls, uploadtypes.PartURL{PartNumber: n, URL: u, ExpiresAt: expiresAt})
	}
	c.observer.RecordPartURLs(len(urls))
	return urls, nil
}

// Complete assembles the parts into the final object. Parts may arrive in any
// order; they are validated as exactly 1..N and sent to the store ascending.
// A store failure moves the session to failed.
func (c *Coordinator) Complete(ctx context.Context, cmd CompleteCommand) (*uploadtypes.CompleteResult, error) {
	if len(cmd.Parts) == 0 {
		return nil, errors.NewSessionError("complete", cmd.SessionID, "", errors.ErrInvalidPartRange).
			WithMessage("part list is empty")
	}

	s, err := c.load(ctx, "complete", cmd.OwnerID, cmd.SessionID)
	if err != nil {
		return nil, err
	}
	if s.Status != uploadtypes.StatusUploading {
		return nil, errors.NewSessionError("complete", s.ID, s.Key, errors.ErrSessionNotActive).
			WithMessage("session is " + string(s.Status))
	}
	parts, err := validation.ValidateParts(cmd.Parts, s.PartCount)
	if err != nil {
		return nil, errors.NewSessionError("complete", s.ID, s.Key, err)
	}

	if _, err := c.transition(ctx, s, uploadtypes.StatusAssembling, "", uploadtypes.StatusUploading); err != nil {
		return nil, err
	}

	// Once assembling, the store call and its outcome run to the end even if
	// the caller went away mid-request.
	bg := context.WithoutCancel(ctx)
	start := time.Now()
	etag, storeErr := c.objects.CompleteMultipartUpload(bg, s.Key, s.UploadID, parts)
	c.observer.RecordStoreRequest("complete", time.Since(start), storeErr)

	if storeErr != nil {
		c.logStoreFailure("complete", s.ID, s.Key, storeErr)
		if _, err := c.transition(bg, s, uploadtypes.StatusFailed, "", uploadtypes.StatusAssembling); err != nil {
			c.logger.Error("failed to record complete failure", "session", s.ID, "error", err)
		}
		return nil, errors.NewSessionError("complete", s.ID, s.Key, storeErr)
	}

	publicURL := c.objects.PublicURL(s.Key)
	if _, err := c.transition(bg, s, uploadtypes.StatusCompleted, publicURL, uploadtypes.StatusAssembling); err != nil {
		return nil, err
	}

	return &uploadtypes.CompleteResult{SessionID: s.ID, PublicURL: publicURL, ETag: etag}, nil
}

// Abort sends an abort to the store for the session's upload whatever its
// status, then cancels the session. Aborting a cancelled or failed session
// returns it unchanged; aborting a completed session is ErrSessionNotActive.
func (c *Coordinator) Abort(ctx context.Context, cmd AbortCommand) (*uploadtypes.Session, error) {
	s, err := c.load(ctx, "abort", cmd.OwnerID, cmd.SessionID)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	err = c.objects.AbortMultipartUpload(ctx, s.Key, s.UploadID)
	c.observer.RecordStoreRequest("abort", time.Since(start), err)
	if err != nil {
		c.logStoreFailure("abort", s.ID, s.Key, err)
		return nil, errors.NewSessionError("abort", s.ID, s.Key, err)
	}

	updated, err := c.transition(ctx, s, uploadtypes.StatusCancelled, "",
		uploadtypes.StatusUploading, uploadtypes.StatusAssembling)
	if err == nil {
		return updated, nil
	}
	if !errors.IsSessionNotActive(err) {
		return nil, err
	}

	// Already terminal, possibly by a racing call.
	current, getErr := c.sessions.Get(ctx, s.ID)
	if getErr != nil {
		return nil, getErr
	}
	switch current.Status {
	case uploadtypes.StatusCancelled, uploadtypes.StatusFailed:
		return current, nil
	default:
		return nil, errors.NewSessionError("abort", s.ID, s.Key, errors.ErrSessionNotActive).
			WithMessage("session is " + string(current.Status))
	}
}

// Status returns the session view. Terminal sessions are served from cache.
func (c *Coordinator) Status(ctx context.Context, cmd StatusCommand) (*uploadtypes.Session, error) {
	if s, ok, err := c.cache.Get(ctx, cmd.SessionID); err != nil {
		c.logger.Warn("session cache read failed", "session", cmd.SessionID, "error", err)
	} else if ok {
		if s.OwnerID != cmd.OwnerID {
			return nil, errors.NewError("status", errors.ErrSessionNotFound).WithSession(cmd.SessionID)
		}
		return s, nil
	}

	s, err := c.load(ctx, "status", cmd.OwnerID, cmd.SessionID)
	if err != nil {
		return nil, err
	}
	if s.Status.Terminal() {
		if err := c.cache.Set(ctx, s, c.cacheTTL); err != nil {
			c.logger.Warn("session cache write failed", "session", s.ID, "error", err)
		}
	}
	return s, nil
}

// load reads a session and hides sessions owned by someone else.
func (c *Coordinator) load(ctx context.Context, op, ownerID, id string) (*uploadtypes.Session, error) {
	if id == "" {
		return nil, errors.NewError(op, errors.ErrInvalidInput).WithMessage("session id is required")
	}
	s, err := c.sessions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.OwnerID != ownerID {
		return nil, errors.NewError(op, errors.ErrSessionNotFound).WithSession(id)
	}
	return s, nil
}

func (c *Coordinator) transition(
	ctx context.Context,
	s *uploadtypes.Session,
	to uploadtypes.Status,
	publicURL string,
	from ...uploadtypes.Status,
) (*uploadtypes.Session, error) {
	updated, err := c.sessions.Transition(ctx, s.ID, store.Transition{
		From:      from,
		To:        to,
		PublicURL: publicURL,
		At:        c.now().UTC(),
	})
	if err != nil {
		return nil, err
	}

	// Terminal views never change again, so they can be cached eagerly.
	if to.Terminal() {
		if err := c.cache.Set(ctx, updated, c.cacheTTL); err != nil {
			c.logger.Warn("session cache write failed", "session", s.ID, "error", err)
		}
	}

	c.observer.RecordTransition(s.Status, to)
	c.logger.Info("session transition",
		"session", s.ID,
		"key", s.Key,
		"from", s.Status,
		"to", to,
	)
	s.Status = to
	return updated, nil
}

func (c *Coordinator) logStoreFailure(op, sessionID, key string, err error) {
	attrs := []any{"op", op, "key", key, "error", err}
	if sessionID != "" {
		attrs = append(attrs, "session", sessionID)
	}
	if se, ok := errors.AsStoreError(err); ok {
		attrs = append(attrs, "status", se.StatusCode, "code", se.Code)
	}
	c.logger.Error("object store request failed", attrs...)
}
