// Package reclaimer garbage-collects storage state that no live upload
// session accounts for: abandoned multipart uploads, objects left behind by
// failed or cancelled sessions, and sessions stuck mid-upload.
//
// A Reclaimer only reports by default. Destructive mode must be enabled
// explicitly, is rate limited, and logs every action with the state before
// and after it. Nothing newer than the grace window is ever touched.
package reclaimer

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"golang.org/x/time/rate"

	"github.com/input-output-hk/catalyst-forge-libs/upload/errors"
	"github.com/input-output-hk/catalyst-forge-libs/upload/internal/s3api"
	"github.com/input-output-hk/catalyst-forge-libs/upload/internal/validation"
	"github.com/input-output-hk/catalyst-forge-libs/upload/store"
	"github.com/input-output-hk/catalyst-forge-libs/upload/uploadtypes"
)

const (
	// DefaultGrace is the minimum age of anything reclaimed.
	DefaultGrace = 24 * time.Hour

	// DefaultStale is how long an active session may go without an update.
	DefaultStale = 24 * time.Hour

	// DefaultRate is the destructive request rate per second.
	DefaultRate = 10

	// maxDeleteBatch is the DeleteObjects limit.
	maxDeleteBatch = 1000
)

// Kind identifies what a candidate is.
type Kind string

const (
	KindUpload  Kind = "multipart_upload"
	KindObject  Kind = "object"
	KindSession Kind = "stale_session"
)

// Candidate is one piece of reclaimable state.
type Candidate struct {
	Kind      Kind
	Key       string
	UploadID  string
	SessionID string

	// SessionStatus is empty when no session references the state.
	SessionStatus uploadtypes.Status

	// Age is measured from the upload initiation, object modification or
	// session update.
	Age    time.Duration
	Reason string

	// Err classifies the candidate; it matches errors.ErrOrphanDetected.
	Err error

	// Reclaimed is set once destructive mode removed the state.
	Reclaimed bool
}

// Report is the outcome of one Run.
type Report struct {
	DryRun     bool
	StartedAt  time.Time
	FinishedAt time.Time
	Candidates []Candidate

	// Scanned counts uploads, objects and stale sessions examined.
	Scanned int

	Aborted        int
	Deleted        int
	SessionsFailed int

	// Errors holds per-candidate failures in destructive mode.
	Errors []error
}

// Reclaimer reconciles the object store against the session store.
type Reclaimer struct {
	s3       s3api.S3API
	sessions store.SessionStore
	bucket   string
	prefix   string
	owns     func(key string) bool
	grace    time.Duration
	stale    time.Duration
	execute  bool
	limiter  *rate.Limiter
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Reclaimer.
type Option func(*Reclaimer)

// WithPrefix restricts the sweep to keys under prefix.
func WithPrefix(prefix string) Option {
	return func(r *Reclaimer) {
		r.prefix = prefix
	}
}

// WithKeyFilter limits candidates to keys for which owns returns true. Keys
// the filter rejects are counted as scanned and never reclaimed.
func WithKeyFilter(owns func(key string) bool) Option {
	return func(r *Reclaimer) {
		r.owns = owns
	}
}

// WithGrace sets the minimum age of reclaimed state.
func WithGrace(d time.Duration) Option {
	return func(r *Reclaimer) {
		r.grace = d
	}
}

// WithStale sets how long an uploading or assembling session may go
// without an update before it is considered abandoned.
func WithStale(d time.Duration) Option {
	return func(r *Reclaimer) {
		r.stale = d
	}
}

// WithExecute enables destructive mode.
func WithExecute(enabled bool) Option {
	return func(r *Reclaimer) {
		r.execute = enabled
	}
}

// WithRate limits destructive requests to perSecond. Zero or less is unlimited.
func WithRate(perSecond float64) Option {
	return func(r *Reclaimer) {
		if perSecond <= 0 {
			r.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		r.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reclaimer) {
		r.logger = l
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Reclaimer) {
		r.now = now
	}
}

// New returns a dry-run Reclaimer for bucket.
func New(client s3api.S3API, sessions store.SessionStore, bucket string, opts ...Option) (*Reclaimer, error) {
	if client == nil || sessions == nil {
		return nil, errors.NewError("newReclaimer", errors.ErrConfiguration).
			WithMessage("s3 client and session store are required")
	}
	if bucket == "" {
		return nil, errors.NewError("newReclaimer", errors.ErrConfiguration).WithMessage("bucket is required")
	}
	r := &Reclaimer{
		s3:       client,
		sessions: sessions,
		bucket:   bucket,
		grace:    DefaultGrace,
		stale:    DefaultStale,
		limiter:  rate.NewLimiter(DefaultRate, 1),
		logger:   slog.New(slog.DiscardHandler),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.grace < 0 || r.stale < 0 {
		return nil, errors.NewError("newReclaimer", errors.ErrConfiguration).
			WithMessage("grace and stale windows must not be negative")
	}
	return r, nil
}

func (r *Reclaimer) ownsKey(key string) bool {
	if err := validation.ValidateObjectKey(key); err != nil {
		r.logger.Warn("skipping unsafe object key", "key", key, "error", err)
		return false
	}
	return r.owns == nil || r.owns(key)
}

// sweep is the state of one Run.
type sweep struct {
	now         time.Time
	graceCutoff time.Time
	staleCutoff time.Time
	seenUploads map[string]bool
	report      *Report
}

// Run scans the store, reports every candidate and, in destructive mode,
// reclaims them. Listing failures abort the run; per-candidate failures are
// collected in the report.
func (r *Reclaimer) Run(ctx context.Context) (*Report, error) {
	now := r.now()
	sw := &sweep{
		now:         now,
		graceCutoff: now.Add(-r.grace),
		// Active sessions are never touched inside the grace window either.
		staleCutoff: now.Add(-max(r.stale, r.grace)),
		seenUploads: make(map[string]bool),
		report:      &Report{DryRun: !r.execute, StartedAt: now},
	}
	r.logger.Info("reclaim started",
		"bucket", r.bucket,
		"prefix", r.prefix,
		"dry_run", !r.execute,
		"grace", r.grace,
		"stale", r.stale,
	)

	if err := r.scanUploads(ctx, sw); err != nil {
		return sw.report, err
	}
	if err := r.scanStaleSessions(ctx, sw); err != nil {
		return sw.report, err
	}
	if err := r.scanObjects(ctx, sw); err != nil {
		return sw.report, err
	}

	for _, c := range sw.report.Candidates {
		r.logger.Info("reclaim candidate",
			"kind", c.Kind,
			"key", c.Key,
			"upload_id", c.UploadID,
			"session", c.SessionID,
			"session_status", c.SessionStatus,
			"age", c.Age,
			"reason", c.Reason,
		)
	}

	if r.execute {
		r.reclaim(ctx, sw.report)
	}

	sw.report.FinishedAt = r.now()
	r.logger.Info("reclaim finished",
		"candidates", len(sw.report.Candidates),
		"scanned", sw.report.Scanned,
		"aborted", sw.report.Aborted,
		"deleted", sw.report.Deleted,
		"sessions_failed", sw.report.SessionsFailed,
		"errors", len(sw.report.Errors),
	)
	return sw.report, nil
}

func (sw *sweep) add(c Candidate) {
	c.Err = errors.NewSessionError("reclaim", c.SessionID, c.Key, errors.ErrOrphanDetected).WithMessage(c.Reason)
	sw.report.Candidates = append(sw.report.Candidates, c)
}

func (r *Reclaimer) scanUploads(ctx context.Context, sw *sweep) error {
	input := &s3.ListMultipartUploadsInput{
		Bucket:     aws.String(r.bucket),
		MaxUploads: aws.Int32(1000),
	}
	if r.prefix != "" {
		input.Prefix = aws.String(r.prefix)
	}

	for {
		out, err := r.s3.ListMultipartUploads(ctx, input)
		if err != nil {
			return errors.NewError("listMultipartUploads", err)
		}
		for _, u := range out.Uploads {
			sw.report.Scanned++
			if err := r.classifyUpload(ctx, sw, u); err != nil {
				return err
			}
		}
		if !aws.ToBool(out.IsTruncated) {
			return nil
		}
		input.KeyMarker = out.NextKeyMarker
		input.UploadIdMarker = out.NextUploadIdMarker
	}
}

func (r *Reclaimer) classifyUpload(ctx context.Context, sw *sweep, u types.MultipartUpload) error {
	key, uploadID := aws.ToString(u.Key), aws.ToString(u.UploadId)
	initiated := aws.ToTime(u.Initiated)
	sw.seenUploads[uploadID] = true
	if !initiated.Before(sw.graceCutoff) || !r.ownsKey(key) {
		return nil
	}
	c := Candidate{Kind: KindUpload, Key: key, UploadID: uploadID, Age: sw.now.Sub(initiated)}

	s, err := r.sessions.GetByUploadID(ctx, uploadID)
	switch {
	case errors.IsSessionNotFound(err):
		c.Reason = "no session references the upload"
		sw.add(c)
		return nil
	case err != nil:
		return errors.NewSessionError("reclaim", "", key, err)
	}

	c.SessionID, c.SessionStatus = s.ID, s.Status
	switch {
	case s.Status.Terminal():
		c.Reason = "session is " + string(s.Status)
	case s.UpdatedAt.Before(sw.staleCutoff):
		c.Reason = fmt.Sprintf("session %s without update since %s", s.Status, s.UpdatedAt.Format(time.RFC3339))
	default:
		return nil
	}
	sw.add(c)
	return nil
}

// scanStaleSessions finds active sessions past the staleness threshold
// whose storage-side upload no longer exists.
func (r *Reclaimer) scanStaleSessions(ctx context.Context, sw *sweep) error {
	stale, err := r.sessions.List(ctx, store.Filter{
		Statuses:      []uploadtypes.Status{uploadtypes.StatusUploading, uploadtypes.StatusAssembling},
		UpdatedBefore: sw.staleCutoff,
	})
	if err != nil {
		return errors.NewError("listStaleSessions", err)
	}
	for _, s := range stale {
		sw.report.Scanned++
		if sw.seenUploads[s.UploadID] {
			continue
		}
		if r.prefix != "" && !strings.HasPrefix(s.Key, r.prefix) {
			continue
		}
		if !r.ownsKey(s.Key) {
			continue
		}
		sw.add(Candidate{
			Kind:          KindSession,
			Key:           s.Key,
			UploadID:      s.UploadID,
			SessionID:     s.ID,
			SessionStatus: s.Status,
			Age:           sw.now.Sub(s.UpdatedAt),
			Reason:        "storage upload no longer exists",
		})
	}
	return nil
}

func (r *Reclaimer) scanObjects(ctx context.Context, sw *sweep) error {
	input := &s3.ListObjectsV2Input{Bucket: aws.String(r.bucket)}
	if r.prefix != "" {
		input.Prefix = aws.String(r.prefix)
	}

	p := s3.NewListObjectsV2Paginator(r.s3, input)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return errors.NewError("listObjects", err)
		}
		for _, obj := range page.Contents {
			sw.report.Scanned++
			key := aws.ToString(obj.Key)
			modified := aws.ToTime(obj.LastModified)
			if !modified.Before(sw.graceCutoff) || !r.ownsKey(key) {
				continue
			}
			c := Candidate{Kind: KindObject, Key: key, Age: sw.now.Sub(modified)}

			s, err := r.sessions.GetByKey(ctx, key)
			switch {
			case errors.IsSessionNotFound(err):
				c.Reason = "no session references the object"
			case err != nil:
				return errors.NewSessionError("reclaim", "", key, err)
			case s.Status == uploadtypes.StatusFailed || s.Status == uploadtypes.StatusCancelled:
				c.SessionID, c.SessionStatus = s.ID, s.Status
				c.Reason = "session is " + string(s.Status)
			default:
				continue
			}
			sw.add(c)
		}
	}
	return nil
}

// reclaim acts on every candidate. Objects are deleted in batches after the
// uploads and sessions are handled.
func (r *Reclaimer) reclaim(ctx context.Context, report *Report) {
	var objects []int
	for i := range report.Candidates {
		c := &report.Candidates[i]
		if ctx.Err() != nil {
			report.Errors = append(report.Errors, ctx.Err())
			return
		}
		switch c.Kind {
		case KindUpload:
			r.abortUpload(ctx, report, c)
		case KindSession:
			r.failSession(ctx, report, c, "storage upload missing")
		case KindObject:
			objects = append(objects, i)
		}
	}

	for start := 0; start < len(objects); start += maxDeleteBatch {
		r.deleteObjects(ctx, report, objects[start:min(start+maxDeleteBatch, len(objects))])
	}
}

func (r *Reclaimer) abortUpload(ctx context.Context, report *Report, c *Candidate) {
	if err := r.limiter.Wait(ctx); err != nil {
		report.Errors = append(report.Errors, err)
		return
	}
	_, err := r.s3.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(r.bucket),
		Key:      aws.String(c.Key),
		UploadId: aws.String(c.UploadID),
	})
	if err != nil && apiErrorCode(err) != "NoSuchUpload" {
		r.logger.Error("abort multipart upload failed",
			"key", c.Key,
			"upload_id", c.UploadID,
			"error", err,
		)
		report.Errors = append(report.Errors, errors.NewSessionError("abortMultipartUpload", c.SessionID, c.Key, err))
		return
	}
	c.Reclaimed = true
	report.Aborted++
	r.logger.Info("aborted multipart upload",
		"key", c.Key,
		"upload_id", c.UploadID,
		"before", "in progress",
		"after", "aborted",
	)

	if c.SessionStatus.Active() {
		r.failSession(ctx, report, c, "storage upload aborted")
	}
}

func (r *Reclaimer) failSession(ctx context.Context, report *Report, c *Candidate, why string) {
	s, err := r.sessions.Transition(ctx, c.SessionID, store.Transition{
		From: []uploadtypes.Status{uploadtypes.StatusUploading, uploadtypes.StatusAssembling},
		To:   uploadtypes.StatusFailed,
		At:   r.now(),
	})
	if err != nil {
		// A session that finished meanwhile is left alone.
		if errors.IsSessionNotActive(err) {
			r.logger.Info("session changed during reclaim", "session", c.SessionID, "error", err)
			return
		}
		report.Errors = append(report.Errors, err)
		return
	}
	if c.Kind == KindSession {
		c.Reclaimed = true
	}
	report.SessionsFailed++
	r.logger.Info("marked session failed",
		"session", c.SessionID,
		"key", c.Key,
		"before", c.SessionStatus,
		"after", s.Status,
		"reason", why,
	)
}

func (r *Reclaimer) deleteObjects(ctx context.Context, report *Report, batch []int) {
	if err := r.limiter.Wait(ctx); err != nil {
		report.Errors = append(report.Errors, err)
		return
	}

	ids := make([]types.ObjectIdentifier, 0, len(batch))
	byKey := make(map[string]*Candidate, len(batch))
	for _, i := range batch {
		c := &report.Candidates[i]
		ids = append(ids, types.ObjectIdentifier{Key: aws.String(c.Key)})
		byKey[c.Key] = c
	}

	out, err := r.s3.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(r.bucket),
		Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
	})
	if err != nil {
		r.logger.Error("delete objects failed", "count", len(ids), "error", err)
		report.Errors = append(report.Errors, errors.NewError("deleteObjects", err))
		return
	}

	failed := make(map[string]bool, len(out.Errors))
	for _, e := range out.Errors {
		key := aws.ToString(e.Key)
		failed[key] = true
		report.Errors = append(report.Errors, errors.NewSessionError("deleteObjects", "", key, errors.ErrStoreRequestFailed).
			WithMessage(aws.ToString(e.Code)+": "+aws.ToString(e.Message)))
	}
	for key, c := range byKey {
		if failed[key] {
			continue
		}
		c.Reclaimed = true
		report.Deleted++
		r.logger.Info("deleted object",
			"key", key,
			"session", c.SessionID,
			"before", "present",
			"after", "deleted",
		)
	}
}

func apiErrorCode(err error) string {
	var apiErr smithy.APIError
	if stderrors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}
