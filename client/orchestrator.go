// Package client uploads files straight to the object store.
//
// An Orchestrator drives one file through init, part uploads and complete,
// talking to a Coordinator for session control and PUTting part bytes to
// presigned URLs. A Manager runs several orchestrated uploads under a
// file-level concurrency ceiling.
package client

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/input-output-hk/catalyst-forge-libs/upload/errors"
	"github.com/input-output-hk/catalyst-forge-libs/upload/uploadtypes"
)

const (
	// DefaultPartConcurrency is the number of parts in flight per file.
	DefaultPartConcurrency = 4

	// DefaultMaxRetries is the number of retries per part after the first attempt.
	DefaultMaxRetries = 5

	// DefaultAttemptTimeout bounds one part PUT.
	DefaultAttemptTimeout = 5 * time.Minute

	// DefaultRefreshMargin is how close to expiry a part URL is replaced.
	DefaultRefreshMargin = time.Minute
)

// Result describes a finished upload.
type Result struct {
	SessionID string
	Key       string
	PublicURL string
	ETag      string
	Parts     int
	Bytes     int64

	// Retries counts failed part attempts that were retried.
	Retries  int
	Duration time.Duration
}

// Orchestrator uploads files through a Coordinator. It is safe for concurrent
// use; each Upload call is independent.
type Orchestrator struct {
	coord          Coordinator
	http           *http.Client
	partSize       int64
	concurrency    int
	maxRetries     int
	attemptTimeout time.Duration
	refreshMargin  time.Duration
	newBackOff     func() backoff.BackOff
	abortOnFailure bool
	observer       Observer
	logger         *slog.Logger
	now            func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithPartSize sets the preferred part size. It is raised to the store minimum
// and grown when the file would need more than the maximum part count.
func WithPartSize(n int64) Option {
	return func(o *Orchestrator) {
		o.partSize = n
	}
}

// WithPartConcurrency bounds the parts in flight per file.
func WithPartConcurrency(n int) Option {
	return func(o *Orchestrator) {
		o.concurrency = n
	}
}

// WithMaxRetries sets the retry budget per part.
func WithMaxRetries(n int) Option {
	return func(o *Orchestrator) {
		o.maxRetries = n
	}
}

// WithAttemptTimeout bounds each part PUT attempt.
func WithAttemptTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.attemptTimeout = d
	}
}

// WithRefreshMargin sets how close to expiry a part URL is refreshed.
func WithRefreshMargin(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.refreshMargin = d
	}
}

// WithBackOff sets the retry schedule factory. Each part gets its own schedule.
func WithBackOff(f func() backoff.BackOff) Option {
	return func(o *Orchestrator) {
		o.newBackOff = f
	}
}

// WithAbortOnFailure makes a failed part abort the session before returning.
// By default the session is left for the caller or the reclaimer.
func WithAbortOnFailure(enabled bool) Option {
	return func(o *Orchestrator) {
		o.abortOnFailure = enabled
	}
}

// WithObserver sets the default observer for uploads.
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) {
		o.observer = obs
	}
}

// WithPartHTTPClient sets the HTTP client used for part PUTs.
func WithPartHTTPClient(c *http.Client) Option {
	return func(o *Orchestrator) {
		o.http = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = l
	}
}

// WithClock overrides the time source used for URL expiry checks.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// NewOrchestrator returns an Orchestrator using coord for session control.
func NewOrchestrator(coord Coordinator, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		coord:          coord,
		http:           &http.Client{},
		partSize:       uploadtypes.DefaultPartSize,
		concurrency:    DefaultPartConcurrency,
		maxRetries:     DefaultMaxRetries,
		attemptTimeout: DefaultAttemptTimeout,
		refreshMargin:  DefaultRefreshMargin,
		newBackOff:     defaultBackOff,
		observer:       NopObserver{},
		logger:         slog.New(slog.DiscardHandler),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.concurrency < 1 {
		o.concurrency = 1
	}
	if o.maxRetries < 0 {
		o.maxRetries = 0
	}
	return o
}

// UploadOption configures a single Upload call.
type UploadOption func(*uploadConfig)

type uploadConfig struct {
	observer Observer
}

// WithUploadObserver sets the observer for one upload.
func WithUploadObserver(obs Observer) UploadOption {
	return func(c *uploadConfig) {
		c.observer = obs
	}
}

// Upload sends f to the object store and completes the session.
//
// Cancelling ctx stops scheduling new parts; parts already in flight finish
// or fail on their own, then the session is aborted and the context error is
// returned. A part that exhausts its retries fails the upload with a
// *errors.PartError.
func (o *Orchestrator) Upload(ctx context.Context, f File, opts ...UploadOption) (*Result, error) {
	cfg := uploadConfig{observer: o.observer}
	for _, opt := range opts {
		opt(&cfg)
	}
	obs := cfg.observer
	start := time.Now()

	plan := PlanParts(f.Size(), o.partSize)
	initRes, err := o.coord.Init(ctx, f.Name(), f.Size(), f.ContentType())
	if err != nil {
		return nil, err
	}
	u := &upload{
		o:         o,
		f:         f,
		plan:      plan,
		sessionID: initRes.SessionID,
		key:       initRes.Key,
		obs:       obs,
		parts:     make([]uploadtypes.Part, plan.Count()),
		logger:    o.logger.With("session", initRes.SessionID, "key", initRes.Key),
	}
	obs.OnSessionStatusChanged(u.sessionID, uploadtypes.StatusUploading)
	obs.OnProgress(0, f.Size())

	if err := u.refreshURLs(ctx, -1); err != nil {
		if ctx.Err() != nil {
			return nil, u.cancel(ctx)
		}
		return nil, u.fail(ctx, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)
	for _, p := range plan.Parts {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			return u.uploadPart(gctx, p)
		})
	}
	partErr := g.Wait()

	if ctx.Err() != nil {
		return nil, u.cancel(ctx)
	}
	if partErr != nil {
		return nil, u.fail(ctx, partErr)
	}

	obs.OnSessionStatusChanged(u.sessionID, uploadtypes.StatusAssembling)
	done, err := o.coord.Complete(ctx, u.sessionID, u.parts)
	if err != nil {
		obs.OnSessionStatusChanged(u.sessionID, uploadtypes.StatusFailed)
		return nil, errors.NewSessionError("upload", u.sessionID, u.key, err)
	}
	obs.OnSessionStatusChanged(u.sessionID, uploadtypes.StatusCompleted)

	return &Result{
		SessionID: u.sessionID,
		Key:       u.key,
		PublicURL: done.PublicURL,
		ETag:      done.ETag,
		Parts:     plan.Count(),
		Bytes:     f.Size(),
		Retries:   int(u.retries.Load()),
		Duration:  time.Since(start),
	}, nil
}

// upload is the state of one Upload call.
type upload struct {
	o         *Orchestrator
	f         File
	plan      Plan
	sessionID string
	key       string
	obs       Observer
	logger    *slog.Logger

	// parts[i] is written only by the worker for part i+1.
	parts   []uploadtypes.Part
	acked   atomic.Int64
	retries atomic.Int64
	urlsMu  sync.Mutex
	urls    map[int]uploadtypes.PartURL
	urlsGen int
}

func (u *upload) fail(ctx context.Context, err error) error {
	if u.o.abortOnFailure {
		u.abort(ctx)
		u.obs.OnSessionStatusChanged(u.sessionID, uploadtypes.StatusCancelled)
	} else {
		u.obs.OnSessionStatusChanged(u.sessionID, uploadtypes.StatusFailed)
	}
	return errors.NewSessionError("upload", u.sessionID, u.key, err)
}

// cancel aborts the session after ctx was cancelled and returns the context error.
func (u *upload) cancel(ctx context.Context) error {
	u.abort(ctx)
	u.obs.OnSessionStatusChanged(u.sessionID, uploadtypes.StatusCancelled)
	return errors.NewSessionError("upload", u.sessionID, u.key, ctx.Err())
}

func (u *upload) abort(ctx context.Context) {
	if _, err := u.o.coord.Abort(context.WithoutCancel(ctx), u.sessionID); err != nil {
		u.logger.Warn("abort failed", "error", err)
	}
}

// refreshURLs replaces all part URLs unless another worker already did so
// since generation seen. A negative seen always refreshes. GetPartURLs is
// idempotent, so transient failures are retried.
func (u *upload) refreshURLs(ctx context.Context, seen int) error {
	u.urlsMu.Lock()
	defer u.urlsMu.Unlock()
	if seen >= 0 && seen != u.urlsGen {
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(u.o.newBackOff(), uint64(u.o.maxRetries)), ctx)
	urls, err := backoff.RetryWithData(func() ([]uploadtypes.PartURL, error) {
		urls, err := u.o.coord.GetPartURLs(ctx, u.sessionID, u.plan.Count())
		if err != nil && !transientCoordinatorError(err) {
			return nil, backoff.Permanent(err)
		}
		return urls, err
	}, b)
	if err != nil {
		return err
	}
	if len(urls) != u.plan.Count() {
		return fmt.Errorf("coordinator returned %d part urls, want %d", len(urls), u.plan.Count())
	}

	m := make(map[int]uploadtypes.PartURL, len(urls))
	for _, pu := range urls {
		m[pu.PartNumber] = pu
	}
	u.urls = m
	u.urlsGen++
	return nil
}

func (u *upload) partURL(ctx context.Context, n int) (string, int, error) {
	u.urlsMu.Lock()
	pu, gen := u.urls[n], u.urlsGen
	u.urlsMu.Unlock()

	if pu.URL != "" && u.o.now().Add(u.o.refreshMargin).Before(pu.ExpiresAt) {
		return pu.URL, gen, nil
	}
	if err := u.refreshURLs(ctx, gen); err != nil {
		return "", gen, err
	}

	u.urlsMu.Lock()
	defer u.urlsMu.Unlock()
	pu = u.urls[n]
	if pu.URL == "" {
		return "", u.urlsGen, fmt.Errorf("no url for part %d", n)
	}
	return pu.URL, u.urlsGen, nil
}

// uploadPart PUTs one part with retries. ctx stops further attempts; an
// attempt already running is bounded only by the attempt timeout.
func (u *upload) uploadPart(ctx context.Context, p PartRange) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	attempt := 0
	b := backoff.WithContext(backoff.WithMaxRetries(u.o.newBackOff(), uint64(u.o.maxRetries)), ctx)
	etag, err := backoff.RetryNotifyWithData(func() (string, error) {
		attempt++
		return u.attempt(ctx, p)
	}, b, func(err error, next time.Duration) {
		u.retries.Add(1)
		u.obs.OnPartRetry(p.PartNumber, attempt, err)
		u.logger.Warn("part attempt failed, retrying",
			"part", p.PartNumber,
			"attempt", attempt,
			"backoff", next,
			"error", err,
		)
	})
	if err != nil {
		if ctx.Err() != nil && stderrors.Is(err, ctx.Err()) {
			return err
		}
		return &errors.PartError{PartNumber: p.PartNumber, Attempts: attempt, Err: err}
	}

	u.parts[p.PartNumber-1] = uploadtypes.Part{PartNumber: p.PartNumber, ETag: etag, Size: p.Size}
	u.obs.OnProgress(u.acked.Add(p.Size), u.f.Size())
	return nil
}

// attempt makes one PUT. Errors wrapped in backoff.Permanent are not retried.
func (u *upload) attempt(ctx context.Context, p PartRange) (string, error) {
	url, gen, err := u.partURL(ctx, p.PartNumber)
	if err != nil {
		if errors.IsSessionNotActive(err) || errors.IsSessionNotFound(err) {
			return "", backoff.Permanent(err)
		}
		return "", err
	}

	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), u.o.attemptTimeout)
	defer cancel()

	body := &progressReader{
		r: io.NewSectionReader(u.f, p.Offset, p.Size),
		report: func(sent int64) {
			u.obs.OnPartProgress(p.PartNumber, sent)
		},
	}
	req, err := http.NewRequestWithContext(actx, http.MethodPut, url, body)
	if err != nil {
		return "", backoff.Permanent(err)
	}
	req.ContentLength = p.Size
	if p.Size == 0 {
		req.Body = http.NoBody
	}

	resp, err := u.o.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))

	switch {
	case resp.StatusCode == http.StatusOK:
		etag := resp.Header.Get("ETag")
		if etag == "" {
			return "", backoff.Permanent(errors.NewStoreError("uploadPart", resp.StatusCode, "MissingETag",
				"response carries no ETag header", respBody))
		}
		return etag, nil
	case resp.StatusCode == http.StatusForbidden:
		// Expired or rejected signature; retry with fresh URLs.
		if err := u.refreshURLs(ctx, gen); err != nil {
			return "", err
		}
		return "", errors.NewStoreError("uploadPart", resp.StatusCode, "", "", respBody)
	default:
		se := errors.NewStoreError("uploadPart", resp.StatusCode, "", "", respBody)
		if se.Retryable() {
			return "", se
		}
		return "", backoff.Permanent(se)
	}
}

// transientCoordinatorError reports whether a coordinator call may succeed on retry.
func transientCoordinatorError(err error) bool {
	var netErr net.Error
	if stderrors.As(err, &netErr) {
		return true
	}
	var apiErr *APIError
	if stderrors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}
	return errors.IsStoreRequestFailed(err)
}

type progressReader struct {
	r      io.Reader
	sent   int64
	report func(int64)
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.r.Read(p)
	if n > 0 {
		pr.sent += int64(n)
		pr.report(pr.sent)
	}
	return n, err
}
