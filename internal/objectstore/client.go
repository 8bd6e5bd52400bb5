// Package objectstore speaks the S3 multipart control plane over HTTP.
//
// Requests are signed with the sigv4 package rather than a vendor SDK so the
// exact bytes on the wire are under test. Only the calls the coordinator makes
// are implemented: initiate, complete and abort, plus presigning part uploads.
package objectstore

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/input-output-hk/catalyst-forge-libs/upload/errors"
	"github.com/input-output-hk/catalyst-forge-libs/upload/sigv4"
	"github.com/input-output-hk/catalyst-forge-libs/upload/uploadtypes"
)

const maxResponseBody = 1 << 20

// Config describes the bucket the client talks to.
type Config struct {
	// Endpoint is the store base URL, e.g. https://<account>.r2.cloudflarestorage.com
	Endpoint string

	// Bucket is the bucket name; requests use path-style addressing
	Bucket string

	// PublicBaseURL prefixes keys to build public object URLs
	PublicBaseURL string
}

// Client issues signed multipart control-plane requests.
type Client struct {
	endpoint   *url.URL
	bucket     string
	publicBase string
	signer     *sigv4.Signer
	http       *http.Client
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for control-plane requests.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.http = c
	}
}

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) {
		cl.logger = l
	}
}

// New validates cfg and returns a Client.
func New(cfg Config, signer *sigv4.Signer, opts ...Option) (*Client, error) {
	if signer == nil {
		return nil, errors.NewError("newObjectStore", errors.ErrConfiguration).WithMessage("signer is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.NewError("newObjectStore", errors.ErrConfiguration).WithMessage("bucket is required")
	}
	u, err := url.Parse(cfg.Endpoint)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, errors.NewError("newObjectStore", errors.ErrConfiguration).
			WithMessage(fmt.Sprintf("invalid endpoint %q", cfg.Endpoint))
	}
	u.Path = strings.TrimSuffix(u.Path, "/")

	publicBase := strings.TrimSuffix(cfg.PublicBaseURL, "/")
	if publicBase == "" {
		publicBase = u.Scheme + "://" + u.Host + u.Path + "/" + cfg.Bucket
	}

	c := &Client{
		endpoint:   u,
		bucket:     cfg.Bucket,
		publicBase: publicBase,
		signer:     signer,
		http:       &http.Client{Timeout: 30 * time.Second},
		logger:     slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Bucket returns the bucket name.
func (c *Client) Bucket() string {
	return c.bucket
}

// PublicURL returns the public URL for key.
func (c *Client) PublicURL(key string) string {
	return c.publicBase + "/" + sigv4.EscapePath(key)
}

func (c *Client) objectPath(key string) string {
	return c.endpoint.Path + "/" + c.bucket + "/" + key
}

func (c *Client) request(method, key string, query url.Values) sigv4.Request {
	return sigv4.Request{
		Method: method,
		Scheme: c.endpoint.Scheme,
		Host:   c.endpoint.Host,
		Path:   c.objectPath(key),
		Query:  query,
	}
}

// CreateMultipartUpload initiates an upload for key and returns its upload id.
func (c *Client) CreateMultipartUpload(ctx context.Context, key, contentType string) (string, error) {
	req := c.request(http.MethodPost, key, url.Values{"uploads": {""}})
	if contentType != "" {
		req.Header = http.Header{"Content-Type": {contentType}}
	}

	body, err := c.do(ctx, "CreateMultipartUpload", req, nil)
	if err != nil {
		return "", err
	}

	var res initiateResult
	if err := xml.Unmarshal(body, &res); err != nil {
		return "", errors.NewError("CreateMultipartUpload", err).WithKey(key).
			WithMessage("decode response")
	}
	if res.UploadID == "" {
		return "", errors.NewError("CreateMultipartUpload", errors.ErrStoreRequestFailed).WithKey(key).
			WithMessage("response has no upload id")
	}
	return res.UploadID, nil
}

// CompleteMultipartUpload assembles the parts, which must already be sorted by
// part number, and returns the object's ETag.
func (c *Client) CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []uploadtypes.Part) (string, error) {
	payload := completeRequest{Parts: make([]completePart, len(parts))}
	for i, p := range parts {
		payload.Parts[i] = completePart{PartNumber: p.PartNumber, ETag: p.ETag}
	}
	data, err := xml.Marshal(payload)
	if err != nil {
		return "", errors.NewError("CompleteMultipartUpload", err).WithKey(key)
	}

	req := c.request(http.MethodPost, key, url.Values{"uploadId": {uploadID}})
	req.Header = http.Header{"Content-Type": {"application/xml"}}
	body, err := c.do(ctx, "CompleteMultipartUpload", req, data)
	if err != nil {
		return "", err
	}

	// A 200 response may still carry an error document.
	if rootElement(body) == "Error" {
		return "", c.storeError("CompleteMultipartUpload", http.StatusOK, body)
	}

	var res completeResult
	if err := xml.Unmarshal(body, &res); err != nil {
		return "", errors.NewError("CompleteMultipartUpload", err).WithKey(key).
			WithMessage("decode response")
	}
	return res.ETag, nil
}

// AbortMultipartUpload aborts the upload. An upload the store no longer knows
// about counts as aborted.
func (c *Client) AbortMultipartUpload(ctx context.Context, key, uploadID string) error {
	req := c.request(http.MethodDelete, key, url.Values{"uploadId": {uploadID}})
	_, err := c.do(ctx, "AbortMultipartUpload", req, nil)
	if se, ok := errors.AsStoreError(err); ok && se.StatusCode == http.StatusNotFound {
		c.logger.Debug("abort of unknown upload", "key", key, "upload_id", uploadID, "code", se.Code)
		return nil
	}
	return err
}

// PresignUploadPart returns a URL authorizing a PUT of one part, valid for
// expires from at.
func (c *Client) PresignUploadPart(key, uploadID string, partNumber int, at time.Time, expires time.Duration) (string, error) {
	req := c.request(http.MethodPut, key, url.Values{
		"partNumber": {strconv.Itoa(partNumber)},
		"uploadId":   {uploadID},
	})
	return c.signer.Presign(req, at, expires)
}

func (c *Client) do(ctx context.Context, op string, req sigv4.Request, payload []byte) ([]byte, error) {
	req.PayloadHash = sigv4.HashPayload(payload)
	signed, err := c.signer.SignHeaders(req, c.signer.Now())
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL().String(), bytes.NewReader(payload))
	if err != nil {
		return nil, errors.NewError(op, err)
	}
	for name, vs := range req.Header {
		httpReq.Header[name] = vs
	}
	for name, vs := range signed {
		httpReq.Header[name] = vs
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, errors.NewError(op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, errors.NewError(op, err).WithMessage("read response")
	}

	c.logger.Debug("store request",
		"op", op, "status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, c.storeError(op, resp.StatusCode, body)
	}
	return body, nil
}

func (c *Client) storeError(op string, status int, body []byte) error {
	var e errorResponse
	_ = xml.Unmarshal(body, &e)
	c.logger.Warn("store request failed",
		"op", op, "status", status, "code", e.Code, "request_id", e.RequestID)
	return errors.NewStoreError(op, status, e.Code, e.Message, body)
}
