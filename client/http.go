package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/input-output-hk/catalyst-forge-libs/upload/errors"
	"github.com/input-output-hk/catalyst-forge-libs/upload/uploadtypes"
)

// APIError is an error answered by the coordinator's HTTP surface. It unwraps
// to the sentinel matching its code, so errors.Is works across the wire.
type APIError struct {
	StatusCode int
	Code       errors.ErrorCode
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("coordinator: %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// Unwrap returns the sentinel for the error code, or nil.
func (e *APIError) Unwrap() error {
	return errors.SentinelOf(e.Code)
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    errors.ErrorCode `json:"code"`
		Message string           `json:"message"`
	} `json:"error"`
}

// HTTPCoordinator calls a coordinator over its JSON HTTP API.
type HTTPCoordinator struct {
	base  string
	token string
	http  *http.Client
}

// HTTPOption configures an HTTPCoordinator.
type HTTPOption func(*HTTPCoordinator)

// WithHTTPClient sets the HTTP client for coordinator calls.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTPCoordinator) {
		h.http = c
	}
}

// NewHTTPCoordinator returns a client for the API at baseURL that
// authenticates with the bearer token.
func NewHTTPCoordinator(baseURL, token string, opts ...HTTPOption) (*HTTPCoordinator, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, errors.NewError("newHTTPCoordinator", errors.ErrConfiguration).
			WithMessage(fmt.Sprintf("invalid coordinator url %q", baseURL))
	}
	h := &HTTPCoordinator{
		base:  strings.TrimSuffix(u.String(), "/"),
		token: token,
		http:  &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Init implements Coordinator.
func (h *HTTPCoordinator) Init(ctx context.Context, fileName string, fileSize int64, contentType string) (*uploadtypes.InitResult, error) {
	var out uploadtypes.InitResult
	err := h.do(ctx, http.MethodPost, "/api/uploads", map[string]any{
		"fileName":    fileName,
		"fileSize":    fileSize,
		"contentType": contentType,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetPartURLs implements Coordinator.
func (h *HTTPCoordinator) GetPartURLs(ctx context.Context, sessionID string, partCount int) ([]uploadtypes.PartURL, error) {
	var out []uploadtypes.PartURL
	err := h.do(ctx, http.MethodPost, "/api/uploads/"+url.PathEscape(sessionID)+"/parts",
		map[string]any{"partCount": partCount}, &out)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Complete implements Coordinator.
func (h *HTTPCoordinator) Complete(ctx context.Context, sessionID string, parts []uploadtypes.Part) (*uploadtypes.CompleteResult, error) {
	var out uploadtypes.CompleteResult
	err := h.do(ctx, http.MethodPost, "/api/uploads/"+url.PathEscape(sessionID)+"/complete",
		map[string]any{"parts": parts}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Abort implements Coordinator.
func (h *HTTPCoordinator) Abort(ctx context.Context, sessionID string) (*uploadtypes.Session, error) {
	var out uploadtypes.Session
	if err := h.do(ctx, http.MethodDelete, "/api/uploads/"+url.PathEscape(sessionID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Status implements Coordinator.
func (h *HTTPCoordinator) Status(ctx context.Context, sessionID string) (*uploadtypes.Session, error) {
	var out uploadtypes.Session
	if err := h.do(ctx, http.MethodGet, "/api/uploads/"+url.PathEscape(sessionID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (h *HTTPCoordinator) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, h.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	resp, err := h.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return &APIError{
			StatusCode: resp.StatusCode,
			Code:       errors.CodeInternal,
			Message:    fmt.Sprintf("undecodable response: %.200s", raw),
		}
	}
	if resp.StatusCode >= 300 || env.Error != nil {
		apiErr := &APIError{StatusCode: resp.StatusCode, Code: errors.CodeInternal}
		if env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}

var _ Coordinator = (*HTTPCoordinator)(nil)
