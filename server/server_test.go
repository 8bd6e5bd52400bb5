package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/input-output-hk/catalyst-forge-libs/upload/coordinator"
	"github.com/input-output-hk/catalyst-forge-libs/upload/errors"
	"github.com/input-output-hk/catalyst-forge-libs/upload/uploadtypes"
)

// mockDispatcher implements Dispatcher with a function field.
type mockDispatcher struct {
	DispatchFunc func(ctx context.Context, cmd coordinator.Command) (any, error)
	commands     []coordinator.Command
}

func (m *mockDispatcher) Dispatch(ctx context.Context, cmd coordinator.Command) (any, error) {
	m.commands = append(m.commands, cmd)
	if m.DispatchFunc != nil {
		return m.DispatchFunc(ctx, cmd)
	}
	return map[string]string{"ok": "yes"}, nil
}

// staticAuth accepts a fixed token as owner-1.
var staticAuth = AuthenticatorFunc(func(r *http.Request) (string, error) {
	if r.Header.Get("Authorization") != "Bearer good" {
		return "", errors.NewError("authenticate", errors.ErrUnauthorized).WithMessage("bad token")
	}
	return "owner-1", nil
})

type apiResponse struct {
	Data  json.RawMessage `json:"data"`
	Error *errorBody      `json:"error"`
}

func serve(t *testing.T, s *Server, method, path, body string) (*httptest.ResponseRecorder, apiResponse) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer good")
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var resp apiResponse
	if rec.Body.Len() > 0 && strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec, resp
}

func newTestServer(t *testing.T, d Dispatcher, opts ...Option) *Server {
	t.Helper()
	s, err := New(d, staticAuth, opts...)
	require.NoError(t, err)
	return s
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, staticAuth)
	assert.True(t, errors.IsConfiguration(err))
	_, err = New(&mockDispatcher{}, nil)
	assert.True(t, errors.IsConfiguration(err))
}

func TestServer_Routes(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		want   coordinator.Command
	}{
		{
			name:   "init",
			method: http.MethodPost,
			path:   "/api/uploads",
			body:   `{"fileName":"clip.mp4","fileSize":1024,"contentType":"video/mp4"}`,
			status: http.StatusCreated,
			want:   coordinator.InitCommand{OwnerID: "owner-1", FileName: "clip.mp4", FileSize: 1024, ContentType: "video/mp4"},
		},
		{
			name:   "part_urls",
			method: http.MethodPost,
			path:   "/api/uploads/s-1/parts",
			body:   `{"partCount":7}`,
			status: http.StatusOK,
			want:   coordinator.GetPartURLsCommand{OwnerID: "owner-1", SessionID: "s-1", PartCount: 7},
		},
		{
			name:   "complete",
			method: http.MethodPost,
			path:   "/api/uploads/s-1/complete",
			body:   `{"parts":[{"partNumber":1,"etag":"\"a\""}]}`,
			status: http.StatusOK,
			want: coordinator.CompleteCommand{
				OwnerID:   "owner-1",
				SessionID: "s-1",
				Parts:     []uploadtypes.Part{{PartNumber: 1, ETag: `"a"`}},
			},
		},
		{
			name:   "abort",
			method: http.MethodDelete,
			path:   "/api/uploads/s-1",
			status: http.StatusOK,
			want:   coordinator.AbortCommand{OwnerID: "owner-1", SessionID: "s-1"},
		},
		{
			name:   "status",
			method: http.MethodGet,
			path:   "/api/uploads/s-1",
			status: http.StatusOK,
			want:   coordinator.StatusCommand{OwnerID: "owner-1", SessionID: "s-1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &mockDispatcher{}
			rec, resp := serve(t, newTestServer(t, d), tt.method, tt.path, tt.body)

			assert.Equal(t, tt.status, rec.Code)
			assert.Nil(t, resp.Error)
			assert.JSONEq(t, `{"ok":"yes"}`, string(resp.Data))
			require.Len(t, d.commands, 1)
			assert.Equal(t, tt.want, d.commands[0])
		})
	}
}

func TestServer_ErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		code    errors.ErrorCode
		message string
	}{
		{"not_found", errors.NewSessionError("status", "s-1", "", errors.ErrSessionNotFound), 404, errors.CodeSessionNotFound, ""},
		{"not_active", errors.NewError("complete", errors.ErrSessionNotActive), 409, errors.CodeSessionNotActive, ""},
		{"too_large", errors.NewError("init", errors.ErrFileTooLarge), 413, errors.CodeFileTooLarge, ""},
		{"bad_range", errors.NewError("getPartURLs", errors.ErrInvalidPartRange), 400, errors.CodeInvalidPartRange, ""},
		{"store", errors.NewStoreError("complete", 500, "InternalError", "boom", nil), 502, errors.CodeStoreRequestFailed, ""},
		{"internal", fmt.Errorf("database on fire"), 500, errors.CodeInternal, "Internal Server Error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &mockDispatcher{DispatchFunc: func(context.Context, coordinator.Command) (any, error) {
				return nil, tt.err
			}}
			rec, resp := serve(t, newTestServer(t, d), http.MethodGet, "/api/uploads/s-1", "")

			assert.Equal(t, tt.status, rec.Code)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
			if tt.message != "" {
				assert.Equal(t, tt.message, resp.Error.Message)
			}
		})
	}
}

func TestServer_RejectsUnauthenticated(t *testing.T) {
	d := &mockDispatcher{}
	s := newTestServer(t, d)

	req := httptest.NewRequest(http.MethodGet, "/api/uploads/s-1", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), string(errors.CodeUnauthorized))
	assert.Empty(t, d.commands)
}

func TestServer_RejectsMalformedBodies(t *testing.T) {
	for _, body := range []string{`{`, `{"fileName":"a","unknown":1}`, `[]`} {
		d := &mockDispatcher{}
		rec, resp := serve(t, newTestServer(t, d), http.MethodPost, "/api/uploads", body)

		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		require.NotNil(t, resp.Error, body)
		assert.Equal(t, errors.CodeInvalidInput, resp.Error.Code)
		assert.Empty(t, d.commands)
	}
}

func TestServer_UnknownRoute(t *testing.T) {
	rec, resp := serve(t, newTestServer(t, &mockDispatcher{}), http.MethodPut, "/api/uploads/s-1", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	require.NotNil(t, resp.Error)

	rec, _ = serve(t, newTestServer(t, &mockDispatcher{}), http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_CORSPreflight(t *testing.T) {
	s := newTestServer(t, &mockDispatcher{}, WithCORSOrigins("https://app.example.com"))

	req := httptest.NewRequest(http.MethodOptions, "/api/uploads", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Content-Type")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, rec.Header().Get("Access-Control-Allow-Headers"))
}

func TestServer_RecoversFromPanics(t *testing.T) {
	d := &mockDispatcher{DispatchFunc: func(context.Context, coordinator.Command) (any, error) {
		panic("boom")
	}}
	rec, _ := serve(t, newTestServer(t, d), http.MethodGet, "/api/uploads/s-1", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServer_Health(t *testing.T) {
	healthy := newTestServer(t, &mockDispatcher{},
		WithHealthCheck("store", func(context.Context) error { return nil }))
	rec, _ := serve(t, healthy, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	sick := newTestServer(t, &mockDispatcher{},
		WithHealthCheck("store", func(context.Context) error { return nil }),
		WithHealthCheck("cache", func(context.Context) error { return fmt.Errorf("connection refused") }))
	rec, _ = serve(t, sick, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestServer_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := coordinator.NewPrometheusObserver("upload", reg)
	require.NoError(t, err)

	s := newTestServer(t, &mockDispatcher{}, WithMetrics(reg))
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "upload_part_urls_issued_total")
}
