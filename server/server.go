// Package server exposes the upload coordinator over a JSON HTTP API.
//
// Every response is an envelope carrying either "data" or an "error" object
// with a stable code. Requests are authenticated and sessions are only
// visible to the owner that created them.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/input-output-hk/catalyst-forge-libs/upload/coordinator"
	"github.com/input-output-hk/catalyst-forge-libs/upload/errors"
)

// maxBodySize bounds request bodies; a complete request for the maximum part
// count stays well below it.
const maxBodySize = 4 << 20

// Dispatcher runs coordinator commands. *coordinator.Coordinator implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, cmd coordinator.Command) (any, error)
}

var _ Dispatcher = (*coordinator.Coordinator)(nil)

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// Server routes HTTP requests to a Dispatcher.
type Server struct {
	dispatcher  Dispatcher
	auth        Authenticator
	logger      *slog.Logger
	corsOrigins []string
	gatherer    prometheus.Gatherer
	checks      map[string]HealthCheck
	router      *mux.Router
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithCORSOrigins allows browser uploads from the given origins.
func WithCORSOrigins(origins ...string) Option {
	return func(s *Server) {
		s.corsOrigins = origins
	}
}

// WithMetrics serves /metrics from g.
func WithMetrics(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// WithHealthCheck adds a named check to /healthz.
func WithHealthCheck(name string, check HealthCheck) Option {
	return func(s *Server) {
		s.checks[name] = check
	}
}

// New returns a Server dispatching to d and authenticating with auth.
func New(d Dispatcher, auth Authenticator, opts ...Option) (*Server, error) {
	if d == nil {
		return nil, errors.NewError("newServer", errors.ErrConfiguration).WithMessage("dispatcher is required")
	}
	if auth == nil {
		return nil, errors.NewError("newServer", errors.ErrConfiguration).WithMessage("authenticator is required")
	}
	s := &Server{
		dispatcher: d,
		auth:       auth,
		logger:     slog.New(slog.DiscardHandler),
		checks:     make(map[string]HealthCheck),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.health).Methods(http.MethodGet)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api/uploads").Subrouter()
	api.Use(s.authenticate)
	api.HandleFunc("", s.initUpload).Methods(http.MethodPost)
	api.HandleFunc("/{id}/parts", s.partURLs).Methods(http.MethodPost)
	api.HandleFunc("/{id}/complete", s.complete).Methods(http.MethodPost)
	api.HandleFunc("/{id}", s.abort).Methods(http.MethodDelete)
	api.HandleFunc("/{id}", s.status).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, envelope{Error: &errorBody{
			Code:    errors.CodeInvalidInput,
			Message: "no route for " + r.Method + " " + r.URL.Path,
		}})
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, envelope{Error: &errorBody{
			Code:    errors.CodeInvalidInput,
			Message: "method " + r.Method + " not allowed",
		}})
	})
	s.router = r
}

// Handler returns the root handler with recovery and CORS applied.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.router
	if len(s.corsOrigins) > 0 {
		h = handlers.CORS(
			handlers.AllowedOrigins(s.corsOrigins),
			handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}),
			handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
			handlers.ExposedHeaders([]string{"ETag"}),
			handlers.MaxAge(600),
		)(h)
	}
	h = handlers.RecoveryHandler(handlers.RecoveryLogger(recoveryLogger{s.logger}))(h)
	return s.logRequests(h)
}

// ListenAndServe serves on addr until ctx is done, then shuts down within
// shutdownTimeout.
func (s *Server) ListenAndServe(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("server shutting down")
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

type recoveryLogger struct {
	logger *slog.Logger
}

func (l recoveryLogger) Println(v ...any) {
	l.logger.Error("handler panic", "panic", v)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	results := make(map[string]string, len(s.checks))
	for name, check := range s.checks {
		if err := check(r.Context()); err != nil {
			results[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}
	writeJSON(w, status, map[string]any{"status": http.StatusText(status), "checks": results})
}
