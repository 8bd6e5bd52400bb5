package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/input-output-hk/catalyst-forge-libs/upload/errors"
)

type errorBody struct {
	Code    errors.ErrorCode `json:"code"`
	Message string           `json:"message"`
}

type envelope struct {
	Data  any        `json:"data,omitempty"`
	Error *errorBody `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Warn("failed to encode response", "error", err)
	}
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Data: data})
}

// writeError maps err to its code and status. Internal errors are not echoed
// to the caller.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := errors.CodeOf(err)
	status := errors.HTTPStatus(code)

	msg := err.Error()
	if code == errors.CodeInternal {
		msg = http.StatusText(status)
	}
	if status >= 500 {
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"code", code,
			"error", err,
		)
	}
	writeJSON(w, status, envelope{Error: &errorBody{Code: code, Message: msg}})
}
