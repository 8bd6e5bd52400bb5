package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/input-output-hk/catalyst-forge-libs/upload/coordinator"
	"github.com/input-output-hk/catalyst-forge-libs/upload/errors"
)

type ownerKey struct{}

func ownerFrom(ctx context.Context) string {
	owner, _ := ctx.Value(ownerKey{}).(string)
	return owner
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner, err := s.auth.Authenticate(r)
		if err != nil {
			if !errors.IsUnauthorized(err) {
				err = errors.NewError("authenticate", errors.ErrUnauthorized).WithMessage(err.Error())
			}
			s.writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ownerKey{}, owner)))
	})
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.NewError("decodeRequest", errors.ErrInvalidInput).
			WithMessage(fmt.Sprintf("malformed request body: %v", err))
	}
	return nil
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, status int, cmd coordinator.Command) {
	out, err := s.dispatcher.Dispatch(r.Context(), cmd)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, status, out)
}

func (s *Server) initUpload(w http.ResponseWriter, r *http.Request) {
	var cmd coordinator.InitCommand
	if err := decode(r, &cmd); err != nil {
		s.writeError(w, r, err)
		return
	}
	cmd.OwnerID = ownerFrom(r.Context())
	s.dispatch(w, r, http.StatusCreated, cmd)
}

func (s *Server) partURLs(w http.ResponseWriter, r *http.Request) {
	var cmd coordinator.GetPartURLsCommand
	if err := decode(r, &cmd); err != nil {
		s.writeError(w, r, err)
		return
	}
	cmd.OwnerID = ownerFrom(r.Context())
	cmd.SessionID = mux.Vars(r)["id"]
	s.dispatch(w, r, http.StatusOK, cmd)
}

func (s *Server) complete(w http.ResponseWriter, r *http.Request) {
	var cmd coordinator.CompleteCommand
	if err := decode(r, &cmd); err != nil {
		s.writeError(w, r, err)
		return
	}
	cmd.OwnerID = ownerFrom(r.Context())
	cmd.SessionID = mux.Vars(r)["id"]
	s.dispatch(w, r, http.StatusOK, cmd)
}

func (s *Server) abort(w http.ResponseWriter, r *http.Request) {
	s.dispatch(w, r, http.StatusOK, coordinator.AbortCommand{
		OwnerID:   ownerFrom(r.Context()),
		SessionID: mux.Vars(r)["id"],
	})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	s.dispatch(w, r, http.StatusOK, coordinator.StatusCommand{
		OwnerID:   ownerFrom(r.Context()),
		SessionID: mux.Vars(r)["id"],
	})
}
