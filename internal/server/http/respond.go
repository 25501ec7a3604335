package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/and161185/ident/internal/errs"
)

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// writeServiceError maps service sentinels onto status codes. Anything
// unclassified is logged with full detail and surfaced as a generic 500;
// internal error text never crosses the boundary.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errs.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, errs.ErrInvalidCredentials.Error())
	case errors.Is(err, errs.ErrInvalidToken):
		writeError(w, http.StatusUnauthorized, errs.ErrInvalidToken.Error())
	case errors.Is(err, errs.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, errs.ErrUnauthenticated.Error())
	case errors.Is(err, errs.ErrForbidden):
		writeError(w, http.StatusForbidden, errs.ErrForbidden.Error())
	case errors.Is(err, errs.ErrConflict):
		writeError(w, http.StatusConflict, errs.ErrConflict.Error())
	case errors.Is(err, errs.ErrNotFound):
		writeError(w, http.StatusNotFound, errs.ErrNotFound.Error())
	case errors.Is(err, errs.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, errs.ErrUnavailable.Error())
	default:
		s.internalError(w, err)
	}
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	s.log.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}
