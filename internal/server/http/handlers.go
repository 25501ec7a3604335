package httpserver

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"regexp"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/ident/internal/errs"
	"github.com/and161185/ident/internal/model"
)

// emailRe is a deliberately loose shape check; real validation happens when
// the address is used.
var emailRe = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

const minPasswordLen = 8

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r *credentialsRequest) validate() string {
	if !emailRe.MatchString(r.Email) {
		return "invalid email"
	}
	if len(r.Password) < minPasswordLen {
		return "password too short"
	}
	return ""
}

// validateLogin checks shape only; the password policy applies at
// registration, not when presenting credentials.
func (r *credentialsRequest) validateLogin() string {
	if !emailRe.MatchString(r.Email) {
		return "invalid email"
	}
	if r.Password == "" {
		return "password required"
	}
	return ""
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenResponse struct {
	AccessToken  string            `json:"access_token"`
	RefreshToken string            `json:"refresh_token"`
	User         *model.PublicUser `json:"user,omitempty"`
}

type sessionInfo struct {
	ID        uuid.UUID `json:"id"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
	IP        string    `json:"ip,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return false
	}
	return true
}

func clientMeta(r *http.Request) model.ClientMeta {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		ip = host
	}
	return model.ClientMeta{IP: ip, UserAgent: r.UserAgent()}
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if msg := req.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	pub, err := s.sessions.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, pub)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if msg := req.validateLogin(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	tokens, pub, err := s.sessions.Login(r.Context(), req.Email, req.Password, clientMeta(r))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		User:         &pub,
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "refresh_token required")
		return
	}

	tokens, err := s.sessions.Refresh(r.Context(), req.RefreshToken)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, tokenResponse{
			AccessToken:  tokens.AccessToken,
			RefreshToken: tokens.RefreshToken,
		})
	case errors.Is(err, errs.ErrInvalidToken):
		writeError(w, http.StatusUnauthorized, errs.ErrInvalidToken.Error())
	case errors.Is(err, errs.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, errs.ErrUnavailable.Error())
	default:
		// Includes corrupted-store conditions; never worth detailing to the
		// caller.
		s.internalError(w, err)
	}
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "refresh_token required")
		return
	}

	if err := s.sessions.Logout(r.Context(), req.RefreshToken); err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.subjectFromCtx(w, r)
	if !ok {
		return
	}
	n, err := s.sessions.LogoutAll(r.Context(), userID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"revoked": n})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.subjectFromCtx(w, r)
	if !ok {
		return
	}
	list, err := s.sessions.ActiveSessions(r.Context(), userID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	out := make([]sessionInfo, 0, len(list))
	for _, t := range list {
		out = append(out, sessionInfo{
			ID:        t.ID,
			IssuedAt:  t.IssuedAt,
			ExpiresAt: t.ExpiresAt,
			IP:        t.IP,
			UserAgent: t.UserAgent,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromCtx(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, errs.ErrUnauthenticated.Error())
		return
	}
	id, err := claims.SubjectID()
	if err != nil {
		writeError(w, http.StatusUnauthorized, errs.ErrInvalidToken.Error())
		return
	}
	writeJSON(w, http.StatusOK, model.PublicUser{ID: id, Email: claims.Email, Roles: claims.Roles})
}

func (s *Server) handleAdminRevoke(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.FromString(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad user id")
		return
	}
	n, err := s.sessions.LogoutAll(r.Context(), userID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"revoked": n})
}

func (s *Server) subjectFromCtx(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	claims, ok := ClaimsFromCtx(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, errs.ErrUnauthenticated.Error())
		return uuid.Nil, false
	}
	id, err := claims.SubjectID()
	if err != nil {
		writeError(w, http.StatusUnauthorized, errs.ErrInvalidToken.Error())
		return uuid.Nil, false
	}
	return id, true
}
