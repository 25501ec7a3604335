// Package httpserver is the thin HTTP boundary over the session service.
// It validates request bodies, maps sentinel failures onto status codes and
// renders JSON; all lifecycle rules live in internal/service.
package httpserver

import (
	"net/http"

	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/and161185/ident/internal/service"
	"github.com/and161185/ident/internal/token"
)

// Server wires the session service into HTTP handlers.
type Server struct {
	sessions service.SessionService
	codec    *token.Codec
	log      *zap.Logger
}

// New constructs the HTTP boundary.
func New(sessions service.SessionService, codec *token.Codec, log *zap.Logger) *Server {
	return &Server{sessions: sessions, codec: codec, log: log}
}

// Handler builds the full middleware chain and route table.
func (s *Server) Handler(allowedOrigins []string) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/auth/register", s.handleRegister)
	mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	mux.HandleFunc("POST /api/auth/refresh", s.handleRefresh)
	mux.HandleFunc("POST /api/auth/logout", s.handleLogout)

	mux.Handle("POST /api/auth/logout_all", s.Authenticate(http.HandlerFunc(s.handleLogoutAll)))
	mux.Handle("GET /api/auth/sessions", s.Authenticate(http.HandlerFunc(s.handleSessions)))
	mux.Handle("GET /api/me", s.Authenticate(http.HandlerFunc(s.handleMe)))

	mux.Handle("POST /api/admin/users/{id}/revoke",
		s.Authenticate(s.RequireRoles("admin")(http.HandlerFunc(s.handleAdminRevoke))))

	var h http.Handler = mux
	h = Logging(s.log)(h)
	h = Recover(s.log)(h)
	h = cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	}).Handler(h)
	return h
}
