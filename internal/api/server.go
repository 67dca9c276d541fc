// Package api implements the Kiwi HTTP API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/kiwicrm/kiwi/internal/agent"
	"github.com/kiwicrm/kiwi/internal/auth"
	"github.com/kiwicrm/kiwi/internal/buildinfo"
	"github.com/kiwicrm/kiwi/internal/crm"
	"github.com/kiwicrm/kiwi/internal/store"
)

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response,
// which is not actionable but worth tracking for debugging.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Server is the HTTP API server.
type Server struct {
	address   string
	port      int
	store     *store.Store
	auth      *auth.Authenticator
	loop      *agent.Loop
	assembler *crm.Assembler
	logger    *slog.Logger
	server    *http.Server
}

// NewServer creates a new API server.
func NewServer(address string, port int, st *store.Store, authn *auth.Authenticator, loop *agent.Loop, logger *slog.Logger) *Server {
	return &Server{
		address:   address,
		port:      port,
		store:     st,
		auth:      authn,
		loop:      loop,
		assembler: crm.NewAssembler(st),
		logger:    logger,
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:      s.withLogging(s.routes()),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second, // Long for streaming responses
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	return s.server.ListenAndServe()
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	// Chat
	mux.HandleFunc("POST /chat", s.authed(s.handleChat))

	// Dashboard
	mux.HandleFunc("GET /dashboard", s.authed(s.handleDashboard))

	// Lead CRUD
	mux.HandleFunc("POST /leads", s.authed(s.handleLeadCreate))
	mux.HandleFunc("PATCH /leads/{id}", s.authed(s.handleLeadUpdate))
	mux.HandleFunc("DELETE /leads/{id}", s.authed(s.handleLeadDelete))

	// Task CRUD
	mux.HandleFunc("POST /tasks", s.authed(s.handleTaskCreate))
	mux.HandleFunc("PATCH /tasks/{id}", s.authed(s.handleTaskUpdate))
	mux.HandleFunc("DELETE /tasks/{id}", s.authed(s.handleTaskDelete))

	// Note CRUD
	mux.HandleFunc("POST /notes", s.authed(s.handleNoteCreate))
	mux.HandleFunc("PATCH /notes/{id}", s.authed(s.handleNoteUpdate))
	mux.HandleFunc("DELETE /notes/{id}", s.authed(s.handleNoteDelete))

	// Health endpoints
	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /", s.handleRoot)

	return mux
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

type contextKey string

const userKey contextKey = "user"

// authed resolves the bearer session and loads (or creates) the backing
// user record before invoking the handler. First contact with a configured
// session provisions the user together with their Personal lead.
func (s *Server) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, err := s.auth.Authenticate(r)
		if err != nil {
			s.unauthorized(w)
			return
		}

		user, err := s.store.GetOrCreateUser(r.Context(), identity.Subject, identity.Email, identity.Name)
		if err != nil {
			s.logger.Error("user lookup failed", "subject", identity.Subject, "error", err)
			s.internalError(w, err)
			return
		}

		ctx := context.WithValue(r.Context(), userKey, user)
		next(w, r.WithContext(ctx))
	}
}

// userFrom returns the authenticated user placed on the context by authed.
func userFrom(r *http.Request) *store.User {
	u, _ := r.Context().Value(userKey).(*store.User)
	return u
}

func (s *Server) unauthorized(w http.ResponseWriter) {
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
}

func (s *Server) badRequest(w http.ResponseWriter, message string) {
	http.Error(w, message, http.StatusBadRequest)
}

func (s *Server) notFound(w http.ResponseWriter, message string) {
	http.Error(w, message, http.StatusNotFound)
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	http.Error(w, "Internal server error: "+err.Error(), http.StatusInternalServerError)
}

// storeError maps persistence failures onto the HTTP taxonomy.
func (s *Server) storeError(w http.ResponseWriter, err error, notFoundMsg string) {
	if errors.Is(err, store.ErrNotFound) {
		s.notFound(w, notFoundMsg)
		return
	}
	s.internalError(w, err)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"name":    "Kiwi",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.Info(), s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"status": "healthy"}, s.logger)
}
