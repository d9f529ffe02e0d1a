// Package api implements the HTTP API: login, investigation submission,
// and session inspection.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/aztriage/aztriage/internal/agent"
	"github.com/aztriage/aztriage/internal/auth"
	"github.com/aztriage/aztriage/internal/safety"
	"github.com/aztriage/aztriage/internal/session"
)

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response,
// which is not actionable but worth tracking for debugging.
func writeJSON(w http.ResponseWriter, status int, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string, logger *slog.Logger) {
	writeJSON(w, status, map[string]string{"error": message}, logger)
}

// Server is the HTTP API server.
type Server struct {
	address  string
	port     int
	agent    *agent.Agent
	store    *session.Store
	governor *safety.Governor
	jwts     *auth.JWTService
	vault    *auth.Vault
	logger   *slog.Logger
	server   *http.Server
}

// NewServer creates the API server.
func NewServer(address string, port int, ag *agent.Agent, store *session.Store, governor *safety.Governor, jwts *auth.JWTService, vault *auth.Vault, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address:  address,
		port:     port,
		agent:    ag,
		store:    store,
		governor: governor,
		jwts:     jwts,
		vault:    vault,
		logger:   logger,
	}
}

// Routes builds the router. Exposed separately so tests can drive the
// handlers without a listener.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.withLogging)

	r.Get("/healthz", s.handleHealth)
	r.Post("/api/login", s.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(s.withAuth)
		r.Post("/api/investigate", s.handleInvestigate)
		r.Get("/api/sessions", s.handleSessionList)
		r.Get("/api/sessions/{traceID}", s.handleSessionGet)
		r.Delete("/api/sessions/{traceID}", s.handleSessionDelete)
		r.Get("/api/sessions/{traceID}/safety", s.handleSessionSafety)
		r.Get("/api/stats", s.handleStats)
	})

	return r
}

// Start begins serving HTTP requests and blocks until the listener
// fails or Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:      s.Routes(),
		ReadTimeout:  30 * time.Second,
		// Investigations can legitimately run to the full safety time
		// budget before the response is written.
		WriteTimeout: 120 * time.Second,
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	return s.server.ListenAndServe()
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
