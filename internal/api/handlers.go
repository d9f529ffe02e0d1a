package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/aztriage/aztriage/internal/agent"
	"github.com/aztriage/aztriage/internal/auth"
	"github.com/aztriage/aztriage/internal/buildinfo"
	"github.com/aztriage/aztriage/internal/session"
)

type contextKey string

const claimsKey contextKey = "claims"

// withAuth verifies the bearer token and stashes the claims on the
// request context.
func (s *Server) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token", s.logger)
			return
		}

		claims, err := s.jwts.Verify(token)
		if err != nil {
			s.logger.Debug("token rejected", "error", err)
			writeError(w, http.StatusUnauthorized, "invalid token", s.logger)
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
	})
}

func claimsFrom(r *http.Request) *auth.Claims {
	claims, _ := r.Context().Value(claimsKey).(*auth.Claims)
	return claims
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": buildinfo.Version,
	}, s.logger)
}

// loginRequest carries the caller's identity and their Azure access
// token, which the vault holds for the investigation functions.
type loginRequest struct {
	UPN              string `json:"upn"`
	TenantID         string `json:"tenant_id,omitempty"`
	AzureToken       string `json:"azure_token"`
	ExpiresInSeconds int    `json:"expires_in_seconds,omitempty"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", s.logger)
		return
	}
	if req.UPN == "" || req.AzureToken == "" {
		writeError(w, http.StatusBadRequest, "upn and azure_token are required", s.logger)
		return
	}

	ttl := time.Hour
	if req.ExpiresInSeconds > 0 {
		ttl = time.Duration(req.ExpiresInSeconds) * time.Second
	}
	if err := s.vault.Put(req.UPN, req.AzureToken, ttl); err != nil {
		s.logger.Error("vault store failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to store credentials", s.logger)
		return
	}

	token, err := s.jwts.Issue(req.UPN, req.TenantID)
	if err != nil {
		s.logger.Error("token issue failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to issue token", s.logger)
		return
	}

	s.logger.Info("login", "upn", req.UPN)
	writeJSON(w, http.StatusOK, map[string]any{
		"token":      token,
		"token_type": "Bearer",
	}, s.logger)
}

func (s *Server) handleInvestigate(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)

	var req agent.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", s.logger)
		return
	}

	result, err := s.agent.Investigate(r.Context(), claims.UPN, req)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrNotFound):
			writeError(w, http.StatusNotFound, "session not found", s.logger)
		default:
			writeError(w, http.StatusBadRequest, err.Error(), s.logger)
		}
		return
	}

	writeJSON(w, http.StatusOK, result, s.logger)
}

func (s *Server) handleSessionList(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": s.store.List(claims.UPN),
	}, s.logger)
}

// ownedSession looks up the session in the path and checks it belongs
// to the caller. Foreign sessions read as not found.
func (s *Server) ownedSession(w http.ResponseWriter, r *http.Request) *session.Session {
	claims := claimsFrom(r)
	traceID := chi.URLParam(r, "traceID")

	sess, err := s.store.Get(traceID)
	if err != nil || sess.Principal != claims.UPN {
		writeError(w, http.StatusNotFound, "session not found", s.logger)
		return nil
	}
	return sess
}

func (s *Server) handleSessionGet(w http.ResponseWriter, r *http.Request) {
	sess := s.ownedSession(w, r)
	if sess == nil {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session":  sess.Summarize(),
		"findings": sess.Findings(),
		"logs":     sess.Logs(),
		"calls":    sess.Calls(),
	}, s.logger)
}

func (s *Server) handleSessionDelete(w http.ResponseWriter, r *http.Request) {
	sess := s.ownedSession(w, r)
	if sess == nil {
		return
	}
	s.store.Delete(sess.TraceID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"}, s.logger)
}

func (s *Server) handleSessionSafety(w http.ResponseWriter, r *http.Request) {
	sess := s.ownedSession(w, r)
	if sess == nil {
		return
	}
	writeJSON(w, http.StatusOK, s.governor.GetSafetyStatus(sess), s.logger)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": s.store.Stats(),
		"build":    buildinfo.Info(),
	}, s.logger)
}
