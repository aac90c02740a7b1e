package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/crm-core/internal/audit"
	"github.com/nerrad567/crm-core/internal/auth"
)

// loginRequest is the request body for POST /auth/login.
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// loginResponse is the response body for POST /auth/login.
type loginResponse struct {
	AccessToken  string       `json:"accessToken"`
	RefreshToken string       `json:"refreshToken"`
	User         auth.Profile `json:"user"`
}

// refreshRequest is the request body for POST /auth/refresh.
type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// tokenResponse is the response body for POST /auth/refresh.
type tokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// isAuthFailure reports errors that must surface as the generic 401.
func isAuthFailure(err error) bool {
	return errors.Is(err, auth.ErrMissingToken) ||
		errors.Is(err, auth.ErrInvalidToken) ||
		errors.Is(err, auth.ErrRefreshReplay)
}

// handleLogin authenticates an identity by email and password and
// returns a token pair with the caller's profile.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	a, ok := s.adapterFrom(w, r)
	if !ok {
		return
	}

	session, err := s.auth.Login(r.Context(), a.Identities(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			s.metrics.logins.WithLabelValues("failure").Inc()
			s.record(r, audit.ActionLoginFailed, "session", "", "", map[string]any{
				"email": auth.NormalizeEmail(req.Email),
			})
			writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, msgInvalidCredentials)
			return
		}
		s.metrics.logins.WithLabelValues("error").Inc()
		s.writeStoreError(w, r, "login", err)
		return
	}

	ident := session.Identity
	s.metrics.logins.WithLabelValues("success").Inc()
	s.logger.Info("login succeeded", "user_id", ident.ID, "role", ident.Role, "mode", modeOf(r.Context()))
	s.record(r, audit.ActionLogin, "session", ident.ID, ident.ID, map[string]any{
		"role": string(ident.Role),
	})

	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken:  session.Tokens.AccessToken,
		RefreshToken: session.Tokens.RefreshToken,
		User:         ident.Profile(),
	})
}

// handleRefresh rotates a refresh token into a new pair.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	a, ok := s.adapterFrom(w, r)
	if !ok {
		return
	}

	pair, err := s.auth.Refresh(r.Context(), a.Identities(), req.RefreshToken)
	if err != nil {
		if isAuthFailure(err) {
			details := map[string]any{"reason": "invalid"}
			if errors.Is(err, auth.ErrRefreshReplay) {
				details["reason"] = "replay"
			}
			s.record(r, audit.ActionRefreshFailed, "session", "", "", details)
			writeUnauthorized(w)
			return
		}
		s.writeStoreError(w, r, "refresh", err)
		return
	}

	s.record(r, audit.ActionRefresh, "session", pair.Subject, pair.Subject, nil)
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	})
}

// handleLogout invalidates the caller's refresh token.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	ident, _ := auth.IdentityFromContext(r.Context())
	claims, _ := auth.ClaimsFromContext(r.Context())

	a, ok := s.adapterFrom(w, r)
	if !ok {
		return
	}

	if err := s.auth.Logout(r.Context(), a.Identities(), ident, claims); err != nil {
		s.writeStoreError(w, r, "logout", err)
		return
	}

	s.record(r, audit.ActionLogout, "session", ident.ID, ident.ID, nil)
	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

// handleMe returns the authenticated caller's profile.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	ident, _ := auth.IdentityFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"user": ident.Profile()})
}

// handleHealth reports liveness, which backend served this request and,
// when any are configured, the reachability of the telemetry outputs.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":  "ok",
		"version": s.version,
		"mode":    modeOf(r.Context()),
	}
	if len(s.checks) > 0 {
		body["components"] = s.componentHealth(r.Context())
	}
	writeJSON(w, http.StatusOK, body)
}

// componentCheckTimeout bounds each /health component check.
const componentCheckTimeout = 2 * time.Second

// componentHealth runs the configured checks concurrently.
func (s *Server) componentHealth(ctx context.Context) map[string]string {
	ctx, cancel := context.WithTimeout(ctx, componentCheckTimeout)
	defer cancel()

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		out = make(map[string]string, len(s.checks))
	)
	for name, check := range s.checks {
		wg.Go(func() {
			state := "ok"
			if err := check(ctx); err != nil {
				state = "unreachable"
				s.logger.Warn("health component unreachable", "component", name, "error", err)
			}
			mu.Lock()
			out[name] = state
			mu.Unlock()
		})
	}
	wg.Wait()
	return out
}
