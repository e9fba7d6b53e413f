package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	slogctx "github.com/veqryn/slog-context"

	"github.com/caseboard/session-gateway/internal/backend"
	"github.com/caseboard/session-gateway/internal/config"
	"github.com/caseboard/session-gateway/internal/fragment"
	"github.com/caseboard/session-gateway/internal/serviceerr"
	"github.com/caseboard/session-gateway/internal/session"
	"github.com/caseboard/session-gateway/pkg/fingerprint"
)

// csrfHeader carries the CSRF token on mutating requests; the browser
// copies it from the CSRF cookie, which scripts can read.
const csrfHeader = "X-CSRF-Token"

// Server holds the gateway's own endpoints: the auth surface the browser
// talks to and the OAuth callback relay.
type Server struct {
	cfg     *config.Config
	manager *session.Manager
	backend *backend.Client
	routes  config.RouteManifest
	latch   *fragment.Latch
	relay   []byte
}

// latchRetention is how long consumed handoff IDs are remembered. Backend
// handoff IDs expire well within this window, so a remembered ID can never
// be validly replayed.
const latchRetention = 10 * time.Minute

func newServer(cfg *config.Config, manager *session.Manager, backendClient *backend.Client, routes config.RouteManifest) (*Server, error) {
	relay, err := renderRelayPage(cfg.Gateway.CallbackPath)
	if err != nil {
		return nil, err
	}

	return &Server{
		cfg:     cfg,
		manager: manager,
		backend: backendClient,
		routes:  routes,
		latch:   fragment.NewLatch(latchRetention),
		relay:   relay,
	}, nil
}

func (s *Server) sessionID(r *http.Request) string {
	cookie, err := r.Cookie(s.cfg.Gateway.SessionCookieTemplate.Name)
	if err != nil {
		return ""
	}

	return cookie.Value
}

// handleMe answers with the authenticated identity, or 401. A session
// established moments ago is served from the one-shot handover, sparing
// the immediate profile fetch a backend round trip.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := s.sessionID(r)

	if user, ok := s.manager.ClaimFreshIdentity(sessionID); ok {
		writeJSON(ctx, w, http.StatusOK, user)
		return
	}

	fp, _ := fingerprint.ExtractFingerprint(ctx)

	state, err := s.manager.Resolve(ctx, sessionID, fp)
	if err != nil && state.Loading {
		writeError(ctx, w, err)
		return
	}

	if !state.IsAuthenticated() {
		writeError(ctx, w, serviceerr.ErrUnauthorized)
		return
	}

	writeJSON(ctx, w, http.StatusOK, state.User)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var form backend.LoginForm
	if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
		writeError(ctx, w, serviceerr.CredentialRejection("malformed request body"))
		return
	}

	if form.Email == "" || form.Password == "" {
		writeError(ctx, w, serviceerr.CredentialRejection("email and password are required"))
		return
	}

	fp, _ := fingerprint.ExtractFingerprint(ctx)

	result, err := s.manager.Login(ctx, form, fp, s.sessionID(r))
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	if err := s.issueCookies(ctx, w, result); err != nil {
		writeError(ctx, w, err)
		return
	}

	writeJSON(ctx, w, http.StatusOK, result.User)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var form backend.RegistrationForm
	if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
		writeError(ctx, w, serviceerr.CredentialRejection("malformed request body"))
		return
	}

	if form.Email == "" || form.Password == "" || form.Name == "" {
		writeError(ctx, w, serviceerr.CredentialRejection("email, password and name are required"))
		return
	}

	fp, _ := fingerprint.ExtractFingerprint(ctx)

	result, err := s.manager.Register(ctx, form, fp, s.sessionID(r))
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	if err := s.issueCookies(ctx, w, result); err != nil {
		writeError(ctx, w, err)
		return
	}

	writeJSON(ctx, w, http.StatusCreated, result.User)
}

// handleLogout always leaves the caller anonymous. The CSRF token is
// required when a session cookie is presented.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := s.sessionID(r)

	if sessionID != "" && !s.manager.ValidateCSRFToken(r.Header.Get(csrfHeader), sessionID) {
		writeError(ctx, w, &serviceerr.Error{Err: serviceerr.CodeFingerprintMismatch, Description: "invalid CSRF token"})
		return
	}

	if err := s.manager.Logout(ctx, sessionID); err != nil {
		writeError(ctx, w, err)
		return
	}

	s.expireCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

// issueCookies sets the session and CSRF cookies for a freshly
// established session.
func (s *Server) issueCookies(ctx context.Context, w http.ResponseWriter, result session.Established) error {
	sessionCookie, err := s.manager.MakeSessionCookie(ctx, result.SessionID)
	if err != nil {
		return err
	}

	csrfCookie, err := s.manager.MakeCSRFCookie(ctx, result.CSRFToken)
	if err != nil {
		return err
	}

	http.SetCookie(w, sessionCookie)
	http.SetCookie(w, csrfCookie)

	return nil
}

func (s *Server) expireCookies(w http.ResponseWriter) {
	http.SetCookie(w, s.manager.MakeExpiredSessionCookie())
	http.SetCookie(w, s.manager.MakeExpiredCSRFCookie())
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		slogctx.Warn(ctx, "Could not encode response body", "error", err)
	}
}

// writeError maps a taxonomy error onto its HTTP status and JSON body.
func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	var svcErr *serviceerr.Error
	if !errors.As(err, &svcErr) {
		slogctx.Error(ctx, "Unclassified error", "error", err)
		svcErr = serviceerr.ErrUnknown
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(svcErr.HTTPStatus())
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":  string(svcErr.Err),
		"detail": svcErr.Description,
	})
}
