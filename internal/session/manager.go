package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/google/uuid"
	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"github.com/patrickmn/go-cache"
	slogctx "github.com/veqryn/slog-context"

	"github.com/caseboard/session-gateway/internal/backend"
	"github.com/caseboard/session-gateway/internal/config"
	"github.com/caseboard/session-gateway/internal/identity"
	"github.com/caseboard/session-gateway/internal/serviceerr"
	"github.com/caseboard/session-gateway/pkg/csrf"
)

// identityCacheTTL bounds how long a resolved identity is trusted before
// the backend is asked again.
const identityCacheTTL = time.Minute

// freshIdentityTTL bounds the one-shot window in which a just-established
// identity may be claimed without a backend round trip.
const freshIdentityTTL = 30 * time.Second

type Manager struct {
	backend  *backend.Client
	sessions Repository

	sessionDuration time.Duration

	sessionCookieTemplate config.CookieTemplate
	csrfCookieTemplate    config.CookieTemplate

	csrfSecret []byte

	// identities caches /auth/me answers per session, freshIdentities holds
	// one-shot identities handed over from login and exchange handlers.
	identities      *cache.Cache
	freshIdentities *cache.Cache
}

func NewManager(cfg *config.Gateway, backendClient *backend.Client, sessions Repository) (*Manager, error) {
	csrfSecret, err := commoncfg.LoadValueFromSourceRef(cfg.CSRFSecret)
	if err != nil {
		return nil, fmt.Errorf("loading csrf secret from source ref: %w", err)
	}

	if len(csrfSecret) < 32 {
		return nil, errors.New("CSRF secret must be at least 32 bytes")
	}

	return &Manager{
		backend:               backendClient,
		sessions:              sessions,
		sessionDuration:       cfg.SessionDuration,
		sessionCookieTemplate: cfg.SessionCookieTemplate,
		csrfCookieTemplate:    cfg.CSRFCookieTemplate,
		csrfSecret:            csrfSecret,
		identities:            cache.New(identityCacheTTL, 5*time.Minute),
		freshIdentities:       cache.New(freshIdentityTTL, time.Minute),
	}, nil
}

// Resolve settles the authentication state behind a session ID. The
// returned state has Loading false in every settled outcome: a valid
// session yields the user and token, everything else yields anonymous.
// Only when the backend is unreachable, so the state genuinely cannot be
// settled either way, does Resolve return Loading true together with the
// transport error. Local session state is never cleared in that case.
//
// A backend 401 on the validation call is terminal: the stored session is
// deleted before the anonymous state is returned.
func (m *Manager) Resolve(ctx context.Context, sessionID, fingerprint string) (State, error) {
	if sessionID == "" {
		return State{}, nil
	}

	sess, err := m.sessions.LoadSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, serviceerr.ErrNotFound) {
			return State{}, nil
		}

		return State{}, fmt.Errorf("loading session: %w", err)
	}

	if sess.Fingerprint != fingerprint {
		slogctx.Warn(ctx, "Session fingerprint mismatch; clearing session", "session_id", sessionID)
		m.clear(ctx, sessionID)

		return State{}, serviceerr.ErrFingerprintMismatch
	}

	if time.Now().After(sess.Expiry) {
		m.clear(ctx, sessionID)

		return State{}, nil
	}

	if _, ok := m.identities.Get(sessionID); !ok {
		user, err := m.backend.Me(ctx, sess.Token)
		if err != nil {
			if errors.Is(err, serviceerr.ErrUnauthorized) {
				slogctx.Info(ctx, "Backend rejected stored token; clearing session", "session_id", sessionID)
				m.clear(ctx, sessionID)

				return State{}, nil
			}

			return State{Loading: true}, fmt.Errorf("validating session against backend: %w", err)
		}

		sess.User = *user
		m.identities.SetDefault(sessionID, *user)
	}

	sess.LastSeen = time.Now()
	if err := m.sessions.StoreSession(ctx, sess); err != nil {
		slogctx.Warn(ctx, "Could not persist session last-seen time", "error", err)
	}

	user := sess.User

	return State{User: &user, Token: sess.Token}, nil
}

// Login exchanges credentials for a new session. The prior session, if
// any, is replaced only after the backend confirmed the credentials:
// nothing is mutated on a rejected attempt.
func (m *Manager) Login(ctx context.Context, form backend.LoginForm, fingerprint, priorSessionID string) (Established, error) {
	resp, err := m.backend.Login(ctx, form)
	if err != nil {
		if errors.Is(err, serviceerr.ErrUnauthorized) {
			return Established{}, serviceerr.CredentialRejection("incorrect email or password")
		}

		return Established{}, err
	}

	return m.establish(ctx, OriginPassword, resp.AccessToken, resp.User, fingerprint, priorSessionID)
}

// Register creates an account and establishes its first session. A
// conflict on the email is propagated with the backend's detail intact.
func (m *Manager) Register(ctx context.Context, form backend.RegistrationForm, fingerprint, priorSessionID string) (Established, error) {
	resp, err := m.backend.Register(ctx, form)
	if err != nil {
		return Established{}, err
	}

	return m.establish(ctx, OriginPassword, resp.AccessToken, resp.User, fingerprint, priorSessionID)
}

// ExchangeOAuthSession redeems a one-time handoff ID delivered through the
// callback fragment. Failure leaves any existing session untouched.
func (m *Manager) ExchangeOAuthSession(ctx context.Context, handoffID, fingerprint, priorSessionID string) (Established, error) {
	resp, err := m.backend.ExchangeSession(ctx, handoffID)
	if err != nil {
		var svcErr *serviceerr.Error
		if errors.As(err, &svcErr) && svcErr.Err != serviceerr.CodeBackendUnavailable {
			slogctx.Info(ctx, "OAuth session exchange rejected", "error", err)

			return Established{}, serviceerr.ErrExchangeFailed
		}

		return Established{}, err
	}

	return m.establish(ctx, OriginOAuthExchange, resp.SessionToken, resp.User, fingerprint, priorSessionID)
}

// establish mints a fresh session around a backend-confirmed token. A new
// session ID is generated on every establishment and the prior session is
// deleted, so at most one gateway session stands behind a browser context.
func (m *Manager) establish(ctx context.Context, origin Origin, token string, user identity.User, fingerprint, priorSessionID string) (Established, error) {
	sessionID := uuid.NewString()
	csrfToken := csrf.NewToken(sessionID, m.csrfSecret)

	expiry, ok := tokenExpiry(token)
	if !ok {
		expiry = time.Now().Add(m.sessionDuration)
	}

	sess := Session{
		ID:          sessionID,
		Token:       token,
		Origin:      origin,
		User:        user,
		Fingerprint: fingerprint,
		CSRFToken:   csrfToken,
		Expiry:      expiry,
		LastSeen:    time.Now(),
	}

	if err := m.sessions.StoreSession(ctx, sess); err != nil {
		return Established{}, fmt.Errorf("storing session: %w", err)
	}

	if priorSessionID != "" && priorSessionID != sessionID {
		if err := m.sessions.DeleteSession(ctx, priorSessionID); err != nil {
			slogctx.Warn(ctx, "Could not delete prior session", "error", err)
		}

		m.identities.Delete(priorSessionID)
	}

	m.identities.SetDefault(sessionID, user)
	m.freshIdentities.SetDefault(sessionID, user)

	slogctx.Info(ctx, "Established session", "origin", string(origin), "user_id", user.ID)

	return Established{SessionID: sessionID, CSRFToken: csrfToken, User: user}, nil
}

// Logout tears the session down. The backend invalidation is best effort:
// a backend failure is logged and swallowed, the local session is deleted
// regardless, and the caller always ends up anonymous.
func (m *Manager) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}

	sess, err := m.sessions.LoadSession(ctx, sessionID)
	if err == nil {
		if err := m.backend.Logout(ctx, sess.Token); err != nil {
			slogctx.Warn(ctx, "Backend logout failed; clearing session anyway", "error", err)
		}
	} else if !errors.Is(err, serviceerr.ErrNotFound) {
		slogctx.Warn(ctx, "Could not load session for logout", "error", err)
	}

	m.clear(ctx, sessionID)

	return nil
}

// Invalidate drops the session without contacting the backend. Used when
// the backend itself already answered 401 on a proxied request.
func (m *Manager) Invalidate(ctx context.Context, sessionID string) {
	if sessionID == "" {
		return
	}

	m.clear(ctx, sessionID)
}

func (m *Manager) clear(ctx context.Context, sessionID string) {
	if err := m.sessions.DeleteSession(ctx, sessionID); err != nil {
		slogctx.Warn(ctx, "Could not delete session", "error", err)
	}

	m.identities.Delete(sessionID)
	m.freshIdentities.Delete(sessionID)
}

// ClaimFreshIdentity hands out the identity confirmed when the session was
// established, at most once. Later resolutions go through Resolve.
func (m *Manager) ClaimFreshIdentity(sessionID string) (identity.User, bool) {
	val, ok := m.freshIdentities.Get(sessionID)
	if !ok {
		return identity.User{}, false
	}

	m.freshIdentities.Delete(sessionID)

	user, ok := val.(identity.User)

	return user, ok
}

func (m *Manager) MakeSessionCookie(ctx context.Context, value string) (*http.Cookie, error) {
	sessionCookie := m.sessionCookieTemplate.ToCookie(value)

	if err := sessionCookie.Valid(); err != nil {
		return nil, fmt.Errorf("invalid session cookie: %w", err)
	}

	if !strings.HasPrefix(sessionCookie.Name, "__Host-Http-") {
		slogctx.Warn(ctx, "Session cookie name does not start with __Host-Http-; this is not recommended in production environments")
	}
	if !sessionCookie.Secure {
		slogctx.Warn(ctx, "Session cookie is not marked as Secure; this is not recommended in production environments")
	}
	if !sessionCookie.HttpOnly {
		slogctx.Warn(ctx, "Session cookie is not marked as HttpOnly; this is not recommended in production environments")
	}

	return sessionCookie, nil
}

func (m *Manager) MakeExpiredSessionCookie() *http.Cookie {
	return m.sessionCookieTemplate.ToExpiredCookie()
}

func (m *Manager) MakeCSRFCookie(ctx context.Context, value string) (*http.Cookie, error) {
	csrfCookie := m.csrfCookieTemplate.ToCookie(value)

	if err := csrfCookie.Valid(); err != nil {
		return nil, fmt.Errorf("invalid CSRF cookie: %w", err)
	}

	if !csrfCookie.Secure {
		slogctx.Warn(ctx, "CSRF cookie is not marked as Secure; this is not recommended in production environments")
	}
	if csrfCookie.HttpOnly {
		slogctx.Warn(ctx, "CSRF cookie is marked as HttpOnly; this is not recommended as the CSRF token needs to be accessible from JavaScript")
	}
	if csrfCookie.SameSite != http.SameSiteStrictMode {
		slogctx.Warn(ctx, "CSRF cookie is not marked as SameSite=Strict; this is not recommended in production environments")
	}

	return csrfCookie, nil
}

func (m *Manager) MakeExpiredCSRFCookie() *http.Cookie {
	return m.csrfCookieTemplate.ToExpiredCookie()
}

func (m *Manager) ValidateCSRFToken(token, sessionID string) bool {
	return csrf.Validate(token, sessionID, m.csrfSecret)
}

// tokenExpiry reads the exp claim from the backend token without verifying
// the signature; the gateway never trusts the token contents for anything
// but bounding its own session lifetime.
func tokenExpiry(raw string) (time.Time, bool) {
	token, err := jwt.ParseSigned(raw, []jose.SignatureAlgorithm{
		jose.HS256, jose.HS384, jose.HS512, jose.RS256, jose.ES256,
	})
	if err != nil {
		return time.Time{}, false
	}

	var claims jwt.Claims
	if err := token.UnsafeClaimsWithoutVerification(&claims); err != nil {
		return time.Time{}, false
	}

	if claims.Expiry == nil {
		return time.Time{}, false
	}

	return claims.Expiry.Time(), true
}
