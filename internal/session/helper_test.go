package session_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"github.com/stretchr/testify/require"

	"github.com/caseboard/session-gateway/internal/backend"
	"github.com/caseboard/session-gateway/internal/config"
	"github.com/caseboard/session-gateway/internal/identity"
	"github.com/caseboard/session-gateway/internal/session"
	sessionmock "github.com/caseboard/session-gateway/internal/session/mock"
)

const csrfSecret = "0123456789abcdef0123456789abcdef"

// fakeBackend emulates the scheduling backend's auth surface: bearer
// tokens, credential accounts, and one-time handoff IDs.
type fakeBackend struct {
	mu          sync.Mutex
	tokens      map[string]identity.User
	accounts    map[string]account
	handoffs    map[string]string
	logoutCalls int
	failLogout  bool
}

type account struct {
	password string
	token    string
	user     identity.User
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		tokens:   make(map[string]identity.User),
		accounts: make(map[string]account),
		handoffs: make(map[string]string),
	}
}

func (f *fakeBackend) addToken(token string, user identity.User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens[token] = user
}

func (f *fakeBackend) addAccount(email, password, token string, user identity.User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts[email] = account{password: password, token: token, user: user}
}

func (f *fakeBackend) addHandoff(id, token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handoffs[id] = token
}

func (f *fakeBackend) logoutCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.logoutCalls
}

func (f *fakeBackend) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/auth/me", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		user, ok := f.tokens[bearerToken(r)]
		if !ok {
			writeDetail(w, http.StatusUnauthorized, "Could not validate credentials")
			return
		}

		_ = json.NewEncoder(w).Encode(user)
	})

	mux.HandleFunc("POST /api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var form backend.LoginForm
		_ = json.NewDecoder(r.Body).Decode(&form)

		f.mu.Lock()
		defer f.mu.Unlock()

		acc, ok := f.accounts[form.Email]
		if !ok || acc.password != form.Password {
			writeDetail(w, http.StatusUnauthorized, "Incorrect email or password")
			return
		}

		f.tokens[acc.token] = acc.user
		_ = json.NewEncoder(w).Encode(backend.TokenResponse{AccessToken: acc.token, TokenType: "bearer", User: acc.user})
	})

	mux.HandleFunc("POST /api/auth/register", func(w http.ResponseWriter, r *http.Request) {
		var form backend.RegistrationForm
		_ = json.NewDecoder(r.Body).Decode(&form)

		f.mu.Lock()
		defer f.mu.Unlock()

		if _, ok := f.accounts[form.Email]; ok {
			writeDetail(w, http.StatusConflict, "Email already registered")
			return
		}

		user := identity.User{ID: "u-" + form.Email, Email: form.Email, Name: form.Name}
		token := "token-" + form.Email
		f.accounts[form.Email] = account{password: form.Password, token: token, user: user}
		f.tokens[token] = user

		_ = json.NewEncoder(w).Encode(backend.TokenResponse{AccessToken: token, TokenType: "bearer", User: user})
	})

	mux.HandleFunc("POST /api/auth/session", func(w http.ResponseWriter, r *http.Request) {
		var form struct {
			SessionID string `json:"session_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&form); err != nil || form.SessionID == "" {
			writeDetail(w, http.StatusUnauthorized, "Invalid or expired session")
			return
		}

		f.mu.Lock()
		defer f.mu.Unlock()

		token, ok := f.handoffs[form.SessionID]
		if !ok {
			writeDetail(w, http.StatusUnauthorized, "Invalid or expired session")
			return
		}

		// Handoff IDs are single use on the backend too.
		delete(f.handoffs, form.SessionID)

		_ = json.NewEncoder(w).Encode(backend.SessionResponse{SessionToken: token, User: f.tokens[token]})
	})

	mux.HandleFunc("POST /api/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		f.logoutCalls++

		if f.failLogout {
			writeDetail(w, http.StatusInternalServerError, "logout failed")
			return
		}

		delete(f.tokens, bearerToken(r))
		w.WriteHeader(http.StatusOK)
	})

	return mux
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "

	header := r.Header.Get("Authorization")
	if len(header) <= len(prefix) {
		return ""
	}

	return header[len(prefix):]
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"detail": detail})
}

// startBackendServer runs the fake backend and returns a client wired to it.
func startBackendServer(t *testing.T, fake *fakeBackend) *backend.Client {
	t.Helper()

	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)

	client, err := backend.New(config.Backend{
		APIRoot:           srv.URL + "/api",
		Timeout:           5 * time.Second,
		SessionCookieName: "session_token",
	}, nil)
	require.NoError(t, err)

	return client
}

// unreachableBackendConfig points at a port nothing listens on.
func unreachableBackendConfig() config.Backend {
	return config.Backend{
		APIRoot:           "http://127.0.0.1:1/api",
		Timeout:           time.Second,
		SessionCookieName: "session_token",
	}
}

func gatewayConfig() *config.Gateway {
	return &config.Gateway{
		SessionDuration: time.Hour,
		CSRFSecret:      commoncfg.SourceRef{Source: "embedded", Value: csrfSecret},
		SessionCookieTemplate: config.CookieTemplate{
			Name:     "__Host-Http-caseboard-session",
			MaxAge:   3600,
			Path:     "/",
			Secure:   true,
			HTTPOnly: true,
			SameSite: config.CookieSameSiteLax,
		},
		CSRFCookieTemplate: config.CookieTemplate{
			Name:     "caseboard-csrf",
			MaxAge:   3600,
			Path:     "/",
			Secure:   true,
			SameSite: config.CookieSameSiteStrict,
		},
	}
}

func newTestManager(t *testing.T, client *backend.Client, repo *sessionmock.Repository) *session.Manager {
	t.Helper()

	manager, err := session.NewManager(gatewayConfig(), client, repo)
	require.NoError(t, err)

	return manager
}

// makeToken mints an HS256 token with the given expiry, shaped like the
// bearer tokens the scheduling backend issues.
func makeToken(t *testing.T, expiry time.Time) string {
	t.Helper()

	signer, err := jose.NewSigner(jose.SigningKey{
		Algorithm: jose.HS256,
		Key:       []byte(csrfSecret),
	}, nil)
	require.NoError(t, err)

	token, err := jwt.Signed(signer).Claims(jwt.Claims{
		Subject: "u-1",
		Expiry:  jwt.NewNumericDate(expiry),
	}).Serialize()
	require.NoError(t, err)

	return token
}
