package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"github.com/stretchr/testify/require"

	"github.com/caseboard/session-gateway/internal/backend"
	"github.com/caseboard/session-gateway/internal/config"
	"github.com/caseboard/session-gateway/internal/identity"
	"github.com/caseboard/session-gateway/internal/session"
	sessionmock "github.com/caseboard/session-gateway/internal/session/mock"
)

const (
	testSessionCookie = "caseboard-session"
	testCSRFCookie    = "caseboard-csrf"
	testCSRFSecret    = "0123456789abcdef0123456789abcdef"
)

var drOsei = identity.User{ID: "u-1", Email: "osei@clinic.example", Name: "Dr. Osei", Role: "oncologist"}

const testRoutes = `
routes:
  - prefix: /dashboard
  - prefix: /patients
  - prefix: /meetings
  - prefix: /about
    public: true
`

// fakeBackend is a minimal scheduling backend: an auth surface plus one
// resource route the proxy tests exercise.
type fakeBackend struct {
	mu       sync.Mutex
	tokens   map[string]identity.User
	accounts map[string]account
	handoffs map[string]string

	exchangeCalls int
	lastAuth      string
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

func (f *fakeBackend) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/auth/me", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		user, ok := f.tokens[bearer(r)]
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
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
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"detail": "Incorrect email or password"})

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
			w.WriteHeader(http.StatusConflict)
			_ = json.NewEncoder(w).Encode(map[string]string{"detail": "Email already registered"})

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
		_ = json.NewDecoder(r.Body).Decode(&form)

		f.mu.Lock()
		defer f.mu.Unlock()

		f.exchangeCalls++

		token, ok := f.handoffs[form.SessionID]
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		delete(f.handoffs, form.SessionID)

		_ = json.NewEncoder(w).Encode(backend.SessionResponse{SessionToken: token, User: f.tokens[token]})
	})

	mux.HandleFunc("POST /api/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		delete(f.tokens, bearer(r))
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("GET /api/patients", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.lastAuth = r.Header.Get("Authorization")
		_, ok := f.tokens[bearer(r)]
		f.mu.Unlock()

		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		_ = json.NewEncoder(w).Encode([]map[string]string{{"id": "p-1", "name": "A. Patient"}})
	})

	mux.HandleFunc("GET /api/about", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"service":"caseboard"}`))
	})

	return mux
}

func bearer(r *http.Request) string {
	const prefix = "Bearer "

	header := r.Header.Get("Authorization")
	if len(header) <= len(prefix) {
		return ""
	}

	return header[len(prefix):]
}

func (f *fakeBackend) lastAuthorization() string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.lastAuth
}

type testGateway struct {
	handler http.Handler
	repo    *sessionmock.Repository
	manager *session.Manager
	cfg     *config.Config
	fake    *fakeBackend
}

func newTestGateway(t *testing.T, repoOpts ...sessionmock.RepositoryOption) *testGateway {
	t.Helper()

	fake := newFakeBackend()

	backendSrv := httptest.NewServer(fake.handler())
	t.Cleanup(backendSrv.Close)

	cfg := &config.Config{
		Backend: config.Backend{
			APIRoot:           backendSrv.URL + "/api",
			Timeout:           5 * time.Second,
			SessionCookieName: "session_token",
		},
		Gateway: config.Gateway{
			SessionDuration: time.Hour,
			LoginPath:       "/login",
			LandingPath:     "/dashboard",
			CallbackPath:    "/auth/callback",
			CSRFSecret:      commoncfg.SourceRef{Source: "embedded", Value: testCSRFSecret},
			SessionCookieTemplate: config.CookieTemplate{
				Name:     testSessionCookie,
				MaxAge:   3600,
				Path:     "/",
				HTTPOnly: true,
				SameSite: config.CookieSameSiteLax,
			},
			CSRFCookieTemplate: config.CookieTemplate{
				Name:     testCSRFCookie,
				MaxAge:   3600,
				Path:     "/",
				SameSite: config.CookieSameSiteStrict,
			},
		},
	}

	client, err := backend.New(cfg.Backend, nil)
	require.NoError(t, err)

	repo := sessionmock.NewInMemRepository(repoOpts...)

	manager, err := session.NewManager(&cfg.Gateway, client, repo)
	require.NoError(t, err)

	routes, err := config.ParseRoutes([]byte(testRoutes))
	require.NoError(t, err)

	require.NoError(t, initMeters(t.Context(), cfg))

	srv, err := newServer(cfg, manager, client, routes)
	require.NoError(t, err)

	return &testGateway{
		handler: createHTTPServer(t.Context(), cfg, srv).Handler,
		repo:    repo,
		manager: manager,
		cfg:     cfg,
		fake:    fake,
	}
}

// authenticate logs drOsei in and returns the issued cookies.
func (g *testGateway) authenticate(t *testing.T) (sessionCookie, csrfCookie *http.Cookie) {
	t.Helper()

	g.fake.mu.Lock()
	g.fake.accounts[drOsei.Email] = account{password: "correct", token: "token-1", user: drOsei}
	g.fake.mu.Unlock()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login",
		jsonBody(t, backend.LoginForm{Email: drOsei.Email, Password: "correct"}))
	req.Header.Set("User-Agent", "test-browser")

	g.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	for _, cookie := range rec.Result().Cookies() {
		switch cookie.Name {
		case testSessionCookie:
			sessionCookie = cookie
		case testCSRFCookie:
			csrfCookie = cookie
		}
	}

	require.NotNil(t, sessionCookie)
	require.NotNil(t, csrfCookie)

	return sessionCookie, csrfCookie
}
