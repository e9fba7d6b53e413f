package backend_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseboard/session-gateway/internal/backend"
	"github.com/caseboard/session-gateway/internal/config"
	"github.com/caseboard/session-gateway/internal/identity"
	"github.com/caseboard/session-gateway/internal/serviceerr"
)

func newClient(t *testing.T, handler http.Handler) *backend.Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := backend.New(config.Backend{
		APIRoot:           srv.URL + "/api",
		Timeout:           5 * time.Second,
		SessionCookieName: "session_token",
	}, nil)
	require.NoError(t, err)

	return client
}

func TestMe(t *testing.T) {
	client := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/auth/me", r.URL.Path)

		if r.Header.Get("Authorization") != "Bearer token-1" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"detail": "Could not validate credentials"})

			return
		}

		_ = json.NewEncoder(w).Encode(identity.User{ID: "u-1", Email: "doc@clinic.example", Name: "Dr. Osei"})
	}))

	t.Run("valid token", func(t *testing.T) {
		user, err := client.Me(t.Context(), "token-1")
		require.NoError(t, err)
		assert.Equal(t, "u-1", user.ID)
		assert.Equal(t, "doc@clinic.example", user.Email)
	})

	t.Run("rejected token", func(t *testing.T) {
		_, err := client.Me(t.Context(), "stale")
		assert.ErrorIs(t, err, serviceerr.ErrUnauthorized)
	})
}

func TestLogin(t *testing.T) {
	client := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/auth/login", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var form backend.LoginForm
		require.NoError(t, json.NewDecoder(r.Body).Decode(&form))

		if form.Password != "correct" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"detail": "Incorrect email or password"})

			return
		}

		_ = json.NewEncoder(w).Encode(backend.TokenResponse{
			AccessToken: "token-1",
			TokenType:   "bearer",
			User:        identity.User{ID: "u-1", Email: form.Email},
		})
	}))

	t.Run("accepted", func(t *testing.T) {
		resp, err := client.Login(t.Context(), backend.LoginForm{Email: "doc@clinic.example", Password: "correct"})
		require.NoError(t, err)
		assert.Equal(t, "token-1", resp.AccessToken)
		assert.Equal(t, "doc@clinic.example", resp.User.Email)
	})

	t.Run("rejected", func(t *testing.T) {
		_, err := client.Login(t.Context(), backend.LoginForm{Email: "doc@clinic.example", Password: "wrong"})
		assert.ErrorIs(t, err, serviceerr.ErrUnauthorized)
	})
}

func TestRegister_Conflict(t *testing.T) {
	client := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/auth/register", r.URL.Path)

		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]string{"detail": "Email already registered"})
	}))

	_, err := client.Register(t.Context(), backend.RegistrationForm{Email: "doc@clinic.example", Password: "pw", Name: "Dr. Osei"})

	var svcErr *serviceerr.Error
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, serviceerr.CodeConflict, svcErr.Err)
	assert.Equal(t, "Email already registered", svcErr.Description)
}

func TestExchangeSession(t *testing.T) {
	client := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/auth/session", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))

		// The handoff ID arrives in the body, plus the ambient session
		// cookie; never as a bearer header or query parameter.
		assert.Empty(t, r.Header.Get("Authorization"))
		assert.Empty(t, r.URL.Query().Get("session_id"))

		var form struct {
			SessionID string `json:"session_id"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&form))

		if cookie, err := r.Cookie("session_token"); assert.NoError(t, err) {
			assert.Equal(t, form.SessionID, cookie.Value)
		}

		if form.SessionID != "handoff-1" {
			w.WriteHeader(http.StatusUnauthorized)

			return
		}

		_ = json.NewEncoder(w).Encode(backend.SessionResponse{
			SessionToken: "token-2",
			User:         identity.User{ID: "u-1"},
		})
	}))

	t.Run("valid handoff", func(t *testing.T) {
		resp, err := client.ExchangeSession(t.Context(), "handoff-1")
		require.NoError(t, err)
		assert.Equal(t, "token-2", resp.SessionToken)
	})

	t.Run("expired handoff", func(t *testing.T) {
		_, err := client.ExchangeSession(t.Context(), "stale")
		assert.ErrorIs(t, err, serviceerr.ErrUnauthorized)
	})
}

func TestLogout(t *testing.T) {
	client := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/auth/logout", r.URL.Path)
		require.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))

	assert.NoError(t, client.Logout(t.Context(), "token-1"))
}

func TestBackendUnreachable(t *testing.T) {
	client, err := backend.New(config.Backend{
		APIRoot:           "http://127.0.0.1:1/api",
		Timeout:           time.Second,
		SessionCookieName: "session_token",
	}, nil)
	require.NoError(t, err)

	_, err = client.Me(t.Context(), "token-1")

	var svcErr *serviceerr.Error
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, serviceerr.CodeBackendUnavailable, svcErr.Err)
}

func TestBackendServerError(t *testing.T) {
	client := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	_, err := client.Me(t.Context(), "token-1")

	var svcErr *serviceerr.Error
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, serviceerr.CodeBackendUnavailable, svcErr.Err)
}
