package backend

import (
	"context"
	"net/http"

	"github.com/caseboard/session-gateway/internal/identity"
)

// TokenResponse is the backend's reply to credential login and
// registration: a bearer token together with the user it belongs to.
type TokenResponse struct {
	AccessToken string        `json:"access_token"`
	TokenType   string        `json:"token_type"`
	User        identity.User `json:"user"`
}

// SessionResponse is the backend's reply to the one-time session exchange
// performed after an OAuth handoff.
type SessionResponse struct {
	SessionToken string        `json:"session_token"`
	User         identity.User `json:"user"`
}

// LoginForm carries the credential login fields.
type LoginForm struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegistrationForm carries the self-registration fields. Role and specialty
// are free-form, matching the backend's clinician profile.
type RegistrationForm struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	Name         string `json:"name"`
	Role         string `json:"role,omitempty"`
	Specialty    string `json:"specialty,omitempty"`
	Organization string `json:"organization,omitempty"`
	Phone        string `json:"phone,omitempty"`
}

// Me fetches the identity behind the bearer token.
func (c *Client) Me(ctx context.Context, token string) (*identity.User, error) {
	var user identity.User

	err := c.do(ctx, http.MethodGet, "/auth/me", Credentials{Token: token}, nil, &user)
	if err != nil {
		return nil, err
	}

	return &user, nil
}

// Login exchanges email and password for a bearer token.
func (c *Client) Login(ctx context.Context, form LoginForm) (*TokenResponse, error) {
	var resp TokenResponse

	err := c.do(ctx, http.MethodPost, "/auth/login", Credentials{}, form, &resp)
	if err != nil {
		return nil, err
	}

	return &resp, nil
}

// Register creates an account and returns its first bearer token.
func (c *Client) Register(ctx context.Context, form RegistrationForm) (*TokenResponse, error) {
	var resp TokenResponse

	err := c.do(ctx, http.MethodPost, "/auth/register", Credentials{}, form, &resp)
	if err != nil {
		return nil, err
	}

	return &resp, nil
}

// sessionExchangeForm carries the one-time handoff identifier to the
// exchange endpoint.
type sessionExchangeForm struct {
	SessionID string `json:"session_id"`
}

// ExchangeSession redeems a one-time OAuth handoff session ID for a bearer
// token. The ID travels in the request body; the transport also presents it
// as the ambient session cookie, the way a browser arriving from the
// provider flow would. Never a header or query parameter.
func (c *Client) ExchangeSession(ctx context.Context, sessionID string) (*SessionResponse, error) {
	var resp SessionResponse

	err := c.do(ctx, http.MethodPost, "/auth/session", Credentials{SessionID: sessionID}, sessionExchangeForm{SessionID: sessionID}, &resp)
	if err != nil {
		return nil, err
	}

	return &resp, nil
}

// Logout invalidates the bearer token server-side.
func (c *Client) Logout(ctx context.Context, token string) error {
	return c.do(ctx, http.MethodPost, "/auth/logout", Credentials{Token: token}, nil, nil)
}
