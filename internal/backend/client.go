// Package backend is the HTTP client for the scheduling backend API. All
// outbound requests leave through a single client rooted at the configured
// API root, with credentials attached by the transport.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	slogctx "github.com/veqryn/slog-context"

	"github.com/caseboard/session-gateway/internal/config"
	"github.com/caseboard/session-gateway/internal/serviceerr"
)

// Credentials carry what a request may present to the backend: a bearer
// token for authenticated calls, or a session ID exchanged via cookie
// during the handoff flow. Either may be empty.
type Credentials struct {
	Token     string
	SessionID string
}

type credentialsCtxKey struct{}

// WithCredentials returns a context carrying credentials for the transport
// to attach.
func WithCredentials(ctx context.Context, creds Credentials) context.Context {
	return context.WithValue(ctx, credentialsCtxKey{}, creds)
}

func credentialsFrom(ctx context.Context) Credentials {
	creds, _ := ctx.Value(credentialsCtxKey{}).(Credentials)
	return creds
}

// credentialRoundTripper attaches the credentials found in the request
// context to the outgoing request.
type credentialRoundTripper struct {
	cookieName string
	next       http.RoundTripper
}

func (t *credentialRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	creds := credentialsFrom(req.Context())

	if creds.Token != "" {
		req.Header.Set("Authorization", "Bearer "+creds.Token)
	}

	if creds.SessionID != "" {
		req.AddCookie(&http.Cookie{Name: t.cookieName, Value: creds.SessionID})
	}

	return t.next.RoundTrip(req)
}

// Client talks to the scheduling backend.
type Client struct {
	root       *url.URL
	httpClient *http.Client
}

// New builds a backend client from the configuration. The optional base
// transport is wrapped with credential attachment; nil means
// http.DefaultTransport.
func New(cfg config.Backend, base http.RoundTripper) (*Client, error) {
	root, err := url.Parse(strings.TrimSuffix(cfg.APIRoot, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing backend API root: %w", err)
	}

	if base == nil {
		base = http.DefaultTransport
	}

	return &Client{
		root: root,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &credentialRoundTripper{
				cookieName: cfg.SessionCookieName,
				next:       base,
			},
		},
	}, nil
}

// Transport exposes the credential-attaching transport so the resource
// proxy forwards with the same credential handling as typed calls.
func (c *Client) Transport() http.RoundTripper {
	return c.httpClient.Transport
}

// Root returns the backend API root URL.
func (c *Client) Root() *url.URL {
	u := *c.root
	return &u
}

func (c *Client) do(ctx context.Context, method, path string, creds Credentials, body, out any) error {
	var reqBody io.Reader

	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}

		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(WithCredentials(ctx, creds), method, c.root.String()+path, reqBody)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		slogctx.Warn(ctx, "Backend request failed", "method", method, "path", path, "error", err)

		return &serviceerr.Error{
			Err:         serviceerr.CodeBackendUnavailable,
			Description: "backend unreachable",
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return responseError(resp)
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding backend response: %w", err)
	}

	return nil
}

// detailBody is the backend's error envelope.
type detailBody struct {
	Detail string `json:"detail"`
}

func responseError(resp *http.Response) error {
	var detail detailBody

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	_ = json.Unmarshal(raw, &detail)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return serviceerr.ErrUnauthorized
	case resp.StatusCode == http.StatusConflict:
		if detail.Detail != "" {
			return &serviceerr.Error{Err: serviceerr.CodeConflict, Description: detail.Detail}
		}

		return serviceerr.ErrConflict
	case resp.StatusCode == http.StatusNotFound:
		return serviceerr.ErrNotFound
	case resp.StatusCode < 500:
		return serviceerr.CredentialRejection(detail.Detail)
	default:
		return &serviceerr.Error{
			Err:         serviceerr.CodeBackendUnavailable,
			Description: fmt.Sprintf("backend returned status %d", resp.StatusCode),
		}
	}
}
