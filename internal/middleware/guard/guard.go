// Package guard gates proxied routes on the resolved authentication state.
//
// Every request lands in exactly one of four outcomes: pre-validated (the
// identity was settled moments ago and is served from cache inside the
// resolver), authenticated (a live session stands behind the cookie),
// anonymous (redirected to the login page with the original destination
// preserved), or loading (the state cannot be settled because the backend
// is unreachable; a retrying hold page is served instead of bouncing the
// user to login).
package guard

import (
	"context"
	"net/http"
	"net/url"

	slogctx "github.com/veqryn/slog-context"

	"github.com/caseboard/session-gateway/internal/identity"
	"github.com/caseboard/session-gateway/internal/session"
	"github.com/caseboard/session-gateway/pkg/fingerprint"
)

type ctxKey string

const stateKey ctxKey = "authState"

// FromParam carries the originally requested URI through the login
// redirect, so a successful login can return the user where they started.
const FromParam = "from"

const holdPage = `<!DOCTYPE html>
<html>
<head><meta http-equiv="refresh" content="2"><title>Signing you in</title></head>
<body><p>Checking your session&hellip;</p></body>
</html>`

type Guard struct {
	manager           *session.Manager
	sessionCookieName string
	loginPath         string
}

func New(manager *session.Manager, sessionCookieName, loginPath string) *Guard {
	return &Guard{
		manager:           manager,
		sessionCookieName: sessionCookieName,
		loginPath:         loginPath,
	}
}

// Middleware resolves the session behind the request and either forwards
// with the state in context, redirects to login, or serves the hold page.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		sessionID := g.sessionID(r)
		fp, _ := fingerprint.ExtractFingerprint(ctx)

		state, err := g.manager.Resolve(ctx, sessionID, fp)
		if err != nil && state.Loading {
			slogctx.Warn(ctx, "Could not settle authentication state", "error", err)
			serveHoldPage(w)

			return
		}

		if err != nil {
			// Settled against the caller: fingerprint mismatch or storage
			// trouble, both of which end as anonymous.
			slogctx.Warn(ctx, "Session resolution failed; treating as anonymous", "error", err)
		}

		if !state.IsAuthenticated() {
			g.redirectToLogin(w, r)

			return
		}

		next.ServeHTTP(w, r.WithContext(NewContext(ctx, state)))
	})
}

func (g *Guard) sessionID(r *http.Request) string {
	cookie, err := r.Cookie(g.sessionCookieName)
	if err != nil {
		return ""
	}

	return cookie.Value
}

// redirectToLogin bounces the browser to the login page, preserving the
// originally requested URI so login can return there afterwards.
func (g *Guard) redirectToLogin(w http.ResponseWriter, r *http.Request) {
	target := url.URL{Path: g.loginPath}

	from := r.URL.RequestURI()
	if from != "" && from != "/" && from != g.loginPath {
		q := url.Values{}
		q.Set(FromParam, from)
		target.RawQuery = q.Encode()
	}

	http.Redirect(w, r, target.String(), http.StatusFound)
}

func serveHoldPage(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Retry-After", "2")
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte(holdPage))
}

// NewContext stores the resolved state for downstream handlers.
func NewContext(ctx context.Context, state session.State) context.Context {
	return context.WithValue(ctx, stateKey, state)
}

// StateFromContext retrieves the resolved state placed by the middleware.
func StateFromContext(ctx context.Context) (session.State, bool) {
	state, ok := ctx.Value(stateKey).(session.State)
	return state, ok
}

// UserFromContext retrieves the authenticated user, if any.
func UserFromContext(ctx context.Context) (*identity.User, bool) {
	state, ok := ctx.Value(stateKey).(session.State)
	if !ok || state.User == nil {
		return nil, false
	}

	return state.User, true
}
