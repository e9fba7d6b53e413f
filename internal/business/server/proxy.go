package server

import (
	"errors"
	"net/http"
	"net/http/httputil"

	slogctx "github.com/veqryn/slog-context"

	"github.com/caseboard/session-gateway/internal/backend"
	"github.com/caseboard/session-gateway/internal/middleware/guard"
	"github.com/caseboard/session-gateway/internal/serviceerr"
)

// errUpstreamUnauthorized marks a proxied response the backend answered
// with 401. It is raised out of ModifyResponse so ErrorHandler, which
// still owns the ResponseWriter, can perform the global de-auth.
var errUpstreamUnauthorized = errors.New("backend answered 401")

// newProxy builds the reverse proxy toward the scheduling backend. The
// resolved session token is attached through the backend client's
// credential transport; browser cookies never cross to the backend.
//
// A 401 from the backend, on any proxied route, tears the session down and
// redirects to login. There is no route-local recovery from a rejected
// token.
func (s *Server) newProxy() http.Handler {
	root := s.backend.Root()

	proxy := &httputil.ReverseProxy{
		Transport: s.backend.Transport(),
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(root)
			pr.SetXForwarded()

			// The gateway's cookies are not the backend's business.
			pr.Out.Header.Del("Cookie")
			pr.Out.Header.Del("Authorization")

			if state, ok := guard.StateFromContext(pr.In.Context()); ok && state.IsAuthenticated() {
				pr.Out = pr.Out.WithContext(backend.WithCredentials(pr.Out.Context(), backend.Credentials{
					Token: state.Token,
				}))
			}
		},
		ModifyResponse: func(resp *http.Response) error {
			if resp.StatusCode == http.StatusUnauthorized {
				return errUpstreamUnauthorized
			}

			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			ctx := r.Context()

			if errors.Is(err, errUpstreamUnauthorized) {
				slogctx.Info(ctx, "Backend rejected the session token; de-authenticating", "path", r.URL.Path)

				s.manager.Invalidate(ctx, s.sessionID(r))
				s.expireCookies(w)
				http.Redirect(w, r, s.cfg.Gateway.LoginPath, http.StatusFound)

				return
			}

			slogctx.Warn(ctx, "Proxying to the backend failed", "path", r.URL.Path, "error", err)
			writeError(ctx, w, &serviceerr.Error{
				Err:         serviceerr.CodeBackendUnavailable,
				Description: "backend unreachable",
			})
		},
	}

	return proxy
}

// routeDispatch serves the proxied route manifest: unknown paths get 404,
// public routes go straight to the proxy, everything else passes through
// the guard first.
func (s *Server) routeDispatch(g *guard.Guard) http.Handler {
	proxy := s.newProxy()
	guarded := g.Middleware(s.requireCSRF(proxy))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route, ok := s.routes.Match(r.Method, r.URL.Path)
		if !ok {
			http.NotFound(w, r)
			return
		}

		if route.Public {
			proxy.ServeHTTP(w, r)
			return
		}

		guarded.ServeHTTP(w, r)
	})
}

// requireCSRF rejects mutating proxied requests whose CSRF token does not
// match the session. Safe methods pass through.
func (s *Server) requireCSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}

		sessionID := s.sessionID(r)
		if !s.manager.ValidateCSRFToken(r.Header.Get(csrfHeader), sessionID) {
			writeError(r.Context(), w, &serviceerr.Error{
				Err:         serviceerr.CodeFingerprintMismatch,
				Description: "invalid CSRF token",
			})

			return
		}

		next.ServeHTTP(w, r)
	})
}
