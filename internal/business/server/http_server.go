package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/samber/oops"

	slogctx "github.com/veqryn/slog-context"

	"github.com/caseboard/session-gateway/internal/backend"
	"github.com/caseboard/session-gateway/internal/config"
	"github.com/caseboard/session-gateway/internal/middleware/domain"
	"github.com/caseboard/session-gateway/internal/middleware/guard"
	"github.com/caseboard/session-gateway/internal/session"
	"github.com/caseboard/session-gateway/pkg/fingerprint"
)

// createHTTPServer wires the gateway's routes: its own auth surface, the
// OAuth callback relay, a liveness probe, and the guarded resource proxy
// for everything the route manifest names.
func createHTTPServer(_ context.Context, cfg *config.Config, srv *Server) *http.Server {
	g := guard.New(srv.manager, cfg.Gateway.SessionCookieTemplate.Name, cfg.Gateway.LoginPath)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /probe/ping", pingHandlerFunc())

	mux.Handle("GET /api/auth/me", newTraceMiddleware(cfg, "auth-me", http.HandlerFunc(srv.handleMe)))
	mux.Handle("POST /api/auth/login", newTraceMiddleware(cfg, "auth-login", http.HandlerFunc(srv.handleLogin)))
	mux.Handle("POST /api/auth/register", newTraceMiddleware(cfg, "auth-register", http.HandlerFunc(srv.handleRegister)))
	mux.Handle("POST /api/auth/logout", newTraceMiddleware(cfg, "auth-logout", http.HandlerFunc(srv.handleLogout)))

	mux.Handle("GET "+cfg.Gateway.CallbackPath, newTraceMiddleware(cfg, "oauth-callback", http.HandlerFunc(srv.handleCallbackPage)))
	mux.Handle("POST "+cfg.Gateway.CallbackPath, newTraceMiddleware(cfg, "oauth-callback-complete", http.HandlerFunc(srv.handleCallbackComplete)))

	mux.Handle("/", newTraceMiddleware(cfg, "proxy", srv.routeDispatch(g)))

	handler := fingerprint.FingerprintCtxMiddleware(mux)
	handler = domain.DomainMiddleware(handler)

	return &http.Server{
		Addr:    cfg.HTTP.Address,
		Handler: handler,
	}
}

// StartHTTPServer starts the gateway HTTP server and blocks until the
// context is cancelled.
func StartHTTPServer(ctx context.Context, cfg *config.Config, manager *session.Manager, backendClient *backend.Client, routes config.RouteManifest) error {
	if err := initMeters(ctx, cfg); err != nil {
		return err
	}

	srv, err := newServer(cfg, manager, backendClient, routes)
	if err != nil {
		return oops.In("HTTP Server").
			WithContext(ctx).
			Wrapf(err, "Failed to assemble the gateway server")
	}

	server := createHTTPServer(ctx, cfg, srv)

	slogctx.Info(ctx, "Starting a listener", "address", server.Addr)

	// Parse network if the address if provided in the format of network://address.
	// Otherwise use tcp network by default. Some integration tests are easier to implement
	// by binding a listener to a unix socket rather than a TCP port,
	// since we don't need to look up for a free port or scan /proc/net on Linux or call sysctl on macOS
	// to discover which port the process is bound to.
	network := "tcp"
	if idx := strings.IndexRune(server.Addr, ':'); idx != -1 && len(server.Addr) > idx+3 && server.Addr[idx:idx+3] == "://" {
		network = server.Addr[:idx]
		server.Addr = server.Addr[idx+3:]
	}

	listener, err := new(net.ListenConfig).Listen(ctx, network, server.Addr)
	if err != nil {
		return oops.In("HTTP Server").
			WithContext(ctx).
			Wrapf(err, "Failed to create a listener")
	}

	slogctx.Info(ctx, "A listener started", "address", listener.Addr().String())

	go func() {
		slogctx.Info(ctx, "Serving an HTTP server", "address", listener.Addr().String())
		err := server.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slogctx.Error(ctx, "Failed to serve an HTTP server", "error", err)
		}

		slogctx.Info(ctx, "Stopped an HTTP server")
	}()

	<-ctx.Done()

	shutdownCtx, shutdownRelease := context.WithTimeout(context.WithoutCancel(ctx), cfg.HTTP.ShutdownTimeout)
	defer shutdownRelease()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return oops.In("HTTP Server").
			WithContext(ctx).
			Wrapf(err, "Failed shutting down HTTP server")
	}

	slogctx.Info(ctx, "Completed graceful shutdown of HTTP server")

	return nil
}
