package business

import (
	"context"
	"fmt"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"github.com/valkey-io/valkey-go"

	slogctx "github.com/veqryn/slog-context"

	"github.com/caseboard/session-gateway/internal/backend"
	"github.com/caseboard/session-gateway/internal/business/server"
	"github.com/caseboard/session-gateway/internal/config"
	"github.com/caseboard/session-gateway/internal/session"
	sessionsql "github.com/caseboard/session-gateway/internal/session/sql"
	sessionvalkey "github.com/caseboard/session-gateway/internal/session/valkey"
)

// Main starts the gateway HTTP server.
func Main(ctx context.Context, cfg *config.Config) error {
	manager, backendClient, closeFn, err := initGateway(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialising the gateway: %w", err)
	}

	defer closeFn()

	routes, err := config.LoadRoutes(cfg.Gateway.RoutesFile)
	if err != nil {
		return fmt.Errorf("loading route manifest: %w", err)
	}

	return server.StartHTTPServer(ctx, cfg, manager, backendClient, routes)
}

func initGateway(ctx context.Context, cfg *config.Config) (_ *session.Manager, _ *backend.Client, closeFn func(), _ error) {
	sessionRepo, closeFn, err := initSessionRepository(ctx, cfg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("initialising the session repository: %w", err)
	}

	backendClient, err := backend.New(cfg.Backend, nil)
	if err != nil {
		closeFn()
		return nil, nil, nil, fmt.Errorf("creating backend client: %w", err)
	}

	manager, err := session.NewManager(&cfg.Gateway, backendClient, sessionRepo)
	if err != nil {
		closeFn()
		return nil, nil, nil, fmt.Errorf("creating session manager: %w", err)
	}

	return manager, backendClient, closeFn, nil
}

func initSessionRepository(ctx context.Context, cfg *config.Config) (session.Repository, func(), error) {
	switch cfg.Gateway.SessionStore {
	case config.SessionStorePostgres:
		connStr, err := config.MakeConnStr(cfg.Database)
		if err != nil {
			return nil, nil, fmt.Errorf("making dsn from config: %w", err)
		}

		pgxCfg, err := pgxpool.ParseConfig(connStr)
		if err != nil {
			return nil, nil, fmt.Errorf("parsing pgx pool config: %w", err)
		}

		pgxCfg.ConnConfig.Tracer = otelpgx.NewTracer()

		db, err := pgxpool.NewWithConfig(ctx, pgxCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("initialising pgxpool connection: %w", err)
		}

		slogctx.Info(ctx, "Using the PostgreSQL session store")

		return sessionsql.NewRepository(db), db.Close, nil
	case config.SessionStoreValKey, "":
		valkeyClient, err := newValkeyClient(cfg)
		if err != nil {
			return nil, nil, err
		}

		slogctx.Info(ctx, "Using the valkey session store")

		return sessionvalkey.NewRepository(valkeyClient, cfg.ValKey.Prefix), valkeyClient.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown session store: %q", cfg.Gateway.SessionStore)
	}
}

func newValkeyClient(cfg *config.Config) (valkey.Client, error) {
	valkeyHost, err := commoncfg.LoadValueFromSourceRef(cfg.ValKey.Host)
	if err != nil {
		return nil, fmt.Errorf("loading valkey host: %w", err)
	}

	valkeyUsername, err := commoncfg.LoadValueFromSourceRef(cfg.ValKey.User)
	if err != nil {
		return nil, fmt.Errorf("loading valkey username: %w", err)
	}

	valkeyPassword, err := commoncfg.LoadValueFromSourceRef(cfg.ValKey.Password)
	if err != nil {
		return nil, fmt.Errorf("loading valkey password: %w", err)
	}

	valkeyOpts := valkey.ClientOption{
		InitAddress: []string{string(valkeyHost)},
		Username:    string(valkeyUsername),
		Password:    string(valkeyPassword),
	}

	if cfg.ValKey.SecretRef.Type == commoncfg.MTLSSecretType {
		tlsConfig, err := commoncfg.LoadMTLSConfig(&cfg.ValKey.SecretRef.MTLS)
		if err != nil {
			return nil, fmt.Errorf("loading valkey mTLS config from secret ref: %w", err)
		}

		valkeyOpts.TLSConfig = tlsConfig
	}

	valkeyClient, err := valkey.NewClient(valkeyOpts)
	if err != nil {
		return nil, fmt.Errorf("creating a new valkey client: %w", err)
	}

	return valkeyClient, nil
}
