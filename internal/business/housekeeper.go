package business

import (
	"context"
	"fmt"
	"time"

	slogctx "github.com/veqryn/slog-context"

	"github.com/caseboard/session-gateway/internal/config"
)

// HousekeeperMain runs the periodic session cleanup.
func HousekeeperMain(ctx context.Context, cfg *config.Config) error {
	manager, _, closeFn, err := initGateway(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialise the gateway: %w", err)
	}
	defer closeFn()

	// Start the housekeeper loop
	c := time.Tick(cfg.Gateway.Housekeeper.Interval)
	idleTimeout := cfg.Gateway.Housekeeper.IdleTimeout
	for {
		err := manager.CleanupExpiredSessions(ctx, idleTimeout)
		if err != nil {
			slogctx.Error(ctx, "Error during session housekeeping", "error", err)
		}

		select {
		case <-c:
			continue
		case <-ctx.Done():
			return nil
		}
	}
}
