package session

import (
	"context"
	"time"

	slogctx "github.com/veqryn/slog-context"
)

// CleanupExpiredSessions deletes sessions that have expired or have been
// idle for longer than the given timeout.
func (m *Manager) CleanupExpiredSessions(ctx context.Context, idleTimeout time.Duration) error {
	sessions, err := m.sessions.ListSessions(ctx)
	if err != nil {
		return err
	}

	now := time.Now()
	for _, s := range sessions {
		expired := now.After(s.Expiry)
		idle := now.Sub(s.LastSeen) > idleTimeout

		if !expired && !idle {
			continue
		}

		if err := m.sessions.DeleteSession(ctx, s.ID); err != nil {
			slogctx.Warn(ctx, "Could not delete stale session", "session_id", s.ID, "error", err)
			continue
		}

		m.identities.Delete(s.ID)
		slogctx.Info(ctx, "Deleted stale session", "session_id", s.ID, "expired", expired, "idle", idle)
	}

	return nil
}
