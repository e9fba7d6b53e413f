// Package sessionvalkey stores gateway sessions in valkey as JSON values
// under a configurable key prefix.
package sessionvalkey

import (
	"context"
	"fmt"
	"time"

	"github.com/valkey-io/valkey-go"

	"github.com/caseboard/session-gateway/internal/session"
)

const objectTypeSession = "session"

type Repository struct {
	store *store
}

func NewRepository(valkeyClient valkey.Client, prefix string) *Repository {
	return &Repository{
		store: newStore(valkeyClient, prefix),
	}
}

func (r *Repository) LoadSession(ctx context.Context, sessionID string) (s session.Session, _ error) {
	if err := r.store.Get(ctx, objectTypeSession, sessionID, &s); err != nil {
		return session.Session{}, fmt.Errorf("getting session from store: %w", err)
	}

	return s, nil
}

func (r *Repository) StoreSession(ctx context.Context, s session.Session) error {
	if err := r.store.Set(ctx, objectTypeSession, s.ID, s, time.Until(s.Expiry)); err != nil {
		return fmt.Errorf("setting session into storage: %w", err)
	}

	return nil
}

func (r *Repository) DeleteSession(ctx context.Context, sessionID string) error {
	if err := r.store.Destroy(ctx, objectTypeSession, sessionID); err != nil {
		return fmt.Errorf("deleting session from store: %w", err)
	}

	return nil
}

func (r *Repository) ListSessions(ctx context.Context) ([]session.Session, error) {
	var sessions []session.Session
	if err := getStoreObjects(ctx, r.store, objectTypeSession, "*", &sessions); err != nil {
		return nil, fmt.Errorf("getting sessions from store: %w", err)
	}

	return sessions, nil
}
