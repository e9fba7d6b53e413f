package sessionmock

import (
	"context"
	"sync"

	"github.com/caseboard/session-gateway/internal/serviceerr"
	"github.com/caseboard/session-gateway/internal/session"
)

type RepositoryOption func(*Repository)

// Repository is an in-memory session store for tests, with per-operation
// error injection.
type Repository struct {
	mu       sync.Mutex
	sessions map[string]session.Session

	loadErr, storeErr, deleteErr, listErr error
}

func WithSession(sess session.Session) RepositoryOption {
	return func(r *Repository) { r.sessions[sess.ID] = sess }
}

func WithLoadError(err error) RepositoryOption {
	return func(r *Repository) { r.loadErr = err }
}

func WithStoreError(err error) RepositoryOption {
	return func(r *Repository) { r.storeErr = err }
}

func WithDeleteError(err error) RepositoryOption {
	return func(r *Repository) { r.deleteErr = err }
}

func WithListError(err error) RepositoryOption {
	return func(r *Repository) { r.listErr = err }
}

var _ = session.Repository(&Repository{})

func NewInMemRepository(opts ...RepositoryOption) *Repository {
	r := &Repository{
		sessions: make(map[string]session.Session),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}

	return r
}

func (r *Repository) LoadSession(_ context.Context, sessionID string) (session.Session, error) {
	if r.loadErr != nil {
		return session.Session{}, r.loadErr
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[sessionID]; ok {
		return s, nil
	}

	return session.Session{}, serviceerr.ErrNotFound
}

func (r *Repository) StoreSession(_ context.Context, sess session.Session) error {
	if r.storeErr != nil {
		return r.storeErr
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[sess.ID] = sess

	return nil
}

// DeleteSession never fails on an absent session.
func (r *Repository) DeleteSession(_ context.Context, sessionID string) error {
	if r.deleteErr != nil {
		return r.deleteErr
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sessions, sessionID)

	return nil
}

func (r *Repository) ListSessions(_ context.Context) ([]session.Session, error) {
	if r.listErr != nil {
		return nil, r.listErr
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	sessions := make([]session.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}

	return sessions, nil
}
