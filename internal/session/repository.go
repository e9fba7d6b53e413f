package session

import "context"

type Repository interface {
	LoadSession(ctx context.Context, sessionID string) (Session, error)
	StoreSession(ctx context.Context, session Session) error
	// DeleteSession is idempotent: deleting an absent session is not an error.
	DeleteSession(ctx context.Context, sessionID string) error
	ListSessions(ctx context.Context) ([]Session, error)
}
