// Package sessionsql stores gateway sessions in PostgreSQL. The identity
// snapshot travels as a JSONB column, so schema changes in the clinician
// profile do not require migrations here.
package sessionsql

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/caseboard/session-gateway/internal/serviceerr"
	"github.com/caseboard/session-gateway/internal/session"
)

type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{
		db: db,
	}
}

func (r *Repository) LoadSession(ctx context.Context, sessionID string) (s session.Session, _ error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return session.Session{}, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := tx.QueryRow(
		ctx, `SELECT id, token, origin, identity, fingerprint, csrf_token, expiry, last_seen
FROM sessions
WHERE id = $1;`,
		sessionID,
	).
		Scan(&s.ID, &s.Token, &s.Origin, &s.User, &s.Fingerprint, &s.CSRFToken, &s.Expiry, &s.LastSeen); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return session.Session{}, serviceerr.ErrNotFound
		}

		return session.Session{}, fmt.Errorf("selecting from sessions: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return session.Session{}, fmt.Errorf("committing tx: %w", err)
	}

	return s, nil
}

func (r *Repository) StoreSession(ctx context.Context, s session.Session) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(
		ctx, `INSERT INTO sessions (id, token, origin, identity, fingerprint, csrf_token, expiry, last_seen)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (id)
	DO UPDATE SET (token, origin, identity, fingerprint, csrf_token, expiry, last_seen) =
		(EXCLUDED.token, EXCLUDED.origin, EXCLUDED.identity, EXCLUDED.fingerprint, EXCLUDED.csrf_token, EXCLUDED.expiry, EXCLUDED.last_seen);`,
		s.ID, s.Token, s.Origin, s.User, s.Fingerprint, s.CSRFToken, s.Expiry, s.LastSeen,
	); err != nil {
		if err, ok := handlePgError(err); ok {
			return err
		}

		return fmt.Errorf("inserting into sessions: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing tx: %w", err)
	}

	return nil
}

// DeleteSession is idempotent: deleting an absent session succeeds.
func (r *Repository) DeleteSession(ctx context.Context, sessionID string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM sessions WHERE id = $1;`, sessionID); err != nil {
		return fmt.Errorf("deleting from sessions: %w", err)
	}

	return nil
}

func (r *Repository) ListSessions(ctx context.Context) ([]session.Session, error) {
	rows, err := r.db.Query(
		ctx, `SELECT id, token, origin, identity, fingerprint, csrf_token, expiry, last_seen
FROM sessions;`,
	)
	if err != nil {
		return nil, fmt.Errorf("selecting from sessions: %w", err)
	}
	defer rows.Close()

	var sessions []session.Session

	for rows.Next() {
		var s session.Session
		if err := rows.Scan(&s.ID, &s.Token, &s.Origin, &s.User, &s.Fingerprint, &s.CSRFToken, &s.Expiry, &s.LastSeen); err != nil {
			return nil, fmt.Errorf("scanning session row: %w", err)
		}

		sessions = append(sessions, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating session rows: %w", err)
	}

	return sessions, nil
}
