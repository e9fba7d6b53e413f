package sessionsql

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/caseboard/session-gateway/internal/serviceerr"
)

const pgErrUniqueViolation = "23505"

// handlePgError maps driver errors onto the gateway taxonomy. The second
// return value reports whether a mapping applied.
func handlePgError(err error) (error, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgErrUniqueViolation {
		return errors.Join(err, serviceerr.ErrConflict), true
	}

	return err, false
}
