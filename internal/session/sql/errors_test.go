package sessionsql

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/caseboard/session-gateway/internal/serviceerr"
)

var errUnknown = errors.New("unknown error")

func Test_handlePgError(t *testing.T) {
	tests := []struct {
		name     string
		inputErr error
		wantErr  error
		wantOk   bool
	}{
		{
			name:     "23505 error",
			inputErr: &pgconn.PgError{Code: "23505"},
			wantErr:  serviceerr.ErrConflict,
			wantOk:   true,
		},
		{
			name:     "Unknown error",
			inputErr: errUnknown,
			wantErr:  errUnknown,
			wantOk:   false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotErr, ok := handlePgError(tt.inputErr)
			assert.ErrorIs(t, gotErr, tt.wantErr)
			assert.Equal(t, tt.wantOk, ok)
		})
	}
}
