package server

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	slogctx "github.com/veqryn/slog-context"

	"github.com/caseboard/session-gateway/internal/config"
	"github.com/caseboard/session-gateway/internal/middleware/domain"
)

func TestTraceMiddleware_LogsRequestDomain(t *testing.T) {
	cfg := &config.Config{}
	require.NoError(t, initMeters(t.Context(), cfg))

	var buf bytes.Buffer

	prev := slog.Default()
	slog.SetDefault(slog.New(slogctx.NewHandler(
		slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}), nil,
	)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	inner := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	handler := domain.DomainMiddleware(newTraceMiddleware(cfg, "dashboard", inner))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://clinic.example/dashboard", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, buf.String(), "domain=clinic.example")
}
