package httptransport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"accounts/internal/platform/metrics"
	"accounts/pkg/testutil"
)

func serve(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	rec := serve(t, NewOpsRouter(OpsDeps{}), "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestReadyz(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("dial tcp: refused") }

	t.Run("all backends reachable", func(t *testing.T) {
		h := NewOpsRouter(OpsDeps{Checks: map[string]Check{"postgres": ok, "redis": ok, "kafka": nil}})
		rec := serve(t, h, "/readyz")
		testutil.AssertStatusOK(t, rec)

		body := testutil.UnmarshalResponse[struct {
			Status string            `json:"status"`
			Checks map[string]string `json:"checks"`
		}](t, rec)
		assert.Equal(t, "ready", body.Status)
		assert.Equal(t, map[string]string{"postgres": "ok", "redis": "ok"}, body.Checks)
	})

	t.Run("failing backend makes the process unready", func(t *testing.T) {
		h := NewOpsRouter(OpsDeps{Checks: map[string]Check{"postgres": ok, "redis": down}})
		rec := serve(t, h, "/readyz")
		testutil.AssertStatus(t, rec, http.StatusServiceUnavailable)
		testutil.AssertErrorCode(t, rec, "unavailable")
		assert.Equal(t, "redis", rec.Header().Get("X-Unready-Backends"))
	})
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.IncrementUsersRegistered()

	rec := serve(t, NewOpsRouter(OpsDeps{Registry: reg}), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "accounts_users_registered_total 1")
}

func TestRequestIDIsPropagated(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	NewOpsRouter(OpsDeps{}).ServeHTTP(rec, req)
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
}
