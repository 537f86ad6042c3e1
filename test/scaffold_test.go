package test

import (
	"context"
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"accounts/internal/app"
	"accounts/internal/platform/config"
	"accounts/pkg/testutil"
)

func TestOpsScaffold(t *testing.T) {
	testutil.Given(t, "a process wired on the memory backend", func(t *testing.T) {
		a, err := app.New(context.Background(), config.Defaults(), nil, prometheus.NewRegistry())
		require.NoError(t, err)
		t.Cleanup(func() { _ = a.Close() })

		testutil.When(t, "calling GET /healthz", func(t *testing.T) {
			rec := testutil.DoRequest(a.Ops, testutil.NewRequest(t, http.MethodGet, "/healthz"))

			testutil.Then(t, "it reports ok", func(t *testing.T) {
				testutil.AssertStatusOK(t, rec)
				testutil.AssertJSONContains(t, rec, "status", "ok")
			})
		})

		testutil.When(t, "calling GET /readyz with no external backends", func(t *testing.T) {
			rec := testutil.DoRequest(a.Ops, testutil.NewRequest(t, http.MethodGet, "/readyz"))

			testutil.Then(t, "it reports ready", func(t *testing.T) {
				testutil.AssertStatusOK(t, rec)
				testutil.AssertJSONContains(t, rec, "status", "ready")
			})
		})

		testutil.When(t, "calling POST /readyz", func(t *testing.T) {
			rec := testutil.DoRequest(a.Ops, testutil.NewRequest(t, http.MethodPost, "/readyz"))

			testutil.Then(t, "it rejects the method", func(t *testing.T) {
				testutil.AssertStatus(t, rec, http.StatusMethodNotAllowed)
			})
		})

		testutil.When(t, "scraping GET /metrics", func(t *testing.T) {
			rec := testutil.DoRequest(a.Ops, testutil.NewRequest(t, http.MethodGet, "/metrics"))

			testutil.Then(t, "the router and projection collectors are exported", func(t *testing.T) {
				testutil.AssertStatusOK(t, rec)
				body := string(testutil.ReadBody(t, rec))
				require.Contains(t, body, "accounts_users_registered_total")
			})
		})
	})
}
