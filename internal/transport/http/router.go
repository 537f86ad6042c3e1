// Package httptransport serves the operational endpoints: liveness,
// readiness and Prometheus metrics.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"accounts/internal/platform/metrics"
	dErrors "accounts/pkg/domain-errors"
	"accounts/pkg/platform/httputil"
	"accounts/pkg/requestcontext"
)

// Check probes one backend for readiness.
type Check func(ctx context.Context) error

// OpsDeps are the collaborators of the ops router.
type OpsDeps struct {
	Registry *prometheus.Registry
	Logger   *slog.Logger
	// Checks are keyed by backend name. Nil entries are skipped.
	Checks       map[string]Check
	CheckTimeout time.Duration
}

// NewOpsRouter mounts /healthz, /readyz and /metrics.
func NewOpsRouter(deps OpsDeps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.CheckTimeout <= 0 {
		deps.CheckTimeout = 2 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestID)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", readiness(deps))
	if deps.Registry != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Registry))
	}
	return r
}

func readiness(deps OpsDeps) http.HandlerFunc {
	names := make([]string, 0, len(deps.Checks))
	for name, check := range deps.Checks {
		if check != nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), deps.CheckTimeout)
		defer cancel()

		results := make(map[string]string, len(names))
		var failed []string
		for _, name := range names {
			if err := deps.Checks[name](ctx); err != nil {
				deps.Logger.WarnContext(ctx, "readiness check failed",
					"request_id", requestcontext.RequestID(ctx),
					"backend", name,
					"error", err,
				)
				results[name] = "unavailable"
				failed = append(failed, name)
				continue
			}
			results[name] = "ok"
		}

		if len(failed) > 0 {
			w.Header().Set("X-Unready-Backends", strings.Join(failed, ","))
			httputil.WriteError(w, dErrors.New(dErrors.CodeUnavailable, "backends unavailable"))
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{"status": "ready", "checks": results})
	}
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if id := r.Header.Get("X-Request-ID"); id != "" {
			ctx = requestcontext.WithRequestID(ctx, id)
		}
		ctx, id := requestcontext.EnsureRequestID(ctx)
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
