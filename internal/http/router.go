package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ruletrace/internal/platform/metrics"
	"ruletrace/internal/platform/middleware"
	"ruletrace/pkg/platform/httputil"
)

// Pinger reports backing-store reachability for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Registrar is implemented by every domain handler. Handlers own their own
// route groups so the router stays a thin composition layer.
type Registrar interface {
	Register(r chi.Router)
}

// Deps carries everything the router needs. Handlers register their own
// routes; the router adds cross-cutting middleware and operational endpoints.
type Deps struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	WorkingMemory Registrar
	RuleGraph     Registrar
	Trace         Registrar

	// Stores checked by /healthz, keyed by the name reported in the response.
	HealthChecks map[string]Pinger
}

// NewRouter wires middleware, domain routes, and operational endpoints.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.Logger(deps.Logger))
	if deps.Metrics != nil {
		r.Use(middleware.Instrument(deps.Metrics.HTTPRequestDuration))
	}

	deps.WorkingMemory.Register(r)
	deps.RuleGraph.Register(r)
	deps.Trace.Register(r)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", healthz(deps.HealthChecks))

	return r
}

func healthz(checks map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		stores := make(map[string]string, len(checks))
		for name, p := range checks {
			if err := p.Ping(ctx); err != nil {
				stores[name] = "unreachable"
				status = http.StatusServiceUnavailable
				continue
			}
			stores[name] = "ok"
		}

		state := "ok"
		if status != http.StatusOK {
			state = "degraded"
		}
		httputil.WriteJSON(w, status, map[string]any{
			"status": state,
			"stores": stores,
		})
	}
}
