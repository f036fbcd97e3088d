package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dtroode/identity-server/internal/logger"
	"github.com/dtroode/identity-server/internal/metrics"
)

// Pinger reports whether a backing resource is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouterDeps bundles the dependencies NewRouter needs.
type RouterDeps struct {
	Resolver IdentityResolver
	Gatherer prometheus.Gatherer
	DB       Pinger
	Cache    Pinger
	Logger   *logger.Logger
}

// NewRouter returns the router for the resolve endpoint and the
// observability surface.
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	h := NewIdentityHandler(deps.Resolver, deps.Logger)
	r.Post("/resolve", h.Resolve)

	r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))
	r.Get("/healthz", healthHandler(deps.DB, deps.Cache))

	return r
}

func healthHandler(db, cache Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(r.Context()); err != nil {
			http.Error(w, "database unreachable", http.StatusServiceUnavailable)
			return
		}
		if err := cache.Ping(r.Context()); err != nil {
			http.Error(w, "cache unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}
