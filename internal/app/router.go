package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/gatehouse-authz/gatehouse/internal/authz"
	authzhttp "github.com/gatehouse-authz/gatehouse/internal/authz/http"
	"github.com/gatehouse-authz/gatehouse/internal/observability"
	"github.com/gatehouse-authz/gatehouse/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger       *slog.Logger
	Config       *Config
	AuthzHandler *authzhttp.Handler
	Authz        authz.Middleware
	JobHandler   *jobs.Handler
	Metrics      *observability.Metrics
}

// NewRouter assembles the chi router with the full middleware stack.
func NewRouter(p RouterParams) http.Handler {
	r := chi.NewRouter()
	for _, mw := range MiddlewareStack(MiddlewareConfig{Logger: p.Logger, Config: p.Config, Metrics: p.Metrics}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if p.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", p.Metrics.Handler())
	}

	r.Route("/api/authz", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(p.Authz.RequireAny("authz.manage", "authz.view"))
			p.AuthzHandler.MountRoutes(r)
		})
	})

	if p.JobHandler != nil {
		r.Route("/api/jobs", func(r chi.Router) {
			p.JobHandler.MountRoutes(r)
		})
	}

	return r
}
