package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/chantier-hq/chantier/internal/bootstrap"
	"github.com/chantier-hq/chantier/internal/core"
	"github.com/chantier-hq/chantier/internal/identity"
	"github.com/chantier-hq/chantier/internal/observability"
	"github.com/chantier-hq/chantier/internal/shared"
	"github.com/chantier-hq/chantier/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger           *slog.Logger
	Config           *Config
	SessionManager   *shared.SessionManager
	CoreHandler      *core.Handler
	IdentityHandler  *identity.Handler
	BootstrapHandler *bootstrap.Handler
	JobsHandler      *jobs.Handler
	Metrics          *observability.Metrics
}

// NewRouter constructs the chi.Router with Chantier defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/auth", func(auth chi.Router) {
		params.IdentityHandler.MountRoutes(auth)
	})

	r.Route("/api/v1", func(api chi.Router) {
		params.CoreHandler.MountRoutes(api)
	})

	r.Route("/admin", func(admin chi.Router) {
		params.BootstrapHandler.MountRoutes(admin)
	})

	if params.JobsHandler != nil {
		r.Route("/jobs", func(j chi.Router) {
			params.JobsHandler.MountRoutes(j)
		})
	}

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
