package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	analyticshttp "github.com/erplora/insighthub/internal/analytics/http"
	"github.com/erplora/insighthub/internal/observability"
	savedreportshttp "github.com/erplora/insighthub/internal/savedreports/http"
	"github.com/erplora/insighthub/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger              *slog.Logger
	Config              *Config
	AnalyticsHandler    *analyticshttp.Handler
	SavedReportsHandler *savedreportshttp.Handler
	JobsHandler         *jobs.Handler
	Metrics             *observability.Metrics
}

// NewRouter constructs the chi.Router with InsightHub defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/analytics", func(api chi.Router) {
		api.Use(RequireIdentity)
		if params.AnalyticsHandler != nil {
			params.AnalyticsHandler.MountRoutes(api)
		}
		if params.SavedReportsHandler != nil {
			params.SavedReportsHandler.MountRoutes(api)
		}
	})

	if params.JobsHandler != nil {
		r.Route("/jobs", params.JobsHandler.MountRoutes)
	}

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
