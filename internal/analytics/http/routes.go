package analyticshttp

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/erplora/insighthub/internal/platform/httpx"
	"github.com/erplora/insighthub/internal/shared"
)

// MountRoutes registers the analytics endpoints onto the router.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	exportLimiter := httprate.Limit(10, time.Minute,
		httprate.WithKeyFuncs(rateLimitKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httpx.Problem(w, http.StatusTooManyRequests, "Rate Limit Exceeded", "export limit is 10 per minute")
		}),
	)

	r.Get("/reports/{type}", h.handleReport)
	r.Get("/charts/{kind}", h.handleChart)
	r.Get("/settings", h.handleGetSettings)
	r.Put("/settings", h.handlePutSettings)
	r.Post("/cache/invalidations", h.handleInvalidate)
	r.Group(func(gr chi.Router) {
		gr.Use(exportLimiter)
		gr.Get("/reports/{type}/export", h.handleExport)
	})
}

func rateLimitKey(r *http.Request) (string, error) {
	if ident, ok := shared.IdentityFromContext(r.Context()); ok {
		return "user:" + ident.UserID.String(), nil
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}
