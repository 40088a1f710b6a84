package savedreportshttp

import "github.com/go-chi/chi/v5"

// MountRoutes registers the saved reports endpoints onto the router.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	r.Route("/saved-reports", func(sr chi.Router) {
		sr.Get("/", h.handleList)
		sr.Post("/", h.handleCreate)
		sr.Get("/{id}", h.handleGet)
		sr.Put("/{id}", h.handleUpdate)
		sr.Delete("/{id}", h.handleDelete)
		sr.Post("/{id}/run", h.handleRun)
	})
}
