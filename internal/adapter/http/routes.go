package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers the control surface routes on the given chi router.
// Extra middleware (idempotency) applies to the /api/v1 group only.
func MountRoutes(r chi.Router, h *Handlers, api ...func(http.Handler) http.Handler) {
	r.Get("/health", h.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(api...)

		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"` + Version + `"}`))
		})

		r.Post("/tasks", h.CreateTask)
		r.Get("/tasks", h.ListTasks)
		r.Get("/tasks/{id}", h.GetTask)
		r.Get("/tasks/{id}/status", h.GetTaskStatus)
		r.Post("/tasks/{id}/cancel", h.CancelTask)
		r.Get("/tasks/{id}/artifact", h.DownloadArtifact)
	})
}

// Version is the API version reported at /api/v1/. Overridden at link time.
var Version = "0.1.0"
