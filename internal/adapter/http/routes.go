package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Route("/api/v1", func(r chi.Router) {
		// Version
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		// Forests
		r.Get("/forests", h.ListForests)
		r.Post("/forests", h.CreateForest)
		r.Get("/forests/{id}", h.GetForest)
		r.Get("/forests/{id}/nodes", h.ForestNodes)
		r.Post("/forests/{id}/nodes", h.CreateNode)
		r.Get("/forests/{id}/roots", h.ForestRoots)
		r.Get("/forests/{id}/verify", h.VerifyForest)
		r.Post("/forests/{id}/rebuild", h.RebuildForest)

		// Nodes
		r.Get("/nodes/{id}", h.GetNode)
		r.Delete("/nodes/{id}", h.DeleteNode)
		r.Get("/nodes/{id}/children", h.Children)
		r.Get("/nodes/{id}/descendants", h.Descendants)
		r.Get("/nodes/{id}/ancestors", h.Ancestors)
		r.Get("/nodes/{id}/right-sibling", h.RightSibling)
		r.Get("/nodes/{id}/descendant-of/{other}", h.IsDescendantOf)
		r.Post("/nodes/{id}/move", h.MoveNode)

		// Sharing (nested under nodes)
		r.Get("/nodes/{id}/shared-targets", h.SharedTargets)
		r.Get("/nodes/{id}/droppable-targets", h.DroppableTargets)
		r.Get("/nodes/{id}/backlog-scope", h.BacklogScope)

		// Targets
		r.Post("/targets", h.CreateTarget)
		r.Get("/targets/{id}", h.GetTarget)
	})
}
