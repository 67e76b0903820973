package api

import (
	"github.com/go-chi/chi/v5"

	"github.com/starford/keep/internal/itemservice"
	"github.com/starford/keep/internal/sse"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// events, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *itemservice.Service, authEnabled bool, token string, events *sse.Broker) chi.Router {
	h := NewHandler(svc, events)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	r.Route("/items", func(r chi.Router) {
		r.Get("/", h.ListItems)
		r.Post("/", h.AddItem)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetItem)
			r.Patch("/", h.EditItem)
			r.Delete("/", h.DeleteItem)
			r.Get("/blob", h.GetBlob)
			r.Post("/blob", h.UploadBlob)
			r.Get("/links", h.LinkedItems)
			r.Get("/verify", h.Verify)
			r.Post("/reindex", h.Reindex)
		})
	})

	r.Get("/blobs/{id}", h.GetBlob)
	r.Get("/blobs/{id}/content", h.BlobContent)

	r.Post("/links", h.Link)
	r.Delete("/links", h.Unlink)

	r.Get("/search", h.Search)
	r.Get("/status", h.Status)

	if events != nil {
		r.Get("/events", events.ServeHTTP)
	}

	return r
}
