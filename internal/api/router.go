package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/marginalia/internal/marginalia"
)

// RouterConfig configures NewRouter.
type RouterConfig struct {
	AuthEnabled bool
	Token       string
	// Events, if non-nil, is mounted at GET /events inside the auth group.
	Events http.Handler
}

// NewRouter creates a chi router with all API routes mounted.
func NewRouter(svc *marginalia.Service, attachments *AttachmentHandler, cfg RouterConfig) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(cfg.AuthEnabled, cfg.Token))

	r.Get("/annotations", h.ListAnnotations)
	r.Post("/annotations/{key}/identity", h.EnsureIdentity)
	r.Post("/scan", h.Refresh)
	r.Get("/search", h.Search)

	r.Get("/graph", h.Graph)
	r.Get("/backlinks/{key}", h.Backlinks)
	r.Post("/stitch", h.Stitch)

	r.Route("/timeline", func(r chi.Router) {
		r.Get("/", h.Timeline)
		r.Post("/layout", h.Layout)
		r.Post("/focus", h.Focus)
		r.Delete("/focus", h.ExitFocus)
	})

	r.Route("/review", func(r chi.Router) {
		r.Get("/due", h.Due)
		r.Get("/flashcards", h.Flashcards)
		r.Get("/heatmap", h.Heatmap)
		r.Post("/{id}/grade", h.Grade)
	})

	r.Post("/capture", h.Capture)
	r.Get("/stats", h.Stats)
	if attachments != nil {
		r.Post("/attachments", attachments.Upload)
	}

	if cfg.Events != nil {
		r.Get("/events", cfg.Events.ServeHTTP)
	}

	return r
}
