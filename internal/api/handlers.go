package api

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/starford/marginalia/internal/capture"
	"github.com/starford/marginalia/internal/index"
	"github.com/starford/marginalia/internal/marginalia"
)

// Handler holds API route handlers.
type Handler struct {
	svc *marginalia.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *marginalia.Service) *Handler {
	return &Handler{svc: svc}
}

// pathParam returns a decoded URL parameter. Keys may carry encoded slashes
// (notes%2Fa.md-3).
func pathParam(r *http.Request, name string) string {
	raw := chi.URLParam(r, name)
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// ListAnnotations handles GET /api/annotations.
//
//	@Summary		List annotations from the latest aggregate scan
//	@Tags			annotations
//	@Produce		json
//	@Param			document	query	string	false	"Only this document"
//	@Param			color		query	string	false	"Only this colour"
//	@Param			flashcards	query	bool	false	"Only flashcards"
//	@Router			/annotations [get]
func (h *Handler) ListAnnotations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	flashcards, _ := strconv.ParseBool(q.Get("flashcards"))
	anns, err := h.svc.Annotations(r.Context(), marginalia.Filter{
		Document:   q.Get("document"),
		Color:      q.Get("color"),
		Flashcards: flashcards,
	})
	if err != nil {
		writeError(w, "list annotations", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"annotations": anns,
		"total":       len(anns),
	})
}

// Refresh handles POST /api/scan and returns the per-document failures.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	snap, err := h.svc.Refresh(r.Context())
	if err != nil {
		writeError(w, "scan", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"documents":   len(snap.Documents),
		"annotations": len(snap.Annotations),
		"failures":    snap.Failures,
	})
}

// Search handles GET /api/search.
//
//	@Summary		Full-text search across annotation text
//	@Tags			search
//	@Param			q		query	string	true	"Search query"
//	@Param			limit	query	int		false	"Max results"
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	results, err := h.svc.Search(r.Context(), q, limit)
	if err != nil {
		writeError(w, "search", err)
		return
	}
	if results == nil {
		results = []index.SearchResult{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// Graph handles GET /api/graph.
func (h *Handler) Graph(w http.ResponseWriter, r *http.Request) {
	g, err := h.svc.Graph(r.Context())
	if err != nil {
		writeError(w, "graph", err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// Backlinks handles GET /api/backlinks/{key}.
func (h *Handler) Backlinks(w http.ResponseWriter, r *http.Request) {
	back, err := h.svc.Backlinks(r.Context(), pathParam(r, "key"))
	if err != nil {
		writeError(w, "backlinks", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"backlinks": back})
}

// Stitch handles POST /api/stitch.
//
//	@Summary		Link source annotations to target annotations
//	@Tags			stitch
//	@Accept			json
//	@Param			body	body	StitchRequest	true	"Batch"
//	@Failure		409		{object}	errResponse	"confirmation required"
//	@Router			/stitch [post]
func (h *Handler) Stitch(w http.ResponseWriter, r *http.Request) {
	var req StitchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	report, err := h.svc.Stitch(r.Context(), req.Sources, req.Targets, req.Confirm)
	if err != nil {
		writeError(w, "stitch", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// EnsureIdentity handles POST /api/annotations/{key}/identity.
func (h *Handler) EnsureIdentity(w http.ResponseWriter, r *http.Request) {
	id, err := h.svc.EnsureIdentity(r.Context(), pathParam(r, "key"))
	if err != nil {
		writeError(w, "ensure identity", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"identity": id})
}

// Timeline handles GET /api/timeline.
func (h *Handler) Timeline(w http.ResponseWriter, r *http.Request) {
	buckets, err := h.svc.Timeline(r.Context())
	if err != nil {
		writeError(w, "timeline", err)
		return
	}
	state, err := h.svc.TimelineState(r.Context())
	if err != nil {
		writeError(w, "timeline", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"buckets": buckets,
		"view":    state,
	})
}

// Layout handles POST /api/timeline/layout.
func (h *Handler) Layout(w http.ResponseWriter, r *http.Request) {
	var req LayoutRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	paths, err := h.svc.Layout(r.Context(), req.Rects, req.Zoom)
	if err != nil {
		writeError(w, "layout", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"paths": paths})
}

// Focus handles POST /api/timeline/focus.
func (h *Handler) Focus(w http.ResponseWriter, r *http.Request) {
	var req FocusRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	state, err := h.svc.Focus(r.Context(), req.Center)
	if err != nil {
		writeError(w, "focus", err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// ExitFocus handles DELETE /api/timeline/focus.
func (h *Handler) ExitFocus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.ExitFocus())
}

// Grade handles POST /api/review/{id}/grade.
//
//	@Summary		Record a review grade
//	@Tags			review
//	@Param			id		path	string			true	"Block ID"
//	@Param			body	body	GradeRequest	true	"Grade"
//	@Router			/review/{id}/grade [post]
func (h *Handler) Grade(w http.ResponseWriter, r *http.Request) {
	var req GradeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	id := pathParam(r, "id")
	st, err := h.svc.Grade(r.Context(), id, req.Grade)
	if err != nil {
		writeError(w, "grade", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"identity": id, "state": st})
}

// Due handles GET /api/review/due.
func (h *Handler) Due(w http.ResponseWriter, r *http.Request) {
	cards, err := h.svc.Due(r.Context())
	if err != nil {
		writeError(w, "due", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cards": cards, "total": len(cards)})
}

// Flashcards handles GET /api/review/flashcards.
func (h *Handler) Flashcards(w http.ResponseWriter, r *http.Request) {
	cards, err := h.svc.Flashcards(r.Context())
	if err != nil {
		writeError(w, "flashcards", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cards": cards, "total": len(cards)})
}

// Heatmap handles GET /api/review/heatmap.
func (h *Handler) Heatmap(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.Heatmap(r.Context())
	if err != nil {
		writeError(w, "heatmap", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// Capture handles POST /api/capture.
func (h *Handler) Capture(w http.ResponseWriter, r *http.Request) {
	var req CaptureRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.svc.Capture(r.Context(), capture.Request{
		Context:     req.Context,
		Note:        req.Note,
		Destination: req.Destination,
	})
	if err != nil {
		writeError(w, "capture", err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// Stats handles GET /api/stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Stats(r.Context())
	if err != nil {
		writeError(w, "stats", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
