package api

import (
	"bytes"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/starford/marginalia/internal/capture"
	"github.com/starford/marginalia/internal/marginalia"
	"github.com/starford/marginalia/internal/storage"
)

// AttachmentHandler serves stored images and accepts image captures.
type AttachmentHandler struct {
	svc   *marginalia.Service
	store storage.Provider
	dir   string
}

// NewAttachmentHandler creates a handler over the vault's attachments dir.
func NewAttachmentHandler(svc *marginalia.Service, store storage.Provider, dir string) *AttachmentHandler {
	if dir == "" {
		dir = "attachments"
	}
	return &AttachmentHandler{svc: svc, store: store, dir: strings.Trim(dir, "/")}
}

// plainName reports whether name is a bare file name without traversal.
func plainName(name string) bool {
	return name != "" && name != "." && name != ".." &&
		!strings.ContainsAny(name, `/\`) && path.Clean(name) == name
}

// ServeFile handles GET /attachments/{filename}.
func (h *AttachmentHandler) ServeFile(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "filename")
	if !plainName(name) {
		http.Error(w, "invalid filename", http.StatusBadRequest)
		return
	}
	data, err := h.store.Read(h.dir + "/" + name)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	http.ServeContent(w, r, name, time.Time{}, bytes.NewReader(data))
}

// Upload handles POST /api/attachments (multipart/form-data, field "file").
// The image is stored and an annotation embedding it is captured.
func (h *AttachmentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, capture.MaxImageSize+1<<20)
	if err := r.ParseMultipartForm(capture.MaxImageSize); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("file too large or invalid multipart"))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("missing 'file' field in multipart form"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, capture.MaxImageSize+1))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("failed to read file"))
		return
	}

	res, err := h.svc.CaptureImage(r.Context(), capture.ImageRequest{
		Context:     r.FormValue("context"),
		Filename:    header.Filename,
		Data:        data,
		Destination: r.FormValue("destination"),
	})
	if err != nil {
		writeError(w, "upload attachment", err)
		return
	}
	writeJSON(w, http.StatusCreated, AttachmentUploadResponse{
		Filename: path.Base(res.Image),
		Document: res.Document,
		Line:     res.Line,
		URL:      "/attachments/" + path.Base(res.Image),
	})
}
