package api

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/marginalia/internal/timeline"
)

// StitchRequest links every source annotation to every target annotation.
// Keys are block IDs or document-line keys.
type StitchRequest struct {
	Sources []string `json:"sources" example:"notes/a.md-3"`
	Targets []string `json:"targets" example:"ab12cd"`
	Confirm bool     `json:"confirm"`
}

// Validate checks the request shape.
func (r StitchRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Sources, validation.Required, validation.Each(validation.Required)),
		validation.Field(&r.Targets, validation.Required, validation.Each(validation.Required)),
	)
}

// LayoutRequest carries the measured node rectangles of the rendered timeline.
type LayoutRequest struct {
	Rects map[string]timeline.Rect `json:"rects"`
	Zoom  float64                  `json:"zoom" example:"1"`
}

// Validate checks the request shape.
func (r LayoutRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Zoom, validation.Min(0.0)),
	)
}

// FocusRequest enters focus mode around Center.
type FocusRequest struct {
	Center string `json:"center" example:"ab12cd"`
}

// Validate checks the request shape.
func (r FocusRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Center, validation.Required),
	)
}

// GradeRequest grades one flashcard: hard, good or easy.
type GradeRequest struct {
	Grade string `json:"grade" example:"good"`
}

// Validate checks the request shape.
func (r GradeRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Grade, validation.Required),
	)
}

// CaptureRequest appends an annotation to a destination document.
type CaptureRequest struct {
	Context     string `json:"context,omitempty" example:"Chapter 3"`
	Note        string `json:"note" example:"revisit this argument"`
	Destination string `json:"destination,omitempty" example:"Reading Notes"`
}

// Validate checks the request shape.
func (r CaptureRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Note, validation.Required),
	)
}

// AttachmentUploadResponse is returned after a successful image capture.
type AttachmentUploadResponse struct {
	Filename string `json:"filename" example:"image.png"`
	Document string `json:"document" example:"Marginalia Inbox.md"`
	Line     int    `json:"line" example:"4"`
	URL      string `json:"url" example:"/attachments/image.png"`
}
