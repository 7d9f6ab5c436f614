package marginalia

import (
	"context"
	"log/slog"

	"github.com/starford/marginalia/internal/capture"
	"github.com/starford/marginalia/internal/models"
)

// Capture appends a new annotation to its destination document.
func (s *Service) Capture(ctx context.Context, req capture.Request) (capture.Result, error) {
	res, err := s.capture.Capture(ctx, req)
	if err != nil {
		return capture.Result{}, err
	}
	s.afterCapture(ctx, res)
	return res, nil
}

// CaptureImage stores an image and appends an annotation embedding it.
func (s *Service) CaptureImage(ctx context.Context, req capture.ImageRequest) (capture.Result, error) {
	res, err := s.capture.CaptureImage(ctx, req)
	if err != nil {
		return capture.Result{}, err
	}
	s.afterCapture(ctx, res)
	return res, nil
}

func (s *Service) afterCapture(ctx context.Context, res capture.Result) {
	if _, err := s.Refresh(ctx); err != nil {
		s.logger.Warn("marginalia: refresh after capture failed", slog.String("error", err.Error()))
	}
	if s.notifier == nil {
		return
	}
	kind := "updated"
	if res.Created {
		kind = "created"
	}
	s.notifier.PublishDocumentEvent(kind, res.Document)
	if res.LeveledUp {
		s.notifier.Emit("stats.level_up", res.Stats)
	}
}

// Stats returns the capture counters.
func (s *Service) Stats(ctx context.Context) (models.Stats, error) {
	if s.stats == nil {
		return models.NewStats(), nil
	}
	return s.stats.GetStats(ctx)
}
