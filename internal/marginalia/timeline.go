package marginalia

import (
	"context"

	"github.com/starford/marginalia/internal/timeline"
)

// Timeline returns the day buckets of the current snapshot, oldest first.
func (s *Service) Timeline(ctx context.Context) ([]timeline.Bucket, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return nonNil(snap.Buckets), nil
}

// TimelineState returns the focus state of the timeline view.
func (s *Service) TimelineState(ctx context.Context) (timeline.Snapshot, error) {
	if _, err := s.Snapshot(ctx); err != nil {
		return timeline.Snapshot{}, err
	}
	return s.view.Snapshot(), nil
}

// Layout computes connector paths for the currently visible edges.
func (s *Service) Layout(ctx context.Context, rects map[string]timeline.Rect, zoom float64) ([]timeline.Path, error) {
	if _, err := s.Snapshot(ctx); err != nil {
		return nil, err
	}
	return nonNil(timeline.Paths(s.view.VisibleEdges(), rects, zoom)), nil
}

// Focus narrows the timeline to center's neighbourhood.
func (s *Service) Focus(ctx context.Context, center string) (timeline.Snapshot, error) {
	if _, err := s.Snapshot(ctx); err != nil {
		return timeline.Snapshot{}, err
	}
	return s.view.Focus(center)
}

// ExitFocus returns the timeline to normal mode.
func (s *Service) ExitFocus() timeline.Snapshot {
	return s.view.Exit()
}
