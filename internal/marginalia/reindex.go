package marginalia

import (
	"context"

	"github.com/starford/marginalia/internal/cache"
	"github.com/starford/marginalia/internal/capture"
	"github.com/starford/marginalia/internal/index"
	"github.com/starford/marginalia/internal/review"
)

var (
	_ index.Reindexer    = (*Service)(nil)
	_ cache.Persister    = (*index.DB)(nil)
	_ review.Store       = (*index.ReviewStore)(nil)
	_ capture.StatsStore = (*index.DB)(nil)
	_ Searcher           = (*index.DB)(nil)
)

// Reindex re-scans after path changed on disk. Unchanged documents are
// served from the cache, so this costs one read.
func (s *Service) Reindex(ctx context.Context, path string) error {
	if s.cache.Ignored(path) {
		return nil
	}
	_, err := s.Refresh(ctx)
	return err
}

// Remove forgets path and rebuilds the snapshot without it.
func (s *Service) Remove(ctx context.Context, path string) error {
	s.cache.Invalidate(ctx, path)
	_, err := s.Refresh(ctx)
	return err
}

// Reconcile rebuilds the snapshot from the whole vault.
func (s *Service) Reconcile(ctx context.Context) error {
	_, err := s.Refresh(ctx)
	return err
}

// Load restores persisted cache entries and performs the first scan.
func (s *Service) Load(ctx context.Context) error {
	if err := s.cache.Load(ctx); err != nil {
		return err
	}
	_, err := s.Refresh(ctx)
	return err
}
