package index

import (
	"context"

	"github.com/starford/marginalia/internal/models"
)

// AnnotationIndex defines the persistence operations the service depends on.
// Consumers should depend on this interface rather than the concrete *DB type
// so tests can swap in fakes.
type AnnotationIndex interface {
	LoadEntries(ctx context.Context) (map[string]models.CacheEntry, error)
	SaveEntry(ctx context.Context, document string, e models.CacheEntry) error
	DeleteEntry(ctx context.Context, document string) error
	Search(query string, limit int) ([]SearchResult, error)
	GetStats(ctx context.Context) (models.Stats, error)
	PutStats(ctx context.Context, s models.Stats) error
	Reviews() *ReviewStore
	Close() error
}

// Verify *DB satisfies AnnotationIndex at compile time.
var _ AnnotationIndex = (*DB)(nil)
