// Package cache memoizes parsed annotations per document, keyed by the
// document's modification stamp. It is the single re-indexing entry point:
// every other component consumes its output instead of reading documents.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/starford/marginalia/internal/metrics"
	"github.com/starford/marginalia/internal/models"
	"github.com/starford/marginalia/internal/parser"
	"github.com/starford/marginalia/internal/storage"
)

// Persister stores cache entries across restarts.
type Persister interface {
	LoadEntries(ctx context.Context) (map[string]models.CacheEntry, error)
	SaveEntry(ctx context.Context, document string, e models.CacheEntry) error
	DeleteEntry(ctx context.Context, document string) error
}

// Failure is one document that could not be scanned.
type Failure struct {
	Document string `json:"document"`
	Error    string `json:"error"`
}

// ScanReport is the result of an aggregate scan.
type ScanReport struct {
	Annotations []models.Annotation  `json:"annotations"`
	Documents   []string             `json:"documents"`
	Created     map[string]time.Time `json:"created"`
	Failures    []Failure            `json:"failures,omitempty"`
}

// Cache owns the per-document parsed state.
type Cache struct {
	store   storage.Provider
	opts    parser.Options
	ignored []string
	persist Persister
	logger  *slog.Logger

	mu      sync.Mutex
	entries map[string]models.CacheEntry
}

// Option configures a Cache.
type Option func(*Cache)

// WithParserOptions sets the colour rules and placeholders used for parsing.
func WithParserOptions(o parser.Options) Option {
	return func(c *Cache) { c.opts = o }
}

// WithIgnoredFolders skips documents under any of the given folders.
func WithIgnoredFolders(folders ...string) Option {
	return func(c *Cache) {
		for _, f := range folders {
			f = strings.Trim(strings.TrimSpace(f), "/")
			if f != "" {
				c.ignored = append(c.ignored, f)
			}
		}
	}
}

// WithPersister mirrors every entry change into p.
func WithPersister(p Persister) Option {
	return func(c *Cache) { c.persist = p }
}

// New creates an empty cache reading through store.
func New(store storage.Provider, logger *slog.Logger, opts ...Option) *Cache {
	c := &Cache{
		store:   store,
		opts:    parser.DefaultOptions(),
		logger:  logger,
		entries: make(map[string]models.CacheEntry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Ignored reports whether document lies in an ignored folder.
func (c *Cache) Ignored(document string) bool {
	for _, f := range c.ignored {
		if document == f || strings.HasPrefix(document, f+"/") {
			return true
		}
	}
	return false
}

// Scan returns the annotations of one document. When the stamp matches the
// cached entry, the document is neither read nor parsed.
func (c *Cache) Scan(ctx context.Context, document string) ([]models.Annotation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	meta, err := c.store.Stat(document)
	if err != nil {
		metrics.DocumentScans.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("cache: stat %s: %w", document, err)
	}
	e, err := c.scanMeta(ctx, meta)
	if err != nil {
		return nil, err
	}
	return cloneAnnotations(e.Annotations), nil
}

func (c *Cache) scanMeta(ctx context.Context, meta models.DocumentMeta) (models.CacheEntry, error) {
	c.mu.Lock()
	e, ok := c.entries[meta.Path]
	c.mu.Unlock()
	if ok && e.Stamp == meta.Stamp {
		metrics.DocumentScans.WithLabelValues("hit").Inc()
		return e, nil
	}

	data, err := c.store.Read(meta.Path)
	if err != nil {
		metrics.DocumentScans.WithLabelValues("error").Inc()
		return models.CacheEntry{}, fmt.Errorf("cache: read %s: %w", meta.Path, err)
	}
	// Disk stamps are modification times, so the first creation time seen
	// for a document outlives later edits.
	fallback := meta.CreatedAt
	if ok && !e.Created.IsZero() && (fallback.IsZero() || e.Created.Before(fallback)) {
		fallback = e.Created
	}
	text := string(data)
	e = models.CacheEntry{
		Stamp:       meta.Stamp,
		Created:     parser.CreatedAt(meta.Path, text, fallback),
		Annotations: parser.Parse(meta.Path, text, c.opts),
	}

	c.mu.Lock()
	c.entries[meta.Path] = e
	c.mu.Unlock()
	metrics.DocumentScans.WithLabelValues("miss").Inc()
	c.logger.Debug("cache: parsed",
		slog.String("document", meta.Path),
		slog.Int("annotations", len(e.Annotations)))

	if c.persist != nil {
		if err := c.persist.SaveEntry(ctx, meta.Path, e); err != nil {
			c.logger.Warn("cache: persist failed", slog.String("document", meta.Path), slog.String("error", err.Error()))
		}
	}
	return e, nil
}

// ScanAll scans every document in path order and concatenates the results.
// Per-document failures are recorded in the report; only failing to list the
// collection is returned as an error. Entries of vanished documents are dropped.
func (c *Cache) ScanAll(ctx context.Context) (ScanReport, error) {
	start := time.Now()
	defer func() { metrics.ScanAllDuration.Observe(time.Since(start).Seconds()) }()

	metas, err := c.store.List("")
	if err != nil {
		return ScanReport{}, fmt.Errorf("cache: list documents: %w", err)
	}
	slices.SortFunc(metas, func(a, b models.DocumentMeta) int { return strings.Compare(a.Path, b.Path) })

	report := ScanReport{Created: make(map[string]time.Time, len(metas))}
	seen := make(map[string]struct{}, len(metas))
	for _, m := range metas {
		if c.Ignored(m.Path) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}
		seen[m.Path] = struct{}{}
		e, err := c.scanMeta(ctx, m)
		if err != nil {
			c.logger.Warn("cache: scan failed", slog.String("document", m.Path), slog.String("error", err.Error()))
			report.Failures = append(report.Failures, Failure{Document: m.Path, Error: err.Error()})
			continue
		}
		report.Documents = append(report.Documents, m.Path)
		report.Created[m.Path] = e.Created
		report.Annotations = append(report.Annotations, cloneAnnotations(e.Annotations)...)
	}

	c.mu.Lock()
	var gone []string
	for doc := range c.entries {
		if _, ok := seen[doc]; !ok {
			gone = append(gone, doc)
			delete(c.entries, doc)
		}
	}
	c.mu.Unlock()
	for _, doc := range gone {
		c.forget(ctx, doc)
	}

	metrics.Annotations.Set(float64(len(report.Annotations)))
	return report, nil
}

// Invalidate drops the entry for document so the next scan re-reads it.
func (c *Cache) Invalidate(ctx context.Context, document string) {
	c.mu.Lock()
	_, ok := c.entries[document]
	delete(c.entries, document)
	c.mu.Unlock()
	if ok {
		c.forget(ctx, document)
	}
}

func (c *Cache) forget(ctx context.Context, document string) {
	if c.persist == nil {
		return
	}
	if err := c.persist.DeleteEntry(ctx, document); err != nil {
		c.logger.Warn("cache: forget failed", slog.String("document", document), slog.String("error", err.Error()))
	}
}

// Created returns the creation time recorded for document by its last scan.
func (c *Cache) Created(document string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[document]
	return e.Created, ok
}

// Len returns the number of cached documents.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Reset empties the in-memory cache. Persisted entries are untouched.
func (c *Cache) Reset() {
	c.mu.Lock()
	c.entries = make(map[string]models.CacheEntry)
	c.mu.Unlock()
}

// Load replaces the in-memory entries with the persisted ones.
func (c *Cache) Load(ctx context.Context) error {
	if c.persist == nil {
		return nil
	}
	entries, err := c.persist.LoadEntries(ctx)
	if err != nil {
		return fmt.Errorf("cache: load: %w", err)
	}
	c.mu.Lock()
	c.entries = entries
	if c.entries == nil {
		c.entries = make(map[string]models.CacheEntry)
	}
	c.mu.Unlock()
	c.logger.Info("cache: loaded", slog.Int("documents", len(entries)))
	return nil
}

// Save writes every in-memory entry to the persister.
func (c *Cache) Save(ctx context.Context) error {
	if c.persist == nil {
		return nil
	}
	c.mu.Lock()
	snapshot := make(map[string]models.CacheEntry, len(c.entries))
	for k, v := range c.entries {
		snapshot[k] = v
	}
	c.mu.Unlock()
	for doc, e := range snapshot {
		if err := c.persist.SaveEntry(ctx, doc, e); err != nil {
			return fmt.Errorf("cache: save %s: %w", doc, err)
		}
	}
	return nil
}

func cloneAnnotations(in []models.Annotation) []models.Annotation {
	if in == nil {
		return nil
	}
	out := make([]models.Annotation, len(in))
	for i, a := range in {
		a.OutgoingLinks = slices.Clone(a.OutgoingLinks)
		a.Images = slices.Clone(a.Images)
		out[i] = a
	}
	return out
}
