// Package marginalia is the service façade over the annotation core. The
// REST, MCP and CLI surfaces call it; it owns the current scan snapshot.
package marginalia

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/starford/marginalia/internal/apperr"
	"github.com/starford/marginalia/internal/cache"
	"github.com/starford/marginalia/internal/capture"
	"github.com/starford/marginalia/internal/graph"
	"github.com/starford/marginalia/internal/identity"
	"github.com/starford/marginalia/internal/index"
	"github.com/starford/marginalia/internal/metrics"
	"github.com/starford/marginalia/internal/models"
	"github.com/starford/marginalia/internal/review"
	"github.com/starford/marginalia/internal/stitch"
	"github.com/starford/marginalia/internal/storage"
	"github.com/starford/marginalia/internal/timeline"
)

// Searcher is full-text search over annotation text.
type Searcher interface {
	Search(query string, limit int) ([]index.SearchResult, error)
}

// Notifier receives change events for push delivery.
type Notifier interface {
	PublishDocumentEvent(kind, path string)
	Emit(kind string, data any)
}

// Snapshot is the result of one aggregate scan and everything derived from it.
type Snapshot struct {
	Annotations []models.Annotation  `json:"annotations"`
	Documents   []string             `json:"documents"`
	Created     map[string]time.Time `json:"created"`
	Failures    []cache.Failure      `json:"failures,omitempty"`
	Buckets     []timeline.Bucket    `json:"-"`
	Graph       *graph.Graph         `json:"-"`
	ScannedAt   time.Time            `json:"scanned_at"`
}

// Service coordinates the cache, graph, stitch engine, scheduler and capture.
// Scans and stitch batches run one at a time.
type Service struct {
	store    storage.Provider
	cache    *cache.Cache
	ids      *identity.Manager
	stitcher *stitch.Engine
	sched    *review.Scheduler
	capture  *capture.Service
	stats    capture.StatsStore
	searcher Searcher
	notifier Notifier
	view     *timeline.View
	loc      *time.Location
	now      func() time.Time
	logger   *slog.Logger

	mu   sync.Mutex
	snap *Snapshot
}

type settings struct {
	cacheOpts  []cache.Option
	idOpts     []identity.Option
	reviews    review.Store
	stats      capture.StatsStore
	captureCfg capture.Config
	searcher   Searcher
	notifier   Notifier
	now        func() time.Time
	loc        *time.Location
}

// Option configures a Service.
type Option func(*settings)

// WithCacheOptions passes options to the document cache.
func WithCacheOptions(opts ...cache.Option) Option {
	return func(s *settings) { s.cacheOpts = append(s.cacheOpts, opts...) }
}

// WithIdentityOptions passes options to the identity manager.
func WithIdentityOptions(opts ...identity.Option) Option {
	return func(s *settings) { s.idOpts = append(s.idOpts, opts...) }
}

// WithReviewStore sets where review states are kept. Defaults to memory.
func WithReviewStore(rs review.Store) Option {
	return func(s *settings) { s.reviews = rs }
}

// WithStatsStore sets where capture stats are kept.
func WithStatsStore(st capture.StatsStore) Option {
	return func(s *settings) { s.stats = st }
}

// WithCaptureConfig sets capture destinations.
func WithCaptureConfig(cfg capture.Config) Option {
	return func(s *settings) { s.captureCfg = cfg }
}

// WithSearcher sets the full-text searcher. Without one, search scans the snapshot.
func WithSearcher(q Searcher) Option {
	return func(s *settings) { s.searcher = q }
}

// WithNotifier sets the push-event sink.
func WithNotifier(n Notifier) Option {
	return func(s *settings) { s.notifier = n }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *settings) { s.now = now }
}

// WithLocation sets the time zone used for day buckets.
func WithLocation(loc *time.Location) Option {
	return func(s *settings) { s.loc = loc }
}

// New wires a Service over store.
func New(store storage.Provider, logger *slog.Logger, opts ...Option) *Service {
	cfg := settings{now: time.Now, loc: time.Local}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.reviews == nil {
		cfg.reviews = review.NewMemStore()
	}

	c := cache.New(store, logger, cfg.cacheOpts...)
	ids := identity.NewManager(store, logger, cfg.idOpts...)
	return &Service{
		store:    store,
		cache:    c,
		ids:      ids,
		stitcher: stitch.NewEngine(store, ids, c, logger),
		sched:    review.NewScheduler(cfg.reviews, logger, review.WithClock(cfg.now)),
		capture:  capture.NewService(store, cfg.stats, cfg.captureCfg, logger),
		stats:    cfg.stats,
		searcher: cfg.searcher,
		notifier: cfg.notifier,
		view:     timeline.NewView(graph.Build(nil, nil), nil),
		loc:      cfg.loc,
		now:      cfg.now,
		logger:   logger,
	}
}

// Cache exposes the document cache for lifecycle management.
func (s *Service) Cache() *cache.Cache { return s.cache }

// Refresh runs an aggregate scan and rebuilds the graph and timeline. When
// every document scanned cleanly, review states of vanished identities are
// collected.
func (s *Service) Refresh(ctx context.Context) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshLocked(ctx)
}

func (s *Service) refreshLocked(ctx context.Context) (*Snapshot, error) {
	report, err := s.cache.ScanAll(ctx)
	if err != nil {
		return nil, err
	}
	g := graph.Build(report.Annotations, storage.NewResolver(report.Documents))
	snap := &Snapshot{
		Annotations: report.Annotations,
		Documents:   report.Documents,
		Created:     report.Created,
		Failures:    report.Failures,
		Buckets:     timeline.GroupByDay(report.Annotations, report.Created, s.loc),
		Graph:       g,
		ScannedAt:   s.now(),
	}
	s.snap = snap
	s.view.Reset(g, snap.Buckets)
	metrics.BrokenLinks.Set(float64(len(g.Broken())))

	if len(report.Failures) == 0 {
		if _, err := s.sched.Collect(ctx, g.Identities()); err != nil {
			s.logger.Warn("marginalia: review collect failed", slog.String("error", err.Error()))
		}
	}
	s.logger.Debug("marginalia: refreshed",
		slog.Int("documents", len(report.Documents)),
		slog.Int("annotations", len(report.Annotations)),
		slog.Int("failures", len(report.Failures)))
	return snap, nil
}

// Snapshot returns the current snapshot, scanning first if there is none.
func (s *Service) Snapshot(ctx context.Context) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap != nil {
		return s.snap, nil
	}
	return s.refreshLocked(ctx)
}

// Filter narrows Annotations.
type Filter struct {
	Document   string
	Color      string
	Flashcards bool
}

// Annotations returns the snapshot's annotations matching f.
func (s *Service) Annotations(ctx context.Context, f Filter) ([]models.Annotation, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.Annotation, 0, len(snap.Annotations))
	for _, a := range snap.Annotations {
		if f.Document != "" && a.Document != f.Document {
			continue
		}
		if f.Color != "" && a.Color != f.Color {
			continue
		}
		if f.Flashcards && !a.IsFlashcard {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

// Search finds annotations whose text matches query.
func (s *Service) Search(ctx context.Context, query string, limit int) ([]index.SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	if s.searcher != nil {
		if _, err := s.Snapshot(ctx); err != nil {
			return nil, err
		}
		return s.searcher.Search(query, limit)
	}
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(query)
	var out []index.SearchResult
	for _, a := range snap.Annotations {
		if len(out) >= limit {
			break
		}
		if strings.Contains(strings.ToLower(a.CleanText), q) {
			out = append(out, index.SearchResult{
				Document: a.Document, Line: a.Line, Key: a.Key(),
				Identity: a.Identity, Color: a.Color, Snippet: a.CleanText,
			})
		}
	}
	return out, nil
}

// GraphView is the serialisable form of the link graph.
type GraphView struct {
	Nodes  []models.Annotation `json:"nodes"`
	Edges  []graph.Edge        `json:"edges"`
	Broken []graph.Broken      `json:"broken"`
}

// Graph returns the current link graph.
func (s *Service) Graph(ctx context.Context) (GraphView, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return GraphView{}, err
	}
	return GraphView{
		Nodes:  nonNil(snap.Graph.Nodes()),
		Edges:  nonNil(snap.Graph.Edges()),
		Broken: nonNil(snap.Graph.Broken()),
	}, nil
}

// Backlinks returns the annotations linking to key.
func (s *Service) Backlinks(ctx context.Context, key string) ([]models.Annotation, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	a, ok := snap.Graph.Lookup(key)
	if !ok {
		return nil, fmt.Errorf("marginalia: annotation %s: %w", key, apperr.ErrNotFound)
	}
	return nonNil(snap.Graph.Backlinks(a.Key())), nil
}

// Stitch links the annotations named by sourceKeys to those named by
// targetKeys. A batch of more than one link needs confirmed=true.
func (s *Service) Stitch(ctx context.Context, sourceKeys, targetKeys []string, confirmed bool) (stitch.Report, error) {
	if len(sourceKeys) == 0 || len(targetKeys) == 0 {
		return stitch.Report{}, fmt.Errorf("marginalia: stitch needs sources and targets: %w", apperr.ErrInvalidInput)
	}
	if stitch.NeedsConfirmation(len(sourceKeys), len(targetKeys)) && !confirmed {
		return stitch.Report{}, fmt.Errorf("marginalia: stitch %d×%d: %w", len(sourceKeys), len(targetKeys), apperr.ErrConfirmationRequired)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap == nil {
		if _, err := s.refreshLocked(ctx); err != nil {
			return stitch.Report{}, err
		}
	}
	sources, err := lookupAll(s.snap.Graph, sourceKeys)
	if err != nil {
		return stitch.Report{}, err
	}
	targets, err := lookupAll(s.snap.Graph, targetKeys)
	if err != nil {
		return stitch.Report{}, err
	}

	report := s.stitcher.Stitch(ctx, sources, targets)
	if _, err := s.refreshLocked(ctx); err != nil {
		s.logger.Warn("marginalia: refresh after stitch failed", slog.String("error", err.Error()))
	}
	if s.notifier != nil {
		for _, doc := range report.Documents {
			s.notifier.PublishDocumentEvent("updated", doc)
		}
	}
	return report, nil
}

func lookupAll(g *graph.Graph, keys []string) ([]models.Annotation, error) {
	out := make([]models.Annotation, 0, len(keys))
	for _, k := range keys {
		a, ok := g.Lookup(k)
		if !ok {
			return nil, fmt.Errorf("marginalia: annotation %s: %w", k, apperr.ErrNotFound)
		}
		out = append(out, a)
	}
	return out, nil
}

// EnsureIdentity allocates a block ID for the annotation named by key.
func (s *Service) EnsureIdentity(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap == nil {
		if _, err := s.refreshLocked(ctx); err != nil {
			return "", err
		}
	}
	a, ok := s.snap.Graph.Lookup(key)
	if !ok {
		return "", fmt.Errorf("marginalia: annotation %s: %w", key, apperr.ErrNotFound)
	}
	if a.HasIdentity() {
		return a.Identity, nil
	}
	id, err := s.ids.Ensure(ctx, a.Document, a.Line)
	if err != nil {
		return "", err
	}
	if _, err := s.refreshLocked(ctx); err != nil {
		s.logger.Warn("marginalia: refresh after identity failed", slog.String("error", err.Error()))
	}
	if s.notifier != nil {
		s.notifier.PublishDocumentEvent("updated", a.Document)
	}
	return id, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
