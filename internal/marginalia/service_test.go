package marginalia

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/marginalia/internal/apperr"
	"github.com/starford/marginalia/internal/cache"
	"github.com/starford/marginalia/internal/capture"
	"github.com/starford/marginalia/internal/identity"
	"github.com/starford/marginalia/internal/models"
	"github.com/starford/marginalia/internal/review"
	"github.com/starford/marginalia/internal/storage"
	"github.com/starford/marginalia/internal/testutil"
	"github.com/starford/marginalia/internal/timeline"
)

type event struct{ kind, path string }

type recordingNotifier struct {
	mu      sync.Mutex
	docs    []event
	emitted []string
}

func (n *recordingNotifier) PublishDocumentEvent(kind, path string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.docs = append(n.docs, event{kind, path})
}

func (n *recordingNotifier) Emit(kind string, _ any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.emitted = append(n.emitted, kind)
}

func tokens(list ...string) identity.Option {
	return identity.WithTokenSource(func() string {
		tok := list[0]
		list = list[1:]
		return tok
	})
}

func newService(t *testing.T, store storage.Provider, opts ...Option) *Service {
	t.Helper()
	return New(store, testutil.Logger(), opts...)
}

func TestRefresh_BuildsGraphAndBacklinks(t *testing.T) {
	store := testutil.MemVault(t, map[string]string{
		"D1.md": "text %%> important idea %% ^ab12cd",
		"D2.md": "other %%> see [[D1#^ab12cd]] %%",
	})
	svc := newService(t, store)

	snap, err := svc.Refresh(context.Background())
	require.NoError(t, err)
	assert.Len(t, snap.Annotations, 2)
	assert.Equal(t, []string{"D1.md", "D2.md"}, snap.Documents)

	back, err := svc.Backlinks(context.Background(), "ab12cd")
	require.NoError(t, err)
	require.Len(t, back, 1)
	assert.Equal(t, "D2.md", back[0].Document)

	_, err = svc.Backlinks(context.Background(), "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestAnnotations_Filter(t *testing.T) {
	store := testutil.MemVault(t, map[string]string{
		"a.md": "%%> plain %%\n%%> card;; %% ^c1",
		"b.md": "%%> other %%",
	})
	svc := newService(t, store)

	all, err := svc.Annotations(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	inA, err := svc.Annotations(context.Background(), Filter{Document: "a.md"})
	require.NoError(t, err)
	assert.Len(t, inA, 2)

	cards, err := svc.Annotations(context.Background(), Filter{Flashcards: true})
	require.NoError(t, err)
	require.Len(t, cards, 1)
	assert.Equal(t, "c1", cards[0].Identity)
}

func TestSearch_FallsBackToSnapshot(t *testing.T) {
	store := testutil.MemVault(t, map[string]string{
		"a.md": "%%> The Tides %%\n%%> gravity %%",
	})
	svc := newService(t, store)

	res, err := svc.Search(context.Background(), "tides", 0)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "a.md", res[0].Document)
	assert.Equal(t, 0, res[0].Line)
}

func TestSearch_UsesIndex(t *testing.T) {
	db := testutil.TestDB(t)
	store := testutil.MemVault(t, map[string]string{
		"a.md": "%%> ocean tides %%",
	})
	svc := newService(t, store,
		WithCacheOptions(cache.WithPersister(db)),
		WithSearcher(db))

	res, err := svc.Search(context.Background(), "tides", 5)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "a.md", res[0].Document)
}

func TestStitch_RequiresConfirmationForBatches(t *testing.T) {
	store := testutil.MemVault(t, map[string]string{
		"s.md": "%%> one %%\n%%> two %%",
		"t.md": "%%> target %%",
	})
	svc := newService(t, store, WithIdentityOptions(tokens("tgt001")))
	_, err := svc.Refresh(context.Background())
	require.NoError(t, err)

	_, err = svc.Stitch(context.Background(), []string{"s.md-0", "s.md-1"}, []string{"t.md-0"}, false)
	assert.ErrorIs(t, err, apperr.ErrConfirmationRequired)

	report, err := svc.Stitch(context.Background(), []string{"s.md-0", "s.md-1"}, []string{"t.md-0"}, true)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Linked)

	back, err := svc.Backlinks(context.Background(), "tgt001")
	require.NoError(t, err)
	assert.Len(t, back, 2)
}

func TestStitch_UnknownKey(t *testing.T) {
	store := testutil.MemVault(t, map[string]string{"s.md": "%%> one %%"})
	svc := newService(t, store)

	_, err := svc.Stitch(context.Background(), []string{"s.md-0"}, []string{"nope"}, false)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = svc.Stitch(context.Background(), nil, []string{"s.md-0"}, false)
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestStitch_NotifiesTouchedDocuments(t *testing.T) {
	store := testutil.MemVault(t, map[string]string{
		"s.md": "%%> one %%",
		"t.md": "%%> target %% ^t1",
	})
	n := &recordingNotifier{}
	svc := newService(t, store, WithNotifier(n))

	_, err := svc.Stitch(context.Background(), []string{"s.md-0"}, []string{"t1"}, false)
	require.NoError(t, err)
	assert.Contains(t, n.docs, event{"updated", "s.md"})
}

func TestEnsureIdentity(t *testing.T) {
	store := testutil.MemVault(t, map[string]string{"a.md": "%%> idea %%"})
	n := &recordingNotifier{}
	svc := newService(t, store, WithIdentityOptions(tokens("abc123")), WithNotifier(n))

	id, err := svc.EnsureIdentity(context.Background(), "a.md-0")
	require.NoError(t, err)
	assert.Equal(t, "abc123", id)

	again, err := svc.EnsureIdentity(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, "abc123", again)
	assert.Equal(t, []event{{"updated", "a.md"}}, n.docs)
}

func TestReview_GradeDueAndCollect(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	store := testutil.MemVault(t, map[string]string{
		"a.md": "%%> q1;; %% ^q1\n%%> q2;; %% ^q2\n%%> no id;; %%",
	})
	reviews := review.NewMemStore()
	n := &recordingNotifier{}
	svc := newService(t, store,
		WithReviewStore(reviews),
		WithNotifier(n),
		WithClock(func() time.Time { return now }))

	cards, err := svc.Flashcards(context.Background())
	require.NoError(t, err)
	require.Len(t, cards, 2)
	assert.Equal(t, review.NeverReviewed, cards[0].Review.Class)

	_, err = svc.Grade(context.Background(), "q1", "easy")
	require.NoError(t, err)
	assert.Contains(t, n.emitted, "review.graded")

	due, err := svc.Due(context.Background())
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "q2", due[0].Identity)

	_, err = svc.Grade(context.Background(), "q1", "meh")
	assert.ErrorIs(t, err, apperr.ErrInvalidGrade)

	require.NoError(t, store.Write("a.md", []byte("%%> q2;; %% ^q2")))
	removed, err := svc.CollectReviews(context.Background())
	require.NoError(t, err)
	assert.Empty(t, removed, "refresh already collected q1")
	_, ok, err := reviews.Get(context.Background(), "q1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTimeline_FocusAndLayout(t *testing.T) {
	store := testutil.MemVault(t, map[string]string{
		"a.md": "%%> hub %% ^hub\n%%> alone %%",
		"b.md": "%%> spoke [[a#^hub]] %% ^spoke",
	})
	svc := newService(t, store, WithLocation(time.UTC))

	buckets, err := svc.Timeline(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, buckets)

	snap, err := svc.Focus(context.Background(), "hub")
	require.NoError(t, err)
	assert.Equal(t, timeline.Focused, snap.Mode)
	assert.ElementsMatch(t, []string{"hub", "spoke"}, snap.Neighborhood)

	paths, err := svc.Layout(context.Background(), map[string]timeline.Rect{
		"spoke": {X: 0, Y: 0, W: 100, H: 20},
		"hub":   {X: 200, Y: 50, W: 100, H: 20},
	}, 1)
	require.NoError(t, err)
	require.Len(t, paths, 1)
	assert.Equal(t, "spoke", paths[0].From)

	_, err = svc.Focus(context.Background(), "nope")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Equal(t, timeline.Normal, svc.ExitFocus().Mode)
}

func TestCapture_RefreshesAndNotifies(t *testing.T) {
	db := testutil.TestDB(t)
	store := testutil.MemVault(t, nil)
	n := &recordingNotifier{}
	svc := newService(t, store, WithStatsStore(db), WithNotifier(n))

	res, err := svc.Capture(context.Background(), capture.Request{Note: "fresh thought"})
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, []event{{"created", res.Document}}, n.docs)

	anns, err := svc.Annotations(context.Background(), Filter{Document: res.Document})
	require.NoError(t, err)
	require.Len(t, anns, 1)
	assert.Equal(t, "fresh thought", anns[0].CleanText)

	stats, err := svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.Stats{MarginaliasCreated: 1, XP: 10, Level: 1}, stats)
}

func TestReindexAndRemove(t *testing.T) {
	store := testutil.MemVault(t, map[string]string{"a.md": "%%> one %%"})
	svc := newService(t, store)
	require.NoError(t, svc.Load(context.Background()))

	require.NoError(t, store.Write("b.md", []byte("%%> two %%")))
	require.NoError(t, svc.Reindex(context.Background(), "b.md"))
	anns, err := svc.Annotations(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Len(t, anns, 2)

	require.NoError(t, store.Delete("b.md"))
	require.NoError(t, svc.Remove(context.Background(), "b.md"))
	anns, err = svc.Annotations(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Len(t, anns, 1)
}
