package stitch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/marginalia/internal/cache"
	"github.com/starford/marginalia/internal/identity"
	"github.com/starford/marginalia/internal/models"
	"github.com/starford/marginalia/internal/parser"
	"github.com/starford/marginalia/internal/storage"
	"github.com/starford/marginalia/internal/testutil"
)

type fixture struct {
	store *testutil.CountingStore
	cache *cache.Cache
	eng   *Engine
}

func newFixture(t *testing.T, docs map[string]string, tokens ...string) *fixture {
	t.Helper()
	store := testutil.NewCountingStore(testutil.MemVault(t, docs))
	var opts []identity.Option
	if len(tokens) > 0 {
		opts = append(opts, identity.WithTokenSource(func() string {
			tok := tokens[0]
			tokens = tokens[1:]
			return tok
		}))
	}
	ids := identity.NewManager(store, testutil.Logger(), opts...)
	c := cache.New(store, testutil.Logger(), cache.WithParserOptions(parser.Options{
		ColorRules:       []models.ColorRule{{Prefix: "?", Color: "#ff9900"}},
		DefaultColor:     parser.DefaultColor,
		ImagePlaceholder: parser.DefaultImagePlaceholder,
	}))
	return &fixture{store: store, cache: c, eng: NewEngine(store, ids, c, testutil.Logger())}
}

func (f *fixture) scan(t *testing.T, doc string) []models.Annotation {
	t.Helper()
	anns, err := f.cache.Scan(context.Background(), doc)
	require.NoError(t, err)
	return anns
}

func (f *fixture) text(t *testing.T, doc string) string {
	t.Helper()
	data, err := f.store.Read(doc)
	require.NoError(t, err)
	return string(data)
}

func TestNeedsConfirmation(t *testing.T) {
	assert.False(t, NeedsConfirmation(1, 1))
	assert.True(t, NeedsConfirmation(1, 3))
	assert.True(t, NeedsConfirmation(2, 2))
	assert.False(t, NeedsConfirmation(0, 5))
}

func TestStitch_NoSelfLink(t *testing.T) {
	f := newFixture(t, map[string]string{"x.md": "%%> lonely %%"})
	x := f.scan(t, "x.md")

	report := f.eng.Stitch(context.Background(), x, x)
	assert.Zero(t, report.Linked)
	assert.Zero(t, report.Failed)
	assert.Equal(t, "%%> lonely %%", f.text(t, "x.md"))
	assert.Zero(t, f.store.Writes("x.md"))
}

func TestStitch_OneSourceManyTargets(t *testing.T) {
	f := newFixture(t, map[string]string{
		"src.md": "intro\n%%> ?What causes tides;; %%",
		"t.md":   "%%> moon %%\n%%> sun %% ^sun1",
	}, "moon01")
	src := f.scan(t, "src.md")
	targets := f.scan(t, "t.md")

	report := f.eng.Stitch(context.Background(), src, targets)
	assert.Equal(t, 2, report.Linked)
	assert.Zero(t, report.Failed)
	assert.NotEmpty(t, report.BatchID)
	assert.Equal(t, []string{"src.md", "t.md"}, report.Documents)

	assert.Equal(t, "%%> moon %% ^moon01\n%%> sun %% ^sun1", f.text(t, "t.md"))
	assert.Equal(t, "intro\n%%> ?What causes tides [[t#^moon01]] [[t#^sun1]];; %%", f.text(t, "src.md"))

	rescanned := f.scan(t, "src.md")
	require.Len(t, rescanned, 1)
	assert.True(t, rescanned[0].IsFlashcard)
	assert.Equal(t, "#ff9900", rescanned[0].Color)
	assert.Equal(t, "What causes tides", rescanned[0].CleanText)
	assert.Equal(t, []string{"t#^moon01", "t#^sun1"}, rescanned[0].OutgoingLinks)
}

func TestStitch_SiblingOnLineHoldingRefStillLinks(t *testing.T) {
	f := newFixture(t, map[string]string{
		"a.md": "%%> first [[b#^tgt]] %% %%> second %%",
		"b.md": "%%> target %% ^tgt",
	})
	anns := f.scan(t, "a.md")
	require.Len(t, anns, 2)

	report := f.eng.Stitch(context.Background(), anns[1:], f.scan(t, "b.md"))
	assert.Equal(t, 1, report.Linked)
	assert.Zero(t, report.Skipped)
	assert.Equal(t, "%%> first [[b#^tgt]] %% %%> second [[b#^tgt]] %%", f.text(t, "a.md"))

	again := f.scan(t, "a.md")
	require.Len(t, again, 2)
	assert.Equal(t, []string{"b#^tgt"}, again[1].OutgoingLinks)

	repeat := f.eng.Stitch(context.Background(), again[1:], f.scan(t, "b.md"))
	assert.Zero(t, repeat.Linked)
	assert.Equal(t, 1, repeat.Skipped)
}

func TestStitch_IsIdempotent(t *testing.T) {
	f := newFixture(t, map[string]string{
		"a.md": "%%> a %%",
		"b.md": "%%> b %% ^bb",
	})
	ctx := context.Background()

	first := f.eng.Stitch(ctx, f.scan(t, "a.md"), f.scan(t, "b.md"))
	require.Equal(t, 1, first.Linked)

	second := f.eng.Stitch(ctx, f.scan(t, "a.md"), f.scan(t, "b.md"))
	assert.Zero(t, second.Linked)
	assert.Equal(t, 1, second.Skipped)
	assert.Equal(t, "%%> a [[b#^bb]] %%", f.text(t, "a.md"))
	assert.Equal(t, 1, f.store.Writes("a.md"))
}

func TestStitch_PartialFailureIsReported(t *testing.T) {
	f := newFixture(t, map[string]string{
		"a.md": "%%> a %%",
		"b.md": "%%> b %%",
		"t.md": "%%> t %% ^tt",
	})
	f.store.FailWrites["b.md"] = true
	sources := append(f.scan(t, "a.md"), f.scan(t, "b.md")...)

	report := f.eng.Stitch(context.Background(), sources, f.scan(t, "t.md"))
	assert.Equal(t, 1, report.Linked)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, models.LineKey("b.md", 0), report.Failures[0].Source)
	assert.Equal(t, "%%> a [[t#^tt]] %%", f.text(t, "a.md"))
	assert.Equal(t, "%%> b %%", f.text(t, "b.md"))
}

func TestStitch_ManyToManySameDocument(t *testing.T) {
	f := newFixture(t, map[string]string{
		"n.md": "%%> one %% ^o1\n%%> two %% ^o2\n%%> three %% ^o3",
	})
	anns := f.scan(t, "n.md")

	report := f.eng.Stitch(context.Background(), anns[:2], anns[1:])
	// one→two, one→three, two→three; two→two is a self-link.
	assert.Equal(t, 3, report.Linked)
	assert.Equal(t, 1, f.store.Writes("n.md"))
	assert.Equal(t,
		"%%> one [[n#^o2]] [[n#^o3]] %% ^o1\n%%> two [[n#^o3]] %% ^o2\n%%> three %% ^o3",
		f.text(t, "n.md"))
}

func TestStitch_SourceEditedAway(t *testing.T) {
	f := newFixture(t, map[string]string{
		"a.md": "%%> original %%",
		"t.md": "%%> t %% ^tt",
	})
	src := f.scan(t, "a.md")
	require.NoError(t, f.store.Write("a.md", []byte("%%> rewritten %%")))

	report := f.eng.Stitch(context.Background(), src, f.scan(t, "t.md"))
	assert.Zero(t, report.Linked)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, "%%> rewritten %%", f.text(t, "a.md"))
}

func TestLinkTarget(t *testing.T) {
	assert.Equal(t, "[[notes/D2#^ab12cd]]", LinkTarget("notes/D2.md", "ab12cd"))
	name := storage.LinkName("notes/D2.md")
	assert.Equal(t, "D2", name)
}
