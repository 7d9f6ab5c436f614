package capture

import (
	"context"
	"errors"
	"io/fs"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/marginalia/internal/apperr"
	"github.com/starford/marginalia/internal/models"
	"github.com/starford/marginalia/internal/parser"
	"github.com/starford/marginalia/internal/storage"
	"github.com/starford/marginalia/internal/testutil"
)

type memStats struct{ s models.Stats }

func (m *memStats) GetStats(context.Context) (models.Stats, error) {
	if m.s.Level == 0 {
		return models.NewStats(), nil
	}
	return m.s, nil
}

func (m *memStats) PutStats(_ context.Context, s models.Stats) error {
	m.s = s
	return nil
}

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 32)...)

func newService(t *testing.T, cfg Config, docs map[string]string) (*Service, *storage.Mem, *memStats) {
	t.Helper()
	store := testutil.MemVault(t, docs)
	stats := &memStats{}
	s := NewService(store, stats, cfg, testutil.Logger())
	s.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.Local) }
	return s, store, stats
}

func read(t *testing.T, store storage.Provider, doc string) string {
	t.Helper()
	data, err := store.Read(doc)
	require.NoError(t, err)
	return string(data)
}

func TestCapture_CreatesInbox(t *testing.T) {
	s, store, _ := newService(t, Config{Folder: "Inbox"}, nil)

	res, err := s.Capture(context.Background(), Request{Note: "  remember\n this  "})
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, "Inbox/Marginalia Inbox.md", res.Document)
	assert.Equal(t, 2, res.Line)
	assert.Equal(t, "# 📥 Marginalia Inbox\n\n%%> remember this%%\n\n---\n", read(t, store, res.Document))
	assert.Equal(t, models.Stats{MarginaliasCreated: 1, XP: 10, Level: 1}, res.Stats)

	anns := parser.Parse(res.Document, read(t, store, res.Document), parser.DefaultOptions())
	require.Len(t, anns, 1)
	assert.Equal(t, res.Line, anns[0].Line)
}

func TestCapture_AppendsToResolvedDocument(t *testing.T) {
	s, store, _ := newService(t, Config{}, map[string]string{"notes/Ideas.md": "# Ideas"})

	res, err := s.Capture(context.Background(), Request{Context: "The quote", Note: "why?", Destination: "ideas"})
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.Equal(t, "notes/Ideas.md", res.Document)
	assert.Equal(t, 1, res.Line)
	assert.Equal(t, "# Ideas\nThe quote%%> why?%%\n\n---\n", read(t, store, "notes/Ideas.md"))
}

func TestCapture_Zettelkasten(t *testing.T) {
	s, store, _ := newService(t, Config{Zettelkasten: true, ZKFolder: "zk"}, nil)
	ctx := context.Background()

	res, err := s.Capture(ctx, Request{Note: "atomic", Destination: "202301010101 - Ideas"})
	require.NoError(t, err)
	assert.Equal(t, "zk/20240102030405 - Ideas.md", res.Document)
	assert.True(t, strings.HasPrefix(read(t, store, res.Document), "# 🗃️ 20240102030405 - Ideas\n"))

	assert.Equal(t, "20240102030405", s.DestinationName("", s.now()))
}

func TestCapture_LevelsUp(t *testing.T) {
	s, _, stats := newService(t, Config{}, nil)
	ctx := context.Background()

	var last Result
	for i := 0; i < 10; i++ {
		var err error
		last, err = s.Capture(ctx, Request{Note: "n"})
		require.NoError(t, err)
	}
	assert.True(t, last.LeveledUp)
	assert.Equal(t, models.Stats{MarginaliasCreated: 10, XP: 100, Level: 2}, stats.s)
}

func TestCapture_EmptyNote(t *testing.T) {
	s, _, _ := newService(t, Config{}, nil)
	_, err := s.Capture(context.Background(), Request{Note: "   "})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestCaptureImage(t *testing.T) {
	s, store, _ := newService(t, Config{AttachmentsDir: "assets"}, nil)
	ctx := context.Background()

	res, err := s.CaptureImage(ctx, ImageRequest{Context: "diagram", Filename: "my sketch.png", Data: pngBytes})
	require.NoError(t, err)
	assert.Equal(t, "assets/my_sketch.png", res.Image)
	assert.Equal(t, pngBytes, []byte(read(t, store, "assets/my_sketch.png")))

	anns := parser.Parse(res.Document, read(t, store, res.Document), parser.DefaultOptions())
	require.Len(t, anns, 1)
	assert.Equal(t, []string{"my_sketch.png"}, anns[0].Images)
	assert.Equal(t, parser.DefaultImagePlaceholder, anns[0].CleanText)

	_, err = s.CaptureImage(ctx, ImageRequest{Filename: "my sketch.png", Data: pngBytes})
	require.NoError(t, err, "identical content is reused")

	other := append([]byte("\x89PNG\r\n\x1a\n"), []byte("different")...)
	_, err = s.CaptureImage(ctx, ImageRequest{Filename: "my sketch.png", Data: other})
	assert.ErrorIs(t, err, apperr.ErrAlreadyExists)
}

type readOnlyDocs struct{ *storage.Mem }

func (r readOnlyDocs) Write(p string, content []byte) error {
	if storage.IsDocument(p) {
		return errors.New("read-only")
	}
	return r.Mem.Write(p, content)
}

func TestCaptureImage_RemovesOrphanOnFailedAppend(t *testing.T) {
	mem := testutil.MemVault(t, nil)
	s := NewService(readOnlyDocs{mem}, &memStats{}, Config{AttachmentsDir: "assets"}, testutil.Logger())

	_, err := s.CaptureImage(context.Background(), ImageRequest{Filename: "x.png", Data: pngBytes})
	require.Error(t, err)
	_, err = mem.Read("assets/x.png")
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestCaptureImage_RejectsMismatchedContent(t *testing.T) {
	s, _, _ := newService(t, Config{}, nil)
	_, err := s.CaptureImage(context.Background(), ImageRequest{Filename: "x.png", Data: []byte("not an image")})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, err = s.CaptureImage(context.Background(), ImageRequest{Filename: "x.exe", Data: pngBytes})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestDecodeDataURI(t *testing.T) {
	data, ext, err := decodeDataURI("data:image/png;base64,iVBORw0KGgo=")
	require.NoError(t, err)
	assert.Equal(t, ".png", ext)
	assert.Equal(t, []byte("\x89PNG\r\n\x1a\n"), data)

	_, _, err = decodeDataURI("data:text/plain,hello")
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "passwd", sanitizeFilename("../../etc/passwd"))
	assert.Equal(t, "a_b.png", sanitizeFilename("a b.png"))
}

func TestCheckBlockedHost(t *testing.T) {
	for _, host := range []string{"127.0.0.1", "::1", "169.254.169.254", "0.0.0.0", "metadata.google.internal"} {
		assert.ErrorIs(t, checkBlockedHost(host), apperr.ErrInvalidInput, host)
	}
	assert.NoError(t, checkBlockedHost("93.184.216.34"))
}

func TestFilenameFromURL(t *testing.T) {
	assert.Equal(t, "cat.jpg", FilenameFromURL("https://example.com/pics/cat.jpg?size=2", ".png"))
	assert.True(t, strings.HasSuffix(FilenameFromURL("https://example.com/", ".gif"), ".gif"))
	assert.True(t, strings.HasSuffix(FilenameFromURL("data:image/png;base64,AAAA", ""), ".png"))
}

func TestValidateImage(t *testing.T) {
	assert.NoError(t, validateImage(pngBytes, ".png"))
	assert.NoError(t, validateImage([]byte(`<?xml version="1.0"?><svg xmlns="http://www.w3.org/2000/svg"/>`), ".svg"))
	assert.NoError(t, validateImage([]byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00"), ".jpeg"))
	assert.ErrorIs(t, validateImage(pngBytes, ".jpg"), apperr.ErrInvalidInput)
	assert.ErrorIs(t, validateImage([]byte("<html>"), ".svg"), apperr.ErrInvalidInput)
}
