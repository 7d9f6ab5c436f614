package identity

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/marginalia/internal/apperr"
	"github.com/starford/marginalia/internal/testutil"
)

func TestEnsure_AllocatesOnceAndIsStable(t *testing.T) {
	store := testutil.NewCountingStore(testutil.MemVault(t, map[string]string{
		"D.md": "first\nsecond %%> note %%\nthird",
	}))
	m := NewManager(store, testutil.Logger())
	ctx := context.Background()

	id1, err := m.Ensure(ctx, "D.md", 1)
	require.NoError(t, err)
	assert.Len(t, id1, TokenLength)

	id2, err := m.Ensure(ctx, "D.md", 1)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
	assert.Equal(t, 1, store.Writes("D.md"), "second call must not write")

	data, err := store.Read("D.md")
	require.NoError(t, err)
	assert.Equal(t, "first\nsecond %%> note %% ^"+id1+"\nthird", string(data))
	assert.Equal(t, 1, strings.Count(string(data), "^"))
}

func TestEnsure_ReturnsExistingWithoutWrite(t *testing.T) {
	store := testutil.NewCountingStore(testutil.MemVault(t, map[string]string{
		"D.md": "%%> a %% ^keep42",
	}))
	m := NewManager(store, testutil.Logger())

	id, err := m.Ensure(context.Background(), "D.md", 0)
	require.NoError(t, err)
	assert.Equal(t, "keep42", id)
	assert.Zero(t, store.Writes("D.md"))
}

func TestEnsure_AvoidsCollisionsAndKeepsCRLF(t *testing.T) {
	store := testutil.MemVault(t, map[string]string{
		"D.md": "a ^aaaaaa\r\n%%> b %%  \r\n",
	})
	tokens := []string{"aaaaaa", "bbbbbb"}
	m := NewManager(store, testutil.Logger(), WithTokenSource(func() string {
		t := tokens[0]
		tokens = tokens[1:]
		return t
	}))

	id, err := m.Ensure(context.Background(), "D.md", 1)
	require.NoError(t, err)
	assert.Equal(t, "bbbbbb", id)

	data, _ := store.Read("D.md")
	assert.Equal(t, "a ^aaaaaa\r\n%%> b %% ^bbbbbb\r\n", string(data))
}

func TestEnsure_LineOutOfRange(t *testing.T) {
	store := testutil.MemVault(t, map[string]string{"D.md": "one line"})
	m := NewManager(store, testutil.Logger())

	_, err := m.Ensure(context.Background(), "D.md", 7)
	assert.ErrorIs(t, err, apperr.ErrLineOutOfRange)
}

func TestEnsure_MissingDocument(t *testing.T) {
	store := testutil.MemVault(t, nil)
	m := NewManager(store, testutil.Logger())

	_, err := m.Ensure(context.Background(), "nope.md", 0)
	assert.Error(t, err)
}

func TestRandomToken(t *testing.T) {
	for i := 0; i < 50; i++ {
		tok := RandomToken()
		assert.Len(t, tok, TokenLength)
		for _, r := range tok {
			assert.True(t, (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z'), "bad rune %q", r)
		}
	}
}
