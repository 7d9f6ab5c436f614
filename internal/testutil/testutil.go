// Package testutil provides shared test helpers for setting up vaults and databases.
package testutil

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/starford/marginalia/internal/index"
	"github.com/starford/marginalia/internal/models"
	"github.com/starford/marginalia/internal/storage"
)

// TestDB creates a temporary SQLite database that is automatically cleaned up.
func TestDB(t *testing.T) *index.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "marginalia-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := index.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestVault creates a temporary on-disk vault directory with a storage.Provider.
func TestVault(t *testing.T) (string, storage.Provider) {
	t.Helper()
	vaultDir := t.TempDir()
	store, err := storage.NewFS(vaultDir)
	if err != nil {
		t.Fatal(err)
	}
	return vaultDir, store
}

// MemVault creates an in-memory vault seeded with docs (path → content).
func MemVault(t *testing.T, docs map[string]string) *storage.Mem {
	t.Helper()
	m, err := storage.NewMem()
	if err != nil {
		t.Fatal(err)
	}
	for p, content := range docs {
		if err := m.Write(p, []byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	return m
}

// Logger returns a logger that discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ErrInjected is returned by CountingStore for injected failures.
var ErrInjected = errors.New("injected failure")

// CountingStore wraps a Provider, counting reads and writes per path and
// optionally failing writes.
type CountingStore struct {
	storage.Provider

	mu         sync.Mutex
	reads      map[string]int
	writes     map[string]int
	FailWrites map[string]bool
	FailReads  map[string]bool
	FailList   bool
}

// NewCountingStore wraps p.
func NewCountingStore(p storage.Provider) *CountingStore {
	return &CountingStore{
		Provider:   p,
		reads:      make(map[string]int),
		writes:     make(map[string]int),
		FailWrites: make(map[string]bool),
		FailReads:  make(map[string]bool),
	}
}

// List fails when FailList is set.
func (c *CountingStore) List(dir string) ([]models.DocumentMeta, error) {
	if c.FailList {
		return nil, ErrInjected
	}
	return c.Provider.List(dir)
}

// Read counts and delegates unless the path is marked to fail.
func (c *CountingStore) Read(path string) ([]byte, error) {
	c.mu.Lock()
	c.reads[path]++
	fail := c.FailReads[path]
	c.mu.Unlock()
	if fail {
		return nil, ErrInjected
	}
	return c.Provider.Read(path)
}

// Write counts and delegates unless the path is marked to fail.
func (c *CountingStore) Write(path string, content []byte) error {
	c.mu.Lock()
	fail := c.FailWrites[path]
	if !fail {
		c.writes[path]++
	}
	c.mu.Unlock()
	if fail {
		return ErrInjected
	}
	return c.Provider.Write(path, content)
}

// Reads returns the number of reads of path.
func (c *CountingStore) Reads(path string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reads[path]
}

// TotalReads returns the number of reads across all paths.
func (c *CountingStore) TotalReads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, v := range c.reads {
		n += v
	}
	return n
}

// Writes returns the number of successful writes of path.
func (c *CountingStore) Writes(path string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writes[path]
}
