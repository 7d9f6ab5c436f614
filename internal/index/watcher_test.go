package index

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// recorder is a Reindexer that records the calls it receives.
type recorder struct {
	mu         sync.Mutex
	reindexed  []string
	removed    []string
	reconciles int
}

func (r *recorder) Reindex(_ context.Context, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reindexed = append(r.reindexed, path)
	return nil
}

func (r *recorder) Remove(_ context.Context, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, path)
	return nil
}

func (r *recorder) Reconcile(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reconciles++
	return nil
}

func (r *recorder) has(list *[]string, path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range *list {
		if p == path {
			return true
		}
	}
	return false
}

// eventually polls fn every tick until it returns true or timeout elapses.
func eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}

func startWatch(t *testing.T, vaultDir string, r *recorder, cb EventCallback) {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go Watch(ctx, r, vaultDir, logger, cb)
	time.Sleep(100 * time.Millisecond)
}

func TestWatcher_NewFileReindexed(t *testing.T) {
	vaultDir := t.TempDir()
	r := &recorder{}

	var mu sync.Mutex
	var events []string
	startWatch(t, vaultDir, r, func(kind, path string) {
		mu.Lock()
		events = append(events, kind+":"+path)
		mu.Unlock()
	})

	_ = os.WriteFile(filepath.Join(vaultDir, "new.md"), []byte("%%> hi %%"), 0o644)
	_ = os.WriteFile(filepath.Join(vaultDir, "skip.txt"), []byte("x"), 0o644)

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return r.has(&r.reindexed, "new.md")
	}, "new file not reindexed by watcher")

	eventually(t, 2*time.Second, 50*time.Millisecond, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, e := range events {
			if e == "created:new.md" {
				return true
			}
		}
		return false
	}, "expected created:new.md callback")

	if r.has(&r.reindexed, "skip.txt") {
		t.Error("non-markdown file should be ignored")
	}
}

func TestWatcher_NewDirWatched(t *testing.T) {
	vaultDir := t.TempDir()
	r := &recorder{}
	startWatch(t, vaultDir, r, nil)

	subDir := filepath.Join(vaultDir, "subdir")
	_ = os.MkdirAll(subDir, 0o755)
	time.Sleep(200 * time.Millisecond)

	_ = os.WriteFile(filepath.Join(subDir, "deep.md"), []byte("%%> deep %%"), 0o644)

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return r.has(&r.reindexed, "subdir/deep.md")
	}, "file in new subdir not reindexed by watcher")
}

func TestWatcher_DeleteRemoves(t *testing.T) {
	vaultDir := t.TempDir()
	_ = os.WriteFile(filepath.Join(vaultDir, "del.md"), []byte("%%> bye %%"), 0o644)
	r := &recorder{}
	startWatch(t, vaultDir, r, nil)

	_ = os.Remove(filepath.Join(vaultDir, "del.md"))

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return r.has(&r.removed, "del.md")
	}, "deleted file not removed")
}

func TestWatcher_RenameReconciles(t *testing.T) {
	vaultDir := t.TempDir()
	_ = os.WriteFile(filepath.Join(vaultDir, "old.md"), []byte("%%> moving %%"), 0o644)
	r := &recorder{}
	startWatch(t, vaultDir, r, nil)

	_ = os.Rename(filepath.Join(vaultDir, "old.md"), filepath.Join(vaultDir, "renamed.md"))

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.reconciles > 0
	}, "rename should trigger a reconciliation pass")
	if !r.has(&r.removed, "old.md") {
		t.Error("old path should be removed on rename")
	}
}
