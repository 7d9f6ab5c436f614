package storage

import (
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hack-pad/hackpadfs"
	"github.com/hack-pad/hackpadfs/mem"

	"github.com/starford/marginalia/internal/models"
)

// Mem implements Provider on an in-memory hackpadfs file system. Stamps come
// from a counter bumped on every write, so two writes in the same clock tick
// still produce distinct stamps.
type Mem struct {
	fs *mem.FS

	mu      sync.Mutex
	clock   int64
	stamps  map[string]int64
	created map[string]time.Time
	now     func() time.Time
}

// NewMem creates an empty in-memory vault.
func NewMem() (*Mem, error) {
	fsys, err := mem.NewFS()
	if err != nil {
		return nil, fmt.Errorf("storage: mem fs: %w", err)
	}
	return &Mem{
		fs:      fsys,
		stamps:  make(map[string]int64),
		created: make(map[string]time.Time),
		now:     time.Now,
	}, nil
}

// SetCreated overrides the creation time reported for path.
func (m *Mem) SetCreated(p string, t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created[p] = t
}

func cleanMemPath(rel string) (string, error) {
	if rel == "" || rel == "." {
		return ".", nil
	}
	if strings.HasPrefix(rel, "/") {
		return "", fmt.Errorf("storage: absolute paths not allowed: %s", rel)
	}
	cleaned := path.Clean(strings.ReplaceAll(rel, "\\", "/"))
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("storage: path escapes vault root: %s", rel)
	}
	return cleaned, nil
}

func (m *Mem) metaLocked(p string, info fs.FileInfo) models.DocumentMeta {
	created, ok := m.created[p]
	if !ok {
		created = info.ModTime()
	}
	return models.DocumentMeta{
		Path:      p,
		Stamp:     m.stamps[p],
		CreatedAt: created,
		UpdatedAt: info.ModTime(),
	}
}

// List returns metadata for every .md file under dir, sorted by path.
func (m *Mem) List(dir string) ([]models.DocumentMeta, error) {
	base, err := cleanMemPath(dir)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.DocumentMeta
	var walk func(d string) error
	walk = func(d string) error {
		entries, err := hackpadfs.ReadDir(m.fs, d)
		if err != nil {
			return err
		}
		for _, e := range entries {
			p := e.Name()
			if d != "." {
				p = d + "/" + e.Name()
			}
			if e.IsDir() {
				if err := walk(p); err != nil {
					return err
				}
				continue
			}
			if !IsDocument(p) {
				continue
			}
			info, err := e.Info()
			if err != nil {
				return err
			}
			out = append(out, m.metaLocked(p, info))
		}
		return nil
	}
	if err := walk(base); err != nil {
		return nil, fmt.Errorf("storage: list: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// Stat returns the metadata of a single document.
func (m *Mem) Stat(p string) (models.DocumentMeta, error) {
	name, err := cleanMemPath(p)
	if err != nil {
		return models.DocumentMeta{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	info, err := hackpadfs.Stat(m.fs, name)
	if err != nil {
		return models.DocumentMeta{}, fmt.Errorf("storage: stat %s: %w", p, err)
	}
	return m.metaLocked(name, info), nil
}

// Read returns the raw bytes of a file.
func (m *Mem) Read(p string) ([]byte, error) {
	name, err := cleanMemPath(p)
	if err != nil {
		return nil, err
	}
	data, err := hackpadfs.ReadFile(m.fs, name)
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", p, err)
	}
	return data, nil
}

// Write replaces the content at p, creating parent directories as needed.
func (m *Mem) Write(p string, content []byte) error {
	name, err := cleanMemPath(p)
	if err != nil {
		return err
	}
	if name == "." {
		return fmt.Errorf("storage: empty path")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if dir := path.Dir(name); dir != "." {
		if err := hackpadfs.MkdirAll(m.fs, dir, 0o755); err != nil {
			return fmt.Errorf("storage: mkdir: %w", err)
		}
	}
	if err := hackpadfs.WriteFullFile(m.fs, name, content, 0o644); err != nil {
		return fmt.Errorf("storage: write %s: %w", p, err)
	}
	m.clock++
	m.stamps[name] = m.clock
	if _, ok := m.created[name]; !ok {
		m.created[name] = m.now()
	}
	return nil
}

// Delete removes a file.
func (m *Mem) Delete(p string) error {
	name, err := cleanMemPath(p)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := hackpadfs.Remove(m.fs, name); err != nil {
		return fmt.Errorf("storage: delete %s: %w", p, err)
	}
	delete(m.stamps, name)
	delete(m.created, name)
	return nil
}
