package storage

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/starford/marginalia/internal/apperr"
	"github.com/starford/marginalia/internal/models"
)

// FS is the Provider over a vault directory on disk.
type FS struct {
	root string
}

// NewFS opens the vault at root, which must be an existing directory.
func NewFS(root string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	switch {
	case err != nil:
		return nil, fmt.Errorf("storage: open vault: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("storage: vault %s is not a directory", abs)
	}
	return &FS{root: abs}, nil
}

// Root returns the absolute vault directory.
func (f *FS) Root() string { return f.root }

// abs maps a slash-separated vault path to the file system. Absolute paths
// and paths climbing out of the vault are rejected.
func (f *FS) abs(rel string) (string, error) {
	if rel == "" || rel == "." {
		return f.root, nil
	}
	local := filepath.FromSlash(rel)
	if !filepath.IsLocal(local) {
		return "", fmt.Errorf("storage: %q is outside the vault: %w", rel, apperr.ErrInvalidInput)
	}
	return filepath.Join(f.root, local), nil
}

func documentMeta(rel string, info fs.FileInfo) models.DocumentMeta {
	mod := info.ModTime()
	return models.DocumentMeta{
		Path:      rel,
		Stamp:     mod.UnixNano(),
		CreatedAt: mod,
		UpdatedAt: mod,
	}
}

// List returns every Markdown document under dir in lexical order, skipping
// dot-directories such as .git and .obsidian.
func (f *FS) List(dir string) ([]models.DocumentMeta, error) {
	base, err := f.abs(dir)
	if err != nil {
		return nil, err
	}
	prefix := path.Clean(filepath.ToSlash(dir))
	if prefix == "." {
		prefix = ""
	}

	var docs []models.DocumentMeta
	walk := func(p string, d fs.DirEntry, err error) error {
		switch {
		case err != nil:
			return err
		case d.IsDir():
			if p != "." && d.Name()[0] == '.' {
				return fs.SkipDir
			}
			return nil
		case !IsDocument(p):
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		docs = append(docs, documentMeta(path.Join(prefix, p), info))
		return nil
	}
	if err := fs.WalkDir(os.DirFS(base), ".", walk); err != nil {
		return nil, fmt.Errorf("storage: list %q: %w", dir, err)
	}
	return docs, nil
}

// Stat reports the stamp of one document without reading it.
func (f *FS) Stat(p string) (models.DocumentMeta, error) {
	abs, err := f.abs(p)
	if err != nil {
		return models.DocumentMeta{}, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return models.DocumentMeta{}, fmt.Errorf("storage: stat %s: %w", p, err)
	}
	return documentMeta(path.Clean(p), info), nil
}

// Read returns the content of a vault file.
func (f *FS) Read(p string) ([]byte, error) {
	abs, err := f.abs(p)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", p, err)
	}
	return data, nil
}

// Write replaces p with content atomically and guarantees that its stamp
// moves, even when the file system clock is coarser than the write rate.
func (f *FS) Write(p string, content []byte) error {
	abs, err := f.abs(p)
	if err != nil {
		return err
	}
	var prev time.Time
	if info, err := os.Stat(abs); err == nil {
		prev = info.ModTime()
	}
	if err := writeAtomic(abs, content); err != nil {
		return fmt.Errorf("storage: write %s: %w", p, err)
	}
	if err := advanceModTime(abs, prev); err != nil {
		return fmt.Errorf("storage: write %s: %w", p, err)
	}
	return nil
}

// writeAtomic writes a sibling temp file, syncs it and renames it over abs.
func writeAtomic(abs string, content []byte) (err error) {
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".marginalia-tmp-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(content); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), abs)
}

func advanceModTime(abs string, prev time.Time) error {
	if prev.IsZero() {
		return nil
	}
	info, err := os.Stat(abs)
	if err != nil || info.ModTime().After(prev) {
		return nil
	}
	next := prev.Add(time.Millisecond)
	return os.Chtimes(abs, next, next)
}

// Delete removes a vault file.
func (f *FS) Delete(p string) error {
	abs, err := f.abs(p)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil {
		return fmt.Errorf("storage: delete %s: %w", p, err)
	}
	return nil
}
