package storage

import (
	"errors"
	"io/fs"
	"testing"
	"time"
)

func TestMem_WriteReadStat(t *testing.T) {
	m, err := NewMem()
	if err != nil {
		t.Fatalf("NewMem: %v", err)
	}
	if err := m.Write("notes/a.md", []byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := m.Read("notes/a.md")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "hello" {
		t.Errorf("content = %q", got)
	}
	meta, err := m.Stat("notes/a.md")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if meta.Stamp != 1 {
		t.Errorf("stamp = %d, want 1", meta.Stamp)
	}
	_ = m.Write("notes/a.md", []byte("again"))
	meta2, _ := m.Stat("notes/a.md")
	if meta2.Stamp <= meta.Stamp {
		t.Errorf("stamp did not advance: %d -> %d", meta.Stamp, meta2.Stamp)
	}
}

func TestMem_ListSortedMarkdownOnly(t *testing.T) {
	m, _ := NewMem()
	_ = m.Write("z.md", []byte("z"))
	_ = m.Write("a/b.md", []byte("b"))
	_ = m.Write("a/pic.png", []byte("png"))

	items, err := m.List("")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 2 || items[0].Path != "a/b.md" || items[1].Path != "z.md" {
		t.Errorf("items = %+v", items)
	}
}

func TestMem_SetCreated(t *testing.T) {
	m, _ := NewMem()
	day := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	_ = m.Write("d.md", []byte("x"))
	m.SetCreated("d.md", day)
	meta, _ := m.Stat("d.md")
	if !meta.CreatedAt.Equal(day) {
		t.Errorf("created = %v, want %v", meta.CreatedAt, day)
	}
}

func TestMem_DeleteAndMissing(t *testing.T) {
	m, _ := NewMem()
	_ = m.Write("gone.md", []byte("x"))
	if err := m.Delete("gone.md"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := m.Read("gone.md"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("err = %v, want ErrNotExist", err)
	}
}

func TestMem_TraversalBlocked(t *testing.T) {
	m, _ := NewMem()
	for _, p := range []string{"../x.md", "/abs.md"} {
		if err := m.Write(p, []byte("x")); err == nil {
			t.Errorf("expected error for %q", p)
		}
	}
}
