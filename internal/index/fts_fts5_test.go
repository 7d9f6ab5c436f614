//go:build sqlite_fts5

package index

import (
	"context"
	"testing"
)

func TestFTS5_TableExists(t *testing.T) {
	db := testDB(t)
	var count int
	if err := db.conn.QueryRow(`SELECT count(*) FROM annotations_fts`).Scan(&count); err != nil {
		t.Fatalf("annotations_fts table missing: %v", err)
	}
}

func TestFTS5_SearchWithSnippet(t *testing.T) {
	db := testDB(t)
	if err := db.SaveEntry(context.Background(), "fts.md", entry(1,
		ann("fts.md", 0, "Margins provide powerful recall cues", "f1"),
	)); err != nil {
		t.Fatalf("SaveEntry: %v", err)
	}

	results, err := db.Search("powerful", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Document != "fts.md" || results[0].Key != "f1" {
		t.Errorf("result = %+v", results[0])
	}
	if results[0].Snippet == "" {
		t.Error("expected non-empty snippet")
	}
}

func TestFTS5_DeleteRemovesFromFTS(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	_ = db.SaveEntry(ctx, "gone.md", entry(1, ann("gone.md", 0, "vanishing content", "")))
	_ = db.DeleteEntry(ctx, "gone.md")

	results, _ := db.Search("vanishing", 10)
	for _, r := range results {
		if r.Document == "gone.md" {
			t.Error("deleted annotation still in FTS index")
		}
	}
}

func TestFTS5_SaveReplacesContent(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	_ = db.SaveEntry(ctx, "evo.md", entry(1, ann("evo.md", 0, "original text", "")))
	_ = db.SaveEntry(ctx, "evo.md", entry(2, ann("evo.md", 0, "replacement text", "")))

	results, _ := db.Search("original", 10)
	if len(results) != 0 {
		t.Error("old FTS content should be gone")
	}
	results, _ = db.Search("replacement", 10)
	if len(results) != 1 {
		t.Errorf("FTS not updated: %+v", results)
	}
}
