package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/starford/marginalia/internal/models"
)

// SearchResult represents one annotation search hit.
type SearchResult struct {
	Document string `json:"document"`
	Line     int    `json:"line"`
	Key      string `json:"key"`
	Identity string `json:"identity,omitempty"`
	Color    string `json:"color"`
	Snippet  string `json:"snippet"`
}

// SaveEntry replaces the cached parse of one document together with its
// searchable annotation rows, within a transaction.
func (db *DB) SaveEntry(ctx context.Context, document string, e models.CacheEntry) error {
	payload, err := json.Marshal(e.Annotations)
	if err != nil {
		return fmt.Errorf("index: encode annotations: %w", err)
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (path, stamp, created_at, annotations)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			stamp       = excluded.stamp,
			created_at  = excluded.created_at,
			annotations = excluded.annotations
	`, document, e.Stamp, millis(e.Created), string(payload))
	if err != nil {
		return fmt.Errorf("index: upsert document: %w", err)
	}

	if err := deleteRows(ctx, tx, document); err != nil {
		return err
	}
	if len(e.Annotations) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO annotations (document, line, key, identity, color, clean_text, is_flashcard)
			VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("index: prepare annotation insert: %w", err)
		}
		defer stmt.Close()
		for _, a := range e.Annotations {
			if _, err := stmt.ExecContext(ctx, document, a.Line, a.Key(), a.Identity, a.Color, a.CleanText, a.IsFlashcard); err != nil {
				return fmt.Errorf("index: insert annotation: %w", err)
			}
			if err := ftsInsert(tx, a); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

// DeleteEntry removes a document's cached parse and annotation rows.
func (db *DB) DeleteEntry(ctx context.Context, document string) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := deleteRows(ctx, tx, document); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE path = ?`, document); err != nil {
		return fmt.Errorf("index: delete document: %w", err)
	}
	return tx.Commit()
}

func deleteRows(ctx context.Context, tx *sql.Tx, document string) error {
	ftsDelete(tx, document)
	if _, err := tx.ExecContext(ctx, `DELETE FROM annotations WHERE document = ?`, document); err != nil {
		return fmt.Errorf("index: delete annotations: %w", err)
	}
	return nil
}

// LoadEntries returns every persisted cache entry keyed by document path.
func (db *DB) LoadEntries(ctx context.Context) (map[string]models.CacheEntry, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT path, stamp, created_at, annotations FROM documents`)
	if err != nil {
		return nil, fmt.Errorf("index: load entries: %w", err)
	}
	defer rows.Close()

	out := make(map[string]models.CacheEntry)
	for rows.Next() {
		var (
			path, payload string
			e             models.CacheEntry
			created       int64
		)
		if err := rows.Scan(&path, &e.Stamp, &created, &payload); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(payload), &e.Annotations); err != nil {
			return nil, fmt.Errorf("index: decode annotations of %s: %w", path, err)
		}
		e.Created = fromMillis(created)
		out[path] = e
	}
	return out, rows.Err()
}

// AllPaths returns every indexed document path.
func (db *DB) AllPaths() (map[string]struct{}, error) {
	rows, err := db.conn.Query(`SELECT path FROM documents`)
	if err != nil {
		return nil, fmt.Errorf("index: all paths: %w", err)
	}
	defer rows.Close()
	out := make(map[string]struct{})
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out[p] = struct{}{}
	}
	return out, rows.Err()
}
