//go:build sqlite_fts5

package index

import (
	"database/sql"
	"fmt"

	"github.com/starford/marginalia/internal/models"
)

func initFTS(conn *sql.DB) error {
	_, err := conn.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS annotations_fts USING fts5(
			document UNINDEXED,
			line UNINDEXED,
			key UNINDEXED,
			identity UNINDEXED,
			color UNINDEXED,
			clean_text,
			tokenize = 'unicode61 remove_diacritics 2'
		);
	`)
	return err
}

func ftsInsert(tx *sql.Tx, a models.Annotation) error {
	_, err := tx.Exec(`
		INSERT INTO annotations_fts (document, line, key, identity, color, clean_text)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.Document, a.Line, a.Key(), a.Identity, a.Color, a.CleanText)
	if err != nil {
		return fmt.Errorf("index: insert fts: %w", err)
	}
	return nil
}

func ftsDelete(tx *sql.Tx, document string) {
	_, _ = tx.Exec(`DELETE FROM annotations_fts WHERE document = ?`, document)
}

// Search performs an FTS5 full-text search and returns matching annotations with snippets.
func (db *DB) Search(query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.conn.Query(`
		SELECT document, line, key, identity, color,
		       snippet(annotations_fts, 5, '<b>', '</b>', '...', 32)
		FROM annotations_fts
		WHERE annotations_fts MATCH ?
		ORDER BY rank
		LIMIT ?
	`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("index: search: %w", err)
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.Document, &r.Line, &r.Key, &r.Identity, &r.Color, &r.Snippet); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
