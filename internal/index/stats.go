package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/starford/marginalia/internal/models"
)

// GetStats returns the capture counters, or the starting counters when none
// have been stored.
func (db *DB) GetStats(ctx context.Context) (models.Stats, error) {
	var s models.Stats
	err := db.conn.QueryRowContext(ctx,
		`SELECT marginalias_created, xp, level FROM stats WHERE id = 1`,
	).Scan(&s.MarginaliasCreated, &s.XP, &s.Level)
	if errors.Is(err, sql.ErrNoRows) {
		return models.NewStats(), nil
	}
	if err != nil {
		return models.Stats{}, fmt.Errorf("index: get stats: %w", err)
	}
	return s, nil
}

// PutStats stores the capture counters.
func (db *DB) PutStats(ctx context.Context, s models.Stats) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO stats (id, marginalias_created, xp, level) VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			marginalias_created = excluded.marginalias_created,
			xp                  = excluded.xp,
			level               = excluded.level
	`, s.MarginaliasCreated, s.XP, s.Level)
	if err != nil {
		return fmt.Errorf("index: put stats: %w", err)
	}
	return nil
}
