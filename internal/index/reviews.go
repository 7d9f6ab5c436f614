package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/starford/marginalia/internal/models"
)

// ReviewStore persists spaced-repetition states in the review_states table.
type ReviewStore struct {
	conn *sql.DB
}

// Reviews returns the review-state store backed by db.
func (db *DB) Reviews() *ReviewStore {
	return &ReviewStore{conn: db.conn}
}

func (s *ReviewStore) Get(ctx context.Context, id string) (models.ReviewState, bool, error) {
	var (
		st   models.ReviewState
		last int64
	)
	err := s.conn.QueryRowContext(ctx,
		`SELECT last_reviewed, interval_days, ease FROM review_states WHERE identity = ?`, id,
	).Scan(&last, &st.Interval, &st.Ease)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ReviewState{}, false, nil
	}
	if err != nil {
		return models.ReviewState{}, false, fmt.Errorf("index: get review state: %w", err)
	}
	st.LastReviewed = fromMillis(last)
	return st, true, nil
}

func (s *ReviewStore) Put(ctx context.Context, id string, st models.ReviewState) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO review_states (identity, last_reviewed, interval_days, ease)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(identity) DO UPDATE SET
			last_reviewed = excluded.last_reviewed,
			interval_days = excluded.interval_days,
			ease          = excluded.ease
	`, id, millis(st.LastReviewed), st.Interval, st.Ease)
	if err != nil {
		return fmt.Errorf("index: put review state: %w", err)
	}
	return nil
}

func (s *ReviewStore) All(ctx context.Context) (map[string]models.ReviewState, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT identity, last_reviewed, interval_days, ease FROM review_states`)
	if err != nil {
		return nil, fmt.Errorf("index: all review states: %w", err)
	}
	defer rows.Close()
	out := make(map[string]models.ReviewState)
	for rows.Next() {
		var (
			id   string
			last int64
			st   models.ReviewState
		)
		if err := rows.Scan(&id, &last, &st.Interval, &st.Ease); err != nil {
			return nil, err
		}
		st.LastReviewed = fromMillis(last)
		out[id] = st
	}
	return out, rows.Err()
}

func (s *ReviewStore) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	q := `DELETE FROM review_states WHERE identity IN (?` + strings.Repeat(",?", len(ids)-1) + `)`
	if _, err := s.conn.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("index: delete review states: %w", err)
	}
	return nil
}
