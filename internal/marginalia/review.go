package marginalia

import (
	"context"

	"github.com/starford/marginalia/internal/models"
	"github.com/starford/marginalia/internal/review"
)

// Flashcard is a flashcard annotation with its review state.
type Flashcard struct {
	models.Annotation
	Review review.Entry `json:"review"`
}

// Grade records a review grade for identity id.
func (s *Service) Grade(ctx context.Context, id, grade string) (models.ReviewState, error) {
	g, err := review.ParseGrade(grade)
	if err != nil {
		return models.ReviewState{}, err
	}
	st, err := s.sched.Grade(ctx, id, g)
	if err != nil {
		return models.ReviewState{}, err
	}
	if s.notifier != nil {
		s.notifier.Emit("review.graded", map[string]any{"identity": id, "state": st})
	}
	return st, nil
}

// IsDue reports whether identity id is due for review.
func (s *Service) IsDue(ctx context.Context, id string) (bool, error) {
	return s.sched.IsDue(ctx, id)
}

// Flashcards lists every flashcard annotation that has an identity.
func (s *Service) Flashcards(ctx context.Context) ([]Flashcard, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	var cards []models.Annotation
	var ids []string
	for _, a := range snap.Annotations {
		if a.IsFlashcard && a.HasIdentity() {
			cards = append(cards, a)
			ids = append(ids, a.Identity)
		}
	}
	entries, err := s.sched.Heatmap(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]Flashcard, len(cards))
	for i, a := range cards {
		out[i] = Flashcard{Annotation: a, Review: entries[i]}
	}
	return out, nil
}

// Due lists the flashcards due for review, most overdue first.
func (s *Service) Due(ctx context.Context) ([]Flashcard, error) {
	cards, err := s.Flashcards(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]models.Annotation, len(cards))
	ids := make([]string, 0, len(cards))
	for _, c := range cards {
		if _, dup := byID[c.Identity]; dup {
			continue
		}
		byID[c.Identity] = c.Annotation
		ids = append(ids, c.Identity)
	}
	entries, err := s.sched.DueEntries(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]Flashcard, len(entries))
	for i, e := range entries {
		out[i] = Flashcard{Annotation: byID[e.Identity], Review: e}
	}
	return out, nil
}

// Heatmap classifies every identity in the current snapshot.
func (s *Service) Heatmap(ctx context.Context) ([]review.Entry, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return s.sched.Heatmap(ctx, sortedKeys(snap.Graph.Identities()))
}

// CollectReviews removes review states whose identity no longer exists.
func (s *Service) CollectReviews(ctx context.Context) ([]string, error) {
	snap, err := s.Refresh(ctx)
	if err != nil {
		return nil, err
	}
	return s.sched.Collect(ctx, snap.Graph.Identities())
}
