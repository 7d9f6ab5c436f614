// Package review implements SM-2 style spaced repetition over annotation identities.
package review

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/starford/marginalia/internal/apperr"
	"github.com/starford/marginalia/internal/metrics"
	"github.com/starford/marginalia/internal/models"
)

// Grade is the user's recall rating.
type Grade string

const (
	Hard Grade = "hard"
	Good Grade = "good"
	Easy Grade = "easy"
)

// ParseGrade validates a grade name.
func ParseGrade(s string) (Grade, error) {
	switch g := Grade(strings.ToLower(strings.TrimSpace(s))); g {
	case Hard, Good, Easy:
		return g, nil
	}
	return "", fmt.Errorf("review: %q: %w", s, apperr.ErrInvalidGrade)
}

// Class is the derived due state shown on the heatmap.
type Class string

const (
	NeverReviewed Class = "never reviewed"
	Due           Class = "due"
	Fresh         Class = "fresh"
)

const (
	minEase         = 1.3
	hardEasePenalty = 0.2
	easyEaseBonus   = 0.15
	easyMultiplier  = 1.3
)

// Transition applies grade g to st at now.
func Transition(st models.ReviewState, g Grade, now time.Time) models.ReviewState {
	next := st
	switch g {
	case Hard:
		next.Interval = math.Max(1, st.Interval*0.5)
		next.Ease = math.Max(minEase, st.Ease-hardEasePenalty)
	case Good:
		if st.Interval == 0 {
			next.Interval = 1
		} else {
			next.Interval = st.Interval * st.Ease
		}
	case Easy:
		if st.Interval == 0 {
			next.Interval = 4
		} else {
			next.Interval = st.Interval * st.Ease * easyMultiplier
		}
		next.Ease = st.Ease + easyEaseBonus
	}
	next.LastReviewed = now
	return next
}

// NextDue returns when st becomes due. A never-reviewed state is due immediately.
func NextDue(st models.ReviewState) time.Time {
	if st.LastReviewed.IsZero() {
		return time.Time{}
	}
	return st.LastReviewed.Add(time.Duration(st.Interval * float64(24*time.Hour)))
}

// IsDue reports whether st is new or its interval has elapsed at now.
func IsDue(st models.ReviewState, now time.Time) bool {
	return st.LastReviewed.IsZero() || !now.Before(NextDue(st))
}

// Classify derives the heatmap class of st at now.
func Classify(st models.ReviewState, now time.Time) Class {
	switch {
	case st.LastReviewed.IsZero():
		return NeverReviewed
	case IsDue(st, now):
		return Due
	default:
		return Fresh
	}
}

// Scheduler grades identities and answers due queries against a Store.
type Scheduler struct {
	store  Store
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// NewScheduler creates a scheduler over store.
func NewScheduler(store Store, logger *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{store: store, now: time.Now, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the stored state of id, or the default state.
func (s *Scheduler) State(ctx context.Context, id string) (models.ReviewState, error) {
	st, ok, err := s.store.Get(ctx, id)
	if err != nil {
		return models.ReviewState{}, fmt.Errorf("review: get %s: %w", id, err)
	}
	if !ok {
		return models.NewReviewState(), nil
	}
	return st, nil
}

// Grade records g for id. Unknown identities start from the default state.
func (s *Scheduler) Grade(ctx context.Context, id string, g Grade) (models.ReviewState, error) {
	if _, err := ParseGrade(string(g)); err != nil {
		return models.ReviewState{}, err
	}
	st, err := s.State(ctx, id)
	if err != nil {
		return models.ReviewState{}, err
	}
	next := Transition(st, g, s.now())
	if err := s.store.Put(ctx, id, next); err != nil {
		return models.ReviewState{}, fmt.Errorf("review: put %s: %w", id, err)
	}
	metrics.Grades.WithLabelValues(string(g)).Inc()
	s.logger.Debug("review: graded",
		slog.String("identity", id),
		slog.String("grade", string(g)),
		slog.Float64("interval", next.Interval))
	return next, nil
}

// IsDue reports whether id is due now.
func (s *Scheduler) IsDue(ctx context.Context, id string) (bool, error) {
	st, err := s.State(ctx, id)
	if err != nil {
		return false, err
	}
	return IsDue(st, s.now()), nil
}

// Entry is one identity's state with its derived class.
type Entry struct {
	Identity string             `json:"identity"`
	State    models.ReviewState `json:"state"`
	Class    Class              `json:"class"`
	NextDue  time.Time          `json:"next_due"`
}

// Heatmap classifies every id in ids, in the given order.
func (s *Scheduler) Heatmap(ctx context.Context, ids []string) ([]Entry, error) {
	all, err := s.store.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("review: all: %w", err)
	}
	now := s.now()
	out := make([]Entry, 0, len(ids))
	for _, id := range ids {
		st, ok := all[id]
		if !ok {
			st = models.NewReviewState()
		}
		out = append(out, Entry{Identity: id, State: st, Class: Classify(st, now), NextDue: NextDue(st)})
	}
	return out, nil
}

// DueEntries returns the entries of ids that are due, most overdue first and
// never-reviewed last.
func (s *Scheduler) DueEntries(ctx context.Context, ids []string) ([]Entry, error) {
	all, err := s.Heatmap(ctx, ids)
	if err != nil {
		return nil, err
	}
	var due []Entry
	for _, e := range all {
		if e.Class != Fresh {
			due = append(due, e)
		}
	}
	sort.SliceStable(due, func(i, j int) bool {
		a, b := due[i], due[j]
		if (a.Class == NeverReviewed) != (b.Class == NeverReviewed) {
			return b.Class == NeverReviewed
		}
		return a.NextDue.Before(b.NextDue)
	})
	return due, nil
}

// Collect removes the states of identities absent from live and returns the
// removed identities.
func (s *Scheduler) Collect(ctx context.Context, live map[string]struct{}) ([]string, error) {
	all, err := s.store.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("review: all: %w", err)
	}
	var dead []string
	for id := range all {
		if _, ok := live[id]; !ok {
			dead = append(dead, id)
		}
	}
	if len(dead) == 0 {
		return nil, nil
	}
	sort.Strings(dead)
	if err := s.store.Delete(ctx, dead...); err != nil {
		return nil, fmt.Errorf("review: collect: %w", err)
	}
	s.logger.Info("review: collected", slog.Int("removed", len(dead)))
	return dead, nil
}
