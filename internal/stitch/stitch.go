// Package stitch writes wiki-link references from source annotations to
// target annotations, allocating target block IDs as needed.
package stitch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/starford/marginalia/internal/apperr"
	"github.com/starford/marginalia/internal/metrics"
	"github.com/starford/marginalia/internal/models"
	"github.com/starford/marginalia/internal/parser"
	"github.com/starford/marginalia/internal/storage"
)

// IdentityEnsurer allocates or reads the block ID of a document line.
type IdentityEnsurer interface {
	Ensure(ctx context.Context, document string, line int) (string, error)
}

// Rescanner re-indexes a document after it has been written.
type Rescanner interface {
	Scan(ctx context.Context, document string) ([]models.Annotation, error)
}

// NeedsConfirmation reports whether a batch of this shape is a bulk mutation
// the caller must confirm before running.
func NeedsConfirmation(sources, targets int) bool {
	return sources*targets > 1
}

// Failure describes one source (and optionally one target) that could not be linked.
type Failure struct {
	Source string `json:"source"`
	Target string `json:"target,omitempty"`
	Error  string `json:"error"`
}

// Report summarises a stitch batch. Links already present count as Skipped;
// self-links are never attempted and never counted.
type Report struct {
	BatchID   string    `json:"batch_id"`
	Linked    int       `json:"linked"`
	Failed    int       `json:"failed"`
	Skipped   int       `json:"skipped"`
	Documents []string  `json:"documents"`
	Failures  []Failure `json:"failures,omitempty"`
}

// Engine performs stitch batches one at a time. Writes are not transactional:
// a failure in one document leaves earlier writes in place.
type Engine struct {
	store    storage.Provider
	ids      IdentityEnsurer
	rescan   Rescanner
	logger   *slog.Logger
	attempts int

	mu sync.Mutex
}

// NewEngine creates a stitch engine. rescan may be nil.
func NewEngine(store storage.Provider, ids IdentityEnsurer, rescan Rescanner, logger *slog.Logger) *Engine {
	return &Engine{
		store:    store,
		ids:      ids,
		rescan:   rescan,
		logger:   logger,
		attempts: storage.DefaultUpdateAttempts,
	}
}

// LinkTarget formats the reference text pointing at a document's block.
func LinkTarget(document, identity string) string {
	return "[[" + strings.TrimSuffix(document, ".md") + "#^" + identity + "]]"
}

type resolvedTarget struct {
	ann models.Annotation
	ref string
}

// sourceResult is the per-source outcome of one document edit attempt.
type sourceResult struct {
	linked, skipped int
	err             error
}

// Stitch links every source to every target except itself.
func (e *Engine) Stitch(ctx context.Context, sources, targets []models.Annotation) Report {
	e.mu.Lock()
	defer e.mu.Unlock()

	report := Report{BatchID: uuid.NewString()}
	touched := make(map[string]struct{})
	log := e.logger.With(slog.String("batch", report.BatchID))

	var resolved []resolvedTarget
	seenTarget := make(map[string]struct{})
	for _, t := range targets {
		if _, dup := seenTarget[t.Key()]; dup {
			continue
		}
		seenTarget[t.Key()] = struct{}{}
		if !linksAny(sources, t) {
			continue
		}

		id := t.Identity
		if id == "" {
			var err error
			id, err = e.ids.Ensure(ctx, t.Document, t.Line)
			if err != nil {
				log.Warn("stitch: ensure identity failed",
					slog.String("target", t.Key()), slog.String("error", err.Error()))
				for _, s := range sources {
					if !s.SameLine(t) {
						report.Failed++
						report.Failures = append(report.Failures, Failure{Source: s.Key(), Target: t.Key(), Error: err.Error()})
					}
				}
				continue
			}
			touched[t.Document] = struct{}{}
			t.Identity = id
		}
		resolved = append(resolved, resolvedTarget{ann: t, ref: LinkTarget(t.Document, id)})
	}

	byDoc := make(map[string][]models.Annotation)
	var docs []string
	for _, s := range sources {
		if _, ok := byDoc[s.Document]; !ok {
			docs = append(docs, s.Document)
		}
		byDoc[s.Document] = append(byDoc[s.Document], s)
	}

	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			for _, s := range byDoc[doc] {
				n := len(refsFor(s, resolved))
				report.Failed += n
				report.Failures = append(report.Failures, Failure{Source: s.Key(), Error: err.Error()})
			}
			continue
		}
		results, err := e.stitchDocument(ctx, doc, byDoc[doc], resolved)
		for i, s := range byDoc[doc] {
			want := len(refsFor(s, resolved))
			if want == 0 {
				continue
			}
			r := results[i]
			switch {
			case err != nil:
				report.Failed += want
				report.Failures = append(report.Failures, Failure{Source: s.Key(), Error: err.Error()})
			case r.err != nil:
				report.Failed += want
				report.Failures = append(report.Failures, Failure{Source: s.Key(), Error: r.err.Error()})
			default:
				report.Linked += r.linked
				report.Skipped += r.skipped
				if r.linked > 0 {
					touched[doc] = struct{}{}
				}
			}
		}
		if err != nil {
			log.Warn("stitch: write failed", slog.String("document", doc), slog.String("error", err.Error()))
		}
	}

	for doc := range touched {
		report.Documents = append(report.Documents, doc)
	}
	sort.Strings(report.Documents)
	if e.rescan != nil {
		for _, doc := range report.Documents {
			if _, err := e.rescan.Scan(ctx, doc); err != nil {
				log.Warn("stitch: rescan failed", slog.String("document", doc), slog.String("error", err.Error()))
			}
		}
	}

	metrics.StitchLinks.WithLabelValues("linked").Add(float64(report.Linked))
	metrics.StitchLinks.WithLabelValues("failed").Add(float64(report.Failed))
	metrics.StitchLinks.WithLabelValues("skipped").Add(float64(report.Skipped))
	log.Info("stitch: done",
		slog.Int("linked", report.Linked),
		slog.Int("failed", report.Failed),
		slog.Int("skipped", report.Skipped))
	return report
}

func linksAny(sources []models.Annotation, t models.Annotation) bool {
	for _, s := range sources {
		if !s.SameLine(t) {
			return true
		}
	}
	return false
}

func refsFor(s models.Annotation, targets []resolvedTarget) []string {
	var refs []string
	for _, t := range targets {
		if !s.SameLine(t.ann) {
			refs = append(refs, t.ref)
		}
	}
	return refs
}

// stitchDocument splices the references of every source in one document and
// writes it once. results is indexed like sources.
func (e *Engine) stitchDocument(ctx context.Context, doc string, sources []models.Annotation, targets []resolvedTarget) ([]sourceResult, error) {
	results := make([]sourceResult, len(sources))

	// Splice right-to-left so earlier offsets on a shared line stay valid.
	order := make([]int, len(sources))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		sa, sb := sources[order[a]], sources[order[b]]
		if sa.Line != sb.Line {
			return sa.Line > sb.Line
		}
		return sa.Offset > sb.Offset
	})

	_, err := storage.Update(ctx, e.store, doc, e.attempts, func(content []byte) ([]byte, bool, error) {
		text := string(content)
		changed := false
		for i := range results {
			results[i] = sourceResult{}
		}
		for _, i := range order {
			s := sources[i]
			refs := refsFor(s, targets)
			if len(refs) == 0 {
				continue
			}
			var res sourceResult
			out, err := parser.ReplaceLine(text, s.Line, func(line string) (string, error) {
				pos := locate(line, s)
				if pos < 0 {
					return "", fmt.Errorf("%q on line %d: %w", s.RawText, s.Line, apperr.ErrAnnotationNotOnLine)
				}
				own := ownSpan(line, pos, s)
				var add []string
				for _, ref := range refs {
					if strings.Contains(own, ref) {
						res.skipped++
						continue
					}
					add = append(add, ref)
				}
				if len(add) == 0 {
					return line, nil
				}
				res.linked = len(add)
				return line[:pos] + " " + strings.Join(add, " ") + line[pos:], nil
			})
			if err != nil {
				if !errors.Is(err, apperr.ErrAnnotationNotOnLine) && !errors.Is(err, apperr.ErrLineOutOfRange) {
					return nil, false, err
				}
				results[i] = sourceResult{err: err}
				continue
			}
			results[i] = res
			if res.linked > 0 {
				text = out
				changed = true
			}
		}
		return []byte(text), changed, nil
	})
	return results, err
}

// ownSpan is the part of line belonging to s: from its text up to the
// closing delimiter. Siblings on the same line are outside it.
func ownSpan(line string, pos int, s models.Annotation) string {
	start := pos - len(s.RawText)
	end := len(line)
	if i := strings.Index(line[pos:], "%%"); i >= 0 {
		end = pos + i
	}
	return line[start:end]
}

// locate returns the index just past s.RawText on line, searching from the
// annotation's recorded offset first.
func locate(line string, s models.Annotation) int {
	if s.RawText == "" {
		return -1
	}
	if s.Offset >= 0 && s.Offset <= len(line) {
		if i := strings.Index(line[s.Offset:], s.RawText); i >= 0 {
			return s.Offset + i + len(s.RawText)
		}
	}
	if i := strings.Index(line, s.RawText); i >= 0 {
		return i + len(s.RawText)
	}
	return -1
}
