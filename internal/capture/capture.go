// Package capture harvests new annotations into destination documents and
// keeps the user's capture stats.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/starford/marginalia/internal/apperr"
	"github.com/starford/marginalia/internal/metrics"
	"github.com/starford/marginalia/internal/models"
	"github.com/starford/marginalia/internal/storage"
)

// DefaultInbox is the destination used when none is given.
const DefaultInbox = "Marginalia Inbox"

// zkIDLayout is the Zettelkasten note ID prefix format.
const zkIDLayout = "20060102150405"

var zkPrefixRe = regexp.MustCompile(`^\d{12,14}\s*-\s*`)

// Config controls where captures land.
type Config struct {
	Inbox          string
	Folder         string
	Zettelkasten   bool
	ZKFolder       string
	AttachmentsDir string
}

// StatsStore persists capture counters.
type StatsStore interface {
	GetStats(ctx context.Context) (models.Stats, error)
	PutStats(ctx context.Context, s models.Stats) error
}

// Request is one capture. Context is free text placed before the annotation
// on the same line; Note becomes the annotation body.
type Request struct {
	Context     string `json:"context,omitempty"`
	Note        string `json:"note"`
	Destination string `json:"destination,omitempty"`
}

// ImageRequest captures an image as an annotation.
type ImageRequest struct {
	Context     string
	Filename    string
	Data        []byte
	Destination string
}

// Result reports where a capture was written.
type Result struct {
	Document  string       `json:"document"`
	Line      int          `json:"line"`
	Created   bool         `json:"created"`
	Image     string       `json:"image,omitempty"`
	Stats     models.Stats `json:"stats"`
	LeveledUp bool         `json:"leveled_up"`
}

// Service appends captured annotations to vault documents.
type Service struct {
	store  storage.Provider
	stats  StatsStore
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu sync.Mutex
}

// NewService creates a capture service. stats may be nil.
func NewService(store storage.Provider, stats StatsStore, cfg Config, logger *slog.Logger) *Service {
	if cfg.Inbox == "" {
		cfg.Inbox = DefaultInbox
	}
	if cfg.AttachmentsDir == "" {
		cfg.AttachmentsDir = "attachments"
	}
	return &Service{store: store, stats: stats, cfg: cfg, logger: logger, now: time.Now}
}

// Capture appends "<context>%%> <note>%%" to the destination document.
func (s *Service) Capture(ctx context.Context, req Request) (Result, error) {
	note := strings.Join(strings.Fields(req.Note), " ")
	if note == "" {
		return Result{}, fmt.Errorf("capture: empty note: %w", apperr.ErrInvalidInput)
	}
	return s.append(ctx, req.Context, note, req.Destination)
}

// CaptureImage stores the image under the attachments folder and appends an
// "img:[[name]]" annotation. Identical content already stored under the same
// name is reused.
func (s *Service) CaptureImage(ctx context.Context, req ImageRequest) (Result, error) {
	if len(req.Data) == 0 {
		return Result{}, fmt.Errorf("capture: empty image: %w", apperr.ErrInvalidInput)
	}
	if len(req.Data) > MaxImageSize {
		return Result{}, fmt.Errorf("capture: image exceeds %d bytes: %w", MaxImageSize, apperr.ErrInvalidInput)
	}
	name := req.Filename
	if name == "" {
		name = "doodle_" + s.now().Format("20060102_150405") + ".png"
	}
	name = sanitizeFilename(name)
	if err := validateImage(req.Data, strings.ToLower(filepath.Ext(name))); err != nil {
		return Result{}, err
	}

	target := path.Join(s.cfg.AttachmentsDir, name)
	s.mu.Lock()
	stored := false
	existing, err := s.store.Read(target)
	switch {
	case err == nil && !bytes.Equal(existing, req.Data):
		s.mu.Unlock()
		return Result{}, fmt.Errorf("capture: %s: %w", target, apperr.ErrAlreadyExists)
	case err == nil:
		s.logger.Debug("capture: image reused", slog.String("path", target))
	case errors.Is(err, fs.ErrNotExist):
		if err := s.store.Write(target, req.Data); err != nil {
			s.mu.Unlock()
			return Result{}, fmt.Errorf("capture: save image: %w", err)
		}
		stored = true
	default:
		s.mu.Unlock()
		return Result{}, fmt.Errorf("capture: read %s: %w", target, err)
	}
	s.mu.Unlock()

	res, err := s.append(ctx, req.Context, "img:[["+name+"]]", req.Destination)
	if err != nil {
		// An image nothing embeds is an orphan.
		if stored {
			if derr := s.store.Delete(target); derr != nil {
				s.logger.Warn("capture: remove orphan image",
					slog.String("path", target), slog.String("error", derr.Error()))
			}
		}
		return Result{}, err
	}
	res.Image = target
	return res, nil
}

// DestinationName applies the Zettelkasten naming rules to a requested name.
func (s *Service) DestinationName(requested string, now time.Time) string {
	name := strings.TrimSpace(zkPrefixRe.ReplaceAllString(strings.TrimSpace(requested), ""))
	name = strings.TrimSuffix(name, ".md")
	if name == "" {
		name = s.cfg.Inbox
	}
	if !s.cfg.Zettelkasten {
		return name
	}
	id := now.Format(zkIDLayout)
	if name == s.cfg.Inbox {
		return id
	}
	return id + " - " + name
}

func (s *Service) append(ctx context.Context, lead, body, destination string) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := s.DestinationName(destination, s.now())
	lead = strings.TrimSpace(lead)
	block := "\n" + lead + "%%> " + body + "%%\n\n---\n"

	metas, err := s.store.List("")
	if err != nil {
		return Result{}, fmt.Errorf("capture: list documents: %w", err)
	}
	docs := make([]string, len(metas))
	for i, m := range metas {
		docs[i] = m.Path
	}

	res := Result{}
	if doc, ok := storage.ResolveLink(docs, name, ""); ok {
		res.Document = doc
		_, err := storage.Update(ctx, s.store, doc, 0, func(content []byte) ([]byte, bool, error) {
			res.Line = strings.Count(string(content)+"\n"+lead, "\n")
			return append(content, block...), true, nil
		})
		if err != nil {
			return Result{}, fmt.Errorf("capture: append to %s: %w", doc, err)
		}
	} else {
		folder, header := s.cfg.Folder, "# 📥 "+name+"\n"
		if s.cfg.Zettelkasten {
			folder, header = s.cfg.ZKFolder, "# 🗃️ "+name+"\n"
		}
		doc := name + ".md"
		if folder = strings.Trim(strings.TrimSpace(folder), "/"); folder != "" {
			doc = folder + "/" + doc
		}
		content := header + block
		if err := s.store.Write(doc, []byte(content)); err != nil {
			return Result{}, fmt.Errorf("capture: create %s: %w", doc, err)
		}
		res.Document, res.Created = doc, true
		res.Line = strings.Count(header+"\n"+lead, "\n")
	}

	metrics.Captures.Inc()
	if s.stats != nil {
		stats, err := s.stats.GetStats(ctx)
		if err != nil {
			s.logger.Warn("capture: load stats failed", slog.String("error", err.Error()))
		} else {
			res.LeveledUp = stats.Award()
			if err := s.stats.PutStats(ctx, stats); err != nil {
				s.logger.Warn("capture: save stats failed", slog.String("error", err.Error()))
			}
			res.Stats = stats
		}
	}
	s.logger.Info("capture: stored",
		slog.String("document", res.Document),
		slog.Int("line", res.Line),
		slog.Bool("created", res.Created))
	return res, nil
}
