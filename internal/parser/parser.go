// Package parser decodes margin annotations (%%> ... %% and %%< ... %%)
// from the raw text of one document.
package parser

import (
	"regexp"
	"strings"

	"github.com/starford/marginalia/internal/models"
)

const (
	// FlashcardMarker closes the content of an annotation that is a flashcard.
	FlashcardMarker = ";;"

	DefaultColor            = "default"
	DefaultImagePlaceholder = "🖼️"
)

var (
	annotationRe = regexp.MustCompile(`%%([<>])(.*?)%%`)
	imageRe      = regexp.MustCompile(`(?i)(?:img:|!)\[\[([^\]]*)\]\]`)
	linkRe       = regexp.MustCompile(`\[\[([^\]]*)\]\]`)
	identityRe   = regexp.MustCompile(`(?:^|\s)\^([A-Za-z0-9]+)\s*$`)
	inlineCodeRe = regexp.MustCompile("`[^`\n]*`")
)

// Options controls colour tagging and image placeholders.
//
// ColorRules are applied in order and the first matching prefix wins. When
// one prefix is itself a prefix of another (for example "X" and "X-"), the
// rule listed first shadows the other, so list longer prefixes first if that
// is the intent.
type Options struct {
	ColorRules       []models.ColorRule
	DefaultColor     string
	ImagePlaceholder string
}

// DefaultOptions returns options with no colour rules.
func DefaultOptions() Options {
	return Options{DefaultColor: DefaultColor, ImagePlaceholder: DefaultImagePlaceholder}
}

// Parse extracts every annotation from text. It never fails: malformed
// syntax produces no annotation. Annotations inside frontmatter, fenced code,
// $$ math blocks and inline code spans are ignored.
func Parse(document, text string, opts Options) []models.Annotation {
	if opts.DefaultColor == "" {
		opts.DefaultColor = DefaultColor
	}
	if opts.ImagePlaceholder == "" {
		opts.ImagePlaceholder = DefaultImagePlaceholder
	}

	lines := SplitLines(text)
	var out []models.Annotation
	var fence string
	start := frontmatterEnd(lines)

	for i := start; i < len(lines); i++ {
		line := lines[i]
		trimmed := strings.TrimSpace(line)

		if fence != "" {
			if strings.HasPrefix(trimmed, fence) {
				fence = ""
			}
			continue
		}
		if open := fenceOpener(trimmed); open != "" {
			if open == "$$" && len(trimmed) > 2 && strings.HasSuffix(trimmed, "$$") {
				continue // single-line display math
			}
			fence = open
			continue
		}
		if !strings.Contains(line, "%%") {
			continue
		}

		identity, _ := TrailingIdentity(line)
		code := inlineCodeRe.FindAllStringIndex(line, -1)

		for _, m := range annotationRe.FindAllStringSubmatchIndex(line, -1) {
			if insideAny(m[0], code) {
				continue
			}
			a, ok := decode(line[m[2]:m[3]], line[m[4]:m[5]], m[4], opts)
			if !ok {
				continue
			}
			a.Document = document
			a.Line = i
			a.Identity = identity
			out = append(out, a)
		}
	}
	return out
}

// decode turns the content between the delimiters into an annotation.
// offset is the byte position of content within its line.
func decode(marker, content string, offset int, opts Options) (models.Annotation, bool) {
	raw := strings.TrimSpace(content)
	offset += strings.Index(content, raw)

	flashcard := false
	if strings.HasSuffix(raw, FlashcardMarker) {
		flashcard = true
		raw = strings.TrimSpace(strings.TrimSuffix(raw, FlashcardMarker))
	}
	if raw == "" {
		return models.Annotation{}, false
	}

	text := raw
	color := opts.DefaultColor
	for _, rule := range opts.ColorRules {
		if rule.Prefix != "" && strings.HasPrefix(text, rule.Prefix) {
			color = rule.Color
			text = strings.TrimSpace(text[len(rule.Prefix):])
			break
		}
	}

	var images []string
	for _, m := range imageRe.FindAllStringSubmatch(text, -1) {
		if name := strings.TrimSpace(m[1]); name != "" {
			images = append(images, name)
		}
	}
	text = imageRe.ReplaceAllString(text, " ")

	links := extractLinks(text)
	text = linkRe.ReplaceAllString(text, " ")

	clean := strings.Join(strings.Fields(text), " ")
	if clean == "" {
		if len(images) == 0 {
			return models.Annotation{}, false
		}
		clean = opts.ImagePlaceholder
	}

	dir := models.Outbound
	if marker == "<" {
		dir = models.Inbound
	}
	return models.Annotation{
		Offset:        offset,
		Direction:     dir,
		CleanText:     clean,
		RawText:       raw,
		Color:         color,
		OutgoingLinks: links,
		Images:        images,
		IsFlashcard:   flashcard,
	}, true
}

// extractLinks returns deduplicated wikilink targets in order, dropping aliases.
func extractLinks(text string) []string {
	matches := linkRe.FindAllStringSubmatch(text, -1)
	seen := make(map[string]struct{}, len(matches))
	var out []string
	for _, m := range matches {
		target := m[1]
		if i := strings.Index(target, "|"); i >= 0 {
			target = target[:i]
		}
		target = strings.TrimSpace(target)
		if target == "" {
			continue
		}
		if _, ok := seen[target]; ok {
			continue
		}
		seen[target] = struct{}{}
		out = append(out, target)
	}
	return out
}

// TrailingIdentity returns the ^block-id at the end of line, if any.
func TrailingIdentity(line string) (string, bool) {
	m := identityRe.FindStringSubmatch(strings.TrimRight(line, "\r"))
	if m == nil {
		return "", false
	}
	return m[1], true
}

// SplitLines splits text on \n and drops a trailing \r from each line.
func SplitLines(text string) []string {
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}

func fenceOpener(trimmed string) string {
	switch {
	case strings.HasPrefix(trimmed, "```"):
		return "```"
	case strings.HasPrefix(trimmed, "~~~"):
		return "~~~"
	case strings.HasPrefix(trimmed, "$$"):
		return "$$"
	}
	return ""
}

func insideAny(pos int, ranges [][]int) bool {
	for _, r := range ranges {
		if pos >= r[0] && pos < r[1] {
			return true
		}
	}
	return false
}
