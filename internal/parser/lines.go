package parser

import (
	"fmt"
	"strings"

	"github.com/starford/marginalia/internal/apperr"
)

// ReplaceLine rewrites line idx of text with fn, preserving the line's
// "\r\n" ending when it has one.
func ReplaceLine(text string, idx int, fn func(line string) (string, error)) (string, error) {
	lines := strings.Split(text, "\n")
	if idx < 0 || idx >= len(lines) {
		return "", fmt.Errorf("parser: line %d of %d: %w", idx, len(lines), apperr.ErrLineOutOfRange)
	}
	line := lines[idx]
	cr := strings.HasSuffix(line, "\r")
	replaced, err := fn(strings.TrimSuffix(line, "\r"))
	if err != nil {
		return "", err
	}
	if cr {
		replaced += "\r"
	}
	lines[idx] = replaced
	return strings.Join(lines, "\n"), nil
}

// Identities returns every trailing block ID present in text.
func Identities(text string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, l := range SplitLines(text) {
		if id, ok := TrailingIdentity(l); ok {
			out[id] = struct{}{}
		}
	}
	return out
}
