// Package identity assigns stable block IDs ("^token") to document lines so
// annotations can be referenced across re-scans.
package identity

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"strings"

	"github.com/starford/marginalia/internal/parser"
	"github.com/starford/marginalia/internal/storage"
)

// TokenLength is the number of base-36 characters in a generated block ID.
const TokenLength = 6

// Manager reads and allocates block IDs. It is the only component that
// writes to a document purely to create an identity.
type Manager struct {
	store    storage.Provider
	logger   *slog.Logger
	newToken func() string
}

// Option configures a Manager.
type Option func(*Manager)

// WithTokenSource replaces the random token generator.
func WithTokenSource(fn func() string) Option {
	return func(m *Manager) { m.newToken = fn }
}

// NewManager creates a Manager writing through store.
func NewManager(store storage.Provider, logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{store: store, logger: logger, newToken: RandomToken}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RandomToken returns a random base-36 token of TokenLength characters.
func RandomToken() string {
	const space = 36 * 36 * 36 * 36 * 36 * 36
	s := strconv.FormatUint(rand.Uint64N(space), 36)
	return strings.Repeat("0", TokenLength-len(s)) + s
}

// Ensure returns the block ID of line in document, appending " ^token" and
// persisting the document if the line has none. Calling it again on the same
// line returns the same token without writing.
func (m *Manager) Ensure(ctx context.Context, document string, line int) (string, error) {
	var token string
	wrote, err := storage.Update(ctx, m.store, document, 0, func(content []byte) ([]byte, bool, error) {
		text := string(content)
		existing := parser.Identities(text)
		allocated := false
		out, err := parser.ReplaceLine(text, line, func(l string) (string, error) {
			if id, ok := parser.TrailingIdentity(l); ok {
				token = id
				return l, nil
			}
			token = m.unique(existing)
			allocated = true
			return strings.TrimRight(l, " \t") + " ^" + token, nil
		})
		if err != nil {
			return nil, false, err
		}
		return []byte(out), allocated, nil
	})
	if err != nil {
		return "", fmt.Errorf("identity: ensure %s:%d: %w", document, line, err)
	}
	if wrote {
		m.logger.Debug("identity: allocated",
			slog.String("document", document),
			slog.Int("line", line),
			slog.String("identity", token))
	}
	return token, nil
}

func (m *Manager) unique(existing map[string]struct{}) string {
	for {
		t := m.newToken()
		if _, taken := existing[t]; !taken {
			return t
		}
	}
}
