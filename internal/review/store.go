package review

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/starford/marginalia/internal/models"
)

// Store persists review states keyed by identity.
type Store interface {
	Get(ctx context.Context, id string) (models.ReviewState, bool, error)
	Put(ctx context.Context, id string, st models.ReviewState) error
	All(ctx context.Context) (map[string]models.ReviewState, error)
	Delete(ctx context.Context, ids ...string) error
}

// MemStore is an in-memory Store with an explicit JSON load/save lifecycle.
type MemStore struct {
	mu     sync.RWMutex
	states map[string]models.ReviewState
}

var _ Store = (*MemStore)(nil)

// NewMemStore creates an empty store.
func NewMemStore() *MemStore {
	return &MemStore{states: make(map[string]models.ReviewState)}
}

func (m *MemStore) Get(_ context.Context, id string) (models.ReviewState, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.states[id]
	return st, ok, nil
}

func (m *MemStore) Put(_ context.Context, id string, st models.ReviewState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[id] = st
	return nil
}

func (m *MemStore) All(_ context.Context) (map[string]models.ReviewState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]models.ReviewState, len(m.states))
	for k, v := range m.states {
		out[k] = v
	}
	return out, nil
}

func (m *MemStore) Delete(_ context.Context, ids ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.states, id)
	}
	return nil
}

// Reset drops every state.
func (m *MemStore) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states = make(map[string]models.ReviewState)
}

// Load replaces the contents with a JSON object read from r.
func (m *MemStore) Load(r io.Reader) error {
	states := make(map[string]models.ReviewState)
	if err := json.NewDecoder(r).Decode(&states); err != nil {
		return fmt.Errorf("review: load: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states = states
	return nil
}

// Save writes the contents to w as a JSON object.
func (m *MemStore) Save(w io.Writer) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m.states); err != nil {
		return fmt.Errorf("review: save: %w", err)
	}
	return nil
}
