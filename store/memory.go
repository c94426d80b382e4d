package store

import (
	"context"
	"sort"
	"strings"
	"sync"
)

type key struct {
	scope, resource string
}

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-memory Store implementation.
// It is safe for concurrent use. State is lost on process restart.
type MemoryStore struct {
	mu     sync.Mutex
	states map[key]State
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states: make(map[key]State),
	}
}

// Save stores st under its scope and resource.
func (m *MemoryStore) Save(_ context.Context, st State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.states[key{st.Scope, st.Resource}] = st
	return nil
}

// Load returns the saved state for scope and resource.
func (m *MemoryStore) Load(_ context.Context, scope, resource string) (State, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.states[key{scope, resource}]
	return st, ok, nil
}

// List returns the states whose scope starts with prefix.
func (m *MemoryStore) List(_ context.Context, prefix string) ([]State, error) {
	m.mu.Lock()
	out := make([]State, 0, len(m.states))
	for k, st := range m.states {
		if strings.HasPrefix(k.scope, prefix) {
			out = append(out, st)
		}
	}
	m.mu.Unlock()

	sortStates(out)
	return out, nil
}

// Reset removes every state saved for scope.
func (m *MemoryStore) Reset(_ context.Context, scope string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for k := range m.states {
		if k.scope == scope {
			delete(m.states, k)
		}
	}
	return nil
}

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error {
	return nil
}

func sortStates(states []State) {
	sort.Slice(states, func(i, j int) bool {
		if states[i].Scope != states[j].Scope {
			return states[i].Scope < states[j].Scope
		}
		return states[i].Resource < states[j].Resource
	})
}
