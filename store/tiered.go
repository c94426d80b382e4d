package store

import "context"

// Compile-time interface check.
var _ Store = (*TieredStore)(nil)

// TieredStore wraps an in-memory store (fast path) with a persistent backend
// (durable path). Writes go to both stores (write-through); reads check memory
// first and fall back to the persistent store on a miss.
type TieredStore struct {
	memory     *MemoryStore
	persistent Store
}

// NewTieredStore creates a TieredStore backed by the given persistent store.
// An internal MemoryStore is created automatically.
func NewTieredStore(persistent Store) *TieredStore {
	return &TieredStore{
		memory:     NewMemoryStore(),
		persistent: persistent,
	}
}

// Save writes to the persistent backend first, then to memory.
func (t *TieredStore) Save(ctx context.Context, st State) error {
	if err := t.persistent.Save(ctx, st); err != nil {
		return err
	}
	return t.memory.Save(ctx, st)
}

// Load reads from memory first. On a miss it falls back to the persistent
// store and backfills memory.
func (t *TieredStore) Load(ctx context.Context, scope, resource string) (State, bool, error) {
	if st, ok, _ := t.memory.Load(ctx, scope, resource); ok {
		return st, true, nil
	}

	st, ok, err := t.persistent.Load(ctx, scope, resource)
	if err != nil || !ok {
		return State{}, false, err
	}
	_ = t.memory.Save(ctx, st)
	return st, true, nil
}

// List always reads the persistent store; memory may hold only a subset.
func (t *TieredStore) List(ctx context.Context, prefix string) ([]State, error) {
	return t.persistent.List(ctx, prefix)
}

// Reset removes the scope from both stores.
func (t *TieredStore) Reset(ctx context.Context, scope string) error {
	_ = t.memory.Reset(ctx, scope)
	return t.persistent.Reset(ctx, scope)
}

// Close closes the persistent backend. The in-memory store needs no cleanup.
func (t *TieredStore) Close() error {
	return t.persistent.Close()
}
