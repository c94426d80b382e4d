package store

import (
	"context"
	"time"
)

// State is the persisted form of one registry entry.
type State struct {
	Scope     string
	Resource  string
	Rate      float64 // tokens per second
	Capacity  float64
	Tokens    float64
	Spent     float64
	Adaptive  bool
	UpdatedAt time.Time
}

// Store defines the interface for bucket state backends.
type Store interface {
	// Save writes st, replacing any earlier state for the same scope and
	// resource.
	Save(ctx context.Context, st State) error

	// Load returns the saved state for scope and resource. ok is false if
	// nothing was saved.
	Load(ctx context.Context, scope, resource string) (st State, ok bool, err error)

	// List returns every saved state whose scope starts with prefix,
	// ordered by scope and resource.
	List(ctx context.Context, prefix string) ([]State, error)

	// Reset removes all saved state for scope.
	Reset(ctx context.Context, scope string) error

	// Close releases any resources held by the store.
	Close() error
}
