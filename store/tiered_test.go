package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTieredStore(t *testing.T) {
	testStoreContract(t, func(t *testing.T) Store {
		return NewTieredStore(newTestSQLiteStore(t))
	})
}

func TestTieredStoreBackfillsMemory(t *testing.T) {
	persistent := newTestSQLiteStore(t)
	ctx := context.Background()
	require.NoError(t, persistent.Save(ctx, testState("warm", "requests", 5)))

	s := NewTieredStore(persistent)

	_, ok, _ := s.memory.Load(ctx, "warm", "requests")
	require.False(t, ok)

	got, ok, err := s.Load(ctx, "warm", "requests")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 5.0, got.Tokens)

	_, ok, _ = s.memory.Load(ctx, "warm", "requests")
	require.True(t, ok, "load should backfill memory")
}

func TestTieredStoreWritesThrough(t *testing.T) {
	persistent := NewMemoryStore()
	s := NewTieredStore(persistent)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, testState("w", "tokens", 9)))

	got, ok, err := persistent.Load(ctx, "w", "tokens")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 9.0, got.Tokens)
}
