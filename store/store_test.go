package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var savedAt = time.Date(2024, 1, 15, 14, 30, 0, 0, time.UTC)

func testState(scope, resource string, tokens float64) State {
	return State{
		Scope:     scope,
		Resource:  resource,
		Rate:      1,
		Capacity:  60,
		Tokens:    tokens,
		Spent:     3,
		UpdatedAt: savedAt,
	}
}

// testStoreContract runs the behaviour every Store implementation shares.
func testStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("LoadMissing", func(t *testing.T) {
		s := newStore(t)
		_, ok, err := s.Load(context.Background(), "nope", "requests")
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("SaveOverwrites", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.Save(ctx, testState("a", "requests", 10)))
		adaptive := testState("a", "requests", -2.5)
		adaptive.Adaptive = true
		require.NoError(t, s.Save(ctx, adaptive))

		got, ok, err := s.Load(ctx, "a", "requests")
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, -2.5, got.Tokens)
		require.Equal(t, 3.0, got.Spent)
		require.True(t, got.Adaptive)
		require.True(t, got.UpdatedAt.Equal(savedAt))
	})

	t.Run("ListByPrefix", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.Save(ctx, testState("openai:b", "tokens", 1)))
		require.NoError(t, s.Save(ctx, testState("openai:b", "requests", 1)))
		require.NoError(t, s.Save(ctx, testState("openai:a", "requests", 1)))
		require.NoError(t, s.Save(ctx, testState("stripe", "requests", 1)))

		got, err := s.List(ctx, "openai:")
		require.NoError(t, err)
		require.Len(t, got, 3)
		require.Equal(t, "openai:a", got[0].Scope)
		require.Equal(t, "openai:b", got[1].Scope)
		require.Equal(t, "requests", got[1].Resource)
		require.Equal(t, "tokens", got[2].Resource)

		all, err := s.List(ctx, "")
		require.NoError(t, err)
		require.Len(t, all, 4)
	})

	t.Run("Reset", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.Save(ctx, testState("x", "requests", 1)))
		require.NoError(t, s.Save(ctx, testState("x", "tokens", 1)))
		require.NoError(t, s.Save(ctx, testState("xy", "requests", 1)))
		require.NoError(t, s.Reset(ctx, "x"))

		_, ok, err := s.Load(ctx, "x", "requests")
		require.NoError(t, err)
		require.False(t, ok)

		_, ok, err = s.Load(ctx, "xy", "requests")
		require.NoError(t, err)
		require.True(t, ok)
	})
}
