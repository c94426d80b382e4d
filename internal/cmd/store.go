package cmd

import (
	"context"

	"go.uber.org/zap"

	"github.com/ryhazerus/throttle"
	"github.com/ryhazerus/throttle/internal/config"
	"github.com/ryhazerus/throttle/store"
)

// openStore opens the configured state store. SQLite is fronted by an
// in-memory tier.
func openStore(c *config.Config) (store.Store, error) {
	if c.Store.Driver != "sqlite" {
		return store.NewMemoryStore(), nil
	}
	db, err := store.NewSQLiteStore(c.Store.Path)
	if err != nil {
		return nil, err
	}
	return store.NewTieredStore(db), nil
}

// newRegistry builds a registry with the configured limits and restores
// any state saved in st.
func newRegistry(ctx context.Context, c *config.Config, st store.Store) (*throttle.Registry, error) {
	reg := throttle.NewRegistry(
		throttle.WithLogger(logger),
		throttle.WithStore(st),
		throttle.WithMaxWait(c.Guard.MaxWait),
	)
	if err := c.Apply(reg); err != nil {
		return nil, err
	}
	n, err := reg.Restore(ctx)
	if err != nil {
		return nil, err
	}
	if n > 0 {
		logger.Info("restored bucket state", zap.Int("entries", n))
	}
	return reg, nil
}
