package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/tender-cli/internal/catalog"
	"github.com/sells-group/tender-cli/internal/config"
	"github.com/sells-group/tender-cli/internal/model"
	"github.com/sells-group/tender-cli/internal/reconcile"
	"github.com/sells-group/tender-cli/internal/store"
)

// engineEnv holds everything a command needs to price, reconcile and save
// tenders.
type engineEnv struct {
	Catalog    *catalog.Index
	Reconciler *reconcile.Reconciler
	Pricing    model.PricingConfig
	Store      *store.FallbackStore

	kv     *store.SQLiteKV
	remote *store.PostgresStore
}

// Close releases the cache file and the Postgres pool.
func (e *engineEnv) Close() {
	if e.remote != nil {
		_ = e.remote.Close()
	}
	if e.kv != nil {
		_ = e.kv.Close()
	}
}

// initEngine loads the catalog seed, opens the local cache and, when a
// database URL is configured, the remote store. Callers should defer
// env.Close().
func initEngine(ctx context.Context, c *config.Config, mode string) (*engineEnv, error) {
	if err := c.Validate(mode); err != nil {
		return nil, err
	}

	pricingCfg, err := c.Pricing.Model()
	if err != nil {
		return nil, eris.Wrap(err, "pricing config")
	}

	seed, err := catalog.LoadSeed(c.Catalog.SeedPath)
	if err != nil {
		return nil, eris.Wrap(err, "load catalog seed")
	}
	index := catalog.NewIndex(seed)

	env := &engineEnv{
		Catalog:    index,
		Reconciler: reconcile.New(index, c.Reconcile.Model()),
		Pricing:    pricingCfg,
	}

	kv, err := store.NewSQLiteKV(ctx, c.Local.Path)
	if err != nil {
		return nil, eris.Wrap(err, "open local cache")
	}
	env.kv = kv

	// A nil *PostgresStore must not leak into the Backend interface.
	var remote store.Backend
	if c.Store.DatabaseURL != "" {
		pg, err := connectRemote(ctx, c.Store)
		if err != nil {
			env.Close()
			return nil, err
		}
		env.remote = pg
		remote = pg
	} else {
		zap.L().Info("no database url configured, running local-only",
			zap.String("cache", c.Local.Path),
		)
	}

	env.Store = store.NewFallbackStore(remote, store.NewLocalStore(kv), c.Resilience.Policy())

	zap.L().Debug("engine ready",
		zap.Int("catalog_items", index.Len()),
		zap.Bool("remote", env.Store.HasRemote()),
	)
	return env, nil
}

// connectRemote opens the Postgres store. An unreachable server is not
// fatal: the store is returned unpinged and saves fall back to the local
// cache until it answers. Only a malformed URL is an error.
func connectRemote(ctx context.Context, sc config.StoreConfig) (*store.PostgresStore, error) {
	pg, err := store.NewPostgres(ctx, sc.DatabaseURL, sc.Pool())
	if err == nil {
		return pg, nil
	}
	lazy, lazyErr := store.NewPostgresLazy(ctx, sc.DatabaseURL, sc.Pool())
	if lazyErr != nil {
		return nil, eris.Wrap(lazyErr, "connect remote store")
	}
	zap.L().Warn("remote store unreachable at startup, saving to local cache until it recovers",
		zap.Error(err),
	)
	return lazy, nil
}
