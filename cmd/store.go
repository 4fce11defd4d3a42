package main

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/hotspot-cli/internal/config"
	"github.com/sells-group/hotspot-cli/internal/store"
)

// initStore opens and migrates the configured run store. The "none"
// driver returns a nil store, which the pipeline accepts.
func initStore(ctx context.Context, c *config.Config) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch c.Store.Driver {
	case "none":
		return nil, nil
	case "sqlite", "":
		path := c.Store.SQLitePath
		if path == "" {
			path = "hotspot.db"
		}
		st, err = store.NewSQLite(path)
	case "postgres":
		st, err = store.NewPostgres(ctx, c.Store.DatabaseURL, poolConfig(c))
	default:
		return nil, eris.Errorf("unsupported store driver: %s", c.Store.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

// openPool opens a pool on store.database_url for the PostGIS road source
// and road cache.
func openPool(ctx context.Context, c *config.Config) (*pgxpool.Pool, error) {
	if c.Store.DatabaseURL == "" {
		return nil, eris.New("store.database_url is required (HOTSPOT_STORE_DATABASE_URL)")
	}
	return store.NewPool(ctx, c.Store.DatabaseURL, poolConfig(c))
}

func poolConfig(c *config.Config) *store.PoolConfig {
	return &store.PoolConfig{MaxConns: c.Store.MaxConns, MinConns: c.Store.MinConns}
}
