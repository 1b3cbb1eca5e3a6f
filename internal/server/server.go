// Package server runs the read-only status API against the configured
// database until its context is cancelled.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"dbmigrator/internal/config"
	"dbmigrator/internal/db"
	httpserver "dbmigrator/internal/http"
	"dbmigrator/internal/migrate"
)

// Run opens a shared pool, checks it once and serves until ctx is done.
// Every request gets its own Provider on the pool.
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger, catalog migrate.Catalog) error {
	if catalog == nil {
		return errors.New("nil catalog")
	}

	pool, dialect, err := db.OpenPool(cfg.DB)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := pool.PingContext(ctx); err != nil {
		return fmt.Errorf("db connection failed: %w", err)
	}

	open := Opener(pool, dialect, cfg.DB.Schema, logger)
	srv := httpserver.New(cfg.HTTP, logger, open, catalog, cfg.DB.Schema)
	return srv.Start(ctx)
}

// Opener returns an httpserver.Opener creating Providers on pool.
func Opener(pool *sql.DB, dialect db.Dialect, schemaTag string, logger *slog.Logger) httpserver.Opener {
	return func(ctx context.Context) (httpserver.Session, error) {
		p, err := db.New(ctx, pool, dialect, schemaTag, logger)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}
