package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/Strob0t/arbor/internal/adapter/postgres"
	"github.com/Strob0t/arbor/internal/adapter/sqlite"
	"github.com/Strob0t/arbor/internal/config"
	"github.com/Strob0t/arbor/internal/port/database"
)

// openStore connects the configured backend and, when migrate is set,
// applies pending migrations first.
func openStore(ctx context.Context, cfg *config.Config, migrate bool) (database.Store, error) {
	switch cfg.Store.Backend {
	case "sqlite":
		db, err := sqlite.Open(ctx, cfg.SQLite)
		if err != nil {
			return nil, fmt.Errorf("sqlite: %w", err)
		}
		if migrate {
			if err := sqlite.RunMigrations(ctx, db); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("migrations: %w", err)
			}
			slog.Info("migrations applied", "backend", "sqlite")
		}
		slog.Info("sqlite opened", "path", cfg.SQLite.Path)
		return sqlite.NewStore(db), nil

	default:
		if migrate {
			if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
				return nil, fmt.Errorf("migrations: %w", err)
			}
			slog.Info("migrations applied", "backend", "postgres")
		}
		pool, err := postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		slog.Info("postgres connected", "max_conns", cfg.Postgres.MaxConns)
		return postgres.NewStore(pool), nil
	}
}

// migrator runs goose commands against the configured backend.
type migrator struct {
	up      func(ctx context.Context) error
	down    func(ctx context.Context, steps int) error
	version func(ctx context.Context) (int64, error)
	close   func()
}

func newMigrator(ctx context.Context, cfg *config.Config) (*migrator, error) {
	if cfg.Store.Backend == "sqlite" {
		db, err := sqlite.Open(ctx, cfg.SQLite)
		if err != nil {
			return nil, fmt.Errorf("sqlite: %w", err)
		}
		return &migrator{
			up:      func(ctx context.Context) error { return sqlite.RunMigrations(ctx, db) },
			down:    func(ctx context.Context, steps int) error { return sqlite.RollbackMigrations(ctx, db, steps) },
			version: func(ctx context.Context) (int64, error) { return sqlite.MigrationVersion(ctx, db) },
			close:   func() { closeDB(db) },
		}, nil
	}
	dsn := cfg.Postgres.DSN
	return &migrator{
		up:      func(ctx context.Context) error { return postgres.RunMigrations(ctx, dsn) },
		down:    func(ctx context.Context, steps int) error { return postgres.RollbackMigrations(ctx, dsn, steps) },
		version: func(ctx context.Context) (int64, error) { return postgres.MigrationVersion(ctx, dsn) },
		close:   func() {},
	}, nil
}

func closeDB(db *sql.DB) {
	if err := db.Close(); err != nil {
		slog.Warn("close database", "error", err)
	}
}
