// Package app wires a workspace's config, database and engine for commands.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"stratline/internal/config"
	"stratline/internal/db"
	"stratline/internal/editor"
	"stratline/internal/engine"
	"stratline/internal/logging"
	"stratline/internal/migrate"
)

// Workspace is an opened local workspace.
type Workspace struct {
	Path   string
	DB     *sql.DB
	Config *config.Config
	Engine engine.Engine
}

// Open loads stratline.yml (defaults when absent), opens the database and applies migrations.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Workspace, error) {
	cfg, err := config.LoadOptional(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", config.Path(path), err)
	}
	conn, err := db.Open(db.Config{Workspace: path})
	if err != nil {
		return nil, err
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("open %s: %w", db.Path(path), err)
	}
	applied, err := migrate.Apply(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if len(applied) > 0 {
		logging.OrNop(logger).Info("schema migrated", "workspace", path, "applied", applied)
	}
	return &Workspace{
		Path:   path,
		DB:     conn,
		Config: cfg,
		Engine: engine.New(conn, cfg, logger),
	}, nil
}

func (w *Workspace) Close() error {
	return w.DB.Close()
}

// EditorOptions builds session options from cfg. New strategies are seeded with one
// default condition; loaded ones are not.
func EditorOptions(cfg *config.Config, store editor.Store, logger *slog.Logger, isNew bool) editor.Options {
	log := logging.OrNop(logger)
	return editor.Options{
		SeedDefault:  isNew,
		DefaultAsset: cfg.Strategy.DefaultAsset,
		DefaultType:  cfg.Strategy.DefaultConditionType,
		Layout:       cfg.Layout,
		Validate:     cfg.WireOptions(),
		Store:        store,
		Logger:       logger,
		Notifier: editor.NotifierFunc(func(_ context.Context, msg string, err error) {
			log.Error(msg, "error", err)
		}),
	}
}
