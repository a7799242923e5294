// Package app wires storage, configuration and the engine for the CLI and the server.
package app

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"checkline/internal/config"
	"checkline/internal/db"
	"checkline/internal/engine"
	"checkline/internal/logging"
	"checkline/internal/metrics"
	"checkline/internal/migrate"
)

type Options struct {
	Workspace string
	Driver    string
	DSN       string
	// ConfigPath overrides <workspace>/checkline.yml.
	ConfigPath string
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
}

type App struct {
	DB      *sql.DB
	Dialect db.Dialect
	Config  *config.Config
	Engine  engine.Engine
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// ResolveConfig loads the config from an explicit path, then the workspace, and falls back
// to the built-in default.
func ResolveConfig(workspace, path string) (*config.Config, error) {
	if path != "" {
		return config.FromFile(path)
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	return cfg, nil
}

// Open connects to the database, applies migrations and builds the engine.
func Open(ctx context.Context, opts Options) (*App, error) {
	logger := logging.OrNop(opts.Logger)
	cfg, err := ResolveConfig(opts.Workspace, opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	conn, dialect, err := db.Open(db.Config{Workspace: opts.Workspace, Driver: opts.Driver, DSN: opts.DSN})
	if err != nil {
		return nil, err
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("connect %s: %w", dialect, err)
	}
	if err := migrate.Migrate(ctx, conn, dialect); err != nil {
		conn.Close()
		return nil, err
	}
	eng, err := engine.New(conn, dialect, cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	eng.Logger = logger
	eng.Metrics = opts.Metrics
	logger.Debug("engine ready",
		zap.String("dialect", string(dialect)),
		zap.String("schema_version", eng.Registry.Version()))
	return &App{
		DB:      conn,
		Dialect: dialect,
		Config:  cfg,
		Engine:  eng,
		Logger:  logger,
		Metrics: opts.Metrics,
	}, nil
}

func (a *App) Close() error {
	return a.DB.Close()
}
