package app

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/charmbracelet/log"

	"taskline/internal/config"
	"taskline/internal/db"
	"taskline/internal/engine"
	"taskline/internal/logging"
	"taskline/internal/migrate"
)

// Options select the workspace and ambient settings for Open.
type Options struct {
	Workspace string
	// ConfigPath overrides <workspace>/taskline.yml when set.
	ConfigPath string
	// JWTSecret signs access and refresh tokens. Token endpoints report an
	// upstream failure without it.
	JWTSecret string
	Logger    *log.Logger
}

// Workspace is an opened, migrated database with the engine built on it.
type Workspace struct {
	DB     *sql.DB
	Config *config.Config
	Engine engine.Engine
	Logger *log.Logger
}

// Open ensures the workspace directory exists, migrates the database and
// builds the engine from the workspace config.
func Open(ctx context.Context, opts Options) (*Workspace, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.New(nil, logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	}
	if _, err := db.EnsureWorkspace(opts.Workspace); err != nil {
		return nil, fmt.Errorf("ensure workspace: %w", err)
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	e := engine.New(conn, cfg).WithLogger(logger)
	if opts.JWTSecret != "" {
		e.Identity.Secret = []byte(opts.JWTSecret)
	}
	logger.Debug("workspace opened", "path", db.Path(opts.Workspace))
	return &Workspace{DB: conn, Config: cfg, Engine: e, Logger: logger}, nil
}

func loadConfig(opts Options) (*config.Config, error) {
	if opts.ConfigPath != "" {
		cfg, err := config.FromFile(opts.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("load config %s: %w", opts.ConfigPath, err)
		}
		return cfg, nil
	}
	cfg, err := config.Load(opts.Workspace)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// Close releases the database.
func (w *Workspace) Close() error {
	if w == nil || w.DB == nil {
		return nil
	}
	return w.DB.Close()
}
