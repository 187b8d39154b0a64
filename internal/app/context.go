// Package app bootstraps a workspace: database, migrations and config. Both
// the CLI and the server start here.
package app

import (
	"fmt"
	"os"

	"floorline/internal/config"
	"floorline/internal/db"
	"floorline/internal/engine"
	"floorline/internal/migrate"
)

// App holds everything a command needs once the workspace is open.
type App struct {
	Workspace string
	Engine    engine.Engine
	Config    *config.Config
}

// Open opens the workspace database, applies pending migrations and loads the
// config file, seeding the default one when missing. shopOverride, when set,
// wins over the config's shop id.
func Open(workspace, shopOverride string) (*App, error) {
	cfg, err := resolveConfig(workspace, shopOverride)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &App{
		Workspace: workspace,
		Engine:    engine.New(conn, cfg),
		Config:    cfg,
	}, nil
}

// Close releases the database handle.
func (a *App) Close() error {
	if a == nil || a.Engine.DB == nil {
		return nil
	}
	return a.Engine.DB.Close()
}

func resolveConfig(workspace, shopOverride string) (*config.Config, error) {
	path := config.Path(workspace)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		shopID := shopOverride
		if shopID == "" {
			shopID = "default-shop"
		}
		if err := os.WriteFile(path, []byte(config.GenerateDefault(shopID)), 0o644); err != nil {
			return nil, fmt.Errorf("seed config: %w", err)
		}
	}
	cfg, err := config.Load(workspace)
	if err != nil {
		return nil, err
	}
	if shopOverride != "" {
		cfg.Shop.ID = shopOverride
	}
	return cfg, nil
}
