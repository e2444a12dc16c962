package cmd

import (
	"fmt"
	"log/slog"

	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/config"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/store"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/store/pg"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/store/sqlite"
)

// openStores opens the backend selected by database.mode: a local SQLite
// file in standalone mode, Postgres in managed mode.
func openStores(cfg *config.Config) (*store.Stores, error) {
	storeCfg := store.StoreConfig{
		Mode:        cfg.Database.Mode,
		SQLitePath:  cfg.Database.SQLitePath,
		PostgresDSN: cfg.Database.PostgresDSN,
	}
	if cfg.IsManagedMode() {
		stores, err := pg.NewPGStores(storeCfg)
		if err != nil {
			return nil, fmt.Errorf("managed store: %w", err)
		}
		slog.Info("store: using postgres")
		return stores, nil
	}
	stores, err := sqlite.NewSQLiteStores(storeCfg)
	if err != nil {
		return nil, fmt.Errorf("standalone store: %w", err)
	}
	slog.Info("store: using sqlite", "path", storeCfg.SQLitePath)
	return stores, nil
}

// loadConfig reads the .env file next to the config, then the config
// itself, and validates it.
func loadConfig() (*config.Config, string, error) {
	cfgPath := resolveConfigPath()
	if err := config.LoadDotEnv(dotEnvPath(cfgPath)); err != nil {
		slog.Warn("config: .env not loaded", "error", err)
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, cfgPath, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, cfgPath, nil
}
