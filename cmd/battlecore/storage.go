package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rs/zerolog"

	"github.com/warband/battlecore/internal/config"
	"github.com/warband/battlecore/internal/database"
	"github.com/warband/battlecore/internal/storage"
	"github.com/warband/battlecore/internal/storage/memory"
	pgstorage "github.com/warband/battlecore/internal/storage/postgres"
	sqlitestorage "github.com/warband/battlecore/internal/storage/sqlite"
)

// createStorageBackend builds the journal selected by storage.type. A
// postgres journal whose server is unreachable falls back to the
// in-memory SQLite one.
func createStorageBackend(cfg config.StorageConfig, logger *slog.Logger, zlog zerolog.Logger) (storage.Backend, error) {
	switch cfg.Type {
	case "postgres":
		mgr := database.NewManager(zlog)
		if err := mgr.Connect(context.Background(), database.PostgresFromConfig()); err != nil {
			return nil, fmt.Errorf("failed to connect journal database: %w", err)
		}
		if mgr.Local {
			logger.Warn("Postgres unavailable, journaling to SQLite", "path", cfg.SQLite.Path)
			return newSQLiteBackend(cfg, logger)
		}
		logger.Info("Postgres storage backend initialized")
		return pgstorage.New(pgstorage.Dependencies{DB: mgr.DB, Logger: logger}), nil

	case "sqlite":
		return newSQLiteBackend(cfg, logger)

	case "memory", "":
		logger.Info("Memory storage backend initialized", "outputDir", cfg.Memory.OutputDir)
		return memory.New(cfg.Memory), nil

	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}

func newSQLiteBackend(cfg config.StorageConfig, logger *slog.Logger) (storage.Backend, error) {
	backend, err := sqlitestorage.New(sqlitestorage.Config{
		DumpInterval: cfg.SQLite.DumpInterval,
		DumpPath:     cfg.SQLite.Path,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create SQLite backend: %w", err)
	}
	logger.Info("SQLite storage backend initialized", "dumpPath", cfg.SQLite.Path)
	return backend, nil
}
