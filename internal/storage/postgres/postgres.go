// Package postgres writes the journal to PostgreSQL through the GORM
// backend, opening its own connection when none is injected.
package postgres

import (
	"context"
	"log/slog"

	"gorm.io/gorm"

	"github.com/warband/battlecore/internal/database"
	gormstorage "github.com/warband/battlecore/internal/storage/gorm"
)

// Dependencies holds all dependencies for the Postgres storage backend.
type Dependencies struct {
	DB     *gorm.DB
	DSN    string
	Logger *slog.Logger
}

// Backend wraps the GORM backend with Postgres connection handling.
type Backend struct {
	*gormstorage.Backend
	deps Dependencies
}

// New creates a new Postgres storage backend. The connection is opened
// by Init.
func New(deps Dependencies) *Backend {
	return &Backend{deps: deps}
}

// Init connects when no DB was injected, then migrates and starts the
// writer goroutine.
func (b *Backend) Init() error {
	if b.deps.DB == nil {
		dsn := b.deps.DSN
		if dsn == "" {
			dsn = database.PostgresFromConfig().DSN()
		}
		db, err := database.OpenPostgres(context.Background(), dsn)
		if err != nil {
			return err
		}
		b.deps.DB = db
	}

	b.Backend = gormstorage.New(gormstorage.Dependencies{DB: b.deps.DB, Logger: b.deps.Logger})
	return b.Backend.Init()
}

// Close stops the writer. Safe before Init.
func (b *Backend) Close() error {
	if b.Backend == nil {
		return nil
	}
	return b.Backend.Close()
}
