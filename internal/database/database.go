// Package database opens the GORM connections behind the journal
// backends: Postgres, or SQLite in memory with dumps to disk.
package database

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// MemoryDSN is the shared in-memory SQLite database.
const MemoryDSN = "file::memory:?cache=shared"

// pingTimeout bounds the reachability check of a Postgres server.
const pingTimeout = 5 * time.Second

var sqlitePragmas = []string{
	"PRAGMA user_version = 1;",
	"PRAGMA journal_mode = MEMORY;",
	"PRAGMA synchronous = OFF;",
	"PRAGMA cache_size = -32000;",
	"PRAGMA temp_store = MEMORY;",
}

var quiet = logger.Default.LogMode(logger.Silent)

// Postgres holds the db.* connection settings.
type Postgres struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
}

func PostgresFromConfig() Postgres {
	return Postgres{
		Host:     viper.GetString("db.host"),
		Port:     viper.GetString("db.port"),
		User:     viper.GetString("db.username"),
		Password: viper.GetString("db.password"),
		Name:     viper.GetString("db.database"),
	}
}

func (p Postgres) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		p.Host, p.Port, p.User, p.Password, p.Name)
}

// OpenPostgres connects and pings the server; an unreachable server is an
// error here rather than on first write.
func OpenPostgres(ctx context.Context, dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.New(postgres.Config{DSN: dsn, PreferSimpleProtocol: true}), &gorm.Config{
		SkipDefaultTransaction: true,
		CreateBatchSize:        10000,
		Logger:                 quiet,
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("postgres sql handle: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	sqlDB.SetMaxOpenConns(10)
	return db, nil
}

// OpenSQLite opens path, or the shared in-memory database when path is
// empty, and applies the journal pragmas.
func OpenSQLite(path string) (*gorm.DB, error) {
	if path == "" {
		path = MemoryDSN
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		PrepareStmt:            true,
		SkipDefaultTransaction: true,
		CreateBatchSize:        2000,
		Logger:                 quiet,
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	for _, pragma := range sqlitePragmas {
		if err := db.Exec(pragma).Error; err != nil {
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return db, nil
}

// VacuumInto writes a consistent copy of db to path, replacing any file
// already there.
func VacuumInto(db *gorm.DB, path string) error {
	switch {
	case path == "":
		return errors.New("dump path not set")
	case db == nil:
		return errors.New("db not connected")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dump directory: %w", err)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove previous dump: %w", err)
	}
	quoted := strings.ReplaceAll(path, "'", "''")
	if err := db.Exec("VACUUM INTO 'file:" + quoted + "';").Error; err != nil {
		return fmt.Errorf("vacuum into %s: %w", path, err)
	}
	return nil
}

// Manager picks the journal database at startup: Postgres when reachable,
// otherwise the in-memory SQLite database, flagged as Local.
type Manager struct {
	DB     *gorm.DB
	Local  bool
	logger zerolog.Logger
}

func NewManager(log zerolog.Logger) *Manager {
	return &Manager{logger: log.With().Str("component", "database").Logger()}
}

func (m *Manager) Connect(ctx context.Context, pg Postgres) error {
	db, err := OpenPostgres(ctx, pg.DSN())
	if err == nil {
		m.DB, m.Local = db, false
		m.logger.Info().Str("host", pg.Host).Str("database", pg.Name).Msg("Connected to Postgres")
		return nil
	}
	m.logger.Error().Err(err).Str("host", pg.Host).Msg("Postgres unreachable, falling back to SQLite")

	db, err = OpenSQLite("")
	if err != nil {
		return fmt.Errorf("local fallback: %w", err)
	}
	m.DB, m.Local = db, true
	m.logger.Info().Msg("Using in-memory SQLite with periodic disk dumps")
	return nil
}

// Close releases the connection pool.
func (m *Manager) Close() error {
	if m.DB == nil {
		return nil
	}
	sqlDB, err := m.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
