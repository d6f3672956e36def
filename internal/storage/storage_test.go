package storage_test

import (
	"github.com/warband/battlecore/internal/storage"
	gormstorage "github.com/warband/battlecore/internal/storage/gorm"
	"github.com/warband/battlecore/internal/storage/memory"
	"github.com/warband/battlecore/internal/storage/postgres"
	sqlitestorage "github.com/warband/battlecore/internal/storage/sqlite"
)

// Compile-time interface checks
var (
	_ storage.Backend       = (*memory.Backend)(nil)
	_ storage.Uploadable    = (*memory.Backend)(nil)
	_ storage.Backend       = (*gormstorage.Backend)(nil)
	_ storage.QueueReporter = (*gormstorage.Backend)(nil)
	_ storage.Backend       = (*sqlitestorage.Backend)(nil)
	_ storage.Backend       = (*postgres.Backend)(nil)
)
