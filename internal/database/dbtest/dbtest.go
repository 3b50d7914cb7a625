// Package dbtest opens throwaway SQLite databases for repository and service tests.
package dbtest

import (
	"fmt"
	"path/filepath"
	"testing"

	"doodles/internal/database"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// MaxOpenConns is the pool size of a test database. Concurrent tests get
// separate connections, so their statements interleave at the database.
const MaxOpenConns = 8

// Open returns a migrated, file-backed database private to the test. WAL lets
// readers run beside a writer; writers wait on the busy timeout instead of
// failing on the first lock.
func Open(t testing.TB) *gorm.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doodles.db")
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := gorm.Open(sqlite.Open(dsn), database.Options())
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(MaxOpenConns)
	require.NoError(t, database.AutoMigrate(db))
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}
