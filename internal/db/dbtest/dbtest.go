// Package dbtest opens throwaway migrated databases for tests.
package dbtest

import (
	"path/filepath"
	"testing"

	"gorm.io/gorm"

	"memoria/internal/config"
	"memoria/internal/db"
	"memoria/internal/logging"
)

// New returns a migrated SQLite database living in t.TempDir().
func New(t testing.TB) *gorm.DB {
	t.Helper()
	gdb, err := db.Open(config.DatabaseConfig{
		Driver:   "sqlite",
		DSN:      filepath.Join(t.TempDir(), "test.db"),
		LogLevel: "silent",
	})
	if err != nil {
		t.Fatalf("db open: %v", err)
	}
	if err := db.Migrate(gdb, logging.Discard()); err != nil {
		t.Fatalf("db migrate: %v", err)
	}
	t.Cleanup(func() { _ = db.Close(gdb) })
	return gdb
}
