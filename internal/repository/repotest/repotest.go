// Package repotest opens migrated throwaway databases for tests.
package repotest

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/joseph-ayodele/catalog-drafts/internal/repository"
)

// Open returns a migrated SQLite database in t's temp dir, closed on cleanup.
func Open(t testing.TB) *repository.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", filepath.Join(t.TempDir(), "drafts.db"))
	db, err := repository.Open(context.Background(), repository.Config{Driver: "sqlite", DSN: dsn}, slog.Default())
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := repository.Migrate(db, slog.Default()); err != nil {
		db.Close(nil)
		t.Fatalf("migrate test db: %v", err)
	}
	t.Cleanup(func() { db.Close(slog.Default()) })
	return db
}
