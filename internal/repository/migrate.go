package repository

import (
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"entgo.io/ent/dialect"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations
var migrationsFS embed.FS

// Migrate applies all pending up migrations for the connected dialect.
func Migrate(db *DB, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		driver database.Driver
		name   string
		dir    string
		err    error
	)
	switch db.Dialect {
	case dialect.Postgres:
		name, dir = "pgx5", "migrations/postgres"
		driver, err = migratepgx.WithInstance(db.SQL, &migratepgx.Config{})
	case dialect.SQLite:
		name, dir = "sqlite", "migrations/sqlite"
		driver, err = migratesqlite.WithInstance(db.SQL, &migratesqlite.Config{})
	default:
		return fmt.Errorf("no migrations for dialect %q", db.Dialect)
	}
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}

	src, err := iofs.New(migrationsFS, dir)
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}
	// m.Close would close the shared *sql.DB, so only the source is released.
	defer src.Close()

	m, err := migrate.NewWithInstance("iofs", src, name, driver)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	err = m.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		logger.Debug("database schema up to date")
		return nil
	}
	if err != nil {
		return fmt.Errorf("migrate up: %w", err)
	}
	version, _, _ := m.Version()
	logger.Info("database migrated", "version", version)
	return nil
}
