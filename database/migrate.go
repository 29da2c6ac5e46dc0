package database

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/giygas/drug-registry/logging"
)

//go:embed migrations
var migrationFS embed.FS

type migrationLogger struct{}

func (migrationLogger) Printf(format string, v ...any) {
	logging.Info(fmt.Sprintf("migrate: "+format, v...))
}

func (migrationLogger) Verbose() bool {
	return false
}

func (d *DB) newMigrator() (*migrate.Migrate, error) {
	dir := "migrations/sqlite3"
	var (
		driver migratedb.Driver
		err    error
	)
	if d.IsPostgres() {
		dir = "migrations/postgres"
		driver, err = postgres.WithInstance(d.DB.DB, &postgres.Config{})
	} else {
		driver, err = migratesqlite.WithInstance(d.DB.DB, &migratesqlite.Config{})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationFS, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, d.DriverName(), driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = migrationLogger{}
	return m, nil
}

// Migrate applies every pending up migration. The migrator is not closed because
// closing it would close the shared pool.
func (d *DB) Migrate() error {
	m, err := d.newMigrator()
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		version, dirty, _ := m.Version()
		logging.Error("Failed to apply migrations", "version", version, "dirty", dirty, "error", err)
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, _, _ := m.Version()
	logging.Info("Database schema up to date", "version", version)
	return nil
}

// MigrateDown rolls back the given number of migrations.
func (d *DB) MigrateDown(steps int) error {
	m, err := d.newMigrator()
	if err != nil {
		return err
	}
	if err := m.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to roll back migrations: %w", err)
	}
	return nil
}

// Version reports the applied schema version.
func (d *DB) Version() (uint, bool, error) {
	m, err := d.newMigrator()
	if err != nil {
		return 0, false, err
	}
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}
