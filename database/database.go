// Package database opens the registry store (PostgreSQL or SQLite), applies the
// embedded migrations and runs transactional units of work.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/huandu/go-sqlbuilder"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/giygas/drug-registry/config"
	"github.com/giygas/drug-registry/logging"
)

// Querier is satisfied by both *sqlx.DB and *sqlx.Tx, so repository functions can
// run inside or outside a transaction.
type Querier interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
}

// DB is the registry connection pool with the SQL flavor of its driver.
type DB struct {
	*sqlx.DB
	flavor      sqlbuilder.Flavor
	busyRetries int
}

// New wraps an existing pool. driver is config.DriverPostgres or config.DriverSQLite.
func New(db *sqlx.DB, driver string, busyRetries int) *DB {
	flavor := sqlbuilder.SQLite
	if driver == config.DriverPostgres {
		flavor = sqlbuilder.PostgreSQL
	}
	return &DB{DB: db, flavor: flavor, busyRetries: busyRetries}
}

// Open connects to the configured database and verifies the connection.
func Open(ctx context.Context, cfg *config.Config) (*DB, error) {
	db, err := sqlx.Open(cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.DBDriver, err)
	}

	if cfg.DBDriver == config.DriverSQLite {
		// One writer at a time; also keeps ":memory:" databases on a single connection.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(cfg.DBMaxOpenConns)
		db.SetMaxIdleConns(cfg.DBMaxOpenConns / 2)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to %s database: %w", cfg.DBDriver, err)
	}

	logging.Info("Database connected", "driver", cfg.DBDriver)
	return New(db, cfg.DBDriver, cfg.SQLiteBusyRetries), nil
}

// OpenMemory opens a migrated in-memory SQLite database. Used by tests and by
// local runs that do not need persistence.
func OpenMemory(ctx context.Context) (*DB, error) {
	cfg := &config.Config{
		DBDriver:          config.DriverSQLite,
		DatabaseURL:       "file::memory:?_foreign_keys=on",
		SQLiteBusyRetries: 3,
	}
	db, err := Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Flavor returns the sqlbuilder flavor matching the driver placeholders.
func (d *DB) Flavor() sqlbuilder.Flavor {
	return d.flavor
}

// IsPostgres reports whether row locks (SELECT ... FOR UPDATE) are available.
func (d *DB) IsPostgres() bool {
	return d.flavor == sqlbuilder.PostgreSQL
}

// InsertReturningID runs an insert and returns the generated primary key. Both
// PostgreSQL and SQLite (3.35+) understand RETURNING.
func InsertReturningID(ctx context.Context, q Querier, ib *sqlbuilder.InsertBuilder) (int64, error) {
	query, args := ib.Build()
	query += " RETURNING id"

	var id int64
	if err := q.QueryRowxContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}
