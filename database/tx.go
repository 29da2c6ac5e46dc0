package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/giygas/drug-registry/logging"
)

// WithTx runs fn inside a single transaction. fn's error, or a failed commit, rolls
// the whole unit back. Transient lock errors (SQLite busy/locked, PostgreSQL
// serialization failures and deadlocks) restart the unit with exponential backoff,
// so fn must not have side effects outside the transaction.
func (d *DB) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	attempt := 0
	op := func() error {
		attempt++
		err := d.runTx(ctx, fn)
		if err == nil {
			return nil
		}
		if IsTransient(err) {
			logging.Warn("Transaction hit a lock, retrying", "attempt", attempt, "error", err)
			return err
		}
		return backoff.Permanent(err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 20 * time.Millisecond
	policy.MaxInterval = time.Second

	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(d.busyRetries)), ctx))
}

func (d *DB) runTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := d.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error while beginning transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logging.Error("Failed to roll back transaction", "error", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error while committing transaction: %w", err)
	}
	return nil
}

// IsTransient reports whether err is a lock contention error worth retrying.
func IsTransient(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "40001" || pqErr.Code == "40P01"
	}
	return false
}

// IsUniqueViolation reports whether err comes from a unique index, e.g. two
// concurrent submissions of the same registration number.
func IsUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
