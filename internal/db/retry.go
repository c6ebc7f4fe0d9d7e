package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Joseda-hg/trellis/internal/model"
	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// RetryPolicy bounds how long a writer waits out another process's
// transaction before giving up with a concurrency error.
type RetryPolicy struct {
	Attempts       int
	InitialBackoff time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 5, InitialBackoff: 50 * time.Millisecond}
}

// RunTx runs fn inside a transaction, retrying with doubling backoff when
// sqlite reports the database busy or locked. Any other error, or exhausting
// the attempts, rolls back and is returned; exhaustion wraps
// model.ErrConcurrency.
func RunTx(ctx context.Context, sqlDB *sql.DB, policy RetryPolicy, fn func(tx *sql.Tx) error) error {
	if policy.Attempts <= 0 {
		policy = DefaultRetryPolicy()
	}

	backoff := policy.InitialBackoff
	var lastErr error
	for attempt := 1; attempt <= policy.Attempts; attempt++ {
		err := runOnce(ctx, sqlDB, fn)
		if err == nil {
			return nil
		}
		if !isBusy(err) {
			return err
		}

		lastErr = err
		if attempt == policy.Attempts {
			break
		}
		slog.Debug("database busy, retrying", "attempt", attempt, "backoff", backoff)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
	}

	return fmt.Errorf("%w after %d attempts: %v", model.ErrConcurrency, policy.Attempts, lastErr)
}

func runOnce(ctx context.Context, sqlDB *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	return tx.Commit()
}

func isBusy(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
	}
	return false
}
