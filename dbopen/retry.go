package dbopen

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// The run database is written mid-build while WAL checkpoints run, so short
// SQLITE_BUSY windows are expected. Writes retry a few times with growing
// backoff before giving up.
const (
	busyRetries = 3
	busyBackoff = 100 * time.Millisecond
)

// IsBusy reports whether err indicates an SQLite busy or locked condition.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}

// Exec executes one statement, retrying busy errors.
func Exec(ctx context.Context, db *sql.DB, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	err := retryBusy(ctx, func() error {
		var e error
		res, e = db.ExecContext(ctx, query, args...)
		return e
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// RunTx executes fn inside a transaction, retrying busy errors. fn returning
// an error rolls the transaction back.
func RunTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	return retryBusy(ctx, func() error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("dbopen: begin tx: %w", err)
		}
		if err := fn(tx); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("dbopen: commit: %w", err)
		}
		return nil
	})
}

func retryBusy(ctx context.Context, op func() error) error {
	var err error
	for attempt := 0; attempt < busyRetries; attempt++ {
		err = op()
		if err == nil || !IsBusy(err) {
			return err
		}
		if attempt == busyRetries-1 {
			break
		}
		if serr := sleepCtx(ctx, busyBackoff*time.Duration(attempt+1)); serr != nil {
			return fmt.Errorf("dbopen: retry interrupted: %w", serr)
		}
	}
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
