package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/iliyamo/event-seat-booking/internal/model"
)

const (
	defaultTxAttempts = 5
	txBackoffBase     = 10 * time.Millisecond
)

// withTx runs fn in a transaction and commits it.  Deadlocks and lock wait
// timeouts roll back and run fn again with a doubling pause; when every
// attempt failed that way the result is model.ErrPersistenceConflict.
func withTx(ctx context.Context, db *sql.DB, attempts int, fn func(tx *sql.Tx) error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(txBackoffBase << (i - 1)):
			}
		}
		err = runTx(ctx, db, fn)
		if err == nil || !isRetryable(err) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", model.ErrPersistenceConflict, err)
}

func runTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}
