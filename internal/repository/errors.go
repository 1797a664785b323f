// Package repository stores events, seat holds, bookings and checkouts in
// MySQL.  Domain failures are reported with the sentinel errors of the
// model package so handlers can map them without knowing the storage.
// Driver errors that only mean "try again" (deadlocks, lock wait
// timeouts) are retried inside the ledger transaction and surface as
// model.ErrPersistenceConflict once the retries run out.
package repository

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

// MySQL server error numbers the repositories react to.
const (
	errDuplicateEntry  = 1062
	errLockWaitTimeout = 1205
	errDeadlock        = 1213
)

// isRetryable reports whether err is a transient lock conflict.
func isRetryable(err error) bool {
	var me *mysql.MySQLError
	if !errors.As(err, &me) {
		return false
	}
	return me.Number == errDeadlock || me.Number == errLockWaitTimeout
}

// isDuplicate reports whether err is a unique key violation.
func isDuplicate(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == errDuplicateEntry
}
