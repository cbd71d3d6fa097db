/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"gorm.io/gorm"
)

const (
	pgLockNotAvailable = "55P03"
	pgDeadlockDetected = "40P01"

	mysqlLockWaitTimeout = 1205
	mysqlDeadlock        = 1213
)

// ApplyLockTimeout bounds how long row locks taken later in tx may wait.
// SQLite has no row locks; its wait is bounded by the DSN busy timeout.
func ApplyLockTimeout(tx *gorm.DB, timeout time.Duration) error {
	if timeout <= 0 {
		return nil
	}

	switch tx.Dialector.Name() {
	case "postgres":
		if err := tx.Exec(fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", timeout.Milliseconds())).Error; err != nil {
			return fmt.Errorf("set lock timeout: %w", err)
		}
	case "mysql":
		seconds := int(timeout.Round(time.Second) / time.Second)
		if seconds < 1 {
			seconds = 1
		}
		if err := tx.Exec(fmt.Sprintf("SET SESSION innodb_lock_wait_timeout = %d", seconds)).Error; err != nil {
			return fmt.Errorf("set lock timeout: %w", err)
		}
	}
	return nil
}

// IsLockTimeout reports whether err means a lock could not be acquired in
// time. Deadlock victims are included since the remedy is the same retry.
func IsLockTimeout(err error) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgLockNotAvailable || pgErr.Code == pgDeadlockDetected
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlLockWaitTimeout || myErr.Number == mysqlDeadlock
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code == sqlite3.ErrBusy || liteErr.Code == sqlite3.ErrLocked
	}

	return false
}

// LockOrder returns the distinct dates sorted ascending. Operations that lock
// several ledger rows must acquire them in this order.
func LockOrder(dates []string) []string {
	seen := make(map[string]struct{}, len(dates))
	out := make([]string, 0, len(dates))
	for _, d := range dates {
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}
