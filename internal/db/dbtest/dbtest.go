/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package dbtest opens migrated databases for tests that need several
// connections contending for the same rows.
package dbtest

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/friendsincode/slotplanner/internal/db"
)

// PostgresDSNEnv names the variable that enables the Postgres backend.
const PostgresDSNEnv = "SLOTPLANNER_TEST_POSTGRES_DSN"

// Backend opens one kind of database for a test.
type Backend struct {
	Name string
	Open func(t *testing.T) *gorm.DB
}

// Backends returns every backend contention tests should run against.
// Postgres skips unless PostgresDSNEnv is set.
func Backends() []Backend {
	return []Backend{
		{Name: "sqlite-file", Open: func(t *testing.T) *gorm.DB { return SQLiteFile(t, 5*time.Second) }},
		{Name: "postgres", Open: Postgres},
	}
}

// SQLiteFile opens a WAL-mode SQLite file with a multi-connection pool.
// Transactions begin IMMEDIATE and wait up to busyTimeout for the write lock,
// then fail with SQLITE_BUSY.
func SQLiteFile(t *testing.T, busyTimeout time.Duration) *gorm.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "slotplanner.db")
	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL&_txlock=immediate", path, busyTimeout.Milliseconds())

	database := open(t, sqlite.Open(dsn))
	sqlDB, err := database.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(8)
	sqlDB.SetMaxIdleConns(8)
	return database
}

// Postgres connects to the database named by PostgresDSNEnv and empties the
// scheduling tables.
func Postgres(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := os.Getenv(PostgresDSNEnv)
	if dsn == "" {
		t.Skipf("%s not set", PostgresDSNEnv)
	}

	database := open(t, postgres.Open(dsn))
	sqlDB, err := database.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(16)

	truncate := func() error {
		return database.Exec("TRUNCATE TABLE schedule_records, quota_ledger").Error
	}
	if err := truncate(); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	t.Cleanup(func() { _ = truncate() })
	return database
}

func open(t *testing.T, dialector gorm.Dialector) *gorm.DB {
	t.Helper()
	database, err := gorm.Open(dialector, &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open %s: %v", dialector.Name(), err)
	}
	if err := db.Migrate(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { _ = db.Close(database) })
	return database
}
