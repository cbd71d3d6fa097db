/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package quota

import (
	"sync"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/friendsincode/slotplanner/internal/db"
	"github.com/friendsincode/slotplanner/internal/db/dbtest"
	"github.com/friendsincode/slotplanner/internal/failure"
	"github.com/friendsincode/slotplanner/internal/slotpolicy"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	database, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := database.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.Migrate(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	return database
}

func newTestPolicy(t *testing.T, mutate func(*slotpolicy.Config)) *slotpolicy.Policy {
	t.Helper()
	cfg := slotpolicy.DefaultConfig()
	cfg.PerTypeDailyCap = map[string]int{"long": 2}
	if mutate != nil {
		mutate(&cfg)
	}
	p, err := slotpolicy.New(cfg)
	if err != nil {
		t.Fatalf("policy: %v", err)
	}
	return p
}

func reserve(t *testing.T, database *gorm.DB, l *Ledger, date, itemType string) (bool, failure.Kind) {
	t.Helper()
	var (
		ok   bool
		kind failure.Kind
	)
	err := database.Transaction(func(tx *gorm.DB) error {
		var err error
		ok, kind, err = l.CheckAndReserve(tx, date, itemType)
		return err
	})
	if err != nil {
		t.Fatalf("CheckAndReserve: %v", err)
	}
	return ok, kind
}

func TestCheckAndReserveCreatesRow(t *testing.T) {
	database := newTestDB(t)
	l := NewLedger(newTestPolicy(t, nil), time.Second)

	ok, kind := reserve(t, database, l, "2026-03-10", "short")
	if !ok || kind != "" {
		t.Fatalf("expected reservation, got ok=%v kind=%q", ok, kind)
	}

	rec, err := l.Status(database, "2026-03-10")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if rec.TotalReserved != 1 || rec.TypeCount("short") != 1 || rec.APICostReserved != 1600 {
		t.Fatalf("unexpected counters: %+v", rec)
	}
}

func TestCheckAndReserveCaps(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*slotpolicy.Config)
		types    []string
		wantKind failure.Kind
	}{
		{
			name:     "daily total",
			mutate:   func(c *slotpolicy.Config) { c.DailyTotalCap = 2; c.APIDailyBudget = 100000 },
			types:    []string{"short", "short", "short"},
			wantKind: failure.DailyCapExceeded,
		},
		{
			name:     "per type",
			types:    []string{"long", "long", "long"},
			wantKind: failure.TypeCapExceeded,
		},
		{
			name:     "api budget",
			mutate:   func(c *slotpolicy.Config) { c.APIDailyBudget = 3200 },
			types:    []string{"short", "short", "short"},
			wantKind: failure.APIBudgetExceeded,
		},
		{
			name:     "uncapped type limited by daily total only",
			mutate:   func(c *slotpolicy.Config) { c.APIDailyBudget = 100000 },
			types:    []string{"clip", "clip", "clip", "clip", "clip", "clip", "clip"},
			wantKind: failure.DailyCapExceeded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			database := newTestDB(t)
			l := NewLedger(newTestPolicy(t, tt.mutate), time.Second)

			last := len(tt.types) - 1
			for i, itemType := range tt.types[:last] {
				if ok, kind := reserve(t, database, l, "2026-03-10", itemType); !ok {
					t.Fatalf("reservation %d rejected with %s", i, kind)
				}
			}
			before, _ := l.Status(database, "2026-03-10")

			ok, kind := reserve(t, database, l, "2026-03-10", tt.types[last])
			if ok || kind != tt.wantKind {
				t.Fatalf("expected %s, got ok=%v kind=%q", tt.wantKind, ok, kind)
			}

			after, _ := l.Status(database, "2026-03-10")
			if after.TotalReserved != before.TotalReserved || after.APICostReserved != before.APICostReserved {
				t.Fatalf("rejected reservation changed counters: before %+v after %+v", before, after)
			}
		})
	}
}

func TestReleaseClampsAtZero(t *testing.T) {
	database := newTestDB(t)
	l := NewLedger(newTestPolicy(t, nil), time.Second)

	reserve(t, database, l, "2026-03-10", "long")
	for i := 0; i < 2; i++ {
		if err := database.Transaction(func(tx *gorm.DB) error {
			return l.Release(tx, "2026-03-10", "long")
		}); err != nil {
			t.Fatalf("Release: %v", err)
		}
	}

	rec, _ := l.Status(database, "2026-03-10")
	if rec.TotalReserved != 0 || rec.TypeCount("long") != 0 || rec.APICostReserved != 0 {
		t.Fatalf("expected zero counters, got %+v", rec)
	}
}

func TestReacquireIgnoresCaps(t *testing.T) {
	database := newTestDB(t)
	l := NewLedger(newTestPolicy(t, nil), time.Second)

	reserve(t, database, l, "2026-03-10", "long")
	reserve(t, database, l, "2026-03-10", "long")

	if err := database.Transaction(func(tx *gorm.DB) error {
		return l.Reacquire(tx, "2026-03-10", "long")
	}); err != nil {
		t.Fatalf("Reacquire: %v", err)
	}

	rec, _ := l.Status(database, "2026-03-10")
	if rec.TypeCount("long") != 3 {
		t.Fatalf("expected long=3 after reacquire, got %d", rec.TypeCount("long"))
	}
}

func TestRollbackDiscardsReservation(t *testing.T) {
	database := newTestDB(t)
	l := NewLedger(newTestPolicy(t, nil), time.Second)

	_ = database.Transaction(func(tx *gorm.DB) error {
		if _, _, err := l.CheckAndReserve(tx, "2026-03-10", "short"); err != nil {
			return err
		}
		return failure.New(failure.SlotCapacityExceeded, "slot full")
	})

	rec, _ := l.Status(database, "2026-03-10")
	if rec.TotalReserved != 0 {
		t.Fatalf("expected rollback to discard reservation, got %+v", rec)
	}
}

// Runs against pools with several connections so reservations genuinely
// contend for the ledger row.
func TestConcurrentReservationsRespectDailyCap(t *testing.T) {
	for _, backend := range dbtest.Backends() {
		t.Run(backend.Name, func(t *testing.T) {
			database := backend.Open(t)
			l := NewLedger(newTestPolicy(t, nil), 5*time.Second)

			var (
				wg       sync.WaitGroup
				mu       sync.Mutex
				accepted = map[string]int{}
			)
			start := make(chan struct{})
			for i := 0; i < 12; i++ {
				itemType := "short"
				if i%2 == 0 {
					itemType = "long"
				}
				wg.Add(1)
				go func() {
					defer wg.Done()
					<-start
					var ok bool
					err := database.Transaction(func(tx *gorm.DB) error {
						var err error
						ok, _, err = l.CheckAndReserve(tx, "2026-03-10", itemType)
						return err
					})
					if err != nil {
						t.Errorf("CheckAndReserve: %v", err)
						return
					}
					if ok {
						mu.Lock()
						accepted[itemType]++
						mu.Unlock()
					}
				}()
			}
			close(start)
			wg.Wait()

			if accepted["long"] > 2 || accepted["long"]+accepted["short"] != 6 {
				t.Fatalf("accepted = %v, want 6 in total with long <= 2", accepted)
			}
			rec, err := l.Status(database, "2026-03-10")
			if err != nil {
				t.Fatalf("Status: %v", err)
			}
			if rec.TotalReserved != 6 || rec.ReservedByType["long"] != accepted["long"] || rec.APICostReserved != 6*1600 {
				t.Fatalf("unexpected ledger row: %+v", rec)
			}
		})
	}
}

func TestStatusUnknownDate(t *testing.T) {
	database := newTestDB(t)
	l := NewLedger(newTestPolicy(t, nil), time.Second)

	rec, err := l.Status(database, "2030-01-01")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if rec.TotalReserved != 0 || rec.ReservedByType == nil {
		t.Fatalf("expected empty record, got %+v", rec)
	}
}
