/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduling

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/friendsincode/slotplanner/internal/db"
	"github.com/friendsincode/slotplanner/internal/db/dbtest"
	"github.com/friendsincode/slotplanner/internal/events"
	"github.com/friendsincode/slotplanner/internal/failure"
	"github.com/friendsincode/slotplanner/internal/models"
	"github.com/friendsincode/slotplanner/internal/publishing"
	"github.com/friendsincode/slotplanner/internal/quota"
	"github.com/friendsincode/slotplanner/internal/slotpolicy"
	"github.com/friendsincode/slotplanner/internal/store"
)

// 07:00 UTC, before the first slot of the day.
var testNow = time.Date(2026, 3, 10, 7, 0, 0, 0, time.UTC)

type harness struct {
	db     *gorm.DB
	engine *Engine
	ledger *quota.Ledger
	store  *store.Store
	bus    *events.Bus
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	database, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
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

func newHarness(t *testing.T, pub publishing.Publisher, mutate func(*slotpolicy.Config), cfg Config) *harness {
	t.Helper()
	return newHarnessOn(t, newTestDB(t), pub, mutate, cfg)
}

func newHarnessOn(t *testing.T, database *gorm.DB, pub publishing.Publisher, mutate func(*slotpolicy.Config), cfg Config) *harness {
	t.Helper()
	pcfg := slotpolicy.DefaultConfig()
	if mutate != nil {
		mutate(&pcfg)
	}
	policy, err := slotpolicy.New(pcfg)
	if err != nil {
		t.Fatalf("policy: %v", err)
	}
	if pub == nil {
		pub = publishing.NewLogPublisher(zerolog.Nop())
	}

	ledger := quota.NewLedger(policy, 5*time.Second)
	st := store.New().WithClock(func() time.Time { return testNow })
	bus := events.NewBus()
	engine := New(database, policy, ledger, st, pub, cfg, zerolog.Nop()).
		WithClock(func() time.Time { return testNow }).
		WithEvents(bus)
	return &harness{db: database, engine: engine, ledger: ledger, store: st, bus: bus}
}

func at(date string, hour int) time.Time {
	d, _ := time.Parse(slotpolicy.DateLayout, date)
	return time.Date(d.Year(), d.Month(), d.Day(), hour, 0, 0, 0, time.UTC)
}

func ptr[T any](v T) *T { return &v }

func (h *harness) total(t *testing.T, date string) int {
	t.Helper()
	rec, err := h.ledger.Status(h.db, date)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	return rec.TotalReserved
}

func TestScheduleAssignsFirstFreeSlot(t *testing.T) {
	h := newHarness(t, nil, nil, DefaultConfig())
	reserved := h.bus.Subscribe(events.EventSlotReserved)
	published := h.bus.Subscribe(events.EventItemPublished)

	res, err := h.engine.Schedule(context.Background(), Request{ItemID: "item-1", ItemType: "short"})
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if !res.ScheduledTime.Equal(at("2026-03-10", 8)) {
		t.Fatalf("scheduled at %v, want 08:00", res.ScheduledTime)
	}
	if res.ScheduledTime.Location() != time.UTC {
		t.Fatalf("expected UTC instant, got %v", res.ScheduledTime.Location())
	}
	if res.ExternalID == "" || res.RecordID == "" {
		t.Fatalf("incomplete result: %+v", res)
	}

	rec, err := h.store.Get(h.db, res.RecordID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Status != models.ScheduleStatusPublished || rec.ExternalID == nil || *rec.ExternalID != res.ExternalID {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if got := h.total(t, "2026-03-10"); got != 1 {
		t.Fatalf("ledger total = %d, want 1", got)
	}
	if len(reserved) != 1 || len(published) != 1 {
		t.Fatalf("expected one reserved and one published event, got %d and %d", len(reserved), len(published))
	}
}

func TestEndToEndEightRequests(t *testing.T) {
	h := newHarness(t, nil, nil, DefaultConfig())

	want := []time.Time{
		at("2026-03-10", 8), at("2026-03-10", 8),
		at("2026-03-10", 14), at("2026-03-10", 14),
		at("2026-03-10", 20), at("2026-03-10", 20),
		at("2026-03-11", 8), at("2026-03-11", 8),
	}
	for i, w := range want {
		res, err := h.engine.Schedule(context.Background(), Request{ItemID: fmt.Sprintf("item-%d", i+1), ItemType: "short"})
		if err != nil {
			t.Fatalf("request %d: %v", i+1, err)
		}
		if !res.ScheduledTime.Equal(w) {
			t.Fatalf("request %d scheduled at %v, want %v", i+1, res.ScheduledTime, w)
		}
	}
	if got := h.total(t, "2026-03-10"); got != 6 {
		t.Fatalf("today total = %d, want 6", got)
	}
	if got := h.total(t, "2026-03-11"); got != 2 {
		t.Fatalf("tomorrow total = %d, want 2", got)
	}
}

func TestConcurrentDailyCap(t *testing.T) {
	for _, backend := range dbtest.Backends() {
		t.Run(backend.Name, func(t *testing.T) {
			h := newHarnessOn(t, backend.Open(t), nil, nil, DefaultConfig())

			var (
				wg    sync.WaitGroup
				mu    sync.Mutex
				times []time.Time
			)
			start := make(chan struct{})
			for i := 0; i < 10; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					<-start
					res, err := h.engine.Schedule(context.Background(), Request{ItemID: fmt.Sprintf("item-%d", i), ItemType: "short"})
					if err != nil {
						t.Errorf("request %d: %v", i, err)
						return
					}
					mu.Lock()
					times = append(times, res.ScheduledTime)
					mu.Unlock()
				}(i)
			}
			close(start)
			wg.Wait()

			perSlot := map[time.Time]int{}
			for _, ts := range times {
				perSlot[ts]++
			}
			want := map[time.Time]int{
				at("2026-03-10", 8):  2,
				at("2026-03-10", 14): 2,
				at("2026-03-10", 20): 2,
				at("2026-03-11", 8):  2,
				at("2026-03-11", 14): 2,
			}
			if len(perSlot) != len(want) {
				t.Fatalf("slot distribution = %v, want %v", perSlot, want)
			}
			for ts, n := range want {
				if perSlot[ts] != n {
					t.Fatalf("slot %v has %d items, want %d (distribution %v)", ts, perSlot[ts], n, perSlot)
				}
			}
			if got := h.total(t, "2026-03-10"); got != 6 {
				t.Fatalf("today total = %d, want 6", got)
			}
			if got := h.total(t, "2026-03-11"); got != 4 {
				t.Fatalf("tomorrow total = %d, want 4", got)
			}
		})
	}
}

func TestConcurrentRequestsForOneSlot(t *testing.T) {
	for _, backend := range dbtest.Backends() {
		t.Run(backend.Name, func(t *testing.T) {
			h := newHarnessOn(t, backend.Open(t), nil, nil, DefaultConfig())
			preferred := at("2026-03-10", 14)

			var (
				wg        sync.WaitGroup
				succeeded atomic.Int32
				rejected  atomic.Int32
			)
			start := make(chan struct{})
			for i := 0; i < 5; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					<-start
					res, err := h.engine.Schedule(context.Background(), Request{
						ItemID:        fmt.Sprintf("item-%d", i),
						ItemType:      "short",
						PreferredTime: ptr(preferred),
					})
					switch {
					case err == nil:
						if !res.ScheduledTime.Equal(preferred) {
							t.Errorf("request %d reassigned to %v", i, res.ScheduledTime)
						}
						succeeded.Add(1)
					case failure.IsKind(err, failure.SlotCapacityExceeded):
						rejected.Add(1)
					default:
						t.Errorf("request %d: unexpected error %v", i, err)
					}
				}(i)
			}
			close(start)
			wg.Wait()

			if succeeded.Load() != 2 || rejected.Load() != 3 {
				t.Fatalf("succeeded=%d rejected=%d, want 2 and 3", succeeded.Load(), rejected.Load())
			}
			n, _ := h.store.CountActiveInSlot(h.db, "2026-03-10", 1)
			if n != 2 {
				t.Fatalf("active in slot = %d, want 2", n)
			}
			if got := h.total(t, "2026-03-10"); got != 2 {
				t.Fatalf("ledger total = %d, want 2 after rejected attempts rolled back", got)
			}
		})
	}
}

func TestForceIgnoredWithoutPreferredTime(t *testing.T) {
	h := newHarness(t, nil, nil, DefaultConfig())
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		res, err := h.engine.Schedule(ctx, Request{ItemID: fmt.Sprintf("item-%d", i), ItemType: "short", Force: true})
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		rec, err := h.store.Get(h.db, res.RecordID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if rec.Forced {
			t.Fatalf("auto-assigned record %d marked forced", i)
		}
	}

	for index := 0; index < 3; index++ {
		n, err := h.store.CountActiveInSlot(h.db, "2026-03-10", index)
		if err != nil {
			t.Fatalf("CountActiveInSlot: %v", err)
		}
		if n != 2 {
			t.Fatalf("slot %d holds %d items, want capacity 2", index, n)
		}
	}
}

// lockedSlot makes every attempt on one slot fail with a lock timeout.
func lockedSlot(e *Engine, date string, index int) *atomic.Int32 {
	var attempts atomic.Int32
	next := e.attempt
	e.attempt = func(ctx context.Context, req Request, slot slotpolicy.Slot, explicit bool) (*models.ScheduleRecord, failure.Kind, error) {
		if slot.Date == date && slot.Index == index {
			attempts.Add(1)
			return nil, "", failure.New(failure.LockTimeout, "ledger row held")
		}
		return next(ctx, req, slot, explicit)
	}
	return &attempts
}

func TestLockTimeoutRetriesThenAdvances(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LockRetryBackoff = time.Millisecond
	h := newHarness(t, nil, nil, cfg)
	attempts := lockedSlot(h.engine, "2026-03-10", 0)

	res, err := h.engine.Schedule(context.Background(), Request{ItemID: "item-1", ItemType: "short"})
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if got := attempts.Load(); got != int32(cfg.LockRetries+1) {
		t.Fatalf("attempts on locked slot = %d, want %d", got, cfg.LockRetries+1)
	}
	if !res.ScheduledTime.Equal(at("2026-03-10", 14)) {
		t.Fatalf("scheduled at %v, want the next slot", res.ScheduledTime)
	}
	if got := h.total(t, "2026-03-10"); got != 1 {
		t.Fatalf("ledger total = %d, want 1", got)
	}
}

func TestLockTimeoutSurfacesForPreferredSlot(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LockRetryBackoff = time.Millisecond
	h := newHarness(t, nil, nil, cfg)
	attempts := lockedSlot(h.engine, "2026-03-10", 0)

	_, err := h.engine.Schedule(context.Background(), Request{
		ItemID:        "item-1",
		ItemType:      "short",
		PreferredTime: ptr(at("2026-03-10", 8)),
	})
	if !failure.IsKind(err, failure.LockTimeout) {
		t.Fatalf("expected LockTimeout, got %v", err)
	}
	if got := attempts.Load(); got != int32(cfg.LockRetries+1) {
		t.Fatalf("attempts = %d, want %d", got, cfg.LockRetries+1)
	}
	if got := h.total(t, "2026-03-10"); got != 0 {
		t.Fatalf("ledger total = %d, want 0", got)
	}
}

// A write transaction held on another connection exhausts the busy timeout
// of every attempt.
func TestHeldWriteLockSurfacesLockTimeout(t *testing.T) {
	database := dbtest.SQLiteFile(t, 50*time.Millisecond)
	cfg := DefaultConfig()
	cfg.LockRetries = 1
	cfg.LockRetryBackoff = time.Millisecond
	h := newHarnessOn(t, database, nil, nil, cfg)

	holder := database.Begin()
	if holder.Error != nil {
		t.Fatalf("begin holder: %v", holder.Error)
	}
	defer holder.Rollback()

	_, err := h.engine.Schedule(context.Background(), Request{
		ItemID:        "item-1",
		ItemType:      "short",
		PreferredTime: ptr(at("2026-03-10", 8)),
	})
	if !failure.IsKind(err, failure.LockTimeout) {
		t.Fatalf("expected LockTimeout, got %v", err)
	}

	holder.Rollback()
	if _, err := h.engine.Schedule(context.Background(), Request{ItemID: "item-1", ItemType: "short"}); err != nil {
		t.Fatalf("Schedule after release: %v", err)
	}
}

func TestForceAndNoSilentReassignment(t *testing.T) {
	h := newHarness(t, nil, func(c *slotpolicy.Config) {
		c.PerTypeDailyCap = map[string]int{"long": 3}
	}, DefaultConfig())
	preferred := at("2026-03-10", 8)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := h.engine.Schedule(ctx, Request{ItemID: fmt.Sprintf("fill-%d", i), ItemType: "long", PreferredTime: ptr(preferred)}); err != nil {
			t.Fatalf("fill %d: %v", i, err)
		}
	}

	_, err := h.engine.Schedule(ctx, Request{ItemID: "late", ItemType: "long", PreferredTime: ptr(preferred)})
	if !failure.IsKind(err, failure.SlotCapacityExceeded) {
		t.Fatalf("expected SlotCapacityExceeded, got %v", err)
	}

	res, err := h.engine.Schedule(ctx, Request{ItemID: "late", ItemType: "long", PreferredTime: ptr(preferred), Force: true})
	if err != nil {
		t.Fatalf("forced schedule: %v", err)
	}
	if !res.ScheduledTime.Equal(preferred) {
		t.Fatalf("forced request scheduled at %v, want %v", res.ScheduledTime, preferred)
	}
	rec, _ := h.store.Get(h.db, res.RecordID)
	if !rec.Forced {
		t.Fatal("expected record marked forced")
	}
	if n, _ := h.store.CountActiveInSlot(h.db, "2026-03-10", 0); n != 3 {
		t.Fatalf("active in forced slot = %d, want 3", n)
	}

	// Hard caps are never bypassed.
	_, err = h.engine.Schedule(ctx, Request{ItemID: "cap", ItemType: "long", PreferredTime: ptr(preferred), Force: true})
	if !failure.IsKind(err, failure.TypeCapExceeded) {
		t.Fatalf("expected TypeCapExceeded with force, got %v", err)
	}
}

func TestPreferredCapErrorsSurface(t *testing.T) {
	h := newHarness(t, nil, func(c *slotpolicy.Config) {
		c.DailyTotalCap = 1
	}, DefaultConfig())
	ctx := context.Background()

	if _, err := h.engine.Schedule(ctx, Request{ItemID: "a", ItemType: "short"}); err != nil {
		t.Fatalf("first: %v", err)
	}
	_, err := h.engine.Schedule(ctx, Request{ItemID: "b", ItemType: "short", PreferredTime: ptr(at("2026-03-10", 20)), Force: true})
	if !failure.IsKind(err, failure.DailyCapExceeded) {
		t.Fatalf("expected DailyCapExceeded, got %v", err)
	}

	res, err := h.engine.Schedule(ctx, Request{ItemID: "c", ItemType: "short"})
	if err != nil {
		t.Fatalf("auto-assigned: %v", err)
	}
	if !res.ScheduledTime.Equal(at("2026-03-11", 8)) {
		t.Fatalf("expected roll to next date, got %v", res.ScheduledTime)
	}
}

func TestNoSlotAvailable(t *testing.T) {
	h := newHarness(t, nil, func(c *slotpolicy.Config) {
		c.ProbeDays = 2
		c.PerTypeDailyCap = map[string]int{"long": 1}
	}, DefaultConfig())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := h.engine.Schedule(ctx, Request{ItemID: fmt.Sprintf("long-%d", i), ItemType: "long"}); err != nil {
			t.Fatalf("long %d: %v", i, err)
		}
	}
	_, err := h.engine.Schedule(ctx, Request{ItemID: "long-3", ItemType: "long"})
	if !failure.IsKind(err, failure.NoSlotAvailable) {
		t.Fatalf("expected NoSlotAvailable, got %v", err)
	}
}

func TestRequestValidation(t *testing.T) {
	h := newHarness(t, nil, nil, DefaultConfig())

	tests := []struct {
		name string
		req  Request
	}{
		{"missing item id", Request{ItemType: "short"}},
		{"missing item type", Request{ItemID: "a"}},
		{"empty metadata key", Request{ItemID: "a", ItemType: "short", Metadata: map[string]string{" ": "x"}}},
		{"past preferred time", Request{ItemID: "a", ItemType: "short", PreferredTime: ptr(testNow.Add(-time.Minute))}},
		{"beyond horizon", Request{ItemID: "a", ItemType: "short", PreferredTime: ptr(testNow.AddDate(0, 0, 30))}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.engine.Schedule(context.Background(), tt.req)
			if !failure.IsKind(err, failure.InvalidRequest) {
				t.Fatalf("expected InvalidRequest, got %v", err)
			}
		})
	}

	var count int64
	h.db.Model(&models.ScheduleRecord{}).Count(&count)
	if count != 0 {
		t.Fatalf("invalid requests left %d records", count)
	}
}

func TestPublisherFailureRollsBack(t *testing.T) {
	cause := errors.New("platform rejected upload: quota exceeded upstream")
	pub := publishing.PublisherFunc(func(ctx context.Context, item publishing.Item, _ time.Time) (string, error) {
		return "", cause
	})
	h := newHarness(t, pub, nil, DefaultConfig())
	released := h.bus.Subscribe(events.EventReservationReleased)

	_, err := h.engine.Schedule(context.Background(), Request{ItemID: "item-1", ItemType: "short"})
	if !failure.IsKind(err, failure.PublisherError) {
		t.Fatalf("expected PublisherError, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected publisher cause to be preserved, got %v", err)
	}

	rec, _ := h.ledger.Status(h.db, "2026-03-10")
	if rec.TotalReserved != 0 || rec.APICostReserved != 0 || rec.TypeCount("short") != 0 {
		t.Fatalf("ledger not restored: %+v", rec)
	}
	if n, _ := h.store.CountActiveInSlot(h.db, "2026-03-10", 0); n != 0 {
		t.Fatalf("slot occupancy = %d, want 0", n)
	}

	recs, _ := h.store.ListByDate(h.db, "2026-03-10")
	if len(recs) != 1 || recs[0].Status != models.ScheduleStatusFailed || recs[0].FailureReason != cause.Error() {
		t.Fatalf("expected one failed record with reason, got %+v", recs)
	}
	if len(released) != 1 {
		t.Fatalf("expected reservation.released event, got %d", len(released))
	}
}

func TestPublishTimeoutCompensates(t *testing.T) {
	pub := publishing.PublisherFunc(func(ctx context.Context, _ publishing.Item, _ time.Time) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	cfg := DefaultConfig()
	cfg.PublishTimeout = 50 * time.Millisecond
	h := newHarness(t, pub, nil, cfg)

	_, err := h.engine.Schedule(context.Background(), Request{ItemID: "item-1", ItemType: "short"})
	if !failure.IsKind(err, failure.PublisherError) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected PublisherError wrapping deadline, got %v", err)
	}
	if got := h.total(t, "2026-03-10"); got != 0 {
		t.Fatalf("ledger total = %d, want 0", got)
	}
}

func TestCallerCancellationStillCompensates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	pub := publishing.PublisherFunc(func(pctx context.Context, _ publishing.Item, _ time.Time) (string, error) {
		cancel()
		<-pctx.Done()
		return "", pctx.Err()
	})
	h := newHarness(t, pub, nil, DefaultConfig())

	_, err := h.engine.Schedule(ctx, Request{ItemID: "item-1", ItemType: "short"})
	if !failure.IsKind(err, failure.PublisherError) {
		t.Fatalf("expected PublisherError, got %v", err)
	}
	if got := h.total(t, "2026-03-10"); got != 0 {
		t.Fatalf("ledger total = %d, want 0 after compensation", got)
	}
}

func TestLateSuccessReacquiresQuota(t *testing.T) {
	var h *harness
	pub := publishing.PublisherFunc(func(ctx context.Context, item publishing.Item, _ time.Time) (string, error) {
		// Simulate the recovery sweep resolving the record mid-publish.
		err := h.db.Transaction(func(tx *gorm.DB) error {
			rec, err := h.store.Get(tx, item.RecordID)
			if err != nil {
				return err
			}
			if err := h.store.MarkFailed(tx, rec.ID, "stale"); err != nil {
				return err
			}
			return h.ledger.Release(tx, rec.SlotDate, rec.ItemType)
		})
		if err != nil {
			return "", err
		}
		return "ext-late", nil
	})
	h = newHarness(t, pub, nil, DefaultConfig())
	recovered := h.bus.Subscribe(events.EventReservationRecovered)

	res, err := h.engine.Schedule(context.Background(), Request{ItemID: "item-1", ItemType: "short"})
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	rec, _ := h.store.Get(h.db, res.RecordID)
	if rec.Status != models.ScheduleStatusPublished || *rec.ExternalID != "ext-late" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if got := h.total(t, "2026-03-10"); got != 1 {
		t.Fatalf("ledger total = %d, want 1 after reacquire", got)
	}
	if len(recovered) != 1 {
		t.Fatalf("expected reservation.recovered event, got %d", len(recovered))
	}
}

func TestSuccessAfterSweepConfirmedPublish(t *testing.T) {
	var h *harness
	pub := publishing.PublisherFunc(func(ctx context.Context, item publishing.Item, _ time.Time) (string, error) {
		// The sweep found the item on the platform before the call returned.
		if err := h.store.MarkPublished(h.db, item.RecordID, "ext-1"); err != nil {
			return "", err
		}
		return "ext-1", nil
	})
	h = newHarness(t, pub, nil, DefaultConfig())

	res, err := h.engine.Schedule(context.Background(), Request{ItemID: "item-1", ItemType: "short"})
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if res.ExternalID != "ext-1" {
		t.Fatalf("external id = %q", res.ExternalID)
	}
	if got := h.total(t, "2026-03-10"); got != 1 {
		t.Fatalf("ledger total = %d, want 1", got)
	}
}

func TestQuotaStatusAndWarnings(t *testing.T) {
	h := newHarness(t, nil, func(c *slotpolicy.Config) {
		c.PerTypeDailyCap = map[string]int{"long": 2}
		c.WarningThresholdPercent = ptr(50)
	}, DefaultConfig())
	ctx := context.Background()

	warnings, err := h.engine.Warnings(ctx)
	if err != nil {
		t.Fatalf("Warnings: %v", err)
	}
	if len(warnings) != 0 {
		t.Fatalf("expected no warnings on an empty day, got %v", warnings)
	}

	for _, typ := range []string{"long", "short", "short"} {
		if _, err := h.engine.Schedule(ctx, Request{ItemID: "i-" + typ, ItemType: typ}); err != nil {
			t.Fatalf("Schedule: %v", err)
		}
	}

	status, err := h.engine.QuotaStatus(ctx, "2026-03-10")
	if err != nil {
		t.Fatalf("QuotaStatus: %v", err)
	}
	if status.TotalReserved != 3 || status.ReservedByType["short"] != 2 || status.APICostReserved != 4800 {
		t.Fatalf("unexpected status: %+v", status)
	}
	gotRemaining := []int{}
	for _, s := range status.RemainingBySlot {
		gotRemaining = append(gotRemaining, s.Remaining)
	}
	if fmt.Sprint(gotRemaining) != "[0 1 2]" {
		t.Fatalf("remaining by slot = %v, want [0 1 2]", gotRemaining)
	}

	warnings, err = h.engine.Warnings(ctx)
	if err != nil {
		t.Fatalf("Warnings: %v", err)
	}
	sort.Strings(warnings)
	// The api budget sits at 48% and stays below the threshold.
	want := []string{
		"daily item cap at 50% (3/6) for 2026-03-10",
		"long daily cap at 50% (1/2) for 2026-03-10",
	}
	if fmt.Sprint(warnings) != fmt.Sprint(want) {
		t.Fatalf("warnings = %v, want %v", warnings, want)
	}

	tagged, err := h.engine.QuotaWarnings(ctx)
	if err != nil {
		t.Fatalf("QuotaWarnings: %v", err)
	}
	quotas := []string{}
	for _, w := range tagged {
		quotas = append(quotas, w.Quota)
	}
	if fmt.Sprint(quotas) != "[daily_total type:long]" {
		t.Fatalf("warning quotas = %v", quotas)
	}

	if _, err := h.engine.QuotaStatus(ctx, "10/03/2026"); !failure.IsKind(err, failure.InvalidRequest) {
		t.Fatalf("expected InvalidRequest for malformed date, got %v", err)
	}
}
