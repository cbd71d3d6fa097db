/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package quota maintains the per-date reservation counters. Every mutating
// operation runs inside a caller-supplied transaction and holds the row lock
// for its date until that transaction ends.
package quota

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/friendsincode/slotplanner/internal/db"
	"github.com/friendsincode/slotplanner/internal/failure"
	"github.com/friendsincode/slotplanner/internal/models"
	"github.com/friendsincode/slotplanner/internal/slotpolicy"
)

// DefaultLockTimeout bounds the wait for a quota row lock.
const DefaultLockTimeout = 5 * time.Second

// Ledger checks and mutates QuotaRecord rows.
type Ledger struct {
	policy      *slotpolicy.Policy
	lockTimeout time.Duration
}

// NewLedger creates a ledger enforcing policy.
func NewLedger(policy *slotpolicy.Policy, lockTimeout time.Duration) *Ledger {
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	return &Ledger{policy: policy, lockTimeout: lockTimeout}
}

// CheckAndReserve locks the row for date (creating it when absent) and, if the
// daily, per-type and API budget caps all still hold after one more item of
// itemType, increments the counters. When a cap would be exceeded it returns
// ok=false with the cap's kind and leaves the row unchanged. A lock wait that
// expires is returned as a LockTimeout error.
func (l *Ledger) CheckAndReserve(tx *gorm.DB, date, itemType string) (bool, failure.Kind, error) {
	rec, err := l.lockRow(tx, date)
	if err != nil {
		return false, "", err
	}

	if kind := l.exceeded(rec, itemType); kind != "" {
		return false, kind, nil
	}

	rec.TotalReserved++
	rec.ReservedByType[itemType]++
	rec.APICostReserved += l.policy.APICostPerPublish()
	if err := tx.Save(rec).Error; err != nil {
		return false, "", fmt.Errorf("save quota row %s: %w", date, err)
	}
	return true, "", nil
}

// Release undoes one reservation of itemType on date. Counters never drop below zero.
func (l *Ledger) Release(tx *gorm.DB, date, itemType string) error {
	rec, err := l.lockRow(tx, date)
	if err != nil {
		return err
	}

	rec.TotalReserved = max(rec.TotalReserved-1, 0)
	if n := rec.ReservedByType[itemType] - 1; n > 0 {
		rec.ReservedByType[itemType] = n
	} else {
		delete(rec.ReservedByType, itemType)
	}
	rec.APICostReserved = max(rec.APICostReserved-l.policy.APICostPerPublish(), 0)

	if err := tx.Save(rec).Error; err != nil {
		return fmt.Errorf("save quota row %s: %w", date, err)
	}
	return nil
}

// Reacquire records one item of itemType without checking caps. It is used
// only when the remote platform confirms a publish whose reservation had
// already been released, so the counters reflect what actually went out.
func (l *Ledger) Reacquire(tx *gorm.DB, date, itemType string) error {
	rec, err := l.lockRow(tx, date)
	if err != nil {
		return err
	}

	rec.TotalReserved++
	rec.ReservedByType[itemType]++
	rec.APICostReserved += l.policy.APICostPerPublish()
	if err := tx.Save(rec).Error; err != nil {
		return fmt.Errorf("save quota row %s: %w", date, err)
	}
	return nil
}

// Status reads the counters for date without locking. A date with no row
// reads as all zeros.
func (l *Ledger) Status(conn *gorm.DB, date string) (models.QuotaRecord, error) {
	var rec models.QuotaRecord
	err := conn.Where("date = ?", date).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.QuotaRecord{Date: date, ReservedByType: map[string]int{}}, nil
	}
	if err != nil {
		return rec, fmt.Errorf("read quota row %s: %w", date, err)
	}
	if rec.ReservedByType == nil {
		rec.ReservedByType = map[string]int{}
	}
	return rec, nil
}

func (l *Ledger) exceeded(rec *models.QuotaRecord, itemType string) failure.Kind {
	if rec.TotalReserved+1 > l.policy.DailyTotalCap() {
		return failure.DailyCapExceeded
	}
	if limit, ok := l.policy.TypeCap(itemType); ok && rec.TypeCount(itemType)+1 > limit {
		return failure.TypeCapExceeded
	}
	if rec.APICostReserved+l.policy.APICostPerPublish() > l.policy.APIDailyBudget() {
		return failure.APIBudgetExceeded
	}
	return ""
}

func (l *Ledger) lockRow(tx *gorm.DB, date string) (*models.QuotaRecord, error) {
	if err := db.ApplyLockTimeout(tx, l.lockTimeout); err != nil {
		return nil, classify(date, err)
	}

	seed := models.QuotaRecord{Date: date, ReservedByType: map[string]int{}}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
		return nil, classify(date, err)
	}

	var rec models.QuotaRecord
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("date = ?", date).Take(&rec).Error; err != nil {
		return nil, classify(date, err)
	}
	if rec.ReservedByType == nil {
		rec.ReservedByType = map[string]int{}
	}
	return &rec, nil
}

func classify(date string, err error) error {
	if db.IsLockTimeout(err) {
		return failure.Wrap(failure.LockTimeout, "quota row "+date, err)
	}
	return fmt.Errorf("lock quota row %s: %w", date, err)
}
