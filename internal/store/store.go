/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package store persists ScheduleRecords.
package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/friendsincode/slotplanner/internal/models"
)

var (
	// ErrNotReserved is returned by a transition when the record is no longer
	// reserved, meaning another actor already resolved it.
	ErrNotReserved = errors.New("schedule record is not reserved")

	// ErrNotFound is returned when no record has the requested id.
	ErrNotFound = errors.New("schedule record not found")
)

// Store reads and writes schedule_records.
type Store struct {
	now func() time.Time
}

// New creates a Store using the wall clock.
func New() *Store {
	return &Store{now: time.Now}
}

// WithClock replaces the clock used for staleness cutoffs.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Insert stores rec in the reserved state, assigning an id when empty.
func (s *Store) Insert(tx *gorm.DB, rec *models.ScheduleRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.Status = models.ScheduleStatusReserved
	rec.ScheduledTime = rec.ScheduledTime.UTC()
	if err := tx.Create(rec).Error; err != nil {
		return fmt.Errorf("insert schedule record: %w", err)
	}
	return nil
}

// MarkPublished moves a reserved record to published.
func (s *Store) MarkPublished(tx *gorm.DB, id, externalID string) error {
	return s.transition(tx, id, models.ScheduleStatusReserved, map[string]any{
		"status":      models.ScheduleStatusPublished,
		"external_id": externalID,
	})
}

// MarkFailed moves a reserved record to failed.
func (s *Store) MarkFailed(tx *gorm.DB, id, reason string) error {
	return s.transition(tx, id, models.ScheduleStatusReserved, map[string]any{
		"status":         models.ScheduleStatusFailed,
		"failure_reason": reason,
	})
}

// ReconcilePublished moves a failed record to published. It is used when the
// remote platform confirms a publish after the reservation was released.
func (s *Store) ReconcilePublished(tx *gorm.DB, id, externalID string) error {
	return s.transition(tx, id, models.ScheduleStatusFailed, map[string]any{
		"status":         models.ScheduleStatusPublished,
		"external_id":    externalID,
		"failure_reason": "",
	})
}

func (s *Store) transition(tx *gorm.DB, id string, from models.ScheduleStatus, updates map[string]any) error {
	updates["updated_at"] = s.now().UTC()
	res := tx.Model(&models.ScheduleRecord{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("update schedule record %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		if from == models.ScheduleStatusReserved {
			return ErrNotReserved
		}
		return fmt.Errorf("schedule record %s is not %s", id, from)
	}
	return nil
}

// CountActiveInSlot counts reserved and published records in one slot.
func (s *Store) CountActiveInSlot(tx *gorm.DB, date string, index int) (int, error) {
	var n int64
	err := tx.Model(&models.ScheduleRecord{}).
		Where("slot_date = ? AND slot_index = ? AND status IN ?", date, index, models.ActiveScheduleStatuses).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count slot %s/%d: %w", date, index, err)
	}
	return int(n), nil
}

// CountActiveByDate returns active record counts per slot index for date.
func (s *Store) CountActiveByDate(conn *gorm.DB, date string) (map[int]int, error) {
	var rows []struct {
		SlotIndex int
		N         int
	}
	err := conn.Model(&models.ScheduleRecord{}).
		Select("slot_index, COUNT(*) AS n").
		Where("slot_date = ? AND status IN ?", date, models.ActiveScheduleStatuses).
		Group("slot_index").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("count slots for %s: %w", date, err)
	}
	out := make(map[int]int, len(rows))
	for _, r := range rows {
		out[r.SlotIndex] = r.N
	}
	return out, nil
}

// FindStale returns records that have been reserved for longer than
// olderThan, ordered by slot date then creation time.
func (s *Store) FindStale(conn *gorm.DB, olderThan time.Duration) ([]models.ScheduleRecord, error) {
	cutoff := s.now().UTC().Add(-olderThan)
	var recs []models.ScheduleRecord
	err := conn.Where("status = ? AND created_at < ?", models.ScheduleStatusReserved, cutoff).
		Order("slot_date ASC, created_at ASC").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("find stale reservations: %w", err)
	}
	return recs, nil
}

// Get loads one record.
func (s *Store) Get(conn *gorm.DB, id string) (*models.ScheduleRecord, error) {
	var rec models.ScheduleRecord
	err := conn.Where("id = ?", id).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get schedule record %s: %w", id, err)
	}
	return &rec, nil
}

// ListByDate returns all records on date ordered by slot time.
func (s *Store) ListByDate(conn *gorm.DB, date string) ([]models.ScheduleRecord, error) {
	var recs []models.ScheduleRecord
	err := conn.Where("slot_date = ?", date).
		Order("scheduled_time ASC, created_at ASC").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("list schedule records for %s: %w", date, err)
	}
	return recs, nil
}
