/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// ScheduleStatus is the lifecycle state of a ScheduleRecord.
type ScheduleStatus string

const (
	ScheduleStatusReserved  ScheduleStatus = "reserved"
	ScheduleStatusPublished ScheduleStatus = "published"
	ScheduleStatusFailed    ScheduleStatus = "failed"
)

// ActiveScheduleStatuses are the statuses that occupy slot capacity.
var ActiveScheduleStatuses = []ScheduleStatus{ScheduleStatusReserved, ScheduleStatusPublished}

// ScheduleRecord is one scheduling decision for a content item.
type ScheduleRecord struct {
	ID            string         `gorm:"type:varchar(36);primaryKey" json:"id"`
	ItemID        string         `gorm:"type:varchar(128);not null;index" json:"item_id"`
	ItemType      string         `gorm:"type:varchar(64);not null" json:"item_type"`
	ScheduledTime time.Time      `gorm:"not null;index:idx_schedule_time_status,priority:1" json:"scheduled_time"`
	SlotDate      string         `gorm:"type:varchar(10);not null;index:idx_schedule_slot_status,priority:1" json:"slot_date"`
	SlotIndex     int            `gorm:"not null;index:idx_schedule_slot_status,priority:2" json:"slot_index"`
	Status        ScheduleStatus `gorm:"type:varchar(16);not null;index:idx_schedule_time_status,priority:2;index:idx_schedule_slot_status,priority:3" json:"status"`
	ExternalID    *string        `gorm:"type:varchar(255)" json:"external_id,omitempty"`
	Forced        bool           `gorm:"not null;default:false" json:"forced"`
	FailureReason string         `gorm:"type:text" json:"failure_reason,omitempty"`
	CreatedAt     time.Time      `gorm:"index" json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// TableName returns the table name for GORM.
func (ScheduleRecord) TableName() string {
	return "schedule_records"
}

// IsActive reports whether the record occupies slot capacity.
func (r *ScheduleRecord) IsActive() bool {
	return r.Status == ScheduleStatusReserved || r.Status == ScheduleStatusPublished
}
