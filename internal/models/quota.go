/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// QuotaRecord holds the per-date reservation counters. One row per calendar
// date, created on the first reservation attempt and never deleted.
type QuotaRecord struct {
	Date            string         `gorm:"type:varchar(10);primaryKey" json:"date"`
	TotalReserved   int            `gorm:"not null;default:0" json:"total_reserved"`
	ReservedByType  map[string]int `gorm:"type:text;serializer:json" json:"reserved_by_type"`
	APICostReserved int            `gorm:"column:api_cost_reserved;not null;default:0" json:"api_cost_reserved"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// TableName returns the table name for GORM.
func (QuotaRecord) TableName() string {
	return "quota_ledger"
}

// TypeCount returns the reserved count for itemType.
func (q *QuotaRecord) TypeCount(itemType string) int {
	if q.ReservedByType == nil {
		return 0
	}
	return q.ReservedByType[itemType]
}
