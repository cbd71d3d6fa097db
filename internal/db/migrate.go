/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"fmt"

	"github.com/friendsincode/slotplanner/internal/models"
	"gorm.io/gorm"
)

// Migrate applies database schema migrations using GORM auto-migrate.
func Migrate(database *gorm.DB) error {
	if err := database.AutoMigrate(
		&models.QuotaRecord{},
		&models.ScheduleRecord{},
	); err != nil {
		return err
	}

	if err := applyPostgresLedgerGuards(database); err != nil {
		return err
	}

	return nil
}

// applyPostgresLedgerGuards adds CHECK constraints so a bug in the ledger can
// never persist negative counters.
func applyPostgresLedgerGuards(database *gorm.DB) error {
	if database.Dialector.Name() != "postgres" {
		return nil
	}

	stmt := `
DO $$
BEGIN
  IF NOT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = 'chk_quota_ledger_non_negative') THEN
    ALTER TABLE quota_ledger
      ADD CONSTRAINT chk_quota_ledger_non_negative
      CHECK (total_reserved >= 0 AND api_cost_reserved >= 0);
  END IF;
END;
$$;
`
	if err := database.Exec(stmt).Error; err != nil {
		return fmt.Errorf("apply postgres ledger guards: %w", err)
	}

	return nil
}
