/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package recovery resolves reservations left behind by a crash between
// commit and publish.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/slotplanner/internal/events"
	"github.com/friendsincode/slotplanner/internal/failure"
	"github.com/friendsincode/slotplanner/internal/models"
	"github.com/friendsincode/slotplanner/internal/publishing"
	"github.com/friendsincode/slotplanner/internal/quota"
	"github.com/friendsincode/slotplanner/internal/store"
	"github.com/friendsincode/slotplanner/internal/telemetry"
)

const (
	defaultInterval   = 5 * time.Minute
	defaultStaleAfter = time.Hour
	lookupTimeout     = 30 * time.Second
)

// Report summarises one sweep.
type Report struct {
	Examined  int `json:"examined"`
	Published int `json:"published"`
	Released  int `json:"released"`
	Skipped   int `json:"skipped"`
}

// Sweeper finds stale reservations and resolves each one exactly once.
type Sweeper struct {
	db         *gorm.DB
	ledger     *quota.Ledger
	store      *store.Store
	checker    publishing.StatusChecker
	events     events.Publisher
	interval   time.Duration
	staleAfter time.Duration
	logger     zerolog.Logger
}

// NewSweeper creates a Sweeper. If publisher also implements
// publishing.StatusChecker, stale records are checked against the platform
// before being released.
func NewSweeper(db *gorm.DB, ledger *quota.Ledger, st *store.Store, publisher publishing.Publisher,
	interval, staleAfter time.Duration, logger zerolog.Logger) *Sweeper {
	if interval <= 0 {
		interval = defaultInterval
	}
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}
	checker, _ := publisher.(publishing.StatusChecker)
	return &Sweeper{
		db:         db,
		ledger:     ledger,
		store:      st,
		checker:    checker,
		events:     events.Discard{},
		interval:   interval,
		staleAfter: staleAfter,
		logger:     logger.With().Str("component", "recovery_sweeper").Logger(),
	}
}

// WithEvents publishes resolutions to pub.
func (s *Sweeper) WithEvents(pub events.Publisher) *Sweeper {
	if pub != nil {
		s.events = pub
	}
	return s
}

// Run sweeps every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info().Dur("interval", s.interval).Dur("stale_after", s.staleAfter).Msg("recovery sweep started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("recovery sweep stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error().Err(err).Msg("recovery sweep failed")
			}
		}
	}
}

// Sweep resolves every reservation older than the staleness threshold,
// working through dates in ascending order.
func (s *Sweeper) Sweep(ctx context.Context) (Report, error) {
	ctx, span := telemetry.StartSpan(ctx, "slotplanner/recovery", "sweeper.sweep")
	defer span.End()
	telemetry.SweepRunsTotal.Inc()

	stale, err := s.store.FindStale(s.db.WithContext(ctx), s.staleAfter)
	if err != nil {
		telemetry.RecordError(span, err)
		return Report{}, err
	}
	sort.SliceStable(stale, func(i, j int) bool { return stale[i].SlotDate < stale[j].SlotDate })

	var report Report
	for i := range stale {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		rec := &stale[i]
		report.Examined++

		s.logger.Warn().
			Str("kind", string(failure.StaleReservationDetected)).
			Str("record_id", rec.ID).
			Str("item_id", rec.ItemID).
			Str("slot_date", rec.SlotDate).
			Time("reserved_at", rec.CreatedAt).
			Msg("stale reservation detected")

		resolution, err := s.resolve(ctx, rec)
		if err != nil {
			s.logger.Error().Err(err).Str("record_id", rec.ID).Msg("failed to resolve stale reservation")
			report.Skipped++
			continue
		}
		switch resolution {
		case "published":
			report.Published++
		case "released":
			report.Released++
		default:
			report.Skipped++
		}
		telemetry.StaleReservationsTotal.WithLabelValues(resolution).Inc()
	}

	telemetry.AddSpanAttributes(span, map[string]any{
		"examined":  report.Examined,
		"published": report.Published,
		"released":  report.Released,
	})
	if report.Examined > 0 {
		s.logger.Info().
			Int("examined", report.Examined).
			Int("published", report.Published).
			Int("released", report.Released).
			Int("skipped", report.Skipped).
			Msg("recovery sweep complete")
	}
	return report, nil
}

// resolve returns "published", "released" or "already_resolved".
func (s *Sweeper) resolve(ctx context.Context, rec *models.ScheduleRecord) (string, error) {
	if s.checker != nil {
		lookupCtx, cancel := context.WithTimeout(ctx, lookupTimeout)
		externalID, found, err := s.checker.Lookup(lookupCtx, publishing.Item{
			ID:       rec.ItemID,
			Type:     rec.ItemType,
			RecordID: rec.ID,
		})
		cancel()
		if err != nil {
			// Unknown remote state; the record stays reserved for the next sweep.
			return "", fmt.Errorf("lookup item %s: %w", rec.ItemID, err)
		}
		if found {
			return s.markPublished(ctx, rec, externalID)
		}
	}
	return s.release(ctx, rec)
}

func (s *Sweeper) markPublished(ctx context.Context, rec *models.ScheduleRecord, externalID string) (string, error) {
	err := s.store.MarkPublished(s.db.WithContext(ctx), rec.ID, externalID)
	if errors.Is(err, store.ErrNotReserved) {
		return "already_resolved", nil
	}
	if err != nil {
		return "", err
	}
	s.events.Publish(events.EventReservationRecovered, events.Payload{
		"record_id":   rec.ID,
		"external_id": externalID,
		"resolution":  "published",
	})
	return "published", nil
}

func (s *Sweeper) release(ctx context.Context, rec *models.ScheduleRecord) (string, error) {
	resolved := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.store.MarkFailed(tx, rec.ID, "reservation went stale before publish completed"); err != nil {
			if errors.Is(err, store.ErrNotReserved) {
				resolved = true
				return nil
			}
			return err
		}
		return s.ledger.Release(tx, rec.SlotDate, rec.ItemType)
	})
	if err != nil {
		return "", err
	}
	if resolved {
		return "already_resolved", nil
	}

	telemetry.CompensationsTotal.WithLabelValues("stale_reservation").Inc()
	s.events.Publish(events.EventReservationReleased, events.Payload{
		"record_id": rec.ID,
		"item_id":   rec.ItemID,
		"slot_date": rec.SlotDate,
		"reason":    "stale",
	})
	return "released", nil
}
