/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package scheduling places content items into publishing slots. It reserves
// quota and slot capacity in one short transaction, calls the Publisher after
// commit, and compensates when the publish fails.
package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/slotplanner/internal/db"
	"github.com/friendsincode/slotplanner/internal/events"
	"github.com/friendsincode/slotplanner/internal/failure"
	"github.com/friendsincode/slotplanner/internal/models"
	"github.com/friendsincode/slotplanner/internal/publishing"
	"github.com/friendsincode/slotplanner/internal/quota"
	"github.com/friendsincode/slotplanner/internal/slotpolicy"
	"github.com/friendsincode/slotplanner/internal/store"
	"github.com/friendsincode/slotplanner/internal/telemetry"
)

const tracerName = "slotplanner/scheduling"

// errRejected rolls back a candidate transaction that failed a cap check.
var errRejected = errors.New("candidate rejected")

// Request asks for one item to be scheduled.
type Request struct {
	ItemID        string
	ItemType      string
	PreferredTime *time.Time
	Force         bool
	Metadata      map[string]string
}

// Result describes a published item.
type Result struct {
	RecordID      string
	ScheduledTime time.Time
	ExternalID    string
}

// Config tunes the engine's retry and timeout behaviour.
type Config struct {
	LockRetries      int
	LockRetryBackoff time.Duration
	PublishTimeout   time.Duration
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		LockRetries:      3,
		LockRetryBackoff: 100 * time.Millisecond,
		PublishTimeout:   2 * time.Minute,
	}
}

// Engine schedules items. It holds no counters of its own; all coordination
// goes through row locks in the database.
type Engine struct {
	db        *gorm.DB
	policy    *slotpolicy.Policy
	ledger    *quota.Ledger
	store     *store.Store
	publisher publishing.Publisher
	events    events.Publisher
	cfg       Config
	logger    zerolog.Logger
	now       func() time.Time

	// attempt runs one candidate reservation; tests replace it.
	attempt func(ctx context.Context, req Request, slot slotpolicy.Slot, explicit bool) (*models.ScheduleRecord, failure.Kind, error)
}

// New creates an Engine.
func New(db *gorm.DB, policy *slotpolicy.Policy, ledger *quota.Ledger, st *store.Store,
	publisher publishing.Publisher, cfg Config, logger zerolog.Logger) *Engine {
	def := DefaultConfig()
	if cfg.LockRetries < 0 {
		cfg.LockRetries = 0
	}
	if cfg.LockRetryBackoff <= 0 {
		cfg.LockRetryBackoff = def.LockRetryBackoff
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = def.PublishTimeout
	}
	e := &Engine{
		db:        db,
		policy:    policy,
		ledger:    ledger,
		store:     st,
		publisher: publisher,
		events:    events.Discard{},
		cfg:       cfg,
		logger:    logger.With().Str("component", "scheduling_engine").Logger(),
		now:       time.Now,
	}
	e.attempt = e.tryCandidate
	return e
}

// WithEvents publishes lifecycle events to pub.
func (e *Engine) WithEvents(pub events.Publisher) *Engine {
	if pub != nil {
		e.events = pub
	}
	return e
}

// WithClock replaces the wall clock.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Policy returns the slot policy in force.
func (e *Engine) Policy() *slotpolicy.Policy {
	return e.policy
}

// Schedule reserves a slot for req, publishes the item and records the
// outcome. Errors carry a failure.Kind.
func (e *Engine) Schedule(ctx context.Context, req Request) (Result, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "engine.schedule")
	defer span.End()
	telemetry.AddSpanAttributes(span, map[string]any{
		"item.id":   req.ItemID,
		"item.type": req.ItemType,
		"force":     req.Force,
	})

	res, err := e.schedule(ctx, req)
	outcome := "scheduled"
	if err != nil {
		outcome = string(failure.KindOf(err))
		telemetry.RecordError(span, err)
	} else {
		telemetry.AddSpanAttributes(span, map[string]any{
			"record.id":      res.RecordID,
			"scheduled_time": res.ScheduledTime,
		})
	}
	telemetry.ScheduleRequestsTotal.WithLabelValues(outcome).Inc()
	return res, err
}

func (e *Engine) schedule(ctx context.Context, req Request) (Result, error) {
	if err := validateRequest(req); err != nil {
		return Result{}, err
	}

	now := e.now().UTC()
	start, explicit, err := resolveStart(e.policy, req, now)
	if err != nil {
		return Result{}, err
	}

	rec, err := e.reserve(ctx, req, start, explicit)
	if err != nil {
		return Result{}, err
	}

	e.events.Publish(events.EventSlotReserved, events.Payload{
		"record_id":      rec.ID,
		"item_id":        rec.ItemID,
		"item_type":      rec.ItemType,
		"scheduled_time": rec.ScheduledTime,
		"forced":         rec.Forced,
	})

	return e.publish(ctx, req, rec)
}

// reserve walks candidate slots from start until one accepts the item.
func (e *Engine) reserve(ctx context.Context, req Request, start slotpolicy.Slot, explicit bool) (*models.ScheduleRecord, error) {
	horizon, err := e.policy.Horizon(start.Date)
	if err != nil {
		return nil, failure.Wrap(failure.Internal, "compute horizon", err)
	}

	logger := e.logger.With().Str("item_id", req.ItemID).Str("item_type", req.ItemType).Logger()

	for slot := start; slot.Date <= horizon; {
		if err := ctx.Err(); err != nil {
			return nil, failure.Wrap(failure.Internal, "scheduling cancelled", err)
		}

		rec, kind, err := e.reserveWithRetry(ctx, req, slot, explicit)
		if err != nil && kind == "" {
			return nil, err
		}
		if kind == "" {
			logger.Debug().Str("slot_date", slot.Date).Int("slot_index", slot.Index).Str("record_id", rec.ID).Msg("slot reserved")
			return rec, nil
		}

		telemetry.ProbeRejectionsTotal.WithLabelValues(string(kind)).Inc()
		logger.Debug().Str("slot_date", slot.Date).Int("slot_index", slot.Index).Str("reason", string(kind)).Msg("candidate rejected")

		if explicit {
			if kind == failure.LockTimeout {
				return nil, failure.Wrap(failure.LockTimeout, "preferred slot "+slotLabel(slot), err)
			}
			return nil, failure.New(kind, "preferred slot "+slotLabel(slot))
		}

		switch kind {
		case failure.DailyCapExceeded, failure.APIBudgetExceeded:
			slot, err = e.policy.FirstSlotOf(slot.Date, 1)
		default:
			slot, err = e.policy.NextSlotAfter(slot)
		}
		if err != nil {
			return nil, failure.Wrap(failure.Internal, "advance slot", err)
		}
	}

	return nil, failure.New(failure.NoSlotAvailable,
		fmt.Sprintf("no slot accepts a %s item between %s and %s", req.ItemType, start.Date, horizon))
}

// reserveWithRetry attempts one candidate, retrying lock timeouts with
// exponential backoff. A non-empty kind means the candidate was rejected; an
// error with an empty kind is fatal to the request.
func (e *Engine) reserveWithRetry(ctx context.Context, req Request, slot slotpolicy.Slot, explicit bool) (*models.ScheduleRecord, failure.Kind, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.cfg.LockRetryBackoff
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(e.cfg.LockRetries)), ctx)

	var (
		rec  *models.ScheduleRecord
		kind failure.Kind
	)
	err := backoff.Retry(func() error {
		var err error
		rec, kind, err = e.attempt(ctx, req, slot, explicit)
		if err == nil {
			return nil
		}
		if failure.IsKind(err, failure.LockTimeout) {
			telemetry.LockTimeoutsTotal.Inc()
			return err
		}
		return backoff.Permanent(err)
	}, policy)

	switch {
	case err == nil:
		return rec, kind, nil
	case failure.IsKind(err, failure.LockTimeout):
		return nil, failure.LockTimeout, err
	case ctx.Err() != nil:
		return nil, "", failure.Wrap(failure.Internal, "scheduling cancelled", ctx.Err())
	default:
		return nil, "", failure.Wrap(failure.Internal, "reserve "+slotLabel(slot), err)
	}
}

// tryCandidate runs the reservation transaction for one slot: ledger check,
// slot capacity check, then insert. Any rejection rolls the whole
// transaction back. Force skips the capacity check only for the slot the
// caller asked for.
func (e *Engine) tryCandidate(ctx context.Context, req Request, slot slotpolicy.Slot, explicit bool) (*models.ScheduleRecord, failure.Kind, error) {
	at, err := e.policy.Time(slot)
	if err != nil {
		return nil, "", err
	}

	var (
		rec  *models.ScheduleRecord
		kind failure.Kind
	)
	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, k, err := e.ledger.CheckAndReserve(tx, slot.Date, req.ItemType)
		if err != nil {
			return err
		}
		if !ok {
			kind = k
			return errRejected
		}

		forced := explicit && req.Force
		if !forced {
			active, err := e.store.CountActiveInSlot(tx, slot.Date, slot.Index)
			if err != nil {
				return err
			}
			if active >= e.policy.SlotCapacity() {
				kind = failure.SlotCapacityExceeded
				return errRejected
			}
		}

		r := &models.ScheduleRecord{
			ItemID:        req.ItemID,
			ItemType:      req.ItemType,
			ScheduledTime: at,
			SlotDate:      slot.Date,
			SlotIndex:     slot.Index,
			Forced:        forced,
		}
		if err := e.store.Insert(tx, r); err != nil {
			return err
		}
		rec = r
		return nil
	})
	if errors.Is(err, errRejected) {
		return nil, kind, nil
	}
	if err != nil && !failure.IsKind(err, failure.LockTimeout) && db.IsLockTimeout(err) {
		err = failure.Wrap(failure.LockTimeout, "reserve "+slotLabel(slot), err)
	}
	if err != nil {
		return nil, "", err
	}
	return rec, "", nil
}

// publish calls the Publisher for a committed reservation and records the outcome.
func (e *Engine) publish(ctx context.Context, req Request, rec *models.ScheduleRecord) (Result, error) {
	item := publishing.Item{
		ID:       rec.ItemID,
		Type:     rec.ItemType,
		RecordID: rec.ID,
		Metadata: req.Metadata,
	}

	pubCtx, cancel := context.WithTimeout(ctx, e.cfg.PublishTimeout)
	started := time.Now()
	externalID, err := e.publisher.Publish(pubCtx, item, rec.ScheduledTime)
	cancel()
	if err == nil && externalID == "" {
		err = errors.New("publisher returned an empty external id")
	}

	// The outcome must be recorded even if the caller has gone away.
	bg := context.WithoutCancel(ctx)

	if err != nil {
		telemetry.PublishDuration.WithLabelValues("error").Observe(time.Since(started).Seconds())
		e.compensate(bg, rec, err)
		return Result{}, failure.Wrap(failure.PublisherError, "", err)
	}
	telemetry.PublishDuration.WithLabelValues("success").Observe(time.Since(started).Seconds())

	if err := e.confirm(bg, rec, externalID); err != nil {
		return Result{}, err
	}

	e.events.Publish(events.EventItemPublished, events.Payload{
		"record_id":      rec.ID,
		"item_id":        rec.ItemID,
		"external_id":    externalID,
		"scheduled_time": rec.ScheduledTime,
	})

	return Result{
		RecordID:      rec.ID,
		ScheduledTime: rec.ScheduledTime,
		ExternalID:    externalID,
	}, nil
}

// compensate undoes a reservation whose publish failed. A record that is no
// longer reserved was already resolved by the recovery sweep and is left alone.
func (e *Engine) compensate(ctx context.Context, rec *models.ScheduleRecord, cause error) {
	logger := e.logger.With().Str("record_id", rec.ID).Str("item_id", rec.ItemID).Logger()

	released := false
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := e.store.MarkFailed(tx, rec.ID, cause.Error()); err != nil {
			if errors.Is(err, store.ErrNotReserved) {
				return nil
			}
			return err
		}
		released = true
		return e.ledger.Release(tx, rec.SlotDate, rec.ItemType)
	})
	if err != nil {
		// Left reserved; the recovery sweep will release it once stale.
		logger.Error().Err(err).AnErr("publish_error", cause).Msg("compensation failed")
		return
	}
	if !released {
		logger.Warn().AnErr("publish_error", cause).Msg("reservation already resolved, skipping compensation")
		return
	}

	telemetry.CompensationsTotal.WithLabelValues("publish_failure").Inc()
	logger.Warn().AnErr("publish_error", cause).Msg("publish failed, reservation released")
	e.events.Publish(events.EventReservationReleased, events.Payload{
		"record_id": rec.ID,
		"item_id":   rec.ItemID,
		"slot_date": rec.SlotDate,
		"reason":    "publish_failure",
	})
}

// confirm marks a reservation published. If the sweep already released it,
// the quota is taken back unconditionally since the item did go out.
func (e *Engine) confirm(ctx context.Context, rec *models.ScheduleRecord, externalID string) error {
	logger := e.logger.With().Str("record_id", rec.ID).Str("external_id", externalID).Logger()

	late := false
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := e.store.MarkPublished(tx, rec.ID, externalID)
		if !errors.Is(err, store.ErrNotReserved) {
			return err
		}

		current, err := e.store.Get(tx, rec.ID)
		if err != nil {
			return err
		}
		switch current.Status {
		case models.ScheduleStatusPublished:
			// The sweep confirmed it through a platform lookup.
			return nil
		case models.ScheduleStatusFailed:
		default:
			return fmt.Errorf("record %s is %s", rec.ID, current.Status)
		}
		if err := e.store.ReconcilePublished(tx, rec.ID, externalID); err != nil {
			return err
		}
		late = true
		return e.ledger.Reacquire(tx, rec.SlotDate, rec.ItemType)
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to record publish; record left for recovery")
		return failure.Wrap(failure.Internal, "record publish of "+rec.ID, err)
	}

	if late {
		telemetry.StaleReservationsTotal.WithLabelValues("late_success").Inc()
		logger.Warn().
			Str("kind", string(failure.StaleReservationDetected)).
			Msg("publish confirmed after reservation was released; quota reacquired")
		e.events.Publish(events.EventReservationRecovered, events.Payload{
			"record_id":   rec.ID,
			"external_id": externalID,
			"resolution":  "late_success",
		})
	}
	return nil
}

func slotLabel(slot slotpolicy.Slot) string {
	return fmt.Sprintf("%s#%d", slot.Date, slot.Index)
}
