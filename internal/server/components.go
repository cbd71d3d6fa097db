/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/slotplanner/internal/config"
	"github.com/friendsincode/slotplanner/internal/db"
	"github.com/friendsincode/slotplanner/internal/eventbus"
	"github.com/friendsincode/slotplanner/internal/events"
	"github.com/friendsincode/slotplanner/internal/publishing"
	"github.com/friendsincode/slotplanner/internal/quota"
	"github.com/friendsincode/slotplanner/internal/recovery"
	"github.com/friendsincode/slotplanner/internal/scheduling"
	"github.com/friendsincode/slotplanner/internal/slotpolicy"
	"github.com/friendsincode/slotplanner/internal/store"
)

// Bus is the event bus surface shared by the in-memory, Redis and NATS
// implementations.
type Bus interface {
	events.Publisher
	Subscribe(eventType events.EventType) events.Subscriber
	Unsubscribe(eventType events.EventType, sub events.Subscriber)
}

// Components holds the scheduling stack without any HTTP surface. The CLI
// uses it directly for one-shot commands.
type Components struct {
	InstanceID string
	DB         *gorm.DB
	Policy     *slotpolicy.Policy
	Ledger     *quota.Ledger
	Store      *store.Store
	Publisher  publishing.Publisher
	Bus        Bus
	Engine     *scheduling.Engine
	Sweeper    *recovery.Sweeper

	closers []func() error
}

// Open connects to the database, applies migrations and wires the engine and
// sweeper.
func Open(cfg *config.Config, logger zerolog.Logger) (*Components, error) {
	c := &Components{InstanceID: cfg.InstanceID}
	if c.InstanceID == "" {
		c.InstanceID = uuid.NewString()
	}

	database, err := db.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	c.deferClose(func() error { return db.Close(database) })
	if err := db.RegisterCallbacks(database); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("register db callbacks: %w", err)
	}
	if err := db.Migrate(database); err != nil {
		_ = c.Close()
		return nil, err
	}
	c.DB = database

	policy, err := slotpolicy.New(cfg.Policy)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	c.Policy = policy
	c.Ledger = quota.NewLedger(policy, cfg.LockTimeout)
	c.Store = store.New()
	c.Publisher = newPublisher(cfg, logger)
	c.Bus = c.newBus(cfg, logger)

	c.Engine = scheduling.New(database, policy, c.Ledger, c.Store, c.Publisher, scheduling.Config{
		LockRetries:      cfg.LockRetries,
		LockRetryBackoff: cfg.LockRetryBackoff,
		PublishTimeout:   cfg.PublishTimeout,
	}, logger).WithEvents(c.Bus)

	c.Sweeper = recovery.NewSweeper(database, c.Ledger, c.Store, c.Publisher,
		cfg.SweepInterval, cfg.StaleAfter, logger).WithEvents(c.Bus)

	return c, nil
}

func newPublisher(cfg *config.Config, logger zerolog.Logger) publishing.Publisher {
	if cfg.PublisherURL == "" {
		logger.Warn().Msg("SLOTPLANNER_PUBLISHER_URL not set, publishes are only logged")
		return publishing.NewLogPublisher(logger)
	}
	logger.Info().Str("url", cfg.PublisherURL).Msg("http publisher configured")
	return publishing.NewHTTPPublisher(cfg.PublisherURL, cfg.PublisherToken, cfg.PublishTimeout)
}

func (c *Components) newBus(cfg *config.Config, logger zerolog.Logger) Bus {
	switch cfg.EventBusBackend {
	case config.EventBusRedis:
		redisCfg := eventbus.DefaultRedisConfig()
		redisCfg.Addr = cfg.RedisAddr
		redisCfg.Password = cfg.RedisPassword
		redisCfg.DB = cfg.RedisDB
		bus := eventbus.NewRedisBus(redisCfg, c.InstanceID, logger)
		c.deferClose(bus.Close)
		return bus
	case config.EventBusNATS:
		natsCfg := eventbus.DefaultNATSConfig()
		natsCfg.URL = cfg.NATSURL
		bus := eventbus.NewNATSBus(natsCfg, c.InstanceID, logger)
		c.deferClose(bus.Close)
		return bus
	default:
		return events.NewBus()
	}
}

func (c *Components) deferClose(fn func() error) {
	c.closers = append(c.closers, fn)
}

// Close releases owned resources in reverse order.
func (c *Components) Close() error {
	var firstErr error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.closers = nil
	return firstErr
}
