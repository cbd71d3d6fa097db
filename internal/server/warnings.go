/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/friendsincode/slotplanner/internal/events"
	"github.com/friendsincode/slotplanner/internal/scheduling"
)

// warningSource is the part of scheduling.Engine the monitor reads.
type warningSource interface {
	Today() string
	QuotaWarnings(ctx context.Context) ([]scheduling.Warning, error)
}

// warningMonitor re-evaluates quota warnings after every publish and emits
// one warning per quota per date, at the first usage level that crosses the
// threshold.
type warningMonitor struct {
	source warningSource
	bus    Bus
	logger zerolog.Logger

	date string
	seen map[string]struct{}
}

func newWarningMonitor(source warningSource, bus Bus, logger zerolog.Logger) *warningMonitor {
	return &warningMonitor{
		source: source,
		bus:    bus,
		logger: logger.With().Str("component", "quota_warnings").Logger(),
		seen:   make(map[string]struct{}),
	}
}

// Run listens for publish and recovery events until ctx is cancelled.
func (m *warningMonitor) Run(ctx context.Context) {
	published := m.bus.Subscribe(events.EventItemPublished)
	recovered := m.bus.Subscribe(events.EventReservationRecovered)
	defer func() {
		m.bus.Unsubscribe(events.EventItemPublished, published)
		m.bus.Unsubscribe(events.EventReservationRecovered, recovered)
	}()

	m.logger.Info().Msg("quota warning monitor started")

	for {
		select {
		case <-ctx.Done():
			m.logger.Info().Msg("quota warning monitor stopped")
			return
		case <-published:
			m.check(ctx)
		case <-recovered:
			m.check(ctx)
		}
	}
}

func (m *warningMonitor) check(ctx context.Context) {
	if today := m.source.Today(); today != m.date {
		m.date = today
		clear(m.seen)
	}

	warnings, err := m.source.QuotaWarnings(ctx)
	if err != nil {
		m.logger.Error().Err(err).Msg("evaluate quota warnings")
		return
	}
	for _, w := range warnings {
		if _, ok := m.seen[w.Quota]; ok {
			continue
		}
		m.seen[w.Quota] = struct{}{}
		m.logger.Warn().Str("date", m.date).Str("quota", w.Quota).Msg(w.Message)
		m.bus.Publish(events.EventQuotaWarning, events.Payload{
			"date":    m.date,
			"quota":   w.Quota,
			"warning": w.Message,
		})
	}
}
