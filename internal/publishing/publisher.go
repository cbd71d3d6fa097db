/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package publishing defines the boundary to the external publishing platform.
package publishing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Item is the content handed to a Publisher.
type Item struct {
	ID       string            `json:"item_id"`
	Type     string            `json:"item_type"`
	RecordID string            `json:"record_id"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Publisher commits an item to the remote platform for the given instant and
// returns the platform's identifier for it. Implementations must honour ctx.
type Publisher interface {
	Publish(ctx context.Context, item Item, scheduledTime time.Time) (string, error)
}

// StatusChecker is implemented by publishers that can report whether the
// publish attempt for one schedule record already reached the platform. The recovery sweep uses it to tell a lost
// response apart from a lost publish.
type StatusChecker interface {
	Lookup(ctx context.Context, item Item) (externalID string, found bool, err error)
}

// LogPublisher accepts every item and only logs it. Used when no platform
// endpoint is configured.
type LogPublisher struct {
	logger zerolog.Logger
}

// NewLogPublisher creates a LogPublisher.
func NewLogPublisher(logger zerolog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.With().Str("component", "log_publisher").Logger()}
}

// Publish logs the item and returns a generated id.
func (p *LogPublisher) Publish(ctx context.Context, item Item, scheduledTime time.Time) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	externalID := "log-" + uuid.NewString()
	p.logger.Info().
		Str("item_id", item.ID).
		Str("item_type", item.Type).
		Str("record_id", item.RecordID).
		Time("scheduled_time", scheduledTime).
		Str("external_id", externalID).
		Msg("item published")
	return externalID, nil
}

// PublisherFunc adapts a function to the Publisher interface.
type PublisherFunc func(ctx context.Context, item Item, scheduledTime time.Time) (string, error)

// Publish calls f.
func (f PublisherFunc) Publish(ctx context.Context, item Item, scheduledTime time.Time) (string, error) {
	return f(ctx, item, scheduledTime)
}
