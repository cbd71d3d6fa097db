/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/slotplanner/internal/events"
)

func TestWireMessageRoundTrip(t *testing.T) {
	data, err := marshalMessage(events.EventSlotReserved, events.Payload{"record_id": "rec-1"}, "node-a")
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	msg, err := unmarshalMessage(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.EventType != events.EventSlotReserved || msg.NodeID != "node-a" || msg.Payload["record_id"] != "rec-1" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if _, err := unmarshalMessage([]byte("{")); err == nil {
		t.Fatal("expected error for malformed message")
	}
}

func TestRedisBusFallsBackToLocal(t *testing.T) {
	cfg := DefaultRedisConfig()
	cfg.Addr = "127.0.0.1:1"
	cfg.DialTimeout = 100 * time.Millisecond

	bus := NewRedisBus(cfg, "node-a", zerolog.Nop())
	defer bus.Close()

	if !bus.Local() {
		t.Fatal("expected local-only mode when redis is unreachable")
	}
	assertLocalDelivery(t, bus.Subscribe, bus.Publish)
}

func TestNATSBusFallsBackToLocal(t *testing.T) {
	cfg := DefaultNATSConfig()
	cfg.URL = "nats://127.0.0.1:1"
	cfg.Timeout = 100 * time.Millisecond

	bus := NewNATSBus(cfg, "node-a", zerolog.Nop())
	defer bus.Close()

	if !bus.Local() {
		t.Fatal("expected local-only mode when nats is unreachable")
	}
	assertLocalDelivery(t, bus.Subscribe, bus.Publish)
}

func assertLocalDelivery(t *testing.T, subscribe func(events.EventType) events.Subscriber, publish func(events.EventType, events.Payload)) {
	t.Helper()
	sub := subscribe(events.EventItemPublished)
	publish(events.EventItemPublished, events.Payload{"external_id": "ext-1"})

	select {
	case got := <-sub:
		if got["external_id"] != "ext-1" {
			t.Fatalf("unexpected payload: %v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("expected local delivery")
	}
}

var (
	_ events.Publisher = (*RedisBus)(nil)
	_ events.Publisher = (*NATSBus)(nil)
)
