/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package publishing

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// HTTPPublisher talks to a platform exposing POST /v1/publish and
// GET /v1/publish/{idempotency_key}.
type HTTPPublisher struct {
	client *resty.Client
}

type publishRequest struct {
	ItemID        string            `json:"item_id"`
	ItemType      string            `json:"item_type"`
	ScheduledTime time.Time         `json:"scheduled_time"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

type publishResponse struct {
	ExternalID string `json:"external_id"`
}

type itemResponse struct {
	ItemID     string `json:"item_id"`
	ExternalID string `json:"external_id"`
	Published  bool   `json:"published"`
}

// NewHTTPPublisher creates a publisher for baseURL. token, when set, is sent
// as a bearer credential. timeout bounds each request in addition to the
// caller's context.
func NewHTTPPublisher(baseURL, token string, timeout time.Duration) *HTTPPublisher {
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Accept", "application/json")
	if timeout > 0 {
		client.SetTimeout(timeout)
	}
	if token != "" {
		client.SetAuthToken(token)
	}
	return &HTTPPublisher{client: client}
}

// Publish posts the item. The record id is sent as Idempotency-Key so a
// retried request cannot publish twice.
func (p *HTTPPublisher) Publish(ctx context.Context, item Item, scheduledTime time.Time) (string, error) {
	var out publishResponse
	req := p.client.R().
		SetContext(ctx).
		SetBody(publishRequest{
			ItemID:        item.ID,
			ItemType:      item.Type,
			ScheduledTime: scheduledTime.UTC(),
			Metadata:      item.Metadata,
		}).
		SetResult(&out)
	if item.RecordID != "" {
		req.SetHeader("Idempotency-Key", item.RecordID)
	}

	rsp, err := req.Post("/v1/publish")
	if err != nil {
		return "", fmt.Errorf("publish %s: %w", item.ID, err)
	}
	if rsp.IsError() {
		return "", fmt.Errorf("publish %s: http status %d: %s", item.ID, rsp.StatusCode(), strings.TrimSpace(rsp.String()))
	}
	if out.ExternalID == "" {
		return "", fmt.Errorf("publish %s: response missing external_id", item.ID)
	}
	return out.ExternalID, nil
}

// Lookup reports whether the publish keyed by item.RecordID reached the
// platform. Another record's publish of the same item does not count.
func (p *HTTPPublisher) Lookup(ctx context.Context, item Item) (string, bool, error) {
	if item.RecordID == "" {
		return "", false, fmt.Errorf("lookup %s: record id required", item.ID)
	}

	var out itemResponse
	rsp, err := p.client.R().
		SetContext(ctx).
		SetPathParam("key", item.RecordID).
		SetResult(&out).
		Get("/v1/publish/{key}")
	if err != nil {
		return "", false, fmt.Errorf("lookup %s: %w", item.RecordID, err)
	}
	if rsp.StatusCode() == http.StatusNotFound {
		return "", false, nil
	}
	if rsp.IsError() {
		return "", false, fmt.Errorf("lookup %s: http status %d", item.RecordID, rsp.StatusCode())
	}
	if out.ItemID != "" && out.ItemID != item.ID {
		return "", false, fmt.Errorf("lookup %s: key belongs to item %s, not %s", item.RecordID, out.ItemID, item.ID)
	}
	if !out.Published || out.ExternalID == "" {
		return "", false, nil
	}
	return out.ExternalID, true, nil
}
