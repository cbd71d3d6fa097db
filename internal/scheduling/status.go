/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduling

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/friendsincode/slotplanner/internal/failure"
	"github.com/friendsincode/slotplanner/internal/slotpolicy"
	"github.com/friendsincode/slotplanner/internal/telemetry"
)

// SlotRemaining is the free capacity of one slot.
type SlotRemaining struct {
	Index     int       `json:"index"`
	Time      time.Time `json:"time"`
	Active    int       `json:"active"`
	Remaining int       `json:"remaining"`
}

// QuotaStatus is a point-in-time view of one date's usage. It is read
// without locks and may be slightly stale.
type QuotaStatus struct {
	Date            string          `json:"date"`
	TotalReserved   int             `json:"total_reserved"`
	DailyTotalCap   int             `json:"daily_total_cap"`
	ReservedByType  map[string]int  `json:"reserved_by_type"`
	APICostReserved int             `json:"api_cost_reserved"`
	APIDailyBudget  int             `json:"api_daily_budget"`
	RemainingBySlot []SlotRemaining `json:"remaining_by_slot"`
}

// Today returns the current calendar date in the policy location.
func (e *Engine) Today() string {
	return e.policy.DateOf(e.now())
}

// QuotaStatus reports usage for date.
func (e *Engine) QuotaStatus(ctx context.Context, date string) (QuotaStatus, error) {
	if _, err := time.Parse(slotpolicy.DateLayout, date); err != nil {
		return QuotaStatus{}, failure.New(failure.InvalidRequest, fmt.Sprintf("date %q is not YYYY-MM-DD", date))
	}

	conn := e.db.WithContext(ctx)
	rec, err := e.ledger.Status(conn, date)
	if err != nil {
		return QuotaStatus{}, failure.Wrap(failure.Internal, "read quota", err)
	}
	active, err := e.store.CountActiveByDate(conn, date)
	if err != nil {
		return QuotaStatus{}, failure.Wrap(failure.Internal, "read slot usage", err)
	}

	status := QuotaStatus{
		Date:            date,
		TotalReserved:   rec.TotalReserved,
		DailyTotalCap:   e.policy.DailyTotalCap(),
		ReservedByType:  rec.ReservedByType,
		APICostReserved: rec.APICostReserved,
		APIDailyBudget:  e.policy.APIDailyBudget(),
		RemainingBySlot: make([]SlotRemaining, 0, e.policy.SlotCount()),
	}
	for i := 0; i < e.policy.SlotCount(); i++ {
		at, err := e.policy.Time(slotpolicy.Slot{Date: date, Index: i})
		if err != nil {
			return QuotaStatus{}, failure.Wrap(failure.Internal, "slot time", err)
		}
		status.RemainingBySlot = append(status.RemainingBySlot, SlotRemaining{
			Index:     i,
			Time:      at,
			Active:    active[i],
			Remaining: max(e.policy.SlotCapacity()-active[i], 0),
		})
	}
	return status, nil
}

// Warning is one quota whose usage reached the warning threshold.
type Warning struct {
	// Quota names the limit: "daily_total", "api_budget" or "type:<item type>".
	Quota   string
	Message string
}

// Warnings describes today's quotas whose usage has reached the warning
// threshold. An empty slice means nothing is close to its limit.
func (e *Engine) Warnings(ctx context.Context) ([]string, error) {
	found, err := e.QuotaWarnings(ctx)
	if err != nil {
		return nil, err
	}
	warnings := make([]string, 0, len(found))
	for _, w := range found {
		warnings = append(warnings, w.Message)
	}
	return warnings, nil
}

// QuotaWarnings is Warnings with each message tagged by its quota.
func (e *Engine) QuotaWarnings(ctx context.Context) ([]Warning, error) {
	status, err := e.QuotaStatus(ctx, e.Today())
	if err != nil {
		return nil, err
	}

	threshold := e.policy.WarningThreshold()
	warnings := []Warning{}
	check := func(quota, name string, used, limit int) {
		if limit <= 0 {
			return
		}
		if used*100 >= threshold*limit {
			warnings = append(warnings, Warning{
				Quota: quota,
				Message: fmt.Sprintf("%s at %d%% (%d/%d) for %s",
					name, used*100/limit, used, limit, status.Date),
			})
		}
	}

	telemetry.QuotaUsageRatio.WithLabelValues("daily_total").Set(ratio(status.TotalReserved, status.DailyTotalCap))
	telemetry.QuotaUsageRatio.WithLabelValues("api_budget").Set(ratio(status.APICostReserved, status.APIDailyBudget))

	check("daily_total", "daily item cap", status.TotalReserved, status.DailyTotalCap)
	check("api_budget", "api budget", status.APICostReserved, status.APIDailyBudget)

	caps := e.policy.TypeCaps()
	types := make([]string, 0, len(caps))
	for t := range caps {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		check("type:"+t, fmt.Sprintf("%s daily cap", t), status.ReservedByType[t], caps[t])
	}
	return warnings, nil
}

func ratio(used, limit int) float64 {
	if limit <= 0 {
		return 0
	}
	return float64(used) / float64(limit)
}
