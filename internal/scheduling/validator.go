/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduling

import (
	"fmt"
	"strings"
	"time"

	"github.com/friendsincode/slotplanner/internal/failure"
	"github.com/friendsincode/slotplanner/internal/slotpolicy"
)

const (
	maxItemIDLength   = 128
	maxItemTypeLength = 64
)

// validateRequest checks the fields that do not depend on the clock.
func validateRequest(req Request) error {
	var problems []string

	switch id := strings.TrimSpace(req.ItemID); {
	case id == "":
		problems = append(problems, "item_id is required")
	case len(id) > maxItemIDLength:
		problems = append(problems, fmt.Sprintf("item_id exceeds %d characters", maxItemIDLength))
	}

	switch typ := strings.TrimSpace(req.ItemType); {
	case typ == "":
		problems = append(problems, "item_type is required")
	case len(typ) > maxItemTypeLength:
		problems = append(problems, fmt.Sprintf("item_type exceeds %d characters", maxItemTypeLength))
	}

	for k := range req.Metadata {
		if strings.TrimSpace(k) == "" {
			problems = append(problems, "metadata keys must not be empty")
			break
		}
	}

	if req.PreferredTime != nil && req.PreferredTime.IsZero() {
		problems = append(problems, "preferred_time must not be the zero time")
	}

	if len(problems) > 0 {
		return failure.New(failure.InvalidRequest, strings.Join(problems, "; "))
	}
	return nil
}

// resolveStart returns the first candidate slot and whether it came from an
// explicit preferred time.
func resolveStart(policy *slotpolicy.Policy, req Request, now time.Time) (slotpolicy.Slot, bool, error) {
	if req.PreferredTime == nil {
		return policy.SlotFor(now), false, nil
	}

	preferred := req.PreferredTime.UTC()
	if preferred.Before(now) {
		return slotpolicy.Slot{}, true, failure.New(failure.InvalidRequest,
			fmt.Sprintf("preferred_time %s is in the past", preferred.Format(time.RFC3339)))
	}

	slot := policy.SlotFor(preferred)
	horizon, err := policy.Horizon(policy.DateOf(now))
	if err != nil {
		return slotpolicy.Slot{}, true, err
	}
	if slot.Date > horizon {
		return slotpolicy.Slot{}, true, failure.New(failure.InvalidRequest,
			fmt.Sprintf("preferred_time %s is beyond the scheduling horizon %s", preferred.Format(time.RFC3339), horizon))
	}
	return slot, true, nil
}
