/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package slotpolicy describes the fixed daily publish slots and the caps that
// apply to them. A Policy is immutable once constructed.
package slotpolicy

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DateLayout is the storage format of calendar dates.
const DateLayout = "2006-01-02"

const (
	defaultProbeDays        = 14
	defaultWarningThreshold = 80
)

// ErrInvalidPolicy is returned for configurations that violate the policy invariants.
var ErrInvalidPolicy = errors.New("invalid slot policy")

// Config is the declarative form of a Policy, as read from YAML or env.
type Config struct {
	Location                string         `yaml:"location"`
	TimeSlots               []string       `yaml:"time_slots"`
	SlotCapacity            int            `yaml:"slot_capacity"`
	DailyTotalCap           int            `yaml:"daily_total_cap"`
	PerTypeDailyCap         map[string]int `yaml:"per_type_daily_cap"`
	APICostPerPublish       int            `yaml:"api_cost_per_publish"`
	APIDailyBudget          int            `yaml:"api_daily_budget"`
	ProbeDays               int            `yaml:"probe_days"`
	// WarningThresholdPercent is nil when unset; 0 warns on every quota.
	WarningThresholdPercent *int           `yaml:"warning_threshold_percent"`
}

// DefaultConfig returns three slots at 08:00, 14:00 and 20:00 UTC with two
// items per slot.
func DefaultConfig() Config {
	return Config{
		Location:                "UTC",
		TimeSlots:               []string{"08:00", "14:00", "20:00"},
		SlotCapacity:            2,
		DailyTotalCap:           6,
		PerTypeDailyCap:         map[string]int{},
		APICostPerPublish:       1600,
		APIDailyBudget:          10000,
		ProbeDays:               defaultProbeDays,
	}
}

// LoadFile reads a YAML policy file. Unset fields keep their DefaultConfig values.
func LoadFile(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read policy file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse policy file: %w", err)
	}
	return cfg, nil
}

// TimeOfDay is a wall-clock time within a day.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses "HH:MM".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("parse time of day %q: %w", s, err)
	}
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}, nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

func (t TimeOfDay) minutes() int { return t.Hour*60 + t.Minute }

// Slot identifies one slot on one calendar date.
type Slot struct {
	Date  string
	Index int
}

// Policy is the validated, immutable slot policy.
type Policy struct {
	loc              *time.Location
	slots            []TimeOfDay
	slotCapacity     int
	dailyTotalCap    int
	perTypeDailyCap  map[string]int
	apiCostPerItem   int
	apiDailyBudget   int
	probeDays        int
	warningThreshold int
}

// New validates cfg and builds a Policy.
func New(cfg Config) (*Policy, error) {
	locName := cfg.Location
	if locName == "" {
		locName = "UTC"
	}
	loc, err := time.LoadLocation(locName)
	if err != nil {
		return nil, fmt.Errorf("%w: location %q: %v", ErrInvalidPolicy, locName, err)
	}

	if len(cfg.TimeSlots) == 0 {
		return nil, fmt.Errorf("%w: at least one time slot is required", ErrInvalidPolicy)
	}
	slots := make([]TimeOfDay, 0, len(cfg.TimeSlots))
	for _, raw := range cfg.TimeSlots {
		tod, err := ParseTimeOfDay(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPolicy, err)
		}
		slots = append(slots, tod)
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i].minutes() < slots[j].minutes() })
	for i := 1; i < len(slots); i++ {
		if slots[i].minutes() == slots[i-1].minutes() {
			return nil, fmt.Errorf("%w: duplicate time slot %s", ErrInvalidPolicy, slots[i])
		}
	}

	if cfg.SlotCapacity <= 0 {
		return nil, fmt.Errorf("%w: slot capacity must be positive", ErrInvalidPolicy)
	}
	if cfg.DailyTotalCap <= 0 {
		return nil, fmt.Errorf("%w: daily total cap must be positive", ErrInvalidPolicy)
	}
	if cfg.DailyTotalCap > cfg.SlotCapacity*len(slots) {
		return nil, fmt.Errorf("%w: daily total cap %d exceeds %d slots x capacity %d",
			ErrInvalidPolicy, cfg.DailyTotalCap, len(slots), cfg.SlotCapacity)
	}
	if cfg.APICostPerPublish < 0 {
		return nil, fmt.Errorf("%w: api cost per publish must not be negative", ErrInvalidPolicy)
	}
	if cfg.APIDailyBudget <= 0 {
		return nil, fmt.Errorf("%w: api daily budget must be positive", ErrInvalidPolicy)
	}
	if cfg.APICostPerPublish > cfg.APIDailyBudget {
		return nil, fmt.Errorf("%w: a single publish costs more than the daily api budget", ErrInvalidPolicy)
	}

	typeCaps := make(map[string]int, len(cfg.PerTypeDailyCap))
	for itemType, limit := range cfg.PerTypeDailyCap {
		if strings.TrimSpace(itemType) == "" {
			return nil, fmt.Errorf("%w: empty item type in per-type caps", ErrInvalidPolicy)
		}
		if limit < 0 {
			return nil, fmt.Errorf("%w: cap for type %q must not be negative", ErrInvalidPolicy, itemType)
		}
		typeCaps[itemType] = limit
	}

	probeDays := cfg.ProbeDays
	if probeDays <= 0 {
		probeDays = defaultProbeDays
	}
	threshold := defaultWarningThreshold
	if cfg.WarningThresholdPercent != nil {
		threshold = *cfg.WarningThresholdPercent
	}
	if threshold < 0 || threshold > 100 {
		return nil, fmt.Errorf("%w: warning threshold must be within 0-100", ErrInvalidPolicy)
	}

	return &Policy{
		loc:              loc,
		slots:            slots,
		slotCapacity:     cfg.SlotCapacity,
		dailyTotalCap:    cfg.DailyTotalCap,
		perTypeDailyCap:  typeCaps,
		apiCostPerItem:   cfg.APICostPerPublish,
		apiDailyBudget:   cfg.APIDailyBudget,
		probeDays:        probeDays,
		warningThreshold: threshold,
	}, nil
}

func (p *Policy) Location() *time.Location { return p.loc }
func (p *Policy) SlotCount() int           { return len(p.slots) }
func (p *Policy) SlotCapacity() int        { return p.slotCapacity }
func (p *Policy) DailyTotalCap() int       { return p.dailyTotalCap }
func (p *Policy) APICostPerPublish() int   { return p.apiCostPerItem }
func (p *Policy) APIDailyBudget() int      { return p.apiDailyBudget }
func (p *Policy) ProbeDays() int           { return p.probeDays }
func (p *Policy) WarningThreshold() int    { return p.warningThreshold }

// TimeSlots returns a copy of the ordered slot times.
func (p *Policy) TimeSlots() []TimeOfDay {
	return append([]TimeOfDay(nil), p.slots...)
}

// TypeCap returns the daily cap for itemType. Types without a configured cap
// are limited only by the daily total.
func (p *Policy) TypeCap(itemType string) (int, bool) {
	limit, ok := p.perTypeDailyCap[itemType]
	return limit, ok
}

// TypeCaps returns a copy of the per-type caps.
func (p *Policy) TypeCaps() map[string]int {
	out := make(map[string]int, len(p.perTypeDailyCap))
	for k, v := range p.perTypeDailyCap {
		out[k] = v
	}
	return out
}

// DateOf returns the calendar date of t in the policy location.
func (p *Policy) DateOf(t time.Time) string {
	return t.In(p.loc).Format(DateLayout)
}

// AddDays shifts a calendar date by n days.
func (p *Policy) AddDays(date string, n int) (string, error) {
	d, err := time.Parse(DateLayout, date)
	if err != nil {
		return "", fmt.Errorf("parse date %q: %w", date, err)
	}
	return d.AddDate(0, 0, n).Format(DateLayout), nil
}

// Time returns the UTC instant of slot.
func (p *Policy) Time(slot Slot) (time.Time, error) {
	if slot.Index < 0 || slot.Index >= len(p.slots) {
		return time.Time{}, fmt.Errorf("slot index %d out of range", slot.Index)
	}
	d, err := time.ParseInLocation(DateLayout, slot.Date, p.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", slot.Date, err)
	}
	tod := p.slots[slot.Index]
	return time.Date(d.Year(), d.Month(), d.Day(), tod.Hour, tod.Minute, 0, 0, p.loc).UTC(), nil
}

// SlotFor snaps t to the nearest slot at or after it.
func (p *Policy) SlotFor(t time.Time) Slot {
	local := t.In(p.loc)
	date := local.Format(DateLayout)
	for i, tod := range p.slots {
		at := time.Date(local.Year(), local.Month(), local.Day(), tod.Hour, tod.Minute, 0, 0, p.loc)
		if !at.Before(t) {
			return Slot{Date: date, Index: i}
		}
	}
	next := time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, p.loc)
	return Slot{Date: next.Format(DateLayout), Index: 0}
}

// NextSlotAfter steps to the following slot, rolling into the next date after
// the last slot of a day.
func (p *Policy) NextSlotAfter(slot Slot) (Slot, error) {
	if slot.Index+1 < len(p.slots) {
		return Slot{Date: slot.Date, Index: slot.Index + 1}, nil
	}
	return p.FirstSlotOf(slot.Date, 1)
}

// FirstSlotOf returns the first slot of the date offset days after date.
func (p *Policy) FirstSlotOf(date string, offset int) (Slot, error) {
	next, err := p.AddDays(date, offset)
	if err != nil {
		return Slot{}, err
	}
	return Slot{Date: next, Index: 0}, nil
}

// Horizon returns the last calendar date a probe starting at date may reach.
func (p *Policy) Horizon(date string) (string, error) {
	return p.AddDays(date, p.probeDays-1)
}
