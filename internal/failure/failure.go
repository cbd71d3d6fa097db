/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package failure defines the error kinds shared by the ledger, the store and
// the scheduling engine.
package failure

import (
	"errors"
	"fmt"
)

// Kind classifies a scheduling failure.
type Kind string

const (
	SlotCapacityExceeded     Kind = "SlotCapacityExceeded"
	DailyCapExceeded         Kind = "DailyCapExceeded"
	TypeCapExceeded          Kind = "TypeCapExceeded"
	APIBudgetExceeded        Kind = "ApiBudgetExceeded"
	LockTimeout              Kind = "LockTimeout"
	NoSlotAvailable          Kind = "NoSlotAvailable"
	PublisherError           Kind = "PublisherError"
	StaleReservationDetected Kind = "StaleReservationDetected"
	InvalidRequest           Kind = "InvalidRequest"
	Internal                 Kind = "Internal"
)

// Error is a classified error. Err, when set, is the underlying cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports a match when target is a *Error of the same kind, so callers can
// write errors.Is(err, failure.New(failure.LockTimeout, "")).
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind && t.Message == "" && t.Err == nil
	}
	return false
}

// New returns a classified error without a cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap returns a classified error wrapping err.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or Internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
