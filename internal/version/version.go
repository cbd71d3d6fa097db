/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package version provides build version information.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Version is the current version of Slotplanner.
// This is set at build time via ldflags:
//
//	-X github.com/friendsincode/slotplanner/internal/version.Version=X.Y.Z
var Version = "0.1.0-dev"

// Commit returns the VCS revision embedded by the Go toolchain, if any.
func Commit() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" {
			if len(s.Value) > 12 {
				return s.Value[:12]
			}
			return s.Value
		}
	}
	return ""
}

// String formats the version for display.
func String() string {
	if c := Commit(); c != "" {
		return fmt.Sprintf("slotplanner %s (%s, %s)", Version, c, runtime.Version())
	}
	return fmt.Sprintf("slotplanner %s (%s)", Version, runtime.Version())
}
