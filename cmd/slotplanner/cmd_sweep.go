/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/friendsincode/slotplanner/internal/server"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Resolve stale reservations once and exit",
	Long: `Run a single recovery sweep.

Reservations that have stayed in the reserved state longer than
SLOTPLANNER_STALE_AFTER are checked against the platform when the publisher
supports lookups. Confirmed items are marked published, everything else is
marked failed and its quota is released.

Do not run this while a server with leader election is sweeping the same
database unless you accept that both may examine the same records; every
record is still resolved at most once.`,
	RunE: runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	components, err := server.Open(cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = components.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report, err := components.Sweeper.Sweep(ctx)
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "examined=%d published=%d released=%d skipped=%d\n",
		report.Examined, report.Published, report.Released, report.Skipped)
	return nil
}
