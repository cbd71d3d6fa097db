/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/friendsincode/slotplanner/internal/scheduling"
	"github.com/friendsincode/slotplanner/internal/server"
)

var (
	quotaDate string
	quotaJSON bool
)

var quotaCmd = &cobra.Command{
	Use:   "quota",
	Short: "Print quota usage for a date",
	Long: `Print ledger usage and free slot capacity for one calendar date.

Examples:
  # Today's usage in the policy time zone
  slotplanner quota

  # A specific date as JSON
  slotplanner quota --date 2026-03-10 --json
`,
	RunE: runQuota,
}

func init() {
	quotaCmd.Flags().StringVar(&quotaDate, "date", "today", "Calendar date (YYYY-MM-DD or today)")
	quotaCmd.Flags().BoolVar(&quotaJSON, "json", false, "Print JSON instead of text")
	rootCmd.AddCommand(quotaCmd)
}

func runQuota(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	components, err := server.Open(cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = components.Close() }()

	date := quotaDate
	if date == "" || date == "today" {
		date = components.Engine.Today()
	}

	status, err := components.Engine.QuotaStatus(cmd.Context(), date)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if quotaJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}
	printQuota(out, status)
	return nil
}

func printQuota(w io.Writer, status scheduling.QuotaStatus) {
	fmt.Fprintf(w, "Date:        %s\n", status.Date)
	fmt.Fprintf(w, "Items:       %d / %d\n", status.TotalReserved, status.DailyTotalCap)
	fmt.Fprintf(w, "API cost:    %d / %d\n", status.APICostReserved, status.APIDailyBudget)

	if len(status.ReservedByType) > 0 {
		types := make([]string, 0, len(status.ReservedByType))
		for t := range status.ReservedByType {
			types = append(types, t)
		}
		sort.Strings(types)
		fmt.Fprintln(w, "By type:")
		for _, t := range types {
			fmt.Fprintf(w, "  %-12s %d\n", t, status.ReservedByType[t])
		}
	}

	fmt.Fprintln(w, "Slots:")
	for _, slot := range status.RemainingBySlot {
		fmt.Fprintf(w, "  %s  active=%d remaining=%d\n", slot.Time.Format("2006-01-02 15:04 MST"), slot.Active, slot.Remaining)
	}
}
