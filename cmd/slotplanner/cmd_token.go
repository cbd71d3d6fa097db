/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/slotplanner/internal/auth"
)

var (
	tokenClient string
	tokenScopes []string
	tokenTTL    time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an API bearer token",
	Long: `Issue an HS256 bearer token signed with SLOTPLANNER_JWT_SIGNING_KEY.

Examples:
  # Token for an uploader that schedules and reads status
  slotplanner token --client uploader --scope schedule --scope read

  # Read-only dashboard token valid for a week
  slotplanner token --client dashboard --scope read --ttl 168h
`,
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().StringVar(&tokenClient, "client", "", "Client name recorded in the token")
	tokenCmd.Flags().StringSliceVar(&tokenScopes, "scope", []string{auth.ScopeSchedule, auth.ScopeRead}, "Granted scopes")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "Token lifetime")
	_ = tokenCmd.MarkFlagRequired("client")
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	if cfg.JWTSigningKey == "" {
		return fmt.Errorf("SLOTPLANNER_JWT_SIGNING_KEY is not set; the API runs without authentication")
	}
	if tokenTTL <= 0 {
		return fmt.Errorf("--ttl must be positive")
	}

	token, err := auth.Issue([]byte(cfg.JWTSigningKey), auth.Claims{Client: tokenClient, Scopes: tokenScopes}, tokenTTL)
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
