/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/friendsincode/andhrimnir_kitchen/internal/version"
)

var versionCheckUpdates bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the Andhrimnir Kitchen version",
	RunE:  runVersion,
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().BoolVar(&versionCheckUpdates, "check", false, "Check GitHub for a newer release")
}

func runVersion(cmd *cobra.Command, args []string) error {
	fmt.Printf("andhrimnir %s\n", version.Version)

	if !versionCheckUpdates {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	info := version.NewChecker(zerolog.Nop()).CheckNow(ctx)
	if info.CheckedAt.IsZero() {
		fmt.Println("update check failed")
		return nil
	}

	if info.UpdateAvailable {
		fmt.Printf("update available: %s -> %s\n", info.CurrentVersion, info.LatestVersion)
		if info.ReleaseURL != "" {
			fmt.Printf("  %s\n", info.ReleaseURL)
		}
	} else {
		fmt.Println("up to date")
	}
	return nil
}
