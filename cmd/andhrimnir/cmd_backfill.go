/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/andhrimnir_kitchen/internal/analytics"
	"github.com/friendsincode/andhrimnir_kitchen/internal/models"
)

// Backfill flags
var (
	backfillKitchenID string
	backfillFrom      string
	backfillTo        string
	backfillDays      int
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Rebuild daily plan analytics rollups",
	Long: `Re-aggregates plan records and meal instances into daily analytics
rows over a date range. The hourly rollup worker only covers yesterday
and today; use this after importing history or after a long outage.

Dates are interpreted as UTC calendar days, inclusive on both ends.

Examples:
  andhrimnir backfill --days 90
  andhrimnir backfill --from 2026-01-01 --to 2026-03-31
  andhrimnir backfill --days 30 --kitchen-id <uuid>`,
	RunE: runBackfill,
}

func init() {
	rootCmd.AddCommand(backfillCmd)

	backfillCmd.Flags().StringVar(&backfillKitchenID, "kitchen-id", "", "Limit to a specific kitchen (default: all kitchens)")
	backfillCmd.Flags().StringVar(&backfillFrom, "from", "", "First day to aggregate (YYYY-MM-DD)")
	backfillCmd.Flags().StringVar(&backfillTo, "to", "", "Last day to aggregate (YYYY-MM-DD, default: today)")
	backfillCmd.Flags().IntVar(&backfillDays, "days", 30, "Aggregate the last N days (ignored when --from is set)")
}

func runBackfill(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	start, end, err := backfillRange(time.Now().UTC())
	if err != nil {
		return err
	}

	database, err := initDatabase()
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}

	ctx := context.Background()

	var kitchens []models.Kitchen
	q := database.Select("id, name")
	if backfillKitchenID != "" {
		q = q.Where("id = ?", backfillKitchenID)
	}
	if err := q.Find(&kitchens).Error; err != nil {
		return fmt.Errorf("load kitchens: %w", err)
	}
	if len(kitchens) == 0 {
		if backfillKitchenID != "" {
			return fmt.Errorf("kitchen %s not found", backfillKitchenID)
		}
		fmt.Println("No kitchens to aggregate.")
		return nil
	}

	days := int(end.Sub(start).Hours()/24) + 1
	fmt.Printf("Aggregating %d day(s) (%s to %s) for %d kitchen(s)\n\n",
		days, start.Format("2006-01-02"), end.Format("2006-01-02"), len(kitchens))

	svc := analytics.NewPlanAnalyticsService(database, logger)

	var failed int
	for _, kitchen := range kitchens {
		if err := svc.BackfillDaily(ctx, kitchen.ID, start, end); err != nil {
			fmt.Printf("  %-32s error: %v\n", kitchen.Name, err)
			failed++
			continue
		}
		fmt.Printf("  %-32s done\n", kitchen.Name)
	}

	fmt.Printf("\nBackfill complete: %d kitchen(s), %d failed\n", len(kitchens)-failed, failed)
	if failed > 0 {
		return fmt.Errorf("%d kitchen(s) failed to aggregate", failed)
	}
	return nil
}

// backfillRange resolves the --from/--to/--days flags into inclusive
// UTC day bounds.
func backfillRange(now time.Time) (start, end time.Time, err error) {
	end = now
	if backfillTo != "" {
		end, err = time.Parse("2006-01-02", backfillTo)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("parse --to: %w", err)
		}
	}

	if backfillFrom != "" {
		start, err = time.Parse("2006-01-02", backfillFrom)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("parse --from: %w", err)
		}
	} else {
		if backfillDays < 1 {
			return time.Time{}, time.Time{}, fmt.Errorf("--days must be at least 1, got %d", backfillDays)
		}
		start = end.AddDate(0, 0, -(backfillDays - 1))
	}

	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("--to %s is before --from %s",
			end.Format("2006-01-02"), start.Format("2006-01-02"))
	}
	return start, end, nil
}
