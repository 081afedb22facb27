/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/friendsincode/andhrimnir_kitchen/internal/allocator"
	"github.com/friendsincode/andhrimnir_kitchen/internal/backsolve"
	"github.com/friendsincode/andhrimnir_kitchen/internal/models"
	"github.com/friendsincode/andhrimnir_kitchen/internal/profile"
	"github.com/friendsincode/andhrimnir_kitchen/internal/resolver"
	"github.com/friendsincode/andhrimnir_kitchen/internal/stepgraph"
	"github.com/friendsincode/andhrimnir_kitchen/internal/storage"
	"github.com/friendsincode/andhrimnir_kitchen/internal/timeline"
)

// Plan flags
var (
	planProfilePath string
	planServeAt     string
	planRecipes     string
	planJSON        bool
	planExportDir   string
	planEveningHour int
	planWindowHours int
	planServeBuffer int
	planMaxShifts   int
	planWorkers     int
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Compute a cooking timeline from a kitchen profile file",
	Long: `Compute a backward-planned cooking timeline without a server or a
database. The profile file supplies the kitchen equipment and the menu;
the timeline prints to stdout.

Examples:
  andhrimnir plan --kitchen kitchen.yaml --serve-at 2026-12-24T18:00:00Z
  andhrimnir plan --kitchen kitchen.yaml --serve-at "2026-12-24 18:00" --recipes "Roast Turkey,Gravy"
  andhrimnir plan --kitchen kitchen.yaml --serve-at 2026-12-24T18:00:00Z --json`,
	RunE: runPlan,
}

func init() {
	rootCmd.AddCommand(planCmd)

	planCmd.Flags().StringVar(&planProfilePath, "kitchen", "", "Path to a kitchen profile YAML file (required)")
	planCmd.Flags().StringVar(&planServeAt, "serve-at", "", "Meal time, RFC3339 or \"2006-01-02 15:04\" in the kitchen timezone (required)")
	planCmd.Flags().StringVar(&planRecipes, "recipes", "", "Comma-separated recipe names (default: every recipe in the file)")
	planCmd.Flags().BoolVar(&planJSON, "json", false, "Print the timeline as JSON instead of text")
	planCmd.Flags().StringVar(&planExportDir, "export-dir", "", "Also write iCal and CSV exports of the plan under this directory")
	planCmd.Flags().IntVar(&planEveningHour, "evening-hour", 21, "Hour of day make-ahead steps anchor to")
	planCmd.Flags().IntVar(&planWindowHours, "window-hours", 24, "Size of the same-day planning window in hours")
	planCmd.Flags().IntVar(&planServeBuffer, "serve-buffer", 10, "Minutes reserved for plating between the last step and the meal")
	planCmd.Flags().IntVar(&planMaxShifts, "max-shifts", 64, "Shift budget for conflict repair")
	planCmd.Flags().IntVar(&planWorkers, "workers", 4, "Concurrent allocator partitions")
	planCmd.MarkFlagRequired("kitchen")
	planCmd.MarkFlagRequired("serve-at")
}

func runPlan(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	doc, err := profile.Load(planProfilePath)
	if err != nil {
		return err
	}
	if doc.Kitchen == nil {
		return fmt.Errorf("profile %s has no kitchen section", planProfilePath)
	}
	if len(doc.Recipes) == 0 {
		return fmt.Errorf("profile %s has no recipes", planProfilePath)
	}

	mealTime, err := parseServeAt(planServeAt, doc.Kitchen.Timezone)
	if err != nil {
		return err
	}

	menu := doc.Menu(uuid.NewString())
	if planRecipes != "" {
		menu, err = filterMenu(menu, planRecipes)
		if err != nil {
			return err
		}
	}

	// Planner knobs default from config; explicit flags win.
	eveningHour := cfg.PrepEveningHour
	windowHours := cfg.PlannerWindowHours
	serveBuffer := cfg.ServeBufferMinutes
	maxShifts := cfg.PlannerMaxShifts
	workers := cfg.PlannerWorkers
	if cmd.Flags().Changed("evening-hour") {
		eveningHour = planEveningHour
	}
	if cmd.Flags().Changed("window-hours") {
		windowHours = planWindowHours
	}
	if cmd.Flags().Changed("serve-buffer") {
		serveBuffer = planServeBuffer
	}
	if cmd.Flags().Changed("max-shifts") {
		maxShifts = planMaxShifts
	}
	if cmd.Flags().Changed("workers") {
		workers = planWorkers
	}

	graph, err := stepgraph.Build(menu)
	if err != nil {
		return fmt.Errorf("build step graph: %w", err)
	}

	solution, err := backsolve.Solve(graph, mealTime, backsolve.Options{
		WindowStart:        mealTime.Add(-time.Duration(windowHours) * time.Hour),
		EveningHour:        eveningHour,
		ServeBufferMinutes: serveBuffer,
	})
	if err != nil {
		return fmt.Errorf("solve deadlines: %w", err)
	}

	equipment := doc.Kitchen.Profile()
	assignment, conflicts := allocator.Allocate(solution, equipment, allocator.Options{Workers: workers})
	remaining := resolver.Resolve(assignment, conflicts, resolver.Limits{MaxShifts: maxShifts}, logger)
	tl := timeline.Report(solution, assignment, remaining)

	if planExportDir != "" {
		if err := writePlanExports(cmd, tl, doc.Kitchen.Name); err != nil {
			return err
		}
	}

	if planJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(tl)
	}

	printTimeline(tl, doc.Kitchen.Name)
	return nil
}

// writePlanExports writes the iCal and CSV renditions of the timeline
// into the export directory.
func writePlanExports(cmd *cobra.Command, tl *timeline.Timeline, kitchenName string) error {
	store := storage.NewFS(planExportDir, logger)
	ctx := cmd.Context()

	for _, export := range []*timeline.ExportResult{
		tl.ExportICal(kitchenName),
		tl.ExportCSV(kitchenName),
	} {
		if err := store.Put(ctx, export.Filename, export.Data); err != nil {
			return fmt.Errorf("write export %s: %w", export.Filename, err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s/%s\n", planExportDir, export.Filename)
	}
	return nil
}

// parseServeAt accepts RFC3339 or a bare date-and-time interpreted in
// the kitchen's timezone.
func parseServeAt(s, timezone string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}

	if timezone == "" {
		timezone = "UTC"
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return time.Time{}, fmt.Errorf("kitchen timezone %q: %w", timezone, err)
	}

	for _, layout := range []string{"2006-01-02 15:04", "2006-01-02T15:04"} {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse serve time %q (want RFC3339 or \"2006-01-02 15:04\")", s)
}

// filterMenu keeps only the named recipes, failing on names the file
// does not define.
func filterMenu(menu []models.Recipe, names string) ([]models.Recipe, error) {
	byName := make(map[string]models.Recipe, len(menu))
	for _, r := range menu {
		byName[strings.ToLower(r.Name)] = r
	}

	var picked []models.Recipe
	for _, raw := range strings.Split(names, ",") {
		name := strings.TrimSpace(raw)
		if name == "" {
			continue
		}
		r, ok := byName[strings.ToLower(name)]
		if !ok {
			return nil, fmt.Errorf("recipe %q not found in profile", name)
		}
		picked = append(picked, r)
	}
	if len(picked) == 0 {
		return nil, fmt.Errorf("no recipes selected")
	}
	return picked, nil
}

func printTimeline(tl *timeline.Timeline, kitchenName string) {
	fmt.Printf("Kitchen:  %s\n", kitchenName)
	fmt.Printf("Meal at:  %s\n", tl.MealTime.Format("Mon Jan 2 15:04 MST"))
	fmt.Printf("Status:   %s\n\n", tl.Status)

	mealDay := tl.MealTime.Format("2006-01-02")
	for _, e := range tl.Entries {
		where := e.ResourceName
		if e.Row > 0 {
			where = fmt.Sprintf("%s rack %d", where, e.Row)
		}
		if e.Burners > 0 {
			where = fmt.Sprintf("%s, %d burner(s)", where, e.Burners)
		}
		if e.TemperatureF > 0 {
			where = fmt.Sprintf("%s @ %dF", where, e.TemperatureF)
		}

		fmt.Printf("  %s - %s  %-24s %-20s %s\n",
			formatPlanClock(e.StartsAt, mealDay),
			formatPlanClock(e.EndsAt, mealDay),
			e.RecipeName,
			e.StepName,
			where)
	}

	if len(tl.Utilization) > 0 {
		fmt.Printf("\nEquipment:\n")
		for _, u := range tl.Utilization {
			line := fmt.Sprintf("  %-16s %d placement(s), %d busy minute(s)", u.ResourceName, u.Placements, u.BusyMinutes)
			if u.TemperatureChanges > 0 {
				line += fmt.Sprintf(", %d temperature change(s)", u.TemperatureChanges)
			}
			if u.PeakBurners > 0 {
				line += fmt.Sprintf(", peak %d burner(s)", u.PeakBurners)
			}
			fmt.Println(line)
		}
	}

	if len(tl.Excluded) > 0 {
		fmt.Printf("\nExcluded recipes:\n")
		for _, ex := range tl.Excluded {
			fmt.Printf("  - %s: %s\n", ex.RecipeName, ex.Reason)
		}
	}

	if len(tl.Conflicts) > 0 {
		fmt.Printf("\nConflicts:\n")
		for _, c := range tl.Conflicts {
			fmt.Printf("  - %s / %s: %s\n", c.RecipeName, c.StepName, c.Message)
		}
	}

	fmt.Printf("\nAll dishes ready by meal time: %s\n", yesNo(tl.AllReadyByMealTime))
	fmt.Printf("No equipment overbooked:       %s\n", yesNo(tl.NoEquipmentOverbooked))
}

// formatPlanClock prints a bare clock time, prefixing the weekday for
// steps that land on a different day than the meal (make-ahead work).
func formatPlanClock(t time.Time, mealDay string) string {
	if t.Format("2006-01-02") != mealDay {
		return t.Format("Mon 15:04")
	}
	return t.Format("15:04")
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
