/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package timeline

import (
	"fmt"
	"io"
	"strings"
)

const clockLayout = "Mon 15:04"

// Render writes the timeline as a plain-text checklist a cook can pin
// to the fridge: header, time-ordered steps, equipment summary, then
// anything that went wrong.
func (t *Timeline) Render(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "Meal at %s\n", t.MealTime.Format("Monday Jan 2, 3:04 PM")); err != nil {
		return err
	}
	status := "all recipes ready on time"
	if !t.AllReadyByMealTime {
		status = "plan is partial, see below"
	}
	if _, err := fmt.Fprintf(w, "Status: %s\n\n", status); err != nil {
		return err
	}

	for _, e := range t.Entries {
		line := fmt.Sprintf("%s - %s  %s: %s",
			e.StartsAt.Format(clockLayout), e.EndsAt.Format("15:04"), e.RecipeName, e.Action)
		if e.RestMinutes > 0 {
			line += fmt.Sprintf(" (rest %dm after)", e.RestMinutes)
		}
		if e.WaitMinutes > 0 {
			line += fmt.Sprintf(" (waits %dm before the next step)", e.WaitMinutes)
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}

	if len(t.Utilization) > 0 {
		if _, err := fmt.Fprintln(w, "\nEquipment:"); err != nil {
			return err
		}
		for _, u := range t.Utilization {
			line := fmt.Sprintf("  %s: %d placements, busy %dm (%s - %s)",
				u.ResourceName, u.Placements, u.BusyMinutes,
				u.ActiveFrom.Format(clockLayout), u.ActiveTo.Format("15:04"))
			if u.TemperatureChanges > 0 {
				line += fmt.Sprintf(", %d temperature changes", u.TemperatureChanges)
			}
			if u.PeakBurners > 0 {
				line += fmt.Sprintf(", peak %d burners", u.PeakBurners)
			}
			if _, err := fmt.Fprintln(w, line); err != nil {
				return err
			}
		}
	}

	if len(t.Conflicts) > 0 {
		if _, err := fmt.Fprintln(w, "\nConflicts:"); err != nil {
			return err
		}
		for _, c := range t.Conflicts {
			if _, err := fmt.Fprintf(w, "  [%s] %s\n", c.Type, c.Message); err != nil {
				return err
			}
			for _, b := range c.Blocking {
				if _, err := fmt.Fprintf(w, "      blocked by %s (%s - %s on %s)\n",
					b.StepName, b.StartsAt.Format(clockLayout), b.EndsAt.Format("15:04"), b.Resource); err != nil {
					return err
				}
			}
		}
	}

	if len(t.Excluded) > 0 {
		if _, err := fmt.Fprintln(w, "\nExcluded recipes:"); err != nil {
			return err
		}
		for _, ex := range t.Excluded {
			if _, err := fmt.Fprintf(w, "  %s: %s\n", ex.RecipeName, ex.Reason); err != nil {
				return err
			}
		}
	}

	if len(t.Conflicts) == 0 && len(t.Excluded) == 0 {
		sep := strings.Repeat("-", 40)
		if _, err := fmt.Fprintf(w, "\n%s\nEverything lands before the meal.\n", sep); err != nil {
			return err
		}
	}
	return nil
}
