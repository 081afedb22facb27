/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package timeline

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/friendsincode/andhrimnir_kitchen/internal/allocator"
	"github.com/friendsincode/andhrimnir_kitchen/internal/models"
)

// Violation codes reported by Validate.
const (
	ViolationStepOrder       = "step_order"
	ViolationOvenTemperature = "oven_temperature"
	ViolationRackOverflow    = "rack_overflow"
	ViolationBurnerOverflow  = "burner_overflow"
	ViolationPastMealTime    = "past_meal_time"
)

// Violation is one audit finding against a rendered timeline.
type Violation struct {
	Code        string         `json:"code"`
	Message     string         `json:"message"`
	StartsAt    time.Time      `json:"starts_at"`
	EndsAt      time.Time      `json:"ends_at"`
	AffectedIDs []string       `json:"affected_ids"`
	Details     map[string]any `json:"details,omitempty"`
}

// Validate audits the timeline from scratch against the profile,
// independent of how the entries were produced. A clean solver run
// yields no violations; this exists so a bug upstream surfaces here
// instead of on the dinner table.
func (t *Timeline) Validate(profile allocator.Profile) []Violation {
	var violations []Violation
	violations = append(violations, t.checkStepOrder()...)
	violations = append(violations, t.checkOvenTemperatures()...)
	violations = append(violations, t.checkRackPacking(profile)...)
	violations = append(violations, t.checkBurnerLoad(profile)...)
	violations = append(violations, t.checkMealDeadline()...)
	return violations
}

// checkStepOrder verifies each recipe's steps run in index order with
// the declared rest fully elapsed between them.
func (t *Timeline) checkStepOrder() []Violation {
	byRecipe := make(map[string][]Entry)
	for _, e := range t.Entries {
		byRecipe[e.RecipeID] = append(byRecipe[e.RecipeID], e)
	}

	recipeIDs := make([]string, 0, len(byRecipe))
	for id := range byRecipe {
		recipeIDs = append(recipeIDs, id)
	}
	sort.Strings(recipeIDs)

	var violations []Violation
	for _, recipeID := range recipeIDs {
		entries := byRecipe[recipeID]
		sort.Slice(entries, func(i, j int) bool { return entries[i].StepIndex < entries[j].StepIndex })
		for i := 1; i < len(entries); i++ {
			prev, cur := entries[i-1], entries[i]
			ready := prev.Ready()
			if cur.StartsAt.Before(ready) {
				violations = append(violations, Violation{
					Code: ViolationStepOrder,
					Message: fmt.Sprintf("%s: %q starts at %s but %q is not ready until %s. Move the later step back or trim the rest.",
						cur.RecipeName, cur.StepName, cur.StartsAt.Format("15:04"), prev.StepName, ready.Format("15:04")),
					StartsAt:    cur.StartsAt,
					EndsAt:      cur.EndsAt,
					AffectedIDs: []string{prev.StepGroupID, cur.StepGroupID},
					Details: map[string]any{
						"previous_ready": ready,
						"rest_minutes":   prev.RestMinutes,
					},
				})
			}
		}
	}
	return violations
}

// checkOvenTemperatures verifies no oven runs two temperatures at once.
func (t *Timeline) checkOvenTemperatures() []Violation {
	ovenEntries := t.entriesByOven()

	var violations []Violation
	for _, resource := range sortedKeys(ovenEntries) {
		entries := ovenEntries[resource]
		for i := 0; i < len(entries); i++ {
			for j := i + 1; j < len(entries); j++ {
				a, b := entries[i], entries[j]
				if !entriesOverlap(a, b) || a.TemperatureF == b.TemperatureF {
					continue
				}
				violations = append(violations, Violation{
					Code: ViolationOvenTemperature,
					Message: fmt.Sprintf("%s would need %d°F and %d°F at once (%q and %q). Shift one dish or use another oven.",
						a.ResourceName, a.TemperatureF, b.TemperatureF, a.StepName, b.StepName),
					StartsAt:    laterTime(a.StartsAt, b.StartsAt),
					EndsAt:      earlierTime(a.EndsAt, b.EndsAt),
					AffectedIDs: []string{a.StepGroupID, b.StepGroupID},
					Details: map[string]any{
						"resource":      resource,
						"temperature_a": a.TemperatureF,
						"temperature_b": b.TemperatureF,
					},
				})
			}
		}
	}
	return violations
}

// checkRackPacking verifies the full/half row rules: a full-width dish
// owns its row, and half-width dishes sharing a row stay within the
// rack height, at most two at a time.
func (t *Timeline) checkRackPacking(profile allocator.Profile) []Violation {
	positions := make(map[string]int, len(profile.Ovens))
	for _, oven := range profile.Ovens {
		positions["oven:"+oven.ID] = oven.RackPositions
	}

	ovenEntries := t.entriesByOven()

	var violations []Violation
	for _, resource := range sortedKeys(ovenEntries) {
		entries := ovenEntries[resource]
		rackPositions := positions[resource]
		for i := 0; i < len(entries); i++ {
			for j := i + 1; j < len(entries); j++ {
				a, b := entries[i], entries[j]
				if a.Row != b.Row || !entriesOverlap(a, b) {
					continue
				}
				switch {
				case a.Width == models.WidthFull || b.Width == models.WidthFull:
					violations = append(violations, rackViolation(a, b,
						fmt.Sprintf("row %d of %s holds a full-width dish while %q and %q overlap there. A full-width dish needs the row to itself.",
							a.Row+1, a.ResourceName, a.StepName, b.StepName)))
				case rackPositions > 0 && a.HeightSlots+b.HeightSlots > rackPositions:
					violations = append(violations, rackViolation(a, b,
						fmt.Sprintf("%q and %q share row %d of %s but need %d slots of its %d. Move one to another row.",
							a.StepName, b.StepName, a.Row+1, a.ResourceName, a.HeightSlots+b.HeightSlots, rackPositions)))
				}
			}
		}

		// Three dishes in one row at one instant is never legal, even
		// when each pair fits.
		for i := 0; i < len(entries); i++ {
			for j := i + 1; j < len(entries); j++ {
				for k := j + 1; k < len(entries); k++ {
					a, b, c := entries[i], entries[j], entries[k]
					if a.Row != b.Row || b.Row != c.Row {
						continue
					}
					if entriesOverlap(a, b) && entriesOverlap(b, c) && entriesOverlap(a, c) {
						violations = append(violations, Violation{
							Code: ViolationRackOverflow,
							Message: fmt.Sprintf("three dishes stacked in row %d of %s at once (%q, %q, %q).",
								a.Row+1, a.ResourceName, a.StepName, b.StepName, c.StepName),
							StartsAt:    laterTime(a.StartsAt, laterTime(b.StartsAt, c.StartsAt)),
							EndsAt:      earlierTime(a.EndsAt, earlierTime(b.EndsAt, c.EndsAt)),
							AffectedIDs: []string{a.StepGroupID, b.StepGroupID, c.StepGroupID},
						})
					}
				}
			}
		}
	}
	return violations
}

func rackViolation(a, b Entry, message string) Violation {
	return Violation{
		Code:        ViolationRackOverflow,
		Message:     message,
		StartsAt:    laterTime(a.StartsAt, b.StartsAt),
		EndsAt:      earlierTime(a.EndsAt, b.EndsAt),
		AffectedIDs: []string{a.StepGroupID, b.StepGroupID},
		Details: map[string]any{
			"row":      a.Row,
			"resource": a.Resource,
		},
	}
}

// checkBurnerLoad verifies concurrent burner use never exceeds the
// kitchen's burner count. Load only changes at entry starts, so those
// are the instants sampled.
func (t *Timeline) checkBurnerLoad(profile allocator.Profile) []Violation {
	var stove []Entry
	for _, e := range t.Entries {
		if e.Resource == "stovetop" {
			stove = append(stove, e)
		}
	}

	var violations []Violation
	for _, e := range stove {
		used := 0
		ids := make([]string, 0, len(stove))
		for _, other := range stove {
			if !e.StartsAt.Before(other.StartsAt) && e.StartsAt.Before(other.EndsAt) {
				used += other.Burners
				ids = append(ids, other.StepGroupID)
			}
		}
		if used > profile.Burners {
			violations = append(violations, Violation{
				Code: ViolationBurnerOverflow,
				Message: fmt.Sprintf("%d burners in use at %s but the kitchen has %d (%s).",
					used, e.StartsAt.Format("15:04"), profile.Burners, strings.Join(ids, ", ")),
				StartsAt:    e.StartsAt,
				EndsAt:      e.EndsAt,
				AffectedIDs: ids,
				Details: map[string]any{
					"burners_in_use": used,
					"burner_count":   profile.Burners,
				},
			})
		}
	}
	return violations
}

// checkMealDeadline verifies every dish, including its rest, lands
// before the meal time.
func (t *Timeline) checkMealDeadline() []Violation {
	var violations []Violation
	for _, e := range t.Entries {
		ready := e.Ready()
		if ready.After(t.MealTime) {
			violations = append(violations, Violation{
				Code: ViolationPastMealTime,
				Message: fmt.Sprintf("%s: %q is not ready until %s, after the %s meal.",
					e.RecipeName, e.StepName, ready.Format("15:04"), t.MealTime.Format("15:04")),
				StartsAt:    e.StartsAt,
				EndsAt:      e.EndsAt,
				AffectedIDs: []string{e.StepGroupID},
				Details: map[string]any{
					"ready_at":  ready,
					"meal_time": t.MealTime,
				},
			})
		}
	}
	return violations
}

func (t *Timeline) entriesByOven() map[string][]Entry {
	out := make(map[string][]Entry)
	for _, e := range t.Entries {
		if strings.HasPrefix(e.Resource, "oven:") {
			out[e.Resource] = append(out[e.Resource], e)
		}
	}
	return out
}

func sortedKeys(m map[string][]Entry) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func entriesOverlap(a, b Entry) bool {
	return a.StartsAt.Before(b.EndsAt) && b.StartsAt.Before(a.EndsAt)
}

func laterTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func earlierTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
