/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package timeline turns a solved, allocated plan into the cook-facing
// report: time-ordered entries, per-equipment utilization, the full
// conflict list, and the two headline checks. Partial plans are first
// class; a run with conflicts still renders everything that did place.
package timeline

import (
	"fmt"
	"sort"
	"time"

	"github.com/friendsincode/andhrimnir_kitchen/internal/allocator"
	"github.com/friendsincode/andhrimnir_kitchen/internal/backsolve"
	"github.com/friendsincode/andhrimnir_kitchen/internal/models"
)

// Entry is one scheduled step on the timeline.
type Entry struct {
	RecipeID     string           `json:"recipe_id"`
	RecipeName   string           `json:"recipe_name"`
	StepGroupID  string           `json:"step_group_id"`
	StepName     string           `json:"step_name"`
	StepIndex    int              `json:"step_index"`
	Action       string           `json:"action"`
	Resource     string           `json:"resource"`
	ResourceName string           `json:"resource_name"`
	Row          int              `json:"row"`
	StartsAt     time.Time        `json:"starts_at"`
	EndsAt       time.Time        `json:"ends_at"`
	TemperatureF int              `json:"temperature_f,omitempty"`
	Width        models.OvenWidth `json:"width,omitempty"`
	HeightSlots  int              `json:"height_slots,omitempty"`
	Burners      int              `json:"burners,omitempty"`
	RestMinutes  int              `json:"rest_minutes"`
	HoldMinutes  int              `json:"hold_minutes"`
	WaitMinutes  int              `json:"wait_minutes"`
}

// Ready returns when the dish from this step can next be acted on.
func (e Entry) Ready() time.Time {
	return e.EndsAt.Add(time.Duration(e.RestMinutes) * time.Minute)
}

// UtilizationRow summarizes one equipment unit over the plan.
type UtilizationRow struct {
	Resource           string    `json:"resource"`
	ResourceName       string    `json:"resource_name"`
	Placements         int       `json:"placements"`
	ActiveFrom         time.Time `json:"active_from"`
	ActiveTo           time.Time `json:"active_to"`
	BusyMinutes        int       `json:"busy_minutes"`
	TemperatureChanges int       `json:"temperature_changes"`
	PeakBurners        int       `json:"peak_burners,omitempty"`
}

// Timeline is the full plan report.
type Timeline struct {
	MealTime    time.Time                 `json:"meal_time"`
	Status      models.PlanStatus         `json:"status"`
	Entries     []Entry                   `json:"entries"`
	Conflicts   []allocator.Conflict      `json:"conflicts,omitempty"`
	Excluded    []backsolve.RecipeFailure `json:"excluded,omitempty"`
	Utilization []UtilizationRow          `json:"utilization"`

	// AllReadyByMealTime and NoEquipmentOverbooked are display checks
	// derived only from the conflict and exclusion lists, never
	// recomputed from the entries, so the report cannot contradict
	// itself.
	AllReadyByMealTime    bool `json:"all_ready_by_meal_time"`
	NoEquipmentOverbooked bool `json:"no_equipment_overbooked"`
}

// Report assembles the timeline for an allocated solution. It is a pure
// projection: nothing here re-solves or re-places.
func Report(solution *backsolve.Solution, assignment *allocator.Assignment, conflicts []allocator.Conflict) *Timeline {
	tl := &Timeline{
		MealTime:  solution.MealTime,
		Conflicts: conflicts,
		Excluded:  solution.Excluded,
	}

	recipeRank := make(map[string]int)
	for idx, w := range solution.Ordered {
		if _, seen := recipeRank[w.Node.RecipeID]; !seen {
			recipeRank[w.Node.RecipeID] = idx
		}
	}

	for _, w := range solution.Ordered {
		p, ok := assignment.PlacementFor(w.Node.Group.ID)
		if !ok {
			continue
		}
		tl.Entries = append(tl.Entries, newEntry(solution, assignment, w, p))
	}
	sort.SliceStable(tl.Entries, func(i, j int) bool {
		a, b := tl.Entries[i], tl.Entries[j]
		if !a.StartsAt.Equal(b.StartsAt) {
			return a.StartsAt.Before(b.StartsAt)
		}
		return recipeRank[a.RecipeID] < recipeRank[b.RecipeID]
	})

	tl.Utilization = utilization(assignment)

	tl.Status = models.PlanComplete
	if len(tl.Conflicts) > 0 || len(tl.Excluded) > 0 {
		tl.Status = models.PlanPartial
	}

	tl.AllReadyByMealTime = len(tl.Excluded) == 0 && len(tl.Conflicts) == 0
	tl.NoEquipmentOverbooked = true
	for _, c := range tl.Conflicts {
		switch c.Cause() {
		case allocator.ConflictEquipmentOverbooked,
			allocator.ConflictInsufficientRackSpace,
			allocator.ConflictBurnerOverbooked:
			tl.NoEquipmentOverbooked = false
		}
	}

	return tl
}

func newEntry(solution *backsolve.Solution, assignment *allocator.Assignment, w *backsolve.Window, p *allocator.Placement) Entry {
	group := w.Node.Group
	e := Entry{
		RecipeID:     w.Node.RecipeID,
		RecipeName:   w.Node.RecipeName,
		StepGroupID:  group.ID,
		StepName:     group.Name,
		StepIndex:    group.Index,
		Resource:     p.Resource,
		ResourceName: p.ResourceName,
		Row:          p.Row,
		StartsAt:     p.StartsAt,
		EndsAt:       p.EndsAt,
		TemperatureF: p.TemperatureF,
		Width:        p.Width,
		HeightSlots:  p.HeightSlots,
		Burners:      p.Burners,
		RestMinutes:  group.RestMinutes,
		HoldMinutes:  group.HoldMinutes,
	}
	e.Action = describeAction(group, p)
	e.WaitMinutes = waitMinutes(solution, assignment, w, p)
	return e
}

// waitMinutes is the idle gap between a step's dish coming ready (end
// plus rest) and the moment its dependent needs it. For final steps the
// dependent is serving itself, less the plating buffer and any hold.
func waitMinutes(solution *backsolve.Solution, assignment *allocator.Assignment, w *backsolve.Window, p *allocator.Placement) int {
	ready := p.EndsAt.Add(time.Duration(w.Node.Group.RestMinutes) * time.Minute)

	var required time.Time
	if w.Node.Final() {
		required = solution.MealTime.
			Add(-time.Duration(solution.ServeBufferMinutes) * time.Minute).
			Add(-time.Duration(w.Node.Group.HoldMinutes) * time.Minute)
	} else {
		next := w.Node.Next.Group.ID
		if dep, ok := assignment.PlacementFor(next); ok {
			required = dep.StartsAt
		} else if depWin, ok := solution.Windows[next]; ok {
			required = depWin.LatestStart
		} else {
			return 0
		}
	}

	wait := int(required.Sub(ready) / time.Minute)
	if wait < 0 {
		return 0
	}
	return wait
}

func describeAction(group models.StepGroup, p *allocator.Placement) string {
	switch group.Equipment {
	case models.EquipmentOven:
		width := ""
		if group.Width == models.WidthHalf {
			width = ", half width"
		}
		return fmt.Sprintf("%s at %d°F in %s, row %d%s",
			group.Name, group.TemperatureF, p.ResourceName, p.Row+1, width)
	case models.EquipmentStovetop:
		noun := "burners"
		if group.Burners == 1 {
			noun = "burner"
		}
		return fmt.Sprintf("%s on %d %s", group.Name, group.Burners, noun)
	default:
		return group.Name
	}
}

// utilization folds committed placements into one row per equipment
// unit: ovens in profile order, then the stovetop, then prep work.
func utilization(assignment *allocator.Assignment) []UtilizationRow {
	placements := assignment.Placements()
	byResource := make(map[string][]*allocator.Placement)
	for _, p := range placements {
		byResource[p.Resource] = append(byResource[p.Resource], p)
	}

	order := make([]string, 0, len(byResource))
	for _, oven := range assignment.Profile().Ovens {
		order = append(order, "oven:"+oven.ID)
	}
	order = append(order, "stovetop", "prep")

	var rows []UtilizationRow
	for _, resource := range order {
		group := byResource[resource]
		if len(group) == 0 {
			continue
		}
		row := UtilizationRow{
			Resource:     resource,
			ResourceName: group[0].ResourceName,
			Placements:   len(group),
			ActiveFrom:   group[0].StartsAt,
			ActiveTo:     group[0].EndsAt,
		}
		lastTemp := 0
		for i, p := range group {
			if p.StartsAt.Before(row.ActiveFrom) {
				row.ActiveFrom = p.StartsAt
			}
			if p.EndsAt.After(row.ActiveTo) {
				row.ActiveTo = p.EndsAt
			}
			row.BusyMinutes += int(p.EndsAt.Sub(p.StartsAt) / time.Minute)
			if p.TemperatureF != 0 {
				if i > 0 && lastTemp != 0 && p.TemperatureF != lastTemp {
					row.TemperatureChanges++
				}
				lastTemp = p.TemperatureF
			}
		}
		if resource == "stovetop" {
			row.PeakBurners = peakBurners(group)
		}
		rows = append(rows, row)
	}
	return rows
}

// peakBurners samples burner load at every placement start, where the
// count can only increase.
func peakBurners(group []*allocator.Placement) int {
	peak := 0
	for _, p := range group {
		used := 0
		for _, q := range group {
			if !p.StartsAt.Before(q.StartsAt) && p.StartsAt.Before(q.EndsAt) {
				used += q.Burners
			}
		}
		if used > peak {
			peak = used
		}
	}
	return peak
}
