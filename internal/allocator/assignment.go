/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package allocator

import (
	"fmt"
	"sort"
	"time"

	"github.com/friendsincode/andhrimnir_kitchen/internal/backsolve"
	"github.com/friendsincode/andhrimnir_kitchen/internal/models"
	"github.com/friendsincode/andhrimnir_kitchen/internal/telemetry"
)

// Placement binds one step group to a resource, a start, and an end.
// Rest and hold happen off-equipment after EndsAt.
type Placement struct {
	StepGroupID  string           `json:"step_group_id"`
	StepName     string           `json:"step_name"`
	RecipeID     string           `json:"recipe_id"`
	RecipeName   string           `json:"recipe_name"`
	Resource     string           `json:"resource"`
	ResourceName string           `json:"resource_name"`
	Row          int              `json:"row"`
	StartsAt     time.Time        `json:"starts_at"`
	EndsAt       time.Time        `json:"ends_at"`
	TemperatureF int              `json:"temperature_f,omitempty"`
	Width        models.OvenWidth `json:"width,omitempty"`
	HeightSlots  int              `json:"height_slots,omitempty"`
	Burners      int              `json:"burners,omitempty"`

	ovenIdx int
}

// Assignment is the committed equipment schedule for one plan. It stays
// mutable until the resolver finishes its repair pass.
type Assignment struct {
	solution   *backsolve.Solution
	profile    Profile
	items      map[string]*item
	placements map[string]*Placement
	ovens      *ovenGrid
	stove      *burnerLedger
}

func newAssignment(solution *backsolve.Solution, profile Profile) *Assignment {
	return &Assignment{
		solution:   solution,
		profile:    profile,
		items:      make(map[string]*item),
		placements: make(map[string]*Placement),
		ovens:      newOvenGrid(profile),
		stove:      newBurnerLedger(profile.Burners),
	}
}

// MealTime returns the serving time the assignment was solved for.
func (a *Assignment) MealTime() time.Time {
	return a.solution.MealTime
}

// Profile returns the equipment configuration the plan ran against.
func (a *Assignment) Profile() Profile {
	return a.profile
}

// PlacementFor looks up the committed placement of one step group.
func (a *Assignment) PlacementFor(stepGroupID string) (*Placement, bool) {
	p, ok := a.placements[stepGroupID]
	return p, ok
}

// Placements returns every committed placement ordered by start time,
// ties broken by recipe input order.
func (a *Assignment) Placements() []*Placement {
	out := make([]*Placement, 0, len(a.placements))
	for _, p := range a.placements {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartsAt.Equal(out[j].StartsAt) {
			return out[i].StartsAt.Before(out[j].StartsAt)
		}
		return a.items[out[i].StepGroupID].inputIdx < a.items[out[j].StepGroupID].inputIdx
	})
	return out
}

// WindowFor reports the feasible start window of a step group given
// everything placed so far: the backward-solved window tightened by the
// step's wait tolerance and by its already-placed chain neighbors.
func (a *Assignment) WindowFor(stepGroupID string) (floor, ceiling time.Time, ok bool) {
	it, found := a.items[stepGroupID]
	if !found {
		return time.Time{}, time.Time{}, false
	}
	floor, ceiling = effectiveWindow(it, a.lookup)
	return floor, ceiling, true
}

// Retry attempts one more placement for a conflicted step group, no
// later than ceiling, against the committed schedule. On success the
// placement is committed and returned; otherwise the returned conflict
// says what still blocks it.
func (a *Assignment) Retry(stepGroupID string, ceiling time.Time) (*Placement, *Conflict) {
	it, ok := a.items[stepGroupID]
	if !ok {
		return nil, &Conflict{
			Type:        ConflictUnresolved,
			StepGroupID: stepGroupID,
			Message:     "unknown step group",
		}
	}
	if p, placed := a.placements[stepGroupID]; placed {
		return p, nil
	}

	floor, ceil := effectiveWindow(it, a.lookup)
	if ceiling.Before(ceil) {
		ceil = ceiling
	}
	if floor.After(ceil) {
		c := a.windowClosedConflict(it, floor, ceil)
		return nil, &c
	}

	group := it.win.Node.Group
	switch group.Equipment {
	case models.EquipmentOven:
		p, m := a.ovens.place(it, floor, ceil)
		if p == nil {
			c := a.conflictFromMiss(it, m, floor, ceil)
			return nil, &c
		}
		a.commit(p)
		return p, nil
	case models.EquipmentStovetop:
		p, m := a.stove.place(it, floor, ceil)
		if p == nil {
			c := a.conflictFromMiss(it, m, floor, ceil)
			return nil, &c
		}
		a.commit(p)
		return p, nil
	default:
		p := newPrepPlacement(it, ceil)
		a.commit(p)
		return p, nil
	}
}

func (a *Assignment) lookup(stepGroupID string) *Placement {
	return a.placements[stepGroupID]
}

func (a *Assignment) commit(p *Placement) {
	a.placements[p.StepGroupID] = p
	switch a.items[p.StepGroupID].win.Node.Group.Equipment {
	case models.EquipmentOven:
		a.ovens.commit(p)
		telemetry.AllocatorPlacementsTotal.WithLabelValues("oven").Inc()
	case models.EquipmentStovetop:
		a.stove.commit(p)
		telemetry.AllocatorPlacementsTotal.WithLabelValues("stovetop").Inc()
	default:
		telemetry.AllocatorPlacementsTotal.WithLabelValues("prep").Inc()
	}
}

// conflictFromMiss types a failed placement. Temperature clashes and
// busy equipment read as overbooking; a compatible oven with no free
// row reads as rack congestion.
func (a *Assignment) conflictFromMiss(it *item, m *miss, floor, ceiling time.Time) Conflict {
	group := it.win.Node.Group

	var typ ConflictType
	var message string
	switch {
	case group.Equipment == models.EquipmentStovetop && m.static:
		typ = ConflictBurnerOverbooked
		message = fmt.Sprintf("%s needs %d burners but the stovetop has %d",
			group.Name, group.Burners, a.profile.Burners)
	case group.Equipment == models.EquipmentStovetop:
		typ = ConflictBurnerOverbooked
		message = fmt.Sprintf("all %d burners are committed whenever %s could run",
			a.profile.Burners, group.Name)
	case m.static && m.sawTemperatureFit:
		typ = ConflictInsufficientRackSpace
		message = fmt.Sprintf("%s %s", group.Name, m.note)
	case m.static:
		typ = ConflictEquipmentOverbooked
		message = fmt.Sprintf("%s cannot be placed: %s", group.Name, m.note)
	case m.sawTemperatureFit:
		typ = ConflictInsufficientRackSpace
		message = fmt.Sprintf("no rack row has room for %s between %s and %s",
			group.Name, floor.Format("15:04"), ceiling.Format("15:04"))
	default:
		typ = ConflictEquipmentOverbooked
		message = fmt.Sprintf("every oven is held at another temperature whenever %s could run", group.Name)
	}

	c := a.newConflict(it, typ, message, floor, ceiling)
	c.Blocking = blockingIntervals(m.blockers)
	return c
}

func (a *Assignment) windowClosedConflict(it *item, floor, ceiling time.Time) Conflict {
	group := it.win.Node.Group
	typ := ConflictUnresolved
	switch group.Equipment {
	case models.EquipmentOven:
		typ = ConflictEquipmentOverbooked
	case models.EquipmentStovetop:
		typ = ConflictBurnerOverbooked
	}
	message := fmt.Sprintf("surrounding steps leave no room for %s: it cannot start before %s or after %s",
		group.Name, floor.Format("15:04"), ceiling.Format("15:04"))
	return a.newConflict(it, typ, message, floor, ceiling)
}

func (a *Assignment) newConflict(it *item, typ ConflictType, message string, floor, ceiling time.Time) Conflict {
	group := it.win.Node.Group
	details := map[string]any{
		"earliest_start": floor,
		"latest_start":   ceiling,
	}
	switch group.Equipment {
	case models.EquipmentOven:
		details["temperature_f"] = group.TemperatureF
		details["height_slots"] = group.HeightSlots
		details["width"] = string(group.Width)
	case models.EquipmentStovetop:
		details["burners_needed"] = group.Burners
		details["burners_available"] = a.profile.Burners
	}
	return Conflict{
		Type:            typ,
		StepGroupID:     group.ID,
		StepName:        group.Name,
		RecipeID:        it.win.Node.RecipeID,
		RecipeName:      it.win.Node.RecipeName,
		DurationMinutes: group.DurationMinutes,
		Message:         message,
		Details:         details,
	}
}

func newPrepPlacement(it *item, start time.Time) *Placement {
	group := it.win.Node.Group
	return &Placement{
		StepGroupID:  group.ID,
		StepName:     group.Name,
		RecipeID:     it.win.Node.RecipeID,
		RecipeName:   it.win.Node.RecipeName,
		Resource:     "prep",
		ResourceName: "counter",
		Row:          -1,
		StartsAt:     start,
		EndsAt:       start.Add(it.win.Duration()),
		ovenIdx:      -1,
	}
}
