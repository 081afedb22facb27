/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package resolver

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/andhrimnir_kitchen/internal/allocator"
	"github.com/friendsincode/andhrimnir_kitchen/internal/backsolve"
	"github.com/friendsincode/andhrimnir_kitchen/internal/models"
	"github.com/friendsincode/andhrimnir_kitchen/internal/stepgraph"
)

var mealTime = time.Date(2026, time.November, 26, 18, 0, 0, 0, time.UTC)

func intPtr(v int) *int { return &v }

func allocate(t *testing.T, profile allocator.Profile, recipes ...models.Recipe) (*allocator.Assignment, []allocator.Conflict) {
	t.Helper()
	g, err := stepgraph.Build(recipes)
	if err != nil {
		t.Fatalf("stepgraph.Build() error = %v", err)
	}
	sol, err := backsolve.Solve(g, mealTime, backsolve.Options{})
	if err != nil {
		t.Fatalf("backsolve.Solve() error = %v", err)
	}
	a, conflicts := allocator.Allocate(sol, profile, allocator.Options{})
	return a, conflicts
}

func narrowOven() allocator.Profile {
	return allocator.Profile{
		KitchenID: "k1",
		Burners:   4,
		Ovens: []allocator.OvenSpec{
			{ID: "oven-1", Name: "main oven", Racks: 1, RackPositions: 5},
		},
	}
}

func ovenDish(id string, temp, duration int, maxWait *int) models.Recipe {
	return models.Recipe{ID: id, Name: id, StepGroups: []models.StepGroup{
		{ID: id + "-bake", Index: 0, Name: "bake", DurationMinutes: duration, MaxWaitMinutes: maxWait, Equipment: models.EquipmentOven, TemperatureF: temp, HeightSlots: 2, Width: models.WidthFull},
	}}
}

func TestResolveShiftsFlexibleStepEarlier(t *testing.T) {
	// The zero-wait roast owns 16:00-18:00; the flexible casserole must
	// give way and bake beforehand.
	roast := ovenDish("roast", 375, 120, intPtr(0))
	casserole := ovenDish("casserole", 325, 60, intPtr(120))

	a, conflicts := allocate(t, narrowOven(), roast, casserole)
	if len(conflicts) != 1 {
		t.Fatalf("allocator conflicts = %d, want 1", len(conflicts))
	}

	remaining := Resolve(a, conflicts, Limits{}, zerolog.Nop())
	if len(remaining) != 0 {
		t.Fatalf("remaining conflicts = %+v, want none", remaining)
	}

	p, ok := a.PlacementFor("casserole-bake")
	if !ok {
		t.Fatal("casserole has no placement after resolve")
	}
	want := time.Date(2026, time.November, 26, 15, 0, 0, 0, time.UTC)
	if !p.StartsAt.Equal(want) {
		t.Errorf("casserole start = %v, want %v", p.StartsAt, want)
	}

	r, _ := a.PlacementFor("roast-bake")
	if p.EndsAt.After(r.StartsAt) {
		t.Errorf("casserole %v-%v still overlaps the roast at %v", p.StartsAt, p.EndsAt, r.StartsAt)
	}
}

func TestResolveZeroWaitStepIsTerminal(t *testing.T) {
	// The tart tolerates no wait, so its only slot is its latest start.
	// With the oven held through that slot, no shift can help.
	pie := ovenDish("pie", 350, 120, intPtr(0))
	tart := ovenDish("tart", 350, 30, intPtr(0))

	a, conflicts := allocate(t, narrowOven(), pie, tart)
	if len(conflicts) != 1 || conflicts[0].StepGroupID != "tart-bake" {
		t.Fatalf("allocator conflicts = %+v, want the tart unplaced", conflicts)
	}

	remaining := Resolve(a, conflicts, Limits{}, zerolog.Nop())
	if len(remaining) != 1 {
		t.Fatalf("remaining conflicts = %d, want 1", len(remaining))
	}
	c := remaining[0]
	if c.Type != allocator.ConflictUnresolved {
		t.Errorf("conflict.Type = %q, want %q", c.Type, allocator.ConflictUnresolved)
	}
	if c.Cause() != allocator.ConflictInsufficientRackSpace {
		t.Errorf("conflict.Cause() = %q, want %q", c.Cause(), allocator.ConflictInsufficientRackSpace)
	}
	if _, ok := a.PlacementFor("tart-bake"); ok {
		t.Error("tart was placed despite its closed window")
	}
}

func TestResolveSkipsBudgetForHopelessConflicts(t *testing.T) {
	// Order of conflicts: the hopeless tart first, the fixable
	// casserole second. A budget of one shift must still fix the
	// casserole, because terminal conflicts spend nothing.
	pie := ovenDish("pie", 350, 120, intPtr(0))
	tart := ovenDish("tart", 350, 30, intPtr(0))
	casserole := ovenDish("casserole", 325, 60, intPtr(120))

	a, conflicts := allocate(t, narrowOven(), pie, tart, casserole)
	if len(conflicts) != 2 {
		t.Fatalf("allocator conflicts = %d, want 2", len(conflicts))
	}
	if conflicts[0].StepGroupID != "tart-bake" || conflicts[1].StepGroupID != "casserole-bake" {
		t.Fatalf("conflict order = [%s %s], want tart then casserole",
			conflicts[0].StepGroupID, conflicts[1].StepGroupID)
	}

	remaining := Resolve(a, conflicts, Limits{MaxShifts: 1}, zerolog.Nop())
	if len(remaining) != 1 || remaining[0].StepGroupID != "tart-bake" {
		t.Fatalf("remaining = %+v, want only the tart", remaining)
	}
	if _, ok := a.PlacementFor("casserole-bake"); !ok {
		t.Error("casserole not placed, want it shifted within the single-shift budget")
	}
}

func TestResolveBudgetExhaustion(t *testing.T) {
	roast := ovenDish("roast", 350, 120, intPtr(0))
	first := ovenDish("first", 375, 30, intPtr(240))
	second := ovenDish("second", 400, 30, intPtr(240))

	a, conflicts := allocate(t, narrowOven(), roast, first, second)
	if len(conflicts) != 2 {
		t.Fatalf("allocator conflicts = %d, want 2", len(conflicts))
	}

	remaining := Resolve(a, conflicts, Limits{MaxShifts: 1}, zerolog.Nop())
	if len(remaining) != 1 {
		t.Fatalf("remaining = %+v, want one conflict past the budget", remaining)
	}
	c := remaining[0]
	if c.Type != allocator.ConflictUnresolved {
		t.Errorf("conflict.Type = %q, want %q", c.Type, allocator.ConflictUnresolved)
	}
	if c.StepGroupID != "second-bake" {
		t.Errorf("conflict.StepGroupID = %q, want the later item starved", c.StepGroupID)
	}
	if _, ok := a.PlacementFor("first-bake"); !ok {
		t.Error("first-bake not placed, want the budgeted shift spent on it")
	}
}

func TestResolveRetryNarrowsAgainstNewBlockers(t *testing.T) {
	// Both flexible dishes collide with the roast. The first shift
	// parks one at 15:30; the second retry must then dodge both.
	roast := ovenDish("roast", 350, 120, intPtr(0))
	first := ovenDish("first", 375, 30, intPtr(240))
	second := ovenDish("second", 400, 30, intPtr(240))

	a, conflicts := allocate(t, narrowOven(), roast, first, second)
	remaining := Resolve(a, conflicts, Limits{}, zerolog.Nop())
	if len(remaining) != 0 {
		t.Fatalf("remaining = %+v, want all conflicts repaired", remaining)
	}

	p1, _ := a.PlacementFor("first-bake")
	p2, _ := a.PlacementFor("second-bake")
	if p1.StartsAt.Equal(p2.StartsAt) {
		t.Errorf("both dishes start at %v despite different temperatures", p1.StartsAt)
	}
	if p2.EndsAt.After(p1.StartsAt) && p1.EndsAt.After(p2.StartsAt) {
		t.Errorf("placements overlap: %v-%v and %v-%v", p1.StartsAt, p1.EndsAt, p2.StartsAt, p2.EndsAt)
	}
}

func TestResolvePassesThroughTerminalConflicts(t *testing.T) {
	a, _ := allocate(t, narrowOven(), ovenDish("solo", 350, 60, nil))
	preTyped := []allocator.Conflict{{
		Type:        allocator.ConflictUnresolved,
		StepGroupID: "ghost",
		Message:     "already terminal",
	}}

	remaining := Resolve(a, preTyped, Limits{}, zerolog.Nop())
	if len(remaining) != 1 || remaining[0].Message != "already terminal" {
		t.Fatalf("remaining = %+v, want the terminal conflict untouched", remaining)
	}
}
