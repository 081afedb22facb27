/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package allocator

import (
	"testing"
	"time"

	"github.com/friendsincode/andhrimnir_kitchen/internal/backsolve"
	"github.com/friendsincode/andhrimnir_kitchen/internal/models"
	"github.com/friendsincode/andhrimnir_kitchen/internal/stepgraph"
)

var mealTime = time.Date(2026, time.November, 26, 18, 0, 0, 0, time.UTC)

func intPtr(v int) *int { return &v }

func solveMenu(t *testing.T, serveBuffer int, recipes ...models.Recipe) *backsolve.Solution {
	t.Helper()
	g, err := stepgraph.Build(recipes)
	if err != nil {
		t.Fatalf("stepgraph.Build() error = %v", err)
	}
	sol, err := backsolve.Solve(g, mealTime, backsolve.Options{ServeBufferMinutes: serveBuffer})
	if err != nil {
		t.Fatalf("backsolve.Solve() error = %v", err)
	}
	return sol
}

func singleOvenProfile(racks, positions int) Profile {
	return Profile{
		KitchenID: "k1",
		Burners:   4,
		Ovens: []OvenSpec{
			{ID: "oven-1", Name: "main oven", Racks: racks, RackPositions: positions},
		},
	}
}

func at(hour, min int) time.Time {
	return time.Date(2026, time.November, 26, hour, min, 0, 0, time.UTC)
}

func TestAllocatePlacesAtLatestFeasibleStart(t *testing.T) {
	turkey := models.Recipe{
		ID:   "turkey",
		Name: "Turkey",
		StepGroups: []models.StepGroup{
			{ID: "turkey-prep", Index: 0, Name: "prep", DurationMinutes: 30, Equipment: models.EquipmentNone},
			{ID: "turkey-cook", Index: 1, Name: "cook", DurationMinutes: 180, RestMinutes: 20, Equipment: models.EquipmentOven, TemperatureF: 325, HeightSlots: 4, Width: models.WidthFull},
		},
	}
	sol := solveMenu(t, 10, turkey)

	a, conflicts := Allocate(sol, singleOvenProfile(2, 5), Options{})
	if len(conflicts) != 0 {
		t.Fatalf("conflicts = %+v, want none", conflicts)
	}

	cook, ok := a.PlacementFor("turkey-cook")
	if !ok {
		t.Fatal("PlacementFor(turkey-cook) not found")
	}
	if !cook.StartsAt.Equal(at(14, 30)) || !cook.EndsAt.Equal(at(17, 30)) {
		t.Errorf("cook placed %v-%v, want 14:30-17:30", cook.StartsAt, cook.EndsAt)
	}
	if cook.Resource != "oven:oven-1" || cook.Row != 0 {
		t.Errorf("cook on %s row %d, want oven:oven-1 row 0", cook.Resource, cook.Row)
	}

	prep, ok := a.PlacementFor("turkey-prep")
	if !ok {
		t.Fatal("PlacementFor(turkey-prep) not found")
	}
	if prep.Resource != "prep" {
		t.Errorf("prep.Resource = %q, want %q", prep.Resource, "prep")
	}
	// Prep runs right up to the oven start.
	if !prep.EndsAt.Equal(cook.StartsAt) {
		t.Errorf("prep ends %v, cook starts %v, want back to back", prep.EndsAt, cook.StartsAt)
	}
}

func TestAllocateSharesRowBetweenHalfDishes(t *testing.T) {
	gratin := models.Recipe{ID: "gratin", Name: "Gratin", StepGroups: []models.StepGroup{
		{ID: "gratin-bake", Index: 0, Name: "bake", DurationMinutes: 60, Equipment: models.EquipmentOven, TemperatureF: 375, HeightSlots: 2, Width: models.WidthHalf},
	}}
	crisp := models.Recipe{ID: "crisp", Name: "Crisp", StepGroups: []models.StepGroup{
		{ID: "crisp-bake", Index: 0, Name: "bake", DurationMinutes: 60, Equipment: models.EquipmentOven, TemperatureF: 375, HeightSlots: 2, Width: models.WidthHalf},
	}}
	sol := solveMenu(t, 0, gratin, crisp)

	a, conflicts := Allocate(sol, singleOvenProfile(2, 5), Options{})
	if len(conflicts) != 0 {
		t.Fatalf("conflicts = %+v, want none", conflicts)
	}

	p1, _ := a.PlacementFor("gratin-bake")
	p2, _ := a.PlacementFor("crisp-bake")
	if p1.Row != p2.Row {
		t.Errorf("rows = %d and %d, want shared row", p1.Row, p2.Row)
	}
	if !p1.StartsAt.Equal(at(17, 0)) || !p2.StartsAt.Equal(at(17, 0)) {
		t.Errorf("starts = %v and %v, want both 17:00", p1.StartsAt, p2.StartsAt)
	}
}

func TestAllocateFullWidthDishOwnsItsRow(t *testing.T) {
	roast := models.Recipe{ID: "roast", Name: "Roast", StepGroups: []models.StepGroup{
		{ID: "roast-cook", Index: 0, Name: "roast", DurationMinutes: 60, MaxWaitMinutes: intPtr(0), Equipment: models.EquipmentOven, TemperatureF: 400, HeightSlots: 1, Width: models.WidthFull},
	}}
	side := models.Recipe{ID: "side", Name: "Side", StepGroups: []models.StepGroup{
		{ID: "side-bake", Index: 0, Name: "bake", DurationMinutes: 60, MaxWaitMinutes: intPtr(0), Equipment: models.EquipmentOven, TemperatureF: 400, HeightSlots: 1, Width: models.WidthHalf},
	}}
	sol := solveMenu(t, 0, roast, side)

	a, conflicts := Allocate(sol, singleOvenProfile(2, 5), Options{})
	if len(conflicts) != 0 {
		t.Fatalf("conflicts = %+v, want none", conflicts)
	}

	p1, _ := a.PlacementFor("roast-cook")
	p2, _ := a.PlacementFor("side-bake")
	if p1.Row == p2.Row {
		t.Errorf("both dishes on row %d, want the full-width roast alone on its row", p1.Row)
	}
}

func TestAllocateReportsRackCongestion(t *testing.T) {
	dish := func(id string) models.Recipe {
		return models.Recipe{ID: id, Name: id, StepGroups: []models.StepGroup{
			{ID: id + "-bake", Index: 0, Name: "bake", DurationMinutes: 60, MaxWaitMinutes: intPtr(0), Equipment: models.EquipmentOven, TemperatureF: 350, HeightSlots: 2, Width: models.WidthFull},
		}}
	}
	sol := solveMenu(t, 0, dish("one"), dish("two"), dish("three"))

	a, conflicts := Allocate(sol, singleOvenProfile(2, 5), Options{})
	if len(conflicts) != 1 {
		t.Fatalf("len(conflicts) = %d, want 1", len(conflicts))
	}

	c := conflicts[0]
	if c.Type != ConflictInsufficientRackSpace {
		t.Errorf("conflict.Type = %q, want %q", c.Type, ConflictInsufficientRackSpace)
	}
	if c.StepGroupID != "three-bake" {
		t.Errorf("conflict.StepGroupID = %q, want %q", c.StepGroupID, "three-bake")
	}
	if len(c.Blocking) != 2 {
		t.Errorf("len(conflict.Blocking) = %d, want the two committed bakes", len(c.Blocking))
	}

	if _, ok := a.PlacementFor("three-bake"); ok {
		t.Error("conflicted step has a placement, want none")
	}
}

func TestAllocateTemperatureClashYieldsOverbooked(t *testing.T) {
	hot := models.Recipe{ID: "hot", Name: "Hot Roast", StepGroups: []models.StepGroup{
		{ID: "hot-roast", Index: 0, Name: "roast", DurationMinutes: 120, MaxWaitMinutes: intPtr(0), Equipment: models.EquipmentOven, TemperatureF: 375, HeightSlots: 2, Width: models.WidthFull},
	}}
	mild := models.Recipe{ID: "mild", Name: "Casserole", StepGroups: []models.StepGroup{
		{ID: "mild-bake", Index: 0, Name: "bake", DurationMinutes: 60, MaxWaitMinutes: intPtr(120), Equipment: models.EquipmentOven, TemperatureF: 325, HeightSlots: 2, Width: models.WidthFull},
	}}
	sol := solveMenu(t, 0, hot, mild)

	a, conflicts := Allocate(sol, singleOvenProfile(2, 5), Options{})

	// The zero-wait roast keeps its claim; the flexible bake conflicts.
	if p, ok := a.PlacementFor("hot-roast"); !ok || !p.StartsAt.Equal(at(16, 0)) {
		t.Fatalf("hot-roast placement = %+v, ok = %v, want start 16:00", p, ok)
	}
	if len(conflicts) != 1 {
		t.Fatalf("len(conflicts) = %d, want 1", len(conflicts))
	}
	c := conflicts[0]
	if c.Type != ConflictEquipmentOverbooked {
		t.Errorf("conflict.Type = %q, want %q", c.Type, ConflictEquipmentOverbooked)
	}
	if c.StepGroupID != "mild-bake" {
		t.Errorf("conflict.StepGroupID = %q, want %q", c.StepGroupID, "mild-bake")
	}
	if len(c.Blocking) != 1 || c.Blocking[0].StepGroupID != "hot-roast" {
		t.Fatalf("conflict.Blocking = %+v, want the hot roast named", c.Blocking)
	}

	// Retry earlier, before the roast claims the oven.
	p, retryConflict := a.Retry("mild-bake", c.Blocking[0].StartsAt.Add(-60*time.Minute))
	if retryConflict != nil {
		t.Fatalf("Retry() conflict = %+v, want placement", retryConflict)
	}
	if !p.StartsAt.Equal(at(15, 0)) {
		t.Errorf("Retry() start = %v, want 15:00", p.StartsAt)
	}
	if _, ok := a.PlacementFor("mild-bake"); !ok {
		t.Error("Retry() did not commit the placement")
	}
}

func TestAllocateMixedTemperaturesUseSeparateOvens(t *testing.T) {
	roast := models.Recipe{ID: "roast", Name: "Roast", StepGroups: []models.StepGroup{
		{ID: "roast-cook", Index: 0, Name: "roast", DurationMinutes: 60, MaxWaitMinutes: intPtr(0), Equipment: models.EquipmentOven, TemperatureF: 375, HeightSlots: 2, Width: models.WidthFull},
	}}
	pie := models.Recipe{ID: "pie", Name: "Pie", StepGroups: []models.StepGroup{
		{ID: "pie-cook", Index: 0, Name: "bake", DurationMinutes: 60, Equipment: models.EquipmentOven, TemperatureF: 325, HeightSlots: 2, Width: models.WidthFull},
	}}
	sol := solveMenu(t, 0, roast, pie)

	profile := Profile{
		KitchenID: "k1",
		Burners:   4,
		Ovens: []OvenSpec{
			{ID: "oven-1", Name: "main", Racks: 2, RackPositions: 5},
			{ID: "oven-2", Name: "wall", Racks: 2, RackPositions: 5},
		},
	}

	// Two temperatures, two ovens: each dish gets its own oven at its
	// latest feasible start. Nothing conflicts and nothing slides
	// earlier while an oven stands free.
	a, conflicts := Allocate(sol, profile, Options{Workers: 4})
	if len(conflicts) != 0 {
		t.Fatalf("conflicts = %+v, want none", conflicts)
	}

	p1, ok := a.PlacementFor("roast-cook")
	if !ok {
		t.Fatal("PlacementFor(roast-cook) not found")
	}
	p2, ok := a.PlacementFor("pie-cook")
	if !ok {
		t.Fatal("PlacementFor(pie-cook) not found")
	}
	if p1.Resource == p2.Resource {
		t.Errorf("both dishes on %s, want separate ovens", p1.Resource)
	}
	if !p1.StartsAt.Equal(at(17, 0)) {
		t.Errorf("roast start = %v, want 17:00", p1.StartsAt)
	}
	if !p2.StartsAt.Equal(at(17, 0)) {
		t.Errorf("pie start = %v, want 17:00", p2.StartsAt)
	}
}

func TestAllocateRetryRespectsClosedWindow(t *testing.T) {
	pie := models.Recipe{ID: "pie", Name: "Pie", StepGroups: []models.StepGroup{
		{ID: "pie-bake", Index: 0, Name: "bake", DurationMinutes: 120, MaxWaitMinutes: intPtr(0), Equipment: models.EquipmentOven, TemperatureF: 350, HeightSlots: 2, Width: models.WidthFull},
	}}
	tart := models.Recipe{ID: "tart", Name: "Tart", StepGroups: []models.StepGroup{
		{ID: "tart-bake", Index: 0, Name: "bake", DurationMinutes: 30, MaxWaitMinutes: intPtr(0), Equipment: models.EquipmentOven, TemperatureF: 350, HeightSlots: 2, Width: models.WidthFull},
	}}
	sol := solveMenu(t, 0, pie, tart)

	a, conflicts := Allocate(sol, singleOvenProfile(1, 5), Options{})
	if len(conflicts) != 1 || conflicts[0].StepGroupID != "tart-bake" {
		t.Fatalf("conflicts = %+v, want the tart unplaced", conflicts)
	}

	// The tart allows zero wait, so shifting earlier is off the table.
	_, retryConflict := a.Retry("tart-bake", conflicts[0].Blocking[0].StartsAt.Add(-30*time.Minute))
	if retryConflict == nil {
		t.Fatal("Retry() conflict = nil, want closed-window conflict")
	}
}

func TestAllocateStovetopCapacity(t *testing.T) {
	gravy := models.Recipe{ID: "gravy", Name: "Gravy", StepGroups: []models.StepGroup{
		{ID: "gravy-simmer", Index: 0, Name: "simmer", DurationMinutes: 60, MaxWaitMinutes: intPtr(0), Equipment: models.EquipmentStovetop, Burners: 2},
	}}
	potatoes := models.Recipe{ID: "potatoes", Name: "Potatoes", StepGroups: []models.StepGroup{
		{ID: "potatoes-boil", Index: 0, Name: "boil", DurationMinutes: 30, Equipment: models.EquipmentStovetop, Burners: 3},
	}}
	sol := solveMenu(t, 0, gravy, potatoes)

	a, conflicts := Allocate(sol, singleOvenProfile(2, 5), Options{})
	if len(conflicts) != 0 {
		t.Fatalf("conflicts = %+v, want none", conflicts)
	}

	g, _ := a.PlacementFor("gravy-simmer")
	p, _ := a.PlacementFor("potatoes-boil")
	if !g.StartsAt.Equal(at(17, 0)) {
		t.Errorf("gravy start = %v, want 17:00", g.StartsAt)
	}
	// Five burners never fit on four, so the boil slides earlier and
	// finishes right as the gravy claims its burners.
	if !p.EndsAt.Equal(g.StartsAt) {
		t.Errorf("boil ends %v, want %v", p.EndsAt, g.StartsAt)
	}
}

func TestAllocateBurnerOverbooked(t *testing.T) {
	gravy := models.Recipe{ID: "gravy", Name: "Gravy", StepGroups: []models.StepGroup{
		{ID: "gravy-simmer", Index: 0, Name: "simmer", DurationMinutes: 60, MaxWaitMinutes: intPtr(0), Equipment: models.EquipmentStovetop, Burners: 2},
	}}
	boil := models.Recipe{ID: "boil", Name: "Big Boil", StepGroups: []models.StepGroup{
		{ID: "boil-pot", Index: 0, Name: "boil", DurationMinutes: 60, MaxWaitMinutes: intPtr(0), Equipment: models.EquipmentStovetop, Burners: 3},
	}}
	sol := solveMenu(t, 0, gravy, boil)

	_, conflicts := Allocate(sol, singleOvenProfile(2, 5), Options{})
	if len(conflicts) != 1 {
		t.Fatalf("len(conflicts) = %d, want 1", len(conflicts))
	}
	c := conflicts[0]
	if c.Type != ConflictBurnerOverbooked {
		t.Errorf("conflict.Type = %q, want %q", c.Type, ConflictBurnerOverbooked)
	}
	if len(c.Blocking) != 1 || c.Blocking[0].StepGroupID != "gravy-simmer" {
		t.Errorf("conflict.Blocking = %+v, want the gravy named", c.Blocking)
	}
}

func TestAllocateBurnerDemandBeyondKitchen(t *testing.T) {
	feast := models.Recipe{ID: "feast", Name: "Feast", StepGroups: []models.StepGroup{
		{ID: "feast-boil", Index: 0, Name: "boil everything", DurationMinutes: 30, Equipment: models.EquipmentStovetop, Burners: 6},
	}}
	sol := solveMenu(t, 0, feast)

	_, conflicts := Allocate(sol, singleOvenProfile(2, 5), Options{})
	if len(conflicts) != 1 {
		t.Fatalf("len(conflicts) = %d, want 1", len(conflicts))
	}
	if conflicts[0].Type != ConflictBurnerOverbooked {
		t.Errorf("conflict.Type = %q, want %q", conflicts[0].Type, ConflictBurnerOverbooked)
	}
}

func TestAllocateKeepsChainOrderAcrossResources(t *testing.T) {
	dinner := models.Recipe{
		ID:   "dinner",
		Name: "Braise",
		StepGroups: []models.StepGroup{
			{ID: "sear", Index: 0, Name: "sear", DurationMinutes: 20, Equipment: models.EquipmentStovetop, Burners: 1},
			{ID: "braise", Index: 1, Name: "braise", DurationMinutes: 150, RestMinutes: 10, Equipment: models.EquipmentOven, TemperatureF: 300, HeightSlots: 3, Width: models.WidthFull},
		},
	}
	sol := solveMenu(t, 0, dinner)

	a, conflicts := Allocate(sol, singleOvenProfile(2, 5), Options{})
	if len(conflicts) != 0 {
		t.Fatalf("conflicts = %+v, want none", conflicts)
	}

	sear, _ := a.PlacementFor("sear")
	braise, _ := a.PlacementFor("braise")
	if sear.EndsAt.After(braise.StartsAt) {
		t.Errorf("sear ends %v after braise starts %v", sear.EndsAt, braise.StartsAt)
	}
}

func TestAllocateMakeAheadStepStaysOnItsDay(t *testing.T) {
	pork := models.Recipe{
		ID:   "pork",
		Name: "Brined Pork",
		StepGroups: []models.StepGroup{
			{ID: "brine", Index: 0, Name: "brine", DurationMinutes: 15, RestMinutes: 720, NightsBeforeServing: 1, Equipment: models.EquipmentNone},
			{ID: "pork-roast", Index: 1, Name: "roast", DurationMinutes: 120, Equipment: models.EquipmentOven, TemperatureF: 375, HeightSlots: 3, Width: models.WidthFull},
		},
	}
	sol := solveMenu(t, 0, pork)

	a, conflicts := Allocate(sol, singleOvenProfile(2, 5), Options{})
	if len(conflicts) != 0 {
		t.Fatalf("conflicts = %+v, want none", conflicts)
	}

	brine, _ := a.PlacementFor("brine")
	if brine.StartsAt.Day() != 25 {
		t.Errorf("brine placed on day %d, want the 25th (one night before serving)", brine.StartsAt.Day())
	}
	roast, _ := a.PlacementFor("pork-roast")
	if got := roast.StartsAt.Sub(brine.EndsAt); got < 720*time.Minute {
		t.Errorf("roast starts %v after brine ends, want at least the 720m rest", got)
	}
}

func TestAllocateDeterministicAcrossWorkerCounts(t *testing.T) {
	dish := func(id string, temp, dur int) models.Recipe {
		return models.Recipe{ID: id, Name: id, StepGroups: []models.StepGroup{
			{ID: id + "-bake", Index: 0, Name: "bake", DurationMinutes: dur, Equipment: models.EquipmentOven, TemperatureF: temp, HeightSlots: 2, Width: models.WidthFull},
		}}
	}
	recipes := []models.Recipe{
		dish("a", 350, 60), dish("b", 350, 45), dish("c", 425, 90),
		dish("d", 425, 30), dish("e", 300, 120), dish("f", 300, 40),
	}
	profile := Profile{
		KitchenID: "k1",
		Burners:   4,
		Ovens: []OvenSpec{
			{ID: "oven-1", Name: "main", Racks: 2, RackPositions: 5},
			{ID: "oven-2", Name: "wall", Racks: 2, RackPositions: 5},
		},
	}

	type placed struct {
		resource string
		row      int
		start    time.Time
	}
	runWith := func(workers int) (map[string]placed, int) {
		sol := solveMenu(t, 0, recipes...)
		a, conflicts := Allocate(sol, profile, Options{Workers: workers})
		got := make(map[string]placed)
		for _, p := range a.Placements() {
			got[p.StepGroupID] = placed{p.Resource, p.Row, p.StartsAt}
		}
		return got, len(conflicts)
	}

	one, conflictsOne := runWith(1)
	eight, conflictsEight := runWith(8)
	if conflictsOne != conflictsEight {
		t.Fatalf("conflict counts differ: %d with 1 worker, %d with 8", conflictsOne, conflictsEight)
	}
	if len(one) != len(eight) {
		t.Fatalf("placement counts differ: %d with 1 worker, %d with 8", len(one), len(eight))
	}
	for id, p := range one {
		if eight[id] != p {
			t.Errorf("placement %s = %+v with 8 workers, want %+v", id, eight[id], p)
		}
	}
}

func TestProfileFromKitchen(t *testing.T) {
	kitchen := models.Kitchen{
		ID:      "k9",
		Name:    "Home",
		Burners: 5,
		Ovens: []models.Oven{
			{ID: "o1", Name: "range", Racks: 2, RackPositions: 5, MaxTemperatureF: 550},
		},
	}

	p := ProfileFromKitchen(kitchen)
	if p.KitchenID != "k9" || p.Burners != 5 {
		t.Errorf("profile = %+v, want kitchen k9 with 5 burners", p)
	}
	if len(p.Ovens) != 1 || p.Ovens[0].Racks != 2 || p.Ovens[0].MaxTemperatureF != 550 {
		t.Errorf("ovens = %+v, want the range mapped through", p.Ovens)
	}
}
