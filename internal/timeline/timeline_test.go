/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package timeline

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/friendsincode/andhrimnir_kitchen/internal/allocator"
	"github.com/friendsincode/andhrimnir_kitchen/internal/backsolve"
	"github.com/friendsincode/andhrimnir_kitchen/internal/models"
	"github.com/friendsincode/andhrimnir_kitchen/internal/stepgraph"
)

var mealTime = time.Date(2026, time.November, 26, 18, 0, 0, 0, time.UTC)

func intPtr(v int) *int { return &v }

func at(hour, min int) time.Time {
	return time.Date(2026, time.November, 26, hour, min, 0, 0, time.UTC)
}

func plan(t *testing.T, profile allocator.Profile, recipes ...models.Recipe) (*backsolve.Solution, *allocator.Assignment, []allocator.Conflict) {
	t.Helper()
	g, err := stepgraph.Build(recipes)
	if err != nil {
		t.Fatalf("stepgraph.Build() error = %v", err)
	}
	sol, err := backsolve.Solve(g, mealTime, backsolve.Options{ServeBufferMinutes: 10})
	if err != nil {
		t.Fatalf("backsolve.Solve() error = %v", err)
	}
	a, conflicts := allocator.Allocate(sol, profile, allocator.Options{})
	return sol, a, conflicts
}

func testProfile() allocator.Profile {
	return allocator.Profile{
		KitchenID: "k1",
		Burners:   4,
		Ovens: []allocator.OvenSpec{
			{ID: "oven-1", Name: "main oven", Racks: 2, RackPositions: 5},
		},
	}
}

func turkeyRecipe() models.Recipe {
	return models.Recipe{
		ID:   "turkey",
		Name: "Turkey",
		StepGroups: []models.StepGroup{
			{ID: "turkey-prep", Index: 0, Name: "prep", DurationMinutes: 30, Equipment: models.EquipmentNone},
			{ID: "turkey-cook", Index: 1, Name: "cook", DurationMinutes: 180, RestMinutes: 20, Equipment: models.EquipmentOven, TemperatureF: 325, HeightSlots: 4, Width: models.WidthFull},
		},
	}
}

func gravyRecipe() models.Recipe {
	return models.Recipe{
		ID:   "gravy",
		Name: "Gravy",
		StepGroups: []models.StepGroup{
			{ID: "gravy-simmer", Index: 0, Name: "simmer", DurationMinutes: 30, Equipment: models.EquipmentStovetop, Burners: 2},
		},
	}
}

func TestReportOrdersEntriesByStart(t *testing.T) {
	sol, a, conflicts := plan(t, testProfile(), turkeyRecipe(), gravyRecipe())
	tl := Report(sol, a, conflicts)

	want := []struct {
		stepGroupID string
		startsAt    time.Time
	}{
		{"turkey-prep", at(14, 0)},
		{"turkey-cook", at(14, 30)},
		{"gravy-simmer", at(17, 20)},
	}
	if len(tl.Entries) != len(want) {
		t.Fatalf("len(Entries) = %d, want %d", len(tl.Entries), len(want))
	}
	for i, w := range want {
		e := tl.Entries[i]
		if e.StepGroupID != w.stepGroupID {
			t.Errorf("Entries[%d].StepGroupID = %q, want %q", i, e.StepGroupID, w.stepGroupID)
		}
		if !e.StartsAt.Equal(w.startsAt) {
			t.Errorf("Entries[%d].StartsAt = %v, want %v", i, e.StartsAt, w.startsAt)
		}
	}

	if tl.Status != models.PlanComplete {
		t.Errorf("Status = %q, want %q", tl.Status, models.PlanComplete)
	}
	if !tl.AllReadyByMealTime {
		t.Error("AllReadyByMealTime = false, want true")
	}
	if !tl.NoEquipmentOverbooked {
		t.Error("NoEquipmentOverbooked = false, want true")
	}
}

func TestReportEntryDescribesOvenWork(t *testing.T) {
	sol, a, conflicts := plan(t, testProfile(), turkeyRecipe())
	tl := Report(sol, a, conflicts)

	var cook Entry
	for _, e := range tl.Entries {
		if e.StepGroupID == "turkey-cook" {
			cook = e
		}
	}
	if cook.Action != "cook at 325°F in main oven, row 1" {
		t.Errorf("Action = %q, want oven description", cook.Action)
	}
	if cook.RestMinutes != 20 {
		t.Errorf("RestMinutes = %d, want 20", cook.RestMinutes)
	}
	if !cook.Ready().Equal(at(17, 50)) {
		t.Errorf("Ready() = %v, want 17:50", cook.Ready())
	}
}

func TestReportWaitMinutes(t *testing.T) {
	brined := models.Recipe{
		ID:   "pork",
		Name: "Pork",
		StepGroups: []models.StepGroup{
			{ID: "pork-brine", Index: 0, Name: "brine", DurationMinutes: 120, NightsBeforeServing: 1, Equipment: models.EquipmentNone},
			{ID: "pork-roast", Index: 1, Name: "roast", DurationMinutes: 120, RestMinutes: 10, Equipment: models.EquipmentOven, TemperatureF: 350, HeightSlots: 3, Width: models.WidthFull},
		},
	}
	sol, a, conflicts := plan(t, testProfile(), brined)
	tl := Report(sol, a, conflicts)
	if len(conflicts) != 0 {
		t.Fatalf("conflicts = %+v, want none", conflicts)
	}

	byID := make(map[string]Entry)
	for _, e := range tl.Entries {
		byID[e.StepGroupID] = e
	}

	// Brine runs 21:00-23:00 the night before; the roast does not start
	// until 15:40 on serving day, so the pork sits 16h40m in between.
	brine := byID["pork-brine"]
	if !brine.StartsAt.Equal(time.Date(2026, time.November, 25, 21, 0, 0, 0, time.UTC)) {
		t.Fatalf("brine.StartsAt = %v, want Nov 25 21:00", brine.StartsAt)
	}
	roast := byID["pork-roast"]
	if !roast.StartsAt.Equal(at(15, 40)) {
		t.Fatalf("roast.StartsAt = %v, want 15:40", roast.StartsAt)
	}
	if brine.WaitMinutes != 1000 {
		t.Errorf("brine.WaitMinutes = %d, want 1000", brine.WaitMinutes)
	}
	// The roast lands exactly against the plating buffer.
	if roast.WaitMinutes != 0 {
		t.Errorf("roast.WaitMinutes = %d, want 0", roast.WaitMinutes)
	}
}

func TestReportPartialOnConflict(t *testing.T) {
	first := models.Recipe{ID: "first", Name: "First", StepGroups: []models.StepGroup{
		{ID: "first-bake", Index: 0, Name: "bake", DurationMinutes: 60, MaxWaitMinutes: intPtr(0), Equipment: models.EquipmentOven, TemperatureF: 400, HeightSlots: 1, Width: models.WidthFull},
	}}
	second := models.Recipe{ID: "second", Name: "Second", StepGroups: []models.StepGroup{
		{ID: "second-bake", Index: 0, Name: "bake", DurationMinutes: 60, MaxWaitMinutes: intPtr(0), Equipment: models.EquipmentOven, TemperatureF: 400, HeightSlots: 1, Width: models.WidthFull},
	}}
	profile := allocator.Profile{
		KitchenID: "k1",
		Burners:   4,
		Ovens:     []allocator.OvenSpec{{ID: "oven-1", Name: "main oven", Racks: 1, RackPositions: 5}},
	}
	sol, a, conflicts := plan(t, profile, first, second)
	if len(conflicts) == 0 {
		t.Fatal("want a conflict from two zero-wait dishes in a one-rack oven")
	}
	tl := Report(sol, a, conflicts)

	if tl.Status != models.PlanPartial {
		t.Errorf("Status = %q, want %q", tl.Status, models.PlanPartial)
	}
	if tl.AllReadyByMealTime {
		t.Error("AllReadyByMealTime = true, want false")
	}
	if tl.NoEquipmentOverbooked {
		t.Error("NoEquipmentOverbooked = true, want false")
	}
	if len(tl.Entries) != 1 {
		t.Errorf("len(Entries) = %d, want 1 (conflicted step stays unplaced)", len(tl.Entries))
	}
}

func TestReportPartialOnExcludedRecipe(t *testing.T) {
	impossible := models.Recipe{ID: "cassoulet", Name: "Cassoulet", StepGroups: []models.StepGroup{
		{ID: "cassoulet-bake", Index: 0, Name: "bake", DurationMinutes: 60 * 40, Equipment: models.EquipmentOven, TemperatureF: 300, HeightSlots: 2, Width: models.WidthFull},
	}}
	sol, a, conflicts := plan(t, testProfile(), impossible, gravyRecipe())
	tl := Report(sol, a, conflicts)

	if tl.Status != models.PlanPartial {
		t.Errorf("Status = %q, want %q", tl.Status, models.PlanPartial)
	}
	if len(tl.Excluded) != 1 || tl.Excluded[0].RecipeID != "cassoulet" {
		t.Fatalf("Excluded = %+v, want cassoulet", tl.Excluded)
	}
	if tl.AllReadyByMealTime {
		t.Error("AllReadyByMealTime = true, want false")
	}
	// Exclusion is a deadline failure, not an equipment one.
	if !tl.NoEquipmentOverbooked {
		t.Error("NoEquipmentOverbooked = false, want true")
	}
}

func TestReportUtilization(t *testing.T) {
	sol, a, conflicts := plan(t, testProfile(), turkeyRecipe(), gravyRecipe())
	tl := Report(sol, a, conflicts)

	if len(tl.Utilization) != 3 {
		t.Fatalf("len(Utilization) = %d, want 3", len(tl.Utilization))
	}
	oven := tl.Utilization[0]
	if oven.Resource != "oven:oven-1" || oven.Placements != 1 || oven.BusyMinutes != 180 {
		t.Errorf("oven row = %+v, want 1 placement busy 180m", oven)
	}
	stove := tl.Utilization[1]
	if stove.Resource != "stovetop" || stove.PeakBurners != 2 {
		t.Errorf("stove row = %+v, want peak 2 burners", stove)
	}
	prep := tl.Utilization[2]
	if prep.Resource != "prep" || prep.BusyMinutes != 30 {
		t.Errorf("prep row = %+v, want busy 30m", prep)
	}
}

func TestReportCountsTemperatureChanges(t *testing.T) {
	hot := models.Recipe{ID: "hot", Name: "Hot", StepGroups: []models.StepGroup{
		{ID: "hot-roast", Index: 0, Name: "roast", DurationMinutes: 60, MaxWaitMinutes: intPtr(0), Equipment: models.EquipmentOven, TemperatureF: 425, HeightSlots: 2, Width: models.WidthFull},
	}}
	// The longer rest pushes the milder bake a full hour ahead of the
	// roast, so one oven hosts both temperatures back to back.
	mild := models.Recipe{ID: "mild", Name: "Mild", StepGroups: []models.StepGroup{
		{ID: "mild-bake", Index: 0, Name: "bake", DurationMinutes: 60, RestMinutes: 60, Equipment: models.EquipmentOven, TemperatureF: 325, HeightSlots: 2, Width: models.WidthFull},
	}}
	profile := allocator.Profile{
		KitchenID: "k1",
		Burners:   4,
		Ovens:     []allocator.OvenSpec{{ID: "oven-1", Name: "main oven", Racks: 1, RackPositions: 5}},
	}
	sol, a, conflicts := plan(t, profile, hot, mild)
	if len(conflicts) != 0 {
		t.Fatalf("conflicts = %+v, want none", conflicts)
	}
	tl := Report(sol, a, conflicts)

	if len(tl.Utilization) != 1 {
		t.Fatalf("len(Utilization) = %d, want 1", len(tl.Utilization))
	}
	if tl.Utilization[0].TemperatureChanges != 1 {
		t.Errorf("TemperatureChanges = %d, want 1", tl.Utilization[0].TemperatureChanges)
	}
}

func TestValidateCleanPlan(t *testing.T) {
	profile := testProfile()
	sol, a, conflicts := plan(t, profile, turkeyRecipe(), gravyRecipe())
	tl := Report(sol, a, conflicts)

	if violations := tl.Validate(profile); len(violations) != 0 {
		t.Fatalf("Validate() = %+v, want none", violations)
	}
}

func TestValidateFlagsBrokenTimelines(t *testing.T) {
	profile := testProfile()
	entry := func(id, recipe string, idx int, start, end time.Time, mut func(*Entry)) Entry {
		e := Entry{
			RecipeID: recipe, RecipeName: recipe,
			StepGroupID: id, StepName: id, StepIndex: idx,
			Resource: "prep", ResourceName: "counter",
			StartsAt: start, EndsAt: end,
		}
		if mut != nil {
			mut(&e)
		}
		return e
	}
	asOven := func(temp, height int, width models.OvenWidth, row int) func(*Entry) {
		return func(e *Entry) {
			e.Resource = "oven:oven-1"
			e.ResourceName = "main oven"
			e.TemperatureF = temp
			e.HeightSlots = height
			e.Width = width
			e.Row = row
		}
	}
	asStove := func(burners int) func(*Entry) {
		return func(e *Entry) {
			e.Resource = "stovetop"
			e.ResourceName = "stovetop"
			e.Burners = burners
		}
	}

	tests := []struct {
		name     string
		entries  []Entry
		wantCode string
		wantIDs  int
	}{
		{
			name: "step starts before the previous one rests out",
			entries: []Entry{
				entry("stew-brown", "stew", 0, at(14, 0), at(15, 0), func(e *Entry) { e.RestMinutes = 30 }),
				entry("stew-braise", "stew", 1, at(15, 10), at(16, 10), nil),
			},
			wantCode: ViolationStepOrder,
			wantIDs:  2,
		},
		{
			name: "oven asked for two temperatures at once",
			entries: []Entry{
				entry("a-bake", "a", 0, at(15, 0), at(16, 0), asOven(350, 2, models.WidthHalf, 0)),
				entry("b-bake", "b", 0, at(15, 30), at(16, 30), asOven(425, 2, models.WidthHalf, 1)),
			},
			wantCode: ViolationOvenTemperature,
			wantIDs:  2,
		},
		{
			name: "full width dish sharing its row",
			entries: []Entry{
				entry("a-roast", "a", 0, at(15, 0), at(16, 0), asOven(350, 2, models.WidthFull, 0)),
				entry("b-bake", "b", 0, at(15, 30), at(16, 30), asOven(350, 1, models.WidthHalf, 0)),
			},
			wantCode: ViolationRackOverflow,
			wantIDs:  2,
		},
		{
			name: "half width pair taller than the rack",
			entries: []Entry{
				entry("a-bake", "a", 0, at(15, 0), at(16, 0), asOven(350, 3, models.WidthHalf, 0)),
				entry("b-bake", "b", 0, at(15, 30), at(16, 30), asOven(350, 3, models.WidthHalf, 0)),
			},
			wantCode: ViolationRackOverflow,
			wantIDs:  2,
		},
		{
			name: "three dishes stacked in one row",
			entries: []Entry{
				entry("a-bake", "a", 0, at(15, 0), at(16, 0), asOven(350, 1, models.WidthHalf, 0)),
				entry("b-bake", "b", 0, at(15, 10), at(16, 10), asOven(350, 1, models.WidthHalf, 0)),
				entry("c-bake", "c", 0, at(15, 20), at(16, 20), asOven(350, 1, models.WidthHalf, 0)),
			},
			wantCode: ViolationRackOverflow,
			wantIDs:  3,
		},
		{
			name: "burner demand above the kitchen's four",
			entries: []Entry{
				entry("a-boil", "a", 0, at(17, 0), at(17, 30), asStove(3)),
				entry("b-fry", "b", 0, at(17, 10), at(17, 40), asStove(2)),
			},
			wantCode: ViolationBurnerOverflow,
			wantIDs:  2,
		},
		{
			name: "dish not ready until after the meal",
			entries: []Entry{
				entry("late-bake", "late", 0, at(17, 0), at(17, 55), func(e *Entry) { e.RestMinutes = 10 }),
			},
			wantCode: ViolationPastMealTime,
			wantIDs:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tl := &Timeline{MealTime: mealTime, Entries: tt.entries}
			violations := tl.Validate(profile)
			if len(violations) == 0 {
				t.Fatal("Validate() = none, want a violation")
			}
			found := false
			for _, v := range violations {
				if v.Code != tt.wantCode {
					continue
				}
				found = true
				if len(v.AffectedIDs) != tt.wantIDs {
					t.Errorf("AffectedIDs = %v, want %d ids", v.AffectedIDs, tt.wantIDs)
				}
				if v.Message == "" {
					t.Error("violation carries no message")
				}
			}
			if !found {
				t.Errorf("Validate() codes = %v, want %q", codes(violations), tt.wantCode)
			}
		})
	}
}

func codes(violations []Violation) []string {
	out := make([]string, len(violations))
	for i, v := range violations {
		out[i] = v.Code
	}
	return out
}

func TestExportICal(t *testing.T) {
	sol, a, conflicts := plan(t, testProfile(), turkeyRecipe())
	tl := Report(sol, a, conflicts)

	result := tl.ExportICal("Thanksgiving, Dinner")
	if result.Filename != "thanksgiving-dinner-plan-2026-11-26.ics" {
		t.Errorf("Filename = %q, want slugged date name", result.Filename)
	}
	if result.ContentType != "text/calendar; charset=utf-8" {
		t.Errorf("ContentType = %q", result.ContentType)
	}

	data := string(result.Data)
	for _, want := range []string{
		"BEGIN:VCALENDAR",
		"PRODID:-//Andhrimnir Kitchen//Plan Export//EN",
		"X-WR-CALNAME:Thanksgiving\\, Dinner",
		"UID:turkey-cook@andhrimnir\r\n",
		"DTSTART:20261126T143000Z",
		"DTEND:20261126T173000Z",
		"SUMMARY:Turkey: cook",
		"rest 20 minutes after",
		"END:VCALENDAR",
	} {
		if !strings.Contains(data, want) {
			t.Errorf("export missing %q", want)
		}
	}
	if got := strings.Count(data, "BEGIN:VEVENT"); got != 2 {
		t.Errorf("VEVENT count = %d, want 2", got)
	}
}

func TestExportCSV(t *testing.T) {
	sol, a, conflicts := plan(t, testProfile(), turkeyRecipe(), gravyRecipe())
	tl := Report(sol, a, conflicts)

	result := tl.ExportCSV("Thanksgiving")
	if result.Filename != "thanksgiving-plan-2026-11-26.csv" {
		t.Errorf("Filename = %q", result.Filename)
	}
	if result.ContentType != "text/csv; charset=utf-8" {
		t.Errorf("ContentType = %q", result.ContentType)
	}

	lines := strings.Split(strings.TrimSpace(string(result.Data)), "\n")
	if len(lines) != 4 {
		t.Fatalf("line count = %d, want header plus 3 rows", len(lines))
	}
	if !strings.HasPrefix(lines[0], "recipe,step,starts_at") {
		t.Errorf("header = %q", lines[0])
	}
	cook := lines[2]
	for _, want := range []string{"Turkey", "cook", "2026-11-26T14:30:00Z", "325"} {
		if !strings.Contains(cook, want) {
			t.Errorf("cook row %q missing %q", cook, want)
		}
	}
}

func TestRenderChecklist(t *testing.T) {
	sol, a, conflicts := plan(t, testProfile(), turkeyRecipe(), gravyRecipe())
	tl := Report(sol, a, conflicts)

	var buf bytes.Buffer
	if err := tl.Render(&buf); err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"Meal at Thursday Nov 26, 6:00 PM",
		"Status: all recipes ready on time",
		"Thu 14:30 - 17:30  Turkey: cook at 325°F in main oven, row 1 (rest 20m after)",
		"Equipment:",
		"main oven: 1 placements, busy 180m",
		"Everything lands before the meal.",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("render missing %q in:\n%s", want, out)
		}
	}
}

func TestRenderListsConflicts(t *testing.T) {
	first := models.Recipe{ID: "first", Name: "First", StepGroups: []models.StepGroup{
		{ID: "first-bake", Index: 0, Name: "bake", DurationMinutes: 60, MaxWaitMinutes: intPtr(0), Equipment: models.EquipmentOven, TemperatureF: 400, HeightSlots: 1, Width: models.WidthFull},
	}}
	second := models.Recipe{ID: "second", Name: "Second", StepGroups: []models.StepGroup{
		{ID: "second-bake", Index: 0, Name: "bake", DurationMinutes: 60, MaxWaitMinutes: intPtr(0), Equipment: models.EquipmentOven, TemperatureF: 400, HeightSlots: 1, Width: models.WidthFull},
	}}
	profile := allocator.Profile{
		KitchenID: "k1",
		Burners:   4,
		Ovens:     []allocator.OvenSpec{{ID: "oven-1", Name: "main oven", Racks: 1, RackPositions: 5}},
	}
	sol, a, conflicts := plan(t, profile, first, second)
	tl := Report(sol, a, conflicts)

	var buf bytes.Buffer
	if err := tl.Render(&buf); err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "Status: plan is partial, see below") {
		t.Errorf("render missing partial status in:\n%s", out)
	}
	if !strings.Contains(out, "Conflicts:") || !strings.Contains(out, "blocked by") {
		t.Errorf("render missing conflict section in:\n%s", out)
	}
}
