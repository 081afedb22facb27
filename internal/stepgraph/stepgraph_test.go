/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package stepgraph

import (
	"errors"
	"strings"
	"testing"

	"github.com/friendsincode/andhrimnir_kitchen/internal/models"
)

func intPtr(v int) *int { return &v }

func ovenGroup(index, duration int) models.StepGroup {
	return models.StepGroup{
		ID:              "sg-" + string(rune('a'+index)),
		Index:           index,
		Name:            "step",
		DurationMinutes: duration,
		Equipment:       models.EquipmentOven,
		TemperatureF:    350,
		HeightSlots:     2,
		Width:           models.WidthFull,
	}
}

func TestBuildLinksChainsInIndexOrder(t *testing.T) {
	recipe := models.Recipe{
		ID:   "r1",
		Name: "Brisket",
		StepGroups: []models.StepGroup{
			// Deliberately shuffled; Build must order by Index.
			{ID: "sg-2", Index: 2, Name: "roast", DurationMinutes: 180, Equipment: models.EquipmentOven, TemperatureF: 275, HeightSlots: 3, Width: models.WidthFull},
			{ID: "sg-0", Index: 0, Name: "trim", DurationMinutes: 30, Equipment: models.EquipmentNone},
			{ID: "sg-1", Index: 1, Name: "sear", DurationMinutes: 20, Equipment: models.EquipmentStovetop, Burners: 1},
		},
	}

	g, err := Build([]models.Recipe{recipe})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	chain := g.Chain("r1")
	if len(chain) != 3 {
		t.Fatalf("len(chain) = %d, want 3", len(chain))
	}
	for i, wantID := range []string{"sg-0", "sg-1", "sg-2"} {
		if chain[i].Group.ID != wantID {
			t.Errorf("chain[%d].Group.ID = %q, want %q", i, chain[i].Group.ID, wantID)
		}
	}

	if chain[0].Prev != nil {
		t.Errorf("chain[0].Prev = %v, want nil", chain[0].Prev)
	}
	if chain[0].Next != chain[1] || chain[1].Next != chain[2] {
		t.Error("Next pointers do not follow index order")
	}
	if chain[2].Prev != chain[1] || chain[1].Prev != chain[0] {
		t.Error("Prev pointers do not follow index order")
	}
	if !chain[2].Final() {
		t.Error("chain[2].Final() = false, want true")
	}
	if chain[1].Final() {
		t.Error("chain[1].Final() = true, want false")
	}
}

func TestBuildKeepsRecipeInputOrder(t *testing.T) {
	recipes := []models.Recipe{
		{ID: "r-b", Name: "Beans", StepGroups: []models.StepGroup{ovenGroup(0, 60)}},
		{ID: "r-a", Name: "Rolls", StepGroups: []models.StepGroup{ovenGroup(0, 25)}},
	}

	g, err := Build(recipes)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	ids := g.RecipeIDs()
	if len(ids) != 2 || ids[0] != "r-b" || ids[1] != "r-a" {
		t.Fatalf("RecipeIDs() = %v, want [r-b r-a]", ids)
	}

	nodes := g.Nodes()
	if len(nodes) != 2 {
		t.Fatalf("len(Nodes()) = %d, want 2", len(nodes))
	}
	if nodes[0].RecipeID != "r-b" || nodes[1].RecipeID != "r-a" {
		t.Errorf("node recipe order = [%s %s], want [r-b r-a]", nodes[0].RecipeID, nodes[1].RecipeID)
	}

	if got := g.RecipeName("r-a"); got != "Rolls" {
		t.Errorf("RecipeName(r-a) = %q, want %q", got, "Rolls")
	}
}

func TestBuildRejectsMalformedRecipes(t *testing.T) {
	tests := []struct {
		name    string
		recipe  models.Recipe
		wantMsg string
	}{
		{
			name:    "no step groups",
			recipe:  models.Recipe{ID: "r1", Name: "Empty"},
			wantMsg: "no step groups",
		},
		{
			name: "zero duration",
			recipe: models.Recipe{ID: "r1", Name: "Zero", StepGroups: []models.StepGroup{
				{Index: 0, DurationMinutes: 0, Equipment: models.EquipmentNone},
			}},
			wantMsg: "duration must be positive",
		},
		{
			name: "negative rest",
			recipe: models.Recipe{ID: "r1", Name: "Rest", StepGroups: []models.StepGroup{
				{Index: 0, DurationMinutes: 10, RestMinutes: -5, Equipment: models.EquipmentNone},
			}},
			wantMsg: "rest must not be negative",
		},
		{
			name: "negative hold",
			recipe: models.Recipe{ID: "r1", Name: "Hold", StepGroups: []models.StepGroup{
				{Index: 0, DurationMinutes: 10, HoldMinutes: -1, Equipment: models.EquipmentNone},
			}},
			wantMsg: "hold must not be negative",
		},
		{
			name: "negative nights",
			recipe: models.Recipe{ID: "r1", Name: "Nights", StepGroups: []models.StepGroup{
				{Index: 0, DurationMinutes: 10, NightsBeforeServing: -1, Equipment: models.EquipmentNone},
			}},
			wantMsg: "nights-before-serving must not be negative",
		},
		{
			name: "negative max wait",
			recipe: models.Recipe{ID: "r1", Name: "Wait", StepGroups: []models.StepGroup{
				{Index: 0, DurationMinutes: 10, MaxWaitMinutes: intPtr(-1), Equipment: models.EquipmentNone},
			}},
			wantMsg: "max wait must not be negative",
		},
		{
			name: "oven without temperature",
			recipe: models.Recipe{ID: "r1", Name: "Cold", StepGroups: []models.StepGroup{
				{Index: 0, DurationMinutes: 10, Equipment: models.EquipmentOven, HeightSlots: 1, Width: models.WidthFull},
			}},
			wantMsg: "oven temperature must be positive",
		},
		{
			name: "oven without height",
			recipe: models.Recipe{ID: "r1", Name: "Flat", StepGroups: []models.StepGroup{
				{Index: 0, DurationMinutes: 10, Equipment: models.EquipmentOven, TemperatureF: 350, Width: models.WidthFull},
			}},
			wantMsg: "height slots must be at least 1",
		},
		{
			name: "oven with bad width",
			recipe: models.Recipe{ID: "r1", Name: "Wide", StepGroups: []models.StepGroup{
				{Index: 0, DurationMinutes: 10, Equipment: models.EquipmentOven, TemperatureF: 350, HeightSlots: 1, Width: "third"},
			}},
			wantMsg: "width must be full or half",
		},
		{
			name: "stovetop without burners",
			recipe: models.Recipe{ID: "r1", Name: "Pot", StepGroups: []models.StepGroup{
				{Index: 0, DurationMinutes: 10, Equipment: models.EquipmentStovetop},
			}},
			wantMsg: "at least one burner",
		},
		{
			name: "unknown equipment",
			recipe: models.Recipe{ID: "r1", Name: "Gadget", StepGroups: []models.StepGroup{
				{Index: 0, DurationMinutes: 10, Equipment: "microwave"},
			}},
			wantMsg: "unknown equipment kind",
		},
		{
			name: "duplicate index",
			recipe: models.Recipe{ID: "r1", Name: "Twins", StepGroups: []models.StepGroup{
				{Index: 0, DurationMinutes: 10, Equipment: models.EquipmentNone},
				{Index: 0, DurationMinutes: 15, Equipment: models.EquipmentNone},
			}},
			wantMsg: "repeats step index 0",
		},
		{
			name: "nights increase along chain",
			recipe: models.Recipe{ID: "r1", Name: "Backwards", StepGroups: []models.StepGroup{
				{Index: 0, DurationMinutes: 10, NightsBeforeServing: 0, Equipment: models.EquipmentNone},
				{Index: 1, DurationMinutes: 10, NightsBeforeServing: 1, Equipment: models.EquipmentNone},
			}},
			wantMsg: "pinned 1 nights out but follows step 0 pinned 0 nights out",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build([]models.Recipe{tt.recipe})
			if err == nil {
				t.Fatal("Build() error = nil, want malformed recipe error")
			}
			if !errors.Is(err, ErrMalformedRecipe) {
				t.Errorf("errors.Is(err, ErrMalformedRecipe) = false, err = %v", err)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("err = %q, want substring %q", err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestBuildAllowsEqualNightsAlongChain(t *testing.T) {
	recipe := models.Recipe{
		ID:   "r1",
		Name: "Overnight",
		StepGroups: []models.StepGroup{
			{Index: 0, DurationMinutes: 15, NightsBeforeServing: 1, Equipment: models.EquipmentNone},
			{Index: 1, DurationMinutes: 30, NightsBeforeServing: 1, Equipment: models.EquipmentNone},
			{Index: 2, DurationMinutes: 60, Equipment: models.EquipmentOven, TemperatureF: 325, HeightSlots: 2, Width: models.WidthFull},
		},
	}

	if _, err := Build([]models.Recipe{recipe}); err != nil {
		t.Fatalf("Build() error = %v, want nil", err)
	}
}

func TestBuildFailsFastAcrossRecipes(t *testing.T) {
	recipes := []models.Recipe{
		{ID: "good", Name: "Good", StepGroups: []models.StepGroup{ovenGroup(0, 45)}},
		{ID: "bad", Name: "Bad"},
	}

	g, err := Build(recipes)
	if err == nil {
		t.Fatal("Build() error = nil, want error for second recipe")
	}
	if g != nil {
		t.Errorf("Build() graph = %v, want nil on error", g)
	}
}
