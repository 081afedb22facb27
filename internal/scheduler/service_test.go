/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduler

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/friendsincode/andhrimnir_kitchen/internal/events"
	"github.com/friendsincode/andhrimnir_kitchen/internal/models"
	"github.com/friendsincode/andhrimnir_kitchen/internal/scheduler/state"
	"github.com/friendsincode/andhrimnir_kitchen/internal/stepgraph"
)

var testMealTime = time.Date(2026, time.November, 26, 18, 0, 0, 0, time.UTC)

func TestNew(t *testing.T) {
	logger := zerolog.Nop()

	tests := []struct {
		name          string
		opts          Options
		wantLookahead time.Duration
		wantWindow    int
	}{
		{
			name:          "zero lookahead defaults to a week",
			opts:          Options{WindowHours: 24},
			wantLookahead: 7 * 24 * time.Hour,
			wantWindow:    24,
		},
		{
			name:          "negative lookahead defaults to a week",
			opts:          Options{Lookahead: -time.Hour, WindowHours: 24},
			wantLookahead: 7 * 24 * time.Hour,
			wantWindow:    24,
		},
		{
			name:          "zero window defaults to 24h",
			opts:          Options{Lookahead: 48 * time.Hour},
			wantLookahead: 48 * time.Hour,
			wantWindow:    24,
		},
		{
			name:          "custom values are preserved",
			opts:          Options{Lookahead: 12 * time.Hour, WindowHours: 36},
			wantLookahead: 12 * time.Hour,
			wantWindow:    36,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := New(nil, events.NewBus(), state.NewStore(), tt.opts, logger)
			if svc.opts.Lookahead != tt.wantLookahead {
				t.Errorf("New() lookahead = %v, want %v", svc.opts.Lookahead, tt.wantLookahead)
			}
			if svc.opts.WindowHours != tt.wantWindow {
				t.Errorf("New() window hours = %v, want %v", svc.opts.WindowHours, tt.wantWindow)
			}
		})
	}
}

func newTestService(t *testing.T) (*Service, *gorm.DB, *events.Bus) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite db: %v", err)
	}
	err = db.AutoMigrate(
		&models.Kitchen{}, &models.Oven{},
		&models.Recipe{}, &models.StepGroup{},
		&models.PlanRecord{}, &models.MealPlan{}, &models.MealInstance{},
	)
	if err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	bus := events.NewBus()
	svc := New(db, bus, state.NewStore(), Options{
		EveningHour:        21,
		WindowHours:        24,
		ServeBufferMinutes: 10,
		MaxShifts:          64,
		Workers:            2,
	}, zerolog.Nop())
	return svc, db, bus
}

func seedKitchen(t *testing.T, db *gorm.DB) string {
	t.Helper()
	kitchen := models.Kitchen{
		ID:      uuid.NewString(),
		Name:    "home " + uuid.NewString()[:8],
		Burners: 4,
		Ovens: []models.Oven{
			{ID: uuid.NewString(), Name: "main oven", Racks: 2, RackPositions: 5},
		},
	}
	if err := db.Create(&kitchen).Error; err != nil {
		t.Fatalf("failed to seed kitchen: %v", err)
	}
	return kitchen.ID
}

func seedRecipe(t *testing.T, db *gorm.DB, kitchenID, name string, groups []models.StepGroup) string {
	t.Helper()
	recipe := models.Recipe{
		ID:        uuid.NewString(),
		KitchenID: kitchenID,
		Name:      name,
	}
	for i := range groups {
		groups[i].ID = uuid.NewString()
		groups[i].RecipeID = recipe.ID
	}
	recipe.StepGroups = groups
	if err := db.Create(&recipe).Error; err != nil {
		t.Fatalf("failed to seed recipe %s: %v", name, err)
	}
	return recipe.ID
}

func turkeyGroups() []models.StepGroup {
	return []models.StepGroup{
		{Index: 0, Name: "prep", DurationMinutes: 30, Equipment: models.EquipmentNone},
		{Index: 1, Name: "cook", DurationMinutes: 180, RestMinutes: 20, Equipment: models.EquipmentOven, TemperatureF: 325, HeightSlots: 4, Width: models.WidthFull},
	}
}

func TestPlanComputesTimeline(t *testing.T) {
	svc, db, bus := newTestService(t)
	ctx := context.Background()

	kitchenID := seedKitchen(t, db)
	turkeyID := seedRecipe(t, db, kitchenID, "Turkey", turkeyGroups())
	computed := bus.Subscribe(events.EventPlanComputed)

	result, err := svc.Plan(ctx, kitchenID, []string{turkeyID}, testMealTime)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if result.CacheHit {
		t.Error("CacheHit = true on first computation")
	}
	if result.Record.Status != models.PlanComplete {
		t.Errorf("Status = %q, want %q", result.Record.Status, models.PlanComplete)
	}
	if result.Record.EntryCount != 2 || result.Record.ConflictCount != 0 {
		t.Errorf("counts = %d entries / %d conflicts, want 2/0",
			result.Record.EntryCount, result.Record.ConflictCount)
	}
	if result.Record.PlanHash == "" {
		t.Error("PlanHash is empty")
	}

	cook := result.Timeline.Entries[1]
	wantStart := time.Date(2026, time.November, 26, 14, 30, 0, 0, time.UTC)
	if !cook.StartsAt.Equal(wantStart) {
		t.Errorf("cook starts %v, want %v", cook.StartsAt, wantStart)
	}

	var stored models.PlanRecord
	if err := db.First(&stored, "id = ?", result.Record.ID).Error; err != nil {
		t.Fatalf("plan record not persisted: %v", err)
	}
	if stored.Timeline == nil {
		t.Error("persisted record has no timeline payload")
	}

	select {
	case payload := <-computed:
		if payload["plan_id"] != result.Record.ID {
			t.Errorf("event plan_id = %v, want %v", payload["plan_id"], result.Record.ID)
		}
	default:
		t.Error("no plan.computed event published")
	}

	runs := svc.RecentRuns()
	if len(runs) != 1 || runs[0].Status != string(models.PlanComplete) {
		t.Errorf("RecentRuns() = %+v, want one complete run", runs)
	}
}

func TestPlanRejectsMalformedRecipe(t *testing.T) {
	svc, db, _ := newTestService(t)
	ctx := context.Background()

	kitchenID := seedKitchen(t, db)
	badID := seedRecipe(t, db, kitchenID, "Broken", []models.StepGroup{
		{Index: 0, Name: "wait", DurationMinutes: 0, Equipment: models.EquipmentNone},
	})

	_, err := svc.Plan(ctx, kitchenID, []string{badID}, testMealTime)
	if !errors.Is(err, stepgraph.ErrMalformedRecipe) {
		t.Fatalf("Plan() error = %v, want ErrMalformedRecipe", err)
	}

	var count int64
	db.Model(&models.PlanRecord{}).Count(&count)
	if count != 0 {
		t.Errorf("plan records = %d, want 0 after a fatal build error", count)
	}
	if runs := svc.RecentRuns(); len(runs) != 0 {
		t.Errorf("RecentRuns() = %+v, want none", runs)
	}
}

func TestPlanDegradesToPartial(t *testing.T) {
	svc, db, bus := newTestService(t)
	ctx := context.Background()

	kitchenID := seedKitchen(t, db)
	// A forty-hour bake cannot fit inside the 24h planning window.
	slowID := seedRecipe(t, db, kitchenID, "Cassoulet", []models.StepGroup{
		{Index: 0, Name: "bake", DurationMinutes: 40 * 60, Equipment: models.EquipmentOven, TemperatureF: 300, HeightSlots: 2, Width: models.WidthFull},
	})
	gravyID := seedRecipe(t, db, kitchenID, "Gravy", []models.StepGroup{
		{Index: 0, Name: "simmer", DurationMinutes: 30, Equipment: models.EquipmentStovetop, Burners: 2},
	})
	excluded := bus.Subscribe(events.EventRecipeExcluded)

	result, err := svc.Plan(ctx, kitchenID, []string{slowID, gravyID}, testMealTime)
	if err != nil {
		t.Fatalf("Plan() error = %v, want partial plan, not failure", err)
	}
	if result.Record.Status != models.PlanPartial {
		t.Errorf("Status = %q, want %q", result.Record.Status, models.PlanPartial)
	}
	if result.Record.ExcludedCount != 1 || result.Record.EntryCount != 1 {
		t.Errorf("counts = %d excluded / %d entries, want 1/1",
			result.Record.ExcludedCount, result.Record.EntryCount)
	}

	select {
	case payload := <-excluded:
		if payload["recipe_id"] != slowID {
			t.Errorf("excluded recipe_id = %v, want %v", payload["recipe_id"], slowID)
		}
	default:
		t.Error("no plan.recipe_excluded event published")
	}
}

func TestPlanRejectsUnknownRecipe(t *testing.T) {
	svc, db, _ := newTestService(t)
	kitchenID := seedKitchen(t, db)

	_, err := svc.Plan(context.Background(), kitchenID, []string{uuid.NewString()}, testMealTime)
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("Plan() error = %v, want unknown-recipe failure", err)
	}
}

func TestPlanRejectsForeignRecipe(t *testing.T) {
	svc, db, _ := newTestService(t)
	kitchenID := seedKitchen(t, db)
	otherKitchen := seedKitchen(t, db)
	foreignID := seedRecipe(t, db, otherKitchen, "Turkey", turkeyGroups())

	_, err := svc.Plan(context.Background(), kitchenID, []string{foreignID}, testMealTime)
	if err == nil || !strings.Contains(err.Error(), "does not belong") {
		t.Fatalf("Plan() error = %v, want foreign-recipe failure", err)
	}
}

func TestPlanForInstanceLinksRecord(t *testing.T) {
	svc, db, _ := newTestService(t)
	ctx := context.Background()

	kitchenID := seedKitchen(t, db)
	turkeyID := seedRecipe(t, db, kitchenID, "Turkey", turkeyGroups())

	mealPlan := models.MealPlan{
		ID:        uuid.NewString(),
		KitchenID: kitchenID,
		Name:      "Thanksgiving",
		RecipeIDs: []string{turkeyID},
		DTStart:   testMealTime,
		Timezone:  "UTC",
		Active:    true,
	}
	if err := db.Create(&mealPlan).Error; err != nil {
		t.Fatalf("failed to seed meal plan: %v", err)
	}
	instance := models.MealInstance{
		ID:         uuid.NewString(),
		MealPlanID: mealPlan.ID,
		KitchenID:  kitchenID,
		ServesAt:   testMealTime,
		Status:     models.MealInstanceScheduled,
	}
	if err := db.Create(&instance).Error; err != nil {
		t.Fatalf("failed to seed meal instance: %v", err)
	}

	result, err := svc.PlanForInstance(ctx, instance.ID)
	if err != nil {
		t.Fatalf("PlanForInstance() error = %v", err)
	}

	var reloaded models.MealInstance
	if err := db.First(&reloaded, "id = ?", instance.ID).Error; err != nil {
		t.Fatalf("failed to reload instance: %v", err)
	}
	if reloaded.PlanRecordID == nil || *reloaded.PlanRecordID != result.Record.ID {
		t.Errorf("PlanRecordID = %v, want %v", reloaded.PlanRecordID, result.Record.ID)
	}
	if reloaded.Status != models.MealInstancePlanned {
		t.Errorf("Status = %q, want %q", reloaded.Status, models.MealInstancePlanned)
	}
	if result.Record.MealInstanceID == nil || *result.Record.MealInstanceID != instance.ID {
		t.Errorf("record.MealInstanceID = %v, want %v", result.Record.MealInstanceID, instance.ID)
	}
}

func TestPlanForCancelledInstanceFails(t *testing.T) {
	svc, db, _ := newTestService(t)
	kitchenID := seedKitchen(t, db)
	turkeyID := seedRecipe(t, db, kitchenID, "Turkey", turkeyGroups())

	mealPlan := models.MealPlan{
		ID:        uuid.NewString(),
		KitchenID: kitchenID,
		Name:      "Cancelled dinner",
		RecipeIDs: []string{turkeyID},
		DTStart:   testMealTime,
		Timezone:  "UTC",
	}
	if err := db.Create(&mealPlan).Error; err != nil {
		t.Fatalf("failed to seed meal plan: %v", err)
	}
	instance := models.MealInstance{
		ID:         uuid.NewString(),
		MealPlanID: mealPlan.ID,
		KitchenID:  kitchenID,
		ServesAt:   testMealTime,
		Status:     models.MealInstanceCancelled,
	}
	if err := db.Create(&instance).Error; err != nil {
		t.Fatalf("failed to seed meal instance: %v", err)
	}

	if _, err := svc.PlanForInstance(context.Background(), instance.ID); err == nil {
		t.Fatal("PlanForInstance() succeeded for a cancelled instance")
	}
}
