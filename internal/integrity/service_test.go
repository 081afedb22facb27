package integrity

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/friendsincode/andhrimnir_kitchen/internal/models"
)

func TestScanDetectsFindings(t *testing.T) {
	db := openIntegrityTestDB(t)
	seedIntegrityFixtures(t, db)

	svc := NewService(db, zerolog.Nop())
	report, err := svc.Scan(context.Background())
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}

	if report.Total < 7 {
		t.Fatalf("expected at least 7 findings, got %d", report.Total)
	}
	for _, ft := range []FindingType{
		FindingKitchenWithoutEquipment,
		FindingOrphanStepGroup,
		FindingDuplicateStepIndex,
		FindingOrphanMealInstance,
		FindingMealInstanceKitchenMismatch,
		FindingMealPlanUnknownRecipe,
		FindingDanglingPlanRecordLink,
	} {
		if report.ByType[ft] == 0 {
			t.Fatalf("expected finding type %s", ft)
		}
	}
}

func TestRepairActionsAreIdempotent(t *testing.T) {
	tests := []struct {
		name       string
		finding    FindingType
		resourceID string
		verify     func(t *testing.T, db *gorm.DB)
	}{
		{
			name:       "kitchen_without_equipment",
			finding:    FindingKitchenWithoutEquipment,
			resourceID: "kitchen-bare",
			verify: func(t *testing.T, db *gorm.DB) {
				var count int64
				if err := db.Model(&models.Oven{}).Where("kitchen_id = ?", "kitchen-bare").Count(&count).Error; err != nil {
					t.Fatalf("count ovens: %v", err)
				}
				if count == 0 {
					t.Fatalf("expected oven to be created")
				}
			},
		},
		{
			name:       "orphan_step_group",
			finding:    FindingOrphanStepGroup,
			resourceID: "orphan-group",
			verify: func(t *testing.T, db *gorm.DB) {
				var count int64
				if err := db.Model(&models.StepGroup{}).Where("id = ?", "orphan-group").Count(&count).Error; err != nil {
					t.Fatalf("count step groups: %v", err)
				}
				if count != 0 {
					t.Fatalf("expected orphan step group deleted")
				}
			},
		},
		{
			name:       "duplicate_step_index",
			finding:    FindingDuplicateStepIndex,
			resourceID: "recipe-dup-index",
			verify: func(t *testing.T, db *gorm.DB) {
				var groups []models.StepGroup
				if err := db.Where("recipe_id = ?", "recipe-dup-index").Order("\"index\" ASC").Find(&groups).Error; err != nil {
					t.Fatalf("load step groups: %v", err)
				}
				for i, g := range groups {
					if g.Index != i {
						t.Fatalf("group %d has index %d, want %d", i, g.Index, i)
					}
				}
			},
		},
		{
			name:       "orphan_meal_instance",
			finding:    FindingOrphanMealInstance,
			resourceID: "orphan-meal",
			verify: func(t *testing.T, db *gorm.DB) {
				var count int64
				if err := db.Model(&models.MealInstance{}).Where("id = ?", "orphan-meal").Count(&count).Error; err != nil {
					t.Fatalf("count meal instances: %v", err)
				}
				if count != 0 {
					t.Fatalf("expected orphan meal instance deleted")
				}
			},
		},
		{
			name:       "meal_instance_kitchen_mismatch",
			finding:    FindingMealInstanceKitchenMismatch,
			resourceID: "mismatch-meal",
			verify: func(t *testing.T, db *gorm.DB) {
				var inst models.MealInstance
				if err := db.First(&inst, "id = ?", "mismatch-meal").Error; err != nil {
					t.Fatalf("load meal instance: %v", err)
				}
				if inst.KitchenID != "kitchen-good" {
					t.Fatalf("expected kitchen-good, got %s", inst.KitchenID)
				}
			},
		},
		{
			name:       "meal_plan_unknown_recipe",
			finding:    FindingMealPlanUnknownRecipe,
			resourceID: "plan-bad-menu",
			verify: func(t *testing.T, db *gorm.DB) {
				var plan models.MealPlan
				if err := db.First(&plan, "id = ?", "plan-bad-menu").Error; err != nil {
					t.Fatalf("load meal plan: %v", err)
				}
				if len(plan.RecipeIDs) != 1 || plan.RecipeIDs[0] != "recipe-known" {
					t.Fatalf("expected menu pruned to [recipe-known], got %v", plan.RecipeIDs)
				}
			},
		},
		{
			name:       "dangling_plan_record_link",
			finding:    FindingDanglingPlanRecordLink,
			resourceID: "dangling-meal",
			verify: func(t *testing.T, db *gorm.DB) {
				var inst models.MealInstance
				if err := db.First(&inst, "id = ?", "dangling-meal").Error; err != nil {
					t.Fatalf("load meal instance: %v", err)
				}
				if inst.PlanRecordID != nil {
					t.Fatalf("expected plan record link cleared, got %v", *inst.PlanRecordID)
				}
				if inst.Status != models.MealInstanceScheduled {
					t.Fatalf("expected status scheduled, got %s", inst.Status)
				}
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			db := openIntegrityTestDB(t)
			seedIntegrityFixtures(t, db)
			svc := NewService(db, zerolog.Nop())

			first, err := svc.Repair(context.Background(), RepairInput{
				Type:       tc.finding,
				ResourceID: tc.resourceID,
			})
			if err != nil {
				t.Fatalf("repair failed: %v", err)
			}
			if !first.Changed {
				t.Fatalf("expected first repair to change state, message=%s", first.Message)
			}

			second, err := svc.Repair(context.Background(), RepairInput{
				Type:       tc.finding,
				ResourceID: tc.resourceID,
			})
			if err != nil {
				t.Fatalf("second repair failed: %v", err)
			}
			if second.Changed {
				t.Fatalf("expected second repair to be idempotent no-op")
			}

			tc.verify(t, db)
		})
	}
}

func openIntegrityTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	if err := db.AutoMigrate(
		&models.User{},
		&models.Kitchen{},
		&models.Oven{},
		&models.Recipe{},
		&models.StepGroup{},
		&models.MealPlan{},
		&models.MealInstance{},
		&models.PlanRecord{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func seedIntegrityFixtures(t *testing.T, db *gorm.DB) {
	t.Helper()

	kitchens := []models.Kitchen{
		{ID: "kitchen-bare", Name: "Bare Kitchen", Timezone: "UTC", Burners: 0},
		{ID: "kitchen-good", Name: "Good Kitchen", Timezone: "UTC", Burners: 4},
		{ID: "kitchen-other", Name: "Other Kitchen", Timezone: "UTC", Burners: 2},
	}
	for _, k := range kitchens {
		if err := db.Create(&k).Error; err != nil {
			t.Fatalf("seed kitchen: %v", err)
		}
	}

	recipes := []models.Recipe{
		{ID: "recipe-known", KitchenID: "kitchen-good", Name: "Known Recipe", Servings: 4},
		{ID: "recipe-dup-index", KitchenID: "kitchen-good", Name: "Dup Index Recipe", Servings: 4},
	}
	for _, r := range recipes {
		if err := db.Create(&r).Error; err != nil {
			t.Fatalf("seed recipe: %v", err)
		}
	}

	base := time.Now().UTC().Add(-time.Hour)
	groups := []models.StepGroup{
		{ID: "orphan-group", RecipeID: "missing-recipe", Index: 0, Name: "Orphan", DurationMinutes: 10, Equipment: models.EquipmentNone, CreatedAt: base},
		{ID: "dup-prep", RecipeID: "recipe-dup-index", Index: 0, Name: "Prep", DurationMinutes: 15, Equipment: models.EquipmentNone, CreatedAt: base},
		{ID: "dup-bake-a", RecipeID: "recipe-dup-index", Index: 1, Name: "Bake A", DurationMinutes: 30, Equipment: models.EquipmentOven, TemperatureF: 350, HeightSlots: 2, Width: models.WidthHalf, CreatedAt: base.Add(time.Minute)},
		{ID: "dup-bake-b", RecipeID: "recipe-dup-index", Index: 1, Name: "Bake B", DurationMinutes: 30, Equipment: models.EquipmentOven, TemperatureF: 350, HeightSlots: 2, Width: models.WidthHalf, CreatedAt: base.Add(2 * time.Minute)},
	}
	for _, g := range groups {
		if err := db.Create(&g).Error; err != nil {
			t.Fatalf("seed step group: %v", err)
		}
	}

	serveAt := time.Now().UTC().Add(24 * time.Hour)
	plans := []models.MealPlan{
		{ID: "plan-good", KitchenID: "kitchen-good", Name: "Good Plan", RecipeIDs: []string{"recipe-known"}, DTStart: serveAt, Timezone: "UTC", Active: true},
		{ID: "plan-bad-menu", KitchenID: "kitchen-good", Name: "Bad Menu Plan", RecipeIDs: []string{"recipe-known", "recipe-missing"}, DTStart: serveAt, Timezone: "UTC", Active: true},
	}
	for _, p := range plans {
		if err := db.Create(&p).Error; err != nil {
			t.Fatalf("seed meal plan: %v", err)
		}
	}

	missingRecord := "missing-record"
	instances := []models.MealInstance{
		{ID: "orphan-meal", MealPlanID: "missing-plan", KitchenID: "kitchen-good", ServesAt: serveAt, Status: models.MealInstanceScheduled},
		{ID: "mismatch-meal", MealPlanID: "plan-good", KitchenID: "kitchen-other", ServesAt: serveAt, Status: models.MealInstanceScheduled},
		{ID: "dangling-meal", MealPlanID: "plan-good", KitchenID: "kitchen-good", ServesAt: serveAt, Status: models.MealInstancePlanned, PlanRecordID: &missingRecord},
	}
	for _, mi := range instances {
		if err := db.Create(&mi).Error; err != nil {
			t.Fatalf("seed meal instance: %v", err)
		}
	}
}
