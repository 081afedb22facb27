/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package integrity

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/andhrimnir_kitchen/internal/models"
)

type FindingType string

const (
	FindingKitchenWithoutEquipment     FindingType = "kitchen_without_equipment"
	FindingOrphanStepGroup             FindingType = "orphan_step_group"
	FindingDuplicateStepIndex          FindingType = "duplicate_step_index"
	FindingOrphanMealInstance          FindingType = "orphan_meal_instance"
	FindingMealInstanceKitchenMismatch FindingType = "meal_instance_kitchen_mismatch"
	FindingMealPlanUnknownRecipe       FindingType = "meal_plan_unknown_recipe"
	FindingDanglingPlanRecordLink      FindingType = "dangling_plan_record_link"
)

type Finding struct {
	ID         string
	Type       FindingType
	Severity   string
	Summary    string
	KitchenID  *string
	ResourceID string
	Repairable bool
	Details    map[string]any
}

type Report struct {
	GeneratedAt time.Time
	Total       int
	ByType      map[FindingType]int
	Findings    []Finding
}

type RepairInput struct {
	Type       FindingType
	KitchenID  string
	ResourceID string
}

type RepairResult struct {
	Changed bool
	Message string
	Details map[string]any
}

type Service struct {
	db     *gorm.DB
	logger zerolog.Logger
}

func NewService(db *gorm.DB, logger zerolog.Logger) *Service {
	return &Service{
		db:     db,
		logger: logger.With().Str("component", "integrity").Logger(),
	}
}

func (s *Service) Scan(ctx context.Context) (*Report, error) {
	findings := make([]Finding, 0, 32)

	added, err := s.scanKitchensWithoutEquipment(ctx)
	if err != nil {
		return nil, err
	}
	findings = append(findings, added...)

	added, err = s.scanOrphanStepGroups(ctx)
	if err != nil {
		return nil, err
	}
	findings = append(findings, added...)

	added, err = s.scanDuplicateStepIndexes(ctx)
	if err != nil {
		return nil, err
	}
	findings = append(findings, added...)

	added, err = s.scanOrphanMealInstances(ctx)
	if err != nil {
		return nil, err
	}
	findings = append(findings, added...)

	added, err = s.scanMealInstanceKitchenMismatch(ctx)
	if err != nil {
		return nil, err
	}
	findings = append(findings, added...)

	added, err = s.scanMealPlanUnknownRecipes(ctx)
	if err != nil {
		return nil, err
	}
	findings = append(findings, added...)

	added, err = s.scanDanglingPlanRecordLinks(ctx)
	if err != nil {
		return nil, err
	}
	findings = append(findings, added...)

	byType := make(map[FindingType]int)
	for _, f := range findings {
		byType[f.Type]++
	}

	report := &Report{
		GeneratedAt: time.Now().UTC(),
		Total:       len(findings),
		ByType:      byType,
		Findings:    findings,
	}

	if report.Total > 0 {
		s.logger.Warn().Int("total_findings", report.Total).Interface("by_type", byType).Msg("integrity scan completed with findings")
	} else {
		s.logger.Info().Msg("integrity scan completed with no findings")
	}

	return report, nil
}

func (s *Service) Repair(ctx context.Context, input RepairInput) (RepairResult, error) {
	switch input.Type {
	case FindingKitchenWithoutEquipment:
		return s.repairKitchenWithoutEquipment(ctx, input)
	case FindingOrphanStepGroup:
		return s.repairOrphanStepGroup(ctx, input)
	case FindingDuplicateStepIndex:
		return s.repairDuplicateStepIndex(ctx, input)
	case FindingOrphanMealInstance:
		return s.repairOrphanMealInstance(ctx, input)
	case FindingMealInstanceKitchenMismatch:
		return s.repairMealInstanceKitchenMismatch(ctx, input)
	case FindingMealPlanUnknownRecipe:
		return s.repairMealPlanUnknownRecipe(ctx, input)
	case FindingDanglingPlanRecordLink:
		return s.repairDanglingPlanRecordLink(ctx, input)
	default:
		return RepairResult{}, fmt.Errorf("unsupported finding type: %s", input.Type)
	}
}

// scanKitchensWithoutEquipment flags kitchens the planner can never
// place work in: no burners and no ovens.
func (s *Service) scanKitchensWithoutEquipment(ctx context.Context) ([]Finding, error) {
	type row struct {
		ID      string
		Name    string
		Burners int
	}
	var rows []row
	if err := s.db.WithContext(ctx).
		Table("kitchens").
		Select("kitchens.id, kitchens.name, kitchens.burners").
		Joins("LEFT JOIN ovens ON ovens.kitchen_id = kitchens.id").
		Where("ovens.id IS NULL").
		Where("kitchens.burners <= 0").
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	findings := make([]Finding, 0, len(rows))
	for _, r := range rows {
		kitchenID := r.ID
		findings = append(findings, Finding{
			ID:         findingID(FindingKitchenWithoutEquipment, kitchenID, kitchenID),
			Type:       FindingKitchenWithoutEquipment,
			Severity:   "high",
			Summary:    "Kitchen has no ovens and no burners",
			KitchenID:  &kitchenID,
			ResourceID: kitchenID,
			Repairable: true,
			Details: map[string]any{
				"kitchen_name": r.Name,
			},
		})
	}
	return findings, nil
}

func (s *Service) scanOrphanStepGroups(ctx context.Context) ([]Finding, error) {
	type row struct {
		ID       string
		RecipeID string
	}
	var rows []row
	if err := s.db.WithContext(ctx).
		Table("step_groups sg").
		Select("sg.id, sg.recipe_id").
		Joins("LEFT JOIN recipes r ON r.id = sg.recipe_id").
		Where("r.id IS NULL").
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	findings := make([]Finding, 0, len(rows))
	for _, r := range rows {
		findings = append(findings, Finding{
			ID:         findingID(FindingOrphanStepGroup, "", r.ID),
			Type:       FindingOrphanStepGroup,
			Severity:   "medium",
			Summary:    "Step group references a deleted/missing recipe",
			ResourceID: r.ID,
			Repairable: true,
			Details: map[string]any{
				"recipe_id": r.RecipeID,
			},
		})
	}
	return findings, nil
}

// scanDuplicateStepIndexes finds recipes whose step groups repeat an
// index. The planner rejects those recipes outright.
func (s *Service) scanDuplicateStepIndexes(ctx context.Context) ([]Finding, error) {
	var groups []models.StepGroup
	if err := s.db.WithContext(ctx).Find(&groups).Error; err != nil {
		return nil, err
	}

	seen := make(map[string]map[int]int) // recipeID -> index -> count
	for _, g := range groups {
		if seen[g.RecipeID] == nil {
			seen[g.RecipeID] = make(map[int]int)
		}
		seen[g.RecipeID][g.Index]++
	}

	var findings []Finding
	for recipeID, indexes := range seen {
		duplicated := make([]int, 0)
		for idx, count := range indexes {
			if count > 1 {
				duplicated = append(duplicated, idx)
			}
		}
		if len(duplicated) == 0 {
			continue
		}
		sort.Ints(duplicated)

		var recipe models.Recipe
		kitchenID := ""
		if err := s.db.WithContext(ctx).First(&recipe, "id = ?", recipeID).Error; err == nil {
			kitchenID = recipe.KitchenID
		}

		f := Finding{
			ID:         findingID(FindingDuplicateStepIndex, kitchenID, recipeID),
			Type:       FindingDuplicateStepIndex,
			Severity:   "high",
			Summary:    "Recipe repeats a step index and cannot be planned",
			ResourceID: recipeID,
			Repairable: true,
			Details: map[string]any{
				"recipe_name":        recipe.Name,
				"duplicated_indexes": duplicated,
			},
		}
		if kitchenID != "" {
			f.KitchenID = &kitchenID
		}
		findings = append(findings, f)
	}

	sort.Slice(findings, func(i, j int) bool { return findings[i].ResourceID < findings[j].ResourceID })
	return findings, nil
}

func (s *Service) scanOrphanMealInstances(ctx context.Context) ([]Finding, error) {
	type row struct {
		ID         string
		KitchenID  string
		MealPlanID string
	}
	var rows []row
	if err := s.db.WithContext(ctx).
		Table("meal_instances mi").
		Select("mi.id, mi.kitchen_id, mi.meal_plan_id").
		Joins("LEFT JOIN meal_plans mp ON mp.id = mi.meal_plan_id").
		Where("mp.id IS NULL").
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	findings := make([]Finding, 0, len(rows))
	for _, r := range rows {
		kitchenID := r.KitchenID
		findings = append(findings, Finding{
			ID:         findingID(FindingOrphanMealInstance, kitchenID, r.ID),
			Type:       FindingOrphanMealInstance,
			Severity:   "high",
			Summary:    "Meal instance references a deleted/missing meal plan",
			KitchenID:  &kitchenID,
			ResourceID: r.ID,
			Repairable: true,
			Details: map[string]any{
				"meal_plan_id": r.MealPlanID,
			},
		})
	}
	return findings, nil
}

func (s *Service) scanMealInstanceKitchenMismatch(ctx context.Context) ([]Finding, error) {
	type row struct {
		ID                string
		InstanceKitchenID string
		PlanKitchenID     string
		MealPlanID        string
	}
	var rows []row
	if err := s.db.WithContext(ctx).
		Table("meal_instances mi").
		Select("mi.id, mi.kitchen_id AS instance_kitchen_id, mp.kitchen_id AS plan_kitchen_id, mi.meal_plan_id").
		Joins("JOIN meal_plans mp ON mp.id = mi.meal_plan_id").
		Where("mi.kitchen_id <> mp.kitchen_id").
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	findings := make([]Finding, 0, len(rows))
	for _, r := range rows {
		kitchenID := r.InstanceKitchenID
		findings = append(findings, Finding{
			ID:         findingID(FindingMealInstanceKitchenMismatch, kitchenID, r.ID),
			Type:       FindingMealInstanceKitchenMismatch,
			Severity:   "high",
			Summary:    "Meal instance kitchen_id does not match parent meal plan kitchen_id",
			KitchenID:  &kitchenID,
			ResourceID: r.ID,
			Repairable: true,
			Details: map[string]any{
				"meal_plan_id":        r.MealPlanID,
				"instance_kitchen_id": r.InstanceKitchenID,
				"expected_kitchen_id": r.PlanKitchenID,
			},
		})
	}
	return findings, nil
}

// scanMealPlanUnknownRecipes walks each menu in Go because the recipe
// list is a JSON column.
func (s *Service) scanMealPlanUnknownRecipes(ctx context.Context) ([]Finding, error) {
	var recipes []models.Recipe
	if err := s.db.WithContext(ctx).Select("id", "kitchen_id").Find(&recipes).Error; err != nil {
		return nil, err
	}
	recipeKitchen := make(map[string]string, len(recipes))
	for _, r := range recipes {
		recipeKitchen[r.ID] = r.KitchenID
	}

	var plans []models.MealPlan
	if err := s.db.WithContext(ctx).Find(&plans).Error; err != nil {
		return nil, err
	}

	var findings []Finding
	for _, plan := range plans {
		var unknown []string
		for _, recipeID := range plan.RecipeIDs {
			kitchenID, ok := recipeKitchen[recipeID]
			if !ok || kitchenID != plan.KitchenID {
				unknown = append(unknown, recipeID)
			}
		}
		if len(unknown) == 0 {
			continue
		}

		kitchenID := plan.KitchenID
		findings = append(findings, Finding{
			ID:         findingID(FindingMealPlanUnknownRecipe, kitchenID, plan.ID),
			Type:       FindingMealPlanUnknownRecipe,
			Severity:   "medium",
			Summary:    "Meal plan menu references recipes missing or from another kitchen",
			KitchenID:  &kitchenID,
			ResourceID: plan.ID,
			Repairable: true,
			Details: map[string]any{
				"meal_plan_name":  plan.Name,
				"unknown_recipes": unknown,
			},
		})
	}
	return findings, nil
}

func (s *Service) scanDanglingPlanRecordLinks(ctx context.Context) ([]Finding, error) {
	type row struct {
		ID           string
		KitchenID    string
		PlanRecordID string
	}
	var rows []row
	if err := s.db.WithContext(ctx).
		Table("meal_instances mi").
		Select("mi.id, mi.kitchen_id, mi.plan_record_id").
		Joins("LEFT JOIN plan_records pr ON pr.id = mi.plan_record_id").
		Where("mi.plan_record_id IS NOT NULL").
		Where("pr.id IS NULL").
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	findings := make([]Finding, 0, len(rows))
	for _, r := range rows {
		kitchenID := r.KitchenID
		findings = append(findings, Finding{
			ID:         findingID(FindingDanglingPlanRecordLink, kitchenID, r.ID),
			Type:       FindingDanglingPlanRecordLink,
			Severity:   "medium",
			Summary:    "Meal instance links a deleted/missing plan record",
			KitchenID:  &kitchenID,
			ResourceID: r.ID,
			Repairable: true,
			Details: map[string]any{
				"plan_record_id": r.PlanRecordID,
			},
		})
	}
	return findings, nil
}

func (s *Service) repairKitchenWithoutEquipment(ctx context.Context, input RepairInput) (RepairResult, error) {
	var kitchen models.Kitchen
	if err := s.db.WithContext(ctx).First(&kitchen, "id = ?", input.ResourceID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return RepairResult{Changed: false, Message: "kitchen not found (already removed)"}, nil
		}
		return RepairResult{}, err
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Oven{}).Where("kitchen_id = ?", kitchen.ID).Count(&count).Error; err != nil {
		return RepairResult{}, err
	}
	if count > 0 || kitchen.Burners > 0 {
		return RepairResult{Changed: false, Message: "kitchen already has equipment"}, nil
	}

	oven := models.Oven{
		ID:              uuid.NewString(),
		KitchenID:       kitchen.ID,
		Name:            "Main Oven",
		Racks:           3,
		RackPositions:   6,
		MaxTemperatureF: 500,
	}
	if err := s.db.WithContext(ctx).Create(&oven).Error; err != nil {
		return RepairResult{}, err
	}

	return RepairResult{
		Changed: true,
		Message: "created default oven",
		Details: map[string]any{"oven_id": oven.ID, "oven_name": oven.Name},
	}, nil
}

func (s *Service) repairOrphanStepGroup(ctx context.Context, input RepairInput) (RepairResult, error) {
	var group models.StepGroup
	if err := s.db.WithContext(ctx).First(&group, "id = ?", input.ResourceID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return RepairResult{Changed: false, Message: "step group already removed"}, nil
		}
		return RepairResult{}, err
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Recipe{}).Where("id = ?", group.RecipeID).Count(&count).Error; err != nil {
		return RepairResult{}, err
	}
	if count > 0 {
		return RepairResult{Changed: false, Message: "parent recipe exists; finding already resolved"}, nil
	}

	if err := s.db.WithContext(ctx).Delete(&group).Error; err != nil {
		return RepairResult{}, err
	}
	return RepairResult{Changed: true, Message: "deleted orphan step group"}, nil
}

// repairDuplicateStepIndex renumbers a recipe's step groups into a
// clean sequence, keeping index order and breaking ties by creation
// time.
func (s *Service) repairDuplicateStepIndex(ctx context.Context, input RepairInput) (RepairResult, error) {
	var groups []models.StepGroup
	if err := s.db.WithContext(ctx).
		Where("recipe_id = ?", input.ResourceID).
		Order("\"index\" ASC, created_at ASC").
		Find(&groups).Error; err != nil {
		return RepairResult{}, err
	}
	if len(groups) == 0 {
		return RepairResult{Changed: false, Message: "recipe has no step groups"}, nil
	}

	changed := 0
	for i, group := range groups {
		if group.Index == i {
			continue
		}
		if err := s.db.WithContext(ctx).Model(&models.StepGroup{}).
			Where("id = ?", group.ID).
			Update("index", i).Error; err != nil {
			return RepairResult{}, err
		}
		changed++
	}

	if changed == 0 {
		return RepairResult{Changed: false, Message: "step indexes already sequential"}, nil
	}
	return RepairResult{
		Changed: true,
		Message: "renumbered step groups sequentially",
		Details: map[string]any{"groups_renumbered": changed},
	}, nil
}

func (s *Service) repairOrphanMealInstance(ctx context.Context, input RepairInput) (RepairResult, error) {
	var instance models.MealInstance
	if err := s.db.WithContext(ctx).First(&instance, "id = ?", input.ResourceID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return RepairResult{Changed: false, Message: "meal instance already removed"}, nil
		}
		return RepairResult{}, err
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.MealPlan{}).Where("id = ?", instance.MealPlanID).Count(&count).Error; err != nil {
		return RepairResult{}, err
	}
	if count > 0 {
		return RepairResult{Changed: false, Message: "parent meal plan exists; finding already resolved"}, nil
	}

	if err := s.db.WithContext(ctx).Delete(&instance).Error; err != nil {
		return RepairResult{}, err
	}
	return RepairResult{Changed: true, Message: "deleted orphan meal instance"}, nil
}

func (s *Service) repairMealInstanceKitchenMismatch(ctx context.Context, input RepairInput) (RepairResult, error) {
	type joined struct {
		InstanceID  string `gorm:"column:instance_id"`
		CurrentKID  string `gorm:"column:current_kid"`
		ExpectedKID string `gorm:"column:expected_kid"`
	}
	var row joined
	if err := s.db.WithContext(ctx).
		Table("meal_instances mi").
		Select("mi.id AS instance_id, mi.kitchen_id AS current_kid, mp.kitchen_id AS expected_kid").
		Joins("JOIN meal_plans mp ON mp.id = mi.meal_plan_id").
		Where("mi.id = ?", input.ResourceID).
		Limit(1).
		Scan(&row).Error; err != nil {
		return RepairResult{}, err
	}
	if row.InstanceID == "" {
		return RepairResult{Changed: false, Message: "meal instance not found"}, nil
	}
	if row.CurrentKID == row.ExpectedKID {
		return RepairResult{Changed: false, Message: "meal instance kitchen_id already consistent"}, nil
	}

	if err := s.db.WithContext(ctx).Model(&models.MealInstance{}).
		Where("id = ?", row.InstanceID).
		Update("kitchen_id", row.ExpectedKID).Error; err != nil {
		return RepairResult{}, err
	}

	return RepairResult{
		Changed: true,
		Message: "updated meal instance kitchen_id to match meal plan",
		Details: map[string]any{
			"old_kitchen_id": row.CurrentKID,
			"new_kitchen_id": row.ExpectedKID,
		},
	}, nil
}

// repairMealPlanUnknownRecipe prunes missing or foreign recipes from
// the menu so the remaining dishes can still be planned.
func (s *Service) repairMealPlanUnknownRecipe(ctx context.Context, input RepairInput) (RepairResult, error) {
	var plan models.MealPlan
	if err := s.db.WithContext(ctx).First(&plan, "id = ?", input.ResourceID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return RepairResult{Changed: false, Message: "meal plan not found"}, nil
		}
		return RepairResult{}, err
	}

	kept := make([]string, 0, len(plan.RecipeIDs))
	var pruned []string
	for _, recipeID := range plan.RecipeIDs {
		var count int64
		if err := s.db.WithContext(ctx).Model(&models.Recipe{}).
			Where("id = ? AND kitchen_id = ?", recipeID, plan.KitchenID).
			Count(&count).Error; err != nil {
			return RepairResult{}, err
		}
		if count > 0 {
			kept = append(kept, recipeID)
		} else {
			pruned = append(pruned, recipeID)
		}
	}

	if len(pruned) == 0 {
		return RepairResult{Changed: false, Message: "menu no longer references unknown recipes"}, nil
	}

	if err := s.db.WithContext(ctx).Model(&models.MealPlan{}).
		Where("id = ?", plan.ID).
		Update("recipe_ids", kept).Error; err != nil {
		return RepairResult{}, err
	}

	return RepairResult{
		Changed: true,
		Message: "pruned unknown recipes from menu",
		Details: map[string]any{"pruned_recipes": pruned, "remaining": len(kept)},
	}, nil
}

// repairDanglingPlanRecordLink clears the link and returns the instance
// to the materialized pool so the next planning pass picks it up.
func (s *Service) repairDanglingPlanRecordLink(ctx context.Context, input RepairInput) (RepairResult, error) {
	var instance models.MealInstance
	if err := s.db.WithContext(ctx).First(&instance, "id = ?", input.ResourceID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return RepairResult{Changed: false, Message: "meal instance already removed"}, nil
		}
		return RepairResult{}, err
	}
	if instance.PlanRecordID == nil {
		return RepairResult{Changed: false, Message: "plan record link already cleared"}, nil
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.PlanRecord{}).Where("id = ?", *instance.PlanRecordID).Count(&count).Error; err != nil {
		return RepairResult{}, err
	}
	if count > 0 {
		return RepairResult{Changed: false, Message: "plan record exists; finding already resolved"}, nil
	}

	updates := map[string]any{"plan_record_id": nil}
	if instance.Status == models.MealInstancePlanned {
		updates["status"] = models.MealInstanceScheduled
	}
	if err := s.db.WithContext(ctx).Model(&models.MealInstance{}).
		Where("id = ?", instance.ID).
		Updates(updates).Error; err != nil {
		return RepairResult{}, err
	}

	return RepairResult{Changed: true, Message: "cleared dangling plan record link"}, nil
}

func findingID(t FindingType, kitchenID, resourceID string) string {
	return fmt.Sprintf("%s|%s|%s", t, kitchenID, resourceID)
}
