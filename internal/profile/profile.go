/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package profile loads kitchen equipment and recipe definitions from
// YAML files, for database seeding and for planning without a server.
package profile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"

	"github.com/friendsincode/andhrimnir_kitchen/internal/allocator"
	"github.com/friendsincode/andhrimnir_kitchen/internal/models"
)

// File is the on-disk document: one kitchen plus any number of recipes.
type File struct {
	Kitchen *Kitchen `yaml:"kitchen"`
	Recipes []Recipe `yaml:"recipes"`
}

// Kitchen describes the equipment a plan runs against.
type Kitchen struct {
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
	Burners  int    `yaml:"burners"`
	Ovens    []Oven `yaml:"ovens"`
}

type Oven struct {
	Name            string `yaml:"name"`
	Racks           int    `yaml:"racks"`
	RackPositions   int    `yaml:"rack_positions"`
	MaxTemperatureF int    `yaml:"max_temperature_f"`
}

// Recipe is a dish: an ordered list of steps.
type Recipe struct {
	Name     string `yaml:"name"`
	Category string `yaml:"category"` // main | starch | vegetable | bread | dessert | appetizer
	Servings int    `yaml:"servings"`
	Source   string `yaml:"source"`
	Steps    []Step `yaml:"steps"`
}

type Step struct {
	Name                string `yaml:"name"`
	DurationMinutes     int    `yaml:"duration_minutes"`
	RestMinutes         int    `yaml:"rest_minutes"`
	HoldMinutes         int    `yaml:"hold_minutes"`
	NightsBeforeServing int    `yaml:"nights_before_serving"`
	MaxWaitMinutes      *int   `yaml:"max_wait_minutes"`
	Equipment           string `yaml:"equipment"` // oven | stovetop | none
	TemperatureF        int    `yaml:"temperature_f"`
	HeightSlots         int    `yaml:"height_slots"`
	Width               string `yaml:"width"` // full | half
	Burners             int    `yaml:"burners"`
}

// Load reads and validates a profile file from disk.
func Load(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open profile %s: %w", path, err)
	}
	defer f.Close()

	doc, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("profile %s: %w", path, err)
	}
	return doc, nil
}

// Parse decodes a profile document. Unknown keys are rejected so typos
// in field names surface instead of silently dropping data.
func Parse(r io.Reader) (*File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc File
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	if err := doc.validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (f *File) validate() error {
	if f.Kitchen == nil && len(f.Recipes) == 0 {
		return errors.New("profile defines neither a kitchen nor recipes")
	}

	if f.Kitchen != nil {
		if f.Kitchen.Name == "" {
			return errors.New("kitchen name must not be empty")
		}
		if f.Kitchen.Burners < 0 {
			return fmt.Errorf("kitchen burners must not be negative, got %d", f.Kitchen.Burners)
		}
		for i, oven := range f.Kitchen.Ovens {
			if oven.Racks < 1 {
				return fmt.Errorf("oven %d (%s): racks must be at least 1, got %d", i+1, oven.Name, oven.Racks)
			}
			if oven.RackPositions < 1 {
				return fmt.Errorf("oven %d (%s): rack_positions must be at least 1, got %d", i+1, oven.Name, oven.RackPositions)
			}
		}
	}

	for _, recipe := range f.Recipes {
		if recipe.Name == "" {
			return errors.New("recipe name must not be empty")
		}
		if len(recipe.Steps) == 0 {
			return fmt.Errorf("recipe %q has no steps", recipe.Name)
		}
		if _, err := recipeCategory(recipe.Category); err != nil {
			return fmt.Errorf("recipe %q: %w", recipe.Name, err)
		}
		for i, step := range recipe.Steps {
			if step.Name == "" {
				return fmt.Errorf("recipe %q step %d: name must not be empty", recipe.Name, i+1)
			}
			if step.DurationMinutes <= 0 {
				return fmt.Errorf("recipe %q step %q: duration_minutes must be positive, got %d", recipe.Name, step.Name, step.DurationMinutes)
			}
			if _, err := equipmentKind(step.Equipment); err != nil {
				return fmt.Errorf("recipe %q step %q: %w", recipe.Name, step.Name, err)
			}
			if _, err := ovenWidth(step.Width); err != nil {
				return fmt.Errorf("recipe %q step %q: %w", recipe.Name, step.Name, err)
			}
		}
	}
	return nil
}

func equipmentKind(s string) (models.EquipmentKind, error) {
	switch s {
	case "", "none":
		return models.EquipmentNone, nil
	case "oven":
		return models.EquipmentOven, nil
	case "stovetop":
		return models.EquipmentStovetop, nil
	}
	return "", fmt.Errorf("unknown equipment %q", s)
}

func recipeCategory(s string) (models.RecipeCategory, error) {
	if s == "" {
		return models.CategoryMain, nil
	}
	c := models.RecipeCategory(s)
	if !models.ValidCategory(c) {
		return "", fmt.Errorf("unknown category %q", s)
	}
	return c, nil
}

func ovenWidth(s string) (models.OvenWidth, error) {
	switch s {
	case "", "full":
		return models.WidthFull, nil
	case "half":
		return models.WidthHalf, nil
	}
	return "", fmt.Errorf("unknown oven width %q", s)
}

// Model materializes the kitchen into storable rows with fresh IDs.
func (k *Kitchen) Model() models.Kitchen {
	tz := k.Timezone
	if tz == "" {
		tz = "UTC"
	}
	kitchen := models.Kitchen{
		ID:       uuid.NewString(),
		Name:     k.Name,
		Timezone: tz,
		Burners:  k.Burners,
	}
	for _, o := range k.Ovens {
		maxTemp := o.MaxTemperatureF
		if maxTemp <= 0 {
			maxTemp = 500
		}
		kitchen.Ovens = append(kitchen.Ovens, models.Oven{
			ID:              uuid.NewString(),
			KitchenID:       kitchen.ID,
			Name:            o.Name,
			Racks:           o.Racks,
			RackPositions:   o.RackPositions,
			MaxTemperatureF: maxTemp,
		})
	}
	return kitchen
}

// Profile returns the solver's view of the kitchen for planning without
// a database.
func (k *Kitchen) Profile() allocator.Profile {
	return allocator.ProfileFromKitchen(k.Model())
}

// Model materializes the recipe into storable rows with fresh IDs.
func (r Recipe) Model(kitchenID string) models.Recipe {
	category, _ := recipeCategory(r.Category)
	recipe := models.Recipe{
		ID:        uuid.NewString(),
		KitchenID: kitchenID,
		Name:      r.Name,
		Category:  category,
		Servings:  r.Servings,
		Source:    r.Source,
	}
	for i, s := range r.Steps {
		kind, _ := equipmentKind(s.Equipment)
		width, _ := ovenWidth(s.Width)

		group := models.StepGroup{
			ID:                  uuid.NewString(),
			RecipeID:            recipe.ID,
			Index:               i,
			Name:                s.Name,
			DurationMinutes:     s.DurationMinutes,
			RestMinutes:         s.RestMinutes,
			HoldMinutes:         s.HoldMinutes,
			NightsBeforeServing: s.NightsBeforeServing,
			MaxWaitMinutes:      s.MaxWaitMinutes,
			Equipment:           kind,
		}
		switch kind {
		case models.EquipmentOven:
			group.TemperatureF = s.TemperatureF
			group.HeightSlots = s.HeightSlots
			group.Width = width
		case models.EquipmentStovetop:
			group.Burners = s.Burners
			if group.Burners == 0 {
				group.Burners = 1
			}
		}
		recipe.StepGroups = append(recipe.StepGroups, group)
	}
	return recipe
}

// Menu materializes every recipe in the file against one kitchen ID,
// preserving file order.
func (f *File) Menu(kitchenID string) []models.Recipe {
	recipes := make([]models.Recipe, 0, len(f.Recipes))
	for _, r := range f.Recipes {
		recipes = append(recipes, r.Model(kitchenID))
	}
	return recipes
}

// SeedResult reports what a seed run created.
type SeedResult struct {
	KitchenID      string
	KitchenCreated bool
	RecipesCreated int
	RecipesSkipped int
}

// Seed loads the file's kitchen and recipes into the database. Seeding
// is idempotent by name: an existing kitchen or recipe is left untouched.
func Seed(ctx context.Context, db *gorm.DB, doc *File, logger zerolog.Logger) (*SeedResult, error) {
	log := logger.With().Str("component", "profile_seed").Logger()
	result := &SeedResult{}

	if doc.Kitchen == nil {
		return nil, errors.New("seed file has no kitchen section")
	}

	var existing models.Kitchen
	err := db.WithContext(ctx).First(&existing, "name = ?", doc.Kitchen.Name).Error
	switch {
	case err == nil:
		result.KitchenID = existing.ID
	case errors.Is(err, gorm.ErrRecordNotFound):
		kitchen := doc.Kitchen.Model()
		if err := db.WithContext(ctx).Create(&kitchen).Error; err != nil {
			return nil, fmt.Errorf("create kitchen %q: %w", kitchen.Name, err)
		}
		result.KitchenID = kitchen.ID
		result.KitchenCreated = true
		log.Info().Str("kitchen_id", kitchen.ID).Str("name", kitchen.Name).Int("ovens", len(kitchen.Ovens)).Msg("seeded kitchen")
	default:
		return nil, fmt.Errorf("look up kitchen %q: %w", doc.Kitchen.Name, err)
	}

	for _, r := range doc.Recipes {
		var count int64
		if err := db.WithContext(ctx).Model(&models.Recipe{}).
			Where("kitchen_id = ? AND name = ?", result.KitchenID, r.Name).
			Count(&count).Error; err != nil {
			return nil, fmt.Errorf("look up recipe %q: %w", r.Name, err)
		}
		if count > 0 {
			result.RecipesSkipped++
			continue
		}

		recipe := r.Model(result.KitchenID)
		if err := db.WithContext(ctx).Create(&recipe).Error; err != nil {
			return nil, fmt.Errorf("create recipe %q: %w", recipe.Name, err)
		}
		result.RecipesCreated++
	}

	log.Info().
		Str("kitchen_id", result.KitchenID).
		Int("recipes_created", result.RecipesCreated).
		Int("recipes_skipped", result.RecipesSkipped).
		Msg("seed finished")
	return result, nil
}
