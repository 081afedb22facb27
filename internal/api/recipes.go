/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/friendsincode/andhrimnir_kitchen/internal/events"
	"github.com/friendsincode/andhrimnir_kitchen/internal/models"
	"github.com/friendsincode/andhrimnir_kitchen/internal/stepgraph"
)

type recipeRequest struct {
	KitchenID   string             `json:"kitchen_id"`
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Category    string             `json:"category"`
	Servings    int                `json:"servings"`
	Source      string             `json:"source"`
	StepGroups  []stepGroupRequest `json:"step_groups"`
}

// category normalizes the payload's category. Empty defaults to main;
// anything else must be a known category.
func (r recipeRequest) category() (models.RecipeCategory, bool) {
	if r.Category == "" {
		return models.CategoryMain, true
	}
	c := models.RecipeCategory(r.Category)
	return c, models.ValidCategory(c)
}

type stepGroupRequest struct {
	Name                string `json:"name"`
	DurationMinutes     int    `json:"duration_minutes"`
	RestMinutes         int    `json:"rest_minutes"`
	HoldMinutes         int    `json:"hold_minutes"`
	NightsBeforeServing int    `json:"nights_before_serving"`
	MaxWaitMinutes      *int   `json:"max_wait_minutes"`
	Equipment           string `json:"equipment"`
	TemperatureF        int    `json:"temperature_f"`
	HeightSlots         int    `json:"height_slots"`
	Width               string `json:"width"`
	Burners             int    `json:"burners"`
}

// toStepGroup fills defaults so sparse payloads stay valid: prep steps
// need no equipment fields, oven steps default to one full-width slot.
func (r stepGroupRequest) toStepGroup(recipeID string, index int) models.StepGroup {
	equipment := models.EquipmentKind(r.Equipment)
	if r.Equipment == "" {
		equipment = models.EquipmentNone
	}

	width := models.OvenWidth(r.Width)
	heightSlots := r.HeightSlots
	if equipment == models.EquipmentOven {
		if r.Width == "" {
			width = models.WidthFull
		}
		if heightSlots == 0 {
			heightSlots = 1
		}
	}

	return models.StepGroup{
		ID:                  uuid.NewString(),
		RecipeID:            recipeID,
		Index:               index,
		Name:                r.Name,
		DurationMinutes:     r.DurationMinutes,
		RestMinutes:         r.RestMinutes,
		HoldMinutes:         r.HoldMinutes,
		NightsBeforeServing: r.NightsBeforeServing,
		MaxWaitMinutes:      r.MaxWaitMinutes,
		Equipment:           equipment,
		TemperatureF:        r.TemperatureF,
		HeightSlots:         heightSlots,
		Width:               width,
		Burners:             r.Burners,
	}
}

func (a *API) handleRecipesList(w http.ResponseWriter, r *http.Request) {
	q := a.db.WithContext(r.Context()).Preload("StepGroups", func(db *gorm.DB) *gorm.DB {
		return db.Order("\"index\" ASC")
	})
	if kitchenID := r.URL.Query().Get("kitchen_id"); kitchenID != "" {
		q = q.Where("kitchen_id = ?", kitchenID)
	}

	var recipes []models.Recipe
	if err := q.Order("name ASC").Find(&recipes).Error; err != nil {
		a.logger.Error().Err(err).Msg("list recipes failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, recipes)
}

func (a *API) handleRecipesCreate(w http.ResponseWriter, r *http.Request) {
	var req recipeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	if req.Name == "" || req.KitchenID == "" {
		writeError(w, http.StatusBadRequest, "missing_required_fields")
		return
	}
	if len(req.StepGroups) == 0 {
		writeError(w, http.StatusBadRequest, "step_groups_required")
		return
	}
	category, ok := req.category()
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_category")
		return
	}

	var kitchen models.Kitchen
	result := a.db.WithContext(r.Context()).First(&kitchen, "id = ?", req.KitchenID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusBadRequest, "kitchen_not_found")
		return
	}
	if result.Error != nil {
		a.logger.Error().Err(result.Error).Msg("get kitchen failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	recipe := models.Recipe{
		ID:          uuid.NewString(),
		KitchenID:   req.KitchenID,
		Name:        req.Name,
		Description: req.Description,
		Category:    category,
		Servings:    req.Servings,
		Source:      req.Source,
	}
	for i, sg := range req.StepGroups {
		recipe.StepGroups = append(recipe.StepGroups, sg.toStepGroup(recipe.ID, i))
	}

	// Run the chain builder before persisting; it rejects the same
	// defects the planner would trip over at plan time.
	if _, err := stepgraph.Build([]models.Recipe{recipe}); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":  "recipe_invalid",
			"detail": err.Error(),
		})
		return
	}

	tx := a.db.WithContext(r.Context()).Begin()
	if err := tx.Create(&recipe).Error; err != nil {
		tx.Rollback()
		a.logger.Error().Err(err).Msg("create recipe failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	tx.Commit()

	a.logger.Info().
		Str("recipe_id", recipe.ID).
		Str("kitchen_id", recipe.KitchenID).
		Int("step_groups", len(recipe.StepGroups)).
		Msg("recipe created")

	a.publishAuditEvent(r, events.EventAuditRecipeCreate, events.Payload{
		"kitchen_id":    recipe.KitchenID,
		"resource_type": "recipe",
		"resource_id":   recipe.ID,
		"name":          recipe.Name,
	})
	a.bus.Publish(events.EventRecipeCreated, events.Payload{
		"recipe_id":  recipe.ID,
		"kitchen_id": recipe.KitchenID,
	})

	writeJSON(w, http.StatusCreated, recipe)
}

func (a *API) handleRecipesGet(w http.ResponseWriter, r *http.Request) {
	recipeID := chi.URLParam(r, "recipeID")

	var recipe models.Recipe
	result := a.db.WithContext(r.Context()).Preload("StepGroups", func(db *gorm.DB) *gorm.DB {
		return db.Order("\"index\" ASC")
	}).First(&recipe, "id = ?", recipeID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if result.Error != nil {
		a.logger.Error().Err(result.Error).Msg("get recipe failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	writeJSON(w, http.StatusOK, recipe)
}

// handleRecipesUpdate replaces the recipe and its step groups wholesale.
// Step groups are positional, so partial patches are more trouble than
// they are worth.
func (a *API) handleRecipesUpdate(w http.ResponseWriter, r *http.Request) {
	recipeID := chi.URLParam(r, "recipeID")

	var recipe models.Recipe
	result := a.db.WithContext(r.Context()).First(&recipe, "id = ?", recipeID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if result.Error != nil {
		a.logger.Error().Err(result.Error).Msg("get recipe failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	var req recipeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name_required")
		return
	}
	if len(req.StepGroups) == 0 {
		writeError(w, http.StatusBadRequest, "step_groups_required")
		return
	}
	category, ok := req.category()
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_category")
		return
	}

	recipe.Name = req.Name
	recipe.Description = req.Description
	recipe.Category = category
	recipe.Servings = req.Servings
	recipe.Source = req.Source
	recipe.StepGroups = nil
	for i, sg := range req.StepGroups {
		recipe.StepGroups = append(recipe.StepGroups, sg.toStepGroup(recipe.ID, i))
	}

	if _, err := stepgraph.Build([]models.Recipe{recipe}); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":  "recipe_invalid",
			"detail": err.Error(),
		})
		return
	}

	tx := a.db.WithContext(r.Context()).Begin()
	if err := tx.Where("recipe_id = ?", recipe.ID).Delete(&models.StepGroup{}).Error; err != nil {
		tx.Rollback()
		a.logger.Error().Err(err).Msg("replace step groups failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	if err := tx.Save(&recipe).Error; err != nil {
		tx.Rollback()
		a.logger.Error().Err(err).Msg("update recipe failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	tx.Commit()

	a.publishAuditEvent(r, events.EventAuditRecipeUpdate, events.Payload{
		"kitchen_id":    recipe.KitchenID,
		"resource_type": "recipe",
		"resource_id":   recipe.ID,
		"name":          recipe.Name,
	})
	a.bus.Publish(events.EventRecipeUpdated, events.Payload{
		"recipe_id":  recipe.ID,
		"kitchen_id": recipe.KitchenID,
	})

	writeJSON(w, http.StatusOK, recipe)
}

func (a *API) handleRecipesDelete(w http.ResponseWriter, r *http.Request) {
	recipeID := chi.URLParam(r, "recipeID")

	var recipe models.Recipe
	result := a.db.WithContext(r.Context()).First(&recipe, "id = ?", recipeID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if result.Error != nil {
		a.logger.Error().Err(result.Error).Msg("get recipe failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	tx := a.db.WithContext(r.Context()).Begin()
	if err := tx.Where("recipe_id = ?", recipeID).Delete(&models.StepGroup{}).Error; err != nil {
		tx.Rollback()
		a.logger.Error().Err(err).Msg("delete step groups failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	if err := tx.Delete(&recipe).Error; err != nil {
		tx.Rollback()
		a.logger.Error().Err(err).Msg("delete recipe failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	tx.Commit()

	a.publishAuditEvent(r, events.EventAuditRecipeDelete, events.Payload{
		"kitchen_id":    recipe.KitchenID,
		"resource_type": "recipe",
		"resource_id":   recipe.ID,
		"name":          recipe.Name,
	})
	a.bus.Publish(events.EventRecipeDeleted, events.Payload{
		"recipe_id":  recipe.ID,
		"kitchen_id": recipe.KitchenID,
	})

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
