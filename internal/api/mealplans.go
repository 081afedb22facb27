/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/teambition/rrule-go"
	"gorm.io/gorm"

	"github.com/friendsincode/andhrimnir_kitchen/internal/auth"
	"github.com/friendsincode/andhrimnir_kitchen/internal/events"
	"github.com/friendsincode/andhrimnir_kitchen/internal/models"
)

type mealPlanCreateRequest struct {
	KitchenID   string         `json:"kitchen_id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	RecipeIDs   []string       `json:"recipe_ids"`
	RRule       string         `json:"rrule"`
	DTStart     string         `json:"dtstart"`
	DTEnd       *string        `json:"dtend"`
	Timezone    string         `json:"timezone"`
	Metadata    map[string]any `json:"metadata"`
}

type mealPlanUpdateRequest struct {
	Name        *string        `json:"name"`
	Description *string        `json:"description"`
	RecipeIDs   *[]string      `json:"recipe_ids"`
	RRule       *string        `json:"rrule"`
	DTStart     *string        `json:"dtstart"`
	DTEnd       *string        `json:"dtend"`
	Timezone    *string        `json:"timezone"`
	Active      *bool          `json:"active"`
	Metadata    map[string]any `json:"metadata"`
}

type mealRescheduleRequest struct {
	ServesAt string `json:"serves_at"`
	Note     string `json:"note"`
}

func (a *API) handleMealPlansList(w http.ResponseWriter, r *http.Request) {
	query := a.db.WithContext(r.Context()).Model(&models.MealPlan{})

	if kitchenID := r.URL.Query().Get("kitchen_id"); kitchenID != "" {
		query = query.Where("kitchen_id = ?", kitchenID)
	}
	if r.URL.Query().Get("active") == "true" {
		query = query.Where("active = ?", true)
	}

	var plans []models.MealPlan
	if err := query.Order("name ASC").Find(&plans).Error; err != nil {
		a.logger.Error().Err(err).Msg("list meal plans failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"meal_plans": plans})
}

func (a *API) handleMealPlansCreate(w http.ResponseWriter, r *http.Request) {
	var req mealPlanCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	if req.KitchenID == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "kitchen_id_and_name_required")
		return
	}
	if len(req.RecipeIDs) == 0 {
		writeError(w, http.StatusBadRequest, "recipe_ids_required")
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

	// The menu must reference recipes of the same kitchen
	var recipeCount int64
	if err := a.db.WithContext(r.Context()).Model(&models.Recipe{}).
		Where("id IN ? AND kitchen_id = ?", req.RecipeIDs, req.KitchenID).
		Count(&recipeCount).Error; err != nil {
		a.logger.Error().Err(err).Msg("count recipes failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	if recipeCount != int64(len(req.RecipeIDs)) {
		writeError(w, http.StatusBadRequest, "recipe_ids_invalid")
		return
	}

	dtstart, err := time.Parse(time.RFC3339, req.DTStart)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_dtstart")
		return
	}

	// Validate RRULE if provided
	if req.RRule != "" {
		if _, err := rrule.StrToRRule(req.RRule); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_rrule")
			return
		}
	}

	var dtend *time.Time
	if req.DTEnd != nil && *req.DTEnd != "" {
		parsed, err := time.Parse(time.RFC3339, *req.DTEnd)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_dtend")
			return
		}
		dtend = &parsed
	}

	if req.Timezone == "" {
		req.Timezone = "UTC"
	}
	if _, err := time.LoadLocation(req.Timezone); err != nil {
		writeError(w, http.StatusBadRequest, "timezone_invalid")
		return
	}

	var ownerID *string
	if claims, ok := auth.ClaimsFromContext(r.Context()); ok {
		ownerID = &claims.UserID
	}

	plan := models.MealPlan{
		ID:          uuid.NewString(),
		KitchenID:   req.KitchenID,
		Name:        req.Name,
		Description: req.Description,
		OwnerUserID: ownerID,
		RecipeIDs:   req.RecipeIDs,
		RRule:       req.RRule,
		DTStart:     dtstart,
		DTEnd:       dtend,
		Timezone:    req.Timezone,
		Active:      true,
		Metadata:    req.Metadata,
	}

	if err := a.db.WithContext(r.Context()).Create(&plan).Error; err != nil {
		a.logger.Error().Err(err).Msg("create meal plan failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	a.logger.Info().
		Str("meal_plan_id", plan.ID).
		Str("kitchen_id", plan.KitchenID).
		Str("name", plan.Name).
		Int("recipes", len(plan.RecipeIDs)).
		Msg("meal plan created")

	a.publishAuditEvent(r, events.EventAuditMealPlanCreate, events.Payload{
		"kitchen_id":    plan.KitchenID,
		"resource_type": "meal_plan",
		"resource_id":   plan.ID,
		"name":          plan.Name,
	})

	writeJSON(w, http.StatusCreated, plan)
}

func (a *API) handleMealPlansGet(w http.ResponseWriter, r *http.Request) {
	mealPlanID := chi.URLParam(r, "mealPlanID")
	if mealPlanID == "" {
		writeError(w, http.StatusBadRequest, "meal_plan_id_required")
		return
	}

	var plan models.MealPlan
	result := a.db.WithContext(r.Context()).Preload("Kitchen").First(&plan, "id = ?", mealPlanID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if result.Error != nil {
		a.logger.Error().Err(result.Error).Msg("get meal plan failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	writeJSON(w, http.StatusOK, plan)
}

func (a *API) handleMealPlansUpdate(w http.ResponseWriter, r *http.Request) {
	mealPlanID := chi.URLParam(r, "mealPlanID")
	if mealPlanID == "" {
		writeError(w, http.StatusBadRequest, "meal_plan_id_required")
		return
	}

	var plan models.MealPlan
	result := a.db.WithContext(r.Context()).First(&plan, "id = ?", mealPlanID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if result.Error != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	var req mealPlanUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	updates := make(map[string]any)

	if req.Name != nil {
		updates["name"] = *req.Name
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	if req.RecipeIDs != nil {
		if len(*req.RecipeIDs) == 0 {
			writeError(w, http.StatusBadRequest, "recipe_ids_required")
			return
		}
		var recipeCount int64
		if err := a.db.WithContext(r.Context()).Model(&models.Recipe{}).
			Where("id IN ? AND kitchen_id = ?", *req.RecipeIDs, plan.KitchenID).
			Count(&recipeCount).Error; err != nil {
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
		if recipeCount != int64(len(*req.RecipeIDs)) {
			writeError(w, http.StatusBadRequest, "recipe_ids_invalid")
			return
		}
		plan.RecipeIDs = *req.RecipeIDs
		updates["recipe_ids"] = plan.RecipeIDs
	}
	if req.RRule != nil {
		if *req.RRule != "" {
			if _, err := rrule.StrToRRule(*req.RRule); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_rrule")
				return
			}
		}
		updates["rrule"] = *req.RRule
	}
	if req.DTStart != nil {
		dtstart, err := time.Parse(time.RFC3339, *req.DTStart)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_dtstart")
			return
		}
		updates["dtstart"] = dtstart
	}
	if req.DTEnd != nil {
		if *req.DTEnd == "" {
			updates["dtend"] = nil
		} else {
			dtend, err := time.Parse(time.RFC3339, *req.DTEnd)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_dtend")
				return
			}
			updates["dtend"] = dtend
		}
	}
	if req.Timezone != nil {
		if _, err := time.LoadLocation(*req.Timezone); err != nil {
			writeError(w, http.StatusBadRequest, "timezone_invalid")
			return
		}
		updates["timezone"] = *req.Timezone
	}
	if req.Active != nil {
		updates["active"] = *req.Active
	}
	if req.Metadata != nil {
		updates["metadata"] = req.Metadata
	}

	if len(updates) == 0 {
		writeJSON(w, http.StatusOK, plan)
		return
	}

	if err := a.db.WithContext(r.Context()).Model(&plan).Updates(updates).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "update_failed")
		return
	}

	a.publishAuditEvent(r, events.EventAuditMealPlanUpdate, events.Payload{
		"kitchen_id":    plan.KitchenID,
		"resource_type": "meal_plan",
		"resource_id":   plan.ID,
		"name":          plan.Name,
	})

	// Reload with updated values
	a.db.WithContext(r.Context()).First(&plan, "id = ?", mealPlanID)
	writeJSON(w, http.StatusOK, plan)
}

// handleMealPlansDelete removes a meal plan and its future occurrences.
// Past instances stay for history.
func (a *API) handleMealPlansDelete(w http.ResponseWriter, r *http.Request) {
	mealPlanID := chi.URLParam(r, "mealPlanID")
	if mealPlanID == "" {
		writeError(w, http.StatusBadRequest, "meal_plan_id_required")
		return
	}

	var plan models.MealPlan
	result := a.db.WithContext(r.Context()).First(&plan, "id = ?", mealPlanID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if result.Error != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	tx := a.db.WithContext(r.Context()).Begin()

	if err := tx.Where("meal_plan_id = ? AND serves_at > ?", mealPlanID, time.Now()).Delete(&models.MealInstance{}).Error; err != nil {
		tx.Rollback()
		writeError(w, http.StatusInternalServerError, "delete_instances_failed")
		return
	}

	if err := tx.Delete(&plan).Error; err != nil {
		tx.Rollback()
		writeError(w, http.StatusInternalServerError, "delete_failed")
		return
	}

	if err := tx.Commit().Error; err != nil {
		writeError(w, http.StatusInternalServerError, "commit_failed")
		return
	}

	a.logger.Info().Str("meal_plan_id", mealPlanID).Msg("meal plan deleted")

	a.publishAuditEvent(r, events.EventAuditMealPlanDelete, events.Payload{
		"kitchen_id":    plan.KitchenID,
		"resource_type": "meal_plan",
		"resource_id":   plan.ID,
		"name":          plan.Name,
	})

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleMealPlanMaterialize expands the recurrence into concrete meal
// instances inside the scheduler's lookahead window.
func (a *API) handleMealPlanMaterialize(w http.ResponseWriter, r *http.Request) {
	if a.scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler_unavailable")
		return
	}

	mealPlanID := chi.URLParam(r, "mealPlanID")
	if mealPlanID == "" {
		writeError(w, http.StatusBadRequest, "meal_plan_id_required")
		return
	}

	if err := a.scheduler.RefreshMealPlan(r.Context(), mealPlanID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		a.logger.Error().Err(err).Str("meal_plan_id", mealPlanID).Msg("materialize failed")
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error":  "materialize_failed",
			"detail": err.Error(),
		})
		return
	}

	var instances []models.MealInstance
	if err := a.db.WithContext(r.Context()).
		Where("meal_plan_id = ? AND serves_at >= ?", mealPlanID, time.Now()).
		Order("serves_at ASC").
		Find(&instances).Error; err != nil {
		a.logger.Error().Err(err).Msg("list materialized instances failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	a.publishAuditEvent(r, events.EventAuditMaterializeRun, events.Payload{
		"resource_type": "meal_plan",
		"resource_id":   mealPlanID,
		"instances":     len(instances),
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"instances": instances,
		"count":     len(instances),
	})
}

func (a *API) handleMealPlanInstances(w http.ResponseWriter, r *http.Request) {
	mealPlanID := chi.URLParam(r, "mealPlanID")
	if mealPlanID == "" {
		writeError(w, http.StatusBadRequest, "meal_plan_id_required")
		return
	}

	query := a.db.WithContext(r.Context()).Where("meal_plan_id = ?", mealPlanID)

	// Default to the next 7 days when no range given
	start := time.Now()
	end := start.Add(7 * 24 * time.Hour)
	if raw := r.URL.Query().Get("start"); raw != "" {
		if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
			start = parsed
		}
	}
	if raw := r.URL.Query().Get("end"); raw != "" {
		if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
			end = parsed
		}
	}
	query = query.Where("serves_at >= ? AND serves_at <= ?", start, end)

	if status := r.URL.Query().Get("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var instances []models.MealInstance
	if err := query.Order("serves_at ASC").Find(&instances).Error; err != nil {
		a.logger.Error().Err(err).Msg("list instances failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"instances": instances})
}

func (a *API) handleMealsUpcoming(w http.ResponseWriter, r *http.Request) {
	if a.scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler_unavailable")
		return
	}

	kitchenID := r.URL.Query().Get("kitchen_id")
	if kitchenID == "" {
		writeError(w, http.StatusBadRequest, "kitchen_id_required")
		return
	}

	horizon := 7 * 24 * time.Hour
	if raw := r.URL.Query().Get("hours"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 24*90 {
			horizon = time.Duration(n) * time.Hour
		}
	}

	meals, err := a.scheduler.Upcoming(r.Context(), kitchenID, time.Now(), horizon)
	if err != nil {
		a.logger.Error().Err(err).Msg("list upcoming meals failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"meals": meals,
		"count": len(meals),
	})
}

func (a *API) handleMealsGet(w http.ResponseWriter, r *http.Request) {
	instanceID := chi.URLParam(r, "instanceID")
	if instanceID == "" {
		writeError(w, http.StatusBadRequest, "instance_id_required")
		return
	}

	var instance models.MealInstance
	result := a.db.WithContext(r.Context()).Preload("MealPlan").Preload("Plan").First(&instance, "id = ?", instanceID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if result.Error != nil {
		a.logger.Error().Err(result.Error).Msg("get meal instance failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	writeJSON(w, http.StatusOK, instance)
}

// handleMealsReschedule moves one occurrence to a new serving time and
// marks it as an exception to the recurrence.
func (a *API) handleMealsReschedule(w http.ResponseWriter, r *http.Request) {
	instanceID := chi.URLParam(r, "instanceID")
	if instanceID == "" {
		writeError(w, http.StatusBadRequest, "instance_id_required")
		return
	}

	var instance models.MealInstance
	result := a.db.WithContext(r.Context()).First(&instance, "id = ?", instanceID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if result.Error != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	if instance.IsCancelled() {
		writeError(w, http.StatusConflict, "meal_cancelled")
		return
	}

	var req mealRescheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	servesAt, err := time.Parse(time.RFC3339, req.ServesAt)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_serves_at")
		return
	}

	updates := map[string]any{
		"serves_at":      servesAt,
		"exception_type": models.MealExceptionRescheduled,
		// A new serving time invalidates the attached timeline
		"plan_record_id": nil,
		"status":         models.MealInstanceScheduled,
	}
	if req.Note != "" {
		updates["exception_note"] = req.Note
	}

	if err := a.db.WithContext(r.Context()).Model(&instance).Updates(updates).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "update_failed")
		return
	}

	a.publishAuditEvent(r, events.EventAuditMealPlanUpdate, events.Payload{
		"kitchen_id":    instance.KitchenID,
		"resource_type": "meal_instance",
		"resource_id":   instance.ID,
		"serves_at":     servesAt.Format(time.RFC3339),
	})

	a.db.WithContext(r.Context()).First(&instance, "id = ?", instanceID)
	writeJSON(w, http.StatusOK, instance)
}

// handleMealPlanForInstance computes the cooking timeline for one meal
// occurrence and links the plan record to it.
func (a *API) handleMealPlanForInstance(w http.ResponseWriter, r *http.Request) {
	if a.scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler_unavailable")
		return
	}

	instanceID := chi.URLParam(r, "instanceID")
	if instanceID == "" {
		writeError(w, http.StatusBadRequest, "instance_id_required")
		return
	}

	result, err := a.scheduler.PlanForInstance(r.Context(), instanceID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		a.logger.Error().Err(err).Str("instance_id", instanceID).Msg("plan for instance failed")
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error":  "plan_failed",
			"detail": err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"plan_id":   result.Record.ID,
		"status":    result.Record.Status,
		"cache_hit": result.CacheHit,
		"timeline":  result.Timeline,
	})
}

// handleMealsCancel marks the occurrence cancelled rather than deleting
// it, preserving history.
func (a *API) handleMealsCancel(w http.ResponseWriter, r *http.Request) {
	instanceID := chi.URLParam(r, "instanceID")
	if instanceID == "" {
		writeError(w, http.StatusBadRequest, "instance_id_required")
		return
	}

	var instance models.MealInstance
	result := a.db.WithContext(r.Context()).First(&instance, "id = ?", instanceID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if result.Error != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	updates := map[string]any{
		"status":         models.MealInstanceCancelled,
		"exception_type": models.MealExceptionCancelled,
	}

	if err := a.db.WithContext(r.Context()).Model(&instance).Updates(updates).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "update_failed")
		return
	}

	a.logger.Info().
		Str("instance_id", instance.ID).
		Str("kitchen_id", instance.KitchenID).
		Time("serves_at", instance.ServesAt).
		Msg("meal cancelled")

	a.bus.Publish(events.EventMealCancelled, events.Payload{
		"instance_id": instance.ID,
		"kitchen_id":  instance.KitchenID,
		"serves_at":   instance.ServesAt.Format(time.RFC3339),
	})

	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}
