/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"

	"github.com/friendsincode/andhrimnir_kitchen/internal/models"
	"github.com/friendsincode/andhrimnir_kitchen/internal/stepgraph"
	"github.com/friendsincode/andhrimnir_kitchen/internal/timeline"
)

type planRequest struct {
	KitchenID string   `json:"kitchen_id"`
	RecipeIDs []string `json:"recipe_ids"`
	MealTime  string   `json:"meal_time"`
}

func (a *API) handlePlanCompute(w http.ResponseWriter, r *http.Request) {
	if a.scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler_unavailable")
		return
	}

	var req planRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.KitchenID == "" || len(req.RecipeIDs) == 0 || req.MealTime == "" {
		writeError(w, http.StatusBadRequest, "missing_required_fields")
		return
	}

	mealTime, err := time.Parse(time.RFC3339, req.MealTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, "meal_time_invalid")
		return
	}

	result, err := a.scheduler.Plan(r.Context(), req.KitchenID, req.RecipeIDs, mealTime)
	if err != nil {
		switch {
		case errors.Is(err, stepgraph.ErrMalformedRecipe):
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error":  "recipe_invalid",
				"detail": err.Error(),
			})
		case errors.Is(err, gorm.ErrRecordNotFound):
			writeError(w, http.StatusNotFound, "not_found")
		default:
			a.logger.Error().Err(err).Str("kitchen_id", req.KitchenID).Msg("plan compute failed")
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
				"error":  "plan_failed",
				"detail": err.Error(),
			})
		}
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"plan_id":   result.Record.ID,
		"status":    result.Record.Status,
		"cache_hit": result.CacheHit,
		"timeline":  result.Timeline,
	})
}

func (a *API) handlePlansList(w http.ResponseWriter, r *http.Request) {
	q := a.db.WithContext(r.Context()).Model(&models.PlanRecord{})
	if kitchenID := r.URL.Query().Get("kitchen_id"); kitchenID != "" {
		q = q.Where("kitchen_id = ?", kitchenID)
	}
	if status := r.URL.Query().Get("status"); status != "" {
		q = q.Where("status = ?", status)
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	offset := 0
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			offset = n
		}
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		a.logger.Error().Err(err).Msg("count plans failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	// List views drop the timeline document; it can run to hundreds of
	// entries per plan.
	var plans []models.PlanRecord
	if err := q.Omit("timeline").Order("created_at DESC").Limit(limit).Offset(offset).Find(&plans).Error; err != nil {
		a.logger.Error().Err(err).Msg("list plans failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"plans":  plans,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

func (a *API) handlePlansGet(w http.ResponseWriter, r *http.Request) {
	planID := chi.URLParam(r, "planID")

	var plan models.PlanRecord
	result := a.db.WithContext(r.Context()).First(&plan, "id = ?", planID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if result.Error != nil {
		a.logger.Error().Err(result.Error).Msg("get plan failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	writeJSON(w, http.StatusOK, plan)
}

// handlePlanExport renders a stored plan as an iCal calendar or CSV
// prep sheet, selected by the format query parameter.
func (a *API) handlePlanExport(w http.ResponseWriter, r *http.Request) {
	planID := chi.URLParam(r, "planID")

	var plan models.PlanRecord
	result := a.db.WithContext(r.Context()).First(&plan, "id = ?", planID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if result.Error != nil {
		a.logger.Error().Err(result.Error).Msg("get plan failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	tl, err := timelineFromRecord(&plan)
	if err != nil {
		a.logger.Error().Err(err).Str("plan_id", plan.ID).Msg("decode stored timeline failed")
		writeError(w, http.StatusInternalServerError, "timeline_decode_error")
		return
	}

	planName := planExportName(a.db, &plan)

	var export *timeline.ExportResult
	switch format := r.URL.Query().Get("format"); format {
	case "", "ics", "ical":
		export = tl.ExportICal(planName)
	case "csv":
		export = tl.ExportCSV(planName)
	default:
		writeError(w, http.StatusBadRequest, "format_invalid")
		return
	}

	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.Filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(export.Data)
}

func (a *API) handlePlansRecentRuns(w http.ResponseWriter, r *http.Request) {
	if a.scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler_unavailable")
		return
	}

	runs := a.scheduler.RecentRuns()
	writeJSON(w, http.StatusOK, map[string]any{
		"runs":  runs,
		"count": len(runs),
	})
}

// timelineFromRecord rebuilds the typed timeline from the stored jsonb
// document.
func timelineFromRecord(plan *models.PlanRecord) (*timeline.Timeline, error) {
	raw, err := json.Marshal(plan.Timeline)
	if err != nil {
		return nil, err
	}
	var tl timeline.Timeline
	if err := json.Unmarshal(raw, &tl); err != nil {
		return nil, err
	}
	return &tl, nil
}

func planExportName(db *gorm.DB, plan *models.PlanRecord) string {
	name := "Cooking Plan"
	var kitchen models.Kitchen
	if err := db.Select("name").First(&kitchen, "id = ?", plan.KitchenID).Error; err == nil && kitchen.Name != "" {
		name = kitchen.Name
	}
	return fmt.Sprintf("%s %s", name, plan.MealTime.Format("2006-01-02 15:04"))
}
