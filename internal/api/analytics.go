/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/andhrimnir_kitchen/internal/analytics"
)

// PlanAnalyticsAPI handles plan analytics endpoints.
type PlanAnalyticsAPI struct {
	*API
	analyticsSvc *analytics.PlanAnalyticsService
}

// NewPlanAnalyticsAPI creates a new plan analytics API handler.
func NewPlanAnalyticsAPI(api *API, svc *analytics.PlanAnalyticsService) *PlanAnalyticsAPI {
	return &PlanAnalyticsAPI{
		API:          api,
		analyticsSvc: svc,
	}
}

// RegisterRoutes registers plan analytics routes.
func (a *PlanAnalyticsAPI) RegisterRoutes(r chi.Router) {
	r.Route("/plan-analytics", func(r chi.Router) {
		r.Get("/summary", a.handleSummary)
		r.Get("/slots", a.handleMealSlotLoad)
		r.Get("/busiest", a.handleBusiestSlots)
		r.Get("/suggestions", a.handlePlanningSuggestions)
		// Maintenance endpoint to backfill daily rollups (admin/planner group already enforced at router mount).
		r.Post("/aggregate-daily", a.handleAggregateDaily)
	})
}

func (a *PlanAnalyticsAPI) handleAggregateDaily(w http.ResponseWriter, r *http.Request) {
	kitchenID := r.URL.Query().Get("kitchen_id")
	if kitchenID == "" {
		writeError(w, http.StatusBadRequest, "kitchen_id required")
		return
	}

	// Default: yesterday only (UTC)
	end := time.Now().UTC().AddDate(0, 0, -1)
	start := end

	if startStr := r.URL.Query().Get("start"); startStr != "" {
		if t, err := time.Parse("2006-01-02", startStr); err == nil {
			start = t
		}
	}
	if endStr := r.URL.Query().Get("end"); endStr != "" {
		if t, err := time.Parse("2006-01-02", endStr); err == nil {
			end = t
		}
	}

	// Safety cap: 366 days per request.
	startDay := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	endDay := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC)
	if endDay.Before(startDay) {
		startDay, endDay = endDay, startDay
	}
	if endDay.Sub(startDay) > 366*24*time.Hour {
		endDay = startDay.Add(366 * 24 * time.Hour)
	}

	if err := a.analyticsSvc.BackfillDaily(r.Context(), kitchenID, startDay, endDay); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to aggregate daily")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"start":  startDay.Format("2006-01-02"),
		"end":    endDay.Format("2006-01-02"),
	})
}

// handleSummary returns aggregate planning metrics over a date range.
func (a *PlanAnalyticsAPI) handleSummary(w http.ResponseWriter, r *http.Request) {
	kitchenID := r.URL.Query().Get("kitchen_id")
	if kitchenID == "" {
		writeError(w, http.StatusBadRequest, "kitchen_id required")
		return
	}

	// Parse date range (default to last 30 days)
	end := time.Now()
	start := end.AddDate(0, 0, -30)

	if startStr := r.URL.Query().Get("start"); startStr != "" {
		if t, err := time.Parse("2006-01-02", startStr); err == nil {
			start = t
		}
	}
	if endStr := r.URL.Query().Get("end"); endStr != "" {
		if t, err := time.Parse("2006-01-02", endStr); err == nil {
			end = t
		}
	}

	summary, err := a.analyticsSvc.Summary(r.Context(), kitchenID, start, end)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get summary")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"start":   start.Format("2006-01-02"),
		"end":     end.Format("2006-01-02"),
		"summary": summary,
	})
}

// handleMealSlotLoad returns planning load broken down by meal slot.
func (a *PlanAnalyticsAPI) handleMealSlotLoad(w http.ResponseWriter, r *http.Request) {
	kitchenID := r.URL.Query().Get("kitchen_id")
	if kitchenID == "" {
		writeError(w, http.StatusBadRequest, "kitchen_id required")
		return
	}

	end := time.Now()
	start := end.AddDate(0, 0, -30)

	if startStr := r.URL.Query().Get("start"); startStr != "" {
		if t, err := time.Parse("2006-01-02", startStr); err == nil {
			start = t
		}
	}
	if endStr := r.URL.Query().Get("end"); endStr != "" {
		if t, err := time.Parse("2006-01-02", endStr); err == nil {
			end = t
		}
	}

	slots, err := a.analyticsSvc.MealSlotLoad(r.Context(), kitchenID, start, end)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get meal slot load")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"start": start.Format("2006-01-02"),
		"end":   end.Format("2006-01-02"),
		"slots": slots,
	})
}

// handleBusiestSlots returns the slots with the heaviest equipment load.
func (a *PlanAnalyticsAPI) handleBusiestSlots(w http.ResponseWriter, r *http.Request) {
	kitchenID := r.URL.Query().Get("kitchen_id")
	if kitchenID == "" {
		writeError(w, http.StatusBadRequest, "kitchen_id required")
		return
	}

	limit := 10
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := parseInt(limitStr); err == nil && l > 0 {
			limit = l
		}
	}

	slots, err := a.analyticsSvc.BusiestSlots(r.Context(), kitchenID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get busiest slots")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"busiest_slots": slots,
	})
}

// handlePlanningSuggestions returns data-driven planning suggestions.
func (a *PlanAnalyticsAPI) handlePlanningSuggestions(w http.ResponseWriter, r *http.Request) {
	kitchenID := r.URL.Query().Get("kitchen_id")
	if kitchenID == "" {
		writeError(w, http.StatusBadRequest, "kitchen_id required")
		return
	}

	suggestions, err := a.analyticsSvc.PlanningSuggestions(r.Context(), kitchenID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get suggestions")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"suggestions": suggestions,
	})
}

func parseInt(s string) (int, error) {
	var v int
	_, err := fmt.Sscanf(s, "%d", &v)
	return v, err
}
