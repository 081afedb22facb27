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

	"github.com/friendsincode/andhrimnir_kitchen/internal/schedule"
)

// MealExportAPI handles meal calendar import/export endpoints.
type MealExportAPI struct {
	*API
	exportSvc *schedule.ExportService
}

// NewMealExportAPI creates a new meal calendar export API handler.
func NewMealExportAPI(api *API, svc *schedule.ExportService) *MealExportAPI {
	return &MealExportAPI{
		API:       api,
		exportSvc: svc,
	}
}

// RegisterRoutes registers meal calendar export routes.
func (e *MealExportAPI) RegisterRoutes(r chi.Router) {
	r.Route("/schedule/export", func(r chi.Router) {
		r.Get("/ical", e.handleExportICal)
		r.Get("/pdf", e.handleExportPDF)
		r.Post("/import/ical", e.handleImportICal)
	})
}

// handleExportICal exports the meal calendar to iCal format.
func (e *MealExportAPI) handleExportICal(w http.ResponseWriter, r *http.Request) {
	kitchenID := r.URL.Query().Get("kitchen_id")
	if kitchenID == "" {
		writeError(w, http.StatusBadRequest, "kitchen_id required")
		return
	}

	// Default to next 30 days
	start := time.Now()
	end := start.AddDate(0, 0, 30)

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

	result, err := e.exportSvc.ExportToICal(r.Context(), kitchenID, start, end)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to export meal calendar")
		return
	}

	w.Header().Set("Content-Type", result.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", result.Filename))
	w.WriteHeader(http.StatusOK)
	w.Write(result.Data)
}

// handleExportPDF exports the meal calendar to printable HTML/PDF format.
func (e *MealExportAPI) handleExportPDF(w http.ResponseWriter, r *http.Request) {
	kitchenID := r.URL.Query().Get("kitchen_id")
	if kitchenID == "" {
		writeError(w, http.StatusBadRequest, "kitchen_id required")
		return
	}

	// Default to next 7 days
	start := time.Now()
	end := start.AddDate(0, 0, 7)

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

	html, err := e.exportSvc.ExportToPDF(r.Context(), kitchenID, start, end)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to export meal calendar")
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(html)
}

// handleImportICal imports a meal calendar from an iCal file.
func (e *MealExportAPI) handleImportICal(w http.ResponseWriter, r *http.Request) {
	kitchenID := r.URL.Query().Get("kitchen_id")
	if kitchenID == "" {
		writeError(w, http.StatusBadRequest, "kitchen_id required")
		return
	}

	// Parse multipart form
	if err := r.ParseMultipartForm(10 << 20); err != nil { // 10 MB max
		writeError(w, http.StatusBadRequest, "failed to parse form")
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file required")
		return
	}
	defer file.Close()

	result, err := e.exportSvc.ImportFromICal(r.Context(), kitchenID, file)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to import meal calendar")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"imported": result.Imported,
		"skipped":  result.Skipped,
		"errors":   result.Errors,
	})
}
