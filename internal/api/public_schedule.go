/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/xml"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/andhrimnir_kitchen/internal/models"
)

// PublicMealPlan represents a meal plan for public API responses.
type PublicMealPlan struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	RecipeCount int    `json:"recipe_count"`
}

// PublicMeal represents a scheduled meal occurrence for the public API.
type PublicMeal struct {
	ID       string         `json:"id"`
	Meal     PublicMealPlan `json:"meal"`
	ServesAt time.Time      `json:"serves_at"`
	Planned  bool           `json:"planned"`
	IsNext   bool           `json:"is_next,omitempty"`
}

// AddPublicMealRoutes adds public meal calendar routes (no auth required).
func (a *API) AddPublicMealRoutes(r chi.Router) {
	r.Route("/public/meals", func(r chi.Router) {
		r.Get("/", a.handlePublicMeals)
		r.Get("/today", a.handlePublicMealsToday)
		r.Get("/ical", a.handlePublicMealsICal)
		r.Get("/rss", a.handlePublicMealsRSS)
	})
}

// publicKitchen loads the kitchen and hides it unless it is marked public.
func (a *API) publicKitchen(w http.ResponseWriter, r *http.Request) (*models.Kitchen, bool) {
	kitchenID := r.URL.Query().Get("kitchen_id")
	if kitchenID == "" {
		writeError(w, http.StatusBadRequest, "kitchen_id required")
		return nil, false
	}

	var kitchen models.Kitchen
	if err := a.db.First(&kitchen, "id = ?", kitchenID).Error; err != nil {
		writeError(w, http.StatusNotFound, "kitchen not found")
		return nil, false
	}

	// Private kitchens are indistinguishable from missing ones
	if !kitchen.Public {
		writeError(w, http.StatusNotFound, "kitchen not found")
		return nil, false
	}

	return &kitchen, true
}

// handlePublicMeals returns the public meal calendar as JSON.
func (a *API) handlePublicMeals(w http.ResponseWriter, r *http.Request) {
	kitchen, ok := a.publicKitchen(w, r)
	if !ok {
		return
	}

	// Parse date range (default to next 7 days)
	start := time.Now()
	end := start.AddDate(0, 0, 7)

	if startStr := r.URL.Query().Get("start"); startStr != "" {
		if t, err := time.Parse(time.RFC3339, startStr); err == nil {
			start = t
		} else if t, err := time.Parse("2006-01-02", startStr); err == nil {
			start = t
		}
	}

	if endStr := r.URL.Query().Get("end"); endStr != "" {
		if t, err := time.Parse(time.RFC3339, endStr); err == nil {
			end = t
		} else if t, err := time.Parse("2006-01-02", endStr); err == nil {
			end = t.AddDate(0, 0, 1) // End of day
		}
	}

	// Limit range to 30 days
	if end.Sub(start) > 30*24*time.Hour {
		end = start.AddDate(0, 0, 30)
	}

	// Get meal instances in range
	var instances []models.MealInstance
	a.db.Where("kitchen_id = ? AND serves_at >= ? AND serves_at < ?", kitchen.ID, start, end).
		Where("status IN ?", []models.MealInstanceStatus{models.MealInstanceScheduled, models.MealInstancePlanned}).
		Preload("MealPlan").
		Order("serves_at ASC").
		Find(&instances)

	// Convert to public format
	publicMeals := make([]PublicMeal, 0, len(instances))
	for _, inst := range instances {
		if inst.MealPlan == nil {
			continue
		}
		publicMeals = append(publicMeals, mealToPublic(&inst))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"kitchen": map[string]any{
			"id":   kitchen.ID,
			"name": kitchen.Name,
		},
		"start": start.Format(time.RFC3339),
		"end":   end.Format(time.RFC3339),
		"meals": publicMeals,
	})
}

// handlePublicMealsToday returns today's meals plus the next one coming up.
func (a *API) handlePublicMealsToday(w http.ResponseWriter, r *http.Request) {
	kitchen, ok := a.publicKitchen(w, r)
	if !ok {
		return
	}

	loc, err := time.LoadLocation(kitchen.Timezone)
	if err != nil {
		loc = time.UTC
	}

	now := time.Now().In(loc)
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	dayEnd := dayStart.AddDate(0, 0, 1)

	var todays []models.MealInstance
	a.db.Where("kitchen_id = ? AND serves_at >= ? AND serves_at < ?", kitchen.ID, dayStart, dayEnd).
		Where("status IN ?", []models.MealInstanceStatus{models.MealInstanceScheduled, models.MealInstancePlanned}).
		Preload("MealPlan").
		Order("serves_at ASC").
		Find(&todays)

	var nextInstance models.MealInstance
	a.db.Where("kitchen_id = ? AND serves_at >= ?", kitchen.ID, now).
		Where("status IN ?", []models.MealInstanceStatus{models.MealInstanceScheduled, models.MealInstancePlanned}).
		Preload("MealPlan").
		Order("serves_at ASC").
		First(&nextInstance)

	meals := make([]PublicMeal, 0, len(todays))
	for _, inst := range todays {
		if inst.MealPlan == nil {
			continue
		}
		meals = append(meals, mealToPublic(&inst))
	}

	result := map[string]any{
		"kitchen": map[string]any{
			"id":   kitchen.ID,
			"name": kitchen.Name,
		},
		"date":      dayStart.Format("2006-01-02"),
		"timestamp": now.Format(time.RFC3339),
		"meals":     meals,
	}

	if nextInstance.ID != "" && nextInstance.MealPlan != nil {
		next := mealToPublic(&nextInstance)
		next.IsNext = true
		result["next"] = next
	}

	writeJSON(w, http.StatusOK, result)
}

// handlePublicMealsICal returns the meal calendar as an iCal feed.
func (a *API) handlePublicMealsICal(w http.ResponseWriter, r *http.Request) {
	kitchen, ok := a.publicKitchen(w, r)
	if !ok {
		return
	}

	// Get meals for next 30 days
	now := time.Now()
	end := now.AddDate(0, 0, 30)

	var instances []models.MealInstance
	a.db.Where("kitchen_id = ? AND serves_at >= ? AND serves_at < ?", kitchen.ID, now, end).
		Where("status IN ?", []models.MealInstanceStatus{models.MealInstanceScheduled, models.MealInstancePlanned}).
		Preload("MealPlan").
		Order("serves_at ASC").
		Find(&instances)

	// Build iCal
	var ical strings.Builder
	ical.WriteString("BEGIN:VCALENDAR\r\n")
	ical.WriteString("VERSION:2.0\r\n")
	ical.WriteString("PRODID:-//Andhrimnir Kitchen//Meal Calendar//EN\r\n")
	ical.WriteString(fmt.Sprintf("X-WR-CALNAME:%s Meals\r\n", escapeICalText(kitchen.Name)))
	ical.WriteString("CALSCALE:GREGORIAN\r\n")
	ical.WriteString("METHOD:PUBLISH\r\n")

	for _, inst := range instances {
		if inst.MealPlan == nil {
			continue
		}

		ical.WriteString("BEGIN:VEVENT\r\n")
		ical.WriteString(fmt.Sprintf("UID:%s@andhrimnir\r\n", inst.ID))
		ical.WriteString(fmt.Sprintf("DTSTAMP:%s\r\n", formatICalTime(time.Now())))
		ical.WriteString(fmt.Sprintf("DTSTART:%s\r\n", formatICalTime(inst.ServesAt)))
		ical.WriteString(fmt.Sprintf("DTEND:%s\r\n", formatICalTime(inst.ServesAt.Add(time.Hour))))
		ical.WriteString(fmt.Sprintf("SUMMARY:%s\r\n", escapeICalText(inst.MealPlan.Name)))

		if inst.MealPlan.Description != "" {
			ical.WriteString(fmt.Sprintf("DESCRIPTION:%s\r\n", escapeICalText(inst.MealPlan.Description)))
		}

		ical.WriteString("END:VEVENT\r\n")
	}

	ical.WriteString("END:VCALENDAR\r\n")

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s-meals.ics\"", slugify(kitchen.Name)))
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(ical.String()))
}

// handlePublicMealsRSS returns the meal calendar as an RSS feed.
func (a *API) handlePublicMealsRSS(w http.ResponseWriter, r *http.Request) {
	kitchen, ok := a.publicKitchen(w, r)
	if !ok {
		return
	}

	// Get meals for next 7 days
	now := time.Now()
	end := now.AddDate(0, 0, 7)

	var instances []models.MealInstance
	a.db.Where("kitchen_id = ? AND serves_at >= ? AND serves_at < ?", kitchen.ID, now, end).
		Where("status IN ?", []models.MealInstanceStatus{models.MealInstanceScheduled, models.MealInstancePlanned}).
		Preload("MealPlan").
		Order("serves_at ASC").
		Find(&instances)

	// Build RSS
	type RSSItem struct {
		XMLName     xml.Name `xml:"item"`
		Title       string   `xml:"title"`
		Description string   `xml:"description"`
		PubDate     string   `xml:"pubDate"`
		GUID        string   `xml:"guid"`
	}

	type RSSChannel struct {
		XMLName     xml.Name  `xml:"channel"`
		Title       string    `xml:"title"`
		Link        string    `xml:"link"`
		Description string    `xml:"description"`
		LastBuild   string    `xml:"lastBuildDate"`
		Items       []RSSItem `xml:"item"`
	}

	type RSS struct {
		XMLName xml.Name   `xml:"rss"`
		Version string     `xml:"version,attr"`
		Channel RSSChannel `xml:"channel"`
	}

	items := make([]RSSItem, 0, len(instances))
	for _, inst := range instances {
		if inst.MealPlan == nil {
			continue
		}

		desc := inst.MealPlan.Description
		if desc == "" {
			desc = fmt.Sprintf("Serves at %s", inst.ServesAt.Format("Mon, Jan 2 3:04 PM"))
		}
		if n := len(inst.MealPlan.RecipeIDs); n > 0 {
			desc = fmt.Sprintf("%s (%d recipes)", desc, n)
		}

		items = append(items, RSSItem{
			Title:       fmt.Sprintf("%s - %s", inst.MealPlan.Name, inst.ServesAt.Format("Mon, Jan 2 3:04 PM")),
			Description: desc,
			PubDate:     inst.ServesAt.Format(time.RFC1123Z),
			GUID:        inst.ID,
		})
	}

	rss := RSS{
		Version: "2.0",
		Channel: RSSChannel{
			Title:       fmt.Sprintf("%s Meals", kitchen.Name),
			Link:        fmt.Sprintf("/meals?kitchen=%s", kitchen.ID),
			Description: fmt.Sprintf("Upcoming meals from %s", kitchen.Name),
			LastBuild:   time.Now().Format(time.RFC1123Z),
			Items:       items,
		},
	}

	w.Header().Set("Content-Type", "application/rss+xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(xml.Header))
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	enc.Encode(rss)
}

// mealToPublic converts a MealInstance to PublicMeal.
func mealToPublic(inst *models.MealInstance) PublicMeal {
	pm := PublicMeal{
		ID:       inst.ID,
		ServesAt: inst.ServesAt,
		Planned:  inst.Status == models.MealInstancePlanned,
		Meal: PublicMealPlan{
			ID:          inst.MealPlan.ID,
			Name:        inst.MealPlan.Name,
			Description: inst.MealPlan.Description,
			RecipeCount: len(inst.MealPlan.RecipeIDs),
		},
	}
	return pm
}

// formatICalTime formats a time for iCal (YYYYMMDDTHHMMSSZ).
func formatICalTime(t time.Time) string {
	return t.UTC().Format("20060102T150405Z")
}

// escapeICalText escapes text for iCal format.
func escapeICalText(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, ";", "\\;")
	s = strings.ReplaceAll(s, ",", "\\,")
	s = strings.ReplaceAll(s, "\n", "\\n")
	return s
}

// slugify converts a string to a URL-safe slug.
func slugify(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, " ", "-")
	var result strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			result.WriteRune(r)
		}
	}
	return result.String()
}
