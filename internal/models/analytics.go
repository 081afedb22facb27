/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"time"
)

// PlanAnalyticsDaily stores one kitchen's plan rollup for a single day,
// derived from plan_records.
type PlanAnalyticsDaily struct {
	ID        string    `gorm:"type:uuid;primaryKey" json:"id"`
	KitchenID string    `gorm:"type:uuid;not null;uniqueIndex:idx_plan_analytics_daily,priority:1" json:"kitchen_id"`
	Date      time.Time `gorm:"type:date;not null;uniqueIndex:idx_plan_analytics_daily,priority:2" json:"date"`

	PlanCount      int     `json:"plan_count"`
	CompleteCount  int     `json:"complete_count"`
	PartialCount   int     `json:"partial_count"`
	EntryCount     int     `json:"entry_count"`
	ConflictCount  int     `json:"conflict_count"`
	ExcludedCount  int     `json:"excluded_count"`
	AvgLeadMinutes float64 `json:"avg_lead_minutes"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the table name for GORM.
func (PlanAnalyticsDaily) TableName() string {
	return "plan_analytics_daily"
}

// PlanSummary aggregates plan outcomes for a kitchen over a period.
type PlanSummary struct {
	PlanCount      int     `json:"plan_count"`
	CompleteCount  int     `json:"complete_count"`
	PartialCount   int     `json:"partial_count"`
	AvgEntries     float64 `json:"avg_entries"`
	TotalConflicts int     `json:"total_conflicts"`
	TotalExcluded  int     `json:"total_excluded"`
	AvgLeadMinutes float64 `json:"avg_lead_minutes"`
	CompleteRate   float64 `json:"complete_rate"` // 0-1
	TrendPercent   float64 `json:"trend_percent"` // Complete-rate change vs previous period
}

// MealSlotLoad describes demand and conflict pressure for a weekly
// time slot.
type MealSlotLoad struct {
	DayOfWeek    int     `json:"day_of_week"` // 0=Sunday, 6=Saturday
	Hour         int     `json:"hour"`        // 0-23
	MealCount    int     `json:"meal_count"`
	AvgConflicts float64 `json:"avg_conflicts"`
	AvgEntries   float64 `json:"avg_entries"`
}

// PlanningSuggestion represents a data-driven planning suggestion.
type PlanningSuggestion struct {
	Type          string  `json:"type"` // "shift_meal", "add_equipment", "trim_menu"
	CurrentSlot   string  `json:"current_slot,omitempty"`
	SuggestedSlot string  `json:"suggested_slot,omitempty"`
	Reason        string  `json:"reason"`
	Impact        string  `json:"impact"`     // Expected impact description
	Confidence    float64 `json:"confidence"` // 0-1 confidence score
}
