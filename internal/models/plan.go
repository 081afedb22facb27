/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// PlanStatus describes the outcome of a plan computation.
type PlanStatus string

const (
	// PlanComplete means every step group was placed with no conflicts.
	PlanComplete PlanStatus = "complete"
	// PlanPartial means the timeline was produced but carries unresolved
	// conflicts or excluded recipes.
	PlanPartial PlanStatus = "partial"
)

// PlanRecord persists one computed timeline.
type PlanRecord struct {
	ID             string     `gorm:"type:uuid;primaryKey"`
	KitchenID      string     `gorm:"type:uuid;index:idx_plans_kitchen;not null"`
	MealInstanceID *string    `gorm:"type:uuid;index:idx_plans_instance"`
	MealTime       time.Time  `gorm:"index:idx_plans_mealtime;not null"`
	Status         PlanStatus `gorm:"type:varchar(16);not null"`

	// PlanHash fingerprints every planning input so identical requests
	// can be answered from cache.
	PlanHash string `gorm:"type:varchar(64);index:idx_plans_hash"`

	// Timeline holds the rendered plan: entries, conflicts, exclusions.
	Timeline map[string]any `gorm:"type:jsonb;serializer:json"`

	// Denormalized counters for list views.
	EntryCount    int
	ConflictCount int
	ExcludedCount int

	CreatedAt time.Time
}

// TableName returns the table name for GORM.
func (PlanRecord) TableName() string {
	return "plan_records"
}

// IsComplete returns true when the plan has no conflicts or exclusions.
func (p *PlanRecord) IsComplete() bool {
	return p.Status == PlanComplete
}
