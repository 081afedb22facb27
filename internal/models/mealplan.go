/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// MealInstanceStatus defines the status of a materialized meal.
type MealInstanceStatus string

const (
	MealInstanceScheduled MealInstanceStatus = "scheduled"
	MealInstancePlanned   MealInstanceStatus = "planned"
	MealInstanceCancelled MealInstanceStatus = "cancelled"
	MealInstanceCompleted MealInstanceStatus = "completed"
)

// MealExceptionType defines types of exceptions to recurring meals.
type MealExceptionType string

const (
	MealExceptionCancelled   MealExceptionType = "cancelled"
	MealExceptionRescheduled MealExceptionType = "rescheduled"
)

// MealPlan represents a recurring meal definition with RRULE support:
// the same menu served on a repeating schedule.
type MealPlan struct {
	ID          string  `gorm:"type:uuid;primaryKey"`
	KitchenID   string  `gorm:"type:uuid;index:idx_meal_plans_kitchen;not null"`
	Name        string  `gorm:"type:varchar(255);not null"`
	Description string  `gorm:"type:text"`
	OwnerUserID *string `gorm:"type:uuid;index:idx_meal_plans_owner"`

	// RecipeIDs is the menu: the recipes cooked at each occurrence.
	RecipeIDs []string `gorm:"type:jsonb;serializer:json"`

	// Recurrence (RFC 5545 RRULE)
	RRule    string     `gorm:"type:text"`                  // e.g., "FREQ=WEEKLY;BYDAY=SU"
	DTStart  time.Time  `gorm:"not null"`                   // First serving
	DTEnd    *time.Time `gorm:"index:idx_meal_plans_dtend"` // End of recurrence (NULL = forever)
	Timezone string     `gorm:"type:varchar(64);not null;default:'UTC'"`

	Active   bool           `gorm:"not null;default:true"`
	Metadata map[string]any `gorm:"type:jsonb;serializer:json"`

	Kitchen   *Kitchen       `gorm:"foreignKey:KitchenID"`
	Owner     *User          `gorm:"foreignKey:OwnerUserID"`
	Instances []MealInstance `gorm:"foreignKey:MealPlanID"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName returns the table name for GORM.
func (MealPlan) TableName() string {
	return "meal_plans"
}

// MealInstance represents a materialized occurrence of a meal plan:
// one concrete serving time a timeline can be computed for.
type MealInstance struct {
	ID         string    `gorm:"type:uuid;primaryKey"`
	MealPlanID string    `gorm:"type:uuid;index:idx_meal_instances_plan;not null"`
	KitchenID  string    `gorm:"type:uuid;index:idx_meal_instances_kitchen_time;not null"`
	ServesAt   time.Time `gorm:"index:idx_meal_instances_kitchen_time;not null"`

	Status MealInstanceStatus `gorm:"type:varchar(32);not null;default:'scheduled'"`

	// PlanRecordID links the computed timeline once planning ran.
	PlanRecordID *string `gorm:"type:uuid"`

	ExceptionType MealExceptionType `gorm:"type:varchar(32)"`
	ExceptionNote string            `gorm:"type:text"`

	Metadata map[string]any `gorm:"type:jsonb;serializer:json"`

	MealPlan *MealPlan   `gorm:"foreignKey:MealPlanID"`
	Kitchen  *Kitchen    `gorm:"foreignKey:KitchenID"`
	Plan     *PlanRecord `gorm:"foreignKey:PlanRecordID"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName returns the table name for GORM.
func (MealInstance) TableName() string {
	return "meal_instances"
}

// IsCancelled returns true if this instance is cancelled.
func (mi *MealInstance) IsCancelled() bool {
	return mi.Status == MealInstanceCancelled || mi.ExceptionType == MealExceptionCancelled
}

// IsException returns true if this is an exception to the regular schedule.
func (mi *MealInstance) IsException() bool {
	return mi.ExceptionType != ""
}
