/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// AuditAction defines the type of audited action.
type AuditAction string

// Audit action constants for all sensitive operations.
const (
	AuditActionUserRoleChange  AuditAction = "user.role_change"
	AuditActionUserDelete      AuditAction = "user.delete"
	AuditActionAPIKeyCreate    AuditAction = "apikey.create"
	AuditActionAPIKeyRevoke    AuditAction = "apikey.revoke"
	AuditActionKitchenCreate   AuditAction = "kitchen.create"
	AuditActionKitchenUpdate   AuditAction = "kitchen.update"
	AuditActionKitchenDelete   AuditAction = "kitchen.delete"
	AuditActionRecipeCreate    AuditAction = "recipe.create"
	AuditActionRecipeUpdate    AuditAction = "recipe.update"
	AuditActionRecipeDelete    AuditAction = "recipe.delete"
	AuditActionPlanComputed    AuditAction = "plan.computed"
	AuditActionPlanConflict    AuditAction = "plan.conflict"
	AuditActionMealPlanCreate  AuditAction = "mealplan.create"
	AuditActionMealPlanUpdate  AuditAction = "mealplan.update"
	AuditActionMealPlanDelete  AuditAction = "mealplan.delete"
	AuditActionMaterialize     AuditAction = "mealplan.materialize"
	AuditActionIntegrityScan   AuditAction = "integrity.scan"
	AuditActionIntegrityRepair AuditAction = "integrity.repair"
)

// AuditLog records sensitive operations for security and compliance.
type AuditLog struct {
	ID           string         `gorm:"type:uuid;primaryKey"`
	Timestamp    time.Time      `gorm:"index:idx_audit_timestamp;not null"`
	UserID       *string        `gorm:"type:uuid;index:idx_audit_user"`    // NULL for system actions
	UserEmail    string         `gorm:"type:varchar(255)"`                 // Denormalized for readability
	KitchenID    *string        `gorm:"type:uuid;index:idx_audit_kitchen"` // NULL if platform-wide
	Action       AuditAction    `gorm:"type:varchar(64);index:idx_audit_action;not null"`
	ResourceType string         `gorm:"type:varchar(64)"`           // "user", "apikey", "recipe", etc.
	ResourceID   string         `gorm:"type:uuid"`                  // ID of the affected resource
	Details      map[string]any `gorm:"type:jsonb;serializer:json"` // Action-specific details
	IPAddress    string         `gorm:"type:varchar(45)"`           // IPv4 or IPv6
	UserAgent    string         `gorm:"type:varchar(512)"`
	CreatedAt    time.Time
}

// TableName returns the table name for GORM.
func (AuditLog) TableName() string {
	return "audit_logs"
}
