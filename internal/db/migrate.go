/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/friendsincode/andhrimnir_kitchen/internal/models"
)

// Migrate applies database schema migrations using GORM auto-migrate.
func Migrate(database *gorm.DB) error {
	if err := database.AutoMigrate(
		// Platform-level models
		&models.User{},
		&models.SystemSettings{},
		&models.APIKey{},
		&models.AuditLog{},

		// Kitchen resources
		&models.Kitchen{},
		&models.Oven{},
		&models.Recipe{},
		&models.StepGroup{},

		// Planning
		&models.PlanRecord{},
		&models.MealPlan{},
		&models.MealInstance{},

		// Notifications
		&models.NotificationPreference{},
		&models.Notification{},

		// Webhooks
		&models.WebhookTarget{},
		&models.WebhookLog{},

		// Analytics rollups
		&models.PlanAnalyticsDaily{},
	); err != nil {
		return err
	}

	if err := applyPostgresDuplicateServingGuard(database); err != nil {
		return err
	}
	if err := normalizeLegacyRoles(database); err != nil {
		return err
	}

	return nil
}

// applyPostgresDuplicateServingGuard rejects a second scheduled instance
// for the same kitchen at the same serving time.
func applyPostgresDuplicateServingGuard(database *gorm.DB) error {
	if database.Dialector.Name() != "postgres" {
		return nil
	}

	stmt := `
CREATE UNIQUE INDEX IF NOT EXISTS uniq_meal_instances_kitchen_serving
ON meal_instances (kitchen_id, serves_at)
WHERE status = 'scheduled';
`
	if err := database.Exec(stmt).Error; err != nil {
		return fmt.Errorf("apply postgres duplicate serving guard: %w", err)
	}

	return nil
}

// normalizeLegacyRoles rewrites role names from releases that shipped
// "manager" and "chef" before the planner/cook split.
func normalizeLegacyRoles(database *gorm.DB) error {
	if err := database.Exec("UPDATE users SET role = ? WHERE LOWER(TRIM(role)) = ?", models.RolePlanner, "manager").Error; err != nil {
		return fmt.Errorf("normalize legacy planner role: %w", err)
	}
	if err := database.Exec("UPDATE users SET role = ? WHERE LOWER(TRIM(role)) = ?", models.RoleCook, "chef").Error; err != nil {
		return fmt.Errorf("normalize legacy cook role: %w", err)
	}
	return nil
}
