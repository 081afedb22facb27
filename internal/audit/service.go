/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/andhrimnir_kitchen/internal/events"
	"github.com/friendsincode/andhrimnir_kitchen/internal/models"
)

// Service handles audit logging by subscribing to events and storing audit entries.
type Service struct {
	db     *gorm.DB
	bus    *events.Bus
	logger zerolog.Logger
}

// NewService creates a new audit service.
func NewService(db *gorm.DB, bus *events.Bus, logger zerolog.Logger) *Service {
	return &Service{
		db:     db,
		bus:    bus,
		logger: logger.With().Str("component", "audit").Logger(),
	}
}

// Start subscribes to relevant events and logs them as audit entries.
func (s *Service) Start(ctx context.Context) {
	s.logger.Info().Msg("audit service starting")

	// Subscribe to planning events
	planComputed := s.bus.Subscribe(events.EventPlanComputed)
	planConflict := s.bus.Subscribe(events.EventPlanConflict)
	mealMaterialized := s.bus.Subscribe(events.EventMealMaterialized)

	// Subscribe to audit-specific events
	auditAPIKeyCreate := s.bus.Subscribe(events.EventAuditAPIKeyCreate)
	auditAPIKeyRevoke := s.bus.Subscribe(events.EventAuditAPIKeyRevoke)
	auditKitchenCreate := s.bus.Subscribe(events.EventAuditKitchenCreate)
	auditKitchenUpdate := s.bus.Subscribe(events.EventAuditKitchenUpdate)
	auditKitchenDelete := s.bus.Subscribe(events.EventAuditKitchenDelete)
	auditRecipeCreate := s.bus.Subscribe(events.EventAuditRecipeCreate)
	auditRecipeUpdate := s.bus.Subscribe(events.EventAuditRecipeUpdate)
	auditRecipeDelete := s.bus.Subscribe(events.EventAuditRecipeDelete)
	auditMealPlanCreate := s.bus.Subscribe(events.EventAuditMealPlanCreate)
	auditMealPlanUpdate := s.bus.Subscribe(events.EventAuditMealPlanUpdate)
	auditMealPlanDelete := s.bus.Subscribe(events.EventAuditMealPlanDelete)
	auditMaterializeRun := s.bus.Subscribe(events.EventAuditMaterializeRun)
	auditUserRoleChange := s.bus.Subscribe(events.EventAuditUserRoleChange)
	auditUserDelete := s.bus.Subscribe(events.EventAuditUserDelete)

	defer func() {
		s.bus.Unsubscribe(events.EventPlanComputed, planComputed)
		s.bus.Unsubscribe(events.EventPlanConflict, planConflict)
		s.bus.Unsubscribe(events.EventMealMaterialized, mealMaterialized)
		s.bus.Unsubscribe(events.EventAuditAPIKeyCreate, auditAPIKeyCreate)
		s.bus.Unsubscribe(events.EventAuditAPIKeyRevoke, auditAPIKeyRevoke)
		s.bus.Unsubscribe(events.EventAuditKitchenCreate, auditKitchenCreate)
		s.bus.Unsubscribe(events.EventAuditKitchenUpdate, auditKitchenUpdate)
		s.bus.Unsubscribe(events.EventAuditKitchenDelete, auditKitchenDelete)
		s.bus.Unsubscribe(events.EventAuditRecipeCreate, auditRecipeCreate)
		s.bus.Unsubscribe(events.EventAuditRecipeUpdate, auditRecipeUpdate)
		s.bus.Unsubscribe(events.EventAuditRecipeDelete, auditRecipeDelete)
		s.bus.Unsubscribe(events.EventAuditMealPlanCreate, auditMealPlanCreate)
		s.bus.Unsubscribe(events.EventAuditMealPlanUpdate, auditMealPlanUpdate)
		s.bus.Unsubscribe(events.EventAuditMealPlanDelete, auditMealPlanDelete)
		s.bus.Unsubscribe(events.EventAuditMaterializeRun, auditMaterializeRun)
		s.bus.Unsubscribe(events.EventAuditUserRoleChange, auditUserRoleChange)
		s.bus.Unsubscribe(events.EventAuditUserDelete, auditUserDelete)
	}()

	s.logger.Info().Msg("audit service started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("audit service stopping")
			return

		case payload := <-planComputed:
			s.logAuditEntry(ctx, models.AuditActionPlanComputed, payload)

		case payload := <-planConflict:
			s.logAuditEntry(ctx, models.AuditActionPlanConflict, payload)

		case payload := <-mealMaterialized:
			s.logAuditEntry(ctx, models.AuditActionMaterialize, payload)

		case payload := <-auditAPIKeyCreate:
			s.logAuditEntry(ctx, models.AuditActionAPIKeyCreate, payload)

		case payload := <-auditAPIKeyRevoke:
			s.logAuditEntry(ctx, models.AuditActionAPIKeyRevoke, payload)

		case payload := <-auditKitchenCreate:
			s.logAuditEntry(ctx, models.AuditActionKitchenCreate, payload)

		case payload := <-auditKitchenUpdate:
			s.logAuditEntry(ctx, models.AuditActionKitchenUpdate, payload)

		case payload := <-auditKitchenDelete:
			s.logAuditEntry(ctx, models.AuditActionKitchenDelete, payload)

		case payload := <-auditRecipeCreate:
			s.logAuditEntry(ctx, models.AuditActionRecipeCreate, payload)

		case payload := <-auditRecipeUpdate:
			s.logAuditEntry(ctx, models.AuditActionRecipeUpdate, payload)

		case payload := <-auditRecipeDelete:
			s.logAuditEntry(ctx, models.AuditActionRecipeDelete, payload)

		case payload := <-auditMealPlanCreate:
			s.logAuditEntry(ctx, models.AuditActionMealPlanCreate, payload)

		case payload := <-auditMealPlanUpdate:
			s.logAuditEntry(ctx, models.AuditActionMealPlanUpdate, payload)

		case payload := <-auditMealPlanDelete:
			s.logAuditEntry(ctx, models.AuditActionMealPlanDelete, payload)

		case payload := <-auditMaterializeRun:
			s.logAuditEntry(ctx, models.AuditActionMaterialize, payload)

		case payload := <-auditUserRoleChange:
			s.logAuditEntry(ctx, models.AuditActionUserRoleChange, payload)

		case payload := <-auditUserDelete:
			s.logAuditEntry(ctx, models.AuditActionUserDelete, payload)
		}
	}
}

// logAuditEntry creates an audit log entry from an event payload.
func (s *Service) logAuditEntry(ctx context.Context, action models.AuditAction, payload events.Payload) {
	entry := &models.AuditLog{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Action:    action,
		Details:   make(map[string]any),
		CreatedAt: time.Now(),
	}

	// Extract user info
	if userID, ok := payload["user_id"].(string); ok && userID != "" {
		entry.UserID = &userID
	}
	if userEmail, ok := payload["user_email"].(string); ok {
		entry.UserEmail = userEmail
	}

	// Extract kitchen info
	if kitchenID, ok := payload["kitchen_id"].(string); ok && kitchenID != "" {
		entry.KitchenID = &kitchenID
	}

	// Extract resource info
	if resourceType, ok := payload["resource_type"].(string); ok {
		entry.ResourceType = resourceType
	}
	if resourceID, ok := payload["resource_id"].(string); ok {
		entry.ResourceID = resourceID
	}

	// Extract request context
	if ipAddress, ok := payload["ip_address"].(string); ok {
		entry.IPAddress = ipAddress
	}
	if userAgent, ok := payload["user_agent"].(string); ok {
		entry.UserAgent = userAgent
	}

	// Copy remaining fields to details
	for k, v := range payload {
		switch k {
		case "user_id", "user_email", "kitchen_id", "resource_type", "resource_id", "ip_address", "user_agent":
			// Already extracted
		default:
			entry.Details[k] = v
		}
	}

	if err := s.Log(ctx, entry); err != nil {
		s.logger.Error().Err(err).
			Str("action", string(action)).
			Msg("failed to log audit entry")
	}
}

// Log records an audit entry directly (for non-event-bus actions).
func (s *Service) Log(ctx context.Context, entry *models.AuditLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	if entry.Details == nil {
		entry.Details = make(map[string]any)
	}

	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return err
	}

	s.logger.Debug().
		Str("action", string(entry.Action)).
		Str("id", entry.ID).
		Msg("audit entry logged")

	return nil
}

// QueryFilters defines filters for querying audit logs.
type QueryFilters struct {
	UserID    *string
	KitchenID *string
	Action    *models.AuditAction
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int
	Offset    int
}

// Query retrieves audit logs with filters.
func (s *Service) Query(ctx context.Context, filters QueryFilters) ([]models.AuditLog, int64, error) {
	var logs []models.AuditLog
	var total int64

	query := s.db.WithContext(ctx).Model(&models.AuditLog{})

	if filters.UserID != nil {
		query = query.Where("user_id = ?", *filters.UserID)
	}
	if filters.KitchenID != nil {
		query = query.Where("kitchen_id = ?", *filters.KitchenID)
	}
	if filters.Action != nil {
		query = query.Where("action = ?", *filters.Action)
	}
	if filters.StartTime != nil {
		query = query.Where("timestamp >= ?", *filters.StartTime)
	}
	if filters.EndTime != nil {
		query = query.Where("timestamp <= ?", *filters.EndTime)
	}

	// Count total
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	// Apply pagination
	if filters.Limit > 0 {
		query = query.Limit(filters.Limit)
	} else {
		query = query.Limit(100) // Default limit
	}
	if filters.Offset > 0 {
		query = query.Offset(filters.Offset)
	}

	// Order by timestamp descending (most recent first)
	if err := query.Order("timestamp DESC").Find(&logs).Error; err != nil {
		return nil, 0, err
	}

	return logs, total, nil
}
