/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/andhrimnir_kitchen/internal/events"
	"github.com/friendsincode/andhrimnir_kitchen/internal/models"
	"github.com/friendsincode/andhrimnir_kitchen/internal/telemetry"
)

// WebhookPayload is the payload sent to webhook endpoints.
type WebhookPayload struct {
	Event     string           `json:"event"`
	Timestamp time.Time        `json:"timestamp"`
	KitchenID string           `json:"kitchen_id"`
	Plan      *PlanPayload     `json:"plan,omitempty"`
	Conflict  *ConflictPayload `json:"conflict,omitempty"`
	Meal      *MealPayload     `json:"meal,omitempty"`
}

// PlanPayload summarizes a computed timeline in the webhook payload.
type PlanPayload struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	MealTime  time.Time `json:"meal_time,omitempty"`
	Entries   int       `json:"entries"`
	Conflicts int       `json:"conflicts"`
	Excluded  int       `json:"excluded"`
}

// ConflictPayload describes one unresolved conflict.
type ConflictPayload struct {
	PlanID      string `json:"plan_id"`
	StepGroupID string `json:"step_group_id"`
	RecipeName  string `json:"recipe_name,omitempty"`
	Type        string `json:"type"`
	Message     string `json:"message"`
}

// MealPayload describes an upcoming meal in the webhook payload.
type MealPayload struct {
	InstanceID   string    `json:"instance_id"`
	MealPlanName string    `json:"meal_plan_name,omitempty"`
	ServesAt     time.Time `json:"serves_at"`
}

// Service handles webhook delivery.
type Service struct {
	db     *gorm.DB
	bus    *events.Bus
	logger zerolog.Logger
	client *http.Client
}

// NewService creates a new webhook service.
func NewService(db *gorm.DB, bus *events.Bus, logger zerolog.Logger) *Service {
	return &Service{
		db:     db,
		bus:    bus,
		logger: logger.With().Str("component", "webhooks").Logger(),
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Start begins listening for events to trigger webhooks.
func (s *Service) Start(ctx context.Context) {
	s.logger.Info().Msg("webhook service starting")

	// Subscribe to planning events
	planComputed := s.bus.Subscribe(events.EventPlanComputed)
	planConflict := s.bus.Subscribe(events.EventPlanConflict)

	defer func() {
		s.bus.Unsubscribe(events.EventPlanComputed, planComputed)
		s.bus.Unsubscribe(events.EventPlanConflict, planConflict)
	}()

	// Start the upcoming meal checker in a goroutine
	go s.runUpcomingChecker(ctx)

	s.logger.Info().Msg("webhook service started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("webhook service stopping")
			return

		case payload := <-planComputed:
			s.handlePlanComputed(ctx, payload)

		case payload := <-planConflict:
			s.handlePlanConflict(ctx, payload)
		}
	}
}

// runUpcomingChecker announces meals entering the upcoming window every
// 30 seconds.
func (s *Service) runUpcomingChecker(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	// Track instances already announced
	announced := make(map[string]time.Time) // instanceID -> servesAt

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.checkUpcoming(ctx, announced)
		}
	}
}

// checkUpcoming fires meal_upcoming webhooks for meals serving within
// the next hour.
func (s *Service) checkUpcoming(ctx context.Context, announced map[string]time.Time) {
	now := time.Now()

	// Forget meals whose serving time has passed
	for id, servesAt := range announced {
		if servesAt.Before(now) {
			delete(announced, id)
		}
	}

	var instances []models.MealInstance
	err := s.db.Where("serves_at > ? AND serves_at <= ?", now, now.Add(time.Hour)).
		Where("status IN ?", []models.MealInstanceStatus{models.MealInstanceScheduled, models.MealInstancePlanned}).
		Preload("MealPlan").
		Find(&instances).Error
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to fetch upcoming meals")
		return
	}

	for _, instance := range instances {
		if _, seen := announced[instance.ID]; seen {
			continue
		}
		announced[instance.ID] = instance.ServesAt

		mealPlanName := ""
		if instance.MealPlan != nil {
			mealPlanName = instance.MealPlan.Name
		}

		s.bus.Publish(events.EventMealUpcoming, events.Payload{
			"instance_id":    instance.ID,
			"kitchen_id":     instance.KitchenID,
			"meal_plan_name": mealPlanName,
			"serves_at":      instance.ServesAt,
		})

		payload := WebhookPayload{
			Event:     string(models.WebhookEventMealUpcoming),
			Timestamp: now.UTC(),
			KitchenID: instance.KitchenID,
			Meal: &MealPayload{
				InstanceID:   instance.ID,
				MealPlanName: mealPlanName,
				ServesAt:     instance.ServesAt,
			},
		}
		s.fireWebhooks(ctx, instance.KitchenID, string(models.WebhookEventMealUpcoming), payload)
	}
}

// handlePlanComputed fires plan_computed webhooks.
func (s *Service) handlePlanComputed(ctx context.Context, payload events.Payload) {
	kitchenID, ok := payload["kitchen_id"].(string)
	if !ok {
		return
	}

	planID, _ := payload["plan_id"].(string)
	status, _ := payload["status"].(string)
	entries, _ := payload["entries"].(int)
	conflicts, _ := payload["conflicts"].(int)
	excluded, _ := payload["excluded"].(int)
	mealTime, _ := payload["meal_time"].(time.Time)

	hook := WebhookPayload{
		Event:     string(models.WebhookEventPlanComputed),
		Timestamp: time.Now().UTC(),
		KitchenID: kitchenID,
		Plan: &PlanPayload{
			ID:        planID,
			Status:    status,
			MealTime:  mealTime,
			Entries:   entries,
			Conflicts: conflicts,
			Excluded:  excluded,
		},
	}

	s.fireWebhooks(ctx, kitchenID, string(models.WebhookEventPlanComputed), hook)
}

// handlePlanConflict fires plan_conflict webhooks.
func (s *Service) handlePlanConflict(ctx context.Context, payload events.Payload) {
	kitchenID, ok := payload["kitchen_id"].(string)
	if !ok {
		return
	}

	planID, _ := payload["plan_id"].(string)
	stepGroupID, _ := payload["step_group_id"].(string)
	recipeName, _ := payload["recipe_name"].(string)
	conflictType, _ := payload["type"].(string)
	message, _ := payload["message"].(string)

	hook := WebhookPayload{
		Event:     string(models.WebhookEventPlanConflict),
		Timestamp: time.Now().UTC(),
		KitchenID: kitchenID,
		Conflict: &ConflictPayload{
			PlanID:      planID,
			StepGroupID: stepGroupID,
			RecipeName:  recipeName,
			Type:        conflictType,
			Message:     message,
		},
	}

	s.fireWebhooks(ctx, kitchenID, string(models.WebhookEventPlanConflict), hook)
}

// fireWebhooks sends webhooks for a given event.
func (s *Service) fireWebhooks(ctx context.Context, kitchenID, eventType string, payload WebhookPayload) {
	// Get active webhooks for this kitchen and event
	var webhooks []models.WebhookTarget
	if err := s.db.Where("kitchen_id = ? AND active = ?", kitchenID, true).Find(&webhooks).Error; err != nil {
		s.logger.Error().Err(err).Str("kitchen", kitchenID).Msg("failed to fetch webhooks")
		return
	}

	for _, webhook := range webhooks {
		// Check if webhook is subscribed to this event
		if !s.webhookHandlesEvent(webhook, eventType) {
			continue
		}

		go s.sendWebhook(ctx, webhook, eventType, payload)
	}
}

// webhookHandlesEvent checks if a webhook is subscribed to an event type.
func (s *Service) webhookHandlesEvent(webhook models.WebhookTarget, eventType string) bool {
	if webhook.Events == "" {
		return true // Default: handle all events
	}
	for _, e := range strings.Split(webhook.Events, ",") {
		if strings.TrimSpace(e) == eventType {
			return true
		}
	}
	return false
}

// sendWebhook sends a single webhook request.
func (s *Service) sendWebhook(ctx context.Context, webhook models.WebhookTarget, eventType string, payload WebhookPayload) {
	body, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error().Err(err).Str("webhook", webhook.ID).Msg("failed to marshal webhook payload")
		return
	}

	started := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhook.URL, bytes.NewReader(body))
	if err != nil {
		s.logger.Error().Err(err).Str("webhook", webhook.ID).Msg("failed to create webhook request")
		s.logWebhookDelivery(webhook, eventType, string(body), http.StatusInternalServerError, err.Error(), time.Since(started))
		return
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Andhrimnir-Kitchen-Webhook/1.0")
	req.Header.Set("X-Andhrimnir-Event", eventType)
	req.Header.Set("X-Andhrimnir-Timestamp", fmt.Sprintf("%d", time.Now().Unix()))

	// Add HMAC signature if secret is configured
	if webhook.Secret != "" {
		sig := s.signPayload(body, webhook.Secret)
		req.Header.Set("X-Andhrimnir-Signature", sig)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Error().Err(err).Str("webhook", webhook.ID).Str("url", webhook.URL).Msg("webhook delivery failed")
		telemetry.WebhookDeliveriesTotal.WithLabelValues("failed").Inc()
		s.logWebhookDelivery(webhook, eventType, string(body), 0, err.Error(), time.Since(started))
		return
	}
	defer resp.Body.Close()

	s.logWebhookDelivery(webhook, eventType, string(body), resp.StatusCode, "", time.Since(started))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		telemetry.WebhookDeliveriesTotal.WithLabelValues("success").Inc()
		s.logger.Debug().Str("webhook", webhook.ID).Str("event", eventType).Int("status", resp.StatusCode).Msg("webhook delivered")
	} else {
		telemetry.WebhookDeliveriesTotal.WithLabelValues("error").Inc()
		s.logger.Warn().Str("webhook", webhook.ID).Str("event", eventType).Int("status", resp.StatusCode).Msg("webhook returned error status")
	}
}

// signPayload creates an HMAC-SHA256 signature.
func (s *Service) signPayload(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}

// logWebhookDelivery logs a webhook delivery attempt.
func (s *Service) logWebhookDelivery(webhook models.WebhookTarget, eventType, payload string, statusCode int, errorMsg string, took time.Duration) {
	log := &models.WebhookLog{
		ID:         uuid.NewString(),
		TargetID:   webhook.ID,
		Event:      eventType,
		Payload:    payload,
		StatusCode: statusCode,
		Error:      errorMsg,
		Duration:   int(took.Milliseconds()),
	}

	if err := s.db.Create(log).Error; err != nil {
		s.logger.Error().Err(err).Msg("failed to log webhook delivery")
	}
}

// TestWebhook sends a test payload to a webhook.
func (s *Service) TestWebhook(webhook *models.WebhookTarget) error {
	payload := WebhookPayload{
		Event:     "test",
		Timestamp: time.Now().UTC(),
		KitchenID: webhook.KitchenID,
		Plan: &PlanPayload{
			ID:        "test-plan-id",
			Status:    "complete",
			MealTime:  time.Now().Add(4 * time.Hour),
			Entries:   3,
			Conflicts: 0,
			Excluded:  0,
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, webhook.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Andhrimnir-Kitchen-Webhook/1.0")
	req.Header.Set("X-Andhrimnir-Event", "test")
	req.Header.Set("X-Andhrimnir-Timestamp", fmt.Sprintf("%d", time.Now().Unix()))

	if webhook.Secret != "" {
		sig := s.signPayload(body, webhook.Secret)
		req.Header.Set("X-Andhrimnir-Signature", sig)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}
