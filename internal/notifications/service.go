/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package notifications

import (
	"context"
	"fmt"
	"net/smtp"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/andhrimnir_kitchen/internal/events"
	"github.com/friendsincode/andhrimnir_kitchen/internal/models"
)

// Config holds notification service configuration.
type Config struct {
	// SMTP settings
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	SMTPFromName string

	// Reminder settings
	ReminderCheckInterval time.Duration
}

// ConfigFromEnv loads configuration from environment variables.
func ConfigFromEnv() Config {
	port, _ := strconv.Atoi(getEnv("ANDHRIMNIR_SMTP_PORT", "587"))
	interval, _ := time.ParseDuration(getEnv("ANDHRIMNIR_REMINDER_CHECK_INTERVAL", "1m"))

	return Config{
		SMTPHost:              getEnv("ANDHRIMNIR_SMTP_HOST", ""),
		SMTPPort:              port,
		SMTPUsername:          getEnv("ANDHRIMNIR_SMTP_USERNAME", ""),
		SMTPPassword:          getEnv("ANDHRIMNIR_SMTP_PASSWORD", ""),
		SMTPFrom:              getEnv("ANDHRIMNIR_SMTP_FROM", "noreply@example.com"),
		SMTPFromName:          getEnv("ANDHRIMNIR_SMTP_FROM_NAME", "Andhrimnir Kitchen"),
		ReminderCheckInterval: interval,
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Service handles notification delivery and reminder scheduling.
type Service struct {
	db     *gorm.DB
	bus    *events.Bus
	config Config
	logger zerolog.Logger

	mu      sync.RWMutex
	running bool
}

// NewService creates a new notification service.
func NewService(db *gorm.DB, bus *events.Bus, config Config, logger zerolog.Logger) *Service {
	return &Service{
		db:     db,
		bus:    bus,
		config: config,
		logger: logger.With().Str("component", "notifications").Logger(),
	}
}

// Start begins the notification service, subscribing to events and running the reminder scheduler.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	s.logger.Info().Msg("notification service starting")

	// Subscribe to relevant events
	planComputed := s.bus.Subscribe(events.EventPlanComputed)
	mealCancelled := s.bus.Subscribe(events.EventMealCancelled)

	defer func() {
		s.bus.Unsubscribe(events.EventPlanComputed, planComputed)
		s.bus.Unsubscribe(events.EventMealCancelled, mealCancelled)
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	// Start reminder scheduler
	reminderTicker := time.NewTicker(s.config.ReminderCheckInterval)
	defer reminderTicker.Stop()

	s.logger.Info().Msg("notification service started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("notification service stopping")
			return

		case payload := <-planComputed:
			s.handlePlanComputed(ctx, payload)

		case payload := <-mealCancelled:
			s.handleMealCancelled(ctx, payload)

		case <-reminderTicker.C:
			s.processReminders(ctx)
		}
	}
}

// handlePlanComputed notifies the meal plan owner when a timeline lands,
// and separately when it carries unresolved conflicts.
func (s *Service) handlePlanComputed(ctx context.Context, payload events.Payload) {
	planID, _ := payload["plan_id"].(string)
	if planID == "" {
		return
	}

	owner, mealPlan, instanceID := s.ownerForPlanRecord(planID)
	if owner == nil {
		// Ad-hoc plans have no meal instance and nobody subscribed.
		return
	}

	status, _ := payload["status"].(string)

	s.notifyPrefs(ctx, owner, models.NotificationTypePlanPublished, &models.Notification{
		Subject: fmt.Sprintf("Timeline ready: %s", mealPlan.Name),
		Body: fmt.Sprintf("A cooking timeline for '%s' has been computed (%s).",
			mealPlan.Name, status),
		ReferenceType: "meal_instance",
		ReferenceID:   instanceID,
		Metadata:      map[string]any{"plan_id": planID, "status": status},
	})

	if status != string(models.PlanPartial) {
		return
	}

	conflicts, _ := payload["conflicts"].(int)
	excluded, _ := payload["excluded"].(int)

	s.notifyPrefs(ctx, owner, models.NotificationTypePlanConflict, &models.Notification{
		Subject: fmt.Sprintf("Plan needs attention: %s", mealPlan.Name),
		Body: fmt.Sprintf("The timeline for '%s' is partial: %d conflicts, %d recipes excluded. Review the plan and adjust the menu or equipment.",
			mealPlan.Name, conflicts, excluded),
		ReferenceType: "plan_record",
		ReferenceID:   planID,
		Metadata:      map[string]any{"conflicts": conflicts, "excluded": excluded},
	})
}

// handleMealCancelled notifies the owner when a materialized meal is cancelled.
func (s *Service) handleMealCancelled(ctx context.Context, payload events.Payload) {
	instanceID, _ := payload["instance_id"].(string)
	if instanceID == "" {
		return
	}

	var instance models.MealInstance
	if err := s.db.Preload("MealPlan.Owner").First(&instance, "id = ?", instanceID).Error; err != nil {
		return
	}
	if instance.MealPlan == nil || instance.MealPlan.Owner == nil {
		return
	}

	note, _ := payload["note"].(string)
	body := fmt.Sprintf("'%s' on %s at %s has been cancelled.",
		instance.MealPlan.Name,
		instance.ServesAt.Format("Monday, January 2"),
		instance.ServesAt.Format("3:04 PM"))
	if note != "" {
		body += fmt.Sprintf("\n\nNote: %s", note)
	}

	s.notifyPrefs(ctx, instance.MealPlan.Owner, models.NotificationTypeMealCancelled, &models.Notification{
		Subject:       fmt.Sprintf("Meal cancelled: %s", instance.MealPlan.Name),
		Body:          body,
		ReferenceType: "meal_instance",
		ReferenceID:   instance.ID,
		Metadata:      map[string]any{"serves_at": instance.ServesAt, "note": note},
	})
}

// processReminders checks planned meals and reminds owners before the
// first step of the timeline must start.
func (s *Service) processReminders(ctx context.Context) {
	now := time.Now()

	// Planned instances serving within two days cover any sane
	// reminder window; make-ahead steps start at most a night early.
	var instances []models.MealInstance
	s.db.Where("serves_at > ? AND serves_at < ?", now, now.Add(48*time.Hour)).
		Where("status = ?", models.MealInstancePlanned).
		Where("plan_record_id IS NOT NULL").
		Preload("MealPlan.Owner").
		Preload("Plan").
		Find(&instances)

	for _, instance := range instances {
		if instance.MealPlan == nil || instance.MealPlan.Owner == nil || instance.Plan == nil {
			continue
		}

		cookStart, ok := firstEntryStart(instance.Plan)
		if !ok {
			continue
		}

		// Get owner's reminder preferences
		var prefs []models.NotificationPreference
		s.db.Where("user_id = ? AND notification_type = ? AND enabled = ?",
			*instance.MealPlan.OwnerUserID, models.NotificationTypeMealReminder, true).
			Find(&prefs)

		for _, pref := range prefs {
			// Get reminder minutes from config (default to 60)
			reminderMinutes := 60
			if rm, ok := pref.Config["reminder_minutes"].(float64); ok {
				reminderMinutes = int(rm)
			}

			// Check if it's time to send this reminder
			reminderTime := cookStart.Add(-time.Duration(reminderMinutes) * time.Minute)
			if now.Before(reminderTime) || now.After(reminderTime.Add(s.config.ReminderCheckInterval)) {
				continue
			}

			// Check if we already sent this reminder
			var existingCount int64
			s.db.Model(&models.Notification{}).
				Where("user_id = ? AND reference_type = ? AND reference_id = ? AND channel = ? AND notification_type = ?",
					*instance.MealPlan.OwnerUserID, "meal_instance", instance.ID, pref.Channel, models.NotificationTypeMealReminder).
				Count(&existingCount)

			if existingCount > 0 {
				continue
			}

			// Create reminder notification
			notification := &models.Notification{
				ID:               uuid.NewString(),
				UserID:           *instance.MealPlan.OwnerUserID,
				NotificationType: models.NotificationTypeMealReminder,
				Channel:          pref.Channel,
				Subject:          fmt.Sprintf("Time to start cooking: %s", instance.MealPlan.Name),
				Body: fmt.Sprintf("The first step for '%s' starts in %d minutes at %s. Serving at %s.",
					instance.MealPlan.Name, reminderMinutes,
					cookStart.Format("3:04 PM"), instance.ServesAt.Format("3:04 PM")),
				Status:        models.NotificationStatusPending,
				ReferenceType: "meal_instance",
				ReferenceID:   instance.ID,
				Metadata: map[string]any{
					"meal_plan_name":   instance.MealPlan.Name,
					"cook_start":       cookStart,
					"serves_at":        instance.ServesAt,
					"reminder_minutes": reminderMinutes,
				},
				CreatedAt: time.Now(),
			}

			s.Send(ctx, notification, instance.MealPlan.Owner)
		}
	}
}

// firstEntryStart pulls the earliest step start out of a stored timeline
// document.
func firstEntryStart(record *models.PlanRecord) (time.Time, bool) {
	entries, ok := record.Timeline["entries"].([]any)
	if !ok || len(entries) == 0 {
		return time.Time{}, false
	}
	first, ok := entries[0].(map[string]any)
	if !ok {
		return time.Time{}, false
	}
	raw, ok := first["starts_at"].(string)
	if !ok {
		return time.Time{}, false
	}
	start, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return start, true
}

// ownerForPlanRecord resolves a plan record to the owning user through
// its meal instance. Returns nils for ad-hoc plans.
func (s *Service) ownerForPlanRecord(planID string) (*models.User, *models.MealPlan, string) {
	var record models.PlanRecord
	if err := s.db.First(&record, "id = ?", planID).Error; err != nil {
		return nil, nil, ""
	}
	if record.MealInstanceID == nil {
		return nil, nil, ""
	}

	var instance models.MealInstance
	if err := s.db.Preload("MealPlan.Owner").First(&instance, "id = ?", *record.MealInstanceID).Error; err != nil {
		return nil, nil, ""
	}
	if instance.MealPlan == nil || instance.MealPlan.Owner == nil {
		return nil, nil, ""
	}
	return instance.MealPlan.Owner, instance.MealPlan, instance.ID
}

// notifyPrefs fans one notification out to every enabled channel the
// user configured for the type.
func (s *Service) notifyPrefs(ctx context.Context, user *models.User, notificationType models.NotificationType, template *models.Notification) {
	var prefs []models.NotificationPreference
	s.db.Where("user_id = ? AND notification_type = ? AND enabled = ?",
		user.ID, notificationType, true).
		Find(&prefs)

	for _, pref := range prefs {
		notification := &models.Notification{
			ID:               uuid.NewString(),
			UserID:           user.ID,
			NotificationType: notificationType,
			Channel:          pref.Channel,
			Subject:          template.Subject,
			Body:             template.Body,
			Status:           models.NotificationStatusPending,
			ReferenceType:    template.ReferenceType,
			ReferenceID:      template.ReferenceID,
			Metadata:         template.Metadata,
			CreatedAt:        time.Now(),
		}

		s.Send(ctx, notification, user)
	}
}

// Send delivers a notification via the configured channel.
func (s *Service) Send(ctx context.Context, notification *models.Notification, user *models.User) error {
	if notification.ID == "" {
		notification.ID = uuid.NewString()
	}
	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = time.Now()
	}

	// Save notification first
	if err := s.db.WithContext(ctx).Create(notification).Error; err != nil {
		s.logger.Error().Err(err).Str("id", notification.ID).Msg("failed to save notification")
		return err
	}

	// Deliver based on channel
	var err error
	switch notification.Channel {
	case models.NotificationChannelEmail:
		err = s.sendEmail(ctx, notification, user)
	case models.NotificationChannelInApp:
		// In-app notifications are already stored, mark as sent
		notification.Status = models.NotificationStatusSent
		now := time.Now()
		notification.SentAt = &now
	default:
		err = fmt.Errorf("unknown notification channel: %s", notification.Channel)
	}

	if err != nil {
		notification.Status = models.NotificationStatusFailed
		notification.Error = err.Error()
		s.logger.Error().Err(err).
			Str("id", notification.ID).
			Str("channel", string(notification.Channel)).
			Msg("failed to send notification")
	}

	// Update notification status
	s.db.WithContext(ctx).Model(notification).Updates(map[string]any{
		"status":  notification.Status,
		"sent_at": notification.SentAt,
		"error":   notification.Error,
	})

	return err
}

// sendEmail sends an email notification.
func (s *Service) sendEmail(ctx context.Context, notification *models.Notification, user *models.User) error {
	if s.config.SMTPHost == "" {
		return fmt.Errorf("SMTP not configured")
	}

	if user == nil || user.Email == "" {
		return fmt.Errorf("user has no email address")
	}

	// Build email
	from := s.config.SMTPFrom
	if s.config.SMTPFromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.SMTPFromName, s.config.SMTPFrom)
	}

	msg := strings.Builder{}
	msg.WriteString(fmt.Sprintf("From: %s\r\n", from))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", user.Email))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", notification.Subject))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(notification.Body)

	// Send via SMTP
	addr := fmt.Sprintf("%s:%d", s.config.SMTPHost, s.config.SMTPPort)
	var auth smtp.Auth
	if s.config.SMTPUsername != "" {
		auth = smtp.PlainAuth("", s.config.SMTPUsername, s.config.SMTPPassword, s.config.SMTPHost)
	}

	err := smtp.SendMail(addr, auth, s.config.SMTPFrom, []string{user.Email}, []byte(msg.String()))
	if err != nil {
		return fmt.Errorf("SMTP send failed: %w", err)
	}

	notification.Status = models.NotificationStatusSent
	now := time.Now()
	notification.SentAt = &now

	s.logger.Info().
		Str("id", notification.ID).
		Str("to", user.Email).
		Str("subject", notification.Subject).
		Msg("email notification sent")

	return nil
}

// GetUserNotifications retrieves notifications for a user.
func (s *Service) GetUserNotifications(ctx context.Context, userID string, unreadOnly bool, limit, offset int) ([]models.Notification, int64, error) {
	var notifications []models.Notification
	var total int64

	query := s.db.WithContext(ctx).Model(&models.Notification{}).Where("user_id = ?", userID)

	if unreadOnly {
		query = query.Where("status != ?", models.NotificationStatusRead)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if limit <= 0 {
		limit = 50
	}

	if err := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&notifications).Error; err != nil {
		return nil, 0, err
	}

	return notifications, total, nil
}

// MarkAsRead marks a notification as read.
func (s *Service) MarkAsRead(ctx context.Context, notificationID, userID string) error {
	now := time.Now()
	result := s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("id = ? AND user_id = ?", notificationID, userID).
		Updates(map[string]any{
			"status":  models.NotificationStatusRead,
			"read_at": now,
		})

	if result.RowsAffected == 0 {
		return fmt.Errorf("notification not found")
	}

	return result.Error
}

// MarkAllAsRead marks all notifications as read for a user.
func (s *Service) MarkAllAsRead(ctx context.Context, userID string) error {
	now := time.Now()
	return s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("user_id = ? AND status != ?", userID, models.NotificationStatusRead).
		Updates(map[string]any{
			"status":  models.NotificationStatusRead,
			"read_at": now,
		}).Error
}

// GetUnreadCount returns the count of unread notifications for a user.
func (s *Service) GetUnreadCount(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("user_id = ? AND status != ?", userID, models.NotificationStatusRead).
		Where("channel = ?", models.NotificationChannelInApp).
		Count(&count).Error
	return count, err
}

// CreateDefaultPreferences creates default notification preferences for a new user.
func (s *Service) CreateDefaultPreferences(ctx context.Context, userID string) error {
	prefs := models.DefaultNotificationPreferences(userID)
	for i := range prefs {
		prefs[i].ID = uuid.NewString()
	}
	return s.db.WithContext(ctx).Create(&prefs).Error
}

// GetUserPreferences retrieves notification preferences for a user.
func (s *Service) GetUserPreferences(ctx context.Context, userID string) ([]models.NotificationPreference, error) {
	var prefs []models.NotificationPreference
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Find(&prefs).Error
	return prefs, err
}

// UpdatePreference updates a notification preference.
func (s *Service) UpdatePreference(ctx context.Context, prefID, userID string, enabled bool, config map[string]any) error {
	updates := map[string]any{"enabled": enabled}
	if config != nil {
		updates["config"] = config
	}

	result := s.db.WithContext(ctx).Model(&models.NotificationPreference{}).
		Where("id = ? AND user_id = ?", prefID, userID).
		Updates(updates)

	if result.RowsAffected == 0 {
		return fmt.Errorf("preference not found")
	}

	return result.Error
}
