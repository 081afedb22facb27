/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	ws "nhooyr.io/websocket"

	"github.com/friendsincode/andhrimnir_kitchen/internal/audit"
	"github.com/friendsincode/andhrimnir_kitchen/internal/auth"
	"github.com/friendsincode/andhrimnir_kitchen/internal/events"
	"github.com/friendsincode/andhrimnir_kitchen/internal/integrity"
	"github.com/friendsincode/andhrimnir_kitchen/internal/logbuffer"
	"github.com/friendsincode/andhrimnir_kitchen/internal/models"
	"github.com/friendsincode/andhrimnir_kitchen/internal/scheduler"
	"github.com/friendsincode/andhrimnir_kitchen/internal/telemetry"
	"github.com/friendsincode/andhrimnir_kitchen/internal/version"
)

// API exposes HTTP handlers.
type API struct {
	db               *gorm.DB
	jwtSecret        []byte
	scheduler        *scheduler.Service
	integritySvc     *integrity.Service
	auditSvc         *audit.Service
	versionChecker   *version.Checker
	notificationAPI  *NotificationAPI
	webhookAPI       *WebhookAPI
	planAnalyticsAPI *PlanAnalyticsAPI
	mealExportAPI    *MealExportAPI
	bus              *events.Bus
	logBuffer        *logbuffer.Buffer
	logger           zerolog.Logger
}

// New creates the API router wrapper.
func New(db *gorm.DB, jwtSecret []byte, scheduler *scheduler.Service, integritySvc *integrity.Service, auditSvc *audit.Service, versionChecker *version.Checker, bus *events.Bus, logBuf *logbuffer.Buffer, logger zerolog.Logger) *API {
	return &API{
		db:             db,
		jwtSecret:      jwtSecret,
		scheduler:      scheduler,
		integritySvc:   integritySvc,
		auditSvc:       auditSvc,
		versionChecker: versionChecker,
		bus:            bus,
		logBuffer:      logBuf,
		logger:         logger,
	}
}

// SetNotificationAPI sets the notification API handler.
func (a *API) SetNotificationAPI(notifAPI *NotificationAPI) {
	a.notificationAPI = notifAPI
}

// SetWebhookAPI sets the webhook API handler.
func (a *API) SetWebhookAPI(webhookAPI *WebhookAPI) {
	a.webhookAPI = webhookAPI
}

// SetPlanAnalyticsAPI sets the plan analytics API handler.
func (a *API) SetPlanAnalyticsAPI(api *PlanAnalyticsAPI) {
	a.planAnalyticsAPI = api
}

// SetMealExportAPI sets the meal calendar import/export API handler.
func (a *API) SetMealExportAPI(api *MealExportAPI) {
	a.mealExportAPI = api
}

type kitchenRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Timezone    string `json:"timezone"`
	Burners     int    `json:"burners"`
	Public      *bool  `json:"public"`
}

type ovenRequest struct {
	Name            string `json:"name"`
	Racks           int    `json:"racks"`
	RackPositions   int    `json:"rack_positions"`
	MaxTemperatureF int    `json:"max_temperature_f"`
}

// Routes mounts API routes on provided router.
func (a *API) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", a.handleHealth)

		// Public endpoints (no auth required)
		r.Post("/auth/login", a.handleLogin)

		// Public meal calendar for kitchens marked public
		a.AddPublicMealRoutes(r)

		r.Group(func(pr chi.Router) {
			pr.Use(a.authMiddleware())

			pr.Get("/auth/me", a.handleMe)

			// User management (admin only)
			pr.Route("/users", func(r chi.Router) {
				r.Use(a.requireRoles(models.RoleAdmin))
				r.Get("/", a.handleUsersList)
				r.Post("/", a.handleUsersCreate)
				r.Patch("/{userID}/role", a.handleUserRoleUpdate)
				r.Delete("/{userID}", a.handleUsersDelete)
			})

			// API keys are scoped to the calling user
			pr.Route("/apikeys", func(r chi.Router) {
				r.Get("/", a.handleAPIKeysList)
				r.Post("/", a.handleAPIKeysCreate)
				r.Post("/{keyID}/revoke", a.handleAPIKeyRevoke)
				r.Delete("/{keyID}", a.handleAPIKeyDelete)
			})

			pr.Route("/kitchens", func(r chi.Router) {
				r.Get("/", a.handleKitchensList)
				r.With(a.requireRoles(models.RoleAdmin, models.RolePlanner)).Post("/", a.handleKitchensCreate)
				r.Route("/{kitchenID}", func(r chi.Router) {
					r.Get("/", a.handleKitchensGet)
					r.With(a.requireRoles(models.RoleAdmin, models.RolePlanner)).Patch("/", a.handleKitchensUpdate)
					r.With(a.requireRoles(models.RoleAdmin)).Delete("/", a.handleKitchensDelete)
					r.Route("/ovens", func(r chi.Router) {
						r.Get("/", a.handleOvensList)
						r.With(a.requireRoles(models.RoleAdmin, models.RolePlanner)).Post("/", a.handleOvensCreate)
						r.With(a.requireRoles(models.RoleAdmin, models.RolePlanner)).Delete("/{ovenID}", a.handleOvensDelete)
					})
					// Kitchen logs (accessible to all roles)
					r.Route("/logs", func(lr chi.Router) {
						lr.Get("/", a.handleKitchenLogs)
						lr.Get("/components", a.handleKitchenLogComponents)
						lr.Get("/stats", a.handleKitchenLogStats)
					})

					// Kitchen audit trail (admin/planner only)
					r.With(a.requireRoles(models.RoleAdmin, models.RolePlanner)).Get("/audit", a.handleKitchenAuditList)
				})
			})

			pr.Route("/recipes", func(r chi.Router) {
				r.Get("/", a.handleRecipesList)
				r.With(a.requireRoles(models.RoleAdmin, models.RolePlanner)).Post("/", a.handleRecipesCreate)
				r.Route("/{recipeID}", func(r chi.Router) {
					r.Get("/", a.handleRecipesGet)
					r.With(a.requireRoles(models.RoleAdmin, models.RolePlanner)).Put("/", a.handleRecipesUpdate)
					r.With(a.requireRoles(models.RoleAdmin, models.RolePlanner)).Delete("/", a.handleRecipesDelete)
				})
			})

			// Ad-hoc plan computation
			pr.With(a.requireRoles(models.RoleAdmin, models.RolePlanner)).Post("/plan", a.handlePlanCompute)

			pr.Route("/plans", func(r chi.Router) {
				r.Get("/", a.handlePlansList)
				r.With(a.requireRoles(models.RoleAdmin)).Get("/recent", a.handlePlansRecentRuns)
				r.Route("/{planID}", func(r chi.Router) {
					r.Get("/", a.handlePlansGet)
					r.Get("/export", a.handlePlanExport)
				})
			})

			pr.Route("/mealplans", func(r chi.Router) {
				r.Get("/", a.handleMealPlansList)
				r.With(a.requireRoles(models.RoleAdmin, models.RolePlanner)).Post("/", a.handleMealPlansCreate)
				r.Route("/{mealPlanID}", func(r chi.Router) {
					r.Get("/", a.handleMealPlansGet)
					r.With(a.requireRoles(models.RoleAdmin, models.RolePlanner)).Patch("/", a.handleMealPlansUpdate)
					r.With(a.requireRoles(models.RoleAdmin, models.RolePlanner)).Delete("/", a.handleMealPlansDelete)
					r.With(a.requireRoles(models.RoleAdmin, models.RolePlanner)).Post("/materialize", a.handleMealPlanMaterialize)
					r.Get("/instances", a.handleMealPlanInstances)
				})
			})

			pr.Route("/meals", func(r chi.Router) {
				r.Get("/upcoming", a.handleMealsUpcoming)
				r.Route("/{instanceID}", func(r chi.Router) {
					r.Get("/", a.handleMealsGet)
					r.With(a.requireRoles(models.RoleAdmin, models.RolePlanner)).Patch("/", a.handleMealsReschedule)
					r.With(a.requireRoles(models.RoleAdmin, models.RolePlanner)).Post("/plan", a.handleMealPlanForInstance)
					r.With(a.requireRoles(models.RoleAdmin, models.RolePlanner)).Post("/cancel", a.handleMealsCancel)
				})
			})

			// System status routes (admin only)
			pr.Route("/system", func(r chi.Router) {
				r.Use(a.requireRoles(models.RoleAdmin))
				r.Get("/status", a.handleSystemStatus)
				r.Get("/version", a.handleSystemVersion)
				r.Get("/logs", a.handleSystemLogs)
				r.Get("/logs/components", a.handleLogComponents)
				r.Get("/logs/stats", a.handleLogStats)
				r.Delete("/logs", a.handleClearLogs)
			})

			// Audit log routes (admin only)
			pr.Route("/audit", func(r chi.Router) {
				r.Use(a.requireRoles(models.RoleAdmin))
				r.Get("/", a.handleAuditList)
			})

			// Integrity scan and repair (admin only)
			pr.Route("/integrity", func(r chi.Router) {
				r.Use(a.requireRoles(models.RoleAdmin))
				r.Get("/report", a.handleIntegrityReport)
				r.Post("/repair", a.handleIntegrityRepair)
			})

			// Notifications
			if a.notificationAPI != nil {
				a.notificationAPI.RegisterRoutes(pr)
			}

			// Webhooks (kitchen planner+)
			if a.webhookAPI != nil {
				a.webhookAPI.RegisterRoutes(pr)
			}

			// Plan analytics (admin/planner)
			if a.planAnalyticsAPI != nil {
				pr.Group(func(ar chi.Router) {
					ar.Use(a.requireRoles(models.RoleAdmin, models.RolePlanner))
					a.planAnalyticsAPI.RegisterRoutes(ar)
				})
			}

			// Meal calendar import/export (admin/planner)
			if a.mealExportAPI != nil {
				pr.Group(func(er chi.Router) {
					er.Use(a.requireRoles(models.RoleAdmin, models.RolePlanner))
					a.mealExportAPI.RegisterRoutes(er)
				})
			}

			pr.Get("/events", a.handleEvents)
		})
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handleKitchensList(w http.ResponseWriter, r *http.Request) {
	var kitchens []models.Kitchen
	if err := a.db.WithContext(r.Context()).Preload("Ovens").Find(&kitchens).Error; err != nil {
		a.logger.Error().Err(err).Msg("list kitchens failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, kitchens)
}

func (a *API) handleKitchensCreate(w http.ResponseWriter, r *http.Request) {
	var req kitchenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name_required")
		return
	}

	if req.Timezone == "" {
		req.Timezone = "UTC"
	}
	if req.Burners < 0 {
		writeError(w, http.StatusBadRequest, "burners_invalid")
		return
	}

	kitchen := models.Kitchen{
		ID:          uuid.NewString(),
		Name:        req.Name,
		Description: req.Description,
		Timezone:    req.Timezone,
		Burners:     req.Burners,
	}
	if req.Public != nil {
		kitchen.Public = *req.Public
	}

	// Use transaction for kitchen + default oven creation
	tx := a.db.WithContext(r.Context()).Begin()

	if err := tx.Create(&kitchen).Error; err != nil {
		tx.Rollback()
		a.logger.Error().Err(err).Msg("create kitchen failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	// Auto-generate a default oven so new kitchens can plan baked steps
	oven := models.Oven{
		ID:              uuid.NewString(),
		KitchenID:       kitchen.ID,
		Name:            "Main Oven",
		Racks:           2,
		RackPositions:   4,
		MaxTemperatureF: 500,
	}

	if err := tx.Create(&oven).Error; err != nil {
		tx.Rollback()
		a.logger.Error().Err(err).Msg("create default oven failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	tx.Commit()

	a.logger.Info().
		Str("kitchen_id", kitchen.ID).
		Str("oven", oven.Name).
		Msg("kitchen created with default oven")

	// Publish audit event
	a.publishAuditEvent(r, events.EventAuditKitchenCreate, events.Payload{
		"kitchen_id":    kitchen.ID,
		"resource_type": "kitchen",
		"resource_id":   kitchen.ID,
		"name":          kitchen.Name,
	})
	a.bus.Publish(events.EventKitchenCreated, events.Payload{"kitchen_id": kitchen.ID})

	kitchen.Ovens = []models.Oven{oven}
	writeJSON(w, http.StatusCreated, kitchen)
}

func (a *API) handleKitchensGet(w http.ResponseWriter, r *http.Request) {
	kitchenID := chi.URLParam(r, "kitchenID")
	if kitchenID == "" {
		writeError(w, http.StatusBadRequest, "kitchen_id_required")
		return
	}

	var kitchen models.Kitchen
	result := a.db.WithContext(r.Context()).Preload("Ovens").First(&kitchen, "id = ?", kitchenID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if result.Error != nil {
		a.logger.Error().Err(result.Error).Msg("get kitchen failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	writeJSON(w, http.StatusOK, kitchen)
}

func (a *API) handleKitchensUpdate(w http.ResponseWriter, r *http.Request) {
	kitchenID := chi.URLParam(r, "kitchenID")

	var kitchen models.Kitchen
	result := a.db.WithContext(r.Context()).First(&kitchen, "id = ?", kitchenID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if result.Error != nil {
		a.logger.Error().Err(result.Error).Msg("get kitchen failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	var req kitchenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	if req.Name != "" {
		kitchen.Name = req.Name
	}
	if req.Description != "" {
		kitchen.Description = req.Description
	}
	if req.Timezone != "" {
		if _, err := time.LoadLocation(req.Timezone); err != nil {
			writeError(w, http.StatusBadRequest, "timezone_invalid")
			return
		}
		kitchen.Timezone = req.Timezone
	}
	if req.Burners > 0 {
		kitchen.Burners = req.Burners
	}
	if req.Public != nil {
		kitchen.Public = *req.Public
	}

	if err := a.db.WithContext(r.Context()).Save(&kitchen).Error; err != nil {
		a.logger.Error().Err(err).Msg("update kitchen failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	a.publishAuditEvent(r, events.EventAuditKitchenUpdate, events.Payload{
		"kitchen_id":    kitchen.ID,
		"resource_type": "kitchen",
		"resource_id":   kitchen.ID,
		"name":          kitchen.Name,
	})
	a.bus.Publish(events.EventKitchenUpdated, events.Payload{"kitchen_id": kitchen.ID})

	writeJSON(w, http.StatusOK, kitchen)
}

func (a *API) handleKitchensDelete(w http.ResponseWriter, r *http.Request) {
	kitchenID := chi.URLParam(r, "kitchenID")

	var kitchen models.Kitchen
	result := a.db.WithContext(r.Context()).First(&kitchen, "id = ?", kitchenID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if result.Error != nil {
		a.logger.Error().Err(result.Error).Msg("get kitchen failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	tx := a.db.WithContext(r.Context()).Begin()
	if err := tx.Where("kitchen_id = ?", kitchenID).Delete(&models.Oven{}).Error; err != nil {
		tx.Rollback()
		a.logger.Error().Err(err).Msg("delete kitchen ovens failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	if err := tx.Delete(&kitchen).Error; err != nil {
		tx.Rollback()
		a.logger.Error().Err(err).Msg("delete kitchen failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	tx.Commit()

	a.publishAuditEvent(r, events.EventAuditKitchenDelete, events.Payload{
		"kitchen_id":    kitchen.ID,
		"resource_type": "kitchen",
		"resource_id":   kitchen.ID,
		"name":          kitchen.Name,
	})
	a.bus.Publish(events.EventKitchenDeleted, events.Payload{"kitchen_id": kitchen.ID})

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (a *API) handleOvensList(w http.ResponseWriter, r *http.Request) {
	kitchenID := chi.URLParam(r, "kitchenID")
	if kitchenID == "" {
		writeError(w, http.StatusBadRequest, "kitchen_id_required")
		return
	}

	var ovens []models.Oven
	if err := a.db.WithContext(r.Context()).Where("kitchen_id = ?", kitchenID).Find(&ovens).Error; err != nil {
		a.logger.Error().Err(err).Msg("list ovens failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, ovens)
}

func (a *API) handleOvensCreate(w http.ResponseWriter, r *http.Request) {
	kitchenID := chi.URLParam(r, "kitchenID")

	var kitchen models.Kitchen
	result := a.db.WithContext(r.Context()).First(&kitchen, "id = ?", kitchenID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if result.Error != nil {
		a.logger.Error().Err(result.Error).Msg("get kitchen failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	var req ovenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name_required")
		return
	}
	if req.Racks <= 0 || req.RackPositions <= 0 {
		writeError(w, http.StatusBadRequest, "rack_geometry_invalid")
		return
	}

	if req.MaxTemperatureF == 0 {
		req.MaxTemperatureF = 500
	}

	oven := models.Oven{
		ID:              uuid.NewString(),
		KitchenID:       kitchenID,
		Name:            req.Name,
		Racks:           req.Racks,
		RackPositions:   req.RackPositions,
		MaxTemperatureF: req.MaxTemperatureF,
	}

	if err := a.db.WithContext(r.Context()).Create(&oven).Error; err != nil {
		a.logger.Error().Err(err).Msg("create oven failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	a.publishAuditEvent(r, events.EventAuditKitchenUpdate, events.Payload{
		"kitchen_id":    kitchenID,
		"resource_type": "oven",
		"resource_id":   oven.ID,
		"name":          oven.Name,
	})
	a.bus.Publish(events.EventKitchenUpdated, events.Payload{"kitchen_id": kitchenID})

	writeJSON(w, http.StatusCreated, oven)
}

func (a *API) handleOvensDelete(w http.ResponseWriter, r *http.Request) {
	kitchenID := chi.URLParam(r, "kitchenID")
	ovenID := chi.URLParam(r, "ovenID")

	result := a.db.WithContext(r.Context()).Where("id = ? AND kitchen_id = ?", ovenID, kitchenID).Delete(&models.Oven{})
	if result.Error != nil {
		a.logger.Error().Err(result.Error).Msg("delete oven failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	if result.RowsAffected == 0 {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}

	a.publishAuditEvent(r, events.EventAuditKitchenUpdate, events.Payload{
		"kitchen_id":    kitchenID,
		"resource_type": "oven",
		"resource_id":   ovenID,
	})
	a.bus.Publish(events.EventKitchenUpdated, events.Payload{"kitchen_id": kitchenID})

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conn, err := ws.Accept(w, r, &ws.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		a.logger.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(ws.StatusInternalError, "server error")

	// Track WebSocket connection
	telemetry.APIWebSocketConnections.Inc()
	defer telemetry.APIWebSocketConnections.Dec()

	eventTypes := parseEventTypes(r.URL.Query().Get("types"))
	if len(eventTypes) == 0 {
		eventTypes = []events.EventType{events.EventPlanComputed, events.EventHealth}
	}

	subscribers := make([]events.Subscriber, 0, len(eventTypes))
	for _, eventType := range eventTypes {
		subscribers = append(subscribers, a.bus.Subscribe(eventType))
	}
	defer func() {
		for i, eventType := range eventTypes {
			a.bus.Unsubscribe(eventType, subscribers[i])
		}
	}()

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(ws.StatusNormalClosure, "context cancelled")
			return
		case <-ticker.C:
			if err := conn.Write(ctx, ws.MessageText, []byte(`{"type":"ping"}`)); err != nil {
				a.logger.Error().Err(err).Msg("websocket ping failed")
				conn.Close(ws.StatusInternalError, "write failed")
				return
			}
		default:
			sent := false
			for i, sub := range subscribers {
				select {
				case payload := <-sub:
					if err := a.writeEvent(ctx, conn, eventTypes[i], payload); err != nil {
						a.logger.Error().Err(err).Msg("websocket write failed")
						conn.Close(ws.StatusInternalError, "write failed")
						return
					}
					sent = true
				default:
				}
			}
			if !sent {
				time.Sleep(100 * time.Millisecond)
			}
		}
	}
}

func (a *API) writeEvent(ctx context.Context, conn *ws.Conn, eventType events.EventType, payload events.Payload) error {
	data := map[string]any{
		"type":    eventType,
		"payload": payload,
	}
	bytes, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return conn.Write(ctx, ws.MessageText, bytes)
}

func (a *API) authMiddleware() func(http.Handler) http.Handler {
	return auth.MiddlewareWithJWT(a.db, a.jwtSecret)
}

func (a *API) requireRoles(allowed ...models.RoleName) func(http.Handler) http.Handler {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, role := range allowed {
		allowedSet[string(role)] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := auth.ClaimsFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			for _, role := range claims.Roles {
				if _, exists := allowedSet[role]; exists {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, http.StatusForbidden, "insufficient_role")
		})
	}
}

// SystemStatus represents the overall system health status.
type SystemStatus struct {
	Database  ComponentStatus `json:"database"`
	Scheduler ComponentStatus `json:"scheduler"`
	EventBus  ComponentStatus `json:"event_bus"`
	Timestamp time.Time       `json:"timestamp"`
}

// ComponentStatus represents the status of a single system component.
type ComponentStatus struct {
	Status  string `json:"status"` // "ok", "error", "unavailable"
	Message string `json:"message,omitempty"`
}

func (a *API) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := SystemStatus{
		Timestamp: time.Now(),
	}

	// Check database connection
	sqlDB, err := a.db.DB()
	if err != nil {
		status.Database = ComponentStatus{Status: "error", Message: err.Error()}
	} else if err := sqlDB.PingContext(ctx); err != nil {
		status.Database = ComponentStatus{Status: "error", Message: err.Error()}
	} else {
		status.Database = ComponentStatus{Status: "ok", Message: "Connected"}
	}

	// Check scheduler liveness via its recent run buffer
	if a.scheduler != nil {
		runs := a.scheduler.RecentRuns()
		if len(runs) == 0 {
			status.Scheduler = ComponentStatus{Status: "ok", Message: "Idle, no runs recorded"}
		} else {
			status.Scheduler = ComponentStatus{
				Status:  "ok",
				Message: "Last run " + runs[0].RanAt.Format(time.RFC3339),
			}
		}
	} else {
		status.Scheduler = ComponentStatus{Status: "unavailable", Message: "Scheduler not available"}
	}

	if a.bus != nil {
		status.EventBus = ComponentStatus{Status: "ok", Message: "Running"}
	} else {
		status.EventBus = ComponentStatus{Status: "unavailable", Message: "Event bus not available"}
	}

	writeJSON(w, http.StatusOK, status)
}

func (a *API) handleSystemVersion(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{
		"version": version.Version,
	}
	if a.versionChecker != nil {
		if info := a.versionChecker.Info(); info != nil {
			payload["latest"] = info.LatestVersion
			payload["update_available"] = info.UpdateAvailable
			payload["release_url"] = info.ReleaseURL
			payload["checked_at"] = info.CheckedAt
		}
	}
	writeJSON(w, http.StatusOK, payload)
}

func (a *API) handleSystemLogs(w http.ResponseWriter, r *http.Request) {
	if a.logBuffer == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error": "Log buffer not available",
		})
		return
	}

	params := parseLogQuery(r)
	entries := a.logBuffer.Query(params)

	// Collect unique kitchen IDs and fetch their names
	kitchenIDs := make(map[string]bool)
	for _, entry := range entries {
		if kid, ok := entry.Fields["kitchen_id"].(string); ok && kid != "" {
			kitchenIDs[kid] = true
		}
	}

	kitchenNames := make(map[string]string)
	if len(kitchenIDs) > 0 {
		ids := make([]string, 0, len(kitchenIDs))
		for id := range kitchenIDs {
			ids = append(ids, id)
		}
		var kitchens []models.Kitchen
		a.db.Select("id", "name").Where("id IN ?", ids).Find(&kitchens)
		for _, k := range kitchens {
			kitchenNames[k.ID] = k.Name
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entries":       entries,
		"count":         len(entries),
		"kitchen_names": kitchenNames,
	})
}

func (a *API) handleLogComponents(w http.ResponseWriter, r *http.Request) {
	if a.logBuffer == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error": "Log buffer not available",
		})
		return
	}

	components := a.logBuffer.GetComponents()
	writeJSON(w, http.StatusOK, map[string]any{
		"components": components,
	})
}

func (a *API) handleLogStats(w http.ResponseWriter, r *http.Request) {
	if a.logBuffer == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error": "Log buffer not available",
		})
		return
	}

	stats := a.logBuffer.Stats()
	writeJSON(w, http.StatusOK, stats)
}

func (a *API) handleClearLogs(w http.ResponseWriter, r *http.Request) {
	if a.logBuffer == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error": "Log buffer not available",
		})
		return
	}

	a.logBuffer.Clear()
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Log buffer cleared",
	})
}

// Kitchen-scoped log handlers

func (a *API) handleKitchenLogs(w http.ResponseWriter, r *http.Request) {
	if a.logBuffer == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error": "Log buffer not available",
		})
		return
	}

	kitchenID := chi.URLParam(r, "kitchenID")
	if kitchenID == "" {
		writeError(w, http.StatusBadRequest, "kitchen_id_required")
		return
	}

	params := parseLogQuery(r)
	params.KitchenID = kitchenID

	entries := a.logBuffer.Query(params)
	writeJSON(w, http.StatusOK, map[string]any{
		"entries":    entries,
		"count":      len(entries),
		"kitchen_id": kitchenID,
	})
}

func (a *API) handleKitchenLogComponents(w http.ResponseWriter, r *http.Request) {
	if a.logBuffer == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error": "Log buffer not available",
		})
		return
	}

	kitchenID := chi.URLParam(r, "kitchenID")
	if kitchenID == "" {
		writeError(w, http.StatusBadRequest, "kitchen_id_required")
		return
	}

	components := a.logBuffer.GetComponentsForKitchen(kitchenID)
	writeJSON(w, http.StatusOK, map[string]any{
		"components": components,
		"kitchen_id": kitchenID,
	})
}

func (a *API) handleKitchenLogStats(w http.ResponseWriter, r *http.Request) {
	if a.logBuffer == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error": "Log buffer not available",
		})
		return
	}

	kitchenID := chi.URLParam(r, "kitchenID")
	if kitchenID == "" {
		writeError(w, http.StatusBadRequest, "kitchen_id_required")
		return
	}

	stats := a.logBuffer.StatsForKitchen(kitchenID)
	writeJSON(w, http.StatusOK, stats)
}

// parseLogQuery reads the shared log filter parameters. Callers scope
// the result further (kitchen ID) before querying.
func parseLogQuery(r *http.Request) logbuffer.QueryParams {
	params := logbuffer.QueryParams{
		Level:      r.URL.Query().Get("level"),
		Component:  r.URL.Query().Get("component"),
		Search:     r.URL.Query().Get("search"),
		Descending: true, // Default to newest first
	}

	if since := r.URL.Query().Get("since"); since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			params.Since = t
		}
	}

	if limit := r.URL.Query().Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil && n > 0 {
			params.Limit = n
		}
	} else {
		params.Limit = 500 // Default limit
	}

	if order := r.URL.Query().Get("order"); order == "asc" {
		params.Descending = false
	}

	return params
}

func parseEventTypes(raw string) []events.EventType {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]events.EventType, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			continue
		}
		out = append(out, events.EventType(strings.TrimSpace(part)))
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

// auditContext extracts user and request info for audit logging.
func (a *API) auditContext(r *http.Request) events.Payload {
	payload := events.Payload{
		"ip_address": r.RemoteAddr,
		"user_agent": r.UserAgent(),
	}

	// Extract user info from JWT claims
	if claims, ok := auth.ClaimsFromContext(r.Context()); ok && claims != nil {
		payload["user_id"] = claims.UserID

		// Try to get user email from database
		var user models.User
		if err := a.db.Select("email").First(&user, "id = ?", claims.UserID).Error; err == nil {
			payload["user_email"] = user.Email
		}
	}

	return payload
}

// publishAuditEvent publishes an audit event with user and request context.
func (a *API) publishAuditEvent(r *http.Request, eventType events.EventType, data events.Payload) {
	payload := a.auditContext(r)
	for k, v := range data {
		payload[k] = v
	}
	a.bus.Publish(eventType, payload)
}
