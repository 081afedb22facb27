/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package e2e provides end-to-end tests over the assembled API router.
package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/friendsincode/andhrimnir_kitchen/internal/api"
	"github.com/friendsincode/andhrimnir_kitchen/internal/audit"
	"github.com/friendsincode/andhrimnir_kitchen/internal/db"
	"github.com/friendsincode/andhrimnir_kitchen/internal/events"
	"github.com/friendsincode/andhrimnir_kitchen/internal/integrity"
	"github.com/friendsincode/andhrimnir_kitchen/internal/logbuffer"
	"github.com/friendsincode/andhrimnir_kitchen/internal/models"
	"github.com/friendsincode/andhrimnir_kitchen/internal/scheduler"
	schedulerstate "github.com/friendsincode/andhrimnir_kitchen/internal/scheduler/state"
	"github.com/friendsincode/andhrimnir_kitchen/internal/version"
)

// TestRoutes verifies the public API routes are reachable without
// credentials.
func TestRoutes(t *testing.T) {
	server, _ := setupTestServer(t)
	defer server.Close()

	client := &http.Client{Timeout: 10 * time.Second}

	publicRoutes := []struct {
		name           string
		path           string
		expectedStatus int
	}{
		{"health", "/api/v1/health", http.StatusOK},
		{"public meals without kitchen", "/api/v1/public/meals", http.StatusBadRequest},
		{"public meals today without kitchen", "/api/v1/public/meals/today", http.StatusBadRequest},
	}

	for _, tc := range publicRoutes {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := client.Get(server.URL + tc.path)
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tc.expectedStatus {
				t.Errorf("expected status %d, got %d for %s", tc.expectedStatus, resp.StatusCode, tc.path)
			}
		})
	}
}

// TestAuthenticatedRoutes logs in and walks the authenticated read
// endpoints.
func TestAuthenticatedRoutes(t *testing.T) {
	server, database := setupTestServer(t)
	defer server.Close()

	createTestUser(t, database, "admin@test.com", "password123", models.RoleAdmin)
	token := login(t, server.URL, "admin@test.com", "password123")

	client := &http.Client{Timeout: 10 * time.Second}

	adminRoutes := []struct {
		name string
		path string
	}{
		{"me", "/api/v1/auth/me"},
		{"users list", "/api/v1/users"},
		{"api keys list", "/api/v1/apikeys"},
		{"kitchens list", "/api/v1/kitchens"},
		{"recipes list", "/api/v1/recipes"},
		{"plans list", "/api/v1/plans"},
		{"recent runs", "/api/v1/plans/recent"},
		{"meal plans list", "/api/v1/mealplans"},
		{"upcoming meals", "/api/v1/meals/upcoming"},
		{"system status", "/api/v1/system/status"},
		{"system version", "/api/v1/system/version"},
		{"system logs", "/api/v1/system/logs"},
		{"audit list", "/api/v1/audit"},
		{"integrity report", "/api/v1/integrity/report"},
	}

	for _, tc := range adminRoutes {
		t.Run(tc.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, server.URL+tc.path, nil)
			req.Header.Set("Authorization", "Bearer "+token)

			resp, err := client.Do(req)
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				t.Errorf("expected status 200, got %d for %s", resp.StatusCode, tc.path)
			}

			contentType := resp.Header.Get("Content-Type")
			if !strings.Contains(contentType, "application/json") {
				t.Errorf("expected JSON content-type, got %s for %s", contentType, tc.path)
			}
		})
	}
}

// TestPlanComputeFlow runs the full pipeline through POST /plan: create
// fixtures, compute a timeline, fetch and export the stored plan.
func TestPlanComputeFlow(t *testing.T) {
	server, database := setupTestServer(t)
	defer server.Close()

	kitchen, recipe := setupTestFixtures(t, database)
	createTestUser(t, database, "planner@test.com", "password123", models.RolePlanner)
	token := login(t, server.URL, "planner@test.com", "password123")

	client := &http.Client{Timeout: 10 * time.Second}
	mealTime := time.Now().Add(48 * time.Hour).Truncate(time.Minute)

	body, _ := json.Marshal(map[string]any{
		"kitchen_id": kitchen.ID,
		"recipe_ids": []string{recipe.ID},
		"meal_time":  mealTime.Format(time.RFC3339),
	})

	req, _ := http.NewRequest(http.MethodPost, server.URL+"/api/v1/plan", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("plan request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", resp.StatusCode)
	}

	var planResp struct {
		PlanID   string `json:"plan_id"`
		Status   string `json:"status"`
		Timeline struct {
			Entries []struct {
				RecipeName string `json:"recipe_name"`
			} `json:"entries"`
		} `json:"timeline"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&planResp); err != nil {
		t.Fatalf("decode plan response: %v", err)
	}
	if planResp.PlanID == "" {
		t.Fatal("expected a plan id")
	}
	if len(planResp.Timeline.Entries) == 0 {
		t.Fatal("expected timeline entries")
	}

	t.Run("stored plan readable", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, server.URL+"/api/v1/plans/"+planResp.PlanID, nil)
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := client.Do(req)
		if err != nil {
			t.Fatalf("get plan failed: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Errorf("expected status 200, got %d", resp.StatusCode)
		}
	})

	t.Run("plan exports as ical", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, server.URL+"/api/v1/plans/"+planResp.PlanID+"/export?format=ics", nil)
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := client.Do(req)
		if err != nil {
			t.Fatalf("export failed: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected status 200, got %d", resp.StatusCode)
		}
		var buf bytes.Buffer
		if _, err := buf.ReadFrom(resp.Body); err != nil {
			t.Fatalf("read export: %v", err)
		}
		if !strings.Contains(buf.String(), "BEGIN:VCALENDAR") {
			t.Error("expected an iCalendar document")
		}
	})
}

// TestRoleEnforcement verifies a cook cannot reach planner-only routes.
func TestRoleEnforcement(t *testing.T) {
	server, database := setupTestServer(t)
	defer server.Close()

	createTestUser(t, database, "cook@test.com", "password123", models.RoleCook)
	token := login(t, server.URL, "cook@test.com", "password123")

	client := &http.Client{Timeout: 10 * time.Second}

	forbidden := []struct {
		name   string
		method string
		path   string
	}{
		{"compute plan", http.MethodPost, "/api/v1/plan"},
		{"create kitchen", http.MethodPost, "/api/v1/kitchens"},
		{"users list", http.MethodGet, "/api/v1/users"},
		{"system status", http.MethodGet, "/api/v1/system/status"},
	}

	for _, tc := range forbidden {
		t.Run(tc.name, func(t *testing.T) {
			req, _ := http.NewRequest(tc.method, server.URL+tc.path, strings.NewReader("{}"))
			req.Header.Set("Authorization", "Bearer "+token)

			resp, err := client.Do(req)
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusForbidden {
				t.Errorf("expected status 403, got %d for %s %s", resp.StatusCode, tc.method, tc.path)
			}
		})
	}
}

// TestUnauthorized verifies protected routes reject anonymous callers.
func TestUnauthorized(t *testing.T) {
	server, _ := setupTestServer(t)
	defer server.Close()

	client := &http.Client{Timeout: 10 * time.Second}

	resp, err := client.Get(server.URL + "/api/v1/kitchens")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", resp.StatusCode)
	}
}

// TestRouteNotFound verifies 404 handling.
func TestRouteNotFound(t *testing.T) {
	server, _ := setupTestServer(t)
	defer server.Close()

	client := &http.Client{Timeout: 10 * time.Second}

	resp, err := client.Get(server.URL + "/nonexistent-route-12345")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", resp.StatusCode)
	}
}

// Helper functions

func setupTestServer(t *testing.T) (*httptest.Server, *gorm.DB) {
	t.Helper()

	database := setupTestDB(t)
	logger := zerolog.Nop()
	bus := events.NewBus()

	sched := scheduler.New(database, bus, schedulerstate.NewStore(), scheduler.Options{
		EveningHour:        21,
		WindowHours:        24,
		ServeBufferMinutes: 10,
		MaxShifts:          64,
		Workers:            2,
	}, logger)

	a := api.New(
		database,
		[]byte("test-jwt-secret"),
		sched,
		integrity.NewService(database, logger),
		audit.NewService(database, bus, logger),
		version.NewChecker(logger),
		bus,
		logbuffer.New(0),
		logger,
	)

	r := chi.NewRouter()
	a.Routes(r)
	return httptest.NewServer(r), database
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	database, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	if err := db.Migrate(database); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return database
}

func setupTestFixtures(t *testing.T, database *gorm.DB) (*models.Kitchen, *models.Recipe) {
	t.Helper()

	kitchen := &models.Kitchen{
		ID:       uuid.NewString(),
		Name:     "Test Kitchen",
		Timezone: "UTC",
		Burners:  4,
	}
	if err := database.Create(kitchen).Error; err != nil {
		t.Fatalf("failed to create kitchen: %v", err)
	}

	oven := &models.Oven{
		ID:              uuid.NewString(),
		KitchenID:       kitchen.ID,
		Name:            "Main Oven",
		Racks:           2,
		RackPositions:   5,
		MaxTemperatureF: 500,
	}
	if err := database.Create(oven).Error; err != nil {
		t.Fatalf("failed to create oven: %v", err)
	}

	recipe := &models.Recipe{
		ID:        uuid.NewString(),
		KitchenID: kitchen.ID,
		Name:      "Roast Chicken",
		Category:  models.CategoryMain,
		Servings:  4,
		StepGroups: []models.StepGroup{
			{
				ID:              uuid.NewString(),
				Index:           0,
				Name:            "Prep",
				DurationMinutes: 30,
				Equipment:       models.EquipmentNone,
			},
			{
				ID:              uuid.NewString(),
				Index:           1,
				Name:            "Roast",
				DurationMinutes: 90,
				RestMinutes:     15,
				Equipment:       models.EquipmentOven,
				TemperatureF:    425,
				HeightSlots:     3,
				Width:           models.WidthFull,
			},
		},
	}
	if err := database.Create(recipe).Error; err != nil {
		t.Fatalf("failed to create recipe: %v", err)
	}

	return kitchen, recipe
}

func createTestUser(t *testing.T, database *gorm.DB, email, password string, role models.RoleName) *models.User {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		t.Fatalf("failed to hash password: %v", err)
	}

	user := &models.User{
		ID:       fmt.Sprintf("user-%s", strings.Replace(email, "@", "-", -1)),
		Email:    email,
		Password: string(hash),
		Role:     role,
	}
	if err := database.Create(user).Error; err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	return user
}

func login(t *testing.T, serverURL, email, password string) string {
	t.Helper()

	body, _ := json.Marshal(map[string]string{"email": email, "password": password})
	resp, err := http.Post(serverURL+"/api/v1/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("login request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login failed with status %d", resp.StatusCode)
	}

	var loginResp struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&loginResp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	if loginResp.Token == "" {
		t.Fatal("expected a token")
	}
	return loginResp.Token
}
