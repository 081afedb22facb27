package api

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/friendsincode/andhrimnir_kitchen/internal/models"
)

func TestPublicMeals_OnlyPublicKitchensVisible(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&models.Kitchen{}, &models.MealPlan{}, &models.MealInstance{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	now := time.Now()
	public := models.Kitchen{ID: "k1", Name: "Open Kitchen", Timezone: "UTC", Public: true}
	private := models.Kitchen{ID: "k2", Name: "Private Kitchen", Timezone: "UTC", Public: false}
	if err := db.Create(&public).Error; err != nil {
		t.Fatalf("create public kitchen: %v", err)
	}
	if err := db.Create(&private).Error; err != nil {
		t.Fatalf("create private kitchen: %v", err)
	}
	plan := models.MealPlan{
		ID:        "mp1",
		KitchenID: public.ID,
		Name:      "Sunday Dinner",
		RecipeIDs: []string{"r1", "r2", "r3"},
		DTStart:   now,
		Timezone:  "UTC",
		Active:    true,
	}
	if err := db.Create(&plan).Error; err != nil {
		t.Fatalf("create plan: %v", err)
	}
	upcoming := models.MealInstance{
		ID:         "mi1",
		MealPlanID: plan.ID,
		KitchenID:  public.ID,
		ServesAt:   now.Add(2 * time.Hour),
		Status:     models.MealInstanceScheduled,
	}
	cancelled := models.MealInstance{
		ID:         "mi2",
		MealPlanID: plan.ID,
		KitchenID:  public.ID,
		ServesAt:   now.Add(4 * time.Hour),
		Status:     models.MealInstanceCancelled,
	}
	if err := db.Create(&upcoming).Error; err != nil {
		t.Fatalf("create upcoming instance: %v", err)
	}
	if err := db.Create(&cancelled).Error; err != nil {
		t.Fatalf("create cancelled instance: %v", err)
	}

	a := &API{db: db}

	rr := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/v1/public/meals?kitchen_id=k1", nil)
	a.handlePublicMeals(rr, req)
	if rr.Code != 200 {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}

	var resp struct {
		Meals []PublicMeal `json:"meals"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Meals) != 1 {
		t.Fatalf("expected 1 meal (cancelled excluded), got %d", len(resp.Meals))
	}
	if resp.Meals[0].Meal.Name != "Sunday Dinner" {
		t.Fatalf("expected plan name on meal, got %q", resp.Meals[0].Meal.Name)
	}
	if resp.Meals[0].Meal.RecipeCount != 3 {
		t.Fatalf("expected recipe count 3, got %d", resp.Meals[0].Meal.RecipeCount)
	}

	// Private kitchens look like missing kitchens
	rr = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/api/v1/public/meals?kitchen_id=k2", nil)
	a.handlePublicMeals(rr, req)
	if rr.Code != 404 {
		t.Fatalf("expected 404 for private kitchen, got %d", rr.Code)
	}
}

func TestPublicMealsToday_NextMealMarked(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&models.Kitchen{}, &models.MealPlan{}, &models.MealInstance{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	now := time.Now()
	kitchen := models.Kitchen{ID: "k3", Name: "Today Kitchen", Timezone: "UTC", Public: true}
	if err := db.Create(&kitchen).Error; err != nil {
		t.Fatalf("create kitchen: %v", err)
	}
	plan := models.MealPlan{
		ID:        "mp2",
		KitchenID: kitchen.ID,
		Name:      "Weeknight Supper",
		RecipeIDs: []string{"r1"},
		DTStart:   now,
		Timezone:  "UTC",
		Active:    true,
	}
	if err := db.Create(&plan).Error; err != nil {
		t.Fatalf("create plan: %v", err)
	}
	next := models.MealInstance{
		ID:           "mi-next",
		MealPlanID:   plan.ID,
		KitchenID:    kitchen.ID,
		ServesAt:     now.Add(30 * time.Minute),
		Status:       models.MealInstancePlanned,
		PlanRecordID: nil,
	}
	if err := db.Create(&next).Error; err != nil {
		t.Fatalf("create next instance: %v", err)
	}

	a := &API{db: db}
	rr := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/v1/public/meals/today?kitchen_id=k3", nil)
	a.handlePublicMealsToday(rr, req)
	if rr.Code != 200 {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}

	var resp struct {
		Next *PublicMeal `json:"next"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Next == nil {
		t.Fatalf("expected next meal in response")
	}
	if !resp.Next.IsNext {
		t.Fatalf("expected next meal to be marked is_next")
	}
	if !resp.Next.Planned {
		t.Fatalf("expected planned flag for planned instance")
	}
}
