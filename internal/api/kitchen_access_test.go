package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/friendsincode/andhrimnir_kitchen/internal/auth"
	"github.com/friendsincode/andhrimnir_kitchen/internal/models"
)

func TestRequireRoles_Enforcement(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	a := &API{db: db}

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	guarded := a.requireRoles(models.RoleAdmin, models.RolePlanner)(next)

	t.Run("admin allowed", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/v1/recipes", nil)
		req = req.WithContext(auth.WithClaims(req.Context(), &auth.Claims{
			UserID: "u1",
			Roles:  []string{string(models.RoleAdmin)},
		}))
		rr := httptest.NewRecorder()
		guarded.ServeHTTP(rr, req)
		if rr.Code != 204 {
			t.Fatalf("expected 204, got %d body=%s", rr.Code, rr.Body.String())
		}
	})

	t.Run("cook denied", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/v1/recipes", nil)
		req = req.WithContext(auth.WithClaims(req.Context(), &auth.Claims{
			UserID: "u2",
			Roles:  []string{string(models.RoleCook)},
		}))
		rr := httptest.NewRecorder()
		guarded.ServeHTTP(rr, req)
		if rr.Code != 403 {
			t.Fatalf("expected 403, got %d body=%s", rr.Code, rr.Body.String())
		}
	})

	t.Run("missing claims rejected", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/v1/recipes", nil)
		rr := httptest.NewRecorder()
		guarded.ServeHTTP(rr, req)
		if rr.Code != 401 {
			t.Fatalf("expected 401, got %d body=%s", rr.Code, rr.Body.String())
		}
	})
}

func TestHasKitchenAccess_ScopedPlanner(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	w := &WebhookAPI{API: &API{db: db}}

	withClaims := func(c *auth.Claims) *http.Request {
		req := httptest.NewRequest("GET", "/", nil)
		return req.WithContext(auth.WithClaims(req.Context(), c))
	}

	admin := withClaims(&auth.Claims{UserID: "u-admin", Roles: []string{string(models.RoleAdmin)}})
	if !w.hasKitchenAccess(admin, "k-any") {
		t.Fatalf("expected admin access to any kitchen")
	}

	scoped := withClaims(&auth.Claims{
		UserID:    "u-planner",
		Roles:     []string{string(models.RolePlanner)},
		KitchenID: "k1",
	})
	if !w.hasKitchenAccess(scoped, "k1") {
		t.Fatalf("expected scoped planner access to own kitchen")
	}
	if w.hasKitchenAccess(scoped, "k2") {
		t.Fatalf("expected scoped planner denied outside own kitchen")
	}

	// Tokens without a kitchen scope grant the role everywhere
	unscoped := withClaims(&auth.Claims{
		UserID: "u-planner2",
		Roles:  []string{string(models.RolePlanner)},
	})
	if !w.hasKitchenAccess(unscoped, "k2") {
		t.Fatalf("expected unscoped planner access")
	}

	cook := withClaims(&auth.Claims{UserID: "u-cook", Roles: []string{string(models.RoleCook)}})
	if w.hasKitchenAccess(cook, "k1") {
		t.Fatalf("expected cook denied webhook management")
	}
}
