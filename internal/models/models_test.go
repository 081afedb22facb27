package models

import (
	"testing"
	"time"
)

func TestStepGroupMaxWait(t *testing.T) {
	bound := 15
	tests := []struct {
		name      string
		group     StepGroup
		wantWait  int
		unbounded bool
	}{
		{name: "bounded", group: StepGroup{MaxWaitMinutes: &bound}, wantWait: 15},
		{name: "unbounded", group: StepGroup{}, wantWait: -1, unbounded: true},
	}

	for _, tt := range tests {
		if got := tt.group.MaxWait(); got != tt.wantWait {
			t.Fatalf("%s: MaxWait() = %d, want %d", tt.name, got, tt.wantWait)
		}
		if got := tt.group.Unbounded(); got != tt.unbounded {
			t.Fatalf("%s: Unbounded() = %v, want %v", tt.name, got, tt.unbounded)
		}
	}
}

func TestValidCategory(t *testing.T) {
	for _, c := range []RecipeCategory{
		CategoryMain, CategoryStarch, CategoryVegetable,
		CategoryBread, CategoryDessert, CategoryAppetizer,
	} {
		if !ValidCategory(c) {
			t.Fatalf("ValidCategory(%q) = false, want true", c)
		}
	}
	for _, c := range []RecipeCategory{"", "snack", "Main"} {
		if ValidCategory(c) {
			t.Fatalf("ValidCategory(%q) = true, want false", c)
		}
	}
}

func TestAPIKeyValidity(t *testing.T) {
	now := time.Now()

	expired := &APIKey{ExpiresAt: now.Add(-time.Hour)}
	if expired.IsValid() {
		t.Fatalf("expected expired key to be invalid")
	}

	revokedAt := now.Add(-time.Minute)
	revoked := &APIKey{ExpiresAt: now.Add(time.Hour), RevokedAt: &revokedAt}
	if revoked.IsValid() {
		t.Fatalf("expected revoked key to be invalid")
	}

	live := &APIKey{ExpiresAt: now.Add(time.Hour)}
	if !live.IsValid() {
		t.Fatalf("expected unexpired unrevoked key to be valid")
	}
}

func TestAPIKeyAllowsKitchen(t *testing.T) {
	scope := "k1"
	scoped := &APIKey{KitchenID: &scope}
	if !scoped.AllowsKitchen("k1") {
		t.Fatalf("expected scoped key to allow its own kitchen")
	}
	if scoped.AllowsKitchen("k2") {
		t.Fatalf("expected scoped key to reject another kitchen")
	}

	unscoped := &APIKey{}
	if !unscoped.AllowsKitchen("k2") {
		t.Fatalf("expected unscoped key to allow any kitchen")
	}
}

func TestMealInstanceIsCancelled(t *testing.T) {
	byStatus := &MealInstance{Status: MealInstanceCancelled}
	if !byStatus.IsCancelled() {
		t.Fatalf("expected cancelled status to report cancelled")
	}

	byException := &MealInstance{Status: MealInstanceScheduled, ExceptionType: MealExceptionCancelled}
	if !byException.IsCancelled() {
		t.Fatalf("expected cancellation exception to report cancelled")
	}

	active := &MealInstance{Status: MealInstanceScheduled}
	if active.IsCancelled() {
		t.Fatalf("expected scheduled instance to not report cancelled")
	}
}
