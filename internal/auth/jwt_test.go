package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestParse_ValidHS256(t *testing.T) {
	secret := []byte("test-secret")
	token, err := Issue(secret, Claims{
		UserID:    "u1",
		Roles:     []string{"admin"},
		KitchenID: "k1",
	}, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	claims, err := Parse(secret, token)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.UserID != "u1" {
		t.Fatalf("expected user id u1, got %q", claims.UserID)
	}
	if claims.KitchenID != "k1" {
		t.Fatalf("expected kitchen id k1, got %q", claims.KitchenID)
	}
}

func TestParse_RejectsUnexpectedAlgorithm(t *testing.T) {
	secret := []byte("test-secret")
	now := time.Now()
	claims := Claims{
		UserID:    "u1",
		Roles:     []string{"admin"},
		KitchenID: "k1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(now),
			Subject:   "u1",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS384, claims)
	tokenStr, err := token.SignedString(secret)
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}

	if _, err := Parse(secret, tokenStr); err == nil {
		t.Fatalf("expected parse to reject non-HS256 token")
	}
}

func TestClaims_HasRole(t *testing.T) {
	claims := &Claims{Roles: []string{"planner", "cook"}}

	if !claims.HasRole("cook") {
		t.Fatalf("expected claims to carry cook role")
	}
	if !claims.HasRole("admin", "planner") {
		t.Fatalf("expected claims to match planner from the allowed set")
	}
	if claims.HasRole("admin") {
		t.Fatalf("did not expect admin role")
	}
}

func TestClaims_AllowsKitchen(t *testing.T) {
	scoped := &Claims{KitchenID: "k1"}
	if !scoped.AllowsKitchen("k1") {
		t.Fatalf("expected scoped claims to allow their own kitchen")
	}
	if scoped.AllowsKitchen("k2") {
		t.Fatalf("expected scoped claims to reject another kitchen")
	}

	unscoped := &Claims{}
	if !unscoped.AllowsKitchen("k2") {
		t.Fatalf("expected unscoped claims to allow any kitchen")
	}
}
