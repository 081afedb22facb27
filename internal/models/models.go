package models

import (
	"time"
)

// RoleName enumerates the RBAC roles.
type RoleName string

const (
	RoleAdmin   RoleName = "admin"
	RolePlanner RoleName = "planner"
	RoleCook    RoleName = "cook"
)

// User represents an authenticated account.
type User struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	Email     string `gorm:"uniqueIndex"`
	Password  string
	Role      RoleName `gorm:"type:varchar(16)"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Kitchen aggregates equipment and the recipes planned in it. Public
// kitchens expose their meal calendar without authentication.
type Kitchen struct {
	ID          string `gorm:"type:uuid;primaryKey"`
	Name        string `gorm:"uniqueIndex"`
	Description string `gorm:"type:text"`
	Timezone    string `gorm:"type:varchar(32)"`
	Burners     int
	Public      bool   `gorm:"not null;default:false"`
	Ovens       []Oven `gorm:"foreignKey:KitchenID"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Oven describes one oven: a grid of rack rows, each RackPositions
// height slots tall.
type Oven struct {
	ID              string `gorm:"type:uuid;primaryKey"`
	KitchenID       string `gorm:"type:uuid;index"`
	Name            string
	Racks           int
	RackPositions   int
	MaxTemperatureF int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// EquipmentKind enumerates what a step group occupies while it runs.
type EquipmentKind string

const (
	EquipmentOven     EquipmentKind = "oven"
	EquipmentStovetop EquipmentKind = "stovetop"
	EquipmentNone     EquipmentKind = "none"
)

// OvenWidth is the horizontal footprint of an oven item on a rack row.
type OvenWidth string

const (
	WidthFull OvenWidth = "full"
	WidthHalf OvenWidth = "half"
)

// RecipeCategory is the role a dish plays on the menu.
type RecipeCategory string

const (
	CategoryMain      RecipeCategory = "main"
	CategoryStarch    RecipeCategory = "starch"
	CategoryVegetable RecipeCategory = "vegetable"
	CategoryBread     RecipeCategory = "bread"
	CategoryDessert   RecipeCategory = "dessert"
	CategoryAppetizer RecipeCategory = "appetizer"
)

// ValidCategory reports whether c is one of the known categories.
func ValidCategory(c RecipeCategory) bool {
	switch c {
	case CategoryMain, CategoryStarch, CategoryVegetable,
		CategoryBread, CategoryDessert, CategoryAppetizer:
		return true
	}
	return false
}

// Recipe is a dish: an ordered chain of step groups.
type Recipe struct {
	ID          string         `gorm:"type:uuid;primaryKey"`
	KitchenID   string         `gorm:"type:uuid;index"`
	Name        string         `gorm:"index"`
	Description string         `gorm:"type:text"`
	Category    RecipeCategory `gorm:"type:varchar(16);index"`
	Servings    int
	Source      string
	StepGroups  []StepGroup `gorm:"foreignKey:RecipeID"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// StepGroup is one contiguous block of work within a recipe. Groups of
// a recipe run strictly in Index order; each depends on the previous.
type StepGroup struct {
	ID       string `gorm:"type:uuid;primaryKey"`
	RecipeID string `gorm:"type:uuid;index"`
	Index    int
	Name     string

	// DurationMinutes is active cook/occupancy time and must be positive.
	DurationMinutes int
	// RestMinutes must elapse after the group finishes before the next
	// group of the recipe may start.
	RestMinutes int
	// HoldMinutes is how long the finished result keeps without quality
	// loss. It only relaxes the serving deadline, never the kitchen.
	HoldMinutes int
	// NightsBeforeServing pins the group to that many days before the
	// meal (make-ahead work). Zero means day-of.
	NightsBeforeServing int
	// MaxWaitMinutes bounds the gap the planner may leave between this
	// group's finish (plus rest) and its dependent's start. Nil means
	// unbounded.
	MaxWaitMinutes *int

	Equipment    EquipmentKind `gorm:"type:varchar(16)"`
	TemperatureF int
	HeightSlots  int
	Width        OvenWidth `gorm:"type:varchar(8)"`
	Burners      int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Unbounded reports whether the group has no wait bound.
func (g StepGroup) Unbounded() bool {
	return g.MaxWaitMinutes == nil
}

// MaxWait returns the wait bound, or -1 when unbounded.
func (g StepGroup) MaxWait() int {
	if g.MaxWaitMinutes == nil {
		return -1
	}
	return *g.MaxWaitMinutes
}
