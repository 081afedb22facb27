/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package allocator

import (
	"sort"
	"time"
)

// ConflictType classifies why a step group could not be placed.
type ConflictType string

const (
	// ConflictEquipmentOverbooked means the equipment exists but is
	// committed to incompatible work for the whole feasible window.
	ConflictEquipmentOverbooked ConflictType = "equipment_overbooked"

	// ConflictInsufficientRackSpace means an oven was running the right
	// temperature but no rack row could take the dish.
	ConflictInsufficientRackSpace ConflictType = "insufficient_rack_space"

	// ConflictBurnerOverbooked means the stovetop cannot spare enough
	// burners anywhere in the feasible window.
	ConflictBurnerOverbooked ConflictType = "burner_overbooked"

	// ConflictUnresolved is the terminal state after a failed repair
	// pass. The underlying cause rides along in Details.
	ConflictUnresolved ConflictType = "unresolved"
)

// Interval names another placement that blocks a conflicted step.
type Interval struct {
	StepGroupID string    `json:"step_group_id"`
	StepName    string    `json:"step_name"`
	RecipeName  string    `json:"recipe_name"`
	Resource    string    `json:"resource"`
	StartsAt    time.Time `json:"starts_at"`
	EndsAt      time.Time `json:"ends_at"`
}

// Conflict is a flagged placement failure. Conflicts are never dropped;
// every one surfaces in the timeline with the specific step groups and
// equipment involved so a cook can re-sequence by hand.
type Conflict struct {
	Type            ConflictType   `json:"type"`
	StepGroupID     string         `json:"step_group_id"`
	StepName        string         `json:"step_name"`
	RecipeID        string         `json:"recipe_id"`
	RecipeName      string         `json:"recipe_name"`
	DurationMinutes int            `json:"duration_minutes"`
	Message         string         `json:"message"`
	Blocking        []Interval     `json:"blocking,omitempty"`
	Details         map[string]any `json:"details,omitempty"`
}

// Cause returns the underlying conflict type. For unresolved conflicts
// this digs out the diagnosis recorded before the failed repair.
func (c Conflict) Cause() ConflictType {
	if c.Type != ConflictUnresolved {
		return c.Type
	}
	if cause, ok := c.Details["cause"].(string); ok && cause != "" {
		return ConflictType(cause)
	}
	return c.Type
}

// miss records why a placement search came up empty, with enough
// context to type the conflict and to narrow a repair attempt.
type miss struct {
	// static is set when no equipment unit could ever host the step,
	// regardless of timing.
	static bool
	note   string

	// sawTemperatureFit distinguishes rack congestion from temperature
	// clashes: true when at least one candidate start passed the
	// temperature check but no row had room.
	sawTemperatureFit bool

	blockers []*Placement
}

func blockingIntervals(blockers []*Placement) []Interval {
	if len(blockers) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(blockers))
	out := make([]Interval, 0, len(blockers))
	for _, b := range blockers {
		if seen[b.StepGroupID] {
			continue
		}
		seen[b.StepGroupID] = true
		out = append(out, Interval{
			StepGroupID: b.StepGroupID,
			StepName:    b.StepName,
			RecipeName:  b.RecipeName,
			Resource:    b.Resource,
			StartsAt:    b.StartsAt,
			EndsAt:      b.EndsAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartsAt.Equal(out[j].StartsAt) {
			return out[i].StartsAt.Before(out[j].StartsAt)
		}
		return out[i].StepGroupID < out[j].StepGroupID
	})
	return out
}
