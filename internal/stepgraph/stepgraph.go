/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package stepgraph turns each recipe's ordered step groups into a
// per-recipe dependency chain. Chains are independent of each other;
// dishes only meet later, at equipment allocation.
package stepgraph

import (
	"errors"
	"fmt"
	"sort"

	"github.com/friendsincode/andhrimnir_kitchen/internal/models"
)

// ErrMalformedRecipe marks structural input defects. A malformed recipe
// aborts the run before any solving happens.
var ErrMalformedRecipe = errors.New("malformed recipe")

// Node is one step group linked into its recipe chain.
type Node struct {
	Group      models.StepGroup
	RecipeID   string
	RecipeName string

	// Prev and Next walk the chain. Prev must reach its effective
	// finish (end plus rest) before this node may start.
	Prev *Node
	Next *Node
}

// Final reports whether the node is the last step of its recipe.
func (n *Node) Final() bool {
	return n.Next == nil
}

// Graph holds the validated chains for one scheduling run.
type Graph struct {
	recipeIDs []string
	chains    map[string][]*Node
	names     map[string]string
	nodes     []*Node
}

// Build validates the recipes and links their step groups into chains.
// Recipes keep their input order; step groups are ordered by Index.
func Build(recipes []models.Recipe) (*Graph, error) {
	g := &Graph{
		recipeIDs: make([]string, 0, len(recipes)),
		chains:    make(map[string][]*Node, len(recipes)),
		names:     make(map[string]string, len(recipes)),
	}

	for _, recipe := range recipes {
		chain, err := buildChain(recipe)
		if err != nil {
			return nil, err
		}
		g.recipeIDs = append(g.recipeIDs, recipe.ID)
		g.chains[recipe.ID] = chain
		g.names[recipe.ID] = recipe.Name
		g.nodes = append(g.nodes, chain...)
	}

	return g, nil
}

// Chain returns the ordered nodes of one recipe, or nil when unknown.
func (g *Graph) Chain(recipeID string) []*Node {
	return g.chains[recipeID]
}

// Nodes returns every node in deterministic order: recipe input order,
// then step index.
func (g *Graph) Nodes() []*Node {
	return g.nodes
}

// RecipeIDs returns the recipe IDs in input order.
func (g *Graph) RecipeIDs() []string {
	return g.recipeIDs
}

// RecipeName resolves a recipe ID to its display name.
func (g *Graph) RecipeName(recipeID string) string {
	return g.names[recipeID]
}

func buildChain(recipe models.Recipe) ([]*Node, error) {
	label := recipe.Name
	if label == "" {
		label = recipe.ID
	}

	if len(recipe.StepGroups) == 0 {
		return nil, fmt.Errorf("%w: recipe %q has no step groups", ErrMalformedRecipe, label)
	}

	groups := append([]models.StepGroup(nil), recipe.StepGroups...)
	sort.SliceStable(groups, func(i, j int) bool { return groups[i].Index < groups[j].Index })

	seen := make(map[int]bool, len(groups))
	chain := make([]*Node, 0, len(groups))
	for _, group := range groups {
		if seen[group.Index] {
			return nil, fmt.Errorf("%w: recipe %q repeats step index %d", ErrMalformedRecipe, label, group.Index)
		}
		seen[group.Index] = true

		if err := validateGroup(label, group); err != nil {
			return nil, err
		}

		node := &Node{Group: group, RecipeID: recipe.ID, RecipeName: recipe.Name}
		if len(chain) > 0 {
			prev := chain[len(chain)-1]
			prev.Next = node
			node.Prev = prev
		}
		chain = append(chain, node)
	}

	// Make-ahead offsets must not run against the chain: an earlier
	// step may never be pinned closer to serving than a later one.
	for i := 1; i < len(chain); i++ {
		prev, cur := chain[i-1].Group, chain[i].Group
		if prev.NightsBeforeServing < cur.NightsBeforeServing {
			return nil, fmt.Errorf("%w: recipe %q step %d is pinned %d nights out but follows step %d pinned %d nights out",
				ErrMalformedRecipe, label, cur.Index, cur.NightsBeforeServing, prev.Index, prev.NightsBeforeServing)
		}
	}

	return chain, nil
}

func validateGroup(recipe string, group models.StepGroup) error {
	if group.DurationMinutes <= 0 {
		return fmt.Errorf("%w: recipe %q step %d duration must be positive, got %d",
			ErrMalformedRecipe, recipe, group.Index, group.DurationMinutes)
	}
	if group.RestMinutes < 0 {
		return fmt.Errorf("%w: recipe %q step %d rest must not be negative, got %d",
			ErrMalformedRecipe, recipe, group.Index, group.RestMinutes)
	}
	if group.HoldMinutes < 0 {
		return fmt.Errorf("%w: recipe %q step %d hold must not be negative, got %d",
			ErrMalformedRecipe, recipe, group.Index, group.HoldMinutes)
	}
	if group.NightsBeforeServing < 0 {
		return fmt.Errorf("%w: recipe %q step %d nights-before-serving must not be negative, got %d",
			ErrMalformedRecipe, recipe, group.Index, group.NightsBeforeServing)
	}
	if group.MaxWaitMinutes != nil && *group.MaxWaitMinutes < 0 {
		return fmt.Errorf("%w: recipe %q step %d max wait must not be negative, got %d",
			ErrMalformedRecipe, recipe, group.Index, *group.MaxWaitMinutes)
	}

	switch group.Equipment {
	case models.EquipmentOven:
		if group.TemperatureF <= 0 {
			return fmt.Errorf("%w: recipe %q step %d oven temperature must be positive, got %d",
				ErrMalformedRecipe, recipe, group.Index, group.TemperatureF)
		}
		if group.HeightSlots < 1 {
			return fmt.Errorf("%w: recipe %q step %d oven height slots must be at least 1, got %d",
				ErrMalformedRecipe, recipe, group.Index, group.HeightSlots)
		}
		if group.Width != models.WidthFull && group.Width != models.WidthHalf {
			return fmt.Errorf("%w: recipe %q step %d oven width must be full or half, got %q",
				ErrMalformedRecipe, recipe, group.Index, group.Width)
		}
	case models.EquipmentStovetop:
		if group.Burners < 1 {
			return fmt.Errorf("%w: recipe %q step %d must claim at least one burner, got %d",
				ErrMalformedRecipe, recipe, group.Index, group.Burners)
		}
	case models.EquipmentNone:
		// Prep work holds no equipment; nothing to check.
	default:
		return fmt.Errorf("%w: recipe %q step %d has unknown equipment kind %q",
			ErrMalformedRecipe, recipe, group.Index, group.Equipment)
	}

	return nil
}
