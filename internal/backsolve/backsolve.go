/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package backsolve works each recipe chain backward from the meal time
// and assigns every step group its feasible start window. Equipment is
// not considered here; the allocator narrows these windows later.
package backsolve

import (
	"errors"
	"fmt"
	"time"

	"github.com/friendsincode/andhrimnir_kitchen/internal/stepgraph"
)

// ErrUnmetDeadline marks recipes whose chain cannot finish by the meal
// time even with unlimited equipment.
var ErrUnmetDeadline = errors.New("deadline cannot be met")

// Options tune the solve. Zero values fall back to kitchen defaults.
type Options struct {
	// WindowStart is when the kitchen opens for this plan. Steps pinned
	// to an earlier make-ahead day may reach back past it.
	WindowStart time.Time

	// EveningHour is the target hour for make-ahead work on its pinned
	// day. Defaults to 21 (9 PM).
	EveningHour int

	// ServeBufferMinutes reserves plating and carving time between the
	// last dish coming ready and the meal itself.
	ServeBufferMinutes int
}

// Window is the feasible start range for one step group.
type Window struct {
	Node          *stepgraph.Node
	EarliestStart time.Time
	LatestStart   time.Time
	LatestFinish  time.Time

	// Pinned is set when the step carries a make-ahead offset and its
	// window was clamped to that calendar day.
	Pinned bool
}

// Duration returns the active time of the step.
func (w *Window) Duration() time.Duration {
	return time.Duration(w.Node.Group.DurationMinutes) * time.Minute
}

// RecipeFailure records a recipe dropped from the plan, with the step
// that made it infeasible.
type RecipeFailure struct {
	RecipeID   string `json:"recipe_id"`
	RecipeName string `json:"recipe_name"`
	Reason     string `json:"reason"`
	Err        error  `json:"-"`
}

// Solution is the equipment-free schedule skeleton. Ordered and Windows
// cover only recipes that survived; dropped recipes land in Excluded.
type Solution struct {
	MealTime           time.Time
	ServeBufferMinutes int
	Windows            map[string]*Window
	Ordered            []*Window
	Excluded           []RecipeFailure
}

// Solve computes start windows for every step group in the graph. A
// recipe whose deadline cannot be met is excluded from the solution
// rather than failing the run; the graph itself is never mutated.
func Solve(g *stepgraph.Graph, mealTime time.Time, opts Options) (*Solution, error) {
	if g == nil {
		return nil, errors.New("backsolve: nil graph")
	}
	if mealTime.IsZero() {
		return nil, errors.New("backsolve: meal time not set")
	}

	mealTime = mealTime.Truncate(time.Minute)
	if opts.EveningHour <= 0 || opts.EveningHour > 23 {
		opts.EveningHour = 21
	}
	if opts.ServeBufferMinutes < 0 {
		opts.ServeBufferMinutes = 0
	}
	if opts.WindowStart.IsZero() {
		opts.WindowStart = mealTime.Add(-24 * time.Hour)
	}
	opts.WindowStart = opts.WindowStart.Truncate(time.Minute)

	sol := &Solution{
		MealTime:           mealTime,
		ServeBufferMinutes: opts.ServeBufferMinutes,
		Windows:            make(map[string]*Window),
	}

	for _, recipeID := range g.RecipeIDs() {
		chain := g.Chain(recipeID)
		windows, err := solveChain(chain, mealTime, opts)
		if err != nil {
			sol.Excluded = append(sol.Excluded, RecipeFailure{
				RecipeID:   recipeID,
				RecipeName: g.RecipeName(recipeID),
				Reason:     err.Error(),
				Err:        ErrUnmetDeadline,
			})
			continue
		}
		for _, w := range windows {
			sol.Windows[w.Node.Group.ID] = w
		}
		sol.Ordered = append(sol.Ordered, windows...)
	}

	return sol, nil
}

// solveChain runs the backward pass for latest times and the forward
// pass for earliest times, then checks that every window is non-empty.
func solveChain(chain []*stepgraph.Node, mealTime time.Time, opts Options) ([]*Window, error) {
	windows := make([]*Window, len(chain))
	for i, node := range chain {
		windows[i] = &Window{Node: node, Pinned: node.Group.NightsBeforeServing > 0}
	}

	servingDay := startOfDay(mealTime)

	// Backward pass. The final step must come out of the kitchen early
	// enough for its rest, its hold, and the serving buffer to elapse
	// before the meal.
	for i := len(chain) - 1; i >= 0; i-- {
		node := chain[i]
		w := windows[i]
		duration := minutes(node.Group.DurationMinutes)
		rest := minutes(node.Group.RestMinutes)

		var latestFinish time.Time
		if node.Final() {
			latestFinish = mealTime.
				Add(-minutes(opts.ServeBufferMinutes)).
				Add(-minutes(node.Group.HoldMinutes)).
				Add(-rest)
		} else {
			latestFinish = windows[i+1].LatestStart.Add(-rest)
		}
		latestStart := latestFinish.Add(-duration)

		if w.Pinned {
			pinnedDay := servingDay.AddDate(0, 0, -node.Group.NightsBeforeServing)
			pinnedLatest := pinnedDay.Add(time.Duration(opts.EveningHour) * time.Hour)
			if endOfDay := pinnedDay.AddDate(0, 0, 1); pinnedLatest.Add(duration).After(endOfDay) {
				pinnedLatest = endOfDay.Add(-duration)
			}
			if pinnedLatest.Before(latestStart) {
				latestStart = pinnedLatest
			}
			latestFinish = latestStart.Add(duration)
		}

		w.LatestStart = latestStart
		w.LatestFinish = latestFinish
	}

	// Forward pass. Pinned steps may start at the top of their
	// make-ahead day; everything else waits for the window to open and
	// for the previous step's rest to elapse.
	for i, node := range chain {
		w := windows[i]
		if w.Pinned {
			pinnedDay := servingDay.AddDate(0, 0, -node.Group.NightsBeforeServing)
			w.EarliestStart = pinnedDay
		} else {
			w.EarliestStart = opts.WindowStart
		}
		if i > 0 {
			prev := chain[i-1]
			prevReady := windows[i-1].EarliestStart.
				Add(minutes(prev.Group.DurationMinutes)).
				Add(minutes(prev.Group.RestMinutes))
			if prevReady.After(w.EarliestStart) {
				w.EarliestStart = prevReady
			}
		}
	}

	for i, w := range windows {
		if w.LatestStart.Before(w.EarliestStart) {
			node := chain[i]
			return nil, fmt.Errorf("step %d (%s) must start by %s but cannot start before %s",
				node.Group.Index, node.Group.Name,
				w.LatestStart.Format("Mon 15:04"), w.EarliestStart.Format("Mon 15:04"))
		}
	}

	return windows, nil
}

func minutes(n int) time.Duration {
	return time.Duration(n) * time.Minute
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
