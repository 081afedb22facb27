/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package allocator places equipment-consuming step groups onto the
// kitchen's concrete equipment inside their backward-solved windows.
//
// Oven work is partitioned by target temperature. Each partition packs
// against its own empty copy of the ovens, in parallel, and a merge
// step then revalidates every candidate in one fixed global order:
// tightest wait tolerance first, then longest duration, then recipe
// input order. A candidate invalidated by another partition's
// commitments is re-searched against the committed grid before any
// conflict is raised, so conflicts report genuine contention only.
// The merge itself is serial in that fixed order, which keeps results
// identical for any worker count.
package allocator

import (
	"sort"
	"sync"
	"time"

	"github.com/friendsincode/andhrimnir_kitchen/internal/backsolve"
	"github.com/friendsincode/andhrimnir_kitchen/internal/models"
)

// Options tune the allocation pass.
type Options struct {
	// Workers caps how many temperature partitions pack concurrently.
	// Values below 1 mean sequential.
	Workers int
}

type item struct {
	win      *backsolve.Window
	inputIdx int
}

// ovenCandidate is one partition's proposed placement for a step
// group. A nil placement means the partition found none; the merge
// decides what that means against the committed schedule.
type ovenCandidate struct {
	placement *Placement
}

// Allocate places every window of the solution onto the profile's
// equipment. Steps that cannot be placed come back as conflicts, never
// as silent drops; the assignment stays valid and partial either way.
func Allocate(solution *backsolve.Solution, profile Profile, opts Options) (*Assignment, []Conflict) {
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}

	a := newAssignment(solution, profile)

	var ovenItems, stoveItems, prepItems []*item
	for idx, w := range solution.Ordered {
		it := &item{win: w, inputIdx: idx}
		a.items[w.Node.Group.ID] = it
		switch w.Node.Group.Equipment {
		case models.EquipmentOven:
			ovenItems = append(ovenItems, it)
		case models.EquipmentStovetop:
			stoveItems = append(stoveItems, it)
		default:
			prepItems = append(prepItems, it)
		}
	}
	sortForPlacement(ovenItems)
	sortForPlacement(stoveItems)
	sortForPlacement(prepItems)

	var conflicts []Conflict

	// Oven phase: pack temperature partitions in parallel, then merge
	// in global placement order.
	candidates := packPartitions(partitionByTemperature(ovenItems), profile, workers)
	for _, it := range ovenItems {
		if c := a.mergeOvenCandidate(it, candidates[it.win.Node.Group.ID]); c != nil {
			conflicts = append(conflicts, *c)
		}
	}

	// Stovetop phase: one-dimensional packing against burner capacity.
	for _, it := range stoveItems {
		floor, ceil := effectiveWindow(it, a.lookup)
		if floor.After(ceil) {
			conflicts = append(conflicts, a.windowClosedConflict(it, floor, ceil))
			continue
		}
		p, m := a.stove.place(it, floor, ceil)
		if p == nil {
			conflicts = append(conflicts, a.conflictFromMiss(it, m, floor, ceil))
			continue
		}
		a.commit(p)
	}

	// Prep phase: unequipped steps still get concrete slots so the
	// timeline covers every step. They only conflict when their chain
	// neighbors squeezed the window shut.
	for _, it := range prepItems {
		floor, ceil := effectiveWindow(it, a.lookup)
		if floor.After(ceil) {
			conflicts = append(conflicts, a.windowClosedConflict(it, floor, ceil))
			continue
		}
		a.commit(newPrepPlacement(it, ceil))
	}

	return a, conflicts
}

// sortForPlacement orders items so the least flexible claim their slots
// first: ascending wait tolerance with unbounded last, then descending
// duration, then recipe input order.
func sortForPlacement(items []*item) {
	sort.SliceStable(items, func(i, j int) bool {
		gi, gj := items[i].win.Node.Group, items[j].win.Node.Group
		wi, wj := gi.MaxWait(), gj.MaxWait()
		switch {
		case wi >= 0 && wj < 0:
			return true
		case wi < 0 && wj >= 0:
			return false
		case wi != wj:
			return wi < wj
		}
		if gi.DurationMinutes != gj.DurationMinutes {
			return gi.DurationMinutes > gj.DurationMinutes
		}
		return items[i].inputIdx < items[j].inputIdx
	})
}

func partitionByTemperature(items []*item) [][]*item {
	byTemp := make(map[int][]*item)
	for _, it := range items {
		t := it.win.Node.Group.TemperatureF
		byTemp[t] = append(byTemp[t], it)
	}
	temps := make([]int, 0, len(byTemp))
	for t := range byTemp {
		temps = append(temps, t)
	}
	sort.Ints(temps)
	parts := make([][]*item, 0, len(temps))
	for _, t := range temps {
		parts = append(parts, byTemp[t])
	}
	return parts
}

// packPartitions runs packPartition for every temperature partition,
// at most workers at a time, and folds the results into one map keyed
// by step group ID. Partitions share nothing, so the outcome does not
// depend on which finishes first.
func packPartitions(parts [][]*item, profile Profile, workers int) map[string]ovenCandidate {
	results := make([]map[string]ovenCandidate, len(parts))
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	for i, part := range parts {
		wg.Add(1)
		go func(i int, part []*item) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = packPartition(part, profile)
		}(i, part)
	}
	wg.Wait()

	merged := make(map[string]ovenCandidate)
	for _, m := range results {
		for id, cand := range m {
			merged[id] = cand
		}
	}
	return merged
}

// packPartition places one temperature partition onto an empty copy of
// the ovens, latest feasible start first, as if it had the kitchen to
// itself. Cross-partition contention is the merge step's problem.
func packPartition(part []*item, profile Profile) map[string]ovenCandidate {
	grid := newOvenGrid(profile)
	local := make(map[string]*Placement, len(part))
	lookup := func(id string) *Placement { return local[id] }

	out := make(map[string]ovenCandidate, len(part))
	for _, it := range part {
		id := it.win.Node.Group.ID
		floor, ceil := effectiveWindow(it, lookup)
		if floor.After(ceil) {
			out[id] = ovenCandidate{}
			continue
		}
		p, _ := grid.place(it, floor, ceil)
		if p == nil {
			out[id] = ovenCandidate{}
			continue
		}
		grid.commit(p)
		local[id] = p
		out[id] = ovenCandidate{placement: p}
	}
	return out
}

// mergeOvenCandidate validates one partition candidate against the
// committed schedule and commits it when it still holds. A candidate
// another partition's commitments invalidated does not become a
// conflict outright: the step is re-searched against the committed
// grid first, so a free oven elsewhere is never mistaken for
// contention. Only a failed re-search yields a conflict.
func (a *Assignment) mergeOvenCandidate(it *item, cand ovenCandidate) *Conflict {
	floor, ceil := effectiveWindow(it, a.lookup)
	if floor.After(ceil) {
		c := a.windowClosedConflict(it, floor, ceil)
		return &c
	}

	// Fast path: the candidate is still inside its window and its exact
	// oven, row, and interval are still clear. Candidates were computed
	// at the latest start an empty kitchen allows, so one that still
	// fits is already the latest feasible placement.
	if p := cand.placement; p != nil && !p.StartsAt.Before(floor) && !p.StartsAt.After(ceil) {
		if ok, _ := a.ovens.fitsExact(p); ok {
			a.commit(p)
			return nil
		}
	}

	p, m := a.ovens.place(it, floor, ceil)
	if p == nil {
		c := a.conflictFromMiss(it, m, floor, ceil)
		return &c
	}
	a.commit(p)
	return nil
}

// effectiveWindow tightens a step's backward-solved window against its
// wait tolerance and whichever chain neighbors are already placed. The
// ceiling honors a placed dependent's real start; the floor honors the
// wait budget and a placed predecessor's rest.
func effectiveWindow(it *item, lookup func(string) *Placement) (floor, ceiling time.Time) {
	w := it.win
	node := w.Node
	duration := w.Duration()
	rest := time.Duration(node.Group.RestMinutes) * time.Minute

	ceiling = w.LatestStart
	if node.Next != nil {
		if dep := lookup(node.Next.Group.ID); dep != nil {
			if c := dep.StartsAt.Add(-rest).Add(-duration); c.Before(ceiling) {
				ceiling = c
			}
		}
	}

	floor = w.EarliestStart
	if maxWait := node.Group.MaxWait(); maxWait >= 0 {
		if f := ceiling.Add(-time.Duration(maxWait) * time.Minute); f.After(floor) {
			floor = f
		}
	}
	if node.Prev != nil {
		if pred := lookup(node.Prev.Group.ID); pred != nil {
			ready := pred.EndsAt.Add(time.Duration(node.Prev.Group.RestMinutes) * time.Minute)
			if ready.After(floor) {
				floor = ready
			}
		}
	}
	return floor, ceiling
}
