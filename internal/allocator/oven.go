/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package allocator

import (
	"fmt"
	"sort"
	"time"

	"github.com/friendsincode/andhrimnir_kitchen/internal/models"
)

// ovenGrid tracks committed oven placements. The time axis is
// continuous; the rack axis is Racks discrete rows of RackPositions
// height each.
type ovenGrid struct {
	specs  []OvenSpec
	placed [][]*Placement
}

func newOvenGrid(profile Profile) *ovenGrid {
	return &ovenGrid{
		specs:  profile.Ovens,
		placed: make([][]*Placement, len(profile.Ovens)),
	}
}

func (g *ovenGrid) commit(p *Placement) {
	g.placed[p.ovenIdx] = append(g.placed[p.ovenIdx], p)
}

// eligibleOvens returns the indexes of ovens that could ever host the
// step, preferring ovens already running its temperature so partitions
// consolidate onto shared units.
func (g *ovenGrid) eligibleOvens(group models.StepGroup) []int {
	var ovens []int
	for i, spec := range g.specs {
		if spec.Racks < 1 || spec.RackPositions < 1 {
			continue
		}
		if spec.MaxTemperatureF > 0 && group.TemperatureF > spec.MaxTemperatureF {
			continue
		}
		if group.HeightSlots > spec.RackPositions {
			continue
		}
		ovens = append(ovens, i)
	}
	sort.SliceStable(ovens, func(a, b int) bool {
		ha := g.hostsTemperature(ovens[a], group.TemperatureF)
		hb := g.hostsTemperature(ovens[b], group.TemperatureF)
		if ha != hb {
			return ha
		}
		return ovens[a] < ovens[b]
	})
	return ovens
}

func (g *ovenGrid) hostsTemperature(idx, temperatureF int) bool {
	for _, p := range g.placed[idx] {
		if p.TemperatureF == temperatureF {
			return true
		}
	}
	return false
}

// place finds the latest feasible start for an oven step within
// [floor, ceiling]. It never commits; the caller decides that.
func (g *ovenGrid) place(it *item, floor, ceiling time.Time) (*Placement, *miss) {
	group := it.win.Node.Group
	duration := it.win.Duration()

	ovens := g.eligibleOvens(group)
	if len(ovens) == 0 {
		return nil, g.staticMiss(group)
	}

	m := &miss{}
	for _, start := range g.candidateStarts(ovens, duration, floor, ceiling) {
		for _, idx := range ovens {
			row, ok, tempOK := g.rowFor(idx, group, start, start.Add(duration))
			if tempOK && !ok {
				m.sawTemperatureFit = true
			}
			if ok {
				return newOvenPlacement(it, g.specs[idx], idx, row, start), nil
			}
		}
	}

	m.blockers = g.blockersWithin(ovens, floor, ceiling.Add(duration))
	return nil, m
}

// fitsExact re-checks a candidate computed against a different grid
// state, at its exact oven, row, and time. Used by the merge step.
func (g *ovenGrid) fitsExact(p *Placement) (ok, temperatureClash bool) {
	for _, q := range g.placed[p.ovenIdx] {
		if !overlaps(q.StartsAt, q.EndsAt, p.StartsAt, p.EndsAt) {
			continue
		}
		if q.TemperatureF != p.TemperatureF {
			return false, true
		}
		if q.Row != p.Row {
			continue
		}
		if p.Width == models.WidthFull || q.Width == models.WidthFull {
			return false, false
		}
		if q.HeightSlots+p.HeightSlots > g.specs[p.ovenIdx].RackPositions {
			return false, false
		}
	}
	if !g.rowPairwiseClear(p) {
		return false, false
	}
	return true, false
}

// rowPairwiseClear enforces that no instant puts three dishes in one
// row: two committed half dishes that overlap each other may not both
// overlap the candidate.
func (g *ovenGrid) rowPairwiseClear(p *Placement) bool {
	var mates []*Placement
	for _, q := range g.placed[p.ovenIdx] {
		if q.Row == p.Row && overlaps(q.StartsAt, q.EndsAt, p.StartsAt, p.EndsAt) {
			mates = append(mates, q)
		}
	}
	for i := 0; i < len(mates); i++ {
		for j := i + 1; j < len(mates); j++ {
			if overlaps(mates[i].StartsAt, mates[i].EndsAt, mates[j].StartsAt, mates[j].EndsAt) {
				return false
			}
		}
	}
	return true
}

// rowFor finds the lowest row of one oven that can take the step over
// [start, end). tempOK reports whether the oven-wide temperature check
// passed, so callers can tell rack congestion from temperature clashes.
func (g *ovenGrid) rowFor(idx int, group models.StepGroup, start, end time.Time) (row int, ok, tempOK bool) {
	var overlapping []*Placement
	for _, q := range g.placed[idx] {
		if overlaps(q.StartsAt, q.EndsAt, start, end) {
			overlapping = append(overlapping, q)
		}
	}
	// An oven runs one temperature at a time.
	for _, q := range overlapping {
		if q.TemperatureF != group.TemperatureF {
			return 0, false, false
		}
	}

	spec := g.specs[idx]
	for row := 0; row < spec.Racks; row++ {
		var mates []*Placement
		for _, q := range overlapping {
			if q.Row == row {
				mates = append(mates, q)
			}
		}

		if group.Width == models.WidthFull {
			// A full dish owns the whole row.
			if len(mates) == 0 {
				return row, true, true
			}
			continue
		}

		fits := true
		for _, q := range mates {
			if q.Width != models.WidthHalf || q.HeightSlots+group.HeightSlots > spec.RackPositions {
				fits = false
				break
			}
		}
		if fits {
			// At most two half dishes may share a row at any instant.
			for i := 0; i < len(mates) && fits; i++ {
				for j := i + 1; j < len(mates); j++ {
					if overlaps(mates[i].StartsAt, mates[i].EndsAt, mates[j].StartsAt, mates[j].EndsAt) {
						fits = false
						break
					}
				}
			}
		}
		if fits {
			return row, true, true
		}
	}
	return 0, false, true
}

// candidateStarts enumerates start times worth trying, latest first.
// Every feasible region's upper edge is the ceiling, a committed start
// minus the duration, or a committed end, so scanning these finds the
// latest feasible start without walking the clock minute by minute.
func (g *ovenGrid) candidateStarts(ovens []int, duration time.Duration, floor, ceiling time.Time) []time.Time {
	set := map[time.Time]bool{ceiling: true}
	for _, idx := range ovens {
		for _, q := range g.placed[idx] {
			for _, c := range []time.Time{q.StartsAt.Add(-duration), q.EndsAt} {
				if !c.Before(floor) && !c.After(ceiling) {
					set[c] = true
				}
			}
		}
	}
	starts := make([]time.Time, 0, len(set))
	for c := range set {
		starts = append(starts, c)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i].After(starts[j]) })
	return starts
}

func (g *ovenGrid) blockersWithin(ovens []int, from, to time.Time) []*Placement {
	var blockers []*Placement
	for _, idx := range ovens {
		for _, q := range g.placed[idx] {
			if overlaps(q.StartsAt, q.EndsAt, from, to) {
				blockers = append(blockers, q)
			}
		}
	}
	return blockers
}

func (g *ovenGrid) staticMiss(group models.StepGroup) *miss {
	if len(g.specs) == 0 {
		return &miss{static: true, note: "the kitchen has no ovens"}
	}
	reachable := false
	for _, spec := range g.specs {
		if spec.MaxTemperatureF == 0 || group.TemperatureF <= spec.MaxTemperatureF {
			reachable = true
			break
		}
	}
	if !reachable {
		return &miss{static: true, note: fmt.Sprintf("no oven reaches %d°F", group.TemperatureF)}
	}
	return &miss{
		static:            true,
		sawTemperatureFit: true,
		note:              fmt.Sprintf("needs %d rack slots but no oven rack is that tall", group.HeightSlots),
	}
}

func newOvenPlacement(it *item, spec OvenSpec, idx, row int, start time.Time) *Placement {
	group := it.win.Node.Group
	return &Placement{
		StepGroupID:  group.ID,
		StepName:     group.Name,
		RecipeID:     it.win.Node.RecipeID,
		RecipeName:   it.win.Node.RecipeName,
		Resource:     "oven:" + spec.ID,
		ResourceName: spec.Name,
		Row:          row,
		StartsAt:     start,
		EndsAt:       start.Add(it.win.Duration()),
		TemperatureF: group.TemperatureF,
		Width:        group.Width,
		HeightSlots:  group.HeightSlots,
		ovenIdx:      idx,
	}
}

func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}
