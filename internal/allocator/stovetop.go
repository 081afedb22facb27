/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package allocator

import (
	"sort"
	"time"
)

// burnerLedger packs stovetop steps in one dimension: at no instant may
// the burners in use exceed the kitchen's burner count.
type burnerLedger struct {
	capacity int
	placed   []*Placement
}

func newBurnerLedger(capacity int) *burnerLedger {
	return &burnerLedger{capacity: capacity}
}

func (l *burnerLedger) commit(p *Placement) {
	l.placed = append(l.placed, p)
}

// place finds the latest start in [floor, ceiling] where the step's
// burners fit under capacity. It never commits.
func (l *burnerLedger) place(it *item, floor, ceiling time.Time) (*Placement, *miss) {
	group := it.win.Node.Group
	duration := it.win.Duration()

	if group.Burners > l.capacity {
		return nil, &miss{static: true, note: "not enough burners on the stovetop"}
	}

	for _, start := range l.candidateStarts(duration, floor, ceiling) {
		if l.fits(start, start.Add(duration), group.Burners) {
			return &Placement{
				StepGroupID:  group.ID,
				StepName:     group.Name,
				RecipeID:     it.win.Node.RecipeID,
				RecipeName:   it.win.Node.RecipeName,
				Resource:     "stovetop",
				ResourceName: "stovetop",
				Row:          -1,
				StartsAt:     start,
				EndsAt:       start.Add(duration),
				Burners:      group.Burners,
				ovenIdx:      -1,
			}, nil
		}
	}

	m := &miss{}
	for _, q := range l.placed {
		if overlaps(q.StartsAt, q.EndsAt, floor, ceiling.Add(duration)) {
			m.blockers = append(m.blockers, q)
		}
	}
	return nil, m
}

// fits checks peak concurrent burner use over [start, end). Usage only
// changes at placement boundaries, so those are the instants sampled.
func (l *burnerLedger) fits(start, end time.Time, need int) bool {
	instants := []time.Time{start}
	for _, q := range l.placed {
		if q.StartsAt.After(start) && q.StartsAt.Before(end) {
			instants = append(instants, q.StartsAt)
		}
	}
	for _, at := range instants {
		used := need
		for _, q := range l.placed {
			if !at.Before(q.StartsAt) && at.Before(q.EndsAt) {
				used += q.Burners
			}
		}
		if used > l.capacity {
			return false
		}
	}
	return true
}

func (l *burnerLedger) candidateStarts(duration time.Duration, floor, ceiling time.Time) []time.Time {
	set := map[time.Time]bool{ceiling: true}
	for _, q := range l.placed {
		for _, c := range []time.Time{q.StartsAt.Add(-duration), q.EndsAt} {
			if !c.Before(floor) && !c.After(ceiling) {
				set[c] = true
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
