/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package resolver repairs allocation conflicts with one bounded pass
// per conflicted step: shift it earlier, trading wait time for free
// equipment, and try the allocator once more on the narrowed window.
// There is no backtracking. Whatever a single shift cannot fix is
// surfaced as an unresolved conflict for a human to re-sequence.
package resolver

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/andhrimnir_kitchen/internal/allocator"
	"github.com/friendsincode/andhrimnir_kitchen/internal/telemetry"
)

// DefaultMaxShifts bounds repair attempts across a whole plan run.
const DefaultMaxShifts = 64

// Limits bound the repair pass.
type Limits struct {
	// MaxShifts is the total shift budget for the run. Values below 1
	// fall back to DefaultMaxShifts.
	MaxShifts int
}

// Resolve attempts one repair per conflict, in the order the allocator
// reported them, and returns the conflicts that remain. The assignment
// is updated in place as repairs land.
func Resolve(a *allocator.Assignment, conflicts []allocator.Conflict, limits Limits, logger zerolog.Logger) []allocator.Conflict {
	budget := limits.MaxShifts
	if budget < 1 {
		budget = DefaultMaxShifts
	}

	remaining := make([]allocator.Conflict, 0, len(conflicts))
	for _, c := range conflicts {
		// Already-terminal conflicts pass straight through.
		if c.Type == allocator.ConflictUnresolved {
			remaining = append(remaining, c)
			continue
		}

		floor, ceiling, ok := a.WindowFor(c.StepGroupID)
		if !ok {
			remaining = append(remaining, unresolved(c, c.Message))
			continue
		}

		target, found := shiftTarget(c, floor, ceiling)
		if !found {
			logger.Warn().
				Str("step_group", c.StepGroupID).
				Str("recipe", c.RecipeName).
				Str("cause", string(c.Type)).
				Msg("no earlier start frees the equipment within the wait budget")
			remaining = append(remaining, unresolved(c, fmt.Sprintf(
				"%s; shifting earlier is not allowed within its wait budget", c.Message)))
			continue
		}

		if budget == 0 {
			remaining = append(remaining, unresolved(c, fmt.Sprintf(
				"%s; shift budget exhausted before it could be retried", c.Message)))
			continue
		}
		budget--
		telemetry.ResolverShiftsTotal.Inc()

		placement, retryConflict := a.Retry(c.StepGroupID, target)
		if placement != nil {
			logger.Info().
				Str("step_group", c.StepGroupID).
				Str("recipe", c.RecipeName).
				Time("starts_at", placement.StartsAt).
				Str("resource", placement.Resource).
				Msg("shifted step earlier to clear a conflict")
			continue
		}

		logger.Warn().
			Str("step_group", c.StepGroupID).
			Str("recipe", c.RecipeName).
			Str("cause", string(c.Type)).
			Msg("conflict survived its repair attempt")
		out := unresolved(c, retryConflict.Message)
		if len(retryConflict.Blocking) > 0 {
			out.Blocking = retryConflict.Blocking
		}
		remaining = append(remaining, out)
	}
	return remaining
}

// shiftTarget picks the latest start that clears a blocking placement:
// for each blocker, finishing just as it begins. Only starts inside the
// step's chain- and wait-adjusted window qualify.
func shiftTarget(c allocator.Conflict, floor, ceiling time.Time) (time.Time, bool) {
	duration := time.Duration(c.DurationMinutes) * time.Minute
	var best time.Time
	var found bool
	for _, b := range c.Blocking {
		candidate := b.StartsAt.Add(-duration)
		if candidate.After(ceiling) {
			candidate = ceiling
		}
		if candidate.Before(floor) {
			continue
		}
		if !found || candidate.After(best) {
			best = candidate
			found = true
		}
	}
	return best, found
}

// unresolved re-types a conflict as terminal while keeping the original
// diagnosis available to the report.
func unresolved(c allocator.Conflict, message string) allocator.Conflict {
	out := c
	out.Type = allocator.ConflictUnresolved
	out.Message = message
	details := make(map[string]any, len(c.Details)+2)
	for k, v := range c.Details {
		details[k] = v
	}
	details["cause"] = string(c.Type)
	details["cause_message"] = c.Message
	out.Details = details
	return out
}
