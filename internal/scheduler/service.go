/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/teambition/rrule-go"
	"gorm.io/gorm"

	"github.com/friendsincode/andhrimnir_kitchen/internal/allocator"
	"github.com/friendsincode/andhrimnir_kitchen/internal/backsolve"
	"github.com/friendsincode/andhrimnir_kitchen/internal/cache"
	"github.com/friendsincode/andhrimnir_kitchen/internal/events"
	"github.com/friendsincode/andhrimnir_kitchen/internal/models"
	"github.com/friendsincode/andhrimnir_kitchen/internal/resolver"
	"github.com/friendsincode/andhrimnir_kitchen/internal/scheduler/state"
	"github.com/friendsincode/andhrimnir_kitchen/internal/stepgraph"
	"github.com/friendsincode/andhrimnir_kitchen/internal/telemetry"
	"github.com/friendsincode/andhrimnir_kitchen/internal/timeline"
)

// Pipeline phases, logged as each plan computation advances.
const (
	phaseBuilding        = "building"
	phaseBackwardSolved  = "backward_solved"
	phaseAllocated       = "allocated"
	phaseResolved        = "resolved"
	phaseConflictsRemain = "conflicts_remain"
	phaseReported        = "reported"
)

// Options carries the planner knobs, normally filled from config.
type Options struct {
	EveningHour        int
	WindowHours        int
	ServeBufferMinutes int
	MaxShifts          int
	Workers            int

	// Lookahead bounds how far ahead recurring meals materialize.
	Lookahead time.Duration
}

// Service runs the planning pipeline and the recurring-meal
// materializer loop.
type Service struct {
	db         *gorm.DB
	bus        *events.Bus
	stateStore *state.Store
	cache      *cache.Cache
	opts       Options
	logger     zerolog.Logger

	warnMu     sync.Mutex
	warnedKeys map[string]struct{}

	mu          sync.Mutex
	lastCleanup time.Time
}

// New constructs the scheduler service.
func New(db *gorm.DB, bus *events.Bus, stateStore *state.Store, opts Options, logger zerolog.Logger) *Service {
	if opts.Lookahead <= 0 {
		opts.Lookahead = 7 * 24 * time.Hour
	}
	if opts.WindowHours <= 0 {
		opts.WindowHours = 24
	}
	return &Service{
		db:         db,
		bus:        bus,
		stateStore: stateStore,
		opts:       opts,
		logger:     logger.With().Str("component", "scheduler").Logger(),
		warnedKeys: make(map[string]struct{}),
	}
}

// SetCache sets the cache instance for the scheduler.
func (s *Service) SetCache(c *cache.Cache) {
	s.cache = c
}

// PlanResult bundles the persisted record with the rendered timeline.
type PlanResult struct {
	Record   *models.PlanRecord
	Timeline *timeline.Timeline
	CacheHit bool
}

// Plan computes the cooking timeline for a menu: load inputs, solve
// backward from the meal, allocate equipment, repair conflicts, report.
// Malformed input aborts; every later failure degrades to a partial
// plan rather than an error.
func (s *Service) Plan(ctx context.Context, kitchenID string, recipeIDs []string, mealTime time.Time) (*PlanResult, error) {
	return s.plan(ctx, kitchenID, recipeIDs, mealTime, nil)
}

func (s *Service) plan(ctx context.Context, kitchenID string, recipeIDs []string, mealTime time.Time, instanceID *string) (*PlanResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "scheduler", "plan")
	defer span.End()
	telemetry.AddSpanAttributes(span, map[string]any{
		"kitchen_id": kitchenID,
		"meal_time":  mealTime.Format(time.RFC3339),
		"recipes":    len(recipeIDs),
	})

	started := time.Now()
	fail := func(err error) (*PlanResult, error) {
		telemetry.RecordError(span, err)
		telemetry.PlanBuildsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	if len(recipeIDs) == 0 {
		return fail(fmt.Errorf("plan kitchen %s: no recipes selected", kitchenID))
	}

	profile, err := s.loadProfile(ctx, kitchenID)
	if err != nil {
		return fail(fmt.Errorf("load kitchen %s: %w", kitchenID, err))
	}
	recipes, err := s.loadRecipes(ctx, kitchenID, recipeIDs)
	if err != nil {
		return fail(err)
	}

	hash := planHash(profile, recipes, mealTime, s.opts)
	if cached := s.cachedResult(ctx, hash); cached != nil {
		s.logger.Debug().Str("plan_hash", hash).Msg("plan served from cache")
		return cached, nil
	}

	s.logger.Info().
		Str("phase", phaseBuilding).
		Str("kitchen", kitchenID).
		Time("meal_time", mealTime).
		Int("recipes", len(recipes)).
		Msg("building plan")

	graph, err := stepgraph.Build(recipes)
	if err != nil {
		return fail(err)
	}

	solution, err := backsolve.Solve(graph, mealTime, backsolve.Options{
		WindowStart:        mealTime.Add(-time.Duration(s.opts.WindowHours) * time.Hour),
		EveningHour:        s.opts.EveningHour,
		ServeBufferMinutes: s.opts.ServeBufferMinutes,
	})
	if err != nil {
		return fail(err)
	}
	s.logger.Debug().
		Str("phase", phaseBackwardSolved).
		Int("windows", len(solution.Ordered)).
		Int("excluded", len(solution.Excluded)).
		Msg("deadlines solved")

	assignment, conflicts := allocator.Allocate(solution, profile, allocator.Options{Workers: s.opts.Workers})
	s.logger.Debug().
		Str("phase", phaseAllocated).
		Int("placed", len(assignment.Placements())).
		Int("conflicts", len(conflicts)).
		Msg("equipment allocated")

	remaining := resolver.Resolve(assignment, conflicts, resolver.Limits{MaxShifts: s.opts.MaxShifts}, s.logger)
	phaseDone := phaseResolved
	if len(remaining) > 0 {
		phaseDone = phaseConflictsRemain
	}
	s.logger.Debug().Str("phase", phaseDone).Int("conflicts", len(remaining)).Msg("conflict repair finished")

	tl := timeline.Report(solution, assignment, remaining)

	record, payload, err := s.persist(ctx, kitchenID, instanceID, hash, tl)
	if err != nil {
		return fail(fmt.Errorf("persist plan: %w", err))
	}
	s.logger.Info().
		Str("phase", phaseReported).
		Str("plan_id", record.ID).
		Str("status", string(tl.Status)).
		Int("entries", len(tl.Entries)).
		Int("conflicts", len(tl.Conflicts)).
		Int("excluded", len(tl.Excluded)).
		Msg("plan reported")

	s.finish(ctx, record, tl, hash, payload, time.Since(started))
	return &PlanResult{Record: record, Timeline: tl}, nil
}

// PlanForInstance computes and attaches a timeline for one materialized
// meal occurrence.
func (s *Service) PlanForInstance(ctx context.Context, instanceID string) (*PlanResult, error) {
	var instance models.MealInstance
	err := s.db.WithContext(ctx).Preload("MealPlan").First(&instance, "id = ?", instanceID).Error
	if err != nil {
		return nil, fmt.Errorf("load meal instance %s: %w", instanceID, err)
	}
	if instance.IsCancelled() {
		return nil, fmt.Errorf("meal instance %s is cancelled", instanceID)
	}
	if instance.MealPlan == nil || len(instance.MealPlan.RecipeIDs) == 0 {
		return nil, fmt.Errorf("meal instance %s has no menu", instanceID)
	}

	result, err := s.plan(ctx, instance.KitchenID, instance.MealPlan.RecipeIDs, instance.ServesAt, &instance.ID)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{"plan_record_id": result.Record.ID}
	if instance.Status == models.MealInstanceScheduled {
		updates["status"] = models.MealInstancePlanned
	}
	if err := s.db.WithContext(ctx).Model(&models.MealInstance{}).
		Where("id = ?", instance.ID).Updates(updates).Error; err != nil {
		s.logger.Warn().Err(err).Str("instance", instance.ID).Msg("failed to link plan to meal instance")
	}
	return result, nil
}

// loadProfile resolves a kitchen's equipment, using cache when available.
func (s *Service) loadProfile(ctx context.Context, kitchenID string) (allocator.Profile, error) {
	if s.cache != nil {
		if cached, ok := s.cache.GetKitchen(ctx, kitchenID); ok {
			return profileFromCached(cached), nil
		}
	}

	var kitchen models.Kitchen
	err := s.db.WithContext(ctx).Preload("Ovens").First(&kitchen, "id = ?", kitchenID).Error
	if err != nil {
		return allocator.Profile{}, err
	}

	if s.cache != nil {
		if err := s.cache.SetKitchen(ctx, cachedFromKitchen(kitchen)); err != nil {
			s.logger.Debug().Err(err).Str("kitchen_id", kitchenID).Msg("failed to cache kitchen")
		}
	}
	return allocator.ProfileFromKitchen(kitchen), nil
}

// loadRecipes fetches the menu and returns it in the requested order,
// which downstream tie-breaking depends on.
func (s *Service) loadRecipes(ctx context.Context, kitchenID string, recipeIDs []string) ([]models.Recipe, error) {
	var rows []models.Recipe
	err := s.db.WithContext(ctx).
		Preload("StepGroups").
		Where("id IN ?", recipeIDs).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load recipes: %w", err)
	}

	byID := make(map[string]models.Recipe, len(rows))
	for _, r := range rows {
		byID[r.ID] = r
	}

	recipes := make([]models.Recipe, 0, len(recipeIDs))
	for _, id := range recipeIDs {
		r, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("recipe %s not found", id)
		}
		if r.KitchenID != kitchenID {
			return nil, fmt.Errorf("recipe %s does not belong to kitchen %s", id, kitchenID)
		}
		recipes = append(recipes, r)
	}
	return recipes, nil
}

func (s *Service) cachedResult(ctx context.Context, hash string) *PlanResult {
	if s.cache == nil {
		return nil
	}
	data, ok := s.cache.GetTimeline(ctx, hash)
	if !ok {
		return nil
	}
	var tl timeline.Timeline
	if err := json.Unmarshal(data, &tl); err != nil {
		s.logger.Debug().Err(err).Str("plan_hash", hash).Msg("cached timeline unreadable")
		return nil
	}
	var record models.PlanRecord
	err := s.db.WithContext(ctx).
		Where("plan_hash = ?", hash).
		Order("created_at DESC").
		First(&record).Error
	if err != nil {
		return nil
	}
	telemetry.PlanBuildsTotal.WithLabelValues("cached").Inc()
	return &PlanResult{Record: &record, Timeline: &tl, CacheHit: true}
}

func (s *Service) persist(ctx context.Context, kitchenID string, instanceID *string, hash string, tl *timeline.Timeline) (*models.PlanRecord, []byte, error) {
	payload, err := json.Marshal(tl)
	if err != nil {
		return nil, nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, nil, err
	}

	record := &models.PlanRecord{
		ID:             uuid.NewString(),
		KitchenID:      kitchenID,
		MealInstanceID: instanceID,
		MealTime:       tl.MealTime,
		Status:         tl.Status,
		PlanHash:       hash,
		Timeline:       doc,
		EntryCount:     len(tl.Entries),
		ConflictCount:  len(tl.Conflicts),
		ExcludedCount:  len(tl.Excluded),
	}
	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		return nil, nil, err
	}
	return record, payload, nil
}

// finish records metrics, publishes events, and caches the result.
func (s *Service) finish(ctx context.Context, record *models.PlanRecord, tl *timeline.Timeline, hash string, payload []byte, took time.Duration) {
	status := string(tl.Status)
	telemetry.PlanBuildDuration.WithLabelValues(status).Observe(took.Seconds())
	telemetry.PlanBuildsTotal.WithLabelValues(status).Inc()

	for _, c := range tl.Conflicts {
		telemetry.PlanConflictsTotal.WithLabelValues(string(c.Cause())).Inc()
		s.bus.Publish(events.EventPlanConflict, events.Payload{
			"plan_id":       record.ID,
			"kitchen_id":    record.KitchenID,
			"step_group_id": c.StepGroupID,
			"recipe_name":   c.RecipeName,
			"type":          string(c.Type),
			"cause":         string(c.Cause()),
			"message":       c.Message,
		})
	}
	for _, ex := range tl.Excluded {
		telemetry.PlanRecipesExcludedTotal.Inc()
		s.bus.Publish(events.EventRecipeExcluded, events.Payload{
			"plan_id":     record.ID,
			"kitchen_id":  record.KitchenID,
			"recipe_id":   ex.RecipeID,
			"recipe_name": ex.RecipeName,
			"reason":      ex.Reason,
		})
	}
	s.bus.Publish(events.EventPlanComputed, events.Payload{
		"plan_id":    record.ID,
		"kitchen_id": record.KitchenID,
		"meal_time":  tl.MealTime,
		"status":     status,
		"entries":    len(tl.Entries),
		"conflicts":  len(tl.Conflicts),
		"excluded":   len(tl.Excluded),
	})

	s.stateStore.Add(state.RecentRun{
		PlanID:    record.ID,
		KitchenID: record.KitchenID,
		MealTime:  tl.MealTime,
		Status:    status,
		Entries:   len(tl.Entries),
		Conflicts: len(tl.Conflicts),
		Excluded:  len(tl.Excluded),
		Took:      took,
		RanAt:     time.Now().UTC(),
	})
	s.stateStore.Prune(time.Now().Add(-24 * time.Hour))

	if s.cache != nil {
		if err := s.cache.SetTimeline(ctx, hash, payload); err != nil {
			s.logger.Debug().Err(err).Str("plan_hash", hash).Msg("failed to cache timeline")
		}
	}
}

// planHash fingerprints everything the pipeline consumes. Two requests
// with the same hash always produce the same timeline.
func planHash(profile allocator.Profile, recipes []models.Recipe, mealTime time.Time, opts Options) string {
	h := sha256.New()
	enc := json.NewEncoder(h)
	_ = enc.Encode(profile)
	for _, r := range recipes {
		_ = enc.Encode(struct {
			ID     string
			Groups []models.StepGroup
		}{r.ID, r.StepGroups})
	}
	fmt.Fprintf(h, "%d|%d|%d|%d|%d|%d",
		mealTime.Unix(), opts.EveningHour, opts.WindowHours,
		opts.ServeBufferMinutes, opts.MaxShifts, opts.Workers)
	return hex.EncodeToString(h.Sum(nil))
}

func profileFromCached(k *cache.CachedKitchen) allocator.Profile {
	p := allocator.Profile{KitchenID: k.ID, Burners: k.Burners}
	for _, o := range k.Ovens {
		p.Ovens = append(p.Ovens, allocator.OvenSpec{
			ID:              o.ID,
			Name:            o.Name,
			Racks:           o.Racks,
			RackPositions:   o.RackPositions,
			MaxTemperatureF: o.MaxTemperatureF,
		})
	}
	return p
}

func cachedFromKitchen(k models.Kitchen) *cache.CachedKitchen {
	cached := &cache.CachedKitchen{
		ID:       k.ID,
		Name:     k.Name,
		Timezone: k.Timezone,
		Burners:  k.Burners,
	}
	for _, o := range k.Ovens {
		cached.Ovens = append(cached.Ovens, cache.CachedOven{
			ID:              o.ID,
			Name:            o.Name,
			Racks:           o.Racks,
			RackPositions:   o.RackPositions,
			MaxTemperatureF: o.MaxTemperatureF,
		})
	}
	return cached
}

// Run executes the recurring-meal materializer loop until the context
// is cancelled.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	s.logger.Info().Msg("materializer loop started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("materializer loop stopped")
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Service) tick(ctx context.Context) {
	telemetry.MaterializerTicksTotal.Inc()

	var plans []models.MealPlan
	err := s.db.WithContext(ctx).
		Where("active = ?", true).
		Find(&plans).Error
	if err != nil {
		s.logger.Error().Err(err).Msg("materializer failed to load meal plans")
		telemetry.MaterializerErrorsTotal.Inc()
		return
	}

	for i := range plans {
		if err := s.materializePlan(ctx, &plans[i]); err != nil {
			s.logger.Warn().Err(err).Str("meal_plan", plans[i].ID).Msg("meal plan materialization failed")
			telemetry.MaterializerErrorsTotal.Inc()
		}
	}

	s.maybeCleanupStaleInstances(ctx)
}

// RefreshMealPlan triggers immediate materialization for one plan.
func (s *Service) RefreshMealPlan(ctx context.Context, mealPlanID string) error {
	var plan models.MealPlan
	if err := s.db.WithContext(ctx).First(&plan, "id = ?", mealPlanID).Error; err != nil {
		return err
	}
	return s.materializePlan(ctx, &plan)
}

func (s *Service) materializePlan(ctx context.Context, plan *models.MealPlan) error {
	ctx, span := telemetry.StartSpan(ctx, "scheduler", "materializePlan")
	defer span.End()
	telemetry.AddSpanAttributes(span, map[string]any{"meal_plan_id": plan.ID})

	now := time.Now().UTC()
	until := now.Add(s.opts.Lookahead)

	occurrences, err := s.expandOccurrences(plan, now, until)
	if err != nil {
		s.warnOnce("bad_rrule:"+plan.ID, func(e *zerolog.Event) {
			e.Str("meal_plan", plan.ID).Str("rrule", plan.RRule).Err(err).Msg("meal plan has an unusable recurrence rule")
		})
		telemetry.RecordError(span, err)
		return err
	}
	if len(occurrences) == 0 {
		reason, details, action := s.explainNoOccurrences(plan, now, until)
		s.logger.Info().
			Str("meal_plan", plan.ID).
			Str("reason", reason).
			Str("details", details).
			Str("action", action).
			Msg("no meals to materialize")
		return nil
	}

	created := 0
	for _, servesAt := range occurrences {
		var count int64
		err := s.db.WithContext(ctx).
			Model(&models.MealInstance{}).
			Where("meal_plan_id = ?", plan.ID).
			Where("serves_at = ?", servesAt).
			Count(&count).Error
		if err != nil {
			return err
		}
		if count > 0 {
			continue
		}

		instance := models.MealInstance{
			ID:         uuid.NewString(),
			MealPlanID: plan.ID,
			KitchenID:  plan.KitchenID,
			ServesAt:   servesAt,
			Status:     models.MealInstanceScheduled,
		}
		if err := s.db.WithContext(ctx).Create(&instance).Error; err != nil {
			return err
		}
		created++

		s.bus.Publish(events.EventMealMaterialized, events.Payload{
			"meal_plan_id": plan.ID,
			"instance_id":  instance.ID,
			"kitchen_id":   plan.KitchenID,
			"serves_at":    servesAt,
		})
	}

	if created > 0 {
		s.logger.Info().
			Str("meal_plan", plan.ID).
			Int("created", created).
			Time("until", until).
			Msg("materialized meal instances")
	}
	return nil
}

// expandOccurrences lists serving times in [from, until]. A plan with
// no recurrence rule is a one-off at DTStart.
func (s *Service) expandOccurrences(plan *models.MealPlan, from, until time.Time) ([]time.Time, error) {
	if plan.DTEnd != nil && plan.DTEnd.Before(until) {
		until = *plan.DTEnd
	}

	if plan.RRule == "" {
		if plan.DTStart.Before(from) || plan.DTStart.After(until) {
			return nil, nil
		}
		return []time.Time{plan.DTStart.UTC()}, nil
	}

	loc, err := time.LoadLocation(plan.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", plan.Timezone, err)
	}

	opt, err := rrule.StrToROption(plan.RRule)
	if err != nil {
		return nil, fmt.Errorf("parse rrule %q: %w", plan.RRule, err)
	}
	opt.Dtstart = plan.DTStart.In(loc)

	rule, err := rrule.NewRRule(*opt)
	if err != nil {
		return nil, fmt.Errorf("build rrule %q: %w", plan.RRule, err)
	}

	times := rule.Between(from.In(loc), until.In(loc), true)
	out := make([]time.Time, len(times))
	for i, t := range times {
		out[i] = t.UTC()
	}
	return out, nil
}

func (s *Service) explainNoOccurrences(plan *models.MealPlan, from, until time.Time) (reason, details, action string) {
	if plan.DTEnd != nil && plan.DTEnd.Before(from) {
		return "recurrence_ended", "The meal plan's recurrence ended " + plan.DTEnd.Format("2006-01-02") + ".", "Extend or clear the end date to keep serving this meal."
	}
	if plan.RRule == "" && plan.DTStart.Before(from) {
		return "one_off_in_past", "This is a one-off meal that already happened.", "Set a new serving time or add a recurrence rule."
	}
	if plan.RRule == "" && plan.DTStart.After(until) {
		return "outside_lookahead", "The serving time is beyond the materializer lookahead.", "It will materialize automatically as the date approaches."
	}
	return "no_occurrences_in_window", "The recurrence rule yields no servings in the current window.", "Check the rule's frequency and BYDAY terms against the lookahead."
}

// maybeCleanupStaleInstances removes past occurrences that were never
// planned or cooked. Runs at most once per hour.
func (s *Service) maybeCleanupStaleInstances(ctx context.Context) {
	s.mu.Lock()
	if time.Since(s.lastCleanup) < time.Hour {
		s.mu.Unlock()
		return
	}
	s.lastCleanup = time.Now()
	s.mu.Unlock()

	cutoff := time.Now().UTC().Add(-7 * 24 * time.Hour)
	result := s.db.WithContext(ctx).
		Where("serves_at < ? AND status = ?", cutoff, models.MealInstanceScheduled).
		Delete(&models.MealInstance{})
	if result.Error != nil {
		s.logger.Warn().Err(result.Error).Msg("failed to clean up stale meal instances")
		return
	}
	if result.RowsAffected > 0 {
		s.logger.Info().Int64("deleted", result.RowsAffected).Msg("cleaned up stale meal instances")
	}
}

// Upcoming returns meal instances within horizon.
func (s *Service) Upcoming(ctx context.Context, kitchenID string, from time.Time, horizon time.Duration) ([]models.MealInstance, error) {
	if horizon <= 0 {
		horizon = 24 * time.Hour
	}
	var instances []models.MealInstance
	err := s.db.WithContext(ctx).
		Where("kitchen_id = ?", kitchenID).
		Where("serves_at >= ?", from).
		Where("serves_at <= ?", from.Add(horizon)).
		Order("serves_at ASC").
		Find(&instances).Error
	return instances, err
}

// RecentRuns exposes the last day of plan computations.
func (s *Service) RecentRuns() []state.RecentRun {
	return s.stateStore.Recent()
}

func (s *Service) warnOnce(key string, logFn func(e *zerolog.Event)) {
	s.warnMu.Lock()
	if s.warnedKeys == nil {
		s.warnedKeys = make(map[string]struct{})
	}
	if _, ok := s.warnedKeys[key]; ok {
		s.warnMu.Unlock()
		return
	}
	s.warnedKeys[key] = struct{}{}
	s.warnMu.Unlock()

	logFn(s.logger.Warn())
}
