/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/friendsincode/andhrimnir_kitchen/internal/models"
)

// PlanAnalyticsService answers performance questions about computed plans.
type PlanAnalyticsService struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// NewPlanAnalyticsService creates a new plan analytics service.
func NewPlanAnalyticsService(db *gorm.DB, logger zerolog.Logger) *PlanAnalyticsService {
	return &PlanAnalyticsService{
		db:     db,
		logger: logger.With().Str("component", "plan_analytics").Logger(),
	}
}

// Summary aggregates plan outcomes for a kitchen in [start, end).
func (s *PlanAnalyticsService) Summary(ctx context.Context, kitchenID string, start, end time.Time) (*models.PlanSummary, error) {
	startDay := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	endDay := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC)

	// Query daily rollups if available; fall back to raw plan records if
	// none exist yet.
	var dailyCount int64
	_ = s.db.WithContext(ctx).Model(&models.PlanAnalyticsDaily{}).
		Where("kitchen_id = ? AND date >= ? AND date < ?", kitchenID, startDay, endDay).
		Count(&dailyCount).Error

	type row struct {
		PlanCount      int
		CompleteCount  int
		EntrySum       int
		ConflictSum    int
		ExcludedSum    int
		AvgLeadMinutes float64
	}

	var r row
	var err error
	if dailyCount > 0 {
		err = s.db.WithContext(ctx).Raw(`
			SELECT
				COALESCE(SUM(plan_count), 0) AS plan_count,
				COALESCE(SUM(complete_count), 0) AS complete_count,
				COALESCE(SUM(entry_count), 0) AS entry_sum,
				COALESCE(SUM(conflict_count), 0) AS conflict_sum,
				COALESCE(SUM(excluded_count), 0) AS excluded_sum,
				COALESCE(SUM(avg_lead_minutes * plan_count) / NULLIF(SUM(plan_count), 0), 0) AS avg_lead_minutes
			FROM plan_analytics_daily
			WHERE kitchen_id = ?
			AND date >= ? AND date < ?
		`, kitchenID, startDay, endDay).Scan(&r).Error
	} else {
		err = s.db.WithContext(ctx).Raw(`
			SELECT
				COUNT(*) AS plan_count,
				COALESCE(SUM(CASE WHEN status = 'complete' THEN 1 ELSE 0 END), 0) AS complete_count,
				COALESCE(SUM(entry_count), 0) AS entry_sum,
				COALESCE(SUM(conflict_count), 0) AS conflict_sum,
				COALESCE(SUM(excluded_count), 0) AS excluded_sum,
				COALESCE(AVG(EXTRACT(EPOCH FROM (meal_time - created_at)) / 60), 0) AS avg_lead_minutes
			FROM plan_records
			WHERE kitchen_id = ?
			AND created_at >= ? AND created_at < ?
		`, kitchenID, start, end).Scan(&r).Error
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query plan summary: %w", err)
	}

	summary := &models.PlanSummary{
		PlanCount:      r.PlanCount,
		CompleteCount:  r.CompleteCount,
		PartialCount:   r.PlanCount - r.CompleteCount,
		TotalConflicts: r.ConflictSum,
		TotalExcluded:  r.ExcludedSum,
		AvgLeadMinutes: r.AvgLeadMinutes,
	}
	if r.PlanCount > 0 {
		summary.AvgEntries = float64(r.EntrySum) / float64(r.PlanCount)
		summary.CompleteRate = float64(r.CompleteCount) / float64(r.PlanCount)
	}

	// Compare to the previous period of the same length.
	duration := end.Sub(start)
	prevRate := s.completeRate(ctx, kitchenID, start.Add(-duration), start)
	if prevRate > 0 {
		summary.TrendPercent = ((summary.CompleteRate - prevRate) / prevRate) * 100
	}

	return summary, nil
}

func (s *PlanAnalyticsService) completeRate(ctx context.Context, kitchenID string, start, end time.Time) float64 {
	var rate float64
	s.db.WithContext(ctx).Raw(`
		SELECT COALESCE(AVG(CASE WHEN status = 'complete' THEN 1.0 ELSE 0.0 END), 0)
		FROM plan_records
		WHERE kitchen_id = ?
		AND created_at >= ? AND created_at < ?
	`, kitchenID, start, end).Scan(&rate)
	return rate
}

// MealSlotLoad returns demand and conflict pressure by weekly time slot.
func (s *PlanAnalyticsService) MealSlotLoad(ctx context.Context, kitchenID string, start, end time.Time) ([]models.MealSlotLoad, error) {
	var results []models.MealSlotLoad

	rows, err := s.db.WithContext(ctx).Raw(`
		SELECT
			EXTRACT(DOW FROM mi.serves_at) AS day_of_week,
			EXTRACT(HOUR FROM mi.serves_at) AS hour,
			COUNT(*) AS meal_count,
			COALESCE(AVG(pr.conflict_count), 0) AS avg_conflicts,
			COALESCE(AVG(pr.entry_count), 0) AS avg_entries
		FROM meal_instances mi
		LEFT JOIN plan_records pr ON pr.id = mi.plan_record_id
		WHERE mi.kitchen_id = ?
		AND mi.serves_at >= ? AND mi.serves_at < ?
		GROUP BY EXTRACT(DOW FROM mi.serves_at), EXTRACT(HOUR FROM mi.serves_at)
		ORDER BY day_of_week, hour
	`, kitchenID, start, end).Rows()

	if err != nil {
		return nil, fmt.Errorf("failed to query meal slot load: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var l models.MealSlotLoad
		if err := rows.Scan(&l.DayOfWeek, &l.Hour, &l.MealCount, &l.AvgConflicts, &l.AvgEntries); err != nil {
			continue
		}
		results = append(results, l)
	}

	return results, nil
}

// BusiestSlots returns the highest-demand time slots over the last 30 days.
func (s *PlanAnalyticsService) BusiestSlots(ctx context.Context, kitchenID string, limit int) ([]models.MealSlotLoad, error) {
	end := time.Now()
	start := end.AddDate(0, 0, -30)

	slots, err := s.MealSlotLoad(ctx, kitchenID, start, end)
	if err != nil {
		return nil, err
	}

	// Sort by meal count descending. Simple bubble sort for small dataset.
	for i := 0; i < len(slots)-1; i++ {
		for j := 0; j < len(slots)-i-1; j++ {
			if slots[j].MealCount < slots[j+1].MealCount {
				slots[j], slots[j+1] = slots[j+1], slots[j]
			}
		}
	}

	if limit > 0 && limit < len(slots) {
		return slots[:limit], nil
	}
	return slots, nil
}

// PlanningSuggestions generates data-driven planning suggestions.
func (s *PlanAnalyticsService) PlanningSuggestions(ctx context.Context, kitchenID string) ([]models.PlanningSuggestion, error) {
	var suggestions []models.PlanningSuggestion

	end := time.Now()
	start := end.AddDate(0, 0, -30)

	summary, err := s.Summary(ctx, kitchenID, start, end)
	if err != nil {
		return nil, err
	}
	if summary.PlanCount == 0 {
		return suggestions, nil
	}

	busiest, err := s.BusiestSlots(ctx, kitchenID, 5)
	if err != nil {
		return nil, err
	}

	// Chronic conflicts across the board point at equipment, not timing.
	if summary.CompleteRate < 0.75 && summary.TotalConflicts > 0 {
		suggestions = append(suggestions, models.PlanningSuggestion{
			Type:       "add_equipment",
			Reason:     fmt.Sprintf("%d of %d plans kept unresolved conflicts over the last 30 days", summary.PartialCount, summary.PlanCount),
			Impact:     "An extra oven or burner would let more menus finish together",
			Confidence: 0.6,
		})
	}

	// Suggest moving meals out of slots that routinely conflict.
	for _, slot := range busiest[:min(3, len(busiest))] {
		if slot.AvgConflicts < 1 {
			continue
		}
		suggestion := models.PlanningSuggestion{
			Type:        "shift_meal",
			CurrentSlot: fmt.Sprintf("%s at %02d:00", dayName(slot.DayOfWeek), slot.Hour),
			Reason:      fmt.Sprintf("Meals in this slot average %.1f unresolved conflicts", slot.AvgConflicts),
			Impact:      "Serving an hour earlier or later spreads equipment demand",
			Confidence:  0.7,
		}
		if calmer, ok := calmerSameDaySlot(busiest, slot); ok {
			suggestion.SuggestedSlot = fmt.Sprintf("%s at %02d:00", dayName(calmer.DayOfWeek), calmer.Hour)
		}
		suggestions = append(suggestions, suggestion)
	}

	if summary.TotalExcluded > 0 {
		suggestions = append(suggestions, models.PlanningSuggestion{
			Type:       "trim_menu",
			Reason:     fmt.Sprintf("%d recipes were dropped for missing the meal time", summary.TotalExcluded),
			Impact:     "Move long steps to the night before or shorten the menu",
			Confidence: 0.8,
		})
	}

	return suggestions, nil
}

// calmerSameDaySlot finds another observed slot on the same day with
// fewer conflicts than the given one.
func calmerSameDaySlot(slots []models.MealSlotLoad, busy models.MealSlotLoad) (models.MealSlotLoad, bool) {
	best := busy
	found := false
	for _, slot := range slots {
		if slot.DayOfWeek != busy.DayOfWeek || slot.Hour == busy.Hour {
			continue
		}
		if slot.AvgConflicts < best.AvgConflicts {
			best = slot
			found = true
		}
	}
	return best, found
}

// dayName returns the day name for a day of week number.
func dayName(dow int) string {
	days := []string{"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday"}
	if dow >= 0 && dow < 7 {
		return days[dow]
	}
	return "Unknown"
}

// AggregateDaily folds one day of plan records into the daily rollup row.
func (s *PlanAnalyticsService) AggregateDaily(ctx context.Context, kitchenID string, date time.Time) error {
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	next := day.AddDate(0, 0, 1)
	now := time.Now().UTC()

	type row struct {
		PlanCount      int
		CompleteCount  int
		EntrySum       int
		ConflictSum    int
		ExcludedSum    int
		AvgLeadMinutes float64
	}

	var r row
	if err := s.db.WithContext(ctx).Raw(`
		SELECT
			COUNT(*) AS plan_count,
			COALESCE(SUM(CASE WHEN status = 'complete' THEN 1 ELSE 0 END), 0) AS complete_count,
			COALESCE(SUM(entry_count), 0) AS entry_sum,
			COALESCE(SUM(conflict_count), 0) AS conflict_sum,
			COALESCE(SUM(excluded_count), 0) AS excluded_sum,
			COALESCE(AVG(EXTRACT(EPOCH FROM (meal_time - created_at)) / 60), 0) AS avg_lead_minutes
		FROM plan_records
		WHERE kitchen_id = ? AND created_at >= ? AND created_at < ?
	`, kitchenID, day, next).Scan(&r).Error; err != nil {
		return fmt.Errorf("daily aggregation query: %w", err)
	}

	// Nothing planned that day: leave no rollup row behind.
	if r.PlanCount == 0 {
		return nil
	}

	rollup := models.PlanAnalyticsDaily{
		ID:             uuid.NewString(),
		KitchenID:      kitchenID,
		Date:           day,
		PlanCount:      r.PlanCount,
		CompleteCount:  r.CompleteCount,
		PartialCount:   r.PlanCount - r.CompleteCount,
		EntryCount:     r.EntrySum,
		ConflictCount:  r.ConflictSum,
		ExcludedCount:  r.ExcludedSum,
		AvgLeadMinutes: r.AvgLeadMinutes,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "kitchen_id"},
			{Name: "date"},
		},
		DoUpdates: clause.Assignments(map[string]any{
			"plan_count":       gorm.Expr("excluded.plan_count"),
			"complete_count":   gorm.Expr("excluded.complete_count"),
			"partial_count":    gorm.Expr("excluded.partial_count"),
			"entry_count":      gorm.Expr("excluded.entry_count"),
			"conflict_count":   gorm.Expr("excluded.conflict_count"),
			"excluded_count":   gorm.Expr("excluded.excluded_count"),
			"avg_lead_minutes": gorm.Expr("excluded.avg_lead_minutes"),
			"updated_at":       gorm.Expr("excluded.updated_at"),
		}),
	}).Create(&rollup).Error; err != nil {
		return fmt.Errorf("daily aggregation upsert: %w", err)
	}

	s.logger.Info().
		Str("kitchen", kitchenID).
		Time("date", day).
		Int("plans", r.PlanCount).
		Msg("daily plan analytics aggregated")
	return nil
}

// BackfillDaily runs AggregateDaily for each date in [start, end] inclusive.
func (s *PlanAnalyticsService) BackfillDaily(ctx context.Context, kitchenID string, start, end time.Time) error {
	startDay := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	endDay := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC)
	if endDay.Before(startDay) {
		startDay, endDay = endDay, startDay
	}

	for d := startDay; !d.After(endDay); d = d.AddDate(0, 0, 1) {
		if err := s.AggregateDaily(ctx, kitchenID, d); err != nil {
			return err
		}
	}
	return nil
}
