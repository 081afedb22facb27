/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package analytics

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/andhrimnir_kitchen/internal/models"
)

// RollupService periodically folds plan records into daily analytics rows.
type RollupService struct {
	db        *gorm.DB
	analytics *PlanAnalyticsService
	logger    zerolog.Logger

	interval  time.Duration
	retention time.Duration
}

// NewRollupService creates a new daily rollup service.
func NewRollupService(db *gorm.DB, analytics *PlanAnalyticsService, logger zerolog.Logger) *RollupService {
	return &RollupService{
		db:        db,
		analytics: analytics,
		logger:    logger.With().Str("component", "plan_rollup").Logger(),
		interval:  time.Hour,
		retention: 400 * 24 * time.Hour,
	}
}

// Start begins periodic rollup aggregation.
func (s *RollupService) Start(ctx context.Context) {
	s.logger.Info().Dur("interval", s.interval).Dur("retention", s.retention).Msg("plan rollup service started")

	// Aggregate once immediately so data appears quickly after startup.
	s.rollup(ctx, time.Now())

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("plan rollup service stopped")
			return
		case t := <-ticker.C:
			s.rollup(ctx, t)
			s.pruneOldRollups(ctx, t)
		}
	}
}

func (s *RollupService) rollup(ctx context.Context, now time.Time) {
	var kitchens []models.Kitchen
	if err := s.db.WithContext(ctx).Select("id").Find(&kitchens).Error; err != nil {
		s.logger.Warn().Err(err).Msg("failed to load kitchens for plan rollup")
		return
	}

	today := now.UTC()
	// Re-aggregate yesterday too so plans computed around midnight land.
	yesterday := today.AddDate(0, 0, -1)

	for _, kitchen := range kitchens {
		for _, day := range []time.Time{yesterday, today} {
			if err := s.analytics.AggregateDaily(ctx, kitchen.ID, day); err != nil {
				s.logger.Warn().Err(err).Str("kitchen_id", kitchen.ID).Msg("failed to aggregate daily plan analytics")
			}
		}
	}
}

func (s *RollupService) pruneOldRollups(ctx context.Context, now time.Time) {
	cutoff := now.Add(-s.retention).UTC()
	if err := s.db.WithContext(ctx).Where("date < ?", cutoff).Delete(&models.PlanAnalyticsDaily{}).Error; err != nil {
		s.logger.Warn().Err(err).Msg("failed to prune old plan rollups")
	}
}
