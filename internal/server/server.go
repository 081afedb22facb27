/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/andhrimnir_kitchen/internal/analytics"
	"github.com/friendsincode/andhrimnir_kitchen/internal/api"
	"github.com/friendsincode/andhrimnir_kitchen/internal/audit"
	"github.com/friendsincode/andhrimnir_kitchen/internal/cache"
	"github.com/friendsincode/andhrimnir_kitchen/internal/config"
	"github.com/friendsincode/andhrimnir_kitchen/internal/db"
	"github.com/friendsincode/andhrimnir_kitchen/internal/eventbus"
	"github.com/friendsincode/andhrimnir_kitchen/internal/events"
	"github.com/friendsincode/andhrimnir_kitchen/internal/integrity"
	"github.com/friendsincode/andhrimnir_kitchen/internal/leadership"
	"github.com/friendsincode/andhrimnir_kitchen/internal/logbuffer"
	"github.com/friendsincode/andhrimnir_kitchen/internal/notifications"
	"github.com/friendsincode/andhrimnir_kitchen/internal/profile"
	"github.com/friendsincode/andhrimnir_kitchen/internal/schedule"
	"github.com/friendsincode/andhrimnir_kitchen/internal/scheduler"
	schedulerstate "github.com/friendsincode/andhrimnir_kitchen/internal/scheduler/state"
	"github.com/friendsincode/andhrimnir_kitchen/internal/telemetry"
	"github.com/friendsincode/andhrimnir_kitchen/internal/version"
	"github.com/friendsincode/andhrimnir_kitchen/internal/webhooks"
)

// Server bundles HTTP and supporting services.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server
	closers    []func() error

	db                   *gorm.DB
	cache                *cache.Cache
	logBuffer            *logbuffer.Buffer
	api                  *api.API
	scheduler            *scheduler.Service
	leaderAwareScheduler *scheduler.LeaderAwareScheduler
	bus                  *events.Bus
	busBridge            *eventbus.Bridge
	auditSvc             *audit.Service
	notificationSvc      *notifications.Service
	webhookSvc           *webhooks.Service
	rollupSvc            *analytics.RollupService
	versionChecker       *version.Checker

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs the server and wires dependencies.
func New(cfg *config.Config, logBuf *logbuffer.Buffer, logger zerolog.Logger) (*Server, error) {
	for _, warn := range cfg.LegacyEnvWarnings {
		logger.Warn().Msg(warn)
	}

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware("andhrimnir-kitchen-api"))
	router.Use(telemetry.MetricsMiddleware)
	// Skip timeout for the websocket event feed
	router.Use(func(next http.Handler) http.Handler {
		timeout := middleware.Timeout(60 * time.Second)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Upgrade") == "websocket" {
				next.ServeHTTP(w, r)
				return
			}
			timeout(next).ServeHTTP(w, r)
		})
	})

	srv := &Server{
		cfg:       cfg,
		logger:    logger,
		router:    router,
		bus:       events.NewBus(),
		logBuffer: logBuf,
	}

	if err := srv.initDependencies(); err != nil {
		return nil, err
	}

	srv.configureRoutes()
	srv.startBackgroundWorkers()

	addr := fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort)
	srv.httpServer = &http.Server{
		Addr:    addr,
		Handler: srv.router,
		// Keep header deadline to protect against slowloris. No write
		// deadline: the websocket event feed manages its own, and the
		// middleware timeout (60s) covers plain routes.
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       60 * time.Second,
	}

	return srv, nil
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'self'; frame-ancestors 'none'; base-uri 'self'")

		// Only advertise HSTS for requests served over HTTPS.
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) initDependencies() error {
	database, err := db.Connect(s.cfg)
	if err != nil {
		return err
	}
	if err := db.Migrate(database); err != nil {
		return err
	}
	s.db = database
	s.DeferClose(func() error { return db.Close(database) })

	// Seed the kitchen profile file on startup when configured.
	if s.cfg.KitchenProfilePath != "" {
		doc, err := profile.Load(s.cfg.KitchenProfilePath)
		if err != nil {
			return fmt.Errorf("load kitchen profile %s: %w", s.cfg.KitchenProfilePath, err)
		}
		seeded, err := profile.Seed(context.Background(), database, doc, s.logger)
		if err != nil {
			return fmt.Errorf("seed kitchen profile: %w", err)
		}
		s.logger.Info().
			Str("kitchen_id", seeded.KitchenID).
			Bool("kitchen_created", seeded.KitchenCreated).
			Int("recipes_created", seeded.RecipesCreated).
			Int("recipes_skipped", seeded.RecipesSkipped).
			Msg("kitchen profile seeded")
	}

	// Redis cache for kitchen profiles and computed timelines
	if s.cfg.CacheEnabled {
		cacheCfg := cache.DefaultConfig()
		cacheCfg.RedisAddr = s.cfg.RedisAddr
		cacheCfg.RedisPassword = s.cfg.RedisPassword
		cacheCfg.RedisDB = s.cfg.RedisDB
		entityCache, err := cache.New(cacheCfg, s.logger)
		if err != nil {
			s.logger.Warn().Err(err).Msg("cache initialization failed, continuing without cache")
		} else {
			s.cache = entityCache
			s.DeferClose(func() error { return s.cache.Close() })
		}
	}

	// Bridge cache invalidation events between nodes when a distributed
	// bus backend is configured.
	if s.cfg.BusBackend != config.BusInProcess {
		bridge, err := eventbus.NewBridge(s.cfg, s.bus, eventbus.BridgedEvents, s.logger)
		if err != nil {
			s.logger.Warn().Err(err).Msg("event bridge initialization failed, events stay node-local")
		} else {
			s.busBridge = bridge
			s.DeferClose(func() error { return s.busBridge.Close() })
		}
	}

	stateStore := schedulerstate.NewStore()
	opts := scheduler.Options{
		EveningHour:        s.cfg.PrepEveningHour,
		WindowHours:        s.cfg.PlannerWindowHours,
		ServeBufferMinutes: s.cfg.ServeBufferMinutes,
		MaxShifts:          s.cfg.PlannerMaxShifts,
		Workers:            s.cfg.PlannerWorkers,
		Lookahead:          s.cfg.MaterializeLookahead,
	}
	s.scheduler = scheduler.New(database, s.bus, stateStore, opts, s.logger)

	if s.cache != nil {
		s.scheduler.SetCache(s.cache)
	}

	// Leader election keeps a single materializer across instances
	if s.cfg.LeaderElectionEnabled {
		electionConfig := leadership.ElectionConfig{
			RedisAddr:     s.cfg.RedisAddr,
			RedisPassword: s.cfg.RedisPassword,
			RedisDB:       s.cfg.RedisDB,
			InstanceID:    s.cfg.InstanceID,
		}

		election, err := leadership.NewElection(electionConfig, s.logger)
		if err != nil {
			return fmt.Errorf("create leader election: %w", err)
		}

		s.leaderAwareScheduler = scheduler.NewLeaderAware(s.scheduler, election, s.logger)
		s.DeferClose(func() error { return s.leaderAwareScheduler.Stop() })

		s.logger.Info().
			Str("redis_addr", s.cfg.RedisAddr).
			Str("instance_id", electionConfig.InstanceID).
			Msg("leader election enabled for materializer")
	}

	// Audit service for security logging
	s.auditSvc = audit.NewService(database, s.bus, s.logger)
	integritySvc := integrity.NewService(database, s.logger)

	// Notification service for alerts and reminders
	notifCfg := notifications.ConfigFromEnv()
	s.notificationSvc = notifications.NewService(database, s.bus, notifCfg, s.logger)

	// Webhook service for plan and meal notifications
	s.webhookSvc = webhooks.NewService(database, s.bus, s.logger)

	// Analytics and calendar import/export
	analyticsSvc := analytics.NewPlanAnalyticsService(database, s.logger)
	s.rollupSvc = analytics.NewRollupService(database, analyticsSvc, s.logger)
	exportSvc := schedule.NewExportService(database, s.logger)

	s.versionChecker = version.NewChecker(s.logger)

	s.api = api.New(s.db, []byte(s.cfg.JWTSigningKey), s.scheduler, integritySvc, s.auditSvc, s.versionChecker, s.bus, s.logBuffer, s.logger)

	notificationAPI := api.NewNotificationAPI(s.notificationSvc)
	s.api.SetNotificationAPI(notificationAPI)

	webhookAPI := api.NewWebhookAPI(s.api, s.webhookSvc)
	s.api.SetWebhookAPI(webhookAPI)

	planAnalyticsAPI := api.NewPlanAnalyticsAPI(s.api, analyticsSvc)
	s.api.SetPlanAnalyticsAPI(planAnalyticsAPI)

	mealExportAPI := api.NewMealExportAPI(s.api, exportSvc)
	s.api.SetMealExportAPI(mealExportAPI)

	return nil
}

// HTTPServer exposes the underlying net/http server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// LogBuffer returns the server's log buffer for attaching to zerolog.
func (s *Server) LogBuffer() *logbuffer.Buffer {
	return s.logBuffer
}

// Close releases owned resources in reverse order.
func (s *Server) Close() error {
	s.stopBackgroundWorkers()
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) startBackgroundWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	// Start materializer (leader-aware if configured, otherwise direct)
	if s.leaderAwareScheduler != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			if err := s.leaderAwareScheduler.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error().Err(err).Msg("leader-aware materializer exited")
			}
		}()
	} else if s.scheduler != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			if err := s.scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error().Err(err).Msg("materializer loop exited")
			}
		}()
	}

	// Start database metrics updater
	if s.db != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			ticker := time.NewTicker(30 * time.Second)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					db.UpdateConnectionMetrics(s.db)
				}
			}
		}()
	}

	// Start audit service
	if s.auditSvc != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			s.auditSvc.Start(ctx)
		}()
	}

	// Start notification service
	if s.notificationSvc != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			s.notificationSvc.Start(ctx)
		}()
	}

	// Start webhook service
	if s.webhookSvc != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			s.webhookSvc.Start(ctx)
		}()
	}

	// Start daily analytics rollups
	if s.rollupSvc != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			s.rollupSvc.Start(ctx)
		}()
	}

	// Start version update checker
	if s.versionChecker != nil {
		s.versionChecker.Start(ctx)
	}

	// Relay cache invalidation events across nodes
	if s.busBridge != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			s.busBridge.Run(ctx)
		}()
	}

	// Start cache invalidation listener
	if s.cache != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			s.runCacheInvalidationListener(ctx)
		}()
	}
}

// runCacheInvalidationListener subscribes to cache events and invalidates cache accordingly.
func (s *Server) runCacheInvalidationListener(ctx context.Context) {
	kitchenCreated := s.bus.Subscribe(events.EventKitchenCreated)
	kitchenUpdated := s.bus.Subscribe(events.EventKitchenUpdated)
	kitchenDeleted := s.bus.Subscribe(events.EventKitchenDeleted)
	recipeCreated := s.bus.Subscribe(events.EventRecipeCreated)
	recipeUpdated := s.bus.Subscribe(events.EventRecipeUpdated)
	recipeDeleted := s.bus.Subscribe(events.EventRecipeDeleted)

	defer func() {
		s.bus.Unsubscribe(events.EventKitchenCreated, kitchenCreated)
		s.bus.Unsubscribe(events.EventKitchenUpdated, kitchenUpdated)
		s.bus.Unsubscribe(events.EventKitchenDeleted, kitchenDeleted)
		s.bus.Unsubscribe(events.EventRecipeCreated, recipeCreated)
		s.bus.Unsubscribe(events.EventRecipeUpdated, recipeUpdated)
		s.bus.Unsubscribe(events.EventRecipeDeleted, recipeDeleted)
	}()

	s.logger.Info().Msg("cache invalidation listener started")

	invalidateKitchen := func(payload events.Payload, reason string) {
		s.cache.InvalidateKitchenList(ctx)
		if kitchenID, ok := payload["kitchen_id"].(string); ok {
			s.logger.Debug().Str("kitchen_id", kitchenID).Msg(reason)
			s.cache.InvalidateKitchen(ctx, kitchenID)
		}
	}

	invalidateRecipes := func(payload events.Payload, reason string) {
		if kitchenID, ok := payload["kitchen_id"].(string); ok {
			s.logger.Debug().Str("kitchen_id", kitchenID).Msg(reason)
			s.cache.InvalidateRecipeList(ctx, kitchenID)
		}
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("cache invalidation listener stopped")
			return

		case payload := <-kitchenCreated:
			invalidateKitchen(payload, "invalidating kitchen cache (kitchen created)")

		case payload := <-kitchenUpdated:
			invalidateKitchen(payload, "invalidating kitchen cache (kitchen updated)")

		case payload := <-kitchenDeleted:
			invalidateKitchen(payload, "invalidating kitchen cache (kitchen deleted)")

		case payload := <-recipeCreated:
			invalidateRecipes(payload, "invalidating recipe cache (recipe created)")

		case payload := <-recipeUpdated:
			invalidateRecipes(payload, "invalidating recipe cache (recipe updated)")

		case payload := <-recipeDeleted:
			invalidateRecipes(payload, "invalidating recipe cache (recipe deleted)")
		}
	}
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel == nil {
		return
	}
	s.bgCancel()
	s.bgWG.Wait()
	s.bgCancel = nil
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)

		response := `{"status":"ok"`

		// Add leader status if leader election is enabled
		if s.leaderAwareScheduler != nil {
			if s.leaderAwareScheduler.IsLeader() {
				response += `,"leader":true`
			} else {
				response += `,"leader":false`
			}
		}

		response += `}`
		_, _ = w.Write([]byte(response))
	})

	s.router.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		sqlDB, err := s.db.DB()
		if err == nil {
			err = sqlDB.PingContext(r.Context())
		}
		if err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})

	s.router.Handle("/metrics", telemetry.Handler())

	s.api.Routes(s.router)
}
