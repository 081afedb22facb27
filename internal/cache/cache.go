/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package cache provides a Redis-based caching layer for frequently accessed data.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/andhrimnir_kitchen/internal/telemetry"
)

// Default TTL values for different cache types
const (
	DefaultKitchenListTTL = 5 * time.Minute
	DefaultKitchenTTL     = 1 * time.Hour
	DefaultRecipeListTTL  = 30 * time.Minute
	DefaultTimelineTTL    = 1 * time.Hour
)

// Key prefixes for Redis cache
const (
	KeyKitchenList = "andhrimnir:cache:kitchens"
	KeyKitchen     = "andhrimnir:cache:kitchen:"  // + kitchen_id
	KeyRecipeList  = "andhrimnir:cache:recipes:"  // + kitchen_id
	KeyTimeline    = "andhrimnir:cache:timeline:" // + plan_hash
)

// Config contains cache configuration.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// TTL overrides
	KitchenListTTL time.Duration
	KitchenTTL     time.Duration
	RecipeListTTL  time.Duration
	TimelineTTL    time.Duration

	// Fallback behavior
	DisableOnError bool // If true, disable caching on Redis errors
}

// DefaultConfig returns default cache configuration.
func DefaultConfig() Config {
	return Config{
		RedisAddr:      "localhost:6379",
		KitchenListTTL: DefaultKitchenListTTL,
		KitchenTTL:     DefaultKitchenTTL,
		RecipeListTTL:  DefaultRecipeListTTL,
		TimelineTTL:    DefaultTimelineTTL,
		DisableOnError: true,
	}
}

// Cache provides Redis-backed caching with graceful fallback.
type Cache struct {
	client *redis.Client
	logger zerolog.Logger
	config Config

	mu       sync.RWMutex
	disabled bool // Circuit breaker state
}

// New creates a new cache instance.
func New(cfg Config, logger zerolog.Logger) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Msg("Redis cache unavailable, running without caching")
		return &Cache{
			logger:   logger.With().Str("component", "cache").Logger(),
			config:   cfg,
			disabled: true,
		}, nil
	}

	logger.Info().Str("addr", cfg.RedisAddr).Msg("Redis cache initialized")

	return &Cache{
		client: client,
		logger: logger.With().Str("component", "cache").Logger(),
		config: cfg,
	}, nil
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// IsAvailable returns true if the cache is operational.
func (c *Cache) IsAvailable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.disabled && c.client != nil
}

// handleError handles Redis errors with circuit breaker logic.
func (c *Cache) handleError(err error, operation string) {
	if err == nil || err == redis.Nil {
		return
	}

	c.logger.Debug().Err(err).Str("operation", operation).Msg("cache operation failed")

	if c.config.DisableOnError {
		c.mu.Lock()
		c.disabled = true
		c.mu.Unlock()
		c.logger.Warn().Msg("disabling cache due to Redis error")
	}
}

// get retrieves a value from cache and unmarshals it.
func (c *Cache) get(ctx context.Context, key string, dest any) (bool, error) {
	if !c.IsAvailable() {
		return false, nil
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		c.handleError(err, "get")
		return false, err
	}

	if err := json.Unmarshal(data, dest); err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("failed to unmarshal cached value")
		return false, nil
	}

	return true, nil
}

// set stores a value in cache with TTL.
func (c *Cache) set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if !c.IsAvailable() {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.handleError(err, "set")
		return err
	}

	return nil
}

// delete removes a key from cache.
func (c *Cache) delete(ctx context.Context, key string) error {
	if !c.IsAvailable() {
		return nil
	}

	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.handleError(err, "delete")
		return err
	}

	return nil
}

// deletePattern deletes all keys matching a pattern.
func (c *Cache) deletePattern(ctx context.Context, pattern string) error {
	if !c.IsAvailable() {
		return nil
	}

	// Use SCAN to find keys (safer than KEYS for production)
	var cursor uint64
	for {
		keys, nextCursor, err := c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			c.handleError(err, "scan")
			return err
		}

		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				c.handleError(err, "delete_batch")
				return err
			}
		}

		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}

	return nil
}

func (c *Cache) observe(name string, hit bool) {
	if hit {
		telemetry.CacheHitsTotal.WithLabelValues(name).Inc()
		return
	}
	telemetry.CacheMissesTotal.WithLabelValues(name).Inc()
}

// Kitchen caching methods

// CachedKitchen represents a cached kitchen record with its equipment.
type CachedKitchen struct {
	ID       string       `json:"id"`
	Name     string       `json:"name"`
	Timezone string       `json:"timezone"`
	Burners  int          `json:"burners"`
	Ovens    []CachedOven `json:"ovens"`
}

// CachedOven represents a cached oven record.
type CachedOven struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Racks           int    `json:"racks"`
	RackPositions   int    `json:"rack_positions"`
	MaxTemperatureF int    `json:"max_temperature_f"`
}

// GetKitchenList retrieves the cached list of kitchens.
func (c *Cache) GetKitchenList(ctx context.Context) ([]CachedKitchen, bool) {
	var kitchens []CachedKitchen
	found, err := c.get(ctx, KeyKitchenList, &kitchens)
	c.observe("kitchen_list", found && err == nil)
	if err != nil || !found {
		return nil, false
	}
	c.logger.Debug().Int("count", len(kitchens)).Msg("kitchen list cache hit")
	return kitchens, true
}

// SetKitchenList caches the list of kitchens.
func (c *Cache) SetKitchenList(ctx context.Context, kitchens []CachedKitchen) error {
	c.logger.Debug().Int("count", len(kitchens)).Msg("caching kitchen list")
	return c.set(ctx, KeyKitchenList, kitchens, c.config.KitchenListTTL)
}

// InvalidateKitchenList removes the kitchen list from cache.
func (c *Cache) InvalidateKitchenList(ctx context.Context) error {
	c.logger.Debug().Msg("invalidating kitchen list cache")
	return c.delete(ctx, KeyKitchenList)
}

// GetKitchen retrieves a cached kitchen by ID.
func (c *Cache) GetKitchen(ctx context.Context, kitchenID string) (*CachedKitchen, bool) {
	var kitchen CachedKitchen
	found, err := c.get(ctx, KeyKitchen+kitchenID, &kitchen)
	c.observe("kitchen", found && err == nil)
	if err != nil || !found {
		return nil, false
	}
	return &kitchen, true
}

// SetKitchen caches a kitchen with its equipment.
func (c *Cache) SetKitchen(ctx context.Context, kitchen *CachedKitchen) error {
	return c.set(ctx, KeyKitchen+kitchen.ID, kitchen, c.config.KitchenTTL)
}

// InvalidateKitchen removes a kitchen and its recipe list from cache.
func (c *Cache) InvalidateKitchen(ctx context.Context, kitchenID string) error {
	c.logger.Debug().Str("kitchen_id", kitchenID).Msg("invalidating kitchen cache")
	if err := c.delete(ctx, KeyKitchen+kitchenID); err != nil {
		return err
	}
	return c.delete(ctx, KeyRecipeList+kitchenID)
}

// Recipe caching methods

// CachedRecipe is a recipe summary for list views. Full step groups
// always come from the database so the planner never solves against a
// stale chain.
type CachedRecipe struct {
	ID         string `json:"id"`
	KitchenID  string `json:"kitchen_id"`
	Name       string `json:"name"`
	Servings   int    `json:"servings"`
	StepGroups int    `json:"step_groups"`
}

// GetRecipeList retrieves the cached recipe summaries for a kitchen.
func (c *Cache) GetRecipeList(ctx context.Context, kitchenID string) ([]CachedRecipe, bool) {
	var recipes []CachedRecipe
	found, err := c.get(ctx, KeyRecipeList+kitchenID, &recipes)
	c.observe("recipe_list", found && err == nil)
	if err != nil || !found {
		return nil, false
	}
	return recipes, true
}

// SetRecipeList caches recipe summaries for a kitchen.
func (c *Cache) SetRecipeList(ctx context.Context, kitchenID string, recipes []CachedRecipe) error {
	return c.set(ctx, KeyRecipeList+kitchenID, recipes, c.config.RecipeListTTL)
}

// InvalidateRecipeList removes a kitchen's recipe list from cache.
func (c *Cache) InvalidateRecipeList(ctx context.Context, kitchenID string) error {
	c.logger.Debug().Str("kitchen_id", kitchenID).Msg("invalidating recipe list cache")
	return c.delete(ctx, KeyRecipeList+kitchenID)
}

// Timeline caching methods

// GetTimeline retrieves a cached timeline by its plan hash. Timelines
// are keyed by a hash of every planning input, so entries for changed
// kitchens or recipes simply never match again and age out on TTL.
func (c *Cache) GetTimeline(ctx context.Context, planHash string) (json.RawMessage, bool) {
	var data json.RawMessage
	found, err := c.get(ctx, KeyTimeline+planHash, &data)
	c.observe("timeline", found && err == nil)
	if err != nil || !found {
		return nil, false
	}
	c.logger.Debug().Str("plan_hash", planHash).Msg("timeline cache hit")
	return data, true
}

// SetTimeline caches a rendered timeline under its plan hash.
func (c *Cache) SetTimeline(ctx context.Context, planHash string, data json.RawMessage) error {
	return c.set(ctx, KeyTimeline+planHash, data, c.config.TimelineTTL)
}

// InvalidateTimelines removes every cached timeline.
func (c *Cache) InvalidateTimelines(ctx context.Context) error {
	c.logger.Debug().Msg("invalidating timeline cache")
	return c.deletePattern(ctx, KeyTimeline+"*")
}
