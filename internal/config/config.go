/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// Event bus backend selection.
type BusBackend string

const (
	BusInProcess BusBackend = "inproc"
	BusRedis     BusBackend = "redis"
	BusNATS      BusBackend = "nats"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment string
	HTTPBind    string
	HTTPPort    int
	BaseURL     string // Public base URL (e.g., http://192.168.195.6:8080)
	DBBackend   DatabaseBackend
	DBDSN       string

	JWTSigningKey string
	MetricsBind   string

	// Planner configuration
	PrepEveningHour      int           // Local hour make-ahead steps pin to on their prior day
	PlannerWindowHours   int           // How far before the meal the planner may schedule
	ServeBufferMinutes   int           // Plating/carving gap reserved before the meal
	PlannerMaxShifts     int           // Global shift budget for conflict resolution
	PlannerWorkers       int           // Parallel oven-partition packers
	MaterializeLookahead time.Duration // How far ahead recurring meals materialize
	KitchenProfilePath   string        // Optional YAML kitchen profile seeded at startup

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	// Event bus configuration
	BusBackend BusBackend
	NATSURL    string

	// Cache / multi-instance configuration
	CacheEnabled          bool
	LeaderElectionEnabled bool
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	InstanceID            string

	LegacyEnvWarnings []string
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnvAny([]string{"ANDHRIMNIR_ENV", "AKITCHEN_ENV"}, "development"),
		HTTPBind:    getEnvAny([]string{"ANDHRIMNIR_HTTP_BIND", "AKITCHEN_HTTP_BIND"}, "0.0.0.0"),
		HTTPPort:    getEnvIntAny([]string{"ANDHRIMNIR_HTTP_PORT", "AKITCHEN_HTTP_PORT"}, 8080),
		BaseURL:     getEnvAny([]string{"ANDHRIMNIR_BASE_URL", "AKITCHEN_BASE_URL"}, ""),
		DBBackend:   DatabaseBackend(getEnvAny([]string{"ANDHRIMNIR_DB_BACKEND", "AKITCHEN_DB_BACKEND"}, string(DatabaseSQLite))),
		DBDSN:       getEnvAny([]string{"ANDHRIMNIR_DB_DSN", "AKITCHEN_DB_DSN"}, ""),

		JWTSigningKey: getEnvAny([]string{"ANDHRIMNIR_JWT_SIGNING_KEY", "AKITCHEN_JWT_SIGNING_KEY"}, ""),
		MetricsBind:   getEnvAny([]string{"ANDHRIMNIR_METRICS_BIND", "AKITCHEN_METRICS_BIND"}, "127.0.0.1:9000"),

		// Planner configuration
		PrepEveningHour:      getEnvIntAny([]string{"ANDHRIMNIR_PREP_EVENING_HOUR", "AKITCHEN_PREP_EVENING_HOUR"}, 21),
		PlannerWindowHours:   getEnvIntAny([]string{"ANDHRIMNIR_PLANNER_WINDOW_HOURS", "AKITCHEN_PLANNER_WINDOW_HOURS"}, 24),
		ServeBufferMinutes:   getEnvIntAny([]string{"ANDHRIMNIR_SERVE_BUFFER_MINUTES", "AKITCHEN_SERVE_BUFFER_MINUTES"}, 10),
		PlannerMaxShifts:     getEnvIntAny([]string{"ANDHRIMNIR_PLANNER_MAX_SHIFTS", "AKITCHEN_PLANNER_MAX_SHIFTS"}, 64),
		PlannerWorkers:       getEnvIntAny([]string{"ANDHRIMNIR_PLANNER_WORKERS", "AKITCHEN_PLANNER_WORKERS"}, 4),
		MaterializeLookahead: time.Duration(getEnvIntAny([]string{"ANDHRIMNIR_MATERIALIZE_LOOKAHEAD_HOURS", "AKITCHEN_MATERIALIZE_LOOKAHEAD_HOURS"}, 168)) * time.Hour,
		KitchenProfilePath:   getEnvAny([]string{"ANDHRIMNIR_KITCHEN_PROFILE", "AKITCHEN_KITCHEN_PROFILE"}, ""),

		// Tracing configuration
		TracingEnabled:    getEnvBoolAny([]string{"ANDHRIMNIR_TRACING_ENABLED", "AKITCHEN_TRACING_ENABLED"}, false),
		OTLPEndpoint:      getEnvAny([]string{"ANDHRIMNIR_OTLP_ENDPOINT", "AKITCHEN_OTLP_ENDPOINT"}, "localhost:4317"),
		TracingSampleRate: getEnvFloatAny([]string{"ANDHRIMNIR_TRACING_SAMPLE_RATE", "AKITCHEN_TRACING_SAMPLE_RATE"}, 1.0),

		// Event bus configuration
		BusBackend: BusBackend(getEnvAny([]string{"ANDHRIMNIR_BUS_BACKEND", "AKITCHEN_BUS_BACKEND"}, string(BusInProcess))),
		NATSURL:    getEnvAny([]string{"ANDHRIMNIR_NATS_URL", "AKITCHEN_NATS_URL"}, "nats://localhost:4222"),

		// Cache / multi-instance configuration
		CacheEnabled:          getEnvBoolAny([]string{"ANDHRIMNIR_CACHE_ENABLED", "AKITCHEN_CACHE_ENABLED"}, false),
		LeaderElectionEnabled: getEnvBoolAny([]string{"ANDHRIMNIR_LEADER_ELECTION_ENABLED", "AKITCHEN_LEADER_ELECTION_ENABLED"}, false),
		RedisAddr:             getEnvAny([]string{"ANDHRIMNIR_REDIS_ADDR", "AKITCHEN_REDIS_ADDR"}, "localhost:6379"),
		RedisPassword:         getEnvAny([]string{"ANDHRIMNIR_REDIS_PASSWORD", "AKITCHEN_REDIS_PASSWORD"}, ""),
		RedisDB:               getEnvIntAny([]string{"ANDHRIMNIR_REDIS_DB", "AKITCHEN_REDIS_DB"}, 0),
		InstanceID:            getEnvAny([]string{"ANDHRIMNIR_INSTANCE_ID", "AKITCHEN_INSTANCE_ID"}, ""),
	}

	if cfg.DBBackend != DatabasePostgres && cfg.DBBackend != DatabaseMySQL && cfg.DBBackend != DatabaseSQLite {
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}

	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("ANDHRIMNIR_DB_DSN or AKITCHEN_DB_DSN must be provided")
	}

	if cfg.JWTSigningKey == "" {
		return nil, fmt.Errorf("ANDHRIMNIR_JWT_SIGNING_KEY or AKITCHEN_JWT_SIGNING_KEY must be provided")
	}

	if cfg.BusBackend != BusInProcess && cfg.BusBackend != BusRedis && cfg.BusBackend != BusNATS {
		return nil, fmt.Errorf("unsupported bus backend %q", cfg.BusBackend)
	}

	if cfg.PrepEveningHour < 0 || cfg.PrepEveningHour > 23 {
		return nil, fmt.Errorf("ANDHRIMNIR_PREP_EVENING_HOUR must be between 0 and 23, got %d", cfg.PrepEveningHour)
	}

	if cfg.PlannerWindowHours <= 0 {
		return nil, fmt.Errorf("ANDHRIMNIR_PLANNER_WINDOW_HOURS must be positive, got %d", cfg.PlannerWindowHours)
	}

	if cfg.ServeBufferMinutes < 0 {
		return nil, fmt.Errorf("ANDHRIMNIR_SERVE_BUFFER_MINUTES must not be negative, got %d", cfg.ServeBufferMinutes)
	}

	if strings.EqualFold(cfg.Environment, "production") {
		if len(cfg.JWTSigningKey) < 32 {
			return nil, fmt.Errorf("ANDHRIMNIR_JWT_SIGNING_KEY must be at least 32 bytes in production")
		}
	}
	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()

	return cfg, nil
}

func detectLegacyEnvWarnings() []string {
	legacy := map[string]string{
		"ENVIRONMENT":             "use ANDHRIMNIR_ENV (or AKITCHEN_ENV)",
		"LEADER_ELECTION_ENABLED": "use ANDHRIMNIR_LEADER_ELECTION_ENABLED",
		"JWT_SIGNING_KEY":         "use ANDHRIMNIR_JWT_SIGNING_KEY (or AKITCHEN_JWT_SIGNING_KEY)",
		"TRACING_ENABLED":         "use ANDHRIMNIR_TRACING_ENABLED (or AKITCHEN_TRACING_ENABLED)",
		"OTLP_ENDPOINT":           "use ANDHRIMNIR_OTLP_ENDPOINT (or AKITCHEN_OTLP_ENDPOINT)",
		"TRACING_SAMPLE_RATE":     "use ANDHRIMNIR_TRACING_SAMPLE_RATE (or AKITCHEN_TRACING_SAMPLE_RATE)",
	}

	warnings := make([]string, 0, len(legacy))
	for key, recommendation := range legacy {
		if os.Getenv(key) != "" {
			warnings = append(warnings, fmt.Sprintf("legacy env key %s is set; %s", key, recommendation))
		}
	}
	return warnings
}

// PlannerWindow returns the scheduling window as a duration.
func (c *Config) PlannerWindow() time.Duration {
	if c == nil || c.PlannerWindowHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.PlannerWindowHours) * time.Hour
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// getEnvIntAny returns the first set integer environment variable value from keys, or def.
func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvBoolAny returns the first set boolean environment variable value from keys, or def.
func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}

// getEnvFloatAny returns the first set float environment variable value from keys, or def.
func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}
