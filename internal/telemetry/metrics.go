/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// API metrics.
var (
	// APIRequestDuration tracks HTTP request latency by method, endpoint and status.
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "andhrimnir_api_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})

	// APIRequestsTotal counts HTTP requests by method, endpoint and status.
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "andhrimnir_api_requests_total",
		Help: "Total HTTP requests served.",
	}, []string{"method", "endpoint", "status"})

	// APIActiveConnections gauges in-flight HTTP requests.
	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "andhrimnir_api_active_connections",
		Help: "HTTP requests currently being served.",
	})

	// APIWebSocketConnections gauges open event stream connections.
	APIWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "andhrimnir_api_websocket_connections",
		Help: "Open websocket event stream connections.",
	})
)

// Planner metrics.
var (
	// PlanBuildDuration tracks end-to-end timeline computation latency.
	PlanBuildDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "andhrimnir_plan_build_duration_seconds",
		Help:    "Timeline computation latency by outcome.",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	}, []string{"status"})

	// PlanBuildsTotal counts plan computations by outcome (complete, partial, error).
	PlanBuildsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "andhrimnir_plan_builds_total",
		Help: "Total plan computations by outcome.",
	}, []string{"status"})

	// PlanConflictsTotal counts conflicts surfaced by plans, by conflict type.
	PlanConflictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "andhrimnir_plan_conflicts_total",
		Help: "Conflicts surfaced in computed plans.",
	}, []string{"type"})

	// PlanRecipesExcludedTotal counts recipes dropped for missing the deadline.
	PlanRecipesExcludedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "andhrimnir_plan_recipes_excluded_total",
		Help: "Recipes excluded because their chain cannot finish in time.",
	})

	// AllocatorPlacementsTotal counts successful placements by resource kind.
	AllocatorPlacementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "andhrimnir_allocator_placements_total",
		Help: "Step groups placed on equipment.",
	}, []string{"resource"})

	// ResolverShiftsTotal counts repair shifts attempted by the resolver.
	ResolverShiftsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "andhrimnir_resolver_shifts_total",
		Help: "Window-narrowing shifts attempted during conflict resolution.",
	})
)

// Materializer metrics.
var (
	// MaterializerTicksTotal counts materializer sweeps.
	MaterializerTicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "andhrimnir_materializer_ticks_total",
		Help: "Recurring meal materializer sweeps.",
	})

	// MaterializerErrorsTotal counts failed materializer sweeps.
	MaterializerErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "andhrimnir_materializer_errors_total",
		Help: "Recurring meal materializer errors.",
	})

	// LeaderElectionStatus is 1 when this instance holds leadership.
	LeaderElectionStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "andhrimnir_leader_election_status",
		Help: "1 when this instance is the materializer leader.",
	})

	// LeaderElectionChangesTotal counts leadership transitions.
	LeaderElectionChangesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "andhrimnir_leader_election_changes_total",
		Help: "Leadership transitions by direction.",
	}, []string{"transition"})
)

// Infrastructure metrics.
var (
	// DatabaseConnectionsActive gauges open DB connections.
	DatabaseConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "andhrimnir_database_connections_active",
		Help: "Open database connections.",
	})

	// DatabaseQueryDuration tracks gorm query latency by operation and table.
	DatabaseQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "andhrimnir_database_query_duration_seconds",
		Help:    "Database query latency.",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"operation", "table"})

	// DatabaseErrorsTotal counts database errors by operation.
	DatabaseErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "andhrimnir_database_errors_total",
		Help: "Database errors.",
	}, []string{"operation", "kind"})

	// CacheHitsTotal counts cache hits by cache name.
	CacheHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "andhrimnir_cache_hits_total",
		Help: "Cache hits.",
	}, []string{"cache"})

	// CacheMissesTotal counts cache misses by cache name.
	CacheMissesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "andhrimnir_cache_misses_total",
		Help: "Cache misses.",
	}, []string{"cache"})

	// EventBusDroppedTotal counts events dropped on slow subscribers.
	EventBusDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "andhrimnir_eventbus_dropped_total",
		Help: "Events dropped because a subscriber channel was full.",
	}, []string{"event"})

	// WebhookDeliveriesTotal counts webhook deliveries by outcome.
	WebhookDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "andhrimnir_webhook_deliveries_total",
		Help: "Webhook delivery attempts by outcome.",
	}, []string{"status"})
)

// Handler exposes the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
