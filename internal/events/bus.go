/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import (
	"sync"

	"github.com/friendsincode/andhrimnir_kitchen/internal/telemetry"
)

// EventType enumerates event categories.
type EventType string

const (
	EventHealth EventType = "health"

	// Planning events
	EventPlanComputed     EventType = "plan.computed"
	EventPlanConflict     EventType = "plan.conflict"
	EventRecipeExcluded   EventType = "plan.recipe_excluded"
	EventMealMaterialized EventType = "meal.materialized"
	EventMealUpcoming     EventType = "meal.upcoming"
	EventMealCancelled    EventType = "meal.cancelled"

	// Cache invalidation events
	EventKitchenUpdated EventType = "cache.kitchen_updated"
	EventKitchenCreated EventType = "cache.kitchen_created"
	EventKitchenDeleted EventType = "cache.kitchen_deleted"
	EventRecipeUpdated  EventType = "cache.recipe_updated"
	EventRecipeCreated  EventType = "cache.recipe_created"
	EventRecipeDeleted  EventType = "cache.recipe_deleted"

	// Audit events (for operations that need explicit audit logging)
	EventAuditAPIKeyCreate   EventType = "audit.apikey.create"
	EventAuditAPIKeyRevoke   EventType = "audit.apikey.revoke"
	EventAuditKitchenCreate  EventType = "audit.kitchen.create"
	EventAuditKitchenUpdate  EventType = "audit.kitchen.update"
	EventAuditKitchenDelete  EventType = "audit.kitchen.delete"
	EventAuditRecipeCreate   EventType = "audit.recipe.create"
	EventAuditRecipeUpdate   EventType = "audit.recipe.update"
	EventAuditRecipeDelete   EventType = "audit.recipe.delete"
	EventAuditMealPlanCreate EventType = "audit.mealplan.create"
	EventAuditMealPlanUpdate EventType = "audit.mealplan.update"
	EventAuditMealPlanDelete EventType = "audit.mealplan.delete"
	EventAuditMaterializeRun EventType = "audit.mealplan.materialize"
	EventAuditUserRoleChange EventType = "audit.user.role_change"
	EventAuditUserDelete     EventType = "audit.user.delete"
)

// Payload generic event payload.
type Payload map[string]any

// Subscriber receives event payloads.
type Subscriber chan Payload

// Bus implements a simple in-process pubsub.
type Bus struct {
	mu   sync.RWMutex
	subs map[EventType][]Subscriber
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[EventType][]Subscriber)}
}

// Subscribe registers a subscriber for event type.
func (b *Bus) Subscribe(eventType EventType) Subscriber {
	ch := make(Subscriber, 8)
	b.mu.Lock()
	b.subs[eventType] = append(b.subs[eventType], ch)
	b.mu.Unlock()
	return ch
}

// Publish sends payload to subscribers. Slow subscribers are skipped
// rather than blocking the publisher.
func (b *Bus) Publish(eventType EventType, payload Payload) {
	b.mu.RLock()
	subs := append([]Subscriber(nil), b.subs[eventType]...)
	b.mu.RUnlock()
	for _, sub := range subs {
		select {
		case sub <- payload:
		default:
			telemetry.EventBusDroppedTotal.WithLabelValues(string(eventType)).Inc()
		}
	}
}

// Unsubscribe removes the subscriber.
func (b *Bus) Unsubscribe(eventType EventType, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[eventType]
	for i, candidate := range subs {
		if candidate == sub {
			subs = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	b.subs[eventType] = subs
	close(sub)
}
