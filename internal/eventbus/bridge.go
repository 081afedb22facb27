/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/friendsincode/andhrimnir_kitchen/internal/config"
	"github.com/friendsincode/andhrimnir_kitchen/internal/events"
)

// BridgedEvents are the event types relayed between nodes. Only cache
// invalidation events cross the bridge: their consumers are idempotent.
// Plan and meal events stay node-local because their subscribers write
// rows and deliver webhooks.
var BridgedEvents = []events.EventType{
	events.EventKitchenCreated,
	events.EventKitchenUpdated,
	events.EventKitchenDeleted,
	events.EventRecipeCreated,
	events.EventRecipeUpdated,
	events.EventRecipeDeleted,
}

// Bridge relays selected event types between the process-local bus and
// the distributed backend, so all nodes invalidate together.
//
// Two backend connections share one node ID: the outbound side only
// publishes, the inbound side only subscribes. Inbound drops messages
// carrying its own node ID, so bridged events never loop back in.
type Bridge struct {
	local    *events.Bus
	outbound Bus
	inbound  Bus
	types    []events.EventType
	logger   zerolog.Logger
}

// NewBridge connects the local bus to the configured distributed
// backend. The in-process backend needs no bridge and is rejected.
func NewBridge(cfg *config.Config, local *events.Bus, types []events.EventType, logger zerolog.Logger) (*Bridge, error) {
	if cfg.BusBackend == config.BusInProcess {
		return nil, fmt.Errorf("bridge requires a distributed bus backend")
	}

	nodeID := cfg.InstanceID
	if nodeID == "" {
		nodeID = generateNodeID()
	}

	outbound, err := newBackend(cfg, nodeID, logger)
	if err != nil {
		return nil, fmt.Errorf("bridge outbound backend: %w", err)
	}
	inbound, err := newBackend(cfg, nodeID, logger)
	if err != nil {
		_ = outbound.Close()
		return nil, fmt.Errorf("bridge inbound backend: %w", err)
	}

	return &Bridge{
		local:    local,
		outbound: outbound,
		inbound:  inbound,
		types:    types,
		logger:   logger.With().Str("component", "eventbus_bridge").Logger(),
	}, nil
}

// Run relays events until the context is cancelled.
func (b *Bridge) Run(ctx context.Context) {
	var wg sync.WaitGroup

	for _, eventType := range b.types {
		localSub := b.local.Subscribe(eventType)
		remoteSub := b.inbound.Subscribe(eventType)

		wg.Add(1)
		go func(eventType events.EventType, localSub, remoteSub events.Subscriber) {
			defer wg.Done()
			defer b.local.Unsubscribe(eventType, localSub)
			defer b.inbound.Unsubscribe(eventType, remoteSub)

			for {
				select {
				case <-ctx.Done():
					return
				case payload := <-localSub:
					b.outbound.Publish(eventType, payload)
				case payload := <-remoteSub:
					b.local.Publish(eventType, payload)
				}
			}
		}(eventType, localSub, remoteSub)
	}

	b.logger.Info().Int("event_types", len(b.types)).Msg("event bridge running")
	wg.Wait()
}

// Close shuts down both backend connections.
func (b *Bridge) Close() error {
	outErr := b.outbound.Close()
	if err := b.inbound.Close(); err != nil {
		return err
	}
	return outErr
}
