/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus provides distributed event bus backends. Every
// backend mirrors the in-process bus semantics: non-blocking publish,
// buffered subscribers, close-on-unsubscribe.
package eventbus

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/andhrimnir_kitchen/internal/config"
	"github.com/friendsincode/andhrimnir_kitchen/internal/events"
)

// Bus is the contract shared by the in-process, Redis and NATS buses.
type Bus interface {
	Subscribe(eventType events.EventType) events.Subscriber
	Publish(eventType events.EventType, payload events.Payload)
	Unsubscribe(eventType events.EventType, sub events.Subscriber)
	Close() error
}

// inprocBus adapts events.Bus to the Bus interface.
type inprocBus struct {
	*events.Bus
}

func (inprocBus) Close() error { return nil }

// New selects and constructs the configured bus backend.
func New(cfg *config.Config, logger zerolog.Logger) (Bus, error) {
	nodeID := cfg.InstanceID
	if nodeID == "" {
		nodeID = generateNodeID()
	}
	return newBackend(cfg, nodeID, logger)
}

// newBackend constructs one backend connection with a fixed node ID.
func newBackend(cfg *config.Config, nodeID string, logger zerolog.Logger) (Bus, error) {
	switch cfg.BusBackend {
	case config.BusInProcess:
		return inprocBus{events.NewBus()}, nil
	case config.BusRedis:
		redisCfg := DefaultRedisConfig()
		redisCfg.Addr = cfg.RedisAddr
		redisCfg.Password = cfg.RedisPassword
		redisCfg.DB = cfg.RedisDB
		return NewRedisBus(redisCfg, nodeID, logger)
	case config.BusNATS:
		natsCfg := DefaultNATSConfig()
		natsCfg.URL = cfg.NATSURL
		return NewNATSBus(natsCfg, nodeID, logger)
	default:
		return nil, fmt.Errorf("unknown bus backend: %s", cfg.BusBackend)
	}
}

func generateNodeID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "node"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}
