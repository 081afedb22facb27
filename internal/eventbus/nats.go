/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/friendsincode/andhrimnir_kitchen/internal/events"
)

const natsSubjectPrefix = "andhrimnir.events."

// NATSConfig contains NATS connection configuration.
type NATSConfig struct {
	URL   string
	Token string

	// Connection options
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// DefaultNATSConfig returns default NATS configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           "nats://localhost:4222",
		MaxReconnects: -1, // Unlimited
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// NATSBus implements a NATS-backed event bus. Events published on any
// node fan out to subscribers on every node; local subscribers are
// served directly so the bus works the same with a single node.
type NATSBus struct {
	conn   *nats.Conn
	logger zerolog.Logger
	nodeID string

	mu     sync.RWMutex
	subs   map[events.EventType][]events.Subscriber
	remote map[events.EventType]*nats.Subscription

	fallback *events.Bus // Used when the NATS connection never came up
}

// NewNATSBus creates a NATS-backed event bus. Falls back to the
// in-memory bus when the server is unreachable.
func NewNATSBus(cfg NATSConfig, nodeID string, logger zerolog.Logger) (*NATSBus, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		logger.Warn().Err(err).Str("url", cfg.URL).Msg("NATS connection failed, using in-memory fallback")
		return &NATSBus{
			logger:   logger,
			nodeID:   nodeID,
			subs:     make(map[events.EventType][]events.Subscriber),
			remote:   make(map[events.EventType]*nats.Subscription),
			fallback: events.NewBus(),
		}, nil
	}

	logger.Info().Str("url", cfg.URL).Str("node_id", nodeID).Msg("NATS event bus initialized")

	return &NATSBus{
		conn:   conn,
		logger: logger,
		nodeID: nodeID,
		subs:   make(map[events.EventType][]events.Subscriber),
		remote: make(map[events.EventType]*nats.Subscription),
	}, nil
}

// Subscribe registers a subscriber for an event type.
func (nb *NATSBus) Subscribe(eventType events.EventType) events.Subscriber {
	if nb.conn == nil {
		return nb.fallback.Subscribe(eventType)
	}

	nb.mu.Lock()
	defer nb.mu.Unlock()

	sub := make(events.Subscriber, 8)
	nb.subs[eventType] = append(nb.subs[eventType], sub)

	if _, exists := nb.remote[eventType]; !exists {
		subject := natsSubjectPrefix + string(eventType)
		remote, err := nb.conn.Subscribe(subject, func(msg *nats.Msg) {
			nb.handleRemote(eventType, msg.Data)
		})
		if err != nil {
			nb.logger.Error().Err(err).Str("subject", subject).Msg("NATS subscribe failed")
		} else {
			nb.remote[eventType] = remote
		}
	}

	return sub
}

// handleRemote delivers a message from another node to local subscribers.
func (nb *NATSBus) handleRemote(eventType events.EventType, data []byte) {
	msg, err := unmarshalNATSMessage(data)
	if err != nil {
		nb.logger.Error().Err(err).Msg("failed to unmarshal NATS message")
		return
	}

	// Skip messages from ourselves; Publish already delivered locally.
	if msg.NodeID == nb.nodeID {
		return
	}

	nb.deliverLocal(eventType, msg.Payload)
}

// deliverLocal fans a payload out to this node's subscribers.
func (nb *NATSBus) deliverLocal(eventType events.EventType, payload events.Payload) {
	nb.mu.RLock()
	subs := append([]events.Subscriber(nil), nb.subs[eventType]...)
	nb.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub <- payload:
		default:
			nb.logger.Warn().Str("event_type", string(eventType)).Msg("subscriber channel full, dropping event")
		}
	}
}

// Publish sends an event payload to all subscribers, local and remote.
func (nb *NATSBus) Publish(eventType events.EventType, payload events.Payload) {
	if nb.conn == nil {
		nb.fallback.Publish(eventType, payload)
		return
	}

	nb.deliverLocal(eventType, payload)

	data, err := marshalNATSMessage(eventType, payload, nb.nodeID)
	if err != nil {
		nb.logger.Error().Err(err).Msg("failed to marshal NATS message")
		return
	}

	subject := natsSubjectPrefix + string(eventType)
	if err := nb.conn.Publish(subject, data); err != nil {
		nb.logger.Error().Err(err).Str("subject", subject).Msg("failed to publish to NATS")
	}
}

// Unsubscribe removes a subscriber.
func (nb *NATSBus) Unsubscribe(eventType events.EventType, sub events.Subscriber) {
	if nb.conn == nil {
		nb.fallback.Unsubscribe(eventType, sub)
		return
	}

	nb.mu.Lock()
	defer nb.mu.Unlock()

	subs := nb.subs[eventType]
	for i, candidate := range subs {
		if candidate == sub {
			nb.subs[eventType] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	close(sub)

	if len(nb.subs[eventType]) == 0 {
		if remote, exists := nb.remote[eventType]; exists {
			if err := remote.Unsubscribe(); err != nil {
				nb.logger.Warn().Err(err).Msg("NATS unsubscribe failed")
			}
			delete(nb.remote, eventType)
		}
	}
}

// Close drains and closes the NATS connection.
func (nb *NATSBus) Close() error {
	if nb.conn == nil {
		return nil
	}

	nb.logger.Info().Msg("closing NATS event bus")

	if err := nb.conn.Drain(); err != nil {
		nb.conn.Close()
		return fmt.Errorf("drain nats connection: %w", err)
	}
	return nil
}

// natsMessage represents a message published to NATS.
type natsMessage struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
	MessageID string           `json:"message_id"` // For deduplication
}

// marshalNATSMessage converts payload to NATS message format.
func marshalNATSMessage(eventType events.EventType, payload events.Payload, nodeID string) ([]byte, error) {
	msg := natsMessage{
		EventType: eventType,
		Payload:   payload,
		Timestamp: time.Now(),
		NodeID:    nodeID,
		MessageID: uuid.NewString(),
	}
	return json.Marshal(msg)
}

// unmarshalNATSMessage parses a NATS message.
func unmarshalNATSMessage(data []byte) (*natsMessage, error) {
	var msg natsMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal nats message: %w", err)
	}
	return &msg, nil
}
