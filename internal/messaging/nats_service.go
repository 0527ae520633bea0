/*
 * This file is part of Loqa (https://github.com/loqalabs/loqa).
 * Copyright (C) 2025 Loqa Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

package messaging

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/loqalabs/loqa-lectern/internal/config"
	"github.com/loqalabs/loqa-lectern/internal/events"
	"github.com/loqalabs/loqa-lectern/internal/logging"
)

// msgPublisher is the part of *nats.Conn the service publishes through.
type msgPublisher interface {
	PublishMsg(m *nats.Msg) error
}

// NATSService mirrors session events onto NATS so other services (display
// controllers, recorders) can follow a live session. Each event kind gets
// its own subject under the configured prefix.
type NATSService struct {
	cfg config.NATSConfig

	mu   sync.RWMutex
	conn *nats.Conn
	pub  msgPublisher

	published atomic.Uint64
	failed    atomic.Uint64
}

// NewNATSService creates a service; Connect must be called before events
// are delivered.
func NewNATSService(cfg config.NATSConfig) *NATSService {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "lectern.events"
	}
	return &NATSService{cfg: cfg}
}

// Connect establishes the connection to the NATS server.
func (ns *NATSService) Connect() error {
	logging.LogNATSEvent(ns.cfg.URL, "connect")

	opts := []nats.Option{
		nats.Name("loqa-lectern"),
		nats.ReconnectWait(ns.cfg.ReconnectWait),
		nats.MaxReconnects(ns.cfg.MaxReconnect),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logging.LogWarn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logging.LogNATSEvent(nc.ConnectedUrl(), "reconnected")
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logging.LogNATSEvent(ns.cfg.URL, "closed")
		}),
	}

	conn, err := nats.Connect(ns.cfg.URL, opts...)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}

	ns.mu.Lock()
	ns.conn = conn
	ns.pub = conn
	ns.mu.Unlock()

	logging.LogNATSEvent(conn.ConnectedUrl(), "connected")
	return nil
}

// Subject returns the subject events of kind are published on.
func (ns *NATSService) Subject(kind events.Kind) string {
	return fmt.Sprintf("%s.%s", ns.cfg.SubjectPrefix, kind)
}

// Publish implements events.Sink. The event id travels as the JetStream
// message id so consumers can de-duplicate. Audio levels are too frequent
// to log individually.
func (ns *NATSService) Publish(e events.Event) {
	if err := ns.publish(e); err != nil {
		ns.failed.Add(1)
		if e.Kind != events.KindAudioLevel {
			logging.LogError(err, "Failed to publish event to NATS", zap.String("kind", string(e.Kind)))
		}
		return
	}
	ns.published.Add(1)
	if e.Kind != events.KindAudioLevel {
		logging.LogNATSEvent(ns.Subject(e.Kind), "publish", zap.String("event_id", e.ID))
	}
}

func (ns *NATSService) publish(e events.Event) error {
	ns.mu.RLock()
	pub := ns.pub
	ns.mu.RUnlock()
	if pub == nil {
		return fmt.Errorf("NATS connection not established")
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", e.Kind, err)
	}

	msg := nats.NewMsg(ns.Subject(e.Kind))
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, e.ID)

	if err := pub.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", msg.Subject, err)
	}
	return nil
}

// Close closes the NATS connection
func (ns *NATSService) Close() {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	if ns.conn != nil {
		ns.conn.Close()
	}
	ns.conn = nil
	ns.pub = nil
}

// IsConnected returns true if connected to NATS
func (ns *NATSService) IsConnected() bool {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	return ns.conn != nil && ns.conn.IsConnected()
}

// Stats reports delivery counters.
func (ns *NATSService) Stats() (published, failed uint64) {
	return ns.published.Load(), ns.failed.Load()
}
