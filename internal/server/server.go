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

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/loqalabs/loqa-lectern/internal/api"
	"github.com/loqalabs/loqa-lectern/internal/config"
	"github.com/loqalabs/loqa-lectern/internal/corpus"
	"github.com/loqalabs/loqa-lectern/internal/logging"
	"github.com/loqalabs/loqa-lectern/internal/monitor"
)

// Models is the model loader as seen by the server.
type Models interface {
	api.ModelStatus
	api.EmbedderSource
}

// EventBus hands out subscriptions and reports delivery stats.
type EventBus interface {
	api.Subscriber
	Subscribers() int
	Dropped() uint64
}

// Publisher is an optional external event sink, e.g. NATS.
type Publisher interface {
	IsConnected() bool
	Stats() (published, failed uint64)
}

// Components are the services the server exposes.
type Components struct {
	Session api.SessionController
	Capture api.DeviceController
	Corpus  *corpus.Index
	Models  Models
	Events  EventBus
	Monitor   *monitor.PipelineMonitor
	Resources *monitor.ResourceMonitor // optional
	NATS      Publisher                // optional
}

// Server is the lectern HTTP control surface.
type Server struct {
	cfg    *config.Config
	mux    *http.ServeMux
	server *http.Server
	comp   Components

	sessions *api.SessionHandler
	corpus   *api.CorpusHandler
	devices  *api.DevicesHandler
	events   *api.EventsHandler

	started time.Time
}

// New creates a server over the given components.
func New(cfg *config.Config, comp Components) *Server {
	mux := http.NewServeMux()

	s := &Server{
		cfg:      cfg,
		mux:      mux,
		comp:     comp,
		sessions: api.NewSessionHandler(comp.Session, comp.Models),
		corpus:   api.NewCorpusHandler(comp.Corpus, comp.Models),
		devices:  api.NewDevicesHandler(comp.Capture),
		events:   api.NewEventsHandler(comp.Events),
		started:  time.Now(),
	}

	// no server WriteTimeout: it would cut websocket streams; see timed
	s.server = &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:           s.mux,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		IdleTimeout:       60 * time.Second,
	}

	s.routes()
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start serves until Stop is called.
func (s *Server) Start() error {
	logging.LogInfo("🚀 Loqa Lectern listening",
		zap.String("addr", s.server.Addr),
		zap.Int("verses", s.comp.Corpus.Len()),
		zap.Strings("translations", s.comp.Corpus.Translations()))

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server failed: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	logging.LogInfo("🛑 Shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}

// routes sets up HTTP routing
func (s *Server) routes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/metrics", s.timed(s.handleMetrics))

	s.mux.HandleFunc("/api/devices", s.timed(s.devices.HandleDevices))
	s.mux.HandleFunc("/api/devices/select", s.timed(s.devices.HandleSelect))
	s.mux.HandleFunc("/api/audio/vad", s.timed(s.devices.HandleVAD))

	s.mux.HandleFunc("/api/session", s.timed(s.sessions.HandleSession))
	s.mux.HandleFunc("/api/session/start", s.sessions.HandleStart)
	s.mux.HandleFunc("/api/session/stop", s.timed(s.sessions.HandleStop))
	s.mux.HandleFunc("/api/session/pause", s.timed(s.sessions.HandlePause))
	s.mux.HandleFunc("/api/session/window", s.timed(s.sessions.HandleWindow))

	s.mux.HandleFunc("/api/live", s.timed(s.sessions.HandleLive))
	s.mux.HandleFunc("/api/live/stage", s.timed(s.sessions.HandleStage))
	s.mux.HandleFunc("/api/live/timer", s.timed(s.sessions.HandleTimer))

	s.mux.HandleFunc("/api/corpus/translations", s.timed(s.corpus.HandleTranslations))
	s.mux.HandleFunc("/api/corpus/translation", s.timed(s.corpus.HandleActiveTranslation))
	s.mux.HandleFunc("/api/corpus/lookup", s.timed(s.corpus.HandleLookup))
	s.mux.HandleFunc("/api/corpus/next", s.timed(s.corpus.HandleNext))
	s.mux.HandleFunc("/api/corpus/search", s.timed(s.corpus.HandleSearch))
	s.mux.HandleFunc("/api/corpus/semantic", s.timed(s.corpus.HandleSemantic))
	s.mux.HandleFunc("/api/corpus/books", s.timed(s.corpus.HandleBooks))
	s.mux.HandleFunc("/api/corpus/chapters", s.timed(s.corpus.HandleChapters))
	s.mux.HandleFunc("/api/corpus/verses", s.timed(s.corpus.HandleVerses))

	s.mux.HandleFunc("/ws/events", s.events.HandleEvents)

	logging.LogInfo("🌐 HTTP routes configured",
		zap.String("events_endpoint", "/ws/events"),
		zap.String("session_endpoint", "/api/session"))
}

// timed bounds a handler's response time by the configured write timeout.
func (s *Server) timed(h http.HandlerFunc) http.HandlerFunc {
	if s.cfg.Server.WriteTimeout <= 0 {
		return h
	}
	return http.TimeoutHandler(h, s.cfg.Server.WriteTimeout, `{"error":"request timed out"}`).ServeHTTP
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string       `json:"status"`
	Timestamp time.Time    `json:"timestamp"`
	Uptime    string       `json:"uptime"`
	Session   string       `json:"session"`
	Models    string       `json:"models"`
	Corpus    CorpusHealth `json:"corpus"`
	NATS      *NATSHealth  `json:"nats,omitempty"`
	Warnings  []string     `json:"warnings,omitempty"`
}

// CorpusHealth summarises the loaded index.
type CorpusHealth struct {
	Verses       int      `json:"verses"`
	Translations []string `json:"translations"`
	Active       string   `json:"active"`
	Semantic     bool     `json:"semantic_enabled"`
}

// NATSHealth reports the optional event bus connection.
type NATSHealth struct {
	Connected bool `json:"connected"`
}

// handleHealth provides system health information
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Uptime:    time.Since(s.started).Round(time.Second).String(),
		Session:   s.comp.Session.State().String(),
		Models:    s.comp.Models.State().String(),
		Corpus: CorpusHealth{
			Verses:       s.comp.Corpus.Len(),
			Translations: s.comp.Corpus.Translations(),
			Active:       s.comp.Corpus.ActiveTranslation(),
			Semantic:     s.comp.Corpus.SemanticEnabled(),
		},
	}
	if !health.Corpus.Semantic {
		health.Status = "degraded"
	}
	if s.comp.NATS != nil {
		health.NATS = &NATSHealth{Connected: s.comp.NATS.IsConnected()}
	}
	if s.comp.Resources != nil {
		if res := s.comp.Resources.Health(s.comp.Events.Subscribers()); !res.Healthy {
			health.Status = "degraded"
			health.Warnings = res.Warnings
		}
	}

	writeJSON(w, health)
}

// MetricsResponse is the body of GET /api/metrics.
type MetricsResponse struct {
	Pipeline  monitor.Metrics          `json:"pipeline"`
	Events    EventMetrics             `json:"events"`
	Resources *monitor.ResourceMetrics `json:"resources,omitempty"`
}

// EventMetrics reports event delivery.
type EventMetrics struct {
	Subscribers   int    `json:"subscribers"`
	Dropped       uint64 `json:"dropped"`
	NATSPublished uint64 `json:"nats_published,omitempty"`
	NATSFailed    uint64 `json:"nats_failed,omitempty"`
}

// handleMetrics returns pipeline performance and event delivery metrics
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := MetricsResponse{
		Pipeline: s.comp.Monitor.Snapshot(),
		Events: EventMetrics{
			Subscribers: s.comp.Events.Subscribers(),
			Dropped:     s.comp.Events.Dropped(),
		},
	}
	if s.comp.NATS != nil {
		resp.Events.NATSPublished, resp.Events.NATSFailed = s.comp.NATS.Stats()
	}
	if s.comp.Resources != nil {
		sample := s.comp.Resources.Update(resp.Events.Subscribers)
		resp.Resources = &sample
	}

	writeJSON(w, resp)
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logging.LogError(err, "Failed to write response")
	}
}
