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
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loqalabs/loqa-lectern/internal/api"
	"github.com/loqalabs/loqa-lectern/internal/audio"
	"github.com/loqalabs/loqa-lectern/internal/config"
	"github.com/loqalabs/loqa-lectern/internal/corpus"
	"github.com/loqalabs/loqa-lectern/internal/events"
	"github.com/loqalabs/loqa-lectern/internal/inference"
	"github.com/loqalabs/loqa-lectern/internal/monitor"
	"github.com/loqalabs/loqa-lectern/internal/session"
)

// fakeSession mimics the orchestrator's control surface.
type fakeSession struct {
	mu      sync.Mutex
	state   session.State
	paused  bool
	window  int
	staged  events.DisplayItem
	live    events.DisplayItem
	started int
}

func (f *fakeSession) StartSession(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == session.Running {
		return session.ErrAlreadyRunning
	}
	f.state = session.Running
	f.started++
	return nil
}

func (f *fakeSession) StopSession() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != session.Running {
		return session.ErrNotRunning
	}
	f.state = session.Idle
	return nil
}

func (f *fakeSession) State() session.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeSession) SessionID() string {
	if f.State() == session.Running {
		return "session-1"
	}
	return ""
}

func (f *fakeSession) SetPaused(paused bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused = paused
}

func (f *fakeSession) Paused() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.paused
}

func (f *fakeSession) SetWindowSize(samples int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.window = session.ClampWindow(samples)
	return f.window
}

func (f *fakeSession) WindowSize() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.window
}

func (f *fakeSession) Stage(item events.DisplayItem) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.staged = item
}

func (f *fakeSession) Staged() events.DisplayItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.staged
}

func (f *fakeSession) GoLive(item events.DisplayItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if item == nil {
		item = f.staged
	}
	if item == nil {
		return session.ErrNothingStaged
	}
	f.live = item
	return nil
}

func (f *fakeSession) ClearLive() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.live, f.staged = nil, nil
}

func (f *fakeSession) Live() events.DisplayItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.live
}

func (f *fakeSession) UpdateLiveTimer(startedAt *int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	timer, ok := f.live.(events.Timer)
	if !ok {
		return session.ErrNoLiveTimer
	}
	timer.StartedAt = startedAt
	f.live = timer
	return nil
}

type fakeDevices struct {
	mu        sync.Mutex
	selected  string
	threshold float32
}

func (f *fakeDevices) ListDevices() ([]audio.Device, error) {
	return []audio.Device{
		{ID: "Built-in Microphone", Name: "Built-in Microphone", Default: true},
		{ID: "USB Audio CODEC", Name: "USB Audio CODEC"},
	}, nil
}

func (f *fakeDevices) SelectDevice(id string) error {
	if id != "" && id != "Built-in Microphone" && id != "USB Audio CODEC" {
		return fmt.Errorf("%w: %s", audio.ErrDeviceNotFound, id)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.selected = id
	return nil
}

func (f *fakeDevices) SelectedDevice() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.selected
}

func (f *fakeDevices) SetVADThreshold(threshold float32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.threshold = threshold
}

func (f *fakeDevices) VADThreshold() float32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.threshold
}

type silentTranscriber struct{}

func (silentTranscriber) Transcribe(context.Context, []float32) (string, error) { return "", nil }
func (silentTranscriber) Close() error                                          { return nil }

// axisEmbedder embeds "creation" along axis 0 and anything else along the
// last axis.
type axisEmbedder struct{}

func (axisEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	v := make([]float32, inference.EmbeddingDim)
	if text == "creation" {
		v[0] = 1
	} else {
		v[inference.EmbeddingDim-1] = 1
	}
	return v, nil
}

func (axisEmbedder) Close() error { return nil }

type testEnv struct {
	server  *Server
	session *fakeSession
	devices *fakeDevices
	models  *inference.Loader
	bus     *events.Broadcaster
	index   *corpus.Index
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	records := []corpus.Record{
		{Book: "Genesis", Chapter: 1, Verse: 1, Translation: "KJV", Text: "In the beginning God created the heaven and the earth."},
		{Book: "Genesis", Chapter: 1, Verse: 2, Translation: "KJV", Text: "And the earth was without form, and void."},
		{Book: "John", Chapter: 3, Verse: 16, Translation: "KJV", Text: "For God so loved the world"},
		{Book: "Genesis", Chapter: 1, Verse: 1, Translation: "NIV", Text: "In the beginning God created the heavens and the earth."},
	}
	dim := inference.EmbeddingDim
	matrix := make([]float32, len(records)*dim)
	matrix[0*dim+0] = 1
	matrix[1*dim+1] = 1
	matrix[2*dim+2] = 1
	matrix[3*dim+0] = 1

	index, err := corpus.New(records, matrix, corpus.Options{ActiveTranslation: "KJV"})
	require.NoError(t, err)

	env := &testEnv{
		session: &fakeSession{window: session.DefaultWindowSamples},
		devices: &fakeDevices{threshold: 0.002},
		models: inference.NewLoader(func(context.Context) (*inference.Engine, error) {
			return inference.NewEngine(silentTranscriber{}, axisEmbedder{}), nil
		}),
		bus:   events.NewBroadcaster(16),
		index: index,
	}

	cfg := config.Default()
	cfg.Server.WriteTimeout = 5 * time.Second
	env.server = New(cfg, Components{
		Session:   env.session,
		Capture:   env.devices,
		Corpus:    index,
		Models:    env.models,
		Events:    env.bus,
		Monitor:   monitor.NewPipelineMonitor(),
		Resources: monitor.NewResourceMonitor(),
	})
	return env
}

func (e *testEnv) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	health := decode[HealthResponse](t, rec)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "idle", health.Session)
	assert.Equal(t, "unloaded", health.Models)
	assert.Equal(t, 4, health.Corpus.Verses)
	assert.Equal(t, []string{"KJV", "NIV"}, health.Corpus.Translations)
	assert.True(t, health.Corpus.Semantic)
	assert.Nil(t, health.NATS)
	assert.Empty(t, health.Warnings)
}

func TestMetrics(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	metrics := decode[MetricsResponse](t, rec)
	assert.Zero(t, metrics.Events.Subscribers)
	assert.Zero(t, metrics.Pipeline.WindowsDispatched)
	require.NotNil(t, metrics.Resources)
	assert.Greater(t, metrics.Resources.Goroutines, 0)

	assert.Equal(t, http.StatusMethodNotAllowed, env.do(t, http.MethodPost, "/api/metrics", "").Code)
}

func TestSessionEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/session/start", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[api.SessionResponse](t, rec)
	assert.Equal(t, "running", resp.State)
	assert.Equal(t, "session-1", resp.SessionID)

	rec = env.do(t, http.MethodPost, "/api/session/start", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, session.ErrAlreadyRunning.Error(), decode[api.ErrorResponse](t, rec).Error)

	rec = env.do(t, http.MethodPost, "/api/session/pause", `{"paused": true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[api.SessionResponse](t, rec).Paused)

	rec = env.do(t, http.MethodPost, "/api/session/pause", `{"paused": false}`)
	assert.False(t, decode[api.SessionResponse](t, rec).Paused)

	rec = env.do(t, http.MethodPost, "/api/session/window", `{"samples": 100000}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, session.MaxWindowSamples, decode[api.SessionResponse](t, rec).WindowSamples)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/api/session/window", `{"samples": 0}`).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/api/session/window", `{`).Code)

	rec = env.do(t, http.MethodGet, "/api/session", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "unloaded", decode[api.SessionResponse](t, rec).Models)

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/session/stop", "").Code)
	assert.Equal(t, http.StatusConflict, env.do(t, http.MethodPost, "/api/session/stop", "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, env.do(t, http.MethodGet, "/api/session/start", "").Code)
}

func TestLiveEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/live", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code, "nothing staged")

	verse := `{"item": {"type": "Verse", "data": {"id": 2, "book": "John", "chapter": 3, "verse": 16, "text": "For God so loved the world", "version": "KJV"}}}`
	rec = env.do(t, http.MethodPost, "/api/live/stage", verse)
	require.Equal(t, http.StatusOK, rec.Code)
	live := decode[api.LiveResponse](t, rec)
	assert.Nil(t, live.Live.Item)
	require.IsType(t, events.Verse{}, live.Staged.Item)

	rec = env.do(t, http.MethodPost, "/api/live", "")
	require.Equal(t, http.StatusOK, rec.Code)
	live = decode[api.LiveResponse](t, rec)
	assert.Equal(t, "John", live.Live.Item.(events.Verse).Book)

	assert.Equal(t, http.StatusConflict, env.do(t, http.MethodPost, "/api/live/timer", `{"started_at": 1}`).Code)

	rec = env.do(t, http.MethodPost, "/api/live", `{"item": {"type": "Timer", "data": {"timer_type": "countdown", "duration_secs": 300}}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/live/timer", `{"started_at": 1700000000000}`)
	require.Equal(t, http.StatusOK, rec.Code)
	timer := decode[api.LiveResponse](t, rec).Live.Item.(events.Timer)
	require.NotNil(t, timer.StartedAt)
	assert.Equal(t, int64(1700000000000), *timer.StartedAt)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/api/live/stage", `{"item": null}`).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/api/live", `{"item": {"type": "Hologram", "data": {}}}`).Code)

	rec = env.do(t, http.MethodDelete, "/api/live", "")
	require.Equal(t, http.StatusOK, rec.Code)
	live = decode[api.LiveResponse](t, rec)
	assert.Nil(t, live.Live.Item)
	assert.Nil(t, live.Staged.Item)
	assert.JSONEq(t, `{"live": null, "staged": null}`, rec.Body.String())
}

func TestDeviceEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/devices", "")
	require.Equal(t, http.StatusOK, rec.Code)
	devices := decode[api.DevicesResponse](t, rec)
	assert.Len(t, devices.Devices, 2)
	assert.Empty(t, devices.Selected)

	rec = env.do(t, http.MethodPost, "/api/devices/select", `{"device_id": "USB Audio CODEC"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "USB Audio CODEC", decode[api.DevicesResponse](t, rec).Selected)

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPost, "/api/devices/select", `{"device_id": "Theremin"}`).Code)

	rec = env.do(t, http.MethodPost, "/api/audio/vad", `{"threshold": 0.01}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float32(0.01), decode[api.VADResponse](t, rec).Threshold)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/api/audio/vad", `{"threshold": 2}`).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/api/audio/vad", `{}`).Code)
}

func TestCorpusEndpoints(t *testing.T) {
	env := newTestEnv(t)

	t.Run("translations", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/corpus/translations", "")
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[api.TranslationsResponse](t, rec)
		assert.Equal(t, []string{"KJV", "NIV"}, resp.Translations)
		assert.Equal(t, "KJV", resp.Active)

		assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPost, "/api/corpus/translation", `{"translation": "XYZ"}`).Code)
		assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/api/corpus/translation", `{"translation": "../KJV"}`).Code)

		rec = env.do(t, http.MethodPost, "/api/corpus/translation", `{"translation": "NIV"}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "NIV", decode[api.TranslationsResponse](t, rec).Active)

		require.NoError(t, env.index.SetActiveTranslation("KJV"))
	})

	t.Run("lookup", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/corpus/lookup?book=genesis&chapter=1&verse=1", "")
		require.Equal(t, http.StatusOK, rec.Code)
		record := decode[corpus.Record](t, rec)
		assert.Equal(t, "KJV", record.Translation)
		assert.Equal(t, 0, record.Row)

		rec = env.do(t, http.MethodGet, "/api/corpus/lookup?book=genesis&chapter=1&verse=1&translation=NIV", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 3, decode[corpus.Record](t, rec).Row)

		assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/corpus/lookup?book=john&chapter=3&verse=17", "").Code)
		assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/corpus/lookup?book=john&chapter=3", "").Code)
		assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/corpus/lookup?chapter=3&verse=16", "").Code)
	})

	t.Run("next", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/corpus/next?book=genesis&chapter=1&verse=1", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 2, decode[corpus.Record](t, rec).Verse)

		// the last KJV verse has no successor in KJV
		assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/corpus/next?book=john&chapter=3&verse=16", "").Code)
	})

	t.Run("browse", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/corpus/books", "")
		assert.Equal(t, []string{"Genesis", "John"}, decode[[]string](t, rec))

		rec = env.do(t, http.MethodGet, "/api/corpus/chapters?book=genesis", "")
		assert.Equal(t, []int{1}, decode[[]int](t, rec))

		rec = env.do(t, http.MethodGet, "/api/corpus/verses?book=genesis&chapter=1", "")
		assert.Equal(t, []int{1, 2}, decode[[]int](t, rec))

		rec = env.do(t, http.MethodGet, "/api/corpus/verses?book=exodus&chapter=1", "")
		assert.JSONEq(t, `[]`, rec.Body.String())

		assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/corpus/chapters", "").Code)
	})

	t.Run("keyword search", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/corpus/search?q=beginning", "")
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[api.SearchResponse](t, rec)
		assert.Equal(t, api.SearchKeyword, resp.Source)
		require.Len(t, resp.Results, 2)
		assert.Equal(t, "KJV", resp.Results[0].Record.Translation)
		assert.Equal(t, "NIV", resp.Results[1].Record.Translation)

		rec = env.do(t, http.MethodGet, "/api/corpus/search?q=beginning&translation=NIV", "")
		assert.Len(t, decode[api.SearchResponse](t, rec).Results, 1)

		assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/corpus/search?q=%20", "").Code)
	})

	t.Run("semantic falls back to keywords before models load", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/corpus/semantic?q=beginning", "")
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[api.SearchResponse](t, rec)
		assert.Equal(t, api.SearchKeyword, resp.Source)
		assert.Len(t, resp.Results, 2)
	})

	t.Run("semantic", func(t *testing.T) {
		_, err := env.models.Load(context.Background())
		require.NoError(t, err)

		rec := env.do(t, http.MethodGet, "/api/corpus/semantic?q=creation", "")
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[api.SearchResponse](t, rec)
		assert.Equal(t, api.SearchSemantic, resp.Source)
		require.Len(t, resp.Results, 3, "one result per locator")
		assert.Equal(t, "Genesis", resp.Results[0].Record.Book)
		assert.Equal(t, 1, resp.Results[0].Record.Verse)
		assert.Equal(t, "KJV", resp.Results[0].Record.Translation)
		assert.InDelta(t, 1.0, resp.Results[0].Score, 1e-6)
	})
}

func TestEventsWebsocket(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/events?kinds=live-update"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	defer func() { _ = conn.Close() }()

	require.Eventually(t, func() bool { return env.bus.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	env.bus.Publish(events.New(events.KindAudioLevel, "s1", float32(0.3)))
	env.bus.Publish(events.New(events.KindLive, "s1", events.Tagged{Item: events.Media{ID: "m1", Name: "Welcome"}}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got struct {
		Kind    events.Kind   `json:"kind"`
		Payload events.Tagged `json:"payload"`
	}
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, events.KindLive, got.Kind, "filtered kinds are skipped")
	assert.Equal(t, events.Media{ID: "m1", Name: "Welcome"}, got.Payload.Item)

	// closing the bus ends the stream
	env.bus.Close()
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}
