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

package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/loqalabs/loqa-lectern/internal/audio"
	"github.com/loqalabs/loqa-lectern/internal/corpus"
	"github.com/loqalabs/loqa-lectern/internal/events"
	"github.com/loqalabs/loqa-lectern/internal/inference"
)

// fakeCapture stands in for the audio engine. Channels are closed on Stop,
// matching the engine's contract.
type fakeCapture struct {
	mu       sync.Mutex
	sinks    audio.Sinks
	open     bool
	startErr error
	starts   int
	stops    int
}

func (f *fakeCapture) StartCapturing(sinks audio.Sinks) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.sinks = sinks
	f.open = true
	f.starts++
	return nil
}

func (f *fakeCapture) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	if !f.open {
		return
	}
	f.open = false
	close(f.sinks.Audio)
	close(f.sinks.Errors)
	close(f.sinks.Levels)
}

func (f *fakeCapture) push(chunk []float32) {
	f.mu.Lock()
	ch := f.sinks.Audio
	f.mu.Unlock()
	ch <- chunk
}

func (f *fakeCapture) fault(err error) {
	f.mu.Lock()
	ch := f.sinks.Errors
	f.mu.Unlock()
	ch <- err
}

func (f *fakeCapture) level(v float32) {
	f.mu.Lock()
	ch := f.sinks.Levels
	f.mu.Unlock()
	ch <- v
}

func (f *fakeCapture) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}

// fakeTranscriber returns text for each window, optionally blocking until
// released.
type fakeTranscriber struct {
	mu      sync.Mutex
	text    string
	err     error
	gate    chan struct{}
	entered chan struct{}
	windows []int
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, samples []float32) (string, error) {
	f.mu.Lock()
	f.windows = append(f.windows, len(samples))
	gate, entered := f.gate, f.entered
	text, err := f.text, f.err
	f.mu.Unlock()

	if entered != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
	}
	if gate != nil {
		<-gate
	}
	return text, err
}

func (f *fakeTranscriber) Close() error { return nil }

func (f *fakeTranscriber) setText(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.text = text
}

func (f *fakeTranscriber) windowSizes() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.windows...)
}

// fakeEmbedder maps known texts to unit vectors along an axis.
type fakeEmbedder struct {
	axes map[string]int
	err  error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	v := make([]float32, inference.EmbeddingDim)
	if axis, ok := f.axes[text]; ok {
		v[axis] = 1
	} else {
		v[inference.EmbeddingDim-1] = 1
	}
	return v, nil
}

func (f *fakeEmbedder) Close() error { return nil }

// recorder collects published events.
type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) ofKind(kind events.Kind) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, e := range r.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) statuses() []events.SessionStatus {
	var out []events.SessionStatus
	for _, e := range r.ofKind(events.KindSessionStatus) {
		out = append(out, e.Payload.(events.SessionStatus))
	}
	return out
}

func (r *recorder) transcriptions() []events.TranscriptionUpdate {
	var out []events.TranscriptionUpdate
	for _, e := range r.ofKind(events.KindTranscription) {
		out = append(out, e.Payload.(events.TranscriptionUpdate))
	}
	return out
}

func (r *recorder) waitFor(t *testing.T, kind events.Kind, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return len(r.ofKind(kind)) >= n },
		2*time.Second, 5*time.Millisecond, "waiting for %d %s events", n, kind)
}

// testIndex has two KJV verses with embedding rows along axes 0 and 1.
func testIndex(t *testing.T) *corpus.Index {
	t.Helper()
	records := []corpus.Record{
		{Book: "Genesis", Chapter: 1, Verse: 1, Translation: "KJV", Text: "In the beginning God created the heaven and the earth."},
		{Book: "John", Chapter: 3, Verse: 16, Translation: "KJV", Text: "For God so loved the world"},
	}
	matrix := make([]float32, len(records)*inference.EmbeddingDim)
	matrix[0] = 1
	matrix[inference.EmbeddingDim+1] = 1

	idx, err := corpus.New(records, matrix, corpus.Options{})
	require.NoError(t, err)
	return idx
}

type harness struct {
	orch    *Orchestrator
	capture *fakeCapture
	stt     *fakeTranscriber
	emb     *fakeEmbedder
	loader  *inference.Loader
	events  *recorder

	mu      sync.Mutex
	loadErr error
	loads   int
}

func (h *harness) failLoads(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.loadErr = err
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{
		capture: &fakeCapture{},
		stt:     &fakeTranscriber{text: "John 3:16"},
		emb:     &fakeEmbedder{axes: map[string]int{"in the beginning": 0}},
		events:  &recorder{},
	}
	h.loader = inference.NewLoader(func(context.Context) (*inference.Engine, error) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.loads++
		if h.loadErr != nil {
			return nil, h.loadErr
		}
		return inference.NewEngine(h.stt, h.emb), nil
	})
	h.orch = New(h.capture, h.loader, testIndex(t), h.events, nil, opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = h.orch.Close(ctx)
	})
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	require.NoError(t, h.orch.StartSession(context.Background()))
	require.Equal(t, Running, h.orch.State())
}

func (h *harness) stopAndWait(t *testing.T) {
	t.Helper()
	require.NoError(t, h.orch.StopSession())
	h.wait(t)
}

func (h *harness) wait(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.orch.Wait(ctx))
}

func samples(n int, value float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = value
	}
	return out
}

var errDeviceLost = fmt.Errorf("%w: %w", audio.ErrStreamRuntime, audio.ErrDeviceLost)
