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
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/loqalabs/loqa-lectern/internal/audio"
	"github.com/loqalabs/loqa-lectern/internal/config"
	"github.com/loqalabs/loqa-lectern/internal/corpus"
	"github.com/loqalabs/loqa-lectern/internal/events"
	"github.com/loqalabs/loqa-lectern/internal/inference"
	"github.com/loqalabs/loqa-lectern/internal/logging"
	"github.com/loqalabs/loqa-lectern/internal/monitor"
)

// Status messages shown to the operator.
const (
	msgLoading = "Loading AI models (first-time setup, ~10 s)..."
	msgRunning = "Live session started"
	msgEnded   = "Session ended"
	msgStopped = "Session stopped"
)

// Capture is the audio side of a session.
type Capture interface {
	StartCapturing(sinks audio.Sinks) error
	Stop()
}

// ModelLoader yields the shared inference engine, loading it on first use.
type ModelLoader interface {
	Load(ctx context.Context) (*inference.Engine, error)
	State() inference.ModelState
}

// Detector matches transcripts against the reference corpus.
type Detector interface {
	DetectHybrid(text string, embedding []float32) corpus.Detection
}

// Options sizes channels and windows.
type Options struct {
	WindowSamples  int
	OverlapSamples int
	PausedSamples  int
	QueueDepth     int
	AudioBuffer    int
	ErrorBuffer    int
	LevelBuffer    int
}

// DefaultOptions returns the standard channel and window sizes.
func DefaultOptions() Options {
	return Options{
		WindowSamples:  DefaultWindowSamples,
		OverlapSamples: OverlapSamples,
		PausedSamples:  PausedSamples,
		QueueDepth:     2,
		AudioBuffer:    50,
		ErrorBuffer:    10,
		LevelBuffer:    50,
	}
}

// OptionsFromConfig maps configuration onto Options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		WindowSamples:  cfg.Session.WindowSamples,
		OverlapSamples: cfg.Session.OverlapSamples,
		PausedSamples:  cfg.Session.PausedSamples,
		QueueDepth:     cfg.Session.QueueDepth,
		AudioBuffer:    cfg.Audio.AudioBuffer,
		ErrorBuffer:    cfg.Audio.ErrorBuffer,
		LevelBuffer:    cfg.Audio.LevelBuffer,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.WindowSamples <= 0 {
		o.WindowSamples = d.WindowSamples
	}
	if o.OverlapSamples <= 0 {
		o.OverlapSamples = d.OverlapSamples
	}
	if o.PausedSamples <= 0 {
		o.PausedSamples = d.PausedSamples
	}
	if o.QueueDepth <= 0 {
		o.QueueDepth = d.QueueDepth
	}
	if o.AudioBuffer <= 0 {
		o.AudioBuffer = d.AudioBuffer
	}
	if o.ErrorBuffer <= 0 {
		o.ErrorBuffer = d.ErrorBuffer
	}
	if o.LevelBuffer <= 0 {
		o.LevelBuffer = d.LevelBuffer
	}
	o.WindowSamples = ClampWindow(o.WindowSamples)
	return o
}

// run is one session from start to its single stop announcement.
type run struct {
	id        string
	started   time.Time
	reached   atomic.Bool // got to Running
	ended     atomic.Bool
	announced atomic.Bool
	done      chan struct{}
}

// Orchestrator owns the live session: capture, windowing, inference and
// detection. At most one session is loading or running at a time.
type Orchestrator struct {
	capture  Capture
	models   ModelLoader
	detector Detector
	sink     events.Sink
	monitor  *monitor.PipelineMonitor
	opts     Options

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	state atomic.Int32
	run   *run

	window atomic.Int64
	paused atomic.Bool

	liveMu sync.RWMutex
	staged events.DisplayItem
	live   events.DisplayItem
}

// New creates an idle orchestrator. pm may be nil.
func New(capture Capture, models ModelLoader, detector Detector, sink events.Sink, pm *monitor.PipelineMonitor, opts Options) *Orchestrator {
	if pm == nil {
		pm = monitor.NewPipelineMonitor()
	}
	if sink == nil {
		sink = events.Multi{}
	}
	ctx, cancel := context.WithCancel(context.Background())

	o := &Orchestrator{
		capture:  capture,
		models:   models,
		detector: detector,
		sink:     sink,
		monitor:  pm,
		opts:     opts.withDefaults(),
		ctx:      ctx,
		cancel:   cancel,
	}
	o.window.Store(int64(o.opts.WindowSamples))
	return o
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

// SessionID returns the id of the current or most recent session.
func (o *Orchestrator) SessionID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.run == nil {
		return ""
	}
	return o.run.id
}

// Monitor exposes pipeline metrics.
func (o *Orchestrator) Monitor() *monitor.PipelineMonitor {
	return o.monitor
}

// SetPaused stops or resumes transcription without stopping capture.
func (o *Orchestrator) SetPaused(paused bool) {
	o.paused.Store(paused)
	logging.LogSession(o.SessionID(), o.State().String(), zap.Bool("paused", paused))
}

// Paused reports whether transcription is paused.
func (o *Orchestrator) Paused() bool {
	return o.paused.Load()
}

// SetWindowSize changes the transcription window, effective on the next
// chunk. It returns the applied, clamped value.
func (o *Orchestrator) SetWindowSize(samples int) int {
	applied := ClampWindow(samples)
	o.window.Store(int64(applied))
	return applied
}

// WindowSize returns the transcription window in samples.
func (o *Orchestrator) WindowSize() int {
	return int(o.window.Load())
}

// StartSession loads models if needed, opens capture and starts the
// pipeline. It returns once the session is running. With the models already
// resident the session goes straight from Idle to Running.
func (o *Orchestrator) StartSession(ctx context.Context) error {
	o.mu.Lock()
	switch o.State() {
	case Loading, Running, Stopping:
		o.mu.Unlock()
		return ErrAlreadyRunning
	}
	r := &run{id: uuid.NewString(), started: time.Now(), done: make(chan struct{})}
	o.run = r

	if o.models.State() == inference.ModelsReady {
		engine, err := o.models.Load(ctx)
		if err == nil {
			err = o.launchLocked(r, engine, 0)
			o.mu.Unlock()
			if err != nil {
				o.abort(r, err.Error())
			}
			return err
		}
		// unloaded since the check; take the slow path
	}

	o.setState(r, Loading)
	o.mu.Unlock()

	o.status(r, events.StatusLoading, msgLoading)
	loadStart := time.Now()
	engine, err := o.models.Load(ctx)
	if err != nil {
		o.abort(r, fmt.Sprintf("AI models failed to load: %v", err))
		return err
	}

	o.mu.Lock()
	if r.ended.Load() {
		// stopped while models were loading
		o.setState(r, Idle)
		o.mu.Unlock()
		close(r.done)
		return nil
	}
	err = o.launchLocked(r, engine, time.Since(loadStart))
	o.mu.Unlock()
	if err != nil {
		o.abort(r, err.Error())
	}
	return err
}

// launchLocked opens capture and starts the pipeline goroutines. It must be
// called with o.mu held.
func (o *Orchestrator) launchLocked(r *run, engine *inference.Engine, loadTime time.Duration) error {
	audioCh := make(chan []float32, o.opts.AudioBuffer)
	errCh := make(chan error, o.opts.ErrorBuffer)
	levelCh := make(chan float32, o.opts.LevelBuffer)

	if err := o.capture.StartCapturing(audio.Sinks{Audio: audioCh, Errors: errCh, Levels: levelCh}); err != nil {
		return err
	}
	o.setState(r, Running)
	r.reached.Store(true)

	o.monitor.RecordSessionStarted(loadTime)
	o.status(r, events.StatusRunning, msgRunning)

	go o.forwardLevels(r, levelCh)
	go o.forwardErrors(r, errCh)
	go o.windowLoop(r, engine, audioCh)

	return nil
}

// StopSession stops capture. The pipeline drains and exits once the
// capture engine closes its channels.
func (o *Orchestrator) StopSession() error {
	o.mu.Lock()
	r := o.run
	state := o.State()
	if r == nil || (state != Running && state != Loading) {
		o.mu.Unlock()
		return ErrNotRunning
	}
	r.ended.Store(true)
	if state == Loading {
		o.mu.Unlock()
		o.announce(r, events.StatusStopped, msgStopped)
		return nil
	}
	o.setState(r, Stopping)
	o.mu.Unlock()

	o.announce(r, events.StatusStopped, msgStopped)
	o.capture.Stop()
	return nil
}

// Wait blocks until the current session's pipeline has exited or ctx is
// done.
func (o *Orchestrator) Wait(ctx context.Context) error {
	o.mu.Lock()
	r := o.run
	o.mu.Unlock()
	if r == nil {
		return nil
	}
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops any session and cancels in-flight inference.
func (o *Orchestrator) Close(ctx context.Context) error {
	if err := o.StopSession(); err != nil && !errors.Is(err, ErrNotRunning) {
		return err
	}
	err := o.Wait(ctx)
	o.cancel()
	return err
}

// setState must be called with o.mu held.
func (o *Orchestrator) setState(r *run, s State) {
	o.state.Store(int32(s))
	logging.LogSession(r.id, s.String())
}

// abort moves a session that never reached Running into Error.
func (o *Orchestrator) abort(r *run, message string) {
	o.mu.Lock()
	if o.run == r {
		if r.ended.Load() {
			o.setState(r, Idle)
		} else {
			o.setState(r, Error)
		}
	}
	o.mu.Unlock()

	r.ended.Store(true)
	o.announce(r, events.StatusError, message)
	close(r.done)
}

// fail handles a fatal device error on a running session.
func (o *Orchestrator) fail(r *run, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.run != r {
		// a newer session owns the capture engine
		r.ended.Store(true)
		return
	}
	if o.State() == Running {
		o.setState(r, Error)
	}

	r.ended.Store(true)
	o.announce(r, events.StatusError, err.Error())
	o.capture.Stop()
}

// finish runs when the capture stream has ended for any reason.
func (o *Orchestrator) finish(r *run) {
	r.ended.Store(true)

	o.mu.Lock()
	if o.run == r && o.State() != Error {
		o.setState(r, Idle)
	}
	o.mu.Unlock()

	o.announce(r, events.StatusStopped, msgEnded)
}

// announce publishes the one terminal status of a session. Whichever of
// explicit stop, end of stream or device fault gets here first wins.
func (o *Orchestrator) announce(r *run, status, message string) {
	if !r.announced.CompareAndSwap(false, true) {
		return
	}
	if r.reached.Load() {
		o.monitor.RecordSessionStopped(time.Since(r.started))
	}
	o.status(r, status, message)
}

func (o *Orchestrator) status(r *run, status, message string) {
	logging.LogSession(r.id, status, zap.String("message", message))
	o.sink.Publish(events.New(events.KindSessionStatus, r.id, events.SessionStatus{Status: status, Message: message}))
}

func (o *Orchestrator) forwardLevels(r *run, levels <-chan float32) {
	for level := range levels {
		o.sink.Publish(events.New(events.KindAudioLevel, r.id, level))
	}
}

func (o *Orchestrator) forwardErrors(r *run, errs <-chan error) {
	for err := range errs {
		logging.LogError(err, "Audio capture error", zap.String("session_id", r.id))
		o.sink.Publish(events.New(events.KindAudioError, r.id, err.Error()))

		if errors.Is(err, audio.ErrDeviceLost) {
			o.fail(r, err)
		}
	}
}

// windowLoop accumulates capture chunks into transcription windows and hands
// them to a single FIFO inference worker.
func (o *Orchestrator) windowLoop(r *run, engine *inference.Engine, chunks <-chan []float32) {
	jobs := make(chan []float32, o.opts.QueueDepth)
	workerDone := make(chan struct{})
	go o.inferenceWorker(r, engine, jobs, workerDone)

	w := &windower{overlap: o.opts.OverlapSamples, pausedKeep: o.opts.PausedSamples}
	for chunk := range chunks {
		o.monitor.RecordCapture(len(chunk))

		job := w.add(chunk, o.WindowSize(), o.paused.Load())
		if job == nil {
			continue
		}

		select {
		case jobs <- job:
			o.monitor.RecordWindowDispatched()
		default:
			o.monitor.RecordWindowDropped()
			logging.LogWarn("Inference busy, window dropped",
				zap.String("session_id", r.id),
				zap.Int("samples", len(job)))
		}
	}

	close(jobs)
	o.finish(r)
	<-workerDone
	close(r.done)
}

// windower accumulates 16 kHz samples into transcription windows.
type windower struct {
	buffer     []float32
	overlap    int
	pausedKeep int
}

// add appends chunk and returns a copy of the buffer once it holds at least
// window samples, keeping the trailing overlap for the next window. The
// overlap never exceeds half the window so windows always advance. While
// paused nothing is returned and the buffer is cut back to pausedKeep
// samples whenever it outgrows the window.
func (w *windower) add(chunk []float32, window int, paused bool) []float32 {
	w.buffer = append(w.buffer, chunk...)

	if paused {
		if len(w.buffer) > window {
			w.retain(min(len(w.buffer), w.pausedKeep))
		}
		return nil
	}

	if len(w.buffer) < window {
		return nil
	}

	job := make([]float32, len(w.buffer))
	copy(job, w.buffer)
	w.retain(min(w.overlap, window/2))
	return job
}

func (w *windower) retain(n int) {
	if len(w.buffer) > n {
		w.buffer = append(w.buffer[:0], w.buffer[len(w.buffer)-n:]...)
	}
}

func (o *Orchestrator) inferenceWorker(r *run, engine *inference.Engine, jobs <-chan []float32, done chan<- struct{}) {
	defer close(done)

	for samples := range jobs {
		if r.ended.Load() {
			continue
		}
		o.process(r, engine, samples)
	}
}

func (o *Orchestrator) process(r *run, engine *inference.Engine, samples []float32) {
	start := time.Now()

	text, err := engine.Transcribe(o.ctx, samples)
	if err != nil {
		o.monitor.RecordInferenceError()
		logging.LogError(err, "Transcription failed", zap.String("session_id", r.id))
		return
	}
	text = strings.TrimSpace(text)
	if isPlaceholder(text) {
		o.monitor.RecordSuppressed()
		return
	}

	embedding, err := engine.Embed(o.ctx, text)
	if err != nil {
		// explicit references still resolve without an embedding
		o.monitor.RecordInferenceError()
		logging.LogError(err, "Embedding failed", zap.String("session_id", r.id))
		embedding = nil
	}

	detection := o.detector.DetectHybrid(text, embedding)

	audioDuration := time.Duration(len(samples)) * time.Second / audio.TargetSampleRate
	o.monitor.RecordInference(time.Since(start), audioDuration)
	o.monitor.RecordDetection(string(detection.Source))

	if r.ended.Load() {
		return
	}

	update := events.TranscriptionUpdate{
		Text:       text,
		Confidence: detection.Confidence,
		Source:     string(detection.Source),
	}
	if detection.Matched() {
		update.DetectedItem = events.Tagged{Item: VerseItem(*detection.Record)}
	}
	o.sink.Publish(events.New(events.KindTranscription, r.id, update))
}

// VerseItem converts a corpus record into a display item.
func VerseItem(r corpus.Record) events.Verse {
	return events.Verse{
		ID:      r.Row,
		Book:    r.Book,
		Chapter: r.Chapter,
		Verse:   r.Verse,
		Text:    r.Text,
		Version: r.Translation,
	}
}
