// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package detector

import (
	"fmt"
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/relabs-tech/step_computer/internal/imu"
)

// DefaultSensitivity is the amplitude gate used when none is configured.
// Typical values range from ~2 (very sensitive) to ~50.
const DefaultSensitivity = 10.0

// Recorder persists accepted steps. RecordStep is called from inside the
// detector's critical section and must not block; wrap slow recorders in
// steplog.Queue.
type Recorder interface {
	RecordStep(timestampMillis int64) error
}

// State is a snapshot of the detector's cross-sample memory.
type State struct {
	LastValue     float64
	LastDirection int
	LastExtremes  [2]float64 // indexed by Side
	LastDiff      float64
	LastMatch     Side
	Sensitivity   float64
}

// Stats counts what happened to the samples fed so far.
type Stats struct {
	Samples   uint64 // every call to Process
	Ignored   uint64 // non-accelerometer samples
	Skipped   uint64 // non-finite accelerometer samples
	Reversals uint64
	Steps     uint64
}

// Detector is a streaming step detector. It is safe for concurrent use; each
// sample is processed under one mutex.
type Detector struct {
	mu      sync.Mutex
	norm    Normalizer
	tracker extremaTracker
	valid   validator
	stats   Stats

	// gateMu pairs a sensitivity change with its reset request. It is never
	// held while listeners run.
	gateMu        sync.Mutex
	sensitivity   atomic.Uint64 // math.Float64bits
	resetOnChange bool
	resetPending  bool

	sink     Sink
	recorder Recorder
	onError  func(error)
	now      func() time.Time
}

// Option configures a Detector.
type Option func(*Detector)

// WithSensitivity sets the initial amplitude gate.
func WithSensitivity(s float64) Option {
	return func(d *Detector) { d.sensitivity.Store(math.Float64bits(s)) }
}

// WithRecorder installs the persistence hand-off for accepted steps.
func WithRecorder(r Recorder) Option {
	return func(d *Detector) { d.recorder = r }
}

// WithErrorHandler receives listener and recorder failures. It runs inside the
// critical section and must be fast. The default logs the error.
func WithErrorHandler(h func(error)) Option {
	return func(d *Detector) {
		if h != nil {
			d.onError = h
		}
	}
}

// WithResetOnSensitivityChange makes SetSensitivity clear the consistency
// gate history (last swing and last matched side) before the next sample.
func WithResetOnSensitivityChange(reset bool) Option {
	return func(d *Detector) { d.resetOnChange = reset }
}

// WithNormalizer replaces the default accelerometer calibration.
func WithNormalizer(n Normalizer) Option {
	return func(d *Detector) { d.norm = n }
}

// WithClock sets the clock used to timestamp steps from samples without a time.
func WithClock(now func() time.Time) Option {
	return func(d *Detector) {
		if now != nil {
			d.now = now
		}
	}
}

// New creates a Detector with clean state.
func New(opts ...Option) *Detector {
	d := &Detector{
		norm:  DefaultNormalizer(),
		valid: newValidator(),
		onError: func(err error) {
			log.Printf("step detector: %v", err)
		},
		now: time.Now,
	}
	d.sensitivity.Store(math.Float64bits(DefaultSensitivity))
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// SetSensitivity changes the amplitude gate. It takes effect on the next
// sample and may be called from any goroutine, including a Listener.
func (d *Detector) SetSensitivity(s float64) {
	d.gateMu.Lock()
	defer d.gateMu.Unlock()
	old := math.Float64frombits(d.sensitivity.Swap(math.Float64bits(s)))
	if d.resetOnChange && old != s {
		d.resetPending = true
	}
}

// gate returns the limit for the next sample and whether the consistency
// history must be cleared first. Both come from the same SetSensitivity call.
func (d *Detector) gate() (limit float64, reset bool) {
	d.gateMu.Lock()
	defer d.gateMu.Unlock()
	reset = d.resetPending
	d.resetPending = false
	return d.Sensitivity(), reset
}

// Sensitivity returns the current amplitude gate.
func (d *Detector) Sensitivity() float64 {
	return math.Float64frombits(d.sensitivity.Load())
}

// AddListener registers l for step notifications.
func (d *Detector) AddListener(l Listener) {
	d.sink.Add(l)
}

// AddListenerFunc registers f for step notifications.
func (d *Detector) AddListenerFunc(f func()) {
	d.sink.Add(ListenerFunc(f))
}

// Process feeds one sample. Non-accelerometer samples and samples that do not
// normalize to a finite value leave the state untouched. On an accepted step
// listeners are notified first, then the recorder.
func (d *Detector) Process(s imu.Sample) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stats.Samples++
	v, ok := d.norm.Normalize(s)
	if !ok {
		d.stats.Ignored++
		return
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		d.stats.Skipped++
		return
	}

	limit, reset := d.gate()
	if reset {
		d.valid.reset()
	}

	r, reversed := d.tracker.observe(v)
	if !reversed {
		return
	}
	d.stats.Reversals++

	if !d.valid.check(r, limit) {
		return
	}
	d.stats.Steps++

	if err := d.sink.Emit(); err != nil {
		d.onError(err)
	}
	if d.recorder != nil {
		ts := s.Time
		if ts.IsZero() {
			ts = d.now()
		}
		if err := d.recorder.RecordStep(ts.UnixMilli()); err != nil {
			d.onError(fmt.Errorf("record step: %w", err))
		}
	}
}

// Signal notifies listeners as if a step had been detected, without touching
// detector state or the recorder. Used for manual test steps.
func (d *Detector) Signal() error {
	return d.sink.Emit()
}

// State returns a snapshot of the detector state.
func (d *Detector) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return State{
		LastValue:     d.tracker.lastValue,
		LastDirection: d.tracker.lastDirection,
		LastExtremes:  d.tracker.lastExtremes,
		LastDiff:      d.valid.lastDiff,
		LastMatch:     d.valid.lastMatch,
		Sensitivity:   d.Sensitivity(),
	}
}

// Stats returns the sample counters.
func (d *Detector) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}
