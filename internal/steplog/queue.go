// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package steplog

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrQueueFull is returned by Queue.RecordStep when the buffer is full.
	ErrQueueFull = errors.New("steplog: queue full, step dropped")
	// ErrClosed is returned by Queue.RecordStep after Close.
	ErrClosed = errors.New("steplog: queue closed")
)

// Recorder persists one step timestamp (unix ms).
type Recorder interface {
	RecordStep(timestampMillis int64) error
}

// Queue hands steps to a possibly slow Recorder on its own goroutine.
// RecordStep never blocks; failures of the wrapped recorder are reported on
// Errors.
type Queue struct {
	rec  Recorder
	ch   chan int64
	errs chan error
	done chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewQueue starts a queue holding up to size pending steps.
func NewQueue(rec Recorder, size int) *Queue {
	if size <= 0 {
		size = 64
	}
	q := &Queue{
		rec:  rec,
		ch:   make(chan int64, size),
		errs: make(chan error, 16),
		done: make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *Queue) run() {
	defer close(q.done)
	defer close(q.errs)
	for ms := range q.ch {
		if err := q.rec.RecordStep(ms); err != nil {
			q.report(fmt.Errorf("record step %d: %w", ms, err))
		}
	}
}

// report never blocks; errors beyond the buffer are dropped.
func (q *Queue) report(err error) {
	select {
	case q.errs <- err:
	default:
	}
}

// RecordStep enqueues a step.
func (q *Queue) RecordStep(timestampMillis int64) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case q.ch <- timestampMillis:
		return nil
	default:
		return ErrQueueFull
	}
}

// Errors reports failures of the wrapped recorder. It is closed once Close
// has drained the queue.
func (q *Queue) Errors() <-chan error {
	return q.errs
}

// Close stops accepting steps and waits until every queued step was handed
// to the recorder. It does not close the recorder.
func (q *Queue) Close() error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	q.mu.Unlock()
	<-q.done
	return nil
}

// Multi records each step with every recorder in order and joins the errors.
type Multi []Recorder

func (m Multi) RecordStep(timestampMillis int64) error {
	var errs []error
	for _, r := range m {
		if err := r.RecordStep(timestampMillis); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
