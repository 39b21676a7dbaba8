// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package detector

import (
	"errors"
	"fmt"
	"sync"
)

// Listener is notified once per accepted step. OnStep runs inside
// Detector.Process, so it may call SetSensitivity or Sensitivity but not
// Process, State or Stats.
type Listener interface {
	OnStep()
}

// ListenerFunc adapts a plain function to Listener.
type ListenerFunc func()

func (f ListenerFunc) OnStep() { f() }

// Sink fans a step out to registered listeners in registration order.
// The zero value is ready to use.
type Sink struct {
	mu        sync.Mutex
	listeners []Listener
}

// Add registers l. Registering the same listener twice notifies it twice.
// Safe to call at any time, including from inside OnStep.
func (s *Sink) Add(l Listener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()
}

// Len returns the number of registered listeners.
func (s *Sink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners)
}

// Emit notifies every listener on the calling goroutine. A listener that
// panics is recovered and the remaining listeners are still notified; the
// recovered failures are returned joined.
func (s *Sink) Emit() error {
	s.mu.Lock()
	// the list is append-only, so the prefix we hold is never rewritten
	listeners := s.listeners[:len(s.listeners):len(s.listeners)]
	s.mu.Unlock()

	var errs []error
	for i, l := range listeners {
		if err := notify(l); err != nil {
			errs = append(errs, fmt.Errorf("step listener %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

func notify(l Listener) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	l.OnStep()
	return nil
}
