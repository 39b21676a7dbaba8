// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package detector

import "sync"

// Counter is a Listener that keeps a running step total and reports every
// change to its own subscribers.
type Counter struct {
	mu        sync.Mutex
	steps     int
	listeners []func(steps int)
}

// OnStep increments the total.
func (c *Counter) OnStep() {
	c.mu.Lock()
	c.steps++
	n := c.steps
	listeners := c.listeners
	c.mu.Unlock()
	c.notify(listeners, n)
}

// SetSteps overwrites the total, e.g. to continue a count kept elsewhere.
func (c *Counter) SetSteps(n int) {
	c.mu.Lock()
	c.steps = n
	listeners := c.listeners
	c.mu.Unlock()
	c.notify(listeners, n)
}

// Steps returns the current total.
func (c *Counter) Steps() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.steps
}

// AddChangeListener registers f to receive the new total after each change.
func (c *Counter) AddChangeListener(f func(steps int)) {
	c.mu.Lock()
	c.listeners = append(c.listeners, f)
	c.mu.Unlock()
}

func (c *Counter) notify(listeners []func(int), n int) {
	for _, f := range listeners {
		f(n)
	}
}
