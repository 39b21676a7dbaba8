// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package step

import "time"

// Event represents one detected step suitable for JSON and MQTT.
type Event struct {
	Session     string  `json:"session"`     // producer run id
	Count       int     `json:"count"`       // running total in this session
	TimestampMS int64   `json:"ts_ms"`       // unix milliseconds
	Time        string  `json:"time"`        // RFC3339 with milliseconds
	Sensitivity float64 `json:"sensitivity"` // gate in effect when detected
}

// NewEvent builds an Event for a step detected at ms.
func NewEvent(session string, count int, ms int64, sensitivity float64) Event {
	return Event{
		Session:     session,
		Count:       count,
		TimestampMS: ms,
		Time:        time.UnixMilli(ms).UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		Sensitivity: sensitivity,
	}
}

// At returns the event time.
func (e Event) At() time.Time {
	return time.UnixMilli(e.TimestampMS)
}

// SensitivityCommand asks a running producer to change its detector gate.
type SensitivityCommand struct {
	Sensitivity float64 `json:"sensitivity"`
}
