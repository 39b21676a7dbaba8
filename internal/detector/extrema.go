// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package detector

import "math"

// Side identifies which extremum a reversal produced.
type Side int

const (
	MatchNone Side = -1
	MatchMin  Side = 0
	MatchMax  Side = 1
)

func (s Side) String() string {
	switch s {
	case MatchMin:
		return "min"
	case MatchMax:
		return "max"
	default:
		return "none"
	}
}

// opposite returns the other extremum side.
func (s Side) opposite() Side { return 1 - s }

// Reversal is a detected local extremum.
type Reversal struct {
	Side Side
	// Value is the extremum itself (the sample before the direction flip).
	Value float64
	// Diff is the swing between this extremum and the last opposite one.
	Diff float64
}

// extremaTracker finds direction reversals in the normalized signal.
type extremaTracker struct {
	lastValue     float64
	lastDirection int
	lastExtremes  [2]float64 // indexed by Side
}

// observe feeds one finite value and reports a reversal if the direction of
// change flipped sign. A flat step (direction 0) never counts as a reversal
// and also breaks the run, so the next non-zero move starts fresh.
func (t *extremaTracker) observe(v float64) (Reversal, bool) {
	direction := 0
	switch {
	case v > t.lastValue:
		direction = 1
	case v < t.lastValue:
		direction = -1
	}

	var (
		r        Reversal
		reversed bool
	)
	if direction != 0 && direction == -t.lastDirection {
		side := MatchMax
		if direction > 0 {
			side = MatchMin
		}
		t.lastExtremes[side] = t.lastValue
		r = Reversal{
			Side:  side,
			Value: t.lastValue,
			Diff:  math.Abs(t.lastExtremes[side] - t.lastExtremes[side.opposite()]),
		}
		reversed = true
	}

	t.lastDirection = direction
	t.lastValue = v
	return r, reversed
}
