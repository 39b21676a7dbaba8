// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package detector

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtremaTracker(t *testing.T) {
	type obs struct {
		v        float64
		reversed bool
		want     Reversal
	}
	// starts from a zero last value; a flat step breaks the run so the
	// following rise is not a reversal
	steps := []obs{
		{v: 1},
		{v: 3},
		{v: 2, reversed: true, want: Reversal{Side: MatchMax, Value: 3, Diff: 3}},
		{v: 2},
		{v: 5},
		{v: 1, reversed: true, want: Reversal{Side: MatchMax, Value: 5, Diff: 5}},
		{v: 4, reversed: true, want: Reversal{Side: MatchMin, Value: 1, Diff: 4}},
		{v: 6},
		{v: 0, reversed: true, want: Reversal{Side: MatchMax, Value: 6, Diff: 5}},
	}

	var tr extremaTracker
	for i, s := range steps {
		r, reversed := tr.observe(s.v)
		assert.Equal(t, s.reversed, reversed, "observation %d (%v)", i, s.v)
		if s.reversed {
			assert.Equal(t, s.want, r, "observation %d (%v)", i, s.v)
		}
	}
	assert.Equal(t, [2]float64{1, 6}, tr.lastExtremes)
	assert.Equal(t, -1, tr.lastDirection)
	assert.Equal(t, 0.0, tr.lastValue)
}

func TestSideString(t *testing.T) {
	assert.Equal(t, "min", MatchMin.String())
	assert.Equal(t, "max", MatchMax.String())
	assert.Equal(t, "none", MatchNone.String())
	assert.Equal(t, MatchMax, MatchMin.opposite())
	assert.Equal(t, MatchMin, MatchMax.opposite())
}
