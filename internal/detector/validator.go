// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package detector

// validator decides whether a reversal is a real step.
type validator struct {
	// lastDiff is the swing of the last reversal that passed the amplitude gate.
	lastDiff  float64
	lastMatch Side
}

func newValidator() validator {
	return validator{lastMatch: MatchNone}
}

func (v *validator) reset() {
	*v = newValidator()
}

// check applies the amplitude gate and then the consistency gate. Reversals
// that fail the amplitude gate leave the validator untouched.
func (v *validator) check(r Reversal, limit float64) bool {
	if !(r.Diff > limit) {
		return false
	}

	isAlmostAsLargeAsPrevious := r.Diff > v.lastDiff*2/3
	isPreviousLargeEnough := v.lastDiff > r.Diff/3
	isNotContra := v.lastMatch != r.Side.opposite()

	accepted := isAlmostAsLargeAsPrevious && isPreviousLargeEnough && isNotContra
	if accepted {
		v.lastMatch = r.Side
	} else {
		v.lastMatch = MatchNone
	}
	v.lastDiff = r.Diff
	return accepted
}
