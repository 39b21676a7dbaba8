// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package detector

import "github.com/relabs-tech/step_computer/internal/imu"

// windowHeight is the height of the numeric window the signal is mapped into.
const windowHeight = 480

// Calibration constants. The useful accelerometer range (±2g) maps onto
// [0, windowHeight] around DefaultOffset.
var (
	DefaultOffset = windowHeight * 0.5
	AccelScale    = -(windowHeight * 0.5) / (2 * imu.StandardGravity)
	MagneticScale = -(windowHeight * 0.5) / imu.MagneticFieldEarthMax
)

// Normalizer maps a tri-axis sample onto one scalar: offset + mean(x,y,z)*scale.
type Normalizer struct {
	Offset float64
	Scale  float64
}

// DefaultNormalizer returns the accelerometer calibration used by New.
func DefaultNormalizer() Normalizer {
	return Normalizer{Offset: DefaultOffset, Scale: AccelScale}
}

// Normalize returns the scalar for s. ok is false for anything that is not an
// accelerometer sample; those must not touch detector state.
func (n Normalizer) Normalize(s imu.Sample) (v float64, ok bool) {
	if s.Type != imu.Accelerometer {
		return 0, false
	}
	mean := (s.X + s.Y + s.Z) / 3
	return n.Offset + mean*n.Scale, true
}

// Invert returns the per-axis value that normalizes to v when all three axes
// carry it. Used by signal generators and tests.
func (n Normalizer) Invert(v float64) float64 {
	return (v - n.Offset) / n.Scale
}
