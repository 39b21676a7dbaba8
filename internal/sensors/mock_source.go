// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"math"
	"time"

	"github.com/relabs-tech/step_computer/internal/imu"
)

// Walking defaults for the mock source: a swing of 1.6 m/s² at one stride
// per second is comfortably above the default sensitivity.
const (
	MockAmplitude = 1.6
	MockStrideHz  = 1.0
)

type mockSource struct {
	start     time.Time
	now       func() time.Time
	amplitude float64
	strideHz  float64
}

// NewMockSource creates a mock accelerometer that produces a smooth walking
// signal: gravity on Z plus the same sinusoidal swing on every axis.
func NewMockSource(amplitude, strideHz float64) imu.SampleSource {
	return newMockSource(time.Now, amplitude, strideHz)
}

func newMockSource(now func() time.Time, amplitude, strideHz float64) *mockSource {
	return &mockSource{start: now(), now: now, amplitude: amplitude, strideHz: strideHz}
}

func (m *mockSource) Next() (imu.Sample, error) {
	t := m.now()
	elapsed := t.Sub(m.start).Seconds()
	swing := m.amplitude * math.Sin(2*math.Pi*m.strideHz*elapsed)

	return imu.Sample{
		Type: imu.Accelerometer,
		X:    swing,
		Y:    swing,
		Z:    imu.StandardGravity + swing,
		Time: t,
	}, nil
}
