// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package imu

// IMURaw represents a single raw accelerometer reading as published on MQTT.
type IMURaw struct {
	Source string `json:"source"` // "left", "right", "serial", "mock"

	Ax int16 `json:"ax"` // accel, counts
	Ay int16 `json:"ay"`
	Az int16 `json:"az"`

	// TimestampMS is the producer's wall clock at read time. Zero means unknown.
	TimestampMS int64 `json:"ts_ms,omitempty"`
}

// accelLSBPerG holds the MPU9250 sensitivity for IMU_ACCEL_RANGE 0-3
// (±2g, ±4g, ±8g, ±16g).
var accelLSBPerG = [4]float64{16384, 8192, 4096, 2048}

// CountsToMS2 converts a raw accelerometer count to m/s² for the given range.
// Out-of-range values fall back to ±2g.
func CountsToMS2(c int16, accelRange byte) float64 {
	lsb := accelLSBPerG[0]
	if int(accelRange) < len(accelLSBPerG) {
		lsb = accelLSBPerG[accelRange]
	}
	return float64(c) / lsb * StandardGravity
}

// MS2ToCounts is the inverse of CountsToMS2, saturating at the int16 limits.
func MS2ToCounts(v float64, accelRange byte) int16 {
	lsb := accelLSBPerG[0]
	if int(accelRange) < len(accelLSBPerG) {
		lsb = accelLSBPerG[accelRange]
	}
	c := v / StandardGravity * lsb
	switch {
	case c >= 32767:
		return 32767
	case c <= -32768:
		return -32768
	}
	return int16(c)
}
