// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package imu

import "time"

// StandardGravity is the standard acceleration due to gravity in m/s².
const StandardGravity = 9.80665

// MagneticFieldEarthMax is the maximum magnetic field on Earth's surface in µT.
const MagneticFieldEarthMax = 60.0

// SensorType tags the kind of sensor a Sample came from.
type SensorType int

const (
	Accelerometer SensorType = iota
	MagneticField
	Gyroscope
	Orientation
)

func (t SensorType) String() string {
	switch t {
	case Accelerometer:
		return "accelerometer"
	case MagneticField:
		return "magnetic_field"
	case Gyroscope:
		return "gyroscope"
	case Orientation:
		return "orientation"
	default:
		return "unknown"
	}
}

// Sample is one tri-axis reading in SI units (m/s² for acceleration).
type Sample struct {
	Type    SensorType
	X, Y, Z float64
	Time    time.Time
}

// SampleSource is anything that can provide samples over time:
// a real IMU, a serial accelerometer, a mock generator or a replay.
type SampleSource interface {
	Next() (Sample, error)
}

// FromRaw converts a raw accelerometer reading to a Sample. If raw carries no
// timestamp, fallback is used.
func FromRaw(raw IMURaw, accelRange byte, fallback time.Time) Sample {
	t := fallback
	if raw.TimestampMS != 0 {
		t = time.UnixMilli(raw.TimestampMS)
	}
	return Sample{
		Type: Accelerometer,
		X:    CountsToMS2(raw.Ax, accelRange),
		Y:    CountsToMS2(raw.Ay, accelRange),
		Z:    CountsToMS2(raw.Az, accelRange),
		Time: t,
	}
}

// ToRaw converts an accelerometer Sample to the raw MQTT representation.
func ToRaw(s Sample, source string, accelRange byte) IMURaw {
	raw := IMURaw{
		Source: source,
		Ax:     MS2ToCounts(s.X, accelRange),
		Ay:     MS2ToCounts(s.Y, accelRange),
		Az:     MS2ToCounts(s.Z, accelRange),
	}
	if !s.Time.IsZero() {
		raw.TimestampMS = s.Time.UnixMilli()
	}
	return raw
}
