// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package steplog

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/relabs-tech/step_computer/internal/imu"
)

// ErrTruncated is returned alongside the complete records when a log ends in
// the middle of a record, e.g. after a crash before the last flush finished.
var ErrTruncated = errors.New("steplog: truncated record")

// readRecords calls fn for each complete record of size n in r.
func readRecords(r io.Reader, n int, fn func([]byte)) error {
	br := bufio.NewReader(r)
	buf := make([]byte, n)
	for {
		_, err := io.ReadFull(br, buf)
		switch {
		case err == nil:
			fn(buf)
		case errors.Is(err, io.EOF):
			return nil
		case errors.Is(err, io.ErrUnexpectedEOF):
			return ErrTruncated
		default:
			return fmt.Errorf("read log: %w", err)
		}
	}
}

// ReadSteps returns every step timestamp (unix ms) in a step log.
func ReadSteps(r io.Reader) ([]int64, error) {
	var out []int64
	err := readRecords(r, StepRecordSize, func(b []byte) {
		out = append(out, int64(binary.BigEndian.Uint64(b)))
	})
	return out, err
}

// ReadSamples returns every accelerometer sample in a sample log.
func ReadSamples(r io.Reader) ([]imu.Sample, error) {
	var out []imu.Sample
	err := readRecords(r, SampleRecordSize, func(b []byte) {
		out = append(out, imu.Sample{
			Type: imu.Accelerometer,
			Time: time.UnixMilli(int64(binary.BigEndian.Uint64(b[0:8]))),
			X:    float64(math.Float32frombits(binary.BigEndian.Uint32(b[8:12]))),
			Y:    float64(math.Float32frombits(binary.BigEndian.Uint32(b[12:16]))),
			Z:    float64(math.Float32frombits(binary.BigEndian.Uint32(b[16:20]))),
		})
	})
	return out, err
}
