// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package steplog persists detected steps and raw accelerometer samples as
// append-only binary logs, and hands records off to slow sinks without
// blocking the detection path.
//
// Step log (steps.bin): one big-endian int64 per step, unix milliseconds.
// Sample log (sensors.bin): big-endian int64 unix milliseconds followed by
// three float32 axes in m/s², 20 bytes per record.
package steplog

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/relabs-tech/step_computer/internal/imu"
)

const (
	// StepRecordSize is the size of one step log record in bytes.
	StepRecordSize = 8
	// SampleRecordSize is the size of one sample log record in bytes.
	SampleRecordSize = 8 + 3*4

	StepsFile   = "steps.bin"
	SamplesFile = "sensors.bin"
)

// DefaultFlushEvery is the flush cadence used when none is given.
const DefaultFlushEvery = 10

// logWriter is the shared buffered, periodically flushed writer.
type logWriter struct {
	mu         sync.Mutex
	closer     io.Closer
	w          *bufio.Writer
	flushEvery int
	pending    int
	buf        []byte
}

func newLogWriter(w io.Writer, flushEvery, recordSize int) *logWriter {
	if flushEvery <= 0 {
		flushEvery = DefaultFlushEvery
	}
	lw := &logWriter{
		w:          bufio.NewWriter(w),
		flushEvery: flushEvery,
		buf:        make([]byte, recordSize),
	}
	if c, ok := w.(io.Closer); ok {
		lw.closer = c
	}
	return lw
}

// write appends the record currently in lw.buf. Caller holds lw.mu.
func (lw *logWriter) write() error {
	if _, err := lw.w.Write(lw.buf); err != nil {
		return err
	}
	lw.pending++
	if lw.pending >= lw.flushEvery {
		lw.pending = 0
		return lw.w.Flush()
	}
	return nil
}

// Flush writes any buffered records to the underlying writer.
func (lw *logWriter) Flush() error {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	lw.pending = 0
	return lw.w.Flush()
}

// Close flushes and closes the underlying file, if any.
func (lw *logWriter) Close() error {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	err := lw.w.Flush()
	if lw.closer != nil {
		if cerr := lw.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func openAppend(dir, name string) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir %s: %w", dir, err)
	}
	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return f, nil
}

// Writer appends step timestamps to a step log.
type Writer struct {
	*logWriter
}

// NewWriter writes step records to w, flushing every flushEvery records.
func NewWriter(w io.Writer, flushEvery int) *Writer {
	return &Writer{newLogWriter(w, flushEvery, StepRecordSize)}
}

// Create opens (or creates) dir/steps.bin for appending.
func Create(dir string, flushEvery int) (*Writer, error) {
	f, err := openAppend(dir, StepsFile)
	if err != nil {
		return nil, err
	}
	return NewWriter(f, flushEvery), nil
}

// RecordStep appends one step timestamp.
func (w *Writer) RecordStep(timestampMillis int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	binary.BigEndian.PutUint64(w.buf, uint64(timestampMillis))
	if err := w.write(); err != nil {
		return fmt.Errorf("write step: %w", err)
	}
	return nil
}

// SampleWriter appends raw accelerometer samples to a sample log.
type SampleWriter struct {
	*logWriter
}

// NewSampleWriter writes sample records to w, flushing every flushEvery records.
func NewSampleWriter(w io.Writer, flushEvery int) *SampleWriter {
	return &SampleWriter{newLogWriter(w, flushEvery, SampleRecordSize)}
}

// CreateSamples opens (or creates) dir/sensors.bin for appending.
func CreateSamples(dir string, flushEvery int) (*SampleWriter, error) {
	f, err := openAppend(dir, SamplesFile)
	if err != nil {
		return nil, err
	}
	return NewSampleWriter(f, flushEvery), nil
}

// RecordSample appends one sample. Axes are stored as float32.
func (w *SampleWriter) RecordSample(s imu.Sample) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	binary.BigEndian.PutUint64(w.buf[0:8], uint64(s.Time.UnixMilli()))
	binary.BigEndian.PutUint32(w.buf[8:12], math.Float32bits(float32(s.X)))
	binary.BigEndian.PutUint32(w.buf[12:16], math.Float32bits(float32(s.Y)))
	binary.BigEndian.PutUint32(w.buf[16:20], math.Float32bits(float32(s.Z)))
	if err := w.write(); err != nil {
		return fmt.Errorf("write sample: %w", err)
	}
	return nil
}
