// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"time"

	serial "github.com/jacobsa/go-serial/serial"

	"github.com/relabs-tech/step_computer/internal/imu"
)

// SerialSource reads accelerometer samples printed one per line by a
// microcontroller, e.g. "0.12,-0.40,9.78" or "123456,0.12,-0.40,9.78" with a
// leading millisecond timestamp. Values are m/s².
type SerialSource struct {
	port    io.ReadCloser
	reader  *bufio.Reader
	now     func() time.Time
	dropped int
}

// NewSerialSource opens the serial port at portName.
func NewSerialSource(portName string, baudRate int) (*SerialSource, error) {
	opts := serial.OpenOptions{
		PortName:              portName,
		BaudRate:              uint(baudRate),
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       1,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: 0,
	}

	port, err := serial.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", portName, err)
	}
	log.Printf("serial accelerometer opened on %s at %d baud", portName, baudRate)
	return NewSerialSourceFrom(port), nil
}

// NewSerialSourceFrom reads sample lines from an already open stream.
func NewSerialSourceFrom(r io.ReadCloser) *SerialSource {
	return &SerialSource{
		port:   r,
		reader: bufio.NewReader(r),
		now:    time.Now,
	}
}

// Next returns the next well-formed sample. Noise and partial lines are
// skipped.
func (s *SerialSource) Next() (imu.Sample, error) {
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil && (line == "" || err != io.EOF) {
			return imu.Sample{}, err
		}
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		sample, perr := ParseSampleLine(line, s.now())
		if perr != nil {
			s.dropped++
			continue
		}
		return sample, nil
	}
}

// Dropped returns the number of malformed lines skipped so far.
func (s *SerialSource) Dropped() int {
	return s.dropped
}

// Close closes the serial port.
func (s *SerialSource) Close() error {
	return s.port.Close()
}

// ParseSampleLine parses "ax,ay,az" or "ts_ms,ax,ay,az". Without a timestamp
// the sample is stamped with now.
func ParseSampleLine(line string, now time.Time) (imu.Sample, error) {
	fields := strings.Split(line, ",")
	ts := now
	switch len(fields) {
	case 3:
	case 4:
		ms, err := strconv.ParseInt(strings.TrimSpace(fields[0]), 10, 64)
		if err != nil {
			return imu.Sample{}, fmt.Errorf("invalid timestamp %q: %w", fields[0], err)
		}
		ts = time.UnixMilli(ms)
		fields = fields[1:]
	default:
		return imu.Sample{}, fmt.Errorf("expected 3 or 4 fields, got %d", len(fields))
	}

	var axes [3]float64
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return imu.Sample{}, fmt.Errorf("invalid axis %d %q: %w", i, f, err)
		}
		axes[i] = v
	}
	return imu.Sample{Type: imu.Accelerometer, X: axes[0], Y: axes[1], Z: axes[2], Time: ts}, nil
}
