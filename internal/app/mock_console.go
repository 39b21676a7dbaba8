// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/relabs-tech/step_computer/internal/detector"
	"github.com/relabs-tech/step_computer/internal/imu"
	"github.com/relabs-tech/step_computer/internal/sensors"
)

// RunMockConsole runs the detector on the mock walking source and prints
// each sample, with no broker or hardware involved.
func RunMockConsole(sensitivity float64) error {
	src := sensors.NewMockSource(sensors.MockAmplitude, sensors.MockStrideHz)
	det := detector.New(detector.WithSensitivity(sensitivity))

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	return runConsole(src, det, ticker.C, os.Stdout)
}

func runConsole(src imu.SampleSource, det *detector.Detector, tick <-chan time.Time, out io.Writer) error {
	counter := &detector.Counter{}
	det.AddListener(counter)
	norm := detector.DefaultNormalizer()

	stepped := false
	det.AddListenerFunc(func() { stepped = true })

	for range tick {
		s, err := src.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		stepped = false
		det.Process(s)

		v, _ := norm.Normalize(s)
		mark := ""
		if stepped {
			mark = "  STEP"
		}
		fmt.Fprintf(out, "V=%7.2f  STEPS=%5d%s\n", v, counter.Steps(), mark)
	}
	return nil
}
