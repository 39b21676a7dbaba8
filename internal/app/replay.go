// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"fmt"
	"image/color"
	"io"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/relabs-tech/step_computer/internal/detector"
	"github.com/relabs-tech/step_computer/internal/imu"
	"github.com/relabs-tech/step_computer/internal/steplog"
)

// SignalSummary describes the normalized signal of a recording.
type SignalSummary struct {
	Samples  int
	Mean     float64
	StdDev   float64
	Min, Max float64
	Duration float64 // seconds between first and last sample
}

// ReplayResult is the outcome of one replay at a fixed sensitivity.
type ReplayResult struct {
	Sensitivity float64
	Steps       int
	Reversals   uint64
}

// SummarizeSignal normalizes samples and computes their statistics.
func SummarizeSignal(samples []imu.Sample) SignalSummary {
	norm := detector.DefaultNormalizer()
	values := make([]float64, 0, len(samples))
	for _, s := range samples {
		if v, ok := norm.Normalize(s); ok {
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return SignalSummary{}
	}

	mean, std := stat.MeanStdDev(values, nil)
	return SignalSummary{
		Samples:  len(values),
		Mean:     mean,
		StdDev:   std,
		Min:      floats.Min(values),
		Max:      floats.Max(values),
		Duration: samples[len(samples)-1].Time.Sub(samples[0].Time).Seconds(),
	}
}

// Replay runs samples through a fresh detector at each sensitivity.
func Replay(samples []imu.Sample, sensitivities []float64) []ReplayResult {
	out := make([]ReplayResult, 0, len(sensitivities))
	for _, sens := range sensitivities {
		det := detector.New(detector.WithSensitivity(sens))
		for _, s := range samples {
			det.Process(s)
		}
		st := det.Stats()
		out = append(out, ReplayResult{Sensitivity: sens, Steps: int(st.Steps), Reversals: st.Reversals})
	}
	return out
}

// ParseSensitivities accepts "10", "5,10,20" or a sweep "from:to:step".
func ParseSensitivities(arg string) ([]float64, error) {
	if parts := strings.Split(arg, ":"); len(parts) == 3 {
		var bounds [3]float64
		for i, p := range parts {
			v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
			if err != nil {
				return nil, fmt.Errorf("invalid sweep %q: %w", arg, err)
			}
			bounds[i] = v
		}
		from, to, inc := bounds[0], bounds[1], bounds[2]
		if inc <= 0 || to < from {
			return nil, fmt.Errorf("invalid sweep %q: need from <= to and step > 0", arg)
		}
		var out []float64
		for i := 0; ; i++ {
			v := from + float64(i)*inc
			if v > to+inc/1e6 {
				break
			}
			if err := validSensitivity(v); err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	}

	var out []float64
	for _, p := range strings.Split(arg, ",") {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid sensitivity %q: %w", p, err)
		}
		if err := validSensitivity(v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// stepPoints returns the normalized signal against seconds since the first
// sample, plus the points at which the detector accepted a step.
func stepPoints(samples []imu.Sample, sensitivity float64) (signal, steps plotter.XYs) {
	norm := detector.DefaultNormalizer()
	det := detector.New(detector.WithSensitivity(sensitivity))
	stepped := false
	det.AddListenerFunc(func() { stepped = true })

	start := samples[0].Time
	for _, s := range samples {
		v, ok := norm.Normalize(s)
		if !ok {
			continue
		}
		pt := plotter.XY{X: s.Time.Sub(start).Seconds(), Y: v}
		signal = append(signal, pt)

		stepped = false
		det.Process(s)
		if stepped {
			steps = append(steps, pt)
		}
	}
	return signal, steps
}

// PlotReplay renders the normalized signal with the steps accepted at
// sensitivity to an image file; the format follows the file extension.
func PlotReplay(samples []imu.Sample, sensitivity float64, file string) error {
	if len(samples) == 0 {
		return fmt.Errorf("no samples to plot")
	}
	signal, steps := stepPoints(samples, sensitivity)

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Normalized signal, sensitivity %.2f (%d steps)", sensitivity, len(steps))
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = "Value"

	line, err := plotter.NewLine(signal)
	if err != nil {
		return err
	}
	line.Width = vg.Points(1)
	p.Add(line)
	p.Legend.Add("signal", line)

	if len(steps) > 0 {
		marks, err := plotter.NewScatter(steps)
		if err != nil {
			return err
		}
		marks.Color = color.RGBA{R: 220, A: 255}
		marks.Radius = vg.Points(3)
		p.Add(marks)
		p.Legend.Add("step", marks)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	return p.Save(14*vg.Inch, 6*vg.Inch, file)
}

func readSampleLog(path string) ([]imu.Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open sample log: %w", err)
	}
	defer f.Close()

	samples, err := steplog.ReadSamples(f)
	if err != nil {
		return nil, fmt.Errorf("read sample log %s: %w", path, err)
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("sample log %s is empty", path)
	}
	return samples, nil
}

// RunReplay replays the sample log at path and prints a report to out. When
// plotFile is set, the signal at the first sensitivity is also plotted.
func RunReplay(path string, sensitivities []float64, plotFile string, out io.Writer) error {
	samples, err := readSampleLog(path)
	if err != nil {
		return err
	}

	sum := SummarizeSignal(samples)
	fmt.Fprintf(out, "samples=%d duration=%.1fs\n", sum.Samples, sum.Duration)
	fmt.Fprintf(out, "signal mean=%.2f std=%.2f min=%.2f max=%.2f\n", sum.Mean, sum.StdDev, sum.Min, sum.Max)
	fmt.Fprintln(out, "sensitivity     steps  reversals")
	for _, r := range Replay(samples, sensitivities) {
		fmt.Fprintf(out, "%11.2f  %8d  %9d\n", r.Sensitivity, r.Steps, r.Reversals)
	}

	if plotFile != "" && len(sensitivities) > 0 {
		if err := PlotReplay(samples, sensitivities[0], plotFile); err != nil {
			return fmt.Errorf("plot: %w", err)
		}
		fmt.Fprintf(out, "plot written to %s\n", plotFile)
	}
	return nil
}
