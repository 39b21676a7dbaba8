// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/step_computer/internal/detector"
	"github.com/relabs-tech/step_computer/internal/steplog"
)

func TestParseSensitivities(t *testing.T) {
	tests := []struct {
		arg     string
		want    []float64
		wantErr bool
	}{
		{arg: "10", want: []float64{10}},
		{arg: "5, 10,20.5", want: []float64{5, 10, 20.5}},
		{arg: "5:20:5", want: []float64{5, 10, 15, 20}},
		{arg: "0.5:1.5:0.5", want: []float64{0.5, 1, 1.5}},
		{arg: "x", wantErr: true},
		{arg: "0", wantErr: true},
		{arg: "10,-1", wantErr: true},
		{arg: "20:5:5", wantErr: true},
		{arg: "5:20:0", wantErr: true},
		{arg: "0:10:5", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.arg, func(t *testing.T) {
			got, err := ParseSensitivities(tt.arg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ParseSensitivities(%q) mismatch (-want +got):\n%s", tt.arg, diff)
			}
		})
	}
}

func TestSummarizeSignal(t *testing.T) {
	sum := SummarizeSignal(walk())
	assert.Equal(t, 500, sum.Samples)
	assert.InDelta(t, detector.DefaultOffset, sum.Mean, 1e-6)
	assert.InDelta(t, 20/1.4142135623730951, sum.StdDev, 0.1)
	assert.InDelta(t, detector.DefaultOffset-20, sum.Min, 1e-6)
	assert.InDelta(t, detector.DefaultOffset+20, sum.Max, 1e-6)
	assert.InDelta(t, 4.99, sum.Duration, 1e-9)

	assert.Equal(t, SignalSummary{}, SummarizeSignal(nil))
}

func TestReplaySweepIsMonotone(t *testing.T) {
	results := Replay(walk(), []float64{5, 10, 39, 41})
	require.Len(t, results, 4)
	assert.Equal(t, 4, results[0].Steps)
	assert.Equal(t, 4, results[1].Steps)
	assert.Equal(t, 4, results[2].Steps)
	assert.Equal(t, 0, results[3].Steps)
	for i := 1; i < len(results); i++ {
		assert.LessOrEqual(t, results[i].Steps, results[i-1].Steps)
	}
}

func TestRunReplay(t *testing.T) {
	dir := t.TempDir()
	sw, err := steplog.CreateSamples(dir, steplog.DefaultFlushEvery)
	require.NoError(t, err)
	for _, s := range walk() {
		require.NoError(t, sw.RecordSample(s))
	}
	require.NoError(t, sw.Close())

	var out bytes.Buffer
	plotFile := filepath.Join(dir, "replay.png")
	require.NoError(t, RunReplay(filepath.Join(dir, steplog.SamplesFile), []float64{10, 50}, plotFile, &out))
	assert.Contains(t, out.String(), "samples=500 duration=5.0s")
	assert.Contains(t, out.String(), "      10.00         4")
	assert.Contains(t, out.String(), "      50.00         0")

	info, err := os.Stat(plotFile)
	require.NoError(t, err)
	assert.NotZero(t, info.Size())

	assert.Error(t, RunReplay(filepath.Join(dir, "missing.bin"), []float64{10}, "", &out))
}

func TestStepPoints(t *testing.T) {
	signal, steps := stepPoints(walk(), 10)
	assert.Len(t, signal, 500)
	require.Len(t, steps, 4)
	// Steps are reported on the sample that reveals the reversal.
	assert.InDelta(t, 1.26, steps[0].X, 1e-9)
	assert.InDelta(t, 4.26, steps[3].X, 1e-9)
}
