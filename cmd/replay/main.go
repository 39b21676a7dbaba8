// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"flag"
	"log"
	"os"
	"path/filepath"

	"github.com/relabs-tech/step_computer/internal/app"
	"github.com/relabs-tech/step_computer/internal/steplog"
)

func main() {
	logPath := flag.String("log", filepath.Join("steps", steplog.SamplesFile), "sample log written with SAMPLE_LOG_ENABLED=true")
	sens := flag.String("sensitivity", "5:60:5", "sensitivity, comma list or sweep from:to:step")
	plotFile := flag.String("plot", "", "write a plot of the signal at the first sensitivity (.png, .svg, .pdf)")
	flag.Parse()

	sensitivities, err := app.ParseSensitivities(*sens)
	if err != nil {
		log.Fatalf("bad -sensitivity: %v", err)
	}

	if err := app.RunReplay(*logPath, sensitivities, *plotFile, os.Stdout); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
