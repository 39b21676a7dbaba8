// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"flag"
	"log"

	"github.com/relabs-tech/step_computer/internal/app"
	"github.com/relabs-tech/step_computer/internal/detector"
)

func main() {
	sensitivity := flag.Float64("sensitivity", detector.DefaultSensitivity, "step detector sensitivity")
	flag.Parse()

	log.Println("starting step-computer (mock console)")

	if err := app.RunMockConsole(*sensitivity); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
