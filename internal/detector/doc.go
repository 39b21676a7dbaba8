// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package detector turns a stream of accelerometer samples into discrete
// step events.
//
// Each accelerometer sample is reduced to one scalar (Normalizer), direction
// reversals of that scalar are tracked as local minima and maxima, and every
// reversal is passed through two gates before it counts as a step:
//
//  1. amplitude: the peak-to-trough swing must exceed the sensitivity.
//  2. consistency: the swing must be comparable to the previous swing that
//     passed gate 1, and must not be on the side opposite to the last
//     accepted step.
//
// Accepted steps are fanned out to Listeners and optionally handed to a
// Recorder for persistence.
package detector
