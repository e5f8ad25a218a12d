// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package timing provides the clock and the calibration constants used to
// turn raw wall-clock readings into trustworthy per-iteration costs.
//
// Three quantities are calibrated once per Calibrator and then memoized:
//
//   - Enough: the shortest interval that the clock can time to within a
//     quarter of a percent. Measurements shorter than this are noise.
//   - TimingOverhead: the cost of one clock read, subtracted from every
//     measurement. Only computed when Enough is short enough for it to matter.
//   - LoopOverhead: the per-iteration cost of an empty loop, subtracted once
//     per iteration.
//
// The environment variables ENOUGH, TIMING_O and LOOP_O (all in
// microseconds) replace the corresponding calibration.
package timing

import "time"

// Duration constants shared by the harness.
const (
	// Tries is the default number of trials kept per measurement.
	Tries = 11

	// RealShort is the threshold below which timing overhead is not noise.
	RealShort = 50 * time.Millisecond

	// Short is the minimum synchronized run length for multi-process runs
	// and the fallback Enough value.
	Short = time.Second

	// Medium is a conventional target for payloads that need longer runs.
	Medium = 2 * time.Second

	// Longer bounds the targets that get a warm-up call before timing.
	Longer = 7500 * time.Millisecond
)

// Stamp is a reading of the monotonic clock in nanoseconds.
//
// On unix the clock is CLOCK_MONOTONIC, which has the same epoch in every
// process on a host, so stamps taken in different processes can be compared.
type Stamp int64

// Sub returns s - o without clamping.
func (s Stamp) Sub(o Stamp) time.Duration {
	return time.Duration(s - o)
}

// Elapsed returns stop - start, clamped to zero.
func Elapsed(start, stop Stamp) time.Duration {
	d := stop.Sub(start)
	if d < 0 {
		return 0
	}
	return d
}

// Clock reads a Stamp. Now is the production clock.
type Clock func() Stamp
