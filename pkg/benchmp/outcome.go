// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package benchmp

import (
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/microbench/pkg/results"
	"github.com/AleutianAI/microbench/pkg/timing"
)

// WorkerReport is one worker's contribution to a run.
type WorkerReport struct {
	// ID is the worker index, 0..Parallelism-1.
	ID int

	// PID is the worker's process id. For in-process runs it is the
	// coordinator's own pid.
	PID int

	// Start is the clock reading taken as the worker entered its timed region.
	Start timing.Stamp

	// Set holds the worker's samples. Nil when the worker's frame was rejected.
	Set *results.Set
}

// Outcome is the result of one coordinator run.
//
// A failed run still returns an Outcome: its Set is empty, so Elapsed is zero
// and N is one, and Phase records how far the run got.
type Outcome struct {
	RunID       string
	Name        string
	Params      Params
	Parallelism int
	Target      time.Duration

	// Phase is the last phase reached.
	Phase Phase

	// Set is the merged, trimmed result set.
	Set *results.Set

	// Workers holds per-worker results in id order.
	Workers []WorkerReport

	// Baseline is the single-process run that sized a parallel run.
	Baseline *Outcome

	// Iterations is the count broadcast to workers at start.
	Iterations uint64

	// DrainKills counts workers killed for overrunning the drain timeout.
	DrainKills int

	// Summary describes the spread of rates in Set.
	Summary results.Summary

	Started time.Time
	Wall    time.Duration
}

func newOutcome(job Job, capacity int) *Outcome {
	return &Outcome{
		RunID:       uuid.NewString(),
		Name:        job.Label(),
		Params:      job.Params,
		Parallelism: job.Parallelism,
		Target:      job.Target,
		Phase:       PhaseInit,
		Set:         results.New(capacity),
		Started:     time.Now(),
	}
}

// Elapsed is the median reduced duration.
func (o *Outcome) Elapsed() time.Duration {
	return o.Set.Median().Duration
}

// N is the median reduced iteration count.
func (o *Outcome) N() uint64 {
	return o.Set.Median().N
}

// Rate is the median per-iteration cost in nanoseconds.
func (o *Outcome) Rate() float64 {
	return o.Set.Median().Rate()
}

// Valid reports whether the run produced a usable measurement.
func (o *Outcome) Valid() bool {
	return o.Set.Len() > 0 && o.Elapsed() > 0
}

// StartSkew is the spread between the earliest and latest worker start stamps.
func (o *Outcome) StartSkew() time.Duration {
	var lo, hi timing.Stamp
	seen := false
	for _, w := range o.Workers {
		if w.Set == nil {
			continue
		}
		if !seen {
			lo, hi, seen = w.Start, w.Start, true
			continue
		}
		lo, hi = min(lo, w.Start), max(hi, w.Start)
	}
	return timing.Elapsed(lo, hi)
}

// fail turns o into a zero outcome.
func (o *Outcome) fail() {
	o.Set.Reset()
	o.Summary = results.Summary{}
}
