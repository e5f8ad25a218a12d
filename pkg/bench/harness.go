// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package bench

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/microbench/pkg/results"
	"github.com/AleutianAI/microbench/pkg/timing"
)

// ErrUnmeasurable indicates a payload so fast that no practical iteration
// count fills the timing interval.
var ErrUnmeasurable = errors.New("payload too fast to measure")

const (
	// maxIterations bounds the adaptive loop.
	maxIterations = uint64(1) << 40

	// multiTrialLimit is the largest interval that still gets several trials.
	multiTrialLimit = 100 * time.Millisecond
)

// Harness owns the current result of a measurement session.
//
// # Description
//
// The current result is a result set plus the (time, count) pair reduced
// from it. Measure overwrites the pair; SetResults replaces the set and
// reduces it with the median. Callers that need to measure something on
// the side without disturbing the current result use Save:
//
//	restore := h.Save()
//	defer restore()
//
// # Thread Safety
//
// Safe for concurrent use, though concurrent measurements on one Harness
// overwrite each other's current result.
type Harness struct {
	cal    *timing.Calibrator
	clock  timing.Clock
	logger *slog.Logger

	mu      sync.Mutex
	current *results.Set
	elapsed time.Duration
	n       uint64
}

// Option configures a Harness.
type Option func(*Harness)

// WithCalibrator sets the calibrator. Defaults to timing.Default().
func WithCalibrator(c *timing.Calibrator) Option {
	return func(h *Harness) {
		if c != nil {
			h.cal = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Harness) {
		if l != nil {
			h.logger = l
		}
	}
}

// New creates a Harness with an empty current result of {0, 1}.
func New(opts ...Option) *Harness {
	h := &Harness{
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.cal == nil {
		h.cal = timing.Default()
	}
	h.clock = h.cal.Clock()
	h.current = results.New(h.cal.Tries())
	h.n = 1
	return h
}

// Calibrator returns the harness calibrator.
func (h *Harness) Calibrator() *timing.Calibrator { return h.cal }

// -----------------------------------------------------------------------------
// Current result
// -----------------------------------------------------------------------------

// Time returns the current elapsed time.
func (h *Harness) Time() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.elapsed
}

// N returns the current iteration count.
func (h *Harness) N() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.n
}

// Record sets the current (time, count) pair.
func (h *Harness) Record(d time.Duration, n uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.elapsed, h.n = d, n
}

// Results returns a copy of the current result set.
func (h *Harness) Results() *results.Set {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current.Clone()
}

// SetResults replaces the current result set and reduces it with the median.
func (h *Harness) SetResults(s *results.Set) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.current = s.Clone()
	m := h.current.Median()
	h.elapsed, h.n = m.Duration, m.N
}

// SaveMinimum reduces the current set to its fastest sample.
func (h *Harness) SaveMinimum() {
	h.mu.Lock()
	defer h.mu.Unlock()
	m := h.current.Minimum()
	h.elapsed, h.n = m.Duration, m.N
}

// SaveMedian reduces the current set to its median sample.
func (h *Harness) SaveMedian() {
	h.mu.Lock()
	defer h.mu.Unlock()
	m := h.current.Median()
	h.elapsed, h.n = m.Duration, m.N
}

// Save snapshots the current result and returns a func that restores it.
func (h *Harness) Save() (restore func()) {
	h.mu.Lock()
	set, d, n := h.current.Clone(), h.elapsed, h.n
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.current, h.elapsed, h.n = set, d, n
	}
}

// -----------------------------------------------------------------------------
// Measurement
// -----------------------------------------------------------------------------

// Measure times one call of work(iterations).
//
// The clock and loop overheads are subtracted and the result is clamped to
// zero. The result also becomes the current (time, count) pair.
func (h *Harness) Measure(work WorkFunc, iterations uint64) time.Duration {
	start := h.clock()
	work(iterations)
	stop := h.clock()

	d := timing.Elapsed(start, stop) - h.cal.Overhead(iterations)
	if d < 0 {
		d = 0
	}
	h.Record(d, iterations)
	return d
}

// Calibrated runs work with an adaptively chosen iteration count, starting
// from a single iteration. See CalibratedFrom.
func (h *Harness) Calibrated(ctx context.Context, work WorkFunc, target time.Duration, repetitions int) (*results.Set, error) {
	return h.CalibratedFrom(ctx, work, target, repetitions, 1)
}

// CalibratedFrom runs work with an adaptively chosen iteration count.
//
// # Description
//
// The effective target is the larger of target and the calibrated Enough.
// A target below timing.Longer gets one unmeasured single-iteration call to
// warm caches. Each trial then grows the iteration count until one
// measurement lands within 0.99..1.2 of the target (a run at or above 95%
// is kept). Targets up to 100ms get repetitions trials; longer ones get one.
// The count carries over between trials, so later trials usually need a
// single measurement.
//
// # Inputs
//
//   - ctx: Cancellation is checked between measurements.
//   - work: The work function.
//   - target: Requested interval; zero means Enough.
//   - repetitions: Trials for short targets. Values < 1 mean timing.Tries.
//   - start: Initial iteration count. Zero means 1.
//
// # Outputs
//
//   - *results.Set: The accepted samples. Also saved as the current result.
//   - error: ctx.Err() on cancellation, ErrUnmeasurable when the count
//     exceeds 2^40. On cancellation the set holds whatever was accepted
//     before; an unmeasurable payload leaves it empty, so the current
//     result reports zero.
func (h *Harness) CalibratedFrom(ctx context.Context, work WorkFunc, target time.Duration, repetitions int, start uint64) (*results.Set, error) {
	if repetitions < 1 {
		repetitions = h.cal.Tries()
	}
	enough := h.cal.EnoughFor(target)

	trials := 1
	if target == 0 || enough <= multiTrialLimit {
		trials = repetitions
	}

	set := results.New(repetitions)
	defer func() { h.SetResults(set) }()

	if target < timing.Longer {
		h.Measure(work, 1)
	}

	iterations := start
	if iterations == 0 {
		iterations = 1
	}
	for i := 0; i < trials; i++ {
		var (
			result   time.Duration
			measured uint64
		)
		for {
			if err := ctx.Err(); err != nil {
				return set, err
			}
			measured = iterations
			result = h.Measure(work, measured)
			if timing.InBand(result, enough) {
				break
			}
			if result <= 150*time.Microsecond && iterations > maxIterations {
				h.logger.Warn("abandoning measurement",
					slog.Uint64("iterations", iterations),
					slog.Duration("result", result))
				set.Reset()
				return set, fmt.Errorf("%w: %d iterations took %v", ErrUnmeasurable, iterations, result)
			}
			iterations = timing.Grow(iterations, result, enough)
			if float64(result) >= 0.95*float64(enough) {
				break
			}
		}
		if result > 0 {
			_ = set.Insert(result, measured)
		}
	}
	return set, nil
}
