// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package timing

import (
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/AleutianAI/microbench/pkg/results"
)

// =============================================================================
// CALIBRATION
// =============================================================================

// Calibration is a snapshot of the calibrated constants.
type Calibration struct {
	// TimingOverhead is the cost of one clock read.
	TimingOverhead time.Duration `json:"timing_overhead" yaml:"timing_overhead"`

	// LoopOverhead is the cost of one empty loop iteration in nanoseconds.
	LoopOverhead float64 `json:"loop_overhead_ns" yaml:"loop_overhead_ns"`

	// Enough is the shortest interval the clock times accurately.
	Enough time.Duration `json:"enough" yaml:"enough"`
}

// Calibrator computes and memoizes the calibration constants.
//
// Description:
//
//	Each constant is computed on first use and never recomputed for the
//	lifetime of the Calibrator. TimingOverhead and LoopOverhead depend on
//	Enough, so the first call to either one also calibrates Enough.
//
// Thread Safety: Safe for concurrent use.
type Calibrator struct {
	logger *slog.Logger
	clock  Clock
	lookup func(string) (string, bool)
	tries  int

	enoughOnce sync.Once
	enough     time.Duration
	enoughSet  bool

	timingOnce sync.Once
	timing     time.Duration
	timingSet  bool

	loopOnce sync.Once
	loop     float64
	loopSet  bool
}

// Option configures a Calibrator.
type Option func(*Calibrator)

// WithLogger sets the logger used to report calibration results.
func WithLogger(l *slog.Logger) Option {
	return func(c *Calibrator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock replaces the clock. Intended for tests.
func WithClock(clock Clock) Option {
	return func(c *Calibrator) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithLookup replaces os.LookupEnv for the ENOUGH, TIMING_O and LOOP_O overrides.
func WithLookup(lookup func(string) (string, bool)) Option {
	return func(c *Calibrator) {
		if lookup != nil {
			c.lookup = lookup
		}
	}
}

// WithTries sets the number of trials per calibration measurement.
func WithTries(n int) Option {
	return func(c *Calibrator) {
		if n > 1 {
			c.tries = n
		}
	}
}

// WithEnough fixes Enough instead of calibrating it.
func WithEnough(d time.Duration) Option {
	return func(c *Calibrator) {
		c.enough = d
		c.enoughSet = true
	}
}

// WithTimingOverhead fixes TimingOverhead instead of calibrating it.
func WithTimingOverhead(d time.Duration) Option {
	return func(c *Calibrator) {
		c.timing = d
		c.timingSet = true
	}
}

// WithLoopOverhead fixes LoopOverhead (nanoseconds per iteration).
func WithLoopOverhead(ns float64) Option {
	return func(c *Calibrator) {
		c.loop = ns
		c.loopSet = true
	}
}

// New creates a Calibrator. Nothing is measured until a constant is requested.
func New(opts ...Option) *Calibrator {
	c := &Calibrator{
		logger: slog.Default(),
		clock:  Now,
		lookup: os.LookupEnv,
		tries:  Tries,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var (
	defaultOnce       sync.Once
	defaultCalibrator *Calibrator
)

// Default returns the process-wide Calibrator.
func Default() *Calibrator {
	defaultOnce.Do(func() {
		defaultCalibrator = New()
	})
	return defaultCalibrator
}

// Clock returns the clock the Calibrator measures with.
func (c *Calibrator) Clock() Clock { return c.clock }

// Tries returns the number of trials per measurement.
func (c *Calibrator) Tries() int { return c.tries }

// Enough returns the shortest accurately timed interval.
//
// Description:
//
//	Tries 5ms, 10ms, 50ms and 100ms in order. A candidate passes when a
//	workload sized to fill it, scaled up by 1.5%, 2% and 3.5%, takes
//	proportionally longer to within 0.25%. The first passing candidate is
//	used; if none pass, Short is used.
func (c *Calibrator) Enough() time.Duration {
	c.enoughOnce.Do(func() {
		if c.enoughSet {
			return
		}
		if ns, ok := c.env(EnvEnough); ok {
			c.enough = time.Duration(ns)
			return
		}
		started := time.Now()
		c.enough = c.computeEnough()
		c.logger.Debug("calibrated timing interval",
			slog.Duration("enough", c.enough),
			slog.Duration("took", time.Since(started)))
	})
	return c.enough
}

// EnoughFor returns the larger of Enough and target.
func (c *Calibrator) EnoughFor(target time.Duration) time.Duration {
	if e := c.Enough(); e > target {
		return e
	}
	return target
}

// TimingOverhead returns the cost of one clock read.
//
// It is zero when Enough exceeds RealShort, where one clock read is lost in
// the noise of the interval being timed.
func (c *Calibrator) TimingOverhead() time.Duration {
	c.timingOnce.Do(func() {
		if c.timingSet {
			return
		}
		if ns, ok := c.env(EnvTimingOverhead); ok {
			c.timing = time.Duration(ns)
			return
		}
		if c.Enough() > RealShort {
			return
		}
		c.timing = c.computeTimingOverhead()
		c.logger.Debug("calibrated timing overhead", slog.Duration("overhead", c.timing))
	})
	return c.timing
}

// LoopOverhead returns the cost of one empty loop iteration in nanoseconds.
//
// Description:
//
//	Times a loop whose body is one dependent load and a loop whose body is
//	two. With u1/n1 = overhead + work and u2/n2 = overhead + 2*work, the
//	overhead is 2*u1/n1 - u2/n2. Negative results are clamped to zero.
func (c *Calibrator) LoopOverhead() float64 {
	c.loopOnce.Do(func() {
		if c.loopSet {
			return
		}
		if ns, ok := c.env(EnvLoopOverhead); ok {
			c.loop = ns
			return
		}
		c.loop = c.computeLoopOverhead()
		c.logger.Debug("calibrated loop overhead", slog.Float64("overhead_ns", c.loop))
	})
	return c.loop
}

// Overhead returns the total overhead to subtract from a timed run of n iterations.
func (c *Calibrator) Overhead(n uint64) time.Duration {
	return c.TimingOverhead() + time.Duration(float64(n)*c.LoopOverhead())
}

// Calibration calibrates everything and returns the constants.
func (c *Calibrator) Calibration() Calibration {
	return Calibration{
		Enough:         c.Enough(),
		TimingOverhead: c.TimingOverhead(),
		LoopOverhead:   c.LoopOverhead(),
	}
}

// =============================================================================
// MEASUREMENT
// =============================================================================

// Grow returns the next iteration count for an adaptive loop whose last run
// of iterations took result and should have taken about target.
//
// Runs longer than 150µs are trusted enough to scale proportionally (with
// 10% headroom); shorter ones are too noisy for that and grow eightfold.
func Grow(iterations uint64, result, target time.Duration) uint64 {
	if result > 150*time.Microsecond {
		next := float64(iterations) / float64(result) * 1.1 * float64(target)
		return uint64(next) + 1
	}
	return iterations << 3
}

// InBand reports whether result is close enough to target to accept.
func InBand(result, target time.Duration) bool {
	return float64(result) >= 0.99*float64(target) && float64(result) <= 1.2*float64(target)
}

// adaptive is the calibration inner loop: it repeats body with a growing
// iteration count until one run lasts about target. The count carries over
// between calls so later trials start close to the right size.
type adaptive struct {
	clock      Clock
	target     time.Duration
	iterations uint64
}

const adaptiveLimit = 1 << 27

func (a *adaptive) run(body func(n uint64)) (time.Duration, uint64) {
	if a.iterations == 0 {
		a.iterations = 1
	}
	for {
		n := a.iterations
		start := a.clock()
		body(n)
		result := Elapsed(start, a.clock())

		if !InBand(result, a.target) {
			if result <= 150*time.Microsecond && a.iterations > adaptiveLimit {
				return 0, n
			}
			a.iterations = Grow(a.iterations, result, a.target)
		}
		if float64(result) >= 0.95*float64(a.target) {
			return result, n
		}
	}
}

func (c *Calibrator) computeTimingOverhead() time.Duration {
	set := results.New(c.tries)
	a := &adaptive{clock: c.clock, target: c.Enough()}
	clock := c.clock
	body := func(n uint64) {
		var s Stamp
		for ; n > 0; n-- {
			s += clock()
		}
		stampSink = s
	}
	for i := 0; i < c.tries; i++ {
		if d, n := a.run(body); d > 0 {
			_ = set.Insert(d, n)
		}
	}
	return set.Minimum().PerOp()
}

func (c *Calibrator) computeLoopOverhead() float64 {
	overhead := c.TimingOverhead()
	one := results.New(c.tries)
	two := results.New(c.tries)
	a1 := &adaptive{clock: c.clock, target: c.Enough()}
	a2 := &adaptive{clock: c.clock, target: c.Enough()}

	for i := 0; i < c.tries; i++ {
		if d, n := a1.run(chaseOne); d > 0 && d > overhead {
			_ = one.Insert(d-overhead, n)
		}
		if d, n := a2.run(chaseTwo); d > 0 && d > overhead {
			_ = two.Insert(d-overhead, n)
		}
	}

	loop := 2*one.Minimum().Rate() - two.Minimum().Rate()
	if loop < 0 {
		loop = 0
	}
	return loop
}
