// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package results

import (
	"errors"
	"fmt"
	"time"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrFull indicates an insert into a set that is already at capacity.
	ErrFull = errors.New("result set is full")

	// ErrInvalidCapacity indicates a non-positive set capacity.
	ErrInvalidCapacity = errors.New("result set capacity must be positive")
)

// DefaultCapacity is the number of trials kept per measurement (TRIES).
const DefaultCapacity = 11

// -----------------------------------------------------------------------------
// Sample
// -----------------------------------------------------------------------------

// Sample is a single measurement: N iterations of a work function took Duration.
type Sample struct {
	// Duration is the elapsed wall time with timing overhead removed.
	Duration time.Duration

	// N is the number of work iterations performed during Duration.
	N uint64
}

// Rate returns the per-iteration cost in nanoseconds.
//
// A zero iteration count is treated as one so a zeroed sample never divides by zero.
func (s Sample) Rate() float64 {
	n := s.N
	if n == 0 {
		n = 1
	}
	return float64(s.Duration) / float64(n)
}

// PerOp returns the per-iteration cost as a duration, truncated to whole nanoseconds.
func (s Sample) PerOp() time.Duration {
	return time.Duration(s.Rate())
}

// String implements fmt.Stringer.
func (s Sample) String() string {
	return fmt.Sprintf("{%v, %d}", s.Duration, s.N)
}

// zero is what reductions of an empty set report: no time over one iteration.
var zero = Sample{Duration: 0, N: 1}

// -----------------------------------------------------------------------------
// Set
// -----------------------------------------------------------------------------

// Set is a fixed-capacity collection of samples ordered by descending rate.
//
// Description:
//
//	The slowest sample is at index 0 and the fastest at index Len()-1, so the
//	minimum reduction is a constant-time read of the last element. OS noise
//	(interrupts, page faults, scheduling) only ever inflates a measurement, so
//	the fastest sample is the tightest estimate of the true cost while the
//	median is the typical one.
//
// Thread Safety: Not safe for concurrent mutation. Each Set is owned by the
// component that produced it.
type Set struct {
	samples  []Sample
	capacity int
}

// New returns an empty set holding at most capacity samples.
//
// A non-positive capacity falls back to DefaultCapacity.
func New(capacity int) *Set {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Set{
		samples:  make([]Sample, 0, capacity),
		capacity: capacity,
	}
}

// Len returns the number of samples in the set.
func (s *Set) Len() int { return len(s.samples) }

// Cap returns the capacity fixed at construction.
func (s *Set) Cap() int { return s.capacity }

// Samples returns a copy of the samples, slowest first.
func (s *Set) Samples() []Sample {
	out := make([]Sample, len(s.samples))
	copy(out, s.samples)
	return out
}

// At returns the sample at rank i (0 is the slowest).
func (s *Set) At(i int) Sample { return s.samples[i] }

// Clone returns an independent copy of the set.
func (s *Set) Clone() *Set {
	c := New(s.capacity)
	c.samples = append(c.samples, s.samples...)
	return c
}

// Reset empties the set without changing its capacity.
func (s *Set) Reset() {
	s.samples = s.samples[:0]
}

// Insert adds a sample at its rank, shifting faster samples down.
//
// Description:
//
//	Walks the set from the slowest sample and stops at the first sample that
//	is faster than the new one; the new sample takes that slot. Samples with
//	an equal rate keep insertion order (the newer one lands after the older).
//
// Inputs:
//
//	d - Elapsed time of the measurement.
//	n - Iteration count of the measurement.
//
// Outputs:
//
//	error - ErrFull when the set already holds Cap() samples.
func (s *Set) Insert(d time.Duration, n uint64) error {
	if len(s.samples) >= s.capacity {
		return ErrFull
	}
	s.insert(Sample{Duration: d, N: n})
	return nil
}

func (s *Set) insert(v Sample) {
	rate := v.Rate()
	i := 0
	for ; i < len(s.samples); i++ {
		if rate > s.samples[i].Rate() {
			break
		}
	}
	s.samples = append(s.samples, Sample{})
	copy(s.samples[i+1:], s.samples[i:])
	s.samples[i] = v
}

// Minimum returns the fastest sample, or {0, 1} when the set is empty.
func (s *Set) Minimum() Sample {
	if len(s.samples) == 0 {
		return zero
	}
	return s.samples[len(s.samples)-1]
}

// Maximum returns the slowest sample, or {0, 1} when the set is empty.
func (s *Set) Maximum() Sample {
	if len(s.samples) == 0 {
		return zero
	}
	return s.samples[0]
}

// Median returns the middle-ranked sample.
//
// For an even count the two middle samples are averaged field by field, which
// keeps both the duration and the iteration count meaningful on their own.
// An empty set yields {0, 1}.
func (s *Set) Median() Sample {
	n := len(s.samples)
	if n == 0 {
		return zero
	}
	i := n / 2
	if n%2 == 1 {
		return s.samples[i]
	}
	a, b := s.samples[i-1], s.samples[i]
	return Sample{
		Duration: (a.Duration + b.Duration) / 2,
		N:        (a.N + b.N) / 2,
	}
}

// Sorted reports whether the set satisfies its ordering invariant.
func (s *Set) Sorted() bool {
	for i := 1; i < len(s.samples); i++ {
		if s.samples[i].Rate() > s.samples[i-1].Rate() {
			return false
		}
	}
	return true
}
