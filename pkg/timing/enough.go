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
	"math"
	"time"

	"github.com/AleutianAI/microbench/pkg/results"
)

var (
	enoughCandidates = []time.Duration{
		5 * time.Millisecond,
		10 * time.Millisecond,
		50 * time.Millisecond,
		100 * time.Millisecond,
	}

	enoughScales = []float64{1.015, 1.02, 1.035}
)

const (
	enoughTolerance = 0.0025
	probeStartN     = 10000
	probeSearches   = 10
)

func (c *Calibrator) computeEnough() time.Duration {
	p := &probe{c: c, n: probeStartN}
	for _, candidate := range enoughCandidates {
		if p.linear(candidate) {
			return candidate
		}
	}
	return Short
}

// probe sizes a pointer-chase workload to a target interval and checks that
// the clock scales linearly with it. The workload size and its last timing
// carry over between candidates.
type probe struct {
	c    *Calibrator
	n    int64
	last time.Duration
}

// timeN returns the median time of tries-1 runs of n*10 dependent loads.
func (p *probe) timeN(n int64) time.Duration {
	set := results.New(p.c.tries)
	for i := 1; i < p.c.tries; i++ {
		start := p.c.clock()
		chaseTen(n)
		if d := Elapsed(start, p.c.clock()); d > 0 {
			_ = set.Insert(d, uint64(n))
		}
	}
	return set.Median().Duration
}

// find returns a workload size that runs within 2% of target.
func (p *probe) find(target time.Duration) (int64, bool) {
	if p.last == 0 {
		p.last = p.timeN(p.n)
	}
	for i := 0; i < probeSearches; i++ {
		if 0.98*float64(target) < float64(p.last) && float64(p.last) < 1.02*float64(target) {
			return p.n, true
		}
		if p.last < time.Millisecond {
			p.n *= 10
		} else {
			p.n = int64(float64(p.n)/float64(p.last)*float64(target)) + 1
		}
		p.last = p.timeN(p.n)
	}
	return 0, false
}

// linear reports whether small increases of the workload show up as
// proportional increases in measured time.
func (p *probe) linear(target time.Duration) bool {
	n, ok := p.find(target)
	if !ok || n <= 0 {
		return false
	}
	baseline := p.timeN(n)
	if baseline <= 0 {
		return false
	}
	for _, scale := range enoughScales {
		got := p.timeN(int64(float64(n) * scale))
		expected := float64(baseline) * scale
		if math.Abs(expected-float64(got))/expected > enoughTolerance {
			return false
		}
	}
	return true
}

// -----------------------------------------------------------------------------
// Pointer chases
// -----------------------------------------------------------------------------

// link is a self-referencing pointer cell; following it is one dependent load
// the compiler cannot hoist out of a loop.
type link struct{ next *link }

func selfLink() *link {
	l := &link{}
	l.next = l
	return l
}

var (
	chaseP = selfLink()
	chaseQ = selfLink()

	// Sinks keep results observable.
	chaseSink *link
	stampSink Stamp
)

func chaseTen(n int64) {
	p := chaseP
	for ; n > 0; n-- {
		p = p.next
		p = p.next
		p = p.next
		p = p.next
		p = p.next
		p = p.next
		p = p.next
		p = p.next
		p = p.next
		p = p.next
	}
	chaseSink = p
}

func chaseOne(n uint64) {
	p := chaseP
	for ; n > 0; n-- {
		p = p.next
	}
	chaseSink = p
}

func chaseTwo(n uint64) {
	p, q := chaseP, chaseQ
	for ; n > 0; n-- {
		p = q.next
		q = p.next
	}
	chaseSink = p
}
