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

import "errors"

// TrimPolicy controls how a merged set is cut back to a bounded size.
//
// Description:
//
//	A merge of many workers' samples keeps Tail samples from each extreme
//	(slowest and fastest) and fills the remaining Capacity-2*Tail slots with
//	the samples centred on the median. The tails feed variation and outlier
//	analysis; the centre feeds the median reduction.
//
// Example:
//
//	policy := results.DefaultTrimPolicy(11) // Tail = 3, centre = 5
//	merged := results.Merge(policy, a, b, c)
type TrimPolicy struct {
	// Capacity is the maximum size of the merged set.
	Capacity int

	// Tail is the number of samples kept from each end.
	// Must satisfy 0 <= 2*Tail <= Capacity.
	Tail int
}

// DefaultTrimPolicy keeps the outer thirds and the central cluster.
func DefaultTrimPolicy(capacity int) TrimPolicy {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return TrimPolicy{Capacity: capacity, Tail: capacity / 3}
}

// Validate checks the policy bounds.
func (p TrimPolicy) Validate() error {
	if p.Capacity <= 0 {
		return ErrInvalidCapacity
	}
	if p.Tail < 0 || 2*p.Tail > p.Capacity {
		return errors.New("trim tail must be between 0 and capacity/2")
	}
	return nil
}

// Merge combines sets into one ordered set trimmed by policy.
//
// Description:
//
//	All samples are inserted by rank into an unbounded scratch set. If the
//	union fits, it is returned as is; otherwise it is trimmed: the first and
//	last Tail ranks are kept and the middle Capacity-2*Tail ranks are taken
//	around index N/2. An invalid policy falls back to DefaultTrimPolicy of
//	the policy capacity.
//
// Inputs:
//
//	policy - Trim bounds for the result.
//	sets - Inputs; nil entries are skipped. Inputs are not modified.
//
// Outputs:
//
//	*Set - A new set with capacity policy.Capacity. Never nil.
func Merge(policy TrimPolicy, sets ...*Set) *Set {
	if err := policy.Validate(); err != nil {
		policy = DefaultTrimPolicy(policy.Capacity)
	}

	total := 0
	for _, s := range sets {
		if s != nil {
			total += s.Len()
		}
	}
	scratch := &Set{samples: make([]Sample, 0, total), capacity: total}
	for _, s := range sets {
		if s == nil {
			continue
		}
		for _, v := range s.samples {
			scratch.insert(v)
		}
	}

	out := New(policy.Capacity)
	if scratch.Len() <= policy.Capacity {
		out.samples = append(out.samples, scratch.samples...)
		return out
	}

	n := scratch.Len()
	centre := policy.Capacity - 2*policy.Tail
	out.samples = out.samples[:policy.Capacity]
	for i := 0; i < policy.Tail; i++ {
		out.samples[i] = scratch.samples[i]
		out.samples[policy.Capacity-1-i] = scratch.samples[n-1-i]
	}
	first := n/2 - centre/2
	for i := 0; i < centre; i++ {
		out.samples[policy.Tail+i] = scratch.samples[first+i]
	}
	return out
}
