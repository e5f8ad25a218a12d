// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package history

import (
	"fmt"
)

// Verdict classifies a comparison.
type Verdict int

const (
	// VerdictSame means the change is within the threshold.
	VerdictSame Verdict = iota
	// VerdictFaster means the current run is cheaper per iteration.
	VerdictFaster
	// VerdictSlower means the current run regressed beyond the threshold.
	VerdictSlower
)

func (v Verdict) String() string {
	switch v {
	case VerdictFaster:
		return "faster"
	case VerdictSlower:
		return "slower"
	default:
		return "same"
	}
}

// Comparison is the result of Compare.
type Comparison struct {
	Current  Record
	Baseline Record

	// DeltaPct is the change in per-iteration cost, positive when slower.
	DeltaPct float64

	// Noisy is set when either side's coefficient of variation exceeds the
	// threshold, so the verdict is unreliable.
	Noisy bool

	Verdict Verdict
}

// String renders a one-line summary.
func (c Comparison) String() string {
	s := fmt.Sprintf("%s: %.2f ns -> %.2f ns (%+.1f%%) %s",
		c.Current.Label(), c.Baseline.RateNS, c.Current.RateNS, c.DeltaPct, c.Verdict)
	if c.Noisy {
		s += " (noisy)"
	}
	return s
}

// Compare measures current against baseline. A change in per-iteration cost
// larger than thresholdPct percent in either direction is reported as faster
// or slower. A non-positive threshold defaults to 5%.
func Compare(current, baseline Record, thresholdPct float64) Comparison {
	if thresholdPct <= 0 {
		thresholdPct = 5
	}
	c := Comparison{Current: current, Baseline: baseline}
	if baseline.RateNS <= 0 {
		return c
	}

	c.DeltaPct = (current.RateNS - baseline.RateNS) / baseline.RateNS * 100
	switch {
	case c.DeltaPct > thresholdPct:
		c.Verdict = VerdictSlower
	case c.DeltaPct < -thresholdPct:
		c.Verdict = VerdictFaster
	}

	limit := thresholdPct / 100
	c.Noisy = current.Summary.CV > limit || baseline.Summary.CV > limit
	return c
}
