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
	"math"

	"github.com/aclements/go-moremath/stats"
)

// Summary describes the spread of per-iteration rates in a set.
//
// All rates are nanoseconds per iteration. CV is the coefficient of
// variation (StdDev/Mean) and is zero for sets with fewer than two samples.
type Summary struct {
	Count  int     `json:"count"`
	Min    float64 `json:"min_ns"`
	P10    float64 `json:"p10_ns"`
	Median float64 `json:"median_ns"`
	P90    float64 `json:"p90_ns"`
	Max    float64 `json:"max_ns"`
	Mean   float64 `json:"mean_ns"`
	StdDev float64 `json:"stddev_ns"`
	CV     float64 `json:"cv"`
}

// Summarize computes rate statistics for s.
//
// Description:
//
//	The tails that Merge preserves are what make this useful: a wide
//	P10/P90 spread on a merged set points at interference between workers
//	rather than at the payload itself. Median here is the rate quantile,
//	which can differ slightly from Set.Median for even counts because the
//	latter averages duration and count separately.
func Summarize(s *Set) Summary {
	if s == nil || s.Len() == 0 {
		return Summary{}
	}

	xs := make([]float64, s.Len())
	for i, v := range s.samples {
		xs[i] = v.Rate()
	}
	sample := (&stats.Sample{Xs: xs}).Sort()

	lo, hi := sample.Bounds()
	sum := Summary{
		Count:  len(xs),
		Min:    lo,
		P10:    sample.Quantile(0.10),
		Median: sample.Quantile(0.50),
		P90:    sample.Quantile(0.90),
		Max:    hi,
		Mean:   sample.Mean(),
	}
	if len(xs) > 1 {
		sum.StdDev = sample.StdDev()
		if sum.Mean > 0 && !math.IsNaN(sum.StdDev) {
			sum.CV = sum.StdDev / sum.Mean
		}
	}
	return sum
}
