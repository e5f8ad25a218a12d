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

// Phase is a coordinator state. A run moves through the phases in order and
// records the last one it reached in its Outcome.
type Phase int

const (
	PhaseInit Phase = iota
	PhaseForking
	PhaseWarming
	PhaseSynchronizedRun
	PhaseCollecting
	PhaseDraining
	PhaseDone
)

var phaseNames = [...]string{
	PhaseInit:            "init",
	PhaseForking:         "forking",
	PhaseWarming:         "warming",
	PhaseSynchronizedRun: "synchronized_run",
	PhaseCollecting:      "collecting",
	PhaseDraining:        "draining",
	PhaseDone:            "done",
}

// String implements fmt.Stringer.
func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "unknown"
	}
	return phaseNames[p]
}
