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
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/AleutianAI/microbench/pkg/benchmp"
	"github.com/AleutianAI/microbench/pkg/results"
	"github.com/AleutianAI/microbench/pkg/timing"
)

// Record is the stored form of one valid outcome.
type Record struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Params      map[string]string  `json:"params,omitempty"`
	Parallelism int                `json:"parallelism"`
	Timestamp   time.Time          `json:"timestamp"`
	Elapsed     time.Duration      `json:"elapsed"`
	N           uint64             `json:"n"`
	RateNS      float64            `json:"rate_ns"`
	Samples     []Sample           `json:"samples"`
	Summary     results.Summary    `json:"summary"`
	Calibration timing.Calibration `json:"calibration"`
	DrainKills  int                `json:"drain_kills,omitempty"`
}

// Sample is one stored measurement.
type Sample struct {
	Duration time.Duration `json:"d"`
	N        uint64        `json:"n"`
}

// ErrInvalidOutcome is returned when recording an outcome without a usable
// measurement.
var ErrInvalidOutcome = errors.New("outcome has no valid measurement")

// FromOutcome converts a finished run. cal is the calibration in effect.
func FromOutcome(out *benchmp.Outcome, cal timing.Calibration) (Record, error) {
	if out == nil || !out.Valid() {
		return Record{}, ErrInvalidOutcome
	}
	r := Record{
		ID:          out.RunID,
		Name:        out.Name,
		Parallelism: out.Parallelism,
		Timestamp:   out.Started.UTC(),
		Elapsed:     out.Elapsed(),
		N:           out.N(),
		RateNS:      out.Rate(),
		Summary:     out.Summary,
		Calibration: cal,
		DrainKills:  out.DrainKills,
	}
	if len(out.Params) > 0 {
		r.Params = make(map[string]string, len(out.Params))
		for k, v := range out.Params {
			r.Params[k] = v
		}
	}
	for _, s := range out.Set.Samples() {
		r.Samples = append(r.Samples, Sample{Duration: s.Duration, N: s.N})
	}
	return r, nil
}

// Validate checks the fields keys are built from.
func (r Record) Validate() error {
	switch {
	case r.ID == "":
		return errors.New("history: record id is required")
	case r.Name == "":
		return errors.New("history: record name is required")
	case strings.Contains(r.Name, "/"):
		return fmt.Errorf("history: record name %q contains '/'", r.Name)
	case r.Timestamp.IsZero():
		return errors.New("history: record timestamp is required")
	}
	return nil
}

// Set rebuilds the stored samples as a result set.
func (r Record) Set() *results.Set {
	s := results.New(len(r.Samples))
	for _, v := range r.Samples {
		// Capacity matches the sample count.
		_ = s.Insert(v.Duration, v.N)
	}
	return s
}

// Label is the payload name with its parameters, as shown in listings.
func (r Record) Label() string {
	if p := benchmp.Params(r.Params).Encode(); p != "" {
		return r.Name + " " + p
	}
	return r.Name
}
