// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package bench is the single-process measurement loop.
//
// A Payload is a unit of work the harness times. The harness picks how many
// iterations to run so the timed interval is long enough for the clock to be
// accurate, subtracts the calibrated clock and loop overheads, and keeps the
// trials in a results.Set.
//
// # Payload contract
//
//   - Setup runs once per process before any timing. It may allocate
//     buffers, open files, or start peer processes.
//   - Work(n) performs exactly n repetitions of the measured operation and
//     must not time itself. It may call Use to keep results alive.
//   - Teardown runs once per process after timing finishes.
//
// The payload value itself carries any per-invocation state. The harness
// never looks inside it.
package bench

import (
	"context"
	"sync/atomic"
)

// WorkFunc performs exactly iterations repetitions of the measured operation.
type WorkFunc func(iterations uint64)

// Payload is a benchmarked unit of work.
type Payload interface {
	// Setup prepares per-process state. Called once before any timing.
	Setup(ctx context.Context) error

	// Work performs exactly iterations repetitions.
	Work(iterations uint64)

	// Teardown releases per-process state. Called once after timing.
	Teardown() error
}

// Funcs adapts plain functions to Payload. Only Run is required.
//
// # Examples
//
//	var fd int
//	p := bench.Funcs{
//	    Init:    func(ctx context.Context) (err error) { fd, err = open(); return },
//	    Run:     func(n uint64) { for ; n > 0; n-- { read(fd) } },
//	    Cleanup: func() error { return close(fd) },
//	}
type Funcs struct {
	Init    func(ctx context.Context) error
	Run     WorkFunc
	Cleanup func() error
}

// Setup implements Payload.
func (f Funcs) Setup(ctx context.Context) error {
	if f.Init == nil {
		return nil
	}
	return f.Init(ctx)
}

// Work implements Payload.
func (f Funcs) Work(iterations uint64) {
	f.Run(iterations)
}

// Teardown implements Payload.
func (f Funcs) Teardown() error {
	if f.Cleanup == nil {
		return nil
	}
	return f.Cleanup()
}

// sink is written through an atomic so the compiler must materialize every
// value handed to Use.
var sink atomic.Uint64

// Use consumes v so the computation that produced it cannot be eliminated.
func Use(v uint64) {
	sink.Add(v)
}

// Used returns the accumulated sink value.
func Used() uint64 {
	return sink.Load()
}
