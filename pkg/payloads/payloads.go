// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package payloads registers the built-in benchmark payloads.
//
// Importing the package for its side effects makes every payload available
// to benchmp.Build, in the coordinator and in re-executed workers alike:
//
//	import _ "github.com/AleutianAI/microbench/pkg/payloads"
//
// Each payload keeps its per-process state (open descriptors, buffers, peer
// processes) in its own value. Setup creates that state and Teardown
// releases it; Work only repeats the measured operation.
package payloads

import (
	"errors"
	"fmt"
	"sync"

	"github.com/AleutianAI/microbench/pkg/bench"
	"github.com/AleutianAI/microbench/pkg/benchmp"
)

// ErrBadParam indicates a payload parameter out of range.
var ErrBadParam = errors.New("bad payload parameter")

func badParam(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrBadParam, fmt.Sprintf(format, args...))
}

func init() {
	benchmp.Register("counter", "increments a counter; harness self-test", newCounter)
	benchmp.Register("sleep", "time.Sleep per iteration (usec, default 1000)", newSleep)
	benchmp.Register("tcp", "loopback TCP round trip with an echo server (size, default 1)", newTCP)
	benchmp.Register("pipe", "pipe round trip through a cat peer process", newPipe)
	benchmp.Register("proc", "fork+exec+wait of a program (path, default /bin/true)", newProc)
	benchmp.Register("mem-rd", "dependent load latency (size, default 8m; stride, default 64)", newMemRead)
	benchmp.Register("bw-mem", "memory bandwidth (op rd|wr|cp|bzero; size, default 8m)", newMemBandwidth)
	benchmp.Register("ops", "integer operation latency (op add|mul|div|bit)", newOps)
}

// fault keeps the first error seen by Work, which cannot return one. Teardown
// reports it.
type fault struct {
	mu  sync.Mutex
	err error
}

func (f *fault) set(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err == nil {
		f.err = err
	}
}

// Err returns the first recorded error.
func (f *fault) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Counter counts the iterations it was asked to perform.
type Counter struct {
	count uint64
}

func newCounter(benchmp.Params) (bench.Payload, error) {
	c := &Counter{}
	return bench.Funcs{Run: c.add}, nil
}

func (c *Counter) add(n uint64) {
	for ; n > 0; n-- {
		c.count++
	}
	bench.Use(c.count)
}

// Count returns the total iterations performed.
func (c *Counter) Count() uint64 { return c.count }
