// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

//go:build unix

package report

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// Usage is resource consumption over an interval. Worker processes are
// included once they have been reaped.
type Usage struct {
	Real   time.Duration
	Sys    time.Duration
	User   time.Duration
	InBlk  int64
	OutBlk int64
	MinFlt int64
	MajFlt int64
	Ctx    int64
}

// Idle is real time not spent on a CPU by this process or its workers.
func (u Usage) Idle() time.Duration {
	return u.Real - u.Sys - u.User
}

// Stall is Idle as a percentage of Real.
func (u Usage) Stall() float64 {
	if u.Real <= 0 {
		return 0
	}
	return float64(u.Idle()) / float64(u.Real) * 100
}

// String formats the usage as one line:
//
//	real=1.02 sys=0.40 user=0.59 idle=0.03 stall=3% rd=0 wr=0 min=12 maj=0 ctx=40
func (u Usage) String() string {
	return fmt.Sprintf("real=%.2f sys=%.2f user=%.2f idle=%.2f stall=%.0f%% rd=%d wr=%d min=%d maj=%d ctx=%d\n",
		u.Real.Seconds(), u.Sys.Seconds(), u.User.Seconds(), u.Idle().Seconds(), u.Stall(),
		u.InBlk, u.OutBlk, u.MinFlt, u.MajFlt, u.Ctx)
}

// RusageMeter measures resource usage between Start and Stop.
type RusageMeter struct {
	started time.Time
	self    unix.Rusage
	child   unix.Rusage
}

// StartRusage snapshots the current usage of this process and its reaped
// children.
func StartRusage() (*RusageMeter, error) {
	m := &RusageMeter{started: time.Now()}
	if err := unix.Getrusage(unix.RUSAGE_SELF, &m.self); err != nil {
		return nil, fmt.Errorf("getrusage self: %w", err)
	}
	if err := unix.Getrusage(unix.RUSAGE_CHILDREN, &m.child); err != nil {
		return nil, fmt.Errorf("getrusage children: %w", err)
	}
	return m, nil
}

// Stop returns the usage since StartRusage.
func (m *RusageMeter) Stop() (Usage, error) {
	var self, child unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_SELF, &self); err != nil {
		return Usage{}, fmt.Errorf("getrusage self: %w", err)
	}
	if err := unix.Getrusage(unix.RUSAGE_CHILDREN, &child); err != nil {
		return Usage{}, fmt.Errorf("getrusage children: %w", err)
	}
	u := delta(m.self, self)
	c := delta(m.child, child)
	u.Sys += c.Sys
	u.User += c.User
	u.InBlk += c.InBlk
	u.OutBlk += c.OutBlk
	u.MinFlt += c.MinFlt
	u.MajFlt += c.MajFlt
	u.Ctx += c.Ctx
	u.Real = time.Since(m.started)
	return u, nil
}

func delta(a, b unix.Rusage) Usage {
	return Usage{
		Sys:    tv(b.Stime) - tv(a.Stime),
		User:   tv(b.Utime) - tv(a.Utime),
		InBlk:  int64(b.Inblock - a.Inblock),
		OutBlk: int64(b.Oublock - a.Oublock),
		MinFlt: int64(b.Minflt - a.Minflt),
		MajFlt: int64(b.Majflt - a.Majflt),
		Ctx:    int64(b.Nvcsw-a.Nvcsw) + int64(b.Nivcsw-a.Nivcsw),
	}
}

func tv(t unix.Timeval) time.Duration {
	return time.Duration(t.Nano())
}
