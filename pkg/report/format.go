// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package report renders benchmark results.
//
// The line formatters reproduce the classic one-line outputs that existing
// result parsers expect. Each takes the measured interval and the count it
// covers, typically an outcome's Elapsed() and N(). Sizes use powers of ten
// (1 MB = 1,000,000 bytes).
package report

import (
	"fmt"
	"time"
)

const (
	kilo = 1000.0
	mega = 1000.0 * 1000.0
)

// nz guards divisions by a zero interval.
func nz(x float64) float64 {
	if x == 0 {
		return 1
	}
	return x
}

func count(n uint64) float64 {
	if n == 0 {
		return 1
	}
	return float64(n)
}

func secs(d time.Duration) float64 { return d.Seconds() }

func micros(d time.Duration) float64 { return float64(d) / float64(time.Microsecond) }

// Nano formats the per-iteration time in nanoseconds.
//
//	"getppid: 42 nanoseconds"
func Nano(label string, d time.Duration, n uint64) string {
	return fmt.Sprintf("%s: %.0f nanoseconds\n", label, float64(d)/count(n))
}

// Micro formats the per-iteration time in microseconds.
//
//	"Simple syscall: 0.0421 microseconds"
func Micro(label string, d time.Duration, n uint64) string {
	return fmt.Sprintf("%s: %.4f microseconds\n", label, micros(d)/count(n))
}

// Milli formats the per-iteration time in whole milliseconds, truncated.
func Milli(label string, d time.Duration, n uint64) string {
	ms := uint64(d / time.Millisecond)
	if n > 0 {
		ms /= n
	}
	return fmt.Sprintf("%s: %d milliseconds\n", label, ms)
}

// PTime formats the count, the total seconds and the microseconds per item.
func PTime(d time.Duration, n uint64) string {
	return fmt.Sprintf("%d in %.2f secs, %.0f microseconds each\n", n, secs(d), micros(d)/count(n))
}

// MicroMB formats a working-set size in MB followed by the per-iteration
// microseconds, the two-column form used for latency-versus-size plots.
func MicroMB(size uint64, d time.Duration, n uint64) string {
	mb := float64(size) / mega
	us := micros(d) / count(n)
	if us >= 10 {
		return fmt.Sprintf("%.6f %.0f\n", mb, us)
	}
	return fmt.Sprintf("%.6f %.3f\n", mb, us)
}

// MB formats throughput for bytes moved in d.
func MB(bytes uint64, d time.Duration) string {
	return fmt.Sprintf("%.2f MB/sec\n", float64(bytes)/nz(secs(d))/mega)
}

// KB formats throughput for bytes moved in d.
func KB(bytes uint64, d time.Duration) string {
	return fmt.Sprintf("%.0f KB/sec\n", float64(bytes)/nz(secs(d))/kilo)
}

// Bandwidth formats bytes moved per repetition, where d covers times
// repetitions. The terse form is "<MB> <MB/sec>", switching to six decimals
// below one.
func Bandwidth(bytes, times uint64, d time.Duration, verbose bool) string {
	s := secs(d) / count(times)
	mb := float64(bytes) / mega
	rate := mb / nz(s)
	if verbose {
		return fmt.Sprintf("%.4f MB in %.4f secs, %.4f MB/sec\n", mb, s, rate)
	}
	return fmt.Sprintf("%s %s\n", small(mb), small(rate))
}

func small(x float64) string {
	if x < 1 {
		return fmt.Sprintf("%.6f", x)
	}
	return fmt.Sprintf("%.2f", x)
}

// Latency formats transfers of size bytes completed in d.
func Latency(xfers, size uint64, d time.Duration) string {
	s := secs(d)
	x := count(xfers)
	var out string
	if xfers > 1 {
		out = fmt.Sprintf("%d %dKB xfers in %.2f secs, ", xfers, uint64(float64(size)/kilo), s)
	} else {
		out = fmt.Sprintf("%.1fKB in ", float64(size)/kilo)
	}

	suffix := "s"
	if xfers > 1 {
		suffix = "/xfer"
	}
	if ms := s * 1000 / x; ms > 100 {
		out += fmt.Sprintf("%.0f millisec%s, ", ms, suffix)
	} else {
		out += fmt.Sprintf("%.4f millisec%s, ", ms, suffix)
	}

	moved := x * float64(size)
	if moved/(mega*nz(s)) > 1 {
		out += fmt.Sprintf("%.2f MB/sec\n", moved/(mega*nz(s)))
	} else {
		out += fmt.Sprintf("%.2f KB/sec\n", moved/(kilo*nz(s)))
	}
	return out
}

// Context formats context switches completed in d.
func Context(xfers uint64, d time.Duration) string {
	s := secs(d)
	return fmt.Sprintf("%d context switches in %.2f secs, %.0f microsec/switch\n",
		xfers, s, s*1e6/count(xfers))
}
