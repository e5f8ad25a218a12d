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
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// Environment overrides. Plain numbers are microseconds; Go duration
// strings ("20ms", "1.5ns") are also accepted.
const (
	EnvEnough         = "ENOUGH"
	EnvTimingOverhead = "TIMING_O"
	EnvLoopOverhead   = "LOOP_O"
)

// ParseMicros parses an override value into nanoseconds.
func ParseMicros(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty value")
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		if f < 0 {
			return 0, fmt.Errorf("negative value %q", s)
		}
		return f * float64(time.Microsecond), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("parse %q: %w", s, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("negative value %q", s)
	}
	return float64(d), nil
}

// env returns the override for name in nanoseconds. Malformed values are
// logged and ignored so a typo never aborts a run.
func (c *Calibrator) env(name string) (float64, bool) {
	raw, ok := c.lookup(name)
	if !ok {
		return 0, false
	}
	ns, err := ParseMicros(raw)
	if err != nil {
		c.logger.Warn("ignoring calibration override",
			slog.String("var", name),
			slog.String("error", err.Error()))
		return 0, false
	}
	return ns, true
}
