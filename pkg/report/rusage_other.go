// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

//go:build !unix

package report

import (
	"errors"
	"time"
)

var errNoRusage = errors.New("resource usage is not available on this platform")

// Usage is resource consumption over an interval.
type Usage struct {
	Real time.Duration
}

func (u Usage) String() string { return "" }

// RusageMeter is unavailable on this platform.
type RusageMeter struct{}

// StartRusage always fails on this platform.
func StartRusage() (*RusageMeter, error) { return nil, errNoRusage }

// Stop always fails on this platform.
func (m *RusageMeter) Stop() (Usage, error) { return Usage{}, errNoRusage }
