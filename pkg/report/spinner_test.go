// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSpinner_DisabledOffTerminal(t *testing.T) {
	var buf bytes.Buffer
	s := NewSpinner(&buf, "running")
	s.Start()
	time.Sleep(3 * s.interval)
	s.Stop()
	assert.Empty(t, buf.String())
}

func TestSpinner_Forced(t *testing.T) {
	var buf bytes.Buffer
	s := NewSpinner(&buf, "running").Force()
	s.interval = time.Millisecond
	s.Start()
	s.Start()
	time.Sleep(20 * time.Millisecond)
	s.Update("merging")
	time.Sleep(20 * time.Millisecond)
	s.Stop()
	s.Stop()

	out := buf.String()
	assert.Contains(t, out, "running")
	assert.Contains(t, out, "merging")
	assert.True(t, strings.HasSuffix(out, "\r\033[K"), "line should be cleared on stop")
}

func TestSpinner_Restart(t *testing.T) {
	var buf bytes.Buffer
	s := NewSpinner(&buf, "a").Force()
	s.interval = time.Millisecond
	s.Start()
	s.Stop()
	s.Start()
	s.Stop()
	assert.Equal(t, 2, strings.Count(buf.String(), "\r\033[K"))
}
