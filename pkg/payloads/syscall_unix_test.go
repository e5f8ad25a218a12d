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

package payloads

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/microbench/pkg/benchmp"
)

func TestSyscallPayloads(t *testing.T) {
	for _, name := range []string{"null", "read", "write"} {
		t.Run(name, func(t *testing.T) {
			p, err := benchmp.Build(name, nil)
			require.NoError(t, err)
			exercise(t, p, 100)
		})
	}
}

func TestDevIO_MissingDevice(t *testing.T) {
	d := &devIO{path: "/nonexistent/device"}
	assert.Error(t, d.Setup(context.Background()))
}

func TestDevIO_ReportsWorkFailure(t *testing.T) {
	// Writing to a read-only descriptor fails on the first iteration.
	d := &devIO{path: "/dev/zero"}
	require.NoError(t, d.Setup(context.Background()))
	d.Work(10)
	assert.Error(t, d.Teardown())
}
