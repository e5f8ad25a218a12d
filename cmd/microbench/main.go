// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command microbench runs operating system and hardware microbenchmarks.
//
// The same binary serves as the worker for parallel runs: the coordinator
// re-executes it with MICROBENCH_WORKER set, and main hands control to the
// worker loop before any flag parsing.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/AleutianAI/microbench/pkg/benchmp"
	_ "github.com/AleutianAI/microbench/pkg/payloads"
)

func main() {
	benchmp.MaybeRunWorker()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := execute(ctx, os.Args[1:], os.Stdout)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
