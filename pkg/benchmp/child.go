// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package benchmp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/AleutianAI/microbench/pkg/bench"
	"github.com/AleutianAI/microbench/pkg/logging"
	"github.com/AleutianAI/microbench/pkg/results"
	"github.com/AleutianAI/microbench/pkg/timing"
)

// IsWorker reports whether this process was started as a worker.
func IsWorker() bool {
	return os.Getenv(EnvWorker) != ""
}

// MaybeRunWorker runs the worker protocol and exits if this process is a
// worker. Otherwise it returns immediately. Call it first thing in main.
func MaybeRunWorker() {
	if !IsWorker() {
		return
	}
	if err := RunWorker(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "microbench worker %d: %v\n", os.Getpid(), err)
		os.Exit(1)
	}
	os.Exit(0)
}

// RunWorker runs one worker to completion: setup, ready, the timed region
// at the broadcast iteration count, result, and the exit handshake.
//
// # Outputs
//
//   - error: ErrNotWorker outside a worker, ErrProtocol for a malformed
//     job or message, or the payload's setup error.
func RunWorker(ctx context.Context) error {
	if !IsWorker() {
		return ErrNotWorker
	}
	spec, err := decodeSpec(os.Getenv(EnvWorkerJob))
	if err != nil {
		return err
	}

	level, err := logging.ParseLevel(spec.LogLevel)
	if err != nil {
		level = logging.LevelWarn
	}
	logger := logging.New(logging.Config{Level: level, Service: "microbench-worker"}).
		With("worker_id", spec.ID, "pid", os.Getpid())
	defer logger.Close()

	payload, err := Build(spec.Name, spec.Params)
	if err != nil {
		return err
	}

	resp := os.NewFile(fdResponse, "microbench-response")
	start := os.NewFile(fdStart, "microbench-start")
	exit := os.NewFile(fdExit, "microbench-exit")
	if resp == nil || start == nil || exit == nil {
		return fmt.Errorf("%w: control descriptors missing", ErrProtocol)
	}
	defer closeFiles(resp, start, exit)

	return runWorker(ctx, spec, payload, resp, start, exit, logger.Slog())
}

type startMsg struct {
	n   uint64
	err error
}

// runWorker is the worker side of the protocol over arbitrary streams.
func runWorker(ctx context.Context, spec workerSpec, payload bench.Payload,
	resp io.Writer, start, exit io.Reader, logger *slog.Logger) error {

	cal := timing.New(
		timing.WithLogger(logger),
		timing.WithEnough(spec.Calibration.Enough),
		timing.WithTimingOverhead(spec.Calibration.TimingOverhead),
		timing.WithLoopOverhead(spec.Calibration.LoopOverhead),
	)
	h := bench.New(bench.WithCalibrator(cal), bench.WithLogger(logger))

	if err := payload.Setup(ctx); err != nil {
		return fmt.Errorf("setup %s: %w", spec.Name, err)
	}
	defer func() {
		if err := payload.Teardown(); err != nil {
			logger.Warn("payload teardown failed", slog.String("error", err.Error()))
		}
	}()

	started := make(chan startMsg, 1)
	go func() {
		n, err := readStart(start)
		started <- startMsg{n: n, err: err}
	}()

	// Keep the payload busy until start arrives, so every worker is in the
	// same steady state when the timed region begins.
	var msg startMsg
	ready := false
poll:
	for {
		payload.Work(spec.Batch)
		if !ready {
			if err := writeReady(resp); err != nil {
				return fmt.Errorf("send ready: %w", err)
			}
			ready = true
		}
		select {
		case msg = <-started:
			break poll
		default:
		}
	}
	if msg.err != nil {
		return fmt.Errorf("read start: %w", msg.err)
	}
	logger.Debug("worker started timed region", slog.Uint64("iterations", msg.n))

	for i := 0; i < spec.Warmup; i++ {
		payload.Work(msg.n)
	}
	stamp := timing.Now()
	set, err := measure(ctx, h, spec, payload.Work, msg.n)
	if err != nil {
		return err
	}
	if err := writeResult(resp, stamp, set); err != nil {
		return fmt.Errorf("send result: %w", err)
	}

	// Siblings may still be measuring; keep loading the machine until told
	// to stop. A closed exit pipe also means stop.
	stop := make(chan struct{})
	go func() {
		var buf [exitSize]byte
		_, _ = io.ReadFull(exit, buf[:])
		close(stop)
	}()
	for {
		select {
		case <-stop:
			return nil
		default:
			payload.Work(spec.Batch)
		}
	}
}

// measure runs the timed region. Parallel workers repeat the broadcast count
// so all of them do the same work; a lone worker calibrates from it.
func measure(ctx context.Context, h *bench.Harness, spec workerSpec, work bench.WorkFunc, n uint64) (*results.Set, error) {
	if spec.Parallelism > 1 {
		set := results.New(spec.Repetitions)
		for i := 0; i < spec.Repetitions; i++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			_ = set.Insert(h.Measure(work, n), n)
		}
		return set, nil
	}
	set, err := h.CalibratedFrom(ctx, work, spec.Target, spec.Repetitions, n)
	if errors.Is(err, bench.ErrUnmeasurable) {
		return set, nil
	}
	return set, err
}
