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
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/AleutianAI/microbench/pkg/results"
	"github.com/AleutianAI/microbench/pkg/timing"
)

// Worker processes are this executable re-run with these variables set.
const (
	EnvWorker    = "MICROBENCH_WORKER"
	EnvWorkerJob = "MICROBENCH_WORKER_JOB"
)

// Descriptor numbers of the control pipes in a worker (ExtraFiles start at 3).
const (
	fdResponse = 3
	fdStart    = 4
	fdExit     = 5
)

// Message sizes. Every message has a fixed size so each side reads exactly
// one message with io.ReadFull.
const (
	readySize = 4
	startSize = 8
	stampSize = 8
	exitSize  = 1
)

// readyWord is "RDY1" little endian.
const readyWord uint32 = 0x31594452

// workerSpec is the job as seen by one worker. It travels as JSON in
// EnvWorkerJob.
type workerSpec struct {
	ID          int                `json:"id"`
	Name        string             `json:"name"`
	Params      Params             `json:"params,omitempty"`
	Target      time.Duration      `json:"target"`
	Parallelism int                `json:"parallelism"`
	Warmup      int                `json:"warmup"`
	Repetitions int                `json:"repetitions"`
	Batch       uint64             `json:"batch"`
	Calibration timing.Calibration `json:"calibration"`
	LogLevel    string             `json:"log_level,omitempty"`
}

func (s workerSpec) encode() (string, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeSpec(raw string) (workerSpec, error) {
	var s workerSpec
	if raw == "" {
		return s, fmt.Errorf("%w: %s is empty", ErrProtocol, EnvWorkerJob)
	}
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return s, fmt.Errorf("%w: decode job: %v", ErrProtocol, err)
	}
	if s.Repetitions < 1 {
		return s, fmt.Errorf("%w: repetitions %d", ErrProtocol, s.Repetitions)
	}
	if s.Batch == 0 {
		s.Batch = 1
	}
	return s, nil
}

// -----------------------------------------------------------------------------
// Messages
// -----------------------------------------------------------------------------

func writeReady(w io.Writer) error {
	var buf [readySize]byte
	binary.LittleEndian.PutUint32(buf[:], readyWord)
	_, err := w.Write(buf[:])
	return err
}

func readReady(r io.Reader) error {
	var buf [readySize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return err
	}
	if got := binary.LittleEndian.Uint32(buf[:]); got != readyWord {
		return fmt.Errorf("%w: ready word %#x", ErrProtocol, got)
	}
	return nil
}

func writeStart(w io.Writer, iterations uint64) error {
	var buf [startSize]byte
	binary.LittleEndian.PutUint64(buf[:], iterations)
	_, err := w.Write(buf[:])
	return err
}

func readStart(r io.Reader) (uint64, error) {
	var buf [startSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	n := binary.LittleEndian.Uint64(buf[:])
	if n == 0 {
		return 0, fmt.Errorf("%w: zero iteration count", ErrProtocol)
	}
	return n, nil
}

// resultFrameSize is the start stamp followed by an encoded result set.
func resultFrameSize(capacity int) int {
	return stampSize + results.FrameSize(capacity)
}

func writeResult(w io.Writer, start timing.Stamp, set *results.Set) error {
	frame, err := set.MarshalBinary()
	if err != nil {
		return err
	}
	buf := make([]byte, stampSize, stampSize+len(frame))
	binary.LittleEndian.PutUint64(buf, uint64(start))
	buf = append(buf, frame...)
	_, err = w.Write(buf)
	return err
}

func readResult(r io.Reader, capacity int) (timing.Stamp, *results.Set, error) {
	buf := make([]byte, resultFrameSize(capacity))
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, nil, err
	}
	start := timing.Stamp(binary.LittleEndian.Uint64(buf[:stampSize]))
	set := results.New(capacity)
	if err := set.UnmarshalBinary(buf[stampSize:]); err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	if set.Cap() != capacity {
		return 0, nil, fmt.Errorf("%w: result capacity %d, want %d", ErrProtocol, set.Cap(), capacity)
	}
	return start, set, nil
}

func writeExit(w io.Writer) error {
	_, err := w.Write([]byte{'x'})
	return err
}

// isClosed reports whether err means the peer is gone.
func isClosed(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.ErrClosedPipe)
}
