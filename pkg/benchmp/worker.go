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
	"fmt"
	"os"
	"os/exec"
	"sync/atomic"
)

// -----------------------------------------------------------------------------
// Spawner
// -----------------------------------------------------------------------------

// Spawner starts worker processes.
//
// # Description
//
// The coordinator prepares the command (executable, environment, control
// pipes) and hands it to the Spawner to start. Tests substitute a Spawner
// that fails partway through to exercise rollback.
//
// # Thread Safety
//
// Start is called from a single goroutine per run.
type Spawner interface {
	// Start starts cmd without waiting for it.
	Start(cmd *exec.Cmd) error
}

// ExecSpawner starts processes with exec.Cmd.Start.
type ExecSpawner struct{}

// Start implements Spawner.
func (ExecSpawner) Start(cmd *exec.Cmd) error {
	return cmd.Start()
}

// SpawnerFunc adapts a function to Spawner.
type SpawnerFunc func(cmd *exec.Cmd) error

// Start implements Spawner.
func (f SpawnerFunc) Start(cmd *exec.Cmd) error { return f(cmd) }

// -----------------------------------------------------------------------------
// Worker descriptor
// -----------------------------------------------------------------------------

// worker is the coordinator's handle on one worker process. It owns the
// coordinator's ends of the three control pipes. Exactly one supervisor
// goroutine waits on the process; done is closed once it has been reaped.
type worker struct {
	id  int
	pid int
	cmd *exec.Cmd

	resp  *os.File // read end
	start *os.File // write end
	exit  *os.File // write end

	done    chan struct{}
	waitErr error

	// exiting is set once the coordinator no longer treats an exit as a failure.
	exiting atomic.Bool
	killed  atomic.Bool
}

// pipes holds both ends of the three control pipes while a worker starts.
type pipes struct {
	respR, respW   *os.File
	startR, startW *os.File
	exitR, exitW   *os.File
}

func newPipes() (*pipes, error) {
	p := &pipes{}
	var err error
	if p.respR, p.respW, err = os.Pipe(); err != nil {
		return nil, fmt.Errorf("response pipe: %w", err)
	}
	if p.startR, p.startW, err = os.Pipe(); err != nil {
		p.closeAll()
		return nil, fmt.Errorf("start pipe: %w", err)
	}
	if p.exitR, p.exitW, err = os.Pipe(); err != nil {
		p.closeAll()
		return nil, fmt.Errorf("exit pipe: %w", err)
	}
	return p, nil
}

// childEnds are passed as ExtraFiles, so their order fixes fdResponse,
// fdStart and fdExit in the worker.
func (p *pipes) childEnds() []*os.File {
	return []*os.File{p.respW, p.startR, p.exitR}
}

func (p *pipes) closeChildEnds() {
	closeFiles(p.respW, p.startR, p.exitR)
}

func (p *pipes) closeAll() {
	closeFiles(p.respR, p.respW, p.startR, p.startW, p.exitR, p.exitW)
}

func closeFiles(files ...*os.File) {
	for _, f := range files {
		if f != nil {
			_ = f.Close()
		}
	}
}

// supervise reaps the process and reports an exit the coordinator did not
// ask for on died.
func (w *worker) supervise(died chan<- int) {
	w.waitErr = w.cmd.Wait()
	close(w.done)
	if !w.exiting.Load() {
		select {
		case died <- w.id:
		default:
		}
	}
}

// kill sends SIGKILL. Killing an already reaped process is a no-op.
func (w *worker) kill() {
	select {
	case <-w.done:
		return
	default:
	}
	w.killed.Store(true)
	if w.cmd.Process != nil {
		_ = w.cmd.Process.Kill()
	}
}

func (w *worker) closeIO() {
	closeFiles(w.resp, w.start, w.exit)
}

func (w *worker) reaped() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}
