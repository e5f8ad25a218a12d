// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package payloads

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/AleutianAI/microbench/pkg/bench"
	"github.com/AleutianAI/microbench/pkg/benchmp"
)

// =============================================================================
// pipe
// =============================================================================

// pipePeer bounces single bytes off a cat process.
type pipePeer struct {
	cmd *exec.Cmd
	in  io.WriteCloser
	out io.ReadCloser
	buf [1]byte
	fault
}

func newPipe(benchmp.Params) (bench.Payload, error) {
	return &pipePeer{}, nil
}

func (p *pipePeer) Setup(context.Context) error {
	p.cmd = exec.Command("cat")
	p.cmd.Stderr = os.Stderr
	var err error
	if p.in, err = p.cmd.StdinPipe(); err != nil {
		return err
	}
	if p.out, err = p.cmd.StdoutPipe(); err != nil {
		return err
	}
	if err := p.cmd.Start(); err != nil {
		return fmt.Errorf("start pipe peer: %w", err)
	}
	return nil
}

func (p *pipePeer) Work(n uint64) {
	for ; n > 0; n-- {
		if _, err := p.in.Write(p.buf[:]); err != nil {
			p.set(fmt.Errorf("pipe write: %w", err))
			return
		}
		if _, err := io.ReadFull(p.out, p.buf[:]); err != nil {
			p.set(fmt.Errorf("pipe read: %w", err))
			return
		}
	}
}

func (p *pipePeer) Teardown() error {
	closeErr := p.in.Close()
	// cat exits on EOF; Wait closes the read side.
	waitErr := p.cmd.Wait()
	return errors.Join(p.Err(), closeErr, waitErr)
}

// =============================================================================
// tcp
// =============================================================================

// tcpEcho times request/response round trips over loopback. The echo server
// runs in the same process on its own goroutine.
type tcpEcho struct {
	size int

	ln   net.Listener
	conn net.Conn
	msg  []byte
	wg   sync.WaitGroup
	fault
}

func newTCP(params benchmp.Params) (bench.Payload, error) {
	size, err := params.Bytes("size", 1)
	if err != nil {
		return nil, err
	}
	if size < 1 || size > 1<<20 {
		return nil, badParam("tcp size %d must be in [1, 1m]", size)
	}
	return &tcpEcho{size: int(size)}, nil
}

func (t *tcpEcho) Setup(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	t.ln = ln

	t.wg.Add(1)
	go t.serve()

	d := net.Dialer{Timeout: 5 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", ln.Addr().String())
	if err != nil {
		ln.Close()
		t.wg.Wait()
		return fmt.Errorf("dial echo server: %w", err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	t.conn = conn
	t.msg = make([]byte, t.size)
	return nil
}

func (t *tcpEcho) serve() {
	defer t.wg.Done()
	conn, err := t.ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	buf := make([]byte, t.size)
	for {
		if _, err := io.ReadFull(conn, buf); err != nil {
			return
		}
		if _, err := conn.Write(buf); err != nil {
			return
		}
	}
}

func (t *tcpEcho) Work(n uint64) {
	for ; n > 0; n-- {
		if _, err := t.conn.Write(t.msg); err != nil {
			t.set(fmt.Errorf("tcp write: %w", err))
			return
		}
		if _, err := io.ReadFull(t.conn, t.msg); err != nil {
			t.set(fmt.Errorf("tcp read: %w", err))
			return
		}
	}
}

func (t *tcpEcho) Teardown() error {
	connErr := t.conn.Close()
	lnErr := t.ln.Close()
	t.wg.Wait()
	return errors.Join(t.Err(), connErr, lnErr)
}

// =============================================================================
// proc
// =============================================================================

// procSpawn runs a program to completion per iteration.
type procSpawn struct {
	path string
	fault
}

func newProc(params benchmp.Params) (bench.Payload, error) {
	return &procSpawn{path: params.String("path", "/bin/true")}, nil
}

func (p *procSpawn) Setup(context.Context) error {
	path, err := exec.LookPath(p.path)
	if err != nil {
		return fmt.Errorf("proc: %w", err)
	}
	p.path = path
	return nil
}

func (p *procSpawn) Work(n uint64) {
	for ; n > 0; n-- {
		if err := exec.Command(p.path).Run(); err != nil {
			p.set(fmt.Errorf("run %s: %w", p.path, err))
			return
		}
	}
}

func (p *procSpawn) Teardown() error { return p.Err() }

// =============================================================================
// sleep
// =============================================================================

func newSleep(params benchmp.Params) (bench.Payload, error) {
	usec, err := params.Int("usec", 1000)
	if err != nil {
		return nil, err
	}
	if usec < 0 {
		return nil, badParam("sleep usec %d is negative", usec)
	}
	d := time.Duration(usec) * time.Microsecond
	return bench.Funcs{Run: func(n uint64) {
		for ; n > 0; n-- {
			time.Sleep(d)
		}
	}}, nil
}
