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
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/AleutianAI/microbench/pkg/bench"
	"github.com/AleutianAI/microbench/pkg/benchmp"
)

func init() {
	benchmp.Register("null", "getppid system call", newNull)
	benchmp.Register("read", "1-byte read of /dev/zero", func(benchmp.Params) (bench.Payload, error) {
		return &devIO{path: "/dev/zero", flags: unix.O_RDONLY, read: true}, nil
	})
	benchmp.Register("write", "1-byte write to /dev/null", func(benchmp.Params) (bench.Payload, error) {
		return &devIO{path: "/dev/null", flags: unix.O_WRONLY}, nil
	})
}

func newNull(benchmp.Params) (bench.Payload, error) {
	return bench.Funcs{Run: func(n uint64) {
		for ; n > 0; n-- {
			bench.Use(uint64(unix.Getppid()))
		}
	}}, nil
}

// devIO issues one-byte system calls against a device file.
type devIO struct {
	path  string
	flags int
	read  bool

	fd  int
	buf [1]byte
	fault
}

func (d *devIO) Setup(context.Context) error {
	fd, err := unix.Open(d.path, d.flags|unix.O_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", d.path, err)
	}
	d.fd = fd
	return nil
}

func (d *devIO) Work(n uint64) {
	if d.read {
		for ; n > 0; n-- {
			if _, err := unix.Read(d.fd, d.buf[:]); err != nil {
				d.set(fmt.Errorf("read %s: %w", d.path, err))
				return
			}
		}
		return
	}
	for ; n > 0; n-- {
		if _, err := unix.Write(d.fd, d.buf[:]); err != nil {
			d.set(fmt.Errorf("write %s: %w", d.path, err))
			return
		}
	}
}

func (d *devIO) Teardown() error {
	return errors.Join(d.Err(), unix.Close(d.fd))
}
