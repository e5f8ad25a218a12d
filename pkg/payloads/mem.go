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
	"math/rand/v2"

	"github.com/AleutianAI/microbench/pkg/bench"
	"github.com/AleutianAI/microbench/pkg/benchmp"
)

const (
	wordSize = 8
	pageSize = 4096

	defaultMemSize = 8 << 20

	// chaseSeed fixes the page order so every process walks the same chain.
	chaseSeed = 0x6c6d62656e6368
)

// =============================================================================
// mem-rd
// =============================================================================

// MemRead measures dependent load latency. The buffer holds a cyclic chain of
// word indices: within each unit of max(stride, page) bytes, entries are
// stride bytes apart in address order, and the units are visited in a seeded
// random order to defeat the prefetcher across pages. One iteration is one
// load.
type MemRead struct {
	size   int64
	stride int64

	chain []uint64
	pos   uint64
}

func newMemRead(params benchmp.Params) (bench.Payload, error) {
	size, err := params.Bytes("size", defaultMemSize)
	if err != nil {
		return nil, err
	}
	stride, err := params.Bytes("stride", 64)
	if err != nil {
		return nil, err
	}
	switch {
	case stride < wordSize || stride%wordSize != 0:
		return nil, badParam("mem-rd stride %d must be a positive multiple of %d", stride, wordSize)
	case size < stride:
		return nil, badParam("mem-rd size %d is smaller than stride %d", size, stride)
	}
	return &MemRead{size: size, stride: stride}, nil
}

func (m *MemRead) Setup(context.Context) error {
	m.chain = buildChain(m.size, m.stride, chaseSeed)
	m.pos = 0
	return nil
}

// buildChain links every stride-th word of a size-byte buffer into one cycle.
func buildChain(size, stride int64, seed uint64) []uint64 {
	unit := max(stride, pageSize)
	units := size / unit
	if units == 0 {
		units, unit = 1, size
	}

	words := make([]uint64, size/wordSize)
	order := rand.New(rand.NewPCG(seed, seed>>1)).Perm(int(units))

	var idx []uint64
	for _, u := range order {
		base := int64(u) * unit
		for off := int64(0); off < unit; off += stride {
			idx = append(idx, uint64((base+off)/wordSize))
		}
	}
	for i, w := range idx {
		words[w] = idx[(i+1)%len(idx)]
	}
	return words
}

func (m *MemRead) Work(n uint64) {
	p := m.pos
	chain := m.chain
	for ; n > 0; n-- {
		p = chain[p]
	}
	m.pos = p
	bench.Use(p)
}

func (m *MemRead) Teardown() error {
	m.chain = nil
	return nil
}

// Len reports the number of links in the chain.
func (m *MemRead) Len() int {
	n := 0
	for p := m.chain[0]; ; p = m.chain[p] {
		n++
		if p == 0 {
			return n
		}
	}
}

// =============================================================================
// bw-mem
// =============================================================================

// MemBandwidth streams over a buffer. One iteration touches every byte once.
type MemBandwidth struct {
	op   string
	size int64

	src []uint64
	dst []uint64
}

func newMemBandwidth(params benchmp.Params) (bench.Payload, error) {
	size, err := params.Bytes("size", defaultMemSize)
	if err != nil {
		return nil, err
	}
	op := params.String("op", "rd")
	switch op {
	case "rd", "wr", "cp", "bzero":
	default:
		return nil, badParam("bw-mem op %q is not one of rd, wr, cp, bzero", op)
	}
	if size < wordSize {
		return nil, badParam("bw-mem size %d is smaller than a word", size)
	}
	return &MemBandwidth{op: op, size: size}, nil
}

// Bytes returns the bytes moved per iteration.
func (m *MemBandwidth) Bytes() int64 { return m.size / wordSize * wordSize }

func (m *MemBandwidth) Setup(context.Context) error {
	m.src = make([]uint64, m.size/wordSize)
	for i := range m.src {
		m.src[i] = uint64(i)
	}
	if m.op == "cp" {
		m.dst = make([]uint64, len(m.src))
	}
	return nil
}

func (m *MemBandwidth) Work(n uint64) {
	for ; n > 0; n-- {
		switch m.op {
		case "rd":
			var sum uint64
			for _, v := range m.src {
				sum += v
			}
			bench.Use(sum)
		case "wr":
			for i := range m.src {
				m.src[i] = n
			}
		case "cp":
			copy(m.dst, m.src)
		case "bzero":
			clear(m.src)
		}
	}
}

func (m *MemBandwidth) Teardown() error {
	m.src, m.dst = nil, nil
	return nil
}

// =============================================================================
// ops
// =============================================================================

// Ops measures the latency of a dependent chain of integer operations.
type Ops struct {
	op string

	// operand is opaque to the compiler.
	operand uint64
}

func newOps(params benchmp.Params) (bench.Payload, error) {
	op := params.String("op", "add")
	switch op {
	case "add", "mul", "div", "bit":
	default:
		return nil, badParam("ops op %q is not one of add, mul, div, bit", op)
	}
	return &Ops{op: op, operand: 3}, nil
}

func (o *Ops) Setup(context.Context) error { return nil }

func (o *Ops) Work(n uint64) {
	x, r := n|1, o.operand
	switch o.op {
	case "add":
		for ; n > 0; n-- {
			x += r
		}
	case "mul":
		for ; n > 0; n-- {
			x *= r
		}
	case "div":
		for ; n > 0; n-- {
			x = ^x / r
		}
	case "bit":
		for ; n > 0; n-- {
			x ^= x<<r | r
		}
	}
	bench.Use(x)
}

func (o *Ops) Teardown() error { return nil }
