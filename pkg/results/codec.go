// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package results

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Frame layout (little endian):
//
//	[0:4]  count
//	[4:8]  capacity
//	[8:]   capacity slots of {int64 duration ns, uint64 n}
//
// Unused slots are zero. The frame size depends only on capacity so a reader
// that knows the capacity can read exactly one frame from a stream.
const (
	frameHeader = 8
	frameSlot   = 16
)

// FrameSize returns the encoded size of a set with the given capacity.
func FrameSize(capacity int) int {
	return frameHeader + capacity*frameSlot
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (s *Set) MarshalBinary() ([]byte, error) {
	buf := make([]byte, FrameSize(s.capacity))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(s.samples)))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(s.capacity))
	off := frameHeader
	for _, v := range s.samples {
		binary.LittleEndian.PutUint64(buf[off:], uint64(v.Duration))
		binary.LittleEndian.PutUint64(buf[off+8:], v.N)
		off += frameSlot
	}
	return buf, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
//
// The decoded samples are re-inserted by rank, so a frame produced by a
// misbehaving peer still yields a set that honors the ordering invariant.
func (s *Set) UnmarshalBinary(data []byte) error {
	if len(data) < frameHeader {
		return fmt.Errorf("result frame: short header (%d bytes)", len(data))
	}
	count := int(binary.LittleEndian.Uint32(data[0:4]))
	capacity := int(binary.LittleEndian.Uint32(data[4:8]))
	if capacity <= 0 {
		return fmt.Errorf("result frame: %w", ErrInvalidCapacity)
	}
	if count > capacity {
		return fmt.Errorf("result frame: count %d exceeds capacity %d", count, capacity)
	}
	if len(data) < FrameSize(capacity) {
		return fmt.Errorf("result frame: have %d bytes, want %d", len(data), FrameSize(capacity))
	}

	s.capacity = capacity
	s.samples = make([]Sample, 0, capacity)
	off := frameHeader
	for i := 0; i < count; i++ {
		d := time.Duration(binary.LittleEndian.Uint64(data[off:]))
		n := binary.LittleEndian.Uint64(data[off+8:])
		if d < 0 {
			d = 0
		}
		s.insert(Sample{Duration: d, N: n})
		off += frameSlot
	}
	return nil
}
