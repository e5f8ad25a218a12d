// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package bench

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/microbench/pkg/results"
	"github.com/AleutianAI/microbench/pkg/timing"
)

// fakeClock only moves when a work function advances it, so iteration
// counts and durations are exact.
type fakeClock struct {
	now atomic.Int64
}

func (c *fakeClock) read() timing.Stamp { return timing.Stamp(c.now.Load()) }

func (c *fakeClock) work(perOp time.Duration, calls *[]uint64) WorkFunc {
	return func(n uint64) {
		if calls != nil {
			*calls = append(*calls, n)
		}
		c.now.Add(int64(n) * int64(perOp))
	}
}

func noEnv(string) (string, bool) { return "", false }

func newTestHarness(clock *fakeClock, opts ...timing.Option) *Harness {
	base := []timing.Option{
		timing.WithClock(clock.read),
		timing.WithLookup(noEnv),
		timing.WithEnough(5 * time.Millisecond),
		timing.WithTimingOverhead(0),
		timing.WithLoopOverhead(0),
	}
	return New(WithCalibrator(timing.New(append(base, opts...)...)))
}

func TestHarness_InitialResult(t *testing.T) {
	h := newTestHarness(&fakeClock{})
	assert.Equal(t, time.Duration(0), h.Time())
	assert.Equal(t, uint64(1), h.N())
	assert.Equal(t, 0, h.Results().Len())
}

func TestHarness_Measure(t *testing.T) {
	t.Run("subtracts overheads", func(t *testing.T) {
		clock := &fakeClock{}
		h := newTestHarness(clock,
			timing.WithTimingOverhead(time.Microsecond),
			timing.WithLoopOverhead(10),
		)

		d := h.Measure(clock.work(100*time.Nanosecond, nil), 100)
		assert.Equal(t, 8*time.Microsecond, d)
		assert.Equal(t, 8*time.Microsecond, h.Time())
		assert.Equal(t, uint64(100), h.N())
	})

	t.Run("clamps to zero", func(t *testing.T) {
		clock := &fakeClock{}
		h := newTestHarness(clock, timing.WithTimingOverhead(time.Microsecond))

		d := h.Measure(clock.work(0, nil), 10)
		assert.Equal(t, time.Duration(0), d)
		assert.Equal(t, uint64(10), h.N())
	})
}

func TestHarness_Calibrated(t *testing.T) {
	t.Run("converges on the target", func(t *testing.T) {
		clock := &fakeClock{}
		h := newTestHarness(clock)

		set, err := h.Calibrated(context.Background(), clock.work(100*time.Nanosecond, nil), 0, 11)
		require.NoError(t, err)
		require.Equal(t, 11, set.Len())
		assert.True(t, set.Sorted())

		for _, s := range set.Samples() {
			assert.True(t, timing.InBand(s.Duration, 5*time.Millisecond), "sample %v", s)
			assert.InDelta(t, 100.0, s.Rate(), 1e-9)
		}
		assert.Equal(t, set.Median(), results.Sample{Duration: h.Time(), N: h.N()})
		assert.Equal(t, 11, h.Results().Len())
	})

	t.Run("warms with one iteration for short targets", func(t *testing.T) {
		clock := &fakeClock{}
		h := newTestHarness(clock)

		var calls []uint64
		_, err := h.CalibratedFrom(context.Background(), clock.work(time.Microsecond, &calls), 10*time.Millisecond, 3, 5000)
		require.NoError(t, err)
		require.NotEmpty(t, calls)
		assert.Equal(t, uint64(1), calls[0])
		assert.Equal(t, uint64(5000), calls[1])
	})

	t.Run("no warm call at or above Longer", func(t *testing.T) {
		clock := &fakeClock{}
		h := newTestHarness(clock)

		var calls []uint64
		set, err := h.CalibratedFrom(context.Background(), clock.work(time.Millisecond, &calls), timing.Longer, 11, 5000)
		require.NoError(t, err)
		assert.Equal(t, uint64(5000), calls[0])
		assert.Equal(t, 1, set.Len(), "long targets get a single trial")
	})

	t.Run("long targets get one trial", func(t *testing.T) {
		clock := &fakeClock{}
		h := newTestHarness(clock)

		set, err := h.Calibrated(context.Background(), clock.work(time.Microsecond, nil), 200*time.Millisecond, 11)
		require.NoError(t, err)
		assert.Equal(t, 1, set.Len())
	})

	t.Run("too fast to measure", func(t *testing.T) {
		clock := &fakeClock{}
		h := newTestHarness(clock)

		set, err := h.Calibrated(context.Background(), clock.work(0, nil), 0, 11)
		assert.ErrorIs(t, err, ErrUnmeasurable)
		assert.Equal(t, 0, set.Len())
		assert.Equal(t, time.Duration(0), h.Time())
		assert.Equal(t, uint64(1), h.N())
	})

	t.Run("unmeasurable after accepted trials reports zero", func(t *testing.T) {
		clock := &fakeClock{}
		h := newTestHarness(clock)

		// The warm call and the first trial cost 100ns per iteration; every
		// later call is free, so the second trial can never reach the target.
		calls := 0
		work := func(n uint64) {
			calls++
			if calls <= 2 {
				clock.now.Add(int64(n) * 100)
			}
		}

		set, err := h.CalibratedFrom(context.Background(), work, 0, 11, 50000)
		assert.ErrorIs(t, err, ErrUnmeasurable)
		assert.Equal(t, 0, set.Len())
		assert.Equal(t, 0, h.Results().Len())
		assert.Equal(t, time.Duration(0), h.Time())
		assert.Equal(t, uint64(1), h.N())
	})

	t.Run("repeat runs pick the same iteration count", func(t *testing.T) {
		clock := &fakeClock{}
		h := newTestHarness(clock)
		work := clock.work(100*time.Nanosecond, nil)

		_, err := h.Calibrated(context.Background(), work, 0, 11)
		require.NoError(t, err)
		first := h.N()

		_, err = h.Calibrated(context.Background(), work, 0, 11)
		require.NoError(t, err)
		second := h.N()

		require.NotZero(t, first)
		assert.InEpsilon(t, float64(first), float64(second), 0.05)
	})

	t.Run("honors cancellation", func(t *testing.T) {
		clock := &fakeClock{}
		h := newTestHarness(clock)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := h.Calibrated(ctx, clock.work(time.Microsecond, nil), 0, 11)
		assert.True(t, errors.Is(err, context.Canceled))
	})
}

func TestHarness_SaveRestore(t *testing.T) {
	clock := &fakeClock{}
	h := newTestHarness(clock)

	s := results.New(3)
	require.NoError(t, s.Insert(300, 3))
	require.NoError(t, s.Insert(100, 10))
	h.SetResults(s)
	// Even count: durations and counts are averaged separately.
	assert.Equal(t, time.Duration(200), h.Time())
	assert.Equal(t, uint64(6), h.N())

	restore := h.Save()
	h.Measure(clock.work(time.Microsecond, nil), 7)
	h.SetResults(results.New(3))
	assert.Equal(t, uint64(1), h.N())

	restore()
	assert.Equal(t, 2, h.Results().Len())
	assert.Equal(t, time.Duration(200), h.Time())
	assert.Equal(t, uint64(6), h.N())

	h.SaveMinimum()
	assert.Equal(t, time.Duration(100), h.Time())
	assert.Equal(t, uint64(10), h.N())
	h.SaveMedian()
	assert.Equal(t, time.Duration(200), h.Time())
}

func TestFuncs(t *testing.T) {
	var ran uint64
	f := Funcs{Run: func(n uint64) { ran += n }}
	require.NoError(t, f.Setup(context.Background()))
	f.Work(3)
	require.NoError(t, f.Teardown())
	assert.Equal(t, uint64(3), ran)

	boom := errors.New("boom")
	f = Funcs{
		Init:    func(context.Context) error { return boom },
		Run:     func(uint64) {},
		Cleanup: func() error { return boom },
	}
	assert.ErrorIs(t, f.Setup(context.Background()), boom)
	assert.ErrorIs(t, f.Teardown(), boom)
}

func TestUse(t *testing.T) {
	before := Used()
	Use(5)
	assert.Equal(t, before+5, Used())
}
