// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package history

import (
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/microbench/pkg/benchmp"
	"github.com/AleutianAI/microbench/pkg/results"
	"github.com/AleutianAI/microbench/pkg/timing"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

var epoch = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func record(name string, i int, rate float64) Record {
	return Record{
		ID:          fmt.Sprintf("%s-%d", name, i),
		Name:        name,
		Parallelism: 1,
		Timestamp:   epoch.Add(time.Duration(i) * time.Minute),
		Elapsed:     time.Duration(rate * 1000),
		N:           1000,
		RateNS:      rate,
		Samples:     []Sample{{Duration: time.Duration(rate * 1000), N: 1000}},
	}
}

// =============================================================================
// Store
// =============================================================================

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}

func TestOpen_OnDisk(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{Path: dir, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}

	s, err := Open(cfg)
	require.NoError(t, err)
	require.NoError(t, s.Put(record("null", 1, 42)))
	require.NoError(t, s.Close())

	s, err = Open(cfg)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Get("null-1")
	require.NoError(t, err)
	assert.Equal(t, 42.0, got.RateNS)
}

func TestStore_PutGet(t *testing.T) {
	s := openTest(t)

	r := record("null", 1, 42)
	r.Params = map[string]string{"size": "64"}
	r.Summary = results.Summary{Count: 1, Median: 42}
	r.Calibration = timing.Calibration{TimingOverhead: 25, LoopOverhead: 0.5, Enough: 5 * time.Millisecond}
	require.NoError(t, s.Put(r))

	got, err := s.Get(r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.Params, got.Params)
	assert.Equal(t, r.Summary, got.Summary)
	assert.Equal(t, r.Calibration, got.Calibration)
	assert.True(t, r.Timestamp.Equal(got.Timestamp))
	assert.Equal(t, r.Samples, got.Samples)

	_, err = s.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_PutReplaces(t *testing.T) {
	s := openTest(t)

	r := record("null", 1, 42)
	require.NoError(t, s.Put(r))
	r.Timestamp = r.Timestamp.Add(time.Hour)
	r.RateNS = 50
	require.NoError(t, s.Put(r))

	list, err := s.List("null", 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 50.0, list[0].RateNS)
}

func TestStore_PutRejectsInvalid(t *testing.T) {
	s := openTest(t)
	tests := []struct {
		name   string
		mutate func(*Record)
	}{
		{"no id", func(r *Record) { r.ID = "" }},
		{"no name", func(r *Record) { r.Name = "" }},
		{"slash in name", func(r *Record) { r.Name = "a/b" }},
		{"no timestamp", func(r *Record) { r.Timestamp = time.Time{} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := record("null", 1, 1)
			tt.mutate(&r)
			assert.Error(t, s.Put(r))
		})
	}
}

func TestStore_ListNewestFirst(t *testing.T) {
	s := openTest(t)
	for i := 1; i <= 5; i++ {
		require.NoError(t, s.Put(record("null", i, float64(i))))
	}
	// A name sharing a prefix must not leak into the listing.
	require.NoError(t, s.Put(record("null2", 9, 99)))

	list, err := s.List("null", 0)
	require.NoError(t, err)
	require.Len(t, list, 5)
	for i, r := range list {
		assert.Equal(t, fmt.Sprintf("null-%d", 5-i), r.ID)
	}

	list, err = s.List("null", 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "null-5", list[0].ID)
	assert.Equal(t, "null-4", list[1].ID)

	all, err := s.List("", 3)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "null2-9", all[0].ID)
	assert.Equal(t, "null-5", all[1].ID)
}

func TestStore_Latest(t *testing.T) {
	s := openTest(t)

	_, err := s.Latest("null")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Put(record("null", 2, 2)))
	require.NoError(t, s.Put(record("null", 1, 1)))
	got, err := s.Latest("null")
	require.NoError(t, err)
	assert.Equal(t, "null-2", got.ID)
}

func TestStore_NamesAndDelete(t *testing.T) {
	s := openTest(t)
	require.NoError(t, s.Put(record("read", 1, 1)))
	require.NoError(t, s.Put(record("null", 1, 1)))
	require.NoError(t, s.Put(record("null", 2, 1)))

	names, err := s.Names()
	require.NoError(t, err)
	assert.Equal(t, []string{"null", "read"}, names)

	require.NoError(t, s.Delete("read-1"))
	assert.ErrorIs(t, s.Delete("read-1"), ErrNotFound)
	_, err = s.Get("read-1")
	assert.ErrorIs(t, err, ErrNotFound)

	names, err = s.Names()
	require.NoError(t, err)
	assert.Equal(t, []string{"null"}, names)
}

// =============================================================================
// Records
// =============================================================================

func TestFromOutcome(t *testing.T) {
	set := results.New(3)
	require.NoError(t, set.Insert(4200*time.Microsecond, 100_000))
	require.NoError(t, set.Insert(4400*time.Microsecond, 100_000))
	out := &benchmp.Outcome{
		RunID:       "abc",
		Name:        "null",
		Params:      benchmp.Params{"size": "64"},
		Parallelism: 2,
		Set:         set,
		Summary:     results.Summarize(set),
		Started:     epoch,
	}
	cal := timing.Calibration{Enough: 5 * time.Millisecond}

	r, err := FromOutcome(out, cal)
	require.NoError(t, err)
	assert.Equal(t, "abc", r.ID)
	assert.Equal(t, "null size=64", r.Label())
	assert.Equal(t, 2, r.Parallelism)
	assert.Equal(t, out.Rate(), r.RateNS)
	assert.Equal(t, cal, r.Calibration)
	assert.Len(t, r.Samples, 2)
	assert.Equal(t, out.Elapsed(), r.Set().Median().Duration)

	out.Params["size"] = "128"
	assert.Equal(t, "64", r.Params["size"])

	_, err = FromOutcome(&benchmp.Outcome{Set: results.New(1)}, cal)
	assert.ErrorIs(t, err, ErrInvalidOutcome)
	_, err = FromOutcome(nil, cal)
	assert.ErrorIs(t, err, ErrInvalidOutcome)
}

// =============================================================================
// Compare
// =============================================================================

func TestCompare(t *testing.T) {
	base := record("null", 1, 100)
	tests := []struct {
		name      string
		rate      float64
		threshold float64
		want      Verdict
	}{
		{"same", 103, 5, VerdictSame},
		{"slower", 110, 5, VerdictSlower},
		{"faster", 80, 5, VerdictFaster},
		{"default threshold", 104, 0, VerdictSame},
		{"tight threshold", 104, 1, VerdictSlower},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Compare(record("null", 2, tt.rate), base, tt.threshold)
			assert.Equal(t, tt.want, c.Verdict)
			assert.InDelta(t, tt.rate-100, c.DeltaPct, 1e-9)
		})
	}
}

func TestCompare_NoisyAndZeroBaseline(t *testing.T) {
	base := record("null", 1, 100)
	cur := record("null", 2, 120)
	cur.Summary.CV = 0.2

	c := Compare(cur, base, 5)
	assert.True(t, c.Noisy)
	assert.Equal(t, VerdictSlower, c.Verdict)
	assert.Equal(t, "null: 100.00 ns -> 120.00 ns (+20.0%) slower (noisy)", c.String())

	c = Compare(cur, Record{}, 5)
	assert.Equal(t, VerdictSame, c.Verdict)
	assert.Zero(t, c.DeltaPct)
}
