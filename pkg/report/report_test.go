// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package report

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/microbench/pkg/benchmp"
	"github.com/AleutianAI/microbench/pkg/results"
)

// =============================================================================
// Line formats
// =============================================================================

func TestLineFormats(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"nano", Nano("getppid", 42*time.Millisecond, 1_000_000), "getppid: 42 nanoseconds\n"},
		{"micro", Micro("Simple syscall", 4210*time.Microsecond, 100_000), "Simple syscall: 0.0421 microseconds\n"},
		{"micro zero n", Micro("x", 5*time.Microsecond, 0), "x: 5.0000 microseconds\n"},
		{"milli", Milli("Process fork+exec", 1234*time.Millisecond, 10), "Process fork+exec: 123 milliseconds\n"},
		{"ptime", PTime(2*time.Second, 4), "4 in 2.00 secs, 500000 microseconds each\n"},
		{"micromb large", MicroMB(8_000_000, 500*time.Microsecond, 10), "8.000000 50\n"},
		{"micromb small", MicroMB(500_000, 25*time.Microsecond, 10), "0.500000 2.500\n"},
		{"mb", MB(250_000_000, 2*time.Second), "125.00 MB/sec\n"},
		{"kb", KB(250_000, 2*time.Second), "125 KB/sec\n"},
		{"context", Context(1000, 2*time.Millisecond), "1000 context switches in 0.00 secs, 2 microsec/switch\n"},
		{"bandwidth terse", Bandwidth(8_000_000, 4, 40*time.Millisecond, false), "8.00 800.00\n"},
		{"bandwidth small", Bandwidth(500_000, 1, time.Second, false), "0.500000 0.500000\n"},
		{"bandwidth verbose", Bandwidth(8_000_000, 1, time.Second, true), "8.0000 MB in 1.0000 secs, 8.0000 MB/sec\n"},
		{"latency many", Latency(10, 64_000, time.Second), "10 64KB xfers in 1.00 secs, 100.0000 millisec/xfer, 640.00 KB/sec\n"},
		{"latency one", Latency(1, 2_000_000, 200*time.Millisecond), "2000.0KB in 200 millisecs, 10.00 MB/sec\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.got)
		})
	}
}

func TestMB_ZeroInterval(t *testing.T) {
	assert.Equal(t, "1.00 MB/sec\n", MB(1_000_000, 0))
}

func TestFormatRate(t *testing.T) {
	assert.Equal(t, "42.00 ns", FormatRate(42))
	assert.Equal(t, "1.500 µs", FormatRate(1500))
	assert.Equal(t, "2.000 ms", FormatRate(2e6))
	assert.Equal(t, "3.000 s", FormatRate(3e9))
}

// =============================================================================
// Rusage
// =============================================================================

func TestUsage(t *testing.T) {
	u := Usage{Real: time.Second, Sys: 200 * time.Millisecond, User: 700 * time.Millisecond, Ctx: 5}
	assert.Equal(t, 100*time.Millisecond, u.Idle())
	assert.InDelta(t, 10.0, u.Stall(), 1e-9)
	assert.Equal(t, "real=1.00 sys=0.20 user=0.70 idle=0.10 stall=10% rd=0 wr=0 min=0 maj=0 ctx=5\n", u.String())

	assert.Zero(t, Usage{}.Stall())
}

func TestRusageMeter(t *testing.T) {
	m, err := StartRusage()
	require.NoError(t, err)

	deadline := time.Now().Add(20 * time.Millisecond)
	x := 0
	for time.Now().Before(deadline) {
		x++
	}
	u, err := m.Stop()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, u.Real, 20*time.Millisecond)
	assert.GreaterOrEqual(t, u.User+u.Sys, time.Duration(0))
	assert.Positive(t, x)
}

// =============================================================================
// Outcome renderers
// =============================================================================

func testOutcome(t *testing.T) *benchmp.Outcome {
	t.Helper()
	set := results.New(3)
	require.NoError(t, set.Insert(4200*time.Microsecond, 100_000))
	require.NoError(t, set.Insert(4300*time.Microsecond, 100_000))
	require.NoError(t, set.Insert(4100*time.Microsecond, 100_000))
	return &benchmp.Outcome{
		RunID:       "run-1",
		Name:        "null",
		Params:      benchmp.Params{"size": "64"},
		Parallelism: 2,
		Phase:       benchmp.PhaseDone,
		Set:         set,
		Summary:     results.Summarize(set),
		Started:     time.Unix(1_700_000_000, 0),
		Wall:        1500 * time.Millisecond,
		DrainKills:  1,
	}
}

func TestConsole_Plain(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf)
	require.NoError(t, c.Outcome(testOutcome(t)))

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "null size=64 (run run-1)\n"))
	for _, want := range []string{"per iteration    42.00 ns", "samples          3", "workers          2", "drain kills      1", "wall             1.5s"} {
		assert.Contains(t, out, want)
	}
	assert.NotContains(t, out, "\x1b[")

	buf.Reset()
	require.NoError(t, c.Warn("slow"))
	require.NoError(t, c.Failure("broken"))
	assert.Equal(t, "WARN: slow\nERROR: broken\n", buf.String())
}

func TestConsole_Styled(t *testing.T) {
	var buf bytes.Buffer
	c := &Console{w: &buf, styled: true}
	require.NoError(t, c.Outcome(testOutcome(t)))
	assert.Contains(t, buf.String(), "null size=64")
	assert.Contains(t, buf.String(), "42.00 ns")
}

func TestOutcomeCollector(t *testing.T) {
	c := NewOutcomeCollector()
	out := testOutcome(t)
	require.True(t, c.Record(out))

	assert.Equal(t, 3, testutil.CollectAndCount(c.spread))
	assert.InDelta(t, 42.0, testutil.ToFloat64(c.rate.WithLabelValues("null", "size=64", "2")), 1e-9)
	assert.InDelta(t, 1.0, testutil.ToFloat64(c.drainKills.WithLabelValues("null", "size=64", "2")), 1e-9)

	path := filepath.Join(t.TempDir(), "microbench.prom")
	require.NoError(t, c.WriteTextfile(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `microbench_rate_nanoseconds{parallelism="2",params="size=64",payload="null"} 42`)

	zero := testOutcome(t)
	zero.Set.Reset()
	assert.False(t, c.Record(zero))
}

type mockWriteAPI struct {
	points []*write.Point
	err    error
}

func (m *mockWriteAPI) WritePoint(_ context.Context, point ...*write.Point) error {
	if m.err != nil {
		return m.err
	}
	m.points = append(m.points, point...)
	return nil
}

func (m *mockWriteAPI) WriteRecord(context.Context, ...string) error { return nil }
func (m *mockWriteAPI) EnableBatching()                               {}
func (m *mockWriteAPI) Flush(context.Context) error                   { return nil }

func TestInfluxExporter(t *testing.T) {
	mock := &mockWriteAPI{}
	e := NewInfluxExporterWithAPI(mock)
	defer e.Close()

	require.NoError(t, e.Export(context.Background(), testOutcome(t)))
	require.Len(t, mock.points, 1)

	line := write.PointToLineProtocol(mock.points[0], time.Second)
	assert.True(t, strings.HasPrefix(line, "microbench,parallelism=2,params=size\\=64,payload=null "), line)
	assert.Contains(t, line, "rate_ns=42")
	assert.Contains(t, line, "iterations=100000i")
	assert.Contains(t, line, `run_id="run-1"`)
	assert.True(t, strings.HasSuffix(strings.TrimSpace(line), "1700000000"), line)

	empty := testOutcome(t)
	empty.Set.Reset()
	require.NoError(t, e.Export(context.Background(), empty))
	assert.Len(t, mock.points, 1)

	mock.err = assert.AnError
	assert.ErrorIs(t, e.Export(context.Background(), testOutcome(t)), assert.AnError)
}

func TestInfluxConfig_Validate(t *testing.T) {
	_, err := NewInfluxExporter(InfluxConfig{})
	assert.ErrorContains(t, err, "url")
	_, err = NewInfluxExporter(InfluxConfig{URL: "http://localhost:8086"})
	assert.ErrorContains(t, err, "org")
	_, err = NewInfluxExporter(InfluxConfig{URL: "http://localhost:8086", Org: "o"})
	assert.ErrorContains(t, err, "bucket")

	e, err := NewInfluxExporter(InfluxConfig{URL: "http://localhost:8086", Org: "o", Bucket: "b"})
	require.NoError(t, err)
	e.Close()
}
