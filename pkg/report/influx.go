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
	"context"
	"errors"
	"fmt"
	"strconv"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/AleutianAI/microbench/pkg/benchmp"
)

// Measurement is the InfluxDB measurement outcomes are written to.
const Measurement = "microbench"

// InfluxConfig locates an InfluxDB 2.x bucket.
type InfluxConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// Validate reports a missing field.
func (c InfluxConfig) Validate() error {
	switch {
	case c.URL == "":
		return errors.New("influx: url is required")
	case c.Org == "":
		return errors.New("influx: org is required")
	case c.Bucket == "":
		return errors.New("influx: bucket is required")
	}
	return nil
}

// InfluxExporter writes outcomes as points, one per run.
type InfluxExporter struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
}

// NewInfluxExporter connects lazily; nothing is sent until Export.
func NewInfluxExporter(cfg InfluxConfig) (*InfluxExporter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &InfluxExporter{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
	}, nil
}

// NewInfluxExporterWithAPI wraps an existing write API. Close is a no-op.
func NewInfluxExporterWithAPI(w api.WriteAPIBlocking) *InfluxExporter {
	return &InfluxExporter{writeAPI: w}
}

// Export writes out. Invalid outcomes are skipped.
func (e *InfluxExporter) Export(ctx context.Context, out *benchmp.Outcome) error {
	if !out.Valid() {
		return nil
	}
	if err := e.writeAPI.WritePoint(ctx, OutcomePoint(out)); err != nil {
		return fmt.Errorf("influx write: %w", err)
	}
	return nil
}

// Close releases the client.
func (e *InfluxExporter) Close() {
	if e.client != nil {
		e.client.Close()
	}
}

// OutcomePoint converts out to a point tagged by payload, parameters and
// parallelism.
func OutcomePoint(out *benchmp.Outcome) *write.Point {
	tags := map[string]string{
		"payload":     out.Name,
		"parallelism": strconv.Itoa(out.Parallelism),
	}
	if p := out.Params.Encode(); p != "" {
		tags["params"] = p
	}
	s := out.Summary
	fields := map[string]interface{}{
		"rate_ns":     out.Rate(),
		"elapsed_ns":  int64(out.Elapsed()),
		"iterations":  int64(out.N()),
		"samples":     int64(out.Set.Len()),
		"p10_ns":      s.P10,
		"p90_ns":      s.P90,
		"cv":          s.CV,
		"skew_ns":     int64(out.StartSkew()),
		"drain_kills": int64(out.DrainKills),
		"run_id":      out.RunID,
	}
	return influxdb2.NewPoint(Measurement, tags, fields, out.Started)
}
