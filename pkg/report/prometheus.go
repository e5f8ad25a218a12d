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
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/AleutianAI/microbench/pkg/benchmp"
)

// OutcomeCollector exposes outcomes as Prometheus gauges. Each payload and
// parameter combination is one series; recording again overwrites it.
type OutcomeCollector struct {
	registry *prometheus.Registry

	rate       *prometheus.GaugeVec
	iterations *prometheus.GaugeVec
	elapsed    *prometheus.GaugeVec
	spread     *prometheus.GaugeVec
	skew       *prometheus.GaugeVec
	drainKills *prometheus.GaugeVec
	timestamp  *prometheus.GaugeVec
}

var outcomeLabels = []string{"payload", "params", "parallelism"}

// NewOutcomeCollector creates gauges in a private registry, so they never
// mix with process metrics.
func NewOutcomeCollector() *OutcomeCollector {
	gauge := func(name, help string, extra ...string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "microbench",
			Name:      name,
			Help:      help,
		}, append(append([]string{}, outcomeLabels...), extra...))
	}

	c := &OutcomeCollector{
		registry:   prometheus.NewRegistry(),
		rate:       gauge("rate_nanoseconds", "Median cost of one iteration."),
		iterations: gauge("iterations", "Median iteration count of the accepted samples."),
		elapsed:    gauge("elapsed_seconds", "Median timed interval."),
		spread:     gauge("rate_quantile_nanoseconds", "Per-iteration cost quantiles across samples.", "quantile"),
		skew:       gauge("start_skew_seconds", "Spread of worker start times."),
		drainKills: gauge("drain_kills", "Workers killed for overrunning the drain timeout."),
		timestamp:  gauge("last_run_timestamp_seconds", "Unix time the outcome was recorded."),
	}
	c.registry.MustRegister(c.rate, c.iterations, c.elapsed, c.spread, c.skew, c.drainKills, c.timestamp)
	return c
}

// Registry returns the private registry.
func (c *OutcomeCollector) Registry() *prometheus.Registry { return c.registry }

// Record sets the gauges for out. Invalid outcomes are skipped.
func (c *OutcomeCollector) Record(out *benchmp.Outcome) bool {
	if !out.Valid() {
		return false
	}
	l := prometheus.Labels{
		"payload":     out.Name,
		"params":      out.Params.Encode(),
		"parallelism": strconv.Itoa(out.Parallelism),
	}
	c.rate.With(l).Set(out.Rate())
	c.iterations.With(l).Set(float64(out.N()))
	c.elapsed.With(l).Set(out.Elapsed().Seconds())
	c.skew.With(l).Set(out.StartSkew().Seconds())
	c.drainKills.With(l).Set(float64(out.DrainKills))
	c.timestamp.With(l).Set(float64(out.Started.Unix()))

	s := out.Summary
	for q, v := range map[string]float64{"0.1": s.P10, "0.5": s.Median, "0.9": s.P90} {
		ql := prometheus.Labels{"quantile": q}
		for k, v := range l {
			ql[k] = v
		}
		c.spread.With(ql).Set(v)
	}
	return true
}

// WriteTextfile writes every recorded series to path in the text format
// read by the node_exporter textfile collector. The file is replaced
// atomically.
func (c *OutcomeCollector) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, c.registry); err != nil {
		return fmt.Errorf("write prometheus textfile: %w", err)
	}
	return nil
}
