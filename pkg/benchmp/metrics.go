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
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for coordinator runs.
var (
	tracer = otel.Tracer("microbench.benchmp")
	meter  = otel.Meter("microbench.benchmp")
)

var (
	runsTotal    metric.Int64Counter
	workerDeaths metric.Int64Counter
	drainKills   metric.Int64Counter
	rateNS       metric.Float64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		runsTotal, err = meter.Int64Counter(
			"microbench_runs_total",
			metric.WithDescription("Total coordinator runs by payload and result"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		workerDeaths, err = meter.Int64Counter(
			"microbench_worker_deaths_total",
			metric.WithDescription("Workers that exited before being told to"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		drainKills, err = meter.Int64Counter(
			"microbench_drain_kills_total",
			metric.WithDescription("Workers killed after overrunning the drain timeout"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		rateNS, err = meter.Float64Histogram(
			"microbench_rate_nanoseconds",
			metric.WithDescription("Median per-iteration cost of completed runs"),
			metric.WithUnit("ns"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func startRunSpan(ctx context.Context, job Job) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Coordinator.Run",
		trace.WithAttributes(
			attribute.String("benchmp.payload", job.Label()),
			attribute.Int("benchmp.parallelism", job.Parallelism),
			attribute.Int("benchmp.repetitions", job.Repetitions),
			attribute.Int64("benchmp.target_ns", int64(job.Target)),
			attribute.Bool("benchmp.isolate", job.Isolate),
		),
	)
}

func phaseEvent(span trace.Span, p Phase) {
	span.AddEvent("phase", trace.WithAttributes(attribute.String("benchmp.phase", p.String())))
}

func finishRunSpan(span trace.Span, out *Outcome, err error) {
	span.SetAttributes(
		attribute.String("benchmp.run_id", out.RunID),
		attribute.String("benchmp.phase", out.Phase.String()),
		attribute.Int64("benchmp.elapsed_ns", int64(out.Elapsed())),
		attribute.Int64("benchmp.n", int64(out.N())),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

func recordRun(ctx context.Context, job Job, out *Outcome, err error) {
	if initErr := initMetrics(); initErr != nil {
		return
	}
	payload := attribute.String("payload", job.Label())
	runsTotal.Add(ctx, 1, metric.WithAttributes(payload, attribute.Bool("success", err == nil)))
	if out.DrainKills > 0 {
		drainKills.Add(ctx, int64(out.DrainKills), metric.WithAttributes(payload))
	}
	if err == nil && out.Valid() {
		rateNS.Record(ctx, out.Rate(), metric.WithAttributes(payload,
			attribute.Int("parallelism", job.Parallelism)))
	}
}

func recordWorkerDeath(ctx context.Context, job Job) {
	if err := initMetrics(); err != nil {
		return
	}
	workerDeaths.Add(ctx, 1, metric.WithAttributes(attribute.String("payload", job.Label())))
}
