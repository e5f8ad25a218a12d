// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/microbench/cmd/microbench/config"
	"github.com/AleutianAI/microbench/pkg/benchmp"
	"github.com/AleutianAI/microbench/pkg/history"
	"github.com/AleutianAI/microbench/pkg/report"
	"github.com/AleutianAI/microbench/pkg/timing"
)

// reportFormats lists the --report values.
var reportFormats = []string{"console", "nano", "micro", "milli", "ptime", "mb", "kb",
	"bandwidth", "latency", "context", "micromb"}

type runOptions struct {
	parallelism int
	warmup      int
	repetitions int
	target      time.Duration
	params      []string
	isolate     bool
	save        bool
	compare     float64
	format      string
	label       string
	bytes       string
	verbose     bool
	rusage      bool
}

func newRunCmd(a *app) *cobra.Command {
	o := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run <payload>",
		Short: "Run a benchmark",
		Long: `Runs a registered payload and prints its per-iteration cost.

With -P greater than one, a single-process baseline sizes the run, then that
many worker processes run the payload in lockstep and their samples are merged.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runBench(cmd.Context(), cmd.OutOrStdout(), args[0], o)
		},
	}
	f := cmd.Flags()
	f.IntVarP(&o.parallelism, "parallel", "P", 1, "Number of worker processes")
	f.IntVarP(&o.warmup, "warmup", "W", 0, "Unmeasured passes before timing")
	f.IntVarP(&o.repetitions, "repetitions", "N", 0, "Trials per worker (default from config)")
	f.DurationVar(&o.target, "target", 0, "Timed interval per trial (default from config, then calibrated)")
	f.StringArrayVar(&o.params, "param", nil, "Payload parameter key=value (repeatable)")
	f.BoolVar(&o.isolate, "isolate", false, "Run a single-process job in a worker process")
	f.BoolVar(&o.save, "save", false, "Record the outcome in the history store")
	f.Float64Var(&o.compare, "compare", 0, "Compare against the latest recorded run; fail above this regression percentage")
	f.StringVar(&o.format, "report", "console", fmt.Sprintf("Output format %v", reportFormats))
	f.StringVar(&o.label, "label", "", "Label for line formats (default payload name)")
	f.StringVar(&o.bytes, "bytes", "", "Bytes per iteration for throughput formats (default the size parameter)")
	f.BoolVarP(&o.verbose, "verbose", "v", false, "Verbose bandwidth output")
	f.BoolVar(&o.rusage, "rusage", false, "Print resource usage of the run")
	return cmd
}

// ErrRegression is returned by run --compare when the run is slower than the
// threshold allows.
var ErrRegression = errors.New("performance regression")

func (a *app) runBench(ctx context.Context, w io.Writer, name string, o *runOptions) error {
	if !validFormat(o.format) {
		return fmt.Errorf("unknown report format %q", o.format)
	}
	params, err := benchmp.ParseParams(o.params)
	if err != nil {
		return err
	}

	h := a.cfg.Harness
	cal := timing.New(
		timing.WithTries(h.Tries),
		timing.WithLogger(a.logger.Slog()),
	)
	coord := benchmp.New(h.Coordinator(benchmp.Config{
		Calibrator: cal,
		Logger:     a.logger.Slog(),
		LogLevel:   strings.ToLower(a.level.String()),
	}))

	job := benchmp.Job{
		Name:        name,
		Params:      params,
		Target:      o.target,
		Parallelism: o.parallelism,
		Warmup:      o.warmup,
		Repetitions: o.repetitions,
		Isolate:     o.isolate,
	}
	if job.Target == 0 {
		job.Target = h.Target
	}
	if job.Warmup == 0 {
		job.Warmup = h.Warmup
	}

	var meter *report.RusageMeter
	if o.rusage {
		if meter, err = report.StartRusage(); err != nil {
			a.logger.Warn("rusage unavailable", "error", err)
		}
	}

	console := report.NewConsole(w)
	spin := report.NewSpinner(os.Stderr, fmt.Sprintf("running %s with %d process(es)", job.Label(), max(job.Parallelism, 1)))
	spin.Start()
	out, err := coord.Run(ctx, job)
	spin.Stop()
	if err != nil {
		_ = console.Failure(fmt.Sprintf("%s: %v", job.Label(), err))
		return err
	}
	if !out.Valid() {
		_ = console.Warn(fmt.Sprintf("%s produced no usable measurement", job.Label()))
	}

	if err := a.render(w, console, out, o); err != nil {
		return err
	}
	if meter != nil {
		if u, err := meter.Stop(); err == nil {
			fmt.Fprint(w, u.String())
		}
	}

	a.export(ctx, out)
	return a.record(w, console, out, cal.Calibration(), o)
}

func validFormat(f string) bool {
	for _, v := range reportFormats {
		if v == f {
			return true
		}
	}
	return false
}

// render writes out in the requested format.
func (a *app) render(w io.Writer, console *report.Console, out *benchmp.Outcome, o *runOptions) error {
	if o.format == "console" {
		return console.Outcome(out)
	}

	label := o.label
	if label == "" {
		label = out.Name
	}
	d, n := out.Elapsed(), out.N()

	var size uint64
	if o.bytes != "" {
		b, err := benchmp.ParseSize(o.bytes)
		if err != nil {
			return fmt.Errorf("--bytes: %w", err)
		}
		size = uint64(b)
	} else if b, err := out.Params.Bytes("size", 0); err == nil {
		size = uint64(b)
	}

	var line string
	switch o.format {
	case "nano":
		line = report.Nano(label, d, n)
	case "micro":
		line = report.Micro(label, d, n)
	case "milli":
		line = report.Milli(label, d, n)
	case "ptime":
		line = report.PTime(d, n)
	case "mb":
		line = report.MB(size*n, d)
	case "kb":
		line = report.KB(size*n, d)
	case "bandwidth":
		line = report.Bandwidth(size, n, d, o.verbose)
	case "latency":
		line = report.Latency(n, size, d)
	case "context":
		line = report.Context(n, d)
	case "micromb":
		line = report.MicroMB(size, d, n)
	}
	_, err := io.WriteString(w, line)
	return err
}

// export writes the outcome to the configured sinks. Failures are logged,
// not returned, so a measurement is never lost to an unreachable exporter.
func (a *app) export(ctx context.Context, out *benchmp.Outcome) {
	ex := a.cfg.Export
	if path := ex.PrometheusTextfile; path != "" {
		c := report.NewOutcomeCollector()
		if c.Record(out) {
			if err := c.WriteTextfile(config.ExpandHome(path)); err != nil {
				a.logger.Warn("prometheus export failed", "error", err)
			}
		}
	}
	if ex.Influx.URL != "" {
		e, err := report.NewInfluxExporter(report.InfluxConfig{
			URL:    ex.Influx.URL,
			Token:  ex.Influx.Token(),
			Org:    ex.Influx.Org,
			Bucket: ex.Influx.Bucket,
		})
		if err != nil {
			a.logger.Warn("influx export disabled", "error", err)
			return
		}
		defer e.Close()
		if err := e.Export(ctx, out); err != nil {
			a.logger.Warn("influx export failed", "error", err)
		}
	}
}

// record compares against and saves to the history store as requested.
func (a *app) record(w io.Writer, console *report.Console, out *benchmp.Outcome, cal timing.Calibration, o *runOptions) error {
	save := o.save || a.cfg.History.Save
	if (!save && o.compare <= 0) || !out.Valid() {
		return nil
	}

	rec, err := history.FromOutcome(out, cal)
	if err != nil {
		return err
	}
	store, err := a.openHistory()
	if err != nil {
		return err
	}
	defer store.Close()

	var regressed error
	if o.compare > 0 {
		base, err := store.Latest(rec.Name)
		switch {
		case errors.Is(err, history.ErrNotFound):
			_ = console.Warn(fmt.Sprintf("no earlier run of %s to compare against", rec.Name))
		case err != nil:
			return err
		default:
			c := history.Compare(rec, base, o.compare)
			fmt.Fprintln(w, c.String())
			if c.Verdict == history.VerdictSlower {
				regressed = fmt.Errorf("%w: %s is %.1f%% slower than run %s", ErrRegression, rec.Label(), c.DeltaPct, base.ID)
			}
		}
	}

	if save {
		if err := store.Put(rec); err != nil {
			return fmt.Errorf("save run: %w", err)
		}
		a.logger.Info("run saved", "run_id", rec.ID, "payload", rec.Name)
	}
	return regressed
}

func (a *app) openHistory() (*history.Store, error) {
	return history.Open(history.Config{
		Path:   config.ExpandHome(a.cfg.History.Path),
		Logger: a.logger.Slog().With("component", "history"),
	})
}
