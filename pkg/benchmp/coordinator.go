// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
Package benchmp runs a payload in several OS processes at once and merges
their measurements.

A run moves through the phases Init, Forking, Warming, SynchronizedRun,
Collecting, Draining and Done:

  - Init: a parallel run first measures the payload in a single process. The
    baseline rate sizes the iteration count every worker will run.
  - Forking: each worker is this executable re-run with EnvWorker set and
    three control pipes (response, start, exit) passed as descriptors 3-5.
  - Warming: every worker runs setup, then loops over small work batches and
    sends a ready word after the first. The coordinator waits for all of them.
  - SynchronizedRun: the coordinator broadcasts one iteration count. Workers
    notice it between batches, so they enter the timed region together.
  - Collecting: each worker sends its start stamp and result set, then keeps
    working until the exit message so siblings still measuring see the same
    load.
  - Draining: workers get a bounded time to tear down and exit; stragglers
    are killed.
  - Done: the sets are merged and trimmed, and the median becomes the result.

A worker that exits before the exit message aborts the run. Every worker is
killed and reaped, and the outcome reports zero time over one iteration.

Binaries that use the coordinator must call MaybeRunWorker at the top of main
(or TestMain) so re-executed workers take the worker path.
*/
package benchmp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/microbench/pkg/bench"
	"github.com/AleutianAI/microbench/pkg/results"
	"github.com/AleutianAI/microbench/pkg/timing"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config configures a Coordinator.
type Config struct {
	// Calibrator supplies Enough and the overheads. Default: timing.Default().
	Calibrator *timing.Calibrator

	// Logger receives phase transitions and warnings. Default: slog.Default().
	Logger *slog.Logger

	// LogLevel is passed to workers ("debug", "info", "warn", "error").
	LogLevel string

	// Short is the minimum synchronized run length. Default: timing.Short.
	Short time.Duration

	// PollInterval is the target length of one worker poll batch.
	// Default: 1ms.
	PollInterval time.Duration

	// DrainFloor is the minimum wait for the first overdue worker.
	// Default: 5s.
	DrainFloor time.Duration

	// DrainSlack is added to twice the target to get the drain wait.
	// Default: 2s. NoDrainSlack, or any negative value, adds nothing.
	DrainSlack time.Duration

	// DrainGrace is the wait for each worker after one has been killed.
	// Default: 1s.
	DrainGrace time.Duration

	// Trim returns the merge policy for a capacity.
	// Default: results.DefaultTrimPolicy.
	Trim func(capacity int) results.TrimPolicy

	// Executable is the worker binary. Default: os.Executable().
	Executable string

	// WorkerArgs are passed to the worker binary.
	WorkerArgs []string

	// Spawner starts workers. Default: ExecSpawner.
	Spawner Spawner
}

// NoDrainSlack disables the drain slack; a zero DrainSlack means the default.
const NoDrainSlack time.Duration = -1

// DefaultConfig returns the standard coordinator configuration.
func DefaultConfig() Config {
	return Config{
		Short:        timing.Short,
		PollInterval: time.Millisecond,
		DrainFloor:   5 * time.Second,
		DrainSlack:   2 * time.Second,
		DrainGrace:   time.Second,
		Trim:         results.DefaultTrimPolicy,
		Spawner:      ExecSpawner{},
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.Calibrator == nil {
		c.Calibrator = timing.Default()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Short <= 0 {
		c.Short = def.Short
	}
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.DrainFloor <= 0 {
		c.DrainFloor = def.DrainFloor
	}
	if c.DrainSlack == 0 {
		c.DrainSlack = def.DrainSlack
	}
	if c.DrainGrace <= 0 {
		c.DrainGrace = def.DrainGrace
	}
	if c.Trim == nil {
		c.Trim = def.Trim
	}
	if c.Spawner == nil {
		c.Spawner = def.Spawner
	}
}

// =============================================================================
// COORDINATOR
// =============================================================================

// Coordinator runs jobs and keeps the latest result in its Harness.
//
// # Thread Safety
//
// Run may be called from several goroutines, but concurrent runs compete for
// the same CPUs and the Harness only keeps the result of whichever finishes
// last.
type Coordinator struct {
	cfg     Config
	cal     *timing.Calibrator
	harness *bench.Harness
	logger  *slog.Logger
}

// New creates a Coordinator. Zero Config fields take their defaults.
func New(cfg Config) *Coordinator {
	cfg.applyDefaults()
	return &Coordinator{
		cfg:     cfg,
		cal:     cfg.Calibrator,
		harness: bench.New(bench.WithCalibrator(cfg.Calibrator), bench.WithLogger(cfg.Logger)),
		logger:  cfg.Logger,
	}
}

// Harness holds the current result: after Run, Harness().Time() and
// Harness().N() are the outcome's Elapsed() and N().
func (c *Coordinator) Harness() *bench.Harness { return c.harness }

// Run executes job and returns its outcome.
//
// # Description
//
// A single-process job runs in this process unless it asks for isolation.
// A parallel job runs a single-process baseline first, then the multi-process
// protocol described in the package documentation.
//
// # Inputs
//
//   - ctx: Cancels the run. Workers are killed and reaped on cancellation.
//   - job: The job. Zero Parallelism and Repetitions take defaults.
//
// # Outputs
//
//   - *Outcome: Never nil. On failure it is a zero outcome.
//   - error: ErrInvalidJob, ErrUnknownPayload, ErrSpawn, ErrWorkerDied,
//     setup failures, or ctx.Err().
func (c *Coordinator) Run(ctx context.Context, job Job) (*Outcome, error) {
	job = job.withDefaults(c.cal.Tries())
	out := newOutcome(job, job.Repetitions)
	if err := job.Validate(); err != nil {
		c.harness.SetResults(out.Set)
		return out, err
	}

	ctx, span := startRunSpan(ctx, job)
	defer span.End()

	err := c.run(ctx, span, job, out)
	if err != nil {
		out.fail()
		c.logger.Error("benchmark run failed",
			slog.String("run_id", out.RunID),
			slog.String("payload", job.Label()),
			slog.String("phase", out.Phase.String()),
			slog.String("error", err.Error()))
	} else {
		out.Summary = results.Summarize(out.Set)
	}
	out.Wall = time.Since(out.Started)

	finishRunSpan(span, out, err)
	recordRun(ctx, job, out, err)
	c.harness.SetResults(out.Set)
	return out, err
}

func (c *Coordinator) run(ctx context.Context, span trace.Span, job Job, out *Outcome) error {
	c.enter(span, out, PhaseInit)
	if job.local() {
		return c.runLocal(ctx, span, job, out)
	}

	if job.Parallelism > 1 {
		base := newOutcome(job.single(), job.Repetitions)
		if err := c.run(ctx, span, job.single(), base); err != nil {
			return fmt.Errorf("baseline: %w", err)
		}
		base.Wall = time.Since(base.Started)
		out.Baseline = base
		c.logger.Debug("baseline measured",
			slog.String("run_id", out.RunID),
			slog.Duration("elapsed", base.Elapsed()),
			slog.Uint64("n", base.N()))
	}

	r := &run{
		c:    c,
		job:  job,
		out:  out,
		span: span,
		died: make(chan int, job.Parallelism),
	}
	defer r.cleanup()
	return r.execute(ctx)
}

func (c *Coordinator) enter(span trace.Span, out *Outcome, p Phase) {
	out.Phase = p
	phaseEvent(span, p)
	c.logger.Debug("benchmark phase",
		slog.String("run_id", out.RunID),
		slog.String("phase", p.String()))
}

// runLocal measures a single-process job in this process.
func (c *Coordinator) runLocal(ctx context.Context, span trace.Span, job Job, out *Outcome) error {
	payload := job.Payload
	if payload == nil {
		var err error
		if payload, err = Build(job.Name, job.Params); err != nil {
			return err
		}
	}
	if err := payload.Setup(ctx); err != nil {
		return fmt.Errorf("setup %s: %w", job.Label(), err)
	}
	defer func() {
		if err := payload.Teardown(); err != nil {
			c.logger.Warn("payload teardown failed",
				slog.String("payload", job.Label()),
				slog.String("error", err.Error()))
		}
	}()

	c.enter(span, out, PhaseSynchronizedRun)
	for i := 0; i < job.Warmup; i++ {
		payload.Work(1)
	}
	start := timing.Now()
	set, err := c.harness.Calibrated(ctx, payload.Work, job.Target, job.Repetitions)
	if err != nil && !errors.Is(err, bench.ErrUnmeasurable) {
		return err
	}
	if err != nil {
		c.logger.Warn("payload could not be measured",
			slog.String("payload", job.Label()),
			slog.String("error", err.Error()))
	}

	c.enter(span, out, PhaseDone)
	out.Workers = []WorkerReport{{ID: 0, PID: os.Getpid(), Start: start, Set: set}}
	out.Set = set
	out.Iterations = 1
	return nil
}

// startIterations scales the baseline to fill Short when the timing
// interval is shorter than that, so every worker's timed region overlaps.
func (c *Coordinator) startIterations(job Job, baseline *Outcome) uint64 {
	if job.Parallelism == 1 || baseline == nil {
		return 1
	}
	n := baseline.N()
	d := baseline.Elapsed()
	if c.cal.EnoughFor(job.Target) < c.cfg.Short && d > 0 {
		n = uint64(float64(c.cfg.Short)*float64(n)/float64(d)) + 1
	}
	if n == 0 {
		n = 1
	}
	return n
}

// batchSize is the number of iterations per poll batch: about PollInterval
// of work at the baseline rate.
func (c *Coordinator) batchSize(baseline *Outcome) uint64 {
	if baseline == nil || !baseline.Valid() {
		return 1
	}
	rate := baseline.Rate()
	if rate <= 0 {
		return 1
	}
	n := uint64(float64(c.cfg.PollInterval) / rate)
	if n == 0 {
		n = 1
	}
	return n
}

func (c *Coordinator) drainTimeout(job Job) time.Duration {
	d := 2*c.cal.EnoughFor(job.Target) + max(c.cfg.DrainSlack, 0)
	if d < c.cfg.DrainFloor {
		d = c.cfg.DrainFloor
	}
	return d
}

// =============================================================================
// MULTI-PROCESS RUN
// =============================================================================

// run is the state of one multi-process invocation.
type run struct {
	c    *Coordinator
	job  Job
	out  *Outcome
	span trace.Span

	workers []*worker
	died    chan int
}

func (r *run) logger() *slog.Logger {
	return r.c.logger.With(slog.String("run_id", r.out.RunID))
}

func (r *run) execute(ctx context.Context) error {
	c := r.c
	job := r.job
	spec := workerSpec{
		Name:        job.Name,
		Params:      job.Params,
		Target:      job.Target,
		Parallelism: job.Parallelism,
		Warmup:      job.Warmup,
		Repetitions: job.Repetitions,
		Batch:       c.batchSize(r.out.Baseline),
		Calibration: c.cal.Calibration(),
		LogLevel:    c.cfg.LogLevel,
	}

	c.enter(r.span, r.out, PhaseForking)
	if err := r.spawnAll(ctx, spec); err != nil {
		r.abort()
		return fmt.Errorf("%w: %v", ErrSpawn, err)
	}

	c.enter(r.span, r.out, PhaseWarming)
	if err := r.exchange(ctx, func(w *worker) error {
		return r.classify(w, readReady(w.resp))
	}); err != nil {
		return err
	}

	c.enter(r.span, r.out, PhaseSynchronizedRun)
	iterations := c.startIterations(job, r.out.Baseline)
	r.out.Iterations = iterations
	if err := r.exchange(ctx, func(w *worker) error {
		return r.classify(w, writeStart(w.start, iterations))
	}); err != nil {
		return err
	}

	c.enter(r.span, r.out, PhaseCollecting)
	reports := make([]WorkerReport, len(r.workers))
	if err := r.exchange(ctx, func(w *worker) error {
		reports[w.id] = WorkerReport{ID: w.id, PID: w.pid}
		start, set, err := readResult(w.resp, job.Repetitions)
		if errors.Is(err, ErrProtocol) {
			r.logger().Warn("discarding worker result",
				slog.Int("worker_id", w.id),
				slog.String("error", err.Error()))
			return nil
		}
		if err != nil {
			return r.classify(w, err)
		}
		reports[w.id].Start, reports[w.id].Set = start, set
		return nil
	}); err != nil {
		return err
	}
	select {
	case id := <-r.died:
		return r.death(ctx, id)
	default:
	}
	r.out.Workers = reports

	for _, w := range r.workers {
		w.exiting.Store(true)
	}
	for _, w := range r.workers {
		if err := writeExit(w.exit); err != nil {
			r.logger().Debug("exit signal not delivered",
				slog.Int("worker_id", w.id),
				slog.String("error", err.Error()))
		}
		_ = w.exit.Close()
	}

	c.enter(r.span, r.out, PhaseDraining)
	r.out.DrainKills = r.drain(c.drainTimeout(job))

	c.enter(r.span, r.out, PhaseDone)
	sets := make([]*results.Set, 0, len(reports))
	for _, rep := range reports {
		if rep.Set != nil {
			sets = append(sets, rep.Set)
		}
	}
	r.out.Set = results.Merge(c.cfg.Trim(job.Repetitions), sets...)
	return nil
}

// spawnAll starts every worker with SIGTERM held, so an external
// termination cannot kill the process while the worker set is half started.
// A private subscription absorbs the signal; other subscribers, such as a
// signal.NotifyContext in main, keep theirs and still see it.
func (r *run) spawnAll(ctx context.Context, spec workerSpec) error {
	held := make(chan os.Signal, 1)
	signal.Notify(held, syscall.SIGTERM)
	defer signal.Stop(held)

	exe := r.c.cfg.Executable
	if exe == "" {
		var err error
		if exe, err = os.Executable(); err != nil {
			return fmt.Errorf("locate executable: %w", err)
		}
	}

	r.workers = make([]*worker, 0, r.job.Parallelism)
	for i := 0; i < r.job.Parallelism; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		spec.ID = i
		w, err := r.spawn(exe, spec)
		if err != nil {
			return fmt.Errorf("worker %d: %w", i, err)
		}
		r.workers = append(r.workers, w)
	}
	return nil
}

func (r *run) spawn(exe string, spec workerSpec) (*worker, error) {
	encoded, err := spec.encode()
	if err != nil {
		return nil, err
	}
	p, err := newPipes()
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(exe, r.c.cfg.WorkerArgs...)
	cmd.Env = append(os.Environ(),
		EnvWorker+"=1",
		EnvWorkerJob+"="+encoded,
	)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	cmd.ExtraFiles = p.childEnds()

	err = r.c.cfg.Spawner.Start(cmd)
	p.closeChildEnds()
	if err != nil {
		closeFiles(p.respR, p.startW, p.exitW)
		return nil, err
	}

	w := &worker{
		id:    spec.ID,
		pid:   cmd.Process.Pid,
		cmd:   cmd,
		resp:  p.respR,
		start: p.startW,
		exit:  p.exitW,
		done:  make(chan struct{}),
	}
	go w.supervise(r.died)
	r.logger().Debug("worker started", slog.Int("worker_id", w.id), slog.Int("pid", w.pid))
	return w, nil
}

// exchange runs fn for every worker concurrently. It returns when all calls
// finish, or aborts the run as soon as one fails, a worker dies, or ctx is
// cancelled.
func (r *run) exchange(ctx context.Context, fn func(w *worker) error) error {
	var g errgroup.Group
	failed := make(chan struct{})
	var once sync.Once
	for _, w := range r.workers {
		g.Go(func() error {
			if err := fn(w); err != nil {
				once.Do(func() { close(failed) })
				return err
			}
			return nil
		})
	}
	finished := make(chan error, 1)
	go func() { finished <- g.Wait() }()

	select {
	case err := <-finished:
		return err
	case id := <-r.died:
		err := r.death(ctx, id)
		<-finished
		return err
	case <-failed:
		r.abort()
		return <-finished
	case <-ctx.Done():
		r.abort()
		<-finished
		return ctx.Err()
	}
}

// classify maps an I/O failure on a worker's pipe to ErrWorkerDied when the
// worker is gone.
func (r *run) classify(w *worker, err error) error {
	if err == nil {
		return nil
	}
	if isClosed(err) || errors.Is(err, syscall.EPIPE) || errors.Is(err, os.ErrClosed) || w.reaped() {
		return fmt.Errorf("%w: worker %d (pid %d): %v", ErrWorkerDied, w.id, w.pid, err)
	}
	return fmt.Errorf("worker %d: %w", w.id, err)
}

func (r *run) death(ctx context.Context, id int) error {
	w := r.workers[id]
	<-w.done
	r.logger().Error("worker died unexpectedly",
		slog.Int("worker_id", id),
		slog.Int("pid", w.pid),
		slog.Any("wait", w.waitErr))
	recordWorkerDeath(ctx, r.job)
	r.abort()
	return fmt.Errorf("%w: worker %d (pid %d): %v", ErrWorkerDied, id, w.pid, w.waitErr)
}

// abort kills every worker and closes the coordinator's pipe ends, which
// unblocks any pending reads and writes.
func (r *run) abort() {
	for _, w := range r.workers {
		w.exiting.Store(true)
		w.kill()
		w.closeIO()
	}
}

// drain waits for every worker to exit, killing any that overrun. The first
// overdue worker gets the full timeout; once one has been killed the rest
// get DrainGrace, since they have already had the full period to exit.
func (r *run) drain(timeout time.Duration) int {
	kills := 0
	for i := len(r.workers) - 1; i >= 0; i-- {
		w := r.workers[i]
		timer := time.NewTimer(timeout)
		select {
		case <-w.done:
			timer.Stop()
		case <-timer.C:
			r.logger().Warn("worker did not exit in time, killing",
				slog.Int("worker_id", w.id),
				slog.Int("pid", w.pid),
				slog.Duration("timeout", timeout))
			w.kill()
			<-w.done
			kills++
			timeout = r.c.cfg.DrainGrace
		}
		w.closeIO()
	}
	return kills
}

// cleanup guarantees every started worker is reaped whatever path the run
// took.
func (r *run) cleanup() {
	for _, w := range r.workers {
		if !w.reaped() {
			w.exiting.Store(true)
			w.kill()
		}
		<-w.done
		w.closeIO()
	}
}
