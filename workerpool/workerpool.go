// Package workerpool implements the Worker Pool described in section 4.5 of
// the design specification: a bounded-concurrency job executor with
// pause/resume and an inactivity guard, built from long-lived consumer
// goroutines reading a bounded channel plus a small supervisor that tracks
// per-job timing, matching the "systems reimplementation" note in section 9
// rather than the source's hand-rolled cooperative pool.
package workerpool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// defaultPauseTimeout is pause()'s bound before it triggers stop(), per
// section 4.5 and section 5's cancellation table.
const defaultPauseTimeout = time.Hour

// defaultIdleTimeout is how long both queues may sit empty before the pool
// exits its run loop cleanly, per section 4.5.
const defaultIdleTimeout = 60 * time.Second

// Job is one unit of work: a function paired with its own argument closure,
// per section 4.5's "pairs of (function, argument list)".
type Job func(ctx context.Context) error

// JobStats records the timing of one completed job, for the rolling-average
// ETA the dashboard shows (section 4.8), plus the job's own argument string
// so the Progress Reaper can parse it back into a download result per
// section 4.7 step 1.
type JobStats struct {
	Args     string
	Started  time.Time
	Finished time.Time
	Err      error
}

// Elapsed returns how long the job ran.
func (s JobStats) Elapsed() time.Duration {
	return s.Finished.Sub(s.Started)
}

// Pool is a bounded-concurrency executor, per section 4.5.
type Pool struct {
	maxParallel  int
	pauseTimeout time.Duration
	idleTimeout  time.Duration
	log          zerolog.Logger

	jobs    chan queuedJob
	results chan JobStats

	paused    atomic.Bool
	pauseCh   chan struct{}
	resumeCh  chan struct{}
	submitted atomic.Int64
	completed atomic.Int64

	statsMu    sync.Mutex
	avgElapsed time.Duration

	wg sync.WaitGroup
}

// Option configures a Pool.
type Option func(*Pool)

// WithPauseTimeout overrides the 1-hour default pause bound.
func WithPauseTimeout(d time.Duration) Option {
	return func(p *Pool) { p.pauseTimeout = d }
}

// WithIdleTimeout overrides the 60-second default inactivity guard.
func WithIdleTimeout(d time.Duration) Option {
	return func(p *Pool) { p.idleTimeout = d }
}

// New returns a Pool that runs up to maxParallel jobs concurrently.
func New(maxParallel int, log zerolog.Logger, opts ...Option) *Pool {
	p := &Pool{
		maxParallel:  maxParallel,
		pauseTimeout: defaultPauseTimeout,
		idleTimeout:  defaultIdleTimeout,
		log:          log,
		jobs:         make(chan queuedJob, maxParallel*4),
		results:      make(chan JobStats, maxParallel*4),
		pauseCh:      make(chan struct{}),
		resumeCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// queuedJob pairs a job with the argument string it was submitted with, so
// completion stats can be traced back to what the job was for (section 4.7
// step 1: "parses the job's argument string").
type queuedJob struct {
	args string
	run  Job
}

// Submit appends a job to the waiting queue, per section 4.5's submit(job).
// args is an opaque argument string (typically JSON-encoded) the Progress
// Reaper will parse back out of the resulting JobStats. It blocks if the
// internal buffer is full, applying natural backpressure.
func (p *Pool) Submit(args string, job Job) {
	p.submitted.Add(1)
	p.jobs <- queuedJob{args: args, run: job}
}

// Results returns the channel of completed-job statistics, consumed by the
// Progress Reaper (section 4.7).
func (p *Pool) Results() <-chan JobStats {
	return p.results
}

// Pause toggles the pause flag checked between job starts, per section 4.5.
// If Resume is not called within the pool's pause timeout, the pool calls
// Stop on itself.
func (p *Pool) Pause() {
	if p.paused.CompareAndSwap(false, true) {
		p.log.Info().Dur("timeout", p.pauseTimeout).Msg("worker pool paused")
		go p.watchPauseTimeout()
	}
}

func (p *Pool) watchPauseTimeout() {
	timer := time.NewTimer(p.pauseTimeout)
	defer timer.Stop()
	select {
	case <-timer.C:
		if p.paused.Load() {
			p.log.Warn().Msg("worker pool pause exceeded timeout; stopping")
			p.Stop()
		}
	case <-p.resumeCh:
	}
}

// Resume clears the pause flag, per section 4.5.
func (p *Pool) Resume() {
	if p.paused.CompareAndSwap(true, false) {
		p.log.Info().Msg("worker pool resumed")
		select {
		case p.resumeCh <- struct{}{}:
		default:
		}
	}
}

// Stop closes the waiting queue. Jobs already queued still start, up to
// maxParallel at a time, and Run exits once the queue is empty and the active
// jobs have finished; Stop does not keep queued jobs from starting. Calling
// Submit or Stop after Stop panics.
func (p *Pool) Stop() {
	close(p.jobs)
}

// Run drains waiting jobs into up to maxParallel active workers until the
// waiting queue is closed and drained, or until idleTimeout passes with no
// submissions and no in-flight work, per section 4.5's inactivity guard.
// Run blocks until the pool exits.
func (p *Pool) Run(ctx context.Context) {
	sem := make(chan struct{}, p.maxParallel)
	idle := time.NewTimer(p.idleTimeout)
	defer idle.Stop()

	for {
		for p.paused.Load() {
			select {
			case <-ctx.Done():
				p.drainAndExit(sem)
				close(p.results)
				return
			case <-time.After(100 * time.Millisecond):
			}
		}

		if !idle.Stop() {
			select {
			case <-idle.C:
			default:
			}
		}
		idle.Reset(p.idleTimeout)

		select {
		case job, ok := <-p.jobs:
			if !ok {
				p.wg.Wait()
				close(p.results)
				return
			}
			sem <- struct{}{}
			p.wg.Add(1)
			go p.runJob(ctx, job, sem)
		case <-idle.C:
			if len(sem) > 0 {
				continue // jobs still in flight; only an empty pool counts as idle
			}
			p.log.Info().Dur("idle_timeout", p.idleTimeout).Msg("worker pool idle timeout; exiting run loop")
			p.wg.Wait()
			close(p.results)
			return
		case <-ctx.Done():
			p.drainAndExit(sem)
			close(p.results)
			return
		}
	}
}

func (p *Pool) drainAndExit(sem chan struct{}) {
	p.wg.Wait()
	_ = sem
}

func (p *Pool) runJob(ctx context.Context, job queuedJob, sem chan struct{}) {
	defer p.wg.Done()
	defer func() { <-sem }()

	started := time.Now()
	err := job.run(ctx)
	finished := time.Now()

	p.completed.Add(1)
	p.recordElapsed(finished.Sub(started))

	p.results <- JobStats{Args: job.args, Started: started, Finished: finished, Err: err}
}

func (p *Pool) recordElapsed(d time.Duration) {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	if p.avgElapsed == 0 {
		p.avgElapsed = d
		return
	}
	// exponential moving average, weighting recent jobs more heavily so the
	// ETA tracks current throughput rather than the whole run's history.
	p.avgElapsed = (p.avgElapsed*4 + d) / 5
}

// AverageJobDuration returns the rolling average job duration used for ETA,
// per section 4.5's "recompute rolling average and ETA".
func (p *Pool) AverageJobDuration() time.Duration {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	return p.avgElapsed
}

// Submitted returns the total number of jobs submitted so far.
func (p *Pool) Submitted() int64 {
	return p.submitted.Load()
}

// Completed returns the total number of jobs completed so far.
func (p *Pool) Completed() int64 {
	return p.completed.Load()
}

// ETA estimates remaining time based on the rolling average job duration and
// the number of jobs still outstanding.
func (p *Pool) ETA() time.Duration {
	outstanding := p.Submitted() - p.Completed()
	if outstanding <= 0 {
		return 0
	}
	return p.AverageJobDuration() * time.Duration(outstanding) / time.Duration(p.maxParallel)
}
