// Package dispatch runs inbound update handlers on a bounded worker pool.
// Jobs sharing a key run one at a time in submission order; jobs with
// different keys run in parallel.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"groupdirectory_bot/internal/logging"
	"groupdirectory_bot/internal/metrics"
)

const (
	DefaultWorkers    = 4
	DefaultQueueSize  = 256
	DefaultJobTimeout = 30 * time.Second

	reportTimeout = 10 * time.Second
)

// ErrClosed is returned by Submit once the pool has shut down.
var ErrClosed = errors.New("dispatch pool closed")

// Job is a unit of work. Key serializes jobs touching the same entity; zero
// means unkeyed.
type Job struct {
	Key  int64
	Kind string
	Run  func(ctx context.Context) error
}

// Failure describes a job that returned an error or panicked.
type Failure struct {
	JobID    string
	Kind     string
	Key      int64
	Panicked bool
	Err      error
}

// Reporter is told about every failed job after it has been logged.
type Reporter interface {
	ReportFailure(ctx context.Context, failure Failure)
}

type task struct {
	id  string
	job Job
}

// Options tune a Pool.
type Options struct {
	Workers    int
	QueueSize  int
	JobTimeout time.Duration
	Logger     *logrus.Entry
	Metrics    *metrics.Metrics
	Reporter   Reporter
}

// Pool executes submitted jobs on a fixed set of workers.
type Pool struct {
	workers int
	timeout time.Duration
	logger   *logrus.Entry
	metrics  *metrics.Metrics
	reporter Reporter

	slots *semaphore.Weighted
	ready chan task

	mu      sync.Mutex
	keys    map[int64][]task
	closed  bool
	running bool
}

// New constructs a Pool. Zero options fall back to defaults.
func New(opts Options) *Pool {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = DefaultJobTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logging.Logger()
	}

	return &Pool{
		workers: opts.Workers,
		timeout: opts.JobTimeout,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		reporter: opts.Reporter,
		slots:    semaphore.NewWeighted(int64(opts.QueueSize)),
		ready:    make(chan task, opts.QueueSize),
		keys:     make(map[int64][]task),
	}
}

// Submit enqueues job, blocking while the pool already holds its capacity of
// queued and running jobs.
func (p *Pool) Submit(ctx context.Context, job Job) error {
	if job.Run == nil {
		return errors.New("job has no run function")
	}
	if p.isClosed() {
		return ErrClosed
	}

	if err := p.slots.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("submit %s job: %w", job.Kind, err)
	}

	t := task{id: uuid.NewString(), job: job}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		p.slots.Release(1)
		return ErrClosed
	}

	if job.Key != 0 {
		if pending, busy := p.keys[job.Key]; busy {
			p.keys[job.Key] = append(pending, t)
			return nil
		}
		p.keys[job.Key] = nil
	}

	// Capacity is reserved by the semaphore, so this send never blocks.
	p.ready <- t
	return nil
}

// Run starts the workers and blocks until ctx is cancelled. In-flight jobs
// observe the cancellation; queued jobs are dropped.
func (p *Pool) Run(ctx context.Context) error {
	p.mu.Lock()
	if p.running || p.closed {
		p.mu.Unlock()
		return errors.New("dispatch pool already started")
	}
	p.running = true
	p.mu.Unlock()

	p.logger.WithFields(logging.Fields{
		"event":   "dispatch_started",
		"workers": p.workers,
	}).Info("dispatch pool started")

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.worker(ctx, id)
		}(i)
	}

	<-ctx.Done()

	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	wg.Wait()

	dropped := len(p.ready)
	p.mu.Lock()
	for _, pending := range p.keys {
		dropped += len(pending)
	}
	p.mu.Unlock()

	p.logger.WithFields(logging.Fields{
		"event":   "dispatch_stopped",
		"dropped": dropped,
	}).Info("dispatch pool stopped")

	return nil
}

func (p *Pool) worker(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-p.ready:
			for {
				p.execute(ctx, id, t)

				next, ok := p.next(t.job.Key)
				if !ok || ctx.Err() != nil {
					break
				}
				t = next
			}
		}
	}
}

// next pops the following job for key, or releases the key when none waits.
func (p *Pool) next(key int64) (task, bool) {
	if key == 0 {
		return task{}, false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	pending := p.keys[key]
	if len(pending) == 0 {
		delete(p.keys, key)
		return task{}, false
	}

	p.keys[key] = pending[1:]
	return pending[0], true
}

func (p *Pool) execute(ctx context.Context, workerID int, t task) {
	defer p.slots.Release(1)

	logger := logging.Enrich(p.logger, logging.Context{GroupID: t.job.Key, JobID: t.id}).WithFields(logging.Fields{
		"kind":      t.job.Kind,
		"worker_id": workerID,
	})

	jobCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	started := time.Now()
	err := p.safeRun(jobCtx, t.job)
	elapsed := time.Since(started)

	switch {
	case errors.Is(err, errPanicked):
		p.metrics.Job(t.job.Kind, "panic")
		logger.WithField("event", "dispatch_job_panic").WithError(err).Error("job panicked")
		p.report(ctx, Failure{JobID: t.id, Kind: t.job.Kind, Key: t.job.Key, Panicked: true, Err: err})
	case err != nil:
		p.metrics.Job(t.job.Kind, "error")
		logger.WithFields(logging.Fields{
			"event":       "dispatch_job_failed",
			"duration_ms": elapsed.Milliseconds(),
		}).WithError(err).Warn("job failed")
		p.report(ctx, Failure{JobID: t.id, Kind: t.job.Kind, Key: t.job.Key, Err: err})
	default:
		p.metrics.Job(t.job.Kind, "ok")
		logger.WithFields(logging.Fields{
			"event":       "dispatch_job_done",
			"duration_ms": elapsed.Milliseconds(),
		}).Debug("job done")
	}
}

// report gets its own deadline so failures seen during shutdown still go out.
func (p *Pool) report(ctx context.Context, failure Failure) {
	if p.reporter == nil {
		return
	}

	reportCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reportTimeout)
	defer cancel()
	p.reporter.ReportFailure(reportCtx, failure)
}

var errPanicked = errors.New("job panicked")

func (p *Pool) safeRun(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errPanicked, r)
		}
	}()

	return job.Run(ctx)
}

func (p *Pool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
