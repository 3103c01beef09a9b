// Package scheduler runs a periodic maintenance task.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"groupdirectory_bot/internal/logging"
)

// Task is one maintenance pass.
type Task func(ctx context.Context) error

// Runner invokes a Task on a fixed interval. Passes never overlap: a slow pass
// delays the next tick instead of running alongside it.
type Runner struct {
	name       string
	interval   time.Duration
	task       Task
	runAtStart bool
	logger     *logrus.Entry
	newTicker  func(time.Duration) (<-chan time.Time, func())
}

// Option configures a Runner.
type Option func(*Runner)

// WithRunAtStart runs the first pass immediately instead of after one interval.
func WithRunAtStart() Option {
	return func(r *Runner) { r.runAtStart = true }
}

// WithLogger overrides the runner's logger.
func WithLogger(logger *logrus.Entry) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New constructs a Runner for task.
func New(name string, interval time.Duration, task Task, opts ...Option) (*Runner, error) {
	if interval <= 0 {
		return nil, errors.New("scheduler interval must be positive")
	}
	if task == nil {
		return nil, errors.New("scheduler task is required")
	}

	r := &Runner{
		name:     name,
		interval: interval,
		task:     task,
		logger:   logging.Logger(),
		newTicker: func(d time.Duration) (<-chan time.Time, func()) {
			ticker := time.NewTicker(d)
			return ticker.C, ticker.Stop
		},
	}
	for _, opt := range opts {
		opt(r)
	}

	return r, nil
}

// Run blocks until ctx is cancelled. A failing pass is logged and the loop
// continues.
func (r *Runner) Run(ctx context.Context) error {
	ticks, stop := r.newTicker(r.interval)
	defer stop()

	logger := r.logger.WithField("task", r.name)
	logger.WithFields(logging.Fields{
		"event":    "scheduler_started",
		"interval": r.interval.String(),
	}).Info("scheduler started")

	if r.runAtStart {
		r.pass(ctx, logger)
	}

	for {
		select {
		case <-ctx.Done():
			logger.WithField("event", "scheduler_stopped").Info("scheduler stopped")
			return nil
		case <-ticks:
			r.pass(ctx, logger)
		}
	}
}

func (r *Runner) pass(ctx context.Context, logger *logrus.Entry) {
	if ctx.Err() != nil {
		return
	}

	started := time.Now()
	if err := r.task(ctx); err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return
		}
		logger.WithFields(logging.Fields{
			"event":       "scheduler_pass_failed",
			"duration_ms": time.Since(started).Milliseconds(),
		}).WithError(err).Warn("scheduled pass failed")
		return
	}

	logger.WithFields(logging.Fields{
		"event":       "scheduler_pass_done",
		"duration_ms": time.Since(started).Milliseconds(),
	}).Debug("scheduled pass done")
}
