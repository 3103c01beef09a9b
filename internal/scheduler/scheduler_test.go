package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
)

type manualTicker struct {
	ch      chan time.Time
	stopped atomic.Bool
}

func newManualRunner(t *testing.T, task Task, opts ...Option) (*Runner, *manualTicker, *logtest.Hook) {
	t.Helper()

	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	runner, err := New("test", time.Minute, task, append(opts, WithLogger(logrus.NewEntry(logger)))...)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	ticker := &manualTicker{ch: make(chan time.Time)}
	runner.newTicker = func(time.Duration) (<-chan time.Time, func()) {
		return ticker.ch, func() { ticker.stopped.Store(true) }
	}

	return runner, ticker, hook
}

func TestRunnerRunsTaskOnEveryTick(t *testing.T) {
	var calls atomic.Int32
	runner, ticker, _ := newManualRunner(t, func(context.Context) error {
		calls.Add(1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()

	ticker.ch <- time.Now()
	ticker.ch <- time.Now()
	// The unbuffered channel only accepts the third tick once the second pass
	// has returned.
	ticker.ch <- time.Now()

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if got := calls.Load(); got < 2 || got > 3 {
		t.Fatalf("expected 2 or 3 passes, got %d", got)
	}
	if !ticker.stopped.Load() {
		t.Fatalf("expected ticker to be stopped")
	}
}

func TestRunnerRunAtStart(t *testing.T) {
	ran := make(chan struct{}, 1)
	runner, _, _ := newManualRunner(t, func(context.Context) error {
		ran <- struct{}{}
		return nil
	}, WithRunAtStart())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = runner.Run(ctx) }()

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected an immediate pass")
	}
}

func TestRunnerLogsFailedPassAndContinues(t *testing.T) {
	var calls atomic.Int32
	runner, ticker, hook := newManualRunner(t, func(context.Context) error {
		calls.Add(1)
		return errors.New("mongo unreachable")
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()

	ticker.ch <- time.Now()
	ticker.ch <- time.Now()
	ticker.ch <- time.Now()
	cancel()
	<-done

	if calls.Load() < 2 {
		t.Fatalf("expected loop to continue after failure, got %d passes", calls.Load())
	}

	failures := 0
	for _, entry := range hook.AllEntries() {
		if entry.Data["event"] == "scheduler_pass_failed" {
			failures++
			if entry.Data["task"] != "test" {
				t.Fatalf("expected task field, got %v", entry.Data["task"])
			}
		}
	}
	if failures < 2 {
		t.Fatalf("expected failed passes to be logged, got %d", failures)
	}
}

func TestNewValidatesArguments(t *testing.T) {
	if _, err := New("x", 0, func(context.Context) error { return nil }); err == nil {
		t.Fatalf("expected error for zero interval")
	}
	if _, err := New("x", time.Second, nil); err == nil {
		t.Fatalf("expected error for nil task")
	}
}
