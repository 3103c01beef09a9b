package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"groupdirectory_bot/internal/dispatch"
	"groupdirectory_bot/internal/gateway"
	"groupdirectory_bot/internal/logging"
	"groupdirectory_bot/internal/throttle"
)

const (
	TextJobFailed   = "⚠️ Update handler failed\nkind: %s\ngroup: %d\njob: %s\nerror: %s"
	TextJobPanicked = "🔥 Update handler panicked\nkind: %s\ngroup: %d\njob: %s\nerror: %s"

	defaultReportCooldown = 10 * time.Minute
	reportKeyPrefix       = "error_report:"
	maxReportedError      = 1000
)

// JobFailure tells chatID about a failed dispatch job.
func (d *Dispatcher) JobFailure(ctx context.Context, chatID int64, failure dispatch.Failure) error {
	format := TextJobFailed
	if failure.Panicked {
		format = TextJobPanicked
	}

	reason := "unknown"
	if failure.Err != nil {
		reason = truncate(failure.Err.Error(), maxReportedError)
	}

	return d.send(ctx, "job_failure", gateway.Message{
		ChatID:         chatID,
		Text:           fmt.Sprintf(format, failure.Kind, failure.Key, failure.JobID, reason),
		DisablePreview: true,
	})
}

// ErrorReporter forwards failed jobs to an operator chat, at most once per
// cooldown for each job kind and outcome.
type ErrorReporter struct {
	dispatcher *Dispatcher
	chatID     int64
	limiter    throttle.Limiter
	cooldown   time.Duration
	logger     *logrus.Entry
}

// NewErrorReporter constructs an ErrorReporter. A zero chatID disables
// reporting.
func NewErrorReporter(d *Dispatcher, chatID int64, limiter throttle.Limiter, cooldown time.Duration, logger *logrus.Entry) *ErrorReporter {
	if limiter == nil {
		limiter = throttle.NewMemoryLimiter()
	}
	if cooldown <= 0 {
		cooldown = defaultReportCooldown
	}
	if logger == nil {
		logger = logging.Logger()
	}

	return &ErrorReporter{
		dispatcher: d,
		chatID:     chatID,
		limiter:    limiter,
		cooldown:   cooldown,
		logger:     logger,
	}
}

// ReportFailure implements dispatch.Reporter.
func (r *ErrorReporter) ReportFailure(ctx context.Context, failure dispatch.Failure) {
	if r == nil || r.chatID == 0 || r.dispatcher == nil {
		return
	}

	status := "failed"
	if failure.Panicked {
		status = "panicked"
	}
	key := reportKeyPrefix + failure.Kind + ":" + status
	logger := logging.Enrich(r.logger, logging.Context{GroupID: failure.Key, JobID: failure.JobID}).
		WithField("kind", failure.Kind)

	allowed, err := r.limiter.Allow(ctx, key, r.cooldown)
	if err != nil {
		logger.WithField("event", "error_report_throttle_failed").WithError(err).Warn("error report throttle unavailable")
	}
	if !allowed {
		logger.WithField("event", "error_report_throttled").Debug("error report suppressed")
		return
	}

	if err := r.dispatcher.JobFailure(ctx, r.chatID, failure); err != nil {
		// Let the next failure try again.
		_ = r.limiter.Reset(ctx, key)
		return
	}

	logger.WithField("event", "error_reported").Info("job failure reported")
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "…"
}
