// Package invitelink keeps every listed group's invite link populated.
package invitelink

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"groupdirectory_bot/internal/domain"
	"groupdirectory_bot/internal/gateway"
	"groupdirectory_bot/internal/logging"
	"groupdirectory_bot/internal/metrics"
	"groupdirectory_bot/internal/store"
	"groupdirectory_bot/internal/throttle"
)

// DefaultReminderCooldown bounds how often a group is asked for admin rights.
const DefaultReminderCooldown = 24 * time.Hour

const reminderKeyPrefix = "admin_reminder:"

// Outcome describes what a refresh did for one group.
type Outcome int

const (
	OutcomeFailed Outcome = iota
	OutcomeExported
	OutcomePublic
	OutcomeNeedsAdmin
)

func (o Outcome) String() string {
	switch o {
	case OutcomeExported:
		return "exported"
	case OutcomePublic:
		return "public"
	case OutcomeNeedsAdmin:
		return "needs_admin"
	default:
		return "failed"
	}
}

// HasLink reports whether the outcome stored a link.
func (o Outcome) HasLink() bool {
	return o == OutcomeExported || o == OutcomePublic
}

// Store is the subset of the group repository the reconciler uses.
type Store interface {
	FindMissingLink(ctx context.Context) ([]domain.Group, error)
	FindAll(ctx context.Context) ([]domain.Group, error)
	Mutate(ctx context.Context, groupID int64, fn func(domain.Group) (domain.Group, bool)) (domain.Group, bool, error)
}

// Notifier asks a group to grant the bot admin rights.
type Notifier interface {
	AdminRightsRequired(ctx context.Context, groupID int64) error
}

// StatsSource reports stored group counts for the groups gauge.
type StatsSource interface {
	GroupStats(ctx context.Context) (store.GroupStats, error)
}

// Report summarizes one reconciliation pass.
type Report struct {
	Checked    int
	Updated    int
	NeedsAdmin int
	Failed     int
}

// Options carries the reconciler's optional collaborators.
type Options struct {
	Limiter  throttle.Limiter
	Cooldown time.Duration
	Stats    StatsSource
	Metrics  *metrics.Metrics
	Logger   *logrus.Entry
}

// Reconciler computes invite links from the bot's current permissions.
type Reconciler struct {
	store    Store
	gw       gateway.Gateway
	notifier Notifier
	limiter  throttle.Limiter
	cooldown time.Duration
	stats    StatsSource
	metrics  *metrics.Metrics
	logger   *logrus.Entry
	now      func() time.Time
}

// New constructs a Reconciler. A nil limiter falls back to an in-memory one.
func New(groups Store, gw gateway.Gateway, notifier Notifier, opts Options) *Reconciler {
	if opts.Limiter == nil {
		opts.Limiter = throttle.NewMemoryLimiter()
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultReminderCooldown
	}
	if opts.Logger == nil {
		opts.Logger = logging.Logger()
	}

	return &Reconciler{
		store:    groups,
		gw:       gw,
		notifier: notifier,
		limiter:  opts.Limiter,
		cooldown: opts.Cooldown,
		stats:    opts.Stats,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		now:      func() time.Time { return time.Now().UTC().Truncate(time.Millisecond) },
	}
}

// RefreshGroup recomputes the link for groupID and persists the result along
// with the bot's admin status. An existing link is kept when no new one can be
// derived.
func (r *Reconciler) RefreshGroup(ctx context.Context, groupID int64) (Outcome, error) {
	member, err := r.gw.GetChatMember(ctx, groupID, r.gw.Self())
	if err != nil {
		return r.fail(groupID, fmt.Errorf("get bot membership: %w: %w", gateway.ErrUnavailable, err))
	}

	var (
		link    string
		outcome = OutcomeNeedsAdmin
	)

	if member.IsAdmin {
		link, err = r.gw.CreateInviteLink(ctx, groupID)
		if err != nil {
			return r.fail(groupID, fmt.Errorf("export invite link: %w: %w", gateway.ErrUnavailable, err))
		}
		outcome = OutcomeExported
	} else {
		chat, err := r.gw.GetChat(ctx, groupID)
		if err != nil {
			return r.fail(groupID, fmt.Errorf("get chat: %w: %w", gateway.ErrUnavailable, err))
		}
		if chat.Public() {
			link = gateway.PublicLink(chat.PublicHandle)
			outcome = OutcomePublic
		}
	}

	checkedAt := r.now()
	_, _, err = r.store.Mutate(ctx, groupID, func(g domain.Group) (domain.Group, bool) {
		if link != "" {
			g.InviteLink = link
		}
		g.IsAdmin = member.IsAdmin
		g.LastInviteCheck = checkedAt
		return g, true
	})
	if err != nil {
		return r.fail(groupID, fmt.Errorf("store invite link: %w", err))
	}

	r.metrics.LinkCheck(outcome.String())
	r.logger.WithFields(logging.Fields{
		"event":    "invite_link_refreshed",
		"group_id": groupID,
		"outcome":  outcome.String(),
	}).Info("invite link refreshed")

	return outcome, nil
}

// Ensure refreshes the link for groupID and, when the bot can neither export
// a link nor derive a public one, asks the group for admin rights at most once
// per cooldown.
func (r *Reconciler) Ensure(ctx context.Context, groupID int64) (Outcome, error) {
	outcome, err := r.RefreshGroup(ctx, groupID)
	if err != nil {
		return outcome, err
	}

	if outcome == OutcomeNeedsAdmin {
		r.remind(ctx, groupID)
	}

	return outcome, nil
}

// Reconcile processes every active group without a link. A failure for one
// group is logged and counted; the pass stops early only when ctx ends, and
// every group handled before that keeps its committed update.
func (r *Reconciler) Reconcile(ctx context.Context) (Report, error) {
	groups, err := r.store.FindMissingLink(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("list groups missing link: %w", err)
	}

	report, err := r.run(ctx, groups, r.Ensure)
	r.refreshGauges(ctx)

	r.logger.WithFields(logging.Fields{
		"event":       "invite_link_reconciled",
		"checked":     report.Checked,
		"updated":     report.Updated,
		"needs_admin": report.NeedsAdmin,
		"failed":      report.Failed,
	}).Info("invite link reconciliation finished")

	return report, err
}

// ForceRefresh recomputes links for every group that is not rejected, without
// sending reminders.
func (r *Reconciler) ForceRefresh(ctx context.Context) (Report, error) {
	all, err := r.store.FindAll(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("list groups: %w", err)
	}

	groups := make([]domain.Group, 0, len(all))
	for _, group := range all {
		if !group.Deleted() {
			groups = append(groups, group)
		}
	}

	report, err := r.run(ctx, groups, r.RefreshGroup)

	r.logger.WithFields(logging.Fields{
		"event":       "invite_link_force_refreshed",
		"checked":     report.Checked,
		"updated":     report.Updated,
		"needs_admin": report.NeedsAdmin,
		"failed":      report.Failed,
	}).Info("forced invite link refresh finished")

	return report, err
}

func (r *Reconciler) run(ctx context.Context, groups []domain.Group, refresh func(context.Context, int64) (Outcome, error)) (Report, error) {
	var report Report

	for _, group := range groups {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		report.Checked++
		outcome, err := refresh(ctx, group.GroupID)
		switch {
		case err != nil:
			report.Failed++
		case outcome.HasLink():
			report.Updated++
		case outcome == OutcomeNeedsAdmin:
			report.NeedsAdmin++
		}
	}

	return report, nil
}

func (r *Reconciler) remind(ctx context.Context, groupID int64) {
	if r.notifier == nil {
		return
	}

	key := reminderKeyPrefix + strconv.FormatInt(groupID, 10)
	allowed, err := r.limiter.Allow(ctx, key, r.cooldown)
	if err != nil {
		r.logger.WithFields(logging.Fields{
			"event":    "admin_reminder_throttle_failed",
			"group_id": groupID,
		}).WithError(err).Warn("reminder throttle unavailable")
		return
	}
	if !allowed {
		r.logger.WithFields(logging.Fields{
			"event":    "admin_reminder_suppressed",
			"group_id": groupID,
		}).Debug("admin reminder suppressed")
		return
	}

	if err := r.notifier.AdminRightsRequired(ctx, groupID); err != nil {
		// Let the next pass try again instead of waiting out the cooldown.
		if resetErr := r.limiter.Reset(ctx, key); resetErr != nil {
			err = errors.Join(err, resetErr)
		}
		r.logger.WithFields(logging.Fields{
			"event":    "admin_reminder_failed",
			"group_id": groupID,
		}).WithError(err).Warn("failed to send admin reminder")
	}
}

func (r *Reconciler) refreshGauges(ctx context.Context) {
	if r.stats == nil || r.metrics == nil || ctx.Err() != nil {
		return
	}

	stats, err := r.stats.GroupStats(ctx)
	if err != nil {
		r.logger.WithField("event", "group_stats_failed").WithError(err).Warn("failed to count groups")
		return
	}

	r.metrics.SetGroups(string(domain.StatePending), stats.Pending)
	r.metrics.SetGroups(string(domain.StateActive), stats.Active)
	r.metrics.SetGroups(string(domain.StateRejected), stats.Rejected)
}

func (r *Reconciler) fail(groupID int64, err error) (Outcome, error) {
	r.metrics.LinkCheck(OutcomeFailed.String())
	r.logger.WithFields(logging.Fields{
		"event":    "invite_link_refresh_failed",
		"group_id": groupID,
	}).WithError(err).Warn("invite link refresh failed")
	return OutcomeFailed, err
}
