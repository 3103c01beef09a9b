// Package lifecycle applies platform events and admin decisions to the group
// state machine and decides which notifications follow.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"groupdirectory_bot/internal/domain"
	"groupdirectory_bot/internal/feature/invitelink"
	"groupdirectory_bot/internal/feature/notify"
	"groupdirectory_bot/internal/gateway"
	"groupdirectory_bot/internal/logging"
	"groupdirectory_bot/internal/metrics"
)

// Store is the subset of the group repository the engine uses.
type Store interface {
	FindByID(ctx context.Context, groupID int64) (domain.Group, error)
	Create(ctx context.Context, group domain.Group) (domain.Group, error)
	Mutate(ctx context.Context, groupID int64, fn func(domain.Group) (domain.Group, bool)) (domain.Group, bool, error)
	DeleteInState(ctx context.Context, groupID int64, state domain.State) (bool, error)
}

// Notifier delivers the engine's user-visible side effects.
type Notifier interface {
	ApprovalPrompt(ctx context.Context, group domain.Group, chat gateway.ChatInfo) error
	Blacklisted(ctx context.Context, groupID int64) error
	Approved(ctx context.Context, groupID int64) error
	Declined(ctx context.Context, groupID int64) error
	DecisionApplied(ctx context.Context, ref gateway.MessageRef, action domain.Action) error
	Answer(ctx context.Context, callbackID, text string) error
}

// Links computes invite links for a group.
type Links interface {
	Ensure(ctx context.Context, groupID int64) (invitelink.Outcome, error)
	RefreshGroup(ctx context.Context, groupID int64) (invitelink.Outcome, error)
}

// Admins is the decision allow-list.
type Admins interface {
	Contains(userID int64) bool
}

// JoinEvent reports that the bot was added to a chat.
type JoinEvent struct {
	ChatID int64
	Title  string
	Handle string
}

// Decision is an admin's callback on an approval prompt.
type Decision struct {
	CallbackID string
	UserID     int64
	Action     domain.Action
	Prompt     gateway.MessageRef
}

// PermissionChange reports the bot's administrator status before and after a
// membership update.
type PermissionChange struct {
	ChatID   int64
	WasAdmin bool
	IsAdmin  bool
}

// Engine runs the group lifecycle.
type Engine struct {
	store    Store
	notifier Notifier
	links    Links
	admins   Admins
	metrics  *metrics.Metrics
	logger   *logrus.Entry

	answerTimeout time.Duration
}

const defaultAnswerTimeout = 10 * time.Second

// Option configures an Engine.
type Option func(*Engine)

// WithMetrics records lifecycle events.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger overrides the engine logger.
func WithLogger(logger *logrus.Entry) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEngine constructs an Engine. A nil admins value lets every user decide.
func NewEngine(store Store, notifier Notifier, links Links, admins Admins, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		notifier: notifier,
		links:    links,
		admins:   admins,
		logger:   logging.Logger(),

		answerTimeout: defaultAnswerTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// HandleBotAdded creates a pending row for an unknown chat and prompts the
// admins, warns and leaves a rejected chat, and ignores a known chat.
func (e *Engine) HandleBotAdded(ctx context.Context, event JoinEvent) error {
	if event.ChatID == 0 {
		return errors.New("chat id is required")
	}
	logger := e.logger.WithField("group_id", event.ChatID)

	existing, err := e.store.FindByID(ctx, event.ChatID)
	switch {
	case err == nil && existing.Deleted():
		e.record("join", "blacklisted")
		logger.WithField("event", "group_blacklisted_rejoin").Warn("rejected group added the bot again")
		_ = e.notifier.Blacklisted(ctx, event.ChatID)
		return nil
	case err == nil:
		e.record("join", "noop")
		logger.WithField("event", "group_rejoined").Info("known group added the bot again")
		return nil
	case !errors.Is(err, domain.ErrGroupNotFound):
		e.record("join", "error")
		return fmt.Errorf("load group %d: %w", event.ChatID, err)
	}

	created, err := e.store.Create(ctx, domain.Group{
		GroupID: event.ChatID,
		Name:    strings.TrimSpace(event.Title),
		State:   domain.StatePending,
	})
	if errors.Is(err, domain.ErrGroupExists) {
		e.record("join", "noop")
		return nil
	}
	if err != nil {
		e.record("join", "error")
		return fmt.Errorf("create group %d: %w", event.ChatID, err)
	}

	e.record("join", "created")
	logger.WithFields(logging.Fields{
		"event": "group_registered",
		"name":  created.Name,
	}).Info("group registered as pending")

	_ = e.notifier.ApprovalPrompt(ctx, created, gateway.ChatInfo{
		ID:           event.ChatID,
		Title:        created.Name,
		PublicHandle: event.Handle,
	})
	return nil
}

// HandleDecision applies an admin decision. The callback is always answered,
// whatever the outcome. Store failures are returned after answering.
func (e *Engine) HandleDecision(ctx context.Context, decision Decision) error {
	logger := e.logger.WithFields(logging.Fields{
		"group_id": decision.Action.GroupID,
		"user_id":  decision.UserID,
		"action":   decision.Action.Kind.String(),
	})

	if e.admins != nil && !e.admins.Contains(decision.UserID) {
		e.record(decision.Action.Kind.String(), "forbidden")
		logger.WithField("event", "decision_forbidden").Warn("decision from user outside allow-list")
		e.answer(ctx, decision.CallbackID, notify.TextAnswerForbidden, logger)
		return nil
	}

	var (
		answer string
		err    error
	)
	switch decision.Action.Kind {
	case domain.ActionAccept:
		answer, err = e.accept(ctx, decision, logger)
	case domain.ActionDecline:
		answer, err = e.decline(ctx, decision, logger)
	case domain.ActionRelease:
		answer, err = e.release(ctx, decision, logger)
	default:
		answer = notify.TextAnswerNoop
	}

	e.answer(ctx, decision.CallbackID, answer, logger)
	return err
}

// answer closes the callback on its own deadline, so a decision that used up
// the job context is still acknowledged.
func (e *Engine) answer(ctx context.Context, callbackID, text string, logger *logrus.Entry) {
	answerCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.answerTimeout)
	defer cancel()

	if err := e.notifier.Answer(answerCtx, callbackID, text); err != nil {
		logger.WithField("event", "callback_answer_failed").WithError(err).Warn("failed to answer callback")
	}
}

func (e *Engine) accept(ctx context.Context, decision Decision, logger *logrus.Entry) (string, error) {
	groupID := decision.Action.GroupID

	_, changed, err := e.store.Mutate(ctx, groupID, domain.Group.Accept)
	if answer, handled, err := e.storeFailure("accept", err, logger); handled {
		return answer, err
	}

	_ = e.notifier.DecisionApplied(ctx, decision.Prompt, decision.Action)
	if !changed {
		e.record("accept", "noop")
		return notify.TextAnswerAccepted, nil
	}

	e.record("accept", "changed")
	logger.WithField("event", "group_accepted").Info("group accepted")

	_ = e.notifier.Approved(ctx, groupID)
	if e.links != nil {
		// Link failures leave the row for the reconciler.
		_, _ = e.links.Ensure(ctx, groupID)
	}

	return notify.TextAnswerAccepted, nil
}

func (e *Engine) decline(ctx context.Context, decision Decision, logger *logrus.Entry) (string, error) {
	groupID := decision.Action.GroupID

	_, changed, err := e.store.Mutate(ctx, groupID, domain.Group.Decline)
	if answer, handled, err := e.storeFailure("decline", err, logger); handled {
		return answer, err
	}

	_ = e.notifier.DecisionApplied(ctx, decision.Prompt, decision.Action)
	if !changed {
		e.record("decline", "noop")
		return notify.TextAnswerDeclined, nil
	}

	e.record("decline", "changed")
	logger.WithField("event", "group_declined").Info("group declined")

	_ = e.notifier.Declined(ctx, groupID)
	return notify.TextAnswerDeclined, nil
}

func (e *Engine) release(ctx context.Context, decision Decision, logger *logrus.Entry) (string, error) {
	groupID := decision.Action.GroupID

	deleted, err := e.store.DeleteInState(ctx, groupID, domain.StateRejected)
	if err != nil {
		e.record("release", "error")
		logger.WithField("event", "decision_failed").WithError(err).Error("release failed")
		return notify.TextAnswerFailed, fmt.Errorf("release group %d: %w", groupID, err)
	}

	if deleted {
		e.record("release", "changed")
		logger.WithField("event", "group_released").Info("group released")
		_ = e.notifier.DecisionApplied(ctx, decision.Prompt, decision.Action)
		return notify.TextAnswerReleased, nil
	}

	// Nothing was deleted: either the row is gone already or it left the
	// rejected state before the release landed.
	current, err := e.store.FindByID(ctx, groupID)
	switch {
	case errors.Is(err, domain.ErrGroupNotFound):
		e.record("release", "noop")
		_ = e.notifier.DecisionApplied(ctx, decision.Prompt, decision.Action)
		return notify.TextAnswerReleased, nil
	case err != nil:
		e.record("release", "error")
		return notify.TextAnswerFailed, fmt.Errorf("load group %d: %w", groupID, err)
	}

	e.record("release", "noop")
	logger.WithFields(logging.Fields{
		"event": "release_skipped",
		"state": string(current.State),
	}).Info("release ignored for group that is not rejected")
	if current.Active() {
		_ = e.notifier.DecisionApplied(ctx, decision.Prompt, domain.AcceptAction(groupID))
	}
	return notify.TextAnswerNotRejected, nil
}

// storeFailure maps a Mutate error to the callback answer. handled is false
// when err is nil.
func (e *Engine) storeFailure(event string, err error, logger *logrus.Entry) (string, bool, error) {
	switch {
	case err == nil:
		return "", false, nil
	case errors.Is(err, domain.ErrGroupNotFound):
		e.record(event, "not_found")
		logger.WithField("event", "decision_group_missing").Info("decision for unknown group")
		return notify.TextAnswerNotFound, true, nil
	default:
		e.record(event, "error")
		logger.WithField("event", "decision_failed").WithError(err).Error("decision failed")
		return notify.TextAnswerFailed, true, fmt.Errorf("%s group: %w", event, err)
	}
}

// HandlePermissionChange records the bot's admin status. Gaining admin rights
// in a group that is not rejected triggers a link refresh.
func (e *Engine) HandlePermissionChange(ctx context.Context, change PermissionChange) error {
	if change.WasAdmin == change.IsAdmin {
		return nil
	}

	event := "demoted"
	if change.IsAdmin {
		event = "promoted"
	}
	logger := e.logger.WithFields(logging.Fields{
		"group_id": change.ChatID,
		"change":   event,
	})

	group, changed, err := e.store.Mutate(ctx, change.ChatID, func(g domain.Group) (domain.Group, bool) {
		return g.WithAdmin(change.IsAdmin)
	})
	if errors.Is(err, domain.ErrGroupNotFound) {
		e.record(event, "not_found")
		logger.WithField("event", "permission_change_unknown_group").Info("permission change for unknown group")
		return nil
	}
	if err != nil {
		e.record(event, "error")
		return fmt.Errorf("record admin status for %d: %w", change.ChatID, err)
	}

	result := "noop"
	if changed {
		result = "changed"
	}
	e.record(event, result)
	logger.WithField("event", "bot_admin_status_changed").Info("bot admin status recorded")

	if change.IsAdmin && !group.Deleted() && e.links != nil {
		_, _ = e.links.RefreshGroup(ctx, change.ChatID)
	}
	return nil
}

func (e *Engine) record(event, result string) {
	e.metrics.LifecycleEvent(event, result)
}
