// Package notify turns directory lifecycle events into outbound messages. It
// owns every user-visible text and keyboard; delivery goes through the
// messaging gateway.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"groupdirectory_bot/internal/domain"
	"groupdirectory_bot/internal/gateway"
	"groupdirectory_bot/internal/logging"
)

// User-visible texts.
const (
	TextApprovalPrompt    = "New group requests listing: %s (%d)"
	TextBlacklisted       = "Uh oh, this group is already known and there is a problem. Please contact the directory admins. Your group id is %d."
	TextApproved          = "Thanks, your group was accepted and is now listed in the directory."
	TextDeclined          = "Sorry, your group was declined."
	TextAdminRequired     = "By the way, I need to be an admin in this group to work properly."
	TextLinkNeedsAdmin    = "I need admin rights to create a link for this group."
	TextLinkUpdated       = "✅"
	TextLinkFailed        = "❌"
	TextReleasePrompt     = "Which group do you want to release?"
	TextNothingToRelease  = "There are no declined groups."
	TextAnswerAccepted    = "Group accepted"
	TextAnswerDeclined    = "Group declined"
	TextAnswerReleased    = "Group released"
	TextAnswerNoop        = "No action taken"
	TextAnswerNotFound    = "Group not found"
	TextAnswerNotRejected = "Group is not declined"
	TextAnswerForbidden   = "Not allowed"
	TextAnswerFailed      = "Action failed, please retry"
	TextAnswerInvalid     = "Unknown action"

	ButtonAccept         = "Accept"
	ButtonDecline        = "Decline"
	ButtonAcceptedUndo   = "Accepted, decline?"
	ButtonDeclinedUndo   = "Declined, release?"
	ButtonReleasedMarker = "Released"
)

// PromptKeyboard offers the initial decision for a newly joined group.
func PromptKeyboard(groupID int64) gateway.Keyboard {
	return gateway.Row(
		gateway.Button{Text: ButtonAccept, Data: domain.AcceptAction(groupID).Encode()},
		gateway.Button{Text: ButtonDecline, Data: domain.DeclineAction(groupID).Encode()},
	)
}

// KeyboardAfter returns the control shown on the admin prompt once action has
// been applied to groupID.
func KeyboardAfter(kind domain.ActionKind, groupID int64) (gateway.Keyboard, bool) {
	switch kind {
	case domain.ActionAccept:
		return gateway.Row(gateway.Button{Text: ButtonAcceptedUndo, Data: domain.DeclineAction(groupID).Encode()}), true
	case domain.ActionDecline:
		return gateway.Row(gateway.Button{Text: ButtonDeclinedUndo, Data: domain.ReleaseAction(groupID).Encode()}), true
	case domain.ActionRelease:
		return gateway.Row(gateway.Button{Text: ButtonReleasedMarker, Data: domain.NoopAction().Encode()}), true
	default:
		return nil, false
	}
}

// ReleaseKeyboard lists rejected groups, one release button per row.
func ReleaseKeyboard(groups []domain.Group) gateway.Keyboard {
	keyboard := make(gateway.Keyboard, 0, len(groups))
	for _, group := range groups {
		label := strings.TrimSpace(group.Name)
		if label == "" {
			label = fmt.Sprintf("%d", group.GroupID)
		}
		keyboard = append(keyboard, []gateway.Button{{Text: label, Data: domain.ReleaseAction(group.GroupID).Encode()}})
	}
	return keyboard
}

// Dispatcher sends lifecycle notifications through the gateway. Every method
// returns the gateway error wrapped with gateway.ErrUnavailable; callers decide
// whether a failure matters.
type Dispatcher struct {
	gw          gateway.Gateway
	adminChatID int64
	logger      *logrus.Entry
}

// NewDispatcher constructs a Dispatcher that routes admin traffic to adminChatID.
func NewDispatcher(gw gateway.Gateway, adminChatID int64, logger *logrus.Entry) *Dispatcher {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Dispatcher{
		gw:          gw,
		adminChatID: adminChatID,
		logger:      logger,
	}
}

// AdminChatID returns the chat receiving approval prompts.
func (d *Dispatcher) AdminChatID() int64 {
	return d.adminChatID
}

// ApprovalPrompt asks the admins to accept or decline group.
func (d *Dispatcher) ApprovalPrompt(ctx context.Context, group domain.Group, chat gateway.ChatInfo) error {
	text := fmt.Sprintf(TextApprovalPrompt, group.Name, group.GroupID)
	if chat.Public() {
		text += " - " + gateway.PublicLink(chat.PublicHandle)
	}

	return d.send(ctx, "approval_prompt", gateway.Message{
		ChatID:         d.adminChatID,
		Text:           text,
		Keyboard:       PromptKeyboard(group.GroupID),
		DisablePreview: true,
	})
}

// Blacklisted warns a rejected group that rejoined, then leaves it.
func (d *Dispatcher) Blacklisted(ctx context.Context, groupID int64) error {
	sendErr := d.send(ctx, "blacklist_warning", gateway.Message{
		ChatID: groupID,
		Text:   fmt.Sprintf(TextBlacklisted, groupID),
	})
	leaveErr := d.leave(ctx, groupID)
	return errors.Join(sendErr, leaveErr)
}

// Approved tells the group it is listed.
func (d *Dispatcher) Approved(ctx context.Context, groupID int64) error {
	return d.send(ctx, "group_approved", gateway.Message{ChatID: groupID, Text: TextApproved})
}

// Declined tells the group it was declined, then leaves it.
func (d *Dispatcher) Declined(ctx context.Context, groupID int64) error {
	sendErr := d.send(ctx, "group_declined", gateway.Message{ChatID: groupID, Text: TextDeclined})
	leaveErr := d.leave(ctx, groupID)
	return errors.Join(sendErr, leaveErr)
}

// AdminRightsRequired asks the group to promote the bot.
func (d *Dispatcher) AdminRightsRequired(ctx context.Context, groupID int64) error {
	return d.send(ctx, "admin_rights_required", gateway.Message{ChatID: groupID, Text: TextAdminRequired})
}

// LinkResult reports the outcome of an explicit link refresh to chatID.
func (d *Dispatcher) LinkResult(ctx context.Context, chatID int64, text string) error {
	return d.send(ctx, "link_result", gateway.Message{ChatID: chatID, Text: text})
}

// ReleaseList sends the rejected groups to the admin chat as release buttons.
func (d *Dispatcher) ReleaseList(ctx context.Context, groups []domain.Group) error {
	if len(groups) == 0 {
		return d.send(ctx, "release_list", gateway.Message{ChatID: d.adminChatID, Text: TextNothingToRelease})
	}

	return d.send(ctx, "release_list", gateway.Message{
		ChatID:   d.adminChatID,
		Text:     TextReleasePrompt,
		Keyboard: ReleaseKeyboard(groups),
	})
}

// DecisionApplied swaps the admin prompt's keyboard for the follow-up control.
func (d *Dispatcher) DecisionApplied(ctx context.Context, ref gateway.MessageRef, action domain.Action) error {
	keyboard, ok := KeyboardAfter(action.Kind, action.GroupID)
	if !ok || ref.MessageID == 0 {
		return nil
	}

	if err := d.gw.EditKeyboard(ctx, ref, keyboard); err != nil {
		d.logger.WithFields(logging.Fields{
			"event":    "notify_edit_failed",
			"chat_id":  ref.ChatID,
			"group_id": action.GroupID,
		}).WithError(err).Warn("failed to update admin prompt")
		return fmt.Errorf("edit keyboard: %w: %w", gateway.ErrUnavailable, err)
	}

	return nil
}

// Answer closes a pending callback with text.
func (d *Dispatcher) Answer(ctx context.Context, callbackID, text string) error {
	if strings.TrimSpace(callbackID) == "" {
		return nil
	}

	if err := d.gw.AnswerCallback(ctx, callbackID, text); err != nil {
		d.logger.WithFields(logging.Fields{
			"event":       "notify_answer_failed",
			"callback_id": callbackID,
		}).WithError(err).Warn("failed to answer callback")
		return fmt.Errorf("answer callback: %w: %w", gateway.ErrUnavailable, err)
	}

	return nil
}

// Send delivers an arbitrary message, used by commands replying in place.
func (d *Dispatcher) Send(ctx context.Context, msg gateway.Message) error {
	return d.send(ctx, "reply", msg)
}

func (d *Dispatcher) send(ctx context.Context, event string, msg gateway.Message) error {
	if err := d.gw.SendMessage(ctx, msg); err != nil {
		d.logger.WithFields(logging.Fields{
			"event":   "notify_send_failed",
			"kind":    event,
			"chat_id": msg.ChatID,
		}).WithError(err).Warn("failed to send notification")
		return fmt.Errorf("send %s: %w: %w", event, gateway.ErrUnavailable, err)
	}

	d.logger.WithFields(logging.Fields{
		"event":   "notify_sent",
		"kind":    event,
		"chat_id": msg.ChatID,
	}).Debug("notification sent")

	return nil
}

func (d *Dispatcher) leave(ctx context.Context, chatID int64) error {
	if err := d.gw.LeaveChat(ctx, chatID); err != nil {
		d.logger.WithFields(logging.Fields{
			"event":   "notify_leave_failed",
			"chat_id": chatID,
		}).WithError(err).Warn("failed to leave chat")
		return fmt.Errorf("leave chat: %w: %w", gateway.ErrUnavailable, err)
	}

	d.logger.WithFields(logging.Fields{
		"event":   "chat_left",
		"chat_id": chatID,
	}).Info("left chat")

	return nil
}
