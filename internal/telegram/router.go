package telegram

import (
	"context"
	"strings"
	"time"

	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"groupdirectory_bot/internal/dispatch"
	"groupdirectory_bot/internal/domain"
	"groupdirectory_bot/internal/feature/command"
	"groupdirectory_bot/internal/feature/lifecycle"
	"groupdirectory_bot/internal/feature/notify"
	"groupdirectory_bot/internal/gateway"
	"groupdirectory_bot/internal/logging"
)

// Job kinds submitted by the router.
const (
	JobBotAdded         = "bot_added"
	JobDecision         = "decision"
	JobPermissionChange = "permission_change"
	JobCommand          = "command"
)

// callbackAnswerTimeout bounds the answer sent when a decision cannot be queued.
const callbackAnswerTimeout = 5 * time.Second

// Submitter queues work for the dispatch pool.
type Submitter interface {
	Submit(ctx context.Context, job dispatch.Job) error
}

// Lifecycle handles group lifecycle events.
type Lifecycle interface {
	HandleBotAdded(ctx context.Context, event lifecycle.JoinEvent) error
	HandleDecision(ctx context.Context, decision lifecycle.Decision) error
	HandlePermissionChange(ctx context.Context, change lifecycle.PermissionChange) error
}

// Commands handles slash commands.
type Commands interface {
	Handle(ctx context.Context, inv command.Invocation) error
}

// Answerer closes callbacks the router rejects itself.
type Answerer interface {
	Answer(ctx context.Context, callbackID, text string) error
}

// RouterDeps groups the router's collaborators.
type RouterDeps struct {
	Submitter Submitter
	Lifecycle Lifecycle
	Commands  Commands
	Answerer  Answerer
	BotID     int64
	Username  string
	Logger    *logrus.Entry
}

// Router turns Telegram updates into dispatch jobs keyed by group id, so
// events for one group are applied in arrival order.
type Router struct {
	deps   RouterDeps
	logger *logrus.Entry
}

// NewRouter constructs a Router.
func NewRouter(deps RouterDeps) *Router {
	logger := deps.Logger
	if logger == nil {
		logger = logging.Logger()
	}
	deps.Username = strings.TrimPrefix(strings.TrimSpace(deps.Username), "@")

	return &Router{deps: deps, logger: logger}
}

// HandleUpdate implements UpdateHandler.
func (r *Router) HandleUpdate(ctx context.Context, update *models.Update) {
	if update == nil {
		return
	}

	switch {
	case update.Message != nil:
		r.routeMessage(ctx, update.Message)
	case update.CallbackQuery != nil:
		r.routeCallback(ctx, update.CallbackQuery)
	case update.MyChatMember != nil:
		r.routeMembership(ctx, update.MyChatMember)
	}
}

func (r *Router) routeMessage(ctx context.Context, msg *models.Message) {
	for _, member := range msg.NewChatMembers {
		if member.ID != r.deps.BotID {
			continue
		}
		event := lifecycle.JoinEvent{
			ChatID: msg.Chat.ID,
			Title:  msg.Chat.Title,
			Handle: msg.Chat.Username,
		}
		r.submit(ctx, dispatch.Job{
			Key:  event.ChatID,
			Kind: JobBotAdded,
			Run: func(ctx context.Context) error {
				return r.deps.Lifecycle.HandleBotAdded(ctx, event)
			},
		})
		return
	}

	name, argument, ok := r.parseCommand(msg.Text)
	if !ok || r.deps.Commands == nil {
		return
	}

	inv := command.Invocation{
		Name:     name,
		ChatID:   msg.Chat.ID,
		UserID:   userID(msg.From),
		IsGroup:  isGroupChat(msg.Chat.Type),
		Argument: argument,
	}

	// Only /update_link writes a group row.
	var key int64
	if name == command.UpdateLink {
		key = inv.ChatID
	}

	r.submit(ctx, dispatch.Job{
		Key:  key,
		Kind: JobCommand,
		Run: func(ctx context.Context) error {
			return r.deps.Commands.Handle(ctx, inv)
		},
	})
}

func (r *Router) routeCallback(ctx context.Context, query *models.CallbackQuery) {
	action, err := domain.ParseAction(query.Data)
	if err != nil {
		r.logger.WithFields(logging.Fields{
			"event":   "callback_invalid",
			"user_id": query.From.ID,
			"data":    query.Data,
		}).WithError(err).Warn("invalid callback payload")
		if r.deps.Answerer != nil {
			_ = r.deps.Answerer.Answer(ctx, query.ID, notify.TextAnswerInvalid)
		}
		return
	}

	decision := lifecycle.Decision{
		CallbackID: query.ID,
		UserID:     query.From.ID,
		Action:     action,
		Prompt: gateway.MessageRef{
			ChatID:    messageChatID(query.Message),
			MessageID: messageID(query.Message),
		},
	}

	err = r.submit(ctx, dispatch.Job{
		Key:  action.GroupID,
		Kind: JobDecision,
		Run: func(ctx context.Context) error {
			return r.deps.Lifecycle.HandleDecision(ctx, decision)
		},
	})
	if err != nil && r.deps.Answerer != nil {
		answerCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), callbackAnswerTimeout)
		defer cancel()
		_ = r.deps.Answerer.Answer(answerCtx, query.ID, notify.TextAnswerFailed)
	}
}

func (r *Router) routeMembership(ctx context.Context, update *models.ChatMemberUpdated) {
	if !isGroupChat(update.Chat.Type) {
		return
	}

	oldType, newType := update.OldChatMember.Type, update.NewChatMember.Type
	if !isPresent(oldType) || !isPresent(newType) {
		// Joins arrive as new_chat_members messages; removals need no action.
		r.logger.WithFields(logging.Fields{
			"event":   "bot_membership_changed",
			"chat_id": update.Chat.ID,
			"old":     string(oldType),
			"new":     string(newType),
		}).Info("bot membership changed")
		return
	}

	change := lifecycle.PermissionChange{
		ChatID:   update.Chat.ID,
		WasAdmin: isAdminType(oldType),
		IsAdmin:  isAdminType(newType),
	}
	if change.WasAdmin == change.IsAdmin {
		return
	}

	r.submit(ctx, dispatch.Job{
		Key:  change.ChatID,
		Kind: JobPermissionChange,
		Run: func(ctx context.Context) error {
			return r.deps.Lifecycle.HandlePermissionChange(ctx, change)
		},
	})
}

// parseCommand extracts the command name from "/name@bot args". Commands
// addressed to another bot are ignored.
func (r *Router) parseCommand(text string) (string, string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}

	head, argument, _ := strings.Cut(text[1:], " ")
	name, target, addressed := strings.Cut(head, "@")
	if addressed && !strings.EqualFold(target, r.deps.Username) {
		return "", "", false
	}

	name = strings.ToLower(name)
	if !command.Known(name) {
		return "", "", false
	}

	return name, strings.TrimSpace(argument), true
}

func (r *Router) submit(ctx context.Context, job dispatch.Job) error {
	err := r.deps.Submitter.Submit(ctx, job)
	if err != nil {
		r.logger.WithFields(logging.Fields{
			"event": "dispatch_submit_failed",
			"kind":  job.Kind,
			"key":   job.Key,
		}).WithError(err).Error("failed to queue update")
	}
	return err
}

func isGroupChat(kind models.ChatType) bool {
	return kind == models.ChatTypeGroup || kind == models.ChatTypeSupergroup
}

func isPresent(kind models.ChatMemberType) bool {
	switch kind {
	case models.ChatMemberTypeOwner, models.ChatMemberTypeAdministrator,
		models.ChatMemberTypeMember, models.ChatMemberTypeRestricted:
		return true
	default:
		return false
	}
}
