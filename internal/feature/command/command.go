// Package command answers the bot's slash commands.
package command

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"groupdirectory_bot/internal/domain"
	"groupdirectory_bot/internal/feature/invitelink"
	"groupdirectory_bot/internal/feature/notify"
	"groupdirectory_bot/internal/gateway"
	"groupdirectory_bot/internal/logging"
	"groupdirectory_bot/internal/store"
)

// Command names without the leading slash.
const (
	Start      = "start"
	Status     = "status"
	ID         = "id"
	GroupList  = "group_list"
	Release    = "release"
	UpdateLink = "update_link"
)

const (
	TextStart = "Hi, I maintain the group directory. Add me to your group and the directory admins " +
		"will review it for the list. If you have questions, please contact the directory admins."
	TextStatus         = "%s Online"
	TextStatusCounts   = "Groups: %d active, %d pending, %d declined"
	TextNotAdmin       = "This command is reserved for directory admins."
	TextNotRegistered  = "This group is not registered in the directory."
	TextGroupsOnly     = "This command only works in groups."
	TextListFailed     = "The directory is unavailable right now, please try again later."
	TextReleaseFailed  = "Could not load declined groups, please try again later."
	TextReleaseStarted = "The release list was sent to the admin chat."
)

// Invocation is a parsed slash command.
type Invocation struct {
	Name     string
	ChatID   int64
	UserID   int64
	IsGroup  bool
	Argument string
}

// Replier sends command replies and admin lists.
type Replier interface {
	Send(ctx context.Context, msg gateway.Message) error
	LinkResult(ctx context.Context, chatID int64, text string) error
	ReleaseList(ctx context.Context, groups []domain.Group) error
	AdminChatID() int64
}

// Store is the subset of the group repository commands read.
type Store interface {
	FindByID(ctx context.Context, groupID int64) (domain.Group, error)
	FindDeleted(ctx context.Context) ([]domain.Group, error)
}

// Directory renders the public group list.
type Directory interface {
	Messages(ctx context.Context) ([]string, error)
}

// Links refreshes one group's invite link.
type Links interface {
	RefreshGroup(ctx context.Context, groupID int64) (invitelink.Outcome, error)
}

// Stats reports group counts for /status.
type Stats interface {
	GroupStats(ctx context.Context) (store.GroupStats, error)
}

// Admins is the admin allow-list.
type Admins interface {
	Contains(userID int64) bool
}

// Deps groups the handler's collaborators.
type Deps struct {
	BotName   string
	Replier   Replier
	Store     Store
	Directory Directory
	Links     Links
	Stats     Stats
	Admins    Admins
	Logger    *logrus.Entry
}

// Handler dispatches slash commands.
type Handler struct {
	deps   Deps
	logger *logrus.Entry
}

// NewHandler constructs a Handler.
func NewHandler(deps Deps) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = logging.Logger()
	}
	return &Handler{deps: deps, logger: logger}
}

// Known reports whether name is a supported command.
func Known(name string) bool {
	switch name {
	case Start, Status, ID, GroupList, Release, UpdateLink:
		return true
	default:
		return false
	}
}

// Handle runs the command. Unknown commands are ignored.
func (h *Handler) Handle(ctx context.Context, inv Invocation) error {
	h.logger.WithFields(logging.Fields{
		"event":   "command_received",
		"command": inv.Name,
		"user_id": inv.UserID,
		"chat_id": inv.ChatID,
	}).Info("command received")

	switch inv.Name {
	case Start:
		return h.reply(ctx, gateway.Message{ChatID: inv.ChatID, Text: TextStart})
	case Status:
		return h.status(ctx, inv)
	case ID:
		return h.reply(ctx, gateway.Message{
			ChatID:    inv.ChatID,
			Text:      fmt.Sprintf("<pre>%d</pre>", inv.ChatID),
			ParseMode: gateway.ParseHTML,
		})
	case GroupList:
		return h.groupList(ctx, inv)
	case Release:
		return h.release(ctx, inv)
	case UpdateLink:
		return h.updateLink(ctx, inv)
	default:
		return nil
	}
}

func (h *Handler) status(ctx context.Context, inv Invocation) error {
	name := strings.TrimSpace(h.deps.BotName)
	text := fmt.Sprintf(TextStatus, name)

	if h.deps.Stats != nil && h.isAdmin(inv.UserID) {
		stats, err := h.deps.Stats.GroupStats(ctx)
		if err != nil {
			h.logger.WithField("event", "status_stats_failed").WithError(err).Warn("failed to count groups")
		} else {
			text += "\n" + fmt.Sprintf(TextStatusCounts, stats.Active, stats.Pending, stats.Rejected)
		}
	}

	return h.reply(ctx, gateway.Message{ChatID: inv.ChatID, Text: text})
}

func (h *Handler) groupList(ctx context.Context, inv Invocation) error {
	chunks, err := h.deps.Directory.Messages(ctx)
	if err != nil {
		_ = h.reply(ctx, gateway.Message{ChatID: inv.ChatID, Text: TextListFailed})
		return fmt.Errorf("render directory: %w", err)
	}

	for _, chunk := range chunks {
		err := h.reply(ctx, gateway.Message{
			ChatID:         inv.ChatID,
			Text:           chunk,
			ParseMode:      gateway.ParseMarkdown,
			DisablePreview: true,
		})
		if err != nil {
			return err
		}
	}

	return nil
}

func (h *Handler) release(ctx context.Context, inv Invocation) error {
	if !h.isAdmin(inv.UserID) {
		return h.reply(ctx, gateway.Message{ChatID: inv.ChatID, Text: TextNotAdmin})
	}

	groups, err := h.deps.Store.FindDeleted(ctx)
	if err != nil {
		_ = h.reply(ctx, gateway.Message{ChatID: inv.ChatID, Text: TextReleaseFailed})
		return fmt.Errorf("list declined groups: %w", err)
	}

	if err := h.deps.Replier.ReleaseList(ctx, groups); err != nil {
		return err
	}

	if inv.ChatID != h.deps.Replier.AdminChatID() {
		return h.reply(ctx, gateway.Message{ChatID: inv.ChatID, Text: TextReleaseStarted})
	}
	return nil
}

func (h *Handler) updateLink(ctx context.Context, inv Invocation) error {
	if !inv.IsGroup {
		return h.reply(ctx, gateway.Message{ChatID: inv.ChatID, Text: TextGroupsOnly})
	}

	if _, err := h.deps.Store.FindByID(ctx, inv.ChatID); err != nil {
		if errors.Is(err, domain.ErrGroupNotFound) {
			return h.deps.Replier.LinkResult(ctx, inv.ChatID, TextNotRegistered)
		}
		_ = h.deps.Replier.LinkResult(ctx, inv.ChatID, notify.TextLinkFailed)
		return fmt.Errorf("load group %d: %w", inv.ChatID, err)
	}

	outcome, err := h.deps.Links.RefreshGroup(ctx, inv.ChatID)
	switch {
	case err != nil:
		_ = h.deps.Replier.LinkResult(ctx, inv.ChatID, notify.TextLinkFailed)
		return fmt.Errorf("refresh link for %d: %w", inv.ChatID, err)
	case outcome.HasLink():
		return h.deps.Replier.LinkResult(ctx, inv.ChatID, notify.TextLinkUpdated)
	default:
		return h.deps.Replier.LinkResult(ctx, inv.ChatID, notify.TextLinkNeedsAdmin)
	}
}

func (h *Handler) isAdmin(userID int64) bool {
	return h.deps.Admins != nil && h.deps.Admins.Contains(userID)
}

func (h *Handler) reply(ctx context.Context, msg gateway.Message) error {
	return h.deps.Replier.Send(ctx, msg)
}
