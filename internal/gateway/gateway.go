// Package gateway describes the messaging platform operations the directory
// needs, independent of the Telegram client library.
package gateway

import (
	"context"
	"errors"
	"strings"
)

// ErrUnavailable wraps failures of a single outbound platform call.
var ErrUnavailable = errors.New("messaging gateway unavailable")

// ParseMode selects how message text is interpreted by the platform.
type ParseMode string

const (
	ParsePlain    ParseMode = ""
	ParseHTML     ParseMode = "HTML"
	ParseMarkdown ParseMode = "Markdown"
)

const publicLinkPrefix = "https://t.me/"

// Button is an inline keyboard button carrying a callback payload.
type Button struct {
	Text string
	Data string
}

// Keyboard is a grid of inline buttons, one slice per row.
type Keyboard [][]Button

// Row builds a single-row keyboard.
func Row(buttons ...Button) Keyboard {
	return Keyboard{buttons}
}

// Message is an outbound text message.
type Message struct {
	ChatID         int64
	Text           string
	Keyboard       Keyboard
	ParseMode      ParseMode
	DisablePreview bool
}

// MessageRef points at a message that was already sent.
type MessageRef struct {
	ChatID    int64
	MessageID int
}

// ChatInfo is the platform's current view of a chat.
type ChatInfo struct {
	ID           int64
	Title        string
	PublicHandle string
}

// Public reports whether the chat is addressable by handle.
func (c ChatInfo) Public() bool {
	return strings.TrimSpace(c.PublicHandle) != ""
}

// Member is a user's membership in a chat.
type Member struct {
	Status  string
	IsAdmin bool
}

// Gateway is the outbound side of the messaging platform.
type Gateway interface {
	// Self returns the bot's own user id.
	Self() int64
	SendMessage(ctx context.Context, msg Message) error
	EditKeyboard(ctx context.Context, ref MessageRef, keyboard Keyboard) error
	AnswerCallback(ctx context.Context, callbackID, text string) error
	GetChat(ctx context.Context, chatID int64) (ChatInfo, error)
	GetChatMember(ctx context.Context, chatID, userID int64) (Member, error)
	CreateInviteLink(ctx context.Context, chatID int64) (string, error)
	LeaveChat(ctx context.Context, chatID int64) error
}

// PublicLink returns the canonical link for a public chat handle.
func PublicLink(handle string) string {
	return publicLinkPrefix + strings.TrimPrefix(strings.TrimSpace(handle), "@")
}
