package telegram

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"groupdirectory_bot/internal/gateway"
)

// Gateway adapts the Telegram Bot API to gateway.Gateway.
type Gateway struct {
	api  botAPI
	self models.User
}

// NewGateway asks the API for the bot's own identity.
func NewGateway(ctx context.Context, api botAPI) (*Gateway, error) {
	if api == nil {
		return nil, errors.New("telegram bot is not initialized")
	}

	me, err := api.GetMe(ctx)
	if err != nil {
		return nil, fmt.Errorf("get bot identity: %w", err)
	}
	if me == nil || me.ID == 0 {
		return nil, errors.New("get bot identity: empty response")
	}

	return &Gateway{api: api, self: *me}, nil
}

// Self returns the bot's user id.
func (g *Gateway) Self() int64 {
	return g.self.ID
}

// Username returns the bot's handle without "@".
func (g *Gateway) Username() string {
	return g.self.Username
}

func (g *Gateway) SendMessage(ctx context.Context, msg gateway.Message) error {
	params := &bot.SendMessageParams{
		ChatID:    msg.ChatID,
		Text:      msg.Text,
		ParseMode: parseMode(msg.ParseMode),
	}
	if len(msg.Keyboard) > 0 {
		params.ReplyMarkup = inlineKeyboard(msg.Keyboard)
	}
	if msg.DisablePreview {
		params.LinkPreviewOptions = &models.LinkPreviewOptions{IsDisabled: bot.True()}
	}

	if _, err := g.api.SendMessage(ctx, params); err != nil {
		return fmt.Errorf("send message to %d: %w", msg.ChatID, err)
	}
	return nil
}

func (g *Gateway) EditKeyboard(ctx context.Context, ref gateway.MessageRef, keyboard gateway.Keyboard) error {
	_, err := g.api.EditMessageReplyMarkup(ctx, &bot.EditMessageReplyMarkupParams{
		ChatID:      ref.ChatID,
		MessageID:   ref.MessageID,
		ReplyMarkup: inlineKeyboard(keyboard),
	})
	if err != nil {
		return fmt.Errorf("edit keyboard %d/%d: %w", ref.ChatID, ref.MessageID, err)
	}
	return nil
}

func (g *Gateway) AnswerCallback(ctx context.Context, callbackID, text string) error {
	_, err := g.api.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: callbackID,
		Text:            text,
	})
	if err != nil {
		return fmt.Errorf("answer callback %s: %w", callbackID, err)
	}
	return nil
}

func (g *Gateway) GetChat(ctx context.Context, chatID int64) (gateway.ChatInfo, error) {
	chat, err := g.api.GetChat(ctx, &bot.GetChatParams{ChatID: chatID})
	if err != nil {
		return gateway.ChatInfo{}, fmt.Errorf("get chat %d: %w", chatID, err)
	}
	if chat == nil {
		return gateway.ChatInfo{ID: chatID}, nil
	}

	return gateway.ChatInfo{
		ID:           chat.ID,
		Title:        chat.Title,
		PublicHandle: chat.Username,
	}, nil
}

func (g *Gateway) GetChatMember(ctx context.Context, chatID, userID int64) (gateway.Member, error) {
	member, err := g.api.GetChatMember(ctx, &bot.GetChatMemberParams{ChatID: chatID, UserID: userID})
	if err != nil {
		return gateway.Member{}, fmt.Errorf("get chat member %d in %d: %w", userID, chatID, err)
	}
	if member == nil {
		return gateway.Member{}, nil
	}

	return gateway.Member{
		Status:  string(member.Type),
		IsAdmin: isAdminType(member.Type),
	}, nil
}

func (g *Gateway) CreateInviteLink(ctx context.Context, chatID int64) (string, error) {
	link, err := g.api.ExportChatInviteLink(ctx, &bot.ExportChatInviteLinkParams{ChatID: chatID})
	if err != nil {
		return "", fmt.Errorf("export invite link for %d: %w", chatID, err)
	}
	return link, nil
}

func (g *Gateway) LeaveChat(ctx context.Context, chatID int64) error {
	if _, err := g.api.LeaveChat(ctx, &bot.LeaveChatParams{ChatID: chatID}); err != nil {
		return fmt.Errorf("leave chat %d: %w", chatID, err)
	}
	return nil
}

func isAdminType(kind models.ChatMemberType) bool {
	return kind == models.ChatMemberTypeOwner || kind == models.ChatMemberTypeAdministrator
}

func parseMode(mode gateway.ParseMode) models.ParseMode {
	switch mode {
	case gateway.ParseHTML:
		return models.ParseModeHTML
	case gateway.ParseMarkdown:
		return models.ParseModeMarkdownV1
	default:
		return ""
	}
}

func inlineKeyboard(keyboard gateway.Keyboard) *models.InlineKeyboardMarkup {
	rows := make([][]models.InlineKeyboardButton, 0, len(keyboard))
	for _, row := range keyboard {
		buttons := make([]models.InlineKeyboardButton, 0, len(row))
		for _, button := range row {
			buttons = append(buttons, models.InlineKeyboardButton{
				Text:         button.Text,
				CallbackData: button.Data,
			})
		}
		rows = append(rows, buttons)
	}
	return &models.InlineKeyboardMarkup{InlineKeyboard: rows}
}

var _ gateway.Gateway = (*Gateway)(nil)
