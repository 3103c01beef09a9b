package telegram

import (
	"context"
	"sync"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// fakeBot records API calls and returns canned responses.
type fakeBot struct {
	mu sync.Mutex

	startedWith context.Context
	me          *models.User
	meErr       error

	sent     []*bot.SendMessageParams
	edits    []*bot.EditMessageReplyMarkupParams
	answers  []*bot.AnswerCallbackQueryParams
	left     []any
	chat     *models.ChatFullInfo
	member   *models.ChatMember
	link     string
	apiError error
}

func (f *fakeBot) Start(ctx context.Context) {
	f.startedWith = ctx
}

func (f *fakeBot) GetMe(context.Context) (*models.User, error) {
	return f.me, f.meErr
}

func (f *fakeBot) SendMessage(_ context.Context, params *bot.SendMessageParams) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.apiError != nil {
		return nil, f.apiError
	}
	f.sent = append(f.sent, params)
	return &models.Message{ID: len(f.sent)}, nil
}

func (f *fakeBot) EditMessageReplyMarkup(_ context.Context, params *bot.EditMessageReplyMarkupParams) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.apiError != nil {
		return nil, f.apiError
	}
	f.edits = append(f.edits, params)
	return &models.Message{}, nil
}

func (f *fakeBot) AnswerCallbackQuery(_ context.Context, params *bot.AnswerCallbackQueryParams) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.apiError != nil {
		return false, f.apiError
	}
	f.answers = append(f.answers, params)
	return true, nil
}

func (f *fakeBot) GetChat(context.Context, *bot.GetChatParams) (*models.ChatFullInfo, error) {
	return f.chat, f.apiError
}

func (f *fakeBot) GetChatMember(context.Context, *bot.GetChatMemberParams) (*models.ChatMember, error) {
	return f.member, f.apiError
}

func (f *fakeBot) ExportChatInviteLink(context.Context, *bot.ExportChatInviteLinkParams) (string, error) {
	return f.link, f.apiError
}

func (f *fakeBot) LeaveChat(_ context.Context, params *bot.LeaveChatParams) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.apiError != nil {
		return false, f.apiError
	}
	f.left = append(f.left, params.ChatID)
	return true, nil
}
