package telegram

import (
	"context"
	"errors"
	"testing"

	"github.com/go-telegram/bot/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"groupdirectory_bot/internal/gateway"
)

func newTestGateway(t *testing.T, api *fakeBot) *Gateway {
	t.Helper()

	if api.me == nil {
		api.me = &models.User{ID: 4242, Username: "directory_bot", IsBot: true}
	}
	gw, err := NewGateway(context.Background(), api)
	require.NoError(t, err)
	return gw
}

func TestNewGatewayResolvesIdentity(t *testing.T) {
	gw := newTestGateway(t, &fakeBot{})

	assert.Equal(t, int64(4242), gw.Self())
	assert.Equal(t, "directory_bot", gw.Username())
}

func TestNewGatewayFailsWithoutIdentity(t *testing.T) {
	_, err := NewGateway(context.Background(), &fakeBot{meErr: errors.New("unauthorized")})
	assert.Error(t, err)

	_, err = NewGateway(context.Background(), &fakeBot{me: &models.User{}})
	assert.Error(t, err)
}

func TestSendMessageMapsOptions(t *testing.T) {
	api := &fakeBot{}
	gw := newTestGateway(t, api)

	err := gw.SendMessage(context.Background(), gateway.Message{
		ChatID:         -100,
		Text:           "*list*",
		ParseMode:      gateway.ParseMarkdown,
		DisablePreview: true,
		Keyboard: gateway.Row(
			gateway.Button{Text: "Accept", Data: "accept+-1"},
			gateway.Button{Text: "Decline", Data: "decline+-1"},
		),
	})
	require.NoError(t, err)
	require.Len(t, api.sent, 1)

	params := api.sent[0]
	assert.Equal(t, int64(-100), params.ChatID)
	assert.Equal(t, models.ParseModeMarkdownV1, params.ParseMode)
	require.NotNil(t, params.LinkPreviewOptions)
	require.NotNil(t, params.LinkPreviewOptions.IsDisabled)
	assert.True(t, *params.LinkPreviewOptions.IsDisabled)

	markup, ok := params.ReplyMarkup.(*models.InlineKeyboardMarkup)
	require.True(t, ok)
	require.Len(t, markup.InlineKeyboard, 1)
	assert.Equal(t, "decline+-1", markup.InlineKeyboard[0][1].CallbackData)
}

func TestSendMessagePlainHasNoMarkup(t *testing.T) {
	api := &fakeBot{}
	gw := newTestGateway(t, api)

	require.NoError(t, gw.SendMessage(context.Background(), gateway.Message{ChatID: 1, Text: "hi"}))
	assert.Nil(t, api.sent[0].ReplyMarkup)
	assert.Nil(t, api.sent[0].LinkPreviewOptions)
	assert.Equal(t, models.ParseMode(""), api.sent[0].ParseMode)
}

func TestGetChatMemberDetectsAdmins(t *testing.T) {
	cases := []struct {
		kind  models.ChatMemberType
		admin bool
	}{
		{models.ChatMemberTypeOwner, true},
		{models.ChatMemberTypeAdministrator, true},
		{models.ChatMemberTypeMember, false},
		{models.ChatMemberTypeRestricted, false},
	}

	for _, tc := range cases {
		api := &fakeBot{member: &models.ChatMember{Type: tc.kind}}
		gw := newTestGateway(t, api)

		member, err := gw.GetChatMember(context.Background(), -1, gw.Self())
		require.NoError(t, err)
		assert.Equal(t, tc.admin, member.IsAdmin, string(tc.kind))
		assert.Equal(t, string(tc.kind), member.Status)
	}
}

func TestGetChatMapsPublicHandle(t *testing.T) {
	api := &fakeBot{chat: &models.ChatFullInfo{ID: -7, Title: "Open", Username: "opengroup"}}
	gw := newTestGateway(t, api)

	info, err := gw.GetChat(context.Background(), -7)
	require.NoError(t, err)
	assert.True(t, info.Public())
	assert.Equal(t, "opengroup", info.PublicHandle)
	assert.Equal(t, "Open", info.Title)
}

func TestGatewayWrapsAPIErrors(t *testing.T) {
	api := &fakeBot{}
	gw := newTestGateway(t, api)
	apiErr := errors.New("Too Many Requests")
	api.apiError = apiErr

	ctx := context.Background()
	assert.ErrorIs(t, gw.SendMessage(ctx, gateway.Message{ChatID: 1}), apiErr)
	assert.ErrorIs(t, gw.EditKeyboard(ctx, gateway.MessageRef{ChatID: 1, MessageID: 2}, nil), apiErr)
	assert.ErrorIs(t, gw.AnswerCallback(ctx, "cb", "x"), apiErr)
	assert.ErrorIs(t, gw.LeaveChat(ctx, 1), apiErr)
	_, err := gw.CreateInviteLink(ctx, 1)
	assert.ErrorIs(t, err, apiErr)
	_, err = gw.GetChat(ctx, 1)
	assert.ErrorIs(t, err, apiErr)
}

func TestEditKeyboardAndLeave(t *testing.T) {
	api := &fakeBot{link: "https://t.me/+abc"}
	gw := newTestGateway(t, api)
	ctx := context.Background()

	require.NoError(t, gw.EditKeyboard(ctx, gateway.MessageRef{ChatID: -1, MessageID: 9}, gateway.Row(gateway.Button{Text: "Released", Data: "ok"})))
	require.Len(t, api.edits, 1)
	assert.Equal(t, 9, api.edits[0].MessageID)

	link, err := gw.CreateInviteLink(ctx, -1)
	require.NoError(t, err)
	assert.Equal(t, "https://t.me/+abc", link)

	require.NoError(t, gw.AnswerCallback(ctx, "cb-1", "done"))
	assert.Equal(t, "cb-1", api.answers[0].CallbackQueryID)

	require.NoError(t, gw.LeaveChat(ctx, -1))
	assert.Equal(t, []any{int64(-1)}, api.left)
}
