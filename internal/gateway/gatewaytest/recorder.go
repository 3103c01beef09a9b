// Package gatewaytest provides a recording gateway for tests.
package gatewaytest

import (
	"context"
	"fmt"
	"sync"

	"groupdirectory_bot/internal/gateway"
)

// BotID is the id reported by Recorder.Self.
const BotID int64 = 4242

// Edit is a recorded keyboard edit.
type Edit struct {
	Ref      gateway.MessageRef
	Keyboard gateway.Keyboard
}

// Answer is a recorded callback answer.
type Answer struct {
	CallbackID string
	Text       string
}

// Recorder implements gateway.Gateway in memory and records every call.
type Recorder struct {
	mu sync.Mutex

	Chats   map[int64]gateway.ChatInfo
	Admins  map[int64]bool
	Links   map[int64]string
	Sent    []gateway.Message
	Edits   []Edit
	Answers []Answer
	Left    []int64
	Exports []int64

	// Per-operation failures keyed by chat id.
	FailGetChat   map[int64]error
	FailMember    map[int64]error
	FailExport    map[int64]error
	FailSend      map[int64]error
	FailEdit      error
	FailAnswer    error
	FailLeaveChat error
}

// New returns an empty Recorder.
func New() *Recorder {
	return &Recorder{
		Chats:       make(map[int64]gateway.ChatInfo),
		Admins:      make(map[int64]bool),
		Links:       make(map[int64]string),
		FailGetChat: make(map[int64]error),
		FailMember:  make(map[int64]error),
		FailExport:  make(map[int64]error),
		FailSend:    make(map[int64]error),
	}
}

// SetAdmin records whether the bot administers chatID.
func (r *Recorder) SetAdmin(chatID int64, admin bool) {
	r.mu.Lock()
	r.Admins[chatID] = admin
	r.mu.Unlock()
}

// SetChat registers chat info.
func (r *Recorder) SetChat(info gateway.ChatInfo) {
	r.mu.Lock()
	r.Chats[info.ID] = info
	r.mu.Unlock()
}

func (r *Recorder) Self() int64 { return BotID }

func (r *Recorder) SendMessage(_ context.Context, msg gateway.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.FailSend[msg.ChatID]; err != nil {
		return err
	}
	r.Sent = append(r.Sent, msg)
	return nil
}

func (r *Recorder) EditKeyboard(_ context.Context, ref gateway.MessageRef, keyboard gateway.Keyboard) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.FailEdit != nil {
		return r.FailEdit
	}
	r.Edits = append(r.Edits, Edit{Ref: ref, Keyboard: keyboard})
	return nil
}

func (r *Recorder) AnswerCallback(_ context.Context, callbackID, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.FailAnswer != nil {
		return r.FailAnswer
	}
	r.Answers = append(r.Answers, Answer{CallbackID: callbackID, Text: text})
	return nil
}

func (r *Recorder) GetChat(_ context.Context, chatID int64) (gateway.ChatInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.FailGetChat[chatID]; err != nil {
		return gateway.ChatInfo{}, err
	}
	info, ok := r.Chats[chatID]
	if !ok {
		info = gateway.ChatInfo{ID: chatID}
	}
	return info, nil
}

func (r *Recorder) GetChatMember(_ context.Context, chatID, userID int64) (gateway.Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.FailMember[chatID]; err != nil {
		return gateway.Member{}, err
	}
	if userID == BotID && r.Admins[chatID] {
		return gateway.Member{Status: "administrator", IsAdmin: true}, nil
	}
	return gateway.Member{Status: "member"}, nil
}

func (r *Recorder) CreateInviteLink(_ context.Context, chatID int64) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.FailExport[chatID]; err != nil {
		return "", err
	}
	r.Exports = append(r.Exports, chatID)
	link, ok := r.Links[chatID]
	if !ok {
		link = fmt.Sprintf("https://t.me/+invite%d", -chatID)
	}
	return link, nil
}

func (r *Recorder) LeaveChat(_ context.Context, chatID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.FailLeaveChat != nil {
		return r.FailLeaveChat
	}
	r.Left = append(r.Left, chatID)
	return nil
}

// SentTo returns messages sent to chatID.
func (r *Recorder) SentTo(chatID int64) []gateway.Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]gateway.Message, 0)
	for _, msg := range r.Sent {
		if msg.ChatID == chatID {
			out = append(out, msg)
		}
	}
	return out
}

// LastAnswer returns the most recent callback answer.
func (r *Recorder) LastAnswer() (Answer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.Answers) == 0 {
		return Answer{}, false
	}
	return r.Answers[len(r.Answers)-1], true
}

// LastEdit returns the most recent keyboard edit.
func (r *Recorder) LastEdit() (Edit, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.Edits) == 0 {
		return Edit{}, false
	}
	return r.Edits[len(r.Edits)-1], true
}

// HasLeft reports whether LeaveChat was called for chatID.
func (r *Recorder) HasLeft(chatID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range r.Left {
		if id == chatID {
			return true
		}
	}
	return false
}

var _ gateway.Gateway = (*Recorder)(nil)
