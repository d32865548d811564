package cli

import (
	"context"
	"fmt"

	"github.com/chatterbox-im/chatterbox/internal/chat"
	"github.com/chatterbox-im/chatterbox/internal/session"
)

func (a *App) chatState() string {
	return a.chat.ChannelState().String()
}

// ensureChannel opens the realtime channel once per session and hydrates
// the conversation list.
func (a *App) ensureChannel(ctx context.Context) error {
	if !a.guard.IsAuthenticated(ctx) {
		return session.ErrSessionExpired
	}
	if a.channelOpen {
		return nil
	}

	id, err := a.guard.CurrentIdentity(ctx)
	if err != nil {
		return err
	}
	selfID := ""
	if id != nil {
		selfID = id.ID
	}

	if err := a.chat.OpenChannel(ctx, selfID); err != nil {
		return err
	}
	a.channelOpen = true

	a.chat.OnMessage(func(m chat.Message) {
		if m.ConversationID == a.currentConv {
			printlnFn(fmt.Sprintf("[%s] %s: %s", m.CreatedAt.Format("15:04"), m.SenderID, m.Body))
		}
	})
	a.chat.OnTyping(func(conv, user string, active bool) {
		if conv == a.currentConv && active {
			printlnFn(user, "is typing...")
		}
	})

	return a.chat.Hydrate(ctx)
}

// ListConversations prints the conversation list, unread counts included.
func (a *App) ListConversations(ctx context.Context) error {
	if err := a.ensureChannel(ctx); err != nil {
		return err
	}

	id, err := a.guard.CurrentIdentity(ctx)
	if err != nil {
		return err
	}
	selfID := ""
	if id != nil {
		selfID = id.ID
	}

	convos := a.store.Conversations()
	if len(convos) == 0 {
		printlnFn("No conversations yet.")
		return nil
	}
	for _, c := range convos {
		line := fmt.Sprintf("%s  %s", c.ID, c.Other(selfID).DisplayName)
		if c.UnreadCount > 0 {
			line = fmt.Sprintf("%s  (%d unread)", line, c.UnreadCount)
		}
		printlnFn(line)
	}
	return nil
}

// OpenConversation loads a conversation's history, prints it and makes it
// the target for send/typing/read commands.
func (a *App) OpenConversation(ctx context.Context, id string) error {
	if err := a.ensureChannel(ctx); err != nil {
		return err
	}
	if err := a.chat.LoadMessages(ctx, id); err != nil {
		return err
	}
	a.currentConv = id

	for _, m := range a.store.Messages(id) {
		printlnFn(fmt.Sprintf("[%s] %s: %s", m.CreatedAt.Format("15:04"), m.SenderID, m.Body))
	}
	return a.chat.MarkConversationRead(ctx, id)
}

// CloseConversation drops the current conversation target. The channel
// stays up for notifications.
func (a *App) CloseConversation(ctx context.Context) error {
	a.currentConv = ""
	return nil
}

// Send delivers a message to the current conversation.
func (a *App) Send(ctx context.Context, body string) error {
	if a.currentConv == "" {
		printlnFn("Open a conversation first.")
		return nil
	}
	return a.chat.SendChatMessage(ctx, a.currentConv, body, chat.KindText)
}

// Typing signals that the local user is typing in the current
// conversation. The stop signal goes out automatically.
func (a *App) Typing(ctx context.Context) error {
	if a.currentConv == "" {
		printlnFn("Open a conversation first.")
		return nil
	}
	return a.chat.SetTyping(a.currentConv, true)
}

// MarkRead marks the current conversation read.
func (a *App) MarkRead(ctx context.Context) error {
	if a.currentConv == "" {
		printlnFn("Open a conversation first.")
		return nil
	}
	return a.chat.MarkConversationRead(ctx, a.currentConv)
}
