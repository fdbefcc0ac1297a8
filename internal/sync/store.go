// Package sync keeps the inbox's conversation list and the selected thread
// consistent with the store: cached reads, cursor pagination, optimistic
// sends, and debounced refreshes driven by the change feed.
package sync

import (
	"context"
	"errors"

	"github.com/matheus3301/wppdesk/internal/store"
)

// AllScope selects every instance the owner holds.
const AllScope = "all"

// DefaultPageSize caps both the conversation list and each message page.
const DefaultPageSize = 50

// ErrSuperseded is returned by a fetch whose result was discarded because a
// newer request or a selection change replaced it.
var ErrSuperseded = errors.New("sync: superseded")

// Store is the remote side the engine reads from and writes to. *store.DB
// and *client.Client both satisfy it.
type Store interface {
	ListConversations(ctx context.Context, q store.ConversationQuery) ([]store.Conversation, error)
	InstanceNames(ctx context.Context, ownerID string) ([]string, error)
	UpdateConversationLastMessage(ctx context.Context, id, text string, at int64) error
	MarkConversationRead(ctx context.Context, id string) error
	ListMessages(ctx context.Context, q store.MessageQuery) (store.MessagePage, error)
	ListMessagesByContact(ctx context.Context, q store.ContactMessageQuery) (store.MessagePage, error)
}

// View events published on the bus.
const (
	EventConversations = "view.conversations"
	EventMessages      = "view.messages"
)

// ConversationsView is the payload of EventConversations.
type ConversationsView struct {
	Scope         string
	Conversations []store.Conversation
}

// MessagesView is the payload of EventMessages.
type MessagesView struct {
	ConversationID string
	Messages       []store.Message
	HasMore        bool
}

// quiet reports whether err is the result of a request being replaced or
// torn down, which callers ignore.
func quiet(err error) bool {
	return errors.Is(err, ErrSuperseded) || errors.Is(err, context.Canceled)
}
