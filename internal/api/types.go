package api

import (
	"github.com/matheus3301/wppdesk/internal/feed"
	"github.com/matheus3301/wppdesk/internal/store"
)

// Empty is the response of calls that only report success.
type Empty struct{}

type InstanceNamesRequest struct {
	OwnerID string `json:"owner_id"`
}

type InstanceNamesResponse struct {
	Names []string `json:"names"`
}

type UpdateLastMessageRequest struct {
	ConversationID string `json:"conversation_id"`
	Text           string `json:"text"`
	At             int64  `json:"at"`
}

type MarkReadRequest struct {
	ConversationID string `json:"conversation_id"`
}

type ListConversationsResponse struct {
	Conversations []store.Conversation `json:"conversations"`
}

type GetConversationRequest struct {
	ID string `json:"id"`
}

type SendTextRequest struct {
	ClientMsgID    string `json:"client_msg_id"`
	ConversationID string `json:"conversation_id"`
	Text           string `json:"text"`
}

type SendTextResponse struct {
	Accepted bool   `json:"accepted"`
	Message  string `json:"message"`
}

type SetBotEnabledRequest struct {
	InstanceName  string `json:"instance_name"`
	ContactNumber string `json:"contact_number"`
	Enabled       bool   `json:"enabled"`
}

type SetBotEnabledResponse struct {
	Changed bool `json:"changed"`
	Enabled bool `json:"enabled"`
}


// WatchChangesRequest opens a change stream for one table. No types means
// every event type.
type WatchChangesRequest struct {
	Table string           `json:"table"`
	Types []feed.EventType `json:"types,omitempty"`
}
