package store

// Tables that emit change-feed notifications.
const (
	TableConversations = "conversations"
	TableMessages      = "messages"
	TableBotPauses     = "bot_pauses"
)

// Kind is the content type of a message.
type Kind string

const (
	KindText     Kind = "text"
	KindImage    Kind = "image"
	KindAudio    Kind = "audio"
	KindVideo    Kind = "video"
	KindDocument Kind = "document"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindText, KindImage, KindAudio, KindVideo, KindDocument:
		return true
	}
	return false
}

// Direction tells whether a message came from the contact or from us.
type Direction string

const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	return d == Inbound || d == Outbound
}

// Instance is a connected channel owned by a tenant. Its name is the scope
// conversations are filtered by.
type Instance struct {
	Name    string `json:"name"`
	OwnerID string `json:"owner_id"`
}

// Conversation is one contact thread on one instance.
type Conversation struct {
	ID            string `json:"id"`
	ContactNumber string `json:"contact_number"`
	ContactName   string `json:"contact_name,omitempty"`
	LastMessage   string `json:"last_message"`
	LastMessageAt int64  `json:"last_message_at"`
	UnreadCount   int    `json:"unread_count"`
	InstanceName  string `json:"instance_name"`
}

// DisplayName returns the contact name, or the number when no name is known.
func (c Conversation) DisplayName() string {
	if c.ContactName != "" {
		return c.ContactName
	}
	return c.ContactNumber
}

// Message is a single message row.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	InstanceName   string    `json:"instance_name"`
	ContactNumber  string    `json:"contact_number"`
	SenderName     string    `json:"sender_name,omitempty"`
	Body           string    `json:"body"`
	Kind           Kind      `json:"kind"`
	Direction      Direction `json:"direction"`
	IsRead         bool      `json:"is_read"`
	MediaURL       string    `json:"media_url,omitempty"`
	FileName       string    `json:"file_name,omitempty"`
	MimeType       string    `json:"mime_type,omitempty"`
	ExternalID     string    `json:"external_id,omitempty"`
	ReplyToID      string    `json:"reply_to_id,omitempty"`
	CreatedAt      int64     `json:"created_at"`
}

// BotPause marks the bot as disabled for a contact on an instance.
type BotPause struct {
	InstanceName  string `json:"instance_name"`
	ContactNumber string `json:"contact_number"`
	CreatedAt     int64  `json:"created_at"`
}

// OutboxEntry is a queued outbound send.
type OutboxEntry struct {
	ID             int64
	ClientMsgID    string
	ConversationID string
	Body           string
	Status         string // queued, sending, sent, failed
	ErrorMessage   string
	ServerMsgID    string
}

// ConversationQuery selects conversations for an owner across instances.
type ConversationQuery struct {
	OwnerID   string   `json:"owner_id"`
	Instances []string `json:"instances"`
	Limit     int      `json:"limit"`
}

// MessageQuery selects one page of a conversation, newest first. Before is
// an exclusive created_at upper bound; zero means no bound.
type MessageQuery struct {
	ConversationID string `json:"conversation_id"`
	Before         int64  `json:"before,omitempty"`
	Limit          int    `json:"limit"`
}

// ContactMessageQuery selects one page by channel and contact number,
// bypassing the conversation id.
type ContactMessageQuery struct {
	InstanceName  string `json:"instance_name"`
	ContactNumber string `json:"contact_number"`
	Before        int64  `json:"before,omitempty"`
	Limit         int    `json:"limit"`
}

// MessagePage is a newest-first page plus the number of rows matching the
// query before the limit was applied.
type MessagePage struct {
	Messages []Message `json:"messages"`
	Total    int       `json:"total"`
}
