// Package cache holds the short-lived conversation list and message pages
// shown by the inbox. Entries expire after a fixed TTL; nothing here does I/O.
package cache

import (
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/wppdesk/internal/store"
)

// DefaultTTL is how long an entry stays fresh.
const DefaultTTL = 30 * time.Second

type conversationsEntry struct {
	scope    string
	data     []store.Conversation
	captured time.Time
}

type messagesEntry struct {
	data     []store.Message
	hasMore  bool
	total    int
	captured time.Time
}

// MessagesPage is a cached thread, oldest message first.
type MessagesPage struct {
	Messages []store.Message
	HasMore  bool
	Total    int
}

// Cache is safe for concurrent use. Reads return copies.
type Cache struct {
	mu            sync.Mutex
	ttl           time.Duration
	now           func() time.Time
	conversations *conversationsEntry
	messages      map[string]*messagesEntry
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL overrides DefaultTTL. Non-positive values are ignored.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates an empty cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		ttl:      DefaultTTL,
		now:      time.Now,
		messages: make(map[string]*messagesEntry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) fresh(captured time.Time) bool {
	return c.now().Sub(captured) < c.ttl
}

// Conversations returns the cached list for scope. A stale entry or one
// captured for another scope is a miss.
func (c *Cache) Conversations(scope string) ([]store.Conversation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.conversations
	if e == nil || e.scope != scope || !c.fresh(e.captured) {
		return nil, false
	}
	return slices.Clone(e.data), true
}

// SetConversations replaces the cached list.
func (c *Cache) SetConversations(scope string, data []store.Conversation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conversations = &conversationsEntry{scope: scope, data: slices.Clone(data), captured: c.now()}
}

// UpdateConversation replaces a cached conversation in place, keeping its
// position. Unknown ids are ignored.
func (c *Cache) UpdateConversation(updated store.Conversation) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conversations == nil {
		return
	}
	for i := range c.conversations.data {
		if c.conversations.data[i].ID == updated.ID {
			c.conversations.data[i] = updated
			return
		}
	}
}

// PromoteConversation replaces a cached conversation and moves it to the
// front of the list. Unknown ids are ignored.
func (c *Cache) PromoteConversation(updated store.Conversation) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conversations == nil || !contains(c.conversations.data, updated.ID) {
		return
	}
	c.conversations.data = Promote(c.conversations.data, updated)
}

func contains(list []store.Conversation, id string) bool {
	return slices.ContainsFunc(list, func(c store.Conversation) bool { return c.ID == id })
}

// InvalidateConversations drops the cached list.
func (c *Cache) InvalidateConversations() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conversations = nil
}

// Messages returns the cached thread for a conversation.
func (c *Cache) Messages(conversationID string) (MessagesPage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.messages[conversationID]
	if !ok || !c.fresh(e.captured) {
		return MessagesPage{}, false
	}
	return MessagesPage{Messages: slices.Clone(e.data), HasMore: e.hasMore, Total: e.total}, true
}

// SetMessages replaces the cached thread for a conversation.
func (c *Cache) SetMessages(conversationID string, data []store.Message, hasMore bool, total int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages[conversationID] = &messagesEntry{
		data:     slices.Clone(data),
		hasMore:  hasMore,
		total:    total,
		captured: c.now(),
	}
}

// AppendMessages adds newer messages after the cached ones, skipping ids
// already present.
func (c *Cache) AppendMessages(conversationID string, msgs []store.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.messages[conversationID]; ok {
		e.data = MergeMessages(e.data, msgs)
	}
}

// PrependMessages adds an older page before the cached messages, skipping
// ids already present.
func (c *Cache) PrependMessages(conversationID string, msgs []store.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.messages[conversationID]; ok {
		e.data = MergeMessages(msgs, e.data)
	}
}

// SetHasMore updates the has-more flag of a cached thread.
func (c *Cache) SetHasMore(conversationID string, hasMore bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.messages[conversationID]; ok {
		e.hasMore = hasMore
	}
}

// InvalidateMessages drops the given threads, or every thread when called
// without ids.
func (c *Cache) InvalidateMessages(conversationIDs ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(conversationIDs) == 0 {
		clear(c.messages)
		return
	}
	for _, id := range conversationIDs {
		delete(c.messages, id)
	}
}

// MergeMessages returns first followed by the messages of second whose id
// is not already taken. Order within each slice is kept.
func MergeMessages(first, second []store.Message) []store.Message {
	out := make([]store.Message, 0, len(first)+len(second))
	seen := make(map[string]struct{}, len(first)+len(second))
	for _, list := range [][]store.Message{first, second} {
		for _, m := range list {
			if _, dup := seen[m.ID]; dup {
				continue
			}
			seen[m.ID] = struct{}{}
			out = append(out, m)
		}
	}
	return out
}

// Promote returns list with updated at the front and any older copy of it
// removed.
func Promote(list []store.Conversation, updated store.Conversation) []store.Conversation {
	out := make([]store.Conversation, 0, len(list)+1)
	out = append(out, updated)
	for _, c := range list {
		if c.ID != updated.ID {
			out = append(out, c)
		}
	}
	return out
}
