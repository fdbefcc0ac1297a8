package sync

import (
	"context"
	"fmt"
	"slices"
	stdsync "sync"
	"time"

	"github.com/matheus3301/wppdesk/internal/bus"
	"github.com/matheus3301/wppdesk/internal/cache"
	"github.com/matheus3301/wppdesk/internal/store"
	"go.uber.org/zap"
)

// ConversationsConfig configures a Conversations.
type ConversationsConfig struct {
	OwnerID string
	Limit   int
}

// Conversations fetches and caches the conversation list for one scope at a
// time. Only the most recent Fetch may apply its result.
type Conversations struct {
	store  Store
	cache  *cache.Cache
	bus    *bus.Bus
	logger *zap.Logger
	owner  string
	limit  int
	now    func() time.Time

	mu     stdsync.Mutex
	gen    uint64
	cancel context.CancelFunc
	scope  string
	list   []store.Conversation
}

// NewConversations creates a conversation syncer.
func NewConversations(st Store, c *cache.Cache, b *bus.Bus, cfg ConversationsConfig, logger *zap.Logger) *Conversations {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultPageSize
	}
	return &Conversations{
		store:  st,
		cache:  c,
		bus:    b,
		logger: logger,
		owner:  cfg.OwnerID,
		limit:  cfg.Limit,
		now:    time.Now,
	}
}

// begin supersedes any in-flight fetch and returns the new generation with
// a context that is cancelled when a later fetch starts.
func (c *Conversations) begin(ctx context.Context) (uint64, context.Context, context.CancelFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
	c.gen++
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	return c.gen, ctx, cancel
}

// Fetch returns the conversation list for scope. Unless force is set, a
// fresh cache entry for the same scope is returned without touching the
// store. A store failure degrades to the list currently shown.
func (c *Conversations) Fetch(ctx context.Context, scope string, force bool) ([]store.Conversation, error) {
	gen, fctx, cancel := c.begin(ctx)
	defer cancel()

	if force {
		c.cache.InvalidateConversations()
	} else if list, ok := c.cache.Conversations(scope); ok {
		return c.apply(gen, scope, list, false)
	}

	list, err := c.query(fctx, scope)
	if err != nil {
		if c.superseded(gen) {
			return nil, ErrSuperseded
		}
		if !quiet(err) {
			c.logger.Warn("conversation fetch failed", zap.String("scope", scope), zap.Error(err))
		}
		return c.Snapshot(), nil
	}

	return c.apply(gen, scope, list, true)
}

func (c *Conversations) query(ctx context.Context, scope string) ([]store.Conversation, error) {
	instances := []string{scope}
	if scope == AllScope {
		names, err := c.store.InstanceNames(ctx, c.owner)
		if err != nil {
			return nil, fmt.Errorf("list instances: %w", err)
		}
		instances = names
	}

	rows, err := c.store.ListConversations(ctx, store.ConversationQuery{
		OwnerID:   c.owner,
		Instances: instances,
		Limit:     c.limit,
	})
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	list := make([]store.Conversation, 0, len(rows))
	for _, row := range rows {
		if row.ID == "" {
			c.logger.Warn("dropping conversation without id", zap.String("contact", row.ContactNumber))
			continue
		}
		list = append(list, row)
	}
	return list, nil
}

func (c *Conversations) superseded(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen != c.gen
}

func (c *Conversations) apply(gen uint64, scope string, list []store.Conversation, fetched bool) ([]store.Conversation, error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return nil, ErrSuperseded
	}
	if fetched {
		c.cache.SetConversations(scope, list)
	}
	c.scope = scope
	c.list = slices.Clone(list)
	c.mu.Unlock()

	c.publish(scope, list)
	return list, nil
}

// UpdateAfterSend moves conv to the top of the list with text as its last
// message, then persists the preview. If persisting fails the list is
// refetched from the store instead of being rolled back.
func (c *Conversations) UpdateAfterSend(ctx context.Context, conv store.Conversation, text string) error {
	at := c.now().UnixMilli()

	c.mu.Lock()
	updated := conv
	i := c.index(conv.ID)
	if i >= 0 {
		updated = c.list[i]
	}
	updated.LastMessage = text
	updated.LastMessageAt = at
	if i >= 0 {
		c.list = cache.Promote(c.list, updated)
	}
	c.cache.PromoteConversation(updated)
	scope, list := c.scope, slices.Clone(c.list)
	c.mu.Unlock()
	c.publish(scope, list)

	if err := c.store.UpdateConversationLastMessage(ctx, conv.ID, text, at); err != nil {
		c.logger.Warn("persist last message failed, refetching",
			zap.String("conversation_id", conv.ID), zap.Error(err))
		if _, ferr := c.Fetch(ctx, scope, true); ferr != nil && !quiet(ferr) {
			c.logger.Warn("refetch after failed send", zap.Error(ferr))
		}
		return fmt.Errorf("update last message: %w", err)
	}
	return nil
}

// ClearUnread zeroes the unread counter of a listed conversation and
// returns the previous value. ok is false when the id is not listed.
func (c *Conversations) ClearUnread(id string) (prev int, ok bool) {
	c.mu.Lock()
	i := c.index(id)
	if i < 0 {
		c.mu.Unlock()
		return 0, false
	}
	prev = c.list[i].UnreadCount
	if prev == 0 {
		c.mu.Unlock()
		return 0, true
	}
	c.list[i].UnreadCount = 0
	c.cache.UpdateConversation(c.list[i])
	scope, list := c.scope, slices.Clone(c.list)
	c.mu.Unlock()

	c.publish(scope, list)
	return prev, true
}

// Find returns the listed conversation with id.
func (c *Conversations) Find(id string) (store.Conversation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i := c.index(id); i >= 0 {
		return c.list[i], true
	}
	return store.Conversation{}, false
}

// Snapshot returns a copy of the current list.
func (c *Conversations) Snapshot() []store.Conversation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.list)
}

// Scope returns the scope of the current list.
func (c *Conversations) Scope() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scope
}

// Reset cancels any in-flight fetch and empties the list.
func (c *Conversations) Reset() {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.gen++
	c.scope = ""
	c.list = nil
	c.mu.Unlock()
	c.publish("", nil)
}

func (c *Conversations) index(id string) int {
	return slices.IndexFunc(c.list, func(x store.Conversation) bool { return x.ID == id })
}

func (c *Conversations) publish(scope string, list []store.Conversation) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(bus.NewEvent(EventConversations, ConversationsView{
		Scope:         scope,
		Conversations: slices.Clone(list),
	}))
}
