package sync

import (
	"context"
	"fmt"
	"slices"
	stdsync "sync"
	"time"

	"github.com/matheus3301/wppdesk/internal/bus"
	"github.com/matheus3301/wppdesk/internal/cache"
	"github.com/matheus3301/wppdesk/internal/id"
	"github.com/matheus3301/wppdesk/internal/status"
	"github.com/matheus3301/wppdesk/internal/store"
	"go.uber.org/zap"
)

// MessagesConfig configures a Messages.
type MessagesConfig struct {
	PageSize int
}

// Messages loads the thread of the active conversation page by page.
// Results that arrive after the active conversation changed, or after a
// newer fetch started, are discarded.
type Messages struct {
	store    Store
	cache    *cache.Cache
	convs    *Conversations
	pane     *status.Machine
	bus      *bus.Bus
	logger   *zap.Logger
	pageSize int
	now      func() time.Time

	mu      stdsync.Mutex
	gen     uint64
	cancel  context.CancelFunc
	active  string
	msgs    []store.Message
	hasMore bool
	loading bool
}

// NewMessages creates a message syncer. convs receives read-marking
// updates; pane tracks the loading state of the thread.
func NewMessages(st Store, c *cache.Cache, convs *Conversations, pane *status.Machine, b *bus.Bus, cfg MessagesConfig, logger *zap.Logger) *Messages {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if pane == nil {
		pane = status.NewMachine(b)
	}
	return &Messages{
		store:    st,
		cache:    c,
		convs:    convs,
		pane:     pane,
		bus:      b,
		logger:   logger,
		pageSize: cfg.PageSize,
		now:      time.Now,
	}
}

// beginLocked supersedes the in-flight fetch. m.mu must be held.
func (m *Messages) beginLocked(ctx context.Context) (uint64, context.Context, context.CancelFunc) {
	if m.cancel != nil {
		m.cancel()
	}
	m.gen++
	m.loading = true
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	return m.gen, ctx, cancel
}

// Fetch loads conv's thread. A zero cursor is an initial load: unless force
// is set a fresh cached thread is used without touching the store, and the
// conversation is marked read either way. A non-zero cursor loads the page
// created strictly before it and prepends it to the thread.
func (m *Messages) Fetch(ctx context.Context, conv store.Conversation, cursor int64, force bool) ([]store.Message, error) {
	if cursor != 0 {
		m.mu.Lock()
		if m.active != conv.ID {
			m.mu.Unlock()
			return nil, ErrSuperseded
		}
		return m.fetchOlderLocked(ctx, conv, cursor)
	}

	m.mu.Lock()
	if m.active != conv.ID {
		m.resetLocked()
		m.active = conv.ID
	}
	return m.loadLocked(ctx, conv, force)
}

// Refresh reloads conv's thread from the store, bypassing the cache. Unlike
// Fetch it never switches the active conversation: if conv is no longer
// active it returns ErrSuperseded without touching the thread.
func (m *Messages) Refresh(ctx context.Context, conv store.Conversation) ([]store.Message, error) {
	m.mu.Lock()
	if m.active != conv.ID {
		m.mu.Unlock()
		return nil, ErrSuperseded
	}
	return m.loadLocked(ctx, conv, true)
}

// loadLocked is entered with m.mu held and releases it.
func (m *Messages) loadLocked(ctx context.Context, conv store.Conversation, force bool) ([]store.Message, error) {
	gen, fctx, cancel := m.beginLocked(ctx)
	defer cancel()

	if !force {
		if page, ok := m.cache.Messages(conv.ID); ok {
			m.loading = false
			m.msgs = page.Messages
			m.hasMore = page.HasMore
			m.settleLocked(page.HasMore)
			view := m.viewLocked()
			m.mu.Unlock()

			m.publish(view)
			m.markRead(ctx, conv)
			return view.Messages, nil
		}
	}
	if m.pane.Current() == status.Idle {
		_ = m.pane.Transition(status.Loading)
	}
	m.mu.Unlock()

	page, byContact, err := m.query(fctx, conv, 0)

	m.mu.Lock()
	if gen != m.gen || m.active != conv.ID {
		m.mu.Unlock()
		return nil, ErrSuperseded
	}
	m.loading = false
	if err != nil {
		m.hasMore = false
	} else {
		m.msgs, m.hasMore = m.mapPage(conv, page, byContact)
		m.cache.SetMessages(conv.ID, m.msgs, m.hasMore, page.Total)
	}
	m.settleLocked(m.hasMore)
	view := m.viewLocked()
	m.mu.Unlock()

	m.publish(view)
	m.markRead(ctx, conv)
	return view.Messages, nil
}

// LoadMore prepends the page older than the oldest loaded message. It does
// nothing when there is no more history or a fetch is already running.
func (m *Messages) LoadMore(ctx context.Context, conv store.Conversation) ([]store.Message, error) {
	m.mu.Lock()
	if m.active != conv.ID || !m.hasMore || m.loading || len(m.msgs) == 0 {
		msgs := slices.Clone(m.msgs)
		m.mu.Unlock()
		return msgs, nil
	}
	return m.fetchOlderLocked(ctx, conv, m.msgs[0].CreatedAt)
}

// fetchOlderLocked is entered with m.mu held and releases it.
func (m *Messages) fetchOlderLocked(ctx context.Context, conv store.Conversation, cursor int64) ([]store.Message, error) {
	gen, fctx, cancel := m.beginLocked(ctx)
	defer cancel()
	if m.pane.Current() == status.Loaded {
		_ = m.pane.Transition(status.LoadingMore)
	}
	m.mu.Unlock()

	page, byContact, err := m.query(fctx, conv, cursor)

	m.mu.Lock()
	if gen != m.gen || m.active != conv.ID {
		m.mu.Unlock()
		return nil, ErrSuperseded
	}
	m.loading = false
	if err != nil {
		m.hasMore = false
	} else {
		var older []store.Message
		older, m.hasMore = m.mapPage(conv, page, byContact)
		m.msgs = cache.MergeMessages(older, m.msgs)
		m.cache.PrependMessages(conv.ID, older)
	}
	m.cache.SetHasMore(conv.ID, m.hasMore)
	m.settleLocked(m.hasMore)
	view := m.viewLocked()
	m.mu.Unlock()

	m.publish(view)
	return view.Messages, nil
}

// query runs the conversation query and, if it fails, the contact query
// once. byContact reports that the page came from the contact query.
func (m *Messages) query(ctx context.Context, conv store.Conversation, cursor int64) (page store.MessagePage, byContact bool, err error) {
	page, err = m.store.ListMessages(ctx, store.MessageQuery{
		ConversationID: conv.ID,
		Before:         cursor,
		Limit:          m.pageSize,
	})
	if err == nil {
		return page, false, nil
	}
	if ctx.Err() != nil {
		return store.MessagePage{}, false, ctx.Err()
	}
	m.logger.Warn("message query failed, trying contact query",
		zap.String("conversation_id", conv.ID), zap.Error(err))

	page, err = m.store.ListMessagesByContact(ctx, store.ContactMessageQuery{
		InstanceName:  conv.InstanceName,
		ContactNumber: conv.ContactNumber,
		Before:        cursor,
		Limit:         m.pageSize,
	})
	if err != nil {
		if ctx.Err() == nil {
			m.logger.Warn("contact message query failed",
				zap.String("conversation_id", conv.ID), zap.Error(err))
		}
		return store.MessagePage{}, true, fmt.Errorf("list messages: %w", err)
	}
	return page, true, nil
}

// mapPage turns a newest-first page into chronological order, dropping
// malformed rows. Rows of a conversation query must belong to conv; contact
// query rows are keyed by contact and may carry another conversation id.
// hasMore is judged on the raw page length.
func (m *Messages) mapPage(conv store.Conversation, page store.MessagePage, byContact bool) ([]store.Message, bool) {
	out := make([]store.Message, 0, len(page.Messages))
	for i := len(page.Messages) - 1; i >= 0; i-- {
		msg := page.Messages[i]
		foreign := !byContact && msg.ConversationID != conv.ID
		if msg.ID == "" || !msg.Direction.Valid() || !msg.Kind.Valid() || foreign {
			m.logger.Warn("dropping malformed message",
				zap.String("conversation_id", conv.ID),
				zap.String("msg_id", msg.ID),
				zap.String("msg_conversation_id", msg.ConversationID),
				zap.String("kind", string(msg.Kind)),
				zap.String("direction", string(msg.Direction)))
			continue
		}
		out = append(out, msg)
	}
	return out, len(page.Messages) == m.pageSize
}

// AddMessageToChat appends a locally minted outbound message to conv's
// thread and cached page. The store never learns this id.
func (m *Messages) AddMessageToChat(conv store.Conversation, text string) store.Message {
	msg := store.Message{
		ID:             id.NewLocal(),
		ConversationID: conv.ID,
		InstanceName:   conv.InstanceName,
		ContactNumber:  conv.ContactNumber,
		Body:           text,
		Kind:           store.KindText,
		Direction:      store.Outbound,
		IsRead:         true,
		CreatedAt:      m.now().UnixMilli(),
	}

	m.mu.Lock()
	m.cache.AppendMessages(conv.ID, []store.Message{msg})
	if m.active != conv.ID {
		m.mu.Unlock()
		return msg
	}
	m.msgs = append(m.msgs, msg)
	view := m.viewLocked()
	m.mu.Unlock()

	m.publish(view)
	return msg
}

// MarkAsRead zeroes conv's unread counter in the conversation list and
// tells the store only if there was anything unread.
func (m *Messages) MarkAsRead(ctx context.Context, conv store.Conversation) error {
	unread := conv.UnreadCount
	if m.convs != nil {
		if prev, ok := m.convs.ClearUnread(conv.ID); ok {
			unread = prev
		}
	}
	if unread <= 0 {
		return nil
	}
	if err := m.store.MarkConversationRead(ctx, conv.ID); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

func (m *Messages) markRead(ctx context.Context, conv store.Conversation) {
	if err := m.MarkAsRead(ctx, conv); err != nil && !quiet(err) {
		m.logger.Warn("mark read failed", zap.String("conversation_id", conv.ID), zap.Error(err))
	}
}

// Clear drops the active thread and cancels any fetch for it.
func (m *Messages) Clear() {
	m.mu.Lock()
	m.resetLocked()
	view := m.viewLocked()
	m.mu.Unlock()
	m.publish(view)
}

// Reset clears the active thread and every cached page.
func (m *Messages) Reset() {
	m.Clear()
	m.cache.InvalidateMessages()
}

func (m *Messages) resetLocked() {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.gen++
	m.active = ""
	m.msgs = nil
	m.hasMore = false
	m.loading = false
	m.pane.Reset()
}

func (m *Messages) settleLocked(hasMore bool) {
	if m.pane.Current() == status.Idle {
		_ = m.pane.Transition(status.Loading)
	}
	if err := m.pane.Finish(hasMore); err != nil {
		m.logger.Debug("pane transition", zap.Error(err))
	}
}

// Snapshot returns the active thread.
func (m *Messages) Snapshot() MessagesView {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.viewLocked()
}

// Pane returns the state machine of the thread pane.
func (m *Messages) Pane() *status.Machine {
	return m.pane
}

func (m *Messages) viewLocked() MessagesView {
	return MessagesView{
		ConversationID: m.active,
		Messages:       slices.Clone(m.msgs),
		HasMore:        m.hasMore,
	}
}

func (m *Messages) publish(view MessagesView) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(bus.NewEvent(EventMessages, view))
}
