package sync

import (
	"context"
	"errors"
	"fmt"
	"slices"
	stdsync "sync"
	"testing"

	"github.com/matheus3301/wppdesk/internal/bus"
	"github.com/matheus3301/wppdesk/internal/cache"
	"github.com/matheus3301/wppdesk/internal/status"
	"github.com/matheus3301/wppdesk/internal/store"
)

var errUnavailable = errors.New("store unavailable")

// fakeStore is an in-memory Store that records every call.
type fakeStore struct {
	mu        stdsync.Mutex
	instances []string
	convs     []store.Conversation
	messages  []store.Message

	convCalls    []store.ConversationQuery
	msgCalls     []store.MessageQuery
	contactCalls []store.ContactMessageQuery
	markCalls    []string
	updateCalls  []string

	failConvs   error
	failMsgs    error
	failContact error
	failUpdate  error

	// hold blocks a list call for the given scope or conversation id until
	// the channel is closed. Contexts are ignored so a late result really
	// arrives late.
	hold map[string]chan struct{}

	// listMessages replaces the default ListMessages behaviour.
	listMessages func(q store.MessageQuery) (store.MessagePage, error)
}

func newFakeStore() *fakeStore {
	return &fakeStore{hold: make(map[string]chan struct{})}
}

func (f *fakeStore) wait(key string) {
	f.mu.Lock()
	ch := f.hold[key]
	f.mu.Unlock()
	if ch != nil {
		<-ch
	}
}

func (f *fakeStore) ListConversations(_ context.Context, q store.ConversationQuery) ([]store.Conversation, error) {
	f.mu.Lock()
	f.convCalls = append(f.convCalls, q)
	fail := f.failConvs
	f.mu.Unlock()

	for _, name := range q.Instances {
		f.wait(name)
	}
	if fail != nil {
		return nil, fail
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Conversation
	for _, c := range f.convs {
		if slices.Contains(q.Instances, c.InstanceName) {
			out = append(out, c)
		}
	}
	slices.SortStableFunc(out, func(a, b store.Conversation) int {
		return int(b.LastMessageAt - a.LastMessageAt)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (f *fakeStore) InstanceNames(_ context.Context, _ string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.instances), nil
}

func (f *fakeStore) UpdateConversationLastMessage(_ context.Context, id, text string, at int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateCalls = append(f.updateCalls, id)
	if f.failUpdate != nil {
		return f.failUpdate
	}
	for i := range f.convs {
		if f.convs[i].ID == id {
			f.convs[i].LastMessage = text
			f.convs[i].LastMessageAt = at
		}
	}
	return nil
}

func (f *fakeStore) MarkConversationRead(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markCalls = append(f.markCalls, id)
	return nil
}

func (f *fakeStore) ListMessages(_ context.Context, q store.MessageQuery) (store.MessagePage, error) {
	f.mu.Lock()
	f.msgCalls = append(f.msgCalls, q)
	fail, override := f.failMsgs, f.listMessages
	f.mu.Unlock()

	f.wait(q.ConversationID)
	if fail != nil {
		return store.MessagePage{}, fail
	}
	if override != nil {
		return override(q)
	}
	return f.page(func(m store.Message) bool { return m.ConversationID == q.ConversationID }, q.Before, q.Limit), nil
}

func (f *fakeStore) ListMessagesByContact(_ context.Context, q store.ContactMessageQuery) (store.MessagePage, error) {
	f.mu.Lock()
	f.contactCalls = append(f.contactCalls, q)
	fail := f.failContact
	f.mu.Unlock()

	if fail != nil {
		return store.MessagePage{}, fail
	}
	return f.page(func(m store.Message) bool {
		return m.InstanceName == q.InstanceName && m.ContactNumber == q.ContactNumber
	}, q.Before, q.Limit), nil
}

func (f *fakeStore) page(match func(store.Message) bool, before int64, limit int) store.MessagePage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var rows []store.Message
	for _, m := range f.messages {
		if match(m) && (before <= 0 || m.CreatedAt < before) {
			rows = append(rows, m)
		}
	}
	slices.SortFunc(rows, func(a, b store.Message) int { return int(b.CreatedAt - a.CreatedAt) })
	total := len(rows)
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return store.MessagePage{Messages: rows, Total: total}
}

func (f *fakeStore) block(key string) func() {
	ch := make(chan struct{})
	f.mu.Lock()
	f.hold[key] = ch
	f.mu.Unlock()
	return func() { close(ch) }
}

func (f *fakeStore) counts() (convs, msgs, contact, mark, update int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.convCalls), len(f.msgCalls), len(f.contactCalls), len(f.markCalls), len(f.updateCalls)
}

// seedThread adds n messages to conv, one second apart starting at 1000ms.
func (f *fakeStore) seedThread(conv store.Conversation, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := 1; i <= n; i++ {
		f.messages = append(f.messages, store.Message{
			ID:             fmt.Sprintf("%s-m%03d", conv.ID, i),
			ConversationID: conv.ID,
			InstanceName:   conv.InstanceName,
			ContactNumber:  conv.ContactNumber,
			Body:           fmt.Sprintf("message %d", i),
			Kind:           store.KindText,
			Direction:      store.Inbound,
			CreatedAt:      int64(i * 1000),
		})
	}
}

type engine struct {
	store *fakeStore
	cache *cache.Cache
	bus   *bus.Bus
	convs *Conversations
	msgs  *Messages
}

func newEngine(t *testing.T, st *fakeStore) *engine {
	t.Helper()
	b := bus.New()
	c := cache.New()
	convs := NewConversations(st, c, b, ConversationsConfig{OwnerID: "owner-1"}, nil)
	msgs := NewMessages(st, c, convs, status.NewMachine(b), b, MessagesConfig{}, nil)
	return &engine{store: st, cache: c, bus: b, convs: convs, msgs: msgs}
}

func conversation(id, instance string, unread int, at int64) store.Conversation {
	return store.Conversation{
		ID:            id,
		ContactNumber: "55" + id,
		LastMessage:   "last " + id,
		LastMessageAt: at,
		UnreadCount:   unread,
		InstanceName:  instance,
	}
}

func messageIDs(list []store.Message) []string {
	out := make([]string, len(list))
	for i, m := range list {
		out[i] = m.ID
	}
	return out
}
