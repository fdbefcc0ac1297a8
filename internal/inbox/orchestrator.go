// Package inbox wires user intents to the sync engine and owns the
// selected conversation.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/matheus3301/wppdesk/internal/bus"
	"github.com/matheus3301/wppdesk/internal/status"
	"github.com/matheus3301/wppdesk/internal/store"
	syncer "github.com/matheus3301/wppdesk/internal/sync"
	"go.uber.org/zap"
)

// EventScopeChanged is published once per accepted scope change.
const EventScopeChanged = "scope.changed"

var (
	ErrNoSelection  = errors.New("no conversation selected")
	ErrEmptyMessage = errors.New("message is empty")
)

// Watcher delivers realtime refreshes for the current scope.
// *sync.Reconciler implements it.
type Watcher interface {
	Start(ctx context.Context, target syncer.Refresher) error
	Stop()
}

// Sender queues outbound text for delivery.
type Sender interface {
	SendText(ctx context.Context, clientMsgID, conversationID, body string) error
}

// ScopeChange is the payload of EventScopeChanged.
type ScopeChange struct {
	From string
	To   string
}

// Orchestrator is the command surface of the inbox.
type Orchestrator struct {
	convs   *syncer.Conversations
	msgs    *syncer.Messages
	watcher Watcher
	sender  Sender
	bus     *bus.Bus
	logger  *zap.Logger

	// scopeMu serialises scope changes so each one resets exactly once.
	scopeMu  sync.Mutex
	mu       sync.Mutex
	scope    string
	scoped   bool
	selected *store.Conversation
}

// New creates an orchestrator. watcher and sender may be nil.
func New(convs *syncer.Conversations, msgs *syncer.Messages, watcher Watcher, sender Sender, b *bus.Bus, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		convs:   convs,
		msgs:    msgs,
		watcher: watcher,
		sender:  sender,
		bus:     b,
		logger:  logger,
	}
}

// SetScope switches the conversation list to scope. The realtime watcher
// is restarted under ctx, so ctx should outlive the call. Setting the
// current scope again does nothing.
func (o *Orchestrator) SetScope(ctx context.Context, scope string) error {
	o.scopeMu.Lock()
	o.mu.Lock()
	if o.scoped && o.scope == scope {
		o.mu.Unlock()
		o.scopeMu.Unlock()
		return nil
	}
	from := o.scope
	o.scope = scope
	o.scoped = true
	o.selected = nil
	o.mu.Unlock()

	if o.watcher != nil {
		o.watcher.Stop()
	}
	o.msgs.Reset()
	o.convs.Reset()
	o.bus.Publish(bus.NewEvent(EventScopeChanged, ScopeChange{From: from, To: scope}))
	o.logger.Info("scope changed", zap.String("from", from), zap.String("to", scope))

	var werr error
	if o.watcher != nil {
		if err := o.watcher.Start(ctx, o); err != nil {
			werr = fmt.Errorf("start watcher: %w", err)
		}
	}
	o.scopeMu.Unlock()

	if _, err := o.convs.Fetch(ctx, scope, false); err != nil && !errors.Is(err, syncer.ErrSuperseded) {
		return errors.Join(werr, err)
	}
	return werr
}

// Scope returns the active scope.
func (o *Orchestrator) Scope() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.scope
}

// Select makes conv the selected conversation and loads its thread. A nil
// conv clears the selection. Re-selecting the current conversation does
// nothing.
func (o *Orchestrator) Select(ctx context.Context, conv *store.Conversation) error {
	o.mu.Lock()
	switch {
	case conv == nil && o.selected == nil:
		o.mu.Unlock()
		return nil
	case conv != nil && o.selected != nil && o.selected.ID == conv.ID:
		o.mu.Unlock()
		return nil
	}
	if conv == nil {
		o.selected = nil
	} else {
		c := *conv
		o.selected = &c
	}
	o.mu.Unlock()

	o.msgs.Clear()
	if conv == nil {
		return nil
	}
	_, err := o.msgs.Fetch(ctx, *conv, 0, false)
	if errors.Is(err, syncer.ErrSuperseded) {
		return nil
	}
	return err
}

// Selected returns the selected conversation.
func (o *Orchestrator) Selected() (store.Conversation, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.selected == nil {
		return store.Conversation{}, false
	}
	return *o.selected, true
}

// SelectedConversationID implements sync.Refresher.
func (o *Orchestrator) SelectedConversationID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.selected == nil {
		return ""
	}
	return o.selected.ID
}

// SendMessage shows text in the selected thread and at the top of the list,
// then persists it and queues it for delivery. Failures are returned as-is.
func (o *Orchestrator) SendMessage(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}
	conv, ok := o.Selected()
	if !ok {
		return ErrNoSelection
	}

	o.msgs.AddMessageToChat(conv, text)
	err := o.convs.UpdateAfterSend(ctx, conv, text)

	if o.sender != nil {
		clientMsgID := uuid.NewString()
		if serr := o.sender.SendText(ctx, clientMsgID, conv.ID, text); serr != nil {
			err = errors.Join(err, fmt.Errorf("queue send: %w", serr))
		} else {
			o.logger.Debug("send queued", zap.String("client_msg_id", clientMsgID), zap.String("conversation_id", conv.ID))
		}
	}
	return err
}

// LoadMore loads older history for the selected conversation.
func (o *Orchestrator) LoadMore(ctx context.Context) error {
	conv, ok := o.Selected()
	if !ok {
		return nil
	}
	_, err := o.msgs.LoadMore(ctx, conv)
	if errors.Is(err, syncer.ErrSuperseded) {
		return nil
	}
	return err
}

// RefreshConversations refetches the list for the active scope, bypassing
// the cache.
func (o *Orchestrator) RefreshConversations(ctx context.Context) error {
	_, err := o.convs.Fetch(ctx, o.Scope(), true)
	if errors.Is(err, syncer.ErrSuperseded) {
		return nil
	}
	return err
}

// RefreshMessages refetches the selected thread, bypassing the cache.
func (o *Orchestrator) RefreshMessages(ctx context.Context) error {
	conv, ok := o.Selected()
	if !ok {
		return nil
	}
	return o.refreshThread(ctx, conv)
}

// RefreshConversationMessages implements sync.Refresher. It only acts when
// id is still selected.
func (o *Orchestrator) RefreshConversationMessages(ctx context.Context, id string) error {
	conv, ok := o.Selected()
	if !ok || conv.ID != id {
		return nil
	}
	return o.refreshThread(ctx, conv)
}

// refreshThread reloads conv's thread only while it is still the loaded
// one, so a selection made in the meantime wins.
func (o *Orchestrator) refreshThread(ctx context.Context, conv store.Conversation) error {
	_, err := o.msgs.Refresh(ctx, conv)
	if errors.Is(err, syncer.ErrSuperseded) {
		return nil
	}
	return err
}

// Conversations returns the visible conversation list.
func (o *Orchestrator) Conversations() []store.Conversation {
	return o.convs.Snapshot()
}

// Messages returns the visible thread.
func (o *Orchestrator) Messages() syncer.MessagesView {
	return o.msgs.Snapshot()
}

// Pane returns the state of the thread pane.
func (o *Orchestrator) Pane() status.State {
	return o.msgs.Pane().Current()
}

// Close stops the watcher and drops all state.
func (o *Orchestrator) Close() {
	if o.watcher != nil {
		o.watcher.Stop()
	}
	o.mu.Lock()
	o.selected = nil
	o.mu.Unlock()
	o.msgs.Reset()
	o.convs.Reset()
}
