package sync

import (
	"context"
	"errors"
	stdsync "sync"
	"time"

	"github.com/matheus3301/wppdesk/internal/botstatus"
	"github.com/matheus3301/wppdesk/internal/debounce"
	"github.com/matheus3301/wppdesk/internal/feed"
	"github.com/matheus3301/wppdesk/internal/store"
	"go.uber.org/zap"
)

// Default debounce windows.
const (
	DefaultConversationDebounce = 250 * time.Millisecond
	DefaultMessageListDebounce  = 150 * time.Millisecond
	DefaultMessageDebounce      = 100 * time.Millisecond
)

const keyConversations = "conversations"

// Refresher is what the reconciler drives. The inbox orchestrator
// implements it.
type Refresher interface {
	RefreshConversations(ctx context.Context) error
	RefreshConversationMessages(ctx context.Context, conversationID string) error
	SelectedConversationID() string
}

// ReconcilerConfig holds the debounce windows. Zero values use the
// defaults.
type ReconcilerConfig struct {
	ConversationDebounce time.Duration
	MessageListDebounce  time.Duration
	MessageDebounce      time.Duration
}

func (c *ReconcilerConfig) applyDefaults() {
	if c.ConversationDebounce <= 0 {
		c.ConversationDebounce = DefaultConversationDebounce
	}
	if c.MessageListDebounce <= 0 {
		c.MessageListDebounce = DefaultMessageListDebounce
	}
	if c.MessageDebounce <= 0 {
		c.MessageDebounce = DefaultMessageDebounce
	}
}

// Reconciler turns change-feed notifications into debounced refreshes.
// Bot pause changes bypass the refresh path and go straight to the
// broadcaster.
type Reconciler struct {
	source feed.Source
	bots   *botstatus.Broadcaster
	cfg    ReconcilerConfig
	logger *zap.Logger

	mu      stdsync.Mutex
	running bool
	cancel  context.CancelFunc
	deb     *debounce.Debouncer
	subs    []feed.Subscription
	wg      stdsync.WaitGroup
}

// NewReconciler creates a reconciler reading from source.
func NewReconciler(source feed.Source, bots *botstatus.Broadcaster, cfg ReconcilerConfig, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.applyDefaults()
	return &Reconciler{
		source: source,
		bots:   bots,
		cfg:    cfg,
		logger: logger,
	}
}

type stream struct {
	table  string
	types  []feed.EventType
	handle func(context.Context, Refresher, *debounce.Debouncer, feed.Change)
}

// Start opens the three feed subscriptions and begins driving target.
func (r *Reconciler) Start(ctx context.Context, target Refresher) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return errors.New("reconciler already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	streams := []stream{
		{store.TableConversations, nil, r.onConversation},
		{store.TableMessages, []feed.EventType{feed.Insert, feed.Update}, r.onMessage},
		{store.TableBotPauses, []feed.EventType{feed.Insert, feed.Delete}, r.onBotPause},
	}

	subs := make([]feed.Subscription, 0, len(streams))
	for _, s := range streams {
		sub, err := r.source.Subscribe(ctx, s.table, s.types...)
		if err != nil {
			for _, open := range subs {
				open.Close()
			}
			cancel()
			return err
		}
		subs = append(subs, sub)
	}

	deb := debounce.New()
	for i, s := range streams {
		r.wg.Add(1)
		go r.consume(ctx, subs[i], target, deb, s.handle)
	}

	r.running = true
	r.cancel = cancel
	r.deb = deb
	r.subs = subs
	r.logger.Debug("reconciler started")
	return nil
}

// Stop closes every subscription and cancels pending refreshes. It waits
// for the stream goroutines to exit.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.cancel()
	r.deb.Stop()
	for _, sub := range r.subs {
		sub.Close()
	}
	r.running = false
	r.subs = nil
	r.mu.Unlock()

	r.wg.Wait()
	r.logger.Debug("reconciler stopped")
}

func (r *Reconciler) consume(ctx context.Context, sub feed.Subscription, target Refresher, deb *debounce.Debouncer,
	handle func(context.Context, Refresher, *debounce.Debouncer, feed.Change)) {
	defer r.wg.Done()
	for {
		select {
		case ch, ok := <-sub.Changes():
			if !ok {
				return
			}
			handle(ctx, target, deb, ch)
		case <-ctx.Done():
			return
		}
	}
}

func (r *Reconciler) onConversation(ctx context.Context, target Refresher, deb *debounce.Debouncer, _ feed.Change) {
	r.scheduleConversations(ctx, target, deb, r.cfg.ConversationDebounce)
}

func (r *Reconciler) onMessage(ctx context.Context, target Refresher, deb *debounce.Debouncer, ch feed.Change) {
	r.scheduleConversations(ctx, target, deb, r.cfg.MessageListDebounce)

	var row struct {
		ConversationID string `json:"conversation_id"`
	}
	if err := ch.Decode(&row); err != nil {
		r.logger.Warn("malformed message change", zap.String("change_id", ch.ID), zap.Error(err))
		return
	}
	if row.ConversationID == "" {
		return
	}
	convID := row.ConversationID
	key := "messages." + convID
	if convID != target.SelectedConversationID() {
		// The user left this thread; drop a refresh still waiting for it.
		deb.Cancel(key)
		return
	}
	deb.Trigger(key, r.cfg.MessageDebounce, func() {
		r.report("message refresh", target.RefreshConversationMessages(ctx, convID))
	})
}

func (r *Reconciler) onBotPause(_ context.Context, _ Refresher, _ *debounce.Debouncer, ch feed.Change) {
	var row store.BotPause
	if err := ch.Decode(&row); err != nil {
		r.logger.Warn("malformed bot change", zap.String("change_id", ch.ID), zap.Error(err))
		return
	}
	if r.bots == nil {
		return
	}
	// A pause row existing means the bot is off.
	r.bots.Publish(botstatus.Status{
		InstanceName:  row.InstanceName,
		ContactNumber: row.ContactNumber,
		Enabled:       ch.Type == feed.Delete,
	})
}

func (r *Reconciler) scheduleConversations(ctx context.Context, target Refresher, deb *debounce.Debouncer, wait time.Duration) {
	deb.Trigger(keyConversations, wait, func() {
		r.report("conversation refresh", target.RefreshConversations(ctx))
	})
}

func (r *Reconciler) report(what string, err error) {
	if err == nil || quiet(err) {
		return
	}
	r.logger.Warn(what+" failed", zap.Error(err))
}
