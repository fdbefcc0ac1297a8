package inbox

import (
	"github.com/matheus3301/wppdesk/internal/botstatus"
	"github.com/matheus3301/wppdesk/internal/bus"
	"github.com/matheus3301/wppdesk/internal/cache"
	"github.com/matheus3301/wppdesk/internal/config"
	"github.com/matheus3301/wppdesk/internal/feed"
	syncer "github.com/matheus3301/wppdesk/internal/sync"
	"go.uber.org/zap"
)

// Deps are the collaborators an inbox runs against.
type Deps struct {
	Store syncer.Store
	// Feed drives realtime refreshes; nil disables them.
	Feed   feed.Source
	Sender Sender
	Bus    *bus.Bus
	Logger *zap.Logger
}

// Build assembles the sync engine from cfg. It returns the orchestrator and
// the broadcaster that bot pause changes are published on.
func Build(d Deps, cfg *config.Config) (*Orchestrator, *botstatus.Broadcaster) {
	if cfg == nil {
		cfg = config.Default()
	}
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	b := d.Bus
	if b == nil {
		b = bus.New()
	}

	c := cache.New(cache.WithTTL(cfg.Cache.TTL))
	convs := syncer.NewConversations(d.Store, c, b, syncer.ConversationsConfig{
		OwnerID: cfg.OwnerID,
		Limit:   cfg.Sync.ConversationLimit,
	}, logger.Named("conversations"))
	msgs := syncer.NewMessages(d.Store, c, convs, nil, b, syncer.MessagesConfig{
		PageSize: cfg.Sync.MessagePageSize,
	}, logger.Named("messages"))

	bots := botstatus.New(b)
	var watcher Watcher
	if d.Feed != nil {
		watcher = syncer.NewReconciler(d.Feed, bots, syncer.ReconcilerConfig{
			ConversationDebounce: cfg.Realtime.ConversationDebounce,
			MessageListDebounce:  cfg.Realtime.MessageListDebounce,
			MessageDebounce:      cfg.Realtime.MessageDebounce,
		}, logger.Named("reconciler"))
	}
	return New(convs, msgs, watcher, d.Sender, b, logger), bots
}
