package daemon

import (
	"context"
	"path/filepath"

	"github.com/matheus3301/wppdesk/internal/api"
	"github.com/matheus3301/wppdesk/internal/bus"
	"github.com/matheus3301/wppdesk/internal/config"
	"github.com/matheus3301/wppdesk/internal/feed"
	"github.com/matheus3301/wppdesk/internal/lock"
	"github.com/matheus3301/wppdesk/internal/logging"
	"github.com/matheus3301/wppdesk/internal/outbox"
	"github.com/matheus3301/wppdesk/internal/store"
	"github.com/matheus3301/wppdesk/internal/workspace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved workspace configuration passed to the fx module.
type Params struct {
	Workspace string
	Config    *config.Config
	// Dir and SocketPath override the workspace layout for tests; empty
	// means the default location under workspace.BaseDir.
	Dir        string
	SocketPath string
	// Carrier relays outbox sends to a channel. Nil records sends only.
	Carrier outbox.Carrier
}

func (p Params) dir() string {
	if p.Dir != "" {
		return p.Dir
	}
	return workspace.Dir(p.Workspace)
}

func (p Params) socketPath() string {
	if p.SocketPath != "" {
		return p.SocketPath
	}
	return filepath.Join(p.dir(), "deskd.sock")
}

func (p Params) config() *config.Config {
	if p.Config != nil {
		return p.Config
	}
	return config.Default()
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideHub,
			provideLock,
			provideStore,
			provideSender,
			provideStoreService,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(filepath.Join(p.dir(), "logs", "deskd.log"), p.Workspace)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideHub(b *bus.Bus) *feed.Hub {
	return feed.NewHub(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring workspace lock", zap.String("workspace", p.Workspace))
	l, err := lock.Acquire(p.dir())
	if err != nil {
		return nil, err
	}
	logger.Info("workspace lock acquired")
	return l, nil
}

// provideStore depends on the lock so the database is only opened by the
// process that holds it.
func provideStore(p Params, _ *lock.Lock, hub *feed.Hub, logger *zap.Logger) (*store.DB, error) {
	dbPath := filepath.Join(p.dir(), "desk.db")
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	db.OnChange(hub)
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideSender(p Params, db *store.DB, b *bus.Bus, logger *zap.Logger) *outbox.Sender {
	cfg := p.config()
	return outbox.NewSender(db, p.Carrier, b, outbox.Options{
		PollInterval: cfg.Outbox.PollInterval,
		AutoPauseBot: cfg.Outbox.AutoPauseBot,
	}, logger)
}

func provideStoreService(db *store.DB, hub *feed.Hub, logger *zap.Logger) *api.StoreService {
	return api.NewStoreService(db, hub, logger)
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, lk *lock.Lock, db *store.DB, sender *outbox.Sender, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Start gRPC server in background.
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			// The hook ctx ends with startup; the sender outlives it.
			sender.Start(context.Background())
			return nil
		},
		OnStop: func(ctx context.Context) error {
			sender.Stop()
			srv.Stop(ctx)
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			_ = logger.Sync()
			return nil
		},
	})
}
