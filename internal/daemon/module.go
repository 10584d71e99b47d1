package daemon

import (
	"context"
	"fmt"

	"github.com/matheus3301/livechat/internal/api"
	"github.com/matheus3301/livechat/internal/bus"
	"github.com/matheus3301/livechat/internal/config"
	"github.com/matheus3301/livechat/internal/conversation"
	"github.com/matheus3301/livechat/internal/lock"
	"github.com/matheus3301/livechat/internal/logging"
	"github.com/matheus3301/livechat/internal/session"
	"github.com/matheus3301/livechat/internal/store"
	"github.com/matheus3301/livechat/internal/transport"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	Profile    string
	Config     *config.Config
	SocketPath string // optional override for testing; empty = use default
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			provideConversation,
			provideOpener,
			NewHealth,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	if err := session.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	return logging.New(session.LogPath(p.Profile, "chatd"), p.Profile)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(session.Dir(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

// provideStore depends on the lock so the database is only opened by its owner.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	return OpenStore(session.DBPath(p.Profile), logger)
}

func provideConversation(p Params, db *store.DB, b *bus.Bus, logger *zap.Logger) (*conversation.Conversation, error) {
	if p.Config == nil {
		return nil, fmt.Errorf("daemon: no config")
	}
	if err := p.Config.Validate(); err != nil {
		return nil, fmt.Errorf("daemon: config: %w", err)
	}
	return NewConversation(p.Config, db, b, logger), nil
}

func provideOpener(p Params, conv *conversation.Conversation, logger *zap.Logger) *Opener {
	return NewOpener(conv, p.Config.Timing.PollInterval.Duration, logger)
}

// OpenStore opens and migrates the profile database.
func OpenStore(path string, logger *zap.Logger) (*store.DB, error) {
	db, err := store.Open(path)
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
	logger.Info("store initialized", zap.String("path", path))
	return db, nil
}

// NewConversation builds a conversation for cfg, persisting the visitor id and
// reconcile checkpoints in db.
func NewConversation(cfg *config.Config, db *store.DB, b *bus.Bus, logger *zap.Logger) *conversation.Conversation {
	backend := api.NewClient(cfg.BaseURL, nil, logger.Named("api"))
	return conversation.New(conversation.Config{
		ProjectID:            cfg.ProjectID,
		SourceURL:            cfg.SourceURL,
		UserAgent:            cfg.UserAgent,
		Backend:              backend,
		Dialer:               transport.WSDialer{URL: cfg.LiveURL()},
		Visitors:             db,
		Checkpoints:          db,
		Bus:                  b,
		Logger:               logger,
		PollInterval:         cfg.Timing.PollInterval.Duration,
		AvailabilityInterval: cfg.Timing.AvailabilityInterval.Duration,
		TypingQuiet:          cfg.Timing.TypingQuiet.Duration,
		RequestTimeout:       cfg.Timing.RequestTimeout.Duration,
		AutoReconnect:        cfg.Timing.AutoReconnect,
	})
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, health *Health, opener *Opener, db *store.DB, lk *lock.Lock, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			health.Start()

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			opener.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := opener.Stop(); err != nil {
				logger.Warn("error closing conversation", zap.Error(err))
			}
			health.Stop()
			srv.Stop(ctx)
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
