package main

import (
	"fmt"

	"github.com/matheus3301/livechat/internal/bus"
	"github.com/matheus3301/livechat/internal/config"
	"github.com/matheus3301/livechat/internal/conversation"
	"github.com/matheus3301/livechat/internal/daemon"
	"github.com/matheus3301/livechat/internal/lock"
	"github.com/matheus3301/livechat/internal/logging"
	"github.com/matheus3301/livechat/internal/session"
	"github.com/matheus3301/livechat/internal/store"
	"go.uber.org/zap"
)

// local owns a profile for the lifetime of one command, the way chatd does.
type local struct {
	cfg    *config.Config
	logger *zap.Logger
	lock   *lock.Lock
	db     *store.DB
	bus    *bus.Bus
	conv   *conversation.Conversation
}

func openLocal(profile string) (*local, error) {
	cfg, err := config.LoadWithEnv(session.ConfigPath())
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", session.ConfigPath(), err)
	}
	if err := session.EnsureDir(profile); err != nil {
		return nil, err
	}
	logger, err := logging.NewFileOnly(session.LogPath(profile, "chatctl"), profile)
	if err != nil {
		return nil, err
	}

	lk, err := lock.Acquire(session.Dir(profile))
	if err != nil {
		_ = logger.Sync()
		return nil, fmt.Errorf("%w (stop chatd for this profile first)", err)
	}
	db, err := daemon.OpenStore(session.DBPath(profile), logger)
	if err != nil {
		_ = lk.Release()
		return nil, err
	}

	b := bus.New()
	return &local{
		cfg:    cfg,
		logger: logger,
		lock:   lk,
		db:     db,
		bus:    b,
		conv:   daemon.NewConversation(cfg, db, b, logger),
	}, nil
}

func (l *local) Close() {
	if err := l.conv.Close(); err != nil {
		l.logger.Warn("error closing conversation", zap.Error(err))
	}
	if err := l.db.Close(); err != nil {
		l.logger.Warn("error closing store", zap.Error(err))
	}
	if err := l.lock.Release(); err != nil {
		l.logger.Warn("error releasing lock", zap.Error(err))
	}
	_ = l.logger.Sync()
}
