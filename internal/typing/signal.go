// Package typing debounces local input into visitor:typing start/stop events.
package typing

import (
	"context"
	"sync"
	"time"

	"github.com/matheus3301/livechat/internal/api"
	"github.com/matheus3301/livechat/internal/clock"
	"go.uber.org/zap"
)

const (
	DefaultQuiet = 2 * time.Second
	emitTimeout  = 5 * time.Second
)

// Transport is what the signal needs from the transport layer.
type Transport interface {
	Connected() bool
	Epoch() uint64
	Emit(ctx context.Context, event string, payload any) error
}

type Config struct {
	Transport Transport
	Clock     clock.Clock
	Logger    *zap.Logger
	Quiet     time.Duration
	// Enabled gates the signal; nil means always enabled.
	Enabled func() bool
}

// Signal emits typing-start on the first input of a burst and typing-stop
// after a quiet period, only on the connection the burst started on.
type Signal struct {
	transport Transport
	clock     clock.Clock
	logger    *zap.Logger
	quiet     time.Duration
	enabled   func() bool

	mu      sync.Mutex
	typing  bool
	started bool
	epoch   uint64
	gen     uint64
	timer   clock.Timer
}

func New(cfg Config) *Signal {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Quiet <= 0 {
		cfg.Quiet = DefaultQuiet
	}
	if cfg.Enabled == nil {
		cfg.Enabled = func() bool { return true }
	}
	return &Signal{
		transport: cfg.Transport,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
		quiet:     cfg.Quiet,
		enabled:   cfg.Enabled,
	}
}

// Input records a local input change.
func (s *Signal) Input(ctx context.Context) {
	if !s.enabled() {
		return
	}

	s.mu.Lock()
	first := !s.typing
	if first {
		s.typing = true
		s.started = s.transport.Connected()
		s.epoch = s.transport.Epoch()
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.gen++
	gen := s.gen
	s.timer = s.clock.AfterFunc(s.quiet, func() { s.expire(gen) })
	emit := first && s.started
	s.mu.Unlock()

	if emit {
		s.emit(ctx, true)
	}
}

// Cancel drops the current burst without emitting typing-stop.
func (s *Signal) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.typing = false
	s.started = false
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// Typing reports whether a burst is in progress.
func (s *Signal) Typing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.typing
}

func (s *Signal) expire(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || !s.typing {
		s.mu.Unlock()
		return
	}
	s.typing = false
	s.timer = nil
	started, epoch := s.started, s.epoch
	s.started = false
	s.mu.Unlock()

	if !started || !s.transport.Connected() || s.transport.Epoch() != epoch {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), emitTimeout)
	defer cancel()
	s.emit(ctx, false)
}

func (s *Signal) emit(ctx context.Context, typing bool) {
	if err := s.transport.Emit(ctx, api.EventVisitorTyping, api.VisitorTyping{IsTyping: typing}); err != nil {
		s.logger.Debug("typing emit failed", zap.Bool("is_typing", typing), zap.Error(err))
	}
}
