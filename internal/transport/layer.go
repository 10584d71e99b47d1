// Package transport owns the live channel to the backend and the polling
// fallback used while it is down. Every successful connect is followed by a
// reconciliation fetch so gaps from either path are repaired the same way.
package transport

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/matheus3301/livechat/internal/api"
	"github.com/matheus3301/livechat/internal/bus"
	"github.com/matheus3301/livechat/internal/chat"
	"github.com/matheus3301/livechat/internal/clock"
	"github.com/matheus3301/livechat/internal/messages"
	"github.com/matheus3301/livechat/internal/status"
	"go.uber.org/zap"
)

var (
	ErrNotConnected = errors.New("transport: not connected")
	ErrClosed       = errors.New("transport: closed")
)

const (
	DefaultPollInterval   = 3 * time.Second
	DefaultRequestTimeout = 10 * time.Second
)

// Fetcher returns the authoritative message list for a session.
type Fetcher interface {
	FetchMessages(ctx context.Context, sessionID string) ([]chat.Message, error)
}

// Checkpointer records reconciliation progress.
type Checkpointer interface {
	UpdateCheckpoint(key, value string) error
}

// Handler receives the inbound events that are not chat messages.
type Handler interface {
	AgentJoined(evt api.AgentJoined)
	Typing(evt api.Typing)
	HandoffInitiated(evt api.HandoffInitiated)
	ChatClosed(evt api.ChatClosed)
}

// Config wires a Layer.
type Config struct {
	Params         Params
	Dialer         Dialer
	Fetcher        Fetcher
	Store          *messages.Store
	Handler        Handler
	Checkpoints    Checkpointer
	Clock          clock.Clock
	Bus            *bus.Bus
	Logger         *zap.Logger
	PollInterval   time.Duration
	RequestTimeout time.Duration
	AutoReconnect  bool
}

// Layer is the transport for one session.
type Layer struct {
	params         Params
	dialer         Dialer
	fetcher        Fetcher
	store          *messages.Store
	handler        Handler
	checkpoints    Checkpointer
	clock          clock.Clock
	logger         *zap.Logger
	machine        *status.Machine[State]
	pollInterval   time.Duration
	requestTimeout time.Duration
	autoReconnect  bool

	// gate is held for reading while inbound data is applied and for writing
	// by Close, so nothing reaches the store once Close has returned.
	gate sync.RWMutex

	mu         sync.Mutex
	channel    Channel
	cancelRead context.CancelFunc
	epoch      uint64
	polling    bool
	pollGen    uint64
	pollTimer  clock.Timer
	active     bool
	closed     bool

	readers sync.WaitGroup
}

// New creates a disconnected layer.
func New(cfg Config) *Layer {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	return &Layer{
		params:         cfg.Params,
		dialer:         cfg.Dialer,
		fetcher:        cfg.Fetcher,
		store:          cfg.Store,
		handler:        cfg.Handler,
		checkpoints:    cfg.Checkpoints,
		clock:          cfg.Clock,
		logger:         cfg.Logger.With(zap.String("session_id", cfg.Params.SessionID)),
		machine:        status.NewMachine(Disconnected, transitions, cfg.Bus, bus.KindTransportState),
		pollInterval:   cfg.PollInterval,
		requestTimeout: cfg.RequestTimeout,
		autoReconnect:  cfg.AutoReconnect,
		active:         true,
	}
}

// State returns the connection state.
func (l *Layer) State() State {
	return l.machine.Current()
}

// Connected reports whether the live channel is up.
func (l *Layer) Connected() bool {
	return l.machine.Is(Connected)
}

// Epoch increases every time a live channel is established. Timers that must
// not outlive a connection compare it against the value they captured.
func (l *Layer) Epoch() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.epoch
}

// Polling reports whether the fallback poller is active.
func (l *Layer) Polling() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.polling
}

// SetActive records whether the widget is open. Connection failures only fall
// back to polling while active.
func (l *Layer) SetActive(active bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.active = active
	}
}

// Connect establishes the live channel. It is a no-op while connected or
// connecting. On success the session is reconciled before Connect returns; on
// failure the layer falls back to polling and the dial error is returned.
func (l *Layer) Connect(ctx context.Context) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	if ok, err := l.machine.TransitionFrom(Disconnected, Connecting); !ok || err != nil {
		l.mu.Unlock()
		return err
	}
	wasPolling := l.polling
	l.mu.Unlock()

	if !wasPolling {
		l.logger.Info("connecting live channel")
	}
	ch, err := l.dialer.Dial(ctx, l.params)

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		if ch != nil {
			_ = ch.Close()
		}
		return ErrClosed
	}
	if err != nil {
		_ = l.machine.Transition(Disconnected)
		if l.active {
			l.startPollingLocked()
		}
		l.mu.Unlock()
		if !wasPolling {
			l.logger.Warn("live channel connect failed", zap.Error(err))
		}
		return fmt.Errorf("connect: %w", err)
	}

	_ = l.machine.Transition(Connected)
	l.channel = ch
	l.epoch++
	l.stopPollingLocked()
	readCtx, cancel := context.WithCancel(context.Background())
	l.cancelRead = cancel
	l.readers.Add(1)
	go l.readLoop(readCtx, ch)
	l.mu.Unlock()

	l.logger.Info("live channel connected")
	l.reconcile(ctx)
	return nil
}

// StartPolling starts the fallback poller. Starting it twice is a no-op.
func (l *Layer) StartPolling() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.startPollingLocked()
}

// Emit sends an outbound event over the live channel.
func (l *Layer) Emit(ctx context.Context, event string, payload any) error {
	l.mu.Lock()
	ch := l.channel
	ok := ch != nil && !l.closed && l.machine.Is(Connected)
	l.mu.Unlock()
	if !ok {
		return ErrNotConnected
	}

	env, err := api.NewEnvelope(event, payload)
	if err != nil {
		return err
	}
	if err := ch.Write(ctx, env); err != nil {
		l.dropped(ch, err)
		return fmt.Errorf("emit %s: %w", event, err)
	}
	return nil
}

// Close stops polling and closes the live channel. After Close returns no
// inbound event or fetch result reaches the store. Close is idempotent.
func (l *Layer) Close() error {
	l.gate.Lock()
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		l.gate.Unlock()
		return nil
	}
	l.closed = true
	l.active = false
	l.stopPollingLocked()
	ch := l.channel
	l.channel = nil
	cancel := l.cancelRead
	l.cancelRead = nil
	if !l.machine.Is(Disconnected) {
		_ = l.machine.Transition(Disconnected)
	}
	l.mu.Unlock()
	l.gate.Unlock()

	var err error
	if ch != nil {
		err = ch.Close()
	}
	if cancel != nil {
		cancel()
	}
	l.readers.Wait()
	l.logger.Info("transport closed")
	return err
}

func (l *Layer) readLoop(ctx context.Context, ch Channel) {
	defer l.readers.Done()
	for {
		env, err := ch.Read(ctx)
		if err != nil {
			l.dropped(ch, err)
			return
		}
		l.dispatch(ch, env)
	}
}

// dropped handles the loss of ch. Stale channels are ignored.
func (l *Layer) dropped(ch Channel, cause error) {
	l.mu.Lock()
	if l.closed || l.channel != ch {
		l.mu.Unlock()
		return
	}
	l.channel = nil
	if l.cancelRead != nil {
		l.cancelRead()
		l.cancelRead = nil
	}
	_ = l.machine.Transition(Disconnected)
	if l.active {
		l.startPollingLocked()
	}
	l.mu.Unlock()

	_ = ch.Close()
	l.logger.Warn("live channel lost", zap.Error(cause))
}

func (l *Layer) current(ch Channel) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return !l.closed && l.channel == ch
}

func (l *Layer) dispatch(ch Channel, env api.Envelope) {
	l.gate.RLock()
	defer l.gate.RUnlock()
	if !l.current(ch) {
		return
	}

	var err error
	switch env.Event {
	case api.EventMessage:
		var w api.WireMessage
		if err = env.Decode(&w); err == nil {
			l.store.Ingest(w.ToMessage())
		}
	case api.EventAgentJoined:
		var evt api.AgentJoined
		if err = env.Decode(&evt); err == nil && l.handler != nil {
			l.handler.AgentJoined(evt)
		}
	case api.EventTyping:
		var evt api.Typing
		if err = env.Decode(&evt); err == nil && l.handler != nil {
			l.handler.Typing(evt)
		}
	case api.EventHandoffInitiated:
		var evt api.HandoffInitiated
		if err = env.Decode(&evt); err == nil && l.handler != nil {
			l.handler.HandoffInitiated(evt)
		}
	case api.EventChatClosed:
		var evt api.ChatClosed
		if err = env.Decode(&evt); err == nil && l.handler != nil {
			l.handler.ChatClosed(evt)
		}
	default:
		l.logger.Debug("ignoring unknown event", zap.String("event", env.Event))
	}
	if err != nil {
		l.logger.Warn("dropping malformed event", zap.String("event", env.Event), zap.Error(err))
	}
}

// reconcile fetches every message of the session and merges it.
func (l *Layer) reconcile(ctx context.Context) {
	msgs, err := l.fetcher.FetchMessages(ctx, l.params.SessionID)
	if err != nil {
		l.logger.Warn("reconciliation fetch failed", zap.Error(err))
		return
	}

	l.gate.RLock()
	defer l.gate.RUnlock()
	if l.isClosed() {
		return
	}
	changed := l.store.Ingest(msgs...)
	l.logger.Debug("reconciled", zap.Int("fetched", len(msgs)), zap.Int("changed", changed))

	if l.checkpoints != nil {
		value := strconv.Itoa(len(msgs)) + "@" + l.clock.Now().UTC().Format(time.RFC3339)
		if err := l.checkpoints.UpdateCheckpoint("reconcile:"+l.params.SessionID, value); err != nil {
			l.logger.Warn("failed to record reconcile checkpoint", zap.Error(err))
		}
	}
}

func (l *Layer) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func (l *Layer) startPollingLocked() {
	if l.polling || l.closed {
		return
	}
	l.polling = true
	l.pollGen++
	gen := l.pollGen
	l.pollTimer = l.clock.AfterFunc(l.pollInterval, func() { l.pollTick(gen) })
	l.logger.Info("polling started", zap.Duration("interval", l.pollInterval))
}

func (l *Layer) stopPollingLocked() {
	if !l.polling {
		return
	}
	l.polling = false
	l.pollGen++
	if l.pollTimer != nil {
		l.pollTimer.Stop()
		l.pollTimer = nil
	}
	l.logger.Info("polling stopped")
}

func (l *Layer) pollingGen(gen uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.polling && l.pollGen == gen && !l.closed
}

func (l *Layer) pollTick(gen uint64) {
	if !l.pollingGen(gen) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), l.requestTimeout)
	defer cancel()

	msgs, err := l.fetcher.FetchMessages(ctx, l.params.SessionID)
	if err != nil {
		l.logger.Warn("poll fetch failed", zap.Error(err))
	} else {
		l.gate.RLock()
		if l.pollingGen(gen) {
			if n := l.store.IngestNew(msgs...); n > 0 {
				l.logger.Debug("poll merged messages", zap.Int("new", n))
			}
		}
		l.gate.RUnlock()
	}

	if l.autoReconnect && l.pollingGen(gen) {
		_ = l.Connect(ctx)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.polling && l.pollGen == gen && !l.closed {
		l.pollTimer = l.clock.AfterFunc(l.pollInterval, func() { l.pollTick(gen) })
	}
}
