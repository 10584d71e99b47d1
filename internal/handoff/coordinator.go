// Package handoff escalates a conversation from the assistant to a human, or
// redirects it to the offline form when nobody is online.
package handoff

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/matheus3301/livechat/internal/bus"
	"github.com/matheus3301/livechat/internal/chat"
	"github.com/matheus3301/livechat/internal/clock"
	"github.com/matheus3301/livechat/internal/messages"
	"github.com/matheus3301/livechat/internal/status"
	"go.uber.org/zap"
)

var (
	ErrHandoffInProgress = errors.New("handoff: already in progress")
	ErrNoSession         = errors.New("handoff: no active session")
)

const (
	DefaultOfflinePrompt = "All of our agents are offline right now. Leave your details and we will get back to you."
	connectingNotice     = "Connecting you to a human agent. Someone will be with you shortly."
)

// Checker re-checks availability.
type Checker interface {
	Check(ctx context.Context) (chat.Availability, error)
}

// Requester asks the backend to route a session to a human.
type Requester interface {
	RequestHandoff(ctx context.Context, sessionID string) error
}

type Config struct {
	Checker   Checker
	Requester Requester
	Store     *messages.Store
	Clock     clock.Clock
	Bus       *bus.Bus
	Logger    *zap.Logger
	// OfflinePrompt is the server-managed prompt; empty uses DefaultOfflinePrompt.
	OfflinePrompt string
	// SetMode is called when escalation changes the conversation mode.
	SetMode func(chat.Mode)
}

// Coordinator runs escalation attempts for one conversation.
type Coordinator struct {
	checker   Checker
	requester Requester
	store     *messages.Store
	clock     clock.Clock
	logger    *zap.Logger
	prompt    string
	setMode   func(chat.Mode)
	machine   *status.Machine[State]

	mu      sync.Mutex
	session *chat.Session
	closed  bool
}

func New(cfg Config) *Coordinator {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.OfflinePrompt == "" {
		cfg.OfflinePrompt = DefaultOfflinePrompt
	}
	if cfg.SetMode == nil {
		cfg.SetMode = func(chat.Mode) {}
	}
	return &Coordinator{
		checker:   cfg.Checker,
		requester: cfg.Requester,
		store:     cfg.Store,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
		prompt:    cfg.OfflinePrompt,
		setMode:   cfg.SetMode,
		machine:   status.NewMachine(Idle, transitions, cfg.Bus, bus.KindHandoffState),
	}
}

// SetSession sets the session a handoff request is issued against.
func (c *Coordinator) SetSession(s *chat.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = s
}

// Close detaches the coordinator from its conversation. An attempt still in
// flight finishes its state transitions but adds no notice and changes no
// mode.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

// State returns the current escalation state.
func (c *Coordinator) State() State {
	return c.machine.Current()
}

// RequestHuman runs one escalation attempt. Availability is always fetched
// fresh. With no agent online the conversation is redirected to the offline
// form and no handoff request is made; otherwise exactly one handoff request
// is issued. Any failure returns to Idle and leaves the mode untouched.
func (c *Coordinator) RequestHuman(ctx context.Context) (State, error) {
	ok, err := c.machine.TransitionFrom(Idle, Checking)
	if !ok && err == nil {
		ok, err = c.machine.TransitionFrom(RedirectedOffline, Checking)
	}
	if err != nil {
		return c.State(), err
	}
	if !ok {
		return c.State(), ErrHandoffInProgress
	}

	a, err := c.checker.Check(ctx)
	if err != nil {
		c.logger.Warn("availability check before handoff failed", zap.Error(err))
		_ = c.machine.Transition(Idle)
		return Idle, fmt.Errorf("request human: %w", err)
	}

	if a.AgentsOnline == 0 {
		_ = c.machine.Transition(RedirectedOffline)
		c.settle("offline:", c.prompt, chat.ModeOffline)
		c.logger.Info("no agents online, redirected to offline form")
		return RedirectedOffline, nil
	}

	c.mu.Lock()
	s := c.session
	c.mu.Unlock()
	if s == nil {
		_ = c.machine.Transition(Idle)
		return Idle, ErrNoSession
	}

	_ = c.machine.Transition(Escalating)
	if err := c.requester.RequestHandoff(ctx, s.ID); err != nil {
		c.logger.Warn("handoff request failed", zap.String("session_id", s.ID), zap.Error(err))
		_ = c.machine.Transition(Idle)
		return Idle, fmt.Errorf("request human: %w", err)
	}

	c.settle("handoff:", connectingNotice, chat.ModeLive)
	c.logger.Info("handoff requested", zap.String("session_id", s.ID), zap.Int("agents_online", a.AgentsOnline))
	return Escalating, nil
}

// settle posts the outcome notice and switches mode unless the coordinator
// was closed. Holding mu keeps Close from returning halfway through.
func (c *Coordinator) settle(prefix, text string, m chat.Mode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.store.Ingest(chat.Message{
		ID:        prefix + uuid.NewString(),
		Role:      chat.RoleSystem,
		Content:   text,
		Timestamp: c.clock.Now(),
	})
	c.setMode(m)
}
