// Package conversation is the session-scoped context that wires the message
// store, transport, send controller, typing signal and handoff coordinator for
// one visitor, and owns their open/close lifecycle.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/livechat/internal/api"
	"github.com/matheus3301/livechat/internal/availability"
	"github.com/matheus3301/livechat/internal/bus"
	"github.com/matheus3301/livechat/internal/chat"
	"github.com/matheus3301/livechat/internal/clock"
	"github.com/matheus3301/livechat/internal/handoff"
	"github.com/matheus3301/livechat/internal/messages"
	"github.com/matheus3301/livechat/internal/send"
	"github.com/matheus3301/livechat/internal/session"
	"github.com/matheus3301/livechat/internal/transport"
	"github.com/matheus3301/livechat/internal/typing"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	ErrOfflineMode = errors.New("conversation: offline mode")
	ErrNotOpen     = errors.New("conversation: not open")
)

// Backend is the REST surface of the chat backend.
type Backend interface {
	FetchConfig(ctx context.Context, projectID string) (*api.WidgetConfig, error)
	FetchAvailability(ctx context.Context, projectID string) (chat.Availability, error)
	CreateSession(ctx context.Context, req api.CreateSessionRequest) (*api.CreateSessionResponse, error)
	FetchMessages(ctx context.Context, sessionID string) ([]chat.Message, error)
	UploadAttachment(ctx context.Context, req api.UploadRequest) (chat.Attachment, error)
	RequestHandoff(ctx context.Context, sessionID string) error
	SubmitOfflineForm(ctx context.Context, req api.OfflineFormRequest) error
}

// Config wires a Conversation. Zero durations fall back to each component's
// default.
type Config struct {
	ProjectID string
	SourceURL string
	UserAgent string

	Backend     Backend
	Dialer      transport.Dialer
	Visitors    session.VisitorStore
	Checkpoints transport.Checkpointer
	Clock       clock.Clock
	Bus         *bus.Bus
	Logger      *zap.Logger

	PollInterval         time.Duration
	AvailabilityInterval time.Duration
	TypingQuiet          time.Duration
	RequestTimeout       time.Duration
	AutoReconnect        bool
}

// ModeChange is the payload of conversation.mode_changed.
type ModeChange struct {
	From chat.Mode
	To   chat.Mode
}

// Conversation is one visitor's chat for one project.
type Conversation struct {
	cfg      Config
	logger   *zap.Logger
	store    *messages.Store
	sessions *session.Manager
	gate     *availability.Gate

	// life serialises Open and Close.
	life sync.Mutex

	mu      sync.Mutex
	open    bool
	mode    chat.Mode
	widget  api.WidgetConfig
	sess    *chat.Session
	layer   *transport.Layer
	sender  *send.Controller
	typing  *typing.Signal
	handoff *handoff.Coordinator
}

func New(cfg Config) *Conversation {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	logger := cfg.Logger.With(zap.String("project_id", cfg.ProjectID))
	store := messages.New(cfg.Bus)
	return &Conversation{
		cfg:    cfg,
		logger: logger,
		store:  store,
		sessions: session.NewManager(session.ManagerConfig{
			Visitors:  cfg.Visitors,
			Backend:   cfg.Backend,
			Store:     store,
			SourceURL: cfg.SourceURL,
			UserAgent: cfg.UserAgent,
			Clock:     cfg.Clock,
			Logger:    logger,
		}),
		gate: availability.New(availability.Config{
			ProjectID:      cfg.ProjectID,
			Fetcher:        cfg.Backend,
			Clock:          cfg.Clock,
			Bus:            cfg.Bus,
			Logger:         logger,
			Interval:       cfg.AvailabilityInterval,
			RequestTimeout: cfg.RequestTimeout,
		}),
		mode: chat.ModeAI,
	}
}

// Open activates the conversation: it resolves the visitor, fetches the
// widget config and availability, and either enters offline mode without a
// session or starts the session and connects the transport. A failed connect
// is not an error; the transport polls instead. Opening an open conversation
// is a no-op.
func (c *Conversation) Open(ctx context.Context) error {
	c.life.Lock()
	defer c.life.Unlock()

	c.mu.Lock()
	if c.open {
		c.mu.Unlock()
		return nil
	}
	hadSession := c.sess != nil
	c.mu.Unlock()

	if _, err := c.sessions.EnsureVisitorID(); err != nil {
		return fmt.Errorf("open: %w", err)
	}

	var widget api.WidgetConfig
	var avail chat.Availability
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		cfg, err := c.cfg.Backend.FetchConfig(gctx, c.cfg.ProjectID)
		if err != nil {
			c.logger.Warn("widget config unavailable, using defaults", zap.Error(err))
			return nil
		}
		widget = *cfg
		return nil
	})
	g.Go(func() error {
		a, err := c.gate.Check(gctx)
		avail = a
		return err
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("open: %w", err)
	}

	if availability.ShouldUseOfflineForm(avail, hadSession) {
		c.mu.Lock()
		c.widget = widget
		c.open = true
		c.mu.Unlock()
		c.setMode(chat.ModeOffline)
		c.gate.Start()
		c.logger.Info("no agents available, offline form only")
		return nil
	}

	s, err := c.sessions.Start(ctx, c.cfg.ProjectID)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	if c.store.Len() == 0 && widget.WelcomeMessage != "" {
		c.store.Ingest(chat.Message{
			ID:        "welcome:" + s.ID,
			Role:      chat.RoleAssistant,
			Content:   widget.WelcomeMessage,
			Timestamp: s.CreatedAt,
		})
	}

	layer := transport.New(transport.Config{
		Params:         transport.Params{ProjectID: c.cfg.ProjectID, VisitorID: s.VisitorID, SessionID: s.ID},
		Dialer:         c.cfg.Dialer,
		Fetcher:        c.cfg.Backend,
		Store:          c.store,
		Handler:        c,
		Checkpoints:    c.cfg.Checkpoints,
		Clock:          c.cfg.Clock,
		Bus:            c.cfg.Bus,
		Logger:         c.logger,
		PollInterval:   c.cfg.PollInterval,
		RequestTimeout: c.cfg.RequestTimeout,
		AutoReconnect:  c.cfg.AutoReconnect,
	})
	sender := send.New(send.Config{
		Transport: layer,
		Uploader:  c.cfg.Backend,
		Store:     c.store,
		Clock:     c.cfg.Clock,
		Logger:    c.logger,
	})
	sender.SetSession(s)
	signal := typing.New(typing.Config{
		Transport: layer,
		Clock:     c.cfg.Clock,
		Logger:    c.logger,
		Quiet:     c.cfg.TypingQuiet,
		Enabled:   func() bool { return c.Mode() != chat.ModeOffline },
	})
	coordinator := handoff.New(handoff.Config{
		Checker:       c.gate,
		Requester:     c.cfg.Backend,
		Store:         c.store,
		Clock:         c.cfg.Clock,
		Bus:           c.cfg.Bus,
		Logger:        c.logger,
		OfflinePrompt: widget.OfflinePrompt,
		SetMode:       c.setMode,
	})
	coordinator.SetSession(s)

	c.mu.Lock()
	c.widget = widget
	c.sess = s
	c.layer = layer
	c.sender = sender
	c.typing = signal
	c.handoff = coordinator
	c.open = true
	c.mu.Unlock()
	// A session exists from here on.
	c.setMode(availability.InitialMode(avail, true))

	c.gate.Start()
	if err := layer.Connect(ctx); err != nil {
		c.logger.Warn("live channel unavailable, polling", zap.Error(err))
	}
	return nil
}

// Close stops every timer and closes the live channel. Nothing reaches the
// message store after Close returns. The session is kept so a later Open
// restores it.
func (c *Conversation) Close() error {
	c.life.Lock()
	defer c.life.Unlock()

	c.mu.Lock()
	if !c.open {
		c.mu.Unlock()
		return nil
	}
	c.open = false
	layer, signal, coordinator := c.layer, c.typing, c.handoff
	c.layer, c.sender, c.typing, c.handoff = nil, nil, nil, nil
	c.mu.Unlock()

	if coordinator != nil {
		coordinator.Close()
	}
	c.gate.Stop()
	if signal != nil {
		signal.Cancel()
	}
	var err error
	if layer != nil {
		err = layer.Close()
	}
	c.logger.Info("conversation closed")
	return err
}

// Send sends a visitor message with optional attachments.
func (c *Conversation) Send(ctx context.Context, content string, files []send.File) error {
	sender, err := c.active()
	if err != nil {
		return err
	}
	return sender.Send(ctx, content, files)
}

// Retry re-sends the last undelivered message.
func (c *Conversation) Retry(ctx context.Context) error {
	sender, err := c.active()
	if err != nil {
		return err
	}
	return sender.Retry(ctx)
}

// RequestHuman asks for a human agent.
func (c *Conversation) RequestHuman(ctx context.Context) (handoff.State, error) {
	c.mu.Lock()
	open, coordinator := c.open, c.handoff
	c.mu.Unlock()
	if !open {
		return handoff.Idle, ErrNotOpen
	}
	if coordinator == nil {
		return handoff.RedirectedOffline, ErrOfflineMode
	}
	return coordinator.RequestHuman(ctx)
}

// InputChanged reports a change of the visitor's draft.
func (c *Conversation) InputChanged(ctx context.Context) {
	c.mu.Lock()
	signal := c.typing
	open := c.open
	c.mu.Unlock()
	if open && signal != nil {
		signal.Input(ctx)
	}
}

// SubmitOfflineForm sends the visitor's contact details. It works whether or
// not the conversation is open; a failure changes nothing.
func (c *Conversation) SubmitOfflineForm(ctx context.Context, form chat.OfflineForm) error {
	if err := form.Validate(); err != nil {
		return err
	}
	visitorID, err := c.sessions.EnsureVisitorID()
	if err != nil {
		return fmt.Errorf("submit offline form: %w", err)
	}

	c.mu.Lock()
	slug := c.widget.OfflineFormSlug
	c.mu.Unlock()
	if form.FormSlug != "" {
		slug = form.FormSlug
	}
	pageURL := form.PageURL
	if pageURL == "" {
		pageURL = c.cfg.SourceURL
	}

	err = c.cfg.Backend.SubmitOfflineForm(ctx, api.OfflineFormRequest{
		ProjectID: c.cfg.ProjectID,
		VisitorID: visitorID,
		Name:      form.Name,
		Email:     form.Email,
		Phone:     form.Phone,
		Message:   form.Message,
		PageURL:   pageURL,
		FormSlug:  slug,
	})
	if err != nil {
		c.logger.Warn("offline form submission failed", zap.Error(err))
		return fmt.Errorf("submit offline form: %w", err)
	}
	c.store.Ingest(chat.Message{
		ID:        "offline-form:" + visitorID + ":" + c.cfg.Clock.Now().UTC().Format(time.RFC3339Nano),
		Role:      chat.RoleSystem,
		Content:   "Thanks! We received your message and will get back to you soon.",
		Timestamp: c.cfg.Clock.Now(),
	})
	return nil
}

// Messages returns the ordered conversation.
func (c *Conversation) Messages() []chat.Message {
	return c.store.Snapshot()
}

// Store exposes the message store for observers.
func (c *Conversation) Store() *messages.Store {
	return c.store
}

// Mode returns the current conversation mode.
func (c *Conversation) Mode() chat.Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Session returns a copy of the active session, or nil in offline mode.
func (c *Conversation) Session() *chat.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return nil
	}
	s := *c.sess
	s.Mode = c.mode
	return &s
}

// ConnectionState returns the transport state.
func (c *Conversation) ConnectionState() transport.State {
	c.mu.Lock()
	layer := c.layer
	c.mu.Unlock()
	if layer == nil {
		return transport.Disconnected
	}
	return layer.State()
}

// Polling reports whether the transport is on the polling fallback.
func (c *Conversation) Polling() bool {
	c.mu.Lock()
	layer := c.layer
	c.mu.Unlock()
	return layer != nil && layer.Polling()
}

// Pending returns the send waiting for a retry.
func (c *Conversation) Pending() (chat.PendingSend, bool) {
	c.mu.Lock()
	sender := c.sender
	c.mu.Unlock()
	if sender == nil {
		return chat.PendingSend{}, false
	}
	return sender.Pending()
}

// Availability returns the last availability check.
func (c *Conversation) Availability() (chat.Availability, bool) {
	return c.gate.Last()
}

// VisitorID returns the durable visitor id.
func (c *Conversation) VisitorID() (string, error) {
	return c.sessions.EnsureVisitorID()
}

func (c *Conversation) active() (*send.Controller, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return nil, ErrNotOpen
	}
	if c.mode == chat.ModeOffline || c.sender == nil {
		return nil, ErrOfflineMode
	}
	return c.sender, nil
}

func (c *Conversation) setMode(m chat.Mode) {
	c.mu.Lock()
	from := c.mode
	c.mode = m
	c.mu.Unlock()
	if from != m {
		c.logger.Info("mode changed", zap.String("from", string(from)), zap.String("to", string(m)))
		c.cfg.Bus.Emit(bus.KindModeChanged, ModeChange{From: from, To: m})
	}
}
