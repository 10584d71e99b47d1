// Package session owns the visitor identity and session bootstrap, plus the
// on-disk layout of named profiles.
package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/matheus3301/livechat/internal/api"
	"github.com/matheus3301/livechat/internal/chat"
	"github.com/matheus3301/livechat/internal/clock"
	"github.com/matheus3301/livechat/internal/messages"
	"go.uber.org/zap"
)

// VisitorStore persists the durable visitor id.
type VisitorStore interface {
	VisitorID() (string, error)
	SaveVisitorID(id string) error
}

// Bootstrapper creates or restores a session on the backend.
type Bootstrapper interface {
	CreateSession(ctx context.Context, req api.CreateSessionRequest) (*api.CreateSessionResponse, error)
}

// ManagerConfig wires a Manager. Visitors may be nil, in which case the
// visitor id only lives as long as the Manager.
type ManagerConfig struct {
	Visitors  VisitorStore
	Backend   Bootstrapper
	Store     *messages.Store
	SourceURL string
	UserAgent string
	Clock     clock.Clock
	Logger    *zap.Logger
}

// Manager bootstraps sessions for one visitor.
type Manager struct {
	visitors  VisitorStore
	backend   Bootstrapper
	store     *messages.Store
	sourceURL string
	userAgent string
	clock     clock.Clock
	logger    *zap.Logger

	mu        sync.Mutex
	visitorID string
}

func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Manager{
		visitors:  cfg.Visitors,
		backend:   cfg.Backend,
		store:     cfg.Store,
		sourceURL: cfg.SourceURL,
		userAgent: cfg.UserAgent,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
	}
}

// EnsureVisitorID returns the persisted visitor id, generating and saving one
// on first use. Every call returns the same id.
func (m *Manager) EnsureVisitorID() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.visitorID != "" {
		return m.visitorID, nil
	}

	if m.visitors != nil {
		id, err := m.visitors.VisitorID()
		if err != nil {
			return "", fmt.Errorf("load visitor id: %w", err)
		}
		if id != "" {
			m.visitorID = id
			return id, nil
		}
	}

	id := uuid.NewString()
	if m.visitors != nil {
		if err := m.visitors.SaveVisitorID(id); err != nil {
			// The id still identifies this process; the next run gets a new one.
			m.logger.Warn("failed to persist visitor id", zap.Error(err))
		}
	}
	m.visitorID = id
	m.logger.Info("generated visitor id", zap.String("visitor_id", id))
	return id, nil
}

// Start creates or restores the visitor's session for projectID and loads any
// returned history into the message store. On failure the store is untouched
// and the caller may retry.
func (m *Manager) Start(ctx context.Context, projectID string) (*chat.Session, error) {
	visitorID, err := m.EnsureVisitorID()
	if err != nil {
		return nil, err
	}

	resp, err := m.backend.CreateSession(ctx, api.CreateSessionRequest{
		ProjectID: projectID,
		VisitorID: visitorID,
		SourceURL: m.sourceURL,
		UserAgent: m.userAgent,
	})
	if err != nil {
		m.logger.Warn("session bootstrap failed", zap.String("project_id", projectID), zap.Error(err))
		return nil, fmt.Errorf("start session: %w", err)
	}

	if len(resp.Messages) > 0 {
		m.store.Ingest(api.ToMessages(resp.Messages)...)
	}

	s := &chat.Session{
		ID:        resp.SessionID,
		VisitorID: visitorID,
		Mode:      chat.ModeAI,
		CreatedAt: m.clock.Now(),
	}
	m.logger.Info("session started",
		zap.String("session_id", s.ID),
		zap.Int("history", len(resp.Messages)),
	)
	return s, nil
}
