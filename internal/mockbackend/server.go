// Package mockbackend is an in-memory chat backend speaking the widget REST
// API and live channel. chatmock serves it for local development and the
// conversation tests run against it.
package mockbackend

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/matheus3301/livechat/internal/api"
	"github.com/matheus3301/livechat/internal/chat"
	"go.uber.org/zap"
)

const writeTimeout = 5 * time.Second

type session struct {
	id        string
	projectID string
	visitorID string
	messages  []api.WireMessage
	handedOff bool
	conns     map[*websocket.Conn]struct{}
}

// Server is the mock backend. The zero value is not usable; call New.
type Server struct {
	logger *zap.Logger

	mu            sync.Mutex
	sessions      map[string]*session
	byVisitor     map[string]string
	availability  map[string]chat.Availability
	configs       map[string]api.WidgetConfig
	forms         []api.OfflineFormRequest
	handoffs      []string
	socketEnabled bool
	aiReplies     bool
	last          time.Time
	closed        bool

	handlers sync.WaitGroup
}

// New creates a backend where every project has one agent online and the AI
// echoes visitor messages.
func New(logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		logger:        logger,
		sessions:      make(map[string]*session),
		byVisitor:     make(map[string]string),
		availability:  make(map[string]chat.Availability),
		configs:       make(map[string]api.WidgetConfig),
		socketEnabled: true,
		aiReplies:     true,
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Route("/api/widget", func(r chi.Router) {
		r.Get("/socket", s.serveSocket)
		r.Post("/sessions", s.createSession)
		r.Get("/sessions/{sessionID}/messages", s.listMessages)
		r.Post("/sessions/{sessionID}/handoff", s.handoff)
		r.Post("/uploads", s.upload)
		r.Post("/offline-forms", s.offlineForm)
		r.Get("/{projectID}/config", s.widgetConfig)
		r.Get("/{projectID}/availability", s.getAvailability)
	})
	r.Route("/admin", func(r chi.Router) {
		r.Put("/projects/{projectID}/availability", s.putAvailability)
		r.Post("/sessions/{sessionID}/agent", s.agentSays)
	})
	return r
}

// Close drops every live connection and waits for their handlers to return.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	var conns []*websocket.Conn
	for _, sess := range s.sessions {
		for c := range sess.conns {
			conns = append(conns, c)
		}
	}
	s.mu.Unlock()

	for _, c := range conns {
		_ = c.Close(websocket.StatusGoingAway, "server closing")
	}
	s.handlers.Wait()
}

// SetAvailability sets what the availability endpoint reports for a project.
func (s *Server) SetAvailability(projectID string, a chat.Availability) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.availability[projectID] = a
}

// SetConfig sets the widget prompts for a project.
func (s *Server) SetConfig(projectID string, cfg api.WidgetConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs[projectID] = cfg
}

// SetSocketEnabled makes the live endpoint refuse upgrades when false.
func (s *Server) SetSocketEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.socketEnabled = enabled
}

// SetAIReplies turns the echo assistant on or off.
func (s *Server) SetAIReplies(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aiReplies = enabled
}

// DropConnections closes every live connection of a session.
func (s *Server) DropConnections(sessionID string) {
	s.mu.Lock()
	var conns []*websocket.Conn
	if sess, ok := s.sessions[sessionID]; ok {
		for c := range sess.conns {
			conns = append(conns, c)
		}
	}
	s.mu.Unlock()
	for _, c := range conns {
		_ = c.Close(websocket.StatusGoingAway, "dropped")
	}
}

// Connections returns how many live connections a session has.
func (s *Server) Connections(sessionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[sessionID]; ok {
		return len(sess.conns)
	}
	return 0
}

// AddMessage stores a message without pushing it over the live channel, as if
// the push was lost.
func (s *Server) AddMessage(sessionID string, role chat.Role, content string) (api.WireMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return api.WireMessage{}, false
	}
	m := api.WireMessage{ID: uuid.NewString(), Role: wireRole(role), Content: content, CreatedAt: s.nowLocked()}
	sess.messages = append(sess.messages, m)
	return m, true
}

// Broadcast sends an event to every live connection of a session.
func (s *Server) Broadcast(sessionID, event string, data any) {
	env, err := api.NewEnvelope(event, data)
	if err != nil {
		s.logger.Error("encode broadcast", zap.Error(err))
		return
	}
	s.mu.Lock()
	var conns []*websocket.Conn
	if sess, ok := s.sessions[sessionID]; ok {
		for c := range sess.conns {
			conns = append(conns, c)
		}
	}
	s.mu.Unlock()

	for _, c := range conns {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := wsjson.Write(ctx, c, env); err != nil {
			s.logger.Debug("broadcast write failed", zap.String("session_id", sessionID), zap.Error(err))
		}
		cancel()
	}
}

// AgentSays stores an agent message and pushes it live.
func (s *Server) AgentSays(sessionID, agentName, content string) bool {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	m := api.WireMessage{ID: uuid.NewString(), Role: "agent", Content: content, AgentName: agentName, CreatedAt: s.nowLocked()}
	sess.messages = append(sess.messages, m)
	s.mu.Unlock()

	s.Broadcast(sessionID, api.EventMessage, m)
	return true
}

// Messages returns the stored messages of a session.
func (s *Server) Messages(sessionID string) []api.WireMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[sessionID]; ok {
		return append([]api.WireMessage(nil), sess.messages...)
	}
	return nil
}

// Handoffs returns the sessions a handoff was requested for, in order.
func (s *Server) Handoffs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.handoffs...)
}

// OfflineForms returns every submitted offline form.
func (s *Server) OfflineForms() []api.OfflineFormRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]api.OfflineFormRequest(nil), s.forms...)
}

// nowLocked returns a strictly increasing timestamp so stored order is
// unambiguous even within one clock tick.
func (s *Server) nowLocked() time.Time {
	now := time.Now().UTC().Truncate(time.Millisecond)
	if !now.After(s.last) {
		now = s.last.Add(time.Millisecond)
	}
	s.last = now
	return now
}

func wireRole(r chat.Role) string {
	switch r {
	case chat.RoleUser:
		return "visitor"
	case chat.RoleAssistant:
		return "ai"
	default:
		return string(r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func readJSON(r *http.Request, v any) error {
	return json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v)
}
