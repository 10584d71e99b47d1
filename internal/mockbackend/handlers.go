package mockbackend

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/matheus3301/livechat/internal/api"
	"github.com/matheus3301/livechat/internal/chat"
	"go.uber.org/zap"
)

var defaultAvailability = chat.Availability{
	Available:            true,
	Mode:                 chat.ModeAI,
	AgentsOnline:         1,
	OperatingHoursActive: true,
}

func (s *Server) widgetConfig(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	cfg := s.configs[chi.URLParam(r, "projectID")]
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) getAvailability(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	a, ok := s.availability[chi.URLParam(r, "projectID")]
	s.mu.Unlock()
	if !ok {
		a = defaultAvailability
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"available":            a.Available,
		"mode":                 string(a.Mode),
		"agentsOnline":         a.AgentsOnline,
		"operatingHoursActive": a.OperatingHoursActive,
	})
}

func (s *Server) putAvailability(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Available            bool   `json:"available"`
		Mode                 string `json:"mode"`
		AgentsOnline         int    `json:"agentsOnline"`
		OperatingHoursActive bool   `json:"operatingHoursActive"`
	}
	if err := readJSON(r, &body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.SetAvailability(chi.URLParam(r, "projectID"), chat.Availability{
		Available:            body.Available,
		Mode:                 chat.ParseMode(body.Mode),
		AgentsOnline:         body.AgentsOnline,
		OperatingHoursActive: body.OperatingHoursActive,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req api.CreateSessionRequest
	if err := readJSON(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.ProjectID == "" || req.VisitorID == "" {
		http.Error(w, "projectId and visitorId are required", http.StatusBadRequest)
		return
	}

	key := req.ProjectID + "/" + req.VisitorID
	s.mu.Lock()
	id, ok := s.byVisitor[key]
	if !ok {
		id = uuid.NewString()
		s.byVisitor[key] = id
		s.sessions[id] = &session{
			id:        id,
			projectID: req.ProjectID,
			visitorID: req.VisitorID,
			conns:     make(map[*websocket.Conn]struct{}),
		}
	}
	history := append([]api.WireMessage(nil), s.sessions[id].messages...)
	s.mu.Unlock()

	s.logger.Info("session created", zap.String("session_id", id), zap.Bool("restored", ok))
	writeJSON(w, http.StatusOK, api.CreateSessionResponse{SessionID: id, Messages: history})
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	sess, ok := s.sessions[chi.URLParam(r, "sessionID")]
	var msgs []api.WireMessage
	if ok {
		msgs = append([]api.WireMessage{}, sess.messages...)
	}
	s.mu.Unlock()
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func (s *Server) handoff(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if ok {
		sess.handedOff = true
		s.handoffs = append(s.handoffs, id)
	}
	s.mu.Unlock()
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	s.Broadcast(id, api.EventHandoffInitiated, api.HandoffInitiated{SessionID: id})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f, hdr, err := r.FormFile("file")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer func() { _ = f.Close() }()
	size, err := io.Copy(io.Discard, f)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, api.WireAttachment{
		Name:     hdr.Filename,
		URL:      "/files/" + uuid.NewString() + "/" + hdr.Filename,
		Size:     size,
		MimeType: hdr.Header.Get("Content-Type"),
	})
}

func (s *Server) offlineForm(w http.ResponseWriter, r *http.Request) {
	var req api.OfflineFormRequest
	if err := readJSON(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Name == "" || req.Email == "" || req.Message == "" {
		http.Error(w, "name, email and message are required", http.StatusUnprocessableEntity)
		return
	}
	s.mu.Lock()
	s.forms = append(s.forms, req)
	s.mu.Unlock()
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) agentSays(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AgentName string `json:"agentName"`
		Content   string `json:"content"`
	}
	if err := readJSON(r, &body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	id := chi.URLParam(r, "sessionID")
	if body.AgentName != "" {
		s.Broadcast(id, api.EventAgentJoined, api.AgentJoined{AgentName: body.AgentName})
	}
	if !s.AgentSays(id, body.AgentName, body.Content) {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) serveSocket(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	id := q.Get("sessionId")

	s.mu.Lock()
	sess, ok := s.sessions[id]
	enabled := s.socketEnabled && !s.closed
	s.mu.Unlock()
	if !enabled {
		http.Error(w, "live channel unavailable", http.StatusServiceUnavailable)
		return
	}
	if !ok || sess.visitorID != q.Get("visitorId") {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		s.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close(websocket.StatusGoingAway, "server closing")
		return
	}
	sess.conns[conn] = struct{}{}
	s.handlers.Add(1)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(sess.conns, conn)
		s.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "")
		s.handlers.Done()
	}()

	s.logger.Debug("live channel open", zap.String("session_id", id))
	s.readLoop(r.Context(), id, conn)
}

func (s *Server) readLoop(ctx context.Context, sessionID string, conn *websocket.Conn) {
	for {
		var env api.Envelope
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				s.logger.Debug("live channel read failed", zap.String("session_id", sessionID), zap.Error(err))
			}
			return
		}

		switch env.Event {
		case api.EventVisitorMessage:
			var vm api.VisitorMessage
			if err := env.Decode(&vm); err != nil {
				s.logger.Warn("bad visitor message", zap.Error(err))
				continue
			}
			s.visitorMessage(sessionID, vm)
		case api.EventVisitorTyping:
			// Nothing observes visitor typing in the mock.
		default:
			s.logger.Debug("ignoring event", zap.String("event", env.Event))
		}
	}
}

func (s *Server) visitorMessage(sessionID string, vm api.VisitorMessage) {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return
	}
	in := api.WireMessage{
		ID:              uuid.NewString(),
		Role:            "visitor",
		Content:         vm.Content,
		Attachments:     vm.Attachments,
		ClientMessageID: vm.ClientMessageID,
		CreatedAt:       s.nowLocked(),
	}
	sess.messages = append(sess.messages, in)

	var reply *api.WireMessage
	if s.aiReplies && !sess.handedOff {
		text := strings.TrimSpace(vm.Content)
		if text == "" {
			text = "Thanks for the attachment."
		} else {
			text = "You said: " + text
		}
		reply = &api.WireMessage{ID: uuid.NewString(), Role: "ai", Content: text, CreatedAt: s.nowLocked()}
		sess.messages = append(sess.messages, *reply)
	}
	s.mu.Unlock()

	s.Broadcast(sessionID, api.EventMessage, in)
	if reply != nil {
		s.Broadcast(sessionID, api.EventMessage, *reply)
	}
}
