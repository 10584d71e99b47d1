package conversation

import (
	"strings"

	"github.com/google/uuid"
	"github.com/matheus3301/livechat/internal/api"
	"github.com/matheus3301/livechat/internal/bus"
	"github.com/matheus3301/livechat/internal/chat"
	"go.uber.org/zap"
)

// The transport calls these while the conversation is open; after Close they
// are never called.

func (c *Conversation) AgentJoined(evt api.AgentJoined) {
	name := strings.TrimSpace(evt.AgentName)
	if name == "" {
		name = "An agent"
	}
	c.setMode(chat.ModeLive)
	c.store.Ingest(chat.Message{
		ID:        "agent-joined:" + uuid.NewString(),
		Role:      chat.RoleSystem,
		Content:   name + " joined the conversation",
		Timestamp: c.cfg.Clock.Now(),
		AgentName: evt.AgentName,
	})
	c.cfg.Bus.Emit(bus.KindAgentJoined, evt)
}

func (c *Conversation) Typing(evt api.Typing) {
	c.cfg.Bus.Emit(bus.KindTyping, evt)
}

func (c *Conversation) HandoffInitiated(api.HandoffInitiated) {
	c.setMode(chat.ModeLive)
}

func (c *Conversation) ChatClosed(evt api.ChatClosed) {
	content := "The conversation has been closed."
	if evt.Reason != "" {
		content = "The conversation has been closed: " + evt.Reason
	}
	c.store.Ingest(chat.Message{
		ID:        "chat-closed:" + uuid.NewString(),
		Role:      chat.RoleSystem,
		Content:   content,
		Timestamp: c.cfg.Clock.Now(),
	})
	c.logger.Info("chat closed by backend", zap.String("reason", evt.Reason))
	c.cfg.Bus.Emit(bus.KindChatClosed, evt)
}
