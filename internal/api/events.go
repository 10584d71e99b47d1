package api

import (
	"encoding/json"
	"fmt"
)

// Live channel event names.
const (
	EventMessage          = "message"
	EventAgentJoined      = "agent:joined"
	EventTyping           = "typing"
	EventHandoffInitiated = "handoff:initiated"
	EventChatClosed       = "chat:closed"

	EventVisitorMessage = "visitor:message"
	EventVisitorTyping  = "visitor:typing"
)

// Envelope is one live channel frame.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope encodes data under the given event name.
func NewEnvelope(event string, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s: %w", event, err)
	}
	return Envelope{Event: event, Data: raw}, nil
}

// Decode unmarshals the envelope payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("decode %s: %w", e.Event, err)
	}
	return nil
}

// VisitorMessage is the outbound visitor:message payload.
type VisitorMessage struct {
	Content         string           `json:"content"`
	Attachments     []WireAttachment `json:"attachments,omitempty"`
	ClientMessageID string           `json:"clientMessageId,omitempty"`
}

// VisitorTyping is the outbound visitor:typing payload.
type VisitorTyping struct {
	IsTyping bool `json:"isTyping"`
}

// AgentJoined announces a human agent taking the conversation.
type AgentJoined struct {
	AgentName string `json:"agentName"`
}

// Typing reports the other side's typing state.
type Typing struct {
	Role      string `json:"role,omitempty"`
	AgentName string `json:"agentName,omitempty"`
	IsTyping  bool   `json:"isTyping"`
}

// HandoffInitiated is sent when the backend starts routing to a human.
type HandoffInitiated struct {
	SessionID string `json:"sessionId,omitempty"`
}

// ChatClosed is sent when the backend ends the conversation.
type ChatClosed struct {
	Reason string `json:"reason,omitempty"`
}
