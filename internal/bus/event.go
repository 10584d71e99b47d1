package bus

import "time"

// Event kinds published by the chat client.
const (
	KindMessageChanged      = "message.changed"
	KindTransportState      = "transport.state_changed"
	KindHandoffState        = "handoff.state_changed"
	KindModeChanged         = "conversation.mode_changed"
	KindTyping              = "conversation.typing"
	KindAgentJoined         = "conversation.agent_joined"
	KindChatClosed          = "conversation.chat_closed"
	KindAvailabilityChanged = "availability.changed"
)

// Event is a notification for observers of the conversation.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
