package chat

import (
	"slices"
	"time"
)

// Mode is the operating mode of a conversation.
type Mode string

const (
	ModeAI      Mode = "ai"
	ModeLive    Mode = "live"
	ModeOffline Mode = "offline"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleAgent     Role = "agent"
	RoleSystem    Role = "system"
)

// Session is one visitor conversation as issued by the backend.
type Session struct {
	ID        string
	VisitorID string
	Mode      Mode
	CreatedAt time.Time
}

// Attachment references an uploaded file. Messages never own the file itself.
type Attachment struct {
	Name     string
	URL      string
	Size     int64
	MimeType string
}

// Message is a single conversation entry. ID is the dedup key.
type Message struct {
	ID          string
	ClientID    string
	Role        Role
	Content     string
	Timestamp   time.Time
	AgentName   string
	Attachments []Attachment
	Suggestions []string
	SendFailed  bool
}

// Equal reports whether two messages carry the same data.
func (m Message) Equal(o Message) bool {
	return m.ID == o.ID &&
		m.ClientID == o.ClientID &&
		m.Role == o.Role &&
		m.Content == o.Content &&
		m.Timestamp.Equal(o.Timestamp) &&
		m.AgentName == o.AgentName &&
		m.SendFailed == o.SendFailed &&
		slices.Equal(m.Attachments, o.Attachments) &&
		slices.Equal(m.Suggestions, o.Suggestions)
}

// Availability is the backend's view of whether humans can take the chat.
type Availability struct {
	Available            bool
	Mode                 Mode
	AgentsOnline         int
	OperatingHoursActive bool
}

// PendingSend is the last outbound attempt that failed to transmit.
type PendingSend struct {
	ClientID    string
	Content     string
	Attachments []Attachment
}

// OfflineForm is the contact form collected when nobody can take the chat.
type OfflineForm struct {
	Name     string
	Email    string
	Phone    string
	Message  string
	PageURL  string
	FormSlug string
}
