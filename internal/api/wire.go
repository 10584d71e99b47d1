package api

import (
	"io"
	"time"

	"github.com/matheus3301/livechat/internal/chat"
)

// WireMessage is a chat message as the backend serialises it.
type WireMessage struct {
	ID              string           `json:"id"`
	Role            string           `json:"role"`
	Content         string           `json:"content"`
	CreatedAt       time.Time        `json:"createdAt"`
	AgentName       string           `json:"agentName,omitempty"`
	Attachments     []WireAttachment `json:"attachments,omitempty"`
	Suggestions     []string         `json:"suggestions,omitempty"`
	ClientMessageID string           `json:"clientMessageId,omitempty"`
}

// WireAttachment is an uploaded file reference.
type WireAttachment struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	Size     int64  `json:"size,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// WidgetConfig carries the prompts configured for a project.
type WidgetConfig struct {
	WelcomeMessage  string `json:"welcomeMessage,omitempty"`
	OfflinePrompt   string `json:"offlinePrompt,omitempty"`
	OfflineFormSlug string `json:"offlineFormSlug,omitempty"`
}

type availabilityResponse struct {
	Available            bool   `json:"available"`
	Mode                 string `json:"mode"`
	AgentsOnline         int    `json:"agentsOnline"`
	OperatingHoursActive bool   `json:"operatingHoursActive"`
}

// CreateSessionRequest asks the backend to create or restore a session.
type CreateSessionRequest struct {
	ProjectID string `json:"projectId"`
	VisitorID string `json:"visitorId"`
	SourceURL string `json:"sourceUrl,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
}

// CreateSessionResponse returns the session and any prior history.
type CreateSessionResponse struct {
	SessionID string        `json:"sessionId"`
	Messages  []WireMessage `json:"messages,omitempty"`
}

type messagesResponse struct {
	Messages []WireMessage `json:"messages"`
}

// UploadRequest describes one attachment to upload.
type UploadRequest struct {
	SessionID string
	VisitorID string
	Name      string
	MimeType  string
	Body      io.Reader
}

// OfflineFormRequest is the submitted contact form.
type OfflineFormRequest struct {
	ProjectID string `json:"projectId"`
	VisitorID string `json:"visitorId"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Phone     string `json:"phone,omitempty"`
	Message   string `json:"message"`
	PageURL   string `json:"pageUrl,omitempty"`
	FormSlug  string `json:"formSlug,omitempty"`
}

// ToMessage normalises a wire message into the canonical shape.
func (w WireMessage) ToMessage() chat.Message {
	m := chat.Message{
		ID:          w.ID,
		ClientID:    w.ClientMessageID,
		Role:        chat.NormalizeRole(w.Role),
		Content:     w.Content,
		Timestamp:   w.CreatedAt,
		AgentName:   w.AgentName,
		Suggestions: w.Suggestions,
	}
	for _, a := range w.Attachments {
		m.Attachments = append(m.Attachments, a.ToAttachment())
	}
	return m
}

// ToMessages converts a batch of wire messages.
func ToMessages(ws []WireMessage) []chat.Message {
	out := make([]chat.Message, 0, len(ws))
	for _, w := range ws {
		out = append(out, w.ToMessage())
	}
	return out
}

// ToAttachment converts a wire attachment.
func (a WireAttachment) ToAttachment() chat.Attachment {
	return chat.Attachment{Name: a.Name, URL: a.URL, Size: a.Size, MimeType: a.MimeType}
}

// FromAttachments converts attachments for the wire.
func FromAttachments(as []chat.Attachment) []WireAttachment {
	if len(as) == 0 {
		return nil
	}
	out := make([]WireAttachment, 0, len(as))
	for _, a := range as {
		out = append(out, WireAttachment{Name: a.Name, URL: a.URL, Size: a.Size, MimeType: a.MimeType})
	}
	return out
}
