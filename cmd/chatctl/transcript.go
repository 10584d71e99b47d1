package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/matheus3301/livechat/internal/chat"
)

// transcript prints each message once. An echoed message is recognised by the
// client id of the local copy it replaces.
type transcript struct {
	w    io.Writer
	seen map[string]bool
}

func newTranscript(w io.Writer) *transcript {
	return &transcript{w: w, seen: make(map[string]bool)}
}

func (t *transcript) Render(msgs []chat.Message) {
	for _, m := range msgs {
		key := m.ID
		if m.ClientID != "" {
			key = m.ClientID
		}
		if t.seen[key] {
			continue
		}
		t.seen[key] = true
		fmt.Fprintln(t.w, formatMessage(m))
	}
}

func formatMessage(m chat.Message) string {
	var b strings.Builder
	switch m.Role {
	case chat.RoleUser:
		b.WriteString("you: ")
	case chat.RoleAssistant:
		b.WriteString("assistant: ")
	case chat.RoleAgent:
		if m.AgentName != "" {
			b.WriteString(m.AgentName + ": ")
		} else {
			b.WriteString("agent: ")
		}
	default:
		b.WriteString("* ")
	}
	b.WriteString(m.Content)
	for _, a := range m.Attachments {
		fmt.Fprintf(&b, " [%s]", a.Name)
	}
	if m.SendFailed {
		b.WriteString(" (type /retry)")
	}
	for _, s := range m.Suggestions {
		fmt.Fprintf(&b, "\n    > %s", s)
	}
	return b.String()
}
