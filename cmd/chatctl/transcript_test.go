package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/matheus3301/livechat/internal/chat"
)

func TestTranscriptPrintsEachMessageOnce(t *testing.T) {
	var buf bytes.Buffer
	tr := newTranscript(&buf)
	ts := time.UnixMilli(1000)

	local := chat.Message{ID: "local:1", Role: chat.RoleUser, Content: "hi", Timestamp: ts}
	tr.Render([]chat.Message{local})

	echo := chat.Message{ID: "m1", ClientID: "local:1", Role: chat.RoleUser, Content: "hi", Timestamp: ts}
	reply := chat.Message{ID: "m2", Role: chat.RoleAgent, AgentName: "Rita", Content: "hello", Timestamp: ts.Add(time.Second)}
	tr.Render([]chat.Message{echo, reply})
	tr.Render([]chat.Message{echo, reply})

	want := "you: hi\nRita: hello\n"
	if diff := cmp.Diff(want, buf.String()); diff != "" {
		t.Errorf("transcript mismatch (-want +got):\n%s", diff)
	}
}

func TestFormatMessage(t *testing.T) {
	tests := []struct {
		name string
		msg  chat.Message
		want string
	}{
		{"assistant", chat.Message{Role: chat.RoleAssistant, Content: "hey"}, "assistant: hey"},
		{"anonymous agent", chat.Message{Role: chat.RoleAgent, Content: "yo"}, "agent: yo"},
		{"system", chat.Message{Role: chat.RoleSystem, Content: "Rita joined the conversation"}, "* Rita joined the conversation"},
		{"failed", chat.Message{Role: chat.RoleSystem, Content: "Not delivered.", SendFailed: true}, "* Not delivered. (type /retry)"},
		{"attachment", chat.Message{Role: chat.RoleUser, Content: "see", Attachments: []chat.Attachment{{Name: "a.png"}}}, "you: see [a.png]"},
		{"suggestions", chat.Message{Role: chat.RoleAssistant, Content: "pick", Suggestions: []string{"Pricing"}}, "assistant: pick\n    > Pricing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatMessage(tt.msg); got != tt.want {
				t.Errorf("formatMessage() = %q, want %q", got, tt.want)
			}
		})
	}
}
