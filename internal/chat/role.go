package chat

import (
	"fmt"
	"net/mail"
	"strings"
)

// NormalizeRole maps a wire role onto one of the four canonical roles.
// Unknown roles are treated as system messages.
func NormalizeRole(wire string) Role {
	switch strings.ToLower(strings.TrimSpace(wire)) {
	case "visitor", "user":
		return RoleUser
	case "ai", "assistant", "bot":
		return RoleAssistant
	case "agent":
		return RoleAgent
	default:
		return RoleSystem
	}
}

// ParseMode parses a wire mode. Anything unrecognised is AI mode.
func ParseMode(wire string) Mode {
	switch Mode(strings.ToLower(strings.TrimSpace(wire))) {
	case ModeLive:
		return ModeLive
	case ModeOffline:
		return ModeOffline
	default:
		return ModeAI
	}
}

// Validate checks the fields the backend requires for an offline form.
func (f OfflineForm) Validate() error {
	if strings.TrimSpace(f.Name) == "" {
		return fmt.Errorf("offline form: name is required")
	}
	if _, err := mail.ParseAddress(strings.TrimSpace(f.Email)); err != nil {
		return fmt.Errorf("offline form: invalid email %q", f.Email)
	}
	if strings.TrimSpace(f.Message) == "" {
		return fmt.Errorf("offline form: message is required")
	}
	return nil
}
