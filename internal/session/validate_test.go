package session

import (
	"strings"
	"testing"
)

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"simple", "main", false},
		{"digits", "shop2", false},
		{"hyphen", "support-eu", false},
		{"underscore", "staging_a", false},
		{"single char", "a", false},
		{"max length", strings.Repeat("a", maxNameLen), false},
		{"empty", "", true},
		{"too long", strings.Repeat("a", maxNameLen+1), true},
		{"uppercase", "Main", true},
		{"space", "my profile", true},
		{"dot", "my.profile", true},
		{"slash", "my/profile", true},
		{"parent dir", "..", true},
		{"leading hyphen", "-main", true},
		{"leading underscore", "_main", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}
